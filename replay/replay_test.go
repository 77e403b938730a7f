package replay

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeTransition(tag float64) Transition {
	return Transition{
		Obs:     [][]float64{{tag, 0}, {tag, 1}},
		Actions: [][]float64{{tag}, {tag}},
		Rewards: []float64{tag, -tag},
		NextObs: [][]float64{{tag + 1, 0}, {tag + 1, 1}},
		Done:    false,
	}
}

func TestRingInvariant(t *testing.T) {
	capacity := 8
	buf := New(capacity, 2, rand.New(rand.NewSource(1)))
	for i := 0; i < 3*capacity; i++ {
		want := i
		if want > capacity {
			want = capacity
		}
		assert.Equal(t, want, buf.Len(), "after %d pushes", i)
		buf.Push(makeTransition(float64(i)))
	}
	assert.Equal(t, capacity, buf.Len())
}

func TestOldestOverwrittenOnOverflow(t *testing.T) {
	capacity := 4
	buf := New(capacity, 2, rand.New(rand.NewSource(1)))
	for i := 0; i < capacity+2; i++ {
		buf.Push(makeTransition(float64(i)))
	}
	// entries 0 and 1 are gone; every sampled tag must be >= 2
	batch, err := buf.Sample(4)
	require.NoError(t, err)
	for _, obs := range batch.Obs[0] {
		assert.GreaterOrEqual(t, obs[0], 2.0)
	}
}

func TestSampleUnderfull(t *testing.T) {
	buf := New(16, 2, rand.New(rand.NewSource(1)))
	buf.Push(makeTransition(0))
	_, err := buf.Sample(2)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInsufficientData))
}

func TestSampleNeverFailsOnceFull(t *testing.T) {
	buf := New(16, 2, rand.New(rand.NewSource(1)))
	batchSize := 4
	for i := 0; i < batchSize; i++ {
		buf.Push(makeTransition(float64(i)))
	}
	for trial := 0; trial < 50; trial++ {
		_, err := buf.Sample(batchSize)
		require.NoError(t, err)
	}
}

func TestSampleCopiesDoNotRemove(t *testing.T) {
	buf := New(8, 2, rand.New(rand.NewSource(1)))
	for i := 0; i < 4; i++ {
		buf.Push(makeTransition(float64(i)))
	}
	before := buf.Len()
	_, err := buf.Sample(4)
	require.NoError(t, err)
	assert.Equal(t, before, buf.Len())
}

func TestPushCopiesCallerSlices(t *testing.T) {
	buf := New(8, 2, rand.New(rand.NewSource(1)))
	tr := makeTransition(7)
	buf.Push(tr)
	tr.Obs[0][0] = -99

	batch, err := buf.Sample(1)
	require.NoError(t, err)
	assert.Equal(t, 7.0, batch.Obs[0][0][0])
}

func TestBatchLayout(t *testing.T) {
	numAgents := 3
	buf := New(8, numAgents, rand.New(rand.NewSource(1)))
	buf.Push(Transition{
		Obs:     [][]float64{{1, 2}, {3, 4}, {5, 6}},
		Actions: [][]float64{{0.1}, {0.2}, {0.3}},
		Rewards: []float64{1, 2, 3},
		NextObs: [][]float64{{7, 8}, {9, 10}, {11, 12}},
		Done:    true,
	})
	batch, err := buf.Sample(2)
	require.NoError(t, err)

	assert.Equal(t, 2, batch.Size())
	assert.Len(t, batch.Obs, numAgents)
	assert.Equal(t, []float64{1, 2, 3, 4, 5, 6}, batch.JointObs[0])
	assert.Equal(t, []float64{0.1, 0.2, 0.3}, batch.JointActions[0])
	assert.Equal(t, []float64{7, 8, 9, 10, 11, 12}, batch.JointNextObs[0])
	assert.Equal(t, 0.0, batch.NotDones[0])
	assert.Equal(t, 2.0, batch.Rewards[1][0])
}
