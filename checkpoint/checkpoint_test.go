package checkpoint

import (
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/DariaXu/unity-soccorTwos/policy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func params(tag float64) []policy.Parameters {
	return []policy.Parameters{{
		Actor:  []float64{tag, tag + 0.5},
		Critic: []float64{-tag},
	}}
}

func TestWindowBoundAndFIFOEviction(t *testing.T) {
	window := 10
	m := NewManager(t.TempDir(), window)
	k := 3
	for i := 1; i <= window+k; i++ {
		m.Save(i, params(float64(i)))
		assert.LessOrEqual(t, m.Len(), window)
	}
	// the first k snapshots are evicted, the rest retained in order
	assert.Equal(t, []int{4, 5, 6, 7, 8, 9, 10, 11, 12, 13}, m.Steps())

	for i := 1; i <= k; i++ {
		_, err := m.AtStep(i)
		assert.ErrorIs(t, err, ErrNoSnapshot)
	}
	for i := k + 1; i <= window+k; i++ {
		snap, err := m.AtStep(i)
		require.NoError(t, err)
		assert.Equal(t, i, snap.Step)
	}
}

func TestElevenSavesEvictFirst(t *testing.T) {
	m := NewManager(t.TempDir(), 10)
	for i := 1; i <= 11; i++ {
		m.Save(i, params(float64(i)))
	}
	_, err := m.AtStep(1)
	assert.ErrorIs(t, err, ErrNoSnapshot)
	assert.Equal(t, []int{2, 3, 4, 5, 6, 7, 8, 9, 10, 11}, m.Steps())
}

func TestEmptyWindowErrors(t *testing.T) {
	m := NewManager(t.TempDir(), 5)
	rng := rand.New(rand.NewSource(1))
	_, err := m.Latest()
	assert.ErrorIs(t, err, ErrNoSnapshot)
	_, err = m.Random(rng)
	assert.ErrorIs(t, err, ErrNoSnapshot)
	_, err = m.AtStep(7)
	assert.ErrorIs(t, err, ErrNoSnapshot)
}

func TestZeroWindowStoresNothing(t *testing.T) {
	m := NewManager(t.TempDir(), 0)
	m.Save(1, params(1))
	assert.Equal(t, 0, m.Len())
	_, err := m.Latest()
	assert.ErrorIs(t, err, ErrNoSnapshot)
}

func TestLatestAndRandomSelection(t *testing.T) {
	m := NewManager(t.TempDir(), 4)
	for i := 1; i <= 4; i++ {
		m.Save(i * 100, params(float64(i)))
	}
	latest, err := m.Latest()
	require.NoError(t, err)
	assert.Equal(t, 400, latest.Step)

	rng := rand.New(rand.NewSource(2))
	seen := map[int]bool{}
	for trial := 0; trial < 100; trial++ {
		snap, err := m.Random(rng)
		require.NoError(t, err)
		seen[snap.Step] = true
	}
	assert.Len(t, seen, 4, "uniform draw over 100 trials should hit every retained step")
}

func TestLoadIsIdempotentAndIsolated(t *testing.T) {
	m := NewManager(t.TempDir(), 2)
	m.Save(7, params(7))

	first, err := m.Latest()
	require.NoError(t, err)
	second, err := m.Latest()
	require.NoError(t, err)
	assert.Equal(t, first.Agents, second.Agents)

	// mutating a loaded copy must not leak into the window
	first.Agents[0].Actor[0] = 1e9
	third, err := m.Latest()
	require.NoError(t, err)
	assert.Equal(t, second.Agents, third.Agents)
}

func TestSaveCopiesCallerParameters(t *testing.T) {
	m := NewManager(t.TempDir(), 2)
	p := params(3)
	m.Save(3, p)
	p[0].Actor[0] = -1e9

	snap, err := m.Latest()
	require.NoError(t, err)
	assert.Equal(t, 3.0, snap.Agents[0].Actor[0])
}

func TestPersistAndReadFileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir, 2)
	want := params(0.123456789012345)
	require.NoError(t, m.Persist(900, want))

	snap, err := ReadFile(m.FilePath(900))
	require.NoError(t, err)
	assert.Equal(t, 900, snap.Step)
	assert.Equal(t, want, snap.Agents)

	again, err := ReadFile(m.FilePath(900))
	require.NoError(t, err)
	assert.Equal(t, snap.Agents, again.Agents)
}

func TestReadFileRejectsGarbage(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "broken.json")
	require.NoError(t, writeFile(path, "{not json"))
	_, err := ReadFile(path)
	assert.Error(t, err)
}

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0o644)
}
