package policy

import (
	"math"
	"math/rand"
	"testing"

	"github.com/DariaXu/unity-soccorTwos/config"
	"github.com/DariaXu/unity-soccorTwos/replay"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSpec = EnvSpec{NumSlots: 4, ObsSize: 6, ActionSize: 2}

func newTestLinear(t *testing.T, slot int) Agent {
	t.Helper()
	cfg := config.Default()
	cfg.Seed = 42
	agent, err := New(cfg, testSpec, slot)
	require.NoError(t, err)
	return agent
}

func testBatch(t *testing.T, size int) replay.Batch {
	t.Helper()
	rng := rand.New(rand.NewSource(5))
	buf := replay.New(size*2, testSpec.NumSlots, rng)
	for i := 0; i < size*2; i++ {
		tr := replay.Transition{Done: i%7 == 0}
		for s := 0; s < testSpec.NumSlots; s++ {
			obs := make([]float64, testSpec.ObsSize)
			next := make([]float64, testSpec.ObsSize)
			act := make([]float64, testSpec.ActionSize)
			for j := range obs {
				obs[j] = rng.Float64()
				next[j] = rng.Float64()
			}
			for j := range act {
				act[j] = rng.Float64()*2 - 1
			}
			tr.Obs = append(tr.Obs, obs)
			tr.NextObs = append(tr.NextObs, next)
			tr.Actions = append(tr.Actions, act)
			tr.Rewards = append(tr.Rewards, rng.Float64()-0.5)
		}
		buf.Push(tr)
	}
	batch, err := buf.Sample(size)
	require.NoError(t, err)
	return batch
}

func TestUnknownAgentSelector(t *testing.T) {
	cfg := config.Default()
	cfg.Agent = "no-such-agent"
	_, err := New(cfg, testSpec, 0)
	assert.Error(t, err)
}

func TestGreedyActIsDeterministic(t *testing.T) {
	agent := newTestLinear(t, 0)
	obs := []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6}
	rng := rand.New(rand.NewSource(1))
	first := agent.Act(rng, obs, 0)
	second := agent.Act(rng, obs, 0)
	assert.Equal(t, first, second)
	for _, v := range first {
		assert.LessOrEqual(t, math.Abs(v), 1.0)
	}
}

func TestFullEpsilonExplores(t *testing.T) {
	agent := newTestLinear(t, 0)
	obs := []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6}
	rng := rand.New(rand.NewSource(1))
	greedy := agent.Act(rng, obs, 0)
	distinct := false
	for trial := 0; trial < 10; trial++ {
		if !assert.ObjectsAreEqual(greedy, agent.Act(rng, obs, 1.0)) {
			distinct = true
			break
		}
	}
	assert.True(t, distinct, "epsilon=1 never produced a non-greedy action")
}

func TestLearnCommitsAnUpdate(t *testing.T) {
	agent := newTestLinear(t, 1)
	before := agent.Parameters()
	losses, err := agent.Learn(testBatch(t, 32))
	require.NoError(t, err)
	assert.False(t, math.IsNaN(losses.Actor))
	assert.False(t, math.IsNaN(losses.Critic))
	after := agent.Parameters()
	assert.NotEqual(t, before.Critic, after.Critic)
	assert.NotEqual(t, before.Actor, after.Actor)
}

func TestLearnRejectsEmptyBatch(t *testing.T) {
	agent := newTestLinear(t, 0)
	_, err := agent.Learn(replay.Batch{})
	assert.Error(t, err)
}

func TestParametersRoundTripBitwise(t *testing.T) {
	donor := newTestLinear(t, 0)
	_, err := donor.Learn(testBatch(t, 16))
	require.NoError(t, err)
	p := donor.Parameters()

	recipient := newTestLinear(t, 0)
	require.NoError(t, recipient.SetParameters(p.Clone()))
	got := recipient.Parameters()
	assert.Equal(t, p.Actor, got.Actor)
	assert.Equal(t, p.Critic, got.Critic)
}

func TestSetParametersRejectsWrongSizes(t *testing.T) {
	agent := newTestLinear(t, 0)
	err := agent.SetParameters(Parameters{Actor: []float64{1}, Critic: []float64{2}})
	assert.Error(t, err)
}

func TestParametersReturnsACopy(t *testing.T) {
	agent := newTestLinear(t, 0)
	p := agent.Parameters()
	p.Actor[0] = 1e9
	assert.NotEqual(t, 1e9, agent.Parameters().Actor[0])
}

func TestClipGradNorm(t *testing.T) {
	grad := []float64{3, 4}
	clipGradNorm(grad, 1.0)
	norm := math.Hypot(grad[0], grad[1])
	assert.InDelta(t, 1.0, norm, 1e-12)

	small := []float64{0.1, 0.1}
	clipGradNorm(small, 10)
	assert.Equal(t, []float64{0.1, 0.1}, small)
}

func TestRandomAgentBounds(t *testing.T) {
	cfg := config.Default()
	cfg.Agent = "random"
	agent, err := New(cfg, testSpec, 0)
	require.NoError(t, err)
	rng := rand.New(rand.NewSource(9))
	for trial := 0; trial < 20; trial++ {
		action := agent.Act(rng, nil, 0)
		require.Len(t, action, testSpec.ActionSize)
		for _, v := range action {
			assert.Less(t, math.Abs(v), 1.0)
		}
	}
}
