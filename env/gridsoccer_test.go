package env

import (
	"math/rand"
	"testing"

	"github.com/DariaXu/unity-soccorTwos/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEnv(t *testing.T, perTeam int) Environment {
	t.Helper()
	cfg := config.Default()
	cfg.NumAgents = perTeam
	e, err := New(cfg, rand.New(rand.NewSource(7)))
	require.NoError(t, err)
	return e
}

func TestRegistryResolvesGridSoccer(t *testing.T) {
	assert.Contains(t, Names(), "gridsoccer")
	cfg := config.Default()
	cfg.Env = "no-such-env"
	_, err := New(cfg, rand.New(rand.NewSource(1)))
	assert.Error(t, err)
}

func TestSlotTeamsAreSymmetric(t *testing.T) {
	e := newTestEnv(t, 2)
	require.Equal(t, 4, e.NumSlots())
	assert.Equal(t, Blue, e.SlotTeam(0))
	assert.Equal(t, Blue, e.SlotTeam(1))
	assert.Equal(t, Purple, e.SlotTeam(2))
	assert.Equal(t, Purple, e.SlotTeam(3))
	assert.Equal(t, Purple, Blue.Other())
	assert.Equal(t, Blue, Purple.Other())
}

func TestStepBeforeResetFails(t *testing.T) {
	e := newTestEnv(t, 2)
	_, err := e.Step(make([][]float64, e.NumSlots()))
	assert.ErrorIs(t, err, ErrEnvironmentStep)
}

func TestResetShapes(t *testing.T) {
	e := newTestEnv(t, 2)
	obs, err := e.Reset()
	require.NoError(t, err)
	require.Len(t, obs, e.NumSlots())
	for _, o := range obs {
		assert.Len(t, o, e.ObsSize())
	}
}

func TestStepRejectsWrongActionShapes(t *testing.T) {
	e := newTestEnv(t, 2)
	_, err := e.Reset()
	require.NoError(t, err)

	_, err = e.Step([][]float64{{0, 0}})
	assert.ErrorIs(t, err, ErrEnvironmentStep)

	bad := make([][]float64, e.NumSlots())
	for i := range bad {
		bad[i] = []float64{0, 0, 0}
	}
	_, err = e.Step(bad)
	assert.ErrorIs(t, err, ErrEnvironmentStep)
}

func TestEpisodeTerminates(t *testing.T) {
	e := newTestEnv(t, 1)
	_, err := e.Reset()
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(3))
	actions := make([][]float64, e.NumSlots())
	for step := 0; step <= maxEpisodeLen; step++ {
		for i := range actions {
			actions[i] = []float64{rng.Float64()*2 - 1, rng.Float64()*2 - 1}
		}
		res, err := e.Step(actions)
		require.NoError(t, err)
		require.Len(t, res.Rewards, e.NumSlots())
		if res.Done {
			return
		}
	}
	t.Fatalf("episode did not terminate within %d steps", maxEpisodeLen+1)
}
