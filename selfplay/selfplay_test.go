package selfplay

import (
	"math/rand"
	"testing"

	"github.com/DariaXu/unity-soccorTwos/checkpoint"
	"github.com/DariaXu/unity-soccorTwos/config"
	"github.com/DariaXu/unity-soccorTwos/env"
	"github.com/DariaXu/unity-soccorTwos/policy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func liveParams(tag float64) []policy.Parameters {
	return []policy.Parameters{{Actor: []float64{tag}, Critic: []float64{tag}}}
}

func newScheduler(t *testing.T, mutate func(*config.Config)) (*Scheduler, *checkpoint.Manager) {
	t.Helper()
	cfg := config.Default()
	cfg.SaveStep = 10
	cfg.SwapStep = 20
	cfg.TeamChange = 40
	cfg.NumWindows = 3
	if mutate != nil {
		mutate(&cfg)
	}
	window := checkpoint.NewManager(t.TempDir(), cfg.NumWindows)
	return NewScheduler(cfg, window, rand.New(rand.NewSource(11))), window
}

func TestSwapFiresExactlyOnceAtBoundary(t *testing.T) {
	s, _ := newScheduler(t, func(c *config.Config) {
		c.SwapStep = 100000
		c.TeamChange = 1 << 30
	})

	swaps := 0
	for _, step := range []int{99999, 100000, 100001} {
		out := s.Advance(step, liveParams(1))
		if out.Swapped {
			swaps++
			assert.Equal(t, 100000, step)
			assert.Equal(t, SwappingOpponent, out.State)
		}
	}
	assert.Equal(t, 1, swaps)
}

func TestDisabledSelfPlayNeverFires(t *testing.T) {
	s, window := newScheduler(t, func(c *config.Config) { c.SelfPlay = false })
	for step := 1; step <= 200; step++ {
		out := s.Advance(step, liveParams(1))
		assert.Equal(t, Outcome{State: TrainingLive}, out)
	}
	assert.Equal(t, 0, window.Len())
	assert.True(t, s.Assignment().Opponent.Scripted)
	assert.Equal(t, env.Blue, s.Assignment().LiveTeam)
}

func TestMirrorFallbackBeforeFirstSnapshot(t *testing.T) {
	// swap boundary arrives before any save boundary
	s, _ := newScheduler(t, func(c *config.Config) {
		c.SaveStep = 50
		c.SwapStep = 20
	})
	out := s.Advance(20, liveParams(3))
	require.True(t, out.Swapped)
	a := s.Assignment()
	assert.True(t, a.Opponent.Mirror)
	assert.Equal(t, liveParams(3), a.Opponent.Agents)
}

func TestMirrorFallbackWithZeroWindow(t *testing.T) {
	s, _ := newScheduler(t, func(c *config.Config) { c.NumWindows = 0 })
	for step := 1; step <= 40; step++ {
		s.Advance(step, liveParams(float64(step)))
	}
	assert.True(t, s.Assignment().Opponent.Mirror)
}

func TestSaveCadenceFillsWindow(t *testing.T) {
	s, window := newScheduler(t, nil)
	for step := 1; step <= 35; step++ {
		s.Advance(step, liveParams(float64(step)))
	}
	// saves at 10, 20, 30 within a window of 3
	assert.Equal(t, []int{10, 20, 30}, window.Steps())
}

func TestSwapUsesRetainedSnapshot(t *testing.T) {
	s, _ := newScheduler(t, nil)
	for step := 1; step <= 20; step++ {
		s.Advance(step, liveParams(float64(step)))
	}
	a := s.Assignment()
	require.False(t, a.Opponent.Mirror)
	assert.Contains(t, []int{10, 20}, a.Opponent.SnapshotStep)
	assert.Equal(t, 1, a.Era)
}

func TestAlwaysLatestSelection(t *testing.T) {
	s, _ := newScheduler(t, func(c *config.Config) { c.ProbSelectLatestModel = 1.0 })
	for step := 1; step <= 20; step++ {
		s.Advance(step, liveParams(float64(step)))
	}
	assert.Equal(t, 20, s.Assignment().Opponent.SnapshotStep)
}

func TestNeverLatestSelectsUniformly(t *testing.T) {
	s, _ := newScheduler(t, func(c *config.Config) {
		c.ProbSelectLatestModel = 0.0
		c.SaveStep = 10
		c.SwapStep = 10
		c.NumWindows = 5
	})
	seen := map[int]bool{}
	for step := 1; step <= 2000; step++ {
		out := s.Advance(step, liveParams(float64(step)))
		if out.Swapped && !s.Assignment().Opponent.Mirror {
			seen[s.Assignment().Opponent.SnapshotStep] = true
		}
	}
	assert.Greater(t, len(seen), 1, "uniform draws should select more than one snapshot")
}

func TestTeamChangeFlipsSides(t *testing.T) {
	s, _ := newScheduler(t, nil)
	require.Equal(t, env.Blue, s.Assignment().LiveTeam)

	out := s.Advance(40, liveParams(1))
	assert.True(t, out.TeamChanged)
	assert.Equal(t, env.Purple, s.Assignment().LiveTeam)

	s.Advance(80, liveParams(1))
	assert.Equal(t, env.Blue, s.Assignment().LiveTeam)
}

func TestStepZeroFiresNothing(t *testing.T) {
	s, window := newScheduler(t, nil)
	out := s.Advance(0, liveParams(1))
	assert.Equal(t, Outcome{State: TrainingLive}, out)
	assert.Equal(t, 0, window.Len())
}
