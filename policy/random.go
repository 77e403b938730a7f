package policy

import (
	"math/rand"

	"github.com/DariaXu/unity-soccorTwos/config"
	"github.com/DariaXu/unity-soccorTwos/replay"
)

func init() {
	Register("random", newRandomAgent)
}

// randomAgent plays uniform random actions. It is the scripted baseline used
// when self-play is disabled and the fallback opponent in tests.
type randomAgent struct {
	actionSize int
}

func newRandomAgent(_ config.Config, spec EnvSpec, _ int) (Agent, error) {
	return &randomAgent{actionSize: spec.ActionSize}, nil
}

func (a *randomAgent) Act(rng *rand.Rand, _ []float64, _ float64) []float64 {
	action := make([]float64, a.actionSize)
	for i := range action {
		action[i] = rng.Float64()*2 - 1
	}
	return action
}

func (a *randomAgent) Learn(replay.Batch) (Losses, error) { return Losses{}, nil }

func (a *randomAgent) SyncTarget(float64) {}

func (a *randomAgent) Parameters() Parameters { return Parameters{} }

func (a *randomAgent) SetParameters(Parameters) error { return nil }
