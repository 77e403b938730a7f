// Package env defines the environment contract the training loop drives and a
// registry resolving the config's env selector to a constructor.
package env

import (
	"errors"
	"fmt"
	"math/rand"
	"sort"

	"github.com/DariaXu/unity-soccorTwos/config"
)

// ErrEnvironmentStep wraps failures raised by an environment while stepping.
// The training loop treats these as fatal; the evaluator skips and logs.
var ErrEnvironmentStep = errors.New("env: environment step failed")

// Team is the side a slot plays on.
type Team int

const (
	Blue Team = iota
	Purple
)

func (t Team) String() string {
	switch t {
	case Blue:
		return "blue"
	case Purple:
		return "purple"
	default:
		return "unknown"
	}
}

// Other returns the opposing side.
func (t Team) Other() Team {
	if t == Blue {
		return Purple
	}
	return Blue
}

// StepResult carries the per-slot outcome of one environment step.
type StepResult struct {
	Obs     [][]float64
	Rewards []float64
	Done    bool
}

// Environment is a symmetric team game with a fixed number of controllable
// slots. Implementations are not safe for concurrent use; the evaluator
// creates its own instance.
type Environment interface {
	// Reset starts a new episode and returns the initial per-slot observations.
	Reset() ([][]float64, error)

	// Step applies one action vector per slot.
	Step(actions [][]float64) (StepResult, error)

	NumSlots() int
	SlotTeam(slot int) Team
	ObsSize() int
	ActionSize() int
}

// Constructor builds an environment from the run config and a seeded random
// source owned by the caller.
type Constructor func(cfg config.Config, rng *rand.Rand) (Environment, error)

var registry = map[string]Constructor{}

// Register makes an environment variant available under the given selector.
// Registering the same name twice is a programming error.
func Register(name string, ctor Constructor) {
	if _, dup := registry[name]; dup {
		panic(fmt.Sprintf("env: duplicate registration of %q", name))
	}
	registry[name] = ctor
}

// New resolves the config's env selector and constructs the environment.
func New(cfg config.Config, rng *rand.Rand) (Environment, error) {
	ctor, ok := registry[cfg.Env]
	if !ok {
		return nil, fmt.Errorf("env: unknown environment %q (known: %v)", cfg.Env, Names())
	}
	return ctor(cfg, rng)
}

// Names lists the registered selectors, sorted.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
