// Package policy defines the agent contract the orchestrator drives and a
// registry resolving the config's agent selector to a constructor. The
// orchestrator never sees network internals, only action selection, batch
// updates and flat parameter vectors.
package policy

import (
	"fmt"
	"math"
	"math/rand"
	"sort"

	"github.com/DariaXu/unity-soccorTwos/config"
	"github.com/DariaXu/unity-soccorTwos/replay"
	"github.com/op/go-logging"
)

var log = logging.MustGetLogger("policy")

// EnvSpec is the slice of environment geometry an agent needs to size its
// networks.
type EnvSpec struct {
	NumSlots   int
	ObsSize    int
	ActionSize int
}

// JointSize is the width of the concatenated observation+action vector the
// centralized critic consumes.
func (s EnvSpec) JointSize() int {
	return s.NumSlots * (s.ObsSize + s.ActionSize)
}

// Parameters is a flat, versionless snapshot of an agent's weights. Empty
// slices mean the agent has nothing to snapshot (e.g. externally trained
// models).
type Parameters struct {
	Actor  []float64 `json:"actor"`
	Critic []float64 `json:"critic"`
}

// Clone returns a deep copy.
func (p Parameters) Clone() Parameters {
	return Parameters{
		Actor:  append([]float64(nil), p.Actor...),
		Critic: append([]float64(nil), p.Critic...),
	}
}

// Losses reports the outcome of one optimizer update.
type Losses struct {
	Actor  float64
	Critic float64
}

// Agent selects actions for one slot and learns from replay batches. The
// slot index fixes which batch columns are its own.
type Agent interface {
	// Act returns an action vector for the observation. With probability
	// epsilon the action is exploratory; epsilon 0 is greedy.
	Act(rng *rand.Rand, obs []float64, epsilon float64) []float64

	// Learn performs one optimizer update from the batch. A step either
	// fully commits or returns an error leaving the weights untouched.
	Learn(batch replay.Batch) (Losses, error)

	// SyncTarget moves target networks toward the live ones by Polyak
	// averaging with the given rate.
	SyncTarget(tau float64)

	// Parameters returns a deep copy of the current weights.
	Parameters() Parameters

	// SetParameters replaces the weights (and resets targets to match).
	SetParameters(Parameters) error
}

// Constructor builds the agent controlling the given slot.
type Constructor func(cfg config.Config, spec EnvSpec, slot int) (Agent, error)

var registry = map[string]Constructor{}

// Register makes an agent variant available under the given selector.
func Register(name string, ctor Constructor) {
	if _, dup := registry[name]; dup {
		panic(fmt.Sprintf("policy: duplicate registration of %q", name))
	}
	registry[name] = ctor
}

// New resolves the config's agent selector for one slot.
func New(cfg config.Config, spec EnvSpec, slot int) (Agent, error) {
	ctor, ok := registry[cfg.Agent]
	if !ok {
		return nil, fmt.Errorf("policy: unknown agent %q (known: %v)", cfg.Agent, Names())
	}
	return ctor(cfg, spec, slot)
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

// clipGradNorm rescales grad in place so its L2 norm does not exceed maxNorm.
func clipGradNorm(grad []float64, maxNorm float64) {
	sum := 0.0
	for _, g := range grad {
		sum += g * g
	}
	norm := math.Sqrt(sum)
	if norm <= maxNorm || norm == 0 {
		return
	}
	scale := maxNorm / norm
	for i := range grad {
		grad[i] *= scale
	}
}
