// Package selfplay decides, per training step, whether to freeze the live
// agents into the opponent window, swap the opponent, or flip the live team's
// side. All randomness comes from an injected source so schedules are
// reproducible.
package selfplay

import (
	"math/rand"

	"github.com/DariaXu/unity-soccorTwos/checkpoint"
	"github.com/DariaXu/unity-soccorTwos/config"
	"github.com/DariaXu/unity-soccorTwos/env"
	"github.com/DariaXu/unity-soccorTwos/policy"
	"github.com/op/go-logging"
)

var log = logging.MustGetLogger("selfplay")

// State labels what the scheduler did at a step boundary.
type State int

const (
	TrainingLive State = iota
	SwappingOpponent
	TeamReassign
)

func (s State) String() string {
	switch s {
	case TrainingLive:
		return "training_live"
	case SwappingOpponent:
		return "swapping_opponent"
	case TeamReassign:
		return "team_reassign"
	default:
		return "unknown"
	}
}

// Opponent describes who the live agents currently train against.
//
// Scripted opponents are used when self-play is disabled. A mirror opponent
// means the live agents play their own current weights, the fallback when the
// snapshot window has nothing to offer.
type Opponent struct {
	Scripted     bool
	Mirror       bool
	SnapshotStep int
	Agents       []policy.Parameters
}

// Assignment maps team slots for the current era: the live agents control
// LiveTeam, the Opponent fills the other side. It is recomputed at each swap
// boundary and lives until the next one.
type Assignment struct {
	LiveTeam env.Team
	Opponent Opponent
	Era      int
}

// Outcome reports which transitions fired while advancing one step.
type Outcome struct {
	State       State
	Saved       bool
	Swapped     bool
	TeamChanged bool
}

// Scheduler is the self-play state machine. It is driven by the training
// loop's global step counter and never blocks.
type Scheduler struct {
	enabled    bool
	saveStep   int
	swapStep   int
	teamChange int
	probLatest float64

	window *checkpoint.Manager
	rng    *rand.Rand

	assignment Assignment
}

// NewScheduler builds a scheduler over the given snapshot window. Until the
// first swap boundary the live agents play a mirror match (or a scripted
// opponent when self-play is disabled).
func NewScheduler(cfg config.Config, window *checkpoint.Manager, rng *rand.Rand) *Scheduler {
	s := &Scheduler{
		enabled:    cfg.SelfPlay,
		saveStep:   cfg.SaveStep,
		swapStep:   cfg.SwapStep,
		teamChange: cfg.TeamChange,
		probLatest: cfg.ProbSelectLatestModel,
		window:     window,
		rng:        rng,
	}
	s.assignment = Assignment{LiveTeam: env.Blue, Opponent: s.initialOpponent()}
	return s
}

func (s *Scheduler) initialOpponent() Opponent {
	if !s.enabled {
		return Opponent{Scripted: true}
	}
	return Opponent{Mirror: true}
}

// Assignment returns the current era's team assignment.
func (s *Scheduler) Assignment() Assignment {
	return s.assignment
}

// Advance consults the global step counter and fires any transitions due at
// this step. Each cadence fires exactly once per boundary. live carries the
// current trainable parameters, used for snapshots and mirror matches.
func (s *Scheduler) Advance(step int, live []policy.Parameters) Outcome {
	out := Outcome{State: TrainingLive}
	if !s.enabled || step == 0 {
		return out
	}

	if step%s.saveStep == 0 {
		s.window.Save(step, live)
		out.Saved = true
		log.Infof("Froze live agents into the opponent window at step %d (window %d)", step, s.window.Len())
	}

	if step%s.swapStep == 0 {
		s.assignment.Opponent = s.pickOpponent(live)
		s.assignment.Era++
		out.Swapped = true
		out.State = SwappingOpponent
		if s.assignment.Opponent.Mirror {
			log.Infof("Swap at step %d: mirror match (window empty)", step)
		} else {
			log.Infof("Swap at step %d: opponent from snapshot step %d", step, s.assignment.Opponent.SnapshotStep)
		}
	}

	if step%s.teamChange == 0 {
		s.assignment.LiveTeam = s.assignment.LiveTeam.Other()
		out.TeamChanged = true
		out.State = TeamReassign
		log.Infof("Team reassignment at step %d: live agents now play %v", step, s.assignment.LiveTeam)
	}

	return out
}

// pickOpponent is the weighted choice between the most recent snapshot and a
// uniformly random one from the window. With nothing retained it falls back
// to a mirror match against the live weights rather than failing.
func (s *Scheduler) pickOpponent(live []policy.Parameters) Opponent {
	var snap checkpoint.Snapshot
	var err error
	if s.rng.Float64() < s.probLatest {
		snap, err = s.window.Latest()
	} else {
		snap, err = s.window.Random(s.rng)
	}
	if err != nil {
		mirror := make([]policy.Parameters, len(live))
		for i, p := range live {
			mirror[i] = p.Clone()
		}
		return Opponent{Mirror: true, Agents: mirror}
	}
	return Opponent{SnapshotStep: snap.Step, Agents: snap.Agents}
}
