package env

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/DariaXu/unity-soccorTwos/config"
	"github.com/op/go-logging"
)

var log = logging.MustGetLogger("env")

func init() {
	Register("gridsoccer", newGridSoccer)
}

const (
	gridRows      = 7
	gridCols      = 11
	maxEpisodeLen = 200

	goalReward   = 1.0
	concedeCost  = -1.0
	pickupReward = 0.1
	stepPenalty  = -0.001
)

type pos struct {
	r, c int
}

// gridSoccer is a small symmetric team game standing in for the Unity
// SoccerTwos environment: per team, cfg.NumAgents players on a grid, one
// ball. Blue scores in the rightmost column, Purple in the leftmost. An
// episode ends on a goal or after maxEpisodeLen steps.
type gridSoccer struct {
	perTeam int
	rng     *rand.Rand

	players []pos
	ball    pos
	carrier int // slot index, or -1 while the ball is loose
	turn    int
	started bool
}

func newGridSoccer(cfg config.Config, rng *rand.Rand) (Environment, error) {
	if cfg.NumAgents > gridRows {
		return nil, fmt.Errorf("gridsoccer supports at most %d players per team, got %d", gridRows, cfg.NumAgents)
	}
	return &gridSoccer{perTeam: cfg.NumAgents, rng: rng}, nil
}

func (g *gridSoccer) NumSlots() int { return 2 * g.perTeam }

func (g *gridSoccer) SlotTeam(slot int) Team {
	if slot < g.perTeam {
		return Blue
	}
	return Purple
}

func (g *gridSoccer) ObsSize() int { return 6 }

func (g *gridSoccer) ActionSize() int { return 2 }

func (g *gridSoccer) Reset() ([][]float64, error) {
	n := g.NumSlots()
	g.players = make([]pos, n)
	used := map[pos]struct{}{}
	for slot := 0; slot < n; slot++ {
		// each team starts on its own half
		var p pos
		for {
			p.r = g.rng.Intn(gridRows)
			if g.SlotTeam(slot) == Blue {
				p.c = g.rng.Intn(gridCols / 2)
			} else {
				p.c = gridCols/2 + 1 + g.rng.Intn(gridCols/2)
			}
			if _, taken := used[p]; !taken {
				break
			}
		}
		used[p] = struct{}{}
		g.players[slot] = p
	}
	g.ball = pos{gridRows / 2, gridCols / 2}
	g.carrier = -1
	g.turn = 0
	g.started = true
	return g.observations(), nil
}

func (g *gridSoccer) Step(actions [][]float64) (StepResult, error) {
	if !g.started {
		return StepResult{}, fmt.Errorf("%w: step before reset", ErrEnvironmentStep)
	}
	n := g.NumSlots()
	if len(actions) != n {
		return StepResult{}, fmt.Errorf("%w: got %d action vectors for %d slots", ErrEnvironmentStep, len(actions), n)
	}

	// resolve intended moves, then cancel collisions pairwise
	intended := make([]pos, n)
	for slot, action := range actions {
		if len(action) != g.ActionSize() {
			return StepResult{}, fmt.Errorf("%w: slot %d action has size %d, want %d",
				ErrEnvironmentStep, slot, len(action), g.ActionSize())
		}
		intended[slot] = g.move(g.players[slot], action)
	}
	for a := 0; a < n; a++ {
		for b := a + 1; b < n; b++ {
			if intended[a] == intended[b] {
				intended[a] = g.players[a]
				intended[b] = g.players[b]
			}
		}
	}

	rewards := make([]float64, n)
	for slot := range rewards {
		rewards[slot] = stepPenalty
	}

	for slot := 0; slot < n; slot++ {
		g.players[slot] = intended[slot]
		if g.carrier == -1 && g.players[slot] == g.ball {
			g.carrier = slot
			rewards[slot] += pickupReward
			log.Debugf("Slot %d (%v) picked up the ball at %v", slot, g.SlotTeam(slot), g.ball)
		}
	}
	if g.carrier >= 0 {
		g.ball = g.players[g.carrier]
	}

	done := false
	if g.carrier >= 0 && g.inGoal(g.SlotTeam(g.carrier), g.ball) {
		scorer := g.SlotTeam(g.carrier)
		for slot := 0; slot < n; slot++ {
			if g.SlotTeam(slot) == scorer {
				rewards[slot] += goalReward
			} else {
				rewards[slot] += concedeCost
			}
		}
		done = true
		log.Debugf("Team %v scored at turn %d", scorer, g.turn)
	}

	g.turn++
	if g.turn >= maxEpisodeLen {
		done = true
	}
	if done {
		g.started = false
	}
	return StepResult{Obs: g.observations(), Rewards: rewards, Done: done}, nil
}

func (g *gridSoccer) move(from pos, action []float64) pos {
	to := pos{from.r + direction(action[0]), from.c + direction(action[1])}
	if to.r < 0 || to.r >= gridRows || to.c < 0 || to.c >= gridCols {
		return from
	}
	return to
}

func (g *gridSoccer) inGoal(team Team, p pos) bool {
	if team == Blue {
		return p.c == gridCols-1
	}
	return p.c == 0
}

func (g *gridSoccer) observations() [][]float64 {
	obs := make([][]float64, g.NumSlots())
	for slot := range obs {
		p := g.players[slot]
		carry := 0.0
		if g.carrier == slot {
			carry = 1.0
		}
		attack := 1.0
		if g.SlotTeam(slot) == Purple {
			attack = -1.0
		}
		obs[slot] = []float64{
			float64(p.r) / float64(gridRows-1),
			float64(p.c) / float64(gridCols-1),
			float64(g.ball.r) / float64(gridRows-1),
			float64(g.ball.c) / float64(gridCols-1),
			carry,
			attack,
		}
	}
	return obs
}

// direction collapses a continuous action component to a grid step.
func direction(v float64) int {
	switch {
	case math.IsNaN(v):
		return 0
	case v > 0.33:
		return 1
	case v < -0.33:
		return -1
	default:
		return 0
	}
}
