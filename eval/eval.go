// Package eval runs fixed-budget evaluation episodes against the current
// opponents, independent of training. It never mutates trainable state: it
// only calls Act on the agents it is handed.
package eval

import (
	"math/rand"
	"time"

	"github.com/DariaXu/unity-soccorTwos/env"
	"github.com/DariaXu/unity-soccorTwos/policy"
	"github.com/op/go-logging"
)

var log = logging.MustGetLogger("eval")

// DefaultEpisodeBudget caps how many episodes one evaluation pass may play
// when the step budget does not run out first.
const DefaultEpisodeBudget = 10

// Report aggregates the outcome of one evaluation pass.
type Report struct {
	Step       int       `json:"step"`
	Episodes   int       `json:"episodes"`
	StepsUsed  int       `json:"steps_used"`
	LiveTeam   string    `json:"live_team"`
	MeanReturn []float64 `json:"mean_return_per_slot"`
	TeamReturn struct {
		Blue   float64 `json:"blue"`
		Purple float64 `json:"purple"`
	} `json:"team_return"`
	Elapsed time.Duration `json:"elapsed_ns"`
}

// Evaluator plays evaluation episodes on its own environment instance with
// greedy (Epsilon) action selection.
type Evaluator struct {
	Env           env.Environment
	Agents        []policy.Agent // one per slot
	Epsilon       float64
	MaxSteps      int
	EpisodeBudget int
	LiveTeam      env.Team
	RNG           *rand.Rand
}

// Run plays episodes until the step or episode budget is exhausted. The
// returned flag is false when the pass was skipped because the environment
// could not be reset; the caller logs and moves on.
func (e *Evaluator) Run(step int) (Report, bool) {
	budget := e.EpisodeBudget
	if budget <= 0 {
		budget = DefaultEpisodeBudget
	}
	report := Report{
		Step:       step,
		LiveTeam:   e.LiveTeam.String(),
		MeanReturn: make([]float64, e.Env.NumSlots()),
	}
	start := time.Now()

	for report.Episodes < budget && report.StepsUsed < e.MaxSteps {
		obs, err := e.Env.Reset()
		if err != nil {
			log.Warningf("Skipping evaluation pass at step %d: reset failed: %v", step, err)
			return report, false
		}

		for report.StepsUsed < e.MaxSteps {
			actions := make([][]float64, len(e.Agents))
			for slot, agent := range e.Agents {
				actions[slot] = agent.Act(e.RNG, obs[slot], e.Epsilon)
			}
			res, err := e.Env.Step(actions)
			if err != nil {
				log.Warningf("Ending evaluation pass at step %d early: %v", step, err)
				e.finish(&report, start)
				return report, true
			}
			for slot, r := range res.Rewards {
				report.MeanReturn[slot] += r
			}
			report.StepsUsed++
			obs = res.Obs
			if res.Done {
				break
			}
		}
		report.Episodes++
	}

	e.finish(&report, start)
	log.Infof("Evaluation at step %d: %d episodes over %d steps, blue %.4f purple %.4f",
		step, report.Episodes, report.StepsUsed, report.TeamReturn.Blue, report.TeamReturn.Purple)
	return report, true
}

// finish converts accumulated returns into per-episode means and team sums.
func (e *Evaluator) finish(report *Report, start time.Time) {
	report.Elapsed = time.Since(start)
	episodes := report.Episodes
	if episodes == 0 {
		episodes = 1
	}
	for slot := range report.MeanReturn {
		report.MeanReturn[slot] /= float64(episodes)
		switch e.Env.SlotTeam(slot) {
		case env.Blue:
			report.TeamReturn.Blue += report.MeanReturn[slot]
		case env.Purple:
			report.TeamReturn.Purple += report.MeanReturn[slot]
		}
	}
}
