// Package trainer drives the whole training run: environment stepping,
// replay, agent updates, self-play scheduling, checkpointing, evaluation and
// metrics, each at its configured cadence.
package trainer

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"path/filepath"
	"sync"
	"time"

	"github.com/DariaXu/unity-soccorTwos/checkpoint"
	"github.com/DariaXu/unity-soccorTwos/config"
	"github.com/DariaXu/unity-soccorTwos/env"
	"github.com/DariaXu/unity-soccorTwos/eval"
	"github.com/DariaXu/unity-soccorTwos/policy"
	"github.com/DariaXu/unity-soccorTwos/record"
	"github.com/DariaXu/unity-soccorTwos/replay"
	"github.com/DariaXu/unity-soccorTwos/selfplay"
	"github.com/op/go-logging"
)

var log = logging.MustGetLogger("trainer")

// Progress is handed to the caller's progress callback at the logging
// cadence.
type Progress struct {
	Step          int
	NumTrainSteps int
	Episodes      int
	Epsilon       float64
	EpisodeReturn float64
	ActorLoss     float64
	CriticLoss    float64
}

// Trainer owns one training run. A single goroutine drives Run; evaluation is
// the only concurrent activity and works on frozen parameter copies.
type Trainer struct {
	cfg   config.Config
	state *TrainingState

	trainEnv env.Environment
	evalEnv  env.Environment
	spec     policy.EnvSpec

	// agents indexed by replay column: live agents own columns 0..N-1,
	// opponents N..2N-1, regardless of which side they currently play.
	live      []policy.Agent
	opponents []policy.Agent
	scripted  []policy.Agent
	activeOpp []policy.Agent

	buffer    *replay.Buffer
	window    *checkpoint.Manager
	scheduler *selfplay.Scheduler
	writer    *record.Writer
	metrics   chan record.Metric

	actRNG   *rand.Rand
	evalSeed int64

	evalMu sync.Mutex
	evalWG sync.WaitGroup

	lastEvalMu sync.Mutex
	lastEval   eval.Report
	hasEval    bool
}

// New assembles a trainer from the run configuration. The run directory is
// created immediately and the resolved config written into it.
func New(cfg config.Config) (*Trainer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	master := rand.New(rand.NewSource(cfg.Seed))
	trainEnvRNG := rand.New(rand.NewSource(master.Int63()))
	evalEnvRNG := rand.New(rand.NewSource(master.Int63()))
	bufferRNG := rand.New(rand.NewSource(master.Int63()))
	schedulerRNG := rand.New(rand.NewSource(master.Int63()))
	actRNG := rand.New(rand.NewSource(master.Int63()))
	evalSeed := master.Int63()

	trainEnv, err := env.New(cfg, trainEnvRNG)
	if err != nil {
		return nil, err
	}
	evalEnv, err := env.New(cfg, evalEnvRNG)
	if err != nil {
		return nil, err
	}
	if trainEnv.NumSlots() != 2*cfg.NumAgents {
		return nil, fmt.Errorf("trainer: environment has %d slots, want %d for %d agents per team",
			trainEnv.NumSlots(), 2*cfg.NumAgents, cfg.NumAgents)
	}
	spec := policy.EnvSpec{
		NumSlots:   trainEnv.NumSlots(),
		ObsSize:    trainEnv.ObsSize(),
		ActionSize: trainEnv.ActionSize(),
	}

	n := cfg.NumAgents
	live := make([]policy.Agent, n)
	for i := range live {
		if live[i], err = policy.New(cfg, spec, i); err != nil {
			return nil, err
		}
	}
	opponents := make([]policy.Agent, n)
	for j := range opponents {
		if opponents[j], err = policy.New(cfg, spec, n+j); err != nil {
			return nil, err
		}
	}
	scriptedCfg := cfg
	scriptedCfg.Agent = "random"
	scripted := make([]policy.Agent, n)
	for j := range scripted {
		if scripted[j], err = policy.New(scriptedCfg, spec, n+j); err != nil {
			return nil, err
		}
	}

	runDir := cfg.ExperimentDir(time.Now())
	writer, err := record.NewWriter(runDir)
	if err != nil {
		return nil, err
	}
	if err := writer.WriteConfig(cfg); err != nil {
		return nil, err
	}

	window := checkpoint.NewManager(filepath.Join(runDir, "checkpoints"), cfg.NumWindows)

	t := &Trainer{
		cfg:       cfg,
		state:     &TrainingState{},
		trainEnv:  trainEnv,
		evalEnv:   evalEnv,
		spec:      spec,
		live:      live,
		opponents: opponents,
		scripted:  scripted,
		buffer:    replay.New(cfg.ReplayBufferCapacity, spec.NumSlots, bufferRNG),
		window:    window,
		scheduler: selfplay.NewScheduler(cfg, window, schedulerRNG),
		writer:    writer,
		actRNG:    actRNG,
		evalSeed:  evalSeed,
	}
	if cfg.LogSaveTB {
		t.metrics = make(chan record.Metric, 64)
	}
	if err := t.applyAssignment(); err != nil {
		return nil, err
	}
	t.state.update(func(s *StateSnapshot) {
		s.Epsilon = ExplorationEpsilon(0, cfg.NumExplorationSteps, cfg.MinEps)
		s.LiveTeam = t.scheduler.Assignment().LiveTeam.String()
	})
	log.Infof("Run directory %s, env %q with %d slots, agent %q", runDir, cfg.Env, spec.NumSlots, cfg.Agent)
	return t, nil
}

// State exposes the live counters for the monitor.
func (t *Trainer) State() *TrainingState { return t.state }

// RunDir returns the experiment artifact directory.
func (t *Trainer) RunDir() string { return t.writer.Dir() }

// LastEvalReport returns the most recent evaluation report, if any.
func (t *Trainer) LastEvalReport() (eval.Report, bool) {
	t.lastEvalMu.Lock()
	defer t.lastEvalMu.Unlock()
	return t.lastEval, t.hasEval
}

// Restore resets the live agents and step counter from a persisted
// checkpoint, so a run can resume where it stopped.
func (t *Trainer) Restore(snap checkpoint.Snapshot) error {
	if len(snap.Agents) != len(t.live) {
		return fmt.Errorf("trainer: checkpoint has %d agents, want %d", len(snap.Agents), len(t.live))
	}
	for i, agent := range t.live {
		if err := agent.SetParameters(snap.Agents[i].Clone()); err != nil {
			return fmt.Errorf("trainer: restore agent %d: %w", i, err)
		}
	}
	t.state.update(func(s *StateSnapshot) { s.GlobalStep = snap.Step })
	log.Infof("Restored live agents from checkpoint at step %d", snap.Step)
	return nil
}

// Run drives the loop until num_train_steps global steps have completed, the
// context is cancelled, or a fatal error occurs. Environment step failures
// and checkpoint write failures abort the run.
func (t *Trainer) Run(ctx context.Context, progress func(Progress)) error {
	defer t.evalWG.Wait()
	if t.metrics != nil {
		flushed := make(chan struct{})
		go func() {
			t.writer.SaveMetrics(t.metrics)
			close(flushed)
		}()
		defer func() { <-flushed }()
		defer close(t.metrics)
	}

	obs, err := t.trainEnv.Reset()
	if err != nil {
		return fmt.Errorf("initial reset: %w", err)
	}

	var episodeReturn float64
	var lastLosses policy.Losses
	start := time.Now()

	for step := t.state.Snapshot().GlobalStep + 1; step <= t.cfg.NumTrainSteps; step++ {
		select {
		case <-ctx.Done():
			log.Noticef("Training cancelled at step %d", step)
			return ctx.Err()
		default:
		}

		epsilon := ExplorationEpsilon(step, t.cfg.NumExplorationSteps, t.cfg.MinEps)

		actions := make([][]float64, t.spec.NumSlots)
		colObs := make([][]float64, t.spec.NumSlots)
		colActions := make([][]float64, t.spec.NumSlots)
		for col := 0; col < t.spec.NumSlots; col++ {
			slot := t.columnToSlot(col)
			agent, eps := t.controller(col, epsilon)
			action := agent.Act(t.actRNG, obs[slot], eps)
			actions[slot] = action
			colObs[col] = obs[slot]
			colActions[col] = action
		}

		res, err := t.trainEnv.Step(actions)
		if err != nil {
			return fmt.Errorf("environment step %d: %w", step, err)
		}

		colNext := make([][]float64, t.spec.NumSlots)
		colRewards := make([]float64, t.spec.NumSlots)
		for col := 0; col < t.spec.NumSlots; col++ {
			slot := t.columnToSlot(col)
			colNext[col] = res.Obs[slot]
			colRewards[col] = res.Rewards[slot]
		}
		t.buffer.Push(replay.Transition{
			Obs:     colObs,
			Actions: colActions,
			Rewards: colRewards,
			NextObs: colNext,
			Done:    res.Done,
		})
		for col := 0; col < len(t.live); col++ {
			episodeReturn += colRewards[col]
		}
		obs = res.Obs

		episodeDone := res.Done
		if episodeDone {
			if obs, err = t.trainEnv.Reset(); err != nil {
				return fmt.Errorf("episode reset at step %d: %w", step, err)
			}
		}

		if step >= t.cfg.StartTrainingSteps {
			losses, updated, err := t.updateAgents(step)
			if err != nil {
				return err
			}
			if updated {
				lastLosses = losses
			}
		}

		outcome := t.scheduler.Advance(step, t.liveParams())
		if outcome.Swapped || outcome.TeamChanged {
			if err := t.applyAssignment(); err != nil {
				return err
			}
		}

		if t.cfg.SaveFrequency > 0 && step%t.cfg.SaveFrequency == 0 {
			if err := t.window.Persist(step, t.liveParams()); err != nil {
				return fmt.Errorf("checkpoint at step %d: %w", step, err)
			}
		}

		assignment := t.scheduler.Assignment()
		t.state.update(func(s *StateSnapshot) {
			s.GlobalStep = step
			s.Epsilon = epsilon
			s.BufferLen = t.buffer.Len()
			s.WindowLen = t.window.Len()
			s.Era = assignment.Era
			s.LiveTeam = assignment.LiveTeam.String()
			if episodeDone {
				s.Episodes++
				s.LastEpisodeReturn = episodeReturn
			}
		})
		if episodeDone {
			episodeReturn = 0
		}

		if t.cfg.EvalFrequency > 0 && step%t.cfg.EvalFrequency == 0 {
			t.startEvaluation(step)
		}

		if step%t.cfg.LogFrequencyStep == 0 {
			snap := t.state.Snapshot()
			log.Infof("Step %d/%d eps %.4f episodes %d return %.4f buffer %d window %d era %d",
				step, t.cfg.NumTrainSteps, epsilon, snap.Episodes,
				snap.LastEpisodeReturn, snap.BufferLen, snap.WindowLen, snap.Era)
			if t.metrics != nil {
				t.metrics <- record.Metric{
					Step:          step,
					Episode:       snap.Episodes,
					Epsilon:       epsilon,
					ActorLoss:     lastLosses.Actor,
					CriticLoss:    lastLosses.Critic,
					EpisodeReturn: snap.LastEpisodeReturn,
					BufferLen:     snap.BufferLen,
					WindowLen:     snap.WindowLen,
					Era:           snap.Era,
				}
			}
			if progress != nil {
				progress(Progress{
					Step:          step,
					NumTrainSteps: t.cfg.NumTrainSteps,
					Episodes:      snap.Episodes,
					Epsilon:       epsilon,
					EpisodeReturn: snap.LastEpisodeReturn,
					ActorLoss:     lastLosses.Actor,
					CriticLoss:    lastLosses.Critic,
				})
			}
		}
	}

	if t.cfg.SaveFrequency > 0 {
		if err := t.window.Persist(t.cfg.NumTrainSteps, t.liveParams()); err != nil {
			return fmt.Errorf("final checkpoint: %w", err)
		}
	}
	log.Infof("Finished %d steps in %v", t.cfg.NumTrainSteps, time.Since(start))
	return nil
}

// updateAgents samples one batch and performs one optimizer update per live
// agent, plus the Polyak target sync at its own cadence. An underfull buffer
// skips the update; any other failure is fatal so a half-applied step never
// goes unnoticed.
func (t *Trainer) updateAgents(step int) (policy.Losses, bool, error) {
	batch, err := t.buffer.Sample(t.cfg.BatchSize)
	if err != nil {
		if errors.Is(err, replay.ErrInsufficientData) {
			log.Debugf("Step %d: buffer holds %d of %d required transitions, skipping update",
				step, t.buffer.Len(), t.cfg.BatchSize)
			return policy.Losses{}, false, nil
		}
		return policy.Losses{}, false, err
	}

	var sum policy.Losses
	for i, agent := range t.live {
		losses, err := agent.Learn(batch)
		if err != nil {
			return policy.Losses{}, false, fmt.Errorf("update agent %d at step %d: %w", i, step, err)
		}
		sum.Actor += losses.Actor
		sum.Critic += losses.Critic
	}
	n := float64(len(t.live))
	sum.Actor /= n
	sum.Critic /= n

	if step%t.cfg.CriticTargetUpdateFrequency == 0 {
		for _, agent := range t.live {
			agent.SyncTarget(t.cfg.CriticTau)
		}
	}
	return sum, true, nil
}

// controller returns the agent driving a replay column and its exploration
// epsilon. Opponents and scripted players always act greedily.
func (t *Trainer) controller(col int, epsilon float64) (policy.Agent, float64) {
	if col < len(t.live) {
		return t.live[col], epsilon
	}
	return t.activeOpp[col-len(t.live)], 0
}

// columnToSlot maps a replay column to the environment slot its controller
// currently occupies. Live agents fill the live team's slots in order.
func (t *Trainer) columnToSlot(col int) int {
	n := len(t.live)
	liveFirst := t.scheduler.Assignment().LiveTeam == env.Blue
	if col < n {
		if liveFirst {
			return col
		}
		return n + col
	}
	if liveFirst {
		return col
	}
	return col - n
}

// applyAssignment loads the scheduler's current opponent into the opponent
// agents (or swaps in the scripted baseline).
func (t *Trainer) applyAssignment() error {
	op := t.scheduler.Assignment().Opponent
	if op.Scripted {
		t.activeOpp = t.scripted
		return nil
	}
	t.activeOpp = t.opponents
	agents := op.Agents
	if len(agents) == 0 {
		// initial mirror era: opponents replay the live agents' weights
		agents = t.liveParams()
	}
	if len(agents) != len(t.opponents) {
		return fmt.Errorf("trainer: opponent has %d agents, want %d", len(agents), len(t.opponents))
	}
	for j, agent := range t.opponents {
		if err := agent.SetParameters(agents[j].Clone()); err != nil {
			return fmt.Errorf("trainer: load opponent %d: %w", j, err)
		}
	}
	return nil
}

func (t *Trainer) liveParams() []policy.Parameters {
	params := make([]policy.Parameters, len(t.live))
	for i, agent := range t.live {
		params[i] = agent.Parameters()
	}
	return params
}

// startEvaluation launches one evaluation pass on frozen parameter copies.
// If the previous pass is still running this one is skipped rather than
// queued behind it.
func (t *Trainer) startEvaluation(step int) {
	if !t.evalMu.TryLock() {
		log.Warningf("Skipping evaluation at step %d: previous pass still running", step)
		return
	}

	agents := make([]policy.Agent, t.spec.NumSlots)
	for col := 0; col < t.spec.NumSlots; col++ {
		slot := t.columnToSlot(col)
		frozen, err := t.freezeController(col)
		if err != nil {
			log.Warningf("Skipping evaluation at step %d: %v", step, err)
			t.evalMu.Unlock()
			return
		}
		agents[slot] = frozen
	}
	assignment := t.scheduler.Assignment()

	t.evalWG.Add(1)
	go func() {
		defer t.evalWG.Done()
		defer t.evalMu.Unlock()
		evaluator := &eval.Evaluator{
			Env:      t.evalEnv,
			Agents:   agents,
			Epsilon:  t.cfg.EvalEps,
			MaxSteps: t.cfg.NumEvalSteps,
			LiveTeam: assignment.LiveTeam,
			RNG:      rand.New(rand.NewSource(t.evalSeed ^ int64(step))),
		}
		report, ok := evaluator.Run(step)
		if !ok {
			return
		}
		t.state.update(func(s *StateSnapshot) { s.Evaluations++ })
		t.lastEvalMu.Lock()
		t.lastEval = report
		t.hasEval = true
		t.lastEvalMu.Unlock()
		if _, err := t.writer.WriteReport("eval", report); err != nil {
			log.Errorf("Could not write evaluation report for step %d: %v", step, err)
		}
	}()
}

// freezeController clones the agent behind a column with a snapshot of its
// current weights, so evaluation reads no live state.
func (t *Trainer) freezeController(col int) (policy.Agent, error) {
	src, _ := t.controller(col, 0)
	cfg := t.cfg
	if col >= len(t.live) && t.scheduler.Assignment().Opponent.Scripted {
		cfg.Agent = "random"
	}
	clone, err := policy.New(cfg, t.spec, col)
	if err != nil {
		return nil, err
	}
	if err := clone.SetParameters(src.Parameters()); err != nil {
		return nil, err
	}
	return clone, nil
}
