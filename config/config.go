// Package config holds the declarative surface of a training run. A run is
// fully described by one Config value; nothing reads options from globals.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/op/go-logging"
)

var log = logging.MustGetLogger("config")

// EnvPrefix is prepended to field names for environment overrides,
// e.g. SOCCER_NUM_TRAIN_STEPS=500000.
const EnvPrefix = "SOCCER_"

type Config struct {
	// Collaborator selectors, resolved against the env and policy registries.
	Env    string `json:"env"`
	Agent  string `json:"agent"`
	Critic string `json:"critic"`

	NumAgents int `json:"num_agents"`

	// Loop duration and exploration anneal.
	NumTrainSteps       int     `json:"num_train_steps"`
	StartTrainingSteps  int     `json:"start_training_steps"`
	NumExplorationSteps int     `json:"num_exploration_steps"`
	MinEps              float64 `json:"min_eps"`

	// Replay sizing and sampling.
	ReplayBufferCapacity int `json:"replay_buffer_capacity"`
	BatchSize            int `json:"batch_size"`

	// Optimizer hyperparameters, passed through to the agent implementation.
	LR          float64 `json:"lr"`
	ActorLR     float64 `json:"actor_lr"`
	CriticLR    float64 `json:"critic_lr"`
	Beta1       float64 `json:"beta_1"`
	Beta2       float64 `json:"beta_2"`
	WeightDecay float64 `json:"weight_decay"`
	AdamEps     float64 `json:"adam_eps"`
	MaxGradNorm float64 `json:"max_grad_norm"`

	// Critic update semantics.
	CriticTau                   float64 `json:"critic_tau"`
	CriticTargetUpdateFrequency int     `json:"critic_target_update_frequency"`
	Gamma                       float64 `json:"gamma"`

	// Self-play scheduling. SaveStep freezes the live agent into the opponent
	// window; SaveFrequency persists a recovery checkpoint to disk.
	SelfPlay              bool    `json:"self_play"`
	SaveStep              int     `json:"save_step"`
	NumWindows            int     `json:"num_windows"`
	SwapStep              int     `json:"swap_step"`
	TeamChange            int     `json:"team_change"`
	ProbSelectLatestModel float64 `json:"prob_select_latest_model"`
	SaveFrequency         int     `json:"save_frequency"`

	// Evaluation cadence and policy.
	EvalFrequency int     `json:"eval_frequency"`
	NumEvalSteps  int     `json:"num_eval_steps"`
	EvalEps       float64 `json:"eval_eps"`

	// Logging.
	LogFrequencyStep int  `json:"log_frequency_step"`
	LogSaveTB        bool `json:"log_save_tb"`

	// Execution target and determinism.
	Device string `json:"device"`
	Seed   int64  `json:"seed"`

	// Experiment artifact layout.
	ExpPrefix      string `json:"exp_prefix"`
	ExperimentName string `json:"experiment_name"`
	WorkDir        string `json:"work_dir"`

	// SavedModel settings for the "tf" agent variant.
	ModelPath        string `json:"model_path,omitempty"`
	PredictBatchSize int    `json:"predict_batch_size,omitempty"`

	// Operational toggles.
	MonitorAddr string `json:"monitor_addr,omitempty"`
	Profile     bool   `json:"profile,omitempty"`
}

// Default returns a configuration suitable for a local gridsoccer run.
func Default() Config {
	return Config{
		Env:       "gridsoccer",
		Agent:     "linear",
		Critic:    "linear",
		NumAgents: 2,

		NumTrainSteps:       1000000,
		StartTrainingSteps:  10000,
		NumExplorationSteps: 100000,
		MinEps:              0.05,

		ReplayBufferCapacity: 1000000,
		BatchSize:            256,

		LR:          1e-3,
		ActorLR:     1e-4,
		CriticLR:    1e-3,
		Beta1:       0.9,
		Beta2:       0.999,
		WeightDecay: 0.0,
		AdamEps:     1e-8,
		MaxGradNorm: 10.0,

		CriticTau:                   0.005,
		CriticTargetUpdateFrequency: 2,
		Gamma:                       0.99,

		SelfPlay:              true,
		SaveStep:              50000,
		NumWindows:            10,
		SwapStep:              100000,
		TeamChange:            200000,
		ProbSelectLatestModel: 0.5,
		SaveFrequency:         100000,

		EvalFrequency: 50000,
		NumEvalSteps:  1000,
		EvalEps:       0.0,

		LogFrequencyStep: 1000,
		LogSaveTB:        false,

		Device: "cpu",
		Seed:   1,

		ExpPrefix:      "exp",
		ExperimentName: "soccer",
		WorkDir:        "runs",

		PredictBatchSize: 16,
	}
}

// Load reads a JSON config file, then applies .env and environment overrides
// on top of it. An empty path yields the defaults with overrides applied.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := godotenv.Load(); err != nil {
		log.Debugf("No .env file loaded: %v", err)
	}
	cfg.applyEnv()
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv() {
	envString(&c.Env, "ENV")
	envString(&c.Agent, "AGENT")
	envString(&c.Critic, "CRITIC")
	envInt(&c.NumAgents, "NUM_AGENTS")
	envInt(&c.NumTrainSteps, "NUM_TRAIN_STEPS")
	envInt(&c.StartTrainingSteps, "START_TRAINING_STEPS")
	envInt(&c.NumExplorationSteps, "NUM_EXPLORATION_STEPS")
	envFloat(&c.MinEps, "MIN_EPS")
	envInt(&c.ReplayBufferCapacity, "REPLAY_BUFFER_CAPACITY")
	envInt(&c.BatchSize, "BATCH_SIZE")
	envBool(&c.SelfPlay, "SELF_PLAY")
	envInt(&c.SaveStep, "SAVE_STEP")
	envInt(&c.NumWindows, "NUM_WINDOWS")
	envInt(&c.SwapStep, "SWAP_STEP")
	envInt(&c.TeamChange, "TEAM_CHANGE")
	envFloat(&c.ProbSelectLatestModel, "PROB_SELECT_LATEST_MODEL")
	envInt(&c.SaveFrequency, "SAVE_FREQUENCY")
	envInt(&c.EvalFrequency, "EVAL_FREQUENCY")
	envInt(&c.NumEvalSteps, "NUM_EVAL_STEPS")
	envFloat(&c.EvalEps, "EVAL_EPS")
	envInt(&c.LogFrequencyStep, "LOG_FREQUENCY_STEP")
	envBool(&c.LogSaveTB, "LOG_SAVE_TB")
	envString(&c.Device, "DEVICE")
	envInt64(&c.Seed, "SEED")
	envString(&c.ExpPrefix, "EXP_PREFIX")
	envString(&c.ExperimentName, "EXPERIMENT_NAME")
	envString(&c.WorkDir, "WORK_DIR")
	envString(&c.ModelPath, "MODEL_PATH")
	envInt(&c.PredictBatchSize, "PREDICT_BATCH_SIZE")
	envString(&c.MonitorAddr, "MONITOR_ADDR")
	envBool(&c.Profile, "PROFILE")
}

// Validate ensures the run parameters are safe to use.
func (c Config) Validate() error {
	if c.Env == "" {
		return errors.New("env selector must not be empty")
	}
	if c.Agent == "" {
		return errors.New("agent selector must not be empty")
	}
	if c.NumAgents <= 0 {
		return errors.New("num_agents must be > 0")
	}
	if c.NumTrainSteps <= 0 {
		return errors.New("num_train_steps must be > 0")
	}
	if c.StartTrainingSteps < 0 {
		return errors.New("start_training_steps cannot be negative")
	}
	if c.NumExplorationSteps <= 0 {
		return errors.New("num_exploration_steps must be > 0")
	}
	if c.MinEps < 0 || c.MinEps > 1 {
		return errors.New("min_eps must be in [0, 1]")
	}
	if c.ReplayBufferCapacity <= 0 {
		return errors.New("replay_buffer_capacity must be > 0")
	}
	if c.BatchSize <= 0 {
		return errors.New("batch_size must be > 0")
	}
	if c.BatchSize > c.ReplayBufferCapacity {
		return errors.New("batch_size cannot exceed replay_buffer_capacity")
	}
	if c.Gamma < 0 || c.Gamma > 1 {
		return errors.New("gamma must be in [0, 1]")
	}
	if c.CriticTau <= 0 || c.CriticTau > 1 {
		return errors.New("critic_tau must be in (0, 1]")
	}
	if c.CriticTargetUpdateFrequency <= 0 {
		return errors.New("critic_target_update_frequency must be > 0")
	}
	if c.MaxGradNorm <= 0 {
		return errors.New("max_grad_norm must be > 0")
	}
	if c.SelfPlay {
		if c.SaveStep <= 0 {
			return errors.New("save_step must be > 0 when self_play is enabled")
		}
		if c.SwapStep <= 0 {
			return errors.New("swap_step must be > 0 when self_play is enabled")
		}
		if c.TeamChange <= 0 {
			return errors.New("team_change must be > 0 when self_play is enabled")
		}
		if c.NumWindows < 0 {
			return errors.New("num_windows cannot be negative")
		}
		if c.ProbSelectLatestModel < 0 || c.ProbSelectLatestModel > 1 {
			return errors.New("prob_select_latest_model must be in [0, 1]")
		}
	}
	if c.SaveFrequency < 0 {
		return errors.New("save_frequency cannot be negative")
	}
	if c.EvalFrequency < 0 {
		return errors.New("eval_frequency cannot be negative")
	}
	if c.EvalFrequency > 0 && c.NumEvalSteps <= 0 {
		return errors.New("num_eval_steps must be > 0 when evaluation is enabled")
	}
	if c.EvalEps < 0 || c.EvalEps > 1 {
		return errors.New("eval_eps must be in [0, 1]")
	}
	if c.LogFrequencyStep <= 0 {
		return errors.New("log_frequency_step must be > 0")
	}
	return nil
}

// ExperimentDir returns the artifact directory for a run started at the given
// time, relative to WorkDir.
func (c Config) ExperimentDir(start time.Time) string {
	return fmt.Sprintf("%s/%s_%s_%s",
		c.WorkDir, c.ExpPrefix, c.ExperimentName, start.Format("2006-01-02_15-04-05"))
}

func envString(dst *string, name string) {
	if v, ok := os.LookupEnv(EnvPrefix + name); ok {
		*dst = v
	}
}

func envInt(dst *int, name string) {
	if v, ok := os.LookupEnv(EnvPrefix + name); ok {
		parsed, err := strconv.Atoi(v)
		if err != nil {
			log.Warningf("Ignoring %s%s=%q: %v", EnvPrefix, name, v, err)
			return
		}
		*dst = parsed
	}
}

func envInt64(dst *int64, name string) {
	if v, ok := os.LookupEnv(EnvPrefix + name); ok {
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			log.Warningf("Ignoring %s%s=%q: %v", EnvPrefix, name, v, err)
			return
		}
		*dst = parsed
	}
}

func envFloat(dst *float64, name string) {
	if v, ok := os.LookupEnv(EnvPrefix + name); ok {
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil {
			log.Warningf("Ignoring %s%s=%q: %v", EnvPrefix, name, v, err)
			return
		}
		*dst = parsed
	}
}

func envBool(dst *bool, name string) {
	if v, ok := os.LookupEnv(EnvPrefix + name); ok {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			log.Warningf("Ignoring %s%s=%q: %v", EnvPrefix, name, v, err)
			return
		}
		*dst = parsed
	}
}
