// Command evaluate plays evaluation episodes for a persisted checkpoint and
// writes the resulting report, without touching any training state.
package main

import (
	"encoding/json"
	"flag"
	"math/rand"
	"os"

	"github.com/DariaXu/unity-soccorTwos/checkpoint"
	"github.com/DariaXu/unity-soccorTwos/config"
	"github.com/DariaXu/unity-soccorTwos/env"
	"github.com/DariaXu/unity-soccorTwos/eval"
	"github.com/DariaXu/unity-soccorTwos/policy"
	"github.com/DariaXu/unity-soccorTwos/record"
	"github.com/op/go-logging"
)

var log = logging.MustGetLogger("evaluate")

func main() {
	configPath := flag.String("config", "", "path to a JSON config file; defaults apply when empty")
	checkpointPath := flag.String("checkpoint", "", "checkpoint file to evaluate (required)")
	opponent := flag.String("opponent", "mirror", `opponent policy: "mirror" or "random"`)
	episodes := flag.Int("episodes", eval.DefaultEpisodeBudget, "episode budget for the pass")
	outDir := flag.String("out", "", "directory for the report; stdout only when empty")
	flag.Parse()

	logFormat := logging.MustStringFormatter(`%{color}%{time:15:04:05.000000} %{module} %{shortfunc}() ▶ %{color:reset}%{message}`)
	formattedBackend := logging.NewBackendFormatter(logging.NewLogBackend(os.Stderr, "", 0), logFormat)
	logging.SetBackend(formattedBackend)
	logging.SetLevel(logging.INFO, "")

	if *checkpointPath == "" {
		log.Fatalf("The -checkpoint flag is required")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Could not load the run configuration: %v", err)
	}

	snap, err := checkpoint.ReadFile(*checkpointPath)
	if err != nil {
		log.Fatalf("Could not read checkpoint %s: %v", *checkpointPath, err)
	}
	if len(snap.Agents) != cfg.NumAgents {
		log.Fatalf("Checkpoint holds %d agents but the config expects %d", len(snap.Agents), cfg.NumAgents)
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	e, err := env.New(cfg, rand.New(rand.NewSource(rng.Int63())))
	if err != nil {
		log.Fatalf("Could not build the environment: %v", err)
	}
	spec := policy.EnvSpec{NumSlots: e.NumSlots(), ObsSize: e.ObsSize(), ActionSize: e.ActionSize()}

	agents, err := buildAgents(cfg, spec, snap, *opponent)
	if err != nil {
		log.Fatalf("Could not build the agents: %v", err)
	}

	evaluator := &eval.Evaluator{
		Env:           e,
		Agents:        agents,
		Epsilon:       cfg.EvalEps,
		MaxSteps:      cfg.NumEvalSteps,
		EpisodeBudget: *episodes,
		LiveTeam:      env.Blue,
		RNG:           rng,
	}
	report, ok := evaluator.Run(snap.Step)
	if !ok {
		log.Fatalf("Evaluation pass could not start")
	}

	if *outDir != "" {
		writer, err := record.NewWriter(*outDir)
		if err != nil {
			log.Fatalf("Could not open output directory %s: %v", *outDir, err)
		}
		path, err := writer.WriteReport("eval", report)
		if err != nil {
			log.Fatalf("Could not write the report: %v", err)
		}
		log.Infof("Report written to %s", path)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		log.Fatalf("Could not print the report: %v", err)
	}
}

// buildAgents loads the checkpoint into the blue slots and fills purple with
// the requested opponent: a frozen copy of the same checkpoint or the random
// baseline.
func buildAgents(cfg config.Config, spec policy.EnvSpec, snap checkpoint.Snapshot, opponent string) ([]policy.Agent, error) {
	n := cfg.NumAgents
	agents := make([]policy.Agent, spec.NumSlots)
	for i := 0; i < n; i++ {
		agent, err := policy.New(cfg, spec, i)
		if err != nil {
			return nil, err
		}
		if err := agent.SetParameters(snap.Agents[i].Clone()); err != nil {
			return nil, err
		}
		agents[i] = agent
	}

	oppCfg := cfg
	switch opponent {
	case "mirror":
	case "random":
		oppCfg.Agent = "random"
	default:
		log.Fatalf("Unknown opponent policy %q", opponent)
	}
	for j := 0; j < n; j++ {
		agent, err := policy.New(oppCfg, spec, n+j)
		if err != nil {
			return nil, err
		}
		if opponent == "mirror" {
			if err := agent.SetParameters(snap.Agents[j].Clone()); err != nil {
				return nil, err
			}
		}
		agents[n+j] = agent
	}
	return agents, nil
}
