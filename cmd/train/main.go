// Command train runs the full self-play training loop described by a config
// file, with environment variable overrides on top.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/DariaXu/unity-soccorTwos/checkpoint"
	"github.com/DariaXu/unity-soccorTwos/config"
	"github.com/DariaXu/unity-soccorTwos/monitor"
	"github.com/DariaXu/unity-soccorTwos/trainer"
	"github.com/muesli/termenv"
	"github.com/op/go-logging"
	"github.com/pkg/profile"
)

var log = logging.MustGetLogger("train")

func main() {
	configPath := flag.String("config", "", "path to a JSON config file; defaults apply when empty")
	resumePath := flag.String("resume", "", "checkpoint file to resume from")
	quiet := flag.Bool("quiet", false, "disable the terminal progress line")
	flag.Parse()

	// prepare logging
	logFormat := logging.MustStringFormatter(`%{color}%{time:15:04:05.000000} %{module} %{shortfunc}() ▶ %{color:reset}%{message}`)
	formattedBackend := logging.NewBackendFormatter(logging.NewLogBackend(os.Stderr, "", 0), logFormat)
	logging.SetBackend(formattedBackend)
	logging.SetLevel(logging.INFO, "")

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Could not load the run configuration: %v", err)
	}

	tr, err := trainer.New(cfg)
	if err != nil {
		log.Fatalf("Could not assemble the trainer: %v", err)
	}

	if cfg.Profile {
		defer profile.Start(profile.CPUProfile, profile.ProfilePath(tr.RunDir())).Stop()
	}

	if *resumePath != "" {
		snap, err := checkpoint.ReadFile(*resumePath)
		if err != nil {
			log.Fatalf("Could not read checkpoint %s: %v", *resumePath, err)
		}
		if err := tr.Restore(snap); err != nil {
			log.Fatalf("Could not resume from %s: %v", *resumePath, err)
		}
	}

	if cfg.MonitorAddr != "" {
		srv := monitor.New(cfg.MonitorAddr, tr)
		srv.Start()
		defer srv.Shutdown(context.Background())
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var progressFn func(trainer.Progress)
	if !*quiet {
		output := termenv.NewOutput(os.Stdout)
		progressFn = func(p trainer.Progress) {
			line := fmt.Sprintf("step %d/%d  eps %.3f  episodes %d  return %.3f",
				p.Step, p.NumTrainSteps, p.Epsilon, p.Episodes, p.EpisodeReturn)
			output.ClearLine()
			output.WriteString("\r" + output.String(line).Foreground(output.Color("6")).String())
		}
		defer output.WriteString("\n")
	}

	if err := tr.Run(ctx, progressFn); err != nil {
		if ctx.Err() != nil {
			log.Noticef("Training interrupted, artifacts kept in %s", tr.RunDir())
			return
		}
		log.Fatalf("Training failed: %v", err)
	}
	log.Infof("Training finished, artifacts in %s", tr.RunDir())
}
