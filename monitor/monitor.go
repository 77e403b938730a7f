// Package monitor serves a small read-only HTTP view of a running training
// job: its live counters and the most recent evaluation report.
package monitor

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/DariaXu/unity-soccorTwos/eval"
	"github.com/DariaXu/unity-soccorTwos/trainer"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/op/go-logging"
)

var log = logging.MustGetLogger("monitor")

// Run is what the monitor needs from the training job. *trainer.Trainer
// satisfies it.
type Run interface {
	State() *trainer.TrainingState
	LastEvalReport() (eval.Report, bool)
	RunDir() string
}

// Server exposes the run state over HTTP. It never mutates the run.
type Server struct {
	run  Run
	http *http.Server
}

// New builds a server listening on addr, e.g. ":8090".
func New(addr string, run Run) *Server {
	s := &Server{run: run}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Get("/healthz", s.handleHealth)
	r.Get("/state", s.handleState)
	r.Get("/eval", s.handleEval)

	s.http = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Start serves in the background. Listen failures are logged, not fatal: a
// run without its monitor is still a valid run.
func (s *Server) Start() {
	go func() {
		log.Infof("Monitor listening on %s", s.http.Addr)
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("Monitor server stopped: %v", err)
		}
	}()
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// Handler returns the routed handler, used by tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	snap := s.run.State().Snapshot()
	writeJSON(w, http.StatusOK, struct {
		trainer.StateSnapshot
		RunDir string `json:"run_dir"`
	}{snap, s.run.RunDir()})
}

func (s *Server) handleEval(w http.ResponseWriter, _ *http.Request) {
	report, ok := s.run.LastEvalReport()
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no evaluation has completed yet"})
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Errorf("Could not encode response: %v", err)
	}
}
