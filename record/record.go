// Package record persists run artifacts: a metrics stream consumed from a
// channel and one-off JSON reports with unique filenames.
package record

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/op/go-logging"
	uuid "github.com/satori/go.uuid"
)

var log = logging.MustGetLogger("record")

// Metric is one row of the training metrics stream.
type Metric struct {
	Step          int     `json:"step"`
	Episode       int     `json:"episode"`
	Epsilon       float64 `json:"epsilon"`
	ActorLoss     float64 `json:"actor_loss"`
	CriticLoss    float64 `json:"critic_loss"`
	EpisodeReturn float64 `json:"episode_return"`
	BufferLen     int     `json:"buffer_len"`
	WindowLen     int     `json:"window_len"`
	Era           int     `json:"era"`
}

// Writer owns one run directory.
type Writer struct {
	dir string
}

// NewWriter creates the run directory if needed.
func NewWriter(dir string) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create run dir %s: %w", dir, err)
	}
	return &Writer{dir: dir}, nil
}

// Dir returns the run directory.
func (w *Writer) Dir() string { return w.dir }

// SaveMetrics drains the channel into metrics.jsonl, one JSON object per
// line, until the channel closes. Run it as a goroutine; writes that fail are
// logged and dropped rather than stalling training.
func (w *Writer) SaveMetrics(metrics <-chan Metric) {
	path := filepath.Join(w.dir, "metrics.jsonl")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		log.Errorf("Could not open metrics file %s: %v", path, err)
		for range metrics {
		}
		return
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	for m := range metrics {
		if err := enc.Encode(m); err != nil {
			log.Errorf("Could not write metric for step %d: %v", m.Step, err)
		}
	}
	log.Infof("Metrics stream closed, flushed to %s", path)
}

// WriteReport stores a one-off JSON document (e.g. an evaluation report)
// under a fresh random filename and returns its path.
func (w *Writer) WriteReport(kind string, v interface{}) (string, error) {
	path := filepath.Join(w.dir, fmt.Sprintf("%s_%s.json", kind, uuid.Must(uuid.NewV4())))
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create report %s: %w", path, err)
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("encode report %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close report %s: %w", path, err)
	}
	return path, nil
}

// WriteConfig drops the resolved run configuration next to the artifacts so
// a run directory is self-describing.
func (w *Writer) WriteConfig(cfg interface{}) error {
	path := filepath.Join(w.dir, "config.json")
	raw, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return os.WriteFile(path, raw, 0o644)
}
