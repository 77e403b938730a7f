// Package checkpoint keeps the bounded history of frozen agent parameters
// that self-play draws opponents from, and persists recovery checkpoints to
// disk.
package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/DariaXu/unity-soccorTwos/policy"
	"github.com/op/go-logging"
)

var log = logging.MustGetLogger("checkpoint")

// ErrNoSnapshot is returned when a snapshot is requested from an empty window.
var ErrNoSnapshot = errors.New("checkpoint: no snapshot in window")

const fileVersion = 1

// Snapshot is an immutable copy of all live agents' parameters at one
// training step.
type Snapshot struct {
	Version int                 `json:"version"`
	Step    int                 `json:"step"`
	SavedAt time.Time           `json:"saved_at"`
	Agents  []policy.Parameters `json:"agents"`
}

func (s Snapshot) clone() Snapshot {
	out := s
	out.Agents = make([]policy.Parameters, len(s.Agents))
	for i, p := range s.Agents {
		out.Agents[i] = p.Clone()
	}
	return out
}

// Manager owns the snapshot window. The window is FIFO-bounded: the oldest
// snapshot is evicted once window+1 snapshots have been saved. All access is
// serialized; locks are released on every exit path.
type Manager struct {
	mu     sync.Mutex
	window int
	dir    string
	snaps  []Snapshot
}

// NewManager creates a manager with the given window bound. dir is where
// Persist writes checkpoint files; it is created lazily.
func NewManager(dir string, window int) *Manager {
	if window < 0 {
		window = 0
	}
	return &Manager{window: window, dir: dir}
}

// Save stores a snapshot in the window, evicting the oldest if full. With a
// zero window the snapshot is dropped immediately.
func (m *Manager) Save(step int, agents []policy.Parameters) {
	snap := Snapshot{Version: fileVersion, Step: step, SavedAt: time.Now().UTC()}
	snap.Agents = make([]policy.Parameters, len(agents))
	for i, p := range agents {
		snap.Agents[i] = p.Clone()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.window == 0 {
		log.Debugf("Window size 0, dropping snapshot at step %d", step)
		return
	}
	m.snaps = append(m.snaps, snap)
	if len(m.snaps) > m.window {
		evicted := m.snaps[0]
		m.snaps = append(m.snaps[:0], m.snaps[1:]...)
		log.Debugf("Evicted snapshot from step %d, window now %d", evicted.Step, len(m.snaps))
	}
}

// Len reports how many snapshots the window currently holds.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.snaps)
}

// Steps lists the retained snapshot steps, oldest first.
func (m *Manager) Steps() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	steps := make([]int, len(m.snaps))
	for i, s := range m.snaps {
		steps[i] = s.Step
	}
	return steps
}

// Latest returns the most recent snapshot.
func (m *Manager) Latest() (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.snaps) == 0 {
		return Snapshot{}, ErrNoSnapshot
	}
	return m.snaps[len(m.snaps)-1].clone(), nil
}

// AtStep returns the snapshot saved at exactly the given step.
func (m *Manager) AtStep(step int) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.snaps {
		if s.Step == step {
			return s.clone(), nil
		}
	}
	return Snapshot{}, fmt.Errorf("%w: step %d not retained", ErrNoSnapshot, step)
}

// Random returns a snapshot drawn uniformly from the window using the
// injected random source.
func (m *Manager) Random(rng *rand.Rand) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.snaps) == 0 {
		return Snapshot{}, ErrNoSnapshot
	}
	return m.snaps[rng.Intn(len(m.snaps))].clone(), nil
}

// Persist writes a checkpoint file for the given step. The write is atomic:
// a temp file in the target directory renamed into place, so a crash never
// leaves a partial checkpoint behind.
func (m *Manager) Persist(step int, agents []policy.Parameters) error {
	snap := Snapshot{Version: fileVersion, Step: step, SavedAt: time.Now().UTC(), Agents: agents}
	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return fmt.Errorf("create checkpoint dir: %w", err)
	}
	path := m.FilePath(step)

	tmp, err := os.CreateTemp(m.dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create checkpoint temp: %w", err)
	}
	enc := json.NewEncoder(tmp)
	if err := enc.Encode(snap); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close checkpoint temp: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("persist checkpoint: %w", err)
	}
	log.Infof("Persisted checkpoint for step %d to %s", step, path)
	return nil
}

// FilePath returns where Persist writes the checkpoint for a step.
func (m *Manager) FilePath(step int) string {
	return filepath.Join(m.dir, FileName(step))
}

// FileName returns the file name Persist uses for a step's checkpoint.
func FileName(step int) string {
	return fmt.Sprintf("checkpoint_%012d.json", step)
}

// ReadFile restores a snapshot from a checkpoint file written by Persist.
func ReadFile(path string) (Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return Snapshot{}, err
	}
	defer f.Close()

	var snap Snapshot
	if err := json.NewDecoder(f).Decode(&snap); err != nil {
		return Snapshot{}, fmt.Errorf("decode checkpoint %s: %w", path, err)
	}
	if snap.Version != fileVersion {
		return Snapshot{}, fmt.Errorf("unsupported checkpoint version %d in %s", snap.Version, path)
	}
	return snap, nil
}
