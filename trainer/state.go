package trainer

import "sync"

// StateSnapshot is a copyable view of the counters, safe to serialize.
type StateSnapshot struct {
	GlobalStep        int     `json:"global_step"`
	Episodes          int     `json:"episodes"`
	Evaluations       int     `json:"evaluations"`
	Epsilon           float64 `json:"epsilon"`
	LastEpisodeReturn float64 `json:"last_episode_return"`
	BufferLen         int     `json:"buffer_len"`
	WindowLen         int     `json:"window_len"`
	Era               int     `json:"era"`
	LiveTeam          string  `json:"live_team"`
}

// TrainingState holds the monotonic run counters. The training loop is the
// only writer; concurrent readers (monitor, evaluation goroutine) go through
// Snapshot.
type TrainingState struct {
	mu   sync.Mutex
	snap StateSnapshot
}

func (s *TrainingState) update(fn func(*StateSnapshot)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.snap)
}

// Snapshot returns a consistent copy of the counters.
func (s *TrainingState) Snapshot() StateSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap
}

// ExplorationEpsilon anneals linearly from 1.0 to minEps over annealSteps
// global steps, then stays at minEps. It is monotonically non-increasing in
// step and equals exactly minEps for step >= annealSteps.
func ExplorationEpsilon(step, annealSteps int, minEps float64) float64 {
	if step >= annealSteps {
		return minEps
	}
	return 1.0 - (1.0-minEps)*float64(step)/float64(annealSteps)
}
