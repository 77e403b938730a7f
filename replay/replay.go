// Package replay implements the fixed-capacity experience store that the
// training loop feeds and samples from. Single writer; sampling copies and
// never removes.
package replay

import (
	"errors"
	"math/rand"

	"github.com/op/go-logging"
)

var log = logging.MustGetLogger("replay")

// ErrInsufficientData is returned by Sample when fewer transitions are stored
// than the requested batch size.
var ErrInsufficientData = errors.New("replay: fewer stored transitions than batch size")

// Transition is one environment step for all agents. Once pushed it is owned
// by the buffer and never mutated.
type Transition struct {
	Obs     [][]float64
	Actions [][]float64
	Rewards []float64
	NextObs [][]float64
	Done    bool
}

// Batch is a sampled mini-batch laid out per agent, with the joint
// (concatenated) columns the centralized critic consumes.
type Batch struct {
	Obs     [][][]float64 // [agent][sample][feature]
	Actions [][][]float64
	Rewards [][]float64 // [agent][sample]
	NextObs [][][]float64

	JointObs     [][]float64 // [sample][numAgents*obsDim]
	JointActions [][]float64
	JointNextObs [][]float64
	NotDones     []float64
}

// Size returns the number of samples in the batch.
func (b Batch) Size() int {
	return len(b.NotDones)
}

// Buffer is a ring of transitions. The write index wraps at capacity and the
// oldest entry is overwritten once the ring is full.
type Buffer struct {
	capacity  int
	numAgents int
	entries   []Transition
	idx       int
	full      bool
	rng       *rand.Rand
}

// New constructs a buffer for numAgents agents. The random source drives
// sampling and is injected so tests can seed it.
func New(capacity, numAgents int, rng *rand.Rand) *Buffer {
	if capacity <= 0 {
		log.Panicf("Replay capacity must be positive, got %d", capacity)
	}
	if numAgents <= 0 {
		log.Panicf("Replay needs at least one agent, got %d", numAgents)
	}
	return &Buffer{
		capacity:  capacity,
		numAgents: numAgents,
		entries:   make([]Transition, capacity),
		rng:       rng,
	}
}

// Len reports how many transitions are currently stored.
func (b *Buffer) Len() int {
	if b.full {
		return b.capacity
	}
	return b.idx
}

// Capacity reports the fixed ring size.
func (b *Buffer) Capacity() int {
	return b.capacity
}

// Push appends a transition, overwriting the oldest entry once full. The
// transition is deep-copied so the caller may reuse its slices.
func (b *Buffer) Push(t Transition) {
	b.entries[b.idx] = copyTransition(t)
	b.idx = (b.idx + 1) % b.capacity
	b.full = b.full || b.idx == 0
}

// Sample draws batchSize transitions uniformly at random with replacement.
// No ordering is guaranteed.
func (b *Buffer) Sample(batchSize int) (Batch, error) {
	n := b.Len()
	if n < batchSize {
		return Batch{}, ErrInsufficientData
	}

	batch := Batch{
		Obs:          make([][][]float64, b.numAgents),
		Actions:      make([][][]float64, b.numAgents),
		Rewards:      make([][]float64, b.numAgents),
		NextObs:      make([][][]float64, b.numAgents),
		JointObs:     make([][]float64, 0, batchSize),
		JointActions: make([][]float64, 0, batchSize),
		JointNextObs: make([][]float64, 0, batchSize),
		NotDones:     make([]float64, 0, batchSize),
	}
	for i := 0; i < b.numAgents; i++ {
		batch.Obs[i] = make([][]float64, 0, batchSize)
		batch.Actions[i] = make([][]float64, 0, batchSize)
		batch.Rewards[i] = make([]float64, 0, batchSize)
		batch.NextObs[i] = make([][]float64, 0, batchSize)
	}

	for s := 0; s < batchSize; s++ {
		entry := b.entries[b.rng.Intn(n)]
		for i := 0; i < b.numAgents; i++ {
			batch.Obs[i] = append(batch.Obs[i], entry.Obs[i])
			batch.Actions[i] = append(batch.Actions[i], entry.Actions[i])
			batch.Rewards[i] = append(batch.Rewards[i], entry.Rewards[i])
			batch.NextObs[i] = append(batch.NextObs[i], entry.NextObs[i])
		}
		batch.JointObs = append(batch.JointObs, concat(entry.Obs))
		batch.JointActions = append(batch.JointActions, concat(entry.Actions))
		batch.JointNextObs = append(batch.JointNextObs, concat(entry.NextObs))
		notDone := 1.0
		if entry.Done {
			notDone = 0.0
		}
		batch.NotDones = append(batch.NotDones, notDone)
	}
	return batch, nil
}

func copyTransition(t Transition) Transition {
	return Transition{
		Obs:     copyMatrix(t.Obs),
		Actions: copyMatrix(t.Actions),
		Rewards: append([]float64(nil), t.Rewards...),
		NextObs: copyMatrix(t.NextObs),
		Done:    t.Done,
	}
}

func copyMatrix(m [][]float64) [][]float64 {
	out := make([][]float64, len(m))
	for i, row := range m {
		out[i] = append([]float64(nil), row...)
	}
	return out
}

func concat(rows [][]float64) []float64 {
	size := 0
	for _, row := range rows {
		size += len(row)
	}
	joint := make([]float64, 0, size)
	for _, row := range rows {
		joint = append(joint, row...)
	}
	return joint
}
