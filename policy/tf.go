package policy

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/DariaXu/unity-soccorTwos/config"
	"github.com/DariaXu/unity-soccorTwos/replay"
	tf "github.com/tensorflow/tensorflow/tensorflow/go"
)

func init() {
	Register("tf", newTFAgent)
}

const (
	tfModelTag  = "serve"
	tfInputOp   = "observation_Input"
	tfActorOp   = "actor_head/Tanh"
	tfFlushWait = time.Millisecond
)

// tfRequest asks the prediction service for one action.
type tfRequest struct {
	obs    []float32
	result chan []float64
}

// tfService batches prediction requests against one SavedModel. Requests are
// flushed when a full batch accumulates or after a short timeout, so a single
// agent never stalls behind an incomplete batch.
type tfService struct {
	requests chan tfRequest
}

var (
	tfServicesMu sync.Mutex
	tfServices   = map[string]*tfService{}
)

func tfServiceFor(modelPath string, batchSize int) (*tfService, error) {
	tfServicesMu.Lock()
	defer tfServicesMu.Unlock()
	if svc, ok := tfServices[modelPath]; ok {
		return svc, nil
	}

	model, err := tf.LoadSavedModel(modelPath, []string{tfModelTag}, nil)
	if err != nil {
		return nil, fmt.Errorf("policy: load saved model %s: %w", modelPath, err)
	}
	svc := &tfService{requests: make(chan tfRequest, batchSize)}
	go svc.serve(model, batchSize)
	tfServices[modelPath] = svc
	log.Infof("Started prediction service for %s with batch size %d", modelPath, batchSize)
	return svc, nil
}

func (s *tfService) serve(model *tf.SavedModel, batchSize int) {
	pending := make([]tfRequest, 0, batchSize)
	for {
		timeout := time.After(tfFlushWait)
		select {
		case req := <-s.requests:
			pending = append(pending, req)
			if len(pending) == batchSize {
				s.flush(model, pending)
				pending = pending[:0]
			}
		case <-timeout:
			if len(pending) > 0 {
				s.flush(model, pending)
				pending = pending[:0]
			}
		}
	}
}

func (s *tfService) flush(model *tf.SavedModel, pending []tfRequest) {
	batch := make([][]float32, len(pending))
	for i, req := range pending {
		batch[i] = req.obs
	}
	input, err := tf.NewTensor(batch)
	if err != nil {
		log.Panicf("Could not create tensor from batch: %v", err)
	}

	graph := model.Graph
	feeds := map[tf.Output]*tf.Tensor{{Op: graph.Operation(tfInputOp), Index: 0}: input}
	fetches := []tf.Output{{Op: graph.Operation(tfActorOp), Index: 0}}
	results, err := model.Session.Run(feeds, fetches, nil)
	if err != nil {
		log.Panicf("Could not run the model session: %v", err)
	}
	actions, ok := results[0].Value().([][]float32)
	if !ok {
		log.Panicf("Actor output has a wrong type %T", results[0].Value())
	}
	for i, req := range pending {
		action := make([]float64, len(actions[i]))
		for k, v := range actions[i] {
			action[k] = float64(v)
		}
		req.result <- action
	}
}

// tfAgent selects actions from an externally trained SavedModel. Learning and
// snapshotting happen out of process: Learn is a no-op and Parameters is
// empty, so self-play opponents of a tf run replay the same model.
type tfAgent struct {
	service    *tfService
	actionSize int
}

func newTFAgent(cfg config.Config, spec EnvSpec, _ int) (Agent, error) {
	if cfg.ModelPath == "" {
		return nil, fmt.Errorf("policy: tf agent requires model_path")
	}
	batchSize := cfg.PredictBatchSize
	if batchSize <= 0 {
		batchSize = 1
	}
	svc, err := tfServiceFor(cfg.ModelPath, batchSize)
	if err != nil {
		return nil, err
	}
	return &tfAgent{service: svc, actionSize: spec.ActionSize}, nil
}

func (a *tfAgent) Act(rng *rand.Rand, obs []float64, epsilon float64) []float64 {
	if epsilon > 0 && rng.Float64() < epsilon {
		action := make([]float64, a.actionSize)
		for i := range action {
			action[i] = rng.Float64()*2 - 1
		}
		return action
	}
	obs32 := make([]float32, len(obs))
	for i, v := range obs {
		obs32[i] = float32(v)
	}
	req := tfRequest{obs: obs32, result: make(chan []float64, 1)}
	a.service.requests <- req
	return <-req.result
}

func (a *tfAgent) Learn(replay.Batch) (Losses, error) {
	log.Debugf("SavedModel agents train out of process; skipping update")
	return Losses{}, nil
}

func (a *tfAgent) SyncTarget(float64) {}

func (a *tfAgent) Parameters() Parameters { return Parameters{} }

func (a *tfAgent) SetParameters(Parameters) error { return nil }
