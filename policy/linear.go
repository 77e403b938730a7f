package policy

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/DariaXu/unity-soccorTwos/config"
	"github.com/DariaXu/unity-soccorTwos/replay"
)

func init() {
	Register("linear", newLinearAgent)
}

// linearAgent is a self-contained MADDPG-style learner on linear function
// approximation: a tanh-squashed linear actor over the agent's own
// observation and a centralized linear critic over the joint
// observation+action vector, each with a Polyak-averaged target copy.
type linearAgent struct {
	slot int
	spec EnvSpec

	gamma       float64
	maxGradNorm float64

	actor        [][]float64 // actionSize rows of [obsSize+1]
	actorTarget  [][]float64
	critic       []float64 // [jointSize+1]
	criticTarget []float64

	actorOpt  *adam
	criticOpt *adam
}

func newLinearAgent(cfg config.Config, spec EnvSpec, slot int) (Agent, error) {
	if spec.ObsSize <= 0 || spec.ActionSize <= 0 || spec.NumSlots <= 0 {
		return nil, fmt.Errorf("policy: invalid env spec %+v", spec)
	}
	// weight init is derived from the run seed so runs are reproducible
	rng := rand.New(rand.NewSource(cfg.Seed*1009 + int64(slot)))

	a := &linearAgent{
		slot:        slot,
		spec:        spec,
		gamma:       cfg.Gamma,
		maxGradNorm: cfg.MaxGradNorm,
	}
	a.actor = make([][]float64, spec.ActionSize)
	a.actorTarget = make([][]float64, spec.ActionSize)
	for k := range a.actor {
		a.actor[k] = make([]float64, spec.ObsSize+1)
		for i := range a.actor[k] {
			a.actor[k][i] = (rng.Float64()*2 - 1) * 0.1
		}
		a.actorTarget[k] = append([]float64(nil), a.actor[k]...)
	}
	a.critic = make([]float64, spec.JointSize()+1)
	for i := range a.critic {
		a.critic[i] = (rng.Float64()*2 - 1) * 0.1
	}
	a.criticTarget = append([]float64(nil), a.critic...)

	actorLR := cfg.ActorLR
	if actorLR == 0 {
		actorLR = cfg.LR
	}
	criticLR := cfg.CriticLR
	if criticLR == 0 {
		criticLR = cfg.LR
	}
	a.actorOpt = newAdam(actorLR, cfg.Beta1, cfg.Beta2, cfg.AdamEps, cfg.WeightDecay, spec.ActionSize*(spec.ObsSize+1))
	a.criticOpt = newAdam(criticLR, cfg.Beta1, cfg.Beta2, cfg.AdamEps, cfg.WeightDecay, spec.JointSize()+1)
	return a, nil
}

func (a *linearAgent) Act(rng *rand.Rand, obs []float64, epsilon float64) []float64 {
	if epsilon > 0 && rng.Float64() < epsilon {
		action := make([]float64, a.spec.ActionSize)
		for i := range action {
			action[i] = rng.Float64()*2 - 1
		}
		return action
	}
	return a.forwardActor(a.actor, obs)
}

func (a *linearAgent) forwardActor(weights [][]float64, obs []float64) []float64 {
	action := make([]float64, a.spec.ActionSize)
	for k, row := range weights {
		z := row[len(row)-1]
		for i, x := range obs {
			z += row[i] * x
		}
		action[k] = math.Tanh(z)
	}
	return action
}

func (a *linearAgent) q(weights, jointObs, jointActions []float64) float64 {
	v := weights[len(weights)-1]
	i := 0
	for _, x := range jointObs {
		v += weights[i] * x
		i++
	}
	for _, x := range jointActions {
		v += weights[i] * x
		i++
	}
	return v
}

// actionOffset is the index of this agent's action block within the joint
// action vector.
func (a *linearAgent) actionOffset() int {
	return a.slot * a.spec.ActionSize
}

func (a *linearAgent) Learn(batch replay.Batch) (Losses, error) {
	n := batch.Size()
	if n == 0 {
		return Losses{}, fmt.Errorf("policy: empty batch")
	}
	if len(batch.Obs) <= a.slot {
		return Losses{}, fmt.Errorf("policy: batch has %d agent columns, slot %d out of range", len(batch.Obs), a.slot)
	}

	criticGrad := make([]float64, len(a.critic))
	actorGrad := make([]float64, a.spec.ActionSize*(a.spec.ObsSize+1))
	var criticLoss, actorLoss float64

	obsWidth := a.spec.ObsSize + 1
	actSegment := a.spec.NumSlots * a.spec.ObsSize
	ownActStart := actSegment + a.actionOffset()

	for s := 0; s < n; s++ {
		jointObs := batch.JointObs[s]
		jointActions := batch.JointActions[s]
		jointNext := batch.JointNextObs[s]
		ownObs := batch.Obs[a.slot][s]
		ownNext := batch.NextObs[a.slot][s]
		reward := batch.Rewards[a.slot][s]
		notDone := batch.NotDones[s]

		// TD target: next joint actions reuse the stored ones except this
		// agent's block, which comes from the target actor.
		nextActions := append([]float64(nil), jointActions...)
		ownNextAction := a.forwardActor(a.actorTarget, ownNext)
		copy(nextActions[a.actionOffset():], ownNextAction)

		qNext := a.q(a.criticTarget, jointNext, nextActions)
		target := reward + a.gamma*notDone*qNext
		qNow := a.q(a.critic, jointObs, jointActions)
		tdErr := qNow - target
		criticLoss += tdErr * tdErr

		i := 0
		for _, x := range jointObs {
			criticGrad[i] += 2 * tdErr * x / float64(n)
			i++
		}
		for _, x := range jointActions {
			criticGrad[i] += 2 * tdErr * x / float64(n)
			i++
		}
		criticGrad[len(criticGrad)-1] += 2 * tdErr / float64(n)

		// Deterministic policy gradient through the linear critic: replace
		// this agent's action with the live actor output and ascend Q.
		ownAction := a.forwardActor(a.actor, ownObs)
		policyActions := append([]float64(nil), jointActions...)
		copy(policyActions[a.actionOffset():], ownAction)
		actorLoss -= a.q(a.critic, jointObs, policyActions)

		for k := 0; k < a.spec.ActionSize; k++ {
			dQda := a.critic[ownActStart+k]
			dTanh := 1 - ownAction[k]*ownAction[k]
			scale := -dQda * dTanh / float64(n)
			base := k * obsWidth
			for i, x := range ownObs {
				actorGrad[base+i] += scale * x
			}
			actorGrad[base+obsWidth-1] += scale
		}
	}
	criticLoss /= float64(n)
	actorLoss /= float64(n)

	clipGradNorm(criticGrad, a.maxGradNorm)
	clipGradNorm(actorGrad, a.maxGradNorm)

	a.criticOpt.step(a.critic, criticGrad)
	flat := a.flatActor(a.actor)
	a.actorOpt.step(flat, actorGrad)
	a.setActorFromFlat(a.actor, flat)

	return Losses{Actor: actorLoss, Critic: criticLoss}, nil
}

func (a *linearAgent) SyncTarget(tau float64) {
	polyak(a.criticTarget, a.critic, tau)
	for k := range a.actor {
		polyak(a.actorTarget[k], a.actor[k], tau)
	}
}

func (a *linearAgent) Parameters() Parameters {
	return Parameters{
		Actor:  a.flatActor(a.actor),
		Critic: append([]float64(nil), a.critic...),
	}
}

func (a *linearAgent) SetParameters(p Parameters) error {
	wantActor := a.spec.ActionSize * (a.spec.ObsSize + 1)
	if len(p.Actor) != wantActor {
		return fmt.Errorf("policy: actor parameter size %d, want %d", len(p.Actor), wantActor)
	}
	if len(p.Critic) != len(a.critic) {
		return fmt.Errorf("policy: critic parameter size %d, want %d", len(p.Critic), len(a.critic))
	}
	a.setActorFromFlat(a.actor, p.Actor)
	a.setActorFromFlat(a.actorTarget, p.Actor)
	copy(a.critic, p.Critic)
	copy(a.criticTarget, p.Critic)
	a.actorOpt.reset()
	a.criticOpt.reset()
	return nil
}

func (a *linearAgent) flatActor(rows [][]float64) []float64 {
	flat := make([]float64, 0, a.spec.ActionSize*(a.spec.ObsSize+1))
	for _, row := range rows {
		flat = append(flat, row...)
	}
	return flat
}

func (a *linearAgent) setActorFromFlat(rows [][]float64, flat []float64) {
	width := a.spec.ObsSize + 1
	for k := range rows {
		copy(rows[k], flat[k*width:(k+1)*width])
	}
}

func polyak(target, live []float64, tau float64) {
	for i := range target {
		target[i] = (1-tau)*target[i] + tau*live[i]
	}
}

// adam is a plain Adam optimizer over a flat parameter vector.
type adam struct {
	lr, beta1, beta2, eps, weightDecay float64
	m, v                               []float64
	t                                  int
}

func newAdam(lr, beta1, beta2, eps, weightDecay float64, size int) *adam {
	if beta1 == 0 {
		beta1 = 0.9
	}
	if beta2 == 0 {
		beta2 = 0.999
	}
	if eps == 0 {
		eps = 1e-8
	}
	return &adam{
		lr: lr, beta1: beta1, beta2: beta2, eps: eps, weightDecay: weightDecay,
		m: make([]float64, size),
		v: make([]float64, size),
	}
}

func (o *adam) reset() {
	for i := range o.m {
		o.m[i] = 0
		o.v[i] = 0
	}
	o.t = 0
}

func (o *adam) step(params, grad []float64) {
	o.t++
	bc1 := 1 - math.Pow(o.beta1, float64(o.t))
	bc2 := 1 - math.Pow(o.beta2, float64(o.t))
	for i := range params {
		g := grad[i] + o.weightDecay*params[i]
		o.m[i] = o.beta1*o.m[i] + (1-o.beta1)*g
		o.v[i] = o.beta2*o.v[i] + (1-o.beta2)*g*g
		mHat := o.m[i] / bc1
		vHat := o.v[i] / bc2
		params[i] -= o.lr * mHat / (math.Sqrt(vHat) + o.eps)
	}
}
