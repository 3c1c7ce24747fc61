package control

import (
	"mpc-path-follow/autodiff"
	"mpc-path-follow/nlp"
)

// Objective is the cost and constraint evaluator of one horizon, bound to
// the reference polynomial of one control cycle. It holds no mutable state
// and is safe for concurrent use.
type Objective struct {
	layout   Layout
	model    Model
	dt       float64
	refSpeed float64
	weights  Weights
	ref      Polynomial
}

var _ nlp.Evaluator = (*Objective)(nil)

// NewObjective binds cfg to the reference polynomial ref.
func NewObjective(cfg Config, ref Polynomial) *Objective {
	return &Objective{
		layout:   Layout{N: cfg.Horizon},
		model:    cfg.Model(),
		dt:       cfg.TimeStep,
		refSpeed: cfg.RefSpeed,
		weights:  cfg.Weights,
		ref:      append(Polynomial(nil), ref...),
	}
}

// Evaluate writes the constraint residuals into g and returns the cost.
func (o *Objective) Evaluate(x, g []float64) float64 {
	gf := make([]autodiff.Float, len(g))
	cost := evaluate(o, autodiff.Floats(x), gf)
	for j, v := range gf {
		g[j] = v.Value()
	}
	return cost.Value()
}

// Record is Evaluate on tape variables.
func (o *Objective) Record(x, g []autodiff.Var) autodiff.Var {
	return evaluate(o, x, g)
}

// evaluate computes
//
//	cost = sum_N   wCte*cte^2 + wEpsi*epsi^2 + wV*(v-ref)^2
//	     + sum_N-1 wSteer*delta^2 + wThrottle*a^2
//	     + sum_N-2 wSteerRate*(delta[i+1]-delta[i])^2 + wThrottleRate*(a[i+1]-a[i])^2
//
// and the residuals g[0] = state[0], g[i] = state[i] - step(state[i-1], input[i-1]).
func evaluate[T autodiff.Scalar[T]](o *Objective, x, g []T) T {
	states, inputs := gather(o.layout, x)
	w := o.weights

	cost := x[0].Const(0)
	for _, s := range states {
		cost = cost.Add(s[ChanCte].Square().Scale(w.Cte))
		cost = cost.Add(s[ChanEpsi].Square().Scale(w.Epsi))
		cost = cost.Add(s[ChanV].AddConst(-o.refSpeed).Square().Scale(w.Speed))
	}
	for _, u := range inputs {
		cost = cost.Add(u[inSteer].Square().Scale(w.Steer))
		cost = cost.Add(u[inThrottle].Square().Scale(w.Throttle))
	}
	for i := 0; i+1 < len(inputs); i++ {
		cost = cost.Add(inputs[i+1][inSteer].Sub(inputs[i][inSteer]).Square().Scale(w.SteerRate))
		cost = cost.Add(inputs[i+1][inThrottle].Sub(inputs[i][inThrottle]).Square().Scale(w.ThrottleRate))
	}

	residuals := make([]kinState[T], len(states))
	residuals[0] = states[0]
	for i := 1; i < len(states); i++ {
		pred := step(o.model, states[i-1], inputs[i-1], o.ref, o.dt)
		for c := range stateDim {
			residuals[i][c] = states[i][c].Sub(pred[c])
		}
	}
	scatter(o.layout, residuals, g)
	return cost
}
