package nlp

import (
	"context"
	"math"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/optimize"

	"mpc-path-follow/autodiff"
)

const (
	maxPenalty      = 1e12
	penaltyGrowth   = 10
	requiredDecline = 0.25
)

// AugmentedLagrangian solves a Problem with the shifted-penalty (PHR)
// augmented Lagrangian method. Each outer iteration minimises
//
//	f(x) + mu/2 * sum_j dist(g_j(x) + lambda_j/mu, [GLower_j, GUpper_j])^2
//
// over the reparameterised variables with L-BFGS, then updates the
// multipliers lambda and, when the violation did not shrink enough, the
// penalty mu. The zero value is ready to use and holds no state between
// calls, so one value may serve concurrent solves.
type AugmentedLagrangian struct {
	// Store is the L-BFGS memory size; zero picks gonum's default.
	Store int
}

var _ Solver = AugmentedLagrangian{}

// alState holds the buffers of one Solve call.
type alState struct {
	p    Problem
	vm   *varMap
	tape *autodiff.Tape

	x, g, gx []float64
	xv, gv   []autodiff.Var
	outputs  []autodiff.Var
	weights  []float64

	lambda []float64
	mu     float64
}

// Solve runs the method until the point is feasible and the inner solve has
// converged, the iteration limits are reached, or the time budget runs out.
func (s AugmentedLagrangian) Solve(ctx context.Context, p Problem, opts Options) (Result, error) {
	if err := p.Validate(); err != nil {
		return Result{}, err
	}
	opts = opts.withDefaults()
	start := time.Now()

	if opts.MaxCPUTime > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.MaxCPUTime)
		defer cancel()
	}

	n, m := len(p.X0), len(p.GLower)
	st := &alState{
		p:       p,
		vm:      newVarMap(p.XLower, p.XUpper, opts.Infinity),
		tape:    autodiff.NewTape(64 * (n + m)),
		x:       make([]float64, n),
		g:       make([]float64, m),
		gx:      make([]float64, n),
		xv:      make([]autodiff.Var, n),
		gv:      make([]autodiff.Var, m),
		outputs: make([]autodiff.Var, m+1),
		weights: make([]float64, m+1),
		lambda:  make([]float64, m),
		mu:      opts.InitialPenalty,
	}

	z := st.vm.toZ(p.X0)
	res := Result{Status: NotConverged}

	if st.vm.dim() == 0 {
		st.vm.toX(z, st.x)
		return st.finish(res, start, opts), nil
	}

	gz := make([]float64, len(z))
	st.gradient(gz, z)
	gradScale := math.Max(1, floats.Norm(gz, math.Inf(1)))
	finalOmega := opts.OptimalityTolerance * gradScale
	omega := math.Max(finalOmega, 0.1*gradScale)
	prevViol := math.Inf(1)

	for res.Iterations < opts.MaxIterations {
		if ctx.Err() != nil {
			res.Status = Timeout
			break
		}
		res.Iterations++

		inner, stop := st.minimise(ctx, z, omega, opts.MaxInnerIterations, s.Store)
		res.InnerIterations += inner.iterations
		if inner.x != nil {
			z = inner.x
		}

		st.vm.toX(z, st.x)
		st.p.Evaluator.Evaluate(st.x, st.g)
		viol := violation(st.g, p.GLower, p.GUpper)
		if math.IsInf(viol, 0) || math.IsNaN(viol) {
			break
		}
		if viol <= opts.ConstraintTolerance && omega <= finalOmega && inner.converged {
			res.Status = Success
			break
		}
		if stop {
			res.Status = Timeout
			break
		}

		for j := range st.lambda {
			st.lambda[j] = st.mu * st.shifted(j, st.g[j])
		}
		if viol > requiredDecline*prevViol {
			st.mu = math.Min(st.mu*penaltyGrowth, maxPenalty)
		}
		prevViol = viol

		if viol <= opts.ConstraintTolerance {
			omega = finalOmega
		} else {
			omega = math.Max(finalOmega, 0.1*omega)
		}
	}

	st.vm.toX(z, st.x)
	return st.finish(res, start, opts), nil
}

func (st *alState) finish(res Result, start time.Time, opts Options) Result {
	res.X = append([]float64(nil), st.x...)
	res.G = make([]float64, len(st.g))
	res.Objective = st.p.Evaluator.Evaluate(res.X, res.G)
	res.Violation = violation(res.G, st.p.GLower, st.p.GUpper)
	res.Elapsed = time.Since(start)
	if len(st.vm.active) == 0 && res.Violation <= opts.ConstraintTolerance {
		res.Status = Success
	}
	return res
}

// shifted returns g + lambda/mu minus its projection onto the constraint bounds.
func (st *alState) shifted(j int, gj float64) float64 {
	s := gj + st.lambda[j]/st.mu
	return s - math.Max(st.p.GLower[j], math.Min(st.p.GUpper[j], s))
}

func (st *alState) merit(z []float64) float64 {
	st.vm.toX(z, st.x)
	f := st.p.Evaluator.Evaluate(st.x, st.g)
	var pen float64
	for j, gj := range st.g {
		d := st.shifted(j, gj)
		pen += d * d
	}
	return f + 0.5*st.mu*pen
}

func (st *alState) gradient(gz, z []float64) {
	st.vm.toX(z, st.x)
	st.tape.Reset()
	st.xv = st.tape.Variables(st.x, st.xv)
	st.outputs[0] = st.p.Evaluator.Record(st.xv, st.gv)
	st.weights[0] = 1
	for j, gj := range st.gv {
		st.outputs[j+1] = gj
		st.weights[j+1] = st.mu * st.shifted(j, gj.Value())
	}
	st.tape.Adjoint(st.outputs, st.weights, st.xv, st.gx)
	st.vm.chain(z, st.gx, gz)
}

type innerResult struct {
	x          []float64
	iterations int
	converged  bool
}

// minimise runs L-BFGS on the merit function from z. stop reports that the
// time budget ran out.
func (st *alState) minimise(ctx context.Context, z []float64, omega float64, maxIter, store int) (innerResult, bool) {
	problem := optimize.Problem{
		Func: st.merit,
		Grad: st.gradient,
		Status: func() (optimize.Status, error) {
			if ctx.Err() != nil {
				return optimize.RuntimeLimit, nil
			}
			return optimize.NotTerminated, nil
		},
	}
	settings := &optimize.Settings{
		GradientThreshold: omega,
		MajorIterations:   maxIter,
		Converger: &optimize.FunctionConverge{
			Absolute:   1e-14,
			Iterations: 25,
		},
	}
	if dl, ok := ctx.Deadline(); ok {
		settings.Runtime = time.Until(dl)
		if settings.Runtime <= 0 {
			return innerResult{}, true
		}
	}

	result, err := optimize.Minimize(problem, z, settings, &optimize.LBFGS{Store: store})
	if result == nil {
		return innerResult{}, ctx.Err() != nil
	}

	out := innerResult{iterations: result.MajorIterations}
	if finite(result.X) {
		out.x = result.X
	}

	switch {
	case out.x == nil:
	case err != nil:
		// The line search gave up: no further progress is possible at
		// floating point precision from this point.
		out.converged = true
	case result.Status == optimize.GradientThreshold,
		result.Status == optimize.FunctionConvergence,
		result.Status == optimize.StepConvergence,
		result.Status == optimize.MethodConverge,
		result.Status == optimize.Success:
		out.converged = true
	}
	return out, result.Status == optimize.RuntimeLimit || ctx.Err() != nil
}

func finite(x []float64) bool {
	for _, v := range x {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
