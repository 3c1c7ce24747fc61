// Package nlp defines the contract between a caller and a bound-constrained
// nonlinear program solver, together with an augmented-Lagrangian solver
// built on gonum's L-BFGS.
//
// The problem solved is
//
//	minimise   f(x)
//	subject to GLower <= g(x) <= GUpper
//	           XLower <= x    <= XUpper
//
// where f and g are supplied by an Evaluator. Equality constraints are
// expressed with GLower[j] == GUpper[j].
package nlp

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"mpc-path-follow/autodiff"
)

// ErrInvalidProblem is returned when a Problem is malformed (dimension
// mismatch, crossed bounds, missing evaluator). Convergence outcomes are
// never reported through an error; see Status.
var ErrInvalidProblem = errors.New("nlp: invalid problem")

// Evaluator computes the objective and the constraint vector.
//
// Evaluate and Record must describe the same function: Evaluate on plain
// values, Record on tape variables so the solver can differentiate it.
// Both write len(g) constraint values and return the objective.
type Evaluator interface {
	Evaluate(x, g []float64) float64
	Record(x, g []autodiff.Var) autodiff.Var
}

// Problem is one nonlinear program. The solver treats every slice as
// read-only.
type Problem struct {
	X0     []float64
	XLower []float64
	XUpper []float64
	GLower []float64
	GUpper []float64

	Evaluator Evaluator
}

// Options tune a solve.
type Options struct {
	// MaxCPUTime is the wall-clock budget of one Solve call. Zero means no limit.
	MaxCPUTime time.Duration

	// ConstraintTolerance is the largest accepted constraint violation.
	ConstraintTolerance float64
	// OptimalityTolerance is the gradient tolerance of the final inner
	// minimisation, relative to the initial gradient magnitude.
	OptimalityTolerance float64

	MaxIterations      int // outer (multiplier) iterations
	MaxInnerIterations int // L-BFGS iterations per outer iteration

	InitialPenalty float64
	// Infinity is the bound magnitude treated as "no bound".
	Infinity float64
}

// DefaultOptions returns the options used by the MPC driver.
func DefaultOptions() Options {
	return Options{
		MaxCPUTime:          500 * time.Millisecond,
		ConstraintTolerance: 1e-6,
		OptimalityTolerance: 1e-6,
		MaxIterations:       60,
		MaxInnerIterations:  400,
		InitialPenalty:      10,
		Infinity:            1e19,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.ConstraintTolerance <= 0 {
		o.ConstraintTolerance = d.ConstraintTolerance
	}
	if o.OptimalityTolerance <= 0 {
		o.OptimalityTolerance = d.OptimalityTolerance
	}
	if o.MaxIterations <= 0 {
		o.MaxIterations = d.MaxIterations
	}
	if o.MaxInnerIterations <= 0 {
		o.MaxInnerIterations = d.MaxInnerIterations
	}
	if o.InitialPenalty <= 0 {
		o.InitialPenalty = d.InitialPenalty
	}
	if o.Infinity <= 0 {
		o.Infinity = d.Infinity
	}
	return o
}

// Status tags the outcome of a solve.
type Status int

const (
	// Success means the returned point is feasible within ConstraintTolerance
	// and the final inner minimisation either met OptimalityTolerance or
	// stopped making progress at floating point precision.
	Success Status = iota
	// NotConverged means the iteration limits were reached first.
	NotConverged
	// Timeout means the wall-clock budget or the context ran out first.
	Timeout
)

func (s Status) String() string {
	switch s {
	case Success:
		return "success"
	case NotConverged:
		return "not_converged"
	case Timeout:
		return "timeout"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Result is what a Solver hands back. X is the last iterate, also when
// Status is not Success, and always lies within the variable bounds.
type Result struct {
	Status    Status
	Objective float64
	X         []float64
	G         []float64
	Violation float64

	Iterations      int
	InnerIterations int
	Elapsed         time.Duration
}

// Solver is the nonlinear program solver collaborator.
type Solver interface {
	Solve(ctx context.Context, p Problem, opts Options) (Result, error)
}

// Validate checks problem dimensions and bounds.
func (p Problem) Validate() error {
	n := len(p.X0)
	if n == 0 {
		return fmt.Errorf("%w: no variables", ErrInvalidProblem)
	}
	if p.Evaluator == nil {
		return fmt.Errorf("%w: nil evaluator", ErrInvalidProblem)
	}
	if len(p.XLower) != n || len(p.XUpper) != n {
		return fmt.Errorf("%w: variable bounds have %d/%d entries, want %d",
			ErrInvalidProblem, len(p.XLower), len(p.XUpper), n)
	}
	if len(p.GLower) != len(p.GUpper) {
		return fmt.Errorf("%w: constraint bounds have %d/%d entries",
			ErrInvalidProblem, len(p.GLower), len(p.GUpper))
	}
	for i := range n {
		if math.IsNaN(p.X0[i]) || p.XLower[i] > p.XUpper[i] {
			return fmt.Errorf("%w: variable %d has bounds [%g, %g] and start %g",
				ErrInvalidProblem, i, p.XLower[i], p.XUpper[i], p.X0[i])
		}
	}
	for j := range p.GLower {
		if p.GLower[j] > p.GUpper[j] {
			return fmt.Errorf("%w: constraint %d has bounds [%g, %g]",
				ErrInvalidProblem, j, p.GLower[j], p.GUpper[j])
		}
	}
	return nil
}

// violation returns the largest distance of g from [lo, hi].
func violation(g, lo, hi []float64) float64 {
	var worst float64
	for j, v := range g {
		switch {
		case v < lo[j]:
			worst = max(worst, lo[j]-v)
		case v > hi[j]:
			worst = max(worst, v-hi[j])
		case math.IsNaN(v):
			return math.Inf(1)
		}
	}
	return worst
}
