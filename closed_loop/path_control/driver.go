package control

import (
	"context"
	"errors"
	"fmt"
	"time"

	"mpc-path-follow/nlp"
)

// ErrSolveFailed is returned when the solver reports anything other than
// success. Timeouts and non-convergence both wrap it.
var ErrSolveFailed = errors.New("mpc solve failed")

// SolveError carries the solver outcome of a failed solve.
type SolveError struct {
	Status    nlp.Status
	Objective float64
	Elapsed   time.Duration
}

func (e *SolveError) Error() string {
	return fmt.Sprintf("%v: status=%s objective=%g elapsed=%v", ErrSolveFailed, e.Status, e.Objective, e.Elapsed)
}

func (e *SolveError) Unwrap() error { return ErrSolveFailed }

// Plan is the result of a successful solve.
type Plan struct {
	Command   Actuation // first actuation, steering in radians
	Predicted []Point   // planned x/y for every timestep of the horizon
	Horizon   Horizon

	Objective  float64
	Status     nlp.Status
	Iterations int
	Elapsed    time.Duration
}

// Driver owns the variable layout and the bounds of the horizon problem and
// hands it to the nonlinear solver.
type Driver struct {
	cfg    Config
	layout Layout
	solver nlp.Solver
	opts   nlp.Options

	// read-only after construction
	xLower, xUpper []float64
}

// NewDriver creates a driver for cfg that solves with solver.
func NewDriver(cfg Config, solver nlp.Solver) (*Driver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if solver == nil {
		return nil, fmt.Errorf("%w: nil solver", ErrInvalidConfig)
	}

	l := Layout{N: cfg.Horizon}
	d := &Driver{
		cfg:    cfg,
		layout: l,
		solver: solver,
		xLower: make([]float64, l.Vars()),
		xUpper: make([]float64, l.Vars()),
	}

	d.opts = nlp.DefaultOptions()
	d.opts.MaxCPUTime = cfg.SolveBudget
	d.opts.Infinity = Unbounded

	for i := 0; i < l.SteerIndex(0); i++ {
		d.xLower[i], d.xUpper[i] = -Unbounded, Unbounded
	}
	for i := range l.N - 1 {
		d.xLower[l.SteerIndex(i)], d.xUpper[l.SteerIndex(i)] = -cfg.SteerLimit, cfg.SteerLimit
		d.xLower[l.ThrottleIndex(i)], d.xUpper[l.ThrottleIndex(i)] = -cfg.ThrottleLimit, cfg.ThrottleLimit
	}
	return d, nil
}

// Layout returns the variable layout used by d.
func (d *Driver) Layout() Layout { return d.layout }

// Solve plans a horizon from initial along ref. The returned steering is in
// radians.
func (d *Driver) Solve(ctx context.Context, initial VehicleState, ref Polynomial) (Plan, error) {
	if len(ref) == 0 {
		return Plan{}, fmt.Errorf("%w: empty reference", ErrDegenerateFit)
	}

	// Constraint bounds are zero apart from the first entry of every state
	// block, which pins the horizon start to initial.
	nc := d.layout.Constraints()
	gLower := make([]float64, nc)
	gUpper := make([]float64, nc)
	for c, v := range initial.vector() {
		idx := d.layout.StateIndex(Channel(c), 0)
		gLower[idx], gUpper[idx] = v, v
	}

	problem := nlp.Problem{
		X0:        make([]float64, d.layout.Vars()),
		XLower:    d.xLower,
		XUpper:    d.xUpper,
		GLower:    gLower,
		GUpper:    gUpper,
		Evaluator: NewObjective(d.cfg, ref),
	}

	ctx, cancel := context.WithTimeout(ctx, d.cfg.SolveBudget)
	defer cancel()

	res, err := d.solver.Solve(ctx, problem, d.opts)
	if err != nil {
		return Plan{}, fmt.Errorf("solve horizon: %w", err)
	}
	if res.Status != nlp.Success {
		return Plan{}, &SolveError{Status: res.Status, Objective: res.Objective, Elapsed: res.Elapsed}
	}
	if len(res.X) != d.layout.Vars() {
		return Plan{}, fmt.Errorf("solve horizon: solver returned %d values, want %d", len(res.X), d.layout.Vars())
	}

	h := d.layout.Unpack(res.X)
	plan := Plan{
		Command:    h.Inputs[0],
		Predicted:  make([]Point, len(h.States)),
		Horizon:    h,
		Objective:  res.Objective,
		Status:     res.Status,
		Iterations: res.Iterations,
		Elapsed:    res.Elapsed,
	}
	for i, s := range h.States {
		plan.Predicted[i] = Point{X: s.X, Y: s.Y}
	}
	return plan, nil
}
