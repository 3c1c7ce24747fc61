package control

import (
	"context"
	"errors"
	"fmt"
	"time"

	"mpc-path-follow/nlp"
	"mpc-path-follow/utils"
)

// ErrMalformedTelemetry is returned for telemetry a cycle cannot run on.
var ErrMalformedTelemetry = errors.New("malformed telemetry")

// Telemetry is one measurement of the vehicle and its reference path, all
// in the world frame.
type Telemetry struct {
	PtsX, PtsY []float64 // reference waypoints

	X, Y, Psi     float64
	Speed         float64
	SteeringAngle float64 // radians, same convention as Actuation.Steer
	Throttle      float64
}

// Validate checks that t can drive one cycle.
func (t Telemetry) Validate() error {
	if len(t.PtsX) != len(t.PtsY) {
		return fmt.Errorf("%w: %d ptsx vs %d ptsy", ErrMalformedTelemetry, len(t.PtsX), len(t.PtsY))
	}
	if len(t.PtsX) < ReferenceDegree+1 {
		return fmt.Errorf("%w: %d waypoints, need at least %d", ErrMalformedTelemetry, len(t.PtsX), ReferenceDegree+1)
	}
	for _, v := range []float64{t.X, t.Y, t.Psi, t.Speed, t.SteeringAngle, t.Throttle} {
		if !isFinite(v) {
			return fmt.Errorf("%w: non-finite vehicle state", ErrMalformedTelemetry)
		}
	}
	return nil
}

// Command is the output of one cycle.
type Command struct {
	Steering float64 // radians divided by the steering limit, in [-1, 1]
	Throttle float64

	PredictedX, PredictedY []float64 // planned trajectory, vehicle frame
	ReferenceX, ReferenceY []float64 // waypoints, vehicle frame

	Objective float64
	SolveTime time.Duration
}

// LoopDiagnostics contains loop counters for monitoring
type LoopDiagnostics struct {
	Cycles        uint64        `json:"cycles"`
	Malformed     uint64        `json:"malformed"`
	Degenerate    uint64        `json:"degenerate"`
	SolveFailures uint64        `json:"solve_failures"`
	LastObjective float64       `json:"last_objective"`
	LastSolveTime time.Duration `json:"last_solve_time_ns"`
}

// Loop runs one control cycle per telemetry message. Cycles carry nothing
// over except the counters in LoopDiagnostics. A Loop is used by one
// session at a time.
type Loop struct {
	cfg        Config
	driver     *Driver
	compensate LatencyCompensator
	log        *utils.Logger

	diag LoopDiagnostics
}

// NewLoop builds a control loop around solver.
func NewLoop(cfg Config, solver nlp.Solver, log *utils.Logger) (*Loop, error) {
	driver, err := NewDriver(cfg, solver)
	if err != nil {
		return nil, err
	}
	return &Loop{
		cfg:        cfg,
		driver:     driver,
		compensate: LatencyCompensator{Model: cfg.Model(), Delay: cfg.Latency},
		log:        log,
	}, nil
}

// Step runs one cycle: transform the waypoints into the vehicle frame, fit
// the reference, compensate latency, solve, and build the command.
func (l *Loop) Step(ctx context.Context, t Telemetry) (Command, error) {
	l.diag.Cycles++

	if err := t.Validate(); err != nil {
		l.diag.Malformed++
		return Command{}, err
	}

	// Step 1: world -> vehicle frame
	pose := Pose{X: t.X, Y: t.Y, Psi: t.Psi}
	refX, refY := pose.ToVehicleFrame(t.PtsX, t.PtsY)

	// Step 2: reference polynomial
	ref, err := FitPolynomial(refX, refY, ReferenceDegree)
	if err != nil {
		l.diag.Degenerate++
		return Command{}, err
	}

	// Step 3: state at the time the new command takes effect
	initial := l.compensate.Project(t.Speed, Actuation{Steer: t.SteeringAngle, Throttle: t.Throttle}, ref)
	l.log.Trace("cycle %d: initial=%+v coeffs=%v", l.diag.Cycles, initial, ref)

	// Step 4: optimise the horizon
	plan, err := l.driver.Solve(ctx, initial, ref)
	if err != nil {
		l.diag.SolveFailures++
		return Command{}, err
	}
	l.diag.LastObjective = plan.Objective
	l.diag.LastSolveTime = plan.Elapsed

	cmd := Command{
		Steering:   plan.Command.Steer / l.cfg.SteerLimit,
		Throttle:   plan.Command.Throttle,
		PredictedX: make([]float64, len(plan.Predicted)),
		PredictedY: make([]float64, len(plan.Predicted)),
		ReferenceX: refX,
		ReferenceY: refY,
		Objective:  plan.Objective,
		SolveTime:  plan.Elapsed,
	}
	for i, p := range plan.Predicted {
		cmd.PredictedX[i], cmd.PredictedY[i] = p.X, p.Y
	}

	l.log.Debug("cycle %d: steer=%.4f throttle=%.4f cost=%.3f iter=%d solve=%v",
		l.diag.Cycles, cmd.Steering, cmd.Throttle, plan.Objective, plan.Iterations, plan.Elapsed)
	return cmd, nil
}

// GetDiagnostics returns the loop counters
func (l *Loop) GetDiagnostics() LoopDiagnostics {
	return l.diag
}

// Config returns the configuration the loop was built with.
func (l *Loop) Config() Config {
	return l.cfg
}
