package main

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	control "mpc-path-follow/closed_loop/path_control"
	"mpc-path-follow/nlp"
	"mpc-path-follow/utils"
)

type RunnerConfig struct {
	ScenarioPath string
	Control      control.Config // base configuration, scenario overrides apply on top
	Fallback     FallbackPolicy // used when the scenario names none
	PID          SpeedPIDConfig
	PlotPath     string

	Solver nlp.Solver // nil selects the augmented Lagrangian solver
	Sink   CommandSink
}

// Sample is one control cycle of a run.
type Sample struct {
	Time      float64
	X, Y, Psi float64
	Speed     float64
	Cte       float64 // distance to the track
	Steering  float64 // normalized
	Throttle  float64
	SolveTime time.Duration
	OK        bool
}

// RunSummary aggregates a run.
type RunSummary struct {
	Scenario      string
	Cycles        int
	Failures      int
	Malformed     int
	Completed     bool // reached the end of an open track
	MaxCte        float64
	MeanCte       float64
	MeanSpeed     float64
	MeanSolveTime time.Duration
}

type Runner struct {
	cfg      RunnerConfig
	log      *utils.Logger
	scen     Scenario
	ctrl     control.Config
	track    *Track
	loop     *control.Loop
	fallback *Fallback
	sink     CommandSink

	samples []Sample
}

func NewRunner(cfg RunnerConfig, log *utils.Logger) (*Runner, error) {
	scen, err := LoadScenario(cfg.ScenarioPath)
	if err != nil {
		return nil, fmt.Errorf("load scenario: %w", err)
	}
	return newRunner(cfg, scen, log)
}

func newRunner(cfg RunnerConfig, scen Scenario, log *utils.Logger) (*Runner, error) {
	ctrl, err := scen.ControlConfig(cfg.Control)
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", scen.Meta.Name, err)
	}
	track, err := scen.Track.Build()
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", scen.Meta.Name, err)
	}

	policy := cfg.Fallback
	if scen.Fallback != "" {
		if policy, err = ParseFallbackPolicy(scen.Fallback); err != nil {
			return nil, err
		}
	}
	if policy == "" {
		policy = FallbackHold
	}

	solver := cfg.Solver
	if solver == nil {
		solver = nlp.AugmentedLagrangian{}
	}
	loop, err := control.NewLoop(ctrl, solver, log)
	if err != nil {
		return nil, fmt.Errorf("control loop: %w", err)
	}

	sink := cfg.Sink
	if sink == nil {
		sink = nopSink{}
	}

	return &Runner{
		cfg:      cfg,
		log:      log,
		scen:     scen,
		ctrl:     ctrl,
		track:    track,
		loop:     loop,
		fallback: NewFallback(policy, ctrl, cfg.PID),
		sink:     sink,
	}, nil
}

func (r *Runner) Close() {
	if r.sink != nil {
		_ = r.sink.Close()
	}
}

// Samples returns the recorded cycles of the last run.
func (r *Runner) Samples() []Sample { return r.samples }

// Run drives the simulated vehicle along the track until the scenario
// duration elapses, an open track ends, or ctx is canceled.
func (r *Runner) Run(ctx context.Context) (RunSummary, error) {
	timing := r.scen.Timing
	latency := r.ctrl.Latency
	if timing.ActuationLatencyS != nil {
		latency = *timing.ActuationLatencyS
	}
	sim := NewSimVehicle(r.ctrl, latency, r.scen.Initial)
	lookahead := r.scen.Track.Lookahead

	r.log.Info("Starting run: scenario=%s duration=%.2fs dt=%.3fs waypoints=%d lookahead=%d fallback=%s realtime=%v",
		r.scen.Meta.Name, timing.DurationS, timing.DtS, len(r.track.Points), lookahead,
		r.fallback.Policy(), timing.RealTimeMode)

	var ticker *time.Ticker
	if timing.RealTimeMode {
		ticker = time.NewTicker(time.Duration(timing.DtS * float64(time.Second)))
		defer ticker.Stop()
	}
	logEvery := 1
	if timing.LogHz > 0 {
		logEvery = max(1, int(math.Round(1/(timing.LogHz*timing.DtS))))
	}

	sum := RunSummary{Scenario: r.scen.Meta.Name}
	r.samples = r.samples[:0]

	for sim.Time() < timing.DurationS-1e-9 {
		if ticker != nil {
			select {
			case <-ctx.Done():
				return r.finish(sum), ctx.Err()
			case <-ticker.C:
			}
		} else if err := ctx.Err(); err != nil {
			return r.finish(sum), err
		}

		telemetry := sim.Telemetry(r.track, lookahead)
		cmd, err := r.loop.Step(ctx, telemetry)
		ok := err == nil
		switch {
		case ok:
			r.fallback.Remember(cmd)
		case errors.Is(err, control.ErrMalformedTelemetry):
			sum.Malformed++
			r.log.Warn("t=%.2f: %v", sim.Time(), err)
			sim.Advance(timing.DtS, timing.SimStepS)
			continue
		case ctx.Err() != nil:
			return r.finish(sum), ctx.Err()
		default:
			sum.Failures++
			cmd = r.fallback.Command(telemetry.Speed, timing.DtS)
			r.log.Warn("t=%.2f: %v; %s fallback", sim.Time(), err, r.fallback.Policy())
			if d, ok := r.fallback.PIDDiagnostics(); ok {
				r.log.Debug("t=%.2f: speed pid error=%.3f integral=%.3f p=%.4f i=%.4f",
					sim.Time(), d.Error, d.Integral, d.P, d.I)
			}
		}

		if err := r.sink.Publish(ctx, cmd, ok); err != nil {
			r.log.Critical("Publish failed at t=%.3f: %v", sim.Time(), err)
			return r.finish(sum), err
		}
		sim.Apply(cmd)

		_, cte := r.track.Nearest(sim.Position())
		st := sim.State()
		r.samples = append(r.samples, Sample{
			Time: sim.Time(), X: st.X, Y: st.Y, Psi: st.Psi, Speed: st.V,
			Cte: cte, Steering: cmd.Steering, Throttle: cmd.Throttle,
			SolveTime: cmd.SolveTime, OK: ok,
		})
		sum.Cycles++

		if sum.Cycles%logEvery == 0 {
			diag := r.loop.GetDiagnostics()
			r.log.Debug("t=%.2f x=%.2f y=%.2f v=%.2f cte=%.3f steer=%.3f throttle=%.3f cost=%.2f solve=%v",
				sim.Time(), st.X, st.Y, st.V, cte, cmd.Steering, cmd.Throttle, diag.LastObjective, diag.LastSolveTime)
		}

		sim.Advance(timing.DtS, timing.SimStepS)
		if r.track.AtEnd(sim.Position(), lookahead) {
			sum.Completed = true
			break
		}
	}

	sum = r.finish(sum)
	r.log.Info("Completed run: scenario=%s cycles=%d failures=%d malformed=%d max_cte=%.3f mean_cte=%.3f mean_speed=%.2f mean_solve=%v",
		sum.Scenario, sum.Cycles, sum.Failures, sum.Malformed, sum.MaxCte, sum.MeanCte, sum.MeanSpeed, sum.MeanSolveTime)

	if r.cfg.PlotPath != "" && len(r.samples) > 0 {
		if err := SaveRunPlot(r.cfg.PlotPath, r.track, r.samples); err != nil {
			return sum, fmt.Errorf("plot: %w", err)
		}
		r.log.Info("Wrote plot %s", r.cfg.PlotPath)
	}
	return sum, nil
}

func (r *Runner) finish(sum RunSummary) RunSummary {
	if len(r.samples) == 0 {
		return sum
	}
	var cte, speed float64
	var solve time.Duration
	solved := 0
	for _, s := range r.samples {
		sum.MaxCte = max(sum.MaxCte, s.Cte)
		cte += s.Cte
		speed += s.Speed
		if s.OK {
			solve += s.SolveTime
			solved++
		}
	}
	n := float64(len(r.samples))
	sum.MeanCte = cte / n
	sum.MeanSpeed = speed / n
	if solved > 0 {
		sum.MeanSolveTime = solve / time.Duration(solved)
	}
	return sum
}
