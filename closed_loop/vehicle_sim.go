package main

import (
	"math"

	control "mpc-path-follow/closed_loop/path_control"
)

// pendingCommand is a command waiting for the actuation latency to pass.
type pendingCommand struct {
	at  float64
	cmd control.Actuation
}

// SimVehicle is a kinematic vehicle driven by normalized commands. Commands
// take effect Latency seconds after they are applied.
type SimVehicle struct {
	model      control.Model
	steerLimit float64
	latency    float64

	now     float64
	state   control.VehicleState
	current control.Actuation
	queue   []pendingCommand
}

func NewSimVehicle(cfg control.Config, latency float64, init InitialState) *SimVehicle {
	return &SimVehicle{
		model:      cfg.Model(),
		steerLimit: cfg.SteerLimit,
		latency:    latency,
		state:      control.VehicleState{X: init.X, Y: init.Y, Psi: init.Psi, V: init.Speed},
	}
}

// Apply schedules a command. Steering is normalized to [-1, 1].
func (v *SimVehicle) Apply(cmd control.Command) {
	a := control.Actuation{
		Steer:    clampUnit(cmd.Steering) * v.steerLimit,
		Throttle: clampUnit(cmd.Throttle),
	}
	v.queue = append(v.queue, pendingCommand{at: v.now + v.latency, cmd: a})
}

// Advance integrates the vehicle for dt seconds in steps of at most step.
func (v *SimVehicle) Advance(dt, step float64) {
	end := v.now + dt
	for v.now < end-1e-12 {
		h := min(step, end-v.now)
		for len(v.queue) > 0 && v.queue[0].at <= v.now+1e-12 {
			v.current = v.queue[0].cmd
			v.queue = v.queue[1:]
		}
		next := v.model.Step(v.state, v.current, control.Polynomial{0}, h)
		v.state = control.VehicleState{X: next.X, Y: next.Y, Psi: normalizeAngle(next.Psi), V: max(0, next.V)}
		v.now += h
	}
}

func (v *SimVehicle) Time() float64                { return v.now }
func (v *SimVehicle) State() control.VehicleState  { return v.state }
func (v *SimVehicle) Actuation() control.Actuation { return v.current }
func (v *SimVehicle) Position() control.Point      { return control.Point{X: v.state.X, Y: v.state.Y} }

// Telemetry reports the vehicle with the next k waypoints of track.
func (v *SimVehicle) Telemetry(track *Track, k int) control.Telemetry {
	xs, ys := track.Window(v.Position(), k)
	return control.Telemetry{
		PtsX:          xs,
		PtsY:          ys,
		X:             v.state.X,
		Y:             v.state.Y,
		Psi:           v.state.Psi,
		Speed:         v.state.V,
		SteeringAngle: v.current.Steer,
		Throttle:      v.current.Throttle,
	}
}

func clampUnit(x float64) float64 {
	if math.IsNaN(x) {
		return 0
	}
	return max(-1, min(1, x))
}

func normalizeAngle(a float64) float64 {
	return math.Remainder(a, 2*math.Pi)
}
