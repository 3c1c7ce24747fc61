package control

import "math"

// LatencyCompensator projects the measured state forward by the actuation
// latency, so the optimiser plans from the state in which its first command
// will actually take effect.
type LatencyCompensator struct {
	Model Model
	Delay float64 // seconds
}

// Project returns the vehicle-frame state after Delay seconds under the
// actuation currently applied. The measured state sits at the origin of the
// vehicle frame with zero heading; its errors are read off the reference.
func (c LatencyCompensator) Project(speed float64, current Actuation, ref Polynomial) VehicleState {
	now := VehicleState{
		V:    speed,
		Cte:  ref.Eval(0),
		Epsi: -math.Atan(ref.Slope(0)),
	}
	if c.Delay <= 0 {
		return now
	}
	return c.Model.Step(now, current, ref, c.Delay)
}
