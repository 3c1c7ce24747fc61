package control

import "mpc-path-follow/autodiff"

// VehicleState is the pose and tracking error of the vehicle at one instant.
type VehicleState struct {
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
	Psi  float64 `json:"psi"`
	V    float64 `json:"v"`
	Cte  float64 `json:"cte"`
	Epsi float64 `json:"epsi"`
}

// Actuation is one steering/throttle pair. Steer is in radians; a positive
// value decreases the heading (clockwise turn), matching the simulator.
type Actuation struct {
	Steer    float64 `json:"steer"`
	Throttle float64 `json:"throttle"`
}

// Channel indexes the components of a state vector.
type Channel int

const (
	ChanX Channel = iota
	ChanY
	ChanPsi
	ChanV
	ChanCte
	ChanEpsi

	stateDim = 6
)

var channelNames = [stateDim]string{"x", "y", "psi", "v", "cte", "epsi"}

func (c Channel) String() string {
	if c < 0 || int(c) >= stateDim {
		return "channel?"
	}
	return channelNames[c]
}

const (
	inSteer = iota
	inThrottle

	inputDim = 2
)

// kinState and kinInput are the generic forms of VehicleState and Actuation
// the model is written against.
type (
	kinState[T any] [stateDim]T
	kinInput[T any] [inputDim]T
)

func (s VehicleState) vector() [stateDim]float64 {
	return [stateDim]float64{s.X, s.Y, s.Psi, s.V, s.Cte, s.Epsi}
}

func stateFromVector(v [stateDim]float64) VehicleState {
	return VehicleState{X: v[ChanX], Y: v[ChanY], Psi: v[ChanPsi], V: v[ChanV], Cte: v[ChanCte], Epsi: v[ChanEpsi]}
}

// Model is the discrete kinematic bicycle model augmented with cross-track
// and heading error dynamics.
type Model struct {
	Lf float64 // distance from centre of gravity to the effective front axle
}

// Step advances s by dt under actuation u while tracking ref.
func (m Model) Step(s VehicleState, u Actuation, ref Polynomial, dt float64) VehicleState {
	var in kinState[autodiff.Float]
	for c, v := range s.vector() {
		in[c] = autodiff.Float(v)
	}
	out := step(m, in, kinInput[autodiff.Float]{autodiff.Float(u.Steer), autodiff.Float(u.Throttle)}, ref, dt)
	var v [stateDim]float64
	for c := range out {
		v[c] = out[c].Value()
	}
	return stateFromVector(v)
}

// step is the model on any Scalar. The error terms are measured against
// the reference at the current x:
//
//	cte1  = (f(x0) - y0) + v0*sin(epsi0)*dt
//	epsi1 = (psi0 - atan(f'(x0))) - v0*delta0/Lf*dt
func step[T autodiff.Scalar[T]](m Model, s kinState[T], u kinInput[T], ref Polynomial, dt float64) kinState[T] {
	x0, y0, psi0, v0, epsi0 := s[ChanX], s[ChanY], s[ChanPsi], s[ChanV], s[ChanEpsi]
	delta0, a0 := u[inSteer], u[inThrottle]

	yaw := v0.Mul(delta0).Scale(dt / m.Lf)
	f0 := evalPoly(ref, x0)
	psiDes := slopePoly(ref, x0).Atan()

	var next kinState[T]
	next[ChanX] = x0.Add(v0.Mul(psi0.Cos()).Scale(dt))
	next[ChanY] = y0.Add(v0.Mul(psi0.Sin()).Scale(dt))
	next[ChanPsi] = psi0.Sub(yaw)
	next[ChanV] = v0.Add(a0.Scale(dt))
	next[ChanCte] = f0.Sub(y0).Add(v0.Mul(epsi0.Sin()).Scale(dt))
	next[ChanEpsi] = psi0.Sub(psiDes).Sub(yaw)
	return next
}
