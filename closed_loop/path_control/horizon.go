package control

// Horizon is one planned trajectory: N states and the N-1 actuations
// between them.
type Horizon struct {
	States []VehicleState
	Inputs []Actuation
}

// Layout maps a Horizon onto the flat unknown vector handed to the solver:
// x, y, psi, v, cte and epsi blocks of length N, then the steering block and
// the throttle block of length N-1. Constraints use the six state blocks.
type Layout struct {
	N int
}

// Vars is the number of unknowns.
func (l Layout) Vars() int { return l.N*stateDim + (l.N-1)*inputDim }

// Constraints is the number of equality constraints.
func (l Layout) Constraints() int { return l.N * stateDim }

// StateIndex is the flat index of channel c at timestep i. Constraint
// residuals use the same index.
func (l Layout) StateIndex(c Channel, i int) int { return int(c)*l.N + i }

// SteerIndex is the flat index of the steering unknown at timestep i.
func (l Layout) SteerIndex(i int) int { return stateDim*l.N + i }

// ThrottleIndex is the flat index of the throttle unknown at timestep i.
func (l Layout) ThrottleIndex(i int) int { return stateDim*l.N + (l.N - 1) + i }

// Pack flattens h. Missing entries are left zero.
func (l Layout) Pack(h Horizon) []float64 {
	x := make([]float64, l.Vars())
	for i := 0; i < l.N && i < len(h.States); i++ {
		for c, v := range h.States[i].vector() {
			x[l.StateIndex(Channel(c), i)] = v
		}
	}
	for i := 0; i < l.N-1 && i < len(h.Inputs); i++ {
		x[l.SteerIndex(i)] = h.Inputs[i].Steer
		x[l.ThrottleIndex(i)] = h.Inputs[i].Throttle
	}
	return x
}

// Unpack is the inverse of Pack.
func (l Layout) Unpack(x []float64) Horizon {
	states, inputs := gather(l, x)
	h := Horizon{
		States: make([]VehicleState, len(states)),
		Inputs: make([]Actuation, len(inputs)),
	}
	for i, s := range states {
		h.States[i] = stateFromVector(s)
	}
	for i, u := range inputs {
		h.Inputs[i] = Actuation{Steer: u[inSteer], Throttle: u[inThrottle]}
	}
	return h
}

// gather splits a flat vector into per-timestep states and actuations.
func gather[T any](l Layout, x []T) ([]kinState[T], []kinInput[T]) {
	states := make([]kinState[T], l.N)
	for c := range stateDim {
		for i := range l.N {
			states[i][c] = x[l.StateIndex(Channel(c), i)]
		}
	}
	inputs := make([]kinInput[T], l.N-1)
	for i := range inputs {
		inputs[i][inSteer] = x[l.SteerIndex(i)]
		inputs[i][inThrottle] = x[l.ThrottleIndex(i)]
	}
	return states, inputs
}

// scatter writes per-timestep residuals into the flat constraint vector.
func scatter[T any](l Layout, residuals []kinState[T], g []T) {
	for i, r := range residuals {
		for c := range stateDim {
			g[l.StateIndex(Channel(c), i)] = r[c]
		}
	}
}
