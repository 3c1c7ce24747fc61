package autodiff

import "math"

// node is one recorded operation. Parents are stored as refs (index+1) so
// that a zero ref means "no parent".
type node struct {
	a, b   int32
	da, db float64
}

// Tape records operations on Var values for a reverse sweep.
// A Tape is not safe for concurrent use.
type Tape struct {
	nodes []node
	adj   []float64
}

// NewTape creates a tape with room for capacity operations.
func NewTape(capacity int) *Tape {
	return &Tape{nodes: make([]node, 0, capacity)}
}

// Reset drops every recorded operation. Variables created before Reset must
// not be used afterwards.
func (t *Tape) Reset() {
	t.nodes = t.nodes[:0]
}

// Len returns the number of recorded operations.
func (t *Tape) Len() int { return len(t.nodes) }

// Variable records an independent variable with value v.
func (t *Tape) Variable(v float64) Var {
	return t.push(v, 0, 0, 0, 0)
}

// Variables records one independent variable per value, reusing out when it
// has enough capacity.
func (t *Tape) Variables(values []float64, out []Var) []Var {
	if cap(out) < len(values) {
		out = make([]Var, len(values))
	}
	out = out[:len(values)]
	for i, v := range values {
		out[i] = t.Variable(v)
	}
	return out
}

func (t *Tape) push(v float64, a int32, da float64, b int32, db float64) Var {
	t.nodes = append(t.nodes, node{a: a, b: b, da: da, db: db})
	return Var{tape: t, ref: int32(len(t.nodes)), val: v}
}

// Gradient writes d(out)/d(inputs[k]) into grad[k].
func (t *Tape) Gradient(out Var, inputs []Var, grad []float64) {
	t.Adjoint([]Var{out}, []float64{1}, inputs, grad)
}

// Adjoint writes the gradient of sum_k weights[k]*outputs[k] with respect to
// inputs into grad using a single reverse sweep.
func (t *Tape) Adjoint(outputs []Var, weights []float64, inputs []Var, grad []float64) {
	n := len(t.nodes)
	if cap(t.adj) < n {
		t.adj = make([]float64, n)
	} else {
		t.adj = t.adj[:n]
		clear(t.adj)
	}

	top := 0
	for k, out := range outputs {
		if out.ref == 0 || weights[k] == 0 {
			continue
		}
		t.adj[out.ref-1] += weights[k]
		top = max(top, int(out.ref))
	}

	for i := top - 1; i >= 0; i-- {
		w := t.adj[i]
		if w == 0 {
			continue
		}
		nd := t.nodes[i]
		if nd.a != 0 {
			t.adj[nd.a-1] += w * nd.da
		}
		if nd.b != 0 {
			t.adj[nd.b-1] += w * nd.db
		}
	}

	for k, in := range inputs {
		if in.ref == 0 {
			grad[k] = 0
			continue
		}
		grad[k] = t.adj[in.ref-1]
	}
}

// Var is a value recorded on a Tape. The zero Var is the constant 0.
type Var struct {
	tape *Tape
	ref  int32
	val  float64
}

func (x Var) Value() float64 { return x.val }

// IsConstant reports whether x carries no derivative information.
func (x Var) IsConstant() bool { return x.ref == 0 }

func (x Var) Const(c float64) Var { return Var{tape: x.tape, val: c} }

func (x Var) unary(v, d float64) Var {
	if x.ref == 0 {
		return Var{tape: x.tape, val: v}
	}
	return x.tape.push(v, x.ref, d, 0, 0)
}

func (x Var) binary(y Var, v, dx, dy float64) Var {
	switch {
	case x.ref == 0 && y.ref == 0:
		t := x.tape
		if t == nil {
			t = y.tape
		}
		return Var{tape: t, val: v}
	case x.ref == 0:
		return y.tape.push(v, y.ref, dy, 0, 0)
	case y.ref == 0:
		return x.tape.push(v, x.ref, dx, 0, 0)
	}
	if x.tape != y.tape {
		panic("autodiff: variables recorded on different tapes")
	}
	return x.tape.push(v, x.ref, dx, y.ref, dy)
}

func (x Var) Add(y Var) Var { return x.binary(y, x.val+y.val, 1, 1) }
func (x Var) Sub(y Var) Var { return x.binary(y, x.val-y.val, 1, -1) }
func (x Var) Mul(y Var) Var { return x.binary(y, x.val*y.val, y.val, x.val) }

func (x Var) Div(y Var) Var {
	q := x.val / y.val
	return x.binary(y, q, 1/y.val, -q/y.val)
}

func (x Var) Neg() Var               { return x.unary(-x.val, -1) }
func (x Var) AddConst(c float64) Var { return x.unary(x.val+c, 1) }
func (x Var) Scale(c float64) Var    { return x.unary(x.val*c, c) }
func (x Var) Square() Var            { return x.unary(x.val*x.val, 2*x.val) }
func (x Var) Sin() Var               { return x.unary(math.Sin(x.val), math.Cos(x.val)) }
func (x Var) Cos() Var               { return x.unary(math.Cos(x.val), -math.Sin(x.val)) }
func (x Var) Atan() Var              { return x.unary(math.Atan(x.val), 1/(1+x.val*x.val)) }
