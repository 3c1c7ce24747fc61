// Package autodiff provides the numeric types the vehicle model and the MPC
// objective are written against: plain floating point values and
// reverse-mode differentiable variables recorded on a Tape.
package autodiff

import "math"

// Scalar is the arithmetic a generic model needs. T is the implementing type
// itself, so a function written as
//
//	func f[T Scalar[T]](x T) T
//
// runs unchanged on Float and on Var.
type Scalar[T any] interface {
	Value() float64
	// Const returns c as a constant in the same arithmetic context as the receiver.
	Const(c float64) T
	Add(y T) T
	Sub(y T) T
	Mul(y T) T
	Div(y T) T
	Neg() T
	AddConst(c float64) T
	Scale(c float64) T
	Square() T
	Sin() T
	Cos() T
	Atan() T
}

// Float is a float64 with the Scalar method set.
type Float float64

var (
	_ Scalar[Float] = Float(0)
	_ Scalar[Var]   = Var{}
)

func (x Float) Value() float64           { return float64(x) }
func (Float) Const(c float64) Float      { return Float(c) }
func (x Float) Add(y Float) Float        { return x + y }
func (x Float) Sub(y Float) Float        { return x - y }
func (x Float) Mul(y Float) Float        { return x * y }
func (x Float) Div(y Float) Float        { return x / y }
func (x Float) Neg() Float               { return -x }
func (x Float) AddConst(c float64) Float { return x + Float(c) }
func (x Float) Scale(c float64) Float    { return x * Float(c) }
func (x Float) Square() Float            { return x * x }
func (x Float) Sin() Float               { return Float(math.Sin(float64(x))) }
func (x Float) Cos() Float               { return Float(math.Cos(float64(x))) }
func (x Float) Atan() Float              { return Float(math.Atan(float64(x))) }

// Floats converts a float64 slice into a freshly allocated Float slice.
func Floats(xs []float64) []Float {
	out := make([]Float, len(xs))
	for i, v := range xs {
		out[i] = Float(v)
	}
	return out
}
