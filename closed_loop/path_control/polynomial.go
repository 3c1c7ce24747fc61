package control

import (
	"errors"
	"fmt"
	"math"
	"slices"

	"gonum.org/v1/gonum/mat"

	"mpc-path-follow/autodiff"
)

// ErrDegenerateFit is returned when no unique polynomial fits the points.
var ErrDegenerateFit = errors.New("degenerate polynomial fit")

// Polynomial holds coefficients ordered by power: p[i] multiplies x^i.
type Polynomial []float64

// FitPolynomial fits a polynomial of the given degree to the points by least
// squares, solving the Vandermonde system with a QR factorisation.
func FitPolynomial(xs, ys []float64, degree int) (Polynomial, error) {
	if len(xs) != len(ys) {
		return nil, fmt.Errorf("%w: %d x values, %d y values", ErrDegenerateFit, len(xs), len(ys))
	}
	if degree < 1 || len(xs) < degree+1 {
		return nil, fmt.Errorf("%w: degree %d needs at least %d points, got %d",
			ErrDegenerateFit, degree, degree+1, len(xs))
	}
	for i := range xs {
		if !isFinite(xs[i]) || !isFinite(ys[i]) {
			return nil, fmt.Errorf("%w: point %d is not finite", ErrDegenerateFit, i)
		}
	}
	if n := distinct(xs); n < degree+1 {
		return nil, fmt.Errorf("%w: %d distinct x values, need %d", ErrDegenerateFit, n, degree+1)
	}

	a := mat.NewDense(len(xs), degree+1, nil)
	for i, x := range xs {
		v := 1.0
		for j := 0; j <= degree; j++ {
			a.Set(i, j, v)
			v *= x
		}
	}
	b := mat.NewDense(len(ys), 1, append([]float64(nil), ys...))

	var qr mat.QR
	qr.Factorize(a)
	var sol mat.Dense
	if err := qr.SolveTo(&sol, false, b); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDegenerateFit, err)
	}

	p := make(Polynomial, degree+1)
	for j := range p {
		p[j] = sol.At(j, 0)
		if !isFinite(p[j]) {
			return nil, fmt.Errorf("%w: coefficient %d is not finite", ErrDegenerateFit, j)
		}
	}
	return p, nil
}

// Eval returns p(x).
func (p Polynomial) Eval(x float64) float64 {
	return evalPoly(p, autodiff.Float(x)).Value()
}

// Slope returns p'(x).
func (p Polynomial) Slope(x float64) float64 {
	return slopePoly(p, autodiff.Float(x)).Value()
}

// evalPoly evaluates p at x with Horner's scheme.
func evalPoly[T autodiff.Scalar[T]](p Polynomial, x T) T {
	acc := x.Const(0)
	for i := len(p) - 1; i >= 0; i-- {
		acc = acc.Mul(x).AddConst(p[i])
	}
	return acc
}

func slopePoly[T autodiff.Scalar[T]](p Polynomial, x T) T {
	acc := x.Const(0)
	for i := len(p) - 1; i >= 1; i-- {
		acc = acc.Mul(x).AddConst(float64(i) * p[i])
	}
	return acc
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func distinct(xs []float64) int {
	s := slices.Clone(xs)
	slices.Sort(s)
	return len(slices.Compact(s))
}
