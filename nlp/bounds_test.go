package nlp

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVarMapRoundTrip(t *testing.T) {
	t.Parallel()

	inf := 1e19
	lo := []float64{-inf, -2, 0, -inf, 4}
	hi := []float64{inf, 3, inf, 1, 4}
	vm := newVarMap(lo, hi, inf)
	require.Equal(t, 4, vm.dim(), "fixed variable must leave z")

	x := []float64{7.5, 0.5, 2, -3, 4}
	z := vm.toZ(x)
	got := make([]float64, len(x))
	vm.toX(z, got)
	assert.InDeltaSlice(t, x, got, 1e-9)
}

func TestVarMapProjectsStartOntoBounds(t *testing.T) {
	t.Parallel()

	vm := newVarMap([]float64{-1, 0}, []float64{1, 1e19}, 1e19)
	got := make([]float64, 2)
	vm.toX(vm.toZ([]float64{5, -5}), got)

	assert.InDelta(t, 1, got[0], 1e-12)
	assert.Greater(t, got[1], 0.0)
	assert.Less(t, got[1], 1e-5)
}

func TestVarMapNeverLeavesBounds(t *testing.T) {
	t.Parallel()

	vm := newVarMap([]float64{-0.4, 1, -1e19}, []float64{0.4, 1e19, -2}, 1e19)
	x := make([]float64, 3)
	for _, v := range []float64{-1e6, -50, -1, 0, 1, 50, 1e6} {
		vm.toX([]float64{v, v, v}, x)
		assert.GreaterOrEqual(t, x[0], -0.4)
		assert.LessOrEqual(t, x[0], 0.4)
		assert.Greater(t, x[1], 1.0)
		assert.Less(t, x[2], -2.0)
	}
}

func TestVarMapChainMatchesFiniteDifference(t *testing.T) {
	t.Parallel()

	inf := 1e19
	vm := newVarMap([]float64{-inf, -2, 0, -inf}, []float64{inf, 3, inf, 1}, inf)
	// f(x) = sum_i (i+1) * x_i^2, df/dx_i = 2(i+1) x_i
	f := func(x []float64) float64 {
		var s float64
		for i, v := range x {
			s += float64(i+1) * v * v
		}
		return s
	}

	z := []float64{0.3, 0.7, -1.2, 2.1}
	x := make([]float64, 4)
	vm.toX(z, x)
	gx := make([]float64, 4)
	for i, v := range x {
		gx[i] = 2 * float64(i+1) * v
	}
	gz := make([]float64, 4)
	vm.chain(z, gx, gz)

	const h = 1e-6
	for k := range z {
		zp := append([]float64(nil), z...)
		zm := append([]float64(nil), z...)
		zp[k] += h
		zm[k] -= h
		xp, xm := make([]float64, 4), make([]float64, 4)
		vm.toX(zp, xp)
		vm.toX(zm, xm)
		fd := (f(xp) - f(xm)) / (2 * h)
		assert.InDelta(t, fd, gz[k], 1e-5*math.Max(1, math.Abs(fd)), "coordinate %d", k)
	}
}

func TestViolation(t *testing.T) {
	t.Parallel()

	lo := []float64{0, -1, 2}
	hi := []float64{0, 1, 1e19}
	assert.Equal(t, 0.0, violation([]float64{0, 0.5, 3}, lo, hi))
	assert.InDelta(t, 1.5, violation([]float64{0.2, -2.5, 3}, lo, hi), 1e-12)
	assert.True(t, math.IsInf(violation([]float64{math.NaN(), 0, 3}, lo, hi), 1))
}
