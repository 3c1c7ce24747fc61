package control

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var approx = cmpopts.EquateApprox(0, 1e-9)

func TestFitPolynomialRoundTrip(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		coeffs Polynomial
		xs     []float64
	}{
		{"cubic", Polynomial{1.5, -0.3, 0.02, -0.001}, []float64{0, 10, 20, 30}},
		{"cubic overdetermined", Polynomial{-2, 0.1, 0.05, 0.0005}, []float64{-5, 0, 4, 9, 15, 22, 30}},
		{"line as cubic", Polynomial{0, 1, 0, 0}, []float64{1, 2, 3, 4, 5}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			ys := make([]float64, len(tc.xs))
			for i, x := range tc.xs {
				ys[i] = tc.coeffs.Eval(x)
			}
			got, err := FitPolynomial(tc.xs, ys, 3)
			require.NoError(t, err)
			require.Len(t, got, 4)
			if diff := cmp.Diff([]float64(tc.coeffs), []float64(got), cmpopts.EquateApprox(1e-6, 1e-9)); diff != "" {
				t.Errorf("coefficients mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestFitPolynomialDegenerate(t *testing.T) {
	t.Parallel()

	cases := map[string]struct {
		xs, ys []float64
	}{
		"too few points":   {[]float64{0, 1, 2}, []float64{0, 1, 4}},
		"length mismatch":  {[]float64{0, 1, 2, 3}, []float64{0, 1, 2}},
		"repeated x":       {[]float64{1, 1, 1, 1}, []float64{0, 1, 2, 3}},
		"non-finite y":     {[]float64{0, 1, 2, 3}, []float64{0, math.NaN(), 2, 3}},
		"non-finite x":     {[]float64{0, math.Inf(1), 2, 3}, []float64{0, 1, 2, 3}},
		"no points at all": {nil, nil},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			_, err := FitPolynomial(tc.xs, tc.ys, 3)
			assert.ErrorIs(t, err, ErrDegenerateFit)
		})
	}
}

func TestPolynomialEvalAndSlope(t *testing.T) {
	t.Parallel()

	p := Polynomial{1, -2, 0.5, 0.1}
	for _, x := range []float64{-3, 0, 0.5, 7} {
		want := 1 - 2*x + 0.5*x*x + 0.1*x*x*x
		wantSlope := -2 + x + 0.3*x*x
		assert.True(t, cmp.Equal(want, p.Eval(x), approx), "p(%g)", x)
		assert.True(t, cmp.Equal(wantSlope, p.Slope(x), approx), "p'(%g)", x)
	}

	assert.Equal(t, 0.0, Polynomial(nil).Eval(3))
	assert.Equal(t, 0.0, Polynomial{4}.Slope(3))
}
