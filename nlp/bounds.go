package nlp

import "math"

type boundKind uint8

const (
	unbounded boundKind = iota
	fixed
	boxed
	lowerOnly
	upperOnly
)

// minGap keeps half-bounded starting points off the bound itself.
const minGap = 1e-6

// varMap reparameterises bounded variables so that the inner minimiser runs
// unconstrained in z while x(z) never leaves [lo, hi]:
//
//	boxed:     x = c + r*sin(z)
//	lowerOnly: x = lo + h(z)
//	upperOnly: x = hi - h(-z)
//
// with h(z) = (z + sqrt(z*z+4)) / 2, a smooth map of R onto (0, inf).
// Fixed variables are left out of z.
type varMap struct {
	kind   []boundKind
	lo, hi []float64
	active []int // x index for every z index
}

func newVarMap(lo, hi []float64, inf float64) *varMap {
	m := &varMap{
		kind: make([]boundKind, len(lo)),
		lo:   lo,
		hi:   hi,
	}
	for i := range lo {
		hasLo := lo[i] > -inf
		hasHi := hi[i] < inf
		switch {
		case hasLo && hasHi && lo[i] == hi[i]:
			m.kind[i] = fixed
		case hasLo && hasHi:
			m.kind[i] = boxed
		case hasLo:
			m.kind[i] = lowerOnly
		case hasHi:
			m.kind[i] = upperOnly
		default:
			m.kind[i] = unbounded
		}
		if m.kind[i] != fixed {
			m.active = append(m.active, i)
		}
	}
	return m
}

// dim is the number of free coordinates.
func (m *varMap) dim() int { return len(m.active) }

func softplus(z float64) float64      { return 0.5 * (z + math.Sqrt(z*z+4)) }
func softplusSlope(z float64) float64 { return 0.5 * (1 + z/math.Sqrt(z*z+4)) }
func softplusInverse(s float64) float64 {
	s = max(s, minGap)
	return s - 1/s
}

// toZ maps a starting point into z, projecting it onto the bounds first.
func (m *varMap) toZ(x []float64) []float64 {
	z := make([]float64, len(m.active))
	for k, i := range m.active {
		lo, hi := m.lo[i], m.hi[i]
		switch m.kind[i] {
		case boxed:
			c, r := 0.5*(lo+hi), 0.5*(hi-lo)
			z[k] = math.Asin(math.Max(-1, math.Min(1, (x[i]-c)/r)))
		case lowerOnly:
			z[k] = softplusInverse(x[i] - lo)
		case upperOnly:
			z[k] = -softplusInverse(hi - x[i])
		default:
			z[k] = x[i]
		}
	}
	return z
}

// toX writes x(z) into x, including fixed coordinates.
func (m *varMap) toX(z, x []float64) {
	for i, k := range m.kind {
		if k == fixed {
			x[i] = m.lo[i]
		}
	}
	for k, i := range m.active {
		lo, hi := m.lo[i], m.hi[i]
		switch m.kind[i] {
		case boxed:
			c, r := 0.5*(lo+hi), 0.5*(hi-lo)
			x[i] = math.Max(lo, math.Min(hi, c+r*math.Sin(z[k])))
		case lowerOnly:
			x[i] = lo + softplus(z[k])
		case upperOnly:
			x[i] = hi - softplus(-z[k])
		default:
			x[i] = z[k]
		}
	}
}

// chain converts a gradient with respect to x into one with respect to z.
func (m *varMap) chain(z, gx, gz []float64) {
	for k, i := range m.active {
		switch m.kind[i] {
		case boxed:
			r := 0.5 * (m.hi[i] - m.lo[i])
			gz[k] = gx[i] * r * math.Cos(z[k])
		case lowerOnly:
			gz[k] = gx[i] * softplusSlope(z[k])
		case upperOnly:
			gz[k] = gx[i] * softplusSlope(-z[k])
		default:
			gz[k] = gx[i]
		}
	}
}
