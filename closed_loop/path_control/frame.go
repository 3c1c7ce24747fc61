package control

import "math"

// Point is a 2D position.
type Point struct {
	X, Y float64
}

// Pose is the vehicle position and heading in the world frame.
type Pose struct {
	X, Y, Psi float64
}

// ToVehicle expresses a world point in the vehicle frame: vehicle at the
// origin, heading along +x.
func (p Pose) ToVehicle(w Point) Point {
	dx, dy := w.X-p.X, w.Y-p.Y
	sin, cos := math.Sincos(-p.Psi)
	return Point{
		X: dx*cos - dy*sin,
		Y: dx*sin + dy*cos,
	}
}

// ToWorld is the inverse of ToVehicle.
func (p Pose) ToWorld(v Point) Point {
	sin, cos := math.Sincos(p.Psi)
	return Point{
		X: v.X*cos - v.Y*sin + p.X,
		Y: v.X*sin + v.Y*cos + p.Y,
	}
}

// ToVehicleFrame transforms parallel world coordinate slices.
func (p Pose) ToVehicleFrame(xs, ys []float64) (vx, vy []float64) {
	n := min(len(xs), len(ys))
	vx = make([]float64, n)
	vy = make([]float64, n)
	for i := range n {
		v := p.ToVehicle(Point{X: xs[i], Y: ys[i]})
		vx[i], vy[i] = v.X, v.Y
	}
	return vx, vy
}
