package main

import (
	"fmt"
	"math"

	control "mpc-path-follow/closed_loop/path_control"
)

// Track is a polyline of waypoints in the world frame.
type Track struct {
	Points []control.Point
	Closed bool
}

func NewTrack(pts []control.Point, closed bool) (*Track, error) {
	if len(pts) < control.ReferenceDegree+1 {
		return nil, fmt.Errorf("track has %d waypoints, need at least %d", len(pts), control.ReferenceDegree+1)
	}
	return &Track{Points: pts, Closed: closed}, nil
}

func (t *Track) segments() int {
	if t.Closed {
		return len(t.Points)
	}
	return len(t.Points) - 1
}

func (t *Track) at(i int) control.Point {
	return t.Points[i%len(t.Points)]
}

// Nearest returns the segment closest to p and the distance to it.
func (t *Track) Nearest(p control.Point) (seg int, dist float64) {
	dist = math.Inf(1)
	for i := range t.segments() {
		if d := segmentDistance(p, t.at(i), t.at(i+1)); d < dist {
			seg, dist = i, d
		}
	}
	return seg, dist
}

// Window returns k waypoints starting at the first point of the segment
// nearest p.
// Open tracks are clamped so the window always holds k points.
func (t *Track) Window(p control.Point, k int) (xs, ys []float64) {
	seg, _ := t.Nearest(p)
	start := seg
	if !t.Closed {
		start = max(0, min(seg, len(t.Points)-k))
	}
	k = min(k, len(t.Points))
	xs, ys = make([]float64, k), make([]float64, k)
	for i := range k {
		w := t.at(start + i)
		xs[i], ys[i] = w.X, w.Y
	}
	return xs, ys
}

// AtEnd reports whether p has reached the last segment of an open track.
func (t *Track) AtEnd(p control.Point, k int) bool {
	if t.Closed {
		return false
	}
	seg, _ := t.Nearest(p)
	return seg >= len(t.Points)-k
}

func segmentDistance(p, a, b control.Point) float64 {
	dx, dy := b.X-a.X, b.Y-a.Y
	l2 := dx*dx + dy*dy
	if l2 == 0 {
		return math.Hypot(p.X-a.X, p.Y-a.Y)
	}
	u := max(0, min(1, ((p.X-a.X)*dx+(p.Y-a.Y)*dy)/l2))
	return math.Hypot(p.X-(a.X+u*dx), p.Y-(a.Y+u*dy))
}
