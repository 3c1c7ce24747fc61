package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	control "mpc-path-follow/closed_loop/path_control"
)

func lineTrack(t *testing.T, n int, closed bool) *Track {
	t.Helper()
	pts := make([]control.Point, n)
	for i := range pts {
		pts[i] = control.Point{X: 10 * float64(i)}
	}
	tr, err := NewTrack(pts, closed)
	require.NoError(t, err)
	return tr
}

func TestTrackNearest(t *testing.T) {
	t.Parallel()

	tr := lineTrack(t, 6, false)
	seg, dist := tr.Nearest(control.Point{X: 23, Y: 4})
	assert.Equal(t, 2, seg)
	assert.InDelta(t, 4, dist, 1e-12)

	seg, dist = tr.Nearest(control.Point{X: -3, Y: 4})
	assert.Equal(t, 0, seg)
	assert.InDelta(t, 5, dist, 1e-12, "distance to the segment end point")
}

func TestTrackWindow(t *testing.T) {
	t.Parallel()

	open := lineTrack(t, 8, false)
	xs, ys := open.Window(control.Point{X: 12}, 4)
	assert.Equal(t, []float64{10, 20, 30, 40}, xs)
	assert.Equal(t, []float64{0, 0, 0, 0}, ys)

	xs, _ = open.Window(control.Point{X: 65}, 4)
	assert.Equal(t, []float64{40, 50, 60, 70}, xs, "open tracks clamp at the end")

	closed := lineTrack(t, 8, true)
	xs, _ = closed.Window(control.Point{X: 65}, 4)
	assert.Equal(t, []float64{60, 70, 0, 10}, xs, "closed tracks wrap around")

	xs, _ = open.Window(control.Point{}, 20)
	assert.Len(t, xs, 8)
}

func TestTrackAtEnd(t *testing.T) {
	t.Parallel()

	open := lineTrack(t, 8, false)
	assert.False(t, open.AtEnd(control.Point{X: 15}, 4))
	assert.True(t, open.AtEnd(control.Point{X: 45}, 4))
	assert.False(t, lineTrack(t, 8, true).AtEnd(control.Point{X: 69}, 4))
}

func TestSegmentDistanceDegenerate(t *testing.T) {
	t.Parallel()

	a := control.Point{X: 1, Y: 1}
	assert.InDelta(t, 5, segmentDistance(control.Point{X: 4, Y: 5}, a, a), 1e-12)
}
