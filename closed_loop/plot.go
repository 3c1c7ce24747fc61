package main

import (
	"fmt"
	"image/color"
	"path/filepath"
	"strings"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

var (
	trackColor    = color.RGBA{R: 120, G: 120, B: 120, A: 255}
	pathColor     = color.RGBA{R: 31, G: 119, B: 180, A: 255}
	fallbackColor = color.RGBA{R: 214, G: 39, B: 40, A: 255}
	throttleColor = color.RGBA{R: 44, G: 160, B: 44, A: 255}
)

// SaveRunPlot writes the track with the driven path to path and the
// per-cycle signals next to it (name_signals.ext).
func SaveRunPlot(path string, track *Track, samples []Sample) error {
	if err := saveTrackPlot(path, track, samples); err != nil {
		return err
	}
	ext := filepath.Ext(path)
	return saveSignalPlot(strings.TrimSuffix(path, ext)+"_signals"+ext, samples)
}

func saveTrackPlot(path string, track *Track, samples []Sample) error {
	p := plot.New()
	p.Title.Text = "Track and driven path"
	p.X.Label.Text = "x (m)"
	p.Y.Label.Text = "y (m)"
	p.Add(plotter.NewGrid())

	trackPts := make(plotter.XYs, 0, len(track.Points)+1)
	for _, w := range track.Points {
		trackPts = append(trackPts, plotter.XY{X: w.X, Y: w.Y})
	}
	if track.Closed {
		trackPts = append(trackPts, trackPts[0])
	}
	trackLine, err := plotter.NewLine(trackPts)
	if err != nil {
		return err
	}
	trackLine.Color = trackColor
	trackLine.Width = vg.Points(1)
	trackLine.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}
	p.Add(trackLine)
	p.Legend.Add("track", trackLine)

	pathPts := make(plotter.XYs, 0, len(samples))
	var failPts plotter.XYs
	for _, s := range samples {
		pathPts = append(pathPts, plotter.XY{X: s.X, Y: s.Y})
		if !s.OK {
			failPts = append(failPts, plotter.XY{X: s.X, Y: s.Y})
		}
	}
	pathLine, err := plotter.NewLine(pathPts)
	if err != nil {
		return err
	}
	pathLine.Color = pathColor
	pathLine.Width = vg.Points(1.5)
	p.Add(pathLine)
	p.Legend.Add("vehicle", pathLine)

	if len(failPts) > 0 {
		sc, err := plotter.NewScatter(failPts)
		if err != nil {
			return err
		}
		sc.GlyphStyle.Color = fallbackColor
		sc.GlyphStyle.Radius = vg.Points(2)
		p.Add(sc)
		p.Legend.Add("fallback", sc)
	}

	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10

	if err := p.Save(10*vg.Inch, 8*vg.Inch, path); err != nil {
		return fmt.Errorf("save track plot: %w", err)
	}
	return nil
}

func saveSignalPlot(path string, samples []Sample) error {
	p := plot.New()
	p.Title.Text = "Cross-track error and commands"
	p.X.Label.Text = "t (s)"
	p.Add(plotter.NewGrid())

	cte := make(plotter.XYs, len(samples))
	steer := make(plotter.XYs, len(samples))
	throttle := make(plotter.XYs, len(samples))
	for i, s := range samples {
		cte[i] = plotter.XY{X: s.Time, Y: s.Cte}
		steer[i] = plotter.XY{X: s.Time, Y: s.Steering}
		throttle[i] = plotter.XY{X: s.Time, Y: s.Throttle}
	}

	for _, series := range []struct {
		name string
		pts  plotter.XYs
		c    color.Color
	}{
		{"|cte| (m)", cte, fallbackColor},
		{"steering (norm)", steer, pathColor},
		{"throttle", throttle, throttleColor},
	} {
		l, err := plotter.NewLine(series.pts)
		if err != nil {
			return err
		}
		l.Color = series.c
		l.Width = vg.Points(1)
		p.Add(l)
		p.Legend.Add(series.name, l)
	}

	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10

	if err := p.Save(14*vg.Inch, 6*vg.Inch, path); err != nil {
		return fmt.Errorf("save signal plot: %w", err)
	}
	return nil
}
