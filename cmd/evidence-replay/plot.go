package main

import (
	"fmt"
	"image/color"
	"os"
	"path/filepath"
	"slices"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/capture.evidence/internal/admission"
	"github.com/banshee-data/capture.evidence/internal/replay"
	"github.com/banshee-data/capture.evidence/internal/security"
)

// plotTarget returns the file the coverage plot is written to. A directory
// gets a file named after the session.
func plotTarget(path, sessionID string) (string, error) {
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		path = filepath.Join(path, fmt.Sprintf("coverage_%s.png", security.SanitizeFilename(sessionID)))
	}
	if err := security.OutputPath(path); err != nil {
		return "", err
	}
	return path, nil
}

// plotCoverage draws smoothed and raw coverage against the observation
// sequence number.
func plotCoverage(res *replay.Result, path string) error {
	if len(res.Coverage) == 0 {
		return fmt.Errorf("no coverage samples to plot")
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Session %s - Coverage", res.SessionID)
	p.X.Label.Text = "Observation"
	p.Y.Label.Text = "Coverage"
	p.Y.Min = 0
	p.Y.Max = 1
	p.Add(plotter.NewGrid())

	smoothed := make(plotter.XYs, 0, len(res.Coverage))
	raw := make(plotter.XYs, 0, len(res.Coverage))
	for _, c := range res.Coverage {
		smoothed = append(smoothed, plotter.XY{X: float64(c.Seq), Y: c.Coverage})
		raw = append(raw, plotter.XY{X: float64(c.Seq), Y: c.Raw})
	}

	rawLine, err := plotter.NewLine(raw)
	if err != nil {
		return fmt.Errorf("raw coverage line: %w", err)
	}
	rawLine.Width = vg.Points(1)
	rawLine.Color = color.RGBA{R: 160, G: 160, B: 160, A: 255}
	rawLine.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}

	line, points, err := plotter.NewLinePoints(smoothed)
	if err != nil {
		return fmt.Errorf("coverage line: %w", err)
	}
	line.Width = vg.Points(1.5)
	line.Color = color.RGBA{R: 31, G: 119, B: 180, A: 255}
	points.Color = line.Color
	points.Radius = vg.Points(2)

	p.Add(rawLine, line, points)
	p.Legend.Add("raw", rawLine)
	p.Legend.Add("smoothed", line)
	p.Legend.Top = true
	p.Legend.Left = true

	if err := p.Save(10*vg.Inch, 5*vg.Inch, path); err != nil {
		return fmt.Errorf("save plot %s: %w", path, err)
	}
	return nil
}

func sortedReasons(m map[admission.ReasonCode]int) []admission.ReasonCode {
	out := make([]admission.ReasonCode, 0, len(m))
	for r := range m {
		out = append(out, r)
	}
	slices.Sort(out)
	return out
}
