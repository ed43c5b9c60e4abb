// Package testutil provides shared test fixtures.
//
// Trace generates synthetic capture sessions: a sensor orbiting a small set
// of surface patches, so tests across packages feed the engine the same
// realistic stream.
package testutil

import (
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/capture.evidence/internal/session"
)

// TraceConfig shapes a synthetic trace. Zero fields take the defaults in
// DefaultTraceConfig.
type TraceConfig struct {
	Observations int
	Patches      int
	Step         time.Duration // spacing between observations
	CellSize     float64       // patch spacing in metres
	Orbits       float64       // full sensor orbits over the trace
	StartWall    time.Time

	// RepeatEvery re-sends the previous candidate every n observations,
	// as a flaky transport would. Zero disables repeats.
	RepeatEvery int
}

// DefaultTraceConfig returns a short, mostly admissible trace.
func DefaultTraceConfig() TraceConfig {
	return TraceConfig{
		Observations: 120,
		Patches:      8,
		Step:         150 * time.Millisecond,
		CellSize:     1.0,
		Orbits:       2,
		StartWall:    time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func (c TraceConfig) withDefaults() TraceConfig {
	d := DefaultTraceConfig()
	if c.Observations <= 0 {
		c.Observations = d.Observations
	}
	if c.Patches <= 0 {
		c.Patches = d.Patches
	}
	if c.Step <= 0 {
		c.Step = d.Step
	}
	if c.CellSize <= 0 {
		c.CellSize = d.CellSize
	}
	if c.Orbits <= 0 {
		c.Orbits = d.Orbits
	}
	if c.StartWall.IsZero() {
		c.StartWall = d.StartWall
	}
	return c
}

// Trace returns a deterministic observation stream. Patch p sits on a ring
// of radius CellSize*Patches/2 around the origin; the sensor looks at each
// patch in turn from an orbiting direction, and the verdict score drifts
// with the viewing angle.
func Trace(cfg TraceConfig) []session.Observation {
	cfg = cfg.withDefaults()
	radius := cfg.CellSize * float64(cfg.Patches) / 2
	out := make([]session.Observation, 0, cfg.Observations+cfg.Observations/max(cfg.RepeatEvery, 1))

	for i := 0; i < cfg.Observations; i++ {
		p := i % cfg.Patches
		theta := 2 * math.Pi * float64(p) / float64(cfg.Patches)
		pos := r3.Vec{
			X: radius * math.Cos(theta),
			Y: radius * math.Sin(theta),
			Z: 0.25 * float64(p%3),
		}
		phi := 2 * math.Pi * cfg.Orbits * float64(i) / float64(cfg.Observations)
		dir := r3.Vec{X: math.Cos(phi), Y: math.Sin(phi), Z: -0.5}
		score := 0.55 + 0.4*math.Abs(math.Cos(phi-theta))
		mono := int64(i) * int64(cfg.Step)

		out = append(out, session.Observation{
			CandidateID: fmt.Sprintf("cand-%05d", i),
			PatchID:     fmt.Sprintf("patch-%02d", p),
			Position:    pos,
			Score:       math.Round(score*1e6) / 1e6,
			ViewDir:     dir,
			WallNanos:   cfg.StartWall.UnixNano() + mono,
			MonoNanos:   mono,
		})
		if cfg.RepeatEvery > 0 && i > 0 && i%cfg.RepeatEvery == 0 {
			out = append(out, out[len(out)-1])
		}
	}
	return out
}
