// Package coverage turns the grid's active cells into a smoothed,
// rate-limited coverage fraction with a per-level breakdown.
package coverage

import (
	"fmt"
	"time"

	"github.com/banshee-data/capture.evidence/internal/evidence/grid"
	"github.com/banshee-data/capture.evidence/internal/fixedpoint"
	"github.com/banshee-data/capture.evidence/internal/monitoring"
	"github.com/banshee-data/capture.evidence/internal/timeutil"
)

// Result is one coverage update.
type Result struct {
	Coverage           float64                        `json:"coverage"`
	Raw                float64                        `json:"raw"`
	LevelCounts        [grid.ConfidenceLevels]int     `json:"level_counts"`
	LevelContributions [grid.ConfidenceLevels]float64 `json:"level_contributions"`
	ExcludedArea       float64                        `json:"excluded_area"` // reserved, always 0
	ActiveCells        int                            `json:"active_cells"`
	NonMonotonicEvents uint64                         `json:"non_monotonic_events"`
}

// Breakdown is the unsmoothed part of a Result, computed in fixed point so
// it is identical on every platform.
type Breakdown struct {
	Raw                fixedpoint.Q16
	LevelCounts        [grid.ConfidenceLevels]int
	LevelContributions [grid.ConfidenceLevels]fixedpoint.Wide
	ActiveCells        int
}

// Compute sums weight(level)·occupied over cells and divides by the cell
// count. An empty cell set yields zero.
func Compute(cells []grid.GridCell, weights fixedpoint.LUT) Breakdown {
	var b Breakdown
	var total fixedpoint.Wide
	for i := range cells {
		lvl := int(cells[i].Confidence.Clamp())
		contrib := weights.Q16At(lvl).Mul(fixedpoint.FromFloat(fixedpoint.Clamp01(cells[i].Mass.Occupied)))
		b.LevelCounts[lvl]++
		b.LevelContributions[lvl] = b.LevelContributions[lvl].Accumulate(contrib)
		total = total.Accumulate(contrib)
	}
	b.ActiveCells = len(cells)
	b.Raw = total.DivInt(len(cells))
	return b
}

// Estimator smooths successive coverage computations. It is not safe for
// concurrent use.
type Estimator struct {
	cfg   Config
	clock timeutil.Clock

	prev         float64
	last         time.Time
	started      bool
	nonMonotonic uint64
}

// NewEstimator returns an estimator reading elapsed time from clock.
func NewEstimator(cfg *Config, clock timeutil.Clock) (*Estimator, error) {
	if cfg == nil {
		return nil, fmt.Errorf("coverage config is nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid coverage config: %w", err)
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Estimator{cfg: *cfg, clock: clock}, nil
}

// Update computes coverage for cells at the clock's current time.
func (e *Estimator) Update(cells []grid.GridCell) Result {
	return e.UpdateAt(cells, e.clock.Now())
}

// UpdateAt computes coverage for cells as of now. The first update takes the
// raw value directly. Later updates apply the EMA and then limit the change
// to MaxRatePerSec times the elapsed time; a non-positive elapsed time holds
// the previous value and is counted.
func (e *Estimator) UpdateAt(cells []grid.GridCell, now time.Time) Result {
	b := Compute(cells, e.cfg.Weights)
	raw := b.Raw.Float()

	var out float64
	if !e.started {
		out = fixedpoint.Clamp01(raw)
		e.started = true
		e.last = now
	} else {
		elapsed := now.Sub(e.last)
		if elapsed <= 0 {
			e.nonMonotonic++
			monitoring.NonMonotonicClock.Inc()
			elapsed = 0
		} else {
			e.last = now
		}
		alpha := e.cfg.Alpha
		smoothed := float64(alpha*raw) + float64((1-alpha)*e.prev)
		limit := float64(e.cfg.MaxRatePerSec * elapsed.Seconds())
		delta := smoothed - e.prev
		if delta > limit {
			delta = limit
		} else if delta < -limit {
			delta = -limit
		}
		out = fixedpoint.Clamp01(e.prev + delta)
	}
	e.prev = out

	r := Result{
		Coverage:           out,
		Raw:                raw,
		LevelCounts:        b.LevelCounts,
		ActiveCells:        b.ActiveCells,
		NonMonotonicEvents: e.nonMonotonic,
	}
	for i, w := range b.LevelContributions {
		r.LevelContributions[i] = w.Float()
	}
	return r
}

// Current returns the last published coverage value.
func (e *Estimator) Current() float64 { return e.prev }

// NonMonotonicEvents returns how many updates saw a non-positive elapsed time.
func (e *Estimator) NonMonotonicEvents() uint64 { return e.nonMonotonic }
