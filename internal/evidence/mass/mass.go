// Package mass implements Dempster-Shafer mass functions over the frame
// {occupied, free}, with "unknown" holding the mass assigned to the whole
// frame.
package mass

import (
	"fmt"
	"math"

	"github.com/banshee-data/capture.evidence/internal/fixedpoint"
	"github.com/banshee-data/capture.evidence/internal/monitoring"
)

// Epsilon bounds the drift of Occupied+Free+Unknown from 1 after sealing.
const Epsilon = 1e-9

// Mass is an immutable belief assignment. Values built through New, Seal,
// Combine, Discount or FromVerdict always satisfy the sum-to-one invariant.
type Mass struct {
	Occupied float64 `json:"occupied"`
	Free     float64 `json:"free"`
	Unknown  float64 `json:"unknown"`
}

// Vacuous returns the total-ignorance mass (0, 0, 1).
func Vacuous() Mass {
	return Mass{Unknown: 1}
}

// New seals (o, f, u) into a valid mass.
func New(o, f, u float64) Mass {
	return Seal(Mass{Occupied: o, Free: f, Unknown: u})
}

// Sum returns Occupied+Free+Unknown.
func (m Mass) Sum() float64 {
	return m.Occupied + m.Free + m.Unknown
}

// Valid reports whether m is finite, inside [0,1]³ and sums to one within
// Epsilon.
func (m Mass) Valid() bool {
	for _, v := range [3]float64{m.Occupied, m.Free, m.Unknown} {
		if !fixedpoint.IsFinite(v) || v < 0 || v > 1 {
			return false
		}
	}
	return math.Abs(m.Sum()-1) < Epsilon
}

// IsVacuous reports whether m carries no evidence.
func (m Mass) IsVacuous() bool {
	return m.Occupied == 0 && m.Free == 0 && m.Unknown == 1
}

// Belief returns the lower probability of occupancy.
func (m Mass) Belief() float64 { return m.Occupied }

// Plausibility returns the upper probability of occupancy.
func (m Mass) Plausibility() float64 { return m.Occupied + m.Unknown }

func (m Mass) String() string {
	return fmt.Sprintf("(o=%.6f f=%.6f u=%.6f)", m.Occupied, m.Free, m.Unknown)
}

// Seal enforces the mass invariant:
//  1. any non-finite component turns the whole mass vacuous,
//  2. each component is clamped to [0, 1] (negative zero becomes +0),
//  3. the result is renormalised to sum to exactly one, with Unknown
//     absorbing the final rounding residual.
//
// A mass whose components are all zero after clamping is vacuous.
func Seal(m Mass) Mass {
	if !fixedpoint.IsFinite(m.Occupied) || !fixedpoint.IsFinite(m.Free) || !fixedpoint.IsFinite(m.Unknown) {
		monitoring.SanitizedMasses.Inc()
		return Vacuous()
	}
	o := fixedpoint.Clamp01(m.Occupied)
	f := fixedpoint.Clamp01(m.Free)
	u := fixedpoint.Clamp01(m.Unknown)

	sum := o + f + u
	if sum == 0 {
		return Vacuous()
	}
	if sum != 1 {
		o = float64(o / sum)
		f = float64(f / sum)
	}
	// Unknown takes the residual so the sum is exact; clamp covers the
	// case where o+f rounds a hair above one.
	u = 1 - o - f
	if u < 0 {
		if o >= f {
			o = 1 - f
		} else {
			f = 1 - o
		}
		u = 0
	}
	return Mass{Occupied: o, Free: f, Unknown: fixedpoint.Canonical(u)}
}
