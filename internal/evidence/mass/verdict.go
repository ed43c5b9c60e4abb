package mass

import (
	"github.com/banshee-data/capture.evidence/internal/fixedpoint"
	"github.com/banshee-data/capture.evidence/internal/monitoring"
)

// Verdict is the capture pipeline's discrete quality call on an observation.
type Verdict uint8

const (
	VerdictBad Verdict = iota
	VerdictSuspect
	VerdictGood
)

func (v Verdict) String() string {
	switch v {
	case VerdictBad:
		return "bad"
	case VerdictSuspect:
		return "suspect"
	case VerdictGood:
		return "good"
	default:
		return "invalid"
	}
}

// Score maps a discrete verdict onto the continuous verdict scale.
func (v Verdict) Score() float64 {
	switch v {
	case VerdictGood:
		return 1.0
	case VerdictSuspect:
		return 0.3
	default:
		return 0.0
	}
}

type anchor struct {
	score float64
	mass  Mass
}

// verdictTable is ordered by score; FromVerdict interpolates between
// neighbouring anchors.
var verdictTable = [...]anchor{
	{score: 0.0, mass: Mass{Occupied: 0.00, Free: 0.60, Unknown: 0.40}},
	{score: 0.3, mass: Mass{Occupied: 0.15, Free: 0.15, Unknown: 0.70}},
	{score: 1.0, mass: Mass{Occupied: 0.85, Free: 0.00, Unknown: 0.15}},
}

// FromVerdict returns the initial mass for a continuous verdict score in
// [0,1]. Scores outside the range clamp; non-finite scores count as bad and
// bump the sanitised-score counter.
func FromVerdict(score float64) Mass {
	if !fixedpoint.IsFinite(score) {
		monitoring.SanitizedScores.Inc()
	}
	score = fixedpoint.Clamp01(score)

	for i := 1; i < len(verdictTable); i++ {
		lo, hi := verdictTable[i-1], verdictTable[i]
		if score > hi.score {
			continue
		}
		t := (score - lo.score) / (hi.score - lo.score)
		return Seal(Mass{
			Occupied: lerp(lo.mass.Occupied, hi.mass.Occupied, t),
			Free:     lerp(lo.mass.Free, hi.mass.Free, t),
			Unknown:  lerp(lo.mass.Unknown, hi.mass.Unknown, t),
		})
	}
	return Seal(verdictTable[len(verdictTable)-1].mass)
}

// FromDiscreteVerdict returns the anchor mass for a discrete verdict.
func FromDiscreteVerdict(v Verdict) Mass {
	return FromVerdict(v.Score())
}

func lerp(a, b, t float64) float64 {
	return a + float64((b-a)*t)
}
