package grid

import "github.com/banshee-data/capture.evidence/internal/evidence/mass"

// Confidence is the ordinal confidence scale L0..L6.
type Confidence uint8

// MaxConfidence is L6.
const MaxConfidence Confidence = 6

// ConfidenceLevels is the number of ordinal levels.
const ConfidenceLevels = int(MaxConfidence) + 1

// confidenceThresholds[i] is the occupied mass needed for level i+1.
var confidenceThresholds = [...]float64{0.10, 0.25, 0.40, 0.55, 0.70, 0.85}

// ConfidenceFor derives a cell's level from its fused occupied mass, capped
// by the number of distinct view directions that observed it.
func ConfidenceFor(m mass.Mass, viewMask uint32) Confidence {
	var lvl Confidence
	for _, th := range confidenceThresholds {
		if m.Occupied < th {
			break
		}
		lvl++
	}
	if views := ViewCount(viewMask); int(lvl) > views {
		lvl = Confidence(views)
	}
	return lvl
}

// Clamp limits c to MaxConfidence.
func (c Confidence) Clamp() Confidence {
	if c > MaxConfidence {
		return MaxConfidence
	}
	return c
}

// GridCell is the fused state at one key.
type GridCell struct {
	Key              SpatialKey
	PatchID          string
	Coord            Coord
	Mass             mass.Mass
	Confidence       Confidence
	ViewMask         uint32
	ObservationCount uint32
	LastUpdateNanos  int64
}
