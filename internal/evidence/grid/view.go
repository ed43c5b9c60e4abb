package grid

import (
	"math/bits"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/capture.evidence/internal/fixedpoint"
)

// ViewDirections is the number of discrete view buckets: the 26 neighbours
// of a cube cell.
const ViewDirections = 26

// ViewMaskAll has every direction bit set.
const ViewMaskAll uint32 = 1<<ViewDirections - 1

// axisBucket is cos(67.5°); components at or beyond it count as pointing
// along that axis.
const axisBucket = 0.3827

// ViewBit returns the single-bit mask for the direction bucket closest to
// dir. A zero-length or non-finite direction returns 0.
func ViewBit(dir r3.Vec) uint32 {
	if !fixedpoint.IsFinite(dir.X) || !fixedpoint.IsFinite(dir.Y) || !fixedpoint.IsFinite(dir.Z) {
		return 0
	}
	if r3.Norm(dir) == 0 {
		return 0
	}
	u := r3.Unit(dir)
	idx := (bucket(u.X)+1)*9 + (bucket(u.Y)+1)*3 + (bucket(u.Z) + 1)
	if idx == 13 {
		return 0
	}
	if idx > 13 {
		idx--
	}
	return 1 << idx
}

func bucket(c float64) int {
	switch {
	case c >= axisBucket:
		return 1
	case c <= -axisBucket:
		return -1
	}
	return 0
}

// ViewCount returns the number of distinct directions in mask.
func ViewCount(mask uint32) int {
	return bits.OnesCount32(mask & ViewMaskAll)
}
