package grid

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/capture.evidence/internal/fixedpoint"
	"github.com/banshee-data/capture.evidence/internal/monitoring"
)

// Morton coordinates carry 21 signed bits per axis.
const (
	AxisBits = 21
	AxisMin  = -(1 << (AxisBits - 1))
	AxisMax  = (1 << (AxisBits - 1)) - 1
	axisMask = (1 << AxisBits) - 1
)

// ErrCoordOutOfRange is returned when a coordinate does not fit in 21 bits.
var ErrCoordOutOfRange = errors.New("grid: coordinate out of morton range")

// Coord is an integer grid coordinate.
type Coord struct {
	X, Y, Z int32
}

func (c Coord) String() string {
	return fmt.Sprintf("(%d,%d,%d)", c.X, c.Y, c.Z)
}

// InRange reports whether every axis fits the Morton encoding.
func (c Coord) InRange() bool {
	return inAxis(c.X) && inAxis(c.Y) && inAxis(c.Z)
}

func inAxis(v int32) bool { return v >= AxisMin && v <= AxisMax }

// Quantize maps a world position to the cell containing it, floor(p/cellSize)
// per axis. Non-finite components are replaced by 0 and counted. Values
// beyond the int32 range saturate; MortonCode rejects them afterwards.
func Quantize(pos r3.Vec, cellSize float64) Coord {
	return Coord{
		X: quantizeAxis(pos.X, cellSize),
		Y: quantizeAxis(pos.Y, cellSize),
		Z: quantizeAxis(pos.Z, cellSize),
	}
}

func quantizeAxis(v, cellSize float64) int32 {
	if !fixedpoint.IsFinite(v) {
		monitoring.SanitizedPositions.Inc()
		return 0
	}
	f := math.Floor(v / cellSize)
	switch {
	case math.IsNaN(f):
		return 0
	case f >= math.MaxInt32:
		return math.MaxInt32
	case f <= math.MinInt32:
		return math.MinInt32
	}
	return int32(f)
}

// MortonCode interleaves the low 21 bits of each axis, x in bit 0, y in bit 1
// and z in bit 2 of every triple.
func MortonCode(c Coord) (uint64, error) {
	if !c.InRange() {
		return 0, fmt.Errorf("%w: %s", ErrCoordOutOfRange, c)
	}
	x := spread(uint64(uint32(c.X)) & axisMask)
	y := spread(uint64(uint32(c.Y)) & axisMask)
	z := spread(uint64(uint32(c.Z)) & axisMask)
	return x | y<<1 | z<<2, nil
}

// DecodeMortonCode inverts MortonCode, sign-extending each axis.
func DecodeMortonCode(code uint64) Coord {
	return Coord{
		X: signExtend(compact(code)),
		Y: signExtend(compact(code >> 1)),
		Z: signExtend(compact(code >> 2)),
	}
}

func spread(v uint64) uint64 {
	v &= axisMask
	v = (v | v<<32) & 0x1f00000000ffff
	v = (v | v<<16) & 0x1f0000ff0000ff
	v = (v | v<<8) & 0x100f00f00f00f00f
	v = (v | v<<4) & 0x10c30c30c30c30c3
	v = (v | v<<2) & 0x1249249249249249
	return v
}

func compact(v uint64) uint64 {
	v &= 0x1249249249249249
	v = (v ^ v>>2) & 0x10c30c30c30c30c3
	v = (v ^ v>>4) & 0x100f00f00f00f00f
	v = (v ^ v>>8) & 0x1f0000ff0000ff
	v = (v ^ v>>16) & 0x1f00000000ffff
	v = (v ^ v>>32) & axisMask
	return v
}

func signExtend(v uint64) int32 {
	return int32(uint32(v)<<(32-AxisBits)) >> (32 - AxisBits)
}
