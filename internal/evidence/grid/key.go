package grid

import (
	"cmp"
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// MaxKeyLevel is the coarsest level of detail a key may be quantized at.
const MaxKeyLevel = 20

// SpatialKey identifies a grid cell: the Morton code of its coordinate at a
// level of detail. Level 0 uses the base cell size and each level doubles
// the cell edge.
type SpatialKey struct {
	Morton uint64
	Level  uint8
}

// Compare orders keys by Morton code, then level.
func (k SpatialKey) Compare(o SpatialKey) int {
	if c := cmp.Compare(k.Morton, o.Morton); c != 0 {
		return c
	}
	return cmp.Compare(k.Level, o.Level)
}

// Coord decodes the key's grid coordinate.
func (k SpatialKey) Coord() Coord {
	return DecodeMortonCode(k.Morton)
}

func (k SpatialKey) String() string {
	return fmt.Sprintf("%016x@%d", k.Morton, k.Level)
}

// KeyFor quantizes pos at the given level of detail and returns its key and
// coordinate.
func KeyFor(pos r3.Vec, baseCellSize float64, level uint8) (SpatialKey, Coord, error) {
	if level > MaxKeyLevel {
		level = MaxKeyLevel
	}
	c := Quantize(pos, baseCellSize*math.Ldexp(1, int(level)))
	code, err := MortonCode(c)
	if err != nil {
		return SpatialKey{}, c, err
	}
	return SpatialKey{Morton: code, Level: level}, c, nil
}
