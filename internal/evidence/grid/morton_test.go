package grid

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/capture.evidence/internal/monitoring"
)

func TestMortonCode_BitLayout(t *testing.T) {
	t.Parallel()
	tests := []struct {
		c    Coord
		want uint64
	}{
		{Coord{0, 0, 0}, 0},
		{Coord{1, 0, 0}, 1},
		{Coord{0, 1, 0}, 2},
		{Coord{0, 0, 1}, 4},
		{Coord{1, 1, 1}, 7},
		{Coord{2, 0, 0}, 8},
		{Coord{-1, 0, 0}, 0x1249249249249249},
		{Coord{-1, -1, -1}, 1<<63 - 1},
	}
	for _, tt := range tests {
		got, err := MortonCode(tt.c)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "coord %s", tt.c)
	}
}

func TestMortonCode_RoundTrip(t *testing.T) {
	t.Parallel()
	values := []int32{0, 1, -1, 2, -2, 7, -8, 1000, -1000, 123456, -654321, AxisMax, AxisMin}
	for _, x := range values {
		for _, y := range values {
			for _, z := range values {
				c := Coord{x, y, z}
				code, err := MortonCode(c)
				require.NoError(t, err)
				require.Equal(t, c, DecodeMortonCode(code))
			}
		}
	}
}

func TestMortonCode_OutOfRange(t *testing.T) {
	t.Parallel()
	for _, c := range []Coord{
		{AxisMax + 1, 0, 0},
		{0, AxisMin - 1, 0},
		{0, 0, math.MaxInt32},
		{math.MinInt32, 0, 0},
	} {
		_, err := MortonCode(c)
		assert.ErrorIs(t, err, ErrCoordOutOfRange, "coord %s", c)
	}
}

func TestQuantize(t *testing.T) {
	t.Parallel()
	assert.Equal(t, Coord{0, 0, 0}, Quantize(r3.Vec{X: 0.01, Y: 0.049, Z: 0}, 0.05))
	assert.Equal(t, Coord{-1, -1, 1}, Quantize(r3.Vec{X: -0.01, Y: -0.05, Z: 0.05}, 0.05))
	assert.Equal(t, Coord{20, -20, 3}, Quantize(r3.Vec{X: 1.0, Y: -1.0, Z: 0.16}, 0.05))
	assert.Equal(t, Coord{math.MaxInt32, math.MinInt32, 0}, Quantize(r3.Vec{X: 1e300, Y: -1e300}, 1))
}

func TestQuantize_SanitizesNonFinite(t *testing.T) {
	t.Parallel()
	before := monitoring.SanitizedPositions.Load()
	c := Quantize(r3.Vec{X: math.NaN(), Y: math.Inf(1), Z: 2.5}, 1)
	assert.Equal(t, Coord{0, 0, 2}, c)
	assert.GreaterOrEqual(t, monitoring.SanitizedPositions.Load()-before, uint64(2))
}

func TestKeyFor(t *testing.T) {
	t.Parallel()
	k0, c0, err := KeyFor(r3.Vec{X: 0.3, Y: 0.1, Z: -0.1}, 0.1, 0)
	require.NoError(t, err)
	assert.Equal(t, Coord{2, 1, -1}, c0)
	assert.Equal(t, uint8(0), k0.Level)
	assert.Equal(t, c0, k0.Coord())

	k1, c1, err := KeyFor(r3.Vec{X: 0.3, Y: 0.1, Z: -0.1}, 0.1, 1)
	require.NoError(t, err)
	assert.Equal(t, Coord{1, 0, -1}, c1)
	assert.Equal(t, uint8(1), k1.Level)

	_, _, err = KeyFor(r3.Vec{X: 1e9}, 0.05, 0)
	assert.ErrorIs(t, err, ErrCoordOutOfRange)
}

func TestSpatialKeyCompare(t *testing.T) {
	t.Parallel()
	a := SpatialKey{Morton: 5, Level: 0}
	b := SpatialKey{Morton: 5, Level: 2}
	c := SpatialKey{Morton: 6, Level: 0}
	assert.Equal(t, -1, a.Compare(b))
	assert.Equal(t, 1, b.Compare(a))
	assert.Equal(t, -1, b.Compare(c))
	assert.Equal(t, 0, a.Compare(a))
	assert.Equal(t, "0000000000000005@2", b.String())
}
