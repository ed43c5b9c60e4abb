package grid

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/capture.evidence/internal/evidence/mass"
)

func sampleCells() []GridCell {
	return []GridCell{
		{
			Key:              SpatialKey{Morton: 0xdeadbeef, Level: 2},
			PatchID:          "patch-a",
			Coord:            Coord{X: -5, Y: 7, Z: AxisMin},
			Mass:             mass.New(0.3, 0.1, 0.6),
			Confidence:       4,
			ViewMask:         ViewMaskAll,
			ObservationCount: 12,
			LastUpdateNanos:  -1,
		},
		{Key: SpatialKey{Morton: 1}, Mass: mass.Vacuous()},
	}
}

func TestEncodeCells_RoundTrip(t *testing.T) {
	t.Parallel()
	cells := sampleCells()
	data, err := EncodeCells(cells)
	require.NoError(t, err)
	got, err := DecodeCells(data)
	require.NoError(t, err)
	assert.Equal(t, cells, got)

	empty, err := EncodeCells(nil)
	require.NoError(t, err)
	got, err = DecodeCells(empty)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestEncodeCells_BitExactMass(t *testing.T) {
	t.Parallel()
	a := sampleCells()
	b := sampleCells()
	b[0].Mass.Occupied = math.Nextafter(b[0].Mass.Occupied, 1)
	da, _ := Digest(a)
	db, _ := Digest(b)
	assert.NotEqual(t, da, db)
}

func TestDecodeCells_Errors(t *testing.T) {
	t.Parallel()
	good, err := EncodeCells(sampleCells())
	require.NoError(t, err)

	_, err = DecodeCells(good[:5])
	assert.ErrorIs(t, err, ErrSnapshotCorrupt)

	bad := append([]byte(nil), good...)
	bad[0] = 'X'
	_, err = DecodeCells(bad)
	assert.ErrorIs(t, err, ErrSnapshotMagic)

	bad = append([]byte(nil), good...)
	bad[5] = 9
	_, err = DecodeCells(bad)
	assert.ErrorIs(t, err, ErrSnapshotVersion)

	for _, n := range []int{len(good) - 1, len(good) - 40, 20} {
		_, err = DecodeCells(good[:n])
		assert.ErrorIs(t, err, ErrSnapshotCorrupt, "truncated to %d", n)
	}

	_, err = DecodeCells(append(append([]byte(nil), good...), 0))
	assert.ErrorIs(t, err, ErrSnapshotCorrupt)

	_, err = EncodeCells([]GridCell{{PatchID: string(make([]byte, 70000))}})
	assert.Error(t, err)
}
