package grid

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/capture.evidence/internal/evidence/mass"
	"github.com/banshee-data/capture.evidence/internal/monitoring"
)

func init() {
	monitoring.SetLogger(nil)
}

func mass0() mass.Mass { return mass.New(0.8, 0, 0.2) }

func testConfig() *Config {
	return &Config{
		Capacity:           8,
		CellSize:           1,
		CompactionInterval: 1000,
		TombstoneRatio:     1,
		BatchCapacity:      64,
		ConflictSwitch:     mass.DefaultConflictSwitch,
	}
}

func newTestGrid(t *testing.T, cfg *Config) *EvidenceGrid {
	t.Helper()
	g, err := New(cfg)
	require.NoError(t, err)
	return g
}

func insert(n uint64) Op {
	return InsertOp(keyN(n), "patch", DecodeMortonCode(n), mass0(), 1, int64(n))
}

func batchOf(ops ...Op) *Batch {
	b := NewBatch(len(ops) + 1)
	for _, op := range ops {
		b.Add(op)
	}
	return b
}

func activeKeys(g *EvidenceGrid) []SpatialKey {
	var out []SpatialKey
	for _, c := range g.AllActiveCells() {
		out = append(out, c.Key)
	}
	return out
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	t.Parallel()
	_, err := New(nil)
	assert.Error(t, err)
	_, err = New(testConfig().WithCapacity(0))
	assert.Error(t, err)
	_, err = New(testConfig().WithCellSize(-1))
	assert.Error(t, err)
	_, err = New(testConfig().WithCompaction(0, 0.5))
	assert.Error(t, err)
	_, err = New(testConfig().WithBatchCapacity(0))
	assert.Error(t, err)
}

func TestDefaultConfig(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 65536, cfg.Capacity)
	assert.Equal(t, 64, cfg.CompactionInterval)
	assert.Equal(t, 0.25, cfg.TombstoneRatio)
}

func TestApply_InsertAndFuse(t *testing.T) {
	t.Parallel()
	g := newTestGrid(t, testConfig())

	res := g.Apply(batchOf(insert(1), InsertOp(keyN(1), "patch", Coord{}, mass0(), 2, 50)))
	assert.Equal(t, 1, res.Inserted)
	assert.Equal(t, 1, res.Fused)

	c, ok := g.Cell(keyN(1))
	require.True(t, ok)
	assert.InDelta(t, 0.96, c.Mass.Occupied, 1e-12)
	assert.True(t, c.Mass.Valid())
	assert.Equal(t, uint32(2), c.ObservationCount)
	assert.Equal(t, uint32(3), c.ViewMask)
	assert.Equal(t, int64(50), c.LastUpdateNanos)
	assert.Equal(t, Confidence(2), c.Confidence, "two views cap the level")
}

func TestApply_UpdateMissingIsSkipped(t *testing.T) {
	t.Parallel()
	g := newTestGrid(t, testConfig())
	res := g.Apply(batchOf(UpdateOp(keyN(7), mass0(), 1, 0), RefineOp(keyN(7), 3)))
	assert.Equal(t, 2, res.SkippedUpdates)
	assert.Zero(t, g.Len())
}

func TestApply_Refine(t *testing.T) {
	t.Parallel()
	g := newTestGrid(t, testConfig())
	g.Apply(batchOf(insert(1), RefineOp(keyN(1), 42)))
	c, _ := g.Cell(keyN(1))
	assert.Equal(t, MaxConfidence, c.Confidence)
}

func TestApply_SanitizesInsertedMass(t *testing.T) {
	t.Parallel()
	g := newTestGrid(t, testConfig())
	bad := InsertOp(keyN(1), "p", Coord{}, mass.Mass{Occupied: 2, Free: -1, Unknown: 0}, 1<<31|1, 0)
	g.Apply(batchOf(bad))
	c, _ := g.Cell(keyN(1))
	assert.True(t, c.Mass.Valid())
	assert.Equal(t, uint32(1), c.ViewMask, "bits above the 26 directions are masked")
}

func TestApply_EvictTombstonesButKeepsKey(t *testing.T) {
	t.Parallel()
	g := newTestGrid(t, testConfig())
	g.Apply(batchOf(insert(1), insert(2), insert(3)))
	res := g.Apply(batchOf(EvictOp(keyN(2)), EvictOp(keyN(99))))

	assert.Equal(t, 1, res.Evicted)
	assert.Equal(t, []SpatialKey{keyN(1), keyN(3)}, activeKeys(g))
	_, ok := g.Cell(keyN(2))
	assert.False(t, ok)
	st := g.Stats()
	assert.Equal(t, 3, st.ListLen)
	assert.Equal(t, 1, st.Tombstones)
	assert.Equal(t, 2, st.Active)
	assert.Empty(t, g.EvictedKeys(), "not reclaimed until compaction")
}

func TestApply_CapacityEvictsOldestActive(t *testing.T) {
	t.Parallel()
	g := newTestGrid(t, testConfig().WithCapacity(2))

	res := g.Apply(batchOf(insert(1), insert(2), insert(3)))
	assert.Equal(t, 1, res.CapacityEvictions)
	assert.Equal(t, []SpatialKey{keyN(2), keyN(3)}, activeKeys(g))

	// Re-inserting an evicted key appends it and evicts the next oldest.
	g.Apply(batchOf(insert(1)))
	assert.Equal(t, []SpatialKey{keyN(3), keyN(1)}, activeKeys(g))
	assert.Equal(t, 4, g.Stats().ListLen)
	assert.Equal(t, uint64(2), g.Stats().CapacityEvictions)

	// Fusing into an existing key never evicts.
	res = g.Apply(batchOf(insert(3)))
	assert.Zero(t, res.CapacityEvictions)
	assert.Equal(t, 1, res.Fused)
}

func TestApply_CompactionByInterval(t *testing.T) {
	t.Parallel()
	g := newTestGrid(t, testConfig().WithCompaction(3, 1))

	assert.False(t, g.Apply(batchOf(insert(1), insert(2), insert(3))).Compacted)
	assert.False(t, g.Apply(batchOf(EvictOp(keyN(2)))).Compacted)
	res := g.Apply(batchOf(EvictOp(keyN(1))))
	require.True(t, res.Compacted)

	st := g.Stats()
	assert.Equal(t, 1, st.ListLen)
	assert.Zero(t, st.Tombstones)
	assert.Equal(t, uint64(1), st.Compactions)
	assert.Equal(t, []SpatialKey{keyN(1), keyN(2)}, g.EvictedKeys(), "history follows list order")
	assert.Equal(t, []SpatialKey{keyN(3)}, activeKeys(g))

	// Cells are still reachable through the rebuilt index.
	g.Apply(batchOf(UpdateOp(keyN(3), mass0(), 4, 9)))
	c, ok := g.Cell(keyN(3))
	require.True(t, ok)
	assert.Equal(t, uint32(2), c.ObservationCount)
	g.Apply(batchOf(EvictOp(keyN(3))))
	assert.Zero(t, g.Len())
}

func TestApply_CompactionByTombstoneRatioResetsCounter(t *testing.T) {
	t.Parallel()
	g := newTestGrid(t, testConfig().WithCompaction(3, 0.25))

	g.Apply(batchOf(insert(1), insert(2), insert(3), insert(4)))
	res := g.Apply(batchOf(EvictOp(keyN(1)), EvictOp(keyN(2))))
	require.True(t, res.Compacted, "ratio 0.5 exceeds 0.25")
	assert.Equal(t, uint64(1), g.Stats().Compactions)

	// Counter restarted at the ratio compaction: two more batches do not
	// reach the interval, the third does.
	assert.False(t, g.Apply(nil).Compacted)
	assert.False(t, g.Apply(nil).Compacted)
	assert.True(t, g.Apply(nil).Compacted)
	assert.Equal(t, uint64(2), g.Stats().Compactions)
}

func TestAllActiveCells_ReturnsCopies(t *testing.T) {
	t.Parallel()
	g := newTestGrid(t, testConfig())
	g.Apply(batchOf(insert(1)))
	cells := g.AllActiveCells()
	cells[0].ObservationCount = 99
	c, _ := g.Cell(keyN(1))
	assert.Equal(t, uint32(1), c.ObservationCount)
}

func TestApply_DeterministicAcrossInstances(t *testing.T) {
	t.Parallel()
	cfg := testConfig().WithCapacity(5).WithCompaction(2, 0.3)
	run := func() []GridCell {
		g := newTestGrid(t, cfg)
		for round := uint64(0); round < 20; round++ {
			b := g.NewBatch()
			for j := uint64(0); j < 4; j++ {
				k := (round*7 + j*3) % 11
				b.Add(InsertOp(keyN(k), "p", DecodeMortonCode(k), mass.FromVerdict(float64(j)/3), 1<<j, int64(round)))
			}
			if round%3 == 0 {
				b.Add(EvictOp(keyN(round % 11)))
			}
			g.Apply(b)
		}
		return g.AllActiveCells()
	}
	a, b := run(), run()
	require.Equal(t, a, b)
	da, err := Digest(a)
	require.NoError(t, err)
	db, err := Digest(b)
	require.NoError(t, err)
	assert.Equal(t, da, db)
}
