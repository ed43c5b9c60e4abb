package grid

import (
	"fmt"

	"github.com/banshee-data/capture.evidence/internal/evidence/mass"
	"github.com/banshee-data/capture.evidence/internal/invariant"
	"github.com/banshee-data/capture.evidence/internal/monitoring"
)

// fusedMassValid is the sum invariant checked after every fusion. Sealed
// masses always pass it, so tests swap it to exercise the failure path.
var fusedMassValid = mass.Mass.Valid

// ApplyResult summarises one applied batch.
type ApplyResult struct {
	Inserted          int
	Fused             int // inserts and updates that fused into an existing cell
	Evicted           int
	Refined           int
	SkippedUpdates    int // updates or refines naming a missing key
	CapacityEvictions int
	Rejected          int // ops refused by a failed invariant or bad kind
	Compacted         bool
}

// Stats reports cumulative grid counters.
type Stats struct {
	Active            int
	Tombstones        int
	ListLen           int
	BatchesApplied    uint64
	Compactions       uint64
	CapacityEvictions uint64
	Reclaimed         uint64
}

// EvidenceGrid is an insertion-ordered arena of cells. keys and tomb are
// parallel slices in insertion order; cells and index are lookups built
// from them and are never iterated.
//
// EvidenceGrid is not safe for concurrent use; wrap it in an Executor.
type EvidenceGrid struct {
	cfg   Config
	fuser *mass.Fuser

	keys  []SpatialKey
	tomb  []bool
	cells map[SpatialKey]*GridCell
	index map[SpatialKey]int

	// head is the lowest list index that may still be active.
	head       int
	tombstones int

	sinceCompaction int
	evicted         []SpatialKey

	batches           uint64
	compactions       uint64
	capacityEvictions uint64
}

// New returns an empty grid. The configuration is validated.
func New(cfg *Config) (*EvidenceGrid, error) {
	if cfg == nil {
		return nil, fmt.Errorf("grid config is nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid grid config: %w", err)
	}
	return &EvidenceGrid{
		cfg:   *cfg,
		fuser: cfg.fuser(),
		cells: make(map[SpatialKey]*GridCell),
		index: make(map[SpatialKey]int),
	}, nil
}

// Config returns a copy of the grid's configuration.
func (g *EvidenceGrid) Config() Config { return g.cfg }

// NewBatch returns an empty batch sized for this grid.
func (g *EvidenceGrid) NewBatch() *Batch { return NewBatch(g.cfg.BatchCapacity) }

// Len returns the number of active cells.
func (g *EvidenceGrid) Len() int { return len(g.cells) }

// Cell returns a copy of the cell at key.
func (g *EvidenceGrid) Cell(key SpatialKey) (GridCell, bool) {
	c, ok := g.cells[key]
	if !ok {
		return GridCell{}, false
	}
	return *c, true
}

// AllActiveCells returns copies of every active cell in insertion order.
func (g *EvidenceGrid) AllActiveCells() []GridCell {
	out := make([]GridCell, 0, len(g.cells))
	for i, k := range g.keys {
		if g.tomb[i] {
			continue
		}
		out = append(out, *g.cells[k])
	}
	return out
}

// EvictedKeys returns every key physically reclaimed by compaction, oldest
// first.
func (g *EvidenceGrid) EvictedKeys() []SpatialKey {
	return append([]SpatialKey(nil), g.evicted...)
}

// Stats returns the grid's counters.
func (g *EvidenceGrid) Stats() Stats {
	return Stats{
		Active:            len(g.cells),
		Tombstones:        g.tombstones,
		ListLen:           len(g.keys),
		BatchesApplied:    g.batches,
		Compactions:       g.compactions,
		CapacityEvictions: g.capacityEvictions,
		Reclaimed:         uint64(len(g.evicted)),
	}
}

// Apply executes the batch's operations in order, then compacts if either
// trigger has fired.
func (g *EvidenceGrid) Apply(b *Batch) ApplyResult {
	var res ApplyResult
	if b != nil {
		for _, op := range b.ops {
			g.applyOp(op, &res)
		}
	}
	g.batches++
	g.sinceCompaction++
	if g.sinceCompaction >= g.cfg.CompactionInterval || g.tombstoneRatio() > g.cfg.TombstoneRatio {
		g.compact()
		res.Compacted = true
	}
	return res
}

func (g *EvidenceGrid) applyOp(op Op, res *ApplyResult) {
	switch op.Kind {
	case OpInsert:
		if c, ok := g.cells[op.Key]; ok {
			if g.fuse(c, op) {
				res.Fused++
			} else {
				res.Rejected++
			}
			return
		}
		if len(g.cells) >= g.cfg.Capacity {
			if g.evictOldest() {
				res.CapacityEvictions++
			}
		}
		g.insert(op)
		res.Inserted++
	case OpUpdate:
		c, ok := g.cells[op.Key]
		if !ok {
			res.SkippedUpdates++
			return
		}
		if g.fuse(c, op) {
			res.Fused++
		} else {
			res.Rejected++
		}
	case OpEvict:
		if g.evict(op.Key) {
			res.Evicted++
		}
	case OpRefine:
		c, ok := g.cells[op.Key]
		if !ok {
			res.SkippedUpdates++
			return
		}
		c.Confidence = op.Level.Clamp()
		res.Refined++
	default:
		res.Rejected++
		monitoring.Logf("[grid] unknown op kind %d for key %s", op.Kind, op.Key)
	}
}

func (g *EvidenceGrid) insert(op Op) {
	m := mass.Seal(op.Mass)
	mask := op.ViewMask & ViewMaskAll
	g.cells[op.Key] = &GridCell{
		Key:              op.Key,
		PatchID:          op.PatchID,
		Coord:            op.Coord,
		Mass:             m,
		Confidence:       ConfidenceFor(m, mask),
		ViewMask:         mask,
		ObservationCount: 1,
		LastUpdateNanos:  op.TimestampNanos,
	}
	g.index[op.Key] = len(g.keys)
	g.keys = append(g.keys, op.Key)
	g.tomb = append(g.tomb, false)
}

// fuse combines op's mass into c. It reports false, leaving c untouched,
// when the fused mass fails the sum invariant in a fail-closed build.
func (g *EvidenceGrid) fuse(c *GridCell, op Op) bool {
	fused := g.fuser.Combine(c.Mass, op.Mass)
	if !invariant.Check(fusedMassValid(fused), "mass_sum", "cell %s fused to %v (sum %.17g)", c.Key, fused, fused.Sum()) {
		return false
	}
	c.Mass = fused
	c.ViewMask |= op.ViewMask & ViewMaskAll
	if c.ObservationCount < ^uint32(0) {
		c.ObservationCount++
	}
	c.LastUpdateNanos = op.TimestampNanos
	c.Confidence = ConfidenceFor(fused, c.ViewMask)
	return true
}

func (g *EvidenceGrid) evict(key SpatialKey) bool {
	i, ok := g.index[key]
	if !ok {
		return false
	}
	g.tomb[i] = true
	g.tombstones++
	delete(g.cells, key)
	delete(g.index, key)
	return true
}

func (g *EvidenceGrid) evictOldest() bool {
	for ; g.head < len(g.keys); g.head++ {
		if !g.tomb[g.head] {
			g.capacityEvictions++
			return g.evict(g.keys[g.head])
		}
	}
	return false
}

func (g *EvidenceGrid) tombstoneRatio() float64 {
	if len(g.keys) == 0 {
		return 0
	}
	return float64(g.tombstones) / float64(len(g.keys))
}

// compact rebuilds keys, tomb and index from the active entries in one
// pass. Reclaimed keys move to the evicted history.
func (g *EvidenceGrid) compact() {
	keys := make([]SpatialKey, 0, len(g.cells))
	reclaimed := 0
	for i, k := range g.keys {
		if g.tomb[i] {
			g.evicted = append(g.evicted, k)
			reclaimed++
			continue
		}
		g.index[k] = len(keys)
		keys = append(keys, k)
	}
	g.keys = keys
	g.tomb = make([]bool, len(keys))
	g.tombstones = 0
	g.head = 0
	g.sinceCompaction = 0
	g.compactions++
	if reclaimed > 0 {
		monitoring.Logf("[grid] compaction %d reclaimed %d keys, %d active", g.compactions, reclaimed, len(keys))
	}
}
