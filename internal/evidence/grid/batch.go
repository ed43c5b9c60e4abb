package grid

import (
	"fmt"

	"github.com/banshee-data/capture.evidence/internal/evidence/mass"
)

// OpKind tags a batch operation. The numeric order is also the overflow
// priority: when a batch is full, lower kinds give way to higher ones.
type OpKind uint8

const (
	OpEvict OpKind = iota
	OpRefine
	OpUpdate
	OpInsert
)

func (k OpKind) String() string {
	switch k {
	case OpEvict:
		return "evict"
	case OpRefine:
		return "refine"
	case OpUpdate:
		return "update"
	case OpInsert:
		return "insert"
	default:
		return fmt.Sprintf("OpKind(%d)", uint8(k))
	}
}

// Op is one grid mutation. Which fields are meaningful depends on Kind:
//
//	insert: Key, PatchID, Coord, Mass, ViewMask, TimestampNanos
//	update: Key, Mass, ViewMask, TimestampNanos
//	evict:  Key
//	refine: Key, Level
type Op struct {
	Kind           OpKind
	Key            SpatialKey
	PatchID        string
	Coord          Coord
	Mass           mass.Mass
	ViewMask       uint32
	TimestampNanos int64
	Level          Confidence
}

// InsertOp creates a cell at key, or fuses into it when it already exists.
func InsertOp(key SpatialKey, patchID string, c Coord, m mass.Mass, viewMask uint32, tsNanos int64) Op {
	return Op{Kind: OpInsert, Key: key, PatchID: patchID, Coord: c, Mass: m, ViewMask: viewMask, TimestampNanos: tsNanos}
}

// UpdateOp fuses m into an existing cell.
func UpdateOp(key SpatialKey, m mass.Mass, viewMask uint32, tsNanos int64) Op {
	return Op{Kind: OpUpdate, Key: key, Mass: m, ViewMask: viewMask, TimestampNanos: tsNanos}
}

// EvictOp tombstones the cell at key.
func EvictOp(key SpatialKey) Op {
	return Op{Kind: OpEvict, Key: key}
}

// RefineOp sets the confidence level of the cell at key.
func RefineOp(key SpatialKey, level Confidence) Op {
	return Op{Kind: OpRefine, Key: key, Level: level}
}

// DefaultBatchCapacity bounds a batch built with a non-positive capacity.
const DefaultBatchCapacity = 256

// Batch is an ordered, bounded list of operations applied atomically with
// respect to other batches.
type Batch struct {
	ops      []Op
	capacity int
	dropped  int
	replaced int
}

// NewBatch returns an empty batch holding at most capacity operations.
func NewBatch(capacity int) *Batch {
	if capacity <= 0 {
		capacity = DefaultBatchCapacity
	}
	return &Batch{capacity: capacity}
}

// Add appends op. When the batch is full, op replaces the most recently
// added pending op of the lowest priority, provided that priority is
// strictly below op's; otherwise op is dropped. Either way one operation is
// lost and counted in Dropped. Add reports whether op is now in the batch.
func (b *Batch) Add(op Op) bool {
	if len(b.ops) < b.capacity {
		b.ops = append(b.ops, op)
		return true
	}

	victim := -1
	for i := len(b.ops) - 1; i >= 0; i-- {
		if victim < 0 || b.ops[i].Kind < b.ops[victim].Kind {
			victim = i
		}
	}
	b.dropped++
	if victim < 0 || b.ops[victim].Kind >= op.Kind {
		return false
	}
	b.ops = append(b.ops[:victim], b.ops[victim+1:]...)
	b.ops = append(b.ops, op)
	b.replaced++
	return true
}

// Len returns the number of pending operations.
func (b *Batch) Len() int { return len(b.ops) }

// Capacity returns the maximum number of operations.
func (b *Batch) Capacity() int { return b.capacity }

// Dropped returns how many operations overflow has discarded.
func (b *Batch) Dropped() int { return b.dropped }

// Replaced returns how many of the dropped operations were pending ops
// displaced by a higher-priority arrival.
func (b *Batch) Replaced() int { return b.replaced }

// Ops returns a copy of the pending operations in apply order.
func (b *Batch) Ops() []Op {
	return append([]Op(nil), b.ops...)
}
