// Package grid holds fused evidence per spatial cell.
//
// Positions quantize to integer coordinates which Morton-encode into
// SpatialKeys. Cells live in an insertion-ordered arena with tombstones;
// AllActiveCells walks that arena, never a map, so iteration order depends
// only on the sequence of applied batches. Mutation goes through Apply, one
// Batch at a time, and the Executor serializes concurrent callers.
package grid
