// Package fixedpoint owns the deterministic numeric primitives of the
// evidence engine.
//
// Responsibilities: Q16.16 integer arithmetic, canonicalisation and fixed
// six-decimal formatting of float64 values, and lookup tables together with
// their checksummed binary artifact format.
//
// Everything here must produce bit-identical results on every platform, so
// no code in this package may depend on map iteration order, goroutine
// scheduling, or hardware floating-point contraction.
package fixedpoint
