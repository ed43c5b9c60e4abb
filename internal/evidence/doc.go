// Package evidence groups the evidence fusion layers of the capture engine.
//
// Subpackages, leaves first:
//
//   - mass: Dempster-Shafer mass functions, combination and sealing.
//   - grid: Morton-keyed spatial evidence grid with deterministic iteration,
//     capacity eviction, compaction and a single-writer executor.
//   - coverage: weighted coverage estimate over the active grid cells.
//
// Dependency rule: mass depends only on fixedpoint and monitoring; grid may
// depend on mass; coverage may depend on grid. Nothing here performs I/O.
package evidence
