package monitoring

import "sync/atomic"

// Counter is a monotonically increasing diagnostic counter. The zero value is
// ready to use and safe for concurrent increments.
type Counter struct {
	n atomic.Uint64
}

// Inc adds one to the counter and returns the new value.
func (c *Counter) Inc() uint64 {
	return c.n.Add(1)
}

// Load returns the current count.
func (c *Counter) Load() uint64 {
	return c.n.Load()
}

// Diagnostics is a point-in-time copy of the engine-wide diagnostic counters.
type Diagnostics struct {
	SanitizedMasses    uint64 `json:"sanitized_masses"`
	SanitizedPositions uint64 `json:"sanitized_positions"`
	SanitizedScores    uint64 `json:"sanitized_scores"`
	NonMonotonicClock  uint64 `json:"non_monotonic_clock"`
	InvariantFailures  uint64 `json:"invariant_failures"`
}

// Engine-wide counters for malformed numeric input and clock anomalies.
// Individual components may also keep their own counters for per-instance
// reporting; these aggregate across every instance in the process.
var (
	SanitizedMasses    Counter
	SanitizedPositions Counter
	SanitizedScores    Counter
	NonMonotonicClock  Counter
	InvariantFailures  Counter
)

// Snapshot returns the current values of all engine-wide counters.
func Snapshot() Diagnostics {
	return Diagnostics{
		SanitizedMasses:    SanitizedMasses.Load(),
		SanitizedPositions: SanitizedPositions.Load(),
		SanitizedScores:    SanitizedScores.Load(),
		NonMonotonicClock:  NonMonotonicClock.Load(),
		InvariantFailures:  InvariantFailures.Load(),
	}
}
