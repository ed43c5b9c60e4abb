// Package invariant reports violations of engine invariants: mass-sum drift,
// evidence budget out of range, and capacity counters regressing.
//
// Default builds (including tests) panic on a violation so the failure is
// impossible to miss. Builds tagged `production` log the violation, bump the
// InvariantFailures counter and return false so the caller can fail closed.
package invariant

import (
	"fmt"

	"github.com/banshee-data/capture.evidence/internal/monitoring"
)

// Violation describes a failed invariant check. It is the panic value in
// non-production builds.
type Violation struct {
	Name   string
	Detail string
}

func (v *Violation) Error() string {
	return fmt.Sprintf("invariant %s violated: %s", v.Name, v.Detail)
}

// Check returns true when cond holds. Otherwise it reports the violation
// according to the build mode and returns false.
func Check(cond bool, name, format string, args ...interface{}) bool {
	if cond {
		return true
	}
	v := &Violation{Name: name, Detail: fmt.Sprintf(format, args...)}
	monitoring.InvariantFailures.Inc()
	fail(v)
	return false
}

// FailClosed reports whether violations are converted into rejections
// rather than panics in this build.
func FailClosed() bool {
	return failClosed
}
