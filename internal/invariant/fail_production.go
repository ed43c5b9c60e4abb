//go:build production

package invariant

import "github.com/banshee-data/capture.evidence/internal/monitoring"

const failClosed = true

func fail(v *Violation) {
	monitoring.Logf("[invariant] %v", v)
}
