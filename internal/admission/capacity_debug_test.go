//go:build !production

package admission

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCapacity_InvariantViolationsPanic(t *testing.T) {
	t.Parallel()

	t.Run("budget above base", func(t *testing.T) {
		t.Parallel()
		tr := newTracker(t, 10, 20, 100)
		tr.budget = tr.base * 2
		assert.Panics(t, func() { tr.Commit(accepted("a", 0.5)) })
	})

	t.Run("count wraps", func(t *testing.T) {
		t.Parallel()
		tr := newTracker(t, 10, 20, 100)
		tr.count = ^uint64(0)
		assert.Panics(t, func() { tr.Commit(accepted("a", 1)) })
	})
}
