package mass

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromVerdict_Anchors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		verdict Verdict
		want    Mass
	}{
		{VerdictBad, Mass{0.00, 0.60, 0.40}},
		{VerdictSuspect, Mass{0.15, 0.15, 0.70}},
		{VerdictGood, Mass{0.85, 0.00, 0.15}},
	}
	for _, tt := range tests {
		t.Run(tt.verdict.String(), func(t *testing.T) {
			t.Parallel()
			got := FromDiscreteVerdict(tt.verdict)
			requireValid(t, got)
			assert.InDelta(t, tt.want.Occupied, got.Occupied, 1e-12)
			assert.InDelta(t, tt.want.Free, got.Free, 1e-12)
			assert.InDelta(t, tt.want.Unknown, got.Unknown, 1e-12)
		})
	}
}

func TestFromVerdict_Interpolates(t *testing.T) {
	t.Parallel()
	// Halfway between bad (0.0) and suspect (0.3).
	got := FromVerdict(0.15)
	assert.InDelta(t, 0.075, got.Occupied, 1e-12)
	assert.InDelta(t, 0.375, got.Free, 1e-12)

	// Halfway between suspect (0.3) and good (1.0).
	got = FromVerdict(0.65)
	assert.InDelta(t, 0.5, got.Occupied, 1e-12)
	assert.InDelta(t, 0.075, got.Free, 1e-12)
	requireValid(t, got)
}

func TestFromVerdict_MonotoneOccupied(t *testing.T) {
	t.Parallel()
	prev := -1.0
	for i := 0; i <= 100; i++ {
		m := FromVerdict(float64(i) / 100)
		requireValid(t, m)
		assert.GreaterOrEqual(t, m.Occupied, prev)
		prev = m.Occupied
	}
}

func TestFromVerdict_Sanitises(t *testing.T) {
	t.Parallel()
	assert.Equal(t, FromVerdict(0), FromVerdict(math.NaN()))
	assert.Equal(t, FromVerdict(0), FromVerdict(-3))
	assert.Equal(t, FromVerdict(1), FromVerdict(42))
}

func TestVerdictString(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "invalid", Verdict(9).String())
	assert.Equal(t, 0.0, Verdict(9).Score())
}
