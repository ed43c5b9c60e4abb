package timeutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRealClock_Now(t *testing.T) {
	t.Parallel()
	clock := RealClock{}
	before := time.Now()
	now := clock.Now()
	after := time.Now()

	assert.False(t, now.Before(before) || now.After(after),
		"Now() = %v, expected between %v and %v", now, before, after)
}

func TestRealClock_Since(t *testing.T) {
	t.Parallel()
	clock := RealClock{}
	past := time.Now().Add(-time.Second)
	assert.GreaterOrEqual(t, clock.Since(past), time.Second)
}

func TestMockClock(t *testing.T) {
	t.Parallel()
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := NewMockClock(start)

	assert.Equal(t, start, clock.Now())

	clock.Advance(1500 * time.Millisecond)
	assert.Equal(t, 1500*time.Millisecond, clock.Since(start))

	clock.Advance(-2 * time.Second)
	assert.Equal(t, -500*time.Millisecond, clock.Since(start))

	clock.Set(start.Add(time.Hour))
	assert.Equal(t, time.Hour, clock.Since(start))
}

func TestClockInterface(t *testing.T) {
	t.Parallel()
	var _ Clock = RealClock{}
	var _ Clock = (*MockClock)(nil)
}
