package monitoring

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSetLogger(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	called := false
	SetLogger(func(format string, v ...interface{}) {
		called = true
	})
	Logf("test message")
	assert.True(t, called, "custom logger was not called")

	// nil installs a no-op that must not reach the previous logger
	called = false
	SetLogger(nil)
	Logf("test message")
	assert.False(t, called, "no-op logger should not have triggered callback")
}

func TestLogf_Default(t *testing.T) {
	assert.NotNil(t, Logf)
	assert.NotPanics(t, func() { Logf("test message: %s", "value") })
}

func TestCounter_ConcurrentIncrements(t *testing.T) {
	t.Parallel()

	var c Counter
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				c.Inc()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, uint64(8000), c.Load())
}

func TestSnapshot_ReflectsCounters(t *testing.T) {
	before := Snapshot()
	SanitizedMasses.Inc()
	NonMonotonicClock.Inc()
	after := Snapshot()

	assert.Equal(t, before.SanitizedMasses+1, after.SanitizedMasses)
	assert.Equal(t, before.NonMonotonicClock+1, after.NonMonotonicClock)
	assert.Equal(t, before.InvariantFailures, after.InvariantFailures)
}
