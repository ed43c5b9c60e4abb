package fixedpoint

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonical(t *testing.T) {
	t.Parallel()
	assert.Equal(t, 0.0, Canonical(math.NaN()))
	assert.Equal(t, 0.0, Canonical(math.Inf(-1)))
	assert.False(t, math.Signbit(Canonical(math.Copysign(0, -1))))
	assert.Equal(t, 0.25, Canonical(0.25))
}

func TestClamp01(t *testing.T) {
	t.Parallel()
	assert.Equal(t, 0.0, Clamp01(-0.5))
	assert.Equal(t, 1.0, Clamp01(1.5))
	assert.Equal(t, 0.0, Clamp01(math.NaN()))
	assert.Equal(t, 0.3, Clamp01(0.3))
}

func TestFormatFixed6(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   float64
		want string
	}{
		{0, "0.000000"},
		{math.Copysign(0, -1), "0.000000"},
		{1, "1.000000"},
		{0.1, "0.100000"},
		{-0.1, "-0.100000"},
		{0.0000005, "0.000001"},
		{-0.0000005, "-0.000001"},
		{0.0000004999, "0.000000"},
		{-0.0000004, "0.000000"},
		{0.0078125, "0.007813"},
		{0.9999995, "1.000000"},
		{9.9999999, "10.000000"},
		{123456.1234564, "123456.123456"},
		{1e-20, "0.000000"},
		{1e14, "100000000000000.000000"},
	}
	for _, tt := range tests {
		got, err := FormatFixed6(tt.in)
		require.NoError(t, err, "input %v", tt.in)
		assert.Equal(t, tt.want, got, "input %v", tt.in)
	}
}

func TestFormatFixed6_Errors(t *testing.T) {
	t.Parallel()
	_, err := FormatFixed6(math.NaN())
	assert.ErrorIs(t, err, ErrNonFinite)
	_, err = FormatFixed6(math.Inf(1))
	assert.ErrorIs(t, err, ErrNonFinite)
	_, err = FormatFixed6(1e15)
	assert.ErrorIs(t, err, ErrOversized)
	_, err = FormatFixed6(-2e16)
	assert.ErrorIs(t, err, ErrOversized)
}

func TestRoundHalfAwayFromZero(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in       float64
		decimals int
		want     float64
	}{
		{0.5, 0, 1},
		{-0.5, 0, -1},
		{2.345, 2, 2.35},
		{-2.345, 2, -2.35},
		{1.2, 3, 1.2},
		{math.Copysign(0, -1), 2, 0},
		{-0.0004, 3, 0},
		{math.NaN(), 2, 0},
		{math.Inf(-1), 2, 0},
	}
	for _, tt := range tests {
		got := RoundHalfAwayFromZero(tt.in, tt.decimals)
		assert.Equal(t, tt.want, got, "input %v/%d", tt.in, tt.decimals)
		assert.False(t, math.Signbit(got) && got == 0, "negative zero for %v", tt.in)
	}
}
