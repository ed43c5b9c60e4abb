package fixedpoint

import (
	"errors"
	"math"
	"strconv"
	"strings"
)

var (
	// ErrNonFinite is returned when a NaN or infinite value is formatted.
	ErrNonFinite = errors.New("fixedpoint: non-finite value")
	// ErrOversized is returned when a value is too large for fixed formatting.
	ErrOversized = errors.New("fixedpoint: value out of range")
)

// MaxFormatMagnitude bounds the values accepted by FormatFixed6.
const MaxFormatMagnitude = 1e15

// Canonical maps NaN and ±Inf to 0 and negative zero to positive zero.
// Every other value is returned unchanged.
func Canonical(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) || v == 0 {
		return 0
	}
	return v
}

// IsFinite reports whether v is neither NaN nor infinite.
func IsFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Clamp01 canonicalises v and clamps it to [0, 1].
func Clamp01(v float64) float64 {
	v = Canonical(v)
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// FormatFixed6 renders v with exactly six decimals, rounding half away from
// zero on the shortest round-trip decimal representation of v. The result
// never uses scientific notation and negative zero (including negative
// values that round to zero) renders as "0.000000".
func FormatFixed6(v float64) (string, error) {
	if !IsFinite(v) {
		return "", ErrNonFinite
	}
	if math.Abs(v) >= MaxFormatMagnitude {
		return "", ErrOversized
	}
	neg := v < 0
	digits := strconv.FormatFloat(math.Abs(v), 'f', -1, 64)

	intPart, frac, _ := strings.Cut(digits, ".")
	roundUp := len(frac) > 6 && frac[6] >= '5'
	if len(frac) > 6 {
		frac = frac[:6]
	}
	frac += strings.Repeat("0", 6-len(frac))

	mantissa := []byte(intPart + frac)
	if roundUp {
		mantissa = incrementDecimal(mantissa)
	}

	n := len(mantissa)
	out := string(mantissa[:n-6]) + "." + string(mantissa[n-6:])
	if neg && strings.Trim(out, "0.") != "" {
		out = "-" + out
	}
	return out, nil
}

// incrementDecimal adds one to an ASCII decimal digit string.
func incrementDecimal(d []byte) []byte {
	for i := len(d) - 1; i >= 0; i-- {
		if d[i] < '9' {
			d[i]++
			return d
		}
		d[i] = '0'
	}
	return append([]byte{'1'}, d...)
}

// RoundHalfAwayFromZero rounds v to the given number of decimals using the
// same decimal digits as FormatFixed6 would see. Non-finite input yields 0.
func RoundHalfAwayFromZero(v float64, decimals int) float64 {
	if !IsFinite(v) {
		return 0
	}
	if decimals < 0 {
		decimals = 0
	}
	s := strconv.FormatFloat(v, 'f', -1, 64)
	intPart, frac, _ := strings.Cut(strings.TrimPrefix(s, "-"), ".")
	if len(frac) <= decimals {
		return Canonical(v)
	}
	mantissa := []byte(intPart + frac[:decimals])
	if frac[decimals] >= '5' {
		mantissa = incrementDecimal(mantissa)
	}
	n := len(mantissa)
	r, err := strconv.ParseFloat(string(mantissa[:n-decimals])+"."+string(mantissa[n-decimals:])+"0", 64)
	if err != nil {
		return 0
	}
	if v < 0 {
		r = -r
	}
	return Canonical(r)
}
