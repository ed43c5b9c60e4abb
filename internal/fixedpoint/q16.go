package fixedpoint

import "math"

// Q16 is a signed Q16.16 fixed-point number stored in an int32.
type Q16 int32

const (
	fracBits = 16

	// One is 1.0 in Q16.16.
	One Q16 = 1 << fracBits
	// Half is 0.5 in Q16.16.
	Half Q16 = 1 << (fracBits - 1)
	// Max is the largest representable Q16 (just under 32768.0).
	Max Q16 = math.MaxInt32
	// Min is the smallest representable Q16 (-32768.0).
	Min Q16 = math.MinInt32
)

// FromFloat converts f to Q16, rounding half away from zero and saturating
// at Min/Max. Non-finite input converts to 0.
func FromFloat(f float64) Q16 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	// math.Round rounds half away from zero.
	return saturate(math.Round(f * float64(One)))
}

// FromInt converts an integer to Q16, saturating at Min/Max.
func FromInt(n int) Q16 {
	return saturateInt(int64(n) << fracBits)
}

// FromRaw reinterprets raw as a Q16 bit pattern.
func FromRaw(raw int32) Q16 { return Q16(raw) }

// Raw returns the underlying bit pattern.
func (q Q16) Raw() int32 { return int32(q) }

// Float returns q as a float64. The conversion is exact.
func (q Q16) Float() float64 {
	return float64(q) / float64(One)
}

// Add returns q+r, saturating.
func (q Q16) Add(r Q16) Q16 {
	return saturateInt(int64(q) + int64(r))
}

// Sub returns q-r, saturating.
func (q Q16) Sub(r Q16) Q16 {
	return saturateInt(int64(q) - int64(r))
}

// Mul returns q*r rounded half away from zero, saturating.
func (q Q16) Mul(r Q16) Q16 {
	return saturateInt(roundShift(int64(q)*int64(r), fracBits))
}

// Div returns q/r rounded half away from zero, saturating. Division by zero
// saturates toward the sign of q; 0/0 is 0.
func (q Q16) Div(r Q16) Q16 {
	if r == 0 {
		switch {
		case q > 0:
			return Max
		case q < 0:
			return Min
		default:
			return 0
		}
	}
	num := int64(q) << fracBits
	den := int64(r)
	quo := num / den
	rem := num % den
	if abs64(rem)*2 >= abs64(den) {
		if (num < 0) != (den < 0) {
			quo--
		} else {
			quo++
		}
	}
	return saturateInt(quo)
}

// Clamp limits q to [lo, hi].
func (q Q16) Clamp(lo, hi Q16) Q16 {
	if q < lo {
		return lo
	}
	if q > hi {
		return hi
	}
	return q
}

// Wide is an int64 accumulator of Q16 values. Summing many Q16 terms in a
// Wide never saturates for realistic grid sizes and is order independent.
type Wide int64

// WideFromFloat converts f to a Wide, rounding half away from zero. Values
// beyond ±2^46 saturate; non-finite input converts to 0.
func WideFromFloat(f float64) Wide {
	const limit = 1 << 46
	switch {
	case math.IsNaN(f) || math.IsInf(f, 0):
		return 0
	case f >= limit:
		return Wide(limit) << fracBits
	case f <= -limit:
		return -Wide(limit) << fracBits
	}
	return Wide(math.Round(f * float64(One)))
}

// Accumulate adds q to the accumulator.
func (w Wide) Accumulate(q Q16) Wide { return w + Wide(q) }

// DivInt divides the accumulator by n, rounding half away from zero, and
// returns the saturated Q16 result. n <= 0 yields 0.
func (w Wide) DivInt(n int) Q16 {
	if n <= 0 {
		return 0
	}
	v := int64(w)
	d := int64(n)
	quo := v / d
	if abs64(v%d)*2 >= d {
		if v < 0 {
			quo--
		} else {
			quo++
		}
	}
	return saturateInt(quo)
}

// Float returns the accumulator value as a float64.
func (w Wide) Float() float64 {
	return float64(w) / float64(One)
}

func roundShift(v int64, shift uint) int64 {
	half := int64(1) << (shift - 1)
	if v >= 0 {
		return (v + half) >> shift
	}
	return -((-v + half) >> shift)
}

func saturate(f float64) Q16 {
	if f >= float64(Max) {
		return Max
	}
	if f <= float64(Min) {
		return Min
	}
	return Q16(int32(f))
}

func saturateInt(v int64) Q16 {
	if v > math.MaxInt32 {
		return Max
	}
	if v < math.MinInt32 {
		return Min
	}
	return Q16(v)
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
