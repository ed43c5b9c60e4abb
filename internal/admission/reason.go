package admission

import (
	"fmt"
	"strings"
)

// ReasonCode explains a rejection, a soft penalty or a degraded mode. The
// numeric values are part of the decision hash and must never be reused.
type ReasonCode uint16

const (
	ReasonNone ReasonCode = iota
	ReasonTimeDensity
	ReasonSpamConfirmed
	ReasonHardCap
	ReasonTokenBucketEmpty
	ReasonLowNovelty
	ReasonFrequencyCap
	ReasonCapacityDamping
	ReasonMinFloorApplied
	ReasonEEBExhausted
	ReasonInvariantViolation
	ReasonMalformedInput
)

var reasonNames = [...]string{
	ReasonNone:               "NONE",
	ReasonTimeDensity:        "TIME_DENSITY",
	ReasonSpamConfirmed:      "SPAM_CONFIRMED",
	ReasonHardCap:            "HARD_CAP",
	ReasonTokenBucketEmpty:   "TOKEN_BUCKET_EMPTY",
	ReasonLowNovelty:         "LOW_NOVELTY",
	ReasonFrequencyCap:       "FREQUENCY_CAP",
	ReasonCapacityDamping:    "CAPACITY_DAMPING",
	ReasonMinFloorApplied:    "MIN_FLOOR_APPLIED",
	ReasonEEBExhausted:       "EEB_EXHAUSTED",
	ReasonInvariantViolation: "INVARIANT_VIOLATION",
	ReasonMalformedInput:     "MALFORMED_INPUT",
}

func (r ReasonCode) String() string {
	if int(r) < len(reasonNames) {
		return reasonNames[r]
	}
	return fmt.Sprintf("ReasonCode(%d)", uint16(r))
}

// MarshalText implements encoding.TextMarshaler.
func (r ReasonCode) MarshalText() ([]byte, error) {
	if int(r) >= len(reasonNames) {
		return nil, fmt.Errorf("unknown reason code %d", uint16(r))
	}
	return []byte(reasonNames[r]), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *ReasonCode) UnmarshalText(text []byte) error {
	name := strings.ToUpper(string(text))
	for i, n := range reasonNames {
		if n == name {
			*r = ReasonCode(i)
			return nil
		}
	}
	return fmt.Errorf("unknown reason code %q", text)
}

// IsHard reports whether the reason blocks admission outright.
func (r ReasonCode) IsHard() bool {
	switch r {
	case ReasonTimeDensity, ReasonSpamConfirmed, ReasonHardCap,
		ReasonEEBExhausted, ReasonInvariantViolation, ReasonMalformedInput:
		return true
	}
	return false
}
