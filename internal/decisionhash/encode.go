package decisionhash

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/banshee-data/capture.evidence/internal/fixedpoint"
)

// SchemaVersion is the current encoding version.
const SchemaVersion uint16 = 1

// MaxStringLen bounds session and candidate identifiers.
const MaxStringLen = 1024

// Degradation mirrors the capacity build mode at decision time.
type Degradation uint8

const (
	DegradationNormal Degradation = iota
	DegradationDamping
	DegradationSaturated
)

func (d Degradation) String() string {
	switch d {
	case DegradationNormal:
		return "NORMAL"
	case DegradationDamping:
		return "DAMPING"
	case DegradationSaturated:
		return "SATURATED"
	default:
		return fmt.Sprintf("Degradation(%d)", uint8(d))
	}
}

// Counters are the per-flow counters at decision time, encoded in this
// declared order.
type Counters struct {
	PatchCountShadow   uint64
	BudgetRemainingRaw uint64 // Q16.16 raw evidence energy budget
	Attempts           uint64
	Accepted           uint64
	HardBlocks         uint64
	SoftPenalties      uint64
}

// Throttle carries the soft-layer readings behind a decision.
type Throttle struct {
	TokenAvailable bool
	Novelty        float64
	WindowCount    uint32
	SpamScore      float64
	QualityScale   float64
}

// Input is everything a decision hash commits to: the inputs that, under a
// fixed policy, determine the decision. ReasonCode explains the degradation
// level and must be present exactly when Degradation is above NORMAL.
type Input struct {
	PolicyHash    [32]byte
	SessionID     string
	CandidateID   string
	ValueScore    float64
	Counters      Counters
	Throttle      *Throttle
	Degradation   Degradation
	ReasonCode    *uint16
	SchemaVersion uint16
}

var (
	// ErrNonFinite is returned for NaN or infinite floats.
	ErrNonFinite = fixedpoint.ErrNonFinite
	// ErrOversized is returned for floats or strings beyond the encodable range.
	ErrOversized = errors.New("decisionhash: value too large")
	// ErrReasonRequired is returned when a degraded level has no reason code.
	ErrReasonRequired = errors.New("decisionhash: reason code required above NORMAL")
	// ErrReasonForbidden is returned when NORMAL carries a reason code.
	ErrReasonForbidden = errors.New("decisionhash: reason code not allowed at NORMAL")
	// ErrUnknownDegradation is returned for an out-of-range level.
	ErrUnknownDegradation = errors.New("decisionhash: unknown degradation level")
)

// EncodeError reports which field could not be encoded.
type EncodeError struct {
	Field string
	Err   error
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("decisionhash: encode %s: %v", e.Field, e.Err)
}

func (e *EncodeError) Unwrap() error { return e.Err }

// Encode returns the canonical bytes for in.
func Encode(in Input) ([]byte, error) {
	if in.Degradation > DegradationSaturated {
		return nil, &EncodeError{Field: "degradation", Err: ErrUnknownDegradation}
	}
	if in.Degradation == DegradationNormal && in.ReasonCode != nil {
		return nil, &EncodeError{Field: "reason_code", Err: ErrReasonForbidden}
	}
	if in.Degradation != DegradationNormal && in.ReasonCode == nil {
		return nil, &EncodeError{Field: "reason_code", Err: ErrReasonRequired}
	}

	e := encoder{buf: make([]byte, 0, 256)}
	e.bytes(in.PolicyHash[:])
	e.str("session_id", in.SessionID)
	e.str("candidate_id", in.CandidateID)
	e.float("value_score", in.ValueScore)

	e.u64(in.Counters.PatchCountShadow)
	e.u64(in.Counters.BudgetRemainingRaw)
	e.u64(in.Counters.Attempts)
	e.u64(in.Counters.Accepted)
	e.u64(in.Counters.HardBlocks)
	e.u64(in.Counters.SoftPenalties)

	if t := in.Throttle; t != nil {
		e.u8(1)
		if t.TokenAvailable {
			e.u8(1)
		} else {
			e.u8(0)
		}
		e.float("throttle.novelty", t.Novelty)
		e.u32(t.WindowCount)
		e.float("throttle.spam_score", t.SpamScore)
		e.float("throttle.quality_scale", t.QualityScale)
	} else {
		e.u8(0)
	}

	e.u8(uint8(in.Degradation))
	if in.ReasonCode != nil {
		e.u8(1)
		e.u16(*in.ReasonCode)
	} else {
		e.u8(0)
	}
	e.u16(in.SchemaVersion)

	if e.err != nil {
		return nil, e.err
	}
	return e.buf, nil
}

// encoder appends fields and keeps the first error.
type encoder struct {
	buf []byte
	err error
}

func (e *encoder) bytes(b []byte) { e.buf = append(e.buf, b...) }
func (e *encoder) u8(v uint8)     { e.buf = append(e.buf, v) }
func (e *encoder) u16(v uint16)   { e.buf = binary.BigEndian.AppendUint16(e.buf, v) }
func (e *encoder) u32(v uint32)   { e.buf = binary.BigEndian.AppendUint32(e.buf, v) }
func (e *encoder) u64(v uint64)   { e.buf = binary.BigEndian.AppendUint64(e.buf, v) }

func (e *encoder) str(field, s string) {
	if len(s) > MaxStringLen {
		e.fail(field, fmt.Errorf("%w: %d bytes", ErrOversized, len(s)))
		return
	}
	e.u32(uint32(len(s)))
	e.buf = append(e.buf, s...)
}

func (e *encoder) float(field string, v float64) {
	s, err := fixedpoint.FormatFixed6(v)
	if err != nil {
		if errors.Is(err, fixedpoint.ErrOversized) {
			err = fmt.Errorf("%w: %w", ErrOversized, err)
		}
		e.fail(field, err)
		return
	}
	e.u32(uint32(len(s)))
	e.buf = append(e.buf, s...)
}

func (e *encoder) fail(field string, err error) {
	if e.err == nil {
		e.err = &EncodeError{Field: field, Err: err}
	}
}
