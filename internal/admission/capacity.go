package admission

import (
	"fmt"

	"github.com/banshee-data/capture.evidence/internal/decisionhash"
	"github.com/banshee-data/capture.evidence/internal/fixedpoint"
	"github.com/banshee-data/capture.evidence/internal/invariant"
	"github.com/banshee-data/capture.evidence/internal/monitoring"
)

// BuildMode is the session capacity state.
type BuildMode uint8

const (
	ModeNormal BuildMode = iota
	ModeDamping
	ModeSaturated
)

func (m BuildMode) String() string { return m.Degradation().String() }

// MarshalText implements encoding.TextMarshaler.
func (m BuildMode) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *BuildMode) UnmarshalText(text []byte) error {
	for _, c := range []BuildMode{ModeNormal, ModeDamping, ModeSaturated} {
		if c.String() == string(text) {
			*m = c
			return nil
		}
	}
	return fmt.Errorf("unknown build mode %q", text)
}

// Degradation maps the mode onto the decision-hash level.
func (m BuildMode) Degradation() decisionhash.Degradation {
	return decisionhash.Degradation(m)
}

// reason is the degradation reason committed to decision hashes in this
// mode; nil at NORMAL.
func (m BuildMode) reason() *uint16 {
	var r ReasonCode
	switch m {
	case ModeDamping:
		r = ReasonCapacityDamping
	case ModeSaturated:
		r = ReasonHardCap
	default:
		return nil
	}
	code := uint16(r)
	return &code
}

// CapacityState is a copy of the tracker's counters.
type CapacityState struct {
	PatchCountShadow uint64    `json:"patch_count_shadow"`
	BudgetRemaining  float64   `json:"budget_remaining"`
	Mode             BuildMode `json:"mode"`
	SaturatedLatched bool      `json:"saturated_latched"`
}

// CapacityMetrics is the audit record of one commit.
type CapacityMetrics struct {
	SessionID          string            `json:"session_id"`
	CandidateID        string            `json:"candidate_id"`
	PatchCountShadow   uint64            `json:"patch_count_shadow"`
	BudgetRemaining    float64           `json:"budget_remaining"`
	BudgetDelta        float64           `json:"budget_delta"`
	Mode               BuildMode         `json:"mode"`
	Committed          bool              `json:"committed"`
	RejectReason       ReasonCode        `json:"reject_reason"`
	InvariantViolation bool              `json:"invariant_violation"`
	DecisionHash       decisionhash.Hash `json:"decision_hash"`
}

// CapacityTracker owns a session's PatchCountShadow, evidence energy budget
// and build mode. PatchCountShadow never decreases, the budget never
// increases, and once SATURATED the tracker never leaves it.
//
// CapacityTracker is not safe for concurrent use; a session drives it from a
// single goroutine.
type CapacityTracker struct {
	cfg       CapacityConfig
	sessionID string
	policy    [32]byte

	count   uint64
	budget  fixedpoint.Wide
	base    fixedpoint.Wide
	cost    fixedpoint.Q16
	mode    BuildMode
	latched bool

	attempts uint64
	rejected uint64
	commits  map[string]CapacityMetrics
}

// NewCapacityTracker returns a tracker with a full budget in NORMAL mode.
func NewCapacityTracker(cfg *CapacityConfig, sessionID string, policy [32]byte) (*CapacityTracker, error) {
	if cfg == nil {
		return nil, fmt.Errorf("capacity config is nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid capacity config: %w", err)
	}
	base := fixedpoint.WideFromFloat(cfg.BaseBudget)
	return &CapacityTracker{
		cfg:       *cfg,
		sessionID: sessionID,
		policy:    policy,
		budget:    base,
		base:      base,
		cost:      fixedpoint.FromFloat(cfg.BaseCost),
		commits:   make(map[string]CapacityMetrics),
	}, nil
}

// Mode returns the current build mode.
func (t *CapacityTracker) Mode() BuildMode { return t.mode }

// Saturated reports whether the SATURATED latch is set.
func (t *CapacityTracker) Saturated() bool { return t.latched }

// State returns a copy of the counters.
func (t *CapacityTracker) State() CapacityState {
	return CapacityState{
		PatchCountShadow: t.count,
		BudgetRemaining:  t.budget.Float(),
		Mode:             t.mode,
		SaturatedLatched: t.latched,
	}
}

// budgetRaw returns the budget as the unsigned raw value committed to hashes.
func (t *CapacityTracker) budgetRaw() uint64 {
	if t.budget < 0 {
		return 0
	}
	return uint64(t.budget)
}

// Commit records an accepted decision. Committing the same candidate again
// returns the first result unchanged, hash included, without touching the
// counters. A rejected decision, a latched tracker or an exhausted budget
// produce a metrics record with Committed=false and the state unchanged.
// Every distinct candidate keeps its entry, as in Controller.
func (t *CapacityTracker) Commit(d Decision) CapacityMetrics {
	if m, ok := t.commits[d.CandidateID]; ok {
		return m
	}
	t.attempts++
	m := t.commit(d)
	if !m.Committed {
		t.rejected++
	}
	m.DecisionHash = t.hash(d)
	t.commits[d.CandidateID] = m
	return m
}

func (t *CapacityTracker) commit(d Decision) CapacityMetrics {
	m := CapacityMetrics{
		SessionID:        t.sessionID,
		CandidateID:      d.CandidateID,
		PatchCountShadow: t.count,
		BudgetRemaining:  t.budget.Float(),
		Mode:             t.mode,
	}
	switch {
	case t.latched:
		m.RejectReason = ReasonHardCap
		return m
	case !d.Allowed:
		m.RejectReason = d.PrimaryReason()
		if m.RejectReason == ReasonNone {
			m.RejectReason = ReasonMalformedInput
		}
		return m
	}

	cost := fixedpoint.Wide(t.cost.Mul(fixedpoint.FromFloat(fixedpoint.Clamp01(d.QualityScale))))
	if t.budget < cost {
		m.RejectReason = ReasonEEBExhausted
		return m
	}
	count := t.count + 1
	budget := t.budget - cost

	ok := invariant.Check(count > t.count, "patch_count_monotonic",
		"PatchCountShadow %d -> %d", t.count, count)
	ok = ok && invariant.Check(budget >= 0 && budget <= t.base && budget <= t.budget, "budget_range",
		"budget %d -> %d outside [0, %d]", t.budget, budget, t.base)
	if !ok {
		m.RejectReason = ReasonInvariantViolation
		m.InvariantViolation = true
		return m
	}

	t.count = count
	t.budget = budget
	t.transition()

	m.Committed = true
	m.PatchCountShadow = t.count
	m.BudgetRemaining = t.budget.Float()
	m.BudgetDelta = -cost.Float()
	m.Mode = t.mode
	return m
}

// transition advances the mode after a commit. Modes only move forward.
func (t *CapacityTracker) transition() {
	switch {
	case t.count >= t.cfg.HardLimit:
		if !t.latched {
			monitoring.Logf("[capacity] session %s SATURATED at %d patches, budget %.3f",
				t.sessionID, t.count, t.budget.Float())
		}
		t.mode = ModeSaturated
		t.latched = true
	case t.count >= t.cfg.SoftLimit && t.mode == ModeNormal:
		monitoring.Logf("[capacity] session %s DAMPING at %d patches", t.sessionID, t.count)
		t.mode = ModeDamping
	}
	invariant.Check(!t.latched || t.mode == ModeSaturated, "saturated_latch",
		"latched with mode %s", t.mode)
}

func (t *CapacityTracker) hash(d Decision) decisionhash.Hash {
	in := decisionhash.Input{
		PolicyHash:  t.policy,
		SessionID:   t.sessionID,
		CandidateID: d.CandidateID,
		ValueScore:  fixedpoint.Clamp01(d.QualityScale),
		Counters: decisionhash.Counters{
			PatchCountShadow:   t.count,
			BudgetRemainingRaw: t.budgetRaw(),
			Attempts:           t.attempts,
			Accepted:           t.attempts - t.rejected,
			HardBlocks:         t.rejected,
		},
		Degradation:   t.mode.Degradation(),
		ReasonCode:    t.mode.reason(),
		SchemaVersion: decisionhash.SchemaVersion,
	}
	h, err := decisionhash.Compute(in)
	if err != nil {
		// Candidate ids are bounded before admission; treat anything else
		// as a broken invariant.
		invariant.Check(false, "capacity_hash", "%v", err)
		return decisionhash.Hash{}
	}
	return h
}
