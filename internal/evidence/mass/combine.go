package mass

import (
	"github.com/banshee-data/capture.evidence/internal/fixedpoint"
	"github.com/banshee-data/capture.evidence/internal/monitoring"
)

// DefaultConflictSwitch is the conflict level at which combination switches
// from Dempster's rule to Yager's rule.
const DefaultConflictSwitch = 0.7

// Rule identifies which combination rule produced a fused mass.
type Rule uint8

const (
	RuleDempster Rule = iota
	RuleYager
)

func (r Rule) String() string {
	switch r {
	case RuleDempster:
		return "dempster"
	case RuleYager:
		return "yager"
	default:
		return "unknown"
	}
}

// Fuser combines masses with a fixed conflict-switch threshold. The zero
// value is not usable; construct with NewFuser.
type Fuser struct {
	conflictSwitch float64

	yagerCount    monitoring.Counter
	dempsterCount monitoring.Counter
}

// NewFuser returns a Fuser switching to Yager's rule at conflict >= threshold.
// A threshold outside (0, 1] falls back to DefaultConflictSwitch.
func NewFuser(conflictSwitch float64) *Fuser {
	if !fixedpoint.IsFinite(conflictSwitch) || conflictSwitch <= 0 || conflictSwitch > 1 {
		conflictSwitch = DefaultConflictSwitch
	}
	return &Fuser{conflictSwitch: conflictSwitch}
}

// ConflictSwitch returns the configured threshold.
func (fu *Fuser) ConflictSwitch() float64 { return fu.conflictSwitch }

// RuleCounts returns how many combinations used each rule.
func (fu *Fuser) RuleCounts() (dempster, yager uint64) {
	return fu.dempsterCount.Load(), fu.yagerCount.Load()
}

// Combine fuses two masses. See CombineDetailed.
func (fu *Fuser) Combine(m1, m2 Mass) Mass {
	m, _, _ := fu.CombineDetailed(m1, m2)
	return m
}

// CombineDetailed fuses two masses and reports the rule used and the
// conflict K = o1·f2 + f1·o2. When K >= the conflict switch the conflict is
// routed into Unknown without renormalisation (Yager); otherwise the joint
// masses are renormalised by 1/(1-K) (Dempster). Both inputs are sealed
// first, so malformed operands degrade to vacuous evidence.
func (fu *Fuser) CombineDetailed(m1, m2 Mass) (Mass, Rule, float64) {
	m1 = Seal(m1)
	m2 = Seal(m2)

	// Every product is wrapped in an explicit conversion so the compiler
	// cannot fuse multiply-adds; results must match on every architecture.
	k := float64(m1.Occupied*m2.Free) + float64(m1.Free*m2.Occupied)

	o := float64(m1.Occupied*m2.Occupied) + float64(m1.Occupied*m2.Unknown) + float64(m1.Unknown*m2.Occupied)
	f := float64(m1.Free*m2.Free) + float64(m1.Free*m2.Unknown) + float64(m1.Unknown*m2.Free)
	u := float64(m1.Unknown * m2.Unknown)

	if k >= fu.conflictSwitch {
		fu.yagerCount.Inc()
		return Seal(Mass{Occupied: o, Free: f, Unknown: u + k}), RuleYager, k
	}

	fu.dempsterCount.Inc()
	norm := 1 - k
	return Seal(Mass{Occupied: o / norm, Free: f / norm, Unknown: u / norm}), RuleDempster, k
}

var defaultFuser = NewFuser(DefaultConflictSwitch)

// Combine fuses two masses with the default conflict switch.
func Combine(m1, m2 Mass) Mass {
	return defaultFuser.Combine(m1, m2)
}

// Discount weakens m by reliability r in [0,1]: Occupied and Free scale by r
// and the removed (1-r)·(Occupied+Free) moves into Unknown. Non-finite r is
// treated as 0 (fully unreliable).
func Discount(m Mass, r float64) Mass {
	m = Seal(m)
	r = fixedpoint.Clamp01(r)
	o := float64(m.Occupied * r)
	f := float64(m.Free * r)
	moved := float64((1 - r) * (m.Occupied + m.Free))
	return Seal(Mass{Occupied: o, Free: f, Unknown: m.Unknown + moved})
}
