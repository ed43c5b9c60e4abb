package replay

import (
	"fmt"
	"strings"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/banshee-data/capture.evidence/internal/admission"
	"github.com/banshee-data/capture.evidence/internal/decisionhash"
	"github.com/banshee-data/capture.evidence/internal/session"
)

// Throttle readings are not part of the audit trail; the hash still commits
// to them.
var decisionOpts = cmp.Options{
	cmpopts.IgnoreFields(admission.Decision{}, "Throttle"),
	cmpopts.EquateEmpty(),
}

// Mismatch is one recorded decision the replay did not reproduce.
type Mismatch struct {
	Seq         uint64
	CandidateID string
	Want        decisionhash.Hash
	Got         decisionhash.Hash
	Diff        string // field diff, empty when only the hash differs
}

func (m Mismatch) String() string {
	s := fmt.Sprintf("seq %d (%s): hash %s, replay %s", m.Seq, m.CandidateID, short(m.Want), short(m.Got))
	if m.Diff != "" {
		s += "\n" + m.Diff
	}
	return s
}

func short(h decisionhash.Hash) string { return h.String()[:12] }

// Report is the result of comparing a replay with a recording.
type Report struct {
	Compared   int
	Matched    int
	Missing    []uint64 // recorded sequence numbers the replay never reached
	Extra      []uint64 // replayed sequence numbers absent from the recording
	Mismatches []Mismatch
}

// OK reports whether every recorded decision was reproduced exactly.
func (r Report) OK() bool {
	return len(r.Missing) == 0 && len(r.Extra) == 0 && len(r.Mismatches) == 0
}

func (r Report) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "compared %d, matched %d, mismatched %d, missing %d, extra %d",
		r.Compared, r.Matched, len(r.Mismatches), len(r.Missing), len(r.Extra))
	for _, m := range r.Mismatches {
		b.WriteString("\n  ")
		b.WriteString(strings.ReplaceAll(m.String(), "\n", "\n  "))
	}
	return b.String()
}

// Compare matches recorded decisions with replayed outcomes by sequence
// number. Cached repeats in outcomes are ignored.
func Compare(recorded []session.DecisionRecord, outcomes []session.Outcome) Report {
	got := make(map[uint64]admission.Decision, len(outcomes))
	for _, o := range outcomes {
		if _, ok := got[o.Seq]; !ok {
			got[o.Seq] = o.Decision
		}
	}

	var r Report
	want := make(map[uint64]bool, len(recorded))
	for _, rec := range recorded {
		want[rec.Seq] = true
		d, ok := got[rec.Seq]
		if !ok {
			r.Missing = append(r.Missing, rec.Seq)
			continue
		}
		r.Compared++
		diff := cmp.Diff(rec.Decision, d, decisionOpts)
		if diff == "" && rec.Decision.Hash == d.Hash {
			r.Matched++
			continue
		}
		r.Mismatches = append(r.Mismatches, Mismatch{
			Seq:         rec.Seq,
			CandidateID: rec.Decision.CandidateID,
			Want:        rec.Decision.Hash,
			Got:         d.Hash,
			Diff:        diff,
		})
	}
	for _, o := range outcomes {
		if !want[o.Seq] {
			want[o.Seq] = true
			r.Extra = append(r.Extra, o.Seq)
		}
	}
	return r
}

// Observations extracts the observation log from a recorded trail.
func Observations(recorded []session.DecisionRecord) []session.Observation {
	out := make([]session.Observation, len(recorded))
	for i, rec := range recorded {
		out[i] = rec.Observation
	}
	return out
}

// Records rebuilds the audit trail of a replay. outcomes and obs must be
// index-aligned, as in Result.Outcomes; cached repeats are dropped.
func Records(sessionID string, outcomes []session.Outcome, obs []session.Observation) []session.DecisionRecord {
	seen := make(map[uint64]bool, len(outcomes))
	var out []session.DecisionRecord
	for i, o := range outcomes {
		if seen[o.Seq] || i >= len(obs) {
			continue
		}
		seen[o.Seq] = true
		out = append(out, session.DecisionRecord{
			SessionID:   sessionID,
			Seq:         o.Seq,
			Observation: obs[i],
			Decision:    o.Decision,
		})
	}
	return out
}
