package replay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/banshee-data/capture.evidence/internal/admission"
	"github.com/banshee-data/capture.evidence/internal/config"
	"github.com/banshee-data/capture.evidence/internal/monitoring"
	"github.com/banshee-data/capture.evidence/internal/session"
	"github.com/banshee-data/capture.evidence/internal/timeutil"
)

// ErrPolicyMismatch is returned when the replay tuning does not hash to the
// policy the recording was made under. Decision hashes commit to the policy,
// so such a replay can never match.
var ErrPolicyMismatch = errors.New("replay: tuning policy hash differs from recording")

// Options configure a replay run.
type Options struct {
	// SessionID must equal the recorded session id for hashes to match.
	SessionID string
	Tuning    *config.TuningConfig // defaults file when nil

	// ExpectPolicy, when non-zero, is checked against the tuning's policy
	// hash before anything runs.
	ExpectPolicy [32]byte

	// Sink receives the replayed records; they are discarded when nil.
	Sink session.Sink

	// CheckpointEvery is passed to the session. A final checkpoint is
	// always taken after the last observation.
	CheckpointEvery int
}

// CoveragePoint is the coverage reported by one checkpoint.
type CoveragePoint struct {
	Seq       uint64
	MonoNanos int64
	Coverage  float64
	Raw       float64
	Cells     int
}

// Result is the outcome of a replay run.
type Result struct {
	SessionID  string
	PolicyHash [32]byte
	Outcomes   []session.Outcome // one per input observation, cached repeats included
	Coverage   []CoveragePoint
	Final      session.State
	Digest     [32]byte // digest of the final grid snapshot
	Summary    Summary
}

// Summary counts replayed decisions by kind.
type Summary struct {
	Observations int
	Evaluated    int // distinct sequence numbers
	Allowed      int
	HardBlocks   int
	Penalized    int // allowed with at least one reason
	Reasons      map[admission.ReasonCode]int
}

// Run feeds obs, in order, through a new session. The session clock follows
// the observations' monotonic timestamps so coverage updates are
// reproducible.
func Run(ctx context.Context, obs []session.Observation, opts Options) (*Result, error) {
	tuning := opts.Tuning
	if tuning == nil {
		tuning = config.MustLoadDefaultConfig()
	}
	policy := tuning.PolicyHash()
	if opts.ExpectPolicy != ([32]byte{}) && opts.ExpectPolicy != policy {
		return nil, fmt.Errorf("%w: have %x, recorded %x", ErrPolicyMismatch, policy[:8], opts.ExpectPolicy[:8])
	}

	var start int64
	if len(obs) > 0 {
		start = obs[0].MonoNanos
	}
	clock := timeutil.NewMockClock(time.Unix(0, start))
	probe := &coverageProbe{}
	var sink session.Sink = probe
	if opts.Sink != nil {
		sink = teeSink{opts.Sink, probe}
	}

	sess, err := session.New(ctx, session.Options{
		ID:              opts.SessionID,
		Tuning:          tuning,
		Sink:            sink,
		Clock:           clock,
		CheckpointEvery: opts.CheckpointEvery,
	})
	if err != nil {
		return nil, err
	}
	defer sess.Close()

	res := &Result{
		SessionID:  sess.ID(),
		PolicyHash: sess.PolicyHash(),
		Outcomes:   make([]session.Outcome, 0, len(obs)),
	}
	last := start
	for i, o := range obs {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		// Never step the session clock backwards; admission sees the raw
		// timestamps regardless.
		if o.MonoNanos > last {
			clock.Set(time.Unix(0, o.MonoNanos))
			last = o.MonoNanos
		}
		probe.mono = o.MonoNanos
		out, err := sess.Observe(ctx, o)
		if err != nil {
			return res, fmt.Errorf("observation %d (%s): %w", i, o.CandidateID, err)
		}
		res.Outcomes = append(res.Outcomes, out)
	}

	st := sess.State()
	if n := len(probe.points); n == 0 || probe.points[n-1].Seq != st.Seq {
		probe.mono = last
		if _, err := sess.Checkpoint(ctx, time.Unix(0, last)); err != nil {
			return res, err
		}
	}
	res.Coverage = probe.points
	res.Digest = probe.digest
	res.Final = sess.State()
	res.Summary = summarize(res.Outcomes)
	monitoring.Logf("[replay] %s: %d observations, %d allowed, %d hard blocks, coverage %.4f",
		res.SessionID, res.Summary.Observations, res.Summary.Allowed, res.Summary.HardBlocks, res.Final.Coverage)
	return res, nil
}

// Unique returns the outcomes with cached repeats removed, in sequence
// order.
func (r *Result) Unique() []session.Outcome {
	seen := make(map[uint64]bool, len(r.Outcomes))
	out := make([]session.Outcome, 0, len(r.Outcomes))
	for _, o := range r.Outcomes {
		if seen[o.Seq] {
			continue
		}
		seen[o.Seq] = true
		out = append(out, o)
	}
	return out
}

func summarize(outcomes []session.Outcome) Summary {
	s := Summary{
		Observations: len(outcomes),
		Reasons:      make(map[admission.ReasonCode]int),
	}
	seen := make(map[uint64]bool, len(outcomes))
	for _, o := range outcomes {
		if seen[o.Seq] {
			continue
		}
		seen[o.Seq] = true
		s.Evaluated++
		d := o.Decision
		switch {
		case d.HardBlock:
			s.HardBlocks++
		case d.Allowed:
			s.Allowed++
			if len(d.Reasons) > 0 {
				s.Penalized++
			}
		}
		for _, r := range d.Reasons {
			s.Reasons[r]++
		}
	}
	return s
}

// coverageProbe is a sink that keeps the coverage of every checkpoint.
type coverageProbe struct {
	session.DiscardSink
	points []CoveragePoint
	digest [32]byte
	mono   int64 // timestamp of the observation being replayed
}

func (p *coverageProbe) RecordSnapshot(_ context.Context, rec session.SnapshotRecord) error {
	p.points = append(p.points, CoveragePoint{
		Seq:       rec.Seq,
		MonoNanos: p.mono,
		Coverage:  rec.Coverage.Coverage,
		Raw:       rec.Coverage.Raw,
		Cells:     rec.CellCount,
	})
	p.digest = rec.Digest
	return nil
}

// teeSink forwards every record to the primary sink, then to the probe.
type teeSink struct {
	primary session.Sink
	probe   *coverageProbe
}

func (t teeSink) RecordSession(ctx context.Context, info session.Info) error {
	return t.primary.RecordSession(ctx, info)
}

func (t teeSink) RecordDecision(ctx context.Context, rec session.DecisionRecord) error {
	return t.primary.RecordDecision(ctx, rec)
}

func (t teeSink) RecordCapacity(ctx context.Context, m admission.CapacityMetrics) error {
	return t.primary.RecordCapacity(ctx, m)
}

func (t teeSink) RecordSnapshot(ctx context.Context, rec session.SnapshotRecord) error {
	if err := t.primary.RecordSnapshot(ctx, rec); err != nil {
		return err
	}
	return t.probe.RecordSnapshot(ctx, rec)
}
