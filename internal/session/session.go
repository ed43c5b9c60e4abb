// Package session ties the evidence engine together for one capture
// session: observations pass through admission, accepted ones are committed
// against the capacity tracker and fused into the grid, and every decision
// is handed to an audit sink.
package session

import (
	"context"
	"crypto/sha256"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/capture.evidence/internal/admission"
	"github.com/banshee-data/capture.evidence/internal/config"
	"github.com/banshee-data/capture.evidence/internal/evidence/coverage"
	"github.com/banshee-data/capture.evidence/internal/evidence/grid"
	"github.com/banshee-data/capture.evidence/internal/evidence/mass"
	"github.com/banshee-data/capture.evidence/internal/fixedpoint"
	"github.com/banshee-data/capture.evidence/internal/monitoring"
	"github.com/banshee-data/capture.evidence/internal/timeutil"
	"github.com/banshee-data/capture.evidence/internal/version"
)

// Observation is one sensor sample of a patch as delivered by the capture
// pipeline.
type Observation struct {
	CandidateID string  `json:"candidate_id"`
	PatchID     string  `json:"patch_id"`
	Position    r3.Vec  `json:"position"`
	Score       float64 `json:"score"` // continuous verdict in [0,1]
	ViewDir     r3.Vec  `json:"view_dir"`
	WallNanos   int64   `json:"wall_nanos"`
	MonoNanos   int64   `json:"mono_nanos"`
}

// WithVerdict sets Score from a discrete verdict.
func (o Observation) WithVerdict(v mass.Verdict) Observation {
	o.Score = v.Score()
	return o
}

// sanitized replaces non-finite numbers so the observation can be audited
// and replayed. Each substitution matches how the engine already treats the
// raw value: a non-finite coordinate or score reads as 0 and a view
// direction with any non-finite component carries no direction.
func (o Observation) sanitized() Observation {
	fix := func(v *float64, c *monitoring.Counter) {
		if !fixedpoint.IsFinite(*v) {
			c.Inc()
			*v = 0
		}
	}
	fix(&o.Position.X, &monitoring.SanitizedPositions)
	fix(&o.Position.Y, &monitoring.SanitizedPositions)
	fix(&o.Position.Z, &monitoring.SanitizedPositions)
	fix(&o.Score, &monitoring.SanitizedScores)
	if !fixedpoint.IsFinite(o.ViewDir.X) || !fixedpoint.IsFinite(o.ViewDir.Y) || !fixedpoint.IsFinite(o.ViewDir.Z) {
		monitoring.SanitizedPositions.Inc()
		o.ViewDir = r3.Vec{}
	}
	return o
}

// Outcome is everything Observe produced for one observation.
type Outcome struct {
	Seq      uint64                    `json:"seq"`
	Decision admission.Decision        `json:"decision"`
	Capacity admission.CapacityMetrics `json:"capacity"`
	Key      grid.SpatialKey           `json:"key"`
	Applied  bool                      `json:"applied"`
	Apply    grid.ApplyResult          `json:"apply"`
}

// Options configure a new Session. Zero values pick defaults.
type Options struct {
	ID     string               // generated when empty
	Tuning *config.TuningConfig // defaults file when nil
	Sink   Sink                 // records are discarded when nil
	Clock  timeutil.Clock       // RealClock when nil

	// CheckpointEvery writes a grid snapshot and coverage update after
	// every n observations. Zero disables periodic checkpoints.
	CheckpointEvery int
}

// Session is a single capture session. Observe may be called from several
// goroutines; calls are serialized.
type Session struct {
	id     string
	tier   string
	policy [32]byte
	clock  timeutil.Clock
	sink   Sink

	cellSize        float64
	checkpointEvery int

	controller *admission.Controller
	capacity   *admission.CapacityTracker
	exec       *grid.Executor
	coverage   *coverage.Estimator

	mu       sync.Mutex
	seq      uint64
	outcomes map[string]Outcome // one per distinct candidate id, never pruned
	closed   bool
}

// New builds a session and records its header with the sink.
func New(ctx context.Context, opts Options) (*Session, error) {
	tuning := opts.Tuning
	if tuning == nil {
		tuning = config.MustLoadDefaultConfig()
	}
	if err := tuning.Validate(); err != nil {
		return nil, fmt.Errorf("invalid tuning config: %w", err)
	}
	id := opts.ID
	if id == "" {
		id = uuid.New().String()
	}
	clock := opts.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	sink := opts.Sink
	if sink == nil {
		sink = DiscardSink{}
	}
	policy := tuning.PolicyHash()

	capacity, err := admission.NewCapacityTracker(admission.CapacityConfigFromTuning(tuning), id, policy)
	if err != nil {
		return nil, err
	}
	controller, err := admission.NewController(admission.ConfigFromTuning(tuning), capacity, id, policy)
	if err != nil {
		return nil, err
	}
	covCfg, err := coverage.ConfigFromTuning(tuning)
	if err != nil {
		return nil, err
	}
	estimator, err := coverage.NewEstimator(covCfg, clock)
	if err != nil {
		return nil, err
	}
	gridCfg := grid.ConfigFromTuning(tuning).WithCapacity(config.TierCapacity(tuning.GetSessionTier()))
	g, err := grid.New(gridCfg)
	if err != nil {
		return nil, err
	}

	s := &Session{
		id:              id,
		tier:            tuning.GetSessionTier(),
		policy:          policy,
		clock:           clock,
		sink:            sink,
		cellSize:        gridCfg.CellSize,
		checkpointEvery: opts.CheckpointEvery,
		controller:      controller,
		capacity:        capacity,
		exec:            grid.NewExecutor(g),
		coverage:        estimator,
		outcomes:        make(map[string]Outcome),
	}
	info := Info{
		ID:         id,
		Tier:       s.tier,
		PolicyHash: policy,
		StartedAt:  clock.Now().UTC(),
		Version:    version.Version,
	}
	if err := sink.RecordSession(ctx, info); err != nil {
		s.exec.Close()
		return nil, fmt.Errorf("record session %s: %w", id, err)
	}
	monitoring.Logf("[session] %s started: tier %s, grid capacity %d", id, s.tier, gridCfg.Capacity)
	return s, nil
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Tier returns the session tier name.
func (s *Session) Tier() string { return s.tier }

// PolicyHash returns the hash of the tuning that governs this session.
func (s *Session) PolicyHash() [32]byte { return s.policy }

// Observe runs one observation through the engine. Observing a candidate
// id a second time returns the first outcome and changes nothing.
//
// A sink error is returned alongside the outcome: the engine state has
// already advanced and is not rolled back.
func (s *Session) Observe(ctx context.Context, obs Observation) (Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Outcome{}, grid.ErrExecutorClosed
	}
	if out, ok := s.outcomes[obs.CandidateID]; ok && obs.CandidateID != "" {
		return out, nil
	}

	obs = obs.sanitized()
	s.seq++
	out := Outcome{Seq: s.seq}
	key, coord, keyErr := grid.KeyFor(obs.Position, s.cellSize, 0)
	if keyErr != nil {
		monitoring.SanitizedPositions.Inc()
		out.Decision = admission.Decision{
			CandidateID: obs.CandidateID,
			PatchID:     obs.PatchID,
			HardBlock:   true,
			Reasons:     []admission.ReasonCode{admission.ReasonMalformedInput},
			Mode:        s.capacity.Mode(),
		}
	} else {
		out.Key = key
		out.Decision = s.controller.Evaluate(admission.Observation{
			CandidateID: obs.CandidateID,
			PatchID:     obs.PatchID,
			ValueScore:  obs.Score,
			ViewDir:     obs.ViewDir,
			MonoNanos:   obs.MonoNanos,
		})
	}
	out.Capacity = s.capacity.Commit(out.Decision)

	if out.Capacity.Committed {
		m := mass.Discount(mass.FromVerdict(obs.Score), out.Decision.QualityScale)
		b := s.exec.NewBatch()
		b.Add(grid.InsertOp(key, obs.PatchID, coord, m, grid.ViewBit(obs.ViewDir), obs.MonoNanos))
		res, err := s.exec.Submit(ctx, b)
		if err != nil {
			// The executor may still apply the batch; never apply it twice.
			s.remember(obs.CandidateID, out)
			return out, fmt.Errorf("apply candidate %s: %w", obs.CandidateID, err)
		}
		out.Applied = true
		out.Apply = res
	}
	s.remember(obs.CandidateID, out)

	if err := s.sink.RecordDecision(ctx, DecisionRecord{
		SessionID:   s.id,
		Seq:         out.Seq,
		Observation: obs,
		Decision:    out.Decision,
	}); err != nil {
		return out, fmt.Errorf("record decision %s: %w", obs.CandidateID, err)
	}
	if err := s.sink.RecordCapacity(ctx, out.Capacity); err != nil {
		return out, fmt.Errorf("record capacity %s: %w", obs.CandidateID, err)
	}

	if s.checkpointEvery > 0 && out.Seq%uint64(s.checkpointEvery) == 0 {
		if _, err := s.checkpoint(ctx, time.Unix(0, obs.MonoNanos)); err != nil {
			return out, err
		}
	}
	return out, nil
}

func (s *Session) remember(candidateID string, out Outcome) {
	if candidateID != "" {
		s.outcomes[candidateID] = out
	}
}

// Coverage reads the grid and updates the coverage estimate at the
// session clock's current time.
func (s *Session) Coverage(ctx context.Context) (coverage.Result, error) {
	return s.CoverageAt(ctx, s.clock.Now())
}

// CoverageAt updates the coverage estimate as of now. Replays pass the
// observation clock so the estimate is reproducible.
func (s *Session) CoverageAt(ctx context.Context, now time.Time) (coverage.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, err := s.exec.Snapshot(ctx)
	if err != nil {
		return coverage.Result{}, err
	}
	return s.coverage.UpdateAt(snap.Cells, now), nil
}

// Checkpoint records a grid snapshot and a coverage update with the sink.
func (s *Session) Checkpoint(ctx context.Context, now time.Time) (SnapshotRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.checkpoint(ctx, now)
}

func (s *Session) checkpoint(ctx context.Context, now time.Time) (SnapshotRecord, error) {
	snap, err := s.exec.Snapshot(ctx)
	if err != nil {
		return SnapshotRecord{}, err
	}
	encoded, err := grid.EncodeCells(snap.Cells)
	if err != nil {
		return SnapshotRecord{}, fmt.Errorf("encode snapshot: %w", err)
	}
	cov := s.coverage.UpdateAt(snap.Cells, now)
	rec := SnapshotRecord{
		SessionID: s.id,
		Seq:       s.seq,
		CellCount: len(snap.Cells),
		Cells:     encoded,
		Digest:    sha256.Sum256(encoded),
		Coverage:  cov,
		Grid:      snap.Stats,
	}
	if err := s.sink.RecordSnapshot(ctx, rec); err != nil {
		return rec, fmt.Errorf("record snapshot at seq %d: %w", s.seq, err)
	}
	return rec, nil
}

// State summarizes the session's counters.
type State struct {
	ID        string                  `json:"id"`
	Tier      string                  `json:"tier"`
	Seq       uint64                  `json:"seq"`
	Admission admission.Stats         `json:"admission"`
	Capacity  admission.CapacityState `json:"capacity"`
	Coverage  float64                 `json:"coverage"`
}

// State returns the session's counters.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return State{
		ID:        s.id,
		Tier:      s.tier,
		Seq:       s.seq,
		Admission: s.controller.Stats(),
		Capacity:  s.capacity.State(),
		Coverage:  s.coverage.Current(),
	}
}

// Cells returns the grid's active cells in insertion order.
func (s *Session) Cells(ctx context.Context) ([]grid.GridCell, error) {
	snap, err := s.exec.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return snap.Cells, nil
}

// Close stops the grid executor. Further observations fail.
func (s *Session) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.exec.Close()
}
