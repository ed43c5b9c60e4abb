package admission

import (
	"fmt"
	"time"

	"golang.org/x/time/rate"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/capture.evidence/internal/decisionhash"
	"github.com/banshee-data/capture.evidence/internal/fixedpoint"
	"github.com/banshee-data/capture.evidence/internal/monitoring"
)

// Observation is one candidate sample of a patch as seen by admission.
type Observation struct {
	CandidateID string  `json:"candidate_id"`
	PatchID     string  `json:"patch_id"`
	ValueScore  float64 `json:"value_score"`
	ViewDir     r3.Vec  `json:"view_dir"`
	MonoNanos   int64   `json:"mono_nanos"`
}

// Decision is the immutable outcome of evaluating one candidate.
type Decision struct {
	CandidateID  string                 `json:"candidate_id"`
	PatchID      string                 `json:"patch_id"`
	Allowed      bool                   `json:"allowed"`
	HardBlock    bool                   `json:"hard_block"`
	QualityScale float64                `json:"quality_scale"`
	Reasons      []ReasonCode           `json:"reasons"`
	Mode         BuildMode              `json:"mode"`
	Throttle     *decisionhash.Throttle `json:"throttle,omitempty"`
	Hash         decisionhash.Hash      `json:"hash"`
}

// PrimaryReason returns the first reason code, or ReasonNone.
func (d Decision) PrimaryReason() ReasonCode {
	if len(d.Reasons) == 0 {
		return ReasonNone
	}
	return d.Reasons[0]
}

// HasReason reports whether r is among the decision's reasons.
func (d Decision) HasReason(r ReasonCode) bool {
	for _, x := range d.Reasons {
		if x == r {
			return true
		}
	}
	return false
}

// Stats are the controller's per-flow counters.
type Stats struct {
	Attempts      uint64 `json:"attempts"`
	Accepted      uint64 `json:"accepted"`
	HardBlocks    uint64 `json:"hard_blocks"`
	SoftPenalties uint64 `json:"soft_penalties"`
	CacheHits     uint64 `json:"cache_hits"`
}

// patchState is everything the pipeline remembers about one patch. All
// timestamps are monotonic nanoseconds taken from observations.
type patchState struct {
	limiter    *rate.Limiter
	hasUpdate  bool
	lastUpdate int64
	views      []r3.Vec // ring of unit vectors, oldest overwritten first
	nextView   int
	recent     []int64 // accepted observation times within FrequencyWindow
	blocks     []int64 // TIME_DENSITY rejection times within SpamWindow
}

// Controller runs the admission pipeline for one session:
//
//  1. capacity latch (HARD_CAP)
//  2. time density (TIME_DENSITY)
//  3. confirmed spam (SPAM_CONFIRMED), scored from recent density rejections
//  4. token bucket, view novelty, frequency cap and capacity damping, each
//     multiplying the quality scale
//  5. the guaranteed floor on the product
//
// Steps 1-3 reject; the rest only scale. Decisions are cached by candidate
// id, so re-evaluating a candidate returns the identical decision.
//
// The cache holds one entry per distinct candidate id for the session's
// lifetime, HARD_CAP rejections after saturation included: their hashes
// commit to the attempt counters, so they cannot be recomputed later. Memory
// is therefore linear in the number of distinct ids a session is shown.
//
// Controller is not safe for concurrent use.
type Controller struct {
	cfg       Config
	sessionID string
	policy    [32]byte
	capacity  *CapacityTracker

	patches   map[string]*patchState
	decisions map[string]Decision
	stats     Stats
}

// NewController returns a controller consulting capacity for the session's
// build mode.
func NewController(cfg *Config, capacity *CapacityTracker, sessionID string, policy [32]byte) (*Controller, error) {
	if cfg == nil {
		return nil, fmt.Errorf("admission config is nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid admission config: %w", err)
	}
	if capacity == nil {
		return nil, fmt.Errorf("capacity tracker is nil")
	}
	return &Controller{
		cfg:       *cfg,
		sessionID: sessionID,
		policy:    policy,
		capacity:  capacity,
		patches:   make(map[string]*patchState),
		decisions: make(map[string]Decision),
	}, nil
}

// Stats returns a copy of the controller's counters.
func (c *Controller) Stats() Stats { return c.stats }

// Evaluate decides whether obs is admitted.
func (c *Controller) Evaluate(obs Observation) Decision {
	if d, ok := c.decisions[obs.CandidateID]; ok {
		c.stats.CacheHits++
		return d
	}
	if obs.CandidateID == "" || len(obs.CandidateID) > decisionhash.MaxStringLen ||
		obs.PatchID == "" || len(obs.PatchID) > decisionhash.MaxStringLen {
		// Not cacheable and not hashable: the identifiers are the problem.
		c.stats.Attempts++
		c.stats.HardBlocks++
		return Decision{
			CandidateID: obs.CandidateID,
			PatchID:     obs.PatchID,
			HardBlock:   true,
			Reasons:     []ReasonCode{ReasonMalformedInput},
			Mode:        c.capacity.Mode(),
		}
	}
	if !fixedpoint.IsFinite(obs.ValueScore) {
		monitoring.SanitizedScores.Inc()
	}
	obs.ValueScore = fixedpoint.Clamp01(obs.ValueScore)

	// The hash commits to the counters as they stood before this candidate.
	before := c.stats
	d := c.evaluate(obs)
	d.Hash = c.hash(obs, d, before)
	c.decisions[obs.CandidateID] = d
	return d
}

func (c *Controller) evaluate(obs Observation) Decision {
	c.stats.Attempts++
	d := Decision{
		CandidateID: obs.CandidateID,
		PatchID:     obs.PatchID,
		Mode:        c.capacity.Mode(),
	}
	st := c.patch(obs.PatchID)
	now := obs.MonoNanos

	block := func(r ReasonCode) Decision {
		c.stats.HardBlocks++
		d.HardBlock = true
		d.Reasons = []ReasonCode{r}
		return d
	}

	if c.capacity.Saturated() {
		return block(ReasonHardCap)
	}
	st.blocks = pruneWindow(st.blocks, now, c.cfg.SpamWindow)
	if st.hasUpdate {
		elapsed := now - st.lastUpdate
		if elapsed < 0 {
			monitoring.NonMonotonicClock.Inc()
		}
		if elapsed < int64(c.cfg.MinUpdateInterval) {
			// Only density rejections enter the spam window.
			st.blocks = append(st.blocks, now)
			return block(ReasonTimeDensity)
		}
	}
	spam := float64(len(st.blocks)) / float64(c.cfg.SpamWindowCap)
	if spam >= c.cfg.SpamThreshold {
		return block(ReasonSpamConfirmed)
	}

	scale := 1.0
	thr := &decisionhash.Throttle{SpamScore: spam}

	thr.TokenAvailable = st.limiter.AllowN(time.Unix(0, now), 1)
	if !thr.TokenAvailable {
		scale = float64(scale * c.cfg.TokenPenalty)
		d.Reasons = append(d.Reasons, ReasonTokenBucketEmpty)
	}

	dir, dirOK := unitDir(obs.ViewDir)
	thr.Novelty = novelty(st.views, dir, dirOK)
	if thr.Novelty < c.cfg.NoveltyThreshold {
		scale = float64(scale * (thr.Novelty / c.cfg.NoveltyThreshold))
		d.Reasons = append(d.Reasons, ReasonLowNovelty)
	}

	st.recent = pruneWindow(st.recent, now, c.cfg.FrequencyWindow)
	thr.WindowCount = uint32(len(st.recent) + 1)
	if int(thr.WindowCount) > c.cfg.FrequencyCap {
		scale = float64(scale * c.cfg.FrequencyPenalty)
		d.Reasons = append(d.Reasons, ReasonFrequencyCap)
	}

	if d.Mode == ModeDamping {
		scale = float64(scale * c.cfg.DampingFactor)
		d.Reasons = append(d.Reasons, ReasonCapacityDamping)
	}

	if len(d.Reasons) > 0 {
		c.stats.SoftPenalties++
	}
	if scale < c.cfg.MinQualityFloor {
		scale = c.cfg.MinQualityFloor
		d.Reasons = append(d.Reasons, ReasonMinFloorApplied)
	}
	// Six decimals is what the decision hash commits to.
	scale = fixedpoint.RoundHalfAwayFromZero(scale, 6)
	thr.QualityScale = scale

	d.Allowed = true
	d.QualityScale = scale
	d.Throttle = thr
	c.stats.Accepted++

	st.hasUpdate = true
	st.lastUpdate = now
	st.recent = append(st.recent, now)
	if dirOK {
		st.remember(dir, c.cfg.NoveltyHistory)
	}
	return d
}

func (c *Controller) patch(id string) *patchState {
	st, ok := c.patches[id]
	if !ok {
		st = &patchState{
			limiter: rate.NewLimiter(rate.Limit(c.cfg.TokenRatePerSec), c.cfg.TokenBurst),
		}
		c.patches[id] = st
	}
	return st
}

func (c *Controller) hash(obs Observation, d Decision, before Stats) decisionhash.Hash {
	state := c.capacity.State()
	in := decisionhash.Input{
		PolicyHash:  c.policy,
		SessionID:   c.sessionID,
		CandidateID: obs.CandidateID,
		ValueScore:  obs.ValueScore,
		Counters: decisionhash.Counters{
			PatchCountShadow:   state.PatchCountShadow,
			BudgetRemainingRaw: c.capacity.budgetRaw(),
			Attempts:           before.Attempts,
			Accepted:           before.Accepted,
			HardBlocks:         before.HardBlocks,
			SoftPenalties:      before.SoftPenalties,
		},
		Throttle:      d.Throttle,
		Degradation:   d.Mode.Degradation(),
		ReasonCode:    d.Mode.reason(),
		SchemaVersion: decisionhash.SchemaVersion,
	}
	h, err := decisionhash.Compute(in)
	if err != nil {
		// Identifiers are bounded and floats sanitized above.
		monitoring.Logf("[admission] hash candidate %s: %v", obs.CandidateID, err)
		return decisionhash.Hash{}
	}
	return h
}

func (st *patchState) remember(dir r3.Vec, limit int) {
	if len(st.views) < limit {
		st.views = append(st.views, dir)
		return
	}
	st.views[st.nextView] = dir
	st.nextView = (st.nextView + 1) % len(st.views)
}

// novelty is (1 - max cos)/2 against the remembered views: 1 for an
// unseen patch or the exact opposite view, 0 for a repeated one. A missing
// direction carries no novelty.
func novelty(views []r3.Vec, dir r3.Vec, ok bool) float64 {
	if !ok {
		return 0
	}
	if len(views) == 0 {
		return 1
	}
	maxCos := -1.0
	for _, v := range views {
		if c := r3.Dot(v, dir); c > maxCos {
			maxCos = c
		}
	}
	if maxCos > 1 {
		maxCos = 1
	}
	return float64((1 - maxCos) / 2)
}

func unitDir(v r3.Vec) (r3.Vec, bool) {
	if !fixedpoint.IsFinite(v.X) || !fixedpoint.IsFinite(v.Y) || !fixedpoint.IsFinite(v.Z) {
		monitoring.SanitizedPositions.Inc()
		return r3.Vec{}, false
	}
	if r3.Norm(v) == 0 {
		return r3.Vec{}, false
	}
	return r3.Unit(v), true
}

// pruneWindow drops times older than window before now. Entries are in
// arrival order, so the kept suffix is contiguous.
func pruneWindow(ts []int64, now int64, window time.Duration) []int64 {
	cutoff := now - int64(window)
	i := 0
	for i < len(ts) && ts[i] <= cutoff {
		i++
	}
	if i == 0 {
		return ts
	}
	return append(ts[:0], ts[i:]...)
}
