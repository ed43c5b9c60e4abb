package sqlite

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/capture.evidence/internal/admission"
	"github.com/banshee-data/capture.evidence/internal/decisionhash"
	"github.com/banshee-data/capture.evidence/internal/evidence/coverage"
	"github.com/banshee-data/capture.evidence/internal/evidence/grid"
	"github.com/banshee-data/capture.evidence/internal/session"
)

// ErrDigestMismatch is returned when a stored snapshot no longer matches
// the digest recorded with it.
var ErrDigestMismatch = errors.New("sqlite: snapshot digest mismatch")

// ErrNotFound is returned by lookups that match no row.
var ErrNotFound = errors.New("sqlite: not found")

var _ session.Sink = (*Store)(nil)

// RecordSession stores a session header.
func (s *Store) RecordSession(ctx context.Context, info session.Info) error {
	return retryOnBusy(func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO evidence_sessions (session_id, tier, policy_hash, started_at_ns, version)
			VALUES (?, ?, ?, ?, ?)`,
			info.ID, info.Tier, hex.EncodeToString(info.PolicyHash[:]), info.StartedAt.UnixNano(), info.Version,
		)
		return err
	})
}

// Session returns a stored session header.
func (s *Store) Session(ctx context.Context, id string) (session.Info, error) {
	var (
		info    session.Info
		policy  string
		started int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT session_id, tier, policy_hash, started_at_ns, version
		FROM evidence_sessions WHERE session_id = ?`, id,
	).Scan(&info.ID, &info.Tier, &policy, &started, &info.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return session.Info{}, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return session.Info{}, fmt.Errorf("scan session: %w", err)
	}
	raw, err := hex.DecodeString(policy)
	if err != nil || len(raw) != len(info.PolicyHash) {
		return session.Info{}, fmt.Errorf("session %s: malformed policy hash %q", id, policy)
	}
	copy(info.PolicyHash[:], raw)
	info.StartedAt = time.Unix(0, started).UTC()
	return info, nil
}

// RecordDecision stores one admission decision with its observation.
func (s *Store) RecordDecision(ctx context.Context, rec session.DecisionRecord) error {
	obs, err := json.Marshal(rec.Observation)
	if err != nil {
		return fmt.Errorf("encode observation %s: %w", rec.Observation.CandidateID, err)
	}
	d := rec.Decision
	return retryOnBusy(func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO evidence_decisions (
				decision_id, session_id, seq, candidate_id, patch_id, allowed, hard_block,
				quality_scale, reasons, build_mode, decision_hash, observation_json
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			uuid.New().String(), rec.SessionID, rec.Seq, d.CandidateID, d.PatchID, d.Allowed, d.HardBlock,
			d.QualityScale, joinReasons(d.Reasons), d.Mode.String(), d.Hash.String(), string(obs),
		)
		return err
	})
}

// DecisionRow is a stored decision.
type DecisionRow struct {
	Seq          uint64
	CandidateID  string
	PatchID      string
	Allowed      bool
	HardBlock    bool
	QualityScale float64
	Reasons      []admission.ReasonCode
	Mode         admission.BuildMode
	Hash         decisionhash.Hash
	Observation  session.Observation
}

// Record rebuilds the audit record. Throttle readings are not stored and
// come back nil.
func (r DecisionRow) Record(sessionID string) session.DecisionRecord {
	return session.DecisionRecord{
		SessionID:   sessionID,
		Seq:         r.Seq,
		Observation: r.Observation,
		Decision: admission.Decision{
			CandidateID:  r.CandidateID,
			PatchID:      r.PatchID,
			Allowed:      r.Allowed,
			HardBlock:    r.HardBlock,
			QualityScale: r.QualityScale,
			Reasons:      r.Reasons,
			Mode:         r.Mode,
			Hash:         r.Hash,
		},
	}
}

// DecisionRecords returns a session's decisions as audit records.
func (s *Store) DecisionRecords(ctx context.Context, sessionID string) ([]session.DecisionRecord, error) {
	rows, err := s.Decisions(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	out := make([]session.DecisionRecord, len(rows))
	for i, r := range rows {
		out[i] = r.Record(sessionID)
	}
	return out, nil
}

// Decisions returns a session's decisions in sequence order.
func (s *Store) Decisions(ctx context.Context, sessionID string) ([]DecisionRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, candidate_id, patch_id, allowed, hard_block, quality_scale,
		       reasons, build_mode, decision_hash, observation_json
		FROM evidence_decisions
		WHERE session_id = ?
		ORDER BY seq`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query decisions: %w", err)
	}
	defer rows.Close()

	var out []DecisionRow
	for rows.Next() {
		var (
			r                  DecisionRow
			reasons, mode, obs string
			hash               string
		)
		if err := rows.Scan(&r.Seq, &r.CandidateID, &r.PatchID, &r.Allowed, &r.HardBlock,
			&r.QualityScale, &reasons, &mode, &hash, &obs); err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		if r.Reasons, err = splitReasons(reasons); err != nil {
			return nil, fmt.Errorf("decision %d: %w", r.Seq, err)
		}
		if err := r.Mode.UnmarshalText([]byte(mode)); err != nil {
			return nil, fmt.Errorf("decision %d: %w", r.Seq, err)
		}
		if err := r.Hash.UnmarshalText([]byte(hash)); err != nil {
			return nil, fmt.Errorf("decision %d: %w", r.Seq, err)
		}
		if err := json.Unmarshal([]byte(obs), &r.Observation); err != nil {
			return nil, fmt.Errorf("decision %d observation: %w", r.Seq, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// RecordCapacity stores one capacity commit. A second record for the same
// session and candidate is ignored, mirroring the tracker's idempotent
// commit.
func (s *Store) RecordCapacity(ctx context.Context, m admission.CapacityMetrics) error {
	return retryOnBusy(func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO evidence_capacity_metrics (
				metric_id, session_id, candidate_id, patch_count_shadow, budget_remaining,
				budget_delta, build_mode, committed, reject_reason, invariant_violation, decision_hash
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(session_id, candidate_id) DO NOTHING`,
			uuid.New().String(), m.SessionID, m.CandidateID, int64(m.PatchCountShadow), m.BudgetRemaining,
			m.BudgetDelta, m.Mode.String(), m.Committed, m.RejectReason.String(), m.InvariantViolation,
			m.DecisionHash.String(),
		)
		return err
	})
}

// CapacityMetrics returns a session's capacity records in insertion order.
func (s *Store) CapacityMetrics(ctx context.Context, sessionID string) ([]admission.CapacityMetrics, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, candidate_id, patch_count_shadow, budget_remaining, budget_delta,
		       build_mode, committed, reject_reason, invariant_violation, decision_hash
		FROM evidence_capacity_metrics
		WHERE session_id = ?
		ORDER BY rowid`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query capacity metrics: %w", err)
	}
	defer rows.Close()

	var out []admission.CapacityMetrics
	for rows.Next() {
		var (
			m                    admission.CapacityMetrics
			count                int64
			mode, reason, digest string
		)
		if err := rows.Scan(&m.SessionID, &m.CandidateID, &count, &m.BudgetRemaining, &m.BudgetDelta,
			&mode, &m.Committed, &reason, &m.InvariantViolation, &digest); err != nil {
			return nil, fmt.Errorf("scan capacity metrics: %w", err)
		}
		m.PatchCountShadow = uint64(count)
		if err := m.Mode.UnmarshalText([]byte(mode)); err != nil {
			return nil, err
		}
		if err := m.RejectReason.UnmarshalText([]byte(reason)); err != nil {
			return nil, err
		}
		if err := m.DecisionHash.UnmarshalText([]byte(digest)); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// RecordSnapshot stores a grid checkpoint. The canonical cell encoding is
// kept zstd-compressed next to its digest.
func (s *Store) RecordSnapshot(ctx context.Context, rec session.SnapshotRecord) error {
	cov, err := json.Marshal(rec.Coverage)
	if err != nil {
		return fmt.Errorf("encode coverage: %w", err)
	}
	stats, err := json.Marshal(rec.Grid)
	if err != nil {
		return fmt.Errorf("encode grid stats: %w", err)
	}
	blob := s.enc.EncodeAll(rec.Cells, nil)
	return retryOnBusy(func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO evidence_snapshots (
				snapshot_id, session_id, seq, cell_count, digest, coverage,
				coverage_json, grid_json, cells_zstd
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			uuid.New().String(), rec.SessionID, rec.Seq, rec.CellCount,
			hex.EncodeToString(rec.Digest[:]), rec.Coverage.Coverage, string(cov), string(stats), blob,
		)
		return err
	})
}

// SnapshotRow is a stored checkpoint without its cells.
type SnapshotRow struct {
	Seq       uint64
	CellCount int
	Digest    [32]byte
	Coverage  coverage.Result
	Grid      grid.Stats
}

// Snapshots returns a session's checkpoints in sequence order.
func (s *Store) Snapshots(ctx context.Context, sessionID string) ([]SnapshotRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, cell_count, digest, coverage_json, grid_json
		FROM evidence_snapshots
		WHERE session_id = ?
		ORDER BY seq`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query snapshots: %w", err)
	}
	defer rows.Close()

	var out []SnapshotRow
	for rows.Next() {
		var (
			r                SnapshotRow
			digest, cov, gst string
		)
		if err := rows.Scan(&r.Seq, &r.CellCount, &digest, &cov, &gst); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		if err := decodeDigest(digest, &r.Digest); err != nil {
			return nil, fmt.Errorf("snapshot %d: %w", r.Seq, err)
		}
		if err := json.Unmarshal([]byte(cov), &r.Coverage); err != nil {
			return nil, fmt.Errorf("snapshot %d coverage: %w", r.Seq, err)
		}
		if err := json.Unmarshal([]byte(gst), &r.Grid); err != nil {
			return nil, fmt.Errorf("snapshot %d grid stats: %w", r.Seq, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// LoadSnapshot returns the cells of the checkpoint taken at seq, verified
// against the stored digest.
func (s *Store) LoadSnapshot(ctx context.Context, sessionID string, seq uint64) ([]grid.GridCell, error) {
	var (
		digest string
		blob   []byte
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT digest, cells_zstd FROM evidence_snapshots
		WHERE session_id = ? AND seq = ?
		ORDER BY rowid DESC LIMIT 1`, sessionID, seq,
	).Scan(&digest, &blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("snapshot %s@%d: %w", sessionID, seq, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scan snapshot: %w", err)
	}
	data, err := s.dec.DecodeAll(blob, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress snapshot %s@%d: %w", sessionID, seq, err)
	}
	var want [32]byte
	if err := decodeDigest(digest, &want); err != nil {
		return nil, err
	}
	if sha256.Sum256(data) != want {
		return nil, fmt.Errorf("snapshot %s@%d: %w", sessionID, seq, ErrDigestMismatch)
	}
	return grid.DecodeCells(data)
}

func decodeDigest(s string, dst *[32]byte) error {
	raw, err := hex.DecodeString(s)
	if err != nil || len(raw) != len(dst) {
		return fmt.Errorf("malformed digest %q", s)
	}
	copy(dst[:], raw)
	return nil
}

func joinReasons(rs []admission.ReasonCode) string {
	names := make([]string, len(rs))
	for i, r := range rs {
		names[i] = r.String()
	}
	return strings.Join(names, ",")
}

func splitReasons(s string) ([]admission.ReasonCode, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]admission.ReasonCode, len(parts))
	for i, p := range parts {
		if err := out[i].UnmarshalText([]byte(p)); err != nil {
			return nil, err
		}
	}
	return out, nil
}
