package session

import (
	"context"
	"sync"
	"time"

	"github.com/banshee-data/capture.evidence/internal/admission"
	"github.com/banshee-data/capture.evidence/internal/evidence/coverage"
	"github.com/banshee-data/capture.evidence/internal/evidence/grid"
)

// Info is the session header written once when a session starts.
type Info struct {
	ID         string    `json:"id"`
	Tier       string    `json:"tier"`
	PolicyHash [32]byte  `json:"policy_hash"`
	StartedAt  time.Time `json:"started_at"`
	Version    string    `json:"version"`
}

// DecisionRecord is the audit entry for one observation.
type DecisionRecord struct {
	SessionID   string             `json:"session_id"`
	Seq         uint64             `json:"seq"`
	Observation Observation        `json:"observation"`
	Decision    admission.Decision `json:"decision"`
}

// SnapshotRecord is a checkpoint of the grid. Cells holds the canonical
// grid encoding and Digest its SHA-256.
type SnapshotRecord struct {
	SessionID string          `json:"session_id"`
	Seq       uint64          `json:"seq"`
	CellCount int             `json:"cell_count"`
	Cells     []byte          `json:"-"`
	Digest    [32]byte        `json:"digest"`
	Coverage  coverage.Result `json:"coverage"`
	Grid      grid.Stats      `json:"grid"`
}

// Sink receives the immutable records a session produces. Implementations
// are called from the session's serialized path and must not retain the
// Cells slice past the call.
type Sink interface {
	RecordSession(ctx context.Context, info Info) error
	RecordDecision(ctx context.Context, rec DecisionRecord) error
	RecordCapacity(ctx context.Context, m admission.CapacityMetrics) error
	RecordSnapshot(ctx context.Context, rec SnapshotRecord) error
}

// DiscardSink drops every record.
type DiscardSink struct{}

func (DiscardSink) RecordSession(context.Context, Info) error                       { return nil }
func (DiscardSink) RecordDecision(context.Context, DecisionRecord) error            { return nil }
func (DiscardSink) RecordCapacity(context.Context, admission.CapacityMetrics) error { return nil }
func (DiscardSink) RecordSnapshot(context.Context, SnapshotRecord) error            { return nil }

// MemorySink keeps every record in memory. It is safe for concurrent use.
type MemorySink struct {
	mu        sync.Mutex
	sessions  []Info
	decisions []DecisionRecord
	capacity  []admission.CapacityMetrics
	snapshots []SnapshotRecord
}

func (m *MemorySink) RecordSession(_ context.Context, info Info) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions = append(m.sessions, info)
	return nil
}

func (m *MemorySink) RecordDecision(_ context.Context, rec DecisionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.decisions = append(m.decisions, rec)
	return nil
}

func (m *MemorySink) RecordCapacity(_ context.Context, cm admission.CapacityMetrics) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.capacity = append(m.capacity, cm)
	return nil
}

func (m *MemorySink) RecordSnapshot(_ context.Context, rec SnapshotRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec.Cells = append([]byte(nil), rec.Cells...)
	m.snapshots = append(m.snapshots, rec)
	return nil
}

// Sessions returns the recorded session headers.
func (m *MemorySink) Sessions() []Info {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Info(nil), m.sessions...)
}

// Decisions returns the recorded decisions in arrival order.
func (m *MemorySink) Decisions() []DecisionRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]DecisionRecord(nil), m.decisions...)
}

// Capacity returns the recorded capacity metrics in arrival order.
func (m *MemorySink) Capacity() []admission.CapacityMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]admission.CapacityMetrics(nil), m.capacity...)
}

// Snapshots returns the recorded snapshots in arrival order.
func (m *MemorySink) Snapshots() []SnapshotRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SnapshotRecord(nil), m.snapshots...)
}
