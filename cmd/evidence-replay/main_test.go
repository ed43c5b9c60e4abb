package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/capture.evidence/internal/config"
	"github.com/banshee-data/capture.evidence/internal/monitoring"
	"github.com/banshee-data/capture.evidence/internal/replay"
	"github.com/banshee-data/capture.evidence/internal/security"
	"github.com/banshee-data/capture.evidence/internal/storage/sqlite"
	"github.com/banshee-data/capture.evidence/internal/testutil"
)

func init() {
	monitoring.SetLogger(nil)
}

func TestOptionsValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		opts    options
		wantErr bool
	}{
		{"nothing", options{}, true},
		{"dry run", options{logPath: "a.jsonl"}, false},
		{"verify", options{dbPath: "a.db", sessionID: "s"}, false},
		{"db without session", options{dbPath: "a.db"}, true},
		{"record", options{logPath: "a.jsonl", dbPath: "a.db", record: true}, false},
		{"record without db", options{logPath: "a.jsonl", record: true}, true},
		{"export", options{dbPath: "a.db", sessionID: "s", exportPath: "o.jsonl"}, false},
		{"export without session", options{logPath: "a.jsonl", exportPath: "o.jsonl"}, true},
		{"negative checkpoint", options{logPath: "a.jsonl", checkpoint: -1}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.opts.validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRun_RecordVerifyExport(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dir := t.TempDir()
	logPath := filepath.Join(dir, "capture.jsonl")
	dbPath := filepath.Join(dir, "audit.db")
	obs := testutil.Trace(testutil.TraceConfig{Observations: 80})
	require.NoError(t, replay.SaveLog(logPath, obs))

	var out bytes.Buffer
	require.NoError(t, run(ctx, options{
		logPath: logPath, dbPath: dbPath, sessionID: "cli", record: true, checkpoint: 20,
	}, &out))
	assert.Contains(t, out.String(), "session cli")
	assert.Contains(t, out.String(), "observations 80 (evaluated 80)")

	out.Reset()
	plotPath := filepath.Join(dir, "coverage.png")
	require.NoError(t, run(ctx, options{
		dbPath: dbPath, sessionID: "cli", checkpoint: 20, plotPath: plotPath,
	}, &out))
	assert.Contains(t, out.String(), "compared 80, matched 80, mismatched 0")
	info, err := os.Stat(plotPath)
	require.NoError(t, err)
	assert.Positive(t, info.Size())

	exportPath := filepath.Join(dir, "export.jsonl")
	out.Reset()
	require.NoError(t, run(ctx, options{dbPath: dbPath, sessionID: "cli", exportPath: exportPath}, &out))
	exported, err := replay.LoadLog(exportPath)
	require.NoError(t, err)
	assert.Equal(t, obs, exported)
}

func TestRun_DetectsDivergedLog(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dir := t.TempDir()
	logPath := filepath.Join(dir, "capture.jsonl")
	dbPath := filepath.Join(dir, "audit.db")
	obs := testutil.Trace(testutil.TraceConfig{Observations: 30})
	require.NoError(t, replay.SaveLog(logPath, obs))
	require.NoError(t, run(ctx, options{logPath: logPath, dbPath: dbPath, sessionID: "d", record: true}, &bytes.Buffer{}))

	obs[10].Score = 0.1
	require.NoError(t, replay.SaveLog(logPath, obs))
	var out bytes.Buffer
	err := run(ctx, options{logPath: logPath, dbPath: dbPath, sessionID: "d"}, &out)
	assert.ErrorIs(t, err, errMismatch)
	assert.Contains(t, out.String(), "seq 11 (cand-00010)")
}

func TestRun_UnknownSession(t *testing.T) {
	t.Parallel()
	dbPath := filepath.Join(t.TempDir(), "audit.db")
	err := run(context.Background(), options{dbPath: dbPath, sessionID: "ghost"}, &bytes.Buffer{})
	assert.ErrorIs(t, err, sqlite.ErrNotFound)
}

func TestPlotCoverage_Empty(t *testing.T) {
	t.Parallel()
	err := plotCoverage(&replay.Result{SessionID: "x"}, filepath.Join(t.TempDir(), "c.png"))
	assert.Error(t, err)
}

func TestPlotTarget(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	got, err := plotTarget(dir, "s/1")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "coverage_s_1.png"), got)

	got, err = plotTarget(filepath.Join(dir, "c.png"), "s")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "c.png"), got)

	_, err = plotTarget("/etc/coverage.png", "s")
	assert.ErrorIs(t, err, security.ErrEscapesDir)
}

func TestLoadTuning(t *testing.T) {
	t.Parallel()

	// The package directory has no config/ subdirectory.
	got, err := loadTuning("")
	require.NoError(t, err)
	want := config.MustLoadDefaultConfig()
	assert.Equal(t, want.GetBaseBudget(), got.GetBaseBudget())
	assert.Equal(t, want.GetCoverageLevelWeights(), got.GetCoverageLevelWeights())

	_, err = loadTuning(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}
