package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestEmptyTuningConfigDefaults(t *testing.T) {
	cfg := EmptyTuningConfig()

	if got := cfg.GetSessionTier(); got != "standard" {
		t.Errorf("GetSessionTier() = %q, want standard", got)
	}
	if got := cfg.GetCompactionInterval(); got != 64 {
		t.Errorf("GetCompactionInterval() = %d, want 64", got)
	}
	if got := cfg.GetTombstoneRatio(); got != 0.25 {
		t.Errorf("GetTombstoneRatio() = %f, want 0.25", got)
	}
	if got := cfg.GetConflictSwitch(); got != 0.7 {
		t.Errorf("GetConflictSwitch() = %f, want 0.7", got)
	}
	if got := cfg.GetCoverageEMAAlpha(); got != 0.3 {
		t.Errorf("GetCoverageEMAAlpha() = %f, want 0.3", got)
	}
	if got := cfg.GetCoverageMaxRatePerSec(); got != 0.25 {
		t.Errorf("GetCoverageMaxRatePerSec() = %f, want 0.25", got)
	}
	if got := cfg.GetMinUpdateInterval(); got != 100*time.Millisecond {
		t.Errorf("GetMinUpdateInterval() = %v, want 100ms", got)
	}
	if got := cfg.GetMinQualityFloor(); got != 0.25 {
		t.Errorf("GetMinQualityFloor() = %f, want 0.25", got)
	}
	if got := len(cfg.GetCoverageLevelWeights()); got != 7 {
		t.Errorf("len(GetCoverageLevelWeights()) = %d, want 7", got)
	}
	if got := cfg.GetCoverageWeightsLUTPath(); got != "" {
		t.Errorf("GetCoverageWeightsLUTPath() = %q, want empty", got)
	}
}

func TestGetCoverageLevelWeightsReturnsCopy(t *testing.T) {
	cfg := &TuningConfig{CoverageLevelWeights: []float64{1, 2, 3, 4, 5, 6, 7}}
	w := cfg.GetCoverageLevelWeights()
	w[0] = 99
	if cfg.CoverageLevelWeights[0] != 1 {
		t.Errorf("caller mutation leaked into config: %v", cfg.CoverageLevelWeights)
	}
}

func TestLoadTuningConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "test_config.json")

	testJSON := `{
  "session_tier": "lite",
  "conflict_switch": 0.6,
  "min_update_interval": "250ms",
  "soft_limit_patch_count": 10,
  "hard_limit_patch_count": 20
}`
	if err := os.WriteFile(configPath, []byte(testJSON), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	cfg, err := LoadTuningConfig(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if got := cfg.GetSessionTier(); got != "lite" {
		t.Errorf("GetSessionTier() = %q, want lite", got)
	}
	if got := cfg.GetConflictSwitch(); got != 0.6 {
		t.Errorf("GetConflictSwitch() = %f, want 0.6", got)
	}
	if got := cfg.GetMinUpdateInterval(); got != 250*time.Millisecond {
		t.Errorf("GetMinUpdateInterval() = %v, want 250ms", got)
	}
	if got := cfg.GetHardLimitPatchCount(); got != 20 {
		t.Errorf("GetHardLimitPatchCount() = %d, want 20", got)
	}
	// Omitted fields fall back to defaults.
	if got := cfg.GetTokenBurst(); got != 10 {
		t.Errorf("GetTokenBurst() = %d, want 10", got)
	}
}

func TestLoadTuningConfigErrors(t *testing.T) {
	tmpDir := t.TempDir()

	write := func(name, body string) string {
		p := filepath.Join(tmpDir, name)
		if err := os.WriteFile(p, []byte(body), 0644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
		return p
	}

	tests := []struct {
		name string
		path string
	}{
		{"wrong extension", write("cfg.yaml", "{}")},
		{"missing file", filepath.Join(tmpDir, "missing.json")},
		{"bad json", write("bad.json", "{")},
		{"unknown tier", write("tier.json", `{"session_tier":"ultra"}`)},
		{"bad duration", write("dur.json", `{"spam_window":"soon"}`)},
		{"soft above hard", write("limits.json", `{"soft_limit_patch_count":9,"hard_limit_patch_count":3}`)},
		{"weights not increasing", write("weights.json", `{"coverage_level_weights":[0.1,0.2,0.2,0.4,0.5,0.6,0.7]}`)},
		{"weights wrong length", write("weights2.json", `{"coverage_level_weights":[0.1,0.2]}`)},
		{"penalty out of range", write("pen.json", `{"token_penalty":1.5}`)},
		{"conflict switch zero", write("k.json", `{"conflict_switch":0}`)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := LoadTuningConfig(tt.path); err == nil {
				t.Errorf("LoadTuningConfig(%s) succeeded, want error", tt.path)
			}
		})
	}
}

func TestLoadTuningConfigTooLarge(t *testing.T) {
	p := filepath.Join(t.TempDir(), "big.json")
	data := make([]byte, 1024*1024+1)
	for i := range data {
		data[i] = ' '
	}
	if err := os.WriteFile(p, data, 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadTuningConfig(p); err == nil {
		t.Error("expected size error")
	}
}

func TestMustLoadDefaultConfig(t *testing.T) {
	cfg := MustLoadDefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults file invalid: %v", err)
	}
	// The defaults file and the Get* fallbacks must agree.
	empty := EmptyTuningConfig()
	if cfg.GetSoftLimitPatchCount() != empty.GetSoftLimitPatchCount() {
		t.Errorf("soft limit mismatch: file %d, builtin %d", cfg.GetSoftLimitPatchCount(), empty.GetSoftLimitPatchCount())
	}
	if cfg.GetSpamWindow() != empty.GetSpamWindow() {
		t.Errorf("spam window mismatch: file %v, builtin %v", cfg.GetSpamWindow(), empty.GetSpamWindow())
	}
	if cfg.GetBaseBudget() != empty.GetBaseBudget() {
		t.Errorf("base budget mismatch: file %f, builtin %f", cfg.GetBaseBudget(), empty.GetBaseBudget())
	}
}

func TestPolicyHash(t *testing.T) {
	a := &TuningConfig{ConflictSwitch: ptrFloat64(0.7), SessionTier: ptrString("lite")}
	b := &TuningConfig{ConflictSwitch: ptrFloat64(0.7), SessionTier: ptrString("lite")}
	c := &TuningConfig{ConflictSwitch: ptrFloat64(0.7), SessionTier: ptrString("lite"), TokenBurst: ptrInt(3)}

	if a.PolicyHash() != b.PolicyHash() {
		t.Error("identical configs hashed differently")
	}
	if a.PolicyHash() == c.PolicyHash() {
		t.Error("different configs hashed the same")
	}
}

func TestTierCapacity(t *testing.T) {
	for tier, want := range map[string]int{"lite": 4096, "standard": 65536, "pro": 262144, "nope": 0} {
		if got := TierCapacity(tier); got != want {
			t.Errorf("TierCapacity(%q) = %d, want %d", tier, got, want)
		}
	}
}
