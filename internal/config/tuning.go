package config

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
// This is the single source of truth for all default tuning values.
const DefaultConfigPath = "config/tuning.defaults.json"

// TuningConfig represents the root configuration for engine tuning
// parameters. Every field is optional; the Get* methods supply the
// built-in default for anything the JSON omits.
type TuningConfig struct {
	// Grid params
	SessionTier        *string  `json:"session_tier,omitempty"` // lite, standard or pro
	CellSizeMeters     *float64 `json:"cell_size_meters,omitempty"`
	CompactionInterval *int     `json:"compaction_interval,omitempty"`
	TombstoneRatio     *float64 `json:"tombstone_ratio,omitempty"`
	BatchCapacity      *int     `json:"batch_capacity,omitempty"`

	// Fusion params
	ConflictSwitch *float64 `json:"conflict_switch,omitempty"`

	// Coverage params
	CoverageLevelWeights   []float64 `json:"coverage_level_weights,omitempty"`
	CoverageEMAAlpha       *float64  `json:"coverage_ema_alpha,omitempty"`
	CoverageMaxRatePerSec  *float64  `json:"coverage_max_rate_per_sec,omitempty"`
	CoverageWeightsLUTPath *string   `json:"coverage_weights_lut_path,omitempty"`

	// Admission params
	MinUpdateInterval *string  `json:"min_update_interval,omitempty"` // duration string like "100ms"
	TokenRatePerSec   *float64 `json:"token_rate_per_sec,omitempty"`
	TokenBurst        *int     `json:"token_burst,omitempty"`
	TokenPenalty      *float64 `json:"token_penalty,omitempty"`
	NoveltyThreshold  *float64 `json:"novelty_threshold,omitempty"`
	NoveltyHistory    *int     `json:"novelty_history,omitempty"`
	FrequencyWindow   *string  `json:"frequency_window,omitempty"` // duration string like "2s"
	FrequencyCap      *int     `json:"frequency_cap,omitempty"`
	FrequencyPenalty  *float64 `json:"frequency_penalty,omitempty"`
	DampingFactor     *float64 `json:"damping_factor,omitempty"`
	MinQualityFloor   *float64 `json:"min_quality_floor,omitempty"`
	SpamWindow        *string  `json:"spam_window,omitempty"` // duration string like "5s"
	SpamWindowCap     *int     `json:"spam_window_cap,omitempty"`
	SpamThreshold     *float64 `json:"spam_threshold,omitempty"`

	// Capacity params
	SoftLimitPatchCount *int     `json:"soft_limit_patch_count,omitempty"`
	HardLimitPatchCount *int     `json:"hard_limit_patch_count,omitempty"`
	BaseBudget          *float64 `json:"base_budget,omitempty"`
	BaseCost            *float64 `json:"base_cost,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
// Use LoadTuningConfig to load actual values from the defaults file.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under the max file size.
// Fields omitted from the JSON file retain their default values, so
// partial configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical tuning defaults from DefaultConfigPath.
// It searches for the file in the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *TuningConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath,          // from internal/config/, cmd/evidence-replay/
		"../../../" + DefaultConfigPath,       // from internal/evidence/grid/
		"../../../../" + DefaultConfigPath,    // deeper packages
		"../../../../../" + DefaultConfigPath, // even deeper
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// PolicyHash returns the SHA-256 of the config's JSON encoding. Field order
// follows the struct declaration, so identical settings always hash the same.
func (c *TuningConfig) PolicyHash() [32]byte {
	data, err := json.Marshal(c)
	if err != nil {
		// Only NaN/Inf floats fail to marshal and Validate rejects those.
		return sha256.Sum256(nil)
	}
	return sha256.Sum256(data)
}

// Validate checks that the configuration values are valid.
func (c *TuningConfig) Validate() error {
	if c.SessionTier != nil {
		if _, ok := tierCapacity[*c.SessionTier]; !ok {
			return fmt.Errorf("session_tier must be one of lite, standard, pro; got %q", *c.SessionTier)
		}
	}
	if c.CellSizeMeters != nil && !(*c.CellSizeMeters > 0) {
		return fmt.Errorf("cell_size_meters must be positive, got %f", *c.CellSizeMeters)
	}
	if c.TombstoneRatio != nil && (!(*c.TombstoneRatio > 0) || *c.TombstoneRatio > 1) {
		return fmt.Errorf("tombstone_ratio must be in (0, 1], got %f", *c.TombstoneRatio)
	}
	if c.ConflictSwitch != nil && (!(*c.ConflictSwitch > 0) || *c.ConflictSwitch > 1) {
		return fmt.Errorf("conflict_switch must be in (0, 1], got %f", *c.ConflictSwitch)
	}
	if c.CoverageEMAAlpha != nil && (!(*c.CoverageEMAAlpha > 0) || *c.CoverageEMAAlpha > 1) {
		return fmt.Errorf("coverage_ema_alpha must be in (0, 1], got %f", *c.CoverageEMAAlpha)
	}
	if w := c.CoverageLevelWeights; w != nil {
		if len(w) != 7 {
			return fmt.Errorf("coverage_level_weights must have 7 entries, got %d", len(w))
		}
		for i := 1; i < len(w); i++ {
			if !(w[i] > w[i-1]) {
				return fmt.Errorf("coverage_level_weights must be strictly increasing at index %d", i)
			}
		}
	}
	for name, d := range map[string]*string{
		"min_update_interval": c.MinUpdateInterval,
		"frequency_window":    c.FrequencyWindow,
		"spam_window":         c.SpamWindow,
	} {
		if d != nil && *d != "" {
			if _, err := time.ParseDuration(*d); err != nil {
				return fmt.Errorf("invalid %s '%s': %w", name, *d, err)
			}
		}
	}
	for name, f := range map[string]*float64{
		"token_penalty":     c.TokenPenalty,
		"frequency_penalty": c.FrequencyPenalty,
		"damping_factor":    c.DampingFactor,
		"min_quality_floor": c.MinQualityFloor,
		"spam_threshold":    c.SpamThreshold,
		"novelty_threshold": c.NoveltyThreshold,
	} {
		if f != nil && !(*f >= 0 && *f <= 1) {
			return fmt.Errorf("%s must be in [0, 1], got %f", name, *f)
		}
	}
	if c.SoftLimitPatchCount != nil && c.HardLimitPatchCount != nil &&
		*c.SoftLimitPatchCount > *c.HardLimitPatchCount {
		return fmt.Errorf("soft_limit_patch_count (%d) exceeds hard_limit_patch_count (%d)",
			*c.SoftLimitPatchCount, *c.HardLimitPatchCount)
	}
	if c.BaseBudget != nil && !(*c.BaseBudget > 0) {
		return fmt.Errorf("base_budget must be positive, got %f", *c.BaseBudget)
	}
	if c.BaseCost != nil && !(*c.BaseCost >= 0) {
		return fmt.Errorf("base_cost must be non-negative, got %f", *c.BaseCost)
	}
	return nil
}

// tierCapacity is the maximum number of live grid cells per session tier.
var tierCapacity = map[string]int{
	"lite":     4096,
	"standard": 65536,
	"pro":      262144,
}

// TierCapacity returns the cell capacity for a session tier name, or 0 for
// an unknown tier.
func TierCapacity(tier string) int {
	return tierCapacity[tier]
}

// GetSessionTier returns the session_tier value or the default.
func (c *TuningConfig) GetSessionTier() string {
	if c.SessionTier == nil {
		return "standard"
	}
	return *c.SessionTier
}

// GetCellSizeMeters returns the cell_size_meters value or the default.
func (c *TuningConfig) GetCellSizeMeters() float64 {
	if c.CellSizeMeters == nil {
		return 0.05
	}
	return *c.CellSizeMeters
}

// GetCompactionInterval returns the compaction_interval value or the default.
func (c *TuningConfig) GetCompactionInterval() int {
	if c.CompactionInterval == nil {
		return 64
	}
	return *c.CompactionInterval
}

// GetTombstoneRatio returns the tombstone_ratio value or the default.
func (c *TuningConfig) GetTombstoneRatio() float64 {
	if c.TombstoneRatio == nil {
		return 0.25
	}
	return *c.TombstoneRatio
}

// GetBatchCapacity returns the batch_capacity value or the default.
func (c *TuningConfig) GetBatchCapacity() int {
	if c.BatchCapacity == nil {
		return 256
	}
	return *c.BatchCapacity
}

// GetConflictSwitch returns the conflict_switch value or the default.
func (c *TuningConfig) GetConflictSwitch() float64 {
	if c.ConflictSwitch == nil {
		return 0.7
	}
	return *c.ConflictSwitch
}

// GetCoverageLevelWeights returns a copy of the per-level weights or the defaults.
func (c *TuningConfig) GetCoverageLevelWeights() []float64 {
	if c.CoverageLevelWeights == nil {
		return []float64{0.05, 0.15, 0.30, 0.50, 0.70, 0.85, 1.00}
	}
	return append([]float64(nil), c.CoverageLevelWeights...)
}

// GetCoverageEMAAlpha returns the coverage_ema_alpha value or the default.
func (c *TuningConfig) GetCoverageEMAAlpha() float64 {
	if c.CoverageEMAAlpha == nil {
		return 0.3
	}
	return *c.CoverageEMAAlpha
}

// GetCoverageMaxRatePerSec returns the coverage_max_rate_per_sec value or the default.
func (c *TuningConfig) GetCoverageMaxRatePerSec() float64 {
	if c.CoverageMaxRatePerSec == nil {
		return 0.25
	}
	return *c.CoverageMaxRatePerSec
}

// GetCoverageWeightsLUTPath returns the LUT artifact path, empty when unset.
func (c *TuningConfig) GetCoverageWeightsLUTPath() string {
	if c.CoverageWeightsLUTPath == nil {
		return ""
	}
	return *c.CoverageWeightsLUTPath
}

func parseDurationOr(s *string, def time.Duration) time.Duration {
	if s == nil || *s == "" {
		return def
	}
	d, err := time.ParseDuration(*s)
	if err != nil {
		return def
	}
	return d
}

// GetMinUpdateInterval parses and returns the MinUpdateInterval as a time.Duration.
func (c *TuningConfig) GetMinUpdateInterval() time.Duration {
	return parseDurationOr(c.MinUpdateInterval, 100*time.Millisecond)
}

// GetTokenRatePerSec returns the token_rate_per_sec value or the default.
func (c *TuningConfig) GetTokenRatePerSec() float64 {
	if c.TokenRatePerSec == nil {
		return 5
	}
	return *c.TokenRatePerSec
}

// GetTokenBurst returns the token_burst value or the default.
func (c *TuningConfig) GetTokenBurst() int {
	if c.TokenBurst == nil {
		return 10
	}
	return *c.TokenBurst
}

// GetTokenPenalty returns the token_penalty value or the default.
func (c *TuningConfig) GetTokenPenalty() float64 {
	if c.TokenPenalty == nil {
		return 0.5
	}
	return *c.TokenPenalty
}

// GetNoveltyThreshold returns the novelty_threshold value or the default.
func (c *TuningConfig) GetNoveltyThreshold() float64 {
	if c.NoveltyThreshold == nil {
		return 0.1
	}
	return *c.NoveltyThreshold
}

// GetNoveltyHistory returns the novelty_history value or the default.
func (c *TuningConfig) GetNoveltyHistory() int {
	if c.NoveltyHistory == nil {
		return 16
	}
	return *c.NoveltyHistory
}

// GetFrequencyWindow parses and returns the FrequencyWindow as a time.Duration.
func (c *TuningConfig) GetFrequencyWindow() time.Duration {
	return parseDurationOr(c.FrequencyWindow, 2*time.Second)
}

// GetFrequencyCap returns the frequency_cap value or the default.
func (c *TuningConfig) GetFrequencyCap() int {
	if c.FrequencyCap == nil {
		return 12
	}
	return *c.FrequencyCap
}

// GetFrequencyPenalty returns the frequency_penalty value or the default.
func (c *TuningConfig) GetFrequencyPenalty() float64 {
	if c.FrequencyPenalty == nil {
		return 0.6
	}
	return *c.FrequencyPenalty
}

// GetDampingFactor returns the damping_factor value or the default.
func (c *TuningConfig) GetDampingFactor() float64 {
	if c.DampingFactor == nil {
		return 0.7
	}
	return *c.DampingFactor
}

// GetMinQualityFloor returns the min_quality_floor value or the default.
func (c *TuningConfig) GetMinQualityFloor() float64 {
	if c.MinQualityFloor == nil {
		return 0.25
	}
	return *c.MinQualityFloor
}

// GetSpamWindow parses and returns the SpamWindow as a time.Duration.
func (c *TuningConfig) GetSpamWindow() time.Duration {
	return parseDurationOr(c.SpamWindow, 5*time.Second)
}

// GetSpamWindowCap returns the spam_window_cap value or the default.
func (c *TuningConfig) GetSpamWindowCap() int {
	if c.SpamWindowCap == nil {
		return 400
	}
	return *c.SpamWindowCap
}

// GetSpamThreshold returns the spam_threshold value or the default.
func (c *TuningConfig) GetSpamThreshold() float64 {
	if c.SpamThreshold == nil {
		return 0.8
	}
	return *c.SpamThreshold
}

// GetSoftLimitPatchCount returns the soft_limit_patch_count value or the default.
func (c *TuningConfig) GetSoftLimitPatchCount() int {
	if c.SoftLimitPatchCount == nil {
		return 5000
	}
	return *c.SoftLimitPatchCount
}

// GetHardLimitPatchCount returns the hard_limit_patch_count value or the default.
func (c *TuningConfig) GetHardLimitPatchCount() int {
	if c.HardLimitPatchCount == nil {
		return 8000
	}
	return *c.HardLimitPatchCount
}

// GetBaseBudget returns the base_budget value or the default.
func (c *TuningConfig) GetBaseBudget() float64 {
	if c.BaseBudget == nil {
		return 10000
	}
	return *c.BaseBudget
}

// GetBaseCost returns the base_cost value or the default.
func (c *TuningConfig) GetBaseCost() float64 {
	if c.BaseCost == nil {
		return 1
	}
	return *c.BaseCost
}
