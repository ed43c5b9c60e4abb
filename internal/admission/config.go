package admission

import (
	"fmt"
	"time"

	"github.com/banshee-data/capture.evidence/internal/config"
)

// Config holds the per-observation admission parameters.
type Config struct {
	// Hard layers
	MinUpdateInterval time.Duration // Min gap between accepted updates of one patch (default: 100ms)
	SpamWindow        time.Duration // Window for counting time-density rejections (default: 5s)
	SpamWindowCap     int           // Rejections in the window that make a score of 1 (default: 400)
	SpamThreshold     float64       // Score confirming spam (default: 0.8)

	// Soft layers
	TokenRatePerSec  float64       // Per-patch refill rate (default: 5)
	TokenBurst       int           // Per-patch bucket size (default: 10)
	TokenPenalty     float64       // Factor when the bucket is empty (default: 0.5)
	NoveltyThreshold float64       // Novelty below this is penalized (default: 0.1)
	NoveltyHistory   int           // Prior views remembered per patch (default: 16)
	FrequencyWindow  time.Duration // Sliding window for the frequency cap (default: 2s)
	FrequencyCap     int           // Observations allowed per window (default: 12)
	FrequencyPenalty float64       // Factor above the cap (default: 0.6)
	DampingFactor    float64       // Factor while capacity is DAMPING (default: 0.7)
	MinQualityFloor  float64       // Guaranteed minimum quality scale (default: 0.25)
}

// DefaultConfig returns a Config loaded from the canonical tuning defaults
// file (config/tuning.defaults.json). Panics if the file cannot be found.
func DefaultConfig() *Config {
	return ConfigFromTuning(config.MustLoadDefaultConfig())
}

// ConfigFromTuning builds a Config from a loaded TuningConfig.
func ConfigFromTuning(cfg *config.TuningConfig) *Config {
	return &Config{
		MinUpdateInterval: cfg.GetMinUpdateInterval(),
		SpamWindow:        cfg.GetSpamWindow(),
		SpamWindowCap:     cfg.GetSpamWindowCap(),
		SpamThreshold:     cfg.GetSpamThreshold(),
		TokenRatePerSec:   cfg.GetTokenRatePerSec(),
		TokenBurst:        cfg.GetTokenBurst(),
		TokenPenalty:      cfg.GetTokenPenalty(),
		NoveltyThreshold:  cfg.GetNoveltyThreshold(),
		NoveltyHistory:    cfg.GetNoveltyHistory(),
		FrequencyWindow:   cfg.GetFrequencyWindow(),
		FrequencyCap:      cfg.GetFrequencyCap(),
		FrequencyPenalty:  cfg.GetFrequencyPenalty(),
		DampingFactor:     cfg.GetDampingFactor(),
		MinQualityFloor:   cfg.GetMinQualityFloor(),
	}
}

func unit(name string, v float64) error {
	if !(v >= 0 && v <= 1) {
		return fmt.Errorf("%s must be in [0, 1], got %f", name, v)
	}
	return nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.MinUpdateInterval < 0 {
		return fmt.Errorf("MinUpdateInterval must be non-negative, got %v", c.MinUpdateInterval)
	}
	if c.SpamWindow <= 0 || c.FrequencyWindow <= 0 {
		return fmt.Errorf("SpamWindow and FrequencyWindow must be positive, got %v and %v", c.SpamWindow, c.FrequencyWindow)
	}
	if c.SpamWindowCap <= 0 {
		return fmt.Errorf("SpamWindowCap must be positive, got %d", c.SpamWindowCap)
	}
	if !(c.TokenRatePerSec > 0) || c.TokenBurst <= 0 {
		return fmt.Errorf("token bucket needs a positive rate and burst, got %f and %d", c.TokenRatePerSec, c.TokenBurst)
	}
	if c.NoveltyHistory <= 0 {
		return fmt.Errorf("NoveltyHistory must be positive, got %d", c.NoveltyHistory)
	}
	if c.FrequencyCap <= 0 {
		return fmt.Errorf("FrequencyCap must be positive, got %d", c.FrequencyCap)
	}
	if !(c.NoveltyThreshold > 0) || c.NoveltyThreshold > 1 {
		return fmt.Errorf("NoveltyThreshold must be in (0, 1], got %f", c.NoveltyThreshold)
	}
	for _, f := range []struct {
		name string
		v    float64
	}{
		{"SpamThreshold", c.SpamThreshold},
		{"TokenPenalty", c.TokenPenalty},
		{"FrequencyPenalty", c.FrequencyPenalty},
		{"DampingFactor", c.DampingFactor},
		{"MinQualityFloor", c.MinQualityFloor},
	} {
		if err := unit(f.name, f.v); err != nil {
			return err
		}
	}
	if c.MinQualityFloor == 0 {
		return fmt.Errorf("MinQualityFloor must be positive")
	}
	return nil
}

// CapacityConfig holds the session capacity limits.
type CapacityConfig struct {
	SoftLimit  uint64  // PatchCountShadow entering DAMPING (default: 5000)
	HardLimit  uint64  // PatchCountShadow entering SATURATED (default: 8000)
	BaseBudget float64 // Initial evidence energy budget (default: 10000)
	BaseCost   float64 // Budget charged per accepted patch at full quality (default: 1)
}

// DefaultCapacityConfig returns a CapacityConfig loaded from the canonical
// tuning defaults file. Panics if the file cannot be found.
func DefaultCapacityConfig() *CapacityConfig {
	return CapacityConfigFromTuning(config.MustLoadDefaultConfig())
}

// CapacityConfigFromTuning builds a CapacityConfig from a loaded TuningConfig.
func CapacityConfigFromTuning(cfg *config.TuningConfig) *CapacityConfig {
	return &CapacityConfig{
		SoftLimit:  uint64(max(cfg.GetSoftLimitPatchCount(), 0)),
		HardLimit:  uint64(max(cfg.GetHardLimitPatchCount(), 0)),
		BaseBudget: cfg.GetBaseBudget(),
		BaseCost:   cfg.GetBaseCost(),
	}
}

// maxBudget keeps the Q16 raw budget well inside int64.
const maxBudget = 1 << 40

// Validate checks if the configuration is valid.
func (c *CapacityConfig) Validate() error {
	if c.HardLimit == 0 {
		return fmt.Errorf("HardLimit must be positive")
	}
	if c.SoftLimit > c.HardLimit {
		return fmt.Errorf("SoftLimit (%d) exceeds HardLimit (%d)", c.SoftLimit, c.HardLimit)
	}
	if !(c.BaseBudget > 0) || c.BaseBudget > maxBudget {
		return fmt.Errorf("BaseBudget must be in (0, %d], got %f", uint64(maxBudget), c.BaseBudget)
	}
	if !(c.BaseCost >= 0) || c.BaseCost >= 32768 {
		return fmt.Errorf("BaseCost must be in [0, 32768), got %f", c.BaseCost)
	}
	return nil
}
