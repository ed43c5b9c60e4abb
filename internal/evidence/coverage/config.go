package coverage

import (
	"fmt"
	"os"

	"github.com/banshee-data/capture.evidence/internal/config"
	"github.com/banshee-data/capture.evidence/internal/evidence/grid"
	"github.com/banshee-data/capture.evidence/internal/fixedpoint"
)

// Config holds the estimator parameters.
type Config struct {
	Weights       fixedpoint.LUT // Q16 weight per confidence level, strictly increasing
	Alpha         float64        // EMA smoothing factor (default: 0.3)
	MaxRatePerSec float64        // Largest output change per second (default: 0.25)
}

// DefaultWeights returns the built-in per-level weights as a Q16 table.
func DefaultWeights() fixedpoint.LUT {
	return fixedpoint.NewQ16LUT(config.EmptyTuningConfig().GetCoverageLevelWeights())
}

// DefaultConfig returns a Config loaded from the canonical tuning defaults
// file (config/tuning.defaults.json). Panics if the file cannot be found or
// names an unreadable weights artifact.
func DefaultConfig() *Config {
	cfg, err := ConfigFromTuning(config.MustLoadDefaultConfig())
	if err != nil {
		panic(err)
	}
	return cfg
}

// ConfigFromTuning builds a Config from a loaded TuningConfig. When the
// tuning names a weights LUT artifact it takes precedence over the inline
// weights.
func ConfigFromTuning(cfg *config.TuningConfig) (*Config, error) {
	weights := fixedpoint.NewQ16LUT(cfg.GetCoverageLevelWeights())
	if path := cfg.GetCoverageWeightsLUTPath(); path != "" {
		lut, err := LoadWeights(path)
		if err != nil {
			return nil, err
		}
		weights = lut
	}
	c := &Config{
		Weights:       weights,
		Alpha:         cfg.GetCoverageEMAAlpha(),
		MaxRatePerSec: cfg.GetCoverageMaxRatePerSec(),
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// LoadWeights reads a weights LUT artifact and checks its shape.
func LoadWeights(path string) (fixedpoint.LUT, error) {
	f, err := os.Open(path)
	if err != nil {
		return fixedpoint.LUT{}, fmt.Errorf("open weights lut: %w", err)
	}
	defer f.Close()
	lut, err := fixedpoint.ReadLUT(f)
	if err != nil {
		return fixedpoint.LUT{}, fmt.Errorf("weights lut %s: %w", path, err)
	}
	if err := validateWeights(lut); err != nil {
		return fixedpoint.LUT{}, fmt.Errorf("weights lut %s: %w", path, err)
	}
	return lut, nil
}

func validateWeights(lut fixedpoint.LUT) error {
	if lut.Len() != grid.ConfidenceLevels {
		return fmt.Errorf("need %d level weights, got %d", grid.ConfidenceLevels, lut.Len())
	}
	for i := 0; i < lut.Len(); i++ {
		w := lut.Entries[i]
		if w < 0 || w > int64(fixedpoint.One) {
			return fmt.Errorf("weight %d out of [0, 1]: raw %d", i, w)
		}
		if i > 0 && w <= lut.Entries[i-1] {
			return fmt.Errorf("weights must be strictly increasing at level %d", i)
		}
	}
	return nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if err := validateWeights(c.Weights); err != nil {
		return err
	}
	if !(c.Alpha > 0) || c.Alpha > 1 {
		return fmt.Errorf("Alpha must be in (0, 1], got %f", c.Alpha)
	}
	if !(c.MaxRatePerSec > 0) {
		return fmt.Errorf("MaxRatePerSec must be positive, got %f", c.MaxRatePerSec)
	}
	return nil
}
