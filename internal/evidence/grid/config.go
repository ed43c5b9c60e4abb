package grid

import (
	"fmt"

	"github.com/banshee-data/capture.evidence/internal/config"
	"github.com/banshee-data/capture.evidence/internal/evidence/mass"
)

// Config holds the grid's structural parameters.
type Config struct {
	Capacity           int     // Max live cells (default: tier "standard", 65536)
	CellSize           float64 // Level-0 cell edge in metres (default: 0.05)
	CompactionInterval int     // Applied batches between compactions (default: 64)
	TombstoneRatio     float64 // Tombstone fraction forcing compaction (default: 0.25)
	BatchCapacity      int     // Max ops per batch (default: 256)
	ConflictSwitch     float64 // Yager threshold for fusion (default: 0.7)
}

// DefaultConfig returns a Config loaded from the canonical tuning defaults
// file (config/tuning.defaults.json). Panics if the file cannot be found.
func DefaultConfig() *Config {
	return ConfigFromTuning(config.MustLoadDefaultConfig())
}

// ConfigFromTuning builds a Config from a loaded TuningConfig.
func ConfigFromTuning(cfg *config.TuningConfig) *Config {
	return &Config{
		Capacity:           config.TierCapacity(cfg.GetSessionTier()),
		CellSize:           cfg.GetCellSizeMeters(),
		CompactionInterval: cfg.GetCompactionInterval(),
		TombstoneRatio:     cfg.GetTombstoneRatio(),
		BatchCapacity:      cfg.GetBatchCapacity(),
		ConflictSwitch:     cfg.GetConflictSwitch(),
	}
}

// WithCapacity sets the maximum number of live cells.
func (c *Config) WithCapacity(n int) *Config {
	c.Capacity = n
	return c
}

// WithCellSize sets the level-0 cell edge.
func (c *Config) WithCellSize(size float64) *Config {
	c.CellSize = size
	return c
}

// WithCompaction sets both compaction triggers.
func (c *Config) WithCompaction(interval int, tombstoneRatio float64) *Config {
	c.CompactionInterval = interval
	c.TombstoneRatio = tombstoneRatio
	return c
}

// WithBatchCapacity sets the per-batch operation bound.
func (c *Config) WithBatchCapacity(n int) *Config {
	c.BatchCapacity = n
	return c
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Capacity <= 0 {
		return fmt.Errorf("Capacity must be positive, got %d", c.Capacity)
	}
	if !(c.CellSize > 0) {
		return fmt.Errorf("CellSize must be positive, got %f", c.CellSize)
	}
	if c.CompactionInterval <= 0 {
		return fmt.Errorf("CompactionInterval must be positive, got %d", c.CompactionInterval)
	}
	if !(c.TombstoneRatio > 0) || c.TombstoneRatio > 1 {
		return fmt.Errorf("TombstoneRatio must be in (0, 1], got %f", c.TombstoneRatio)
	}
	if c.BatchCapacity <= 0 {
		return fmt.Errorf("BatchCapacity must be positive, got %d", c.BatchCapacity)
	}
	if !(c.ConflictSwitch > 0) || c.ConflictSwitch > 1 {
		return fmt.Errorf("ConflictSwitch must be in (0, 1], got %f", c.ConflictSwitch)
	}
	return nil
}

func (c *Config) fuser() *mass.Fuser {
	return mass.NewFuser(c.ConflictSwitch)
}
