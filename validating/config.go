package validating

import "fmt"

// Config holds validation stage settings.
type Config struct {
	// MaxParallel bounds concurrent validation calls. Findings are
	// independent, so unlike reasoning there is no serial grouping.
	MaxParallel int `yaml:"max_parallel"`

	// TimeoutSec overrides the agent deadline for validation calls when
	// positive.
	TimeoutSec int `yaml:"timeout_sec"`
}

// DefaultConfig returns sensible validation defaults.
func DefaultConfig() Config {
	return Config{MaxParallel: 3}
}

// Validate checks configuration invariants.
func (c *Config) Validate() error {
	if c.MaxParallel < 1 {
		return fmt.Errorf("max_parallel must be >= 1, got %d", c.MaxParallel)
	}
	if c.TimeoutSec < 0 {
		return fmt.Errorf("timeout_sec must be >= 0, got %d", c.TimeoutSec)
	}
	return nil
}
