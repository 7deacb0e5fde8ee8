package reasoning

import (
	"fmt"
	"runtime"
)

// Config holds reasoning loop settings.
type Config struct {
	// MaxRounds is the Watcher's initial round budget per task.
	MaxRounds int `yaml:"max_rounds"`

	// MaxParallel bounds concurrent group workers.
	MaxParallel int `yaml:"max_parallel"`

	// TimeoutSec overrides the agent deadline for reasoning calls when
	// positive.
	TimeoutSec int `yaml:"timeout_sec"`

	// TimeLimitSec is the Watcher's per-task wall-clock budget.
	TimeLimitSec int `yaml:"time_limit_sec"`

	// PoCExecution flips the Reasoner sandbox to workspace-write so the
	// agent can run contract tests. Default off: the whole pipeline stays
	// read-only.
	PoCExecution bool `yaml:"poc_execution"`
}

// DefaultConfig returns sensible reasoning defaults.
func DefaultConfig() Config {
	return Config{
		MaxRounds:    4,
		MaxParallel:  runtime.GOMAXPROCS(0),
		TimeLimitSec: 7200,
	}
}

// Validate checks configuration invariants.
func (c *Config) Validate() error {
	if c.MaxRounds < 1 {
		return fmt.Errorf("max_rounds must be >= 1, got %d", c.MaxRounds)
	}
	if c.MaxParallel < 1 {
		return fmt.Errorf("max_parallel must be >= 1, got %d", c.MaxParallel)
	}
	return nil
}
