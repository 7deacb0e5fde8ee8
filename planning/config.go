package planning

import "fmt"

// Config holds planning engine settings.
type Config struct {
	// CoverageTarget is the catalog fraction that must be referenced by
	// flows before repair stops.
	CoverageTarget float64 `yaml:"coverage_target"`

	// MaxRepairRounds caps coverage repair iterations.
	MaxRepairRounds int `yaml:"max_repair_rounds"`

	// RuleKeys are the checklist categories; one task is emitted per
	// (flow, rule key) pair.
	RuleKeys []string `yaml:"rule_keys"`

	// AllowFlowModification lets repair rounds amend existing flows.
	// Default off: repair only adds new flows.
	AllowFlowModification bool `yaml:"allow_flow_modification"`

	// TargetNewFlows is the per-batch flow count hint for repair prompts.
	TargetNewFlows int `yaml:"target_new_flows"`

	// TimeoutSec overrides the agent deadline for planning calls when
	// positive.
	TimeoutSec int `yaml:"timeout_sec"`
}

// DefaultConfig returns sensible planning defaults.
func DefaultConfig() Config {
	return Config{
		CoverageTarget:  0.90,
		MaxRepairRounds: 3,
		RuleKeys:        []string{"access_control", "asset_flow", "state_consistency"},
		TargetNewFlows:  3,
	}
}

// Validate checks configuration invariants.
func (c *Config) Validate() error {
	if c.CoverageTarget <= 0 || c.CoverageTarget > 1 {
		return fmt.Errorf("coverage_target must be in (0, 1], got %v", c.CoverageTarget)
	}
	if c.MaxRepairRounds < 0 {
		return fmt.Errorf("max_repair_rounds must be >= 0, got %d", c.MaxRepairRounds)
	}
	if len(c.RuleKeys) == 0 {
		return fmt.Errorf("at least one rule key is required")
	}
	return nil
}
