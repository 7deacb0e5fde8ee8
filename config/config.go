// Package config provides configuration loading and management for the
// audit pipeline.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/flowaudit/flowaudit/agent"
	"github.com/flowaudit/flowaudit/planning"
	"github.com/flowaudit/flowaudit/reasoning"
	"github.com/flowaudit/flowaudit/validating"
)

// Config represents the complete pipeline configuration.
type Config struct {
	Dataset    DatasetConfig     `yaml:"dataset"`
	Store      StoreConfig       `yaml:"store"`
	Agent      AgentConfig       `yaml:"agent"`
	Planning   planning.Config   `yaml:"planning"`
	Reasoning  reasoning.Config  `yaml:"reasoning"`
	Validation validating.Config `yaml:"validation"`
	Pipeline   PipelineConfig    `yaml:"pipeline"`
	Logs       LogsConfig        `yaml:"logs"`
	Metrics    MetricsConfig     `yaml:"metrics"`
}

// DatasetConfig locates the audit targets.
type DatasetConfig struct {
	// Base is the dataset root holding datasets.json and the project
	// workspaces.
	Base string `yaml:"base"`
	// IgnoreFolders are directory names skipped while scanning sources.
	IgnoreFolders []string `yaml:"ignore_folders"`
	// IncludeInternal keeps non-public functions in the catalog instead of
	// filtering to externally reachable entry points.
	IncludeInternal bool `yaml:"include_internal"`
}

// StoreConfig configures the relational store.
type StoreConfig struct {
	// DatabaseURL is the postgres DSN.
	DatabaseURL string `yaml:"database_url"`
}

// AgentConfig configures the codex subprocess.
type AgentConfig struct {
	// Bin is the agent binary name or path.
	Bin string `yaml:"bin"`
	// Model is passed via -m when set.
	Model string `yaml:"model"`
	// Sandbox is the default sandbox mode.
	Sandbox string `yaml:"sandbox"`
	// TimeoutSec is the default per-call deadline.
	TimeoutSec int `yaml:"timeout_sec"`
	// ExtraConfig holds extra --config key=value pairs.
	ExtraConfig []string `yaml:"extra_config"`
}

// Settings converts the section to executor settings.
func (a AgentConfig) Settings() agent.Settings {
	s := agent.DefaultSettings()
	if a.Bin != "" {
		s.Bin = a.Bin
	}
	if a.Model != "" {
		s.Model = a.Model
	}
	if a.Sandbox != "" {
		s.Sandbox = a.Sandbox
	}
	if a.TimeoutSec > 0 {
		s.TimeoutSec = a.TimeoutSec
	}
	if len(a.ExtraConfig) > 0 {
		s.ExtraConfig = a.ExtraConfig
	}
	return s
}

// PipelineConfig configures the cross-project driver.
type PipelineConfig struct {
	// MaxProjects bounds concurrently processed projects.
	MaxProjects int `yaml:"max_projects"`
	// ReportDir receives the export reports.
	ReportDir string `yaml:"report_dir"`
	// ChecklistsPath optionally overrides the built-in rule checklists
	// with a YAML file.
	ChecklistsPath string `yaml:"checklists_path"`
}

// LogsConfig configures logging and agent artifact capture.
type LogsConfig struct {
	// Dir is the artifact root for agent call captures.
	Dir string `yaml:"dir"`
	// Level is the slog level: debug, info, warn, error.
	Level string `yaml:"level"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	// Addr is the listen address for /metrics; empty disables the server.
	Addr string `yaml:"addr"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Dataset: DatasetConfig{
			Base:          "./dataset",
			IgnoreFolders: []string{".git", "node_modules", "target", "build", "out"},
		},
		Store: StoreConfig{
			DatabaseURL: "postgres://localhost:5432/flowaudit?sslmode=disable",
		},
		Agent: AgentConfig{
			Bin:        "codex",
			Sandbox:    agent.SandboxReadOnly,
			TimeoutSec: 1800,
		},
		Planning:   planning.DefaultConfig(),
		Reasoning:  reasoning.DefaultConfig(),
		Validation: validating.DefaultConfig(),
		Pipeline: PipelineConfig{
			MaxProjects: 4,
			ReportDir:   "./reports",
		},
		Logs: LogsConfig{
			Dir:   "./logs",
			Level: "info",
		},
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.Dataset.Base == "" {
		return fmt.Errorf("dataset.base is required")
	}
	if c.Store.DatabaseURL == "" {
		return fmt.Errorf("store.database_url is required")
	}
	if c.Agent.Bin == "" {
		return fmt.Errorf("agent.bin is required")
	}
	switch c.Agent.Sandbox {
	case agent.SandboxReadOnly, agent.SandboxWorkspaceWrite:
	default:
		return fmt.Errorf("agent.sandbox must be %q or %q, got %q",
			agent.SandboxReadOnly, agent.SandboxWorkspaceWrite, c.Agent.Sandbox)
	}
	if c.Pipeline.MaxProjects < 1 {
		return fmt.Errorf("pipeline.max_projects must be >= 1, got %d", c.Pipeline.MaxProjects)
	}
	if err := c.Planning.Validate(); err != nil {
		return fmt.Errorf("planning: %w", err)
	}
	if err := c.Reasoning.Validate(); err != nil {
		return fmt.Errorf("reasoning: %w", err)
	}
	if err := c.Validation.Validate(); err != nil {
		return fmt.Errorf("validation: %w", err)
	}
	return nil
}

// LoadFromFile loads configuration from a YAML file over the defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return config, nil
}

// SaveToFile saves configuration to a YAML file.
func (c *Config) SaveToFile(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Merge merges another config into this one (other takes precedence for
// non-zero values).
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	if other.Dataset.Base != "" {
		c.Dataset.Base = other.Dataset.Base
	}
	if len(other.Dataset.IgnoreFolders) > 0 {
		c.Dataset.IgnoreFolders = other.Dataset.IgnoreFolders
	}
	if other.Dataset.IncludeInternal {
		c.Dataset.IncludeInternal = true
	}

	if other.Store.DatabaseURL != "" {
		c.Store.DatabaseURL = other.Store.DatabaseURL
	}

	if other.Agent.Bin != "" {
		c.Agent.Bin = other.Agent.Bin
	}
	if other.Agent.Model != "" {
		c.Agent.Model = other.Agent.Model
	}
	if other.Agent.Sandbox != "" {
		c.Agent.Sandbox = other.Agent.Sandbox
	}
	if other.Agent.TimeoutSec != 0 {
		c.Agent.TimeoutSec = other.Agent.TimeoutSec
	}
	if len(other.Agent.ExtraConfig) > 0 {
		c.Agent.ExtraConfig = other.Agent.ExtraConfig
	}

	if other.Planning.CoverageTarget != 0 {
		c.Planning.CoverageTarget = other.Planning.CoverageTarget
	}
	if other.Planning.MaxRepairRounds != 0 {
		c.Planning.MaxRepairRounds = other.Planning.MaxRepairRounds
	}
	if len(other.Planning.RuleKeys) > 0 {
		c.Planning.RuleKeys = other.Planning.RuleKeys
	}
	if other.Planning.AllowFlowModification {
		c.Planning.AllowFlowModification = true
	}
	if other.Planning.TargetNewFlows != 0 {
		c.Planning.TargetNewFlows = other.Planning.TargetNewFlows
	}
	if other.Planning.TimeoutSec != 0 {
		c.Planning.TimeoutSec = other.Planning.TimeoutSec
	}

	if other.Reasoning.MaxRounds != 0 {
		c.Reasoning.MaxRounds = other.Reasoning.MaxRounds
	}
	if other.Reasoning.MaxParallel != 0 {
		c.Reasoning.MaxParallel = other.Reasoning.MaxParallel
	}
	if other.Reasoning.TimeoutSec != 0 {
		c.Reasoning.TimeoutSec = other.Reasoning.TimeoutSec
	}
	if other.Reasoning.TimeLimitSec != 0 {
		c.Reasoning.TimeLimitSec = other.Reasoning.TimeLimitSec
	}
	if other.Reasoning.PoCExecution {
		c.Reasoning.PoCExecution = true
	}

	if other.Validation.MaxParallel != 0 {
		c.Validation.MaxParallel = other.Validation.MaxParallel
	}
	if other.Validation.TimeoutSec != 0 {
		c.Validation.TimeoutSec = other.Validation.TimeoutSec
	}

	if other.Pipeline.MaxProjects != 0 {
		c.Pipeline.MaxProjects = other.Pipeline.MaxProjects
	}
	if other.Pipeline.ReportDir != "" {
		c.Pipeline.ReportDir = other.Pipeline.ReportDir
	}
	if other.Pipeline.ChecklistsPath != "" {
		c.Pipeline.ChecklistsPath = other.Pipeline.ChecklistsPath
	}

	if other.Logs.Dir != "" {
		c.Logs.Dir = other.Logs.Dir
	}
	if other.Logs.Level != "" {
		c.Logs.Level = other.Logs.Level
	}

	if other.Metrics.Addr != "" {
		c.Metrics.Addr = other.Metrics.Addr
	}
}
