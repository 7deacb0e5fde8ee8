package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

const (
	// ProjectConfigFile is the name of the project-level config file.
	ProjectConfigFile = "flowaudit.yaml"
	// UserConfigDir is the directory for user-level config.
	UserConfigDir = ".config/flowaudit"
	// UserConfigFile is the name of the user-level config file.
	UserConfigFile = "config.yaml"
)

// Loader handles configuration loading with layered precedence.
type Loader struct {
	logger *slog.Logger
}

// NewLoader creates a new configuration loader.
func NewLoader(logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{logger: logger}
}

// Load loads configuration with layered precedence:
// 1. Default config
// 2. User config (~/.config/flowaudit/config.yaml)
// 3. Project config (flowaudit.yaml in current or parent directories)
// 4. An explicit file passed on the command line
// 5. Environment variables (.env is read first when present)
func (l *Loader) Load(explicitPath string) (*Config, error) {
	config := DefaultConfig()

	userConfigPath := l.userConfigPath()
	if userConfig, err := LoadFromFile(userConfigPath); err == nil {
		l.logger.Debug("Loaded user config", slog.String("path", userConfigPath))
		config.Merge(userConfig)
	} else if !os.IsNotExist(err) {
		l.logger.Warn("Failed to load user config", slog.String("path", userConfigPath), slog.String("error", err.Error()))
	}

	projectConfigPath := l.findProjectConfig()
	if projectConfigPath != "" {
		if projectConfig, err := LoadFromFile(projectConfigPath); err == nil {
			l.logger.Debug("Loaded project config", slog.String("path", projectConfigPath))
			config.Merge(projectConfig)
		} else {
			l.logger.Warn("Failed to load project config", slog.String("path", projectConfigPath), slog.String("error", err.Error()))
		}
	}

	if explicitPath != "" {
		explicit, err := LoadFromFile(explicitPath)
		if err != nil {
			return nil, err
		}
		config.Merge(explicit)
	}

	if err := godotenv.Load(); err == nil {
		l.logger.Debug("Loaded .env file")
	}
	config.ApplyEnv()

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// ApplyEnv overrides config fields from the environment. Unparseable
// numeric values are ignored in favor of the configured value.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("DATASET_BASE"); v != "" {
		c.Dataset.Base = v
	}
	if v := os.Getenv("IGNORE_FOLDERS"); v != "" {
		c.Dataset.IgnoreFolders = splitList(v)
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Store.DatabaseURL = v
	}
	if v := os.Getenv("CODEX_BIN"); v != "" {
		c.Agent.Bin = v
	}
	if v := os.Getenv("CODEX_MODEL"); v != "" {
		c.Agent.Model = v
	}
	if v := os.Getenv("CODEX_SANDBOX"); v != "" {
		c.Agent.Sandbox = v
	}
	if v := os.Getenv("CODEX_EXTRA_CONFIG"); v != "" {
		c.Agent.ExtraConfig = splitList(v)
	}
	if n, ok := envInt("AGENT_TIMEOUT_SEC"); ok {
		c.Agent.TimeoutSec = n
	}
	if v := os.Getenv("BUSINESS_FLOW_RULE_KEYS"); v != "" {
		c.Planning.RuleKeys = splitList(v)
	}
	if v := os.Getenv("COVERAGE_TARGET"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 && f <= 1 {
			c.Planning.CoverageTarget = f
		}
	}
	if n, ok := envInt("REASONING_MAX_ROUNDS"); ok {
		c.Reasoning.MaxRounds = n
	}
	if n, ok := envInt("MAX_REASONING_PARALLEL"); ok {
		c.Reasoning.MaxParallel = n
	}
	if n, ok := envInt("MAX_VALIDATION_PARALLEL"); ok {
		c.Validation.MaxParallel = n
	}
	if n, ok := envInt("MAX_PROJECTS"); ok {
		c.Pipeline.MaxProjects = n
	}
	if v := os.Getenv("REPORT_DIR"); v != "" {
		c.Pipeline.ReportDir = v
	}
	if v := os.Getenv("LOG_DIR"); v != "" {
		c.Logs.Dir = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logs.Level = v
	}
	if v := os.Getenv("METRICS_ADDR"); v != "" {
		c.Metrics.Addr = v
	}
}

// LogLevel parses the configured level for slog; unknown values mean info.
func (c *Config) LogLevel() slog.Level {
	switch strings.ToLower(c.Logs.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// EnsureUserConfig creates the user config file with defaults if it
// doesn't exist.
func (l *Loader) EnsureUserConfig() error {
	userConfigPath := l.userConfigPath()
	if userConfigPath == "" {
		return fmt.Errorf("cannot determine user config path")
	}
	if _, err := os.Stat(userConfigPath); err == nil {
		return nil
	}

	config := DefaultConfig()
	if err := config.SaveToFile(userConfigPath); err != nil {
		return err
	}
	l.logger.Info("Created default user config", slog.String("path", userConfigPath))
	return nil
}

// userConfigPath returns the path to the user config file.
func (l *Loader) userConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, UserConfigDir, UserConfigFile)
}

// findProjectConfig searches for flowaudit.yaml in current and parent
// directories.
func (l *Loader) findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	dir := cwd
	for {
		configPath := filepath.Join(dir, ProjectConfigFile)
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return ""
}

func envInt(name string) (int, bool) {
	v := os.Getenv(name)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}

func splitList(v string) []string {
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
