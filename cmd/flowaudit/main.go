// Package main provides the flowaudit binary entry point. Flowaudit runs
// an automated smart-contract audit pipeline: business-flow planning,
// multi-round vulnerability reasoning, and evidence-based validation, all
// driven through a sandboxed analysis agent.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/flowaudit/flowaudit/config"
	"github.com/flowaudit/flowaudit/metrics"
	"github.com/flowaudit/flowaudit/pipeline"
	"github.com/flowaudit/flowaudit/store"
)

const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "flowaudit"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(3)
		}
	}()

	exitCode := 0
	if err := rootCmd(&exitCode).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		// Setup and infrastructure failures are unrecoverable; stage-level
		// outcomes set exitCode themselves.
		if exitCode == 0 {
			exitCode = 3
		}
	}
	os.Exit(exitCode)
}

type flags struct {
	configPath  string
	datasetBase string
	projectIDs  []string
	stages      string
	maxParallel int
	timeoutSec  int
	logLevel    string
	checklists  string
	metricsAddr string
	reportDir   string
}

func rootCmd(exitCode *int) *cobra.Command {
	var f flags

	cmd := &cobra.Command{
		Use:   appName,
		Short: "Automated smart contract audit pipeline",
		Long: `Flowaudit audits smart contract projects in agent-driven stages:

- plan: extract business flows from the function inventory and emit one
  reasoning task per flow and rule key
- reason: run the bounded multi-round vulnerability mining loop per task
  and split results into per-vulnerability findings
- validate: re-check every finding with an evidence-based agent pass
- export: write the JSON and Markdown audit reports

Projects come from <dataset-base>/datasets.json; task and finding state
lives in Postgres, so interrupted runs resume where they stopped.`,
		SilenceUsage: true,
	}

	runCmd := &cobra.Command{
		Use:          "run",
		Short:        "Run the audit pipeline over the dataset projects",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), &f, exitCode)
		},
	}

	runCmd.Flags().StringVarP(&f.configPath, "config", "c", "", "Config file path (YAML)")
	runCmd.Flags().StringVar(&f.datasetBase, "dataset-base", "", "Dataset base directory holding datasets.json")
	runCmd.Flags().StringSliceVar(&f.projectIDs, "project-id", nil, "Project IDs to process (default: all manifest projects)")
	runCmd.Flags().StringVar(&f.stages, "stage", "all", "Stages to run: all, or comma-separated plan,reason,validate,export")
	runCmd.Flags().IntVar(&f.maxParallel, "max-parallel", 0, "Max parallel reasoning groups (0 = config value)")
	runCmd.Flags().IntVar(&f.timeoutSec, "timeout-sec", 0, "Agent call timeout in seconds (0 = config value)")
	runCmd.Flags().StringVar(&f.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	runCmd.Flags().StringVar(&f.checklists, "checklists", "", "YAML file overriding the built-in rule checklists")
	runCmd.Flags().StringVar(&f.metricsAddr, "metrics-addr", "", "Prometheus listen address (empty = disabled)")
	runCmd.Flags().StringVar(&f.reportDir, "report-dir", "", "Directory for exported reports")
	cmd.AddCommand(runCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s version %s (build: %s)\n", appName, Version, BuildTime)
		},
	})

	return cmd
}

func run(ctx context.Context, f *flags, exitCode *int) error {
	bootLogger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	cfg, err := config.NewLoader(bootLogger).Load(f.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	applyFlags(cfg, f)

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel()}))
	slog.SetDefault(logger)

	stages, err := pipeline.ParseStages(f.stages)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(ctx, cfg.Store.DatabaseURL, logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()
	if err := st.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate store: %w", err)
	}

	m := metrics.New()
	if cfg.Metrics.Addr != "" {
		go func() {
			if err := m.Serve(ctx, cfg.Metrics.Addr, logger); err != nil {
				logger.Error("metrics server failed", "error", err)
			}
		}()
	}

	p, err := pipeline.New(cfg, st, m, logger)
	if err != nil {
		return err
	}

	logger.Info("starting audit run",
		"version", Version,
		"dataset_base", cfg.Dataset.Base,
		"projects", f.projectIDs,
		"stages", f.stages)

	summary, err := p.Run(ctx, f.projectIDs, stages)
	if err != nil {
		return err
	}

	*exitCode = summary.ExitCode()
	logger.Info("audit run finished",
		"projects", len(summary.Projects),
		"failed", summary.Failed(),
		"task_errors", summary.TaskErrors(),
		"exit_code", *exitCode)
	return nil
}

// applyFlags folds command-line overrides into the loaded config.
func applyFlags(cfg *config.Config, f *flags) {
	if f.datasetBase != "" {
		cfg.Dataset.Base = f.datasetBase
	}
	if f.maxParallel > 0 {
		cfg.Reasoning.MaxParallel = f.maxParallel
	}
	if f.timeoutSec > 0 {
		cfg.Agent.TimeoutSec = f.timeoutSec
	}
	if f.logLevel != "" {
		cfg.Logs.Level = f.logLevel
	}
	if f.checklists != "" {
		cfg.Pipeline.ChecklistsPath = f.checklists
	}
	if f.metricsAddr != "" {
		cfg.Metrics.Addr = f.metricsAddr
	}
	if f.reportDir != "" {
		cfg.Pipeline.ReportDir = f.reportDir
	}
}
