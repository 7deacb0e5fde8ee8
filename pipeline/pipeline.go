// Package pipeline sequences the audit stages per project: source parsing
// and catalog build, business-flow planning, vulnerability reasoning,
// finding validation, and report export. Projects run in parallel up to a
// bound; stages within one project run strictly in order.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/flowaudit/flowaudit/agent"
	"github.com/flowaudit/flowaudit/catalog"
	"github.com/flowaudit/flowaudit/config"
	"github.com/flowaudit/flowaudit/dataset"
	"github.com/flowaudit/flowaudit/export"
	"github.com/flowaudit/flowaudit/metrics"
	"github.com/flowaudit/flowaudit/parse"
	"github.com/flowaudit/flowaudit/planning"
	"github.com/flowaudit/flowaudit/prompt"
	"github.com/flowaudit/flowaudit/reasoning"
	"github.com/flowaudit/flowaudit/store"
	"github.com/flowaudit/flowaudit/validating"
)

// observedRunner wraps the executor so every agent call lands in the
// metrics, whatever stage made it.
type observedRunner struct {
	inner   *agent.Executor
	metrics *metrics.Metrics
}

func (r *observedRunner) Run(ctx context.Context, req agent.Request) (*agent.Result, error) {
	res, err := r.inner.Run(ctx, req)
	if r.metrics != nil && res != nil {
		r.metrics.ObserveAgentCall(req.Stage, res.ExitMode, res.FinishedAt.Sub(res.StartedAt))
	}
	return res, err
}

// Pipeline wires the stage engines over one store and one executor.
type Pipeline struct {
	cfg       *config.Config
	resolver  *dataset.Resolver
	planner   *planning.Engine
	loop      *reasoning.Loop
	validator *validating.Validator
	exporter  *export.Exporter
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// New builds the pipeline from configuration. The store must already be
// open and migrated; m may be nil to disable metrics.
func New(cfg *config.Config, st *store.Store, m *metrics.Metrics, logger *slog.Logger) (*Pipeline, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	resolver, err := dataset.NewResolver(cfg.Dataset.Base)
	if err != nil {
		return nil, err
	}

	checklists := prompt.DefaultChecklists()
	if cfg.Pipeline.ChecklistsPath != "" {
		checklists, err = prompt.LoadChecklists(cfg.Pipeline.ChecklistsPath)
		if err != nil {
			return nil, fmt.Errorf("load checklists: %w", err)
		}
	}

	runner := &observedRunner{
		inner:   agent.NewExecutor(cfg.Agent.Settings(), cfg.Logs.Dir, logger),
		metrics: m,
	}

	planner, err := planning.NewEngine(cfg.Planning, runner, st, checklists, logger)
	if err != nil {
		return nil, err
	}
	loop, err := reasoning.NewLoop(cfg.Reasoning, runner, st, logger)
	if err != nil {
		return nil, err
	}
	validator, err := validating.NewValidator(cfg.Validation, runner, st, logger)
	if err != nil {
		return nil, err
	}

	return &Pipeline{
		cfg:       cfg,
		resolver:  resolver,
		planner:   planner,
		loop:      loop,
		validator: validator,
		exporter:  export.NewExporter(st, logger),
		metrics:   m,
		logger:    logger,
	}, nil
}

// ProjectResult is the outcome of one project's run.
type ProjectResult struct {
	ProjectID   string
	Planned     int
	Reasoned    int
	Findings    int
	Validated   int
	TaskErrors  int
	ReportPaths []string
	// Err is set when the project aborted mid-stage.
	Err error
}

// Summary aggregates a whole pipeline run.
type Summary struct {
	Projects []ProjectResult
}

// Failed counts projects that aborted.
func (s *Summary) Failed() int {
	n := 0
	for i := range s.Projects {
		if s.Projects[i].Err != nil {
			n++
		}
	}
	return n
}

// TaskErrors counts per-task and per-finding failures across projects.
func (s *Summary) TaskErrors() int {
	n := 0
	for i := range s.Projects {
		n += s.Projects[i].TaskErrors
	}
	return n
}

// ExitCode maps the run to the process exit code: 0 for a clean run, 2
// when a project failed on workspace resolution, 3 when a project aborted
// on an unrecoverable executor or store error, 4 when every project
// finished but some tasks or findings failed.
func (s *Summary) ExitCode() int {
	workspace := false
	for i := range s.Projects {
		err := s.Projects[i].Err
		if err == nil {
			continue
		}
		var werr *dataset.WorkspaceError
		if errors.As(err, &werr) {
			workspace = true
			continue
		}
		return 3
	}
	if workspace {
		return 2
	}
	if s.TaskErrors() > 0 {
		return 4
	}
	return 0
}

// Run processes the given projects, or every manifest project when the
// list is empty. A project failure does not stop the others; only
// cancellation aborts the whole run.
func (p *Pipeline) Run(ctx context.Context, projectIDs []string, stages StageSet) (*Summary, error) {
	if len(projectIDs) == 0 {
		projectIDs = p.resolver.Projects()
	}
	if len(projectIDs) == 0 {
		return nil, fmt.Errorf("no projects: dataset %s has an empty manifest", p.resolver.Base())
	}

	summary := &Summary{Projects: make([]ProjectResult, len(projectIDs))}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Pipeline.MaxProjects)
	for i, projectID := range projectIDs {
		i, projectID := i, projectID
		g.Go(func() error {
			result := p.runProject(gctx, projectID, stages)
			mu.Lock()
			summary.Projects[i] = result
			mu.Unlock()
			if result.Err != nil {
				if gctx.Err() != nil {
					return result.Err
				}
				p.logger.Error("project failed", "project_id", projectID, "error", result.Err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return summary, err
	}

	p.logger.Info("pipeline finished",
		"projects", len(summary.Projects),
		"failed", summary.Failed(),
		"task_errors", summary.TaskErrors())
	return summary, nil
}

// runProject drives one project through the selected stages.
func (p *Pipeline) runProject(ctx context.Context, projectID string, stages StageSet) ProjectResult {
	result := ProjectResult{ProjectID: projectID}
	fail := func(err error) ProjectResult {
		result.Err = err
		if p.metrics != nil {
			p.metrics.ProjectsProcessed.WithLabelValues("error").Inc()
		}
		return result
	}

	workspaceRoot, err := p.resolver.Resolve(projectID)
	if err != nil {
		return fail(err)
	}
	logger := p.logger.With("project_id", projectID)

	if stages.Plan {
		cat, err := p.loadCatalog(ctx, workspaceRoot)
		if err != nil {
			return fail(fmt.Errorf("catalog: %w", err))
		}
		outcome, err := p.planner.Plan(ctx, projectID, workspaceRoot, cat)
		if err != nil {
			return fail(fmt.Errorf("planning: %w", err))
		}
		result.Planned = outcome.TaskCount
		if p.metrics != nil && !outcome.Skipped {
			p.metrics.TasksPlanned.Add(float64(outcome.TaskCount))
		}
		logger.Info("planning done",
			"tasks", outcome.TaskCount, "coverage", outcome.Coverage,
			"skipped", outcome.Skipped, "partial", outcome.Partial)
	}

	if stages.Reason {
		outcome, err := p.loop.RunProject(ctx, projectID, workspaceRoot)
		if err != nil {
			return fail(fmt.Errorf("reasoning: %w", err))
		}
		result.Reasoned = outcome.Reasoned
		result.Findings = outcome.Findings
		result.TaskErrors += outcome.Errors
		if p.metrics != nil {
			p.metrics.FindingsSplit.Add(float64(outcome.Findings))
		}
	}

	if stages.Validate {
		outcome, err := p.validator.RunProject(ctx, projectID, workspaceRoot)
		if err != nil {
			return fail(fmt.Errorf("validation: %w", err))
		}
		result.Validated = outcome.Validated
		result.TaskErrors += outcome.Errors
		if p.metrics != nil {
			for status, n := range outcome.ByStatus {
				p.metrics.Validations.WithLabelValues(status).Add(float64(n))
			}
		}
	}

	if stages.Export {
		paths, err := p.exporter.WriteFiles(ctx, projectID, p.cfg.Pipeline.ReportDir)
		if err != nil {
			return fail(fmt.Errorf("export: %w", err))
		}
		result.ReportPaths = paths
	}

	if p.metrics != nil {
		outcome := "ok"
		if result.TaskErrors > 0 {
			outcome = "partial"
		}
		p.metrics.ProjectsProcessed.WithLabelValues(outcome).Inc()
	}
	return result
}

// loadCatalog parses the workspace sources into the function catalog.
// Unless include_internal is set, only externally reachable functions
// enter the catalog: planning targets entry points, not helpers.
func (p *Pipeline) loadCatalog(ctx context.Context, workspaceRoot string) (*catalog.Catalog, error) {
	entries, err := parse.Load(ctx, workspaceRoot, parse.Options{
		IgnoreDirs: p.cfg.Dataset.IgnoreFolders,
		Logger:     p.logger,
	})
	if err != nil {
		return nil, err
	}
	if !p.cfg.Dataset.IncludeInternal {
		entries = catalog.SelectPublic(entries)
	}
	return catalog.New(entries)
}
