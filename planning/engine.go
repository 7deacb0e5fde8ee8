// Package planning carves a project into scannable business-flow tasks.
// Phase A extracts groups and flows from the function catalog through the
// P0/P1/P2 prompt rounds; phase B repairs coverage with P3/P4/P5 until the
// target fraction of the catalog is referenced; finalize emits one Task row
// per (flow, rule key).
package planning

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/flowaudit/flowaudit/agent"
	"github.com/flowaudit/flowaudit/catalog"
	"github.com/flowaudit/flowaudit/prompt"
	"github.com/flowaudit/flowaudit/schema"
	"github.com/flowaudit/flowaudit/store"
)

// Batch size bounds for coverage repair; the effective size scales with
// the catalog.
const (
	minBatchSize = 150
	maxBatchSize = 400
)

// agentRunner is the slice of the executor the engine needs.
type agentRunner interface {
	Run(ctx context.Context, req agent.Request) (*agent.Result, error)
}

// taskStore is the slice of the store the engine needs.
type taskStore interface {
	CountTasks(ctx context.Context, projectID string) (int, error)
	BulkInsertTasks(ctx context.Context, tasks []*store.Task) error
}

// Outcome summarizes one planning run.
type Outcome struct {
	ProjectID    string
	Skipped      bool
	Partial      bool
	Coverage     float64
	RepairRounds int
	FlowCount    int
	TaskCount    int
}

// Engine drives planning for one project at a time.
type Engine struct {
	config     Config
	runner     agentRunner
	tasks      taskStore
	checklists prompt.Checklists
	logger     *slog.Logger
}

// NewEngine validates the configuration and constructs an engine.
func NewEngine(config Config, runner agentRunner, tasks taskStore, checklists prompt.Checklists, logger *slog.Logger) (*Engine, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("planning config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		config:     config,
		runner:     runner,
		tasks:      tasks,
		checklists: checklists,
		logger:     logger,
	}, nil
}

// Plan runs both phases for one project and persists the task rows. A
// project that already has tasks is a resume no-op.
func (e *Engine) Plan(ctx context.Context, projectID, workspaceRoot string, cat *catalog.Catalog) (*Outcome, error) {
	existing, err := e.tasks.CountTasks(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if existing > 0 {
		e.logger.Info("planning skipped, tasks already exist",
			"project_id", projectID, "tasks", existing)
		return &Outcome{ProjectID: projectID, Skipped: true, TaskCount: existing}, nil
	}

	outcome := &Outcome{ProjectID: projectID}

	plan, partial, err := e.extract(ctx, projectID, workspaceRoot, cat)
	if err != nil {
		return nil, err
	}
	outcome.Partial = partial

	outcome.Coverage = e.coverage(plan, cat)
	for outcome.Coverage < e.config.CoverageTarget && outcome.RepairRounds < e.config.MaxRepairRounds {
		outcome.RepairRounds++
		repaired, repairPartial, err := e.repairRound(ctx, projectID, workspaceRoot, cat, plan, outcome.RepairRounds)
		if err != nil {
			return nil, err
		}
		outcome.Partial = outcome.Partial || repairPartial
		if !repaired {
			break
		}
		outcome.Coverage = e.coverage(plan, cat)
	}

	tasks := e.finalize(projectID, plan, cat)
	if len(tasks) == 0 {
		return nil, fmt.Errorf("planning produced no tasks for project %s", projectID)
	}
	if err := e.tasks.BulkInsertTasks(ctx, tasks); err != nil {
		return nil, err
	}

	outcome.FlowCount = len(plan.Flows)
	outcome.TaskCount = len(tasks)
	e.logger.Info("planning finished",
		"project_id", projectID,
		"coverage", fmt.Sprintf("%.2f", outcome.Coverage),
		"flows", outcome.FlowCount,
		"tasks", outcome.TaskCount,
		"repair_rounds", outcome.RepairRounds,
		"partial", outcome.Partial)
	return outcome, nil
}

// extract runs phase A: P0 extraction, P1 augmentation, P2 convergence.
// Partial is true when P2 failed twice and the freeform snapshot had to
// serve.
func (e *Engine) extract(ctx context.Context, projectID, workspaceRoot string, cat *catalog.Catalog) (*Plan, bool, error) {
	identities := make([]string, 0, len(cat.List()))
	for _, entry := range cat.List() {
		identities = append(identities, entry.Key())
	}

	p0Prompt, err := prompt.P0Initial(identities)
	if err != nil {
		return nil, false, err
	}
	p0, err := e.call(ctx, projectID, workspaceRoot, "extract", "p0", p0Prompt)
	if err != nil {
		return nil, false, err
	}

	p1Prompt, err := prompt.P1Incremental(p0)
	if err != nil {
		return nil, false, err
	}
	p1, err := e.call(ctx, projectID, workspaceRoot, "extract", "p1", p1Prompt)
	if err != nil {
		return nil, false, err
	}

	plan := NewPlan()

	result, err := e.convergePlanning(ctx, projectID, workspaceRoot, p0, p1)
	partial := false
	if err != nil {
		var perr *schema.ParseError
		if !errors.As(err, &perr) {
			return nil, false, err
		}
		e.logger.Warn("P2 convergence failed twice, falling back to freeform snapshot",
			"project_id", projectID, "error", err)
		result = ParseFreeform(p0, p1)
		partial = true
	}
	plan.ApplyPlanning(result)

	if len(plan.Flows) == 0 {
		return nil, partial, fmt.Errorf("extraction produced no flows for project %s", projectID)
	}
	return plan, partial, nil
}

// convergePlanning runs P2 with one stricter retry on parse failure.
func (e *Engine) convergePlanning(ctx context.Context, projectID, workspaceRoot, p0, p1 string) (*schema.PlanningResult, error) {
	for _, attempt := range []struct {
		call   string
		strict bool
	}{{"p2", false}, {"p2-retry", true}} {
		p2Prompt, err := prompt.P2FinalJSON(p0, p1, attempt.strict)
		if err != nil {
			return nil, err
		}
		raw, err := e.call(ctx, projectID, workspaceRoot, "extract", attempt.call, p2Prompt)
		if err != nil {
			return nil, err
		}
		result, err := schema.DecodePlanning(raw)
		if err == nil {
			return result, nil
		}
		if attempt.strict {
			return nil, err
		}
		e.logger.Warn("P2 output failed to parse, retrying with stricter reminder",
			"project_id", projectID, "error", err)
	}
	return nil, fmt.Errorf("unreachable")
}

// repairRound runs one P3/P4/P5 pass over the uncovered set. Returns
// whether anything merged, and whether the round had to fall back to the
// per-batch snapshots.
func (e *Engine) repairRound(ctx context.Context, projectID, workspaceRoot string, cat *catalog.Catalog, plan *Plan, round int) (merged, partial bool, err error) {
	uncovered := e.uncovered(plan, cat)
	if len(uncovered) == 0 {
		return false, false, nil
	}
	scope := "repair-" + strconv.Itoa(round)
	overview := plan.Overview()

	var rawBatches []string
	var parsedBatches []*schema.RepairResult
	proposed := make(map[string]bool)

	for i, batch := range batchByFile(uncovered, batchSize(len(cat.List()))) {
		refs := make([]string, len(batch))
		for j, entry := range batch {
			refs[j] = entry.Key()
		}
		p3Prompt, err := prompt.P3RepairBatch(overview, refs,
			plan.NextGroupID(), plan.NextFlowID(), e.config.TargetNewFlows, e.config.AllowFlowModification)
		if err != nil {
			return false, false, err
		}
		raw, err := e.call(ctx, projectID, workspaceRoot, scope, fmt.Sprintf("p3-batch-%d", i+1), p3Prompt)
		if err != nil {
			return false, false, err
		}
		rawBatches = append(rawBatches, raw)
		if parsed, err := schema.DecodeRepair(raw); err == nil {
			parsedBatches = append(parsedBatches, parsed)
			for _, f := range parsed.NewFlows {
				for _, ref := range f.FunctionRefs {
					proposed[ref] = true
				}
			}
		}
	}

	// P4: incremental pass over whatever the batches left uncovered.
	var p4Out string
	var residual []string
	for _, entry := range uncovered {
		if !proposed[entry.Key()] && !proposed[entry.Identity()] {
			residual = append(residual, entry.Key())
		}
	}
	if len(residual) > 0 && len(rawBatches) > 0 {
		p4Prompt, err := prompt.P4Residual(strings.Join(rawBatches, "\n\n"), residual)
		if err != nil {
			return false, false, err
		}
		p4Out, err = e.call(ctx, projectID, workspaceRoot, scope, "p4", p4Prompt)
		if err != nil {
			return false, false, err
		}
	}

	delta, err := e.convergeRepair(ctx, projectID, workspaceRoot, scope, plan, rawBatches, p4Out)
	if err != nil {
		var perr *schema.ParseError
		if !errors.As(err, &perr) {
			return false, false, err
		}
		// Fallback: merge the per-batch deltas that did parse.
		e.logger.Warn("P5 convergence failed twice, merging parsed batch deltas",
			"project_id", projectID, "round", round, "parsed_batches", len(parsedBatches))
		for _, parsed := range parsedBatches {
			plan.MergeRepair(parsed)
		}
		return len(parsedBatches) > 0, true, nil
	}
	plan.MergeRepair(delta)
	return len(delta.NewFlows) > 0 || len(delta.NewGroups) > 0, false, nil
}

// convergeRepair runs P5 with one stricter retry on parse failure.
func (e *Engine) convergeRepair(ctx context.Context, projectID, workspaceRoot, scope string, plan *Plan, rawBatches []string, p4Out string) (*schema.RepairResult, error) {
	combined := strings.Join(rawBatches, "\n\n")
	for _, attempt := range []struct {
		call   string
		strict bool
	}{{"p5", false}, {"p5-retry", true}} {
		p5Prompt, err := prompt.P5RepairJSON(combined, p4Out, plan.NextGroupID(), plan.NextFlowID(), attempt.strict)
		if err != nil {
			return nil, err
		}
		raw, err := e.call(ctx, projectID, workspaceRoot, scope, attempt.call, p5Prompt)
		if err != nil {
			return nil, err
		}
		delta, err := schema.DecodeRepair(raw)
		if err == nil {
			return delta, nil
		}
		if attempt.strict {
			return nil, err
		}
		e.logger.Warn("P5 output failed to parse, retrying with stricter reminder",
			"project_id", projectID, "error", err)
	}
	return nil, fmt.Errorf("unreachable")
}

// call executes one planning agent invocation and returns its stdout.
func (e *Engine) call(ctx context.Context, projectID, workspaceRoot, scope, callName, p string) (string, error) {
	res, err := e.runner.Run(ctx, agent.Request{
		WorkspaceRoot: workspaceRoot,
		Prompt:        p,
		TimeoutSec:    e.config.TimeoutSec,
		Stage:         "plan",
		ProjectID:     projectID,
		Scope:         scope,
		Call:          callName,
	})
	if err != nil {
		return "", err
	}
	return res.Stdout, nil
}

// coverage is the fraction of catalog functions referenced by at least one
// flow. Only matched refs count; ambiguous and missing never do.
func (e *Engine) coverage(plan *Plan, cat *catalog.Catalog) float64 {
	total := len(cat.List())
	if total == 0 {
		return 1
	}
	covered := make(map[string]bool)
	for _, f := range plan.Flows {
		matched, _, _ := cat.ResolveAll(f.FunctionRefs)
		for _, m := range matched {
			if !m.Ambiguous {
				covered[m.Entry.Key()] = true
			}
		}
	}
	return float64(len(covered)) / float64(total)
}

// uncovered lists catalog entries no flow references, in catalog order.
func (e *Engine) uncovered(plan *Plan, cat *catalog.Catalog) []catalog.FunctionEntry {
	covered := make(map[string]bool)
	for _, f := range plan.Flows {
		matched, _, _ := cat.ResolveAll(f.FunctionRefs)
		for _, m := range matched {
			if !m.Ambiguous {
				covered[m.Entry.Key()] = true
			}
		}
	}
	var out []catalog.FunctionEntry
	for _, entry := range cat.List() {
		if !covered[entry.Key()] {
			out = append(out, *entry)
		}
	}
	return out
}

// batchSize scales with the catalog within the fixed bounds.
func batchSize(catalogSize int) int {
	size := catalogSize / 3
	if size < minBatchSize {
		return minBatchSize
	}
	if size > maxBatchSize {
		return maxBatchSize
	}
	return size
}

// batchByFile packs uncovered entries into batches, keeping functions of
// the same file together so each batch stays semantically coherent.
func batchByFile(entries []catalog.FunctionEntry, size int) [][]catalog.FunctionEntry {
	var batches [][]catalog.FunctionEntry
	var current []catalog.FunctionEntry
	lastFile := ""

	for _, entry := range entries {
		if len(current) >= size && entry.RelativePath != lastFile {
			batches = append(batches, current)
			current = nil
		}
		current = append(current, entry)
		lastFile = entry.RelativePath
	}
	if len(current) > 0 {
		batches = append(batches, current)
	}
	return batches
}

// ruleDoc is the JSON serialized into Task.rule.
type ruleDoc struct {
	FlowID                string   `json:"flow_id"`
	FlowName              string   `json:"flow_name"`
	GroupIDs              []string `json:"group_ids"`
	FunctionRefs          []string `json:"function_refs"`
	MissingFunctionRefs   []string `json:"missing_function_refs"`
	AmbiguousFunctionRefs []string `json:"ambiguous_function_refs"`
	PlanningStage         string   `json:"planning_stage"`
	RuleKey               string   `json:"rule_key"`
	Checklist             []string `json:"checklist"`
}

// finalize emits one task per (flow, rule key). Flows whose refs all failed
// to resolve carry no scannable code and are dropped with a warning.
func (e *Engine) finalize(projectID string, plan *Plan, cat *catalog.Catalog) []*store.Task {
	var tasks []*store.Task
	for _, flow := range plan.Flows {
		matched, ambiguous, missing := cat.ResolveAll(flow.FunctionRefs)

		// Ambiguous refs stay in diagnostics only; they never enter the
		// code bundle.
		var bodies, matchedRefs []string
		var first *catalog.FunctionEntry
		for _, m := range matched {
			if m.Ambiguous {
				continue
			}
			bodies = append(bodies, m.Entry.Body)
			matchedRefs = append(matchedRefs, m.Entry.Key())
			if first == nil {
				first = m.Entry
			}
		}
		if first == nil {
			e.logger.Warn("flow has no resolvable functions, skipping",
				"project_id", projectID, "flow_id", flow.ID, "missing", missing)
			continue
		}
		code := strings.Join(bodies, "\n\n")

		for _, ruleKey := range e.config.RuleKeys {
			rule, err := json.Marshal(ruleDoc{
				FlowID:                flow.ID,
				FlowName:              flow.Name,
				GroupIDs:              flow.GroupIDs,
				FunctionRefs:          matchedRefs,
				MissingFunctionRefs:   missing,
				AmbiguousFunctionRefs: ambiguous,
				PlanningStage:         "finalize",
				RuleKey:               ruleKey,
				Checklist:             e.checklists.Items(ruleKey),
			})
			if err != nil {
				continue
			}
			tasks = append(tasks, &store.Task{
				UUID:             uuid.NewString(),
				ProjectID:        projectID,
				Name:             fmt.Sprintf("Fi:%s %s [%s]", flow.ID, flow.Name, ruleKey),
				Content:          first.Body,
				Rule:             string(rule),
				RuleKey:          ruleKey,
				ContractCode:     first.Body,
				StartLine:        strconv.Itoa(first.StartLine),
				EndLine:          strconv.Itoa(first.EndLine),
				RelativeFilePath: first.RelativePath,
				AbsoluteFilePath: first.AbsolutePath,
				BusinessFlowCode: code,
				Group:            flow.ID,
			})
		}
	}
	return tasks
}
