// Package reasoning runs the per-task vulnerability mining loop: a bounded
// multi-round exchange between the Reasoner (agent), a deterministic
// Watcher, and the Ideator (agent, on pivot), followed by the idempotent
// task-to-finding split.
package reasoning

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/flowaudit/flowaudit/agent"
	"github.com/flowaudit/flowaudit/prompt"
	"github.com/flowaudit/flowaudit/schema"
	"github.com/flowaudit/flowaudit/store"
)

// agentRunner is the slice of the executor the loop needs.
type agentRunner interface {
	Run(ctx context.Context, req agent.Request) (*agent.Result, error)
}

// taskStore is the slice of the store the loop needs.
type taskStore interface {
	ListTasks(ctx context.Context, projectID string) ([]store.Task, error)
	UpdateTaskResult(ctx context.Context, taskID int64, result string) error
	SetTaskShortResult(ctx context.Context, taskID int64, v string) error
	UpdateTaskScanRecord(ctx context.Context, taskID int64, record string) error
	ReplaceTaskFindings(ctx context.Context, taskID int64, findings []*store.Finding) error
}

// Loop coordinates reasoning for one project's tasks.
type Loop struct {
	config Config
	runner agentRunner
	tasks  taskStore
	logger *slog.Logger
}

// NewLoop validates the configuration and constructs a loop.
func NewLoop(config Config, runner agentRunner, tasks taskStore, logger *slog.Logger) (*Loop, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("reasoning config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{config: config, runner: runner, tasks: tasks, logger: logger}, nil
}

// TaskOutcome summarizes one task run.
type TaskOutcome struct {
	TaskID   int64
	Skipped  bool
	Resumed  bool
	Rounds   int
	Findings int
	// SplitDone reports that findings were replaced and short_result set.
	SplitDone bool
}

// RunTask drives the state machine for one task.
//
// Resume semantics: a task with short_result split_done is finished; a task
// with a stored result but no split skips reasoning and goes straight to
// SPLIT; a stored result that does not parse is re-attempted from scratch.
func (l *Loop) RunTask(ctx context.Context, task *store.Task, workspaceRoot string) (*TaskOutcome, error) {
	out := &TaskOutcome{TaskID: task.ID}

	if task.ShortResult == store.ShortResultSplitDone {
		out.Skipped = true
		return out, nil
	}
	if task.Result != "" {
		if result, err := schema.DecodeReasoning(task.Result); err == nil {
			out.Resumed = true
			out.Findings = len(result.Vulnerabilities)
			err := l.split(ctx, task, result)
			out.SplitDone = err == nil
			return out, err
		}
		l.logger.Warn("stored task result does not parse, re-reasoning",
			"task_id", task.ID, "project_id", task.ProjectID)
	}
	return l.reason(ctx, task, workspaceRoot, out)
}

// reason runs the multi-round loop and persists result, findings, and
// trace. The aggregated result is written before SPLIT so a crash between
// the two leaves a recoverable state.
func (l *Loop) reason(ctx context.Context, task *store.Task, workspaceRoot string, out *TaskOutcome) (*TaskOutcome, error) {
	ruleList := checklistFromRule(task.Rule)
	watcher := NewWatcher(l.config.MaxRounds, l.config.TimeLimitSec)
	trace := NewTrace(task.UUID, task.ProjectID, task.RuleKey)

	sandbox := agent.SandboxReadOnly
	if l.config.PoCExecution {
		sandbox = agent.SandboxWorkspaceWrite
	}

	instruction := watcher.First().WatcherInstruction
	seen := make(map[string]bool)
	var aggregated []schema.Vulnerability
	var pending, confirmed, refuted []string
	anyValid := false

	for round := 1; ; round++ {
		out.Rounds = round

		reasonerPrompt, err := prompt.Reasoner(task.BusinessFlowCode, task.RuleKey, ruleList, instruction)
		if err != nil {
			return out, err
		}

		rec := RoundRecord{Instruction: instruction}
		report := RoundReport{Instruction: instruction, PendingHypotheses: len(pending)}

		res, runErr := l.runner.Run(ctx, agent.Request{
			WorkspaceRoot: workspaceRoot,
			Prompt:        reasonerPrompt,
			Sandbox:       sandbox,
			TimeoutSec:    l.config.TimeoutSec,
			Stage:         "reason",
			ProjectID:     task.ProjectID,
			Scope:         taskScope(task),
			Call:          fmt.Sprintf("round-%d", round),
		})
		if res != nil {
			rec.ArtifactDir = res.ArtifactDir
			rec.ExitMode = res.ExitMode
		}

		switch {
		case runErr != nil && ctx.Err() != nil:
			return out, runErr
		case runErr != nil && !agent.IsTransient(runErr):
			return out, runErr
		case runErr != nil:
			// Per-round failure: the Watcher sees it as zero progress and
			// decides whether the budget allows another attempt.
			rec.ExecError = runErr.Error()
			report.Failed = true
		default:
			parsed, perr := schema.DecodeReasoning(res.Stdout)
			if perr != nil {
				rec.ParseError = perr.Error()
				// Keep the raw text so an operator can inspect it; the
				// split only happens once a round parses.
				if uerr := l.tasks.UpdateTaskResult(ctx, task.ID, res.Stdout); uerr != nil {
					return out, uerr
				}
				task.Result = res.Stdout
			} else {
				anyValid = true
				for _, v := range parsed.Vulnerabilities {
					key := normalizeDescription(v.Description)
					if !seen[key] {
						seen[key] = true
						aggregated = append(aggregated, v)
						report.NewFindings++
					}
				}
			}
		}

		decision := watcher.Evaluate(report)
		rec.NewFindings = report.NewFindings
		rec.Decision = decision

		if decision.Decision == schema.DecisionPivot {
			if report.NewFindings > 0 {
				confirmed = append(confirmed, pending...)
			} else {
				refuted = append(refuted, pending...)
			}
			pending = nil

			ideation, ideaDir := l.ideate(ctx, task, workspaceRoot, round, confirmed, refuted, instruction)
			if ideation != nil {
				rec.Ideation = ideation
				rec.IdeationArtifactDir = ideaDir
				pending = append(pending, ideation.NewHypotheses...)
				instruction = mergeInstruction(decision.WatcherInstruction, ideation)
			} else {
				instruction = decision.WatcherInstruction
			}
			trace.Append(rec)
			continue
		}

		trace.Append(rec)
		if decision.Decision == schema.DecisionStop {
			break
		}
		instruction = decision.WatcherInstruction
	}

	trace.SetHypotheses(pending, confirmed, refuted)
	if scanErr := l.tasks.UpdateTaskScanRecord(ctx, task.ID, trace.JSON()); scanErr != nil {
		l.logger.Warn("scan record write failed", "task_id", task.ID, "error", scanErr)
	}

	if !anyValid {
		// Every round failed or produced unparseable output: result keeps
		// the raw text (if any), short_result stays empty, the next run
		// re-attempts.
		out.Findings = 0
		l.logger.Warn("reasoning produced no valid round", "task_id", task.ID, "rounds", out.Rounds)
		return out, nil
	}

	result := &schema.ReasoningResult{
		SchemaVersion:   schema.ReasoningVersion,
		Vulnerabilities: aggregated,
	}
	if result.Vulnerabilities == nil {
		result.Vulnerabilities = []schema.Vulnerability{}
	}
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return out, err
	}
	if err := l.tasks.UpdateTaskResult(ctx, task.ID, string(resultJSON)); err != nil {
		return out, err
	}
	task.Result = string(resultJSON)

	out.Findings = len(result.Vulnerabilities)
	err = l.split(ctx, task, result)
	out.SplitDone = err == nil
	return out, err
}

// ideate invokes the Ideator on pivot. Failures are non-fatal: the loop
// pivots on the Watcher's generic instruction instead.
func (l *Loop) ideate(ctx context.Context, task *store.Task, workspaceRoot string, round int, confirmed, refuted []string, lastInstruction string) (*schema.IdeatorResult, string) {
	ideatorPrompt, err := prompt.Ideator(task.RuleKey, lastInstruction, confirmed, refuted, nil)
	if err != nil {
		return nil, ""
	}
	res, err := l.runner.Run(ctx, agent.Request{
		WorkspaceRoot: workspaceRoot,
		Prompt:        ideatorPrompt,
		TimeoutSec:    l.config.TimeoutSec,
		Stage:         "reason",
		ProjectID:     task.ProjectID,
		Scope:         taskScope(task),
		Call:          fmt.Sprintf("ideate-%d", round),
	})
	if err != nil {
		l.logger.Warn("ideator call failed", "task_id", task.ID, "error", err)
		return nil, ""
	}
	ideation, perr := schema.DecodeIdeator(res.Stdout)
	if perr != nil {
		l.logger.Warn("ideator output failed to parse", "task_id", task.ID, "error", perr)
		return nil, res.ArtifactDir
	}
	return ideation, res.ArtifactDir
}

// split replaces the task's findings with one row per vulnerability, in
// one transaction, then marks the split outcome. Safe to re-run: the
// delete-then-insert yields the same set for the same result.
func (l *Loop) split(ctx context.Context, task *store.Task, result *schema.ReasoningResult) error {
	findings := make([]*store.Finding, 0, len(result.Vulnerabilities))
	for _, v := range result.Vulnerabilities {
		findingJSON, err := schema.SingleVulnerabilityJSON(v)
		if err != nil {
			return l.failSplit(ctx, task, fmt.Errorf("render finding: %w", err))
		}
		f := &store.Finding{UUID: uuid.NewString(), FindingJSON: findingJSON}
		f.SnapshotFrom(task)
		findings = append(findings, f)
	}

	if err := l.tasks.ReplaceTaskFindings(ctx, task.ID, findings); err != nil {
		return l.failSplit(ctx, task, err)
	}
	if err := l.tasks.SetTaskShortResult(ctx, task.ID, store.ShortResultSplitDone); err != nil {
		return err
	}
	task.ShortResult = store.ShortResultSplitDone
	return nil
}

func (l *Loop) failSplit(ctx context.Context, task *store.Task, err error) error {
	if serr := l.tasks.SetTaskShortResult(ctx, task.ID, store.ShortResultSplitFailed); serr != nil {
		l.logger.Error("recording split failure failed", "task_id", task.ID, "error", serr)
	} else {
		task.ShortResult = store.ShortResultSplitFailed
	}
	return err
}

// taskScope names the artifact subdirectory for a task.
func taskScope(task *store.Task) string {
	if task.UUID != "" {
		return "task-" + task.UUID
	}
	return fmt.Sprintf("task-%d", task.ID)
}

// checklistFromRule pulls the checklist items out of the task's rule JSON.
func checklistFromRule(rule string) []string {
	var doc struct {
		Checklist []string `json:"checklist"`
	}
	if err := json.Unmarshal([]byte(rule), &doc); err != nil {
		return nil
	}
	return doc.Checklist
}

// normalizeDescription is the duplicate key for descriptions across rounds.
func normalizeDescription(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// mergeInstruction folds Ideator probes into the Watcher's pivot
// instruction.
func mergeInstruction(base string, ideation *schema.IdeatorResult) string {
	var b strings.Builder
	b.WriteString(base)
	if len(ideation.NewHypotheses) > 0 {
		b.WriteString("\nHypotheses to examine:")
		for _, h := range ideation.NewHypotheses {
			b.WriteString("\n- ")
			b.WriteString(h)
		}
	}
	if len(ideation.SuggestedProbes) > 0 {
		b.WriteString("\nProbes to run:")
		for _, p := range ideation.SuggestedProbes {
			b.WriteString("\n- ")
			b.WriteString(p)
		}
	}
	if len(ideation.ExpectedEvidence) > 0 {
		b.WriteString("\nEvidence that would confirm:")
		for _, e := range ideation.ExpectedEvidence {
			b.WriteString("\n- ")
			b.WriteString(e)
		}
	}
	return b.String()
}
