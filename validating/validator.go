// Package validating re-checks split-out findings with an evidence-based
// agent pass and writes the verdict enum plus a full call record onto each
// finding.
package validating

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/flowaudit/flowaudit/agent"
	"github.com/flowaudit/flowaudit/prompt"
	"github.com/flowaudit/flowaudit/schema"
	"github.com/flowaudit/flowaudit/store"
)

// RecordVersion identifies the validation_record layout.
const RecordVersion = "validation_record_v1"

// agentRunner is the slice of the executor the validator needs.
type agentRunner interface {
	Run(ctx context.Context, req agent.Request) (*agent.Result, error)
}

// findingStore is the slice of the store the validator needs.
type findingStore interface {
	MarkExactDuplicateFindings(ctx context.Context, projectID string) (int, error)
	ListFindingsForValidation(ctx context.Context, projectID string) ([]store.Finding, error)
	UpdateFindingValidation(ctx context.Context, findingID int64, status, record string) error
}

// Validator drives the validation stage for one project.
type Validator struct {
	config   Config
	runner   agentRunner
	findings findingStore
	logger   *slog.Logger
}

// NewValidator validates the configuration and constructs a validator.
func NewValidator(config Config, runner agentRunner, findings findingStore, logger *slog.Logger) (*Validator, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validation config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Validator{config: config, runner: runner, findings: findings, logger: logger}, nil
}

// Outcome summarizes a validation pass over one project.
type Outcome struct {
	ProjectID    string
	Deduplicated int
	Candidates   int
	Validated    int
	Errors       int
	ByStatus     map[string]int
}

// callRecord is the validation_record JSON stored per finding. The full
// stdout/stderr capture stays in the artifact directory; the record keeps
// the raw final text so a verdict can be audited without the filesystem.
type callRecord struct {
	SchemaVersion string                   `json:"schema_version"`
	Sandbox       string                   `json:"sandbox"`
	WorkspaceRoot string                   `json:"workspace_root"`
	PromptSHA256  string                   `json:"prompt_sha256"`
	StartedAt     time.Time                `json:"started_at"`
	FinishedAt    time.Time                `json:"finished_at"`
	DurationMS    int64                    `json:"duration_ms"`
	ExitMode      string                   `json:"exit_mode,omitempty"`
	ArtifactDir   string                   `json:"artifact_dir,omitempty"`
	RawFinalText  string                   `json:"raw_final_text,omitempty"`
	Parsed        *schema.ValidationResult `json:"parsed,omitempty"`
	ParseError    string                   `json:"parse_error,omitempty"`
	ExecError     string                   `json:"exec_error,omitempty"`
}

// RunProject deduplicates, then validates every eligible finding of a
// project with bounded parallelism. A per-finding failure maps to the
// error status and the pass continues; an infrastructure failure aborts.
func (v *Validator) RunProject(ctx context.Context, projectID, workspaceRoot string) (*Outcome, error) {
	outcome := &Outcome{ProjectID: projectID, ByStatus: make(map[string]int)}

	removed, err := v.findings.MarkExactDuplicateFindings(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("dedup findings: %w", err)
	}
	outcome.Deduplicated = removed

	candidates, err := v.findings.ListFindingsForValidation(ctx, projectID)
	if err != nil {
		return nil, err
	}
	outcome.Candidates = len(candidates)
	if len(candidates) == 0 {
		return outcome, nil
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(v.config.MaxParallel)

	for i := range candidates {
		finding := candidates[i]
		g.Go(func() error {
			status, record, err := v.validateOne(gctx, &finding, workspaceRoot)
			if err != nil {
				return err
			}
			if uerr := v.findings.UpdateFindingValidation(gctx, finding.ID, status, record); uerr != nil {
				return uerr
			}
			mu.Lock()
			outcome.Validated++
			outcome.ByStatus[status]++
			if status == schema.StatusError {
				outcome.Errors++
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return outcome, err
	}

	v.logger.Info("validation finished",
		"project_id", projectID,
		"deduplicated", outcome.Deduplicated,
		"candidates", outcome.Candidates,
		"validated", outcome.Validated,
		"errors", outcome.Errors)
	return outcome, nil
}

// validateOne runs one agent check and maps the output to a status:
// parseable verdict -> its status; unparseable output -> not_sure; failed
// invocation -> error. An infrastructure failure (or cancellation) returns
// an error instead and aborts the pass.
func (v *Validator) validateOne(ctx context.Context, finding *store.Finding, workspaceRoot string) (string, string, error) {
	checkPrompt, err := prompt.Validation(
		finding.FindingJSON,
		finding.RuleKey,
		finding.TaskRelativeFilePath,
		firstFunctionRef(finding.TaskRule),
	)
	if err != nil {
		return "", "", fmt.Errorf("finding %d: %w", finding.ID, err)
	}
	sum := sha256.Sum256([]byte(checkPrompt))

	rec := callRecord{
		SchemaVersion: RecordVersion,
		Sandbox:       agent.SandboxReadOnly,
		WorkspaceRoot: workspaceRoot,
		PromptSHA256:  hex.EncodeToString(sum[:]),
		StartedAt:     time.Now().UTC(),
	}

	res, runErr := v.runner.Run(ctx, agent.Request{
		WorkspaceRoot: workspaceRoot,
		Prompt:        checkPrompt,
		Sandbox:       agent.SandboxReadOnly,
		TimeoutSec:    v.config.TimeoutSec,
		Stage:         "validate",
		ProjectID:     finding.ProjectID,
		Scope:         "finding-" + finding.UUID,
		Call:          "check",
	})
	rec.FinishedAt = time.Now().UTC()
	rec.DurationMS = rec.FinishedAt.Sub(rec.StartedAt).Milliseconds()
	if res != nil {
		rec.ExitMode = res.ExitMode
		rec.ArtifactDir = res.ArtifactDir
		rec.RawFinalText = res.Stdout
		if !res.StartedAt.IsZero() {
			rec.StartedAt = res.StartedAt
			rec.FinishedAt = res.FinishedAt
			rec.DurationMS = res.FinishedAt.Sub(res.StartedAt).Milliseconds()
		}
	}

	var status string
	switch {
	case runErr != nil && ctx.Err() != nil:
		return "", "", runErr
	case runErr != nil && !agent.IsTransient(runErr):
		return "", "", runErr
	case runErr != nil:
		rec.ExecError = runErr.Error()
		status = schema.StatusError
		v.logger.Warn("validation call failed",
			"finding_id", finding.ID, "error", runErr)
	default:
		parsed, perr := schema.DecodeValidation(res.Stdout)
		if perr != nil {
			rec.ParseError = perr.Error()
			status = schema.StatusNotSure
		} else {
			rec.Parsed = parsed
			status = parsed.Status
		}
	}

	record, err := json.Marshal(rec)
	if err != nil {
		return "", "", fmt.Errorf("finding %d: marshal record: %w", finding.ID, err)
	}
	return status, string(record), nil
}

// firstFunctionRef pulls the first function reference out of the task's
// rule JSON as a retrieval hint; empty when absent.
func firstFunctionRef(rule string) string {
	var doc struct {
		FunctionRefs []string `json:"function_refs"`
	}
	if err := json.Unmarshal([]byte(rule), &doc); err != nil || len(doc.FunctionRefs) == 0 {
		return ""
	}
	return doc.FunctionRefs[0]
}
