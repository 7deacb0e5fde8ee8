// Package agent launches the external analysis CLI as a sandboxed
// subprocess. Every call runs with its working directory fixed to a
// validated workspace root, approval forced to never, and a full capture of
// prompt, stdout, and stderr under the logs tree.
package agent

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
)

// Sandbox modes accepted by the agent CLI.
const (
	SandboxReadOnly       = "read-only"
	SandboxWorkspaceWrite = "workspace-write"
)

// killGrace is how long a timed-out subprocess gets between SIGTERM and
// SIGKILL.
const killGrace = 10 * time.Second

// Settings configures the agent binary. Captured once at startup; there is
// no other global state.
type Settings struct {
	// Bin is the agent CLI binary.
	Bin string
	// Model passed via -m; empty uses the CLI's default.
	Model string
	// Sandbox is the default sandbox mode for calls that do not override it.
	Sandbox string
	// TimeoutSec is the default per-call deadline.
	TimeoutSec int
	// ExtraConfig entries are forwarded as --config key=value pairs.
	ExtraConfig []string
}

// DefaultSettings mirrors the agent CLI's batch defaults.
func DefaultSettings() Settings {
	return Settings{
		Bin:        "codex",
		Sandbox:    SandboxReadOnly,
		TimeoutSec: 1800,
	}
}

// Request describes one agent invocation.
type Request struct {
	// WorkspaceRoot is the validated project root; the subprocess cannot
	// see anything outside it.
	WorkspaceRoot string
	Prompt        string

	// Sandbox overrides the default mode; workspace-write is only ever set
	// when PoC execution is enabled.
	Sandbox string

	// TimeoutSec overrides the default deadline when positive.
	TimeoutSec int

	// Env entries are appended to the subprocess environment.
	Env []string

	// Stage, ProjectID, Scope, and Call place the artifact capture under
	// logs/<stage>_<project_id>_<ts>/<scope>/<call>/.
	Stage     string
	ProjectID string
	Scope     string
	Call      string
}

// Result is the outcome of one agent invocation.
type Result struct {
	Stdout      string
	Stderr      string
	ExitCode    int
	StartedAt   time.Time
	FinishedAt  time.Time
	ArtifactDir string
	// ExitMode is ok, timeout, or error.
	ExitMode string
}

// Executor runs agent subprocesses. Safe for concurrent use; every call
// spawns exactly one subprocess, reaped before return, writing to its own
// artifact directory.
type Executor struct {
	settings Settings
	logsRoot string
	logger   *slog.Logger

	mu      sync.Mutex
	runDirs map[string]string
}

// NewExecutor creates an executor writing artifacts under logsRoot.
func NewExecutor(settings Settings, logsRoot string, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	if settings.Bin == "" {
		settings.Bin = "codex"
	}
	if settings.Sandbox == "" {
		settings.Sandbox = SandboxReadOnly
	}
	return &Executor{
		settings: settings,
		logsRoot: logsRoot,
		logger:   logger,
		runDirs:  make(map[string]string),
	}
}

// Run executes one agent call. The returned error is nil only for a clean
// zero exit; timeouts surface as *TimeoutError and everything else as
// *ExecError, both alongside whatever Result could be captured.
func (x *Executor) Run(ctx context.Context, req Request) (*Result, error) {
	info, err := os.Stat(req.WorkspaceRoot)
	if err != nil {
		return nil, &ExecError{Stage: req.Stage, Err: fmt.Errorf("workspace root: %w", err)}
	}
	if !info.IsDir() {
		return nil, &ExecError{Stage: req.Stage, Err: fmt.Errorf("workspace root is not a directory: %s", req.WorkspaceRoot)}
	}

	artifactDir, err := x.artifactDir(req)
	if err != nil {
		return nil, &ExecError{Stage: req.Stage, Err: err}
	}
	if err := os.WriteFile(filepath.Join(artifactDir, "prompt"), []byte(req.Prompt), 0o644); err != nil {
		return nil, &ExecError{Stage: req.Stage, ArtifactDir: artifactDir, Err: fmt.Errorf("write prompt: %w", err)}
	}

	sandbox := req.Sandbox
	if sandbox == "" {
		sandbox = x.settings.Sandbox
	}
	timeoutSec := req.TimeoutSec
	if timeoutSec <= 0 {
		timeoutSec = x.settings.TimeoutSec
	}

	ctx, cancel := context.WithTimeout(ctx, time.Duration(timeoutSec)*time.Second)
	defer cancel()

	args := []string{"--ask-for-approval", "never", "exec"}
	if x.settings.Model != "" {
		args = append(args, "-m", x.settings.Model)
	}
	args = append(args, "-s", sandbox, "--skip-git-repo-check", "--cd", req.WorkspaceRoot)
	for _, c := range x.settings.ExtraConfig {
		args = append(args, "--config", c)
	}
	args = append(args, req.Prompt)

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, x.settings.Bin, args...)
	cmd.Dir = req.WorkspaceRoot
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if len(req.Env) > 0 {
		cmd.Env = append(os.Environ(), req.Env...)
	}
	// Terminate first so the agent can flush; escalate to SIGKILL after the
	// grace period. Wait still reaps the process in both cases.
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = killGrace

	res := &Result{ArtifactDir: artifactDir, StartedAt: time.Now().UTC()}
	runErr := cmd.Run()
	res.FinishedAt = time.Now().UTC()
	res.Stdout = stdout.String()
	res.Stderr = stderr.String()

	if werr := x.writeCapture(artifactDir, res); werr != nil {
		x.logger.Warn("artifact capture failed", "dir", artifactDir, "error", werr)
	}

	switch {
	case ctx.Err() == context.DeadlineExceeded:
		res.ExitMode = "timeout"
		x.logger.Warn("agent call timed out",
			"stage", req.Stage, "project_id", req.ProjectID, "scope", req.Scope, "timeout_sec", timeoutSec)
		return res, &TimeoutError{
			Stage:       req.Stage,
			TimeoutSec:  timeoutSec,
			Stdout:      res.Stdout,
			Stderr:      res.Stderr,
			ArtifactDir: artifactDir,
		}
	case runErr != nil:
		res.ExitMode = "error"
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			res.ExitCode = exitErr.ExitCode()
			return res, &ExecError{
				Stage:       req.Stage,
				ExitCode:    res.ExitCode,
				Stderr:      res.Stderr,
				ArtifactDir: artifactDir,
			}
		}
		return res, &ExecError{Stage: req.Stage, ArtifactDir: artifactDir, Err: runErr}
	default:
		res.ExitMode = "ok"
		x.logger.Debug("agent call finished",
			"stage", req.Stage, "project_id", req.ProjectID, "scope", req.Scope,
			"duration", res.FinishedAt.Sub(res.StartedAt))
		return res, nil
	}
}

// artifactDir builds logs/<stage>_<project_id>_<ts>/<scope>/<call>/. The
// stage directory timestamp is allocated once per (stage, project) so all
// calls of one stage run land together; the call segment is unique per
// invocation.
func (x *Executor) artifactDir(req Request) (string, error) {
	key := req.Stage + "\x00" + req.ProjectID

	x.mu.Lock()
	base, ok := x.runDirs[key]
	if !ok {
		base = filepath.Join(x.logsRoot,
			fmt.Sprintf("%s_%s_%s", req.Stage, req.ProjectID, time.Now().UTC().Format("20060102T150405Z")))
		x.runDirs[key] = base
	}
	x.mu.Unlock()

	call := req.Call
	if call == "" {
		call = uuid.NewString()[:8]
	}
	dir := filepath.Join(base, req.Scope, call)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create artifact dir: %w", err)
	}
	return dir, nil
}

// writeCapture persists the full streams, fsynced so cancellation cannot
// lose them.
func (x *Executor) writeCapture(dir string, res *Result) error {
	for name, data := range map[string]string{"stdout": res.Stdout, "stderr": res.Stderr} {
		f, err := os.Create(filepath.Join(dir, name))
		if err != nil {
			return err
		}
		if _, err := f.WriteString(data); err != nil {
			f.Close()
			return err
		}
		if err := f.Sync(); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
	}
	return nil
}
