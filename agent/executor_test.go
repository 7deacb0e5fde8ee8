package agent

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubAgent writes a shell script standing in for the agent CLI. It echoes
// the marker on stdout and exits with the given code; a positive sleep
// simulates a hung agent.
func stubAgent(t *testing.T, marker string, exitCode int, sleepSec int) Settings {
	t.Helper()
	dir := t.TempDir()
	bin := filepath.Join(dir, "codex")
	script := "#!/bin/sh\n"
	if sleepSec > 0 {
		script += "sleep " + itoa(sleepSec) + "\n"
	}
	script += "echo " + marker + "\n"
	script += "echo warn >&2\n"
	script += "exit " + itoa(exitCode) + "\n"
	require.NoError(t, os.WriteFile(bin, []byte(script), 0o755))

	s := DefaultSettings()
	s.Bin = bin
	s.TimeoutSec = 30
	return s
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := ""
	for n > 0 {
		digits = string(rune('0'+n%10)) + digits
		n /= 10
	}
	return digits
}

func TestRunCapturesStreams(t *testing.T) {
	workspace := t.TempDir()
	logs := t.TempDir()
	x := NewExecutor(stubAgent(t, "hello", 0, 0), logs, nil)

	res, err := x.Run(context.Background(), Request{
		WorkspaceRoot: workspace,
		Prompt:        "analyze",
		Stage:         "reason",
		ProjectID:     "p1",
		Scope:         "task-1",
		Call:          "round-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", res.ExitMode)
	assert.Contains(t, res.Stdout, "hello")
	assert.Contains(t, res.Stderr, "warn")
	assert.Equal(t, 0, res.ExitCode)
	assert.False(t, res.FinishedAt.Before(res.StartedAt))

	// prompt/stdout/stderr land in the artifact dir
	prompt, err := os.ReadFile(filepath.Join(res.ArtifactDir, "prompt"))
	require.NoError(t, err)
	assert.Equal(t, "analyze", string(prompt))
	stdout, err := os.ReadFile(filepath.Join(res.ArtifactDir, "stdout"))
	require.NoError(t, err)
	assert.Contains(t, string(stdout), "hello")

	// layout: logs/<stage>_<project_id>_<ts>/<scope>/<call>
	rel, err := filepath.Rel(logs, res.ArtifactDir)
	require.NoError(t, err)
	assert.Regexp(t, `^reason_p1_\d{8}T\d{6}Z/task-1/round-1$`, filepath.ToSlash(rel))
}

func TestRunNonZeroExit(t *testing.T) {
	x := NewExecutor(stubAgent(t, "boom", 3, 0), t.TempDir(), nil)

	res, err := x.Run(context.Background(), Request{
		WorkspaceRoot: t.TempDir(),
		Prompt:        "p",
		Stage:         "validate",
		ProjectID:     "p1",
		Scope:         "f-1",
	})
	var execErr *ExecError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, 3, execErr.ExitCode)
	assert.Equal(t, "error", res.ExitMode)
	assert.Contains(t, res.Stdout, "boom")
	assert.True(t, IsTransient(err))
}

func TestRunTimeout(t *testing.T) {
	s := stubAgent(t, "late", 0, 30)
	s.TimeoutSec = 1
	x := NewExecutor(s, t.TempDir(), nil)

	start := time.Now()
	res, err := x.Run(context.Background(), Request{
		WorkspaceRoot: t.TempDir(),
		Prompt:        "p",
		Stage:         "reason",
		ProjectID:     "p1",
		Scope:         "task-1",
	})
	var timeoutErr *TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.Equal(t, 1, timeoutErr.TimeoutSec)
	assert.Equal(t, "timeout", res.ExitMode)
	assert.NotEmpty(t, res.ArtifactDir)
	// Terminated promptly, well before the stub's 30s sleep.
	assert.Less(t, time.Since(start), 20*time.Second)
	assert.True(t, IsTransient(err))
}

func TestRunMissingWorkspace(t *testing.T) {
	x := NewExecutor(stubAgent(t, "x", 0, 0), t.TempDir(), nil)

	_, err := x.Run(context.Background(), Request{
		WorkspaceRoot: filepath.Join(t.TempDir(), "nope"),
		Prompt:        "p",
		Stage:         "plan",
		ProjectID:     "p1",
	})
	var execErr *ExecError
	require.ErrorAs(t, err, &execErr)
	assert.False(t, IsTransient(err))
}

func TestConcurrentCallsGetUniqueArtifactDirs(t *testing.T) {
	workspace := t.TempDir()
	x := NewExecutor(stubAgent(t, "ok", 0, 0), t.TempDir(), nil)

	dirs := make(chan string, 4)
	for i := 0; i < 4; i++ {
		go func() {
			res, err := x.Run(context.Background(), Request{
				WorkspaceRoot: workspace,
				Prompt:        "p",
				Stage:         "reason",
				ProjectID:     "p1",
				Scope:         "task-1",
			})
			require.NoError(t, err)
			dirs <- res.ArtifactDir
		}()
	}

	seen := map[string]bool{}
	for i := 0; i < 4; i++ {
		d := <-dirs
		assert.False(t, seen[d], "artifact dir reused: %s", d)
		seen[d] = true
	}
}

