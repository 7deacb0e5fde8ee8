package agent

import (
	"errors"
	"fmt"
)

// ExecError reports an agent invocation that exited non-zero or failed on
// I/O. Captured streams travel with the error for the caller's record.
type ExecError struct {
	Stage       string
	ExitCode    int
	Stderr      string
	ArtifactDir string
	Err         error
}

func (e *ExecError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("agent %s: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("agent %s: exit code %d", e.Stage, e.ExitCode)
}

func (e *ExecError) Unwrap() error { return e.Err }

// TimeoutError reports an agent invocation that breached its deadline. The
// subprocess was terminated (then killed after the grace period) and the
// partial capture remains in ArtifactDir.
type TimeoutError struct {
	Stage       string
	TimeoutSec  int
	Stdout      string
	Stderr      string
	ArtifactDir string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("agent %s: timed out after %ds", e.Stage, e.TimeoutSec)
}

// IsTimeout reports whether err is an agent timeout.
func IsTimeout(err error) bool {
	var t *TimeoutError
	return errors.As(err, &t)
}

// IsTransient reports whether a failed invocation is worth another round.
// Timeouts and non-zero exits are transient from the loop's point of view:
// the Watcher may retry, pivot, or stop per budget. A missing binary or an
// unwritable artifact dir is not.
func IsTransient(err error) bool {
	if IsTimeout(err) {
		return true
	}
	var e *ExecError
	if errors.As(err, &e) {
		return e.Err == nil
	}
	return false
}
