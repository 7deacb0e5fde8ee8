// Package prompt assembles every prompt sent to the analysis agent:
// planning extraction (P0-P2), coverage repair (P3-P5), the reasoning
// roles, and finding validation. Builders validate their inputs and fail
// with *AssemblyError instead of emitting a truncated or empty prompt.
package prompt

import "fmt"

// maxPromptBytes bounds assembled prompt size. The agent CLI takes the
// prompt as an argv element, so oversized bundles must be rejected here
// rather than fail opaquely at exec time.
const maxPromptBytes = 4 << 20

// AssemblyError reports prompt inputs that are missing or too large.
type AssemblyError struct {
	Prompt string
	Reason string
}

func (e *AssemblyError) Error() string {
	return fmt.Sprintf("prompt %s: %s", e.Prompt, e.Reason)
}

// checkSize guards the assembled prompt length.
func checkSize(name, assembled string) (string, error) {
	if len(assembled) > maxPromptBytes {
		return "", &AssemblyError{Prompt: name,
			Reason: fmt.Sprintf("assembled prompt is %d bytes, limit %d", len(assembled), maxPromptBytes)}
	}
	return assembled, nil
}
