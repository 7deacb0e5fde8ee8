package prompt

import (
	"fmt"
	"strings"
)

// Reasoner builds the vulnerability-mining prompt for one round: the task's
// business-flow code crossed with one rule key's checklist, steered by the
// Watcher's current instruction.
func Reasoner(code, ruleKey string, ruleList []string, watcherInstruction string) (string, error) {
	if strings.TrimSpace(code) == "" {
		return "", &AssemblyError{Prompt: "reasoner", Reason: "empty business flow code"}
	}

	var checklist strings.Builder
	for i, item := range ruleList {
		fmt.Fprintf(&checklist, "%d. %s\n", i+1, item)
	}
	if checklist.Len() == 0 {
		checklist.WriteString("1. Assess the code for high-confidence exploitable vulnerabilities.\n")
	}

	var steering string
	if strings.TrimSpace(watcherInstruction) != "" {
		steering = fmt.Sprintf("\n# Focus For This Round\n%s\n", watcherInstruction)
	}

	assembled := fmt.Sprintf(`# Role
You are a senior smart contract / blockchain security auditor.

# Task
Perform a careful vulnerability assessment of the provided code using the
checklist below. Be neutral: vulnerabilities may or may not exist.
%s
# Checklist (%s)
%s
# Hard Requirements
- Only report vulnerabilities that are high confidence and would cause real harm.
- Do NOT report intended design, best-practice suggestions, or hypothetical
  risks without exploitability.
- Evidence MUST come from the provided code: each description must state the
  trigger conditions, the impact, concrete evidence locators (function,
  file, key statement), and why it is not a false positive.
- Output MUST be a single JSON object matching the schema below. Output JSON only.
- If you find multiple distinct high-confidence vulnerabilities, include ALL
  of them as separate items (up to 5). Do NOT stop after the first.

# Output JSON Schema (MUST match exactly)
{
  "schema_version": "1.0",
  "vulnerabilities": [{"description": "string"}]
}

# Notes
- "vulnerabilities" MUST be an array and MAY be empty if no high-confidence
  vulnerabilities exist.
- Keep each description around 100-200 English words.

# Code
%s`, steering, ruleKey, checklist.String(), code)
	return checkSize("reasoner", assembled)
}

// Ideator builds the pivot prompt: turn stalled reasoning into fresh,
// executable probes. Each suggestion must name a concrete keyword, file, or
// variable.
func Ideator(ruleKey, lastInstruction string, confirmed, refuted, pending []string) (string, error) {
	assembled := fmt.Sprintf(`# Role
You are the ideation partner of a smart-contract audit loop that has
stopped making progress under rule set %q.

# Current State
Last instruction given to the auditor:
%s

Confirmed hypotheses:
%s

Refuted hypotheses:
%s

Pending hypotheses:
%s

# Task
Propose genuinely different attack directions. Every item must be
executable: name a concrete keyword to search, a file to open, or a
variable/function to trace. Do not restate refuted hypotheses.

# Output JSON Schema (MUST match exactly; output JSON only)
{
  "new_hypotheses": ["string"],
  "suggested_probes": ["string"],
  "expected_evidence": ["string"]
}`,
		ruleKey, orNone(lastInstruction),
		bulleted(confirmed), bulleted(refuted), bulleted(pending))
	return checkSize("ideator", assembled)
}

func orNone(s string) string {
	if strings.TrimSpace(s) == "" {
		return "(none)"
	}
	return s
}

func bulleted(items []string) string {
	if len(items) == 0 {
		return "(none)"
	}
	var b strings.Builder
	for _, it := range items {
		b.WriteString("- ")
		b.WriteString(it)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
