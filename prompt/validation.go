package prompt

import (
	"fmt"
	"strings"
)

// Validation builds the finding re-check prompt: an evidence-based agentic
// search confined to the workspace, answering with one strict JSON object
// in the validation_codex_v1 schema.
func Validation(findingJSON, ruleKey, hintFile, hintFunction string) (string, error) {
	if strings.TrimSpace(findingJSON) == "" {
		return "", &AssemblyError{Prompt: "validation", Reason: "empty finding_json"}
	}

	assembled := fmt.Sprintf(`You are a professional smart contract / blockchain security audit
validation expert. Your task is to re-check one candidate vulnerability
finding.

Workspace constraints (must follow):
- Judge only from files under the current working directory; never
  reference or assume code, configuration, or deployment details outside
  it.
- Read-only commands are allowed for search and cross-reference
  (rg/grep/ls/find/cat/sed -n); do not attempt to write files.

Required agentic workflow (multi-step retrieval):
Before concluding, perform at least 3 and at most 10 read-only retrieval
steps:
1) Locate the relevant code from the finding's keywords, function names,
   and file hints.
2) Trace the call chain and key condition branches (callers, callees, key
   state variables).
3) Verify the conditions for the vulnerability (permissions, controllable
   inputs, external call sites, state-update ordering, boundary
   conditions).
4) If documentation exists (README, docs/, spec/, design/, whitepaper,
   audit notes, NatSpec comments), consult it before concluding whether
   behavior is intended design.

Questions to answer (all of them): does this vulnerability exist, is it a
false positive, is it intended design, how severe is the impact, how hard
is exploitation; consult documentation where available.

Output requirements (very important: output JSON only, no markdown, no
extra text). The object must strictly match:
{
  "schema_version": "validation_codex_v1",
  "status": "pending|intended_design|false_positive|vulnerability|vuln_high_cost|vuln_low_impact|not_sure",
  "confidence": "high|medium|low",
  "exists": true,
  "classification": "vulnerability|non_vulnerability|uncertain",
  "impact": "high|medium|low|unknown",
  "exploit_difficulty": "easy|medium|hard|unknown",
  "reason": "2-5 sentences citing the key evidence",
  "evidence": [
    {"file": "relative path", "locator": "function/variable/line range or grep keyword", "snippet": "<= 30 lines (optional)", "why": "how this supports the verdict"}
  ],
  "doc_references": [
    {"file": "relative path", "locator": "section or keyword", "excerpt": "optional quote", "why": "how it shows intended design or impact"}
  ],
  "attack_preconditions": ["empty array if none or uncertain"],
  "attack_path": "exploitation path if a vulnerability, else empty string",
  "mitigation": "1-3 fixes if a vulnerability, else empty string",
  "unknowns": ["if not_sure, list exactly what is missing and what would confirm it"]
}

Verdict calibration (avoid false positives):
- intended_design: the behavior is supported by documentation, comments, or
  explicit logic, and no abusable path causes real damage.
- false_positive: the finding contradicts the code (missing condition,
  unobtainable permission, unreachable entry, uncontrollable variable,
  inverted logic).
- vulnerability: a realistic exploit path exists with concrete damage
  (fund loss, privilege escalation, locked assets, DoS).
- vuln_high_cost: the vulnerability holds but exploitation needs high
  privilege, harsh on-chain conditions, or prohibitive economics.
- vuln_low_impact: the vulnerability holds but the blast radius is small.
- not_sure: retrieval within the workspace was insufficient; unknowns must
  say what is missing.

Candidate finding_json:
%s

Auxiliary hints (may be empty):
rule_key: %s
hint_file: %s
hint_function: %s`,
		findingJSON, ruleKey, hintFile, hintFunction)
	return checkSize("validation", assembled)
}
