package prompt

import (
	"fmt"
	"strings"
)

// P0Initial builds the first-round extraction prompt: business-flow groups
// (Gi) and flows (Fi) drawn strictly from the function catalog.
func P0Initial(catalogIdentities []string) (string, error) {
	if len(catalogIdentities) == 0 {
		return "", &AssemblyError{Prompt: "P0", Reason: "empty function catalog"}
	}

	var b strings.Builder
	b.WriteString(`You are a business-flow extraction assistant. Based on the repository in the
current working directory, extract the project's business flows and
business-flow groups as comma-separated "Contract.function" lists.
Different business-flow modules may live in the same file; one function may
belong to several groups.

Output must be iterable:
- Give every business-flow group a stable ID: G1, G2, ...
- Give every business flow a stable ID: F1, F2, ...
- Later rounds must reference these IDs; never renumber existing IDs.

Function naming rules:
- Object-style code: ContractOrClass.functionName
- Overloads must carry a parameter-type signature: Contract.func(type1,type2)
- Constructor/receive/fallback are written Contract.constructor /
  Contract.receive / Contract.fallback

First-round output:
1) Business-flow groups, one line per group:
   Gi group name: ContractA.func1, ContractA.func2, ContractB.func3 ...
   Each list must include external entry points, key shared internal
   pipeline functions, and cross-contract dependency points.
2) Business flows, one line per flow:
   Fi flow name (groups: Gx,...): ContractA.func1, ContractB.func2 ...
   A flow spanning several contracts lists every function on the same line.
3) A completeness checklist naming likely-missed categories
   (create/update, pause, single/batch, inflow/outflow, signature/merkle/
   permission checks, time windows, caps, pagination, events, upgrade/
   initialization, cross-chain assumptions), marking uncovered items
   "needs second round".

Available function catalog (use these names verbatim):
- You MUST pick function names from this catalog with exact string match.
- Do NOT output any function absent from the catalog (no external
  interfaces, library functions, or system contracts).
- Do NOT list constants, state variables, or event names as functions.
- Do NOT output bare function names; always use the full catalog form.

`)
	for _, id := range catalogIdentities {
		b.WriteString(id)
		b.WriteString("\n")
	}
	return checkSize("P0", b.String())
}

// P1Incremental builds the second-round augmentation prompt: only new (+)
// or corrected (~) lines referencing the existing IDs.
func P1Incremental(previousOutput string) (string, error) {
	if strings.TrimSpace(previousOutput) == "" {
		return "", &AssemblyError{Prompt: "P1", Reason: "missing previous round output"}
	}

	assembled := fmt.Sprintf(`Based on your previous Gi/Fi output, perform an incremental completion pass.
Output only added or corrected lines; do not repeat lines that are already
complete.

1) Prioritize the categories with highest omission risk:
   permissions/governance (set*/role/upgrade), allowlists, signature and
   merkle validation branches, time windows/lockups/caps, pagination and
   query flows, refunds/fees/withdrawals, events, cross-chain assumptions.

2) Output format (must reference existing IDs; new lines start with +,
   corrections with ~):
   + Gi group name: Contract.func, Contract.func ...
   ~ Fi flow name (groups: Gx,...): Contract.func, Contract.func ...

3) If a function belongs to more Gi/Fi than currently recorded, correct
   only the affected line with ~.

4) Finish with the completeness checklist again, marking items still
   uncovered.

====================
Previous round output (for incremental completion):
%s`, previousOutput)
	return checkSize("P1", assembled)
}

// P2FinalJSON builds the convergence prompt: a single strict JSON object in
// the business_flow_planning_v1 schema. strict adds a reminder after a
// parse failure.
func P2FinalJSON(p0Output, p1Delta string, strict bool) (string, error) {
	if strings.TrimSpace(p0Output) == "" {
		return "", &AssemblyError{Prompt: "P2", Reason: "missing P0 output"}
	}

	var reminder string
	if strict {
		reminder = `
REMINDER: your previous answer failed JSON parsing. Respond with exactly one
JSON object and nothing else: no markdown fences, no comments, no trailing
commas, no prose before or after the object.
`
	}

	assembled := fmt.Sprintf(`Produce the FINAL full list of business flows (Fi) as JSON for machine
parsing and persistence.
%s
Inputs:
1) First-round output (P0)
%s

2) Incremental output (P1, only +/~ lines)
%s

Output requirements (output JSON only, no extra text):
A single JSON object strictly matching:
{
  "schema_version": "business_flow_planning_v1",
  "groups": [{"group_id":"G1","group_name":"string","functions":["Contract.func"]}],
  "flows": [
    {
      "flow_id": "F1",
      "flow_name": "string",
      "group_ids": ["G1"],
      "function_refs": ["Contract.func", "Contract._internalFunc"]
    }
  ]
}

Rules:
- Merge every + and ~ line into the final state; keep all existing IDs.
- function_refs must be catalog names verbatim; drop anything else.
- Every flow needs at least one group_id and one function_ref.`, reminder, p0Output, p1Delta)
	return checkSize("P2", assembled)
}
