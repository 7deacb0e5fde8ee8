package prompt

import (
	"fmt"
	"strings"
)

// P3RepairBatch builds the per-batch coverage-repair prompt: group one
// batch of uncovered functions into NEW flows only. allowModify opens the
// optional ~ path for existing flows; default planning keeps it off.
func P3RepairBatch(existingOverview string, uncovered []string, nextGroupID, nextFlowID string, targetNewFlows int, allowModify bool) (string, error) {
	if len(uncovered) == 0 {
		return "", &AssemblyError{Prompt: "P3", Reason: "empty uncovered batch"}
	}
	if targetNewFlows <= 0 {
		targetNewFlows = 3
	}

	modifyRule := "- Do NOT modify existing flows: no ~ lines, only new_flows."
	if allowModify {
		modifyRule = "- You MAY extend an existing flow by emitting it under new_flows with its existing flow_id and the full updated function_refs list."
	}

	assembled := fmt.Sprintf(`You are a business-flow completion assistant. A set of flows (Gi/Fi)
already exists, but the functions listed below are not covered by any flow.
Group these uncovered functions by business meaning and produce NEW
business-flow groups and flows to continue planning.

Hard constraints:
- Only use function names from the uncovered list below (exact match).
- No functions outside the list (no external interfaces, library functions,
  or system contracts).
- No constants, state variables, or event names; functions only.
- No bare names; always ContractOrLibrary.func (or with signature).
%s
- Prefer coarser flows: cover more functions with fewer, longer flows.
  Target about %d new flows (fewer is fine, more is not).
- Allocate IDs starting at %s for groups and %s for flows, counting up.

You may use read-only commands (rg/grep/cat/ls) inside the working
directory to confirm functions share a business domain, but function_refs
must still come strictly from the uncovered list.

Existing Gi/Fi overview (to avoid duplicate naming; not referenceable):
%s

Uncovered functions (pick only from here):
%s

Output requirements (output JSON only, no extra text):
A single JSON object strictly matching:
{
  "schema_version": "business_flow_coverage_repair_v1",
  "new_groups": [{"group_id": "%s", "group_name": "string", "functions": ["Contract.func"]}],
  "new_flows": [
    {
      "flow_id": "%s",
      "flow_name": "string",
      "group_ids": ["%s"],
      "function_refs": ["Contract.func"]
    }
  ]
}

Additional rules:
- new_flows must be non-empty; new_groups may be an empty array.
- Every function_refs item must come from the uncovered list; when unsure,
  leave the function out.`,
		modifyRule, targetNewFlows, nextGroupID, nextFlowID,
		existingOverview, strings.Join(uncovered, "\n"),
		nextGroupID, nextFlowID, nextGroupID)
	return checkSize("P3", assembled)
}

// P4Residual builds the incremental repair pass over functions still
// uncovered after the batch round.
func P4Residual(previousRepairOutput string, residual []string) (string, error) {
	if len(residual) == 0 {
		return "", &AssemblyError{Prompt: "P4", Reason: "empty residual set"}
	}

	assembled := fmt.Sprintf(`Some functions remain uncovered after your previous repair round. Do one
more incremental pass: attach each remaining function to one of the flows
you just proposed, or group leftovers into at most two further new flows.
The same hard constraints apply: exact names from the list below only, no
~ corrections to older flows, coarser is better.

Previous repair output:
%s

Still uncovered:
%s

Output only +/new lines in the same Gi/Fi line format as before; a later
round converges them to JSON.`, previousRepairOutput, strings.Join(residual, "\n"))
	return checkSize("P4", assembled)
}

// P5RepairJSON builds the repair convergence prompt producing the
// business_flow_coverage_repair_v1 delta. strict adds a reminder after a
// parse failure.
func P5RepairJSON(p3Output, p4Output, nextGroupID, nextFlowID string, strict bool) (string, error) {
	if strings.TrimSpace(p3Output) == "" {
		return "", &AssemblyError{Prompt: "P5", Reason: "missing repair round output"}
	}

	var reminder string
	if strict {
		reminder = `
REMINDER: your previous answer failed JSON parsing. Respond with exactly one
JSON object and nothing else: no markdown fences, no comments, no trailing
commas, no prose before or after the object.
`
	}

	assembled := fmt.Sprintf(`Converge the repair rounds below into a single JSON delta for machine
parsing.
%s
Batch repair output:
%s

Residual pass output:
%s

Output requirements (output JSON only, no extra text):
A single JSON object strictly matching:
{
  "schema_version": "business_flow_coverage_repair_v1",
  "new_groups": [{"group_id": "%s", "group_name": "string", "functions": ["Contract.func"]}],
  "new_flows": [{"flow_id": "%s", "flow_name": "string", "group_ids": ["%s"], "function_refs": ["Contract.func"]}]
}

Rules:
- IDs must start at %s / %s and increase; never reuse an earlier ID.
- new_flows must be non-empty.`,
		reminder, p3Output, p4Output,
		nextGroupID, nextFlowID, nextGroupID, nextGroupID, nextFlowID)
	return checkSize("P5", assembled)
}
