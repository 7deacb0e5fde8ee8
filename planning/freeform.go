package planning

import (
	"regexp"
	"strings"

	"github.com/flowaudit/flowaudit/schema"
)

// Freeform Gi/Fi line patterns produced by P0/P1. P1 prefixes additions
// with + and corrections with ~.
var (
	groupLinePattern = regexp.MustCompile(`^[+~]?\s*(G\d+)\s+([^:：]+)[:：]\s*(.+)$`)
	flowLinePattern  = regexp.MustCompile(`^[+~]?\s*(F\d+)\s+(.+?)\s*[(（](?:groups?|归属)[:：]\s*([^)）]+)[)）]\s*[:：]\s*(.+)$`)
)

// ParseFreeform recovers a plan snapshot from the structured lines of the
// P0 and P1 rounds. It is the fallback when P2 convergence fails twice:
// lossier than the JSON path (relation lines and checklists are ignored)
// but keeps the planning run alive with whatever Gi/Fi lines parse.
func ParseFreeform(outputs ...string) *schema.PlanningResult {
	res := &schema.PlanningResult{SchemaVersion: schema.PlanningVersion}
	groupIdx := make(map[string]int)
	flowIdx := make(map[string]int)

	for _, out := range outputs {
		for _, line := range strings.Split(out, "\n") {
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}

			if m := flowLinePattern.FindStringSubmatch(line); m != nil {
				flow := schema.Flow{
					FlowID:       m[1],
					FlowName:     strings.TrimSpace(m[2]),
					GroupIDs:     splitRefList(m[3]),
					FunctionRefs: splitRefList(m[4]),
				}
				if i, ok := flowIdx[flow.FlowID]; ok {
					res.Flows[i] = flow
				} else {
					flowIdx[flow.FlowID] = len(res.Flows)
					res.Flows = append(res.Flows, flow)
				}
				continue
			}

			if m := groupLinePattern.FindStringSubmatch(line); m != nil {
				group := schema.Group{
					GroupID:   m[1],
					GroupName: strings.TrimSpace(m[2]),
					Functions: splitRefList(m[3]),
				}
				if i, ok := groupIdx[group.GroupID]; ok {
					res.Groups[i] = group
				} else {
					groupIdx[group.GroupID] = len(res.Groups)
					res.Groups = append(res.Groups, group)
				}
			}
		}
	}
	return res
}

func splitRefList(s string) []string {
	parts := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == '，' })
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
