package planning

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/flowaudit/flowaudit/schema"
)

// Group is one business-flow group (Gi) in planning memory.
type Group struct {
	ID        string
	Name      string
	Functions []string
}

// Flow is one business flow (Fi) in planning memory.
type Flow struct {
	ID           string
	Name         string
	GroupIDs     []string
	FunctionRefs []string
}

// Plan is the mutable planning state for one project. IDs are append-only:
// once a Gi or Fi number is allocated it is never recycled or reordered,
// and repair rounds always continue the sequence upward.
type Plan struct {
	Groups []Group
	Flows  []Flow

	groupByID map[string]int
	flowByID  map[string]int
	maxGroup  int
	maxFlow   int
}

// NewPlan creates an empty plan.
func NewPlan() *Plan {
	return &Plan{
		groupByID: make(map[string]int),
		flowByID:  make(map[string]int),
	}
}

// idNumber extracts the numeric suffix of "G12"/"F3"; 0 when absent.
func idNumber(id string) int {
	trimmed := strings.TrimLeft(strings.TrimSpace(id), "GFgf")
	n, err := strconv.Atoi(trimmed)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// NextGroupID returns the next unallocated group ID.
func (p *Plan) NextGroupID() string { return fmt.Sprintf("G%d", p.maxGroup+1) }

// NextFlowID returns the next unallocated flow ID.
func (p *Plan) NextFlowID() string { return fmt.Sprintf("F%d", p.maxFlow+1) }

// addGroup inserts or updates a group. An existing ID updates in place;
// a new ID appends and advances the sequence.
func (p *Plan) addGroup(g Group) {
	if i, ok := p.groupByID[g.ID]; ok {
		if g.Name != "" {
			p.Groups[i].Name = g.Name
		}
		p.Groups[i].Functions = mergeRefs(p.Groups[i].Functions, g.Functions)
		return
	}
	p.groupByID[g.ID] = len(p.Groups)
	p.Groups = append(p.Groups, g)
	if n := idNumber(g.ID); n > p.maxGroup {
		p.maxGroup = n
	}
}

// addFlow inserts or updates a flow, mirroring addGroup.
func (p *Plan) addFlow(f Flow) {
	if i, ok := p.flowByID[f.ID]; ok {
		if f.Name != "" {
			p.Flows[i].Name = f.Name
		}
		p.Flows[i].GroupIDs = mergeRefs(p.Flows[i].GroupIDs, f.GroupIDs)
		p.Flows[i].FunctionRefs = mergeRefs(p.Flows[i].FunctionRefs, f.FunctionRefs)
		return
	}
	p.flowByID[f.ID] = len(p.Flows)
	p.Flows = append(p.Flows, f)
	if n := idNumber(f.ID); n > p.maxFlow {
		p.maxFlow = n
	}
}

// ApplyPlanning adopts the converged P2 result as the initial plan state.
func (p *Plan) ApplyPlanning(res *schema.PlanningResult) {
	for _, g := range res.Groups {
		p.addGroup(Group{ID: strings.TrimSpace(g.GroupID), Name: g.GroupName, Functions: dedupRefs(g.Functions)})
	}
	for _, f := range res.Flows {
		p.addFlow(Flow{
			ID:           strings.TrimSpace(f.FlowID),
			Name:         f.FlowName,
			GroupIDs:     dedupRefs(f.GroupIDs),
			FunctionRefs: dedupRefs(f.FunctionRefs),
		})
	}
}

// MergeRepair folds a P5 delta into the plan. Delta IDs that collide with
// existing IDs, or that do not continue the sequence, are reassigned to the
// next free ID so the append-only invariant holds regardless of what the
// agent produced. Group references inside flows follow the remapping.
func (p *Plan) MergeRepair(res *schema.RepairResult) {
	groupRemap := make(map[string]string)

	for _, g := range res.NewGroups {
		id := strings.TrimSpace(g.GroupID)
		if _, exists := p.groupByID[id]; exists || idNumber(id) <= p.maxGroup {
			newID := p.NextGroupID()
			groupRemap[id] = newID
			id = newID
		}
		p.addGroup(Group{ID: id, Name: g.GroupName, Functions: dedupRefs(g.Functions)})
	}

	for _, f := range res.NewFlows {
		id := strings.TrimSpace(f.FlowID)
		if _, exists := p.flowByID[id]; exists || idNumber(id) <= p.maxFlow {
			id = p.NextFlowID()
		}
		groupIDs := make([]string, 0, len(f.GroupIDs))
		for _, gid := range dedupRefs(f.GroupIDs) {
			if mapped, ok := groupRemap[gid]; ok {
				gid = mapped
			}
			groupIDs = append(groupIDs, gid)
		}
		p.addFlow(Flow{ID: id, Name: f.FlowName, GroupIDs: groupIDs, FunctionRefs: dedupRefs(f.FunctionRefs)})
	}
}

// Overview renders the Gi/Fi lines fed back to repair prompts.
func (p *Plan) Overview() string {
	var b strings.Builder
	for _, g := range p.Groups {
		fmt.Fprintf(&b, "%s %s: %s\n", g.ID, g.Name, strings.Join(g.Functions, ", "))
	}
	for _, f := range p.Flows {
		fmt.Fprintf(&b, "%s %s (groups: %s): %s\n",
			f.ID, f.Name, strings.Join(f.GroupIDs, ","), strings.Join(f.FunctionRefs, ", "))
	}
	return strings.TrimRight(b.String(), "\n")
}

// mergeRefs appends items not yet present, preserving order.
func mergeRefs(base, extra []string) []string {
	seen := make(map[string]bool, len(base))
	for _, r := range base {
		seen[r] = true
	}
	for _, r := range extra {
		r = strings.TrimSpace(r)
		if r == "" || seen[r] {
			continue
		}
		seen[r] = true
		base = append(base, r)
	}
	return base
}

// dedupRefs trims and drops duplicate refs, preserving first occurrence.
func dedupRefs(refs []string) []string {
	return mergeRefs(nil, refs)
}
