package reasoning

import (
	"encoding/json"

	"github.com/flowaudit/flowaudit/schema"
)

// TraceVersion identifies the scan_record layout.
const TraceVersion = "reasoning_trace_v1"

// RoundRecord is one loop round in the trace. Full stdout/stderr stay in
// the artifact directory; only the reference is stored.
type RoundRecord struct {
	Round       int    `json:"round"`
	Instruction string `json:"instruction"`
	ArtifactDir string `json:"artifact_dir,omitempty"`
	ExitMode    string `json:"exit_mode,omitempty"`
	NewFindings int    `json:"new_findings"`
	ParseError  string `json:"parse_error,omitempty"`
	ExecError   string `json:"exec_error,omitempty"`

	Decision schema.WatcherDecision `json:"decision"`

	// Ideation is set on pivot rounds.
	Ideation *schema.IdeatorResult `json:"ideation,omitempty"`
	// IdeationArtifactDir references the Ideator call capture.
	IdeationArtifactDir string `json:"ideation_artifact_dir,omitempty"`
}

// Trace is the scan_record JSON for one task.
type Trace struct {
	SchemaVersion string        `json:"schema_version"`
	TaskUUID      string        `json:"task_uuid"`
	ProjectID     string        `json:"project_id"`
	RuleKey       string        `json:"rule_key"`
	Rounds        []RoundRecord `json:"rounds"`

	// Hypotheses is the final state of every Ideator lead the loop tracked.
	Hypotheses []schema.Hypothesis `json:"hypotheses,omitempty"`
}

// NewTrace starts an empty trace for a task.
func NewTrace(taskUUID, projectID, ruleKey string) *Trace {
	return &Trace{
		SchemaVersion: TraceVersion,
		TaskUUID:      taskUUID,
		ProjectID:     projectID,
		RuleKey:       ruleKey,
	}
}

// Append adds one round record.
func (t *Trace) Append(r RoundRecord) {
	r.Round = len(t.Rounds) + 1
	t.Rounds = append(t.Rounds, r)
}

// SetHypotheses records the loop's lead tracking by end state.
func (t *Trace) SetHypotheses(pending, confirmed, refuted []string) {
	t.Hypotheses = nil
	for _, s := range confirmed {
		t.Hypotheses = append(t.Hypotheses, schema.Hypothesis{Statement: s, State: schema.HypothesisConfirmed})
	}
	for _, s := range refuted {
		t.Hypotheses = append(t.Hypotheses, schema.Hypothesis{Statement: s, State: schema.HypothesisRefuted})
	}
	for _, s := range pending {
		t.Hypotheses = append(t.Hypotheses, schema.Hypothesis{Statement: s, State: schema.HypothesisPending})
	}
}

// JSON renders the trace for persistence.
func (t *Trace) JSON() string {
	b, err := json.Marshal(t)
	if err != nil {
		return `{"schema_version":"` + TraceVersion + `","error":"trace marshal failed"}`
	}
	return string(b)
}
