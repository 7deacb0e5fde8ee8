package schema

// Watcher decisions. The Watcher is a deterministic budget controller; its
// outputs are serialized into the reasoning trace in this shape so any
// round can be replayed from scan_record.
const (
	DecisionContinue = "continue"
	DecisionPivot    = "pivot"
	DecisionStop     = "stop"
)

// Budget is the Watcher's rolling allowance for the remainder of a task.
type Budget struct {
	MaxMoreRounds    int `json:"max_more_rounds"`
	TimeLimitSec     int `json:"time_limit_sec"`
	NoProgressRounds int `json:"no_progress_rounds"`
}

// WatcherDecision is one Watcher evaluation appended to the trace.
type WatcherDecision struct {
	Decision           string `json:"decision"`
	Reason             string `json:"reason"`
	BudgetNext         Budget `json:"budget_next"`
	WatcherInstruction string `json:"watcher_instruction"`
}

// Hypothesis states.
const (
	HypothesisPending   = "pending"
	HypothesisConfirmed = "confirmed"
	HypothesisRefuted   = "refuted"
)

// Hypothesis is one vulnerability lead tracked across reasoning rounds.
type Hypothesis struct {
	Statement string `json:"statement"`
	// State is pending, confirmed, or refuted.
	State string `json:"state"`
}

// IdeatorResult is the agent's pivot output: fresh leads with concrete,
// executable probes (a keyword, file, or variable each).
type IdeatorResult struct {
	NewHypotheses    []string `json:"new_hypotheses"`
	SuggestedProbes  []string `json:"suggested_probes"`
	ExpectedEvidence []string `json:"expected_evidence"`
}

const ideatorSchemaDoc = `{
  "type": "object",
  "required": ["new_hypotheses", "suggested_probes"],
  "properties": {
    "new_hypotheses": {"type": "array", "items": {"type": "string"}},
    "suggested_probes": {"type": "array", "items": {"type": "string"}},
    "expected_evidence": {"type": "array", "items": {"type": "string"}}
  }
}`

var ideatorSchema = mustCompile("ideator_v1.json", ideatorSchemaDoc)

// DecodeIdeator parses and validates an Ideator response.
func DecodeIdeator(raw string) (*IdeatorResult, error) {
	var out IdeatorResult
	if err := decodeValidated("ideator_v1", ideatorSchema, raw, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
