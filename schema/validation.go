package schema

// ValidationVersion identifies the Validator agent's output schema.
const ValidationVersion = "validation_codex_v1"

// Validation statuses the agent may return, plus the infrastructure-only
// statuses the pipeline itself writes ("" and "error").
const (
	StatusPending        = "pending"
	StatusIntendedDesign = "intended_design"
	StatusFalsePositive  = "false_positive"
	StatusVulnerability  = "vulnerability"
	StatusVulnHighCost   = "vuln_high_cost"
	StatusVulnLowImpact  = "vuln_low_impact"
	StatusNotSure        = "not_sure"
	StatusError          = "error"
)

// agentStatuses is the closed enum the agent may emit.
var agentStatuses = map[string]bool{
	StatusPending:        true,
	StatusIntendedDesign: true,
	StatusFalsePositive:  true,
	StatusVulnerability:  true,
	StatusVulnHighCost:   true,
	StatusVulnLowImpact:  true,
	StatusNotSure:        true,
}

// ValidStatus reports whether s may be written to
// Finding.validation_status.
func ValidStatus(s string) bool {
	return s == "" || s == StatusError || agentStatuses[s]
}

// Evidence is one code citation supporting a validation verdict.
type Evidence struct {
	File    string `json:"file"`
	Locator string `json:"locator"`
	Snippet string `json:"snippet,omitempty"`
	Why     string `json:"why"`
}

// DocReference is a documentation citation used to distinguish intended
// design from a vulnerability.
type DocReference struct {
	File    string `json:"file"`
	Locator string `json:"locator"`
	Excerpt string `json:"excerpt,omitempty"`
	Why     string `json:"why"`
}

// ValidationResult is the agent's strict-JSON validation verdict.
type ValidationResult struct {
	SchemaVersion       string         `json:"schema_version"`
	Status              string         `json:"status"`
	Confidence          string         `json:"confidence"`
	Exists              bool           `json:"exists"`
	Classification      string         `json:"classification"`
	Impact              string         `json:"impact"`
	ExploitDifficulty   string         `json:"exploit_difficulty"`
	Reason              string         `json:"reason"`
	Evidence            []Evidence     `json:"evidence"`
	DocReferences       []DocReference `json:"doc_references"`
	AttackPreconditions []string       `json:"attack_preconditions"`
	AttackPath          string         `json:"attack_path"`
	Mitigation          string         `json:"mitigation"`
	Unknowns            []string       `json:"unknowns"`
}

const validationSchemaDoc = `{
  "type": "object",
  "required": ["schema_version", "status"],
  "properties": {
    "schema_version": {"const": "validation_codex_v1"},
    "status": {
      "enum": ["pending", "intended_design", "false_positive", "vulnerability",
               "vuln_high_cost", "vuln_low_impact", "not_sure"]
    },
    "confidence": {"enum": ["high", "medium", "low"]},
    "exists": {"type": "boolean"},
    "classification": {"type": "string"},
    "impact": {"enum": ["high", "medium", "low", "unknown"]},
    "exploit_difficulty": {"enum": ["easy", "medium", "hard", "unknown"]},
    "reason": {"type": "string"},
    "evidence": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["file", "locator", "why"],
        "properties": {
          "file": {"type": "string"},
          "locator": {"type": "string"},
          "snippet": {"type": "string"},
          "why": {"type": "string"}
        }
      }
    },
    "doc_references": {"type": "array"},
    "attack_preconditions": {"type": "array", "items": {"type": "string"}},
    "attack_path": {"type": "string"},
    "mitigation": {"type": "string"},
    "unknowns": {"type": "array", "items": {"type": "string"}}
  }
}`

var validationSchema = mustCompile("validation_codex_v1.json", validationSchemaDoc)

// DecodeValidation parses and validates a validation verdict.
func DecodeValidation(raw string) (*ValidationResult, error) {
	var out ValidationResult
	if err := decodeValidated(ValidationVersion, validationSchema, raw, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
