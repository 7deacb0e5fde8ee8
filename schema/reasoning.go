package schema

import "encoding/json"

// ReasoningVersion identifies the Reasoner's output schema.
const ReasoningVersion = "1.0"

// Vulnerability is one candidate from a Reasoner round. The description
// embeds trigger conditions, impact, evidence locators, and a
// false-positive rebuttal as a single prose block.
type Vulnerability struct {
	Description string `json:"description"`
}

// ReasoningResult is the strict-JSON output of one Reasoner round. An empty
// vulnerabilities array is a legal, meaningful result.
type ReasoningResult struct {
	SchemaVersion   string          `json:"schema_version"`
	Vulnerabilities []Vulnerability `json:"vulnerabilities"`
}

const reasoningSchemaDoc = `{
  "type": "object",
  "required": ["schema_version", "vulnerabilities"],
  "properties": {
    "schema_version": {"const": "1.0"},
    "vulnerabilities": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["description"],
        "properties": {
          "description": {"type": "string", "minLength": 1}
        }
      }
    }
  }
}`

var reasoningSchema = mustCompile("reasoning_v1.json", reasoningSchemaDoc)

// DecodeReasoning parses and validates a Reasoner response.
func DecodeReasoning(raw string) (*ReasoningResult, error) {
	var out ReasoningResult
	if err := decodeValidated("reasoning_v1.0", reasoningSchema, raw, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SingleVulnerabilityJSON renders the finding_json for one split-out
// vulnerability: the same schema with exactly that element.
func SingleVulnerabilityJSON(v Vulnerability) (string, error) {
	b, err := json.Marshal(ReasoningResult{
		SchemaVersion:   ReasoningVersion,
		Vulnerabilities: []Vulnerability{v},
	})
	if err != nil {
		return "", err
	}
	return string(b), nil
}
