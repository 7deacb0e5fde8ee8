package schema

// PlanningVersion identifies the converged planning JSON produced by the P2
// prompt.
const PlanningVersion = "business_flow_planning_v1"

// RepairVersion identifies the coverage-repair delta produced by the P5
// prompt.
const RepairVersion = "business_flow_coverage_repair_v1"

// Group is one business-flow group (Gi) from the planning output.
type Group struct {
	GroupID   string   `json:"group_id"`
	GroupName string   `json:"group_name"`
	Functions []string `json:"functions"`
}

// Flow is one business flow (Fi) from the planning output.
type Flow struct {
	FlowID       string   `json:"flow_id"`
	FlowName     string   `json:"flow_name"`
	GroupIDs     []string `json:"group_ids"`
	FunctionRefs []string `json:"function_refs"`
}

// PlanningResult is the converged P2 output.
type PlanningResult struct {
	SchemaVersion string  `json:"schema_version"`
	Groups        []Group `json:"groups"`
	Flows         []Flow  `json:"flows"`
}

// RepairResult is the P5 coverage-repair delta. IDs inside NewGroups and
// NewFlows must continue the project's strictly increasing sequence; the
// merge step enforces that.
type RepairResult struct {
	SchemaVersion string  `json:"schema_version"`
	NewGroups     []Group `json:"new_groups"`
	NewFlows      []Flow  `json:"new_flows"`
}

const planningSchemaDoc = `{
  "type": "object",
  "required": ["schema_version", "flows"],
  "properties": {
    "schema_version": {"const": "business_flow_planning_v1"},
    "groups": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["group_id"],
        "properties": {
          "group_id": {"type": "string", "minLength": 1},
          "group_name": {"type": "string"},
          "functions": {"type": "array", "items": {"type": "string"}}
        }
      }
    },
    "flows": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["flow_id", "function_refs"],
        "properties": {
          "flow_id": {"type": "string", "minLength": 1},
          "flow_name": {"type": "string"},
          "group_ids": {"type": "array", "items": {"type": "string"}},
          "function_refs": {"type": "array", "items": {"type": "string"}}
        }
      }
    }
  }
}`

const repairSchemaDoc = `{
  "type": "object",
  "required": ["schema_version"],
  "properties": {
    "schema_version": {"const": "business_flow_coverage_repair_v1"},
    "new_groups": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["group_id"],
        "properties": {
          "group_id": {"type": "string", "minLength": 1},
          "group_name": {"type": "string"},
          "functions": {"type": "array", "items": {"type": "string"}}
        }
      }
    },
    "new_flows": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["flow_id", "function_refs"],
        "properties": {
          "flow_id": {"type": "string", "minLength": 1},
          "flow_name": {"type": "string"},
          "group_ids": {"type": "array", "items": {"type": "string"}},
          "function_refs": {"type": "array", "items": {"type": "string"}}
        }
      }
    }
  }
}`

var (
	planningSchema = mustCompile("business_flow_planning_v1.json", planningSchemaDoc)
	repairSchema   = mustCompile("business_flow_coverage_repair_v1.json", repairSchemaDoc)
)

// DecodePlanning parses and validates a P2 convergence response.
func DecodePlanning(raw string) (*PlanningResult, error) {
	var out PlanningResult
	if err := decodeValidated(PlanningVersion, planningSchema, raw, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DecodeRepair parses and validates a P5 coverage-repair response.
func DecodeRepair(raw string) (*RepairResult, error) {
	var out RepairResult
	if err := decodeValidated(RepairVersion, repairSchema, raw, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
