package pipeline

import (
	"fmt"
	"strings"
)

// StageSet selects which pipeline stages run. Later stages still rely on
// earlier ones having run at some point: reasoning needs planned tasks in
// the store, validation needs split findings.
type StageSet struct {
	Plan     bool
	Reason   bool
	Validate bool
	Export   bool
}

// AllStages runs the full pipeline.
func AllStages() StageSet {
	return StageSet{Plan: true, Reason: true, Validate: true, Export: true}
}

// ParseStages parses a comma-separated stage list ("all", or any of plan,
// reason, validate, export).
func ParseStages(s string) (StageSet, error) {
	if strings.TrimSpace(s) == "" || s == "all" {
		return AllStages(), nil
	}
	var set StageSet
	for _, name := range strings.Split(s, ",") {
		switch strings.TrimSpace(name) {
		case "plan":
			set.Plan = true
		case "reason":
			set.Reason = true
		case "validate":
			set.Validate = true
		case "export":
			set.Export = true
		case "":
		default:
			return StageSet{}, fmt.Errorf("unknown stage %q", strings.TrimSpace(name))
		}
	}
	if set == (StageSet{}) {
		return StageSet{}, fmt.Errorf("no stages selected from %q", s)
	}
	return set, nil
}
