package prompt

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Checklists maps rule keys to their checklist items. Checklist text
// content is external input; the built-in set below only keeps the
// pipeline runnable without a checklist file.
type Checklists map[string][]string

// DefaultChecklists returns the built-in checklist set.
func DefaultChecklists() Checklists {
	return Checklists{
		"access_control": {
			"Privileged functions are reachable only through the intended role or owner checks.",
			"Role grants, ownership transfers, and upgrades cannot be performed by unprivileged callers.",
			"Initialization functions cannot be re-invoked or front-run.",
		},
		"asset_flow": {
			"Deposits, withdrawals, refunds, and fee transfers conserve value under every branch.",
			"Accounting updates happen before external transfers (checks-effects-interactions).",
			"Rounding always favors the protocol, never an attacker-controlled recipient.",
		},
		"state_consistency": {
			"State transitions validate prior state; no phase can be skipped or replayed.",
			"Time windows, deadlines, and lockups are enforced against block timestamps consistently.",
			"Batch and single-item paths apply identical validation.",
		},
	}
}

// LoadChecklists reads a YAML file mapping rule_key to a list of items and
// merges it over the defaults. A key present in the file replaces the
// built-in items for that key.
func LoadChecklists(path string) (Checklists, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read checklists: %w", err)
	}

	var loaded Checklists
	if err := yaml.Unmarshal(data, &loaded); err != nil {
		return nil, fmt.Errorf("decode checklists %s: %w", path, err)
	}

	merged := DefaultChecklists()
	for key, items := range loaded {
		merged[key] = items
	}
	return merged, nil
}

// Items returns the checklist for a rule key; unknown keys get an empty
// list so a task can still run with the generic auditing stance.
func (c Checklists) Items(ruleKey string) []string {
	return c[ruleKey]
}

// RuleKeys returns all known rule keys in sorted order.
func (c Checklists) RuleKeys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
