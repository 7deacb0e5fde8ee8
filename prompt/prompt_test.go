package prompt

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestP0IncludesCatalogAndConstraints(t *testing.T) {
	p, err := P0Initial([]string{"Vault.deposit", "Vault.withdraw", "Vault.constructor"})
	require.NoError(t, err)
	assert.Contains(t, p, "Vault.deposit")
	assert.Contains(t, p, "Vault.constructor")
	assert.Contains(t, p, "exact string match")
	assert.Contains(t, p, "G1, G2")

	_, err = P0Initial(nil)
	var aerr *AssemblyError
	require.ErrorAs(t, err, &aerr)
	assert.Equal(t, "P0", aerr.Prompt)
}

func TestP1RequiresPreviousOutput(t *testing.T) {
	p, err := P1Incremental("G1 core: Vault.deposit")
	require.NoError(t, err)
	assert.Contains(t, p, "G1 core: Vault.deposit")
	assert.Contains(t, p, "incremental")

	_, err = P1Incremental("  ")
	require.Error(t, err)
}

func TestP2StrictReminderOnlyWhenAsked(t *testing.T) {
	plain, err := P2FinalJSON("p0 text", "p1 text", false)
	require.NoError(t, err)
	assert.NotContains(t, plain, "REMINDER")
	assert.Contains(t, plain, "business_flow_planning_v1")

	strict, err := P2FinalJSON("p0 text", "p1 text", true)
	require.NoError(t, err)
	assert.Contains(t, strict, "REMINDER")
}

func TestP3BatchConstraints(t *testing.T) {
	p, err := P3RepairBatch("F1 trade: Vault.deposit", []string{"Admin.pause", "Admin.unpause"},
		"G4", "F7", 3, false)
	require.NoError(t, err)
	assert.Contains(t, p, "Admin.pause")
	assert.Contains(t, p, "G4")
	assert.Contains(t, p, "F7")
	assert.Contains(t, p, "Do NOT modify existing flows")
	assert.Contains(t, p, "business_flow_coverage_repair_v1")

	modifiable, err := P3RepairBatch("overview", []string{"Admin.pause"}, "G4", "F7", 3, true)
	require.NoError(t, err)
	assert.Contains(t, modifiable, "MAY extend an existing flow")

	_, err = P3RepairBatch("overview", nil, "G4", "F7", 3, false)
	require.Error(t, err)
}

func TestP5ThreadsNextIDs(t *testing.T) {
	p, err := P5RepairJSON("p3 out", "p4 out", "G5", "F9", false)
	require.NoError(t, err)
	assert.Contains(t, p, "G5")
	assert.Contains(t, p, "F9")
	assert.Contains(t, p, "never reuse an earlier ID")
}

func TestReasonerPrompt(t *testing.T) {
	p, err := Reasoner("function withdraw() {}", "asset_flow",
		[]string{"item one", "item two"}, "focus on fee math")
	require.NoError(t, err)
	assert.Contains(t, p, "1. item one")
	assert.Contains(t, p, "2. item two")
	assert.Contains(t, p, "focus on fee math")
	assert.Contains(t, p, `"schema_version": "1.0"`)
	assert.Contains(t, p, "function withdraw() {}")

	// no instruction: no focus section
	p, err = Reasoner("code", "asset_flow", nil, "")
	require.NoError(t, err)
	assert.NotContains(t, p, "Focus For This Round")

	_, err = Reasoner(" ", "asset_flow", nil, "")
	require.Error(t, err)
}

func TestReasonerOversizedCode(t *testing.T) {
	_, err := Reasoner(strings.Repeat("x", maxPromptBytes+1), "rk", nil, "")
	var aerr *AssemblyError
	require.ErrorAs(t, err, &aerr)
	assert.Contains(t, aerr.Reason, "limit")
}

func TestIdeatorPrompt(t *testing.T) {
	p, err := Ideator("asset_flow", "check rounding",
		[]string{"fee bypass confirmed"}, []string{"no reentrancy"}, []string{"oracle staleness"})
	require.NoError(t, err)
	assert.Contains(t, p, "- fee bypass confirmed")
	assert.Contains(t, p, "- no reentrancy")
	assert.Contains(t, p, "- oracle staleness")
	assert.Contains(t, p, "suggested_probes")

	p, err = Ideator("asset_flow", "", nil, nil, nil)
	require.NoError(t, err)
	assert.Contains(t, p, "(none)")
}

func TestValidationPrompt(t *testing.T) {
	p, err := Validation(`{"schema_version":"1.0","vulnerabilities":[{"description":"D1"}]}`,
		"asset_flow", "src/Vault.sol", "withdraw")
	require.NoError(t, err)
	assert.Contains(t, p, "validation_codex_v1")
	assert.Contains(t, p, `"description":"D1"`)
	assert.Contains(t, p, "hint_file: src/Vault.sol")
	assert.Contains(t, p, "hint_function: withdraw")
	assert.Contains(t, p, "read-only")

	_, err = Validation("", "rk", "", "")
	require.Error(t, err)
}

func TestChecklists(t *testing.T) {
	defaults := DefaultChecklists()
	assert.NotEmpty(t, defaults.Items("access_control"))
	assert.Empty(t, defaults.Items("unknown_key"))
	assert.Contains(t, defaults.RuleKeys(), "asset_flow")

	dir := t.TempDir()
	path := filepath.Join(dir, "checklists.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"oracle:\n  - Price feeds are validated for staleness.\naccess_control:\n  - Custom item.\n"), 0o644))

	merged, err := LoadChecklists(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"Price feeds are validated for staleness."}, merged.Items("oracle"))
	assert.Equal(t, []string{"Custom item."}, merged.Items("access_control"))
	// untouched defaults survive
	assert.NotEmpty(t, merged.Items("asset_flow"))

	_, err = LoadChecklists(filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)
}
