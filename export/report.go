// Package export renders the audit report for a project: the confirmed
// findings with their validation verdicts, grouped by rule key, as JSON
// and Markdown.
package export

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/flowaudit/flowaudit/schema"
	"github.com/flowaudit/flowaudit/store"
)

// ReportVersion identifies the JSON report layout.
const ReportVersion = "audit_report_v1"

// findingStore is the slice of the store the exporter needs.
type findingStore interface {
	ListFindings(ctx context.Context, projectID string) ([]store.Finding, error)
	ListFindingsForExport(ctx context.Context, projectID string) ([]store.Finding, error)
}

// Report is the machine-readable audit report for one project.
type Report struct {
	SchemaVersion string      `json:"schema_version"`
	ProjectID     string      `json:"project_id"`
	GeneratedAt   time.Time   `json:"generated_at"`
	Totals        Totals      `json:"totals"`
	RuleGroups    []RuleGroup `json:"rule_groups"`
}

// Totals counts findings across the whole project, not only the confirmed
// ones, so the report shows what validation filtered out.
type Totals struct {
	Findings  int            `json:"findings"`
	Confirmed int            `json:"confirmed"`
	ByStatus  map[string]int `json:"by_status"`
}

// RuleGroup collects the confirmed findings of one rule key.
type RuleGroup struct {
	RuleKey  string          `json:"rule_key"`
	Findings []ReportFinding `json:"findings"`
}

// ReportFinding is one confirmed finding with its validation verdict
// flattened for readers.
type ReportFinding struct {
	UUID              string            `json:"uuid"`
	Flow              string            `json:"flow"`
	TaskName          string            `json:"task_name"`
	File              string            `json:"file,omitempty"`
	StartLine         string            `json:"start_line,omitempty"`
	Status            string            `json:"status"`
	Confidence        string            `json:"confidence,omitempty"`
	Impact            string            `json:"impact,omitempty"`
	ExploitDifficulty string            `json:"exploit_difficulty,omitempty"`
	Description       string            `json:"description"`
	Reason            string            `json:"reason,omitempty"`
	Evidence          []schema.Evidence `json:"evidence,omitempty"`
	AttackPath        string            `json:"attack_path,omitempty"`
	Mitigation        string            `json:"mitigation,omitempty"`
}

// Exporter builds and renders audit reports.
type Exporter struct {
	findings findingStore
	logger   *slog.Logger
}

// NewExporter constructs an exporter.
func NewExporter(findings findingStore, logger *slog.Logger) *Exporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Exporter{findings: findings, logger: logger}
}

// BuildReport assembles the report model for one project.
func (e *Exporter) BuildReport(ctx context.Context, projectID string) (*Report, error) {
	all, err := e.findings.ListFindings(ctx, projectID)
	if err != nil {
		return nil, err
	}
	confirmed, err := e.findings.ListFindingsForExport(ctx, projectID)
	if err != nil {
		return nil, err
	}

	report := &Report{
		SchemaVersion: ReportVersion,
		ProjectID:     projectID,
		GeneratedAt:   time.Now().UTC(),
		Totals: Totals{
			Findings:  len(all),
			Confirmed: len(confirmed),
			ByStatus:  make(map[string]int),
		},
	}
	for i := range all {
		status := all[i].ValidationStatus
		if status == "" {
			status = "unvalidated"
		}
		report.Totals.ByStatus[status]++
	}

	byRule := make(map[string][]ReportFinding)
	for i := range confirmed {
		rf := flatten(&confirmed[i])
		byRule[confirmed[i].RuleKey] = append(byRule[confirmed[i].RuleKey], rf)
	}
	ruleKeys := make([]string, 0, len(byRule))
	for ruleKey := range byRule {
		ruleKeys = append(ruleKeys, ruleKey)
	}
	sort.Strings(ruleKeys)
	for _, ruleKey := range ruleKeys {
		group := byRule[ruleKey]
		sort.Slice(group, func(a, b int) bool {
			if group[a].Flow != group[b].Flow {
				return group[a].Flow < group[b].Flow
			}
			return group[a].UUID < group[b].UUID
		})
		report.RuleGroups = append(report.RuleGroups, RuleGroup{RuleKey: ruleKey, Findings: group})
	}
	return report, nil
}

// Render serializes a report to the specified format.
func (e *Exporter) Render(report *Report, format Format) (string, error) {
	switch format {
	case FormatJSON:
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return "", err
		}
		return string(data) + "\n", nil
	case FormatMarkdown:
		var w markdownWriter
		return w.render(report), nil
	default:
		return "", fmt.Errorf("unsupported format: %s", format)
	}
}

// WriteFiles builds the report and writes report_<project_id>.json and
// report_<project_id>.md under dir, returning the written paths.
func (e *Exporter) WriteFiles(ctx context.Context, projectID, dir string) ([]string, error) {
	report, err := e.BuildReport(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create report dir: %w", err)
	}

	var paths []string
	for _, format := range []Format{FormatJSON, FormatMarkdown} {
		info := FormatRegistry[format]
		rendered, err := e.Render(report, format)
		if err != nil {
			return nil, err
		}
		path := filepath.Join(dir, "report_"+projectID+info.Extension)
		if err := os.WriteFile(path, []byte(rendered), 0o644); err != nil {
			return nil, fmt.Errorf("write report: %w", err)
		}
		paths = append(paths, path)
	}

	e.logger.Info("report written",
		"project_id", projectID,
		"confirmed", report.Totals.Confirmed,
		"total", report.Totals.Findings,
		"paths", paths)
	return paths, nil
}

// flatten merges a finding row, its single-vulnerability finding_json, and
// the parsed validation verdict into one report entry. Missing or
// unparseable pieces degrade to empty fields rather than failing the
// export.
func flatten(f *store.Finding) ReportFinding {
	rf := ReportFinding{
		UUID:      f.UUID,
		Flow:      f.TaskGroup,
		TaskName:  f.TaskName,
		File:      f.TaskRelativeFilePath,
		StartLine: f.TaskStartLine,
		Status:    f.ValidationStatus,
	}

	var doc struct {
		Vulnerabilities []schema.Vulnerability `json:"vulnerabilities"`
	}
	if err := json.Unmarshal([]byte(f.FindingJSON), &doc); err == nil && len(doc.Vulnerabilities) > 0 {
		rf.Description = doc.Vulnerabilities[0].Description
	}

	var record struct {
		Parsed *schema.ValidationResult `json:"parsed"`
	}
	if err := json.Unmarshal([]byte(f.ValidationRecord), &record); err == nil && record.Parsed != nil {
		rf.Confidence = record.Parsed.Confidence
		rf.Impact = record.Parsed.Impact
		rf.ExploitDifficulty = record.Parsed.ExploitDifficulty
		rf.Reason = record.Parsed.Reason
		rf.Evidence = record.Parsed.Evidence
		rf.AttackPath = record.Parsed.AttackPath
		rf.Mitigation = record.Parsed.Mitigation
	}
	return rf
}
