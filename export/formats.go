package export

import (
	"fmt"
	"sort"
	"strings"
)

// Format specifies the output serialization format.
type Format string

const (
	// FormatJSON produces the machine-readable report (.json).
	FormatJSON Format = "json"

	// FormatMarkdown produces the human-readable report (.md).
	FormatMarkdown Format = "markdown"
)

// FormatInfo provides metadata about an export format.
type FormatInfo struct {
	// Name is the format identifier.
	Name Format

	// MIMEType is the standard MIME type.
	MIMEType string

	// Extension is the file extension (with dot).
	Extension string

	// Description describes the format.
	Description string
}

// FormatRegistry contains metadata for all supported formats.
var FormatRegistry = map[Format]FormatInfo{
	FormatJSON: {
		Name:        FormatJSON,
		MIMEType:    "application/json",
		Extension:   ".json",
		Description: "JSON - machine-readable audit report",
	},
	FormatMarkdown: {
		Name:        FormatMarkdown,
		MIMEType:    "text/markdown",
		Extension:   ".md",
		Description: "Markdown - human-readable audit report",
	},
}

// GetFormatInfo returns metadata for a format.
func GetFormatInfo(format Format) (FormatInfo, bool) {
	info, ok := FormatRegistry[format]
	return info, ok
}

// markdownWriter renders a report as Markdown.
type markdownWriter struct {
	sb strings.Builder
}

func (w *markdownWriter) render(r *Report) string {
	w.sb.WriteString(fmt.Sprintf("# Audit Report: %s\n\n", r.ProjectID))
	w.sb.WriteString(fmt.Sprintf("Generated: %s\n\n", r.GeneratedAt.Format("2006-01-02 15:04:05 UTC")))

	w.writeTotals(r)

	for _, group := range r.RuleGroups {
		w.sb.WriteString(fmt.Sprintf("## %s (%d)\n\n", group.RuleKey, len(group.Findings)))
		for i := range group.Findings {
			w.writeFinding(&group.Findings[i])
		}
	}
	return w.sb.String()
}

func (w *markdownWriter) writeTotals(r *Report) {
	w.sb.WriteString(fmt.Sprintf("Confirmed findings: %d of %d total\n\n", r.Totals.Confirmed, r.Totals.Findings))
	if len(r.Totals.ByStatus) == 0 {
		return
	}
	w.sb.WriteString("| Status | Count |\n|---|---|\n")
	statuses := make([]string, 0, len(r.Totals.ByStatus))
	for status := range r.Totals.ByStatus {
		statuses = append(statuses, status)
	}
	sort.Strings(statuses)
	for _, status := range statuses {
		w.sb.WriteString(fmt.Sprintf("| %s | %d |\n", status, r.Totals.ByStatus[status]))
	}
	w.sb.WriteString("\n")
}

func (w *markdownWriter) writeFinding(f *ReportFinding) {
	w.sb.WriteString(fmt.Sprintf("### %s [%s]\n\n", f.Flow, f.Status))
	if f.File != "" {
		loc := f.File
		if f.StartLine != "" {
			loc += ":" + f.StartLine
		}
		w.sb.WriteString(fmt.Sprintf("Location: `%s`\n\n", loc))
	}
	if f.Impact != "" || f.ExploitDifficulty != "" {
		w.sb.WriteString(fmt.Sprintf("Impact: %s | Exploit difficulty: %s | Confidence: %s\n\n",
			orDash(f.Impact), orDash(f.ExploitDifficulty), orDash(f.Confidence)))
	}
	w.sb.WriteString(f.Description)
	w.sb.WriteString("\n\n")
	if f.Reason != "" {
		w.sb.WriteString(fmt.Sprintf("**Validation:** %s\n\n", f.Reason))
	}
	if len(f.Evidence) > 0 {
		w.sb.WriteString("Evidence:\n")
		for _, ev := range f.Evidence {
			w.sb.WriteString(fmt.Sprintf("- `%s` (%s): %s\n", ev.File, ev.Locator, ev.Why))
		}
		w.sb.WriteString("\n")
	}
	if f.AttackPath != "" {
		w.sb.WriteString(fmt.Sprintf("**Attack path:** %s\n\n", f.AttackPath))
	}
	if f.Mitigation != "" {
		w.sb.WriteString(fmt.Sprintf("**Mitigation:** %s\n\n", f.Mitigation))
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
