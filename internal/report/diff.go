package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/hakim/readyscan/internal/diff"
	"github.com/hakim/readyscan/internal/models"
)

// WriteDiffReport generates a markdown report capturing the delta between two
// reports and writes it to outputPath.
func WriteDiffReport(result *diff.Result, outputPath string) error {
	return writeFile(outputPath, RenderDiff(result))
}

// RenderDiff renders a diff result as markdown.
func RenderDiff(result *diff.Result) string {
	var b strings.Builder

	b.WriteString("# Report Diff\n\n")
	b.WriteString(fmt.Sprintf("**Date:** %s\n", time.Now().UTC().Format("2006-01-02 15:04:05 UTC")))
	b.WriteString(fmt.Sprintf("**Previous:** %s | **Current:** %s\n\n", orDash(result.PreviousID), orDash(result.CurrentID)))

	// If there are zero changes across all categories, short-circuit.
	if result.Empty() {
		b.WriteString("No changes detected.\n")
		return b.String()
	}

	writeDiffSummaryTable(&b, result)
	writeFindingChanges(&b, "New Findings", "+", result.NewFindings)
	writeFindingChanges(&b, "Resolved Findings", "-", result.ResolvedFindings)
	writeControlChanges(&b, result.ControlChanges)

	return b.String()
}

// writeDiffSummaryTable writes the score and finding comparison table.
func writeDiffSummaryTable(b *strings.Builder, r *diff.Result) {
	b.WriteString("## Summary\n\n")
	b.WriteString("| Category | Previous | Current | Change |\n")
	b.WriteString("|----------|----------|---------|--------|\n")
	b.WriteString(fmt.Sprintf("| Readiness score | %d (%s) | %d (%s) | %+d |\n",
		r.PreviousScore, orDash(r.PreviousGrade), r.CurrentScore, orDash(r.CurrentGrade), r.ScoreDelta))
	b.WriteString(fmt.Sprintf("| Findings | %d | %d | %s |\n",
		r.PreviousFindingCount, r.CurrentFindingCount, formatChange(len(r.NewFindings), len(r.ResolvedFindings))))
	b.WriteString("\n")
}

// writeFindingChanges renders one finding table. Skipped when empty.
func writeFindingChanges(b *strings.Builder, title, sign string, findings []models.Finding) {
	if len(findings) == 0 {
		return
	}
	b.WriteString(fmt.Sprintf("## %s (%s%d)\n\n", title, sign, len(findings)))
	b.WriteString("| Severity | File | Line | Type | Control |\n")
	b.WriteString("|----------|------|------|------|---------|\n")
	for _, f := range findings {
		b.WriteString(fmt.Sprintf("| %s | %s | %d | %s | %s |\n",
			f.Severity, f.FilePath, f.Line, f.Type, orDash(f.ControlID)))
	}
	b.WriteString("\n")
}

// writeControlChanges renders control status transitions. Skipped when empty.
func writeControlChanges(b *strings.Builder, changes []diff.ControlChange) {
	if len(changes) == 0 {
		return
	}
	b.WriteString("## Control Status Changes\n\n")
	for _, c := range changes {
		direction := "regressed"
		if c.Improved() {
			direction = "improved"
		}
		b.WriteString(fmt.Sprintf("- %s %s: %s → %s (%s)\n", c.ControlID, c.Name, c.Previous, c.Current, direction))
	}
	b.WriteString("\n")
}

// formatChange returns a human-readable change string such as "+3 / -1".
// When there are no additions and no removals it returns "none".
func formatChange(added, removed int) string {
	if added == 0 && removed == 0 {
		return "none"
	}
	parts := make([]string, 0, 2)
	if added > 0 {
		parts = append(parts, fmt.Sprintf("+%d", added))
	}
	if removed > 0 {
		parts = append(parts, fmt.Sprintf("-%d", removed))
	}
	return strings.Join(parts, " / ")
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
