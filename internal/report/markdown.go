package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hakim/readyscan/internal/models"
)

// findingsPerSeverity limits the detailed findings section.
const findingsPerSeverity = 20

var statusLabel = map[models.ControlStatus]string{
	models.ControlCompliant:    "compliant",
	models.ControlPartial:      "partial",
	models.ControlNonCompliant: "NON-COMPLIANT",
	models.ControlUnknown:      "unknown",
}

// WriteMarkdown renders a human readable report and writes it to outputPath.
func WriteMarkdown(r *models.Report, outputPath string) error {
	return writeFile(outputPath, RenderMarkdown(r))
}

// RenderMarkdown renders a report as markdown.
func RenderMarkdown(r *models.Report) string {
	var b strings.Builder

	// Header
	b.WriteString("# Compliance Readiness Report\n\n")
	b.WriteString(fmt.Sprintf("**Report ID:** %s\n", r.ID))
	b.WriteString(fmt.Sprintf("**Generated:** %s\n", r.GeneratedAt.Format("2006-01-02 15:04:05 UTC")))
	b.WriteString(fmt.Sprintf("**Source:** %s (%s)\n", r.Metadata.Source, r.Metadata.SourceKind))
	if r.Metadata.Ref != "" {
		b.WriteString(fmt.Sprintf("**Ref:** %s\n", r.Metadata.Ref))
	}
	b.WriteString(fmt.Sprintf("**Files scanned:** %d | **Skipped:** %d\n\n", r.Metadata.FilesScanned, r.Metadata.FilesSkipped))

	writeSummary(&b, r)
	writeSeverities(&b, r.Score.SeverityImpact)
	writeControls(&b, r)
	writeRecommendations(&b, r.Recommendations)
	writeFilter(&b, r.Analysis)
	writeFindings(&b, r.Findings)

	return b.String()
}

func writeSummary(b *strings.Builder, r *models.Report) {
	b.WriteString("## Summary\n\n")
	b.WriteString(fmt.Sprintf("### Readiness Score: %d/100 (Grade %s)\n\n", r.Score.OverallScore, r.Score.Grade))
	b.WriteString(fmt.Sprintf("- **Total findings:** %d\n", len(r.Findings)))
	b.WriteString(fmt.Sprintf("- **Risk:** %s (risk score %d)\n", r.Analysis.RiskAssessment, r.Analysis.RiskScore))
	b.WriteString(fmt.Sprintf("- **Controls compliant:** %d/%d\n", r.Score.ControlsCompliant, r.Score.ControlsTotal))
	b.WriteString(fmt.Sprintf("- **Base score:** %d | **Coverage:** %.1f%%\n\n", r.Score.BaseScore, r.Score.CoverageScore))
	if r.Analysis.Summary != "" {
		b.WriteString(r.Analysis.Summary + "\n\n")
	}
}

func writeSeverities(b *strings.Builder, impact models.SeverityImpact) {
	b.WriteString("## Severity Distribution\n\n")
	b.WriteString("| Severity | Count |\n")
	b.WriteString("|----------|-------|\n")
	for _, sev := range models.Severities {
		b.WriteString(fmt.Sprintf("| %s | %d |\n", strings.ToUpper(string(sev)), impact.Counts[sev]))
	}
	b.WriteString(fmt.Sprintf("\nTotal weight %d, deduction %d.\n\n", impact.TotalWeight, impact.Deduction))
}

func writeControls(b *strings.Builder, r *models.Report) {
	b.WriteString("## Control Coverage\n\n")
	if len(r.Controls) == 0 {
		b.WriteString("None.\n\n")
		return
	}

	ids := make([]string, 0, len(r.Controls))
	for id := range r.Controls {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	b.WriteString("| Control | Name | Status | Score | Findings |\n")
	b.WriteString("|---------|------|--------|-------|----------|\n")
	for _, id := range ids {
		c := r.Controls[id]
		b.WriteString(fmt.Sprintf("| %s | %s | %s | %d | %d |\n", id, c.Name, statusLabel[c.Status], c.Score, c.FindingsCount))
	}
	b.WriteString("\n")
}

func writeRecommendations(b *strings.Builder, recs []models.Recommendation) {
	b.WriteString("## Top Recommendations\n\n")
	if len(recs) == 0 {
		b.WriteString("No critical or high severity findings.\n\n")
		return
	}
	for i, rec := range recs {
		b.WriteString(fmt.Sprintf("### %d. %s\n\n", i+1, rec.Message))
		b.WriteString(fmt.Sprintf("- **Priority:** %s\n", strings.ToUpper(string(rec.Priority))))
		b.WriteString(fmt.Sprintf("- **Control:** %s\n", rec.ControlID))
		location := fmt.Sprintf("`%s:%d`", rec.FilePath, rec.Line)
		if rec.Link != "" {
			location = fmt.Sprintf("[%s:%d](%s)", rec.FilePath, rec.Line, rec.Link)
		}
		b.WriteString(fmt.Sprintf("- **File:** %s\n", location))
		if rec.Owner != "" {
			b.WriteString(fmt.Sprintf("- **Owner:** %s\n", rec.Owner))
		}
		b.WriteString(fmt.Sprintf("- **Action:** %s\n\n", rec.Action))
	}
}

func writeFilter(b *strings.Builder, a models.Analysis) {
	b.WriteString("## False Positive Review\n\n")
	f := a.Filter
	if !f.Enabled {
		b.WriteString("Judge not configured. Every finding was kept.\n\n")
	} else {
		b.WriteString(fmt.Sprintf("- **File groups:** %d (validated %d, unfiltered %d)\n", f.Groups, f.Validated, f.Unfiltered))
		b.WriteString(fmt.Sprintf("- **Dismissed:** %d\n\n", f.Removed))
		if len(f.Dismissed) > 0 {
			b.WriteString("| File | Line | Type | Reason |\n")
			b.WriteString("|------|------|------|--------|\n")
			for _, d := range f.Dismissed {
				reason := d.Reason
				if reason == "" {
					reason = "-"
				}
				b.WriteString(fmt.Sprintf("| %s | %d | %s | %s |\n", d.Finding.FilePath, d.Finding.Line, d.Finding.Type, escapeCell(reason)))
			}
			b.WriteString("\n")
		}
	}

	if len(a.Notes) > 0 {
		b.WriteString("### Notes\n\n")
		for _, n := range a.Notes {
			b.WriteString(fmt.Sprintf("- %s\n", n))
		}
		b.WriteString("\n")
	}
}

// writeFindings renders one section per severity, most severe first.
func writeFindings(b *strings.Builder, findings []models.Finding) {
	b.WriteString("## Findings\n\n")

	bySeverity := make(map[models.Severity][]models.Finding)
	for _, f := range findings {
		bySeverity[f.Severity] = append(bySeverity[f.Severity], f)
	}

	for _, sev := range models.Severities {
		group := bySeverity[sev]
		b.WriteString(fmt.Sprintf("### %s\n\n", strings.ToUpper(string(sev))))
		if len(group) == 0 {
			b.WriteString(fmt.Sprintf("No %s findings.\n\n", sev))
			continue
		}

		b.WriteString("| File | Line | Scanner | Type | Control | Message |\n")
		b.WriteString("|------|------|---------|------|---------|---------|\n")
		for i, f := range group {
			if i == findingsPerSeverity {
				b.WriteString(fmt.Sprintf("\n%d more %s findings omitted.\n", len(group)-findingsPerSeverity, sev))
				break
			}
			b.WriteString(fmt.Sprintf("| %s | %d | %s | %s | %s | %s |\n",
				f.FilePath, f.Line, f.Kind, f.Type, f.ControlID, escapeCell(f.Message)))
		}
		b.WriteString("\n")
	}
}

// WriteJSON writes the report as indented JSON.
func WriteJSON(r *models.Report, outputPath string) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding report %s: %w", r.ID, err)
	}
	return writeFile(outputPath, string(data)+"\n")
}

// WriteAll writes the JSON and markdown renderings into dir and returns
// their paths.
func WriteAll(r *models.Report, dir string) (jsonPath, mdPath string, err error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", "", fmt.Errorf("creating report dir %s: %w", dir, err)
	}
	jsonPath = filepath.Join(dir, r.ID+"_report.json")
	mdPath = filepath.Join(dir, r.ID+"_report.md")
	if err := WriteJSON(r, jsonPath); err != nil {
		return "", "", err
	}
	if err := WriteMarkdown(r, mdPath); err != nil {
		return "", "", err
	}
	return jsonPath, mdPath, nil
}

func escapeCell(s string) string {
	return strings.ReplaceAll(strings.ReplaceAll(s, "|", `\|`), "\n", " ")
}

func writeFile(path, content string) error {
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return fmt.Errorf("writing report to %s: %w", path, err)
	}
	return nil
}
