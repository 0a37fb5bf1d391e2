package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hakim/readyscan/internal/config"
	"github.com/hakim/readyscan/internal/controls"
	"github.com/hakim/readyscan/internal/diff"
	"github.com/hakim/readyscan/internal/filter"
	"github.com/hakim/readyscan/internal/models"
	"github.com/hakim/readyscan/internal/scanner"
	"github.com/hakim/readyscan/internal/scoring"
	"github.com/hakim/readyscan/internal/source"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

func newGenerator(t *testing.T) (*Generator, *controls.Catalog, *scoring.Engine) {
	t.Helper()
	catalog, err := controls.NewCatalog(config.DefaultControls())
	require.NoError(t, err)
	engine, err := scoring.NewEngine(config.DefaultConfig().Scoring)
	require.NoError(t, err)
	g := NewGenerator(catalog, engine)
	g.now = func() time.Time { return fixedNow }
	return g, catalog, engine
}

func finding(id string, sev models.Severity, file string, line int, control string) models.Finding {
	return models.Finding{
		ID:        id,
		Kind:      models.KindStatic,
		Type:      "eval_usage",
		Severity:  sev,
		FilePath:  file,
		Line:      line,
		Message:   "Use of eval() detected",
		ControlID: control,
		Static:    &models.StaticDetail{RuleID: "eval_usage"},
	}
}

func buildInput(t *testing.T, engine *scoring.Engine, catalog *controls.Catalog, job *models.ScanJob, findings []models.Finding) Input {
	t.Helper()
	score, coverage, err := engine.Score(findings, catalog)
	require.NoError(t, err)
	return Input{
		Job:      job,
		Snapshot: &source.Snapshot{Root: "/srv/app"},
		Scan: &scanner.Result{
			Findings:     findings,
			Versions:     map[string]string{"static": "1.0.0"},
			FilesScanned: 12,
		},
		Filter:   &filter.Result{Kept: findings},
		Findings: findings,
		Coverage: coverage,
		Score:    score,
	}
}

func TestBuildMetadataAndScore(t *testing.T) {
	g, catalog, engine := newGenerator(t)
	job := models.NewJob(models.SourceDescriptor{Kind: models.SourceLocal, Path: "/srv/app", Preset: "full"})
	findings := []models.Finding{finding("f1", models.SeverityCritical, "x.py", 1, "CC5")}

	r := g.Build(buildInput(t, engine, catalog, job, findings))

	assert.Equal(t, job.ID, r.ID)
	assert.Equal(t, fixedNow, r.GeneratedAt)
	assert.Equal(t, job.ID, r.Metadata.JobID)
	assert.Equal(t, "/srv/app", r.Metadata.Source)
	assert.Equal(t, "full", r.Metadata.Preset)
	assert.Equal(t, 12, r.Metadata.FilesScanned)
	assert.Equal(t, "1.0.0", r.Metadata.ScannerVersions["static"])

	assert.Equal(t, 90, r.Score.BaseScore)
	assert.Len(t, r.Controls, 10)
	assert.Equal(t, models.ControlNonCompliant, r.Controls["CC5"].Status)

	assert.Equal(t, []string{"f1"}, r.Analysis.PriorityFindings)
	require.NotEmpty(t, r.Analysis.ControlImpact)
	assert.Equal(t, "CC5", r.Analysis.ControlImpact[0].ControlID)
	assert.Contains(t, r.Analysis.RiskAssessment, "1 critical issue(s) detected")
	assert.Equal(t, 5, r.Analysis.RiskScore)
}

func TestBuildEmptyReport(t *testing.T) {
	g, catalog, engine := newGenerator(t)
	job := models.NewJob(models.SourceDescriptor{Kind: models.SourceLocal, Path: "/srv/app"})

	r := g.Build(buildInput(t, engine, catalog, job, nil))

	assert.NotNil(t, r.Findings)
	assert.Empty(t, r.Findings)
	assert.Empty(t, r.Recommendations)
	assert.Equal(t, 100, r.Score.OverallScore)
	assert.Equal(t, "A", r.Score.Grade)
	assert.Contains(t, r.Analysis.Summary, "No findings")
	assert.NotNil(t, r.Analysis.Filter.Outcomes)
}

func TestRecommendationsCappedPerSeverity(t *testing.T) {
	g, catalog, engine := newGenerator(t)
	job := models.NewJob(models.SourceDescriptor{Kind: models.SourceLocal, Path: "/srv/app"})

	var findings []models.Finding
	for i := 0; i < 7; i++ {
		findings = append(findings, finding(fmt.Sprintf("c%d", i), models.SeverityCritical, "a.py", i+1, "CC9"))
	}
	findings = append(findings,
		finding("h1", models.SeverityHigh, "b.py", 4, "CC6"),
		finding("h0", models.SeverityHigh, "b.py", 2, "CC6"),
		finding("m0", models.SeverityMedium, "c.py", 1, "CC5"),
	)
	findings[0].Recommendation = "Rotate the credential"

	r := g.Build(buildInput(t, engine, catalog, job, findings))

	require.Len(t, r.Recommendations, 7)
	for i, rec := range r.Recommendations[:5] {
		assert.Equal(t, models.SeverityCritical, rec.Priority)
		assert.Equal(t, i+1, rec.Line, "criticals ordered by line")
		assert.Equal(t, "security", rec.Owner)
		assert.Empty(t, rec.Link, "local sources have no links")
	}
	assert.Equal(t, "Rotate the credential", r.Recommendations[0].Action)
	assert.Equal(t, defaultAction, r.Recommendations[1].Action)

	assert.Equal(t, "h0", r.Recommendations[5].FindingID)
	assert.Equal(t, "h1", r.Recommendations[6].FindingID)
	assert.Equal(t, models.SeverityHigh, r.Recommendations[6].Priority)

	assert.Len(t, r.Analysis.PriorityFindings, priorityFindingLimit)
}

func TestRecommendationLinksForGitSources(t *testing.T) {
	g, catalog, engine := newGenerator(t)
	job := models.NewJob(models.SourceDescriptor{Kind: models.SourceGit, URL: "https://github.com/acme/app.git"})
	findings := []models.Finding{finding("f1", models.SeverityHigh, "src/x.py", 3, "CC5")}

	in := buildInput(t, engine, catalog, job, findings)
	in.Snapshot.Revision = "abc123"
	r := g.Build(in)

	assert.Equal(t, "abc123", r.Metadata.Ref)
	require.Len(t, r.Recommendations, 1)
	assert.Equal(t, "https://github.com/acme/app/blob/abc123/src/x.py#L3", r.Recommendations[0].Link)
	assert.Equal(t, "appsec", r.Recommendations[0].Owner)
}

func TestNotes(t *testing.T) {
	g, catalog, engine := newGenerator(t)
	job := models.NewJob(models.SourceDescriptor{Kind: models.SourceLocal, Path: "/srv/app"})
	kept := []models.Finding{
		finding("a", models.SeverityMedium, "x.py", 1, "CC5"),
		finding("b", models.SeverityMedium, "x.py", 2, "CC5"),
		finding("c", models.SeverityMedium, "x.py", 3, "CC5"),
	}
	removed := finding("d", models.SeverityLow, "y.py", 9, "CC5")

	t.Run("judge disabled", func(t *testing.T) {
		in := buildInput(t, engine, catalog, job, kept)
		r := g.Build(in)
		assert.Equal(t, []string{"false positive filter disabled: judge not configured, all findings kept"}, r.Analysis.Notes)
	})

	t.Run("judge enabled", func(t *testing.T) {
		in := buildInput(t, engine, catalog, job, kept)
		in.Judged = true
		in.Filter = &filter.Result{
			Kept:    kept,
			Removed: []models.RemovedFinding{{Finding: removed, Reason: "test fixture"}},
			Groups: []models.GroupOutcome{
				{File: "x.py", Status: models.GroupUnfiltered, Reason: filter.ReasonTimeout, Candidates: 3},
				{File: "y.py", Status: models.GroupValidated, Candidates: 1, Removed: 1},
			},
		}
		in.Scan.Errors = []models.ScannerError{{Scanner: "iac", File: "main.tf", Message: "parse error"}}
		in.Snapshot.Skipped = []source.Skipped{{Path: "big.bin", Reason: "binary"}}

		r := g.Build(in)
		assert.Equal(t, []string{
			"x.py: 3 findings kept unfiltered (judge timed out)",
			"1 findings dismissed as false positives",
			"1 files could not be scanned",
			"1 files skipped during collection",
		}, r.Analysis.Notes)
		assert.True(t, r.Analysis.Filter.Enabled)
		assert.Equal(t, 1, r.Analysis.Filter.Validated)
		assert.Equal(t, 1, r.Analysis.Filter.Unfiltered)
		assert.Equal(t, 1, r.Metadata.FilesSkipped)
		require.Len(t, r.Metadata.ScannerErrors, 1)
	})
}

func TestRenderMarkdown(t *testing.T) {
	g, catalog, engine := newGenerator(t)
	job := models.NewJob(models.SourceDescriptor{Kind: models.SourceLocal, Path: "/srv/app"})
	findings := []models.Finding{
		finding("f1", models.SeverityCritical, "x.py", 1, "CC9"),
		finding("f2", models.SeverityMedium, "y.py", 2, "CC5"),
	}
	findings[1].Message = "pipe | in message"

	md := RenderMarkdown(g.Build(buildInput(t, engine, catalog, job, findings)))

	for _, section := range []string{
		"# Compliance Readiness Report",
		"## Summary",
		"## Severity Distribution",
		"## Control Coverage",
		"## Top Recommendations",
		"## False Positive Review",
		"### Notes",
		"## Findings",
	} {
		assert.Contains(t, md, section)
	}
	assert.Contains(t, md, "| CC9 | Risk Mitigation | NON-COMPLIANT |")
	assert.Contains(t, md, "- **Owner:** security")
	assert.Contains(t, md, "Judge not configured. Every finding was kept.")
	assert.Contains(t, md, `pipe \| in message`)
	assert.Contains(t, md, "No high findings.")
}

func TestRenderMarkdownTruncatesFindings(t *testing.T) {
	var findings []models.Finding
	for i := 0; i < findingsPerSeverity+3; i++ {
		findings = append(findings, finding(fmt.Sprintf("l%d", i), models.SeverityLow, "a.py", i+1, "CC5"))
	}
	md := RenderMarkdown(&models.Report{ID: "r1", Findings: findings})
	assert.Contains(t, md, "3 more low findings omitted.")
	assert.Equal(t, findingsPerSeverity, strings.Count(md, "| a.py |"))
}

func TestWriteAll(t *testing.T) {
	g, catalog, engine := newGenerator(t)
	job := models.NewJob(models.SourceDescriptor{Kind: models.SourceLocal, Path: "/srv/app"})
	r := g.Build(buildInput(t, engine, catalog, job, []models.Finding{finding("f1", models.SeverityHigh, "x.py", 1, "CC5")}))

	dir := filepath.Join(t.TempDir(), "nested")
	jsonPath, mdPath, err := WriteAll(r, dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, r.ID+"_report.json"), jsonPath)
	assert.Equal(t, filepath.Join(dir, r.ID+"_report.md"), mdPath)

	data, err := os.ReadFile(jsonPath)
	require.NoError(t, err)
	var decoded models.Report
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, r.ID, decoded.ID)
	assert.Equal(t, r.Score, decoded.Score)

	md, err := os.ReadFile(mdPath)
	require.NoError(t, err)
	assert.Contains(t, string(md), r.ID)
}

func TestRenderDiff(t *testing.T) {
	previous := &models.Report{
		ID:       "prev",
		Findings: []models.Finding{finding("a", models.SeverityHigh, "a.py", 1, "CC5")},
		Controls: map[string]models.ControlCoverage{"CC5": {Name: "Control Activities", Status: models.ControlNonCompliant}},
		Score:    models.ScoreData{OverallScore: 80, Grade: "B"},
	}
	current := &models.Report{
		ID:       "curr",
		Findings: []models.Finding{finding("b", models.SeverityLow, "b.py", 2, "CC5")},
		Controls: map[string]models.ControlCoverage{"CC5": {Name: "Control Activities", Status: models.ControlPartial}},
		Score:    models.ScoreData{OverallScore: 91, Grade: "A"},
	}

	md := RenderDiff(diff.Compare(previous, current))
	assert.Contains(t, md, "**Previous:** prev | **Current:** curr")
	assert.Contains(t, md, "| Readiness score | 80 (B) | 91 (A) | +11 |")
	assert.Contains(t, md, "| Findings | 1 | 1 | +1 / -1 |")
	assert.Contains(t, md, "## New Findings (+1)")
	assert.Contains(t, md, "## Resolved Findings (-1)")
	assert.Contains(t, md, "CC5 Control Activities: non_compliant → partial (improved)")

	same := RenderDiff(diff.Compare(previous, previous))
	assert.Contains(t, same, "No changes detected.")

	path := filepath.Join(t.TempDir(), "diff.md")
	require.NoError(t, WriteDiffReport(diff.Compare(previous, current), path))
	_, err := os.Stat(path)
	assert.NoError(t, err)
}

func TestFormatChange(t *testing.T) {
	assert.Equal(t, "none", formatChange(0, 0))
	assert.Equal(t, "+2", formatChange(2, 0))
	assert.Equal(t, "-1", formatChange(0, 1))
	assert.Equal(t, "+2 / -1", formatChange(2, 1))
}
