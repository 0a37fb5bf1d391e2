// Package report assembles and renders compliance reports.
package report

import (
	"fmt"
	"sort"
	"time"

	"github.com/hakim/readyscan/internal/controls"
	"github.com/hakim/readyscan/internal/filter"
	"github.com/hakim/readyscan/internal/models"
	"github.com/hakim/readyscan/internal/scanner"
	"github.com/hakim/readyscan/internal/scoring"
	"github.com/hakim/readyscan/internal/source"
)

const (
	// recommendationsPerSeverity caps critical and high recommendations each.
	recommendationsPerSeverity = 5
	priorityFindingLimit       = 10
	defaultAction              = "Review and remediate this security issue"
)

// Input is everything a report is built from. Findings are the filtered and
// mapped set that was scored.
type Input struct {
	Job      *models.ScanJob
	Snapshot *source.Snapshot
	Scan     *scanner.Result
	Filter   *filter.Result
	Judged   bool
	Findings []models.Finding
	Coverage map[string]models.ControlCoverage
	Score    models.ScoreData
}

// Generator builds reports against one control catalog.
type Generator struct {
	catalog *controls.Catalog
	engine  *scoring.Engine
	now     func() time.Time
}

// NewGenerator creates a report generator.
func NewGenerator(catalog *controls.Catalog, engine *scoring.Engine) *Generator {
	return &Generator{
		catalog: catalog,
		engine:  engine,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Build assembles the report for a finished job. The report ID is the job ID
// so reports can be read back by job.
func (g *Generator) Build(in Input) *models.Report {
	now := g.now()

	findings := in.Findings
	if findings == nil {
		findings = []models.Finding{}
	}

	meta := models.Metadata{
		JobID:           in.Job.ID,
		SourceKind:      in.Job.Source.Kind,
		Source:          in.Job.Source.Location(),
		Ref:             in.Job.Source.Ref,
		Preset:          in.Job.Source.Preset,
		Timestamp:       now,
		ScannerVersions: map[string]string{},
	}
	if in.Snapshot != nil {
		meta.FilesSkipped = len(in.Snapshot.Skipped)
		if meta.Ref == "" {
			meta.Ref = in.Snapshot.Revision
		}
	}
	if in.Scan != nil {
		meta.ScannerVersions = in.Scan.Versions
		meta.FilesScanned = in.Scan.FilesScanned
		meta.ScannerErrors = in.Scan.Errors
	}

	var filterSummary models.FilterSummary
	if in.Filter != nil {
		filterSummary = in.Filter.Summary(in.Judged)
	}
	if filterSummary.Outcomes == nil {
		filterSummary.Outcomes = []models.GroupOutcome{}
	}

	risk := g.engine.RiskScore(findings)
	priority := scoring.PriorityFindings(findings, priorityFindingLimit)
	priorityIDs := make([]string, 0, len(priority))
	for _, f := range priority {
		priorityIDs = append(priorityIDs, f.ID)
	}

	controlsOut := make(map[string]models.ControlCoverage, len(in.Coverage))
	for id, cov := range in.Coverage {
		controlsOut[id] = cov
	}

	return &models.Report{
		ID:          in.Job.ID,
		GeneratedAt: now,
		Metadata:    meta,
		Findings:    findings,
		Controls:    controlsOut,
		Score:       in.Score,
		Analysis: models.Analysis{
			Summary:          summarize(len(findings), in.Score),
			RiskAssessment:   assessRisk(risk),
			RiskScore:        int(risk.Score + 0.5),
			Filter:           filterSummary,
			Notes:            notes(in, filterSummary),
			PriorityFindings: priorityIDs,
			ControlImpact:    scoring.ControlImpact(in.Coverage, g.catalog),
		},
		Recommendations: g.recommendations(in.Job.Source, meta.Ref, findings),
	}
}

// recommendations lists the first critical and high findings in priority
// order, each with the owning team of its control.
func (g *Generator) recommendations(src models.SourceDescriptor, ref string, findings []models.Finding) []models.Recommendation {
	out := []models.Recommendation{}
	for _, sev := range []models.Severity{models.SeverityCritical, models.SeverityHigh} {
		var matched []models.Finding
		for _, f := range findings {
			if f.Severity == sev {
				matched = append(matched, f)
			}
		}
		sort.SliceStable(matched, func(i, j int) bool { return models.Less(matched[i], matched[j]) })
		if len(matched) > recommendationsPerSeverity {
			matched = matched[:recommendationsPerSeverity]
		}

		for _, f := range matched {
			action := f.Recommendation
			if action == "" {
				action = defaultAction
			}
			rec := models.Recommendation{
				Priority:  sev,
				FindingID: f.ID,
				Type:      f.Type,
				ControlID: f.ControlID,
				FilePath:  f.FilePath,
				Line:      f.Line,
				Message:   f.Message,
				Action:    action,
			}
			if c, ok := g.catalog.Get(f.ControlID); ok {
				rec.Owner = c.Owner
			}
			if src.Kind == models.SourceGit {
				rec.Link = source.BlobURL(src.URL, ref, f.FilePath, f.Line)
			}
			out = append(out, rec)
		}
	}
	return out
}

func summarize(total int, score models.ScoreData) string {
	if total == 0 {
		return fmt.Sprintf("No findings. Readiness score %d/100 (grade %s) with all %d controls compliant.",
			score.OverallScore, score.Grade, score.ControlsTotal)
	}
	return fmt.Sprintf("%d findings. Readiness score %d/100 (grade %s), %d of %d controls compliant.",
		total, score.OverallScore, score.Grade, score.ControlsCompliant, score.ControlsTotal)
}

func assessRisk(r scoring.Risk) string {
	critical := r.Counts[models.SeverityCritical]
	high := r.Counts[models.SeverityHigh]

	switch {
	case critical > 5:
		return fmt.Sprintf("%s - %d critical issues require immediate attention", r.Level, critical)
	case critical > 0:
		return fmt.Sprintf("%s - %d critical issue(s) detected", r.Level, critical)
	case high > 0:
		return fmt.Sprintf("%s - %d high severity issue(s) to address", r.Level, high)
	default:
		return r.Level + " - no critical or high severity issues detected"
	}
}

func notes(in Input, fs models.FilterSummary) []string {
	out := []string{}

	if !in.Judged {
		out = append(out, "false positive filter disabled: judge not configured, all findings kept")
	} else {
		for _, g := range fs.Outcomes {
			if g.Status == models.GroupUnfiltered {
				out = append(out, fmt.Sprintf("%s: %d findings kept unfiltered (%s)", g.File, g.Candidates, g.Reason))
			}
		}
		if fs.Removed > 0 {
			out = append(out, fmt.Sprintf("%d findings dismissed as false positives", fs.Removed))
		}
	}

	if in.Scan != nil && len(in.Scan.Errors) > 0 {
		out = append(out, fmt.Sprintf("%d files could not be scanned", len(in.Scan.Errors)))
	}
	if in.Snapshot != nil && len(in.Snapshot.Skipped) > 0 {
		out = append(out, fmt.Sprintf("%d files skipped during collection", len(in.Snapshot.Skipped)))
	}
	return out
}
