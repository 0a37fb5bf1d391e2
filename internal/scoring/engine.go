// Package scoring turns a final finding set into a readiness score. Every
// function here is pure: identical findings and configuration always produce
// identical output.
package scoring

import (
	"errors"
	"math"
	"sort"

	"github.com/hakim/readyscan/internal/config"
	"github.com/hakim/readyscan/internal/controls"
	"github.com/hakim/readyscan/internal/models"
)

const (
	partialControlScore = 70
	perFindingPenalty   = 10

	// riskScale is the total severity weight treated as maximum risk.
	riskScale = 200
)

// Risk levels reported by RiskScore.
const (
	RiskCritical = "Critical"
	RiskHigh     = "High"
	RiskMedium   = "Medium"
	RiskLow      = "Low"
)

// Engine computes scores with a fixed configuration.
type Engine struct {
	cfg     config.ScoringConfig
	weights map[models.Severity]int
}

// NewEngine validates cfg. A malformed configuration is a *models.ScoringError.
func NewEngine(cfg config.ScoringConfig) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, &models.ScoringError{Err: err}
	}
	weights := make(map[models.Severity]int, len(models.Severities))
	for _, sev := range models.Severities {
		weights[sev] = cfg.SeverityWeights[string(sev)]
	}
	return &Engine{cfg: cfg, weights: weights}, nil
}

// Weight returns the configured deduction weight of a severity.
func (e *Engine) Weight(s models.Severity) int {
	return e.weights[s]
}

// Score computes the score and per control coverage. Findings whose control
// is not in the catalog count toward the uncategorized control.
func (e *Engine) Score(findings []models.Finding, catalog *controls.Catalog) (models.ScoreData, map[string]models.ControlCoverage, error) {
	if catalog == nil || catalog.Len() == 0 {
		return models.ScoreData{}, nil, &models.ScoringError{Err: errors.New("empty control catalog")}
	}

	impact := models.SeverityImpact{Counts: make(map[models.Severity]int, len(models.Severities))}
	for _, sev := range models.Severities {
		impact.Counts[sev] = 0
	}

	type tally struct{ count, weight int }
	perControl := make(map[string]*tally, catalog.Len())
	for _, c := range catalog.Controls() {
		perControl[c.ID] = &tally{}
	}

	for _, f := range findings {
		w := e.weights[f.Severity]
		impact.Counts[f.Severity]++
		impact.TotalWeight += w

		id := f.ControlID
		if !catalog.Has(id) {
			id = models.UncategorizedControlID
		}
		t := perControl[id]
		t.count++
		t.weight += w
	}

	impact.Deduction = min(impact.TotalWeight, e.cfg.DeductionCap)
	base := max(0, 100-impact.Deduction)

	coverage := make(map[string]models.ControlCoverage, catalog.Len())
	scores := make(map[string]int, catalog.Len())
	compliant := 0
	for _, c := range catalog.Controls() {
		t := perControl[c.ID]
		status, score := e.controlStatus(c, t.count, t.weight)
		if status == models.ControlCompliant {
			compliant++
		}
		coverage[c.ID] = models.ControlCoverage{
			ControlID:      c.ID,
			Name:           c.Name,
			FindingsCount:  t.count,
			SeverityWeight: t.weight,
			Status:         status,
			Score:          score,
		}
		scores[c.ID] = score
	}

	total := catalog.Len()
	var coverageScore float64
	if total > 0 {
		coverageScore = 100 * float64(compliant) / float64(total)
	}

	overall := roundHalfUp(e.cfg.BaseWeight*float64(base) + e.cfg.CoverageWeight*coverageScore)
	overall = max(0, min(100, overall))

	data := models.ScoreData{
		OverallScore:      overall,
		Grade:             e.Grade(overall),
		BaseScore:         base,
		CoverageScore:     math.Round(coverageScore*10) / 10,
		SeverityImpact:    impact,
		ControlScores:     scores,
		ControlsCompliant: compliant,
		ControlsTotal:     total,
	}
	return data, coverage, nil
}

// controlStatus classifies one control. A control is partial while it stays
// under both the finding count and the severity weight thresholds.
func (e *Engine) controlStatus(c models.Control, count, weight int) (models.ControlStatus, int) {
	if count == 0 {
		return models.ControlCompliant, 100
	}

	maxFindings := c.PartialMaxFindings
	if maxFindings == 0 {
		maxFindings = e.cfg.PartialMaxFindings
	}
	if count < maxFindings && weight < e.cfg.PartialMaxWeight {
		return models.ControlPartial, partialControlScore
	}
	return models.ControlNonCompliant, max(0, 100-perFindingPenalty*count-weight)
}

// Grade maps an overall score to a letter.
func (e *Engine) Grade(score int) string {
	g := e.cfg.Grades
	switch {
	case score >= g.A:
		return "A"
	case score >= g.B:
		return "B"
	case score >= g.C:
		return "C"
	case score >= g.D:
		return "D"
	default:
		return "F"
	}
}

// Risk is a severity weighted risk estimate where higher is worse.
type Risk struct {
	Score  float64
	Level  string
	Counts map[models.Severity]int
}

// RiskScore normalizes the non informational severity weight to 0-100.
func (e *Engine) RiskScore(findings []models.Finding) Risk {
	counts := make(map[models.Severity]int, len(models.Severities))
	weight := 0
	for _, f := range findings {
		counts[f.Severity]++
		if f.Severity != models.SeverityInfo {
			weight += e.weights[f.Severity]
		}
	}

	score := math.Min(100, float64(weight)*100/riskScale)
	score = math.Round(score*10) / 10

	level := RiskLow
	switch {
	case score >= 75:
		level = RiskCritical
	case score >= 50:
		level = RiskHigh
	case score >= 25:
		level = RiskMedium
	}
	return Risk{Score: score, Level: level, Counts: counts}
}

// PriorityFindings returns up to limit findings ordered by severity, then
// file and line. The input is not modified.
func PriorityFindings(findings []models.Finding, limit int) []models.Finding {
	sorted := append([]models.Finding(nil), findings...)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if ra, rb := a.Severity.Rank(), b.Severity.Rank(); ra != rb {
			return ra < rb
		}
		return models.Less(a, b)
	})
	if limit >= 0 && len(sorted) > limit {
		sorted = sorted[:limit]
	}
	return sorted
}

// ControlImpact ranks controls by score, worst first. Compliant controls are
// omitted.
func ControlImpact(coverage map[string]models.ControlCoverage, catalog *controls.Catalog) []models.ControlImpact {
	var out []models.ControlImpact
	for _, c := range catalog.Controls() {
		cov, ok := coverage[c.ID]
		if !ok || cov.Status == models.ControlCompliant {
			continue
		}
		out = append(out, models.ControlImpact{
			ControlID:     c.ID,
			Name:          c.Name,
			Status:        cov.Status,
			FindingsCount: cov.FindingsCount,
			Score:         cov.Score,
			Owner:         c.Owner,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score < out[j].Score
		}
		return out[i].ControlID < out[j].ControlID
	})
	return out
}

// roundHalfUp rounds to the nearest integer with .5 going up. The epsilon
// absorbs float error such as 89.49999999.
func roundHalfUp(x float64) int {
	return int(math.Floor(x + 0.5 + 1e-9))
}
