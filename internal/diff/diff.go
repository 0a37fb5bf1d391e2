// Package diff computes the delta between two reports of the same source.
// Findings are matched by ID, which is derived from location and content, so
// an unchanged finding keeps its ID across runs.
package diff

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/hakim/readyscan/internal/models"
)

// LoadReport reads a report from a JSON file written by the report package.
func LoadReport(path string) (*models.Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	var r models.Report
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	return &r, nil
}

// ControlChange records a control whose status moved between reports.
type ControlChange struct {
	ControlID string               `json:"control_id"`
	Name      string               `json:"name"`
	Previous  models.ControlStatus `json:"previous"`
	Current   models.ControlStatus `json:"current"`
}

// Improved reports whether the control moved toward compliance.
func (c ControlChange) Improved() bool {
	return statusRank(c.Current) < statusRank(c.Previous)
}

// Result holds the complete delta between a previous and current report.
// All slice fields are non-nil so callers can range over them unconditionally.
type Result struct {
	PreviousID string `json:"previous_id"`
	CurrentID  string `json:"current_id"`

	NewFindings      []models.Finding `json:"new_findings"`
	ResolvedFindings []models.Finding `json:"resolved_findings"`
	ControlChanges   []ControlChange  `json:"control_changes"`

	PreviousScore int    `json:"previous_score"`
	CurrentScore  int    `json:"current_score"`
	ScoreDelta    int    `json:"score_delta"`
	PreviousGrade string `json:"previous_grade"`
	CurrentGrade  string `json:"current_grade"`

	PreviousFindingCount int `json:"previous_finding_count"`
	CurrentFindingCount  int `json:"current_finding_count"`
}

// Empty reports whether nothing changed between the two reports.
func (r *Result) Empty() bool {
	return len(r.NewFindings) == 0 &&
		len(r.ResolvedFindings) == 0 &&
		len(r.ControlChanges) == 0 &&
		r.ScoreDelta == 0
}

// Compare calculates the delta from previous to current. Both arguments must
// be non-nil; pass an empty report for the "no previous scan" case.
func Compare(previous, current *models.Report) *Result {
	r := &Result{
		PreviousID:           previous.ID,
		CurrentID:            current.ID,
		NewFindings:          []models.Finding{},
		ResolvedFindings:     []models.Finding{},
		ControlChanges:       []ControlChange{},
		PreviousScore:        previous.Score.OverallScore,
		CurrentScore:         current.Score.OverallScore,
		ScoreDelta:           current.Score.OverallScore - previous.Score.OverallScore,
		PreviousGrade:        previous.Score.Grade,
		CurrentGrade:         current.Score.Grade,
		PreviousFindingCount: len(previous.Findings),
		CurrentFindingCount:  len(current.Findings),
	}

	diffFindings(r, previous.Findings, current.Findings)
	diffControls(r, previous.Controls, current.Controls)
	return r
}

func diffFindings(r *Result, previous, current []models.Finding) {
	prevByID := make(map[string]bool, len(previous))
	for _, f := range previous {
		prevByID[f.ID] = true
	}
	currByID := make(map[string]bool, len(current))
	for _, f := range current {
		currByID[f.ID] = true
	}

	// New: in current but not in previous
	for _, f := range current {
		if !prevByID[f.ID] {
			r.NewFindings = append(r.NewFindings, f)
		}
	}

	// Resolved: in previous but not in current
	for _, f := range previous {
		if !currByID[f.ID] {
			r.ResolvedFindings = append(r.ResolvedFindings, f)
		}
	}

	sortBySeverity(r.NewFindings)
	sortBySeverity(r.ResolvedFindings)
}

func diffControls(r *Result, previous, current map[string]models.ControlCoverage) {
	ids := make(map[string]bool, len(current))
	for id := range previous {
		ids[id] = true
	}
	for id := range current {
		ids[id] = true
	}

	for id := range ids {
		prev, hadPrev := previous[id]
		curr, hasCurr := current[id]

		prevStatus, currStatus := models.ControlUnknown, models.ControlUnknown
		name := curr.Name
		if hadPrev {
			prevStatus = prev.Status
			if name == "" {
				name = prev.Name
			}
		}
		if hasCurr {
			currStatus = curr.Status
		}
		if prevStatus == currStatus {
			continue
		}
		r.ControlChanges = append(r.ControlChanges, ControlChange{
			ControlID: id,
			Name:      name,
			Previous:  prevStatus,
			Current:   currStatus,
		})
	}

	sort.Slice(r.ControlChanges, func(i, j int) bool {
		return r.ControlChanges[i].ControlID < r.ControlChanges[j].ControlID
	})
}

// sortBySeverity orders findings critical first, then by location.
func sortBySeverity(findings []models.Finding) {
	sort.SliceStable(findings, func(i, j int) bool {
		ri, rj := findings[i].Severity.Rank(), findings[j].Severity.Rank()
		if ri != rj {
			return ri < rj
		}
		return models.Less(findings[i], findings[j])
	})
}

// statusRank orders statuses from best to worst.
func statusRank(s models.ControlStatus) int {
	switch s {
	case models.ControlCompliant:
		return 0
	case models.ControlPartial:
		return 1
	case models.ControlNonCompliant:
		return 2
	default:
		return 3
	}
}
