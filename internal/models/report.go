package models

import "time"

// Report is the persisted result of a completed job.
type Report struct {
	ID              string                     `json:"id"`
	GeneratedAt     time.Time                  `json:"generated_at"`
	Metadata        Metadata                   `json:"metadata"`
	Findings        []Finding                  `json:"findings"`
	Controls        map[string]ControlCoverage `json:"controls"`
	Score           ScoreData                  `json:"score"`
	Analysis        Analysis                   `json:"analysis"`
	Recommendations []Recommendation           `json:"recommendations"`
}

// Metadata describes how a report was produced.
type Metadata struct {
	JobID           string            `json:"job_id"`
	SourceKind      SourceKind        `json:"source_kind"`
	Source          string            `json:"source"`
	Ref             string            `json:"ref,omitempty"`
	Preset          string            `json:"preset,omitempty"`
	Timestamp       time.Time         `json:"timestamp"`
	ScannerVersions map[string]string `json:"scanner_versions"`
	FilesScanned    int               `json:"files_scanned"`
	FilesSkipped    int               `json:"files_skipped"`
	ScannerErrors   []ScannerError    `json:"scanner_errors,omitempty"`
}

// SeverityImpact breaks down the severity deduction.
type SeverityImpact struct {
	Counts      map[Severity]int `json:"counts"`
	TotalWeight int              `json:"total_weight"`
	Deduction   int              `json:"deduction"`
}

// ScoreData is the output of the scoring engine.
type ScoreData struct {
	OverallScore      int            `json:"overall_score"`
	Grade             string         `json:"grade"`
	BaseScore         int            `json:"base_score"`
	CoverageScore     float64        `json:"coverage_score"`
	SeverityImpact    SeverityImpact `json:"severity_impact"`
	ControlScores     map[string]int `json:"control_scores"`
	ControlsCompliant int            `json:"controls_compliant"`
	ControlsTotal     int            `json:"controls_total"`
}

// GroupStatus is the terminal outcome of one judged file group.
type GroupStatus string

const (
	GroupValidated  GroupStatus = "validated"
	GroupUnfiltered GroupStatus = "unfiltered"
)

// GroupOutcome records what happened to one file group in the filter.
type GroupOutcome struct {
	File       string      `json:"file"`
	Status     GroupStatus `json:"status"`
	Reason     string      `json:"reason,omitempty"`
	Candidates int         `json:"candidates"`
	Removed    int         `json:"removed"`
}

// RemovedFinding is a finding the judge classified as a false positive.
type RemovedFinding struct {
	Finding Finding `json:"finding"`
	Reason  string  `json:"reason,omitempty"`
}

// FilterSummary is the false positive stage section of the analysis.
type FilterSummary struct {
	Enabled    bool             `json:"enabled"`
	Groups     int              `json:"groups"`
	Validated  int              `json:"validated"`
	Unfiltered int              `json:"unfiltered"`
	Removed    int              `json:"removed"`
	Outcomes   []GroupOutcome   `json:"outcomes"`
	Dismissed  []RemovedFinding `json:"dismissed,omitempty"`
}

// ControlImpact ranks controls by how much they hurt the score.
type ControlImpact struct {
	ControlID     string        `json:"control_id"`
	Name          string        `json:"name"`
	Status        ControlStatus `json:"status"`
	FindingsCount int           `json:"findings_count"`
	Score         int           `json:"score"`
	Owner         string        `json:"owner,omitempty"`
}

// Analysis is the narrative part of a report.
type Analysis struct {
	Summary          string          `json:"summary"`
	RiskAssessment   string          `json:"risk_assessment"`
	RiskScore        int             `json:"risk_score"`
	Filter           FilterSummary   `json:"filter"`
	Notes            []string        `json:"notes"`
	PriorityFindings []string        `json:"priority_findings"`
	ControlImpact    []ControlImpact `json:"control_impact"`
}

// Recommendation is a prioritized remediation item.
type Recommendation struct {
	Priority  Severity `json:"priority"`
	FindingID string   `json:"finding_id"`
	Type      string   `json:"type"`
	ControlID string   `json:"control_id"`
	FilePath  string   `json:"file_path"`
	Line      int      `json:"line"`
	Message   string   `json:"message"`
	Action    string   `json:"action"`
	Owner     string   `json:"owner,omitempty"`
	Link      string   `json:"link,omitempty"`
}

// ReportSummary is the listing view of a stored report.
type ReportSummary struct {
	JobID        string     `json:"job_id"`
	ReportID     string     `json:"report_id"`
	OverallScore int        `json:"overall_score"`
	Grade        string     `json:"grade"`
	FindingCount int        `json:"finding_count"`
	SourceKind   SourceKind `json:"source_kind"`
	Source       string     `json:"source"`
	GeneratedAt  time.Time  `json:"generated_at"`
}

// Summarize projects a report onto its listing view.
func (r *Report) Summarize() ReportSummary {
	return ReportSummary{
		JobID:        r.Metadata.JobID,
		ReportID:     r.ID,
		OverallScore: r.Score.OverallScore,
		Grade:        r.Score.Grade,
		FindingCount: len(r.Findings),
		SourceKind:   r.Metadata.SourceKind,
		Source:       r.Metadata.Source,
		GeneratedAt:  r.GeneratedAt,
	}
}
