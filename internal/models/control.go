package models

// UncategorizedControlID is the reserved control for findings no table entry
// claims.
const UncategorizedControlID = "UNCATEGORIZED"

// Control is one entry of the compliance catalog.
type Control struct {
	ID          string `json:"id" mapstructure:"id" yaml:"id"`
	Name        string `json:"name" mapstructure:"name" yaml:"name"`
	Description string `json:"description" mapstructure:"description" yaml:"description"`
	Weight      int    `json:"weight" mapstructure:"weight" yaml:"weight"`
	// PartialMaxFindings overrides the scoring default when positive.
	PartialMaxFindings int    `json:"partial_max_findings,omitempty" mapstructure:"partial_max_findings" yaml:"partial_max_findings,omitempty"`
	Owner              string `json:"owner,omitempty" mapstructure:"owner" yaml:"owner,omitempty"`
}

// ControlCoverage is the per-control result of scoring.
type ControlCoverage struct {
	ControlID      string        `json:"control_id"`
	Name           string        `json:"name"`
	FindingsCount  int           `json:"findings_count"`
	SeverityWeight int           `json:"severity_weight"`
	Status         ControlStatus `json:"status"`
	Score          int           `json:"score"`
}
