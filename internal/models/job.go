package models

import (
	"time"

	"github.com/google/uuid"
)

// SourceDescriptor names the files a job scans.
type SourceDescriptor struct {
	Kind   SourceKind `json:"kind" validate:"required,oneof=local git"`
	Path   string     `json:"path,omitempty" validate:"required_if=Kind local"`
	URL    string     `json:"url,omitempty" validate:"required_if=Kind git,omitempty,url"`
	Ref    string     `json:"ref,omitempty" validate:"omitempty,max=255"`
	Preset string     `json:"preset,omitempty"`
	// Token authenticates private clones and is never persisted.
	Token string `json:"-"`
}

// Location returns the path or URL the descriptor points at.
func (s SourceDescriptor) Location() string {
	if s.Kind == SourceGit {
		return s.URL
	}
	return s.Path
}

// ScanJob is one scan execution. It is immutable once Status is terminal.
type ScanJob struct {
	ID          string           `json:"id"`
	Status      JobStatus        `json:"status"`
	CreatedAt   time.Time        `json:"created_at"`
	StartedAt   *time.Time       `json:"started_at,omitempty"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
	Source      SourceDescriptor `json:"source"`
	ReportID    string           `json:"report_id,omitempty"`
	Error       string           `json:"error,omitempty"`
	StagesRun   []string         `json:"stages_run,omitempty"`
}

// NewJob creates a job in the created state.
func NewJob(src SourceDescriptor) *ScanJob {
	return &ScanJob{
		ID:        uuid.New().String(),
		Status:    StatusCreated,
		CreatedAt: time.Now().UTC(),
		Source:    src,
		StagesRun: []string{},
	}
}
