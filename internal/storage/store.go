// Package storage persists jobs and reports.
package storage

import (
	"errors"
	"sort"

	"github.com/hakim/readyscan/internal/models"
)

var (
	// ErrNotFound is returned when a job or report does not exist.
	ErrNotFound = errors.New("not found")
	// ErrTerminal is returned when an update targets a completed or failed job.
	ErrTerminal = errors.New("job is terminal")
)

// JobStore holds job records. Implementations are safe for concurrent use.
type JobStore interface {
	CreateJob(job *models.ScanJob) error
	GetJob(id string) (*models.ScanJob, error)
	// UpdateJob applies fn to the stored job atomically. It returns
	// ErrTerminal without calling fn when the job is already terminal.
	UpdateJob(id string, fn func(*models.ScanJob) error) (*models.ScanJob, error)
	ListJobs() ([]*models.ScanJob, error)
	ListJobsBySource(location string) ([]*models.ScanJob, error)
}

// ReportStore is the report sink.
type ReportStore interface {
	WriteReport(r *models.Report) (string, error)
	ReadReport(id string) (*models.Report, error)
	ListReportSummaries() ([]models.ReportSummary, error)
}

// Store combines job and report persistence.
type Store interface {
	JobStore
	ReportStore
	Close() error
}

// sortJobs orders jobs newest first.
func sortJobs(jobs []*models.ScanJob) {
	sort.Slice(jobs, func(i, j int) bool {
		if !jobs[i].CreatedAt.Equal(jobs[j].CreatedAt) {
			return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
		}
		return jobs[i].ID < jobs[j].ID
	})
}

// sortSummaries orders report summaries newest first.
func sortSummaries(s []models.ReportSummary) {
	sort.Slice(s, func(i, j int) bool {
		if !s[i].GeneratedAt.Equal(s[j].GeneratedAt) {
			return s[i].GeneratedAt.After(s[j].GeneratedAt)
		}
		return s[i].ReportID < s[j].ReportID
	})
}
