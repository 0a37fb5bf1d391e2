package storage

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/hakim/readyscan/internal/models"
)

// MemoryStore keeps jobs and reports in process memory. Values are deep
// copied through JSON so callers never share state with the store.
type MemoryStore struct {
	mu      sync.RWMutex
	jobs    map[string][]byte
	bySrc   map[string][]string
	reports map[string][]byte
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:    make(map[string][]byte),
		bySrc:   make(map[string][]string),
		reports: make(map[string][]byte),
	}
}

func (m *MemoryStore) CreateJob(job *models.ScanJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[job.ID]; ok {
		return fmt.Errorf("job %s already exists", job.ID)
	}
	m.jobs[job.ID] = data
	loc := job.Source.Location()
	m.bySrc[loc] = append(m.bySrc[loc], job.ID)
	return nil
}

func (m *MemoryStore) GetJob(id string) (*models.ScanJob, error) {
	m.mu.RLock()
	data, ok := m.jobs[id]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return decodeJob(data)
}

func (m *MemoryStore) UpdateJob(id string, fn func(*models.ScanJob) error) (*models.ScanJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, ok := m.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	job, err := decodeJob(data)
	if err != nil {
		return nil, err
	}
	if job.Status.IsTerminal() {
		return nil, ErrTerminal
	}
	if err := fn(job); err != nil {
		return nil, err
	}

	updated, err := json.Marshal(job)
	if err != nil {
		return nil, err
	}
	m.jobs[id] = updated
	return job, nil
}

func (m *MemoryStore) ListJobs() ([]*models.ScanJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	jobs := make([]*models.ScanJob, 0, len(m.jobs))
	for _, data := range m.jobs {
		job, err := decodeJob(data)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	sortJobs(jobs)
	return jobs, nil
}

func (m *MemoryStore) ListJobsBySource(location string) ([]*models.ScanJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var jobs []*models.ScanJob
	for _, id := range m.bySrc[location] {
		job, err := decodeJob(m.jobs[id])
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	sortJobs(jobs)
	return jobs, nil
}

func (m *MemoryStore) WriteReport(r *models.Report) (string, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return "", &models.SinkError{Op: "write", Err: err}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.reports[r.ID]; ok {
		return "", &models.SinkError{Op: "write", Err: fmt.Errorf("report %s already exists", r.ID)}
	}
	m.reports[r.ID] = data
	return "memory://reports/" + r.ID, nil
}

func (m *MemoryStore) ReadReport(id string) (*models.Report, error) {
	m.mu.RLock()
	data, ok := m.reports[id]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}

	var r models.Report
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, &models.SinkError{Op: "read", Err: err}
	}
	return &r, nil
}

func (m *MemoryStore) ListReportSummaries() ([]models.ReportSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.ReportSummary, 0, len(m.reports))
	for _, data := range m.reports {
		var r models.Report
		if err := json.Unmarshal(data, &r); err != nil {
			return nil, &models.SinkError{Op: "list", Err: err}
		}
		out = append(out, r.Summarize())
	}
	sortSummaries(out)
	return out, nil
}

func (m *MemoryStore) Close() error { return nil }

func decodeJob(data []byte) (*models.ScanJob, error) {
	var job models.ScanJob
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, err
	}
	return &job, nil
}
