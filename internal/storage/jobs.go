package storage

import (
	"encoding/json"
	"fmt"

	"github.com/hakim/readyscan/internal/models"
	"go.etcd.io/bbolt"
)

// CreateJob persists a new job record and indexes it by source location.
func (s *BoltStore) CreateJob(job *models.ScanJob) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		jobs := tx.Bucket([]byte(bucketJobs))
		if jobs.Get([]byte(job.ID)) != nil {
			return fmt.Errorf("job %s already exists", job.ID)
		}
		if err := putJSON(jobs, job.ID, job); err != nil {
			return err
		}

		// Update job index (source -> []job_id mapping)
		index := tx.Bucket([]byte(bucketJobIndex))
		key := []byte(job.Source.Location())

		var ids []string
		if existing := index.Get(key); existing != nil {
			if err := json.Unmarshal(existing, &ids); err != nil {
				return err
			}
		}
		ids = append(ids, job.ID)

		data, err := json.Marshal(ids)
		if err != nil {
			return err
		}
		return index.Put(key, data)
	})
}

// GetJob retrieves a job record by ID
func (s *BoltStore) GetJob(id string) (*models.ScanJob, error) {
	var job *models.ScanJob

	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(bucketJobs)).Get([]byte(id))
		if data == nil {
			return ErrNotFound
		}
		job = &models.ScanJob{}
		return json.Unmarshal(data, job)
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// UpdateJob applies fn to the stored job inside one write transaction.
func (s *BoltStore) UpdateJob(id string, fn func(*models.ScanJob) error) (*models.ScanJob, error) {
	var job models.ScanJob

	err := s.db.Update(func(tx *bbolt.Tx) error {
		jobs := tx.Bucket([]byte(bucketJobs))

		// Retrieve existing job
		data := jobs.Get([]byte(id))
		if data == nil {
			return ErrNotFound
		}
		if err := json.Unmarshal(data, &job); err != nil {
			return err
		}
		if job.Status.IsTerminal() {
			return ErrTerminal
		}

		if err := fn(&job); err != nil {
			return err
		}
		return putJSON(jobs, id, &job)
	})
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// ListJobs returns every job, newest first.
func (s *BoltStore) ListJobs() ([]*models.ScanJob, error) {
	var jobs []*models.ScanJob

	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucketJobs)).ForEach(func(_, v []byte) error {
			var job models.ScanJob
			if err := json.Unmarshal(v, &job); err != nil {
				return err
			}
			jobs = append(jobs, &job)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sortJobs(jobs)
	return jobs, nil
}

// ListJobsBySource returns the jobs for one source location, newest first.
func (s *BoltStore) ListJobsBySource(location string) ([]*models.ScanJob, error) {
	var jobs []*models.ScanJob

	err := s.db.View(func(tx *bbolt.Tx) error {
		// Get job IDs from index
		data := tx.Bucket([]byte(bucketJobIndex)).Get([]byte(location))
		if data == nil {
			return nil // No jobs for this source
		}

		var ids []string
		if err := json.Unmarshal(data, &ids); err != nil {
			return err
		}

		// Retrieve each job
		bucket := tx.Bucket([]byte(bucketJobs))
		for _, id := range ids {
			raw := bucket.Get([]byte(id))
			if raw == nil {
				continue
			}
			var job models.ScanJob
			if err := json.Unmarshal(raw, &job); err != nil {
				return err
			}
			jobs = append(jobs, &job)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sortJobs(jobs)
	return jobs, nil
}

func putJSON(b *bbolt.Bucket, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.Put([]byte(key), data)
}
