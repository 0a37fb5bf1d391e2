package storage

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hakim/readyscan/internal/models"
	"go.etcd.io/bbolt"
)

// WriteReport stores a compressed report and its summary. Reports are
// immutable: writing an ID twice is an error.
func (s *BoltStore) WriteReport(r *models.Report) (string, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return "", &models.SinkError{Op: "write", Err: err}
	}
	compressed := s.enc.EncodeAll(data, nil)

	err = s.db.Update(func(tx *bbolt.Tx) error {
		reports := tx.Bucket([]byte(bucketReports))
		if reports.Get([]byte(r.ID)) != nil {
			return fmt.Errorf("report %s already exists", r.ID)
		}
		if err := reports.Put([]byte(r.ID), compressed); err != nil {
			return err
		}
		return putJSON(tx.Bucket([]byte(bucketSummaries)), r.ID, r.Summarize())
	})
	if err != nil {
		return "", &models.SinkError{Op: "write", Err: err}
	}
	return fmt.Sprintf(reportLocationFmt, s.path, r.ID), nil
}

// ReadReport returns the report with the given ID or ErrNotFound.
func (s *BoltStore) ReadReport(id string) (*models.Report, error) {
	var compressed []byte

	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(bucketReports)).Get([]byte(id))
		if data == nil {
			return ErrNotFound
		}
		// bbolt memory is only valid inside the transaction
		compressed = append([]byte(nil), data...)
		return nil
	})
	if errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, &models.SinkError{Op: "read", Err: err}
	}

	data, err := s.dec.DecodeAll(compressed, nil)
	if err != nil {
		return nil, &models.SinkError{Op: "read", Err: fmt.Errorf("decompressing report %s: %w", id, err)}
	}

	var r models.Report
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, &models.SinkError{Op: "read", Err: fmt.Errorf("decoding report %s: %w", id, err)}
	}
	return &r, nil
}

// ListReportSummaries returns every report summary, newest first.
func (s *BoltStore) ListReportSummaries() ([]models.ReportSummary, error) {
	summaries := []models.ReportSummary{}

	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucketSummaries)).ForEach(func(_, v []byte) error {
			var sum models.ReportSummary
			if err := json.Unmarshal(v, &sum); err != nil {
				return err
			}
			summaries = append(summaries, sum)
			return nil
		})
	})
	if err != nil {
		return nil, &models.SinkError{Op: "list", Err: err}
	}

	sortSummaries(summaries)
	return summaries, nil
}
