package storage

import (
	"time"

	"github.com/klauspost/compress/zstd"
	"go.etcd.io/bbolt"
)

const (
	bucketJobs        = "jobs"
	bucketJobIndex    = "job_index"
	bucketReports     = "reports"
	bucketSummaries   = "report_summaries"
	reportLocationFmt = "bolt://%s/reports/%s"
)

// BoltStore wraps a bbolt database for job and report persistence. Reports
// are stored as zstd compressed JSON.
type BoltStore struct {
	db   *bbolt.DB
	path string
	enc  *zstd.Encoder
	dec  *zstd.Decoder
}

// Open opens a bbolt database at the given path and initializes required buckets
func Open(path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, err
	}

	// Create required buckets
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{bucketJobs, bucketJobIndex, bucketReports, bucketSummaries} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		db.Close()
		return nil, err
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db, path: path, enc: enc, dec: dec}, nil
}

// Close closes the bbolt database
func (s *BoltStore) Close() error {
	s.dec.Close()
	if err := s.enc.Close(); err != nil {
		s.db.Close()
		return err
	}
	return s.db.Close()
}
