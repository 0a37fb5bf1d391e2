package storage

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hakim/readyscan/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stores(t *testing.T) map[string]Store {
	t.Helper()
	bolt, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { bolt.Close() })

	return map[string]Store{
		"bolt":   bolt,
		"memory": NewMemoryStore(),
	}
}

func job(id, path string, created time.Time) *models.ScanJob {
	return &models.ScanJob{
		ID:        id,
		Status:    models.StatusCreated,
		CreatedAt: created,
		Source:    models.SourceDescriptor{Kind: models.SourceLocal, Path: path},
	}
}

func report(id string, generated time.Time, score int) *models.Report {
	return &models.Report{
		ID:          id,
		GeneratedAt: generated,
		Metadata:    models.Metadata{JobID: id, SourceKind: models.SourceLocal, Source: "/srv/app"},
		Findings: []models.Finding{{
			ID: "f1", Kind: models.KindSecret, Type: "aws_access_key", Severity: models.SeverityCritical,
			FilePath: "a.py", Line: 1, Message: strings.Repeat("compressible ", 50), ControlID: "CC9",
			Secret: &models.SecretDetail{RuleID: "aws_access_key"},
		}},
		Controls: map[string]models.ControlCoverage{"CC9": {ControlID: "CC9", Status: models.ControlNonCompliant}},
		Score:    models.ScoreData{OverallScore: score, Grade: "B"},
	}
}

func TestJobLifecycle(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.CreateJob(job("j1", "/srv/app", base)))
			require.NoError(t, s.CreateJob(job("j2", "/srv/app", base.Add(time.Minute))))
			require.NoError(t, s.CreateJob(job("j3", "/srv/other", base.Add(2*time.Minute))))
			assert.Error(t, s.CreateJob(job("j1", "/srv/app", base)), "duplicate id")

			got, err := s.GetJob("j1")
			require.NoError(t, err)
			assert.Equal(t, models.StatusCreated, got.Status)

			_, err = s.GetJob("nope")
			assert.ErrorIs(t, err, ErrNotFound)

			updated, err := s.UpdateJob("j1", func(j *models.ScanJob) error {
				j.Status = models.StatusCompleted
				j.ReportID = "j1"
				return nil
			})
			require.NoError(t, err)
			assert.Equal(t, "j1", updated.ReportID)

			_, err = s.UpdateJob("j1", func(j *models.ScanJob) error {
				j.Status = models.StatusRunning
				return nil
			})
			assert.ErrorIs(t, err, ErrTerminal, "terminal jobs are immutable")

			_, err = s.UpdateJob("j2", func(*models.ScanJob) error { return errors.New("abort") })
			assert.Error(t, err)
			j2, err := s.GetJob("j2")
			require.NoError(t, err)
			assert.Equal(t, models.StatusCreated, j2.Status, "failed update leaves job untouched")

			all, err := s.ListJobs()
			require.NoError(t, err)
			require.Len(t, all, 3)
			assert.Equal(t, "j3", all[0].ID)

			bySrc, err := s.ListJobsBySource("/srv/app")
			require.NoError(t, err)
			require.Len(t, bySrc, 2)
			assert.Equal(t, "j2", bySrc[0].ID)
		})
	}
}

func TestReportRoundTrip(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			in := report("r1", base, 84)
			loc, err := s.WriteReport(in)
			require.NoError(t, err)
			assert.Contains(t, loc, "r1")

			out, err := s.ReadReport("r1")
			require.NoError(t, err)
			assert.Equal(t, in, out)

			again, err := s.ReadReport("r1")
			require.NoError(t, err)
			assert.Equal(t, out, again)

			_, err = s.WriteReport(in)
			var sinkErr *models.SinkError
			assert.ErrorAs(t, err, &sinkErr, "reports are write once")

			_, err = s.ReadReport("missing")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestListReportSummariesNewestFirst(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			empty, err := s.ListReportSummaries()
			require.NoError(t, err)
			assert.Empty(t, empty)

			_, err = s.WriteReport(report("old", base, 70))
			require.NoError(t, err)
			_, err = s.WriteReport(report("new", base.Add(time.Hour), 90))
			require.NoError(t, err)

			got, err := s.ListReportSummaries()
			require.NoError(t, err)
			require.Len(t, got, 2)
			assert.Equal(t, "new", got[0].ReportID)
			assert.Equal(t, 90, got[0].OverallScore)
			assert.Equal(t, 1, got[0].FindingCount)
			assert.Equal(t, "/srv/app", got[0].Source)
		})
	}
}

func TestBoltPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "persist.db")

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.CreateJob(job("j1", "/srv/app", time.Now().UTC())))
	_, err = s.WriteReport(report("j1", time.Now().UTC(), 80))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()

	_, err = s.GetJob("j1")
	assert.NoError(t, err)
	r, err := s.ReadReport("j1")
	require.NoError(t, err)
	assert.Equal(t, 80, r.Score.OverallScore)
}

func TestReportDirPath(t *testing.T) {
	at := time.Date(2026, 3, 1, 9, 5, 7, 0, time.UTC)
	got := ReportDirPath("/out", "https://github.com/acme/app.git", at)
	assert.Equal(t, filepath.Join("/out", "https_github.com_acme_app.git_20260301_090507"), got)

	dir, err := CreateReportDir(t.TempDir(), "/srv/app", at)
	require.NoError(t, err)
	assert.DirExists(t, dir)
}
