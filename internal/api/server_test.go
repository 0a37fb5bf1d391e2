package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hakim/readyscan/internal/config"
	"github.com/hakim/readyscan/internal/controls"
	"github.com/hakim/readyscan/internal/issues"
	"github.com/hakim/readyscan/internal/models"
	"github.com/hakim/readyscan/internal/pipeline"
	"github.com/hakim/readyscan/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeService struct {
	catalog   *controls.Catalog
	started   []models.SourceDescriptor
	startErr  error
	jobs      map[string]*models.ScanJob
	reports   map[string]*models.Report
	pollErr   map[string]error
	summaries []models.ReportSummary
	cancelErr error
}

func newFakeService(t *testing.T) *fakeService {
	t.Helper()
	catalog, err := controls.NewCatalog(config.DefaultControls())
	require.NoError(t, err)
	return &fakeService{
		catalog: catalog,
		jobs:    map[string]*models.ScanJob{},
		reports: map[string]*models.Report{},
		pollErr: map[string]error{},
	}
}

func (f *fakeService) StartScan(_ context.Context, src models.SourceDescriptor) (string, error) {
	if f.startErr != nil {
		return "", f.startErr
	}
	f.started = append(f.started, src)
	return "job-1", nil
}

func (f *fakeService) Status(id string) (*models.ScanJob, error) {
	job, ok := f.jobs[id]
	if !ok {
		return nil, pipeline.ErrJobNotFound
	}
	return job, nil
}

func (f *fakeService) ListJobs() ([]*models.ScanJob, error) {
	var out []*models.ScanJob
	for _, j := range f.jobs {
		out = append(out, j)
	}
	return out, nil
}

func (f *fakeService) PollReport(id string) (*models.Report, error) {
	if err, ok := f.pollErr[id]; ok {
		return nil, err
	}
	r, ok := f.reports[id]
	if !ok {
		return nil, pipeline.ErrJobNotFound
	}
	return r, nil
}

func (f *fakeService) ListReportSummaries() ([]models.ReportSummary, error) {
	return f.summaries, nil
}

func (f *fakeService) Cancel(id string) error {
	if f.cancelErr != nil {
		return f.cancelErr
	}
	if _, ok := f.jobs[id]; !ok {
		return pipeline.ErrJobNotFound
	}
	return nil
}

func (f *fakeService) Catalog() *controls.Catalog { return f.catalog }

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) Error {
	t.Helper()
	var e Error
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &e))
	return e
}

func TestCreateScan(t *testing.T) {
	svc := newFakeService(t)
	h := NewServer(svc, Options{}, nil).Routes()

	rec := do(t, h, http.MethodPost, "/api/v1/scans", `{"kind":"git","url":"https://github.com/acme/app.git","ref":"main","token":"t0k"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "/api/v1/reports/job-1", rec.Header().Get("Location"))

	var resp ScanCreatedResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "job-1", resp.JobID)
	assert.Equal(t, models.StatusCreated, resp.Status)

	require.Len(t, svc.started, 1)
	assert.Equal(t, models.SourceGit, svc.started[0].Kind)
	assert.Equal(t, "main", svc.started[0].Ref)
	assert.Equal(t, "t0k", svc.started[0].Token)
}

func TestCreateScanBadRequests(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		startErr error
		wantMsg  string
		field    string
	}{
		{name: "empty body", body: "", wantMsg: "request body is empty"},
		{name: "malformed json", body: `{"kind":`, wantMsg: "invalid JSON body"},
		{name: "unknown field", body: `{"kind":"local","path":"/x","extra":1}`, wantMsg: "invalid JSON body"},
		{
			name:     "input error",
			body:     `{"kind":"local"}`,
			startErr: &models.InputError{Field: "path", Reason: "is required"},
			wantMsg:  "invalid input: path: is required",
			field:    "path",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newFakeService(t)
			svc.startErr = tt.startErr
			h := NewServer(svc, Options{}, nil).Routes()

			rec := do(t, h, http.MethodPost, "/api/v1/scans", tt.body)
			require.Equal(t, http.StatusBadRequest, rec.Code)
			e := decodeError(t, rec)
			assert.Equal(t, CodeInvalidInput, e.Code)
			assert.Equal(t, tt.wantMsg, e.Message)
			if tt.field != "" {
				assert.Equal(t, tt.field, e.Details["field"])
			}
		})
	}
}

func TestGetReportStates(t *testing.T) {
	svc := newFakeService(t)
	svc.reports["done"] = &models.Report{ID: "done", Score: models.ScoreData{OverallScore: 88, Grade: "B"}}
	svc.pollErr["running"] = pipeline.ErrNotReady
	svc.pollErr["broken"] = &pipeline.JobFailedError{JobID: "broken", Reason: "acquire stage: source path does not exist"}
	svc.pollErr["store"] = errors.New("bolt: database not open")
	h := NewServer(svc, Options{}, nil).Routes()

	rec := do(t, h, http.MethodGet, "/api/v1/reports/done", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var r models.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &r))
	assert.Equal(t, 88, r.Score.OverallScore)

	rec = do(t, h, http.MethodGet, "/api/v1/reports/running", "")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, CodeNotReady, decodeError(t, rec).Code)

	rec = do(t, h, http.MethodGet, "/api/v1/reports/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, CodeNotFound, decodeError(t, rec).Code)

	rec = do(t, h, http.MethodGet, "/api/v1/reports/broken", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	e := decodeError(t, rec)
	assert.Equal(t, CodeFailed, e.Code)
	assert.Equal(t, "acquire stage: source path does not exist", e.Details["reason"])

	rec = do(t, h, http.MethodGet, "/api/v1/reports/store", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	e = decodeError(t, rec)
	assert.Equal(t, CodeInternal, e.Code)
	assert.NotContains(t, e.Message, "bolt")
}

func TestScanStatusAndCancel(t *testing.T) {
	svc := newFakeService(t)
	svc.jobs["j1"] = &models.ScanJob{ID: "j1", Status: models.StatusRunning}
	h := NewServer(svc, Options{}, nil).Routes()

	rec := do(t, h, http.MethodGet, "/api/v1/scans/j1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var job models.ScanJob
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
	assert.Equal(t, models.StatusRunning, job.Status)

	rec = do(t, h, http.MethodGet, "/api/v1/scans/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/v1/scans/", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list ListResponse[models.ScanJob]
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Equal(t, 1, list.Total)

	rec = do(t, h, http.MethodDelete, "/api/v1/scans/j1", "")
	assert.Equal(t, http.StatusAccepted, rec.Code)

	svc.cancelErr = pipeline.ErrJobFinished
	rec = do(t, h, http.MethodDelete, "/api/v1/scans/j1", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, CodeConflict, decodeError(t, rec).Code)
}

func TestListEndpoints(t *testing.T) {
	svc := newFakeService(t)
	svc.summaries = []models.ReportSummary{{JobID: "a", ReportID: "a", OverallScore: 90, Grade: "A"}}
	h := NewServer(svc, Options{}, nil).Routes()

	rec := do(t, h, http.MethodGet, "/api/v1/reports", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var reports ListResponse[models.ReportSummary]
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &reports))
	require.Len(t, reports.Data, 1)
	assert.Equal(t, "A", reports.Data[0].Grade)

	rec = do(t, h, http.MethodGet, "/api/v1/controls", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var ctrls ListResponse[models.Control]
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ctrls))
	assert.Equal(t, 10, ctrls.Total)

	svc.summaries = nil
	rec = do(t, h, http.MethodGet, "/api/v1/reports", "")
	assert.JSONEq(t, `{"data":[],"total":0}`, rec.Body.String())
}

type fakeFiler struct {
	report     *models.Report
	findingIDs []string
	token      string
	err        error
}

func (f *fakeFiler) FileReport(_ context.Context, r *models.Report, _ *controls.Catalog, findingIDs []string, token string) ([]issues.Issue, error) {
	f.report, f.findingIDs, f.token = r, findingIDs, token
	if f.err != nil {
		return nil, f.err
	}
	out := make([]issues.Issue, 0, len(r.Recommendations))
	for i, rec := range r.Recommendations {
		out = append(out, issues.Issue{FindingID: rec.FindingID, Number: i + 1})
	}
	return out, nil
}

func TestFileIssues(t *testing.T) {
	svc := newFakeService(t)
	svc.reports["done"] = &models.Report{ID: "done", Recommendations: []models.Recommendation{{FindingID: "f1"}, {FindingID: "f2"}}}
	svc.pollErr["running"] = pipeline.ErrNotReady

	filer := &fakeFiler{}
	h := NewServer(svc, Options{Issues: filer}, nil).Routes()

	rec := do(t, h, http.MethodPost, "/api/v1/reports/done/issues", `{"finding_ids":["f2"],"token":"gh-tok"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp ListResponse[issues.Issue]
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Total)
	assert.Equal(t, "done", filer.report.ID)
	assert.Equal(t, []string{"f2"}, filer.findingIDs)
	assert.Equal(t, "gh-tok", filer.token)

	rec = do(t, h, http.MethodPost, "/api/v1/reports/done/issues", "")
	require.Equal(t, http.StatusOK, rec.Code, "an empty body files every recommendation")
	assert.Empty(t, filer.findingIDs)

	rec = do(t, h, http.MethodPost, "/api/v1/reports/running/issues", "")
	assert.Equal(t, http.StatusAccepted, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/v1/reports/missing/issues", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	for _, err := range []error{issues.ErrNoToken, issues.ErrNotGitHub, issues.ErrUnknownFinding} {
		filer.err = err
		rec = do(t, h, http.MethodPost, "/api/v1/reports/done/issues", "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, CodeInvalidInput, decodeError(t, rec).Code)
	}

	disabled := NewServer(svc, Options{}, nil).Routes()
	rec = do(t, disabled, http.MethodPost, "/api/v1/reports/done/issues", "")
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
	assert.Equal(t, CodeUnavailable, decodeError(t, rec).Code)
}

func TestHealthMetricsAndUnknownRoutes(t *testing.T) {
	h := NewServer(newFakeService(t), Options{}, nil).Routes()

	rec := do(t, h, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = do(t, h, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")

	rec = do(t, h, http.MethodGet, "/api/v1/nothing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, CodeNotFound, decodeError(t, rec).Code)

	rec = do(t, h, http.MethodPut, "/api/v1/controls", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestEndToEndWithOrchestrator(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.ReportDir = ""
	o, err := pipeline.New(cfg, pipeline.Deps{Store: storage.NewMemoryStore()})
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = o.Shutdown(ctx)
	})

	srv := httptest.NewServer(NewServer(o, Options{}, nil).Routes())
	defer srv.Close()

	body, err := json.Marshal(ScanRequest{Kind: models.SourceLocal, Path: t.TempDir()})
	require.NoError(t, err)
	resp, err := http.Post(srv.URL+"/api/v1/scans", "application/json", strings.NewReader(string(body)))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var created ScanCreatedResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, o.Wait(ctx, created.JobID))

	got, err := http.Get(srv.URL + "/api/v1/reports/" + created.JobID)
	require.NoError(t, err)
	defer got.Body.Close()
	require.Equal(t, http.StatusOK, got.StatusCode)

	var r models.Report
	require.NoError(t, json.NewDecoder(got.Body).Decode(&r))
	assert.Equal(t, created.JobID, r.ID)
	assert.Equal(t, 100, r.Score.OverallScore)
	assert.Equal(t, "A", r.Score.Grade)
}
