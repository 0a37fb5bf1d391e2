package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hakim/readyscan/internal/models"
)

// maxBodyBytes bounds scan request bodies.
const maxBodyBytes = 1 << 20

// ScanRequest is the body of POST /api/v1/scans.
type ScanRequest struct {
	Kind   models.SourceKind `json:"kind"`
	Path   string            `json:"path,omitempty"`
	URL    string            `json:"url,omitempty"`
	Ref    string            `json:"ref,omitempty"`
	Preset string            `json:"preset,omitempty"`
	Token  string            `json:"token,omitempty"`
}

func (req ScanRequest) source() models.SourceDescriptor {
	return models.SourceDescriptor{
		Kind:   req.Kind,
		Path:   req.Path,
		URL:    req.URL,
		Ref:    req.Ref,
		Preset: req.Preset,
		Token:  req.Token,
	}
}

// IssueRequest is the body of POST /api/v1/reports/{id}/issues. An empty
// FindingIDs files every recommendation.
type IssueRequest struct {
	FindingIDs []string `json:"finding_ids,omitempty"`
	Token      string   `json:"token,omitempty"`
}

// ScanCreatedResponse is returned when a scan is accepted.
type ScanCreatedResponse struct {
	JobID  string           `json:"job_id"`
	Status models.JobStatus `json:"status"`
}

// ListResponse wraps collection responses.
type ListResponse[T any] struct {
	Data  []T `json:"data"`
	Total int `json:"total"`
}

func newList[T any](items []T) ListResponse[T] {
	if items == nil {
		items = []T{}
	}
	return ListResponse[T]{Data: items, Total: len(items)}
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// createScan handles POST /api/v1/scans.
func (s *Server) createScan(w http.ResponseWriter, r *http.Request) {
	var req ScanRequest
	if !decodeBody(w, r, &req, false) {
		return
	}

	id, err := s.svc.StartScan(r.Context(), req.source())
	if err != nil {
		s.handleServiceError(w, r, err)
		return
	}

	w.Header().Set("Location", "/api/v1/reports/"+id)
	writeJSON(w, http.StatusAccepted, ScanCreatedResponse{JobID: id, Status: models.StatusCreated})
}

// decodeBody reads a bounded JSON body into v, answering 400 on failure.
// With allowEmpty an absent body leaves v at its zero value.
func decodeBody(w http.ResponseWriter, r *http.Request, v any, allowEmpty bool) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	err := dec.Decode(v)
	if err == nil || (allowEmpty && errors.Is(err, io.EOF)) {
		return true
	}
	msg := "invalid JSON body"
	if errors.Is(err, io.EOF) {
		msg = "request body is empty"
	}
	writeError(w, http.StatusBadRequest, Error{Code: CodeInvalidInput, Message: msg})
	return false
}

// listScans handles GET /api/v1/scans.
func (s *Server) listScans(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.svc.ListJobs()
	if err != nil {
		s.handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newList(jobs))
}

// getScan handles GET /api/v1/scans/{id}.
func (s *Server) getScan(w http.ResponseWriter, r *http.Request) {
	job, err := s.svc.Status(chi.URLParam(r, "id"))
	if err != nil {
		s.handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// cancelScan handles DELETE /api/v1/scans/{id}.
func (s *Server) cancelScan(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.svc.Cancel(id); err != nil {
		s.handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": id, "status": "cancel_requested"})
}

// getReport handles GET /api/v1/reports/{id}. A job that is still running
// answers 202 so clients can keep polling.
func (s *Server) getReport(w http.ResponseWriter, r *http.Request) {
	report, err := s.svc.PollReport(chi.URLParam(r, "id"))
	if err != nil {
		s.handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// listReports handles GET /api/v1/reports.
func (s *Server) listReports(w http.ResponseWriter, r *http.Request) {
	summaries, err := s.svc.ListReportSummaries()
	if err != nil {
		s.handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newList(summaries))
}

// listControls handles GET /api/v1/controls.
func (s *Server) listControls(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, newList(s.svc.Catalog().Controls()))
}

// fileIssues handles POST /api/v1/reports/{id}/issues.
func (s *Server) fileIssues(w http.ResponseWriter, r *http.Request) {
	if s.issues == nil {
		writeError(w, http.StatusNotImplemented, Error{Code: CodeUnavailable, Message: "issue filing is not configured"})
		return
	}
	var req IssueRequest
	if !decodeBody(w, r, &req, true) {
		return
	}

	report, err := s.svc.PollReport(chi.URLParam(r, "id"))
	if err != nil {
		s.handleServiceError(w, r, err)
		return
	}

	filed, err := s.issues.FileReport(r.Context(), report, s.svc.Catalog(), req.FindingIDs, req.Token)
	if err != nil {
		s.handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newList(filed))
}
