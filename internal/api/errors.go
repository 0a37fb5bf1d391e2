package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/hakim/readyscan/internal/issues"
	"github.com/hakim/readyscan/internal/models"
	"github.com/hakim/readyscan/internal/pipeline"
)

// Error codes returned in the code field of error bodies.
const (
	CodeInvalidInput = "invalid_input"
	CodeNotFound     = "not_found"
	CodeNotReady     = "not_ready"
	CodeFailed       = "failed"
	CodeConflict     = "conflict"
	CodeUnavailable  = "unavailable"
	CodeInternal     = "internal_error"
)

// Error is the JSON body of every non-2xx response.
type Error struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, e Error) {
	writeJSON(w, status, e)
}

// handleServiceError maps orchestrator errors onto HTTP responses. Unknown
// errors are logged and reported without their text.
func (s *Server) handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		inputErr  *models.InputError
		failedErr *pipeline.JobFailedError
	)
	switch {
	case errors.As(err, &inputErr):
		e := Error{Code: CodeInvalidInput, Message: inputErr.Error()}
		if inputErr.Field != "" {
			e.Details = map[string]string{"field": inputErr.Field, "reason": inputErr.Reason}
		}
		writeError(w, http.StatusBadRequest, e)
	case errors.Is(err, pipeline.ErrJobNotFound):
		writeError(w, http.StatusNotFound, Error{Code: CodeNotFound, Message: "job not found"})
	case errors.Is(err, pipeline.ErrNotReady):
		writeError(w, http.StatusAccepted, Error{Code: CodeNotReady, Message: "report not ready"})
	case errors.As(err, &failedErr):
		writeError(w, http.StatusConflict, Error{
			Code:    CodeFailed,
			Message: "job failed",
			Details: map[string]string{"reason": failedErr.Reason},
		})
	case errors.Is(err, issues.ErrNoToken), errors.Is(err, issues.ErrNotGitHub), errors.Is(err, issues.ErrUnknownFinding):
		writeError(w, http.StatusBadRequest, Error{Code: CodeInvalidInput, Message: err.Error()})
	case errors.Is(err, pipeline.ErrJobFinished):
		writeError(w, http.StatusConflict, Error{Code: CodeConflict, Message: "job already finished"})
	default:
		s.log.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, Error{Code: CodeInternal, Message: "internal server error"})
	}
}
