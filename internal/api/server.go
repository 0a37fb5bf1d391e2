// Package api serves the scan orchestrator over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/hakim/readyscan/internal/controls"
	"github.com/hakim/readyscan/internal/issues"
	"github.com/hakim/readyscan/internal/logger"
	"github.com/hakim/readyscan/internal/models"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Service is the part of the orchestrator the API needs.
type Service interface {
	StartScan(ctx context.Context, src models.SourceDescriptor) (string, error)
	Status(id string) (*models.ScanJob, error)
	ListJobs() ([]*models.ScanJob, error)
	PollReport(id string) (*models.Report, error)
	ListReportSummaries() ([]models.ReportSummary, error)
	Cancel(id string) error
	Catalog() *controls.Catalog
}

// IssueFiler files tracker issues for the recommendations of a report.
type IssueFiler interface {
	FileReport(ctx context.Context, r *models.Report, catalog *controls.Catalog, findingIDs []string, token string) ([]issues.Issue, error)
}

// Options configures the HTTP server. A nil Issues disables issue filing.
type Options struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	Issues       IssueFiler
}

// Server exposes a Service over HTTP.
type Server struct {
	svc    Service
	issues IssueFiler
	log    *logger.Logger
	http   *http.Server
}

// NewServer builds a server with its routes registered.
func NewServer(svc Service, opts Options, log *logger.Logger) *Server {
	if log == nil {
		log = logger.NewNop()
	}
	s := &Server{svc: svc, issues: opts.Issues, log: log}
	s.http = &http.Server{
		Addr:              opts.Addr,
		Handler:           s.Routes(),
		ReadTimeout:       opts.ReadTimeout,
		ReadHeaderTimeout: opts.ReadTimeout,
		WriteTimeout:      opts.WriteTimeout,
		IdleTimeout:       2 * opts.WriteTimeout,
	}
	return s
}

// Routes returns the router. It is exported for tests.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.CleanPath)
	r.Use(chimw.StripSlashes)
	r.Use(s.requestLogger)
	r.Use(chimw.Recoverer)

	r.Get("/health", s.health)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/scans", func(r chi.Router) {
			r.Post("/", s.createScan)
			r.Get("/", s.listScans)
			r.Get("/{id}", s.getScan)
			r.Delete("/{id}", s.cancelScan)
		})
		r.Route("/reports", func(r chi.Router) {
			r.Get("/", s.listReports)
			r.Get("/{id}", s.getReport)
			r.Post("/{id}/issues", s.fileIssues)
		})
		r.Get("/controls", s.listControls)
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, Error{Code: CodeNotFound, Message: "route not found"})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, Error{Code: CodeInvalidInput, Message: "method not allowed"})
	})
	return r
}

// ListenAndServe blocks until ctx is cancelled or the listener fails, then
// drains in-flight requests.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("api listening", "addr", s.http.Addr)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.log.Info("api shutting down")
	return s.http.Shutdown(shutdownCtx)
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"elapsed", time.Since(start).Round(time.Microsecond),
			"request_id", chimw.GetReqID(r.Context()))
	})
}
