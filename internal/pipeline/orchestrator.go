// Package pipeline owns the scan job lifecycle: it validates requests,
// dispatches jobs, sequences the scan stages and answers status polls.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/hakim/readyscan/internal/config"
	"github.com/hakim/readyscan/internal/controls"
	"github.com/hakim/readyscan/internal/filter"
	"github.com/hakim/readyscan/internal/judge"
	"github.com/hakim/readyscan/internal/logger"
	"github.com/hakim/readyscan/internal/metrics"
	"github.com/hakim/readyscan/internal/models"
	"github.com/hakim/readyscan/internal/report"
	"github.com/hakim/readyscan/internal/scanner"
	"github.com/hakim/readyscan/internal/scoring"
	"github.com/hakim/readyscan/internal/source"
	"github.com/hakim/readyscan/internal/storage"
)

var (
	// ErrJobNotFound means no job exists with the requested ID.
	ErrJobNotFound = errors.New("job not found")
	// ErrNotReady means the job exists but has not reached a terminal state.
	ErrNotReady = errors.New("report not ready")
	// ErrJobFinished is returned when cancelling a job that already ended.
	ErrJobFinished = errors.New("job already finished")
)

// RestartReason is recorded on jobs found non-terminal at startup.
const RestartReason = "interrupted by restart"

// JobFailedError is returned by PollReport for failed jobs.
type JobFailedError struct {
	JobID  string
	Reason string
}

func (e *JobFailedError) Error() string {
	return fmt.Sprintf("job %s failed: %s", e.JobID, e.Reason)
}

// Deps are the collaborators an Orchestrator needs beyond configuration.
type Deps struct {
	Store    storage.Store
	Judge    judge.Judge // nil disables false positive filtering
	Logger   *logger.Logger
	Notifier *Notifier
}

// Orchestrator runs scan jobs. One goroutine processes each job; jobs share
// only the read-only catalog, rules and configuration.
type Orchestrator struct {
	store        storage.Store
	catalog      *controls.Catalog
	mapper       *controls.Mapper
	rules        *scanner.RuleSet
	enabled      []string
	filter       *filter.Filter
	engine       *scoring.Engine
	generator    *report.Generator
	sourceOpts   source.Options
	cloneTimeout time.Duration
	reportDir    string
	scope        *Scope
	notifier     *Notifier
	validate     *validator.Validate
	log          *logger.Logger

	mu      sync.Mutex
	running map[string]*runningJob
	wg      sync.WaitGroup
	baseCtx context.Context
	stop    context.CancelFunc
}

type runningJob struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// New builds an orchestrator. Catalog, mapping and scoring problems are
// returned as *models.ScoringError and should abort startup.
func New(cfg *config.Config, deps Deps) (*Orchestrator, error) {
	if deps.Store == nil {
		return nil, errors.New("pipeline: store must not be nil")
	}
	log := deps.Logger
	if log == nil {
		log = logger.NewNop()
	}

	catalog, err := controls.NewCatalog(cfg.Controls)
	if err != nil {
		return nil, err
	}
	mapper, err := controls.NewMapper(catalog, cfg.Mapping)
	if err != nil {
		return nil, err
	}
	engine, err := scoring.NewEngine(cfg.Scoring)
	if err != nil {
		return nil, err
	}
	rules, err := scanner.LoadRules(cfg.Scanners.RulesFile)
	if err != nil {
		return nil, fmt.Errorf("pipeline: loading rules: %w", err)
	}
	if _, err := scanner.Build(cfg.Scanners.Enabled, rules); err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}

	f := filter.New(deps.Judge, filter.Options{
		MaxConcurrency:    cfg.Judge.MaxConcurrency,
		RequestsPerSecond: cfg.Judge.RequestsPerSecond,
		CallTimeout:       cfg.Judge.CallTimeout(),
		MaxExcerptLines:   cfg.Judge.MaxExcerptLines,
	}, log).WithObserver(func(g models.GroupOutcome) {
		metrics.FilterGroupsTotal.WithLabelValues(string(g.Status)).Inc()
		metrics.FilterRemovedTotal.Add(float64(g.Removed))
	})

	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return strings.ToLower(fld.Name)
		}
		return name
	})

	notifier := deps.Notifier
	if notifier == nil && cfg.Notify.WebhookURL != "" {
		notifier = &Notifier{WebhookURL: cfg.Notify.WebhookURL}
	}

	baseCtx, stop := context.WithCancel(context.Background())
	return &Orchestrator{
		store:        deps.Store,
		catalog:      catalog,
		mapper:       mapper,
		rules:        rules,
		enabled:      cfg.Scanners.Enabled,
		filter:       f,
		engine:       engine,
		generator:    report.NewGenerator(catalog, engine),
		sourceOpts:   source.OptionsFromConfig(cfg.Scanners),
		cloneTimeout: cfg.Scanners.Timeout(),
		reportDir:    cfg.ReportDir,
		scope:        &Scope{AllowedRoots: cfg.Scope.AllowedRoots, AllowedHosts: cfg.Scope.AllowedHosts},
		notifier:     notifier,
		validate:     v,
		log:          log,
		running:      make(map[string]*runningJob),
		baseCtx:      baseCtx,
		stop:         stop,
	}, nil
}

// Catalog returns the shared control catalog.
func (o *Orchestrator) Catalog() *controls.Catalog {
	return o.catalog
}

// StartScan validates src, records a new job and dispatches it. It returns
// as soon as the job is stored. Invalid descriptors are *models.InputError
// and never create a job.
func (o *Orchestrator) StartScan(ctx context.Context, src models.SourceDescriptor) (string, error) {
	if err := o.validateSource(src); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	job := models.NewJob(src)
	if err := o.store.CreateJob(job); err != nil {
		return "", fmt.Errorf("pipeline: saving job: %w", err)
	}

	jobCtx, cancel := context.WithCancel(o.baseCtx)
	rj := &runningJob{cancel: cancel, done: make(chan struct{})}

	o.mu.Lock()
	o.running[job.ID] = rj
	o.mu.Unlock()

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer func() {
			cancel()
			o.mu.Lock()
			delete(o.running, job.ID)
			o.mu.Unlock()
			close(rj.done)
		}()
		o.run(jobCtx, job, src.Token)
	}()

	o.log.Info("scan job created", "job_id", job.ID, "source", src.Location(), "kind", src.Kind)
	return job.ID, nil
}

func (o *Orchestrator) validateSource(src models.SourceDescriptor) error {
	if err := o.validate.Struct(src); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return &models.InputError{Field: fe.Field(), Reason: describeTag(fe)}
		}
		return &models.InputError{Reason: err.Error()}
	}
	if src.Preset != "" {
		if _, err := GetPreset(src.Preset); err != nil {
			return &models.InputError{Field: "preset", Reason: err.Error()}
		}
	}
	return o.scope.ValidateSource(src)
}

func describeTag(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "required_if":
		return "is required"
	case "oneof":
		return "must be one of: " + fe.Param()
	case "url":
		return "must be a valid URL"
	case "max":
		return "must be at most " + fe.Param() + " characters"
	}
	return "failed " + fe.Tag() + " validation"
}

// PollReport returns the report of a completed job. Otherwise it returns
// ErrJobNotFound, ErrNotReady or a *JobFailedError. It never blocks.
func (o *Orchestrator) PollReport(id string) (*models.Report, error) {
	job, err := o.store.GetJob(id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}

	switch job.Status {
	case models.StatusCompleted:
		r, err := o.store.ReadReport(job.ReportID)
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("report %s for job %s: %w", job.ReportID, id, ErrJobNotFound)
		}
		return r, err
	case models.StatusFailed:
		return nil, &JobFailedError{JobID: id, Reason: job.Error}
	default:
		return nil, ErrNotReady
	}
}

// Status returns the current job record.
func (o *Orchestrator) Status(id string) (*models.ScanJob, error) {
	job, err := o.store.GetJob(id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrJobNotFound
	}
	return job, err
}

// ListJobs returns every job, newest first.
func (o *Orchestrator) ListJobs() ([]*models.ScanJob, error) {
	return o.store.ListJobs()
}

// History returns the jobs for one source location, newest first.
func (o *Orchestrator) History(location string) ([]*models.ScanJob, error) {
	return o.store.ListJobsBySource(location)
}

// ListReportSummaries returns every stored report summary, newest first.
func (o *Orchestrator) ListReportSummaries() ([]models.ReportSummary, error) {
	return o.store.ListReportSummaries()
}

// Cancel aborts a running job. The job ends Failed once its stages unwind.
func (o *Orchestrator) Cancel(id string) error {
	o.mu.Lock()
	rj, ok := o.running[id]
	o.mu.Unlock()
	if ok {
		rj.cancel()
		o.log.Info("scan job cancel requested", "job_id", id)
		return nil
	}

	job, err := o.Status(id)
	if err != nil {
		return err
	}
	if job.Status.IsTerminal() {
		return ErrJobFinished
	}
	// Stored as live but not owned by this process.
	return o.failJob(job.ID, RestartReason)
}

// Wait blocks until the job finishes or ctx is done. It returns immediately
// for jobs not running in this process.
func (o *Orchestrator) Wait(ctx context.Context, id string) error {
	o.mu.Lock()
	rj, ok := o.running[id]
	o.mu.Unlock()
	if !ok {
		return nil
	}
	select {
	case <-rj.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Recover marks every stored non-terminal job that this process does not own
// as Failed. Call it once at startup before accepting new jobs.
func (o *Orchestrator) Recover(ctx context.Context) (int, error) {
	jobs, err := o.store.ListJobs()
	if err != nil {
		return 0, fmt.Errorf("pipeline: listing jobs: %w", err)
	}

	recovered := 0
	for _, job := range jobs {
		if err := ctx.Err(); err != nil {
			return recovered, err
		}
		if job.Status.IsTerminal() {
			continue
		}
		o.mu.Lock()
		_, owned := o.running[job.ID]
		o.mu.Unlock()
		if owned {
			continue
		}

		if err := o.failJob(job.ID, RestartReason); err != nil {
			if errors.Is(err, storage.ErrTerminal) {
				continue
			}
			return recovered, err
		}
		recovered++
		o.log.Warn("recovered interrupted job", "job_id", job.ID, "status", job.Status)
	}
	return recovered, nil
}

// Shutdown cancels every running job and waits for them to reach a
// terminal state or for ctx to expire.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.stop()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) failJob(id, reason string) error {
	_, err := o.store.UpdateJob(id, func(j *models.ScanJob) error {
		now := time.Now().UTC()
		j.Status = models.StatusFailed
		j.Error = reason
		j.CompletedAt = &now
		return nil
	})
	return err
}
