package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hakim/readyscan/internal/filter"
	"github.com/hakim/readyscan/internal/logger"
	"github.com/hakim/readyscan/internal/metrics"
	"github.com/hakim/readyscan/internal/models"
	"github.com/hakim/readyscan/internal/report"
	"github.com/hakim/readyscan/internal/scanner"
	"github.com/hakim/readyscan/internal/source"
	"github.com/hakim/readyscan/internal/storage"
)

// Stage names in execution order.
const (
	StageAcquire = "acquire"
	StageScan    = "scan"
	StageFilter  = "filter"
	StageMap     = "map"
	StageScore   = "score"
	StageReport  = "report"
)

// jobState carries intermediate results between the stages of one job.
type jobState struct {
	job      *models.ScanJob
	log      *logger.Logger
	snapshot *source.Snapshot
	scan     *scanner.Result
	filtered *filter.Result
	findings []models.Finding
	coverage map[string]models.ControlCoverage
	score    models.ScoreData
	report   *models.Report
}

// stage pairs a name with its execution function.
type stage struct {
	name string
	run  func(ctx context.Context, st *jobState) error
}

func (o *Orchestrator) stages() []stage {
	return []stage{
		{StageAcquire, o.acquire},
		{StageScan, o.scanFiles},
		{StageFilter, o.filterFindings},
		{StageMap, o.mapControls},
		{StageScore, o.scoreFindings},
		{StageReport, o.writeReport},
	}
}

// run drives one job from Created to a terminal state. Every exit path
// leaves the job Completed or Failed. token is held only in memory because
// stored jobs never carry credentials.
func (o *Orchestrator) run(ctx context.Context, job *models.ScanJob, token string) {
	log := o.log.With("job_id", job.ID)
	start := time.Now()

	running, err := o.store.UpdateJob(job.ID, func(j *models.ScanJob) error {
		now := time.Now().UTC()
		j.Status = models.StatusRunning
		j.StartedAt = &now
		return nil
	})
	if err != nil {
		log.Error("could not mark job running", "error", err)
		if !errors.Is(err, storage.ErrTerminal) {
			o.finish(ctx, log, job.ID, start, "could not start job")
		}
		return
	}

	metrics.JobsInProgress.Inc()
	defer metrics.JobsInProgress.Dec()

	running.Source.Token = token
	st := &jobState{job: running, log: log}
	for _, s := range o.stages() {
		if err := ctx.Err(); err != nil {
			o.finish(ctx, log, job.ID, start, failureReason(s.name, err))
			return
		}

		stageStart := time.Now()
		err := runStageIsolated(ctx, s, st)
		elapsed := time.Since(stageStart)

		if err != nil {
			log.Error("stage failed", "stage", s.name, "elapsed", elapsed.Round(time.Millisecond), "error", err)
			o.finish(ctx, log, job.ID, start, failureReason(s.name, err))
			return
		}
		log.Debug("stage complete", "stage", s.name, "elapsed", elapsed.Round(time.Millisecond))

		// Persist progress after each stage so an interrupted job shows how
		// far it got.
		if _, err := o.store.UpdateJob(job.ID, func(j *models.ScanJob) error {
			j.StagesRun = appendUnique(j.StagesRun, s.name)
			return nil
		}); err != nil {
			log.Warn("could not persist stage progress", "stage", s.name, "error", err)
		}
	}

	o.complete(ctx, log, job.ID, start, st.report)
}

// runStageIsolated runs a single stage inside a deferred recover so that a
// panic in stage code is caught and returned as an error rather than crashing
// the orchestrator process.
func runStageIsolated(ctx context.Context, s stage, st *jobState) (retErr error) {
	defer func() {
		if r := recover(); r != nil {
			retErr = fmt.Errorf("stage %q panicked: %v", s.name, r)
		}
	}()
	return s.run(ctx, st)
}

func (o *Orchestrator) acquire(ctx context.Context, st *jobState) error {
	snap, err := source.Acquire(ctx, st.job.Source, o.sourceOpts, o.cloneTimeout)
	if err != nil {
		return err
	}
	st.snapshot = snap
	st.log.Info("source acquired", "files", len(snap.Files), "skipped", len(snap.Skipped), "revision", snap.Revision)
	return nil
}

func (o *Orchestrator) scanFiles(ctx context.Context, st *jobState) error {
	names := o.enabled
	if st.job.Source.Preset != "" {
		p, err := GetPreset(st.job.Source.Preset)
		if err != nil {
			return err
		}
		names = p.Scanners
	}
	scanners, err := scanner.Build(names, o.rules)
	if err != nil {
		return err
	}

	res, err := scanner.Run(ctx, st.snapshot, scanners, st.log)
	if err != nil {
		return err
	}
	for kind, n := range res.Counts {
		metrics.ScannerFindingsTotal.WithLabelValues(string(kind)).Add(float64(n))
	}
	for _, e := range res.Errors {
		metrics.ScannerFileErrorsTotal.WithLabelValues(e.Scanner).Inc()
	}

	st.scan = res
	st.log.Info("scanners finished", "findings", len(res.Findings), "file_errors", len(res.Errors))
	return nil
}

func (o *Orchestrator) filterFindings(ctx context.Context, st *jobState) error {
	st.filtered = o.filter.Apply(ctx, st.snapshot, st.scan.Findings)
	if err := ctx.Err(); err != nil {
		return err
	}
	st.log.Info("false positive filter finished",
		"kept", len(st.filtered.Kept), "removed", len(st.filtered.Removed), "unfiltered_groups", len(st.filtered.Unfiltered()))
	return nil
}

func (o *Orchestrator) mapControls(_ context.Context, st *jobState) error {
	st.findings = o.mapper.Assign(st.filtered.Kept)
	return nil
}

func (o *Orchestrator) scoreFindings(_ context.Context, st *jobState) error {
	score, coverage, err := o.engine.Score(st.findings, o.catalog)
	if err != nil {
		return err
	}
	st.score = score
	st.coverage = coverage
	return nil
}

func (o *Orchestrator) writeReport(_ context.Context, st *jobState) error {
	r := o.generator.Build(report.Input{
		Job:      st.job,
		Snapshot: st.snapshot,
		Scan:     st.scan,
		Filter:   st.filtered,
		Judged:   o.filter.Enabled(),
		Findings: st.findings,
		Coverage: st.coverage,
		Score:    st.score,
	})

	location, err := o.store.WriteReport(r)
	if err != nil {
		return err
	}
	st.report = r
	st.log.Info("report stored", "location", location, "score", r.Score.OverallScore, "grade", r.Score.Grade)

	// Rendered copies are a convenience; the stored report is authoritative.
	if o.reportDir != "" {
		dir, err := storage.CreateReportDir(o.reportDir, r.Metadata.Source, r.GeneratedAt)
		if err == nil {
			_, _, err = report.WriteAll(r, dir)
		}
		if err != nil {
			st.log.Warn("could not render report files", "error", err)
		}
	}
	return nil
}

func (o *Orchestrator) complete(ctx context.Context, log *logger.Logger, id string, start time.Time, r *models.Report) {
	job, err := o.store.UpdateJob(id, func(j *models.ScanJob) error {
		now := time.Now().UTC()
		j.Status = models.StatusCompleted
		j.ReportID = r.ID
		j.CompletedAt = &now
		return nil
	})
	if err != nil {
		log.Error("could not mark job completed", "error", err)
		o.finish(ctx, log, id, start, "could not record completion")
		return
	}

	elapsed := time.Since(start)
	metrics.JobsTotal.WithLabelValues(string(models.StatusCompleted)).Inc()
	metrics.JobDuration.WithLabelValues(string(models.StatusCompleted)).Observe(elapsed.Seconds())
	metrics.ReadinessScore.Observe(float64(r.Score.OverallScore))
	log.Info("scan job completed", "elapsed", elapsed.Round(time.Millisecond), "score", r.Score.OverallScore)

	summary := r.Summarize()
	o.notify(log, job, &summary)
}

// finish marks the job Failed with a user facing reason.
func (o *Orchestrator) finish(_ context.Context, log *logger.Logger, id string, start time.Time, reason string) {
	if err := o.failJob(id, reason); err != nil {
		log.Error("could not mark job failed", "error", err)
		return
	}

	elapsed := time.Since(start)
	metrics.JobsTotal.WithLabelValues(string(models.StatusFailed)).Inc()
	metrics.JobDuration.WithLabelValues(string(models.StatusFailed)).Observe(elapsed.Seconds())
	log.Warn("scan job failed", "reason", reason)

	if job, err := o.store.GetJob(id); err == nil {
		o.notify(log, job, nil)
	}
}

func (o *Orchestrator) notify(log *logger.Logger, job *models.ScanJob, summary *models.ReportSummary) {
	if o.notifier == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := o.notifier.SendCompletion(ctx, job, summary); err != nil {
		log.Warn("completion webhook failed", "error", err)
	}
}

// knownFailures are errors whose message is safe to show as a job's failure
// reason. Anything else is reported generically and only logged in full.
var knownFailures = []error{
	source.ErrPathNotFound,
	source.ErrNotDirectory,
	source.ErrAuthentication,
	source.ErrRepoNotFound,
	source.ErrRefNotFound,
	source.ErrUnsupportedKind,
}

// failureReason turns a stage error into a structured message.
func failureReason(stageName string, err error) string {
	switch {
	case errors.Is(err, context.Canceled):
		return "scan canceled"
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Sprintf("%s stage timed out", stageName)
	}

	for _, known := range knownFailures {
		if errors.Is(err, known) {
			return fmt.Sprintf("%s stage: %v", stageName, known)
		}
	}
	var sinkErr *models.SinkError
	if errors.As(err, &sinkErr) {
		return fmt.Sprintf("%s stage: could not %s report", stageName, sinkErr.Op)
	}
	return fmt.Sprintf("%s stage failed", stageName)
}

// appendUnique appends s to slice only if it is not already present.
func appendUnique(slice []string, s string) []string {
	for _, existing := range slice {
		if existing == s {
			return slice
		}
	}
	return append(slice, s)
}
