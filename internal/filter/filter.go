// Package filter removes false positives by asking a judge about each file
// that has findings. Any judge failure keeps the whole file group.
package filter

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/hakim/readyscan/internal/judge"
	"github.com/hakim/readyscan/internal/logger"
	"github.com/hakim/readyscan/internal/models"
	"github.com/hakim/readyscan/internal/source"
	"github.com/sourcegraph/conc/pool"
	"golang.org/x/time/rate"
)

const (
	ReasonNotConfigured = "judge not configured"
	ReasonTimeout       = "judge timed out"
	ReasonMalformed     = "judge response malformed"
	ReasonUnavailable   = "judge unavailable"
	ReasonRateLimited   = "judge rate limited"
	ReasonCanceled      = "scan canceled"

	excerptRadius = 5
)

// Options tunes how hard the filter leans on the judge.
type Options struct {
	MaxConcurrency    int
	RequestsPerSecond float64
	CallTimeout       time.Duration
	MaxExcerptLines   int
}

// Result is the outcome of one filter pass. Kept preserves input order.
type Result struct {
	Kept    []models.Finding
	Removed []models.RemovedFinding
	Groups  []models.GroupOutcome
}

// Summary projects the result onto the report's filter section.
func (r *Result) Summary(enabled bool) models.FilterSummary {
	s := models.FilterSummary{
		Enabled:   enabled,
		Groups:    len(r.Groups),
		Removed:   len(r.Removed),
		Outcomes:  r.Groups,
		Dismissed: r.Removed,
	}
	for _, g := range r.Groups {
		if g.Status == models.GroupValidated {
			s.Validated++
		} else {
			s.Unfiltered++
		}
	}
	return s
}

// Unfiltered returns the files whose groups were kept without a verdict.
func (r *Result) Unfiltered() []models.GroupOutcome {
	var out []models.GroupOutcome
	for _, g := range r.Groups {
		if g.Status == models.GroupUnfiltered {
			out = append(out, g)
		}
	}
	return out
}

// Observer is told about every terminal group outcome.
type Observer func(models.GroupOutcome)

// Filter runs a judge over file groups.
type Filter struct {
	judge    judge.Judge
	opts     Options
	log      *logger.Logger
	observer Observer
}

// New creates a filter. A nil judge makes Apply the identity.
func New(j judge.Judge, opts Options, log *logger.Logger) *Filter {
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = 1
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 30 * time.Second
	}
	if opts.MaxExcerptLines <= 0 {
		opts.MaxExcerptLines = 200
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Filter{judge: j, opts: opts, log: log}
}

// WithObserver registers a callback for group outcomes.
func (f *Filter) WithObserver(o Observer) *Filter {
	f.observer = o
	return f
}

// Enabled reports whether a judge is attached.
func (f *Filter) Enabled() bool {
	return f.judge != nil
}

type group struct {
	file    string
	indexes []int
}

type groupResult struct {
	outcome models.GroupOutcome
	removed map[int]string
}

// Apply judges every file group and returns once all groups are resolved.
// Groups never fail the pass: errors keep the group's findings as is.
func (f *Filter) Apply(ctx context.Context, snap *source.Snapshot, findings []models.Finding) *Result {
	groups := groupByFile(findings)
	results := make([]groupResult, len(groups))

	if f.judge == nil {
		for i, g := range groups {
			results[i] = unfiltered(g, ReasonNotConfigured)
		}
		return f.collect(findings, groups, results)
	}

	var limiter *rate.Limiter
	if f.opts.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(f.opts.RequestsPerSecond), 1)
	}

	files := contents(snap)
	p := pool.New().WithMaxGoroutines(f.opts.MaxConcurrency)
	for i, g := range groups {
		p.Go(func() {
			results[i] = f.judgeGroup(ctx, limiter, g, findings, files[g.file])
		})
	}
	p.Wait()

	return f.collect(findings, groups, results)
}

func (f *Filter) judgeGroup(ctx context.Context, limiter *rate.Limiter, g group, findings []models.Finding, content []byte) (res groupResult) {
	defer func() {
		if r := recover(); r != nil {
			f.log.Error("judge panicked", "file", g.file, "panic", r)
			res = unfiltered(g, ReasonUnavailable)
		}
	}()

	if limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return unfiltered(g, ReasonCanceled)
		}
	}

	candidates := make([]judge.Candidate, 0, len(g.indexes))
	lines := make([]int, 0, len(g.indexes))
	for _, idx := range g.indexes {
		fd := findings[idx]
		candidates = append(candidates, judge.Candidate{
			ID:       fd.ID,
			Type:     fd.Type,
			Severity: string(fd.Severity),
			Line:     fd.Line,
			Message:  fd.Message,
			Snippet:  fd.Snippet,
		})
		lines = append(lines, fd.Line)
	}
	fileCtx := judge.FileContext{
		Path:    g.file,
		Excerpt: judge.BuildExcerpt(content, lines, excerptRadius, f.opts.MaxExcerptLines),
	}

	callCtx, cancel := context.WithTimeout(ctx, f.opts.CallTimeout)
	defer cancel()

	verdicts, err := f.judge.Validate(callCtx, fileCtx, candidates)
	if err != nil {
		ferr := &models.FilterError{File: g.file, Err: err}
		reason := failureReason(err)
		if ctx.Err() != nil {
			reason = ReasonCanceled
		}
		f.log.Warn("judge failed, keeping findings", "file", g.file, "candidates", len(candidates), "reason", reason, "error", ferr)
		return unfiltered(g, reason)
	}

	byID := make(map[string]judge.Verdict, len(verdicts))
	for _, v := range verdicts {
		byID[v.FindingID] = v
	}

	res.removed = make(map[int]string)
	for _, idx := range g.indexes {
		if v, ok := byID[findings[idx].ID]; ok && v.IsFalsePositive {
			res.removed[idx] = v.Reason
		}
	}
	res.outcome = models.GroupOutcome{
		File:       g.file,
		Status:     models.GroupValidated,
		Candidates: len(g.indexes),
		Removed:    len(res.removed),
	}
	f.log.Debug("judge validated group", "file", g.file, "candidates", len(candidates), "removed", len(res.removed))
	return res
}

func (f *Filter) collect(findings []models.Finding, groups []group, results []groupResult) *Result {
	out := &Result{Groups: make([]models.GroupOutcome, 0, len(groups))}

	removed := make(map[int]string)
	for _, r := range results {
		out.Groups = append(out.Groups, r.outcome)
		for idx, reason := range r.removed {
			removed[idx] = reason
		}
		if f.observer != nil {
			f.observer(r.outcome)
		}
	}

	out.Kept = make([]models.Finding, 0, len(findings)-len(removed))
	for i, fd := range findings {
		if reason, ok := removed[i]; ok {
			out.Removed = append(out.Removed, models.RemovedFinding{Finding: fd, Reason: reason})
			continue
		}
		out.Kept = append(out.Kept, fd)
	}
	return out
}

func groupByFile(findings []models.Finding) []group {
	byFile := make(map[string]*group)
	for i, fd := range findings {
		g, ok := byFile[fd.FilePath]
		if !ok {
			g = &group{file: fd.FilePath}
			byFile[fd.FilePath] = g
		}
		g.indexes = append(g.indexes, i)
	}

	groups := make([]group, 0, len(byFile))
	for _, g := range byFile {
		groups = append(groups, *g)
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].file < groups[j].file })
	return groups
}

func contents(snap *source.Snapshot) map[string][]byte {
	if snap == nil {
		return nil
	}
	m := make(map[string][]byte, len(snap.Files))
	for _, file := range snap.Files {
		m[file.Path] = file.Content
	}
	return m
}

func unfiltered(g group, reason string) groupResult {
	return groupResult{outcome: models.GroupOutcome{
		File:       g.file,
		Status:     models.GroupUnfiltered,
		Reason:     reason,
		Candidates: len(g.indexes),
	}}
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, judge.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return ReasonTimeout
	case errors.Is(err, judge.ErrMalformed):
		return ReasonMalformed
	case errors.Is(err, judge.ErrRateLimited):
		return ReasonRateLimited
	default:
		return ReasonUnavailable
	}
}
