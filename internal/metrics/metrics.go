// Package metrics exposes Prometheus collectors for scan jobs.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Job metrics
var (
	// JobsTotal tracks finished jobs by terminal status
	JobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "readyscan_jobs_total",
			Help: "Total number of scan jobs by terminal status",
		},
		[]string{"status"},
	)

	// JobsInProgress tracks currently running jobs
	JobsInProgress = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "readyscan_jobs_in_progress",
			Help: "Number of scan jobs currently running",
		},
	)

	// JobDuration tracks wall time from dispatch to terminal state
	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "readyscan_job_duration_seconds",
			Help:    "Scan job duration in seconds",
			Buckets: []float64{0.5, 1, 5, 10, 30, 60, 120, 300, 600, 1800},
		},
		[]string{"status"},
	)

	// ReadinessScore records the overall score of every completed job
	ReadinessScore = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "readyscan_readiness_score",
			Help:    "Overall readiness score of completed scans",
			Buckets: []float64{50, 60, 70, 80, 90, 100},
		},
	)
)

// Scanner metrics
var (
	// ScannerFindingsTotal tracks raw findings per scanner
	ScannerFindingsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "readyscan_scanner_findings_total",
			Help: "Total raw findings produced by each scanner",
		},
		[]string{"scanner"},
	)

	// ScannerFileErrorsTotal tracks files a scanner could not process
	ScannerFileErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "readyscan_scanner_file_errors_total",
			Help: "Total files skipped because a scanner failed on them",
		},
		[]string{"scanner"},
	)
)

// Filter metrics
var (
	// FilterGroupsTotal tracks judged file groups by outcome
	FilterGroupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "readyscan_filter_groups_total",
			Help: "Total file groups seen by the false positive filter by outcome",
		},
		[]string{"outcome"},
	)

	// FilterRemovedTotal tracks findings dismissed as false positives
	FilterRemovedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "readyscan_filter_removed_total",
			Help: "Total findings dismissed as false positives",
		},
	)
)
