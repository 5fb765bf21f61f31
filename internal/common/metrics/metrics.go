// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ViewBuilds = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_view_builds_total",
			Help: "Total number of notification views built, by cache outcome",
		},
		[]string{"cache"},
	)

	ViewDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "notification_view_duration_seconds",
			Help:    "Duration of building a notification view in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"cache"},
	)

	SourceFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_source_failures_total",
			Help: "Total number of notification source fetches that degraded to empty",
		},
		[]string{"source"},
	)

	MalformedRecords = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_malformed_records_total",
			Help: "Total number of upstream records dropped for missing required fields",
		},
		[]string{"source"},
	)

	Mutations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_mutations_total",
			Help: "Total number of notification mutations by operation and status",
		},
		[]string{"op", "status"},
	)

	RealtimeEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_realtime_events_total",
			Help: "Total number of realtime push events by table and applied action",
		},
		[]string{"table", "action"},
	)

	WorkerJobsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_jobs_completed_total",
			Help: "Total number of jobs completed by worker",
		},
		[]string{"task_type"},
	)

	WorkerJobsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_jobs_failed_total",
			Help: "Total number of jobs failed by worker",
		},
		[]string{"task_type", "error_code"},
	)

	WorkerJobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "worker_job_duration_seconds",
			Help: "Duration of job processing in seconds",
		},
		[]string{"task_type"},
	)
)
