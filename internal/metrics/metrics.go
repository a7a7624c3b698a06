package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "labbox_sessions_active",
		Help: "Current number of active worker sessions",
	})

	JobsCreatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "labbox_jobs_created_total",
		Help: "Total number of hither jobs created, by outcome kind",
	}, []string{"kind"})

	JobsFinishedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "labbox_jobs_finished_total",
		Help: "Total number of hither jobs reported finished",
	})

	JobsErroredTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "labbox_jobs_errored_total",
		Help: "Total number of hither jobs reported as errors, by fault",
	}, []string{"fault"})

	JobStatusQueryFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "labbox_job_status_query_failures_total",
		Help: "Total number of failed job status queries",
	})

	JobsTracked = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "labbox_jobs_tracked",
		Help: "Current number of jobs tracked across sessions",
	})

	WatchRequestsResolvedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "labbox_watch_requests_resolved_total",
		Help: "Total number of subfeed watch requests resolved, by reason",
	}, []string{"reason"})

	WatchRequestsPending = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "labbox_watch_requests_pending",
		Help: "Current number of pending subfeed watch requests across sessions",
	})

	IterateDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "labbox_session_iterate_duration_seconds",
		Help:    "Time taken by one session iterate pass in seconds",
		Buckets: prometheus.DefBuckets,
	})

	LaneJobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "labbox_lane_jobs_total",
		Help: "Total number of lane jobs reaching a terminal status",
	}, []string{"lane", "status"})

	LaneActiveWorkers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "labbox_lane_active_workers",
		Help: "Current number of busy workers per local lane",
	}, []string{"lane"})

	RemoteJobProcessingDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "labbox_remote_job_processing_duration_seconds",
		Help:    "Time taken by the worker service to process remote jobs in seconds",
		Buckets: prometheus.DefBuckets,
	})
)
