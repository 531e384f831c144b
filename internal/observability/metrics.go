// Package observability holds the Prometheus metrics for the dispatch
// subsystem. Recording a metric is always best-effort and never affects
// task state.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DispatchAttempts counts ProcessCodeAction calls by outcome:
	// dispatched, duplicate, worker_unavailable, internal_error.
	DispatchAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_attempts_total",
		Help: "Total code action dispatch attempts by outcome",
	}, []string{"outcome"})

	// DuplicateSubmissions counts rejected duplicates by dedup layer
	DuplicateSubmissions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_duplicate_submissions_total",
		Help: "Total duplicate submissions caught, by dedup key kind",
	}, []string{"kind"})

	// HealthProbes counts worker health lookups by result:
	// cache_hit, healthy, unhealthy, error.
	HealthProbes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_worker_health_probes_total",
		Help: "Total worker health lookups by location and result",
	}, []string{"location", "result"})

	// TasksDispatched counts successful dispatches by worker location
	TasksDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_tasks_dispatched_total",
		Help: "Total tasks successfully handed to a worker",
	}, []string{"location", "worker_type"})

	// ZombiesDetected counts tasks found past the staleness threshold
	ZombiesDetected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dispatch_zombie_tasks_detected_total",
		Help: "Total zombie tasks detected by the reclaimer",
	})

	// ZombiesInterrupted counts tasks the reclaimer forced to interrupted
	ZombiesInterrupted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dispatch_zombie_tasks_interrupted_total",
		Help: "Total zombie tasks transitioned to interrupted",
	})

	// MirrorFailures counts status mirror calls that failed upstream
	MirrorFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dispatch_status_mirror_failures_total",
		Help: "Total best-effort status mirror calls that failed",
	})

	// DispatchDuration tracks the latency of the outbound intake call
	DispatchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dispatch_worker_intake_duration_seconds",
		Help:    "Time taken by the worker intake call",
		Buckets: prometheus.DefBuckets,
	}, []string{"location"})
)
