package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Task metrics
	TasksSubmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_tasks_submitted_total",
			Help: "Total number of tasks submitted",
		},
		[]string{"api_type", "action", "source"},
	)

	TasksAssigned = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_tasks_assigned_total",
			Help: "Total number of task assignments dispatched to workers",
		},
		[]string{"api_type"},
	)

	TasksCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_tasks_completed_total",
			Help: "Total number of tasks reaching a terminal state",
		},
		[]string{"api_type", "status"},
	)

	TaskRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_task_retries_total",
			Help: "Total number of task retries",
		},
		[]string{"api_type", "reason"},
	)

	TaskDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "orchestrator_task_duration_seconds",
			Help:    "Task duration from assignment to terminal state",
			Buckets: prometheus.ExponentialBuckets(1, 2, 16), // 1s to ~18h
		},
		[]string{"api_type"},
	)

	// Queue metrics
	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "orchestrator_queue_depth",
			Help: "Current number of pending tasks per api_type",
		},
		[]string{"api_type"},
	)

	DispatchFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_dispatch_failures_total",
			Help: "Total number of task frames that failed to send",
		},
		[]string{"api_type"},
	)

	// Worker metrics
	ConnectedWorkers = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "orchestrator_connected_workers",
			Help: "Current number of connected workers per api_type and status",
		},
		[]string{"api_type", "status"},
	)

	WorkerEvictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_worker_evictions_total",
			Help: "Total number of workers evicted for missed heartbeats",
		},
		[]string{"api_type"},
	)

	SessionsOpened = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_sessions_opened_total",
			Help: "Total number of worker sessions accepted",
		},
		[]string{"api_type"},
	)

	SessionsClosed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_sessions_closed_total",
			Help: "Total number of worker sessions closed",
		},
		[]string{"api_type"},
	)

	AuthFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "orchestrator_auth_failures_total",
			Help: "Total number of rejected worker authentications",
		},
	)

	// Status relay metrics
	StatusRelayed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_status_relayed_total",
			Help: "Total number of status frames forwarded to the control plane",
		},
		[]string{"outcome"},
	)

	// Enrichment metrics
	EnrichmentDispatched = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "orchestrator_enrichment_dispatched_total",
			Help: "Total number of enrichment tasks enqueued",
		},
	)

	EnrichmentCallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_enrichment_callbacks_total",
			Help: "Total number of enrichment callbacks issued",
		},
		[]string{"action", "outcome"},
	)

	// HTTP metrics
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "orchestrator_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

// RecordTaskSubmission records a task submission
func RecordTaskSubmission(apiType, action, source string) {
	TasksSubmitted.WithLabelValues(apiType, action, source).Inc()
}

// RecordTaskAssignment records a dispatched assignment
func RecordTaskAssignment(apiType string) {
	TasksAssigned.WithLabelValues(apiType).Inc()
}

// RecordTaskTerminal records a task reaching a terminal state
func RecordTaskTerminal(apiType, status string, duration float64) {
	TasksCompleted.WithLabelValues(apiType, status).Inc()
	if duration > 0 {
		TaskDuration.WithLabelValues(apiType).Observe(duration)
	}
}

// RecordTaskRetry records a task retry
func RecordTaskRetry(apiType, reason string) {
	TaskRetries.WithLabelValues(apiType, reason).Inc()
}

// SetQueueDepth updates the pending-task gauge for an api_type
func SetQueueDepth(apiType string, depth float64) {
	QueueDepth.WithLabelValues(apiType).Set(depth)
}

// RecordDispatchFailure records a failed task-frame send
func RecordDispatchFailure(apiType string) {
	DispatchFailures.WithLabelValues(apiType).Inc()
}

// SetConnectedWorkers updates the worker gauge for an api_type and status
func SetConnectedWorkers(apiType, status string, count float64) {
	ConnectedWorkers.WithLabelValues(apiType, status).Set(count)
}

// RecordWorkerEviction records a heartbeat-timeout eviction
func RecordWorkerEviction(apiType string) {
	WorkerEvictions.WithLabelValues(apiType).Inc()
}

// RecordSessionOpened records an accepted worker session
func RecordSessionOpened(apiType string) {
	SessionsOpened.WithLabelValues(apiType).Inc()
}

// RecordSessionClosed records a closed worker session
func RecordSessionClosed(apiType string) {
	SessionsClosed.WithLabelValues(apiType).Inc()
}

// RecordAuthFailure records a rejected worker authentication
func RecordAuthFailure() {
	AuthFailures.Inc()
}

// RecordStatusRelay records a status relay attempt
func RecordStatusRelay(outcome string) {
	StatusRelayed.WithLabelValues(outcome).Inc()
}

// RecordEnrichmentDispatch records an enqueued enrichment task
func RecordEnrichmentDispatch() {
	EnrichmentDispatched.Inc()
}

// RecordEnrichmentCallback records an enrichment callback attempt
func RecordEnrichmentCallback(action, outcome string) {
	EnrichmentCallbacks.WithLabelValues(action, outcome).Inc()
}

// RecordHTTPRequest records an HTTP request
func RecordHTTPRequest(method, path, status string, duration float64) {
	HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration)
}
