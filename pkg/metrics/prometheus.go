// Package metrics provides Prometheus metrics for the engagement scoring service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Job outcome label values.
const (
	OutcomeApplied  = "applied"
	OutcomeNoPoints = "no_points"
	OutcomeIgnored  = "ignored"
	OutcomeSkipped  = "already_processed"
	OutcomeRetried  = "retried"
	OutcomeFailed   = "failed"
)

// Manager owns every collector exported by the service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	constLabels      prometheus.Labels
	registry         *prometheus.Registry

	// Intake
	eventsAccepted  prometheus.Counter
	eventsDuplicate prometheus.Counter
	eventsRejected  *prometheus.CounterVec
	leadsCreated    prometheus.Counter

	// Queue
	jobsEnqueued prometheus.Counter
	jobsByState  *prometheus.GaugeVec
	enqueueErrs  prometheus.Counter

	// Workers
	jobOutcomes       *prometheus.CounterVec
	workerCount       prometheus.Gauge
	workerLatency     prometheus.Histogram
	scoreApplyLatency prometheus.Histogram
	scoreMutations    prometheus.Counter
	pointsAwarded     *prometheus.CounterVec

	// Notifications
	notificationsPublished *prometheus.CounterVec
	notificationsDropped   prometheus.Counter
	wsClients              prometheus.Gauge

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpErrors          *prometheus.CounterVec
}

// Global manager backing the package-level helpers.
var globalManager *Manager //nolint:gochecknoglobals // singleton metrics manager

func init() { //nolint:gochecknoinits // global metrics setup
	globalManager = NewManager()
}

// NewManager creates a Manager on its own registry unless one is supplied.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "engage",
		subsystem:        "scoring",
		histogramBuckets: []float64{0.5, 1, 2.5, 5, 10, 25, 50, 100, 250, 500, 1000},
		registry:         prometheus.NewRegistry(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) initializeMetrics() { //nolint:funlen // flat list of collectors
	auto := promauto.With(m.registry)

	counter := func(name, help string) prometheus.Counter {
		return auto.NewCounter(prometheus.CounterOpts{
			Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
		})
	}
	gauge := func(name, help string) prometheus.Gauge {
		return auto.NewGauge(prometheus.GaugeOpts{
			Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
		})
	}
	histogram := func(name, help string) prometheus.Histogram {
		return auto.NewHistogram(prometheus.HistogramOpts{
			Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
			Buckets: m.histogramBuckets,
		})
	}

	m.eventsAccepted = counter("events_accepted_total", "Events written to the event store and enqueued")
	m.eventsDuplicate = counter("events_duplicate_total", "Submissions rejected as duplicates of a known event_id")
	m.eventsRejected = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, ConstLabels: m.constLabels,
		Name: "events_rejected_total", Help: "Submissions rejected by intake, by reason",
	}, []string{"reason"})
	m.leadsCreated = counter("leads_created_total", "Leads created implicitly by intake")

	m.jobsEnqueued = counter("jobs_enqueued_total", "Jobs persisted to the work queue")
	m.enqueueErrs = counter("jobs_enqueue_errors_total", "Failed attempts to enqueue a job")
	m.jobsByState = auto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, ConstLabels: m.constLabels,
		Name: "jobs", Help: "Jobs currently held by the queue, by state",
	}, []string{"state"})

	m.jobOutcomes = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, ConstLabels: m.constLabels,
		Name: "job_outcomes_total", Help: "Terminal or retry outcomes of job executions",
	}, []string{"outcome"})
	m.workerCount = gauge("worker_count", "Number of scoring workers")
	m.workerLatency = histogram("worker_processing_latency_milliseconds", "End-to-end job processing latency")
	m.scoreApplyLatency = histogram("score_apply_latency_milliseconds", "Latency of the transactional score update")
	m.scoreMutations = counter("score_mutations_total", "Committed lead score mutations (each paired with a history row)")
	m.pointsAwarded = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, ConstLabels: m.constLabels,
		Name: "points_awarded_total", Help: "Points added to lead scores after capping, by event type",
	}, []string{"event_type"})

	m.notificationsPublished = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, ConstLabels: m.constLabels,
		Name: "notifications_published_total", Help: "Notifications published on the bus, by topic",
	}, []string{"topic"})
	m.notificationsDropped = counter("notifications_dropped_total", "Notifications dropped because a subscriber buffer was full")
	m.wsClients = gauge("ws_clients", "Connected WebSocket listeners")

	m.httpRequests = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, ConstLabels: m.constLabels,
		Name: "http_requests_total", Help: "HTTP requests by endpoint, method and status",
	}, []string{"endpoint", "method", "status_code"})
	m.httpRequestDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, ConstLabels: m.constLabels,
		Name: "http_request_duration_milliseconds", Help: "HTTP request duration in milliseconds",
		Buckets: m.histogramBuckets,
	}, []string{"endpoint", "method", "status_code"})
	m.httpErrors = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, ConstLabels: m.constLabels,
		Name: "http_errors_total", Help: "Error responses by endpoint, method, API error code and severity",
	}, []string{"endpoint", "method", "code", "severity"})
}

// Registry returns the registry collectors were registered on.
func (m *Manager) Registry() *prometheus.Registry { return m.registry }

// Default returns the process-wide manager.
func Default() *Manager { return globalManager }

// GetRegistry returns the registry of the process-wide manager.
func GetRegistry() *prometheus.Registry { return globalManager.registry }

// Intake

// RecordEventAccepted counts a newly accepted event.
func RecordEventAccepted() { globalManager.eventsAccepted.Inc() }

// RecordEventDuplicate counts a duplicate submission.
func RecordEventDuplicate() { globalManager.eventsDuplicate.Inc() }

// RecordEventRejected counts a rejected submission.
func RecordEventRejected(reason string) { globalManager.eventsRejected.WithLabelValues(reason).Inc() }

// RecordLeadCreated counts an implicitly created lead.
func RecordLeadCreated() { globalManager.leadsCreated.Inc() }

// Queue

// RecordJobEnqueued counts a persisted job.
func RecordJobEnqueued() { globalManager.jobsEnqueued.Inc() }

// RecordEnqueueError counts a failed enqueue.
func RecordEnqueueError() { globalManager.enqueueErrs.Inc() }

// UpdateJobsByState sets the gauge for one queue state.
func UpdateJobsByState(state string, count int) {
	globalManager.jobsByState.WithLabelValues(state).Set(float64(count))
}

// Workers

// RecordJobOutcome counts a job execution outcome.
func RecordJobOutcome(outcome string) { globalManager.jobOutcomes.WithLabelValues(outcome).Inc() }

// UpdateWorkerCount sets the number of running workers.
func UpdateWorkerCount(count int) { globalManager.workerCount.Set(float64(count)) }

// RecordWorkerProcessingLatency observes a job's processing latency.
func RecordWorkerProcessingLatency(latencyMs float64) { globalManager.workerLatency.Observe(latencyMs) }

// RecordScoreApplyLatency observes the transactional update latency.
func RecordScoreApplyLatency(latencyMs float64) { globalManager.scoreApplyLatency.Observe(latencyMs) }

// RecordScoreMutation counts a committed score change and the points it added.
func RecordScoreMutation(eventType string, delta int) {
	globalManager.scoreMutations.Inc()
	if delta > 0 {
		globalManager.pointsAwarded.WithLabelValues(eventType).Add(float64(delta))
	}
}

// Notifications

// RecordNotificationPublished counts a published notification.
func RecordNotificationPublished(topic string) {
	globalManager.notificationsPublished.WithLabelValues(topic).Inc()
}

// RecordNotificationDropped counts a notification a subscriber could not take.
func RecordNotificationDropped() { globalManager.notificationsDropped.Inc() }

// UpdateWSClients sets the number of connected WebSocket listeners.
func UpdateWSClients(count int) { globalManager.wsClients.Set(float64(count)) }

// HTTP

// RecordHTTPRequest counts a served request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration observes a request duration in milliseconds.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// RecordHTTPError counts an error response by its API error code.
func RecordHTTPError(endpoint, method, code, severity string) {
	globalManager.httpErrors.WithLabelValues(endpoint, method, code, severity).Inc()
}
