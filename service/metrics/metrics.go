package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the application.
// Following the explicit dependency injection pattern, this struct
// is passed to all components that need to record metrics.
type Metrics struct {
	// Horizon Metrics
	horizonCallsTotal      *prometheus.CounterVec
	horizonCallDuration    *prometheus.HistogramVec
	streamReconnectsTotal  *prometheus.CounterVec
	streamMessagesReceived *prometheus.CounterVec

	// Submission Metrics
	submissionsTotal        *prometheus.CounterVec
	submissionStageDuration *prometheus.HistogramVec

	// Listener Metrics
	notificationsTotal  *prometheus.CounterVec
	enrichmentDuration  *prometheus.HistogramVec
	activeSubscriptions *prometheus.GaugeVec

	// Workflow Metrics
	activityDuration *prometheus.HistogramVec

	// Database Metrics
	dbQueryDuration   *prometheus.HistogramVec
	dbOperationsTotal *prometheus.CounterVec

	// HTTP Metrics
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsTotal    *prometheus.CounterVec
	sseActiveConnections *prometheus.GaugeVec
	sseEventsSent        *prometheus.CounterVec

	// NATS Metrics
	natsMessagesPublished *prometheus.CounterVec
	natsPublishDuration   *prometheus.HistogramVec
}

// NewMetrics creates a new Metrics instance and registers all collectors.
// If registry is nil, prometheus.DefaultRegisterer is used.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		horizonCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "horizon_calls_total",
				Help: "Total number of Horizon calls by method and status",
			},
			[]string{"method", "status"},
		),
		horizonCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "horizon_call_duration_seconds",
				Help:    "Duration of Horizon calls in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"method"},
		),
		streamReconnectsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payment_stream_reconnects_total",
				Help: "Total number of payment stream reconnects",
			},
			[]string{"address"},
		),
		streamMessagesReceived: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payment_stream_messages_total",
				Help: "Total number of messages received on payment streams",
			},
			[]string{"address"},
		),

		submissionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payment_submissions_total",
				Help: "Total number of payment submissions by terminal outcome",
			},
			[]string{"outcome"},
		),
		submissionStageDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "payment_submission_stage_duration_seconds",
				Help:    "Duration of each submission pipeline stage in seconds",
				Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 30.0},
			},
			[]string{"stage"},
		),

		notificationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payment_notifications_total",
				Help: "Total number of payment notifications by handling status",
			},
			[]string{"address", "status"},
		),
		enrichmentDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "payment_enrichment_duration_seconds",
				Help:    "Duration of notification enrichment lookups in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
			},
			[]string{"address"},
		),
		activeSubscriptions: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "payment_subscriptions_active",
				Help: "Number of open payment subscriptions",
			},
			[]string{"address"},
		),

		activityDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "temporal_activity_duration_seconds",
				Help:    "Duration of reconcile activity execution in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"activity", "status"},
		),

		dbQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "db_query_duration_seconds",
				Help:    "Duration of database queries in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
			},
			[]string{"operation", "table"},
		),
		dbOperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "db_operations_total",
				Help: "Total number of database operations",
			},
			[]string{"operation", "status"},
		),

		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
			},
			[]string{"handler", "method", "status"},
		),
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"handler", "method", "status"},
		),
		sseActiveConnections: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "sse_active_connections",
				Help: "Number of active SSE connections",
			},
			[]string{"address"},
		),
		sseEventsSent: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sse_events_sent_total",
				Help: "Total number of SSE events sent",
			},
			[]string{"address", "event_type"},
		),

		natsMessagesPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nats_messages_published_total",
				Help: "Total number of NATS messages published",
			},
			[]string{"subject", "status"},
		),
		natsPublishDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nats_publish_duration_seconds",
				Help:    "Duration of NATS publish operations in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
			},
			[]string{"subject"},
		),
	}
}

// Horizon metric helpers

// RecordHorizonCall records a Horizon call with duration.
func (m *Metrics) RecordHorizonCall(method, status string, duration float64) {
	m.horizonCallsTotal.WithLabelValues(method, status).Inc()
	m.horizonCallDuration.WithLabelValues(method).Observe(duration)
}

// RecordStreamReconnect records a payment stream reconnect.
func (m *Metrics) RecordStreamReconnect(address string) {
	m.streamReconnectsTotal.WithLabelValues(address).Inc()
}

// RecordStreamMessage records a message read off a payment stream.
func (m *Metrics) RecordStreamMessage(address string) {
	m.streamMessagesReceived.WithLabelValues(address).Inc()
}

// Submission metric helpers

// RecordSubmission records the terminal outcome of a submission attempt.
func (m *Metrics) RecordSubmission(outcome string) {
	m.submissionsTotal.WithLabelValues(outcome).Inc()
}

// RecordSubmissionStage records how long a pipeline stage took.
func (m *Metrics) RecordSubmissionStage(stage string, duration float64) {
	m.submissionStageDuration.WithLabelValues(stage).Observe(duration)
}

// Listener metric helpers

// RecordNotification records a notification by status (delivered, dropped).
func (m *Metrics) RecordNotification(address, status string) {
	m.notificationsTotal.WithLabelValues(address, status).Inc()
}

// RecordEnrichment records an enrichment lookup duration.
func (m *Metrics) RecordEnrichment(address string, duration float64) {
	m.enrichmentDuration.WithLabelValues(address).Observe(duration)
}

// RecordSubscriptionChange records a subscription opening (+1) or closing (-1).
func (m *Metrics) RecordSubscriptionChange(address string, delta float64) {
	m.activeSubscriptions.WithLabelValues(address).Add(delta)
}

// Workflow metric helpers

// RecordActivityDuration records one reconcile activity execution.
func (m *Metrics) RecordActivityDuration(activity string, duration float64, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.activityDuration.WithLabelValues(activity, status).Observe(duration)
}

// Database metric helpers

// RecordDBQuery records a database query with duration.
func (m *Metrics) RecordDBQuery(operation, table string, duration float64, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.dbQueryDuration.WithLabelValues(operation, table).Observe(duration)
	m.dbOperationsTotal.WithLabelValues(operation, status).Inc()
}

// HTTP metric helpers

// RecordHTTPRequest records an HTTP request with duration.
func (m *Metrics) RecordHTTPRequest(handler, method string, statusCode int, duration float64) {
	status := statusCodeToString(statusCode)
	m.httpRequestDuration.WithLabelValues(handler, method, status).Observe(duration)
	m.httpRequestsTotal.WithLabelValues(handler, method, status).Inc()
}

// RecordSSEConnectionChange records a change in SSE connection count.
func (m *Metrics) RecordSSEConnectionChange(address string, delta float64) {
	m.sseActiveConnections.WithLabelValues(address).Add(delta)
}

// RecordSSEEventSent records an SSE event being sent.
func (m *Metrics) RecordSSEEventSent(address, eventType string) {
	m.sseEventsSent.WithLabelValues(address, eventType).Inc()
}

// NATS metric helpers

// RecordNATSPublish records a NATS publish operation.
func (m *Metrics) RecordNATSPublish(subject, status string, duration float64) {
	m.natsMessagesPublished.WithLabelValues(subject, status).Inc()
	m.natsPublishDuration.WithLabelValues(subject).Observe(duration)
}

func statusCodeToString(code int) string {
	switch {
	case code == StatusClientClosedRequest:
		return "canceled"
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500 && code < 600:
		return "5xx"
	default:
		return "unknown"
	}
}
