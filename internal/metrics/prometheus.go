package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the viseme sync service
type Metrics struct {
	// Audio submission metrics
	SubmissionsReceived prometheus.Counter
	SubmissionsRejected prometheus.Counter
	SubmissionsFailed   prometheus.Counter
	ProcessingDuration  prometheus.Histogram
	FramesProduced      prometheus.Histogram

	// Session metrics
	SessionsCreated prometheus.Counter
	SessionsEvicted prometheus.Counter
	ActiveSessions  prometheus.Gauge

	// Stream metrics
	ConnectionsTotal  prometheus.Counter
	ActiveConnections prometheus.Gauge
	FramesStreamed    prometheus.Counter
	StreamsCompleted  prometheus.Counter
	StreamErrors      *prometheus.CounterVec
	StreamDuration    prometheus.Histogram

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics() *Metrics {
	return &Metrics{
		// Audio submission metrics
		SubmissionsReceived: promauto.NewCounter(prometheus.CounterOpts{
			Name: "viseme_submissions_received_total",
			Help: "Total number of audio submissions received",
		}),
		SubmissionsRejected: promauto.NewCounter(prometheus.CounterOpts{
			Name: "viseme_submissions_rejected_total",
			Help: "Total number of audio submissions rejected as invalid",
		}),
		SubmissionsFailed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "viseme_submissions_failed_total",
			Help: "Total number of submissions that failed during frame production",
		}),
		ProcessingDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "viseme_processing_duration_seconds",
			Help:    "Time spent producing frames for a submission",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
		}),
		FramesProduced: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "viseme_frames_produced",
			Help:    "Number of frames produced per submission",
			Buckets: prometheus.ExponentialBuckets(30, 2, 10), // 1s to ~8.5 minutes at 30 fps
		}),

		// Session metrics
		SessionsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "viseme_sessions_created_total",
			Help: "Total number of sessions created",
		}),
		SessionsEvicted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "viseme_sessions_evicted_total",
			Help: "Total number of sessions evicted by the reaper",
		}),
		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "viseme_active_sessions",
			Help: "Current number of live sessions in the store",
		}),

		// Stream metrics
		ConnectionsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "viseme_stream_connections_total",
			Help: "Total number of streaming connections accepted",
		}),
		ActiveConnections: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "viseme_active_stream_connections",
			Help: "Current number of active streaming connections",
		}),
		FramesStreamed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "viseme_frames_streamed_total",
			Help: "Total number of frames delivered over streaming connections",
		}),
		StreamsCompleted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "viseme_streams_completed_total",
			Help: "Total number of streams that delivered their full frame sequence",
		}),
		StreamErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "viseme_stream_errors_total",
			Help: "Total number of stream errors by reason",
		}, []string{"reason"}),
		StreamDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "viseme_stream_duration_seconds",
			Help:    "Wall-clock duration of streaming connections",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10), // 1s to ~17 minutes
		}),

		// HTTP API metrics
		HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "viseme_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "viseme_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "viseme_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordSubmission increments the submissions received counter
func (m *Metrics) RecordSubmission() {
	m.SubmissionsReceived.Inc()
}

// RecordSubmissionRejected increments the rejected submissions counter
func (m *Metrics) RecordSubmissionRejected() {
	m.SubmissionsRejected.Inc()
}

// RecordSubmissionFailed increments the failed submissions counter
func (m *Metrics) RecordSubmissionFailed() {
	m.SubmissionsFailed.Inc()
}

// RecordProcessing records a completed frame production run
func (m *Metrics) RecordProcessing(durationSeconds float64, frameCount int) {
	m.ProcessingDuration.Observe(durationSeconds)
	m.FramesProduced.Observe(float64(frameCount))
}

// RecordSessionCreated increments the sessions created counter
func (m *Metrics) RecordSessionCreated() {
	m.SessionsCreated.Inc()
}

// RecordSessionEvicted increments the sessions evicted counter
func (m *Metrics) RecordSessionEvicted() {
	m.SessionsEvicted.Inc()
}

// SetActiveSessions sets the live session gauge
func (m *Metrics) SetActiveSessions(count int) {
	m.ActiveSessions.Set(float64(count))
}

// RecordConnectionOpened tracks a new streaming connection
func (m *Metrics) RecordConnectionOpened() {
	m.ConnectionsTotal.Inc()
	m.ActiveConnections.Inc()
}

// RecordConnectionClosed tracks a finished streaming connection
func (m *Metrics) RecordConnectionClosed(durationSeconds float64) {
	m.ActiveConnections.Dec()
	m.StreamDuration.Observe(durationSeconds)
}

// RecordFrameStreamed increments the frames streamed counter
func (m *Metrics) RecordFrameStreamed() {
	m.FramesStreamed.Inc()
}

// RecordStreamCompleted increments the completed streams counter
func (m *Metrics) RecordStreamCompleted() {
	m.StreamsCompleted.Inc()
}

// RecordStreamError increments the stream error counter for a reason
func (m *Metrics) RecordStreamError(reason string) {
	m.StreamErrors.WithLabelValues(reason).Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
