package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the radio broadcast service
type Metrics struct {
	// Broadcast loop metrics
	ChunksBroadcast prometheus.Counter
	BytesBroadcast  prometheus.Counter
	ChunksDropped   prometheus.Counter
	LoopsCompleted  prometheus.Counter
	SourceErrors    prometheus.Counter

	// Listener metrics
	ListenersActive prometheus.Gauge
	ListenersTotal  prometheus.Counter
	SeedChunks      prometheus.Counter
	SessionDuration prometheus.Histogram

	// Preparation metrics
	PrepareDuration prometheus.Gauge

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics() *Metrics {
	return &Metrics{
		ChunksBroadcast: promauto.NewCounter(prometheus.CounterOpts{
			Name: "radio_chunks_broadcast_total",
			Help: "Total number of chunks produced by the broadcast loop",
		}),
		BytesBroadcast: promauto.NewCounter(prometheus.CounterOpts{
			Name: "radio_bytes_broadcast_total",
			Help: "Total number of audio bytes produced by the broadcast loop",
		}),
		ChunksDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "radio_chunks_dropped_total",
			Help: "Total number of chunk deliveries dropped due to full listener queues",
		}),
		LoopsCompleted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "radio_loops_completed_total",
			Help: "Total number of complete passes over the audio asset",
		}),
		SourceErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "radio_source_errors_total",
			Help: "Total number of audio source open or read failures",
		}),

		ListenersActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "radio_listeners_active",
			Help: "Current number of connected listeners",
		}),
		ListenersTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "radio_listeners_total",
			Help: "Total number of listeners that have connected",
		}),
		SeedChunks: promauto.NewCounter(prometheus.CounterOpts{
			Name: "radio_seed_chunks_total",
			Help: "Total number of last-chunk seeds delivered to late joiners",
		}),
		SessionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "radio_session_duration_seconds",
			Help:    "Duration of listener sessions in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~68 minutes
		}),

		PrepareDuration: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "radio_prepare_duration_seconds",
			Help: "Time the startup audio preparation pass took",
		}),

		HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "radio_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "radio_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "radio_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordChunkBroadcast records one tick of the broadcast loop
func (m *Metrics) RecordChunkBroadcast(sizeBytes, dropped int) {
	m.ChunksBroadcast.Inc()
	m.BytesBroadcast.Add(float64(sizeBytes))
	if dropped > 0 {
		m.ChunksDropped.Add(float64(dropped))
	}
}

// RecordLoop increments the completed pass counter
func (m *Metrics) RecordLoop() {
	m.LoopsCompleted.Inc()
}

// RecordSourceError increments the source failure counter
func (m *Metrics) RecordSourceError() {
	m.SourceErrors.Inc()
}

// RecordListenerJoined records a new listener connection
func (m *Metrics) RecordListenerJoined(active int) {
	m.ListenersTotal.Inc()
	m.ListenersActive.Set(float64(active))
}

// RecordListenerLeft records a listener disconnect and its session duration
func (m *Metrics) RecordListenerLeft(active int, durationSeconds float64) {
	m.ListenersActive.Set(float64(active))
	m.SessionDuration.Observe(durationSeconds)
}

// RecordSeedChunk increments the late-join seed counter
func (m *Metrics) RecordSeedChunk() {
	m.SeedChunks.Inc()
}

// RecordPreparation records the startup preparation time
func (m *Metrics) RecordPreparation(durationSeconds float64) {
	m.PrepareDuration.Set(durationSeconds)
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
