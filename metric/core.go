package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "dasflex"

// Metrics contains the request, cache and job queue metrics
type Metrics struct {
	// Request path
	RequestsTotal    *prometheus.CounterVec
	StreamBytes      *prometheus.CounterVec
	PipelineDuration *prometheus.HistogramVec

	// Cache layer
	CacheLookups  *prometheus.CounterVec
	JobsEnqueued  *prometheus.CounterVec
	JobsCoalesced prometheus.Counter

	// Worker runtime
	JobsFinished *prometheus.CounterVec
	BrokerErrors *prometheus.CounterVec

	// NATS connection
	NATSConnected      prometheus.Gauge
	NATSReconnects     prometheus.Counter
	NATSCircuitBreaker prometheus.Gauge
}

// NewMetrics creates a new Metrics instance
func NewMetrics() *Metrics {
	return &Metrics{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_total",
				Help:      "Requests handled, by calling convention and HTTP status",
			},
			[]string{"convention", "status"},
		),

		StreamBytes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stream_bytes_total",
				Help:      "Response body bytes streamed from pipelines",
			},
			[]string{"convention"},
		),

		PipelineDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "pipeline_duration_seconds",
				Help:      "Wall time of pipeline subprocesses",
				Buckets:   []float64{.05, .1, .5, 1, 5, 15, 60, 300, 1800},
			},
			[]string{"outcome"},
		),

		CacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "cache",
				Name:      "lookups_total",
				Help:      "Cache lookups by result (hit, miss, uncacheable)",
			},
			[]string{"result"},
		),

		JobsEnqueued: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "jobs_enqueued_total",
				Help:      "Jobs pushed onto the pending queue",
			},
			[]string{"category"},
		),

		JobsCoalesced: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "jobs_coalesced_total",
				Help:      "Cache fill jobs skipped because an equivalent job was queued",
			},
		),

		JobsFinished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "jobs_finished_total",
				Help:      "Jobs completed by workers",
			},
			[]string{"category", "status"},
		),

		BrokerErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "broker_errors_total",
				Help:      "Work queue broker failures by operation",
			},
			[]string{"op"},
		),

		NATSConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "nats",
				Name:      "connected",
				Help:      "NATS connection status (0=disconnected, 1=connected)",
			},
		),

		NATSReconnects: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "nats",
				Name:      "reconnects_total",
				Help:      "Total number of NATS reconnections",
			},
		),

		NATSCircuitBreaker: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "nats",
				Name:      "circuit_breaker",
				Help:      "Circuit breaker state (0=closed, 1=open)",
			},
		),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.RequestsTotal,
		m.StreamBytes,
		m.PipelineDuration,
		m.CacheLookups,
		m.JobsEnqueued,
		m.JobsCoalesced,
		m.JobsFinished,
		m.BrokerErrors,
		m.NATSConnected,
		m.NATSReconnects,
		m.NATSCircuitBreaker,
	}
}

// A nil *Metrics is valid and records nothing, so libraries can be used
// without a registry.

// RecordRequest counts a finished request
func (m *Metrics) RecordRequest(convention string, status int, bytes int64) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(convention, statusLabel(status)).Inc()
	if bytes > 0 {
		m.StreamBytes.WithLabelValues(convention).Add(float64(bytes))
	}
}

// RecordPipeline observes a pipeline run
func (m *Metrics) RecordPipeline(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.PipelineDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

// RecordCacheLookup counts a cache lookup result
func (m *Metrics) RecordCacheLookup(result string) {
	if m == nil {
		return
	}
	m.CacheLookups.WithLabelValues(result).Inc()
}

// RecordEnqueue counts a pushed job
func (m *Metrics) RecordEnqueue(category string) {
	if m == nil {
		return
	}
	m.JobsEnqueued.WithLabelValues(category).Inc()
}

// RecordCoalesced counts a skipped duplicate fill job
func (m *Metrics) RecordCoalesced() {
	if m == nil {
		return
	}
	m.JobsCoalesced.Inc()
}

// RecordJobFinished counts a finished job
func (m *Metrics) RecordJobFinished(category, status string) {
	if m == nil {
		return
	}
	m.JobsFinished.WithLabelValues(category, status).Inc()
}

// RecordBrokerError counts a broker failure
func (m *Metrics) RecordBrokerError(op string) {
	if m == nil {
		return
	}
	m.BrokerErrors.WithLabelValues(op).Inc()
}

// RecordNATSStatus updates NATS connection status
func (m *Metrics) RecordNATSStatus(connected bool) {
	if m == nil {
		return
	}
	value := 0.0
	if connected {
		value = 1.0
	}
	m.NATSConnected.Set(value)
}

// RecordNATSReconnect increments reconnection counter
func (m *Metrics) RecordNATSReconnect() {
	if m == nil {
		return
	}
	m.NATSReconnects.Inc()
}

// RecordCircuitBreakerState updates circuit breaker status
func (m *Metrics) RecordCircuitBreakerState(state int) {
	if m == nil {
		return
	}
	m.NATSCircuitBreaker.Set(float64(state))
}

func statusLabel(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
