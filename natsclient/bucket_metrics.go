package natsclient

import (
	"context"
	"sync"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/das-developers/das2py-server-sub000/metric"
)

// bucketMetrics exports the size of the KV buckets opened through a client.
type bucketMetrics struct {
	values *prometheus.GaugeVec
	bytes  *prometheus.GaugeVec
	errors *prometheus.CounterVec

	mu      sync.RWMutex
	buckets map[string]jetstream.KeyValue
}

func newBucketMetrics(registry metric.Registrar) (*bucketMetrics, error) {
	m := &bucketMetrics{
		values: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "dasflex",
			Subsystem: "kv",
			Name:      "bucket_values",
			Help:      "Current number of values in the bucket",
		}, []string{"bucket"}),

		bytes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "dasflex",
			Subsystem: "kv",
			Name:      "bucket_bytes",
			Help:      "Storage bytes used by the bucket",
		}, []string{"bucket"}),

		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dasflex",
			Subsystem: "kv",
			Name:      "operation_errors_total",
			Help:      "JetStream KV management errors",
		}, []string{"operation"}),

		buckets: make(map[string]jetstream.KeyValue),
	}

	if err := registry.Register("natsclient", "bucket_values", m.values); err != nil {
		return nil, err
	}
	if err := registry.Register("natsclient", "bucket_bytes", m.bytes); err != nil {
		return nil, err
	}
	if err := registry.Register("natsclient", "operation_errors", m.errors); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *bucketMetrics) track(name string, kv jetstream.KeyValue) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.buckets[name] = kv
}

func (m *bucketMetrics) recordError(op string) {
	if m != nil {
		m.errors.WithLabelValues(op).Inc()
	}
}

// updateStats refreshes the gauges; unavailable buckets are skipped.
func (m *bucketMetrics) updateStats(ctx context.Context) {
	if m == nil {
		return
	}

	m.mu.RLock()
	buckets := make(map[string]jetstream.KeyValue, len(m.buckets))
	for k, v := range m.buckets {
		buckets[k] = v
	}
	m.mu.RUnlock()

	for name, kv := range buckets {
		st, err := kv.Status(ctx)
		if err != nil {
			m.recordError("status")
			continue
		}
		m.values.WithLabelValues(name).Set(float64(st.Values()))
		m.bytes.WithLabelValues(name).Set(float64(st.Bytes()))
	}
}

func (m *bucketMetrics) startPoller(ctx context.Context, interval time.Duration) context.CancelFunc {
	if m == nil {
		return func() {}
	}

	ctx, cancel := context.WithCancel(ctx)
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.updateStats(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
	return cancel
}
