package core

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"herald/internal/types"
)

var _ DeliveryMetrics = (*PrometheusMetrics)(nil)

// PrometheusMetrics exposes dispatch metrics for scraping.
type PrometheusMetrics struct {
	deliveries  *prometheus.CounterVec
	latency     *prometheus.HistogramVec
	queueLag    prometheus.Histogram
	deadLetters *prometheus.CounterVec

	reg    prometheus.Registerer
	mu     sync.Mutex
	gauges map[string]prometheus.Gauge
}

// NewPrometheusMetrics registers the collectors on reg.
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	m := &PrometheusMetrics{
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "herald",
			Name:      "delivery_attempts_total",
			Help:      "Delivery attempts by channel and result.",
		}, []string{"channel", "result"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "herald",
			Name:      "delivery_latency_seconds",
			Help:      "Provider call duration.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"channel"}),
		queueLag: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "herald",
			Name:      "queue_lag_seconds",
			Help:      "Delay between a job's fire time and its claim.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
		}),
		deadLetters: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "herald",
			Name:      "dead_letters_total",
			Help:      "Jobs dead-lettered by channel and reason.",
		}, []string{"channel", "reason"}),
		reg:    reg,
		gauges: make(map[string]prometheus.Gauge),
	}
	reg.MustRegister(m.deliveries, m.latency, m.queueLag, m.deadLetters)
	return m
}

func (m *PrometheusMetrics) RecordDelivery(_ context.Context, channel types.Channel, result MetricResult) {
	m.deliveries.WithLabelValues(string(channel), string(result)).Inc()
}

func (m *PrometheusMetrics) RecordLatency(_ context.Context, channel types.Channel, duration time.Duration) {
	m.latency.WithLabelValues(string(channel)).Observe(duration.Seconds())
}

func (m *PrometheusMetrics) RecordQueueLag(_ context.Context, lag time.Duration) {
	m.queueLag.Observe(lag.Seconds())
}

func (m *PrometheusMetrics) RecordDeadLetter(_ context.Context, channel types.Channel, reason types.DeadLetterReason) {
	m.deadLetters.WithLabelValues(string(channel), string(reason)).Inc()
}

// RecordGauge lazily registers one gauge per name.
func (m *PrometheusMetrics) RecordGauge(_ context.Context, name string, value float64) {
	m.mu.Lock()
	g, ok := m.gauges[name]
	if !ok {
		g = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "herald",
			Name:      gaugeName(name),
			Help:      name,
		})
		if err := m.reg.Register(g); err != nil {
			if are, isDup := err.(prometheus.AlreadyRegisteredError); isDup {
				g = are.ExistingCollector.(prometheus.Gauge)
			}
		}
		m.gauges[name] = g
	}
	m.mu.Unlock()
	g.Set(value)
}

// gaugeName converts a CamelCase metric name into snake_case.
func gaugeName(name string) string {
	out := make([]byte, 0, len(name)+4)
	for i := 0; i < len(name); i++ {
		c := name[i]
		if c >= 'A' && c <= 'Z' {
			if i > 0 {
				out = append(out, '_')
			}
			c += 'a' - 'A'
		}
		out = append(out, c)
	}
	return string(out)
}
