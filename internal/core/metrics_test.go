package core

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestPrometheusMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewPrometheusMetrics(reg)

	m.RecordRequest("POST", "/v1/notifications", "202", 20*time.Millisecond)
	m.RecordRequest("POST", "/v1/notifications", "202", 30*time.Millisecond)
	m.RecordRequest("POST", "/v1/notifications", "400", time.Millisecond)

	if got := testutil.ToFloat64(m.requests.WithLabelValues("POST", "/v1/notifications", "202")); got != 2 {
		t.Errorf("202 count: got %v, want 2", got)
	}
	if got := testutil.CollectAndCount(m.latency); got != 1 {
		t.Errorf("latency series: got %d, want 1", got)
	}
}
