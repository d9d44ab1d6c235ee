// Package core holds the delivery outcome logic shared by every channel:
// retry policy, the job outcome state machine, and delivery metrics.
package core

import (
	"context"
	"time"

	"herald/internal/config"
	"herald/internal/types"
)

// MetricResult categorizes a delivery outcome for metrics reporting.
type MetricResult string

const (
	MetricSuccess MetricResult = "success"
	MetricRetry   MetricResult = "retry"
	MetricFailed  MetricResult = "failed"
)

// DeliveryMetrics abstracts the metrics backend (CloudWatch, Prometheus or
// none) for the dispatch path.
type DeliveryMetrics interface {
	RecordDelivery(ctx context.Context, channel types.Channel, result MetricResult)
	RecordLatency(ctx context.Context, channel types.Channel, duration time.Duration)
	RecordQueueLag(ctx context.Context, lag time.Duration)
	RecordDeadLetter(ctx context.Context, channel types.Channel, reason types.DeadLetterReason)
	RecordGauge(ctx context.Context, name string, value float64)
}

// NoopMetrics discards everything.
type NoopMetrics struct{}

func (NoopMetrics) RecordDelivery(context.Context, types.Channel, MetricResult)               {}
func (NoopMetrics) RecordLatency(context.Context, types.Channel, time.Duration)               {}
func (NoopMetrics) RecordQueueLag(context.Context, time.Duration)                             {}
func (NoopMetrics) RecordDeadLetter(context.Context, types.Channel, types.DeadLetterReason) {}
func (NoopMetrics) RecordGauge(context.Context, string, float64)                              {}

// RetryPolicy defines the exponential backoff parameters for delivery retries.
type RetryPolicy struct {
	MaxAttempts   int
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// DefaultRetryPolicy mirrors the worker configuration defaults.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts:   5,
	BaseDelay:     30 * time.Second,
	MaxDelay:      time.Hour,
	BackoffFactor: 2.0,
}

// RetryPolicyFromConfig builds the policy from worker settings.
func RetryPolicyFromConfig(cfg config.WorkerConfig) RetryPolicy {
	return RetryPolicy{
		MaxAttempts:   cfg.MaxAttempts,
		BaseDelay:     cfg.RetryBaseDelay,
		MaxDelay:      cfg.RetryMaxDelay,
		BackoffFactor: cfg.RetryBackoffFactor,
	}
}

// CalculateNextRetry computes the delay before the next retry attempt using
// exponential backoff: delay = min(BaseDelay * BackoffFactor^attempt, MaxDelay).
// attempt is the number of attempts already made before the failing one.
func CalculateNextRetry(policy RetryPolicy, attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	delay := float64(policy.BaseDelay)
	for i := 0; i < attempt; i++ {
		delay *= policy.BackoffFactor
		if delay >= float64(policy.MaxDelay) {
			return policy.MaxDelay
		}
	}

	d := time.Duration(delay)
	if d > policy.MaxDelay || d < 0 {
		d = policy.MaxDelay
	}
	return d
}
