package external

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"
)

// ResilienceConfig tunes the wrapper for one channel.
type ResilienceConfig struct {
	Name string
	// RatePerSecond is the sustained send rate; Burst defaults to 1.
	RatePerSecond float64
	Burst         int
	// BreakerFailures is the number of consecutive transient failures that
	// open the breaker; BreakerTimeout is how long it stays open.
	BreakerFailures uint32
	BreakerTimeout  time.Duration
	Logger          *slog.Logger
}

// Resilient wraps a Provider with a token-bucket rate limiter and a circuit
// breaker. Only transient failures count against the breaker; a permanent
// rejection says nothing about the vendor's health.
type Resilient struct {
	next    Provider
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[string]
	name    string
}

var _ Provider = (*Resilient)(nil)

func NewResilient(next Provider, cfg ResilienceConfig) *Resilient {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}
	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	failures := cfg.BreakerFailures
	if failures == 0 {
		failures = 5
	}
	timeout := cfg.BreakerTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	cb := gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || KindOf(err) == FailurePermanent
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("provider circuit breaker state change",
				"provider", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	})

	return &Resilient{
		next:    next,
		limiter: rate.NewLimiter(limit, burst),
		breaker: cb,
		name:    cfg.Name,
	}
}

// Send waits for a rate token (honouring ctx), then calls the provider
// through the breaker. An open breaker is a transient failure.
func (r *Resilient) Send(ctx context.Context, msg Message) (string, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return "", Transient(r.name, err)
	}

	id, err := r.breaker.Execute(func() (string, error) {
		return r.next.Send(ctx, msg)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return "", Transient(r.name, err)
		}
		return "", err
	}
	return id, nil
}

// State reports the breaker state for health output.
func (r *Resilient) State() gobreaker.State {
	return r.breaker.State()
}
