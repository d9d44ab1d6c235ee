// Package worker runs the dispatch loop: claim due jobs, send them through
// the channel provider and hand the outcome to the delivery manager.
package worker

import (
	"context"
	"log/slog"
	"time"

	"herald/internal/external"
	"herald/internal/notifications/core"
	"herald/internal/types"
)

// OutcomeApplier moves a job to its next state after an attempt.
type OutcomeApplier interface {
	Apply(ctx context.Context, job *types.ScheduledJob, workerID string, out core.Outcome) (core.Disposition, error)
}

// HandlerConfig wires a Handler. Metrics, Clock and Logger are optional.
type HandlerConfig struct {
	Provider        external.Provider
	Outcomes        OutcomeApplier
	Metrics         core.DeliveryMetrics
	ProviderTimeout time.Duration
	Clock           types.Clock
	Logger          *slog.Logger
}

// Handler performs one delivery attempt for a claimed job.
type Handler struct {
	provider external.Provider
	outcomes OutcomeApplier
	metrics  core.DeliveryMetrics
	timeout  time.Duration
	clock    types.Clock
	logger   *slog.Logger
}

func NewHandler(cfg HandlerConfig) *Handler {
	h := &Handler{
		provider: cfg.Provider,
		outcomes: cfg.Outcomes,
		metrics:  cfg.Metrics,
		timeout:  cfg.ProviderTimeout,
		clock:    cfg.Clock,
		logger:   cfg.Logger,
	}
	if h.metrics == nil {
		h.metrics = core.NoopMetrics{}
	}
	if h.timeout <= 0 {
		h.timeout = 15 * time.Second
	}
	if h.clock == nil {
		h.clock = types.RealClock{}
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	return h
}

// DedupeToken identifies one occurrence. Every attempt of a job, including
// a redelivery after its lease expired, reuses it so the provider can drop
// the duplicate.
func DedupeToken(job *types.ScheduledJob) string {
	return job.ID
}

// Handle sends job and applies the outcome. Cancelling ctx does not abort
// an attempt already under way: the provider call runs under its own
// timeout and the outcome is always recorded.
func (h *Handler) Handle(ctx context.Context, workerID string, job *types.ScheduledJob) (core.Disposition, error) {
	if lag := h.clock.Now().Sub(job.FireAt); lag > 0 {
		h.metrics.RecordQueueLag(ctx, lag)
	}

	detached := context.WithoutCancel(ctx)
	sendCtx, cancel := context.WithTimeout(detached, h.timeout)
	defer cancel()

	msg := external.MessageFromPayload(job.Payload, DedupeToken(job))
	start := time.Now()
	id, err := h.provider.Send(sendCtx, msg)
	out := core.Outcome{
		ProviderMessageID: id,
		Duration:          time.Since(start),
		Err:               err,
	}

	disp, err := h.outcomes.Apply(detached, job, workerID, out)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to apply delivery outcome",
			"job_id", job.ID,
			"worker_id", workerID,
			"attempt", job.Attempt+1,
			"error", err,
		)
		return disp, err
	}
	return disp, nil
}
