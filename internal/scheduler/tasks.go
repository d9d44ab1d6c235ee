package scheduler

import (
	"context"
	"log/slog"
	"time"

	"herald/internal/notifications/core"
	"herald/internal/tenants"
	"herald/internal/types"
)

const (
	// Gauge names emitted by the tasks.
	GaugeDeadLetterBacklog = types.MetricDeadLetterBacklog
	GaugeStaleLeases       = types.MetricStaleLeases
	GaugeOrphansDeleted    = types.MetricOrphansDeleted
)

// OrphanReconciler deletes tenants left behind by failed registrations.
type OrphanReconciler interface {
	ReconcileOrphans(ctx context.Context, grace time.Duration, limit int) (tenants.ReconcileResult, error)
}

// ReconcileOrphans runs one orphan sweep and reports how many were deleted.
func ReconcileOrphans(ctx context.Context, r OrphanReconciler, metrics core.DeliveryMetrics, grace time.Duration, limit int, logger *slog.Logger) (int, error) {
	res, err := r.ReconcileOrphans(ctx, grace, limit)
	if err != nil {
		return res.Deleted, err
	}
	metrics.RecordGauge(ctx, GaugeOrphansDeleted, float64(res.Deleted))
	if res.Found > 0 {
		logger.InfoContext(ctx, "orphaned applications reconciled",
			"found", res.Found,
			"deleted", res.Deleted,
			"failed", res.Failed,
		)
	}
	return res.Deleted, nil
}

// UnpublishedDeadLetters is the dead-letter store view the sweep needs.
type UnpublishedDeadLetters interface {
	ListUnpublished(ctx context.Context, limit int) ([]*types.DeadLetter, error)
	MarkPublished(ctx context.Context, id string, at time.Time) error
}

// DeadLetterSweeper republishes dead letters whose first publish failed.
type DeadLetterSweeper struct {
	store     UnpublishedDeadLetters
	publisher core.DeadLetterPublisher
	metrics   core.DeliveryMetrics
	clock     types.Clock
	logger    *slog.Logger
}

// NewDeadLetterSweeper builds a sweeper. With a nil publisher the sweep
// only reports the backlog.
func NewDeadLetterSweeper(store UnpublishedDeadLetters, publisher core.DeadLetterPublisher, metrics core.DeliveryMetrics, clock types.Clock, logger *slog.Logger) *DeadLetterSweeper {
	if metrics == nil {
		metrics = core.NoopMetrics{}
	}
	if clock == nil {
		clock = types.RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DeadLetterSweeper{store: store, publisher: publisher, metrics: metrics, clock: clock, logger: logger}
}

// Sweep emits the unpublished backlog gauge and republishes up to limit
// rows. It returns the number republished. A failed publish leaves the row
// for the next sweep.
func (s *DeadLetterSweeper) Sweep(ctx context.Context, limit int) (int, error) {
	pending, err := s.store.ListUnpublished(ctx, limit)
	if err != nil {
		return 0, err
	}
	s.metrics.RecordGauge(ctx, GaugeDeadLetterBacklog, float64(len(pending)))
	if s.publisher == nil || len(pending) == 0 {
		return 0, nil
	}

	published := 0
	for _, dl := range pending {
		if ctx.Err() != nil {
			return published, ctx.Err()
		}
		if err := s.publisher.Publish(ctx, dl); err != nil {
			s.logger.WarnContext(ctx, "dead letter republish failed",
				"dead_letter_id", dl.ID,
				"job_id", dl.JobID,
				"error", err,
			)
			continue
		}
		if err := s.store.MarkPublished(ctx, dl.ID, s.clock.Now()); err != nil {
			s.logger.WarnContext(ctx, "failed to mark dead letter published",
				"dead_letter_id", dl.ID,
				"error", err,
			)
			continue
		}
		published++
	}

	s.logger.InfoContext(ctx, "dead letter sweep complete",
		"backlog", len(pending),
		"republished", published,
	)
	return published, nil
}

// StaleLeaseLister finds in-flight jobs whose lease ran out.
type StaleLeaseLister interface {
	ListStaleLeases(ctx context.Context, limit int) ([]*types.ScheduledJob, error)
}

// ReportStaleLeases emits the stale lease gauge. The jobs themselves are
// re-claimed by the next worker poll.
func ReportStaleLeases(ctx context.Context, jobs StaleLeaseLister, metrics core.DeliveryMetrics, limit int, logger *slog.Logger) (int, error) {
	stale, err := jobs.ListStaleLeases(ctx, limit)
	if err != nil {
		return 0, err
	}
	metrics.RecordGauge(ctx, GaugeStaleLeases, float64(len(stale)))
	if len(stale) > 0 {
		ids := make([]string, 0, min(len(stale), 10))
		for _, j := range stale[:min(len(stale), 10)] {
			ids = append(ids, j.ID)
		}
		logger.WarnContext(ctx, "jobs with expired leases awaiting re-claim",
			"count", len(stale),
			"sample_job_ids", ids,
		)
	}
	return len(stale), nil
}
