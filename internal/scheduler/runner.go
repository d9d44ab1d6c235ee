package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"herald/internal/notifications/core"
	"herald/internal/types"
)

const (
	orphanBatchLimit     = 50
	deadLetterBatchLimit = 100
	staleLeaseLimit      = 500
)

// JobLocker takes the per-slot task lock.
type JobLocker interface {
	Acquire(ctx context.Context, lockID, workerID string, ttl time.Duration) (bool, error)
}

// JobHistorian records task runs.
type JobHistorian interface {
	Start(ctx context.Context, jobType string) (int64, error)
	Finish(ctx context.Context, id int64, status string, items int, err error) error
}

// Services are the task implementations. A nil entry makes its task fail.
type Services struct {
	Orphans     OrphanReconciler
	DeadLetters *DeadLetterSweeper
	Jobs        StaleLeaseLister
}

// RunnerConfig wires a Runner.
type RunnerConfig struct {
	Services    Services
	Locks       JobLocker
	History     JobHistorian
	Metrics     core.DeliveryMetrics
	WorkerID    string
	OrphanGrace time.Duration
	LockTTL     time.Duration
	Clock       types.Clock
	Logger      *slog.Logger
}

// Runner executes maintenance tasks under the hourly job lock and records
// each run in job history.
type Runner struct {
	cfg    RunnerConfig
	logger *slog.Logger
}

func NewRunner(cfg RunnerConfig) *Runner {
	if cfg.Metrics == nil {
		cfg.Metrics = core.NoopMetrics{}
	}
	if cfg.OrphanGrace <= 0 {
		cfg.OrphanGrace = time.Hour
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 10 * time.Minute
	}
	if cfg.Clock == nil {
		cfg.Clock = types.RealClock{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{cfg: cfg, logger: logger}
}

// LockID returns the lock for task in the hour containing now.
func LockID(task TaskType, now time.Time) string {
	return fmt.Sprintf("%s:%s", task, now.UTC().Truncate(time.Hour).Format("2006-01-02T15"))
}

// Handle runs the task named by payload. A lock held by another worker is
// not an error; the run is skipped.
func (r *Runner) Handle(ctx context.Context, payload MaintenancePayload) (string, error) {
	if payload.Task == "" {
		return "", fmt.Errorf("empty task type in maintenance payload")
	}
	now := r.cfg.Clock.Now()
	if payload.ReferenceTime != nil {
		now = payload.ReferenceTime.UTC()
	}
	task := string(payload.Task)
	logger := r.logger.With("task", task, "worker_id", r.cfg.WorkerID)

	lockID := LockID(payload.Task, now)
	acquired, err := r.cfg.Locks.Acquire(ctx, lockID, r.cfg.WorkerID, r.cfg.LockTTL)
	if err != nil {
		return "", fmt.Errorf("acquiring job lock %s: %w", lockID, err)
	}
	if !acquired {
		logger.InfoContext(ctx, "job lock held by another worker, skipping", "lock_id", lockID)
		return fmt.Sprintf("skipped: lock %s held by another worker", lockID), nil
	}

	historyID, err := r.cfg.History.Start(ctx, task)
	if err != nil {
		logger.ErrorContext(ctx, "failed to start job history", "error", err)
		historyID = 0
	}

	items, execErr := r.dispatch(ctx, payload.Task)

	status := types.JobRunSuccess
	if execErr != nil {
		status = types.JobRunFailed
	}
	if historyID != 0 {
		if err := r.cfg.History.Finish(ctx, historyID, status, items, execErr); err != nil {
			logger.ErrorContext(ctx, "failed to finish job history",
				"history_id", historyID,
				"error", err,
			)
		}
	}

	if execErr != nil {
		logger.ErrorContext(ctx, "maintenance task failed",
			"items_before_error", items,
			"error", execErr,
		)
		return "", fmt.Errorf("task %s failed: %w", task, execErr)
	}

	result := fmt.Sprintf("task %s complete: %d items processed", task, items)
	logger.InfoContext(ctx, result, "items", items)
	return result, nil
}

func (r *Runner) dispatch(ctx context.Context, task TaskType) (int, error) {
	s := r.cfg.Services
	switch task {
	case TaskReconcileOrphans:
		if s.Orphans == nil {
			return 0, fmt.Errorf("task %s not configured", task)
		}
		return ReconcileOrphans(ctx, s.Orphans, r.cfg.Metrics, r.cfg.OrphanGrace, orphanBatchLimit, r.logger)
	case TaskDeadLetterSummary:
		if s.DeadLetters == nil {
			return 0, fmt.Errorf("task %s not configured", task)
		}
		return s.DeadLetters.Sweep(ctx, deadLetterBatchLimit)
	case TaskStaleLeases:
		if s.Jobs == nil {
			return 0, fmt.Errorf("task %s not configured", task)
		}
		return ReportStaleLeases(ctx, s.Jobs, r.cfg.Metrics, staleLeaseLimit, r.logger)
	default:
		return 0, fmt.Errorf("unknown task type: %s", task)
	}
}
