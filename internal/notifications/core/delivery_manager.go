package core

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"herald/internal/recurrence"
	"herald/internal/types"
)

// JobQueue is the subset of the dispatch queue the outcome manager drives.
// Deliver and FailWithDeadLetter commit the job's transition together with
// the successor or dead letter it produces.
type JobQueue interface {
	Deliver(ctx context.Context, job *types.ScheduledJob, workerID string, next *time.Time) (*types.ScheduledJob, bool, error)
	Retry(ctx context.Context, jobID, workerID string, nextFireAt time.Time, lastError string) error
	FailWithDeadLetter(ctx context.Context, jobID, workerID, lastError string, dl *types.DeadLetter) (bool, error)
}

// DeadLetterStore records that a stored dead letter reached the operator
// queue.
type DeadLetterStore interface {
	MarkPublished(ctx context.Context, id string, at time.Time) error
}

// DeadLetterPublisher ships a dead letter to the operator queue.
type DeadLetterPublisher interface {
	Publish(ctx context.Context, dl *types.DeadLetter) error
}

// AttemptRecorder appends to the delivery attempt log.
type AttemptRecorder interface {
	Record(ctx context.Context, a *types.DeliveryAttempt) error
}

// Outcome is the result of one provider call.
type Outcome struct {
	ProviderMessageID string
	Duration          time.Duration
	Err               error
}

// Disposition is what the manager did with a job after an attempt.
type Disposition string

const (
	DispositionDelivered   Disposition = "delivered"
	DispositionRescheduled Disposition = "rescheduled"
	DispositionRetrying    Disposition = "retrying"
	DispositionDeadLetter  Disposition = "dead_lettered"
	DispositionDropped     Disposition = "dropped"
	DispositionCanceled    Disposition = "canceled"
)

// DeliveryManagerConfig wires the manager's collaborators. Publisher,
// Attempts and Metrics are optional.
type DeliveryManagerConfig struct {
	Queue       JobQueue
	DeadLetters DeadLetterStore
	Publisher   DeadLetterPublisher
	Attempts    AttemptRecorder
	Metrics     DeliveryMetrics
	Policy      RetryPolicy
	Clock       types.Clock
	Logger      *slog.Logger
}

// DeliveryManager applies provider outcomes to jobs: completion and
// successor scheduling on success, backoff retries on transient failures,
// and dead-lettering once a job can not be delivered.
type DeliveryManager struct {
	queue       JobQueue
	deadLetters DeadLetterStore
	publisher   DeadLetterPublisher
	attempts    AttemptRecorder
	metrics     DeliveryMetrics
	policy      RetryPolicy
	clock       types.Clock
	logger      *slog.Logger
}

func NewDeliveryManager(cfg DeliveryManagerConfig) *DeliveryManager {
	m := &DeliveryManager{
		queue:       cfg.Queue,
		deadLetters: cfg.DeadLetters,
		publisher:   cfg.Publisher,
		attempts:    cfg.Attempts,
		metrics:     cfg.Metrics,
		policy:      cfg.Policy,
		clock:       cfg.Clock,
		logger:      cfg.Logger,
	}
	if m.metrics == nil {
		m.metrics = NoopMetrics{}
	}
	if m.policy.MaxAttempts <= 0 {
		m.policy = DefaultRetryPolicy
	}
	if m.clock == nil {
		m.clock = types.RealClock{}
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	return m
}

// IsPermanent reports whether err is a delivery failure that retrying can
// not fix. Errors that carry no delivery classification are transient.
func IsPermanent(err error) bool {
	return types.HasCode(err, types.ErrCodeDeliveryPermanent)
}

// Apply records the attempt and moves the job to its next state. A lost
// lease is not an error: the outcome is dropped because another worker
// now owns the job.
func (m *DeliveryManager) Apply(ctx context.Context, job *types.ScheduledJob, workerID string, out Outcome) (Disposition, error) {
	m.metrics.RecordLatency(ctx, job.Channel, out.Duration)

	var (
		disp Disposition
		err  error
	)
	if out.Err == nil {
		disp, err = m.markSuccess(ctx, job, workerID, out)
	} else {
		disp, err = m.markFailure(ctx, job, workerID, out)
	}

	if types.HasCode(err, types.ErrCodeConflictLeaseLost) {
		m.logger.WarnContext(ctx, "lease lost, dropping outcome",
			"job_id", job.ID,
			"worker_id", workerID,
		)
		return DispositionDropped, nil
	}
	return disp, err
}

func (m *DeliveryManager) markSuccess(ctx context.Context, job *types.ScheduledJob, workerID string, out Outcome) (Disposition, error) {
	next := m.nextOccurrence(ctx, job)
	successor, created, err := m.queue.Deliver(ctx, job, workerID, next)
	if err != nil {
		return "", err
	}
	attempt := job.Attempt + 1
	m.record(ctx, job, attempt, types.AttemptSuccess, out)
	m.metrics.RecordDelivery(ctx, job.Channel, MetricSuccess)

	m.logger.InfoContext(ctx, "job delivered",
		"job_id", job.ID,
		"application_id", job.ApplicationID,
		"attempt", attempt,
		"provider_message_id", out.ProviderMessageID,
	)

	if successor == nil {
		return DispositionDelivered, nil
	}
	if created {
		m.logger.InfoContext(ctx, "successor enqueued",
			"job_id", job.ID,
			"successor_id", successor.ID,
			"fire_at", successor.FireAt,
		)
	}
	return DispositionRescheduled, nil
}

// nextOccurrence returns the fire time of the job's successor, or nil when
// the job does not recur.
func (m *DeliveryManager) nextOccurrence(ctx context.Context, job *types.ScheduledJob) *time.Time {
	if !job.IsRecurring() {
		return nil
	}
	spec, err := recurrence.FromInterval(job.Interval, job.Timezone)
	if err != nil {
		// Validated at intake. The job is delivered without a successor.
		m.logger.ErrorContext(ctx, "stored recurrence invalid",
			"job_id", job.ID,
			"error", err,
		)
		return nil
	}
	next, ok := recurrence.NextFireTime(spec.AnchoredAt(job.AnchorAt), job.FireAt)
	if !ok {
		return nil
	}
	return &next
}

func (m *DeliveryManager) markFailure(ctx context.Context, job *types.ScheduledJob, workerID string, out Outcome) (Disposition, error) {
	attempt := job.Attempt + 1
	lastError := out.Err.Error()
	permanent := IsPermanent(out.Err)

	if !permanent && attempt < m.policy.MaxAttempts {
		next := m.clock.Now().Add(CalculateNextRetry(m.policy, job.Attempt))
		err := m.queue.Retry(ctx, job.ID, workerID, next, lastError)
		if types.HasCode(err, types.ErrCodeNotFoundApplication) {
			m.record(ctx, job, attempt, types.AttemptTransientFailure, out)
			m.logger.WarnContext(ctx, "application deleted, job canceled",
				"job_id", job.ID,
				"application_id", job.ApplicationID,
				"attempt", attempt,
			)
			return DispositionCanceled, nil
		}
		if err != nil {
			return "", err
		}
		m.record(ctx, job, attempt, types.AttemptTransientFailure, out)
		m.metrics.RecordDelivery(ctx, job.Channel, MetricRetry)

		m.logger.WarnContext(ctx, "delivery failed, will retry",
			"job_id", job.ID,
			"attempt", attempt,
			"max_attempts", m.policy.MaxAttempts,
			"next_fire_at", next,
			"error", lastError,
		)
		return DispositionRetrying, nil
	}

	status := types.AttemptTransientFailure
	reason := types.DeadLetterExhausted
	if permanent {
		status = types.AttemptPermanentFailure
		reason = types.DeadLetterPermanent
	}
	dl := &types.DeadLetter{
		ID:            "dl_" + uuid.NewString(),
		JobID:         job.ID,
		RequestID:     job.RequestID,
		ApplicationID: job.ApplicationID,
		Channel:       job.Channel,
		Attempts:      attempt,
		Reason:        reason,
		LastError:     lastError,
		Payload:       job.Payload,
		CreatedAt:     m.clock.Now(),
	}
	created, err := m.queue.FailWithDeadLetter(ctx, job.ID, workerID, lastError, dl)
	if err != nil {
		return "", err
	}
	m.record(ctx, job, attempt, status, out)
	m.metrics.RecordDelivery(ctx, job.Channel, MetricFailed)

	m.logger.ErrorContext(ctx, "delivery permanently failed",
		"job_id", job.ID,
		"application_id", job.ApplicationID,
		"attempt", attempt,
		"reason", string(reason),
		"error", lastError,
	)

	if created {
		m.metrics.RecordDeadLetter(ctx, job.Channel, reason)
		m.publish(ctx, dl)
	}
	return DispositionDeadLetter, nil
}

// publish ships a committed dead letter. Failures leave it unpublished for
// the sweeper.
func (m *DeliveryManager) publish(ctx context.Context, dl *types.DeadLetter) {
	if m.publisher == nil {
		return
	}
	if err := m.publisher.Publish(ctx, dl); err != nil {
		m.logger.WarnContext(ctx, "dead letter publish failed, left for sweep",
			"job_id", dl.JobID,
			"dead_letter_id", dl.ID,
			"error", err,
		)
		return
	}
	if m.deadLetters == nil {
		return
	}
	if err := m.deadLetters.MarkPublished(ctx, dl.ID, m.clock.Now()); err != nil {
		m.logger.WarnContext(ctx, "failed to mark dead letter published",
			"dead_letter_id", dl.ID,
			"error", err,
		)
	}
}

func (m *DeliveryManager) record(ctx context.Context, job *types.ScheduledJob, attempt int, status types.AttemptStatus, out Outcome) {
	if m.attempts == nil {
		return
	}
	a := &types.DeliveryAttempt{
		JobID:             job.ID,
		ApplicationID:     job.ApplicationID,
		Attempt:           attempt,
		Status:            status,
		ProviderMessageID: out.ProviderMessageID,
		DurationMS:        out.Duration.Milliseconds(),
		AttemptedAt:       m.clock.Now(),
	}
	if out.Err != nil {
		a.Error = out.Err.Error()
	}
	if err := m.attempts.Record(ctx, a); err != nil && !errors.Is(err, context.Canceled) {
		m.logger.WarnContext(ctx, "failed to record delivery attempt",
			"job_id", job.ID,
			"attempt", attempt,
			"error", err,
		)
	}
}
