package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"herald/internal/db"
	"herald/internal/types"
)

// JobStore is the job repository surface the dispatcher needs outside a
// transaction. *db.JobRepository satisfies it.
type JobStore interface {
	Insert(ctx context.Context, job *types.ScheduledJob) error
	Claim(ctx context.Context, workerID string, limit int, now time.Time, lease time.Duration) ([]*types.ScheduledJob, error)
	Retry(ctx context.Context, jobID, workerID string, nextFireAt time.Time, lastError string, now time.Time) error
	PurgePending(ctx context.Context, applicationID string) (int64, error)
	Get(ctx context.Context, jobID string) (*types.ScheduledJob, error)
	ListByRequest(ctx context.Context, applicationID, requestID string) ([]*types.ScheduledJob, error)
	CountByStatus(ctx context.Context, applicationID string) (map[types.JobStatus]int, error)
	ListStaleLeases(ctx context.Context, now time.Time, limit int) ([]*types.ScheduledJob, error)
}

// TxStore is the transaction-bound store behind the terminal transitions,
// where a job's state change and the rows it produces commit together.
type TxStore interface {
	Complete(ctx context.Context, jobID, workerID string, now time.Time) error
	Fail(ctx context.Context, jobID, workerID, lastError string, now time.Time) error
	InsertSuccessor(ctx context.Context, job *types.ScheduledJob) (bool, error)
	MarkRescheduled(ctx context.Context, jobID string, now time.Time) error
	InsertDeadLetter(ctx context.Context, dl *types.DeadLetter) (bool, error)
}

// TxRunner runs fn inside a database transaction. *db.TxManager satisfies it.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(tx db.DBTX) error) error
}

// DispatcherConfig wires a Dispatcher. TxStore builds a transaction-bound
// store; it defaults to the job and dead letter repositories over tx.
type DispatcherConfig struct {
	Jobs    JobStore
	Tx      TxRunner
	TxStore func(tx db.DBTX) TxStore
	Clock   types.Clock
	Logger  *slog.Logger
}

// Dispatcher is the lease-based durable queue of scheduled jobs.
type Dispatcher struct {
	jobs    JobStore
	tx      TxRunner
	storeFn func(tx db.DBTX) TxStore
	clock   types.Clock
	logger  *slog.Logger
}

func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	d := &Dispatcher{
		jobs:    cfg.Jobs,
		tx:      cfg.Tx,
		storeFn: cfg.TxStore,
		clock:   cfg.Clock,
		logger:  cfg.Logger,
	}
	if d.storeFn == nil {
		d.storeFn = func(tx db.DBTX) TxStore {
			return repoTxStore{JobRepository: db.NewJobRepository(tx), deadLetters: db.NewDeadLetterRepository(tx)}
		}
	}
	if d.clock == nil {
		d.clock = types.RealClock{}
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}
	return d
}

type repoTxStore struct {
	*db.JobRepository
	deadLetters *db.DeadLetterRepository
}

func (s repoTxStore) InsertDeadLetter(ctx context.Context, dl *types.DeadLetter) (bool, error) {
	return s.deadLetters.Insert(ctx, dl)
}

// SuccessorID derives the id of a request's n-th occurrence. Two workers
// delivering the same occurrence compute the same successor id, so only
// one successor row can exist.
func SuccessorID(requestID string, occurrence int) string {
	name := fmt.Sprintf("%s:%d", requestID, occurrence)
	return "job_" + uuid.NewSHA1(uuid.NameSpaceOID, []byte(name)).String()
}

// Enqueue stores a new pending job.
func (d *Dispatcher) Enqueue(ctx context.Context, job *types.ScheduledJob) error {
	if job.ID == "" || job.RequestID == "" || job.ApplicationID == "" {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "job is missing identifiers", nil)
	}
	if job.Occurrence < 1 {
		job.Occurrence = 1
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = d.clock.Now()
	}
	job.UpdatedAt = job.CreatedAt
	job.Status = types.JobStatusPending
	job.Attempt = 0

	if err := d.jobs.Insert(ctx, job); err != nil {
		return err
	}

	d.logger.InfoContext(ctx, "job enqueued",
		"job_id", job.ID,
		"request_id", job.RequestID,
		"application_id", job.ApplicationID,
		"channel", string(job.Channel),
		"fire_at", job.FireAt,
	)
	return nil
}

// Claim leases up to batch due jobs to workerID for the given duration.
func (d *Dispatcher) Claim(ctx context.Context, workerID string, batch int, lease time.Duration) ([]*types.ScheduledJob, error) {
	if batch <= 0 {
		return nil, nil
	}
	return d.jobs.Claim(ctx, workerID, batch, d.clock.Now(), lease)
}

// Retry returns a job to pending, due at nextFireAt. A job whose tenant has
// been deleted is failed instead and ErrCodeNotFoundApplication returned.
func (d *Dispatcher) Retry(ctx context.Context, jobID, workerID string, nextFireAt time.Time, lastError string) error {
	return d.jobs.Retry(ctx, jobID, workerID, nextFireAt, lastError, d.clock.Now())
}

// Deliver marks a job delivered. With a non-nil next it also inserts the
// request's next occurrence and flips the job to rescheduled. Everything
// commits in one transaction: on any error the job is still in flight under
// the caller's lease and no successor exists. It returns the successor, nil
// without next, and whether this call created it.
func (d *Dispatcher) Deliver(ctx context.Context, job *types.ScheduledJob, workerID string, next *time.Time) (*types.ScheduledJob, bool, error) {
	now := d.clock.Now()
	var successor *types.ScheduledJob
	if next != nil {
		successor = successorOf(job, *next, now)
	}

	var created bool
	err := d.tx.RunInTx(ctx, func(tx db.DBTX) error {
		store := d.storeFn(tx)
		if err := store.Complete(ctx, job.ID, workerID, now); err != nil {
			return err
		}
		if successor == nil {
			return nil
		}
		var err error
		created, err = store.InsertSuccessor(ctx, successor)
		if err != nil {
			return err
		}
		return store.MarkRescheduled(ctx, job.ID, now)
	})
	if err != nil {
		return nil, false, err
	}
	return successor, created, nil
}

// FailWithDeadLetter moves a job to failed and stores its dead letter in one
// transaction, so a failed job always has its operator record. It reports
// whether the dead letter row is new.
func (d *Dispatcher) FailWithDeadLetter(ctx context.Context, jobID, workerID, lastError string, dl *types.DeadLetter) (bool, error) {
	now := d.clock.Now()
	var created bool
	err := d.tx.RunInTx(ctx, func(tx db.DBTX) error {
		store := d.storeFn(tx)
		if err := store.Fail(ctx, jobID, workerID, lastError, now); err != nil {
			return err
		}
		var err error
		created, err = store.InsertDeadLetter(ctx, dl)
		return err
	})
	if err != nil {
		return false, err
	}
	return created, nil
}

// successorOf builds the next occurrence of a delivered recurring job. The
// anchor carries over so every occurrence keeps the request's wall clock.
func successorOf(delivered *types.ScheduledJob, fireAt, now time.Time) *types.ScheduledJob {
	return &types.ScheduledJob{
		ID:            SuccessorID(delivered.RequestID, delivered.Occurrence+1),
		RequestID:     delivered.RequestID,
		ApplicationID: delivered.ApplicationID,
		Channel:       delivered.Channel,
		Recipient:     delivered.Recipient,
		Subject:       delivered.Subject,
		Message:       delivered.Message,
		Interval:      delivered.Interval,
		Timezone:      delivered.Timezone,
		Payload:       delivered.Payload,
		FireAt:        fireAt,
		AnchorAt:      delivered.AnchorAt,
		Occurrence:    delivered.Occurrence + 1,
		Status:        types.JobStatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// PurgePending deletes every not-yet-claimed job of a tenant.
func (d *Dispatcher) PurgePending(ctx context.Context, applicationID string) (int64, error) {
	n, err := d.jobs.PurgePending(ctx, applicationID)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		d.logger.InfoContext(ctx, "pending jobs purged",
			"application_id", applicationID,
			"count", n,
		)
	}
	return n, nil
}

func (d *Dispatcher) Get(ctx context.Context, jobID string) (*types.ScheduledJob, error) {
	return d.jobs.Get(ctx, jobID)
}

func (d *Dispatcher) ListByRequest(ctx context.Context, applicationID, requestID string) ([]*types.ScheduledJob, error) {
	return d.jobs.ListByRequest(ctx, applicationID, requestID)
}

func (d *Dispatcher) CountByStatus(ctx context.Context, applicationID string) (map[types.JobStatus]int, error) {
	return d.jobs.CountByStatus(ctx, applicationID)
}

// ListStaleLeases reports in-flight jobs whose lease expired before now.
func (d *Dispatcher) ListStaleLeases(ctx context.Context, limit int) ([]*types.ScheduledJob, error) {
	return d.jobs.ListStaleLeases(ctx, d.clock.Now(), limit)
}
