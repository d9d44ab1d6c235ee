package db

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"herald/internal/types"
)

// JobRepository provides data access for scheduled_jobs. Every state change
// after a claim is conditioned on the caller still holding the lease.
type JobRepository struct {
	db DBTX
}

func NewJobRepository(db DBTX) *JobRepository {
	return &JobRepository{db: db}
}

var jobColumnNames = []string{
	"id", "request_id", "application_id", "channel", "recipient", "subject",
	"message", "recurrence", "timezone", "payload", "fire_at", "anchor_at", "occurrence",
	"attempt", "status", "lease_owner", "lease_until", "last_error",
	"created_at", "updated_at", "delivered_at",
}

var (
	jobColumns         = strings.Join(jobColumnNames, ", ")
	jobColumnsReturned = "j." + strings.Join(jobColumnNames, ", j.")
)

func scanJob(row pgx.Row) (*types.ScheduledJob, error) {
	var (
		job        types.ScheduledJob
		leaseOwner *string
	)
	err := row.Scan(
		&job.ID,
		&job.RequestID,
		&job.ApplicationID,
		&job.Channel,
		&job.Recipient,
		&job.Subject,
		&job.Message,
		&job.Interval,
		&job.Timezone,
		&job.Payload,
		&job.FireAt,
		&job.AnchorAt,
		&job.Occurrence,
		&job.Attempt,
		&job.Status,
		&leaseOwner,
		&job.LeaseUntil,
		&job.LastError,
		&job.CreatedAt,
		&job.UpdatedAt,
		&job.DeliveredAt,
	)
	if err != nil {
		return nil, err
	}
	job.LeaseOwner = derefString(leaseOwner)
	return &job, nil
}

func collectJobs(rows pgx.Rows) ([]*types.ScheduledJob, error) {
	var out []*types.ScheduledJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan job row", err)
		}
		out = append(out, job)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating job rows", err)
	}
	return out, nil
}

// Insert stores a new pending job. The row is only written while its tenant
// exists, so a submission racing a tenant delete leaves nothing behind.
func (r *JobRepository) Insert(ctx context.Context, job *types.ScheduledJob) error {
	tag, err := r.db.Exec(ctx,
		`INSERT INTO scheduled_jobs (id, request_id, application_id, channel, recipient,
		   subject, message, recurrence, timezone, payload, fire_at, anchor_at, occurrence,
		   attempt, status, created_at, updated_at)
		 SELECT $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, 0, 'pending', $14, $14
		 WHERE EXISTS (SELECT 1 FROM applications WHERE id = $3 AND deleted_at IS NULL)`,
		job.ID,
		job.RequestID,
		job.ApplicationID,
		job.Channel,
		job.Recipient,
		job.Subject,
		job.Message,
		job.Interval,
		job.Timezone,
		job.Payload,
		job.FireAt,
		job.AnchorAt,
		job.Occurrence,
		job.CreatedAt,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to enqueue job", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundApplication, "application not found", nil)
	}
	return nil
}

// InsertSuccessor stores the next occurrence of a recurring request. The
// deterministic id makes a duplicate insert a no-op, and the insert is
// skipped when the tenant no longer exists. Returns whether a row was added.
func (r *JobRepository) InsertSuccessor(ctx context.Context, job *types.ScheduledJob) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`INSERT INTO scheduled_jobs (id, request_id, application_id, channel, recipient,
		   subject, message, recurrence, timezone, payload, fire_at, anchor_at, occurrence,
		   attempt, status, created_at, updated_at)
		 SELECT $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, 0, 'pending', $14, $14
		 WHERE EXISTS (SELECT 1 FROM applications WHERE id = $3 AND deleted_at IS NULL)
		 ON CONFLICT (id) DO NOTHING`,
		job.ID,
		job.RequestID,
		job.ApplicationID,
		job.Channel,
		job.Recipient,
		job.Subject,
		job.Message,
		job.Interval,
		job.Timezone,
		job.Payload,
		job.FireAt,
		job.AnchorAt,
		job.Occurrence,
		job.CreatedAt,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to enqueue successor job", err)
	}
	return tag.RowsAffected() > 0, nil
}

// Claim leases up to limit due jobs to workerID. A job is due when it is
// pending with fire_at <= now, or in flight with an expired lease, and its
// tenant still exists. SKIP LOCKED lets concurrent claimers pass over each
// other's rows.
func (r *JobRepository) Claim(ctx context.Context, workerID string, limit int, now time.Time, lease time.Duration) ([]*types.ScheduledJob, error) {
	rows, err := r.db.Query(ctx,
		`WITH due AS (
		   SELECT id FROM scheduled_jobs
		   WHERE ((status = 'pending' AND fire_at <= $1)
		       OR (status = 'in_flight' AND lease_until < $1))
		     AND EXISTS (SELECT 1 FROM applications a
		                 WHERE a.id = scheduled_jobs.application_id AND a.deleted_at IS NULL)
		   ORDER BY fire_at
		   LIMIT $2
		   FOR UPDATE SKIP LOCKED
		 )
		 UPDATE scheduled_jobs j
		 SET status = 'in_flight', lease_owner = $3, lease_until = $4, updated_at = $1
		 FROM due
		 WHERE j.id = due.id
		 RETURNING `+jobColumnsReturned,
		now,
		limit,
		workerID,
		now.Add(lease),
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to claim jobs", err)
	}
	defer rows.Close()
	return collectJobs(rows)
}

func leaseLost(jobID string) error {
	return types.NewAppErrorWithDetails(types.ErrCodeConflictLeaseLost,
		"job lease is held by another worker", nil, map[string]any{"job_id": jobID})
}

// Complete marks an in-flight job delivered.
func (r *JobRepository) Complete(ctx context.Context, jobID, workerID string, now time.Time) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE scheduled_jobs
		 SET status = 'delivered', attempt = attempt + 1, delivered_at = $3,
		     lease_owner = NULL, lease_until = NULL, last_error = '', updated_at = $3
		 WHERE id = $1 AND status = 'in_flight' AND lease_owner = $2`,
		jobID,
		workerID,
		now,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to complete job", err)
	}
	if tag.RowsAffected() == 0 {
		return leaseLost(jobID)
	}
	return nil
}

// Retry returns an in-flight job to pending with a new fire time. When the
// tenant has been deleted the job fails instead and
// ErrCodeNotFoundApplication is returned.
func (r *JobRepository) Retry(ctx context.Context, jobID, workerID string, nextFireAt time.Time, lastError string, now time.Time) error {
	var status types.JobStatus
	err := r.db.QueryRow(ctx,
		`UPDATE scheduled_jobs j
		 SET status = CASE WHEN EXISTS (SELECT 1 FROM applications a
		                                WHERE a.id = j.application_id AND a.deleted_at IS NULL)
		              THEN 'pending' ELSE 'failed' END,
		     attempt = attempt + 1, fire_at = $3, last_error = $4,
		     lease_owner = NULL, lease_until = NULL, updated_at = $5
		 WHERE j.id = $1 AND j.status = 'in_flight' AND j.lease_owner = $2
		 RETURNING j.status`,
		jobID,
		workerID,
		nextFireAt,
		lastError,
		now,
	).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return leaseLost(jobID)
		}
		return types.NewAppError(types.ErrCodeInternalDB, "failed to reschedule job for retry", err)
	}
	if status == types.JobStatusFailed {
		return types.NewAppErrorWithDetails(types.ErrCodeNotFoundApplication,
			"application deleted, job canceled", nil, map[string]any{"job_id": jobID})
	}
	return nil
}

// Fail moves an in-flight job to the terminal failed state.
func (r *JobRepository) Fail(ctx context.Context, jobID, workerID, lastError string, now time.Time) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE scheduled_jobs
		 SET status = 'failed', attempt = attempt + 1, last_error = $3,
		     lease_owner = NULL, lease_until = NULL, updated_at = $4
		 WHERE id = $1 AND status = 'in_flight' AND lease_owner = $2`,
		jobID,
		workerID,
		lastError,
		now,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to mark job failed", err)
	}
	if tag.RowsAffected() == 0 {
		return leaseLost(jobID)
	}
	return nil
}

// MarkRescheduled flips a delivered job to rescheduled. Repeating the call
// is harmless; any other source state is an invalid transition.
func (r *JobRepository) MarkRescheduled(ctx context.Context, jobID string, now time.Time) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE scheduled_jobs SET status = 'rescheduled', updated_at = $2
		 WHERE id = $1 AND status IN ('delivered', 'rescheduled')`,
		jobID,
		now,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to mark job rescheduled", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppErrorWithDetails(types.ErrCodeInternalTransition,
			"only a delivered job can be rescheduled", nil, map[string]any{"job_id": jobID})
	}
	return nil
}

// PurgePending deletes every not-yet-claimed job of a tenant.
func (r *JobRepository) PurgePending(ctx context.Context, applicationID string) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM scheduled_jobs WHERE application_id = $1 AND status = 'pending'`,
		applicationID,
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to purge pending jobs", err)
	}
	return tag.RowsAffected(), nil
}

// Get returns ErrCodeNotFoundJob for unknown ids.
func (r *JobRepository) Get(ctx context.Context, jobID string) (*types.ScheduledJob, error) {
	job, err := scanJob(r.db.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM scheduled_jobs WHERE id = $1`, jobID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundJob, "job not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve job", err)
	}
	return job, nil
}

// ListByRequest returns every occurrence of a request, oldest first.
func (r *JobRepository) ListByRequest(ctx context.Context, applicationID, requestID string) ([]*types.ScheduledJob, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+jobColumns+` FROM scheduled_jobs
		 WHERE application_id = $1 AND request_id = $2
		 ORDER BY occurrence`,
		applicationID,
		requestID,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list request jobs", err)
	}
	defer rows.Close()
	return collectJobs(rows)
}

// CountByStatus groups a tenant's jobs by status. An empty applicationID
// counts across all tenants.
func (r *JobRepository) CountByStatus(ctx context.Context, applicationID string) (map[types.JobStatus]int, error) {
	rows, err := r.db.Query(ctx,
		`SELECT status, COUNT(*) FROM scheduled_jobs
		 WHERE $1 = '' OR application_id = $1
		 GROUP BY status`,
		applicationID,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to count jobs", err)
	}
	defer rows.Close()

	out := make(map[types.JobStatus]int)
	for rows.Next() {
		var (
			status types.JobStatus
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan job count", err)
		}
		out[status] = n
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating job counts", err)
	}
	return out, nil
}

// ListStaleLeases returns reclaimable in-flight jobs whose lease has
// expired. Jobs of deleted tenants are never reclaimed and are left out.
func (r *JobRepository) ListStaleLeases(ctx context.Context, now time.Time, limit int) ([]*types.ScheduledJob, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+jobColumns+` FROM scheduled_jobs
		 WHERE status = 'in_flight' AND lease_until < $1
		   AND EXISTS (SELECT 1 FROM applications a
		               WHERE a.id = scheduled_jobs.application_id AND a.deleted_at IS NULL)
		 ORDER BY lease_until
		 LIMIT $2`,
		now,
		limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list stale leases", err)
	}
	defer rows.Close()
	return collectJobs(rows)
}
