package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"herald/internal/types"
)

// DeadLetterRepository provides data access for dead_letters. job_id is
// unique, so a job is dead-lettered at most once.
type DeadLetterRepository struct {
	db DBTX
}

func NewDeadLetterRepository(db DBTX) *DeadLetterRepository {
	return &DeadLetterRepository{db: db}
}

const deadLetterColumns = `id, job_id, request_id, application_id, channel, attempts, reason, last_error, payload, created_at, published_at`

func scanDeadLetter(row pgx.Row) (*types.DeadLetter, error) {
	var dl types.DeadLetter
	err := row.Scan(
		&dl.ID,
		&dl.JobID,
		&dl.RequestID,
		&dl.ApplicationID,
		&dl.Channel,
		&dl.Attempts,
		&dl.Reason,
		&dl.LastError,
		&dl.Payload,
		&dl.CreatedAt,
		&dl.PublishedAt,
	)
	if err != nil {
		return nil, err
	}
	return &dl, nil
}

func collectDeadLetters(rows pgx.Rows) ([]*types.DeadLetter, error) {
	var out []*types.DeadLetter
	for rows.Next() {
		dl, err := scanDeadLetter(rows)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan dead letter row", err)
		}
		out = append(out, dl)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating dead letter rows", err)
	}
	return out, nil
}

// Insert records a dead letter and reports whether this call created it.
// A second insert for the same job is ignored.
func (r *DeadLetterRepository) Insert(ctx context.Context, dl *types.DeadLetter) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`INSERT INTO dead_letters (id, job_id, request_id, application_id, channel,
		   attempts, reason, last_error, payload, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (job_id) DO NOTHING`,
		dl.ID,
		dl.JobID,
		dl.RequestID,
		dl.ApplicationID,
		dl.Channel,
		dl.Attempts,
		dl.Reason,
		dl.LastError,
		dl.Payload,
		dl.CreatedAt,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to record dead letter", err)
	}
	return tag.RowsAffected() > 0, nil
}

// GetByJobID returns the dead letter of a job, if any.
func (r *DeadLetterRepository) GetByJobID(ctx context.Context, jobID string) (*types.DeadLetter, error) {
	dl, err := scanDeadLetter(r.db.QueryRow(ctx,
		`SELECT `+deadLetterColumns+` FROM dead_letters WHERE job_id = $1`, jobID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundJob, "dead letter not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve dead letter", err)
	}
	return dl, nil
}

// MarkPublished stamps published_at after the queue accepted the copy.
func (r *DeadLetterRepository) MarkPublished(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.Exec(ctx,
		`UPDATE dead_letters SET published_at = $2 WHERE id = $1 AND published_at IS NULL`,
		id,
		at,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to mark dead letter published", err)
	}
	return nil
}

// ListUnpublished returns dead letters that never reached the queue, oldest first.
func (r *DeadLetterRepository) ListUnpublished(ctx context.Context, limit int) ([]*types.DeadLetter, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+deadLetterColumns+` FROM dead_letters
		 WHERE published_at IS NULL ORDER BY created_at LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list unpublished dead letters", err)
	}
	defer rows.Close()
	return collectDeadLetters(rows)
}

// List returns the newest dead letters, optionally for a single tenant.
func (r *DeadLetterRepository) List(ctx context.Context, applicationID string, limit int) ([]*types.DeadLetter, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+deadLetterColumns+` FROM dead_letters
		 WHERE $1 = '' OR application_id = $1
		 ORDER BY created_at DESC LIMIT $2`,
		applicationID,
		limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list dead letters", err)
	}
	defer rows.Close()
	return collectDeadLetters(rows)
}
