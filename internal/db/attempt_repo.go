package db

import (
	"context"

	"herald/internal/types"
)

// AttemptRepository appends to the delivery_attempts log.
type AttemptRepository struct {
	db DBTX
}

func NewAttemptRepository(db DBTX) *AttemptRepository {
	return &AttemptRepository{db: db}
}

// Record appends one attempt outcome.
func (r *AttemptRepository) Record(ctx context.Context, a *types.DeliveryAttempt) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO delivery_attempts (job_id, application_id, attempt, status, error,
		   provider_message_id, duration_ms, attempted_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		a.JobID,
		a.ApplicationID,
		a.Attempt,
		a.Status,
		nilIfEmpty(a.Error),
		nilIfEmpty(a.ProviderMessageID),
		a.DurationMS,
		a.AttemptedAt,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to record delivery attempt", err)
	}
	return nil
}

// ListByJob returns a job's attempts in order.
func (r *AttemptRepository) ListByJob(ctx context.Context, jobID string) ([]*types.DeliveryAttempt, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, job_id, application_id, attempt, status, error, provider_message_id,
		   duration_ms, attempted_at
		 FROM delivery_attempts WHERE job_id = $1 ORDER BY attempt, id`,
		jobID,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list delivery attempts", err)
	}
	defer rows.Close()

	var out []*types.DeliveryAttempt
	for rows.Next() {
		var (
			a         types.DeliveryAttempt
			errText   *string
			messageID *string
		)
		if err := rows.Scan(&a.ID, &a.JobID, &a.ApplicationID, &a.Attempt, &a.Status,
			&errText, &messageID, &a.DurationMS, &a.AttemptedAt); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan delivery attempt", err)
		}
		a.Error = derefString(errText)
		a.ProviderMessageID = derefString(messageID)
		out = append(out, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating delivery attempts", err)
	}
	return out, nil
}
