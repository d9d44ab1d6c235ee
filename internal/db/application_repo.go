package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"herald/internal/types"
)

// ApplicationRepository provides data access for the applications table.
// Deleted tenants stay behind as tombstones: every read skips them and their
// identifier can never be registered again, so rows keyed by it (keys, jobs,
// dead letters) never resurface under a new tenant.
type ApplicationRepository struct {
	db DBTX
}

func NewApplicationRepository(db DBTX) *ApplicationRepository {
	return &ApplicationRepository{db: db}
}

const applicationColumns = `id, name, email, domain, ses_identity_arn, sns_topic_arn, seq, created_at, updated_at`

func scanApplication(row pgx.Row) (*types.Application, error) {
	var (
		app    types.Application
		sesARN *string
		snsARN *string
	)
	err := row.Scan(
		&app.ID,
		&app.Name,
		&app.Email,
		&app.Domain,
		&sesARN,
		&snsARN,
		&app.Seq,
		&app.CreatedAt,
		&app.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	app.SESIdentityARN = derefString(sesARN)
	app.SNSTopicARN = derefString(snsARN)
	return &app, nil
}

// Create inserts a new tenant. A duplicate identifier, live or deleted,
// yields ErrCodeConflictAppExists and leaves the table untouched.
func (r *ApplicationRepository) Create(ctx context.Context, app *types.Application) (*types.Application, error) {
	row := r.db.QueryRow(ctx,
		`INSERT INTO applications (id, name, email, domain, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $5)
		 RETURNING `+applicationColumns,
		app.ID,
		app.Name,
		app.Email,
		app.Domain,
		app.CreatedAt,
	)
	created, err := scanApplication(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, types.NewAppErrorWithDetails(types.ErrCodeConflictAppExists,
				"an application with this identifier already exists", nil,
				map[string]any{"identifier": app.ID})
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to create application", err)
	}
	return created, nil
}

// GetByID returns ErrCodeNotFoundApplication when the tenant does not exist.
func (r *ApplicationRepository) GetByID(ctx context.Context, id string) (*types.Application, error) {
	app, err := scanApplication(r.db.QueryRow(ctx,
		`SELECT `+applicationColumns+` FROM applications WHERE id = $1 AND deleted_at IS NULL`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundApplication, "application not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve application", err)
	}
	return app, nil
}

// List returns every tenant in creation order. The single SELECT is one
// snapshot, so concurrent registrations never produce duplicates or gaps
// within a page.
func (r *ApplicationRepository) List(ctx context.Context) ([]*types.Application, error) {
	rows, err := r.db.Query(ctx, `SELECT `+applicationColumns+` FROM applications WHERE deleted_at IS NULL ORDER BY seq`)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list applications", err)
	}
	defer rows.Close()
	return collectApplications(rows)
}

// Update applies a partial patch. Nil fields keep their stored value.
func (r *ApplicationRepository) Update(ctx context.Context, id string, patch types.ApplicationPatch, now time.Time) (*types.Application, error) {
	app, err := scanApplication(r.db.QueryRow(ctx,
		`UPDATE applications
		 SET name = COALESCE($2, name),
		     email = COALESCE($3, email),
		     domain = COALESCE($4, domain),
		     updated_at = $5
		 WHERE id = $1 AND deleted_at IS NULL
		 RETURNING `+applicationColumns,
		id,
		patch.Name,
		patch.Email,
		patch.Domain,
		now,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundApplication, "application not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to update application", err)
	}
	return app, nil
}

// SetResourceARNs records the provisioned SES identity and SNS topic.
func (r *ApplicationRepository) SetResourceARNs(ctx context.Context, id, sesIdentityARN, snsTopicARN string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE applications SET ses_identity_arn = $2, sns_topic_arn = $3, updated_at = NOW()
		 WHERE id = $1 AND deleted_at IS NULL`,
		id,
		nilIfEmpty(sesIdentityARN),
		nilIfEmpty(snsTopicARN),
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to record provisioned resources", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundApplication, "application not found", nil)
	}
	return nil
}

// Delete tombstones the tenant. A second delete is
// ErrCodeNotFoundApplication.
func (r *ApplicationRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE applications SET deleted_at = NOW(), updated_at = NOW()
		 WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to delete application", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundApplication, "application not found", nil)
	}
	return nil
}

// Purge removes the tenant row outright, freeing its identifier. It is only
// for undoing a registration that never issued a key.
func (r *ApplicationRepository) Purge(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM applications WHERE id = $1`, id)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to purge application", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundApplication, "application not found", nil)
	}
	return nil
}

// ListOrphans returns tenants created before cutoff that have no key rows at
// all. These are left behind when a registration fails and its compensation
// also fails.
func (r *ApplicationRepository) ListOrphans(ctx context.Context, cutoff time.Time, limit int) ([]*types.Application, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+applicationColumns+` FROM applications a
		 WHERE a.created_at < $1
		   AND a.deleted_at IS NULL
		   AND NOT EXISTS (SELECT 1 FROM api_keys k WHERE k.application_id = a.id)
		 ORDER BY a.seq
		 LIMIT $2`,
		cutoff,
		limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list orphaned applications", err)
	}
	defer rows.Close()
	return collectApplications(rows)
}

// Count returns the number of registered tenants.
func (r *ApplicationRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM applications WHERE deleted_at IS NULL`).Scan(&n); err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to count applications", err)
	}
	return n, nil
}

func collectApplications(rows pgx.Rows) ([]*types.Application, error) {
	var out []*types.Application
	for rows.Next() {
		app, err := scanApplication(rows)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan application row", err)
		}
		out = append(out, app)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating application rows", err)
	}
	return out, nil
}
