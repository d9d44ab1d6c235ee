package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"herald/internal/types"
)

// APIKeyRepository provides data access for the api_keys table. Only bcrypt
// hashes are stored; rows are revoked, never deleted.
type APIKeyRepository struct {
	db DBTX
}

func NewAPIKeyRepository(db DBTX) *APIKeyRepository {
	return &APIKeyRepository{db: db}
}

// key_hash is selected for verification and must never reach a response.
const apiKeyColumns = `id, application_id, key_hash, key_prefix, name, created_at, expires_at, last_used_at, revoked_at`

func scanAPIKey(row pgx.Row) (*types.APIKey, error) {
	var (
		key  types.APIKey
		name *string
	)
	err := row.Scan(
		&key.ID,
		&key.ApplicationID,
		&key.KeyHash,
		&key.KeyPrefix,
		&name,
		&key.CreatedAt,
		&key.ExpiresAt,
		&key.LastUsedAt,
		&key.RevokedAt,
	)
	if err != nil {
		return nil, err
	}
	key.Name = derefString(name)
	return &key, nil
}

func collectAPIKeys(rows pgx.Rows) ([]*types.APIKey, error) {
	var out []*types.APIKey
	for rows.Next() {
		key, err := scanAPIKey(rows)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan API key row", err)
		}
		out = append(out, key)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating API key rows", err)
	}
	return out, nil
}

// Create inserts a key row. KeyHash must already be the bcrypt hash.
func (r *APIKeyRepository) Create(ctx context.Context, key *types.APIKey) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO api_keys (id, application_id, key_hash, key_prefix, name, created_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5, COALESCE($6, NOW()), $7)`,
		key.ID,
		key.ApplicationID,
		key.KeyHash,
		key.KeyPrefix,
		nilIfEmpty(key.Name),
		nilIfZeroTime(key.CreatedAt),
		key.ExpiresAt,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create API key", err)
	}
	return nil
}

// GetByID returns any key row, revoked or not.
func (r *APIKeyRepository) GetByID(ctx context.Context, id string) (*types.APIKey, error) {
	key, err := scanAPIKey(r.db.QueryRow(ctx,
		`SELECT `+apiKeyColumns+` FROM api_keys WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundAPIKey, "API key not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve API key", err)
	}
	return key, nil
}

// FindByPrefix returns every non-revoked key sharing the visible prefix.
// Prefixes are not unique, so the caller compares hashes against each.
func (r *APIKeyRepository) FindByPrefix(ctx context.Context, prefix string) ([]*types.APIKey, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+apiKeyColumns+` FROM api_keys WHERE key_prefix = $1 AND revoked_at IS NULL`,
		prefix,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to look up API key", err)
	}
	defer rows.Close()
	return collectAPIKeys(rows)
}

// ListByApplication returns every key ever issued to the tenant, newest first.
func (r *APIKeyRepository) ListByApplication(ctx context.Context, applicationID string) ([]*types.APIKey, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+apiKeyColumns+` FROM api_keys WHERE application_id = $1 ORDER BY created_at DESC, id`,
		applicationID,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list API keys", err)
	}
	defer rows.Close()
	return collectAPIKeys(rows)
}

// Revoke sets revoked_at once. Revoking an already revoked key succeeds and
// keeps the original timestamp; only an unknown id is NotFound.
func (r *APIKeyRepository) Revoke(ctx context.Context, id string, now time.Time) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE api_keys SET revoked_at = COALESCE(revoked_at, $2) WHERE id = $1`,
		id,
		now,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to revoke API key", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundAPIKey, "API key not found", nil)
	}
	return nil
}

// RevokeAllForApplication revokes every live key of the tenant and returns
// how many were revoked by this call.
func (r *APIKeyRepository) RevokeAllForApplication(ctx context.Context, applicationID string, now time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE api_keys SET revoked_at = $2 WHERE application_id = $1 AND revoked_at IS NULL`,
		applicationID,
		now,
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to revoke application keys", err)
	}
	return tag.RowsAffected(), nil
}

// CountUsable counts keys that are neither revoked nor expired at now.
func (r *APIKeyRepository) CountUsable(ctx context.Context, applicationID string, now time.Time) (int, error) {
	var n int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM api_keys
		 WHERE application_id = $1 AND revoked_at IS NULL
		   AND (expires_at IS NULL OR expires_at > $2)`,
		applicationID,
		now,
	).Scan(&n)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to count usable API keys", err)
	}
	return n, nil
}

// TouchLastUsed stamps last_used_at on a batch of keys in one statement.
func (r *APIKeyRepository) TouchLastUsed(ctx context.Context, ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.db.Exec(ctx,
		`UPDATE api_keys SET last_used_at = $2 WHERE id = ANY($1)`,
		ids,
		at,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update API key last_used_at", err)
	}
	return nil
}
