package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"herald/internal/types"
)

func applicationRow(id string, seq int64, created time.Time) []any {
	arn := "arn:aws:ses:us-east-1:123:identity/" + id + ".io"
	return []any{id, "Acme", "ops@" + id + ".io", id + ".io", &arn, nil, seq, created, created}
}

func TestApplicationRepository_Create_Success(t *testing.T) {
	db := new(mockDBTX)
	repo := NewApplicationRepository(db)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), argsAt(0, "acme")).
		Return(&mockRow{values: applicationRow("acme", 1, now)})

	app, err := repo.Create(context.Background(), &types.Application{
		ID: "acme", Name: "Acme", Email: "ops@acme.io", Domain: "acme.io", CreatedAt: now,
	})
	require.NoError(t, err)
	assert.Equal(t, "acme", app.ID)
	assert.Equal(t, int64(1), app.Seq)
	assert.Equal(t, "arn:aws:ses:us-east-1:123:identity/acme.io", app.SESIdentityARN)
	assert.Empty(t, app.SNSTopicARN)
	db.AssertExpectations(t)
}

func TestApplicationRepository_Create_Duplicate(t *testing.T) {
	db := new(mockDBTX)
	repo := NewApplicationRepository(db)

	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanErr: &pgconn.PgError{Code: "23505"}})

	_, err := repo.Create(context.Background(), &types.Application{ID: "acme"})
	require.Error(t, err)
	assert.True(t, types.HasCode(err, types.ErrCodeConflictAppExists))
}

func TestApplicationRepository_Create_DBError(t *testing.T) {
	db := new(mockDBTX)
	repo := NewApplicationRepository(db)

	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanErr: errors.New("connection refused")})

	_, err := repo.Create(context.Background(), &types.Application{ID: "acme"})
	assert.True(t, types.HasCode(err, types.ErrCodeInternalDB))
}

func TestApplicationRepository_GetByID_NotFound(t *testing.T) {
	db := new(mockDBTX)
	repo := NewApplicationRepository(db)

	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanErr: pgx.ErrNoRows})

	_, err := repo.GetByID(context.Background(), "ghost")
	assert.True(t, types.HasCode(err, types.ErrCodeNotFoundApplication))
}

func TestApplicationRepository_List_CreationOrder(t *testing.T) {
	db := new(mockDBTX)
	repo := NewApplicationRepository(db)
	now := time.Now().UTC()

	rows := newMockRows(applicationRow("alpha", 1, now), applicationRow("beta", 2, now))
	db.On("Query", mock.Anything, mock.MatchedBy(func(sql string) bool {
		return contains(sql, "ORDER BY seq")
	}), mock.Anything).Return(rows, nil)

	apps, err := repo.List(context.Background())
	require.NoError(t, err)
	require.Len(t, apps, 2)
	assert.Equal(t, "alpha", apps[0].ID)
	assert.Equal(t, "beta", apps[1].ID)
	assert.True(t, rows.closed)
}

func TestApplicationRepository_List_IterationError(t *testing.T) {
	db := new(mockDBTX)
	repo := NewApplicationRepository(db)

	rows := newMockRows()
	rows.errVal = errors.New("broken pipe")
	db.On("Query", mock.Anything, mock.AnythingOfType("string"), mock.Anything).Return(rows, nil)

	_, err := repo.List(context.Background())
	assert.True(t, types.HasCode(err, types.ErrCodeInternalDB))
}

func TestApplicationRepository_Update(t *testing.T) {
	db := new(mockDBTX)
	repo := NewApplicationRepository(db)
	now := time.Now().UTC()
	name := "Acme Corp"

	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), argsAt(1, &name)).
		Return(&mockRow{values: applicationRow("acme", 1, now)})

	_, err := repo.Update(context.Background(), "acme", types.ApplicationPatch{Name: &name}, now)
	require.NoError(t, err)
	db.AssertExpectations(t)
}

func TestApplicationRepository_Update_NotFound(t *testing.T) {
	db := new(mockDBTX)
	repo := NewApplicationRepository(db)

	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanErr: pgx.ErrNoRows})

	name := "x"
	_, err := repo.Update(context.Background(), "ghost", types.ApplicationPatch{Name: &name}, time.Now())
	assert.True(t, types.HasCode(err, types.ErrCodeNotFoundApplication))
}

func TestApplicationRepository_DeleteLeavesTombstone(t *testing.T) {
	db := new(mockDBTX)
	repo := NewApplicationRepository(db)
	tombstone := mock.MatchedBy(func(sql string) bool {
		return contains(sql, "SET deleted_at = NOW()") && contains(sql, "deleted_at IS NULL")
	})

	db.On("Exec", mock.Anything, tombstone, argsAt(0, "acme")).
		Return(pgconn.NewCommandTag("UPDATE 1"), nil).Once()
	db.On("Exec", mock.Anything, tombstone, argsAt(0, "acme")).
		Return(pgconn.NewCommandTag("UPDATE 0"), nil).Once()

	require.NoError(t, repo.Delete(context.Background(), "acme"))
	err := repo.Delete(context.Background(), "acme")
	assert.True(t, types.HasCode(err, types.ErrCodeNotFoundApplication))
	db.AssertExpectations(t)
}

func TestApplicationRepository_Purge(t *testing.T) {
	db := new(mockDBTX)
	repo := NewApplicationRepository(db)

	db.On("Exec", mock.Anything, mock.MatchedBy(func(sql string) bool {
		return contains(sql, "DELETE FROM applications")
	}), argsAt(0, "acme")).Return(pgconn.NewCommandTag("DELETE 1"), nil)

	require.NoError(t, repo.Purge(context.Background(), "acme"))
	db.AssertExpectations(t)
}

func TestApplicationRepository_ReadsSkipTombstones(t *testing.T) {
	db := new(mockDBTX)
	repo := NewApplicationRepository(db)
	live := mock.MatchedBy(func(sql string) bool { return contains(sql, "deleted_at IS NULL") })

	db.On("QueryRow", mock.Anything, live, argsAt(0, "acme")).
		Return(&mockRow{scanErr: pgx.ErrNoRows})
	db.On("Query", mock.Anything, live, mock.Anything).
		Return(newMockRows(), nil)

	_, err := repo.GetByID(context.Background(), "acme")
	assert.True(t, types.HasCode(err, types.ErrCodeNotFoundApplication))
	apps, err := repo.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, apps)
	db.AssertExpectations(t)
}

func TestApplicationRepository_SetResourceARNs_EmptyStoredAsNull(t *testing.T) {
	db := new(mockDBTX)
	repo := NewApplicationRepository(db)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.MatchedBy(func(args []any) bool {
		ses, _ := args[1].(*string)
		sns, _ := args[2].(*string)
		return ses != nil && *ses == "arn:ses" && sns == nil
	})).Return(pgconn.NewCommandTag("UPDATE 1"), nil)

	require.NoError(t, repo.SetResourceARNs(context.Background(), "acme", "arn:ses", ""))
	db.AssertExpectations(t)
}

func TestApplicationRepository_ListOrphans(t *testing.T) {
	db := new(mockDBTX)
	repo := NewApplicationRepository(db)
	cutoff := time.Now().UTC().Add(-time.Hour)

	db.On("Query", mock.Anything, mock.MatchedBy(func(sql string) bool {
		return contains(sql, "NOT EXISTS")
	}), argsAt(0, cutoff)).Return(newMockRows(applicationRow("orphan", 7, cutoff.Add(-time.Minute))), nil)

	apps, err := repo.ListOrphans(context.Background(), cutoff, 50)
	require.NoError(t, err)
	require.Len(t, apps, 1)
	assert.Equal(t, "orphan", apps[0].ID)
}

func TestApplicationRepository_Count(t *testing.T) {
	db := new(mockDBTX)
	repo := NewApplicationRepository(db)

	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{values: []any{3}})

	n, err := repo.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}
