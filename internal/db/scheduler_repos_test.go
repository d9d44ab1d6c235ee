package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"herald/internal/types"
)

func TestJobLockRepository_Acquire(t *testing.T) {
	db := new(mockDBTX)
	repo := NewJobLockRepository(db)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), argsAt(0, "stale_leases:2026-03-01T12")).
		Return(pgconn.NewCommandTag("INSERT 0 1"), nil).Once()
	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), argsAt(0, "stale_leases:2026-03-01T12")).
		Return(pgconn.NewCommandTag("INSERT 0 0"), nil).Once()

	ok, err := repo.Acquire(context.Background(), "stale_leases:2026-03-01T12", "worker-a", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.Acquire(context.Background(), "stale_leases:2026-03-01T12", "worker-b", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestJobLockRepository_Acquire_ExpiryFromTTL(t *testing.T) {
	db := new(mockDBTX)
	repo := NewJobLockRepository(db)
	ttl := 10 * time.Minute

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.MatchedBy(func(args []any) bool {
		lockedAt := args[2].(time.Time)
		expiresAt := args[3].(time.Time)
		return expiresAt.Sub(lockedAt) == ttl
	})).Return(pgconn.NewCommandTag("INSERT 0 1"), nil)

	_, err := repo.Acquire(context.Background(), "lock", "w", ttl)
	require.NoError(t, err)
	db.AssertExpectations(t)
}

func TestJobLockRepository_Acquire_DBError(t *testing.T) {
	db := new(mockDBTX)
	repo := NewJobLockRepository(db)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.CommandTag{}, errors.New("connection reset"))

	ok, err := repo.Acquire(context.Background(), "lock", "w", time.Minute)
	assert.False(t, ok)
	assert.True(t, types.HasCode(err, types.ErrCodeInternalDB))
}

func TestJobLockRepository_Release(t *testing.T) {
	db := new(mockDBTX)
	repo := NewJobLockRepository(db)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.MatchedBy(func(args []any) bool {
		return args[0] == "lock" && args[1] == "w"
	})).Return(pgconn.NewCommandTag("DELETE 1"), nil)

	require.NoError(t, repo.Release(context.Background(), "lock", "w"))
}

func TestJobHistoryRepository_StartFinish(t *testing.T) {
	db := new(mockDBTX)
	repo := NewJobHistoryRepository(db)

	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), argsAt(0, "reconcile_orphans")).
		Return(&mockRow{values: []any{int64(42)}})
	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.MatchedBy(func(args []any) bool {
		msg, _ := args[3].(*string)
		return args[0] == int64(42) && args[1] == types.JobRunFailed && msg != nil && *msg == "boom"
	})).Return(pgconn.NewCommandTag("UPDATE 1"), nil)

	id, err := repo.Start(context.Background(), "reconcile_orphans")
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)

	require.NoError(t, repo.Finish(context.Background(), id, types.JobRunFailed, 3, errors.New("boom")))
}

func TestJobHistoryRepository_Finish_MissingRow(t *testing.T) {
	db := new(mockDBTX)
	repo := NewJobHistoryRepository(db)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("UPDATE 0"), nil)

	err := repo.Finish(context.Background(), 9, types.JobRunSuccess, 0, nil)
	assert.True(t, types.HasCode(err, types.ErrCodeInternalUnexpected))
}

func TestJobHistoryRepository_Recent(t *testing.T) {
	db := new(mockDBTX)
	repo := NewJobHistoryRepository(db)
	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	finished := started.Add(3 * time.Second)
	msg := "publish failed"

	db.On("Query", mock.Anything, mock.AnythingOfType("string"), argsAt(0, "deadletter_summary")).
		Return(newMockRows(
			[]any{int64(7), "deadletter_summary", started, &finished, types.JobRunFailed, 2, &msg},
			[]any{int64(6), "deadletter_summary", started.Add(-time.Hour), nil, "running", 0, nil},
		), nil)

	runs, err := repo.Recent(context.Background(), "deadletter_summary", 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "publish failed", runs[0].Error)
	require.NotNil(t, runs[0].FinishedAt)
	assert.True(t, runs[0].FinishedAt.Equal(finished))
	assert.Nil(t, runs[1].FinishedAt)
	assert.Empty(t, runs[1].Error)
}

func TestJobHistoryRepository_Recent_QueryError(t *testing.T) {
	db := new(mockDBTX)
	repo := NewJobHistoryRepository(db)
	db.On("Query", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(nil, errors.New("connection reset"))

	_, err := repo.Recent(context.Background(), "", 10)
	assert.True(t, types.HasCode(err, types.ErrCodeInternalDB))
}
