package db

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"herald/internal/types"
)

func TestAttemptRepository_Record(t *testing.T) {
	db := new(mockDBTX)
	repo := NewAttemptRepository(db)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.MatchedBy(func(args []any) bool {
		errText, _ := args[4].(*string)
		return args[0] == "job_1" && args[3] == types.AttemptTransientFailure &&
			errText != nil && *errText == "throttled"
	})).Return(pgconn.NewCommandTag("INSERT 0 1"), nil)

	err := repo.Record(context.Background(), &types.DeliveryAttempt{
		JobID: "job_1", ApplicationID: "acme", Attempt: 2,
		Status: types.AttemptTransientFailure, Error: "throttled", AttemptedAt: time.Now(),
	})
	require.NoError(t, err)
	db.AssertExpectations(t)
}

func TestAttemptRepository_ListByJob(t *testing.T) {
	db := new(mockDBTX)
	repo := NewAttemptRepository(db)
	now := time.Now().UTC()
	msgID := "ses-0001"

	db.On("Query", mock.Anything, mock.AnythingOfType("string"), argsAt(0, "job_1")).
		Return(newMockRows(
			[]any{int64(1), "job_1", "acme", 1, types.AttemptTransientFailure, nil, nil, int64(120), now},
			[]any{int64(2), "job_1", "acme", 2, types.AttemptSuccess, nil, &msgID, int64(80), now},
		), nil)

	attempts, err := repo.ListByJob(context.Background(), "job_1")
	require.NoError(t, err)
	require.Len(t, attempts, 2)
	assert.Equal(t, "ses-0001", attempts[1].ProviderMessageID)
	assert.Empty(t, attempts[0].Error)
}
