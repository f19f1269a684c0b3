package postgres_test

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/phrazzld/imagery-api/internal/platform/postgres"
	"github.com/phrazzld/imagery-api/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockLedger(t *testing.T) (*postgres.PostgresPointsLedger, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		_ = db.Close()
	})
	return postgres.NewPostgresPointsLedger(db, nil), mock
}

func TestPostgresPointsLedger_Deduct(t *testing.T) {
	userID := uuid.New()

	t.Run("debits and journals in one transaction", func(t *testing.T) {
		l, mock := newMockLedger(t)
		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE point_balances SET balance = balance - \$1`).
			WithArgs(int64(5), sqlmock.AnyArg(), userID).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`INSERT INTO point_transactions`).
			WithArgs(sqlmock.AnyArg(), userID, int64(-5), "deduct", "generation", "task-1", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		require.NoError(t, l.Deduct(context.Background(), userID, 5, "generation", "task-1"))
	})

	t.Run("insufficient balance rolls back", func(t *testing.T) {
		l, mock := newMockLedger(t)
		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE point_balances`).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()

		err := l.Deduct(context.Background(), userID, 5, "generation", "task-1")
		assert.ErrorIs(t, err, store.ErrInsufficientPoints)
	})

	t.Run("zero amount touches nothing", func(t *testing.T) {
		l, _ := newMockLedger(t)
		assert.NoError(t, l.Deduct(context.Background(), userID, 0, "generation", "task-1"))
	})
}

func TestPostgresPointsLedger_Refund(t *testing.T) {
	userID := uuid.New()

	t.Run("first refund credits the balance", func(t *testing.T) {
		l, mock := newMockLedger(t)
		mock.ExpectBegin()
		mock.ExpectExec(`ON CONFLICT \(reference\) WHERE kind = 'refund' DO NOTHING`).
			WithArgs(sqlmock.AnyArg(), userID, int64(5), "refund", "task failed", "task-1", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`INSERT INTO point_balances`).
			WithArgs(userID, int64(5), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		credited, err := l.Refund(context.Background(), userID, 5, "task failed", "task-1")
		require.NoError(t, err)
		assert.True(t, credited)
	})

	t.Run("repeated reference is a no-op", func(t *testing.T) {
		l, mock := newMockLedger(t)
		mock.ExpectBegin()
		mock.ExpectExec(`INSERT INTO point_transactions`).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectCommit()

		credited, err := l.Refund(context.Background(), userID, 5, "task failed", "task-1")
		require.NoError(t, err)
		assert.False(t, credited)
	})

	t.Run("zero amount is never credited", func(t *testing.T) {
		l, _ := newMockLedger(t)
		credited, err := l.Refund(context.Background(), userID, 0, "task failed", "task-1")
		require.NoError(t, err)
		assert.False(t, credited)
	})
}
