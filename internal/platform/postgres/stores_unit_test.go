package postgres_test

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/phrazzld/imagery-api/internal/domain"
	"github.com/phrazzld/imagery-api/internal/platform/postgres"
	"github.com/phrazzld/imagery-api/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreFailuresCarryEntityContext(t *testing.T) {
	ctx := context.Background()
	task, err := domain.NewTask(uuid.New(), "sketch-v2", "generate", "a red fox")
	require.NoError(t, err)

	tests := []struct {
		name      string
		run       func(db store.DBTX) error
		setup     func(mock sqlmock.Sqlmock)
		entity    string
		operation string
		wantIs    error
	}{
		{
			name: "model lookup",
			run: func(db store.DBTX) error {
				_, err := postgres.NewPostgresModelStore(db, nil).GetByID(ctx, "sketch-v2")
				return err
			},
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`FROM model_configs`).WillReturnError(errors.New("connection reset"))
			},
			entity:    "model",
			operation: "get",
		},
		{
			name: "duplicate history record",
			run: func(db store.DBTX) error {
				return postgres.NewPostgresHistoryStore(db, nil).Create(ctx, domain.NewHistoryRecord(task, nil, ""))
			},
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(`INSERT INTO generation_history`).
					WillReturnError(&pgconn.PgError{Code: "23505"})
			},
			entity:    "history",
			operation: "create",
			wantIs:    store.ErrDuplicate,
		},
		{
			name: "history update",
			run: func(db store.DBTX) error {
				return postgres.NewPostgresHistoryStore(db, nil).UpdateResult(ctx, task.ID, nil, "")
			},
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(`UPDATE generation_history`).WillReturnError(errors.New("connection reset"))
			},
			entity:    "history",
			operation: "update",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			require.NoError(t, err)
			defer func() { _ = db.Close() }()
			tc.setup(mock)

			err = tc.run(db)

			var storeErr *store.StoreError
			require.ErrorAs(t, err, &storeErr)
			assert.Equal(t, tc.entity, storeErr.Entity)
			assert.Equal(t, tc.operation, storeErr.Operation)
			if tc.wantIs != nil {
				assert.ErrorIs(t, err, tc.wantIs)
				assert.True(t, store.IsDuplicateError(err))
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}
