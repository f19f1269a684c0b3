package postgres

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"

	"github.com/phrazzld/imagery-api/internal/domain"
	"github.com/phrazzld/imagery-api/internal/platform/logger"
	"github.com/phrazzld/imagery-api/internal/store"
)

// PostgresModelStore implements the store.ModelStore interface using PostgreSQL.
type PostgresModelStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// Ensure PostgresModelStore implements store.ModelStore interface
var _ store.ModelStore = (*PostgresModelStore)(nil)

// NewPostgresModelStore creates a new PostgresModelStore.
func NewPostgresModelStore(db store.DBTX, logger *slog.Logger) *PostgresModelStore {
	if db == nil {
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresModelStore{
		db:     db,
		logger: logger.With(slog.String("component", "model_store")),
	}
}

// GetByID implements store.ModelStore.GetByID
func (s *PostgresModelStore) GetByID(ctx context.Context, id string) (*domain.ModelConfig, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `
		SELECT id, name, remote_model, backend_url, api_key, cost, active, created_at, updated_at
		FROM model_configs
		WHERE id = $1
	`
	var m domain.ModelConfig
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&m.ID,
		&m.Name,
		&m.RemoteModel,
		&m.BackendURL,
		&m.APIKey,
		&m.Cost,
		&m.Active,
		&m.CreatedAt,
		&m.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			log.Debug("model not found", slog.String("model_id", id))
			return nil, store.ErrModelNotFound
		}
		log.Error("failed to get model", slog.String("model_id", id), slog.String("error", err.Error()))
		return nil, store.NewStoreError("model", "get", "failed to load model", MapError(err))
	}
	return &m, nil
}
