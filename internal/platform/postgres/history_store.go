package postgres

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/imagery-api/internal/domain"
	"github.com/phrazzld/imagery-api/internal/platform/logger"
	"github.com/phrazzld/imagery-api/internal/store"
)

// PostgresHistoryStore implements the store.HistoryStore interface using PostgreSQL.
type PostgresHistoryStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// Ensure PostgresHistoryStore implements store.HistoryStore interface
var _ store.HistoryStore = (*PostgresHistoryStore)(nil)

// NewPostgresHistoryStore creates a new PostgresHistoryStore.
func NewPostgresHistoryStore(db store.DBTX, logger *slog.Logger) *PostgresHistoryStore {
	if db == nil {
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresHistoryStore{
		db:     db,
		logger: logger.With(slog.String("component", "history_store")),
	}
}

// Create implements store.HistoryStore.Create
func (s *PostgresHistoryStore) Create(ctx context.Context, r *domain.HistoryRecord) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	results, err := encodeURLs(r.ResultURLs)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO generation_history
			(id, task_id, user_id, model_id, mode, prompt, result_urls, thumbnail_url, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err = s.db.ExecContext(ctx, query,
		r.ID,
		r.TaskID,
		r.UserID,
		r.ModelID,
		r.Mode,
		r.Prompt,
		results,
		r.ThumbnailURL,
		r.CreatedAt,
		r.UpdatedAt,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			log.Warn("history record already exists", slog.String("task_id", r.TaskID.String()))
			return store.NewStoreError("history", "create", "record already exists for task", MapError(err))
		}
		log.Error("failed to create history record",
			slog.String("task_id", r.TaskID.String()),
			slog.String("error", err.Error()))
		return store.NewStoreError("history", "create", "failed to insert record", MapError(err))
	}
	return nil
}

// UpdateResult implements store.HistoryStore.UpdateResult
func (s *PostgresHistoryStore) UpdateResult(
	ctx context.Context,
	taskID uuid.UUID,
	resultURLs []string,
	thumbnailURL string,
) error {
	results, err := encodeURLs(resultURLs)
	if err != nil {
		return err
	}

	query := `
		UPDATE generation_history
		SET result_urls = $1, thumbnail_url = $2, updated_at = $3
		WHERE task_id = $4
	`
	result, err := s.db.ExecContext(ctx, query, results, thumbnailURL, time.Now().UTC(), taskID)
	if err != nil {
		return store.NewStoreError("history", "update", "failed to update result", MapError(err))
	}

	applied, err := affected(result)
	if err != nil {
		return err
	}
	if !applied {
		return store.ErrHistoryNotFound
	}
	return nil
}
