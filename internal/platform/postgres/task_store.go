package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/imagery-api/internal/domain"
	"github.com/phrazzld/imagery-api/internal/platform/logger"
	"github.com/phrazzld/imagery-api/internal/store"
)

// taskColumns lists the columns read by every task query, in scan order.
const taskColumns = `id, user_id, model_id, mode, prompt, aspect_ratio, image_size,
	reference_images, status, progress, progress_message, result_urls, thumbnail_url,
	error_message, cost, refunded, uploaded, url_version, parent_task_id, split_index,
	batch_group_id, process_mode, tolerance, created_at, updated_at, started_at, completed_at`

// PostgresTaskStore implements the store.TaskStore interface using PostgreSQL.
// Every state change is a single UPDATE whose WHERE clause carries the
// required prior status or URL version, so concurrent writers cannot
// overwrite each other.
type PostgresTaskStore struct {
	db     store.DBTX
	logger *slog.Logger
	now    func() time.Time
}

// Ensure PostgresTaskStore implements store.TaskStore interface
var _ store.TaskStore = (*PostgresTaskStore)(nil)

// NewPostgresTaskStore creates a new PostgresTaskStore.
// If logger is nil, a default logger will be used.
func NewPostgresTaskStore(db store.DBTX, logger *slog.Logger) *PostgresTaskStore {
	if db == nil {
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresTaskStore{
		db:     db,
		logger: logger.With(slog.String("component", "task_store")),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// WithTx implements store.TaskStore.WithTx
func (s *PostgresTaskStore) WithTx(tx *sql.Tx) store.TaskStore {
	return &PostgresTaskStore{
		db:     tx,
		logger: s.logger,
		now:    s.now,
	}
}

// Create implements store.TaskStore.Create
func (s *PostgresTaskStore) Create(ctx context.Context, t *domain.Task) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if err := t.Validate(); err != nil {
		return fmt.Errorf("%w: %w", store.ErrInvalidEntity, err)
	}
	if t.Status != domain.TaskStatusPending {
		return fmt.Errorf("%w: new tasks must be pending", store.ErrInvalidEntity)
	}

	refs, err := encodeURLs(t.ReferenceImages)
	if err != nil {
		return err
	}
	results, err := encodeURLs(t.ResultURLs)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO tasks (` + taskColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16,
			$17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27)
	`
	_, err = s.db.ExecContext(ctx, query,
		t.ID,
		t.UserID,
		t.ModelID,
		t.Mode,
		t.Prompt,
		t.AspectRatio,
		t.ImageSize,
		refs,
		t.Status,
		t.Progress,
		t.ProgressMessage,
		results,
		t.ThumbnailURL,
		t.ErrorMessage,
		t.Cost,
		t.Refunded,
		t.Uploaded,
		t.URLVersion,
		nullUUID(t.ParentTaskID),
		nullInt(t.SplitIndex),
		nullUUID(t.BatchGroupID),
		t.ProcessMode,
		nullFloat(t.Tolerance),
		t.CreatedAt,
		t.UpdatedAt,
		nullTime(t.StartedAt),
		nullTime(t.CompletedAt),
	)
	if err != nil {
		log.Error("failed to create task",
			slog.String("task_id", t.ID.String()),
			slog.String("error", err.Error()))
		return MapError(err)
	}

	log.Debug("task created", slog.String("task_id", t.ID.String()))
	return nil
}

// GetByID implements store.TaskStore.GetByID
func (s *PostgresTaskStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE id = $1`

	t, err := scanTask(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrTaskNotFound
		}
		return nil, fmt.Errorf("failed to get task: %w", MapError(err))
	}
	return t, nil
}

// UpdateStatus implements store.TaskStore.UpdateStatus
func (s *PostgresTaskStore) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.TaskStatus, errorMsg string) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	prev, ok := status.PreviousStatus()
	if !ok {
		return domain.ErrInvalidTransition
	}

	var query string
	args := []any{status, s.now(), id, prev}
	switch status {
	case domain.TaskStatusProcessing:
		query = `
			UPDATE tasks SET status = $1, started_at = $2, updated_at = $2
			WHERE id = $3 AND status = $4
		`
	case domain.TaskStatusFailed:
		query = `
			UPDATE tasks SET status = $1, error_message = $5, completed_at = $2, updated_at = $2
			WHERE id = $3 AND status = $4
		`
		args = append(args, errorMsg)
	default:
		query = `
			UPDATE tasks SET status = $1, completed_at = $2, updated_at = $2
			WHERE id = $3 AND status = $4
		`
	}

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		log.Error("failed to update task status",
			slog.String("task_id", id.String()),
			slog.String("status", string(status)),
			slog.String("error", err.Error()))
		return fmt.Errorf("failed to update task status: %w", MapError(err))
	}

	applied, err := affected(result)
	if err != nil {
		return err
	}
	if !applied {
		return s.missOrConflict(ctx, id, domain.ErrInvalidTransition)
	}
	return nil
}

// UpdateProgress implements store.TaskStore.UpdateProgress
func (s *PostgresTaskStore) UpdateProgress(ctx context.Context, id uuid.UUID, percent int, message string) error {
	if percent < 0 || percent > 100 {
		return domain.ErrInvalidProgress
	}

	query := `
		UPDATE tasks SET progress = $1, progress_message = $2, updated_at = $3
		WHERE id = $4 AND status = 'processing' AND progress <= $1
	`
	if _, err := s.db.ExecContext(ctx, query, percent, message, s.now(), id); err != nil {
		return fmt.Errorf("failed to update task progress: %w", MapError(err))
	}
	return nil
}

// MarkCompleted implements store.TaskStore.MarkCompleted
func (s *PostgresTaskStore) MarkCompleted(
	ctx context.Context,
	id uuid.UUID,
	resultURLs []string,
	thumbnailURL string,
) (*domain.Task, error) {
	results, err := encodeURLs(resultURLs)
	if err != nil {
		return nil, err
	}

	query := `
		UPDATE tasks
		SET status = 'completed', progress = 100, progress_message = 'done',
			result_urls = $1, thumbnail_url = $2, url_version = url_version + 1,
			completed_at = $3, updated_at = $3
		WHERE id = $4 AND status = 'processing'
		RETURNING ` + taskColumns

	t, err := scanTask(s.db.QueryRowContext(ctx, query, results, thumbnailURL, s.now(), id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, s.missOrConflict(ctx, id, domain.ErrInvalidTransition)
		}
		return nil, fmt.Errorf("failed to mark task completed: %w", MapError(err))
	}
	return t, nil
}

// ConditionalUpdateResult implements store.TaskStore.ConditionalUpdateResult
func (s *PostgresTaskStore) ConditionalUpdateResult(
	ctx context.Context,
	id uuid.UUID,
	resultURLs []string,
	thumbnailURL string,
	expectedVersion int64,
) (bool, error) {
	results, err := encodeURLs(resultURLs)
	if err != nil {
		return false, err
	}

	query := `
		UPDATE tasks
		SET result_urls = $1, thumbnail_url = $2, uploaded = TRUE,
			url_version = url_version + 1, updated_at = $3
		WHERE id = $4 AND url_version = $5
	`
	result, err := s.db.ExecContext(ctx, query, results, thumbnailURL, s.now(), id, expectedVersion)
	if err != nil {
		return false, fmt.Errorf("failed to update task result: %w", MapError(err))
	}

	applied, err := affected(result)
	if err != nil {
		return false, err
	}
	if !applied {
		if err := s.missOrConflict(ctx, id, nil); err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

// GetStuckProcessingTasks implements store.TaskStore.GetStuckProcessingTasks
func (s *PostgresTaskStore) GetStuckProcessingTasks(ctx context.Context, olderThan time.Duration) ([]*domain.Task, error) {
	query := `
		SELECT ` + taskColumns + ` FROM tasks
		WHERE status = 'processing' AND COALESCE(started_at, updated_at) < $1
		ORDER BY created_at ASC
	`
	return s.queryTasks(ctx, query, s.now().Add(-olderThan))
}

// GetPendingTasks implements store.TaskStore.GetPendingTasks
func (s *PostgresTaskStore) GetPendingTasks(ctx context.Context) ([]*domain.Task, error) {
	query := `
		SELECT ` + taskColumns + ` FROM tasks
		WHERE status = 'pending'
		ORDER BY created_at ASC
	`
	return s.queryTasks(ctx, query)
}

// GetByBatchGroup implements store.TaskStore.GetByBatchGroup
func (s *PostgresTaskStore) GetByBatchGroup(ctx context.Context, batchGroupID uuid.UUID) ([]*domain.Task, error) {
	query := `
		SELECT ` + taskColumns + ` FROM tasks
		WHERE batch_group_id = $1
		ORDER BY split_index ASC NULLS FIRST, created_at ASC
	`
	return s.queryTasks(ctx, query, batchGroupID)
}

// GetUnrefundedFailedTasks implements store.TaskStore.GetUnrefundedFailedTasks
func (s *PostgresTaskStore) GetUnrefundedFailedTasks(ctx context.Context, limit int) ([]*domain.Task, error) {
	query := `
		SELECT ` + taskColumns + ` FROM tasks
		WHERE status = 'failed' AND cost > 0 AND NOT refunded
		ORDER BY created_at ASC
		LIMIT $1
	`
	return s.queryTasks(ctx, query, limit)
}

// MarkRefunded implements store.TaskStore.MarkRefunded
func (s *PostgresTaskStore) MarkRefunded(ctx context.Context, id uuid.UUID) (bool, error) {
	query := `
		UPDATE tasks SET refunded = TRUE, updated_at = $1
		WHERE id = $2 AND status = 'failed' AND NOT refunded
	`
	result, err := s.db.ExecContext(ctx, query, s.now(), id)
	if err != nil {
		return false, fmt.Errorf("failed to mark task refunded: %w", MapError(err))
	}

	applied, err := affected(result)
	if err != nil {
		return false, err
	}
	if !applied {
		return false, s.missOrConflict(ctx, id, nil)
	}
	return true, nil
}

// missOrConflict explains an UPDATE that matched no row: ErrTaskNotFound
// if the task does not exist, conflict otherwise.
func (s *PostgresTaskStore) missOrConflict(ctx context.Context, id uuid.UUID, conflict error) error {
	var exists bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM tasks WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check task existence: %w", MapError(err))
	}
	if !exists {
		return store.ErrTaskNotFound
	}
	return conflict
}

func (s *PostgresTaskStore) queryTasks(ctx context.Context, query string, args ...any) ([]*domain.Task, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		log.Error("failed to query tasks", slog.String("error", err.Error()))
		return nil, fmt.Errorf("failed to query tasks: %w", MapError(err))
	}
	defer func() { _ = rows.Close() }()

	var tasks []*domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task row: %w", err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating task rows: %w", err)
	}
	return tasks, nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*domain.Task, error) {
	var (
		t            domain.Task
		refs         []byte
		results      []byte
		parentTaskID uuid.NullUUID
		splitIndex   sql.NullInt32
		batchGroupID uuid.NullUUID
		tolerance    sql.NullFloat64
		startedAt    sql.NullTime
		completedAt  sql.NullTime
	)

	err := row.Scan(
		&t.ID,
		&t.UserID,
		&t.ModelID,
		&t.Mode,
		&t.Prompt,
		&t.AspectRatio,
		&t.ImageSize,
		&refs,
		&t.Status,
		&t.Progress,
		&t.ProgressMessage,
		&results,
		&t.ThumbnailURL,
		&t.ErrorMessage,
		&t.Cost,
		&t.Refunded,
		&t.Uploaded,
		&t.URLVersion,
		&parentTaskID,
		&splitIndex,
		&batchGroupID,
		&t.ProcessMode,
		&tolerance,
		&t.CreatedAt,
		&t.UpdatedAt,
		&startedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}

	if t.ReferenceImages, err = decodeURLs(refs); err != nil {
		return nil, err
	}
	if t.ResultURLs, err = decodeURLs(results); err != nil {
		return nil, err
	}
	if parentTaskID.Valid {
		t.ParentTaskID = &parentTaskID.UUID
	}
	if splitIndex.Valid {
		v := int(splitIndex.Int32)
		t.SplitIndex = &v
	}
	if batchGroupID.Valid {
		t.BatchGroupID = &batchGroupID.UUID
	}
	if tolerance.Valid {
		t.Tolerance = &tolerance.Float64
	}
	if startedAt.Valid {
		t.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		t.CompletedAt = &completedAt.Time
	}
	return &t, nil
}

// encodeURLs renders a URL list as a JSON array for a JSONB column.
func encodeURLs(urls []string) (string, error) {
	if urls == nil {
		urls = []string{}
	}
	b, err := json.Marshal(urls)
	if err != nil {
		return "", fmt.Errorf("failed to encode urls: %w", err)
	}
	return string(b), nil
}

func decodeURLs(b []byte) ([]string, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var urls []string
	if err := json.Unmarshal(b, &urls); err != nil {
		return nil, fmt.Errorf("failed to decode urls: %w", err)
	}
	if len(urls) == 0 {
		return nil, nil
	}
	return urls, nil
}

func affected(result sql.Result) (bool, error) {
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n > 0, nil
}

func nullUUID(id *uuid.UUID) uuid.NullUUID {
	if id == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: *id, Valid: true}
}

func nullInt(v *int) sql.NullInt32 {
	if v == nil {
		return sql.NullInt32{}
	}
	return sql.NullInt32{Int32: int32(*v), Valid: true}
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func nullTime(v *time.Time) sql.NullTime {
	if v == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *v, Valid: true}
}
