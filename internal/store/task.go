package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/imagery-api/internal/domain"
)

// TaskStore defines the interface for task persistence.
// It is the only shared mutable resource of the pipeline: every mutation is a
// single-field update guarded by the task's prior status or a version check.
type TaskStore interface {
	// Create saves a new task. The task must be pending.
	Create(ctx context.Context, task *domain.Task) error

	// GetByID retrieves a task by its ID.
	// Returns ErrTaskNotFound if the task does not exist.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Task, error)

	// UpdateStatus moves a task to status, recording errorMsg when the status is failed.
	// The update only applies when the stored status is the one that legally
	// precedes status. Returns ErrTaskNotFound if the task does not exist and
	// domain.ErrInvalidTransition if it exists in any other state.
	UpdateStatus(ctx context.Context, id uuid.UUID, status domain.TaskStatus, errorMsg string) error

	// UpdateProgress records progress for a processing task. Values lower than the
	// stored progress are ignored, so observed progress never decreases.
	UpdateProgress(ctx context.Context, id uuid.UUID, percent int, message string) error

	// MarkCompleted moves a processing task to completed with its result
	// references, sets progress to 100 and increments the URL version.
	// Returns domain.ErrInvalidTransition if the task is not processing.
	MarkCompleted(ctx context.Context, id uuid.UUID, resultURLs []string, thumbnailURL string) (*domain.Task, error)

	// ConditionalUpdateResult swaps the result references and marks the task as
	// uploaded, but only if the stored URL version equals expectedVersion.
	// On success the version is incremented by exactly one and true is returned.
	// A stale version leaves the record untouched and returns false.
	ConditionalUpdateResult(
		ctx context.Context,
		id uuid.UUID,
		resultURLs []string,
		thumbnailURL string,
		expectedVersion int64,
	) (bool, error)

	// GetStuckProcessingTasks returns processing tasks that started more than
	// olderThan ago.
	GetStuckProcessingTasks(ctx context.Context, olderThan time.Duration) ([]*domain.Task, error)

	// GetPendingTasks returns all pending tasks ordered by creation time.
	GetPendingTasks(ctx context.Context) ([]*domain.Task, error)

	// GetByBatchGroup returns the sibling tasks created from one tiling operation,
	// ordered by split index.
	GetByBatchGroup(ctx context.Context, batchGroupID uuid.UUID) ([]*domain.Task, error)

	// GetUnrefundedFailedTasks returns failed tasks with a positive cost whose
	// refund has not been recorded yet.
	GetUnrefundedFailedTasks(ctx context.Context, limit int) ([]*domain.Task, error)

	// MarkRefunded flags a failed task as refunded. It reports false when the task
	// was already flagged.
	MarkRefunded(ctx context.Context, id uuid.UUID) (bool, error)

	// WithTx returns a TaskStore that runs its queries inside tx.
	WithTx(tx *sql.Tx) TaskStore
}

// ModelStore provides read access to generation model configurations.
type ModelStore interface {
	// GetByID retrieves a model configuration.
	// Returns ErrModelNotFound if it does not exist.
	GetByID(ctx context.Context, id string) (*domain.ModelConfig, error)
}

// HistoryStore persists the generation history paired with completed tasks.
type HistoryStore interface {
	// Create saves a new history record.
	Create(ctx context.Context, record *domain.HistoryRecord) error

	// UpdateResult replaces the result references of the record paired with taskID.
	// Returns ErrHistoryNotFound when no record exists for the task.
	UpdateResult(ctx context.Context, taskID uuid.UUID, resultURLs []string, thumbnailURL string) error
}

// PointsLedger credits and debits user points.
type PointsLedger interface {
	// Deduct debits amount from the user's balance.
	// Returns ErrInsufficientPoints if the balance is too low.
	Deduct(ctx context.Context, userID uuid.UUID, amount int64, reason string, reference string) error

	// Refund credits amount back to the user. Refunds are idempotent per
	// reference: a second refund with the same reference is a no-op and reports false.
	Refund(ctx context.Context, userID uuid.UUID, amount int64, reason string, reference string) (bool, error)
}
