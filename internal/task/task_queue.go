package task

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/phrazzld/imagery-api/internal/domain"
	"github.com/phrazzld/imagery-api/internal/platform/metrics"
	"github.com/phrazzld/imagery-api/internal/queue"
	"github.com/phrazzld/imagery-api/internal/store"
)

// Common errors returned by the task package
var (
	ErrQueueClosed   = queue.ErrClosed
	ErrModelNotFound = errors.New("model configuration not found")
	ErrModelInactive = errors.New("model is not active")
	ErrTaskPanicked  = errors.New("task execution panicked")
	ErrNotPending    = errors.New("task is not pending")
)

// TaskQueue is the primary queue: a bounded FIFO of pending tasks whose
// consumers claim each task in the store as they dequeue it.
type TaskQueue struct {
	q      *queue.Bounded[*domain.Task]
	store  store.TaskStore
	logger *slog.Logger
}

// NewTaskQueue creates a task queue with the specified capacity.
func NewTaskQueue(capacity int, taskStore store.TaskStore, logger *slog.Logger) *TaskQueue {
	return &TaskQueue{
		q:      queue.NewBounded[*domain.Task](capacity),
		store:  taskStore,
		logger: logger.With("component", "task_queue"),
	}
}

// Enqueue adds a pending task, blocking while the queue is at capacity.
// It returns ErrQueueClosed after Close and ctx.Err() if ctx ends first.
func (q *TaskQueue) Enqueue(ctx context.Context, t *domain.Task) error {
	if t.Status != domain.TaskStatusPending {
		return ErrNotPending
	}

	if err := q.q.Enqueue(ctx, t.Clone()); err != nil {
		return err
	}

	metrics.SetQueueDepth("primary", q.q.Len())
	q.logger.DebugContext(ctx, "task enqueued",
		"task_id", t.ID,
		"queue_len", q.q.Len(),
		"queue_cap", q.q.Cap())
	return nil
}

// DequeueAndMarkProcessing blocks until a task is available, moves it to
// processing in the store and returns the stored record. Tasks the store
// refuses to claim (already claimed, or gone) are skipped. The boolean is
// false on shutdown or cancellation.
func (q *TaskQueue) DequeueAndMarkProcessing(ctx context.Context) (*domain.Task, bool) {
	for {
		t, ok := q.q.Dequeue(ctx)
		if !ok {
			return nil, false
		}
		metrics.SetQueueDepth("primary", q.q.Len())

		claimed, err := q.claim(ctx, t)
		if err != nil {
			if errors.Is(err, domain.ErrInvalidTransition) || store.IsNotFoundError(err) {
				q.logger.InfoContext(ctx, "skipping task that is no longer pending",
					"task_id", t.ID,
					"reason", err)
			} else {
				q.logger.ErrorContext(ctx, "failed to claim task, leaving it pending",
					"task_id", t.ID,
					"error", err)
			}
			continue
		}
		return claimed, true
	}
}

// claim moves t to processing. A task the store has claimed is always
// returned; if the stored row cannot be reloaded the queued copy stands in.
func (q *TaskQueue) claim(ctx context.Context, t *domain.Task) (*domain.Task, error) {
	if err := q.store.UpdateStatus(ctx, t.ID, domain.TaskStatusProcessing, ""); err != nil {
		return nil, err
	}

	claimed, err := q.store.GetByID(ctx, t.ID)
	if err != nil {
		q.logger.WarnContext(ctx, "failed to reload claimed task, using queued copy",
			"task_id", t.ID,
			"error", err)
		now := time.Now().UTC()
		t.Status = domain.TaskStatusProcessing
		t.StartedAt = &now
		t.UpdatedAt = now
		return t, nil
	}
	return claimed, nil
}

// Len returns the number of tasks waiting, excluding claimed ones.
func (q *TaskQueue) Len() int {
	return q.q.Len()
}

// Close closes the task queue, preventing further task submission.
func (q *TaskQueue) Close() {
	if q.q.Closed() {
		return
	}
	q.q.Close()
	q.logger.Info("task queue closed")
}
