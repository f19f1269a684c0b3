package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/phrazzld/imagery-api/internal/domain"
	"github.com/phrazzld/imagery-api/internal/store"
)

// Runner owns the lifecycle of background task processing: the worker
// pool, restart recovery and the sweeper.
type Runner struct {
	store   store.TaskStore
	queue   *TaskQueue
	pool    *WorkerPool
	sweeper *Sweeper
	logger  *slog.Logger

	wg            sync.WaitGroup
	cancelRecover context.CancelFunc
}

// NewRunner creates a Runner. sweeper may be nil.
func NewRunner(taskStore store.TaskStore, queue *TaskQueue, pool *WorkerPool, sweeper *Sweeper, logger *slog.Logger) *Runner {
	return &Runner{
		store:   taskStore,
		queue:   queue,
		pool:    pool,
		sweeper: sweeper,
		logger:  logger.With("component", "task_runner"),
	}
}

// Start launches the workers, schedules the sweeper and re-enqueues the
// pending tasks left by a previous run in the background. It returns once
// the pending tasks are loaded; a backlog larger than the queue drains
// while the caller goes on serving.
func (r *Runner) Start(ctx context.Context) error {
	r.pool.Start()

	pending, err := r.store.GetPendingTasks(ctx)
	if err != nil {
		return fmt.Errorf("failed to load pending tasks: %w", err)
	}

	recoverCtx, cancel := context.WithCancel(ctx)
	r.cancelRecover = cancel
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.requeue(recoverCtx, pending); err != nil && recoverCtx.Err() == nil && !errors.Is(err, ErrQueueClosed) {
			r.logger.Error("task recovery stopped", "error", err)
		}
	}()

	if r.sweeper != nil {
		if err := r.sweeper.Start(); err != nil {
			return err
		}
	}
	return nil
}

// Recover enqueues every pending task in creation order and returns once
// all of them are queued. Processing tasks are left alone; if they are
// orphaned the sweeper fails them.
func (r *Runner) Recover(ctx context.Context) error {
	pending, err := r.store.GetPendingTasks(ctx)
	if err != nil {
		return fmt.Errorf("failed to get pending tasks: %w", err)
	}
	return r.requeue(ctx, pending)
}

func (r *Runner) requeue(ctx context.Context, pending []*domain.Task) error {
	r.logger.InfoContext(ctx, "recovering unfinished tasks", "pending_count", len(pending))

	for _, t := range pending {
		if err := r.queue.Enqueue(ctx, t); err != nil {
			if errors.Is(err, ErrQueueClosed) {
				return err
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.logger.ErrorContext(ctx, "failed to requeue pending task",
				"task_id", t.ID,
				"error", err)
		}
	}
	return nil
}

// Stop abandons recovery, stops the sweeper, closes the queue and waits for
// running tasks. Tasks still queued or not yet recovered stay pending in the
// store for the next start.
func (r *Runner) Stop(ctx context.Context) error {
	if r.cancelRecover != nil {
		r.cancelRecover()
	}
	r.wg.Wait()

	var errs []error
	if r.sweeper != nil {
		if err := r.sweeper.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	r.queue.Close()

	if err := r.pool.Stop(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
