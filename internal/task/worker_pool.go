package task

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/phrazzld/imagery-api/internal/domain"
	"github.com/phrazzld/imagery-api/internal/redact"
)

// TaskExecutor runs a claimed task.
type TaskExecutor interface {
	Execute(ctx context.Context, t *domain.Task) error
}

// WorkerPoolConfig holds configuration options for the worker pool
type WorkerPoolConfig struct {
	// WorkerCount determines how many concurrent worker goroutines to start
	// If zero or negative, defaults to 1
	WorkerCount int
}

// DefaultWorkerPoolConfig returns a WorkerPoolConfig with reasonable defaults
func DefaultWorkerPoolConfig() WorkerPoolConfig {
	return WorkerPoolConfig{
		WorkerCount: 4,
	}
}

// WorkerPool manages a fixed set of workers that claim tasks from the
// primary queue and execute them. At most WorkerCount tasks run at once.
type WorkerPool struct {
	queue       *TaskQueue
	executor    TaskExecutor
	workerCount int

	// wg tracks active worker goroutines for clean shutdown
	wg sync.WaitGroup

	// ctx is cancelled by Stop; it stops dequeuing but not in-flight tasks.
	ctx    context.Context
	cancel context.CancelFunc

	logger *slog.Logger
}

// NewWorkerPool creates a new worker pool with the specified configuration
func NewWorkerPool(queue *TaskQueue, executor TaskExecutor, config WorkerPoolConfig, logger *slog.Logger) *WorkerPool {
	workerCount := config.WorkerCount
	if workerCount <= 0 {
		workerCount = 1
		logger.Warn("invalid worker count specified, using default",
			"specified_count", config.WorkerCount,
			"default_count", 1)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &WorkerPool{
		queue:       queue,
		executor:    executor,
		workerCount: workerCount,
		ctx:         ctx,
		cancel:      cancel,
		logger:      logger.With("component", "worker_pool"),
	}
}

// Start launches the worker goroutines.
func (p *WorkerPool) Start() {
	p.logger.Info("starting worker pool", "worker_count", p.workerCount)
	for i := 0; i < p.workerCount; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
}

// Stop stops claiming new tasks and waits for running ones to finish or
// for ctx to end, whichever comes first.
func (p *WorkerPool) Stop(ctx context.Context) error {
	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("workers did not stop in time: %w", ctx.Err())
	}
}

// WorkerCount returns the number of workers.
func (p *WorkerPool) WorkerCount() int {
	return p.workerCount
}

func (p *WorkerPool) worker(id int) {
	defer p.wg.Done()

	log := p.logger.With("worker_id", id)
	log.Debug("starting worker")

	for {
		t, ok := p.queue.DequeueAndMarkProcessing(p.ctx)
		if !ok {
			log.Debug("stopping worker")
			return
		}
		p.run(log, t)
	}
}

// run executes one task. A panic escaping the executor is logged and the
// worker carries on.
func (p *WorkerPool) run(log *slog.Logger, t *domain.Task) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("worker recovered from panic", "task_id", t.ID, "panic", r)
		}
	}()

	log.Info("processing task", "task_id", t.ID)
	if err := p.executor.Execute(context.WithoutCancel(p.ctx), t); err != nil {
		log.Warn("task failed", "task_id", t.ID, "error", redact.Error(err))
		return
	}
	log.Info("task finished", "task_id", t.ID)
}
