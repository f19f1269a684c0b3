package postprocess

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/phrazzld/imagery-api/internal/platform/metrics"
)

// JobTimeout bounds the processing of a single job.
const JobTimeout = 5 * time.Minute

// JobProcessor handles a single job.
type JobProcessor interface {
	Process(ctx context.Context, job Job) (Outcome, error)
}

// Pool runs a fixed number of workers draining the post-processing queue.
type Pool struct {
	queue       *Queue
	processor   JobProcessor
	workerCount int
	wg          sync.WaitGroup
	ctx         context.Context
	cancel      context.CancelFunc
	logger      *slog.Logger
}

// NewPool creates a pool of workerCount workers. Non-positive counts become 1.
func NewPool(queue *Queue, processor JobProcessor, workerCount int, logger *slog.Logger) *Pool {
	if workerCount <= 0 {
		logger.Warn("invalid worker count specified, using default",
			"specified_count", workerCount,
			"default_count", 1)
		workerCount = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		queue:       queue,
		processor:   processor,
		workerCount: workerCount,
		ctx:         ctx,
		cancel:      cancel,
		logger:      logger.With("component", "postprocess_pool"),
	}
}

// Start launches the workers.
func (p *Pool) Start() {
	p.logger.Info("starting post-processing workers", "worker_count", p.workerCount)
	for i := 0; i < p.workerCount; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
}

// Stop stops dequeuing and waits for in-flight jobs until ctx ends.
func (p *Pool) Stop(ctx context.Context) error {
	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("post-processing workers stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("post-processing workers did not stop in time: %w", ctx.Err())
	}
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()

	log := p.logger.With("worker_id", id)
	log.Debug("starting worker")

	for {
		job, ok := p.queue.Dequeue(p.ctx)
		if !ok {
			log.Debug("stopping worker")
			return
		}
		metrics.SetQueueDepth("postprocess", p.queue.Len())
		p.run(log, job)
	}
}

// run processes one job. In-flight jobs are not cancelled by Stop.
func (p *Pool) run(log *slog.Logger, job Job) {
	defer func() {
		if r := recover(); r != nil {
			metrics.PostProcessed(string(OutcomeError))
			log.Error("post-processing panicked", "task_id", job.TaskID, "panic", r)
		}
	}()

	ctx, cancel := context.WithTimeout(context.WithoutCancel(p.ctx), JobTimeout)
	defer cancel()

	outcome, err := p.processor.Process(ctx, job)
	metrics.PostProcessed(string(outcome))
	if err != nil {
		log.Error("post-processing failed, task keeps its original urls",
			"task_id", job.TaskID,
			"error", err)
	}
}
