package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/phrazzld/imagery-api/internal/domain"
	"github.com/phrazzld/imagery-api/internal/generation"
	"github.com/phrazzld/imagery-api/internal/platform/logger"
	"github.com/phrazzld/imagery-api/internal/platform/metrics"
	"github.com/phrazzld/imagery-api/internal/postprocess"
	"github.com/phrazzld/imagery-api/internal/redact"
	"github.com/phrazzld/imagery-api/internal/store"
)

// Fixed progress checkpoints owned by the executor.
const (
	ProgressPreparing = 10
	ProgressSaving    = 80
)

// DefaultGenerationTimeout bounds a backend call when none is configured.
const DefaultGenerationTimeout = 10 * time.Minute

// BackendResolver returns the backend serving a model.
type BackendResolver interface {
	For(model *domain.ModelConfig) (generation.Backend, error)
}

// JobEnqueuer accepts post-processing jobs.
type JobEnqueuer interface {
	Enqueue(ctx context.Context, job postprocess.Job) error
}

// ExecutorConfig holds executor settings.
type ExecutorConfig struct {
	// GenerationTimeout is the wall-clock deadline of one backend call.
	GenerationTimeout time.Duration
}

// Executor runs a single claimed task to completion or failure.
type Executor struct {
	tasks    store.TaskStore
	models   store.ModelStore
	history  store.HistoryStore
	backends BackendResolver
	refunder *Refunder
	post     JobEnqueuer
	client   *http.Client
	timeout  time.Duration
	logger   *slog.Logger
}

// NewExecutor creates an Executor. client is used to download reference images.
func NewExecutor(
	tasks store.TaskStore,
	models store.ModelStore,
	history store.HistoryStore,
	backends BackendResolver,
	refunder *Refunder,
	post JobEnqueuer,
	client *http.Client,
	config ExecutorConfig,
	logger *slog.Logger,
) *Executor {
	timeout := config.GenerationTimeout
	if timeout <= 0 {
		timeout = DefaultGenerationTimeout
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &Executor{
		tasks:    tasks,
		models:   models,
		history:  history,
		backends: backends,
		refunder: refunder,
		post:     post,
		client:   client,
		timeout:  timeout,
		logger:   logger.With("component", "executor"),
	}
}

// Execute runs t, which must already be processing. Any error, including a
// panic, marks the task failed and refunds it before being returned.
func (e *Executor) Execute(ctx context.Context, t *domain.Task) (err error) {
	log := e.logger.With("task_id", t.ID, "model_id", t.ModelID)
	ctx = logger.WithContext(ctx, log)

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrTaskPanicked, r)
		}
		if err != nil {
			e.fail(ctx, t, err)
		}
	}()

	return e.run(ctx, t)
}

func (e *Executor) run(ctx context.Context, t *domain.Task) error {
	log := logger.FromContext(ctx)

	model, err := e.models.GetByID(ctx, t.ModelID)
	if err != nil {
		if store.IsNotFoundError(err) {
			return fmt.Errorf("%w: %s", ErrModelNotFound, t.ModelID)
		}
		return fmt.Errorf("failed to load model configuration: %w", err)
	}
	if !model.Active {
		return fmt.Errorf("%w: %s", ErrModelInactive, t.ModelID)
	}

	e.progress(ctx, t, ProgressPreparing, "preparing")

	backend, err := e.backends.For(model)
	if err != nil {
		return err
	}

	refs, err := generation.ResolveImages(ctx, e.client, t.ReferenceImages)
	if err != nil {
		return err
	}

	log.InfoContext(ctx, "calling generation backend", "backend", backend.Kind())
	result, err := e.generate(ctx, backend, generation.Request{
		Model:           model.RequestModel(),
		Prompt:          t.Prompt,
		AspectRatio:     t.AspectRatio,
		ImageSize:       t.ImageSize,
		ReferenceImages: refs,
	}, t)
	if err != nil {
		return err
	}

	e.progress(ctx, t, ProgressSaving, "saving")

	primary := result.URLs[0]
	completed, err := e.tasks.MarkCompleted(ctx, t.ID, result.URLs, primary)
	if err != nil {
		return fmt.Errorf("failed to mark task completed: %w", err)
	}
	metrics.TaskFinished(string(domain.TaskStatusCompleted))
	log.InfoContext(ctx, "task completed", "image_count", len(result.URLs))

	if err := e.history.Create(ctx, domain.NewHistoryRecord(completed, result.URLs, primary)); err != nil {
		if store.IsDuplicateError(err) {
			log.WarnContext(ctx, "history record already exists", "error", err)
		} else {
			log.ErrorContext(ctx, "failed to create history record", "error", err)
		}
	}

	if err := e.post.Enqueue(ctx, postprocess.NewJob(t.ID, result.URLs)); err != nil {
		// The task is already complete; it keeps the backend's URLs.
		log.WarnContext(ctx, "failed to enqueue post-processing job", "error", err)
	}
	return nil
}

// generate calls the backend under the generation deadline.
func (e *Executor) generate(
	ctx context.Context,
	backend generation.Backend,
	req generation.Request,
	t *domain.Task,
) (*generation.Result, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	start := time.Now()
	result, err := backend.Generate(callCtx, req, func(ctx context.Context, percent int, message string) {
		e.progress(ctx, t, percent, message)
	})
	metrics.ObserveGeneration(string(backend.Kind()), err, time.Since(start))

	// A result delivered as the deadline fires still counts.
	if err == nil && result != nil && len(result.URLs) > 0 {
		return result, nil
	}
	if errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return nil, fmt.Errorf("%w after %s", generation.ErrTimeout, e.timeout)
	}
	if err != nil {
		return nil, err
	}
	return nil, generation.ErrNoImage
}

func (e *Executor) progress(ctx context.Context, t *domain.Task, percent int, message string) {
	if err := e.tasks.UpdateProgress(ctx, t.ID, percent, message); err != nil {
		logger.FromContext(ctx).WarnContext(ctx, "failed to update progress",
			"percent", percent,
			"error", err)
	}
}

// fail marks t failed with a redacted message and refunds it when this call
// performed the transition. A task already moved on by another path (such
// as the sweeper) is left alone.
func (e *Executor) fail(ctx context.Context, t *domain.Task, cause error) {
	log := logger.FromContext(ctx)
	// A cancelled parent must not stop the task from being recorded as failed.
	ctx = context.WithoutCancel(ctx)

	msg := redact.Message(cause, redact.DefaultMaxLength)
	log.ErrorContext(ctx, "task execution failed", "error", msg)

	if err := e.tasks.UpdateStatus(ctx, t.ID, domain.TaskStatusFailed, msg); err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			log.WarnContext(ctx, "task already left processing, not marking failed")
		} else {
			log.ErrorContext(ctx, "failed to mark task failed", "error", err)
		}
		return
	}
	metrics.TaskFinished(string(domain.TaskStatusFailed))

	failed := t.Clone()
	failed.Status = domain.TaskStatusFailed
	if _, err := e.refunder.Refund(ctx, failed, RefundSourceWorker); err != nil {
		log.ErrorContext(ctx, "refund failed, reconciliation will retry", "error", err)
	}
}
