package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/phrazzld/imagery-api/internal/config"
	"github.com/phrazzld/imagery-api/internal/generation"
	"github.com/phrazzld/imagery-api/internal/platform/gemini"
	"github.com/phrazzld/imagery-api/internal/platform/postgres"
	"github.com/phrazzld/imagery-api/internal/platform/redis"
	"github.com/phrazzld/imagery-api/internal/postprocess"
	"github.com/phrazzld/imagery-api/internal/service"
	"github.com/phrazzld/imagery-api/internal/storage"
	"github.com/phrazzld/imagery-api/internal/task"
)

// application holds the shared dependencies of the serve command so they
// can be started together and released in one place on shutdown.
type application struct {
	config *config.Config
	logger *slog.Logger
	db     *sql.DB

	uploader storage.Uploader
	localDir string

	runner      *task.Runner
	postPool    *postprocess.Pool
	taskService service.TaskService

	closers []func() error
}

// newApplication opens the database and builds the pipeline. On error every
// resource opened so far is released.
func newApplication(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *application, err error) {
	app := &application{config: cfg, logger: logger}
	defer func() {
		if err != nil {
			app.cleanup()
		}
	}()

	db, err := postgres.Open(ctx, cfg.Database.URL)
	if err != nil {
		return nil, err
	}
	app.db = db
	app.closers = append(app.closers, db.Close)

	if err := app.setupStorage(ctx); err != nil {
		return nil, err
	}

	httpClient := &http.Client{}
	tasks := postgres.NewPostgresTaskStore(db, logger)
	models := postgres.NewPostgresModelStore(db, logger)
	history := postgres.NewPostgresHistoryStore(db, logger)
	ledger := postgres.NewPostgresPointsLedger(db, logger)

	backends, err := app.setupBackends(ctx, httpClient)
	if err != nil {
		return nil, err
	}

	refunder := task.NewRefunder(tasks, ledger, logger)

	postQueue := postprocess.NewQueue(cfg.PostProcess.Capacity)
	encoder := postprocess.NewEncoder(postprocess.EncoderConfig{
		Quality:            cfg.PostProcess.Quality,
		ThumbnailQuality:   cfg.PostProcess.ThumbnailQuality,
		ThumbnailMaxWidth:  cfg.PostProcess.ThumbnailMaxWidth,
		ThumbnailMaxHeight: cfg.PostProcess.ThumbnailMaxHeight,
	})
	processor := postprocess.NewProcessor(tasks, history, app.uploader, encoder, httpClient, cfg.PostProcess.TempDir, logger)
	app.postPool = postprocess.NewPool(postQueue, processor, cfg.PostProcess.WorkerCount, logger)

	executor := task.NewExecutor(
		tasks,
		models,
		history,
		backends,
		refunder,
		postQueue,
		httpClient,
		task.ExecutorConfig{GenerationTimeout: cfg.Queue.GenerationTimeout()},
		logger,
	)
	queue := task.NewTaskQueue(cfg.Queue.Capacity, tasks, logger)
	pool := task.NewWorkerPool(queue, executor, task.WorkerPoolConfig{WorkerCount: cfg.Queue.WorkerCount}, logger)

	locker, err := app.setupLocker(ctx)
	if err != nil {
		return nil, err
	}
	sweeper := task.NewSweeper(tasks, refunder, locker, task.SweeperConfig{
		Interval:       cfg.Sweeper.Interval(),
		StuckThreshold: cfg.Sweeper.StuckThreshold(),
		ReconcileBatch: task.DefaultReconcileBatch,
	}, logger)
	app.runner = task.NewRunner(tasks, queue, pool, sweeper, logger)

	app.taskService, err = service.NewTaskService(
		tasks, models, ledger, queue, app.uploader, httpClient, logger,
		service.WithDefaultInsetPercent(cfg.Tiling.DefaultInsetPercent),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create task service: %w", err)
	}

	return app, nil
}

func (app *application) setupStorage(ctx context.Context) error {
	sc := app.config.Storage
	switch sc.Backend {
	case "gcs":
		u, err := storage.NewGCSUploader(ctx, sc.Bucket, sc.PublicBaseURL)
		if err != nil {
			return err
		}
		app.uploader = u
		app.closers = append(app.closers, u.Close)
	default:
		u, err := storage.NewLocalUploader(sc.LocalDir, sc.PublicBaseURL)
		if err != nil {
			return err
		}
		app.uploader = u
		app.localDir = u.Dir()
	}
	app.logger.Info("storage configured", slog.String("backend", sc.Backend))
	return nil
}

func (app *application) setupBackends(ctx context.Context, httpClient *http.Client) (*generation.Factory, error) {
	factory := generation.NewFactory(generation.FactoryConfig{
		HTTPClient: httpClient,
		ProgressThrottle: generation.ThrottleConfig{
			MinDelta:    app.config.Queue.ProgressMinDelta,
			MinInterval: app.config.Queue.ProgressMinInterval(),
		},
		ChatMaxTokens:   app.config.LLM.ChatMaxTokens,
		ChatTemperature: app.config.LLM.ChatTemperature,
	})

	if app.config.LLM.GeminiAPIKey == "" {
		app.logger.Info("gemini backend disabled, no API key configured")
		return factory, nil
	}
	client, err := gemini.NewClient(ctx, app.config.LLM.GeminiAPIKey)
	if err != nil {
		return nil, err
	}
	factory.Register(generation.KindGemini, gemini.Builder(client, app.uploader, gemini.DefaultConfig(), app.logger))
	return factory, nil
}

// setupLocker returns nil when Redis is not configured; the sweeper then
// runs unguarded.
func (app *application) setupLocker(ctx context.Context) (task.Locker, error) {
	rc := app.config.Redis
	if rc.Addr == "" {
		return nil, nil
	}
	cli, err := redis.NewClient(ctx, rc.Addr, rc.Password, rc.DB)
	if err != nil {
		return nil, err
	}
	app.closers = append(app.closers, cli.Close)
	return redis.NewLocker(cli), nil
}

// start launches the post-processing pool and the task runner.
func (app *application) start(ctx context.Context) error {
	app.postPool.Start()
	if err := app.runner.Start(ctx); err != nil {
		return fmt.Errorf("failed to start task runner: %w", err)
	}
	return nil
}

// stop drains the task runner, then the post-processing pool it feeds.
func (app *application) stop(ctx context.Context) error {
	var errs []error
	if app.runner != nil {
		if err := app.runner.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if app.postPool != nil {
		if err := app.postPool.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// cleanup releases resources in reverse order of acquisition.
func (app *application) cleanup() {
	for i := len(app.closers) - 1; i >= 0; i-- {
		if err := app.closers[i](); err != nil {
			app.logger.Error("failed to release resource", slog.String("error", err.Error()))
		}
	}
	app.closers = nil
}
