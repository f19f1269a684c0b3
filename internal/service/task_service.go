package service

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"net/http"

	"github.com/disintegration/imaging"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/phrazzld/imagery-api/internal/domain"
	"github.com/phrazzld/imagery-api/internal/platform/logger"
	"github.com/phrazzld/imagery-api/internal/storage"
	"github.com/phrazzld/imagery-api/internal/store"
	"github.com/phrazzld/imagery-api/internal/tiling"
)

// Defaults applied to split requests.
const (
	DefaultSplitTaskMode = "edit"
	DefaultProcessMode   = "regenerate"

	// MaxSourceImageBytes bounds the parent image download.
	MaxSourceImageBytes = 50 << 20

	tilePrefix = "tiles"
)

// TaskEnqueuer hands stored pending tasks to the primary queue.
type TaskEnqueuer interface {
	Enqueue(ctx context.Context, t *domain.Task) error
}

// SubmitRequest describes a new generation.
type SubmitRequest struct {
	UserID          uuid.UUID `validate:"required"`
	ModelID         string    `validate:"required,max=128"`
	Mode            string    `validate:"max=32"`
	Prompt          string    `validate:"required,max=4000"`
	AspectRatio     string    `validate:"omitempty,max=16"`
	ImageSize       string    `validate:"omitempty,max=16"`
	ReferenceImages []string  `validate:"max=8,dive,required"`
}

// SplitRequest asks for a completed task's image to be cut into tiles, each
// regenerated as its own task.
type SplitRequest struct {
	UserID       uuid.UUID `validate:"required"`
	ParentTaskID uuid.UUID `validate:"required"`
	Rows         int       `validate:"required,min=1,max=8"`
	Cols         int       `validate:"required,min=1,max=8"`
	// TileMode is exact or inset. Empty means inset.
	TileMode tiling.Mode `validate:"omitempty,oneof=exact inset"`
	// InsetPercent nil uses the service default; zero disables the inset.
	InsetPercent *float64 `validate:"omitempty,gte=0,lt=50"`
	// Indices selects tiles in row-major order. Empty selects all.
	Indices []int `validate:"dive,gte=0"`

	// ModelID and Prompt default to the parent's.
	ModelID string `validate:"max=128"`
	Prompt  string `validate:"max=4000"`
	// TaskMode is the mode of the child tasks; defaults to DefaultSplitTaskMode.
	TaskMode    string   `validate:"max=32"`
	ProcessMode string   `validate:"max=32"`
	Tolerance   *float64 `validate:"omitempty,gte=0,lte=1"`
}

// SplitResult is the outcome of a split: one child task per selected tile.
type SplitResult struct {
	BatchGroupID uuid.UUID
	Tasks        []*domain.Task
}

// BatchProgress summarizes the children of one split.
type BatchProgress struct {
	BatchGroupID uuid.UUID `json:"batch_group_id"`
	Total        int       `json:"total"`
	Completed    int       `json:"completed"`
	Failed       int       `json:"failed"`
	// Progress is Completed/Total in [0, 1].
	Progress float64 `json:"progress"`
	// Done is true once every child is completed or failed.
	Done bool `json:"done"`
}

// TaskService defines the operations that create and track generation tasks.
type TaskService interface {
	// Submit charges the model's cost, stores a pending task and queues it.
	Submit(ctx context.Context, req SubmitRequest) (*domain.Task, error)

	// Split tiles a completed task's image and queues one child task per tile.
	Split(ctx context.Context, req SplitRequest) (*SplitResult, error)

	// BatchProgress reports how far the children of a split have come.
	BatchProgress(ctx context.Context, batchGroupID uuid.UUID) (*BatchProgress, error)
}

// taskServiceImpl implements the TaskService interface
type taskServiceImpl struct {
	tasks    store.TaskStore
	models   store.ModelStore
	ledger   store.PointsLedger
	queue    TaskEnqueuer
	uploader storage.Uploader
	client   *http.Client
	validate *validator.Validate
	logger   *slog.Logger

	defaultInset float64
}

// TaskServiceOption configures optional TaskService behaviour.
type TaskServiceOption func(*taskServiceImpl)

// WithDefaultInsetPercent sets the inset used by splits that do not name one.
func WithDefaultInsetPercent(pct float64) TaskServiceOption {
	return func(s *taskServiceImpl) {
		s.defaultInset = pct
	}
}

// NewTaskService creates a new TaskService.
// It returns an error if any required dependency is nil.
func NewTaskService(
	tasks store.TaskStore,
	models store.ModelStore,
	ledger store.PointsLedger,
	queue TaskEnqueuer,
	uploader storage.Uploader,
	client *http.Client,
	logger *slog.Logger,
	opts ...TaskServiceOption,
) (TaskService, error) {
	if tasks == nil || models == nil || ledger == nil || queue == nil || uploader == nil {
		return nil, errors.New("task service requires stores, ledger, queue and uploader")
	}
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &taskServiceImpl{
		tasks:        tasks,
		models:       models,
		ledger:       ledger,
		queue:        queue,
		uploader:     uploader,
		client:       client,
		validate:     validator.New(validator.WithRequiredStructEnabled()),
		logger:       logger.With(slog.String("component", "task_service")),
		defaultInset: tiling.DefaultInsetPercent,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Submit implements TaskService.Submit
func (s *taskServiceImpl) Submit(ctx context.Context, req SubmitRequest) (*domain.Task, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	model, err := s.activeModel(ctx, req.ModelID)
	if err != nil {
		return nil, err
	}

	t, err := domain.NewTask(req.UserID, model.ID, req.Mode, req.Prompt)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	t.AspectRatio = req.AspectRatio
	t.ImageSize = req.ImageSize
	t.ReferenceImages = append([]string(nil), req.ReferenceImages...)
	t.Cost = model.Cost

	if err := s.ledger.Deduct(ctx, t.UserID, t.Cost, "generation", t.ID.String()); err != nil {
		return nil, NewServiceError("submit", "failed to deduct points", err)
	}

	if err := s.tasks.Create(ctx, t); err != nil {
		s.giveBack(ctx, t.UserID, t.Cost, t.ID.String())
		return nil, NewServiceError("submit", "failed to store task", err)
	}

	if err := s.queue.Enqueue(ctx, t); err != nil {
		log.Warn("task stored but not queued",
			slog.String("task_id", t.ID.String()),
			slog.String("error", err.Error()))
		return nil, fmt.Errorf("%w: %w", ErrEnqueueFailed, err)
	}

	log.Info("task submitted",
		slog.String("task_id", t.ID.String()),
		slog.String("model_id", model.ID),
		slog.Int64("cost", t.Cost))
	return t, nil
}

// Split implements TaskService.Split
func (s *taskServiceImpl) Split(ctx context.Context, req SplitRequest) (*SplitResult, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	parent, err := s.tasks.GetByID(ctx, req.ParentTaskID)
	if err != nil {
		return nil, NewServiceError("split", "failed to load parent task", err)
	}
	if parent.UserID != req.UserID {
		return nil, ErrNotOwned
	}
	if parent.Status != domain.TaskStatusCompleted || len(parent.ResultURLs) == 0 {
		return nil, ErrParentNotCompleted
	}

	modelID := req.ModelID
	if modelID == "" {
		modelID = parent.ModelID
	}
	model, err := s.activeModel(ctx, modelID)
	if err != nil {
		return nil, err
	}

	img, err := s.fetchImage(ctx, parent.ResultURLs[0])
	if err != nil {
		return nil, NewServiceError("split", "failed to fetch parent image", err)
	}

	inset := s.defaultInset
	if req.InsetPercent != nil {
		inset = *req.InsetPercent
	}
	opts := tiling.Options{
		Rows:         req.Rows,
		Cols:         req.Cols,
		Mode:         req.TileMode,
		InsetPercent: inset,
	}
	b := img.Bounds()
	tiles, err := tiling.Plan(b.Dx(), b.Dy(), opts, req.Indices)
	if err != nil {
		return nil, NewServiceError("split", "failed to plan tiles", err)
	}

	groupID := uuid.New()
	refs := make([]string, len(tiles))
	for i, tile := range tiles {
		data, err := tiling.EncodePNG(tiling.Crop(img, tile))
		if err != nil {
			return nil, NewServiceError("split", "failed to encode tile", err)
		}
		key := storage.Key(tilePrefix+"/"+groupID.String(), data, ".png")
		url, err := s.uploader.Upload(ctx, data, key, "image/png")
		if err != nil {
			return nil, NewServiceError("split", fmt.Sprintf("failed to upload tile %d", tile.Index), err)
		}
		refs[i] = url
	}

	children := make([]*domain.Task, len(tiles))
	for i, tile := range tiles {
		child, err := s.childTask(parent, model, req, groupID, tile.Index, refs[i])
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
		}
		children[i] = child
	}

	total := model.Cost * int64(len(children))
	if err := s.ledger.Deduct(ctx, req.UserID, total, "split", groupID.String()); err != nil {
		return nil, NewServiceError("split", "failed to deduct points", err)
	}

	for i, child := range children {
		if err := s.tasks.Create(ctx, child); err != nil {
			remaining := model.Cost * int64(len(children)-i)
			s.giveBack(ctx, req.UserID, remaining, groupID.String()+":unstored")
			return nil, NewServiceError("split", "failed to store child task", err)
		}
	}

	for _, child := range children {
		if err := s.queue.Enqueue(ctx, child); err != nil {
			log.Warn("child task stored but not queued",
				slog.String("task_id", child.ID.String()),
				slog.String("batch_group_id", groupID.String()),
				slog.String("error", err.Error()))
			return nil, fmt.Errorf("%w: %w", ErrEnqueueFailed, err)
		}
	}

	log.Info("task split",
		slog.String("parent_task_id", parent.ID.String()),
		slog.String("batch_group_id", groupID.String()),
		slog.Int("tiles", len(children)))

	return &SplitResult{BatchGroupID: groupID, Tasks: children}, nil
}

// BatchProgress implements TaskService.BatchProgress
func (s *taskServiceImpl) BatchProgress(ctx context.Context, batchGroupID uuid.UUID) (*BatchProgress, error) {
	tasks, err := s.tasks.GetByBatchGroup(ctx, batchGroupID)
	if err != nil {
		return nil, NewServiceError("batch_progress", "failed to load batch", err)
	}
	if len(tasks) == 0 {
		return nil, ErrBatchNotFound
	}

	p := &BatchProgress{BatchGroupID: batchGroupID, Total: len(tasks)}
	finished := 0
	for _, t := range tasks {
		switch t.Status {
		case domain.TaskStatusCompleted:
			p.Completed++
		case domain.TaskStatusFailed:
			p.Failed++
		}
		if t.Status.IsTerminal() {
			finished++
		}
	}
	p.Progress = float64(p.Completed) / float64(p.Total)
	p.Done = finished == p.Total
	return p, nil
}

func (s *taskServiceImpl) activeModel(ctx context.Context, id string) (*domain.ModelConfig, error) {
	model, err := s.models.GetByID(ctx, id)
	if err != nil {
		return nil, NewServiceError("model_lookup", "failed to load model", err)
	}
	if !model.Active {
		return nil, ErrModelInactive
	}
	return model, nil
}

func (s *taskServiceImpl) childTask(
	parent *domain.Task,
	model *domain.ModelConfig,
	req SplitRequest,
	groupID uuid.UUID,
	index int,
	ref string,
) (*domain.Task, error) {
	mode := req.TaskMode
	if mode == "" {
		mode = DefaultSplitTaskMode
	}
	prompt := req.Prompt
	if prompt == "" {
		prompt = parent.Prompt
	}
	processMode := req.ProcessMode
	if processMode == "" {
		processMode = DefaultProcessMode
	}

	child, err := domain.NewTask(parent.UserID, model.ID, mode, prompt)
	if err != nil {
		return nil, err
	}

	parentID := parent.ID
	splitIndex := index
	child.ImageSize = parent.ImageSize
	child.ReferenceImages = []string{ref}
	child.Cost = model.Cost
	child.ParentTaskID = &parentID
	child.SplitIndex = &splitIndex
	child.BatchGroupID = &groupID
	child.ProcessMode = processMode
	if req.Tolerance != nil {
		tolerance := *req.Tolerance
		child.Tolerance = &tolerance
	}
	return child, nil
}

// giveBack refunds points charged for work that was never recorded.
func (s *taskServiceImpl) giveBack(ctx context.Context, userID uuid.UUID, amount int64, reference string) {
	if amount <= 0 {
		return
	}
	log := logger.FromContextOrDefault(ctx, s.logger)

	if _, err := s.ledger.Refund(context.WithoutCancel(ctx), userID, amount, "not stored", reference); err != nil {
		log.Error("failed to return points",
			slog.String("user_id", userID.String()),
			slog.Int64("amount", amount),
			slog.String("reference", reference),
			slog.String("error", err.Error()))
	}
}

func (s *taskServiceImpl) fetchImage(ctx context.Context, url string) (image.Image, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download image: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d downloading image", resp.StatusCode)
	}

	img, err := imaging.Decode(io.LimitReader(resp.Body, MaxSourceImageBytes), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	return img, nil
}
