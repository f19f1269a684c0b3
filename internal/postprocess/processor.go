package postprocess

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path"
	"path/filepath"

	"github.com/phrazzld/imagery-api/internal/domain"
	"github.com/phrazzld/imagery-api/internal/store"
	"github.com/phrazzld/imagery-api/internal/storage"
)

// MaxSourceSize bounds a downloaded source image.
const MaxSourceSize = 50 << 20

// Outcome describes what happened to a job.
type Outcome string

// Possible job outcomes
const (
	// OutcomeUploaded means the durable URLs replaced the backend's URLs.
	OutcomeUploaded Outcome = "uploaded"
	// OutcomeSkipped means the task no longer held the job's source result.
	OutcomeSkipped Outcome = "skipped"
	// OutcomeConflict means another writer advanced the URL version first.
	OutcomeConflict Outcome = "conflict"
	// OutcomeError means the job failed and the task keeps its original URLs.
	OutcomeError Outcome = "error"
)

// Processor runs one post-processing job at a time.
type Processor struct {
	tasks    store.TaskStore
	history  store.HistoryStore
	uploader storage.Uploader
	encoder  *Encoder
	client   *http.Client
	tempDir  string
	logger   *slog.Logger
}

// NewProcessor creates a Processor. An empty tempDir uses the OS default.
func NewProcessor(
	tasks store.TaskStore,
	history store.HistoryStore,
	uploader storage.Uploader,
	encoder *Encoder,
	client *http.Client,
	tempDir string,
	logger *slog.Logger,
) *Processor {
	if client == nil {
		client = http.DefaultClient
	}
	return &Processor{
		tasks:    tasks,
		history:  history,
		uploader: uploader,
		encoder:  encoder,
		client:   client,
		tempDir:  tempDir,
		logger:   logger.With("component", "postprocess"),
	}
}

// Process makes the job's images durable and swaps them into the task if
// its URL version is unchanged. Temporary files are removed on every path.
func (p *Processor) Process(ctx context.Context, job Job) (Outcome, error) {
	log := p.logger.With("task_id", job.TaskID)

	t, err := p.tasks.GetByID(ctx, job.TaskID)
	if err != nil {
		return OutcomeError, fmt.Errorf("failed to load task: %w", err)
	}
	expectedVersion := t.URLVersion

	if t.Status != domain.TaskStatusCompleted || t.PrimaryResultURL() != job.SourceURL {
		log.InfoContext(ctx, "task result changed since job was queued, skipping",
			"status", t.Status,
			"url_version", expectedVersion)
		return OutcomeSkipped, nil
	}

	workDir, err := os.MkdirTemp(p.tempDir, "postprocess-*")
	if err != nil {
		return OutcomeError, fmt.Errorf("failed to create work directory: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(workDir); err != nil {
			log.WarnContext(ctx, "failed to remove work directory", "dir", workDir, "error", err)
		}
	}()

	prefix := path.Join("results", job.TaskID.String())
	urls := make([]string, 0, len(job.URLs))
	var thumbnailURL string

	for i, src := range job.URLs {
		local := filepath.Join(workDir, fmt.Sprintf("source-%d", i))
		if err := p.download(ctx, src, local); err != nil {
			return OutcomeError, err
		}

		img, err := p.encoder.Open(local)
		if err != nil {
			return OutcomeError, err
		}

		compressed, err := p.encoder.Compress(img)
		if err != nil {
			return OutcomeError, err
		}
		url, err := p.uploader.Upload(ctx, compressed, storage.Key(prefix, compressed, ".jpg"), "image/jpeg")
		if err != nil {
			return OutcomeError, fmt.Errorf("failed to upload image %d: %w", i, err)
		}
		urls = append(urls, url)

		if i == 0 {
			thumb, err := p.encoder.Thumbnail(img)
			if err != nil {
				return OutcomeError, err
			}
			thumbnailURL, err = p.uploader.Upload(ctx, thumb, storage.Key(path.Join(prefix, "thumb"), thumb, ".jpg"), "image/jpeg")
			if err != nil {
				return OutcomeError, fmt.Errorf("failed to upload thumbnail: %w", err)
			}
		}
	}

	applied, err := p.tasks.ConditionalUpdateResult(ctx, job.TaskID, urls, thumbnailURL, expectedVersion)
	if err != nil {
		return OutcomeError, fmt.Errorf("failed to update task result: %w", err)
	}
	if !applied {
		log.WarnContext(ctx, "task url version advanced concurrently, discarding upload",
			"expected_version", expectedVersion)
		return OutcomeConflict, nil
	}

	if err := p.history.UpdateResult(ctx, job.TaskID, urls, thumbnailURL); err != nil {
		if errors.Is(err, store.ErrHistoryNotFound) {
			log.WarnContext(ctx, "no history record for task")
		} else {
			log.ErrorContext(ctx, "failed to update history record", "error", err)
		}
	}

	log.InfoContext(ctx, "task images uploaded",
		"image_count", len(urls),
		"url_version", expectedVersion+1)
	return OutcomeUploaded, nil
}

// download streams url into the file at dst.
func (p *Processor) download(ctx context.Context, url, dst string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("invalid source url: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to download source image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("failed to download source image: status %d", resp.StatusCode)
	}

	f, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	n, copyErr := io.Copy(f, io.LimitReader(resp.Body, MaxSourceSize+1))
	closeErr := f.Close()
	if copyErr != nil {
		return fmt.Errorf("failed to save source image: %w", copyErr)
	}
	if closeErr != nil {
		return fmt.Errorf("failed to save source image: %w", closeErr)
	}
	if n > MaxSourceSize {
		return fmt.Errorf("source image larger than %d bytes", MaxSourceSize)
	}
	return nil
}
