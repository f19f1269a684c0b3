package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"strings"
	"time"

	"github.com/phrazzld/imagery-api/internal/domain"
	"github.com/phrazzld/imagery-api/internal/generation"
	"github.com/phrazzld/imagery-api/internal/storage"
	"google.golang.org/genai"
)

// ErrContentBlocked is returned when Gemini refuses the prompt.
var ErrContentBlocked = errors.New("content blocked by safety filters")

// ContentGenerator is the subset of the genai Models service the backend uses.
type ContentGenerator interface {
	GenerateContent(
		ctx context.Context,
		model string,
		contents []*genai.Content,
		config *genai.GenerateContentConfig,
	) (*genai.GenerateContentResponse, error)
}

// Config holds retry settings for the backend.
type Config struct {
	MaxRetries int
	BaseDelay  time.Duration
}

// DefaultConfig returns three retries starting at one second.
func DefaultConfig() Config {
	return Config{MaxRetries: 3, BaseDelay: time.Second}
}

// Backend implements generation.Backend on the native Gemini API. Returned
// inline images are uploaded through the Uploader and their URLs returned.
type Backend struct {
	models   ContentGenerator
	model    string
	uploader storage.Uploader
	config   Config
	logger   *slog.Logger
	sleep    func(ctx context.Context, d time.Duration) error
}

// NewBackend creates a backend for the given remote model name.
func NewBackend(models ContentGenerator, model string, uploader storage.Uploader, config Config, logger *slog.Logger) *Backend {
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	if config.BaseDelay <= 0 {
		config.BaseDelay = time.Second
	}
	return &Backend{
		models:   models,
		model:    model,
		uploader: uploader,
		config:   config,
		logger:   logger.With("component", "gemini_backend", "model", model),
		sleep:    sleepContext,
	}
}

// NewClient creates a genai client for the Gemini API.
func NewClient(ctx context.Context, apiKey string) (*genai.Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: gemini API key cannot be empty", generation.ErrInvalidConfig)
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", generation.ErrInvalidConfig, err)
	}
	return client, nil
}

// Builder returns a generation.BuilderFunc creating backends that share client.
// A model's own API key is not used; the client carries the credentials.
func Builder(client *genai.Client, uploader storage.Uploader, config Config, logger *slog.Logger) generation.BuilderFunc {
	return func(m *domain.ModelConfig) (generation.Backend, error) {
		return NewBackend(client.Models, ModelName(m), uploader, config, logger), nil
	}
}

// ModelName resolves the Gemini model for a configuration: the remote model
// name if set, otherwise the host of a gemini:// backend URL.
func ModelName(m *domain.ModelConfig) string {
	if m.RemoteModel != "" {
		return m.RemoteModel
	}
	if rest, ok := strings.CutPrefix(m.BackendURL, "gemini://"); ok && rest != "" {
		return strings.Trim(rest, "/")
	}
	return m.ID
}

// Kind implements generation.Backend.
func (b *Backend) Kind() generation.Kind {
	return generation.KindGemini
}

// Generate implements generation.Backend.
func (b *Backend) Generate(
	ctx context.Context,
	req generation.Request,
	progress generation.ProgressFunc,
) (*generation.Result, error) {
	contents, err := buildContents(req)
	if err != nil {
		return nil, err
	}
	config := &genai.GenerateContentConfig{
		ResponseModalities: []string{"TEXT", "IMAGE"},
	}

	report(ctx, progress, 5)

	resp, err := b.generateWithRetry(ctx, contents, config)
	if err != nil {
		return nil, err
	}

	report(ctx, progress, 90)

	images, text, err := extractImages(resp)
	if err != nil {
		return nil, err
	}
	if len(images) == 0 {
		if text != "" {
			return nil, fmt.Errorf("%w: model answered with text only: %s", generation.ErrNoImage, truncate(text, 200))
		}
		return nil, generation.ErrNoImage
	}

	urls := make([]string, 0, len(images))
	for _, img := range images {
		key := storage.Key("generated", img.Data, storage.ExtensionFor(img.MIMEType))
		url, err := b.uploader.Upload(ctx, img.Data, key, img.MIMEType)
		if err != nil {
			return nil, fmt.Errorf("failed to upload generated image: %w", err)
		}
		urls = append(urls, url)
	}

	return &generation.Result{URLs: urls}, nil
}

// generateWithRetry calls the API with exponential backoff and jitter.
// Blocked or empty responses are permanent and returned immediately.
func (b *Backend) generateWithRetry(
	ctx context.Context,
	contents []*genai.Content,
	config *genai.GenerateContentConfig,
) (*genai.GenerateContentResponse, error) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	var lastErr error
	for attempt := 0; attempt <= b.config.MaxRetries; attempt++ {
		b.logger.DebugContext(ctx, "calling gemini",
			"attempt", attempt+1,
			"max_attempts", b.config.MaxRetries+1)

		resp, err := b.models.GenerateContent(ctx, b.model, contents, config)
		if err == nil {
			return resp, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		lastErr = err
		b.logger.WarnContext(ctx, "gemini call failed",
			"attempt", attempt+1,
			"error", err)

		if attempt == b.config.MaxRetries {
			break
		}

		backoff := float64(b.config.BaseDelay) * math.Pow(2, float64(attempt))
		delay := time.Duration(backoff * (0.5 + rng.Float64()*0.5))
		if err := b.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}

	return nil, fmt.Errorf("%w: gemini call failed after %d attempts: %v",
		generation.ErrGenerationFailed, b.config.MaxRetries+1, lastErr)
}

func buildContents(req generation.Request) ([]*genai.Content, error) {
	prompt := req.Prompt
	if req.AspectRatio != "" {
		prompt = fmt.Sprintf("%s\n\nAspect ratio: %s", prompt, req.AspectRatio)
	}

	parts := []*genai.Part{genai.NewPartFromText(prompt)}
	for _, ref := range req.ReferenceImages {
		mime, data, err := generation.DecodeDataURI(ref)
		if err != nil {
			return nil, err
		}
		parts = append(parts, genai.NewPartFromBytes(data, mime))
	}

	return []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}, nil
}

// extractImages returns the inline images and concatenated text of the first
// candidate.
func extractImages(resp *genai.GenerateContentResponse) ([]*genai.Blob, string, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		if resp != nil && resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
			return nil, "", fmt.Errorf("%w: %w: %s",
				generation.ErrGenerationFailed, ErrContentBlocked, resp.PromptFeedback.BlockReason)
		}
		return nil, "", fmt.Errorf("%w: empty response", generation.ErrNoImage)
	}

	candidate := resp.Candidates[0]
	if candidate.FinishReason == genai.FinishReasonSafety || candidate.FinishReason == genai.FinishReasonProhibitedContent {
		return nil, "", fmt.Errorf("%w: %w", generation.ErrGenerationFailed, ErrContentBlocked)
	}
	if candidate.Content == nil {
		return nil, "", fmt.Errorf("%w: candidate has no content", generation.ErrNoImage)
	}

	var (
		images []*genai.Blob
		text   strings.Builder
	)
	for _, part := range candidate.Content.Parts {
		if part == nil {
			continue
		}
		if part.InlineData != nil && len(part.InlineData.Data) > 0 {
			images = append(images, part.InlineData)
		}
		text.WriteString(part.Text)
	}
	return images, strings.TrimSpace(text.String()), nil
}

func report(ctx context.Context, progress generation.ProgressFunc, percent int) {
	if progress != nil {
		progress(ctx, generation.ScaleProgress(percent), generation.PhaseMessage(percent))
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
