package gemini

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/phrazzld/imagery-api/internal/domain"
	"github.com/phrazzld/imagery-api/internal/generation"
	"github.com/phrazzld/imagery-api/internal/platform/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

type fakeModels struct {
	mu        sync.Mutex
	responses []*genai.GenerateContentResponse
	errs      []error
	calls     int
	contents  []*genai.Content
	model     string
}

func (f *fakeModels) GenerateContent(
	_ context.Context,
	model string,
	contents []*genai.Content,
	_ *genai.GenerateContentConfig,
) (*genai.GenerateContentResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	i := f.calls
	f.calls++
	f.model = model
	f.contents = contents

	var err error
	if i < len(f.errs) {
		err = f.errs[i]
	}
	if err != nil {
		return nil, err
	}
	if i < len(f.responses) {
		return f.responses[i], nil
	}
	return f.responses[len(f.responses)-1], nil
}

type fakeUploader struct {
	keys []string
}

func (u *fakeUploader) Upload(_ context.Context, data []byte, key string, _ string) (string, error) {
	if len(data) == 0 {
		return "", errors.New("empty")
	}
	u.keys = append(u.keys, key)
	return "https://cdn.test/" + key, nil
}

func imageResponse(parts ...*genai.Part) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content:      &genai.Content{Role: "model", Parts: parts},
			FinishReason: genai.FinishReasonStop,
		}},
	}
}

func newTestBackend(models ContentGenerator, uploader *fakeUploader, retries int) *Backend {
	b := NewBackend(models, "gemini-image", uploader, Config{MaxRetries: retries, BaseDelay: time.Millisecond}, logger.Discard())
	b.sleep = func(context.Context, time.Duration) error { return nil }
	return b
}

func TestBackend_Generate(t *testing.T) {
	t.Parallel()

	models := &fakeModels{responses: []*genai.GenerateContentResponse{
		imageResponse(
			genai.NewPartFromText("here it is"),
			genai.NewPartFromBytes([]byte("png-1"), "image/png"),
			genai.NewPartFromBytes([]byte("png-2"), "image/png"),
		),
	}}
	uploader := &fakeUploader{}
	b := newTestBackend(models, uploader, 0)

	var percents []int
	res, err := b.Generate(context.Background(), generation.Request{
		Prompt:          "a red bicycle",
		AspectRatio:     "4:3",
		ReferenceImages: []string{generation.EncodeDataURI("image/jpeg", []byte("ref"))},
	}, func(_ context.Context, p int, _ string) { percents = append(percents, p) })

	require.NoError(t, err)
	require.Len(t, res.URLs, 2)
	assert.True(t, strings.HasPrefix(res.URLs[0], "https://cdn.test/generated/"))
	assert.True(t, strings.HasSuffix(res.URLs[0], ".png"))
	assert.NotEqual(t, res.URLs[0], res.URLs[1])
	assert.Equal(t, []int{generation.ScaleProgress(5), generation.ScaleProgress(90)}, percents)

	assert.Equal(t, "gemini-image", models.model)
	require.Len(t, models.contents, 1)
	parts := models.contents[0].Parts
	require.Len(t, parts, 2)
	assert.Contains(t, parts[0].Text, "a red bicycle")
	assert.Contains(t, parts[0].Text, "Aspect ratio: 4:3")
	require.NotNil(t, parts[1].InlineData)
	assert.Equal(t, []byte("ref"), parts[1].InlineData.Data)
	assert.Equal(t, generation.KindGemini, b.Kind())
}

func TestBackend_RetriesTransientErrors(t *testing.T) {
	t.Parallel()

	models := &fakeModels{
		errs: []error{errors.New("503 unavailable"), errors.New("503 unavailable")},
		responses: []*genai.GenerateContentResponse{
			nil, nil,
			imageResponse(genai.NewPartFromBytes([]byte("img"), "image/png")),
		},
	}
	b := newTestBackend(models, &fakeUploader{}, 3)

	res, err := b.Generate(context.Background(), generation.Request{Prompt: "p"}, nil)
	require.NoError(t, err)
	assert.Len(t, res.URLs, 1)
	assert.Equal(t, 3, models.calls)
}

func TestBackend_GivesUpAfterRetries(t *testing.T) {
	t.Parallel()

	models := &fakeModels{errs: []error{
		errors.New("boom"), errors.New("boom"), errors.New("boom"),
	}}
	b := newTestBackend(models, &fakeUploader{}, 2)

	_, err := b.Generate(context.Background(), generation.Request{Prompt: "p"}, nil)
	assert.ErrorIs(t, err, generation.ErrGenerationFailed)
	assert.Equal(t, 3, models.calls)
}

func TestBackend_PermanentFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		resp    *genai.GenerateContentResponse
		wantErr error
	}{
		{
			name:    "text only",
			resp:    imageResponse(genai.NewPartFromText("I can't draw that")),
			wantErr: generation.ErrNoImage,
		},
		{
			name: "safety finish",
			resp: &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{
				FinishReason: genai.FinishReasonSafety,
			}}},
			wantErr: ErrContentBlocked,
		},
		{
			name: "prompt blocked",
			resp: &genai.GenerateContentResponse{PromptFeedback: &genai.GenerateContentResponsePromptFeedback{
				BlockReason: genai.BlockedReasonSafety,
			}},
			wantErr: ErrContentBlocked,
		},
		{
			name:    "no candidates",
			resp:    &genai.GenerateContentResponse{},
			wantErr: generation.ErrNoImage,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			models := &fakeModels{responses: []*genai.GenerateContentResponse{tt.resp}}
			b := newTestBackend(models, &fakeUploader{}, 3)

			_, err := b.Generate(context.Background(), generation.Request{Prompt: "p"}, nil)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, 1, models.calls, "permanent failures are not retried")
		})
	}
}

func TestBackend_InvalidReference(t *testing.T) {
	t.Parallel()

	models := &fakeModels{}
	b := newTestBackend(models, &fakeUploader{}, 0)

	_, err := b.Generate(context.Background(), generation.Request{
		Prompt:          "p",
		ReferenceImages: []string{"https://not-resolved"},
	}, nil)
	assert.ErrorIs(t, err, generation.ErrInvalidImage)
	assert.Equal(t, 0, models.calls)
}

func TestModelName(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "remote", ModelName(&domain.ModelConfig{ID: "m", RemoteModel: "remote", BackendURL: "gemini://x"}))
	assert.Equal(t, "gemini-2.5-flash-image", ModelName(&domain.ModelConfig{ID: "m", BackendURL: "gemini://gemini-2.5-flash-image"}))
	assert.Equal(t, "m", ModelName(&domain.ModelConfig{ID: "m", BackendURL: "https://generativelanguage.googleapis.com"}))
}
