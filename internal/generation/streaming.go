package generation

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// StreamingBackend speaks the streaming-progress protocol: one JSON request,
// then a newline-delimited stream of progress events ending in either a
// result or a failure event.
type StreamingBackend struct {
	url      string
	apiKey   string
	client   *http.Client
	throttle ThrottleConfig
	now      func() time.Time
}

// StreamingOption configures a StreamingBackend.
type StreamingOption func(*StreamingBackend)

// WithThrottle sets the progress throttle. Zero fields keep their defaults.
func WithThrottle(cfg ThrottleConfig) StreamingOption {
	return func(b *StreamingBackend) {
		if cfg.MinDelta > 0 {
			b.throttle.MinDelta = cfg.MinDelta
		}
		if cfg.MinInterval > 0 {
			b.throttle.MinInterval = cfg.MinInterval
		}
	}
}

// WithClock replaces the clock used by the progress throttle.
func WithClock(now func() time.Time) StreamingOption {
	return func(b *StreamingBackend) {
		b.now = now
	}
}

// NewStreamingBackend creates a backend posting to url.
func NewStreamingBackend(url, apiKey string, client *http.Client, opts ...StreamingOption) *StreamingBackend {
	if client == nil {
		client = http.DefaultClient
	}
	b := &StreamingBackend{
		url:      url,
		apiKey:   apiKey,
		client:   client,
		throttle: DefaultThrottleConfig(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Kind implements Backend.
func (b *StreamingBackend) Kind() Kind {
	return KindStreaming
}

type streamingRequest struct {
	Model       string   `json:"model"`
	Prompt      string   `json:"prompt"`
	AspectRatio string   `json:"aspectRatio,omitempty"`
	ImageSize   string   `json:"imageSize,omitempty"`
	URLs        []string `json:"urls,omitempty"`
}

type streamingEvent struct {
	Progress *int   `json:"progress"`
	Status   string `json:"status"`
	Error    string `json:"error"`
	Results  []struct {
		URL string `json:"url"`
	} `json:"results"`
}

// Generate implements Backend.
func (b *StreamingBackend) Generate(ctx context.Context, req Request, progress ProgressFunc) (*Result, error) {
	resp, err := postJSON(ctx, b.client, b.url, b.apiKey, streamingRequest{
		Model:       req.Model,
		Prompt:      req.Prompt,
		AspectRatio: req.AspectRatio,
		ImageSize:   req.ImageSize,
		URLs:        req.ReferenceImages,
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	throttle := NewThrottle(b.throttle, b.now)
	var result *Result

	parsed, err := readStream(ctx, resp.Body, func(raw []byte) (bool, error) {
		var ev streamingEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			return false, nil
		}

		if ev.Status == "failed" {
			msg := ev.Error
			if msg == "" {
				msg = "backend reported failure"
			}
			return true, fmt.Errorf("%w: %s", ErrGenerationFailed, msg)
		}

		if len(ev.Results) > 0 {
			urls := make([]string, 0, len(ev.Results))
			for _, r := range ev.Results {
				if r.URL != "" {
					urls = append(urls, r.URL)
				}
			}
			if len(urls) > 0 {
				result = &Result{URLs: urls}
				return true, nil
			}
		}

		if ev.Progress != nil && progress != nil && throttle.Allow(*ev.Progress) {
			progress(ctx, ScaleProgress(*ev.Progress), PhaseMessage(*ev.Progress))
		}
		return false, nil
	})
	if err != nil {
		return nil, err
	}

	if result != nil {
		return result, nil
	}
	if parsed == 0 {
		return nil, ErrMalformedStream
	}
	return nil, fmt.Errorf("%w: stream ended without a result", ErrNoImage)
}
