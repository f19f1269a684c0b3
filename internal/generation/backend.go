package generation

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/phrazzld/imagery-api/internal/domain"
)

// Kind identifies a backend wire protocol.
type Kind string

// Supported backend kinds
const (
	KindStreaming Kind = "streaming"
	KindChat      Kind = "chat"
	KindGemini    Kind = "gemini"
)

const geminiHost = "generativelanguage.googleapis.com"

// KindForURL selects the wire protocol for a backend URL. Chat completion
// endpoints speak the chat protocol, the Gemini API host (or a gemini://
// URL) uses the native client, and everything else is treated as a
// streaming-progress endpoint.
func KindForURL(raw string) Kind {
	u, err := url.Parse(raw)
	if err != nil {
		return KindStreaming
	}
	if u.Scheme == "gemini" || strings.EqualFold(u.Hostname(), geminiHost) {
		return KindGemini
	}
	if strings.Contains(u.Path, "/chat/completions") {
		return KindChat
	}
	return KindStreaming
}

// Request is one image generation call.
type Request struct {
	// Model is the backend-side model name.
	Model       string
	Prompt      string
	AspectRatio string
	ImageSize   string
	// ReferenceImages are base64 data URIs; see ResolveImages.
	ReferenceImages []string
}

// Result holds the image URLs returned by a backend, in backend order.
type Result struct {
	URLs []string
}

// ProgressFunc receives progress reports from a backend. Percent is already
// expressed on the task's 0-100 scale.
type ProgressFunc func(ctx context.Context, percent int, message string)

// Backend generates images for a request.
type Backend interface {
	// Kind reports the wire protocol the backend speaks.
	Kind() Kind

	// Generate runs one generation and returns at least one URL or an error.
	// progress may be nil.
	Generate(ctx context.Context, req Request, progress ProgressFunc) (*Result, error)
}

// BuilderFunc builds a Backend for a model configuration.
type BuilderFunc func(model *domain.ModelConfig) (Backend, error)

// Factory builds the backend for a model from its backend URL.
type Factory struct {
	builders map[Kind]BuilderFunc
}

// FactoryConfig holds the settings shared by the HTTP backends.
type FactoryConfig struct {
	HTTPClient       *http.Client
	ProgressThrottle ThrottleConfig
	ChatMaxTokens    int
	ChatTemperature  float64
}

// NewFactory creates a Factory wired with the two HTTP protocols.
// Additional kinds are added with Register.
func NewFactory(cfg FactoryConfig) *Factory {
	client := cfg.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}

	f := &Factory{builders: make(map[Kind]BuilderFunc)}
	f.Register(KindStreaming, func(m *domain.ModelConfig) (Backend, error) {
		return NewStreamingBackend(m.BackendURL, m.APIKey, client, WithThrottle(cfg.ProgressThrottle)), nil
	})
	f.Register(KindChat, func(m *domain.ModelConfig) (Backend, error) {
		return NewChatBackend(m.BackendURL, m.APIKey, client, cfg.ChatMaxTokens, cfg.ChatTemperature), nil
	})
	return f
}

// Register installs the builder used for kind.
func (f *Factory) Register(kind Kind, build BuilderFunc) {
	f.builders[kind] = build
}

// For returns the backend that serves model.
func (f *Factory) For(model *domain.ModelConfig) (Backend, error) {
	if model.BackendURL == "" {
		return nil, fmt.Errorf("%w: model %s has no backend url", ErrInvalidConfig, model.ID)
	}
	kind := KindForURL(model.BackendURL)
	build, ok := f.builders[kind]
	if !ok {
		return nil, fmt.Errorf("%w: no backend registered for kind %q", ErrInvalidConfig, kind)
	}
	return build(model)
}
