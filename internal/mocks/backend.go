package mocks

import (
	"context"
	"sync"

	"github.com/phrazzld/imagery-api/internal/domain"
	"github.com/phrazzld/imagery-api/internal/generation"
)

// Backend is a scripted generation.Backend.
type Backend struct {
	// GenerateFn runs instead of the scripted result when set.
	GenerateFn func(ctx context.Context, req generation.Request, progress generation.ProgressFunc) (*generation.Result, error)

	// Progress values reported before returning.
	Progress []int
	URLs     []string
	Err      error

	mu       sync.Mutex
	requests []generation.Request
}

var _ generation.Backend = (*Backend)(nil)

// Kind implements generation.Backend.
func (b *Backend) Kind() generation.Kind {
	return generation.KindStreaming
}

// Generate implements generation.Backend.
func (b *Backend) Generate(ctx context.Context, req generation.Request, progress generation.ProgressFunc) (*generation.Result, error) {
	b.mu.Lock()
	b.requests = append(b.requests, req)
	b.mu.Unlock()

	if b.GenerateFn != nil {
		return b.GenerateFn(ctx, req, progress)
	}
	for _, p := range b.Progress {
		if progress != nil {
			progress(ctx, generation.ScaleProgress(p), generation.PhaseMessage(p))
		}
	}
	if b.Err != nil {
		return nil, b.Err
	}
	return &generation.Result{URLs: append([]string(nil), b.URLs...)}, nil
}

// Requests returns the requests received so far.
func (b *Backend) Requests() []generation.Request {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]generation.Request(nil), b.requests...)
}

// BackendResolver returns the same backend for every model.
type BackendResolver struct {
	Backend generation.Backend
	Err     error
}

// For returns the configured backend.
func (r *BackendResolver) For(_ *domain.ModelConfig) (generation.Backend, error) {
	if r.Err != nil {
		return nil, r.Err
	}
	return r.Backend, nil
}
