package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/imagery-api/internal/platform/logger"
	"github.com/phrazzld/imagery-api/internal/service"
)

type fakePinger struct {
	err error
}

func (p fakePinger) PingContext(context.Context) error {
	return p.err
}

// fakeBatches serves BatchProgress from a fixed map.
type fakeBatches struct {
	service.TaskService
	progress map[uuid.UUID]*service.BatchProgress
	err      error
}

func (f *fakeBatches) BatchProgress(_ context.Context, id uuid.UUID) (*service.BatchProgress, error) {
	if f.err != nil {
		return nil, f.err
	}
	p, ok := f.progress[id]
	if !ok {
		return nil, service.ErrBatchNotFound
	}
	return p, nil
}

func serve(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name       string
		pingErr    error
		wantStatus int
		wantBody   string
	}{
		{name: "database reachable", wantStatus: http.StatusOK, wantBody: "ok"},
		{name: "database down", pingErr: errors.New("connection refused"), wantStatus: http.StatusServiceUnavailable, wantBody: "unavailable"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := newRouter(routerDeps{db: fakePinger{err: tc.pingErr}, logger: logger.Discard()})

			rec := serve(t, h, "/health")

			assert.Equal(t, tc.wantStatus, rec.Code)
			var body map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tc.wantBody, body["status"])
			assert.NotEmpty(t, rec.Header().Get("Content-Type"))
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	h := newRouter(routerDeps{db: fakePinger{}, logger: logger.Discard()})

	rec := serve(t, h, "/metrics")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestBatchProgressEndpoint(t *testing.T) {
	known := uuid.New()
	batches := &fakeBatches{progress: map[uuid.UUID]*service.BatchProgress{
		known: {BatchGroupID: known, Total: 4, Completed: 2, Failed: 1, Progress: 0.5},
	}}
	h := newRouter(routerDeps{db: fakePinger{}, batches: batches, logger: logger.Discard()})

	t.Run("known batch", func(t *testing.T) {
		rec := serve(t, h, "/batches/"+known.String()+"/progress")

		require.Equal(t, http.StatusOK, rec.Code)
		var got service.BatchProgress
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.Equal(t, 4, got.Total)
		assert.Equal(t, 2, got.Completed)
		assert.InDelta(t, 0.5, got.Progress, 1e-9)
		assert.False(t, got.Done)
	})

	t.Run("unknown batch", func(t *testing.T) {
		rec := serve(t, h, "/batches/"+uuid.NewString()+"/progress")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("malformed id", func(t *testing.T) {
		rec := serve(t, h, "/batches/not-a-uuid/progress")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "invalid batch group ID")
	})

	t.Run("store failure", func(t *testing.T) {
		failing := newRouter(routerDeps{
			db:      fakePinger{},
			batches: &fakeBatches{err: errors.New("db down")},
			logger:  logger.Discard(),
		})
		rec := serve(t, failing, "/batches/"+known.String()+"/progress")
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})
}

func TestFilesServedFromLocalStorage(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "results"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "results", "a.png"), []byte("png-bytes"), 0o644))

	h := newRouter(routerDeps{db: fakePinger{}, filesDir: dir, logger: logger.Discard()})

	rec := serve(t, h, "/files/results/a.png")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "png-bytes", rec.Body.String())

	assert.Equal(t, http.StatusNotFound, serve(t, h, "/files/results/missing.png").Code)
}

func TestFilesRouteAbsentWithoutLocalStorage(t *testing.T) {
	h := newRouter(routerDeps{db: fakePinger{}, logger: logger.Discard()})
	assert.Equal(t, http.StatusNotFound, serve(t, h, "/files/a.png").Code)
}
