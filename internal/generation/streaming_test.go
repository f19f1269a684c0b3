package generation

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type progressRecorder struct {
	mu      sync.Mutex
	updates []int
	msgs    []string
}

func (r *progressRecorder) record(_ context.Context, percent int, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, percent)
	r.msgs = append(r.msgs, message)
}

func streamServer(t *testing.T, status int, lines ...string) (*httptest.Server, *streamingRequest) {
	t.Helper()

	var got streamingRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer secret-key", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.WriteHeader(status)
		for _, line := range lines {
			fmt.Fprintln(w, line)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &got
}

func TestStreamingBackend_Success(t *testing.T) {
	t.Parallel()

	srv, got := streamServer(t, http.StatusOK,
		`{"progress":12}`,
		`data: {"progress":40}`,
		`{"results":[{"url":"https://cdn.test/a.png"},{"url":"https://cdn.test/b.png"}]}`,
	)

	base := time.Now()
	backend := NewStreamingBackend(srv.URL, "secret-key", srv.Client(),
		WithClock(steppedClock(base, base.Add(3*time.Second))))

	rec := &progressRecorder{}
	res, err := backend.Generate(context.Background(), Request{
		Model:           "sketch-v2",
		Prompt:          "a lighthouse at dusk",
		AspectRatio:     "16:9",
		ReferenceImages: []string{"data:image/png;base64,AAAA"},
	}, rec.record)

	require.NoError(t, err)
	assert.Equal(t, []string{"https://cdn.test/a.png", "https://cdn.test/b.png"}, res.URLs)
	assert.Equal(t, []int{ScaleProgress(12), ScaleProgress(40)}, rec.updates)
	assert.Equal(t, []string{"network working", "sketching"}, rec.msgs)

	assert.Equal(t, "sketch-v2", got.Model)
	assert.Equal(t, "a lighthouse at dusk", got.Prompt)
	assert.Equal(t, "16:9", got.AspectRatio)
	assert.Equal(t, []string{"data:image/png;base64,AAAA"}, got.URLs)
	assert.Equal(t, KindStreaming, backend.Kind())
}

func TestStreamingBackend_ThrottlesProgress(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		second  int
		elapsed time.Duration
		applied int
	}{
		{name: "within two seconds", second: 20, elapsed: time.Second, applied: 1},
		{name: "after three seconds", second: 30, elapsed: 3 * time.Second, applied: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			srv, _ := streamServer(t, http.StatusOK,
				`{"progress":12}`,
				fmt.Sprintf(`{"progress":%d}`, tt.second),
				`{"results":[{"url":"https://cdn.test/a.png"}]}`,
			)
			base := time.Now()
			backend := NewStreamingBackend(srv.URL, "secret-key", srv.Client(),
				WithClock(steppedClock(base, base.Add(tt.elapsed))))

			rec := &progressRecorder{}
			_, err := backend.Generate(context.Background(), Request{Prompt: "p"}, rec.record)
			require.NoError(t, err)
			assert.Len(t, rec.updates, tt.applied)
		})
	}
}

func TestStreamingBackend_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		status  int
		lines   []string
		wantErr error
		msg     string
	}{
		{
			name:    "failure event",
			status:  http.StatusOK,
			lines:   []string{`{"progress":30}`, `{"status":"failed","error":"content policy"}`},
			wantErr: ErrGenerationFailed,
			msg:     "content policy",
		},
		{
			name:    "non-2xx status",
			status:  http.StatusBadGateway,
			lines:   []string{`upstream unavailable`},
			wantErr: ErrBackendStatus,
			msg:     "502",
		},
		{
			name:    "nothing parses",
			status:  http.StatusOK,
			lines:   []string{`<html>`, `not json`},
			wantErr: ErrMalformedStream,
		},
		{
			name:    "malformed lines skipped but no result",
			status:  http.StatusOK,
			lines:   []string{`garbage`, `{"progress":50}`, `[DONE]`},
			wantErr: ErrNoImage,
		},
		{
			name:    "done before result",
			status:  http.StatusOK,
			lines:   []string{`{"progress":10}`, `data: [DONE]`, `{"results":[{"url":"https://late"}]}`},
			wantErr: ErrNoImage,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			srv, _ := streamServer(t, tt.status, tt.lines...)
			backend := NewStreamingBackend(srv.URL, "secret-key", srv.Client())

			res, err := backend.Generate(context.Background(), Request{Prompt: "p"}, nil)
			require.Error(t, err)
			assert.Nil(t, res)
			assert.ErrorIs(t, err, tt.wantErr)
			if tt.msg != "" {
				assert.True(t, strings.Contains(err.Error(), tt.msg), "error %q should mention %q", err, tt.msg)
			}
		})
	}
}

func TestStreamingBackend_ContextDeadline(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, `{"progress":5}`)
		w.(http.Flusher).Flush()
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	backend := NewStreamingBackend(srv.URL, "", srv.Client())
	_, err := backend.Generate(ctx, Request{Prompt: "p"}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, ctx.Err(), context.DeadlineExceeded)
}
