package task_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/phrazzld/imagery-api/internal/domain"
	"github.com/phrazzld/imagery-api/internal/generation"
	"github.com/phrazzld/imagery-api/internal/store"
	"github.com/phrazzld/imagery-api/internal/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecutor_Success(t *testing.T) {
	f := newFixture(t, task.ExecutorConfig{})
	f.backend.Progress = []int{20, 60}
	tk := f.processing(t, newTask(t, 5))

	err := f.executor.Execute(context.Background(), tk)
	require.NoError(t, err)

	got := f.tasks.Get(tk.ID)
	assert.Equal(t, domain.TaskStatusCompleted, got.Status)
	assert.Equal(t, 100, got.Progress)
	assert.Equal(t, []string{"https://cdn.test/a.png", "https://cdn.test/b.png"}, got.ResultURLs)
	assert.Equal(t, "https://cdn.test/a.png", got.ThumbnailURL)
	assert.Equal(t, int64(1), got.URLVersion)
	assert.Empty(t, got.ErrorMessage)

	reqs := f.backend.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "sketch-remote", reqs[0].Model)
	assert.Equal(t, tk.Prompt, reqs[0].Prompt)

	rec := f.history.Get(tk.ID)
	require.NotNil(t, rec)
	assert.Equal(t, got.ResultURLs, rec.ResultURLs)

	job, ok := f.nextJob(t)
	require.True(t, ok, "completed task should be handed to post-processing")
	assert.Equal(t, tk.ID, job.TaskID)
	assert.Equal(t, "https://cdn.test/a.png", job.SourceURL)
	assert.Len(t, job.URLs, 2)

	assert.Empty(t, f.ledger.Refunds())
}

func TestExecutor_HistoryFailureDoesNotFailTask(t *testing.T) {
	f := newFixture(t, task.ExecutorConfig{})
	f.history.CreateErr = errors.New("history unavailable")
	tk := f.processing(t, newTask(t, 5))

	require.NoError(t, f.executor.Execute(context.Background(), tk))
	assert.Equal(t, domain.TaskStatusCompleted, f.tasks.Get(tk.ID).Status)
}

func TestExecutor_Failures(t *testing.T) {
	tests := []struct {
		name    string
		modelID string
		setup   func(f *fixture)
		wantErr error
	}{
		{
			name:    "model not found",
			modelID: "missing",
			setup:   func(*fixture) {},
			wantErr: task.ErrModelNotFound,
		},
		{
			name: "model inactive",
			setup: func(f *fixture) {
				f.models.Put(&domain.ModelConfig{ID: testModelID, Active: false})
			},
			wantErr: task.ErrModelInactive,
		},
		{
			name: "backend failure",
			setup: func(f *fixture) {
				f.backend.Err = fmt.Errorf("%w: content rejected", generation.ErrGenerationFailed)
			},
			wantErr: generation.ErrGenerationFailed,
		},
		{
			name: "backend returns no images",
			setup: func(f *fixture) {
				f.backend.URLs = nil
			},
			wantErr: generation.ErrNoImage,
		},
		{
			name: "backend panics",
			setup: func(f *fixture) {
				f.backend.GenerateFn = func(context.Context, generation.Request, generation.ProgressFunc) (*generation.Result, error) {
					panic("nil map write")
				}
			},
			wantErr: task.ErrTaskPanicked,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, task.ExecutorConfig{})
			tk := newTask(t, 5)
			if tc.modelID != "" {
				tk.ModelID = tc.modelID
			}
			tc.setup(f)
			tk = f.processing(t, tk)

			err := f.executor.Execute(context.Background(), tk)
			require.ErrorIs(t, err, tc.wantErr)

			got := f.tasks.Get(tk.ID)
			assert.Equal(t, domain.TaskStatusFailed, got.Status)
			assert.NotEmpty(t, got.ErrorMessage)
			assert.True(t, got.Refunded)
			assert.Equal(t, 1, f.ledger.RefundCount(tk.ID.String()))
			assert.Equal(t, int64(5), f.ledger.Balance(tk.UserID))

			_, queued := f.nextJob(t)
			assert.False(t, queued)
		})
	}
}

func TestExecutor_TimeoutHasDistinctMessage(t *testing.T) {
	f := newFixture(t, task.ExecutorConfig{GenerationTimeout: 20 * time.Millisecond})
	f.backend.GenerateFn = func(ctx context.Context, _ generation.Request, _ generation.ProgressFunc) (*generation.Result, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	tk := f.processing(t, newTask(t, 5))

	err := f.executor.Execute(context.Background(), tk)
	require.ErrorIs(t, err, generation.ErrTimeout)

	got := f.tasks.Get(tk.ID)
	assert.Equal(t, domain.TaskStatusFailed, got.Status)
	assert.Contains(t, got.ErrorMessage, "timed out")
	assert.Equal(t, 1, f.ledger.RefundCount(tk.ID.String()))
}

func TestExecutor_ResultAtDeadlineCompletes(t *testing.T) {
	f := newFixture(t, task.ExecutorConfig{GenerationTimeout: 20 * time.Millisecond})
	f.backend.GenerateFn = func(ctx context.Context, _ generation.Request, _ generation.ProgressFunc) (*generation.Result, error) {
		<-ctx.Done()
		return &generation.Result{URLs: []string{"https://cdn.test/late.png"}}, nil
	}
	tk := f.processing(t, newTask(t, 5))

	require.NoError(t, f.executor.Execute(context.Background(), tk))

	got := f.tasks.Get(tk.ID)
	assert.Equal(t, domain.TaskStatusCompleted, got.Status)
	assert.Equal(t, []string{"https://cdn.test/late.png"}, got.ResultURLs)
	assert.Zero(t, f.ledger.RefundCount(tk.ID.String()))
}

func TestExecutor_DuplicateHistoryKeepsTaskCompleted(t *testing.T) {
	f := newFixture(t, task.ExecutorConfig{})
	f.history.CreateErr = store.NewStoreError("history", "create", "record already exists for task", store.ErrDuplicate)
	tk := f.processing(t, newTask(t, 5))

	require.NoError(t, f.executor.Execute(context.Background(), tk))
	assert.Equal(t, domain.TaskStatusCompleted, f.tasks.Get(tk.ID).Status)

	_, queued := f.nextJob(t)
	assert.True(t, queued)
}

func TestExecutor_RedactsErrorMessage(t *testing.T) {
	f := newFixture(t, task.ExecutorConfig{})
	f.backend.Err = &generation.StatusError{
		StatusCode: 401,
		Body:       `{"error":"invalid key sk-abcdefghijklmnopqrstuvwx"}`,
	}
	tk := f.processing(t, newTask(t, 0))

	err := f.executor.Execute(context.Background(), tk)
	require.ErrorIs(t, err, generation.ErrBackendStatus)

	got := f.tasks.Get(tk.ID)
	assert.NotContains(t, got.ErrorMessage, "sk-abcdefghijklmnopqrstuvwx")
	assert.Contains(t, got.ErrorMessage, "401")
}

func TestExecutor_FreeTaskIsNotRefunded(t *testing.T) {
	f := newFixture(t, task.ExecutorConfig{})
	f.backend.Err = generation.ErrGenerationFailed
	tk := f.processing(t, newTask(t, 0))

	require.Error(t, f.executor.Execute(context.Background(), tk))
	assert.Equal(t, domain.TaskStatusFailed, f.tasks.Get(tk.ID).Status)
	assert.Empty(t, f.ledger.Refunds())
}

func TestExecutor_TaskSweptDuringGeneration(t *testing.T) {
	f := newFixture(t, task.ExecutorConfig{})
	tk := f.processing(t, newTask(t, 5))

	// The sweeper fails and refunds the task while the backend is still working.
	f.backend.GenerateFn = func(ctx context.Context, _ generation.Request, _ generation.ProgressFunc) (*generation.Result, error) {
		require.NoError(t, f.tasks.UpdateStatus(ctx, tk.ID, domain.TaskStatusFailed, task.StuckMessage(30*time.Minute)))
		swept := f.tasks.Get(tk.ID)
		_, err := f.refunder.Refund(ctx, swept, task.RefundSourceSweeper)
		require.NoError(t, err)
		return &generation.Result{URLs: []string{"https://cdn.test/late.png"}}, nil
	}

	err := f.executor.Execute(context.Background(), tk)
	require.ErrorIs(t, err, domain.ErrInvalidTransition)

	got := f.tasks.Get(tk.ID)
	assert.Equal(t, domain.TaskStatusFailed, got.Status)
	assert.Equal(t, task.StuckMessage(30*time.Minute), got.ErrorMessage)
	assert.Empty(t, got.ResultURLs)
	assert.Equal(t, 1, f.ledger.RefundCount(tk.ID.String()), "refund must happen exactly once")
}

func TestExecutor_ProgressNeverDecreases(t *testing.T) {
	f := newFixture(t, task.ExecutorConfig{})
	tk := f.processing(t, newTask(t, 0))

	var seen []int
	f.backend.GenerateFn = func(ctx context.Context, _ generation.Request, progress generation.ProgressFunc) (*generation.Result, error) {
		for _, p := range []int{40, 20, 70} {
			progress(ctx, p, generation.PhaseMessage(p))
			seen = append(seen, f.tasks.Get(tk.ID).Progress)
		}
		return &generation.Result{URLs: []string{"https://cdn.test/a.png"}}, nil
	}

	require.NoError(t, f.executor.Execute(context.Background(), tk))
	assert.Equal(t, []int{40, 40, 70}, seen)
}
