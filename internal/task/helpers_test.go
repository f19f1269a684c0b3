package task_test

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/imagery-api/internal/domain"
	"github.com/phrazzld/imagery-api/internal/mocks"
	"github.com/phrazzld/imagery-api/internal/platform/logger"
	"github.com/phrazzld/imagery-api/internal/postprocess"
	"github.com/phrazzld/imagery-api/internal/task"
	"github.com/stretchr/testify/require"
)

const testModelID = "sketch-v2"

func testLogger() *slog.Logger {
	return logger.Discard()
}

// newTask returns a pending task for testModelID with the given cost.
func newTask(t *testing.T, cost int64) *domain.Task {
	t.Helper()
	tk, err := domain.NewTask(uuid.New(), testModelID, "generate", "a lighthouse at dusk")
	require.NoError(t, err)
	tk.Cost = cost
	return tk
}

type fixture struct {
	tasks    *mocks.TaskStore
	models   *mocks.ModelStore
	history  *mocks.HistoryStore
	ledger   *mocks.PointsLedger
	backend  *mocks.Backend
	post     *postprocess.Queue
	refunder *task.Refunder
	executor *task.Executor
}

func newFixture(t *testing.T, cfg task.ExecutorConfig) *fixture {
	t.Helper()

	f := &fixture{
		tasks: mocks.NewTaskStore(),
		models: mocks.NewModelStore(&domain.ModelConfig{
			ID:          testModelID,
			RemoteModel: "sketch-remote",
			BackendURL:  "https://backend.test/v1/draw",
			Cost:        5,
			Active:      true,
		}),
		history: mocks.NewHistoryStore(),
		ledger:  mocks.NewPointsLedger(),
		backend: &mocks.Backend{URLs: []string{"https://cdn.test/a.png", "https://cdn.test/b.png"}},
		post:    postprocess.NewQueue(10),
	}
	f.refunder = task.NewRefunder(f.tasks, f.ledger, testLogger())
	f.executor = task.NewExecutor(
		f.tasks,
		f.models,
		f.history,
		&mocks.BackendResolver{Backend: f.backend},
		f.refunder,
		f.post,
		nil,
		cfg,
		testLogger(),
	)
	return f
}

// processing stores tk and moves it to processing, returning the stored copy.
func (f *fixture) processing(t *testing.T, tk *domain.Task) *domain.Task {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.tasks.Create(ctx, tk))
	require.NoError(t, f.tasks.UpdateStatus(ctx, tk.ID, domain.TaskStatusProcessing, ""))
	return f.tasks.Get(tk.ID)
}

func (f *fixture) nextJob(t *testing.T) (postprocess.Job, bool) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	return f.post.Dequeue(ctx)
}
