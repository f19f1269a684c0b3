package task

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/phrazzld/imagery-api/internal/domain"
	"github.com/phrazzld/imagery-api/internal/platform/metrics"
	"github.com/phrazzld/imagery-api/internal/store"
)

// Refund sources, used for logging and metrics.
const (
	RefundSourceWorker    = "worker"
	RefundSourceSweeper   = "sweeper"
	RefundSourceReconcile = "reconcile"
)

// Refunder credits the cost of failed tasks back to their owners. The ledger
// refund is keyed by task id, so a task is credited at most once no matter
// how many paths try; the task's refunded flag records completion.
type Refunder struct {
	tasks  store.TaskStore
	ledger store.PointsLedger
	logger *slog.Logger
}

// NewRefunder creates a Refunder.
func NewRefunder(tasks store.TaskStore, ledger store.PointsLedger, logger *slog.Logger) *Refunder {
	return &Refunder{
		tasks:  tasks,
		ledger: ledger,
		logger: logger.With("component", "refunder"),
	}
}

// Refund credits t's cost if it is paid and not yet refunded. It reports
// whether this call credited the ledger.
func (r *Refunder) Refund(ctx context.Context, t *domain.Task, source string) (bool, error) {
	if !t.IsPaid() || t.Refunded {
		return false, nil
	}

	reason := fmt.Sprintf("refund for failed task %s", t.ID)
	credited, err := r.ledger.Refund(ctx, t.UserID, t.Cost, reason, t.ID.String())
	if err != nil {
		return false, fmt.Errorf("failed to refund task %s: %w", t.ID, err)
	}

	if _, err := r.tasks.MarkRefunded(ctx, t.ID); err != nil {
		// The ledger entry exists; the next reconciliation pass will set the flag.
		r.logger.ErrorContext(ctx, "failed to flag task as refunded",
			"task_id", t.ID,
			"error", err)
	}

	if credited {
		metrics.Refunded(source)
		r.logger.InfoContext(ctx, "refunded failed task",
			"task_id", t.ID,
			"user_id", t.UserID,
			"amount", t.Cost,
			"source", source)
	}
	return credited, nil
}
