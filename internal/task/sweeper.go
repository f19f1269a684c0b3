package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/phrazzld/imagery-api/internal/domain"
	"github.com/phrazzld/imagery-api/internal/platform/metrics"
	"github.com/phrazzld/imagery-api/internal/store"
	"github.com/robfig/cron/v3"
)

const (
	// SweepLockKey is the lock shared by replicas so only one sweeps per cycle.
	SweepLockKey = "imagery:sweeper"

	// DefaultReconcileBatch caps the refunds retried per sweep.
	DefaultReconcileBatch = 100
)

// Locker takes a short-lived exclusive lock. Acquire reports false without
// error when another holder has it.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, bool, error)
}

// SweeperConfig holds sweeper settings.
type SweeperConfig struct {
	Interval       time.Duration
	StuckThreshold time.Duration
	ReconcileBatch int
}

// DefaultSweeperConfig returns the default schedule and threshold.
func DefaultSweeperConfig() SweeperConfig {
	return SweeperConfig{
		Interval:       5 * time.Minute,
		StuckThreshold: 30 * time.Minute,
		ReconcileBatch: DefaultReconcileBatch,
	}
}

// SweepResult summarises one sweep.
type SweepResult struct {
	// Skipped is true when another replica held the sweep lock.
	Skipped bool
	// Stuck is the number of stuck tasks found.
	Stuck int
	// Failed is the number of stuck tasks this sweep moved to failed.
	Failed int
	// Refunded counts ledger credits made by this sweep, both passes.
	Refunded int
}

// Sweeper force-fails tasks wedged in processing and makes sure every paid
// failed task is refunded.
type Sweeper struct {
	tasks    store.TaskStore
	refunder *Refunder
	locker   Locker
	config   SweeperConfig
	logger   *slog.Logger

	mu   sync.Mutex
	cron *cron.Cron
}

// NewSweeper creates a Sweeper. locker may be nil for a single replica.
func NewSweeper(tasks store.TaskStore, refunder *Refunder, locker Locker, config SweeperConfig, logger *slog.Logger) *Sweeper {
	defaults := DefaultSweeperConfig()
	if config.Interval <= 0 {
		config.Interval = defaults.Interval
	}
	if config.StuckThreshold <= 0 {
		config.StuckThreshold = defaults.StuckThreshold
	}
	if config.ReconcileBatch <= 0 {
		config.ReconcileBatch = defaults.ReconcileBatch
	}
	return &Sweeper{
		tasks:    tasks,
		refunder: refunder,
		locker:   locker,
		config:   config,
		logger:   logger.With("component", "sweeper"),
	}
}

// StuckMessage is the failure message recorded on swept tasks.
func StuckMessage(threshold time.Duration) string {
	return fmt.Sprintf("task exceeded processing threshold of %d minutes", int(threshold.Minutes()))
}

// Start schedules Sweep every configured interval.
func (s *Sweeper) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil {
		return nil
	}

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	schedule := "@every " + s.config.Interval.String()
	if _, err := c.AddFunc(schedule, s.run); err != nil {
		return fmt.Errorf("failed to schedule sweeper %q: %w", schedule, err)
	}
	c.Start()
	s.cron = c

	s.logger.Info("sweeper started",
		"interval", s.config.Interval,
		"stuck_threshold", s.config.StuckThreshold)
	return nil
}

// Stop unschedules the sweeper and waits for a running sweep until ctx ends.
func (s *Sweeper) Stop(ctx context.Context) error {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()

	if c == nil {
		return nil
	}

	select {
	case <-c.Stop().Done():
		s.logger.Info("sweeper stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("sweeper did not stop in time: %w", ctx.Err())
	}
}

func (s *Sweeper) run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Interval)
	defer cancel()

	if _, err := s.Sweep(ctx); err != nil {
		s.logger.ErrorContext(ctx, "sweep failed", "error", err)
	}
}

// Sweep runs one pass: stuck processing tasks are moved to failed and
// refunded, then failed paid tasks still lacking a refund are credited.
func (s *Sweeper) Sweep(ctx context.Context) (SweepResult, error) {
	var result SweepResult

	if s.locker != nil {
		release, acquired, err := s.locker.Acquire(ctx, SweepLockKey, s.config.Interval)
		if err != nil {
			return result, err
		}
		if !acquired {
			s.logger.DebugContext(ctx, "sweep lock held elsewhere, skipping")
			result.Skipped = true
			return result, nil
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				s.logger.WarnContext(ctx, "failed to release sweep lock", "error", err)
			}
		}()
	}

	stuck, err := s.tasks.GetStuckProcessingTasks(ctx, s.config.StuckThreshold)
	if err != nil {
		return result, fmt.Errorf("failed to list stuck tasks: %w", err)
	}
	result.Stuck = len(stuck)

	msg := StuckMessage(s.config.StuckThreshold)
	for _, t := range stuck {
		if err := s.tasks.UpdateStatus(ctx, t.ID, domain.TaskStatusFailed, msg); err != nil {
			if errors.Is(err, domain.ErrInvalidTransition) || store.IsNotFoundError(err) {
				// Finished between the query and the update.
				continue
			}
			s.logger.ErrorContext(ctx, "failed to fail stuck task", "task_id", t.ID, "error", err)
			continue
		}
		result.Failed++
		metrics.TaskSwept()
		metrics.TaskFinished(string(domain.TaskStatusFailed))
		s.logger.WarnContext(ctx, "failed stuck task",
			"task_id", t.ID,
			"started_at", t.StartedAt)

		failed := t.Clone()
		failed.Status = domain.TaskStatusFailed
		failed.ErrorMessage = msg
		credited, err := s.refunder.Refund(ctx, failed, RefundSourceSweeper)
		if err != nil {
			s.logger.ErrorContext(ctx, "failed to refund stuck task", "task_id", t.ID, "error", err)
			continue
		}
		if credited {
			result.Refunded++
		}
	}

	reconciled, err := s.reconcile(ctx)
	result.Refunded += reconciled
	if err != nil {
		return result, err
	}

	if result.Stuck > 0 || result.Refunded > 0 {
		s.logger.InfoContext(ctx, "sweep finished",
			"stuck", result.Stuck,
			"failed", result.Failed,
			"refunded", result.Refunded)
	}
	return result, nil
}

// reconcile refunds failed paid tasks that never had their refund recorded.
func (s *Sweeper) reconcile(ctx context.Context) (int, error) {
	pending, err := s.tasks.GetUnrefundedFailedTasks(ctx, s.config.ReconcileBatch)
	if err != nil {
		return 0, fmt.Errorf("failed to list unrefunded tasks: %w", err)
	}

	credited := 0
	for _, t := range pending {
		ok, err := s.refunder.Refund(ctx, t, RefundSourceReconcile)
		if err != nil {
			s.logger.ErrorContext(ctx, "failed to reconcile refund", "task_id", t.ID, "error", err)
			continue
		}
		if ok {
			credited++
		}
	}
	return credited, nil
}
