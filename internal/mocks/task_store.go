package mocks

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/imagery-api/internal/domain"
	"github.com/phrazzld/imagery-api/internal/store"
)

// TaskStore is an in-memory store.TaskStore.
type TaskStore struct {
	mu    sync.Mutex
	tasks map[uuid.UUID]*domain.Task
	seq   map[uuid.UUID]int
	next  int

	// Now is the clock used for timestamps.
	Now func() time.Time

	// Optional overrides. When set they replace the in-memory behavior.
	GetByIDFn                 func(ctx context.Context, id uuid.UUID) (*domain.Task, error)
	UpdateStatusFn            func(ctx context.Context, id uuid.UUID, status domain.TaskStatus, errorMsg string) error
	ConditionalUpdateResultFn func(ctx context.Context, id uuid.UUID, urls []string, thumb string, expected int64) (bool, error)
	GetStuckProcessingTasksFn func(ctx context.Context, olderThan time.Duration) ([]*domain.Task, error)

	// Calls records method invocations by name.
	Calls map[string]int
}

var _ store.TaskStore = (*TaskStore)(nil)

// NewTaskStore creates an empty TaskStore.
func NewTaskStore() *TaskStore {
	return &TaskStore{
		tasks: make(map[uuid.UUID]*domain.Task),
		seq:   make(map[uuid.UUID]int),
		Now:   func() time.Time { return time.Now().UTC() },
		Calls: make(map[string]int),
	}
}

// Put inserts or replaces a task as-is, bypassing all checks.
func (s *TaskStore) Put(t *domain.Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.put(t)
}

func (s *TaskStore) put(t *domain.Task) {
	if _, ok := s.seq[t.ID]; !ok {
		s.seq[t.ID] = s.next
		s.next++
	}
	s.tasks[t.ID] = t.Clone()
}

// Get returns a copy of a stored task, or nil.
func (s *TaskStore) Get(id uuid.UUID) *domain.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tasks[id].Clone()
}

// CallCount returns how many times method was called.
func (s *TaskStore) CallCount(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Calls[method]
}

func (s *TaskStore) record(method string) {
	s.Calls[method]++
}

// Create implements store.TaskStore.
func (s *TaskStore) Create(_ context.Context, t *domain.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("Create")

	if err := t.Validate(); err != nil {
		return err
	}
	if t.Status != domain.TaskStatusPending {
		return domain.ErrInvalidTaskStatus
	}
	if _, exists := s.tasks[t.ID]; exists {
		return store.ErrDuplicate
	}
	s.put(t)
	return nil
}

// GetByID implements store.TaskStore.
func (s *TaskStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	if s.GetByIDFn != nil {
		s.mu.Lock()
		s.record("GetByID")
		s.mu.Unlock()
		return s.GetByIDFn(ctx, id)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("GetByID")

	t, ok := s.tasks[id]
	if !ok {
		return nil, store.ErrTaskNotFound
	}
	return t.Clone(), nil
}

// UpdateStatus implements store.TaskStore.
func (s *TaskStore) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.TaskStatus, errorMsg string) error {
	if s.UpdateStatusFn != nil {
		s.mu.Lock()
		s.record("UpdateStatus")
		s.mu.Unlock()
		return s.UpdateStatusFn(ctx, id, status, errorMsg)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("UpdateStatus")

	t, ok := s.tasks[id]
	if !ok {
		return store.ErrTaskNotFound
	}
	if !t.Status.CanTransitionTo(status) {
		return domain.ErrInvalidTransition
	}

	now := s.Now()
	t.Status = status
	t.UpdatedAt = now
	switch status {
	case domain.TaskStatusProcessing:
		t.StartedAt = &now
	case domain.TaskStatusFailed:
		t.ErrorMessage = errorMsg
		t.CompletedAt = &now
	case domain.TaskStatusCompleted:
		t.CompletedAt = &now
	}
	return nil
}

// UpdateProgress implements store.TaskStore.
func (s *TaskStore) UpdateProgress(_ context.Context, id uuid.UUID, percent int, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("UpdateProgress")

	t, ok := s.tasks[id]
	if !ok {
		return store.ErrTaskNotFound
	}
	if t.Status != domain.TaskStatusProcessing || percent < t.Progress {
		return nil
	}
	t.Progress = percent
	t.ProgressMessage = message
	t.UpdatedAt = s.Now()
	return nil
}

// MarkCompleted implements store.TaskStore.
func (s *TaskStore) MarkCompleted(_ context.Context, id uuid.UUID, resultURLs []string, thumbnailURL string) (*domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("MarkCompleted")

	t, ok := s.tasks[id]
	if !ok {
		return nil, store.ErrTaskNotFound
	}
	if !t.Status.CanTransitionTo(domain.TaskStatusCompleted) {
		return nil, domain.ErrInvalidTransition
	}

	now := s.Now()
	t.Status = domain.TaskStatusCompleted
	t.Progress = 100
	t.ProgressMessage = "done"
	t.ResultURLs = append([]string(nil), resultURLs...)
	t.ThumbnailURL = thumbnailURL
	t.URLVersion++
	t.CompletedAt = &now
	t.UpdatedAt = now
	return t.Clone(), nil
}

// ConditionalUpdateResult implements store.TaskStore.
func (s *TaskStore) ConditionalUpdateResult(
	ctx context.Context,
	id uuid.UUID,
	resultURLs []string,
	thumbnailURL string,
	expectedVersion int64,
) (bool, error) {
	if s.ConditionalUpdateResultFn != nil {
		s.mu.Lock()
		s.record("ConditionalUpdateResult")
		s.mu.Unlock()
		return s.ConditionalUpdateResultFn(ctx, id, resultURLs, thumbnailURL, expectedVersion)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("ConditionalUpdateResult")

	t, ok := s.tasks[id]
	if !ok {
		return false, store.ErrTaskNotFound
	}
	if t.URLVersion != expectedVersion {
		return false, nil
	}
	t.ResultURLs = append([]string(nil), resultURLs...)
	t.ThumbnailURL = thumbnailURL
	t.Uploaded = true
	t.URLVersion++
	t.UpdatedAt = s.Now()
	return true, nil
}

// GetStuckProcessingTasks implements store.TaskStore.
func (s *TaskStore) GetStuckProcessingTasks(ctx context.Context, olderThan time.Duration) ([]*domain.Task, error) {
	if s.GetStuckProcessingTasksFn != nil {
		return s.GetStuckProcessingTasksFn(ctx, olderThan)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("GetStuckProcessingTasks")

	cutoff := s.Now().Add(-olderThan)
	return s.filter(func(t *domain.Task) bool {
		if t.Status != domain.TaskStatusProcessing {
			return false
		}
		started := t.UpdatedAt
		if t.StartedAt != nil {
			started = *t.StartedAt
		}
		return started.Before(cutoff)
	}), nil
}

// GetPendingTasks implements store.TaskStore.
func (s *TaskStore) GetPendingTasks(_ context.Context) ([]*domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("GetPendingTasks")

	return s.filter(func(t *domain.Task) bool {
		return t.Status == domain.TaskStatusPending
	}), nil
}

// GetByBatchGroup implements store.TaskStore.
func (s *TaskStore) GetByBatchGroup(_ context.Context, batchGroupID uuid.UUID) ([]*domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("GetByBatchGroup")

	out := s.filter(func(t *domain.Task) bool {
		return t.BatchGroupID != nil && *t.BatchGroupID == batchGroupID
	})
	sort.SliceStable(out, func(i, j int) bool {
		return splitIndex(out[i]) < splitIndex(out[j])
	})
	return out, nil
}

// GetUnrefundedFailedTasks implements store.TaskStore.
func (s *TaskStore) GetUnrefundedFailedTasks(_ context.Context, limit int) ([]*domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("GetUnrefundedFailedTasks")

	out := s.filter(func(t *domain.Task) bool {
		return t.Status == domain.TaskStatusFailed && t.Cost > 0 && !t.Refunded
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// MarkRefunded implements store.TaskStore.
func (s *TaskStore) MarkRefunded(_ context.Context, id uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("MarkRefunded")

	t, ok := s.tasks[id]
	if !ok {
		return false, store.ErrTaskNotFound
	}
	if t.Refunded || t.Status != domain.TaskStatusFailed {
		return false, nil
	}
	t.Refunded = true
	t.UpdatedAt = s.Now()
	return true, nil
}

// WithTx implements store.TaskStore. The fake has no transactions.
func (s *TaskStore) WithTx(_ *sql.Tx) store.TaskStore {
	return s
}

// filter returns clones of matching tasks in creation order. Callers hold mu.
func (s *TaskStore) filter(match func(*domain.Task) bool) []*domain.Task {
	var out []*domain.Task
	for _, t := range s.tasks {
		if match(t) {
			out = append(out, t.Clone())
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return s.seq[out[i].ID] < s.seq[out[j].ID]
	})
	return out
}

func splitIndex(t *domain.Task) int {
	if t.SplitIndex == nil {
		return -1
	}
	return *t.SplitIndex
}
