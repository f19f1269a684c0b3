package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// TaskStatus represents the lifecycle state of a generation task
type TaskStatus string

// Possible task status values
const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
)

// Common validation errors for Task
var (
	ErrEmptyTaskID        = errors.New("task ID cannot be empty")
	ErrEmptyTaskUserID    = errors.New("task user ID cannot be empty")
	ErrEmptyTaskModelID   = errors.New("task model ID cannot be empty")
	ErrEmptyTaskPrompt    = errors.New("task prompt cannot be empty")
	ErrInvalidTaskStatus  = errors.New("invalid task status")
	ErrInvalidProgress    = errors.New("progress must be between 0 and 100")
	ErrInvalidTransition  = errors.New("invalid task status transition")
	ErrNegativeTaskCost   = errors.New("task cost cannot be negative")
	ErrInvalidSplitFields = errors.New("split index requires a parent task and batch group")
)

// IsValid reports whether s is one of the known task statuses.
func (s TaskStatus) IsValid() bool {
	switch s {
	case TaskStatusPending, TaskStatusProcessing, TaskStatusCompleted, TaskStatusFailed:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no further transition is possible from s.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed
}

// CanTransitionTo reports whether moving from s to next is allowed.
// The only legal paths are pending -> processing -> completed|failed.
func (s TaskStatus) CanTransitionTo(next TaskStatus) bool {
	switch s {
	case TaskStatusPending:
		return next == TaskStatusProcessing
	case TaskStatusProcessing:
		return next == TaskStatusCompleted || next == TaskStatusFailed
	default:
		return false
	}
}

// PreviousStatus returns the only status a task may hold before entering s.
// The boolean is false for pending, which is only ever assigned on creation.
func (s TaskStatus) PreviousStatus() (TaskStatus, bool) {
	switch s {
	case TaskStatusProcessing:
		return TaskStatusPending, true
	case TaskStatusCompleted, TaskStatusFailed:
		return TaskStatusProcessing, true
	default:
		return "", false
	}
}

// Task is one request for a generated image, tracked through its lifecycle.
type Task struct {
	ID              uuid.UUID  `json:"id"`
	UserID          uuid.UUID  `json:"user_id"`
	ModelID         string     `json:"model_id"`
	Mode            string     `json:"mode"`
	Prompt          string     `json:"prompt"`
	AspectRatio     string     `json:"aspect_ratio,omitempty"`
	ImageSize       string     `json:"image_size,omitempty"`
	ReferenceImages []string   `json:"reference_images,omitempty"`
	Status          TaskStatus `json:"status"`
	Progress        int        `json:"progress"`
	ProgressMessage string     `json:"progress_message,omitempty"`
	ResultURLs      []string   `json:"result_urls,omitempty"`
	ThumbnailURL    string     `json:"thumbnail_url,omitempty"`
	ErrorMessage    string     `json:"error_message,omitempty"`
	Cost            int64      `json:"cost"`
	Refunded        bool       `json:"refunded"`
	Uploaded        bool       `json:"uploaded"`
	URLVersion      int64      `json:"url_version"`

	// Tiling-originated tasks carry their origin.
	ParentTaskID *uuid.UUID `json:"parent_task_id,omitempty"`
	SplitIndex   *int       `json:"split_index,omitempty"`
	BatchGroupID *uuid.UUID `json:"batch_group_id,omitempty"`
	ProcessMode  string     `json:"process_mode,omitempty"`
	Tolerance    *float64   `json:"tolerance,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// NewTask creates a pending task owned by userID for the given model and prompt.
func NewTask(userID uuid.UUID, modelID, mode, prompt string) (*Task, error) {
	now := time.Now().UTC()
	t := &Task{
		ID:        uuid.New(),
		UserID:    userID,
		ModelID:   modelID,
		Mode:      mode,
		Prompt:    prompt,
		Status:    TaskStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := t.Validate(); err != nil {
		return nil, err
	}

	return t, nil
}

// Validate checks if the Task has valid data.
func (t *Task) Validate() error {
	if t.ID == uuid.Nil {
		return ErrEmptyTaskID
	}

	if t.UserID == uuid.Nil {
		return ErrEmptyTaskUserID
	}

	if t.ModelID == "" {
		return ErrEmptyTaskModelID
	}

	if t.Prompt == "" {
		return ErrEmptyTaskPrompt
	}

	if !t.Status.IsValid() {
		return ErrInvalidTaskStatus
	}

	if t.Progress < 0 || t.Progress > 100 {
		return ErrInvalidProgress
	}

	if t.Cost < 0 {
		return ErrNegativeTaskCost
	}

	if t.SplitIndex != nil && (t.ParentTaskID == nil || t.BatchGroupID == nil) {
		return ErrInvalidSplitFields
	}

	return nil
}

// PrimaryResultURL returns the first result reference, or "" when there is none.
func (t *Task) PrimaryResultURL() string {
	if len(t.ResultURLs) == 0 {
		return ""
	}
	return t.ResultURLs[0]
}

// IsPaid reports whether a refund is owed if the task fails.
func (t *Task) IsPaid() bool {
	return t.Cost > 0
}

// Clone returns a deep copy of the task so callers can't mutate shared state.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}

	c := *t
	c.ReferenceImages = append([]string(nil), t.ReferenceImages...)
	c.ResultURLs = append([]string(nil), t.ResultURLs...)
	if t.ParentTaskID != nil {
		v := *t.ParentTaskID
		c.ParentTaskID = &v
	}
	if t.SplitIndex != nil {
		v := *t.SplitIndex
		c.SplitIndex = &v
	}
	if t.BatchGroupID != nil {
		v := *t.BatchGroupID
		c.BatchGroupID = &v
	}
	if t.Tolerance != nil {
		v := *t.Tolerance
		c.Tolerance = &v
	}
	if t.StartedAt != nil {
		v := *t.StartedAt
		c.StartedAt = &v
	}
	if t.CompletedAt != nil {
		v := *t.CompletedAt
		c.CompletedAt = &v
	}
	return &c
}
