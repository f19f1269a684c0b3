package domain

import (
	"time"

	"github.com/google/uuid"
)

// HistoryRecord is the user-facing generation history entry paired with a
// completed task. Its result references follow the task's.
type HistoryRecord struct {
	ID           uuid.UUID `json:"id"`
	TaskID       uuid.UUID `json:"task_id"`
	UserID       uuid.UUID `json:"user_id"`
	ModelID      string    `json:"model_id"`
	Mode         string    `json:"mode"`
	Prompt       string    `json:"prompt"`
	ResultURLs   []string  `json:"result_urls"`
	ThumbnailURL string    `json:"thumbnail_url"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// NewHistoryRecord builds a history entry for a task that just completed.
func NewHistoryRecord(t *Task, resultURLs []string, thumbnailURL string) *HistoryRecord {
	now := time.Now().UTC()
	return &HistoryRecord{
		ID:           uuid.New(),
		TaskID:       t.ID,
		UserID:       t.UserID,
		ModelID:      t.ModelID,
		Mode:         t.Mode,
		Prompt:       t.Prompt,
		ResultURLs:   append([]string(nil), resultURLs...),
		ThumbnailURL: thumbnailURL,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}
