// Package postprocess finalizes completed tasks off the user-visible path:
// it compresses the backend's images, renders a thumbnail, uploads both to
// durable storage and swaps the task's URLs with a version-checked write.
// A failure here never changes the task's completed status.
package postprocess

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/imagery-api/internal/queue"
)

// Job references a completed task whose images should be made durable.
// Jobs live only in the queue and are never persisted.
type Job struct {
	TaskID uuid.UUID
	// SourceURL is the result the task held when the job was created.
	SourceURL string
	// URLs lists every image the backend returned, SourceURL first.
	URLs       []string
	EnqueuedAt time.Time
}

// NewJob creates a job for taskID from the backend's result URLs.
func NewJob(taskID uuid.UUID, urls []string) Job {
	job := Job{
		TaskID:     taskID,
		URLs:       append([]string(nil), urls...),
		EnqueuedAt: time.Now().UTC(),
	}
	if len(urls) > 0 {
		job.SourceURL = urls[0]
	}
	return job
}

// Queue is the bounded FIFO of post-processing jobs.
type Queue struct {
	q *queue.Bounded[Job]
}

// NewQueue creates a queue holding at most capacity jobs.
func NewQueue(capacity int) *Queue {
	return &Queue{q: queue.NewBounded[Job](capacity)}
}

// Enqueue adds job, blocking while the queue is full. It returns
// queue.ErrClosed after Close and ctx.Err() when ctx ends first.
func (q *Queue) Enqueue(ctx context.Context, job Job) error {
	return q.q.Enqueue(ctx, job)
}

// Dequeue blocks until a job is available. The boolean is false on
// shutdown or cancellation.
func (q *Queue) Dequeue(ctx context.Context) (Job, bool) {
	return q.q.Dequeue(ctx)
}

// Len returns the number of jobs waiting.
func (q *Queue) Len() int {
	return q.q.Len()
}

// Close stops the queue.
func (q *Queue) Close() {
	q.q.Close()
}
