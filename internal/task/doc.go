// Package task runs image-generation tasks in the background.
//
// Submitted tasks are persisted as pending and handed to a bounded TaskQueue.
// A WorkerPool of fixed size claims them (pending -> processing), runs them
// against the model's generation backend through the Executor, and records
// the outcome (completed or failed). Completed tasks are handed to the
// post-processing queue; failed paid tasks are refunded.
//
// The store is the source of truth. The queue only distributes work and is
// rebuilt from pending tasks by Runner.Recover on start. Tasks wedged in
// processing are force-failed and refunded by the Sweeper.
package task
