// Package queue holds the scheduler's work queue: references to jobs waiting
// to be processed, one producer (the API layer) and one consumer (the
// scheduler worker).
package queue

import (
	"context"
	"time"
)

// JobRef identifies one job waiting for processing.
type JobRef struct {
	ProjectID int `json:"project_id"`
	JobID     int `json:"job_id"`
}

// JobQueue is a bounded FIFO of job references.
type JobQueue interface {
	// Enqueue places a reference on the queue, failing when full.
	Enqueue(ctx context.Context, ref JobRef) error
	// Dequeue pops the next reference, blocking at most wait. The second
	// return is false when the wait timed out with nothing to pop, so the
	// caller can re-check its shutdown signal promptly.
	Dequeue(ctx context.Context, wait time.Duration) (JobRef, bool, error)
	// Depth reports how many references are waiting.
	Depth(ctx context.Context) (int, error)
	Close()
}
