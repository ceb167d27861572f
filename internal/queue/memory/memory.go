// Package memory is the in-memory queue.Queue backend used by tests: a
// buffered channel with no persistence, no retry, and best-effort FIFO.
package memory

import (
	"context"

	"github.com/crashvault/crashvault/internal/queue"
)

// Queue is a channel-backed queue.Queue.
type Queue struct {
	jobs chan queue.Job
}

// New returns a queue buffering up to capacity jobs before Enqueue blocks.
func New(capacity int) *Queue {
	return &Queue{jobs: make(chan queue.Job, capacity)}
}

func (q *Queue) Enqueue(ctx context.Context, job queue.Job) error {
	select {
	case q.jobs <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *Queue) Dequeue(ctx context.Context) (queue.Job, func(context.Context) error, func(context.Context) error, error) {
	noop := func(context.Context) error { return nil }

	select {
	case job := <-q.jobs:
		return job, noop, noop, nil
	case <-ctx.Done():
		return queue.Job{}, noop, noop, ctx.Err()
	}
}

func (q *Queue) Close() error {
	close(q.jobs)
	return nil
}

// Len reports the number of jobs currently buffered, a test-only
// convenience.
func (q *Queue) Len() int {
	return len(q.jobs)
}
