// Package redisqueue is the production queue.Queue backend: a Redis list
// used as a FIFO via LPUSH/BRPOP, the same go-redis client the rest of the
// pack's services use for work queues.
package redisqueue

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/crashvault/crashvault/internal/apperrors"
	"github.com/crashvault/crashvault/internal/queue"
)

// Queue pushes/pops JSON-encoded jobs on a single Redis list key.
type Queue struct {
	client *redis.Client
	key    string
}

// New wraps an existing *redis.Client. key is the list name (e.g.
// "crashvault:processing").
func New(client *redis.Client, key string) *Queue {
	return &Queue{client: client, key: key}
}

func (q *Queue) Enqueue(ctx context.Context, job queue.Job) error {
	data, err := job.Marshal()
	if err != nil {
		return apperrors.Processing(err, "marshal job")
	}

	if err := q.client.LPush(ctx, q.key, data).Err(); err != nil {
		return apperrors.Storage(err, "enqueue job")
	}

	return nil
}

// Dequeue blocks (via BRPOP) until a job is available or ctx is done. The
// returned ack/nack are both no-ops: once BRPOP returns the element is
// already removed from the list, so a failed job is not redelivered; the
// worker retries transient failures in-process before giving up on a job.
func (q *Queue) Dequeue(ctx context.Context) (queue.Job, func(context.Context) error, func(context.Context) error, error) {
	noop := func(context.Context) error { return nil }

	res, err := q.client.BRPop(ctx, 0, q.key).Result()
	if err != nil {
		return queue.Job{}, noop, noop, apperrors.Storage(err, "dequeue job")
	}
	if len(res) != 2 {
		return queue.Job{}, noop, noop, apperrors.Processing(fmt.Errorf("unexpected BRPOP result %v", res), "dequeue job")
	}

	job, err := queue.Unmarshal([]byte(res[1]))
	if err != nil {
		return queue.Job{}, noop, noop, apperrors.Processing(err, "decode job")
	}

	return job, noop, noop, nil
}

func (q *Queue) Close() error {
	return q.client.Close()
}
