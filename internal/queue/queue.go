// Package queue is the processing queue between minidump intake and the
// worker. A Job carries the full crash descriptor so the worker never has
// to re-read the original HTTP request (or the object store, beyond the
// blobs the descriptor names).
package queue

import (
	"context"
	"encoding/json"

	"github.com/crashvault/crashvault/internal/service"
)

// Job is one queued unit of work: the crash descriptor the worker needs to
// fetch the minidump, symbolicate it, and commit the processed report.
type Job struct {
	Descriptor service.CrashDescriptor
}

func (j Job) Marshal() ([]byte, error) {
	return json.Marshal(j.Descriptor)
}

func Unmarshal(data []byte) (Job, error) {
	var d service.CrashDescriptor
	if err := json.Unmarshal(data, &d); err != nil {
		return Job{}, err
	}
	return Job{Descriptor: d}, nil
}

// Queue is the enqueue/dequeue contract. Between enqueue and processing,
// FIFO delivery is preferred but not required; within a single upload,
// ordering of the fields that produced the job is already fixed by intake.
type Queue interface {
	// Enqueue adds job to the queue. It must not block on processing.
	Enqueue(ctx context.Context, job Job) error
	// Dequeue blocks until a job is available or ctx is done. The returned
	// ack must be called once the job is durably committed; nack requeues
	// or drops it depending on the backend's retry semantics.
	Dequeue(ctx context.Context) (job Job, ack func(context.Context) error, nack func(context.Context) error, err error)
	Close() error
}
