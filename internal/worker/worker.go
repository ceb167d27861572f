// Package worker consumes crash-processing jobs, symbolicates the minidump,
// and commits the result. It is the sole writer of a crash's terminal
// state (processed or failed).
package worker

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"

	"github.com/crashvault/crashvault/internal/apperrors"
	"github.com/crashvault/crashvault/internal/breakpad"
	"github.com/crashvault/crashvault/internal/objectstore"
	"github.com/crashvault/crashvault/internal/queue"
	"github.com/crashvault/crashvault/internal/service"
	"github.com/crashvault/crashvault/internal/signature"
)

// Report is the processed-crash JSON recorded on Crash.Report.
type Report struct {
	CrashingThread signature.CrashingThread `json:"crashing_thread"`
}

// systemAnnotations are the required fields intake validates before
// accepting an upload; everything else submitted by the client is a user
// annotation.
var systemAnnotations = map[string]bool{
	"product": true, "version": true, "channel": true, "commit": true, "build_id": true,
}

// Worker pulls jobs off a queue, symbolicates the minidump they reference,
// and commits the resulting report, signature, attachments, and
// annotations in one transaction.
type Worker struct {
	Queue     queue.Queue
	Objects   objectstore.Store
	Store     service.AdminStorer
	Generator *signature.Generator

	MaxRetries uint // 0 defaults to 5
}

// Run processes jobs until ctx is cancelled or the queue is closed.
func (w *Worker) Run(ctx context.Context) error {
	for {
		job, ack, nack, err := w.Queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			slog.Error("worker: dequeue failed", "error", err)
			continue
		}

		if err := w.process(ctx, job); err != nil {
			slog.Error("worker: job failed", "crash_id", job.Descriptor.CrashID, "error", err)
			if nackErr := nack(ctx); nackErr != nil {
				slog.Error("worker: nack failed", "crash_id", job.Descriptor.CrashID, "error", nackErr)
			}
			continue
		}

		if err := ack(ctx); err != nil {
			slog.Error("worker: ack failed", "crash_id", job.Descriptor.CrashID, "error", err)
		}
	}
}

// process symbolicates one job, retrying transient storage/metadata
// failures with exponential backoff. A validation or processing error
// fails the crash immediately and is not retried.
func (w *Worker) process(ctx context.Context, job queue.Job) error {
	maxTries := w.MaxRetries
	if maxTries == 0 {
		maxTries = 5
	}

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		procErr := w.processOnce(ctx, job.Descriptor)
		if procErr == nil {
			return struct{}{}, nil
		}

		if ae, ok := apperrors.As(procErr); ok && !retryable(ae.Kind) {
			w.fail(ctx, job.Descriptor.CrashID, ae.Message)
			return struct{}{}, backoff.Permanent(procErr)
		}

		return struct{}{}, procErr
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxTries(maxTries))

	if err != nil {
		if _, ok := apperrors.As(err); !ok {
			w.fail(ctx, job.Descriptor.CrashID, "exhausted retries")
		}
		return err
	}

	return nil
}

func retryable(k apperrors.Kind) bool {
	return k == apperrors.KindStorage || k == apperrors.KindMetadata
}

func (w *Worker) fail(ctx context.Context, crashID uuid.UUID, reason string) {
	if err := w.Store.FailCrash(ctx, crashID, reason); err != nil {
		slog.Error("worker: fail crash failed", "crash_id", crashID, "error", err)
	}
}

func (w *Worker) processOnce(ctx context.Context, d service.CrashDescriptor) error {
	minidumpData, err := w.fetchAll(ctx, d.Minidump.StoragePath)
	if err != nil {
		return apperrors.Storage(err, "fetch minidump")
	}

	md, err := breakpad.ParseMinidump(minidumpData)
	if err != nil {
		slog.Error("worker: parse minidump failed", "crash_id", d.CrashID, "error", err)
		return apperrors.Validation("failed to read minidump")
	}

	cache := map[string]*breakpad.SymbolTable{}
	lookup := func(m breakpad.Module) (*breakpad.SymbolTable, error) {
		key := m.StackKey()
		if st, ok := cache[key]; ok {
			return st, nil
		}
		st, err := w.resolveSymbolTable(ctx, d.AuthorizedProduct, m)
		if err != nil {
			return nil, err
		}
		cache[key] = st
		return st, nil
	}

	rawFrames, err := breakpad.Walk(md, lookup)
	if err != nil {
		return apperrors.Processing(err, "walk stack")
	}

	frames := make([]signature.Frame, 0, len(rawFrames))
	for _, f := range rawFrames {
		frames = append(frames, signature.Frame{
			Module:       f.Module,
			ModuleOffset: f.ModuleOffset,
			Offset:       f.Offset,
			Function:     f.Function,
			File:         f.File,
			Line:         f.Line,
		})
	}

	ct := signature.CrashingThread{Frames: frames}
	sig := w.Generator.Generate(ct)

	report, err := json.Marshal(Report{CrashingThread: ct})
	if err != nil {
		return apperrors.Processing(err, "marshal report")
	}

	return w.commit(ctx, d, report, sig)
}

// resolveSymbolTable looks up and parses the symbol file for m, if the
// product has one on record. A module with no matching symbol row yields a
// nil table, not an error; Walk then emits no frame for addresses in that
// module, so no frame in the report is marked as missing symbols.
func (w *Worker) resolveSymbolTable(ctx context.Context, productID uuid.UUID, m breakpad.Module) (*breakpad.SymbolTable, error) {
	sym, err := w.Store.GetSymbol(ctx, productID, m.ModuleID, m.BuildID)
	if err != nil {
		return nil, apperrors.Metadata(err, "lookup symbol for %s", m.StackKey())
	}
	if sym == nil {
		return nil, nil
	}

	data, err := w.fetchAll(ctx, sym.StorageKey())
	if err != nil {
		return nil, apperrors.Storage(err, "fetch symbol file %s", sym.StorageKey())
	}

	st, err := breakpad.ParseSymbolFile(data)
	if err != nil {
		return nil, apperrors.Validation("parse symbol file %s: %v", sym.StorageKey(), err)
	}
	return st, nil
}

func (w *Worker) fetchAll(ctx context.Context, key string) ([]byte, error) {
	r, err := w.Objects.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

// commit promotes a pending crash to processed and inserts its
// attachment/annotation rows in one transaction.
func (w *Worker) commit(ctx context.Context, d service.CrashDescriptor, report []byte, sig string) error {
	tx, err := w.Store.BeginAdmin(ctx)
	if err != nil {
		return apperrors.Metadata(err, "begin transaction")
	}

	if err := tx.CompleteCrash(ctx, d.CrashID, report, sig); err != nil {
		tx.Rollback(ctx)
		return apperrors.Metadata(err, "complete crash")
	}

	for _, a := range d.Attachments {
		att := service.Attachment{
			ID:          uuid.New(),
			CrashID:     d.CrashID,
			ProductID:   d.AuthorizedProduct,
			Name:        a.Name,
			Filename:    a.Filename,
			MimeType:    a.ContentType,
			Size:        a.Size,
			StoragePath: a.StoragePath,
			StorageID:   a.StorageID,
		}
		if err := tx.CreateAttachment(ctx, att); err != nil {
			tx.Rollback(ctx)
			slog.Error("worker: create attachment failed", "crash_id", d.CrashID, "name", a.Name, "error", err)
			return apperrors.Metadata(err, "failed to create attachment")
		}
	}

	for key, value := range d.Annotations {
		kind := service.AnnotationUser
		if systemAnnotations[key] {
			kind = service.AnnotationSystem
		}

		ann := service.Annotation{
			ID:        uuid.New(),
			CrashID:   d.CrashID,
			ProductID: d.AuthorizedProduct,
			Key:       key,
			Value:     value,
			Kind:      kind,
		}
		if err := tx.CreateAnnotation(ctx, ann); err != nil {
			tx.Rollback(ctx)
			slog.Error("worker: create annotation failed", "crash_id", d.CrashID, "key", key, "error", err)
			return apperrors.Metadata(err, "failed to create annotation")
		}
	}

	if err := tx.Commit(ctx); err != nil {
		slog.Error("worker: commit transaction failed", "crash_id", d.CrashID, "error", err)
		return apperrors.Metadata(err, "failed to store crash report")
	}

	return nil
}
