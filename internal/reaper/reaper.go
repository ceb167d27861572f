// Package reaper reconciles object-store blobs against metadata, deleting
// minidump and attachment blobs that neither a database row nor a crash
// descriptor references anymore.
package reaper

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/crashvault/crashvault/internal/objectstore"
	"github.com/crashvault/crashvault/internal/service"
)

// scannedPrefixes are the blob prefixes the reaper reconciles. Symbol and
// crash-descriptor blobs are never deleted by this sweep; a descriptor is
// deleted only when its failed crash is purged.
var scannedPrefixes = []string{objectstore.PrefixMinidumps, objectstore.PrefixAttachments}

// Reaper deletes object-store blobs under scannedPrefixes that are
// referenced by neither a metadata row nor a persisted crash descriptor, and
// purges failed crash rows once they outlive FailedRetention.
type Reaper struct {
	Objects objectstore.Store
	Store   service.AdminStorer

	// FailedRetention is how long a failed crash row (and, transitively,
	// its blobs once the next pass no longer sees it referenced) is kept
	// around for diagnostic retrieval. Zero disables the purge step.
	FailedRetention time.Duration
}

// Run performs one reconciliation pass. A listing or deletion error aborts
// the pass entirely; the caller (typically a cron schedule) retries on the
// next tick. A descriptor that fails to parse is logged and treated as
// referencing nothing — its own blob is unaffected since crashes/*.json is
// not one of scannedPrefixes.
func (r *Reaper) Run(ctx context.Context) error {
	if r.FailedRetention > 0 {
		if err := r.purgeExpiredFailed(ctx); err != nil {
			return err
		}
	}

	referenced, err := r.Store.ReferencedBlobUUIDs(ctx)
	if err != nil {
		return fmt.Errorf("reaper: load referenced blob ids: %w", err)
	}
	if referenced == nil {
		referenced = map[uuid.UUID]struct{}{}
	}

	if err := r.collectDescriptorReferences(ctx, referenced); err != nil {
		return err
	}

	for _, prefix := range scannedPrefixes {
		if err := r.sweepPrefix(ctx, prefix, referenced); err != nil {
			return err
		}
	}

	return nil
}

// purgeExpiredFailed deletes failed crash rows submitted before the
// retention cutoff, together with their crash descriptors: their blobs
// become unreferenced and are swept by the next prefix pass in the same run.
func (r *Reaper) purgeExpiredFailed(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-r.FailedRetention)

	crashes, err := r.Store.ListCrashes(ctx, service.QueryParams{})
	if err != nil {
		return fmt.Errorf("reaper: list crashes: %w", err)
	}

	for _, c := range crashes {
		if c.State != service.CrashFailed || !c.SubmissionTimestamp.Before(cutoff) {
			continue
		}
		if err := r.Store.DeleteCrash(ctx, c.ID); err != nil {
			return fmt.Errorf("reaper: purge failed crash %s: %w", c.ID, err)
		}
		descriptorKey := objectstore.PrefixCrashes + c.ID.String() + ".json"
		if err := r.Objects.Delete(ctx, descriptorKey); err != nil {
			return fmt.Errorf("reaper: delete descriptor %s: %w", descriptorKey, err)
		}
		slog.Info("reaper: purged expired failed crash", "crash_id", c.ID, "submitted_at", c.SubmissionTimestamp)
	}

	return nil
}

func (r *Reaper) collectDescriptorReferences(ctx context.Context, referenced map[uuid.UUID]struct{}) error {
	for info, err := range r.Objects.List(ctx, objectstore.PrefixCrashes) {
		if err != nil {
			return fmt.Errorf("reaper: list %s: %w", objectstore.PrefixCrashes, err)
		}
		if strings.HasSuffix(info.Key, "/") {
			continue
		}

		desc, err := r.readDescriptor(ctx, info.Key)
		if err != nil {
			slog.Warn("reaper: skipping unparseable crash descriptor", "key", info.Key, "error", err)
			continue
		}

		referenced[desc.Minidump.StorageID] = struct{}{}
		for _, a := range desc.Attachments {
			referenced[a.StorageID] = struct{}{}
		}
	}

	return nil
}

func (r *Reaper) readDescriptor(ctx context.Context, key string) (service.CrashDescriptor, error) {
	rc, err := r.Objects.Get(ctx, key)
	if err != nil {
		return service.CrashDescriptor{}, err
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return service.CrashDescriptor{}, err
	}

	var desc service.CrashDescriptor
	if err := json.Unmarshal(data, &desc); err != nil {
		return service.CrashDescriptor{}, err
	}

	return desc, nil
}

func (r *Reaper) sweepPrefix(ctx context.Context, prefix string, referenced map[uuid.UUID]struct{}) error {
	var toDelete []string

	for info, err := range r.Objects.List(ctx, prefix) {
		if err != nil {
			return fmt.Errorf("reaper: list %s: %w", prefix, err)
		}
		if strings.HasSuffix(info.Key, "/") {
			continue
		}

		id, ok := blobUUID(info.Key)
		if !ok {
			continue
		}

		if _, ok := referenced[id]; !ok {
			toDelete = append(toDelete, info.Key)
		}
	}

	for _, key := range toDelete {
		if err := r.Objects.Delete(ctx, key); err != nil {
			return fmt.Errorf("reaper: delete %s: %w", key, err)
		}
		slog.Info("reaper: deleted orphaned blob", "key", key)
	}

	return nil
}

// blobUUID extracts and parses the UUID tail of a blob key
// ("minidumps/<uuid>"). Keys whose tail isn't a valid UUID are skipped
// rather than treated as an error — the prefix may hold other content.
func blobUUID(key string) (uuid.UUID, bool) {
	idx := strings.LastIndex(key, "/")
	tail := key
	if idx >= 0 {
		tail = key[idx+1:]
	}

	id, err := uuid.Parse(tail)
	if err != nil {
		return uuid.UUID{}, false
	}
	return id, true
}
