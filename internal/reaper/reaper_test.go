package reaper

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/crashvault/crashvault/internal/objectstore"
	"github.com/crashvault/crashvault/internal/objectstore/memory"
	"github.com/crashvault/crashvault/internal/service"
)

// minimalAdminStorer overrides only ReferencedBlobUUIDs; with FailedRetention
// left at zero the reaper calls no other AdminStorer method.
type minimalAdminStorer struct {
	service.AdminStorer
	refs map[uuid.UUID]struct{}
}

func (s *minimalAdminStorer) ReferencedBlobUUIDs(context.Context) (map[uuid.UUID]struct{}, error) {
	return s.refs, nil
}

func TestRunDeletesUnreferencedBlobs(t *testing.T) {
	objs := memory.New()
	ctx := context.Background()

	dbReferenced := uuid.New()
	descriptorReferenced := uuid.New()
	orphan := uuid.New()

	put(t, ctx, objs, objectstore.PrefixMinidumps+dbReferenced.String(), "db-referenced")
	put(t, ctx, objs, objectstore.PrefixMinidumps+descriptorReferenced.String(), "descriptor-referenced")
	put(t, ctx, objs, objectstore.PrefixMinidumps+orphan.String(), "orphan")

	desc := service.CrashDescriptor{
		CrashID:  uuid.New(),
		Minidump: service.BlobRef{StorageID: descriptorReferenced},
	}
	descBytes, err := json.Marshal(desc)
	if err != nil {
		t.Fatalf("marshal descriptor: %v", err)
	}
	put(t, ctx, objs, objectstore.PrefixCrashes+desc.CrashID.String()+".json", string(descBytes))

	store := &minimalAdminStorer{refs: map[uuid.UUID]struct{}{dbReferenced: {}}}

	r := &Reaper{Objects: objs, Store: store}
	if err := r.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if objs.Has(objectstore.PrefixMinidumps + dbReferenced.String()) {
		// should remain
	} else {
		t.Fatal("db-referenced blob was deleted")
	}
	if !objs.Has(objectstore.PrefixMinidumps + descriptorReferenced.String()) {
		t.Fatal("descriptor-referenced blob was deleted")
	}
	if objs.Has(objectstore.PrefixMinidumps + orphan.String()) {
		t.Fatal("orphan blob was not deleted")
	}
}

// fakeCrashStorer overrides ReferencedBlobUUIDs, ListCrashes and DeleteCrash
// for the failed-retention purge path.
type fakeCrashStorer struct {
	service.AdminStorer
	refs    map[uuid.UUID]struct{}
	crashes []service.Crash
	deleted []uuid.UUID
}

func (s *fakeCrashStorer) ReferencedBlobUUIDs(context.Context) (map[uuid.UUID]struct{}, error) {
	return s.refs, nil
}

func (s *fakeCrashStorer) ListCrashes(context.Context, service.QueryParams) ([]service.Crash, error) {
	return s.crashes, nil
}

func (s *fakeCrashStorer) DeleteCrash(_ context.Context, id uuid.UUID) error {
	s.deleted = append(s.deleted, id)
	return nil
}

func TestRunPurgesExpiredFailedCrashesOnly(t *testing.T) {
	objs := memory.New()
	ctx := context.Background()

	expired := service.Crash{ID: uuid.New(), State: service.CrashFailed, SubmissionTimestamp: time.Now().Add(-48 * time.Hour)}
	fresh := service.Crash{ID: uuid.New(), State: service.CrashFailed, SubmissionTimestamp: time.Now()}
	processed := service.Crash{ID: uuid.New(), State: service.CrashProcessed, SubmissionTimestamp: time.Now().Add(-48 * time.Hour)}

	store := &fakeCrashStorer{refs: map[uuid.UUID]struct{}{}, crashes: []service.Crash{expired, fresh, processed}}

	r := &Reaper{Objects: objs, Store: store, FailedRetention: 24 * time.Hour}
	if err := r.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(store.deleted) != 1 || store.deleted[0] != expired.ID {
		t.Fatalf("got deleted %v, want only %s purged", store.deleted, expired.ID)
	}
}

func TestRunSkipsPurgeWhenRetentionUnset(t *testing.T) {
	objs := memory.New()
	ctx := context.Background()

	store := &minimalAdminStorer{refs: map[uuid.UUID]struct{}{}}

	r := &Reaper{Objects: objs, Store: store}
	if err := r.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func put(t *testing.T, ctx context.Context, objs *memory.Store, key, content string) {
	t.Helper()
	if err := objs.Put(ctx, key, bytes.NewReader([]byte(content)), int64(len(content))); err != nil {
		t.Fatalf("put %s: %v", key, err)
	}
}
