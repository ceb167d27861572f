package worker

import (
	"bytes"
	"context"
	"io"
	"iter"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/crashvault/crashvault/internal/objectstore"
	"github.com/crashvault/crashvault/internal/queue"
	qmemory "github.com/crashvault/crashvault/internal/queue/memory"
	"github.com/crashvault/crashvault/internal/service"
	"github.com/crashvault/crashvault/internal/signature"
)

// fakeObjects is a minimal in-memory objectstore.Store double.
type fakeObjects struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newFakeObjects() *fakeObjects { return &fakeObjects{objects: map[string][]byte{}} }

func (f *fakeObjects) Put(_ context.Context, key string, r io.Reader, _ int64) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = data
	return nil
}

func (f *fakeObjects) PutStream(_ context.Context, key string, r io.Reader) (int64, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = data
	return int64(len(data)), nil
}

func (f *fakeObjects) Get(_ context.Context, key string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[key]
	if !ok {
		return nil, errObjectNotFound(key)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (f *fakeObjects) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, key)
	return nil
}

func (f *fakeObjects) List(_ context.Context, prefix string) iter.Seq2[objectstore.ObjectInfo, error] {
	return func(yield func(objectstore.ObjectInfo, error) bool) {}
}

func errObjectNotFound(key string) error {
	return &notFoundErr{key: key}
}

type notFoundErr struct{ key string }

func (e *notFoundErr) Error() string { return "object not found: " + e.key }

// fakeStore is a minimal service.AdminStorer double.
type fakeStore struct {
	mu      sync.Mutex
	symbols map[string]service.Symbol
	crashes map[uuid.UUID]service.Crash
	failed  map[uuid.UUID]string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		symbols: map[string]service.Symbol{},
		crashes: map[uuid.UUID]service.Crash{},
		failed:  map[uuid.UUID]string{},
	}
}

func (s *fakeStore) GetProductByName(context.Context, string) (*service.Product, error) { return nil, nil }
func (s *fakeStore) GetProduct(context.Context, uuid.UUID) (*service.Product, error)     { return nil, nil }
func (s *fakeStore) ListProducts(context.Context, service.QueryParams) ([]service.Product, error) {
	return nil, nil
}
func (s *fakeStore) GetVersion(context.Context, uuid.UUID, string) (*service.Version, error) {
	return nil, nil
}
func (s *fakeStore) ListVersions(context.Context, uuid.UUID, service.QueryParams) ([]service.Version, error) {
	return nil, nil
}
func (s *fakeStore) UpsertSymbol(context.Context, service.SymbolTx, service.Symbol) error { return nil }
func (s *fakeStore) GetSymbol(_ context.Context, _ uuid.UUID, moduleID, buildID string) (*service.Symbol, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sym, ok := s.symbols[moduleID+"-"+buildID]
	if !ok {
		return nil, nil
	}
	return &sym, nil
}
func (s *fakeStore) ListSymbols(context.Context, service.QueryParams) ([]service.Symbol, error) {
	return nil, nil
}
func (s *fakeStore) CreatePendingCrash(_ context.Context, c service.Crash) (*service.Crash, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.crashes[c.ID] = c
	return &c, nil
}
func (s *fakeStore) GetCrash(_ context.Context, id uuid.UUID) (*service.Crash, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.crashes[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}
func (s *fakeStore) ListCrashes(context.Context, service.QueryParams) ([]service.Crash, error) {
	return nil, nil
}
func (s *fakeStore) CompleteCrash(_ context.Context, id uuid.UUID, report []byte, sig string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.crashes[id]
	c.State = service.CrashProcessed
	c.Report = report
	c.Signature = &sig
	s.crashes[id] = c
	return nil
}
func (s *fakeStore) FailCrash(_ context.Context, id uuid.UUID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed[id] = reason
	c := s.crashes[id]
	c.State = service.CrashFailed
	s.crashes[id] = c
	return nil
}
func (s *fakeStore) DeleteCrash(context.Context, uuid.UUID) error { return nil }
func (s *fakeStore) CreateAttachment(context.Context, service.Attachment) error { return nil }
func (s *fakeStore) ListAttachments(context.Context, uuid.UUID) ([]service.Attachment, error) {
	return nil, nil
}
func (s *fakeStore) CreateAnnotation(context.Context, service.Annotation) error { return nil }
func (s *fakeStore) ListAnnotations(context.Context, uuid.UUID) ([]service.Annotation, error) {
	return nil, nil
}
func (s *fakeStore) GetAPITokenByTokenID(context.Context, uuid.UUID) (*service.APIToken, error) {
	return nil, nil
}
func (s *fakeStore) TouchLastUsed(context.Context, uuid.UUID) error { return nil }
func (s *fakeStore) BeginAdmin(context.Context) (service.Tx, error) {
	return &fakeTx{store: s}, nil
}
func (s *fakeStore) BeginSymbol(context.Context) (service.SymbolTx, error) { return &fakeTx{store: s}, nil }
func (s *fakeStore) ReferencedBlobUUIDs(context.Context) (map[uuid.UUID]struct{}, error) {
	return nil, nil
}
func (s *fakeStore) Close() error { return nil }

type fakeTx struct{ store *fakeStore }

func (t *fakeTx) CreatePendingCrash(ctx context.Context, c service.Crash) (*service.Crash, error) {
	return t.store.CreatePendingCrash(ctx, c)
}
func (t *fakeTx) GetCrash(ctx context.Context, id uuid.UUID) (*service.Crash, error) {
	return t.store.GetCrash(ctx, id)
}
func (t *fakeTx) ListCrashes(ctx context.Context, q service.QueryParams) ([]service.Crash, error) {
	return t.store.ListCrashes(ctx, q)
}
func (t *fakeTx) CompleteCrash(ctx context.Context, id uuid.UUID, report []byte, sig string) error {
	return t.store.CompleteCrash(ctx, id, report, sig)
}
func (t *fakeTx) FailCrash(ctx context.Context, id uuid.UUID, reason string) error {
	return t.store.FailCrash(ctx, id, reason)
}
func (t *fakeTx) DeleteCrash(ctx context.Context, id uuid.UUID) error {
	return t.store.DeleteCrash(ctx, id)
}
func (t *fakeTx) CreateAttachment(ctx context.Context, a service.Attachment) error {
	return t.store.CreateAttachment(ctx, a)
}
func (t *fakeTx) ListAttachments(ctx context.Context, id uuid.UUID) ([]service.Attachment, error) {
	return t.store.ListAttachments(ctx, id)
}
func (t *fakeTx) CreateAnnotation(ctx context.Context, a service.Annotation) error {
	return t.store.CreateAnnotation(ctx, a)
}
func (t *fakeTx) ListAnnotations(ctx context.Context, id uuid.UUID) ([]service.Annotation, error) {
	return t.store.ListAnnotations(ctx, id)
}
func (t *fakeTx) Commit(context.Context) error   { return nil }
func (t *fakeTx) Rollback(context.Context) error { return nil }

func TestProcessOnceFailsOnInvalidMinidump(t *testing.T) {
	objs := newFakeObjects()
	store := newFakeStore()
	gen, err := signature.NewGenerator(signature.Config{})
	if err != nil {
		t.Fatalf("NewGenerator: %v", err)
	}

	crashID := uuid.New()
	store.crashes[crashID] = service.Crash{ID: crashID, State: service.CrashPending}

	objs.objects["minidumps/bad"] = []byte("not a minidump")

	w := &Worker{Objects: objs, Store: store, Generator: gen}

	d := service.CrashDescriptor{
		CrashID:  crashID,
		Minidump: service.BlobRef{StoragePath: "minidumps/bad"},
	}

	if err := w.process(context.Background(), queue.Job{Descriptor: d}); err == nil {
		t.Fatal("expected error for invalid minidump")
	}

	if store.crashes[crashID].State != service.CrashFailed {
		t.Fatalf("got state %q, want failed", store.crashes[crashID].State)
	}
	if reason, ok := store.failed[crashID]; !ok {
		t.Fatal("expected FailCrash to be recorded")
	} else if reason != "failed to read minidump" {
		t.Fatalf("got failure reason %q, want %q", reason, "failed to read minidump")
	}
}

func TestWorkerRunStopsOnContextCancel(t *testing.T) {
	q := qmemory.New(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	w := &Worker{Queue: q, Store: newFakeStore(), Objects: newFakeObjects()}
	if err := w.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
}
