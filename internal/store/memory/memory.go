// Package memory is an in-process service.AdminStorer double: never selected
// by configuration (see config.Store's doc comment), used only by tests
// that need a full metadata repository without a Postgres instance.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/worldline-go/types"

	"github.com/crashvault/crashvault/internal/apperrors"
	"github.com/crashvault/crashvault/internal/service"
)

// Store is a mutex-guarded map-backed service.AdminStorer.
type Store struct {
	mu sync.Mutex

	products    map[uuid.UUID]service.Product
	versions    map[uuid.UUID]service.Version
	symbols     map[uuid.UUID]service.Symbol
	crashes     map[uuid.UUID]service.Crash
	attachments map[uuid.UUID]service.Attachment
	annotations map[uuid.UUID]service.Annotation
	tokens      map[uuid.UUID]service.APIToken
}

func New() *Store {
	return &Store{
		products:    map[uuid.UUID]service.Product{},
		versions:    map[uuid.UUID]service.Version{},
		symbols:     map[uuid.UUID]service.Symbol{},
		crashes:     map[uuid.UUID]service.Crash{},
		attachments: map[uuid.UUID]service.Attachment{},
		annotations: map[uuid.UUID]service.Annotation{},
		tokens:      map[uuid.UUID]service.APIToken{},
	}
}

// Seed* helpers let tests populate fixtures without going through the full
// upload/processing flow.

func (s *Store) SeedProduct(p service.Product) { s.mu.Lock(); defer s.mu.Unlock(); s.products[p.ID] = p }
func (s *Store) SeedToken(t service.APIToken)   { s.mu.Lock(); defer s.mu.Unlock(); s.tokens[t.TokenID] = t }

func (s *Store) GetProductByName(_ context.Context, name string) (*service.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.products {
		if p.Name == name {
			cp := p
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *Store) GetProduct(_ context.Context, id uuid.UUID) (*service.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (s *Store) ListProducts(_ context.Context, q service.QueryParams) ([]service.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]service.Product, 0, len(s.products))
	for _, p := range s.products {
		if q.Filter != "" && !strings.Contains(strings.ToLower(p.Name), strings.ToLower(q.Filter)) {
			continue
		}
		out = append(out, p)
	}
	if err := applySort(q, map[string]struct{}{"id": {}, "name": {}, "accepting_crashes": {}}); err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return applyRange(out, q.Range), nil
}

func (s *Store) GetVersion(_ context.Context, productID uuid.UUID, name string) (*service.Version, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, v := range s.versions {
		if v.ProductID == productID && v.Name == name {
			cp := v
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *Store) ListVersions(_ context.Context, productID uuid.UUID, q service.QueryParams) ([]service.Version, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]service.Version, 0)
	for _, v := range s.versions {
		if v.ProductID == productID {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return applyRange(out, q.Range), nil
}

func (s *Store) UpsertSymbol(_ context.Context, _ service.SymbolTx, sym service.Symbol) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, existing := range s.symbols {
		if existing.ProductID == sym.ProductID && existing.ModuleID == sym.ModuleID && existing.BuildID == sym.BuildID {
			sym.ID = id
			s.symbols[id] = sym
			return nil
		}
	}

	if sym.ID == uuid.Nil {
		sym.ID = uuid.New()
	}
	s.symbols[sym.ID] = sym
	return nil
}

func (s *Store) GetSymbol(_ context.Context, productID uuid.UUID, moduleID, buildID string) (*service.Symbol, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sym := range s.symbols {
		if sym.ProductID == productID && sym.ModuleID == moduleID && sym.BuildID == buildID {
			cp := sym
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *Store) ListSymbols(_ context.Context, q service.QueryParams) ([]service.Symbol, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]service.Symbol, 0, len(s.symbols))
	for _, sym := range s.symbols {
		out = append(out, sym)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ModuleID < out[j].ModuleID })
	return applyRange(out, q.Range), nil
}

func (s *Store) CreatePendingCrash(_ context.Context, c service.Crash) (*service.Crash, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	c.State = service.CrashPending
	s.crashes[c.ID] = c
	return &c, nil
}

func (s *Store) GetCrash(_ context.Context, id uuid.UUID) (*service.Crash, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.crashes[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (s *Store) ListCrashes(_ context.Context, q service.QueryParams) ([]service.Crash, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]service.Crash, 0, len(s.crashes))
	for _, c := range s.crashes {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SubmissionTimestamp.Before(out[j].SubmissionTimestamp) })
	return applyRange(out, q.Range), nil
}

func (s *Store) CompleteCrash(_ context.Context, id uuid.UUID, report []byte, signature string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.crashes[id]
	c.State = service.CrashProcessed
	c.Report = report
	c.Signature = &signature
	s.crashes[id] = c
	return nil
}

func (s *Store) FailCrash(_ context.Context, id uuid.UUID, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.crashes[id]
	c.State = service.CrashFailed
	s.crashes[id] = c
	return nil
}

func (s *Store) DeleteCrash(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.crashes, id)
	return nil
}

func (s *Store) CreateAttachment(_ context.Context, a service.Attachment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	s.attachments[a.ID] = a
	return nil
}

func (s *Store) ListAttachments(_ context.Context, crashID uuid.UUID) ([]service.Attachment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []service.Attachment
	for _, a := range s.attachments {
		if a.CrashID == crashID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *Store) CreateAnnotation(_ context.Context, a service.Annotation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	s.annotations[a.ID] = a
	return nil
}

func (s *Store) ListAnnotations(_ context.Context, crashID uuid.UUID) ([]service.Annotation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []service.Annotation
	for _, a := range s.annotations {
		if a.CrashID == crashID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *Store) GetAPITokenByTokenID(_ context.Context, tokenID uuid.UUID) (*service.APIToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[tokenID]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (s *Store) TouchLastUsed(_ context.Context, tokenID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[tokenID]
	if !ok {
		return nil
	}
	now := timeNow()
	t.LastUsedAt = types.NewTimeNull(now)
	s.tokens[tokenID] = t
	return nil
}

func (s *Store) BeginAdmin(context.Context) (service.Tx, error) { return &tx{store: s}, nil }
func (s *Store) BeginSymbol(context.Context) (service.SymbolTx, error) { return &tx{store: s}, nil }

func (s *Store) ReferencedBlobUUIDs(context.Context) (map[uuid.UUID]struct{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := map[uuid.UUID]struct{}{}
	for _, c := range s.crashes {
		if c.MinidumpStorageID != nil {
			out[*c.MinidumpStorageID] = struct{}{}
		}
	}
	for _, a := range s.attachments {
		out[a.StorageID] = struct{}{}
	}
	return out, nil
}

func (s *Store) Close() error { return nil }

// tx is a no-op transactional wrapper: every write already lands directly
// in Store's maps under its mutex, so Commit/Rollback have nothing to do.
// This mirrors the teacher's own in-memory test double, which never models
// partial failure either.
type tx struct{ store *Store }

func (t *tx) CreatePendingCrash(ctx context.Context, c service.Crash) (*service.Crash, error) {
	return t.store.CreatePendingCrash(ctx, c)
}
func (t *tx) GetCrash(ctx context.Context, id uuid.UUID) (*service.Crash, error) {
	return t.store.GetCrash(ctx, id)
}
func (t *tx) ListCrashes(ctx context.Context, q service.QueryParams) ([]service.Crash, error) {
	return t.store.ListCrashes(ctx, q)
}
func (t *tx) CompleteCrash(ctx context.Context, id uuid.UUID, report []byte, sig string) error {
	return t.store.CompleteCrash(ctx, id, report, sig)
}
func (t *tx) FailCrash(ctx context.Context, id uuid.UUID, reason string) error {
	return t.store.FailCrash(ctx, id, reason)
}
func (t *tx) DeleteCrash(ctx context.Context, id uuid.UUID) error {
	return t.store.DeleteCrash(ctx, id)
}
func (t *tx) CreateAttachment(ctx context.Context, a service.Attachment) error {
	return t.store.CreateAttachment(ctx, a)
}
func (t *tx) ListAttachments(ctx context.Context, id uuid.UUID) ([]service.Attachment, error) {
	return t.store.ListAttachments(ctx, id)
}
func (t *tx) CreateAnnotation(ctx context.Context, a service.Annotation) error {
	return t.store.CreateAnnotation(ctx, a)
}
func (t *tx) ListAnnotations(ctx context.Context, id uuid.UUID) ([]service.Annotation, error) {
	return t.store.ListAnnotations(ctx, id)
}
func (t *tx) Commit(context.Context) error   { return nil }
func (t *tx) Rollback(context.Context) error { return nil }

func timeNow() time.Time { return time.Now().UTC() }

func applySort(q service.QueryParams, allowed map[string]struct{}) error {
	for _, sc := range q.Sort {
		if _, ok := allowed[sc.Column]; !ok {
			return apperrors.ErrInvalidColumn
		}
	}
	return nil
}

func applyRange[T any](items []T, r *service.Range) []T {
	if r == nil {
		return items
	}
	if r.Offset >= len(items) {
		return nil
	}
	end := r.Offset + r.Limit
	if end > len(items) || r.Limit <= 0 {
		end = len(items)
	}
	return items[r.Offset:end]
}
