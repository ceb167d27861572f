package api

import (
	"context"
	"log/slog"
	"sync"

	"github.com/crashvault/crashvault/internal/objectstore"
)

// blobSet is the scoped-acquisition tracker design note §9 calls for: every
// key an upload handler writes to object storage is recorded here, and on
// any abnormal exit the handler calls cleanup to best-effort delete every
// one of them before the error is surfaced. Released (committed) uploads
// never call cleanup.
type blobSet struct {
	mu   sync.Mutex
	keys []string
}

func (b *blobSet) track(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.keys = append(b.keys, key)
}

// cleanup deletes every tracked key, logging (not returning) individual
// failures: cleanup is best-effort, per spec §4.5, and never masks the
// original error that triggered it.
func (b *blobSet) cleanup(ctx context.Context, objects objectstore.Store) {
	b.mu.Lock()
	keys := append([]string(nil), b.keys...)
	b.mu.Unlock()

	for _, key := range keys {
		if err := objects.Delete(ctx, key); err != nil {
			slog.Error("cleanup: failed to delete blob", "key", key, "error", err)
		}
	}
}
