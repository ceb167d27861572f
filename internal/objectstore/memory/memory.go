// Package memory is the in-memory objectstore.Store backend used by every
// test in this repository, the same role internal/store/memory plays for
// the metadata repository.
package memory

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"iter"
	"sort"
	"strings"
	"sync"

	"github.com/crashvault/crashvault/internal/apperrors"
	"github.com/crashvault/crashvault/internal/objectstore"
)

// Store is a mutex-guarded map[string][]byte satisfying objectstore.Store.
type Store struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

// New returns an empty in-memory store.
func New() *Store {
	return &Store{objects: make(map[string][]byte)}
}

func (s *Store) Put(_ context.Context, key string, r io.Reader, size int64) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return apperrors.Storage(err, "read blob body for %q", key)
	}
	if size >= 0 && int64(len(data)) != size {
		return apperrors.Storage(fmt.Errorf("got %d bytes, want %d", len(data), size), "put %q", key)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = data

	return nil
}

// PutStream has nothing to stream to in-process: this backend is a test
// fixture, so it buffers to a temp slice and delegates to Put.
func (s *Store) PutStream(ctx context.Context, key string, r io.Reader) (int64, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return 0, apperrors.Storage(err, "read blob body for %q", key)
	}
	if err := s.Put(ctx, key, bytes.NewReader(data), int64(len(data))); err != nil {
		return 0, err
	}
	return int64(len(data)), nil
}

func (s *Store) Get(_ context.Context, key string) (io.ReadCloser, error) {
	s.mu.RLock()
	data, ok := s.objects[key]
	s.mu.RUnlock()
	if !ok {
		return nil, apperrors.Storage(nil, "object %q not found", key)
	}

	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *Store) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)

	return nil
}

func (s *Store) List(_ context.Context, prefix string) iter.Seq2[objectstore.ObjectInfo, error] {
	return func(yield func(objectstore.ObjectInfo, error) bool) {
		s.mu.RLock()
		keys := make([]string, 0, len(s.objects))
		for k := range s.objects {
			if strings.HasPrefix(k, prefix) {
				keys = append(keys, k)
			}
		}
		sort.Strings(keys)
		infos := make([]objectstore.ObjectInfo, 0, len(keys))
		for _, k := range keys {
			infos = append(infos, objectstore.ObjectInfo{Key: k, Size: int64(len(s.objects[k]))})
		}
		s.mu.RUnlock()

		for _, info := range infos {
			if !yield(info, nil) {
				return
			}
		}
	}
}

// Has reports whether key exists, a test-only convenience.
func (s *Store) Has(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.objects[key]
	return ok
}

// Len returns the number of stored blobs, a test-only convenience.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}
