// Package objectstore is the content-addressed blob facade every component
// in this repository writes minidumps, attachments, symbols, and crash
// descriptors through. All operations are fail-fast: any backend error is
// wrapped in apperrors.Storage and surfaced unchanged to the caller.
package objectstore

import (
	"context"
	"io"
	"iter"
)

// Fixed key prefixes the rest of the repository builds keys under.
const (
	PrefixMinidumps = "minidumps/"
	PrefixAttachments = "attachments/"
	PrefixSymbols     = "symbols/"
	PrefixCrashes     = "crashes/"
)

// ObjectInfo describes one listed blob.
type ObjectInfo struct {
	Key  string
	Size int64
}

// Store is the pluggable object-store contract. Keys are forward-slash
// delimited strings rooted under one of the fixed prefixes above.
type Store interface {
	// Put streams size bytes from r to key, overwriting any existing blob.
	// Use this when the caller already knows the length; for a reader of
	// unknown length (a multipart.Part) use PutStream instead.
	Put(ctx context.Context, key string, r io.Reader, size int64) error
	// PutStream writes r to key without requiring its length upfront,
	// overwriting any existing blob, and returns the number of bytes
	// written. The S3 backend streams r in bounded chunks; the in-memory
	// backend buffers the whole body.
	PutStream(ctx context.Context, key string, r io.Reader) (int64, error)
	// Get returns a reader for the blob at key. The caller must Close it.
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	// Delete removes the blob at key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// List lazily enumerates every blob whose key starts with prefix.
	List(ctx context.Context, prefix string) iter.Seq2[ObjectInfo, error]
}
