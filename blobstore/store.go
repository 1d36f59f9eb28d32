// Package blobstore provides durable byte storage for compressed cuboid
// blobs, keyed by cube key.
//
// # Built-in implementations
//
//   - LocalStore: files under a cache-root directory, atomic replace
//   - MemoryStore: in-memory, for tests
//   - s3.Store: Amazon S3
//   - minio.Store: MinIO and other S3-compatible endpoints
//
// All implementations must be safe for concurrent use across distinct
// keys. Store must be atomic: a concurrent Load never observes a
// partially written blob, and on success the new blob entirely replaces
// any prior content for that key.
package blobstore

import (
	"context"
	"os"
)

// ErrNotFound is returned when a blob does not exist.
//
// Implementations should return an error that satisfies
// `errors.Is(err, ErrNotFound)`. The default maps to `os.ErrNotExist`.
var ErrNotFound = os.ErrNotExist

// BlobStore stores compressed cuboid blobs by cube key.
type BlobStore interface {
	// Load returns the blob for key, or ErrNotFound.
	Load(ctx context.Context, key string) ([]byte, error)

	// Store durably writes the blob for key, replacing any prior content.
	Store(ctx context.Context, key string, blob []byte) error

	// Delete removes the blob for key. Deleting an absent key is not an
	// error.
	Delete(ctx context.Context, key string) error
}
