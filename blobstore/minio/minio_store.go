// Package minio implements blobstore.BlobStore for MinIO and other
// S3-compatible object stores.
package minio

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"

	"github.com/minio/minio-go/v7"

	"github.com/voxgo/voxgo/blobstore"
)

// Store implements blobstore.BlobStore backed by a MinIO client.
type Store struct {
	client *minio.Client
	bucket string
	prefix string
}

// NewStore creates a new MinIO blob store. rootPrefix is prepended to all
// keys (e.g. "cuboids/").
func NewStore(client *minio.Client, bucket, rootPrefix string) *Store {
	return &Store{
		client: client,
		bucket: bucket,
		prefix: rootPrefix,
	}
}

func (s *Store) key(name string) string {
	return path.Join(s.prefix, name)
}

// Load fetches the whole object for key.
func (s *Store) Load(ctx context.Context, key string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, s.key(key), minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("minio blobstore: get %q: %w", key, err)
	}
	defer func() { _ = obj.Close() }()

	blob, err := io.ReadAll(obj)
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("minio blobstore: %q: %w", key, blobstore.ErrNotFound)
		}
		return nil, fmt.Errorf("minio blobstore: read %q: %w", key, err)
	}
	return blob, nil
}

// Store uploads the blob. Object replacement is atomic on S3-compatible
// stores.
func (s *Store) Store(ctx context.Context, key string, blob []byte) error {
	_, err := s.client.PutObject(ctx, s.bucket, s.key(key),
		bytes.NewReader(blob), int64(len(blob)), minio.PutObjectOptions{})
	if err != nil {
		return fmt.Errorf("minio blobstore: put %q: %w", key, err)
	}
	return nil
}

// Delete removes the object. Idempotent.
func (s *Store) Delete(ctx context.Context, key string) error {
	err := s.client.RemoveObject(ctx, s.bucket, s.key(key), minio.RemoveObjectOptions{})
	if err != nil {
		if isNotFound(err) {
			return nil
		}
		return fmt.Errorf("minio blobstore: delete %q: %w", key, err)
	}
	return nil
}

func isNotFound(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.Code == "NotFound"
}
