package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"strings"

	"github.com/voxgo/voxgo/internal/fs"
)

// LocalStore implements BlobStore on the local file system. Each key maps
// to one file under the root directory; the slashes inside a cube key
// shard the tree by channel and resolution, keeping directory sizes
// bounded without any extra hashing scheme.
type LocalStore struct {
	root string
	fs   fs.FileSystem
}

// NewLocalStore creates a LocalStore rooted at the given directory. The
// directory is created if it does not exist.
func NewLocalStore(root string) (*LocalStore, error) {
	return NewLocalStoreFS(root, fs.Default)
}

// NewLocalStoreFS is NewLocalStore with an injected file system, used by
// tests for fault injection.
func NewLocalStoreFS(root string, fsys fs.FileSystem) (*LocalStore, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("blobstore: resolve root %q: %w", root, err)
	}
	if err := fsys.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("blobstore: create root %q: %w", abs, err)
	}
	return &LocalStore{root: abs, fs: fsys}, nil
}

// Root returns the absolute cache-root directory path.
func (s *LocalStore) Root() string {
	return s.root
}

func (s *LocalStore) path(key string) (string, error) {
	if key == "" || strings.HasPrefix(key, "/") {
		return "", fmt.Errorf("blobstore: invalid key %q", key)
	}
	for _, part := range strings.Split(key, "/") {
		if part == "" || part == "." || part == ".." {
			return "", fmt.Errorf("blobstore: invalid key %q", key)
		}
	}
	return filepath.Join(s.root, filepath.FromSlash(key)), nil
}

// Load reads the whole blob for key.
func (s *LocalStore) Load(_ context.Context, key string) ([]byte, error) {
	path, err := s.path(key)
	if err != nil {
		return nil, err
	}

	f, err := s.fs.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("blobstore: %q: %w", key, ErrNotFound)
		}
		return nil, fmt.Errorf("blobstore: open %q: %w", key, err)
	}
	defer func() { _ = f.Close() }()

	blob, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("blobstore: read %q: %w", key, err)
	}
	return blob, nil
}

// Store writes the blob through a temporary file and renames it into
// place, so a reader either sees the old content or the new content but
// never a partial write. A request cancelled mid-write leaves nothing
// visible.
func (s *LocalStore) Store(_ context.Context, key string, blob []byte) error {
	path, err := s.path(key)
	if err != nil {
		return err
	}

	if err := s.fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("blobstore: create shard dir for %q: %w", key, err)
	}

	tmp := fmt.Sprintf("%s.tmp.%08x", path, rand.Uint32())
	f, err := s.fs.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("blobstore: create temp for %q: %w", key, err)
	}

	if err := writeAndSync(f, blob); err != nil {
		_ = f.Close()
		_ = s.fs.Remove(tmp)
		return fmt.Errorf("blobstore: write %q: %w", key, err)
	}
	if err := f.Close(); err != nil {
		_ = s.fs.Remove(tmp)
		return fmt.Errorf("blobstore: close temp for %q: %w", key, err)
	}

	if err := s.fs.Rename(tmp, path); err != nil {
		_ = s.fs.Remove(tmp)
		return fmt.Errorf("blobstore: publish %q: %w", key, err)
	}
	return nil
}

// Delete removes the blob file. Idempotent.
func (s *LocalStore) Delete(_ context.Context, key string) error {
	path, err := s.path(key)
	if err != nil {
		return err
	}
	if err := s.fs.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("blobstore: delete %q: %w", key, err)
	}
	return nil
}

func writeAndSync(f fs.File, blob []byte) error {
	if _, err := f.Write(blob); err != nil {
		return err
	}
	return f.Sync()
}
