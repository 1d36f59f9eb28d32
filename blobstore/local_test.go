package blobstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/voxgo/voxgo/internal/fs"
)

func TestLocalStore_Lifecycle(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	ctx := context.Background()
	key := "kasthuri11/0/x3_y0_z12"
	blob := []byte("compressed cuboid bytes")

	// Missing key is NotFound, not a hard failure.
	_, err = store.Load(ctx, key)
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.Store(ctx, key, blob))

	got, err := store.Load(ctx, key)
	require.NoError(t, err)
	require.Equal(t, blob, got)

	// Key slashes shard the directory tree.
	_, err = os.Stat(filepath.Join(store.Root(), "kasthuri11", "0", "x3_y0_z12"))
	require.NoError(t, err)

	require.NoError(t, store.Delete(ctx, key))
	_, err = store.Load(ctx, key)
	require.ErrorIs(t, err, ErrNotFound)

	// Deleting again is a no-op.
	require.NoError(t, store.Delete(ctx, key))
}

func TestLocalStore_StoreReplaces(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	ctx := context.Background()
	key := "chan/0/x0_y0_z0"

	require.NoError(t, store.Store(ctx, key, []byte("first version, longer")))
	require.NoError(t, store.Store(ctx, key, []byte("second")))

	got, err := store.Load(ctx, key)
	require.NoError(t, err)
	require.Equal(t, []byte("second"), got)

	// Idempotent store: same blob twice yields one file with that content.
	require.NoError(t, store.Store(ctx, key, []byte("second")))
	got, err = store.Load(ctx, key)
	require.NoError(t, err)
	require.Equal(t, []byte("second"), got)
}

func TestLocalStore_FailedWriteLeavesNothingVisible(t *testing.T) {
	ffs := fs.NewFaultyFS(nil)
	ffs.AddRule(".tmp.", fs.Fault{FailAfterBytes: 4})

	store, err := NewLocalStoreFS(t.TempDir(), ffs)
	require.NoError(t, err)

	ctx := context.Background()
	key := "chan/0/x0_y0_z0"

	err = store.Store(ctx, key, []byte("this write will fail midway"))
	require.Error(t, err)

	// The key must not exist, and no temp file may be left behind.
	_, err = store.Load(ctx, key)
	require.ErrorIs(t, err, ErrNotFound)

	entries, err := os.ReadDir(filepath.Join(store.Root(), "chan", "0"))
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestLocalStore_FailedRenameCleansUp(t *testing.T) {
	ffs := fs.NewFaultyFS(nil)
	ffs.AddRule(".tmp.", fs.Fault{FailAfterBytes: -1, FailOnRename: true})

	store, err := NewLocalStoreFS(t.TempDir(), ffs)
	require.NoError(t, err)

	err = store.Store(context.Background(), "chan/0/x1_y1_z1", []byte("payload"))
	require.Error(t, err)

	entries, err := os.ReadDir(filepath.Join(store.Root(), "chan", "0"))
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestLocalStore_RejectsTraversalKeys(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	ctx := context.Background()
	for _, key := range []string{"", "/abs", "a//b", "../escape", "chan/../../etc"} {
		require.Error(t, store.Store(ctx, key, []byte("x")), "key %q", key)
	}
}

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_, err := store.Load(ctx, "k")
	require.ErrorIs(t, err, ErrNotFound)

	blob := []byte("data")
	require.NoError(t, store.Store(ctx, "k", blob))

	got, err := store.Load(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, blob, got)

	// Mutating the returned slice must not affect the stored blob.
	got[0] = 'X'
	again, err := store.Load(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, blob, again)

	require.NoError(t, store.Delete(ctx, "k"))
	require.NoError(t, store.Delete(ctx, "k"))
	require.Equal(t, 0, store.Len())
}
