package cache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/voxgo/voxgo/blobstore"
	"github.com/voxgo/voxgo/codec"
	"github.com/voxgo/voxgo/index"
)

var testShape = [3]int{4, 4, 2}

const testElem = 2

func testBlock(seed byte) []byte {
	raw := make([]byte, testShape[0]*testShape[1]*testShape[2]*testElem)
	for i := range raw {
		raw[i] = seed + byte(i)
	}
	return raw
}

func staticFill(raw []byte) FillFunc {
	return func(context.Context) ([]byte, error) {
		return bytes.Clone(raw), nil
	}
}

// countingFill counts how often the source was consulted.
type countingFill struct {
	calls atomic.Int64
	raw   []byte
}

func (f *countingFill) fill(context.Context) ([]byte, error) {
	f.calls.Add(1)
	return bytes.Clone(f.raw), nil
}

// testCollector records engine events for assertions.
type testCollector struct {
	mu          sync.Mutex
	gets        int
	hits        int
	puts        int
	fills       int
	evicted     int
	corruptions []string
}

func (c *testCollector) RecordGet(hit bool, _ time.Duration, _ error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets++
	if hit {
		c.hits++
	}
}

func (c *testCollector) RecordPut(time.Duration, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.puts++
}

func (c *testCollector) RecordFill(time.Duration, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fills++
}

func (c *testCollector) RecordEviction(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.evicted += n
}

func (c *testCollector) RecordCorruption(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.corruptions = append(c.corruptions, key)
}

type testEngine struct {
	*Engine
	blobs   *blobstore.MemoryStore
	idx     *index.Index
	root    *index.Root
	metrics *testCollector
}

func newTestEngine(t *testing.T, mutate func(*Config)) *testEngine {
	t.Helper()

	ix, err := index.Open(filepath.Join(t.TempDir(), "cuboids.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = ix.Close() })

	// Strictly increasing timestamps make LRU order deterministic.
	base := time.Unix(1_700_000_000, 0)
	var ticks atomic.Int64
	ix.SetClock(func() time.Time {
		return base.Add(time.Duration(ticks.Add(1)) * time.Second)
	})

	root, err := ix.Root(context.Background(), "/cache/test")
	require.NoError(t, err)

	blobs := blobstore.NewMemoryStore()
	metrics := &testCollector{}
	cfg := Config{
		Blobs:   blobs,
		Index:   root,
		Metrics: metrics,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	e, err := New(cfg)
	require.NoError(t, err)
	return &testEngine{Engine: e, blobs: blobs, idx: ix, root: root, metrics: metrics}
}

func TestNew_RequiredFields(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)
	_, err = New(Config{Blobs: blobstore.NewMemoryStore()})
	require.Error(t, err)
}

func TestGet_MissFillsThenHits(t *testing.T) {
	te := newTestEngine(t, nil)
	ctx := context.Background()

	src := &countingFill{raw: testBlock(1)}

	got, err := te.Get(ctx, "c/0/x0_y0_z0", testShape, testElem, src.fill)
	require.NoError(t, err)
	require.Equal(t, src.raw, got)
	require.EqualValues(t, 1, src.calls.Load())
	require.Equal(t, 1, te.blobs.Len())

	// Second read is served from the cache.
	got, err = te.Get(ctx, "c/0/x0_y0_z0", testShape, testElem, src.fill)
	require.NoError(t, err)
	require.Equal(t, src.raw, got)
	require.EqualValues(t, 1, src.calls.Load())

	e, err := te.root.Lookup(ctx, "c/0/x0_y0_z0")
	require.NoError(t, err)
	require.EqualValues(t, 2, e.Requests)

	te.metrics.mu.Lock()
	defer te.metrics.mu.Unlock()
	require.Equal(t, 2, te.metrics.gets)
	require.Equal(t, 1, te.metrics.hits)
	require.Equal(t, 1, te.metrics.fills)
}

func TestGet_FillErrorLeavesNothingBehind(t *testing.T) {
	te := newTestEngine(t, nil)
	ctx := context.Background()

	boom := errors.New("source unavailable")
	_, err := te.Get(ctx, "c/0/x0_y0_z0", testShape, testElem,
		func(context.Context) ([]byte, error) { return nil, boom })
	require.ErrorIs(t, err, boom)

	require.Equal(t, 0, te.blobs.Len())
	_, err = te.root.Lookup(ctx, "c/0/x0_y0_z0")
	require.ErrorIs(t, err, index.ErrNotFound)
}

func TestPut_ReplacesContent(t *testing.T) {
	te := newTestEngine(t, nil)
	ctx := context.Background()

	first := testBlock(1)
	second := testBlock(9)

	require.NoError(t, te.Put(ctx, "c/0/x0_y0_z0", testShape, testElem, first))
	require.NoError(t, te.Put(ctx, "c/0/x0_y0_z0", testShape, testElem, second))

	noFill := func(context.Context) ([]byte, error) {
		return nil, errors.New("must not fill")
	}
	got, err := te.Get(ctx, "c/0/x0_y0_z0", testShape, testElem, noFill)
	require.NoError(t, err)
	require.Equal(t, second, got)

	n, err := te.root.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestEviction_OldestGoesFirst(t *testing.T) {
	te := newTestEngine(t, func(cfg *Config) { cfg.MaxCuboids = 3 })
	ctx := context.Background()

	keys := []string{
		"c/0/x0_y0_z0", // A
		"c/0/x1_y0_z0", // B
		"c/0/x2_y0_z0", // C
		"c/0/x3_y0_z0", // D
	}
	for i, key := range keys {
		require.NoError(t, te.Put(ctx, key, testShape, testElem, testBlock(byte(i))))
	}

	// Capacity held at 3; the oldest entry lost both its row and its blob.
	n, err := te.root.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, n)
	require.Equal(t, 3, te.blobs.Len())

	_, err = te.root.Lookup(ctx, keys[0])
	require.ErrorIs(t, err, index.ErrNotFound)
	_, err = te.blobs.Load(ctx, keys[0])
	require.ErrorIs(t, err, blobstore.ErrNotFound)

	for _, key := range keys[1:] {
		_, err := te.root.Lookup(ctx, key)
		require.NoError(t, err)
	}

	te.metrics.mu.Lock()
	defer te.metrics.mu.Unlock()
	require.Equal(t, 1, te.metrics.evicted)
}

func TestEviction_TouchRescuesEntry(t *testing.T) {
	te := newTestEngine(t, func(cfg *Config) { cfg.MaxCuboids = 3 })
	ctx := context.Background()

	a, b := "c/0/x0_y0_z0", "c/0/x1_y0_z0"
	require.NoError(t, te.Put(ctx, a, testShape, testElem, testBlock(0)))
	require.NoError(t, te.Put(ctx, b, testShape, testElem, testBlock(1)))
	require.NoError(t, te.Put(ctx, "c/0/x2_y0_z0", testShape, testElem, testBlock(2)))

	// Reading the oldest entry makes it the most recent.
	_, err := te.Get(ctx, a, testShape, testElem, staticFill(testBlock(0)))
	require.NoError(t, err)

	require.NoError(t, te.Put(ctx, "c/0/x3_y0_z0", testShape, testElem, testBlock(3)))

	_, err = te.root.Lookup(ctx, a)
	require.NoError(t, err)
	_, err = te.root.Lookup(ctx, b)
	require.ErrorIs(t, err, index.ErrNotFound)
}

func TestEviction_ManyInsertsStayBounded(t *testing.T) {
	te := newTestEngine(t, func(cfg *Config) { cfg.MaxCuboids = 5 })
	ctx := context.Background()

	for i := 0; i < 25; i++ {
		key := fmt.Sprintf("c/0/x%d_y0_z0", i)
		require.NoError(t, te.Put(ctx, key, testShape, testElem, testBlock(byte(i))))
	}

	n, err := te.root.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, 5, n)
	require.Equal(t, 5, te.blobs.Len())

	// The five newest survive.
	for i := 20; i < 25; i++ {
		_, err := te.root.Lookup(ctx, fmt.Sprintf("c/0/x%d_y0_z0", i))
		require.NoError(t, err)
	}
}

func TestGet_CorruptBlobIsPurgedAndRefilled(t *testing.T) {
	te := newTestEngine(t, nil)
	ctx := context.Background()

	key := "c/0/x0_y0_z0"
	require.NoError(t, te.Put(ctx, key, testShape, testElem, testBlock(1)))

	// Flip the magic so the blob fails its integrity check.
	blob, err := te.blobs.Load(ctx, key)
	require.NoError(t, err)
	blob[0] ^= 0xff
	require.NoError(t, te.blobs.Store(ctx, key, blob))

	fresh := testBlock(7)
	got, err := te.Get(ctx, key, testShape, testElem, staticFill(fresh))
	require.NoError(t, err)
	require.Equal(t, fresh, got)

	// The refill replaced the blob with a valid one.
	got, err = te.Get(ctx, key, testShape, testElem,
		func(context.Context) ([]byte, error) { return nil, errors.New("must not fill") })
	require.NoError(t, err)
	require.Equal(t, fresh, got)

	te.metrics.mu.Lock()
	defer te.metrics.mu.Unlock()
	require.Equal(t, []string{key}, te.metrics.corruptions)
}

func TestGet_TruncatedBlobIsPurgedAndRefilled(t *testing.T) {
	te := newTestEngine(t, nil)
	ctx := context.Background()

	key := "c/0/x0_y0_z0"
	require.NoError(t, te.Put(ctx, key, testShape, testElem, testBlock(1)))

	blob, err := te.blobs.Load(ctx, key)
	require.NoError(t, err)
	require.NoError(t, te.blobs.Store(ctx, key, blob[:len(blob)-3]))

	fresh := testBlock(5)
	got, err := te.Get(ctx, key, testShape, testElem, staticFill(fresh))
	require.NoError(t, err)
	require.Equal(t, fresh, got)
}

func TestGet_OrphanedRowSelfHeals(t *testing.T) {
	te := newTestEngine(t, nil)
	ctx := context.Background()

	key := "c/0/x0_y0_z0"
	require.NoError(t, te.Put(ctx, key, testShape, testElem, testBlock(1)))

	// Simulate a crashed eviction: the blob is gone, the row remains.
	require.NoError(t, te.blobs.Delete(ctx, key))

	fresh := testBlock(3)
	got, err := te.Get(ctx, key, testShape, testElem, staticFill(fresh))
	require.NoError(t, err)
	require.Equal(t, fresh, got)
	require.Equal(t, 1, te.blobs.Len())
}

func TestMemoryTier_ServesWithoutBlobStore(t *testing.T) {
	te := newTestEngine(t, func(cfg *Config) { cfg.MemoryCacheSize = 8 })
	ctx := context.Background()

	key := "c/0/x0_y0_z0"
	raw := testBlock(1)
	require.NoError(t, te.Put(ctx, key, testShape, testElem, raw))

	// Remove the blob; the decoded copy in memory still serves reads.
	require.NoError(t, te.blobs.Delete(ctx, key))

	got, err := te.Get(ctx, key, testShape, testElem,
		func(context.Context) ([]byte, error) { return nil, errors.New("must not fill") })
	require.NoError(t, err)
	require.Equal(t, raw, got)

	// Mutating the returned slice must not poison later reads.
	got[0] ^= 0xff
	again, err := te.Get(ctx, key, testShape, testElem,
		func(context.Context) ([]byte, error) { return nil, errors.New("must not fill") })
	require.NoError(t, err)
	require.Equal(t, raw, again)
}

func TestGet_ConcurrentMissesFillOnce(t *testing.T) {
	te := newTestEngine(t, nil)
	ctx := context.Background()

	src := &countingFill{raw: testBlock(1)}

	const readers = 16
	var wg sync.WaitGroup
	for i := 0; i < readers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := te.Get(ctx, "c/0/x0_y0_z0", testShape, testElem, src.fill)
			require.NoError(t, err)
			require.Equal(t, src.raw, got)
		}()
	}
	wg.Wait()

	// The key lock serializes the miss: one fill, the rest hit.
	require.EqualValues(t, 1, src.calls.Load())
}

func TestGet_ConcurrentKeysWithEviction(t *testing.T) {
	te := newTestEngine(t, func(cfg *Config) { cfg.MaxCuboids = 4 })
	ctx := context.Background()

	const workers = 8
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				key := fmt.Sprintf("c/0/x%d_y%d_z0", i, w)
				_, err := te.Get(ctx, key, testShape, testElem, staticFill(testBlock(byte(i))))
				require.NoError(t, err)
			}
		}(w)
	}
	wg.Wait()

	// Concurrent evictions may skip each other's pinned keys; one more
	// insert with nothing in flight settles the count at the bound.
	require.NoError(t, te.Put(ctx, "c/0/x99_y99_z0", testShape, testElem, testBlock(99)))

	n, err := te.root.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, 4, n)
}

func TestEngine_ZstdCodecRoundTrip(t *testing.T) {
	te := newTestEngine(t, func(cfg *Config) {
		cfg.Codec = codec.Options{Compression: codec.ZSTD}
	})
	ctx := context.Background()

	raw := testBlock(1)
	require.NoError(t, te.Put(ctx, "c/0/x0_y0_z0", testShape, testElem, raw))
	got, err := te.Get(ctx, "c/0/x0_y0_z0", testShape, testElem,
		func(context.Context) ([]byte, error) { return nil, errors.New("must not fill") })
	require.NoError(t, err)
	require.Equal(t, raw, got)
}
