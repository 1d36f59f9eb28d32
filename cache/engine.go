// Package cache is the cuboid cache engine: it ties the blob store, the
// codec and the metadata index together behind per-key locking, and
// enforces the capacity bound with LRU eviction.
//
// One Engine serves one cache root. All DataManager variants share the
// engine; only the miss-fill source (the FillFunc) differs between them.
package cache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	lru "github.com/hashicorp/golang-lru"

	"github.com/voxgo/voxgo/blobstore"
	"github.com/voxgo/voxgo/codec"
	"github.com/voxgo/voxgo/index"
	"github.com/voxgo/voxgo/internal/keylock"
)

// DefaultMaxCuboids bounds the number of live entries per cache root
// unless configured otherwise.
const DefaultMaxCuboids = 1000

// FillFunc materializes the raw voxel block for a cuboid that is not in
// the cache, typically by slicing the backing store or an uploaded file.
type FillFunc func(ctx context.Context) ([]byte, error)

// Collector receives engine observability events. The root package
// provides no-op and atomic-counter implementations.
type Collector interface {
	// RecordGet is called after every cuboid read, hit or miss.
	RecordGet(hit bool, d time.Duration, err error)
	// RecordPut is called after every cuboid write.
	RecordPut(d time.Duration, err error)
	// RecordFill is called after a miss was materialized from source.
	RecordFill(d time.Duration, err error)
	// RecordEviction is called with the number of entries an eviction
	// pass removed.
	RecordEviction(evicted int)
	// RecordCorruption is called when a stored blob failed integrity
	// checks and was purged.
	RecordCorruption(key string)
}

type noopCollector struct{}

func (noopCollector) RecordGet(bool, time.Duration, error) {}
func (noopCollector) RecordPut(time.Duration, error)       {}
func (noopCollector) RecordFill(time.Duration, error)      {}
func (noopCollector) RecordEviction(int)                   {}
func (noopCollector) RecordCorruption(string)              {}

// Config configures an Engine.
type Config struct {
	// Blobs stores the compressed cuboid payloads. Required.
	Blobs blobstore.BlobStore
	// Index tracks cache metadata for this engine's root. Required.
	Index *index.Root
	// MaxCuboids bounds the live entry count; DefaultMaxCuboids if 0.
	MaxCuboids int
	// Codec selects compression for newly stored blobs.
	Codec codec.Options
	// MemoryCacheSize is the number of decoded cuboids kept in memory in
	// front of the blob store. 0 disables the memory tier.
	MemoryCacheSize int
	// Logger defaults to slog.Default().
	Logger *slog.Logger
	// Metrics defaults to a no-op collector.
	Metrics Collector
}

// Engine is the concurrency-safe cuboid cache for one cache root.
type Engine struct {
	blobs   blobstore.BlobStore
	idx     *index.Root
	locks   *keylock.Table
	mem     *lru.Cache // decoded cuboids; nil when disabled
	enc     codec.Options
	max     int
	log     *slog.Logger
	metrics Collector
}

// New creates an Engine from cfg.
func New(cfg Config) (*Engine, error) {
	if cfg.Blobs == nil {
		return nil, errors.New("cache: Config.Blobs is required")
	}
	if cfg.Index == nil {
		return nil, errors.New("cache: Config.Index is required")
	}

	e := &Engine{
		blobs:   cfg.Blobs,
		idx:     cfg.Index,
		locks:   keylock.New(),
		enc:     cfg.Codec,
		max:     cfg.MaxCuboids,
		log:     cfg.Logger,
		metrics: cfg.Metrics,
	}
	if e.max <= 0 {
		e.max = DefaultMaxCuboids
	}
	if e.log == nil {
		e.log = slog.Default()
	}
	if e.metrics == nil {
		e.metrics = noopCollector{}
	}
	if cfg.MemoryCacheSize > 0 {
		mem, err := lru.New(cfg.MemoryCacheSize)
		if err != nil {
			return nil, fmt.Errorf("cache: memory tier: %w", err)
		}
		e.mem = mem
	}
	return e, nil
}

// Get returns the raw voxel block for key, loading it from the cache or
// materializing it through fill on a miss. Corrupt or truncated blobs
// are purged and refilled from source rather than failing the request.
//
// All work for one key is serialized; unrelated keys proceed
// independently.
func (e *Engine) Get(ctx context.Context, key string, shape [3]int, elemSize int, fill FillFunc) ([]byte, error) {
	start := time.Now()

	unlock := e.locks.Lock(key)
	defer unlock()

	raw, hit, err := e.getLocked(ctx, key, shape, elemSize, fill)
	e.metrics.RecordGet(hit, time.Since(start), err)
	return raw, err
}

func (e *Engine) getLocked(ctx context.Context, key string, shape [3]int, elemSize int, fill FillFunc) (_ []byte, hit bool, err error) {
	if raw, ok := e.memGet(key); ok {
		if _, err := e.idx.TouchOrCreate(ctx, key); err != nil {
			return nil, true, err
		}
		return raw, true, nil
	}

	blob, err := e.loadBlob(ctx, key)
	switch {
	case err == nil:
		raw, _, derr := codec.Decode(blob)
		if derr == nil {
			if _, err := e.idx.TouchOrCreate(ctx, key); err != nil {
				return nil, true, err
			}
			e.memAdd(key, raw)
			return raw, true, nil
		}
		if !errors.Is(derr, codec.ErrCorruptBlob) && !errors.Is(derr, codec.ErrTruncatedBlob) {
			return nil, false, derr
		}
		// Integrity failure: purge the entry and fall through to a refill.
		e.log.WarnContext(ctx, "purging corrupt cuboid blob", "key", key, "error", derr)
		e.metrics.RecordCorruption(key)
		if err := e.purgeLocked(ctx, key); err != nil {
			return nil, false, err
		}
	case errors.Is(err, blobstore.ErrNotFound):
		// Miss; also covers a metadata row whose blob vanished (a crashed
		// eviction leaves that state behind and it heals here).
	default:
		return nil, false, err
	}

	raw, err := e.fillLocked(ctx, key, shape, elemSize, fill)
	return raw, false, err
}

func (e *Engine) fillLocked(ctx context.Context, key string, shape [3]int, elemSize int, fill FillFunc) ([]byte, error) {
	fillStart := time.Now()
	raw, err := fill(ctx)
	e.metrics.RecordFill(time.Since(fillStart), err)
	if err != nil {
		return nil, fmt.Errorf("cache: fill %q: %w", key, err)
	}

	if err := e.storeLocked(ctx, key, shape, elemSize, raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// Put writes a raw voxel block through the cache, replacing any prior
// content for key.
func (e *Engine) Put(ctx context.Context, key string, shape [3]int, elemSize int, raw []byte) error {
	start := time.Now()

	unlock := e.locks.Lock(key)
	defer unlock()

	err := e.storeLocked(ctx, key, shape, elemSize, raw)
	e.metrics.RecordPut(time.Since(start), err)
	return err
}

// storeLocked encodes and persists a block, registers the access, and
// enforces capacity if the entry is new. Caller holds the key lock.
func (e *Engine) storeLocked(ctx context.Context, key string, shape [3]int, elemSize int, raw []byte) error {
	blob, err := codec.Encode(raw, shape, elemSize, e.enc)
	if err != nil {
		return fmt.Errorf("cache: encode %q: %w", key, err)
	}

	if err := e.storeBlob(ctx, key, blob); err != nil {
		return err
	}

	created, err := e.idx.TouchOrCreate(ctx, key)
	if err != nil {
		return err
	}
	e.memAdd(key, raw)

	if created {
		e.enforceCapacity(ctx)
	}
	return nil
}

// loadBlob reads a blob with one retry for transient storage failures.
func (e *Engine) loadBlob(ctx context.Context, key string) ([]byte, error) {
	blob, err := e.blobs.Load(ctx, key)
	if err != nil && !errors.Is(err, blobstore.ErrNotFound) && ctx.Err() == nil {
		blob, err = e.blobs.Load(ctx, key)
	}
	return blob, err
}

// storeBlob writes a blob with one retry for transient storage failures.
func (e *Engine) storeBlob(ctx context.Context, key string, blob []byte) error {
	err := e.blobs.Store(ctx, key, blob)
	if err != nil && ctx.Err() == nil {
		err = e.blobs.Store(ctx, key, blob)
	}
	if err != nil {
		return fmt.Errorf("cache: store %q: %w", key, err)
	}
	return nil
}

// purgeLocked removes a key's blob and metadata row. Blob first: a crash
// in between leaves a row without a blob, which reads as a miss and
// heals on the next access.
func (e *Engine) purgeLocked(ctx context.Context, key string) error {
	e.memRemove(key)
	if err := e.blobs.Delete(ctx, key); err != nil {
		return err
	}
	return e.idx.Remove(ctx, key)
}

func (e *Engine) memGet(key string) ([]byte, bool) {
	if e.mem == nil {
		return nil, false
	}
	v, ok := e.mem.Get(key)
	if !ok {
		return nil, false
	}
	return bytes.Clone(v.([]byte)), true
}

func (e *Engine) memAdd(key string, raw []byte) {
	if e.mem != nil {
		e.mem.Add(key, bytes.Clone(raw))
	}
}

func (e *Engine) memRemove(key string) {
	if e.mem != nil {
		e.mem.Remove(key)
	}
}
