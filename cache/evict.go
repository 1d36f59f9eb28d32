package cache

import (
	"context"
	"errors"

	"github.com/voxgo/voxgo/index"
)

// enforceCapacity evicts least-recently-used entries until the root is
// back at its bound. It runs synchronously after every insertion that
// created a row, so capacity is only ever exceeded for the instant
// between the insert and this call.
//
// Keys pinned by an in-flight request are skipped rather than waited on;
// if everything is pinned the cache temporarily exceeds capacity instead
// of corrupting an in-use blob. Eviction failures are logged, not
// propagated: the triggering request already did its work, and a
// skipped eviction is retried by the next insertion.
func (e *Engine) enforceCapacity(ctx context.Context) {
	count, err := e.idx.Count(ctx)
	if err != nil {
		e.log.ErrorContext(ctx, "eviction: count failed", "root", e.idx.Path(), "error", err)
		return
	}
	excess := count - e.max
	if excess <= 0 {
		return
	}

	// Candidate selection is a snapshot. Entries touched after this
	// point are detected below and skipped.
	candidates, err := e.idx.LeastRecentlyUsed(ctx, excess)
	if err != nil {
		e.log.ErrorContext(ctx, "eviction: candidate selection failed", "root", e.idx.Path(), "error", err)
		return
	}

	evicted := 0
	for _, cand := range candidates {
		if e.evictOne(ctx, cand) {
			evicted++
		}
	}

	if evicted > 0 {
		e.metrics.RecordEviction(evicted)
		e.log.DebugContext(ctx, "evicted cuboids",
			"root", e.idx.Path(), "evicted", evicted, "count", count-evicted, "max", e.max)
	}
}

// evictOne removes a single candidate if it is still cold and unpinned.
func (e *Engine) evictOne(ctx context.Context, cand index.Entry) bool {
	unlock, ok := e.locks.TryLock(cand.CubeKey)
	if !ok {
		// Pinned by an in-flight request.
		return false
	}
	defer unlock()

	// Re-read the row: a touch that landed after the snapshot makes the
	// candidate hot again and disqualifies it.
	cur, err := e.idx.Lookup(ctx, cand.CubeKey)
	if err != nil {
		if !errors.Is(err, index.ErrNotFound) {
			e.log.ErrorContext(ctx, "eviction: lookup failed", "key", cand.CubeKey, "error", err)
		}
		return false
	}
	if !cur.LastAccessed.Equal(cand.LastAccessed) {
		return false
	}

	// Blob before row: a crash here leaves a row for a missing blob,
	// which self-heals as a miss. The reverse order would leak the blob.
	e.memRemove(cand.CubeKey)
	if err := e.blobs.Delete(ctx, cand.CubeKey); err != nil {
		e.log.ErrorContext(ctx, "eviction: blob delete failed", "key", cand.CubeKey, "error", err)
		return false
	}
	if err := e.idx.Remove(ctx, cand.CubeKey); err != nil {
		e.log.ErrorContext(ctx, "eviction: row remove failed", "key", cand.CubeKey, "error", err)
		return false
	}
	return true
}
