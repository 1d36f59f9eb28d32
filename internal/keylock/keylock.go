// Package keylock provides a reference-counted table of per-key mutexes.
//
// The cuboid cache serializes everything that materializes, reads or
// evicts one cube key while keeping unrelated keys fully concurrent. A
// single global lock would serialize the whole cache; this table creates
// a mutex per key on demand and drops it again once the last holder or
// waiter is gone, so the table stays bounded by the number of in-flight
// keys rather than the number of keys ever seen.
package keylock

import "sync"

// Table is a set of named mutexes. The zero value is not usable; call New.
type Table struct {
	mu    sync.Mutex
	locks map[string]*entry
}

type entry struct {
	mu   sync.Mutex
	refs int
}

// New creates an empty lock table.
func New() *Table {
	return &Table{locks: make(map[string]*entry)}
}

// Lock acquires the mutex for key, blocking until it is available, and
// returns the matching unlock function. The unlock function must be
// called exactly once.
func (t *Table) Lock(key string) (unlock func()) {
	e := t.acquire(key)
	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		t.release(key)
	}
}

// TryLock acquires the mutex for key only if it is free. It reports
// whether the lock was taken; eviction uses this to skip keys pinned by
// in-flight requests instead of waiting on them.
func (t *Table) TryLock(key string) (unlock func(), ok bool) {
	e := t.acquire(key)
	if !e.mu.TryLock() {
		t.release(key)
		return nil, false
	}
	return func() {
		e.mu.Unlock()
		t.release(key)
	}, true
}

// Len returns the number of keys currently held or waited on.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.locks)
}

func (t *Table) acquire(key string) *entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.locks[key]
	if !ok {
		e = &entry{}
		t.locks[key] = e
	}
	e.refs++
	return e
}

func (t *Table) release(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e := t.locks[key]
	e.refs--
	if e.refs == 0 {
		delete(t.locks, key)
	}
}
