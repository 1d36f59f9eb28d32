// Package index keeps the persistent metadata of the cuboid cache: one
// row per cached cuboid, recording how often and how recently it was
// touched. The eviction manager reads recency from here; the blob store
// holds the bytes.
//
// The backing store is SQLite (modernc.org/sqlite, pure Go). A blob file
// and its metadata row are updated as one logical unit by the cache
// engine; the index itself only guarantees that each individual
// operation is atomic and safe under concurrent use.
package index

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"modernc.org/sqlite"
	sqlitelib "modernc.org/sqlite/lib"
)

const schema = `
CREATE TABLE IF NOT EXISTS cache_roots (
	id   INTEGER PRIMARY KEY,
	path TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS cuboids (
	id            INTEGER PRIMARY KEY,
	cache_root    INTEGER NOT NULL REFERENCES cache_roots(id) ON DELETE CASCADE,
	cube_key      TEXT NOT NULL,
	requests      INTEGER NOT NULL,
	created       INTEGER NOT NULL,
	last_accessed INTEGER NOT NULL,
	UNIQUE (cube_key, cache_root)
);

CREATE INDEX IF NOT EXISTS idx_cuboids_cache_root ON cuboids(cache_root);
CREATE INDEX IF NOT EXISTS idx_cuboids_recency ON cuboids(cache_root, last_accessed, created);
`

// ErrNotFound is returned by Lookup when no row exists for the key.
var ErrNotFound = sql.ErrNoRows

// Entry is one cuboid's metadata row.
type Entry struct {
	CubeKey      string
	Requests     int64
	Created      time.Time
	LastAccessed time.Time
}

// Index is a handle to the metadata database. It is safe for concurrent
// use; SQLite serializes writers internally and busy waits are retried
// once before surfacing an error.
type Index struct {
	db *sql.DB

	// now is swappable so tests can control recency ordering.
	now func() time.Time
}

// Open opens (and if needed creates) the metadata database at path.
func Open(path string) (*Index, error) {
	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("index: open %q: %w", path, err)
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("index: apply schema: %w", err)
	}

	return &Index{db: db, now: time.Now}, nil
}

// Close closes the database.
func (ix *Index) Close() error {
	return ix.db.Close()
}

// SetClock overrides the index clock. Tests only.
func (ix *Index) SetClock(now func() time.Time) {
	ix.now = now
}

// Root registers (or finds) a cache root by its directory path and
// returns a handle scoped to it. Paths are unique: the same path always
// yields the same root.
func (ix *Index) Root(ctx context.Context, path string) (*Root, error) {
	if _, err := ix.exec(ctx,
		`INSERT INTO cache_roots (path) VALUES (?) ON CONFLICT(path) DO NOTHING`, path); err != nil {
		return nil, fmt.Errorf("index: register root %q: %w", path, err)
	}

	var id int64
	if err := ix.db.QueryRowContext(ctx,
		`SELECT id FROM cache_roots WHERE path = ?`, path).Scan(&id); err != nil {
		return nil, fmt.Errorf("index: look up root %q: %w", path, err)
	}
	return &Root{ix: ix, id: id, path: path}, nil
}

// RemoveRoot deletes a cache root and, through the cascading foreign
// key, every cuboid row that belongs to it.
func (ix *Index) RemoveRoot(ctx context.Context, path string) error {
	if _, err := ix.exec(ctx, `DELETE FROM cache_roots WHERE path = ?`, path); err != nil {
		return fmt.Errorf("index: remove root %q: %w", path, err)
	}
	return nil
}

// exec runs a statement, retrying once if SQLite reports the database
// busy or locked. The statements used here are idempotent upserts and
// deletes, so re-applying a lost race is safe.
func (ix *Index) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	res, err := ix.db.ExecContext(ctx, query, args...)
	if err != nil && isBusy(err) {
		res, err = ix.db.ExecContext(ctx, query, args...)
	}
	return res, err
}

func isBusy(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	code := se.Code() & 0xff
	return code == sqlitelib.SQLITE_BUSY || code == sqlitelib.SQLITE_LOCKED
}

// Root is an Index handle scoped to one cache root.
type Root struct {
	ix   *Index
	id   int64
	path string
}

// Path returns the root's directory path.
func (r *Root) Path() string {
	return r.path
}

// TouchOrCreate records an access to key. If a row exists its request
// count is incremented and its last-access time updated; otherwise a new
// row is created with one request. The whole operation is a single
// upsert statement, so concurrent touches of the same key never lose an
// increment. It reports whether a new row was created.
func (r *Root) TouchOrCreate(ctx context.Context, key string) (created bool, err error) {
	now := r.ix.now().UnixNano()

	const upsert = `
		INSERT INTO cuboids (cache_root, cube_key, requests, created, last_accessed)
		VALUES (?, ?, 1, ?, ?)
		ON CONFLICT(cube_key, cache_root) DO UPDATE SET
			requests      = requests + 1,
			last_accessed = excluded.last_accessed
		RETURNING requests`

	var requests int64
	err = r.ix.db.QueryRowContext(ctx, upsert, r.id, key, now, now).Scan(&requests)
	if err != nil && isBusy(err) {
		// The upsert is idempotent with respect to a lost race: re-applying
		// it counts this access exactly once.
		err = r.ix.db.QueryRowContext(ctx, upsert, r.id, key, now, now).Scan(&requests)
	}
	if err != nil {
		return false, fmt.Errorf("index: touch %q: %w", key, err)
	}
	return requests == 1, nil
}

// Count returns the number of live entries under this root.
func (r *Root) Count(ctx context.Context) (int, error) {
	var n int
	err := r.ix.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM cuboids WHERE cache_root = ?`, r.id).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("index: count root %q: %w", r.path, err)
	}
	return n, nil
}

// Lookup returns the entry for key, or ErrNotFound.
func (r *Root) Lookup(ctx context.Context, key string) (Entry, error) {
	var e Entry
	var created, accessed int64
	err := r.ix.db.QueryRowContext(ctx, `
		SELECT cube_key, requests, created, last_accessed
		FROM cuboids WHERE cache_root = ? AND cube_key = ?`,
		r.id, key).Scan(&e.CubeKey, &e.Requests, &created, &accessed)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Entry{}, ErrNotFound
		}
		return Entry{}, fmt.Errorf("index: lookup %q: %w", key, err)
	}
	e.Created = time.Unix(0, created)
	e.LastAccessed = time.Unix(0, accessed)
	return e, nil
}

// LeastRecentlyUsed returns up to n entries ordered by smallest
// last-access time, ties broken by smallest creation time and then row
// id. The ordering is fully deterministic.
func (r *Root) LeastRecentlyUsed(ctx context.Context, n int) ([]Entry, error) {
	if n <= 0 {
		return nil, nil
	}

	rows, err := r.ix.db.QueryContext(ctx, `
		SELECT cube_key, requests, created, last_accessed
		FROM cuboids WHERE cache_root = ?
		ORDER BY last_accessed, created, id
		LIMIT ?`, r.id, n)
	if err != nil {
		return nil, fmt.Errorf("index: select lru for root %q: %w", r.path, err)
	}
	defer func() { _ = rows.Close() }()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var created, accessed int64
		if err := rows.Scan(&e.CubeKey, &e.Requests, &created, &accessed); err != nil {
			return nil, fmt.Errorf("index: scan lru row: %w", err)
		}
		e.Created = time.Unix(0, created)
		e.LastAccessed = time.Unix(0, accessed)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("index: iterate lru rows: %w", err)
	}
	return entries, nil
}

// Remove deletes the row for key. No-op if absent.
func (r *Root) Remove(ctx context.Context, key string) error {
	if _, err := r.ix.exec(ctx,
		`DELETE FROM cuboids WHERE cache_root = ? AND cube_key = ?`, r.id, key); err != nil {
		return fmt.Errorf("index: remove %q: %w", key, err)
	}
	return nil
}
