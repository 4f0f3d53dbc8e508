// Package fpcache caches file fingerprints keyed by path, size, and mtime so
// unchanged files are not rehashed on every run.
package fpcache

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/starford/othala/internal/digest"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS fingerprints (
	path        TEXT PRIMARY KEY,
	size        INTEGER NOT NULL,
	mtime_ns    INTEGER NOT NULL,
	fingerprint TEXT NOT NULL,
	updated_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

// Cache looks up and stores fingerprints keyed by path and stat identity.
// An entry only hits when size and mtime both match; anything else is
// treated as a changed file.
type Cache interface {
	Get(path string, size, mtimeNS int64) (digest.Fingerprint, bool)
	Put(path string, size, mtimeNS int64, fp digest.Fingerprint) error
	Close() error
}

// DB is the SQLite-backed Cache.
type DB struct {
	conn *sql.DB
}

// Open opens (or creates) the cache database and applies the schema.
func Open(dsn string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("fpcache: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("fpcache: ping: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("fpcache: apply schema: %w", err)
	}
	return &DB{conn: conn}, nil
}

// Get returns the cached fingerprint when path, size, and mtime all match.
func (db *DB) Get(path string, size, mtimeNS int64) (digest.Fingerprint, bool) {
	var hexfp string
	err := db.conn.QueryRow(
		`SELECT fingerprint FROM fingerprints WHERE path = ? AND size = ? AND mtime_ns = ?`,
		path, size, mtimeNS).Scan(&hexfp)
	if err != nil {
		return digest.Fingerprint{}, false // miss, including stale stat identity
	}
	fp, err := digest.ParseHex(hexfp)
	if err != nil {
		return digest.Fingerprint{}, false
	}
	return fp, true
}

// Put inserts or refreshes the entry for path.
func (db *DB) Put(path string, size, mtimeNS int64, fp digest.Fingerprint) error {
	_, err := db.conn.Exec(`
		INSERT INTO fingerprints (path, size, mtime_ns, fingerprint, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			size        = excluded.size,
			mtime_ns    = excluded.mtime_ns,
			fingerprint = excluded.fingerprint,
			updated_at  = excluded.updated_at
	`, path, size, mtimeNS, fp.Hex(), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("fpcache: put: %w", err)
	}
	return nil
}

// Count returns the number of cached entries.
func (db *DB) Count() (int64, error) {
	var n int64
	if err := db.conn.QueryRow(`SELECT COUNT(*) FROM fingerprints`).Scan(&n); err != nil {
		return 0, fmt.Errorf("fpcache: count: %w", err)
	}
	return n, nil
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Nop is a Cache that remembers nothing, for runs with caching disabled.
type Nop struct{}

func (Nop) Get(string, int64, int64) (digest.Fingerprint, bool) { return digest.Fingerprint{}, false }

func (Nop) Put(string, int64, int64, digest.Fingerprint) error { return nil }

func (Nop) Close() error { return nil }

// Fingerprint digests the file at path, consulting c first and filling it on
// a miss. Cache write failures are swallowed; the digest is still valid.
func Fingerprint(c Cache, path string, size int64, mtime time.Time) (digest.Fingerprint, error) {
	ns := mtime.UnixNano()
	if fp, ok := c.Get(path, size, ns); ok {
		return fp, nil
	}
	fp, err := digest.SumFile(path)
	if err != nil {
		return digest.Fingerprint{}, err
	}
	_ = c.Put(path, size, ns, fp) // best-effort
	return fp, nil
}
