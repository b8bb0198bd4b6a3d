package cache

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Index is an advisory record of Ready cache entries, used only by the
// pruner. It is never consulted by Resolve: a missing or
// stale index can never change Resolve's behaviour, only the pruner's.
type Index struct {
	db *sql.DB
}

// OpenIndex opens (creating if necessary) the cache index database at path.
func OpenIndex(path string) (*Index, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	const schema = `
CREATE TABLE IF NOT EXISTS cache_entries (
	fingerprint  TEXT PRIMARY KEY,
	path         TEXT NOT NULL,
	size_bytes   INTEGER NOT NULL,
	created_at   TEXT NOT NULL,
	last_read_at TEXT NOT NULL
);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("cache: init index: %w", err)
	}
	return &Index{db: db}, nil
}

func (ix *Index) Close() error { return ix.db.Close() }

// Record inserts or replaces the row for a freshly built entry.
func (ix *Index) Record(fingerprint, path string, sizeBytes int64) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := ix.db.Exec(
		`INSERT INTO cache_entries (fingerprint, path, size_bytes, created_at, last_read_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(fingerprint) DO UPDATE SET
			path=excluded.path, size_bytes=excluded.size_bytes, last_read_at=excluded.last_read_at`,
		fingerprint, path, sizeBytes, now, now,
	)
	return err
}

// Touch updates last_read_at for fingerprint, if present.
func (ix *Index) Touch(fingerprint string) error {
	_, err := ix.db.Exec(
		`UPDATE cache_entries SET last_read_at = ? WHERE fingerprint = ?`,
		time.Now().UTC().Format(time.RFC3339), fingerprint,
	)
	return err
}

// Row is one cache_entries row.
type Row struct {
	Fingerprint string
	Path        string
	SizeBytes   int64
	CreatedAt   time.Time
	LastReadAt  time.Time
}

// ListOldestFirst returns every indexed entry ordered by created_at
// ascending.
func (ix *Index) ListOldestFirst() ([]Row, error) {
	rows, err := ix.db.Query(`SELECT fingerprint, path, size_bytes, created_at, last_read_at FROM cache_entries ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var r Row
		var created, lastRead string
		if err := rows.Scan(&r.Fingerprint, &r.Path, &r.SizeBytes, &created, &lastRead); err != nil {
			return nil, err
		}
		r.CreatedAt, _ = time.Parse(time.RFC3339, created)
		r.LastReadAt, _ = time.Parse(time.RFC3339, lastRead)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Remove deletes the row for fingerprint. It does not touch the filesystem.
func (ix *Index) Remove(fingerprint string) error {
	_, err := ix.db.Exec(`DELETE FROM cache_entries WHERE fingerprint = ?`, fingerprint)
	return err
}
