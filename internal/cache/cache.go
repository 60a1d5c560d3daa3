// Package cache stores completed raw-data results in a local sqlite
// database so repeated identical queries skip the network round trip.
package cache

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	// Registers the pure-Go "sqlite" driver.
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS raw_results (
	key        TEXT PRIMARY KEY,
	payload    BLOB NOT NULL,
	fetched_at INTEGER NOT NULL
);`

// Store is a TTL cache keyed by query hash. Safe for concurrent use.
type Store struct {
	db  *sql.DB
	ttl time.Duration
	now func() time.Time
}

// Open creates or opens the cache database at path. Entries older than
// ttl are treated as absent and reclaimed on read.
func Open(path string, ttl time.Duration) (*Store, error) {
	if ttl <= 0 {
		return nil, fmt.Errorf("cache: ttl must be positive")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("cache: create cache directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("cache: open %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("cache: initialize schema: %w", err)
	}

	return &Store{db: db, ttl: ttl, now: time.Now}, nil
}

// Get returns the payload stored under key, or ok=false when absent or
// expired. Expired entries are deleted.
func (s *Store) Get(ctx context.Context, key string) (payload []byte, ok bool, err error) {
	var fetchedAt int64
	row := s.db.QueryRowContext(ctx, `SELECT payload, fetched_at FROM raw_results WHERE key = ?`, key)
	if err := row.Scan(&payload, &fetchedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("cache: read %s: %w", key, err)
	}

	if s.now().Unix()-fetchedAt > int64(s.ttl.Seconds()) {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM raw_results WHERE key = ?`, key); err != nil {
			return nil, false, fmt.Errorf("cache: evict %s: %w", key, err)
		}
		return nil, false, nil
	}
	return payload, true, nil
}

// Put stores payload under key, replacing any previous entry.
func (s *Store) Put(ctx context.Context, key string, payload []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO raw_results (key, payload, fetched_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET payload = excluded.payload, fetched_at = excluded.fetched_at`,
		key, payload, s.now().Unix())
	if err != nil {
		return fmt.Errorf("cache: write %s: %w", key, err)
	}
	return nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
