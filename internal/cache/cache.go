// Package cache stores converted documents in SQLite, keyed by content
// hash and conversion settings, so repeated inputs skip the pipeline.
package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	"github.com/dgallion1/docweave/internal/doctree"
	"github.com/dgallion1/docweave/internal/export"
)

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	key        TEXT PRIMARY KEY,
	body       BLOB NOT NULL,
	created_at INTEGER NOT NULL,
	hits       INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS documents_created ON documents(created_at);
`

// Cache is a SQLite-backed document cache. It is safe for concurrent use.
type Cache struct {
	db  *sql.DB
	log *slog.Logger
	now func() time.Time
}

// Open opens or creates the cache database at path. ":memory:" gives a
// private in-memory cache.
func Open(path string, log *slog.Logger) (*Cache, error) {
	dsn := path
	if path != ":memory:" {
		dsn = path + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(10000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}
	if path == ":memory:" {
		// Each connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create cache schema: %w", err)
	}
	return &Cache{db: db, log: log.With("component", "cache"), now: time.Now}, nil
}

// Close closes the database.
func (c *Cache) Close() error { return c.db.Close() }

// Get returns the cached document for key. A stored entry that no longer
// decodes is dropped and reported as a miss.
func (c *Cache) Get(ctx context.Context, key string) (*doctree.Document, bool, error) {
	var body []byte
	err := c.db.QueryRowContext(ctx, `SELECT body FROM documents WHERE key = ?`, key).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache get: %w", err)
	}
	doc, err := export.FromJSON(body)
	if err != nil {
		c.log.Warn("dropping undecodable cache entry", "key", key, "error", err)
		if _, derr := c.db.ExecContext(ctx, `DELETE FROM documents WHERE key = ?`, key); derr != nil {
			return nil, false, fmt.Errorf("cache evict: %w", derr)
		}
		return nil, false, nil
	}
	if _, err := c.db.ExecContext(ctx, `UPDATE documents SET hits = hits + 1 WHERE key = ?`, key); err != nil {
		c.log.Debug("hit counter update failed", "error", err)
	}
	return doc, true, nil
}

// Put stores doc under key, replacing any previous entry.
func (c *Cache) Put(ctx context.Context, key string, doc *doctree.Document) error {
	body, err := export.JSON(doc)
	if err != nil {
		return err
	}
	_, err = c.db.ExecContext(ctx,
		`INSERT INTO documents (key, body, created_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET body = excluded.body, created_at = excluded.created_at, hits = 0`,
		key, body, c.now().Unix())
	if err != nil {
		return fmt.Errorf("cache put: %w", err)
	}
	return nil
}

// Purge deletes entries older than maxAge and returns how many went.
func (c *Cache) Purge(ctx context.Context, maxAge time.Duration) (int64, error) {
	cutoff := c.now().Add(-maxAge).Unix()
	res, err := c.db.ExecContext(ctx, `DELETE FROM documents WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cache purge: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		c.log.Info("purged cache entries", "count", n, "max_age", maxAge)
	}
	return n, nil
}

// Stats summarizes cache contents.
type Stats struct {
	Entries int64 `json:"entries"`
	Hits    int64 `json:"hits"`
	Bytes   int64 `json:"bytes"`
}

// Stats reports entry count, total hits and stored bytes.
func (c *Cache) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	err := c.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(hits), 0), COALESCE(SUM(LENGTH(body)), 0) FROM documents`,
	).Scan(&s.Entries, &s.Hits, &s.Bytes)
	if err != nil {
		return Stats{}, fmt.Errorf("cache stats: %w", err)
	}
	return s, nil
}
