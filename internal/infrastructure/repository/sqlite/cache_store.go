// Package sqlite persists the query cache in a local SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/kirillkom/book-qa-assistant/internal/core/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS query_cache (
	cache_key   TEXT PRIMARY KEY,
	query       TEXT NOT NULL,
	book_filter TEXT NOT NULL DEFAULT '',
	response    TEXT NOT NULL,
	sources     TEXT NOT NULL DEFAULT '[]',
	created_at  TEXT NOT NULL
);
`

// CacheStore implements ports.CacheStore.
type CacheStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open creates the parent directory when needed and migrates the schema.
func Open(path string, logger *slog.Logger) (*CacheStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create cache dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// one writer at a time keeps SQLITE_BUSY away
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &CacheStore{db: db, logger: logger}, nil
}

func (s *CacheStore) Close() error {
	return s.db.Close()
}

func (s *CacheStore) LoadAll(ctx context.Context) (map[string]domain.CacheEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT cache_key, query, book_filter, response, sources, created_at FROM query_cache ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("load cache: %w", err)
	}
	defer rows.Close()

	out := make(map[string]domain.CacheEntry)
	for rows.Next() {
		var (
			key, sources, createdAt string
			entry                   domain.CacheEntry
		)
		if err := rows.Scan(&key, &entry.Query, &entry.BookFilter, &entry.Response, &sources, &createdAt); err != nil {
			return nil, fmt.Errorf("scan cache row: %w", err)
		}
		// A damaged row costs one entry, not the whole warm cache.
		if err := json.Unmarshal([]byte(sources), &entry.Sources); err != nil {
			s.logger.Warn("cache_row_skipped", "key", key, "reason", "sources", "error", err)
			continue
		}
		ts, err := time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			s.logger.Warn("cache_row_skipped", "key", key, "reason", "created_at", "error", err)
			continue
		}
		entry.Timestamp = ts.UTC()
		out[key] = entry
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cache rows: %w", err)
	}
	return out, nil
}

func (s *CacheStore) Put(ctx context.Context, key string, entry domain.CacheEntry) error {
	sources := entry.Sources
	if sources == nil {
		sources = []domain.Source{}
	}
	raw, err := json.Marshal(sources)
	if err != nil {
		return fmt.Errorf("marshal cache sources: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO query_cache (cache_key, query, book_filter, response, sources, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(cache_key) DO UPDATE SET
		   query = excluded.query,
		   book_filter = excluded.book_filter,
		   response = excluded.response,
		   sources = excluded.sources,
		   created_at = excluded.created_at`,
		key, entry.Query, entry.BookFilter, entry.Response, string(raw), entry.Timestamp.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("put cache entry: %w", err)
	}
	return nil
}

func (s *CacheStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM query_cache WHERE cache_key = ?`, key); err != nil {
		return fmt.Errorf("delete cache entry: %w", err)
	}
	return nil
}

func (s *CacheStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM query_cache`); err != nil {
		return fmt.Errorf("clear cache: %w", err)
	}
	return nil
}
