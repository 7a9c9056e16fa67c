package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/kirillkom/book-qa-assistant/internal/core/domain"
)

// CacheRepository stores query cache records, one row per key.
type CacheRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewCacheRepository(db *sql.DB, logger *slog.Logger) *CacheRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &CacheRepository{db: db, logger: logger}
}

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

func (r *CacheRepository) EnsureSchema(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across replicas.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026101601)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS query_cache (
	cache_key TEXT PRIMARY KEY,
	query TEXT NOT NULL,
	book_filter TEXT NOT NULL DEFAULT '',
	response TEXT NOT NULL,
	sources JSONB NOT NULL DEFAULT '[]'::jsonb,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_query_cache_created_at ON query_cache(created_at DESC);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

func (r *CacheRepository) LoadAll(ctx context.Context) (map[string]domain.CacheEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT cache_key, query, book_filter, response, sources, created_at
FROM query_cache
ORDER BY created_at ASC
`)
	if err != nil {
		return nil, fmt.Errorf("load cache: %w", err)
	}
	defer rows.Close()

	out := make(map[string]domain.CacheEntry)
	for rows.Next() {
		var (
			key     string
			entry   domain.CacheEntry
			sources []byte
		)
		if err := rows.Scan(&key, &entry.Query, &entry.BookFilter, &entry.Response, &sources, &entry.Timestamp); err != nil {
			return nil, fmt.Errorf("scan cache row: %w", err)
		}
		if err := json.Unmarshal(sources, &entry.Sources); err != nil {
			r.logger.Warn("cache_row_skipped", "key", key, "reason", "sources", "error", err)
			continue
		}
		entry.Timestamp = entry.Timestamp.UTC()
		out[key] = entry
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cache rows: %w", err)
	}
	return out, nil
}

func (r *CacheRepository) Put(ctx context.Context, key string, entry domain.CacheEntry) error {
	sources, err := json.Marshal(nonNilSources(entry.Sources))
	if err != nil {
		return fmt.Errorf("marshal cache sources: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
INSERT INTO query_cache (cache_key, query, book_filter, response, sources, created_at)
VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (cache_key) DO UPDATE SET
	query = EXCLUDED.query,
	book_filter = EXCLUDED.book_filter,
	response = EXCLUDED.response,
	sources = EXCLUDED.sources,
	created_at = EXCLUDED.created_at
`, key, entry.Query, entry.BookFilter, entry.Response, sources, entry.Timestamp.UTC())
	if err != nil {
		return fmt.Errorf("put cache entry: %w", err)
	}
	return nil
}

func (r *CacheRepository) Delete(ctx context.Context, key string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM query_cache WHERE cache_key = $1`, key); err != nil {
		return fmt.Errorf("delete cache entry: %w", err)
	}
	return nil
}

func (r *CacheRepository) Clear(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM query_cache`); err != nil {
		return fmt.Errorf("clear cache: %w", err)
	}
	return nil
}

func nonNilSources(sources []domain.Source) []domain.Source {
	if sources == nil {
		return []domain.Source{}
	}
	return sources
}
