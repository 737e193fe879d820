// Package postgres provides the Postgres-backed persistence store.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/siteharvest/harvester/internal/harvest"
)

// Pool is the subset of pgxpool.Pool the store uses; pgxmock satisfies it
// in tests.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Close()
}

// Store implements harvest.Store over a businesses table keyed by the
// normalized URL.
type Store struct {
	pool Pool
}

// New wraps an existing pool.
func New(pool Pool) *Store {
	return &Store{pool: pool}
}

// Connect opens a pgx pool for dsn and returns the store.
func Connect(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Store{pool: pool}, nil
}

// EnsureSchema creates the businesses table when it does not exist yet.
func (s *Store) EnsureSchema(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS businesses (
			url           TEXT PRIMARY KEY,
			sitemap_url   TEXT,
			status        TEXT NOT NULL DEFAULT 'pending',
			title         TEXT,
			description   TEXT,
			email         TEXT,
			address       TEXT,
			error_message TEXT,
			processed_at  TIMESTAMPTZ
		);
	`
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// UpsertPending inserts a newly discovered URL as pending. Re-discovering
// a known URL is a no-op so recorded outcomes survive re-resolution.
func (s *Store) UpsertPending(ctx context.Context, url, sitemapURL string) error {
	query := `
		INSERT INTO businesses (url, sitemap_url, status)
		VALUES ($1, $2, $3)
		ON CONFLICT (url) DO NOTHING;
	`
	if _, err := s.pool.Exec(ctx, query, url, sitemapURL, harvest.StatusPending); err != nil {
		return fmt.Errorf("upsert pending %s: %w", url, err)
	}
	return nil
}

// QueryPending returns rows matching the filter, oldest-discovered first.
func (s *Store) QueryPending(ctx context.Context, filter harvest.PendingFilter) ([]harvest.URLRecord, error) {
	query := `
		SELECT url, COALESCE(sitemap_url, ''), status,
		       COALESCE(title, ''), COALESCE(description, ''),
		       COALESCE(email, ''), COALESCE(address, ''),
		       COALESCE(error_message, ''), processed_at
		FROM businesses
		WHERE ($1::text IS NULL OR status = $1)
		  AND ($2::text IS NULL OR sitemap_url = $2)
		ORDER BY url
		LIMIT $3;
	`
	var status, sitemap *string
	if filter.Status != "" {
		v := string(filter.Status)
		status = &v
	}
	if filter.SitemapURL != "" {
		sitemap = &filter.SitemapURL
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.pool.Query(ctx, query, status, sitemap, limit)
	if err != nil {
		return nil, fmt.Errorf("query pending: %w", err)
	}
	defer rows.Close()

	var records []harvest.URLRecord
	for rows.Next() {
		var rec harvest.URLRecord
		if err := rows.Scan(
			&rec.URL,
			&rec.SitemapURL,
			&rec.Status,
			&rec.Title,
			&rec.Description,
			&rec.Email,
			&rec.Address,
			&rec.ErrorMessage,
			&rec.ProcessedAt,
		); err != nil {
			return nil, fmt.Errorf("scan pending row: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending rows: %w", err)
	}
	return records, nil
}

// Update transitions a URL's status and stores extracted fields or the
// error message.
func (s *Store) Update(
	ctx context.Context,
	url string,
	status harvest.Status,
	record harvest.Record,
	errMsg string,
	at time.Time,
) error {
	query := `
		UPDATE businesses
		SET status = $2,
		    title = NULLIF($3, ''),
		    description = NULLIF($4, ''),
		    email = NULLIF($5, ''),
		    address = NULLIF($6, ''),
		    error_message = NULLIF($7, ''),
		    processed_at = $8
		WHERE url = $1;
	`
	tag, err := s.pool.Exec(ctx, query,
		url, status, record.Title, record.Description, record.Email, record.Address, errMsg, at)
	if err != nil {
		return fmt.Errorf("update %s: %w", url, err)
	}
	if tag.RowsAffected() == 0 {
		// Discovered in a previous run with a different checkpoint; make
		// the row exist rather than losing the outcome.
		insert := `
			INSERT INTO businesses (url, status, title, description, email, address, error_message, processed_at)
			VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), NULLIF($5, ''), NULLIF($6, ''), NULLIF($7, ''), $8)
			ON CONFLICT (url) DO NOTHING;
		`
		if _, err := s.pool.Exec(ctx, insert,
			url, status, record.Title, record.Description, record.Email, record.Address, errMsg, at); err != nil {
			return fmt.Errorf("insert %s: %w", url, err)
		}
	}
	return nil
}

// Close releases the underlying pool.
func (s *Store) Close() {
	s.pool.Close()
}
