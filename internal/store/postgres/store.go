// Package postgres provides the Postgres-backed Store implementation.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sips-and-steals/crawler/internal/store"
)

// dbPool is the subset of pgxpool.Pool the store uses; pgxmock satisfies
// it in tests.
type dbPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// Store persists restaurants and fetch history in Postgres.
type Store struct {
	pool dbPool
}

const restaurantColumns = `slug, name, website, district, neighborhood, enabled, last_scraped, stale_after_seconds`

// New connects a Store using the provided config.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

// NewWithPool constructs a Store from an existing pool, primarily for tests.
func NewWithPool(pool dbPool) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: pool}, nil
}

// Restaurant returns the restaurant for slug.
func (s *Store) Restaurant(ctx context.Context, slug string) (store.Restaurant, error) {
	row := s.pool.QueryRow(ctx, `
SELECT `+restaurantColumns+`
FROM restaurants
WHERE slug = $1`, slug)
	r, err := scanRestaurant(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Restaurant{}, store.ErrNotFound
		}
		return store.Restaurant{}, fmt.Errorf("query restaurant: %w", err)
	}
	return r, nil
}

// ListStale returns enabled restaurants whose last fetch predates their
// staleness window at the given time.
func (s *Store) ListStale(ctx context.Context, now time.Time) ([]store.Restaurant, error) {
	rows, err := s.pool.Query(ctx, `
SELECT `+restaurantColumns+`
FROM restaurants
WHERE enabled
  AND website <> ''
  AND (last_scraped IS NULL
       OR last_scraped + stale_after_seconds * interval '1 second' < $1)
ORDER BY slug`, now)
	if err != nil {
		return nil, fmt.Errorf("query stale restaurants: %w", err)
	}
	return collectRestaurants(rows)
}

// ListByDistrict returns enabled restaurants in the district.
func (s *Store) ListByDistrict(ctx context.Context, district string) ([]store.Restaurant, error) {
	return s.listByField(ctx, "district", district)
}

// ListByNeighborhood returns enabled restaurants in the neighborhood.
func (s *Store) ListByNeighborhood(ctx context.Context, neighborhood string) ([]store.Restaurant, error) {
	return s.listByField(ctx, "neighborhood", neighborhood)
}

func (s *Store) listByField(ctx context.Context, field, value string) ([]store.Restaurant, error) {
	rows, err := s.pool.Query(ctx, `
SELECT `+restaurantColumns+`
FROM restaurants
WHERE enabled AND website <> '' AND `+field+` = $1
ORDER BY slug`, value)
	if err != nil {
		return nil, fmt.Errorf("query restaurants by %s: %w", field, err)
	}
	return collectRestaurants(rows)
}

// RecordFetch inserts a fetch history row.
func (s *Store) RecordFetch(ctx context.Context, rec store.FetchRecord) error {
	if rec.ID == "" {
		return fmt.Errorf("record id is required")
	}
	_, err := s.pool.Exec(ctx, `
INSERT INTO fetch_history (
	id, slug, url, final_url, status, status_code, reason,
	retry_count, duration_ms, body_bytes, archive_uri, fetched_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		rec.ID, rec.Slug, rec.URL, rec.FinalURL, rec.Status, rec.StatusCode,
		rec.Reason, rec.RetryCount, rec.DurationMs, rec.BodyBytes,
		rec.ArchiveURI, rec.FetchedAt)
	if err != nil {
		return fmt.Errorf("insert fetch history: %w", err)
	}
	return nil
}

// MarkScraped updates the restaurant's last-scraped timestamp.
func (s *Store) MarkScraped(ctx context.Context, slug string, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `
UPDATE restaurants SET last_scraped = $2 WHERE slug = $1`, slug, at)
	if err != nil {
		return fmt.Errorf("update last_scraped: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// Close releases the pool.
func (s *Store) Close() error {
	if s != nil && s.pool != nil {
		s.pool.Close()
	}
	return nil
}

func scanRestaurant(row pgx.Row) (store.Restaurant, error) {
	var (
		r           store.Restaurant
		lastScraped *time.Time
		staleAfter  int64
	)
	if err := row.Scan(&r.Slug, &r.Name, &r.Website, &r.District,
		&r.Neighborhood, &r.Enabled, &lastScraped, &staleAfter); err != nil {
		return store.Restaurant{}, err
	}
	if lastScraped != nil {
		r.LastScraped = *lastScraped
	}
	r.StaleAfter = time.Duration(staleAfter) * time.Second
	return r, nil
}

func collectRestaurants(rows pgx.Rows) ([]store.Restaurant, error) {
	defer rows.Close()
	var out []store.Restaurant
	for rows.Next() {
		r, err := scanRestaurant(rows)
		if err != nil {
			return nil, fmt.Errorf("scan restaurant: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate restaurants: %w", err)
	}
	return out, nil
}
