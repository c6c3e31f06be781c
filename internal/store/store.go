// Package store persists restaurant targets and their fetch history.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a restaurant slug is unknown.
var ErrNotFound = errors.New("restaurant not found")

// Restaurant is one crawl target: a venue whose website is periodically
// re-fetched for happy hour deals.
type Restaurant struct {
	Slug         string        `json:"slug"`
	Name         string        `json:"name"`
	Website      string        `json:"website"`
	District     string        `json:"district"`
	Neighborhood string        `json:"neighborhood"`
	Enabled      bool          `json:"enabled"`
	LastScraped  time.Time     `json:"last_scraped"`
	StaleAfter   time.Duration `json:"stale_after"`
}

// Stale reports whether the restaurant is due for a re-fetch at now.
func (r Restaurant) Stale(now time.Time) bool {
	if r.LastScraped.IsZero() {
		return true
	}
	staleAfter := r.StaleAfter
	if staleAfter <= 0 {
		staleAfter = 24 * time.Hour
	}
	return now.Sub(r.LastScraped) > staleAfter
}

// FetchRecord is one row of fetch history: the terminal outcome of a
// scheduled task or a single attempt along the way.
type FetchRecord struct {
	ID         string    `json:"id"`
	Slug       string    `json:"slug"`
	URL        string    `json:"url"`
	FinalURL   string    `json:"final_url"`
	Status     string    `json:"status"`
	StatusCode int       `json:"status_code"`
	Reason     string    `json:"reason"`
	RetryCount int       `json:"retry_count"`
	DurationMs int64     `json:"duration_ms"`
	BodyBytes  int       `json:"body_bytes"`
	ArchiveURI string    `json:"archive_uri"`
	FetchedAt  time.Time `json:"fetched_at"`
}

// Store is the persistence boundary for crawl targets and outcomes.
type Store interface {
	Restaurant(ctx context.Context, slug string) (Restaurant, error)
	ListStale(ctx context.Context, now time.Time) ([]Restaurant, error)
	ListByDistrict(ctx context.Context, district string) ([]Restaurant, error)
	ListByNeighborhood(ctx context.Context, neighborhood string) ([]Restaurant, error)
	RecordFetch(ctx context.Context, rec FetchRecord) error
	MarkScraped(ctx context.Context, slug string, at time.Time) error
	Close() error
}
