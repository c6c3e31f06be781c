// Package memory provides an in-memory Store for local runs and tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sips-and-steals/crawler/internal/store"
)

// Store keeps restaurants and fetch history in process memory.
type Store struct {
	mu          sync.RWMutex
	restaurants map[string]store.Restaurant
	history     []store.FetchRecord
}

// New returns an empty Store.
func New() *Store {
	return &Store{restaurants: make(map[string]store.Restaurant)}
}

// Add inserts or replaces a restaurant.
func (s *Store) Add(r store.Restaurant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.restaurants[r.Slug] = r
}

// Restaurant returns the restaurant for slug.
func (s *Store) Restaurant(_ context.Context, slug string) (store.Restaurant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.restaurants[slug]
	if !ok {
		return store.Restaurant{}, store.ErrNotFound
	}
	return r, nil
}

// ListStale returns enabled restaurants due for a re-fetch, ordered by slug.
func (s *Store) ListStale(_ context.Context, now time.Time) ([]store.Restaurant, error) {
	return s.list(func(r store.Restaurant) bool {
		return r.Enabled && r.Website != "" && r.Stale(now)
	}), nil
}

// ListByDistrict returns enabled restaurants in the district, ordered by slug.
func (s *Store) ListByDistrict(_ context.Context, district string) ([]store.Restaurant, error) {
	return s.list(func(r store.Restaurant) bool {
		return r.Enabled && r.Website != "" && r.District == district
	}), nil
}

// ListByNeighborhood returns enabled restaurants in the neighborhood, ordered by slug.
func (s *Store) ListByNeighborhood(_ context.Context, neighborhood string) ([]store.Restaurant, error) {
	return s.list(func(r store.Restaurant) bool {
		return r.Enabled && r.Website != "" && r.Neighborhood == neighborhood
	}), nil
}

// RecordFetch appends a fetch history row.
func (s *Store) RecordFetch(_ context.Context, rec store.FetchRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, rec)
	return nil
}

// MarkScraped updates the restaurant's last-scraped timestamp.
func (s *Store) MarkScraped(_ context.Context, slug string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.restaurants[slug]
	if !ok {
		return store.ErrNotFound
	}
	r.LastScraped = at
	s.restaurants[slug] = r
	return nil
}

// History returns a copy of the recorded fetch rows.
func (s *Store) History() []store.FetchRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]store.FetchRecord, len(s.history))
	copy(out, s.history)
	return out
}

// Close is a no-op for the memory store.
func (s *Store) Close() error {
	return nil
}

func (s *Store) list(keep func(store.Restaurant) bool) []store.Restaurant {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []store.Restaurant
	for _, r := range s.restaurants {
		if keep(r) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slug < out[j].Slug })
	return out
}
