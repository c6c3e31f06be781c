package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sips-and-steals/crawler/internal/store"
)

func TestRestaurantLookup(t *testing.T) {
	t.Parallel()
	s := New()
	s.Add(store.Restaurant{Slug: "rioja", Name: "Rioja", Website: "https://rioja.example.com", Enabled: true})

	r, err := s.Restaurant(context.Background(), "rioja")
	require.NoError(t, err)
	assert.Equal(t, "Rioja", r.Name)

	_, err = s.Restaurant(context.Background(), "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestListStaleFiltersAndSorts(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	s := New()
	s.Add(store.Restaurant{Slug: "never-scraped", Website: "https://a.example.com", Enabled: true})
	s.Add(store.Restaurant{Slug: "fresh", Website: "https://b.example.com", Enabled: true,
		LastScraped: now.Add(-time.Hour)})
	s.Add(store.Restaurant{Slug: "old", Website: "https://c.example.com", Enabled: true,
		LastScraped: now.Add(-48 * time.Hour)})
	s.Add(store.Restaurant{Slug: "disabled", Website: "https://d.example.com", Enabled: false})
	s.Add(store.Restaurant{Slug: "no-site", Enabled: true})

	stale, err := s.ListStale(context.Background(), now)
	require.NoError(t, err)
	slugs := make([]string, 0, len(stale))
	for _, r := range stale {
		slugs = append(slugs, r.Slug)
	}
	assert.Equal(t, []string{"never-scraped", "old"}, slugs)
}

func TestListStaleHonorsCustomWindow(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	s := New()
	s.Add(store.Restaurant{Slug: "quick-turnover", Website: "https://a.example.com", Enabled: true,
		LastScraped: now.Add(-2 * time.Hour), StaleAfter: time.Hour})

	stale, err := s.ListStale(context.Background(), now)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, "quick-turnover", stale[0].Slug)
}

func TestListByDistrictAndNeighborhood(t *testing.T) {
	t.Parallel()
	s := New()
	s.Add(store.Restaurant{Slug: "a", Website: "https://a.example.com", Enabled: true,
		District: "LoDo", Neighborhood: "Union Station"})
	s.Add(store.Restaurant{Slug: "b", Website: "https://b.example.com", Enabled: true,
		District: "RiNo", Neighborhood: "Five Points"})

	lodo, err := s.ListByDistrict(context.Background(), "LoDo")
	require.NoError(t, err)
	require.Len(t, lodo, 1)
	assert.Equal(t, "a", lodo[0].Slug)

	fp, err := s.ListByNeighborhood(context.Background(), "Five Points")
	require.NoError(t, err)
	require.Len(t, fp, 1)
	assert.Equal(t, "b", fp[0].Slug)
}

func TestMarkScrapedAndHistory(t *testing.T) {
	t.Parallel()
	s := New()
	s.Add(store.Restaurant{Slug: "rioja", Website: "https://rioja.example.com", Enabled: true})
	at := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.MarkScraped(context.Background(), "rioja", at))
	r, err := s.Restaurant(context.Background(), "rioja")
	require.NoError(t, err)
	assert.Equal(t, at, r.LastScraped)

	assert.ErrorIs(t, s.MarkScraped(context.Background(), "missing", at), store.ErrNotFound)

	rec := store.FetchRecord{ID: "1", Slug: "rioja", Status: "success", FetchedAt: at}
	require.NoError(t, s.RecordFetch(context.Background(), rec))
	history := s.History()
	require.Len(t, history, 1)
	assert.Equal(t, "rioja", history[0].Slug)
}
