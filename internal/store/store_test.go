package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStale(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	assert.True(t, Restaurant{}.Stale(now), "never scraped is always stale")
	assert.False(t, Restaurant{LastScraped: now.Add(-time.Hour)}.Stale(now))
	assert.True(t, Restaurant{LastScraped: now.Add(-25 * time.Hour)}.Stale(now),
		"default window is 24h")
	assert.True(t, Restaurant{
		LastScraped: now.Add(-2 * time.Hour),
		StaleAfter:  time.Hour,
	}.Stale(now))
	assert.False(t, Restaurant{
		LastScraped: now.Add(-2 * time.Hour),
		StaleAfter:  3 * time.Hour,
	}.Stale(now))
}
