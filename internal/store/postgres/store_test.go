package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sips-and-steals/crawler/internal/store"
)

var restaurantCols = []string{
	"slug", "name", "website", "district", "neighborhood",
	"enabled", "last_scraped", "stale_after_seconds",
}

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	s, err := NewWithPool(mock)
	require.NoError(t, err)
	return s, mock
}

func TestRestaurantFound(t *testing.T) {
	t.Parallel()
	s, mock := newMockStore(t)
	scraped := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("FROM restaurants")).
		WithArgs("rioja").
		WillReturnRows(pgxmock.NewRows(restaurantCols).
			AddRow("rioja", "Rioja", "https://rioja.example.com", "LoDo", "Larimer Square",
				true, &scraped, int64(86400)))

	r, err := s.Restaurant(context.Background(), "rioja")
	require.NoError(t, err)
	assert.Equal(t, "Rioja", r.Name)
	assert.Equal(t, scraped, r.LastScraped)
	assert.Equal(t, 24*time.Hour, r.StaleAfter)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRestaurantNotFound(t *testing.T) {
	t.Parallel()
	s, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM restaurants")).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.Restaurant(context.Background(), "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListStaleScansNullLastScraped(t *testing.T) {
	t.Parallel()
	s, mock := newMockStore(t)
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("last_scraped + stale_after_seconds * interval '1 second'")).
		WithArgs(now).
		WillReturnRows(pgxmock.NewRows(restaurantCols).
			AddRow("never-scraped", "Never Scraped", "https://a.example.com", "", "",
				true, nil, int64(86400)))

	restaurants, err := s.ListStale(context.Background(), now)
	require.NoError(t, err)
	require.Len(t, restaurants, 1)
	assert.True(t, restaurants[0].LastScraped.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListByDistrict(t *testing.T) {
	t.Parallel()
	s, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("district = $1")).
		WithArgs("RiNo").
		WillReturnRows(pgxmock.NewRows(restaurantCols).
			AddRow("a", "A", "https://a.example.com", "RiNo", "Five Points",
				true, nil, int64(86400)).
			AddRow("b", "B", "https://b.example.com", "RiNo", "Cole",
				true, nil, int64(86400)))

	restaurants, err := s.ListByDistrict(context.Background(), "RiNo")
	require.NoError(t, err)
	assert.Len(t, restaurants, 2)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordFetch(t *testing.T) {
	t.Parallel()
	s, mock := newMockStore(t)
	rec := store.FetchRecord{
		ID:         "id-1",
		Slug:       "rioja",
		URL:        "https://rioja.example.com/menu",
		FinalURL:   "https://rioja.example.com/menu",
		Status:     "success",
		StatusCode: 200,
		RetryCount: 0,
		DurationMs: 120,
		BodyBytes:  4096,
		ArchiveURI: "gs://bucket/pages/rioja/abc.html",
		FetchedAt:  time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
	}

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO fetch_history")).
		WithArgs(rec.ID, rec.Slug, rec.URL, rec.FinalURL, rec.Status, rec.StatusCode,
			rec.Reason, rec.RetryCount, rec.DurationMs, rec.BodyBytes,
			rec.ArchiveURI, rec.FetchedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.RecordFetch(context.Background(), rec))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordFetchRequiresID(t *testing.T) {
	t.Parallel()
	s, _ := newMockStore(t)
	err := s.RecordFetch(context.Background(), store.FetchRecord{Slug: "x"})
	assert.Error(t, err)
}

func TestMarkScraped(t *testing.T) {
	t.Parallel()
	s, mock := newMockStore(t)
	at := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE restaurants SET last_scraped")).
		WithArgs("rioja", at).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, s.MarkScraped(context.Background(), "rioja", at))

	mock.ExpectExec(regexp.QuoteMeta("UPDATE restaurants SET last_scraped")).
		WithArgs("missing", at).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	assert.ErrorIs(t, s.MarkScraped(context.Background(), "missing", at), store.ErrNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQueryErrorIsWrapped(t *testing.T) {
	t.Parallel()
	s, mock := newMockStore(t)

	boom := errors.New("connection reset")
	mock.ExpectQuery(regexp.QuoteMeta("FROM restaurants")).
		WithArgs("rioja").
		WillReturnError(boom)

	_, err := s.Restaurant(context.Background(), "rioja")
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
}

func TestNewWithPoolRequiresPool(t *testing.T) {
	t.Parallel()
	_, err := NewWithPool(nil)
	assert.Error(t, err)
}
