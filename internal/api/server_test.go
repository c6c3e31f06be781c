package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sips-and-steals/crawler/internal/fetch"
	"github.com/sips-and-steals/crawler/internal/scheduler"
	"github.com/sips-and-steals/crawler/internal/store"
	storememory "github.com/sips-and-steals/crawler/internal/store/memory"
)

type stubFetcher struct{}

func (stubFetcher) Fetch(context.Context, fetch.Target) fetch.Result {
	return fetch.Result{Status: fetch.StatusSuccess, StatusCode: 200}
}

func newTestServer(t *testing.T) (*Server, *storememory.Store) {
	t.Helper()
	st := storememory.New()
	sched := scheduler.New(scheduler.Config{}, st, stubFetcher{}, nil, nil, nil, zap.NewNop())
	return NewServer(sched, st, zap.NewNop()), st
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthAndReadiness(t *testing.T) {
	t.Parallel()
	s, _ := newTestServer(t)

	rec := doJSON(t, s.Handler(), http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = doJSON(t, s.Handler(), http.MethodGet, "/readyz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()
	s, _ := newTestServer(t)
	rec := doJSON(t, s.Handler(), http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "# HELP")
}

func TestStatusEndpoint(t *testing.T) {
	t.Parallel()
	s, _ := newTestServer(t)
	rec := doJSON(t, s.Handler(), http.MethodGet, "/v1/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var status scheduler.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.False(t, status.IsRunning)
	assert.Equal(t, 0, status.QueueSize)
}

func TestScheduleSlug(t *testing.T) {
	t.Parallel()
	s, st := newTestServer(t)
	st.Add(store.Restaurant{Slug: "rioja", Website: "https://rioja.example.com", Enabled: true})

	rec := doJSON(t, s.Handler(), http.MethodPost, "/v1/schedule", map[string]any{"slug": "rioja"})
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, float64(1), resp["scheduled"])
}

func TestScheduleUnknownSlugIs404(t *testing.T) {
	t.Parallel()
	s, _ := newTestServer(t)
	rec := doJSON(t, s.Handler(), http.MethodPost, "/v1/schedule", map[string]any{"slug": "nope"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestScheduleDisabledSlugIsSkipped(t *testing.T) {
	t.Parallel()
	s, st := newTestServer(t)
	st.Add(store.Restaurant{Slug: "dark", Website: "https://dark.example.com", Enabled: false})

	rec := doJSON(t, s.Handler(), http.MethodPost, "/v1/schedule", map[string]any{"slug": "dark"})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, true, resp["skipped"])
}

func TestScheduleDistrict(t *testing.T) {
	t.Parallel()
	s, st := newTestServer(t)
	st.Add(store.Restaurant{Slug: "a", Website: "https://a.example.com", Enabled: true, District: "LoDo"})
	st.Add(store.Restaurant{Slug: "b", Website: "https://b.example.com", Enabled: true, District: "LoDo"})

	rec := doJSON(t, s.Handler(), http.MethodPost, "/v1/schedule",
		map[string]any{"district": "LoDo", "priority": 1})
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, float64(2), resp["scheduled"])
}

func TestScheduleAllStale(t *testing.T) {
	t.Parallel()
	s, st := newTestServer(t)
	st.Add(store.Restaurant{Slug: "stale", Website: "https://stale.example.com", Enabled: true})
	st.Add(store.Restaurant{Slug: "fresh", Website: "https://fresh.example.com", Enabled: true,
		LastScraped: time.Now().UTC()})

	rec := doJSON(t, s.Handler(), http.MethodPost, "/v1/schedule", map[string]any{"all_stale": true})
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, float64(1), resp["scheduled"])
}

func TestScheduleValidation(t *testing.T) {
	t.Parallel()
	s, _ := newTestServer(t)

	rec := doJSON(t, s.Handler(), http.MethodPost, "/v1/schedule", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, s.Handler(), http.MethodPost, "/v1/schedule",
		map[string]any{"slug": "x", "priority": 9})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/v1/schedule", bytes.NewBufferString("{not json"))
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRestaurantLookup(t *testing.T) {
	t.Parallel()
	s, st := newTestServer(t)
	st.Add(store.Restaurant{Slug: "rioja", Name: "Rioja", Website: "https://rioja.example.com", Enabled: true})

	rec := doJSON(t, s.Handler(), http.MethodGet, "/v1/restaurants/rioja", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var r store.Restaurant
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &r))
	assert.Equal(t, "Rioja", r.Name)

	rec = doJSON(t, s.Handler(), http.MethodGet, "/v1/restaurants/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
