// Package api exposes the HTTP interface for the crawl scheduler.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/sips-and-steals/crawler/internal/scheduler"
	"github.com/sips-and-steals/crawler/internal/store"
)

// Server wires HTTP handlers to the scheduler and store.
type Server struct {
	router    chi.Router
	scheduler *scheduler.Scheduler
	store     store.Store
	logger    *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(sched *scheduler.Scheduler, st store.Store, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		scheduler: sched,
		store:     st,
		logger:    logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(timeoutMiddleware(60 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/status", s.status)
		r.Post("/schedule", s.schedule)
		r.Get("/restaurants/{slug}", s.restaurant)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(s.logger, w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if _, err := s.store.ListStale(r.Context(), time.Now().UTC()); err != nil {
		writeError(s.logger, w, http.StatusServiceUnavailable, "store not ready")
		return
	}
	writeJSON(s.logger, w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) status(w http.ResponseWriter, _ *http.Request) {
	writeJSON(s.logger, w, http.StatusOK, s.scheduler.Status())
}

type scheduleRequest struct {
	Slug         string `json:"slug"`
	District     string `json:"district"`
	Neighborhood string `json:"neighborhood"`
	AllStale     bool   `json:"all_stale"`
	Priority     *int   `json:"priority"`
	DelaySeconds int    `json:"delay_seconds"`
}

// schedule enqueues work. Exactly one of slug, district, neighborhood, or
// all_stale selects the targets.
func (s *Server) schedule(w http.ResponseWriter, r *http.Request) {
	var req scheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(s.logger, w, http.StatusBadRequest, "invalid JSON")
		return
	}
	priority := scheduler.PriorityNormal
	if req.Priority != nil {
		p := scheduler.Priority(*req.Priority)
		if p < scheduler.PriorityUrgent || p > scheduler.PriorityLow {
			writeError(s.logger, w, http.StatusBadRequest, "priority out of range")
			return
		}
		priority = p
	}

	switch {
	case req.Slug != "":
		delay := time.Duration(req.DelaySeconds) * time.Second
		ok, err := s.scheduler.Schedule(r.Context(), req.Slug, priority, delay)
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, store.ErrNotFound) {
				status = http.StatusNotFound
			}
			writeError(s.logger, w, status, err.Error())
			return
		}
		if !ok {
			writeJSON(s.logger, w, http.StatusOK, map[string]any{"scheduled": 0, "skipped": true})
			return
		}
		writeJSON(s.logger, w, http.StatusAccepted, map[string]any{"scheduled": 1})
	case req.District != "":
		n, err := s.scheduler.ScheduleDistrict(r.Context(), req.District, priority)
		if err != nil {
			writeError(s.logger, w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(s.logger, w, http.StatusAccepted, map[string]any{"scheduled": n})
	case req.Neighborhood != "":
		n, err := s.scheduler.ScheduleNeighborhood(r.Context(), req.Neighborhood, priority)
		if err != nil {
			writeError(s.logger, w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(s.logger, w, http.StatusAccepted, map[string]any{"scheduled": n})
	case req.AllStale:
		n, err := s.scheduler.ScheduleAllStale(r.Context())
		if err != nil {
			writeError(s.logger, w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(s.logger, w, http.StatusAccepted, map[string]any{"scheduled": n})
	default:
		writeError(s.logger, w, http.StatusBadRequest, "one of slug, district, neighborhood, or all_stale is required")
	}
}

func (s *Server) restaurant(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	rest, err := s.store.Restaurant(r.Context(), slug)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(s.logger, w, http.StatusNotFound, "restaurant not found")
			return
		}
		writeError(s.logger, w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(s.logger, w, http.StatusOK, rest)
}

type requestIDKey struct{}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()))
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("error", rec))
					writeError(logger, w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func writeJSON(logger *zap.Logger, w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Error("write JSON failed", zap.Error(err))
	}
}

func writeError(logger *zap.Logger, w http.ResponseWriter, status int, msg string) {
	writeJSON(logger, w, status, map[string]string{"error": msg})
}
