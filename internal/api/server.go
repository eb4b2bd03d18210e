// Package api exposes the HTTP interface for the sync service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/canvaslabs/canvas-sync/internal/canvas"
	"github.com/canvaslabs/canvas-sync/internal/config"
	"github.com/canvaslabs/canvas-sync/internal/logging"
	"github.com/canvaslabs/canvas-sync/internal/metrics"
	"github.com/canvaslabs/canvas-sync/internal/store"
	syncer "github.com/canvaslabs/canvas-sync/internal/sync"
)

// SyncController is the slice of the sync engine the API needs.
type SyncController interface {
	Run(ctx context.Context, trigger string) (store.SyncRun, error)
	Status() (bool, *store.SyncRun)
	DueSoon(ctx context.Context, courseID int64, window time.Duration) ([]canvas.DueItem, error)
}

// Stores bundles the read-side persistence the API serves from.
type Stores struct {
	Courses store.CourseStore
	Docs    store.DocumentStore
	Runs    store.RunStore
	Search  store.SearchStore
}

// Server wires HTTP handlers to the sync engine and stores.
type Server struct {
	router chi.Router
	engine SyncController
	stores Stores
	cfg    config.Config
	ids    IDGenerator
	sched  Schedule
	log    *zap.Logger
}

// IDGenerator mints request identifiers.
type IDGenerator interface {
	NewID() string
}

// Schedule reports upcoming automatic runs. Nil when scheduling is off.
type Schedule interface {
	NextRuns() []time.Time
}

// NewServer constructs a Server with middleware and routes.
func NewServer(engine SyncController, stores Stores, ids IDGenerator, cfg config.Config, sched Schedule) *Server {
	s := &Server{
		engine: engine,
		stores: stores,
		cfg:    cfg,
		ids:    ids,
		sched:  sched,
		log:    logging.L.Named("api"),
	}

	r := chi.NewRouter()
	r.Use(s.requestIDMiddleware)
	r.Use(s.metricsMiddleware)
	r.Use(s.recoverMiddleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(middleware.Timeout(30 * time.Second))
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Post("/sync", s.startSync)
		r.Get("/sync/status", s.syncStatus)
		r.Get("/runs", s.listRuns)
		r.Get("/search", s.search)
		r.Route("/courses", func(r chi.Router) {
			r.Get("/", s.listCourses)
			r.Route("/{course_id}", func(r chi.Router) {
				r.Get("/stats", s.courseStats)
				r.Get("/documents", s.listDocuments)
				r.Get("/due", s.dueSoon)
			})
		})
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if _, err := s.stores.Courses.ListCourses(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// startSync kicks off a run in the background. A 409 means one is
// already active.
func (s *Server) startSync(w http.ResponseWriter, r *http.Request) {
	running, _ := s.engine.Status()
	if running {
		writeError(w, http.StatusConflict, "a sync run is already active")
		return
	}
	go func() {
		if _, err := s.engine.Run(context.Background(), "manual"); err != nil &&
			!errors.Is(err, syncer.ErrSyncActive) {
			s.log.Error("manual sync failed", zap.Error(err))
		}
	}()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

func (s *Server) syncStatus(w http.ResponseWriter, _ *http.Request) {
	running, last := s.engine.Status()
	sched := map[string]any{"enabled": s.sched != nil}
	if s.sched != nil {
		sched["next_runs"] = s.sched.NextRuns()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"running":   running,
		"last_run":  last,
		"scheduler": sched,
	})
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	runs, err := s.stores.Runs.ListRuns(r.Context(), limit)
	if err != nil {
		s.log.Error("list runs", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "list runs failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (s *Server) listCourses(w http.ResponseWriter, r *http.Request) {
	courses, err := s.stores.Courses.ListCourses(r.Context())
	if err != nil {
		s.log.Error("list courses", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "list courses failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"courses": courses})
}

func courseID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "course_id"), 10, 64)
}

func (s *Server) courseStats(w http.ResponseWriter, r *http.Request) {
	id, err := courseID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid course id")
		return
	}
	stats, err := s.stores.Docs.CourseStats(r.Context(), id)
	if err != nil {
		s.log.Error("course stats", zap.Int64("course", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "course stats failed")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) listDocuments(w http.ResponseWriter, r *http.Request) {
	id, err := courseID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid course id")
		return
	}
	docs, err := s.stores.Docs.ListDocuments(r.Context(), id)
	if err != nil {
		s.log.Error("list documents", zap.Int64("course", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "list documents failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": docs})
}

func (s *Server) dueSoon(w http.ResponseWriter, r *http.Request) {
	id, err := courseID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid course id")
		return
	}
	window := 14 * 24 * time.Hour
	if days, err := strconv.Atoi(r.URL.Query().Get("days")); err == nil && days > 0 {
		window = time.Duration(days) * 24 * time.Hour
	}
	due, err := s.engine.DueSoon(r.Context(), id, window)
	if err != nil {
		s.log.Error("due dates", zap.Int64("course", id), zap.Error(err))
		writeError(w, http.StatusBadGateway, "due date lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"due": due})
}

func (s *Server) search(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		writeError(w, http.StatusBadRequest, "query parameter q is required")
		return
	}
	var cid int64
	if raw := r.URL.Query().Get("course_id"); raw != "" {
		var err error
		if cid, err = strconv.ParseInt(raw, 10, 64); err != nil {
			writeError(w, http.StatusBadRequest, "invalid course id")
			return
		}
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	results, err := s.stores.Search.Search(r.Context(), query, cid, limit)
	if err != nil {
		s.log.Error("search", zap.String("query", query), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "search failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

type requestIDKey struct{}

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := s.ids.NewID()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = r.URL.Path
		}
		metrics.ObserveHTTPRequest(r.Method, route, rec.status, time.Since(start))
		s.log.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(start)))
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.log.Error("handler panic", zap.Any("panic", rec))
				writeError(w, http.StatusInternalServerError, "internal error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logging.L.Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
