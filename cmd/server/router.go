package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/phrazzld/imagery-api/internal/platform/logger"
	"github.com/phrazzld/imagery-api/internal/platform/metrics"
	"github.com/phrazzld/imagery-api/internal/service"
)

const healthTimeout = 2 * time.Second

// pinger is satisfied by *sql.DB.
type pinger interface {
	PingContext(ctx context.Context) error
}

// routerDeps are the collaborators of the operations router.
type routerDeps struct {
	db      pinger
	batches service.TaskService
	// filesDir is served under /files when local storage is in use.
	filesDir string
	logger   *slog.Logger
}

// newRouter builds the operations surface: health, metrics, batch
// progress and locally stored files.
func newRouter(deps routerDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(deps.logger))
	r.Use(middleware.Recoverer)

	r.Get("/health", healthHandler(deps.db, deps.logger))
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	if deps.batches != nil {
		r.Get("/batches/{batchGroupID}/progress", batchProgressHandler(deps.batches))
	}

	if deps.filesDir != "" {
		r.Handle("/files/*", http.StripPrefix("/files/", http.FileServer(http.Dir(deps.filesDir))))
	}

	return r
}

// requestLogger attaches a request-scoped logger carrying the request ID
// to the context.
func requestLogger(base *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			log := base.With(slog.String("request_id", middleware.GetReqID(r.Context())))
			log.Debug("request started",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.String("remote_addr", r.RemoteAddr))

			next.ServeHTTP(w, r.WithContext(logger.WithContext(r.Context(), log)))
		})
	}
}

func healthHandler(db pinger, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()

		if err := db.PingContext(ctx); err != nil {
			log.Warn("health check failed", slog.String("error", err.Error()))
			respondWithJSON(w, r, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
		respondWithJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func batchProgressHandler(svc service.TaskService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "batchGroupID"))
		if err != nil {
			respondWithError(w, r, http.StatusBadRequest, "invalid batch group ID")
			return
		}

		progress, err := svc.BatchProgress(r.Context(), id)
		switch {
		case errors.Is(err, service.ErrBatchNotFound):
			respondWithError(w, r, http.StatusNotFound, "batch not found")
		case err != nil:
			logger.FromContext(r.Context()).Error("failed to load batch progress",
				slog.String("batch_group_id", id.String()),
				slog.String("error", err.Error()))
			respondWithError(w, r, http.StatusInternalServerError, "failed to load batch progress")
		default:
			respondWithJSON(w, r, http.StatusOK, progress)
		}
	}
}

type errorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

func respondWithError(w http.ResponseWriter, r *http.Request, status int, message string) {
	respondWithJSON(w, r, status, errorResponse{
		Error:     message,
		RequestID: middleware.GetReqID(r.Context()),
	})
}

func respondWithJSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.FromContext(r.Context()).Error("failed to encode JSON response", slog.String("error", err.Error()))
	}
}
