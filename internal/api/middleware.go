package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/clipfind/clipfind/internal/catalog"
	"github.com/clipfind/clipfind/internal/remote"
	"github.com/clipfind/clipfind/internal/search"
)

type contextKey string

const RequestIDKey contextKey = "request_id"

func LoggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(wrapped, r)

			requestID, _ := r.Context().Value(RequestIDKey).(string)
			logger.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", wrapped.status,
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", requestID,
			)
		})
	}
}

func RecoveryMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					requestID, _ := r.Context().Value(RequestIDKey).(string)
					logger.Error("panic recovered", "error", err, "request_id", requestID)
					WriteError(w, http.StatusInternalServerError, "internal server error", "INTERNAL_ERROR")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func RequestIDMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := uuid.NewString()[:8]
			ctx := context.WithValue(r.Context(), RequestIDKey, requestID)
			w.Header().Set("X-Request-ID", requestID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (w *responseWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func WriteError(w http.ResponseWriter, status int, message, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{Error: message, Code: code})
}

func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// WriteServiceError maps the core's error taxonomy to distinct HTTP
// statuses and codes, so an operator can tell a transient network fault
// from a missing index from a credential problem.
func WriteServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, search.ErrNoIndex):
		WriteError(w, http.StatusBadRequest, "no index found, run indexing first", "NO_INDEX")
		return
	case errors.Is(err, search.ErrBadRequest):
		WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
		return
	case errors.Is(err, catalog.ErrCorrupt):
		WriteError(w, http.StatusInternalServerError, err.Error(), "CATALOG_CORRUPT")
		return
	}

	var rerr *remote.Error
	if errors.As(err, &rerr) {
		switch rerr.Kind {
		case remote.KindAuth:
			WriteError(w, http.StatusUnauthorized, rerr.Error(), "REMOTE_AUTH")
		case remote.KindConnectivity:
			WriteError(w, http.StatusBadGateway, rerr.Error(), "REMOTE_UNAVAILABLE")
		case remote.KindMalformedResponse:
			WriteError(w, http.StatusBadGateway, rerr.Error(), "MALFORMED_RESPONSE")
		default:
			WriteError(w, http.StatusBadGateway, rerr.Error(), "REMOTE_REJECTED")
		}
		return
	}

	WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
}
