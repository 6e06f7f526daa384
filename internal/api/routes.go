package api

import (
	"context"
	"encoding/json"
	"errors"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/clipfind/clipfind/internal/catalog"
	"github.com/clipfind/clipfind/internal/indexer"
	"github.com/clipfind/clipfind/internal/remote"
	"github.com/clipfind/clipfind/internal/search"
)

func NewRouter(cfg ServerConfig) *chi.Mux {
	if cfg.DefaultMaxResults < 1 {
		cfg.DefaultMaxResults = 5
	}

	r := chi.NewRouter()

	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware(cfg.Logger))
	r.Use(LoggingMiddleware(cfg.Logger))

	r.Get("/health", healthHandler(cfg))
	r.Post("/search", searchHandler(cfg))
	r.Get("/videos", listVideosHandler(cfg))
	r.Get("/videos/{id}/stream", streamVideoHandler(cfg))
	r.Post("/index", startIndexHandler(cfg))
	r.Get("/usage", usageHandler(cfg))

	return r
}

func healthHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := HealthResponse{
			Status:  "ok",
			Version: cfg.Version,
			UptimeS: int64(time.Since(cfg.StartTime).Seconds()),
		}

		cat, err := cfg.Store.Load(r.Context())
		if err == nil && cat.CollectionID != "" {
			resp.Indexed = true
			resp.CollectionID = cat.CollectionID
		} else if err != nil && !errors.Is(err, catalog.ErrNotFound) {
			resp.Status = "degraded"
		}

		WriteJSON(w, http.StatusOK, resp)
	}
}

func searchHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SearchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}
		if req.Query == "" {
			WriteError(w, http.StatusBadRequest, "query is required", "BAD_REQUEST")
			return
		}
		if req.MaxResults == 0 {
			req.MaxResults = cfg.DefaultMaxResults
		}

		results, err := cfg.SearchService.Search(r.Context(),
			remote.Query{Text: req.Query}, req.MaxResults, search.Options{})
		if err != nil {
			WriteServiceError(w, err)
			return
		}

		WriteJSON(w, http.StatusOK, SearchResponse{
			Query:        req.Query,
			Results:      results,
			TotalResults: len(results),
		})
	}
}

func listVideosHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cat, err := cfg.Store.Load(r.Context())
		if err != nil {
			if errors.Is(err, catalog.ErrNotFound) {
				WriteJSON(w, http.StatusOK, VideosResponse{Videos: []VideoResponse{}})
				return
			}
			WriteServiceError(w, err)
			return
		}

		resp := VideosResponse{Videos: make([]VideoResponse, len(cat.Videos)), Total: len(cat.Videos)}
		for i, v := range cat.Videos {
			resp.Videos[i] = VideoToResponse(v)
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func streamVideoHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if id == "" {
			WriteError(w, http.StatusBadRequest, "video id required", "BAD_REQUEST")
			return
		}

		rec, err := cfg.Store.FindByVideoID(r.Context(), id)
		if err != nil {
			WriteServiceError(w, err)
			return
		}
		if rec == nil {
			WriteError(w, http.StatusNotFound, "video not found", "NOT_FOUND")
			return
		}

		f, err := os.Open(rec.Filepath)
		if err != nil {
			if os.IsNotExist(err) {
				WriteError(w, http.StatusNotFound, "local file missing", "NOT_FOUND")
				return
			}
			cfg.Logger.Error("failed to open video file", "path", rec.Filepath, "error", err)
			WriteError(w, http.StatusInternalServerError, "failed to open video", "INTERNAL_ERROR")
			return
		}
		defer f.Close()

		stat, err := f.Stat()
		if err != nil {
			cfg.Logger.Error("failed to stat video file", "path", rec.Filepath, "error", err)
			WriteError(w, http.StatusInternalServerError, "failed to read video", "INTERNAL_ERROR")
			return
		}

		if ct := videoContentType(rec.Filepath); ct != "" {
			w.Header().Set("Content-Type", ct)
		}
		// ServeContent handles Range requests so clients can seek to the
		// matched clip window.
		http.ServeContent(w, r, rec.Filename, stat.ModTime(), f)
	}
}

func startIndexHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if cfg.Indexer == nil {
			WriteError(w, http.StatusServiceUnavailable, "indexing not configured", "NO_INDEXER")
			return
		}
		if cfg.Indexer.IsRunning() {
			WriteError(w, http.StatusConflict, "indexing already in progress", "ALREADY_RUNNING")
			return
		}

		runCtx := cfg.RunContext
		if runCtx == nil {
			runCtx = context.Background()
		}

		go func() {
			summary, err := cfg.Indexer.Run(runCtx)
			if err != nil && !errors.Is(err, indexer.ErrAlreadyRunning) {
				cfg.Logger.Error("background indexing run failed", "error", err)
				return
			}
			if summary != nil {
				cfg.Logger.Info("background indexing run finished",
					"ready", summary.Ready, "failed", summary.Failed)
			}
		}()

		WriteJSON(w, http.StatusAccepted, IndexResponse{Status: "started"})
	}
}

// videoContentType maps the catalog's supported extensions directly; the
// host mime database is only a fallback so behavior does not vary across
// machines for the formats we actually serve.
func videoContentType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mp4":
		return "video/mp4"
	case ".mov":
		return "video/quicktime"
	case ".avi":
		return "video/x-msvideo"
	}
	return mime.TypeByExtension(filepath.Ext(path))
}

func usageHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if cfg.Ledger == nil {
			WriteError(w, http.StatusNotFound, "usage tracking not configured", "NOT_FOUND")
			return
		}
		summary, err := cfg.Ledger.Summary()
		if err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}
		WriteJSON(w, http.StatusOK, summary)
	}
}
