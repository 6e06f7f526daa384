package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/clipfind/clipfind/internal/catalog"
	"github.com/clipfind/clipfind/internal/costs"
	"github.com/clipfind/clipfind/internal/indexer"
	"github.com/clipfind/clipfind/internal/search"
)

// Indexer is the slice of the orchestrator the façade needs to kick off
// and observe background indexing runs.
type Indexer interface {
	Run(ctx context.Context) (*indexer.Summary, error)
	IsRunning() bool
}

type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

type ServerConfig struct {
	Port          int
	Store         catalog.Store
	SearchService *search.Service
	Indexer       Indexer
	Ledger        *costs.Ledger
	Logger        *slog.Logger
	StartTime     time.Time
	Version       string

	// DefaultMaxResults bounds a search when the request leaves
	// max_results unset.
	DefaultMaxResults int

	// RunContext bounds background indexing runs started over the API;
	// it is cancelled on shutdown.
	RunContext context.Context
}

func NewServer(cfg ServerConfig) *Server {
	router := NewRouter(cfg)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf("127.0.0.1:%d", cfg.Port),
			Handler:      router,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 0,
			IdleTimeout:  60 * time.Second,
		},
		logger: cfg.Logger,
	}
}

func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) Addr() string {
	return s.httpServer.Addr
}
