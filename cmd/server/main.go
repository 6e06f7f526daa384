package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/clipfind/clipfind/internal/api"
	"github.com/clipfind/clipfind/internal/catalog"
	"github.com/clipfind/clipfind/internal/config"
	"github.com/clipfind/clipfind/internal/costs"
	"github.com/clipfind/clipfind/internal/db"
	"github.com/clipfind/clipfind/internal/indexer"
	"github.com/clipfind/clipfind/internal/logging"
	"github.com/clipfind/clipfind/internal/remote"
	"github.com/clipfind/clipfind/internal/search"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("fatal error: %v", err)
	}
}

func run() error {
	startTime := time.Now()

	cfg, err := config.New()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.APIKey() == "" {
		return fmt.Errorf("%s is required", config.EnvAPIKey)
	}

	if err := os.MkdirAll(cfg.DataDir(), 0755); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}

	logger := logging.NewLogger(cfg.LogLevel())
	logger.Info("starting clipfind server",
		"version", config.Version,
		"data_dir", cfg.DataDir(),
		"video_dir", cfg.VideoDir(),
		"api_key", logging.SanitizeKey(cfg.APIKey()),
	)

	var store catalog.Store
	switch cfg.CatalogBackend() {
	case "sqlite":
		database, err := db.New(cfg.DBPath(), logger)
		if err != nil {
			return fmt.Errorf("failed to initialize database: %w", err)
		}
		defer database.Close()
		store = catalog.NewSQLiteStore(database.Conn())
	default:
		store = catalog.NewJSONStore(cfg.CatalogPath())
	}
	logger.Info("catalog store ready", "backend", cfg.CatalogBackend())

	client := remote.NewHTTPClient(cfg.RemoteBaseURL(), cfg.APIKey(),
		cfg.RemoteTimeout(), cfg.UploadTimeout(), logging.WithComponent(logger, "remote"))

	ledger := costs.NewLedger(cfg.LedgerPath())

	orchestrator := indexer.New(client, store, ledger, indexer.Options{
		CollectionName: cfg.CollectionName(),
		VideoDir:       cfg.VideoDir(),
		PollInterval:   cfg.PollInterval(),
		PollTimeout:    cfg.PollTimeout(),
		Concurrency:    cfg.IndexConcurrency(),
	}, logging.WithComponent(logger, "indexer"))

	searchSvc := search.NewService(client, store, ledger,
		logging.WithComponent(logger, "search"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	apiServer := api.NewServer(api.ServerConfig{
		Port:              cfg.Port(),
		Store:             store,
		SearchService:     searchSvc,
		Indexer:           orchestrator,
		Ledger:            ledger,
		Logger:            logger,
		StartTime:         startTime,
		Version:           config.Version,
		DefaultMaxResults: cfg.MaxResults(),
		RunContext:        ctx,
	})

	go func() {
		if err := apiServer.Start(); err != nil {
			logger.Error("HTTP server error", "error", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig)

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown HTTP server", "error", err)
	}

	logger.Info("shutdown complete")
	return nil
}
