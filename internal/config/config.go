// Package config provides configuration management for the clipfind server.
// Configuration is loaded from a .env file (if present) and environment
// variables with sensible defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const (
	// Default values
	DefaultPort           = 8400
	DefaultLogLevel       = "info"
	DefaultDataDir        = ".clipfind"
	DefaultVideoDir       = "data/videos"
	DefaultRemoteBaseURL  = "https://api.twelvelabs.io/v1.3"
	DefaultCollectionName = "semantic_video_search"
	DefaultMaxResults     = 5
	DefaultCatalogBackend = "json"
	DefaultConcurrency    = 1

	DefaultPollInterval   = 5 * time.Second
	DefaultRemoteTimeout  = 60 * time.Second
	DefaultUploadTimeout  = 10 * time.Minute
	DefaultPollTimeout    = 0 // unbounded; a stuck task keeps its record resumable

	// Environment variable names
	EnvAPIKey         = "CLIPFIND_API_KEY"
	EnvBaseURL        = "CLIPFIND_BASE_URL"
	EnvPort           = "CLIPFIND_PORT"
	EnvLogLevel       = "CLIPFIND_LOG_LEVEL"
	EnvDataDir        = "CLIPFIND_DATA_DIR"
	EnvVideoDir       = "CLIPFIND_VIDEO_DIR"
	EnvCollection     = "CLIPFIND_COLLECTION"
	EnvMaxResults     = "CLIPFIND_MAX_RESULTS"
	EnvCatalogBackend = "CLIPFIND_CATALOG_BACKEND"
	EnvPollInterval   = "CLIPFIND_POLL_INTERVAL_S"
	EnvPollTimeout    = "CLIPFIND_POLL_TIMEOUT_S"
	EnvConcurrency    = "CLIPFIND_INDEX_CONCURRENCY"

	// Filenames under the data directory
	CatalogFilename = "catalog.json"
	DBFilename      = "clipfind.db"
	LedgerFilename  = "cost_log.json"
	VectorBasename  = "vector_db"
)

// Config defines the application configuration interface
type Config interface {
	APIKey() string
	RemoteBaseURL() string
	Port() int
	LogLevel() string
	DataDir() string
	VideoDir() string
	CollectionName() string
	CatalogBackend() string
	CatalogPath() string
	DBPath() string
	LedgerPath() string
	VectorPath() string
	MaxResults() int
	PollInterval() time.Duration
	PollTimeout() time.Duration
	RemoteTimeout() time.Duration
	UploadTimeout() time.Duration
	IndexConcurrency() int
}

// EnvConfig reads configuration from environment variables
type EnvConfig struct {
	apiKey         string
	baseURL        string
	port           int
	logLevel       string
	dataDir        string
	videoDir       string
	collectionName string
	catalogBackend string
	maxResults     int
	pollInterval   time.Duration
	pollTimeout    time.Duration
	concurrency    int
}

// New creates a new EnvConfig with defaults and environment variable
// overrides. A .env file in the working directory is loaded first; its
// absence is not an error.
func New() (*EnvConfig, error) {
	_ = godotenv.Load()

	cfg := &EnvConfig{
		apiKey:         os.Getenv(EnvAPIKey),
		baseURL:        DefaultRemoteBaseURL,
		port:           DefaultPort,
		logLevel:       DefaultLogLevel,
		dataDir:        defaultDataDir(),
		videoDir:       DefaultVideoDir,
		collectionName: DefaultCollectionName,
		catalogBackend: DefaultCatalogBackend,
		maxResults:     DefaultMaxResults,
		pollInterval:   DefaultPollInterval,
		pollTimeout:    DefaultPollTimeout,
		concurrency:    DefaultConcurrency,
	}

	if u := os.Getenv(EnvBaseURL); u != "" {
		cfg.baseURL = u
	}

	if p := os.Getenv(EnvPort); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", EnvPort, err)
		}
		if port < 1 || port > 65535 {
			return nil, fmt.Errorf("invalid %s: port must be between 1 and 65535", EnvPort)
		}
		cfg.port = port
	}

	if ll := os.Getenv(EnvLogLevel); ll != "" {
		cfg.logLevel = ll
	}
	if dd := os.Getenv(EnvDataDir); dd != "" {
		cfg.dataDir = dd
	}
	if vd := os.Getenv(EnvVideoDir); vd != "" {
		cfg.videoDir = vd
	}
	if cn := os.Getenv(EnvCollection); cn != "" {
		cfg.collectionName = cn
	}

	if cb := os.Getenv(EnvCatalogBackend); cb != "" {
		if cb != "json" && cb != "sqlite" {
			return nil, fmt.Errorf("invalid %s: must be json or sqlite", EnvCatalogBackend)
		}
		cfg.catalogBackend = cb
	}

	if mr := os.Getenv(EnvMaxResults); mr != "" {
		n, err := strconv.Atoi(mr)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("invalid %s: must be a positive integer", EnvMaxResults)
		}
		cfg.maxResults = n
	}

	if pi := os.Getenv(EnvPollInterval); pi != "" {
		secs, err := strconv.Atoi(pi)
		if err != nil || secs < 1 {
			return nil, fmt.Errorf("invalid %s: must be a positive integer", EnvPollInterval)
		}
		cfg.pollInterval = time.Duration(secs) * time.Second
	}

	if pt := os.Getenv(EnvPollTimeout); pt != "" {
		secs, err := strconv.Atoi(pt)
		if err != nil || secs < 0 {
			return nil, fmt.Errorf("invalid %s: must be a non-negative integer", EnvPollTimeout)
		}
		cfg.pollTimeout = time.Duration(secs) * time.Second
	}

	if c := os.Getenv(EnvConcurrency); c != "" {
		n, err := strconv.Atoi(c)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("invalid %s: must be a positive integer", EnvConcurrency)
		}
		cfg.concurrency = n
	}

	return cfg, nil
}

// APIKey returns the remote indexing service credential
func (c *EnvConfig) APIKey() string {
	return c.apiKey
}

// RemoteBaseURL returns the remote indexing service base URL
func (c *EnvConfig) RemoteBaseURL() string {
	return c.baseURL
}

// Port returns the HTTP server port
func (c *EnvConfig) Port() int {
	return c.port
}

// LogLevel returns the log level (debug, info, warn, error)
func (c *EnvConfig) LogLevel() string {
	return c.logLevel
}

// DataDir returns the data directory path
func (c *EnvConfig) DataDir() string {
	return c.dataDir
}

// VideoDir returns the local video directory path
func (c *EnvConfig) VideoDir() string {
	return c.videoDir
}

// CollectionName returns the logical name of the remote collection
func (c *EnvConfig) CollectionName() string {
	return c.collectionName
}

// CatalogBackend returns the catalog storage backend (json or sqlite)
func (c *EnvConfig) CatalogBackend() string {
	return c.catalogBackend
}

// CatalogPath returns the full path to the JSON catalog file
func (c *EnvConfig) CatalogPath() string {
	return filepath.Join(c.dataDir, CatalogFilename)
}

// DBPath returns the full path to the SQLite database file
func (c *EnvConfig) DBPath() string {
	return filepath.Join(c.dataDir, DBFilename)
}

// LedgerPath returns the full path to the usage ledger file
func (c *EnvConfig) LedgerPath() string {
	return filepath.Join(c.dataDir, LedgerFilename)
}

// VectorPath returns the base path for the vector index artifacts
func (c *EnvConfig) VectorPath() string {
	return filepath.Join(c.dataDir, VectorBasename)
}

// MaxResults returns the default result-count bound for searches
func (c *EnvConfig) MaxResults() int {
	return c.maxResults
}

// PollInterval returns the delay between indexing task status polls
func (c *EnvConfig) PollInterval() time.Duration {
	return c.pollInterval
}

// PollTimeout returns the per-task poll budget. Zero means poll until the
// task reaches a terminal state or the run is cancelled.
func (c *EnvConfig) PollTimeout() time.Duration {
	return c.pollTimeout
}

// RemoteTimeout returns the bounded timeout for a single remote call
func (c *EnvConfig) RemoteTimeout() time.Duration {
	return DefaultRemoteTimeout
}

// UploadTimeout returns the bounded timeout for a video upload call
func (c *EnvConfig) UploadTimeout() time.Duration {
	return DefaultUploadTimeout
}

// IndexConcurrency returns the number of concurrent in-flight indexing jobs
func (c *EnvConfig) IndexConcurrency() int {
	return c.concurrency
}

// defaultDataDir returns the default data directory path
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		// Fallback to current directory if home is not available
		return DefaultDataDir
	}
	return filepath.Join(home, DefaultDataDir)
}

// Version information (set at build time via ldflags)
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)
