// Package costs keeps an append-only ledger of remote service usage. The
// ledger is bookkeeping only: failures to record are logged by callers and
// never affect indexing or search correctness.
package costs

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	// Rates in USD, estimated from the provider's published pricing.
	costPerProcessedMinute = 0.0015
	costPerSearchQuery     = 0.001
)

// Entry is one recorded usage session.
type Entry struct {
	SessionID       string    `json:"session_id"`
	Timestamp       time.Time `json:"timestamp"`
	Type            string    `json:"type"` // video_processing or search_queries
	VideoCount      int       `json:"video_count,omitempty"`
	DurationMinutes float64   `json:"duration_minutes,omitempty"`
	QueryCount      int       `json:"query_count,omitempty"`
	SessionCost     float64   `json:"session_cost"`
}

type ledgerFile struct {
	TotalCost           float64 `json:"total_cost"`
	VideoProcessingCost float64 `json:"video_processing_cost"`
	SearchCost          float64 `json:"search_cost"`
	Sessions            []Entry `json:"sessions"`
}

// Summary is the running totals of the ledger.
type Summary struct {
	TotalCost           float64 `json:"total_cost"`
	VideoProcessingCost float64 `json:"video_processing_cost"`
	SearchCost          float64 `json:"search_cost"`
	SessionCount        int     `json:"session_count"`
}

// Ledger appends usage entries to a JSON file. Writes go through a temp
// file and rename so a crash never leaves a truncated ledger.
type Ledger struct {
	path string
	mu   sync.Mutex
}

func NewLedger(path string) *Ledger {
	return &Ledger{path: path}
}

// RecordVideoProcessing logs the cost of indexing videos for the given
// wall-clock processing duration.
func (l *Ledger) RecordVideoProcessing(videoCount int, duration time.Duration) error {
	minutes := duration.Minutes()
	return l.append(Entry{
		SessionID:       uuid.NewString(),
		Timestamp:       time.Now().UTC(),
		Type:            "video_processing",
		VideoCount:      videoCount,
		DurationMinutes: minutes,
		SessionCost:     minutes * costPerProcessedMinute,
	})
}

// RecordSearch logs the cost of one or more search queries.
func (l *Ledger) RecordSearch(queryCount int) error {
	return l.append(Entry{
		SessionID:   uuid.NewString(),
		Timestamp:   time.Now().UTC(),
		Type:        "search_queries",
		QueryCount:  queryCount,
		SessionCost: float64(queryCount) * costPerSearchQuery,
	})
}

// Summary returns the current running totals. A missing ledger file yields
// a zero summary.
func (l *Ledger) Summary() (Summary, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := l.load()
	if err != nil {
		return Summary{}, err
	}
	return Summary{
		TotalCost:           f.TotalCost,
		VideoProcessingCost: f.VideoProcessingCost,
		SearchCost:          f.SearchCost,
		SessionCount:        len(f.Sessions),
	}, nil
}

func (l *Ledger) append(e Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := l.load()
	if err != nil {
		return err
	}

	switch e.Type {
	case "video_processing":
		f.VideoProcessingCost += e.SessionCost
	case "search_queries":
		f.SearchCost += e.SessionCost
	}
	f.TotalCost += e.SessionCost
	f.Sessions = append(f.Sessions, e)

	return l.write(f)
}

func (l *Ledger) load() (*ledgerFile, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return &ledgerFile{}, nil
		}
		return nil, fmt.Errorf("read ledger: %w", err)
	}

	var f ledgerFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse ledger: %w", err)
	}
	return &f, nil
}

func (l *Ledger) write(f *ledgerFile) error {
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal ledger: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return fmt.Errorf("create ledger directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(l.path), ".ledger-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp ledger: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp ledger: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp ledger: %w", err)
	}

	if err := os.Rename(tmpName, l.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace ledger: %w", err)
	}
	return nil
}
