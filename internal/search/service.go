// Package search turns one query into a bounded, ranked, locally-enriched
// result list. Raw remote hits are normalized into a stable schema here;
// ordering is whatever the remote engine returned and is never re-sorted.
package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/clipfind/clipfind/internal/catalog"
	"github.com/clipfind/clipfind/internal/costs"
	"github.com/clipfind/clipfind/internal/remote"
)

var (
	// ErrNoIndex means no collection has been indexed yet; the caller has
	// to run indexing before searching.
	ErrNoIndex = errors.New("no index configured")

	// ErrBadRequest marks an invalid search request (empty query,
	// non-positive result bound).
	ErrBadRequest = errors.New("invalid search request")
)

// ConfidenceLabel is the three-level classification of a hit, plus unknown
// for values the remote sent in no recognizable form.
type ConfidenceLabel string

const (
	ConfidenceHigh    ConfidenceLabel = "high"
	ConfidenceMedium  ConfidenceLabel = "medium"
	ConfidenceLow     ConfidenceLabel = "low"
	ConfidenceUnknown ConfidenceLabel = "unknown"
)

// Result is one normalized search hit. ClipText is always present (empty
// when the remote omitted it); ThumbnailURL stays nil when absent.
type Result struct {
	VideoID       string          `json:"video_id"`
	Filename      string          `json:"filename"`
	Confidence    ConfidenceLabel `json:"confidence"`
	Score         float64         `json:"score"`
	Start         float64         `json:"start"`
	End           float64         `json:"end"`
	ClipText      string          `json:"clip_text"`
	ThumbnailURL  *string         `json:"thumbnail_url"`
	VideoFilepath string          `json:"video_filepath"`
}

// Options tunes one search request. Zero values take the service defaults.
type Options struct {
	Modalities     []string
	Threshold      string
	Operator       string
	ConfidenceBias float64
	GroupByVideo   bool
}

type Service struct {
	client remote.Client
	store  catalog.Store
	ledger *costs.Ledger
	logger *slog.Logger
}

func NewService(client remote.Client, store catalog.Store, ledger *costs.Ledger, logger *slog.Logger) *Service {
	return &Service{client: client, store: store, ledger: ledger, logger: logger}
}

// Search runs the query against the remote collection and returns at most
// maxResults normalized results. A malformed single hit is skipped with a
// warning; a remote failure aborts the whole request.
func (s *Service) Search(ctx context.Context, q remote.Query, maxResults int, opts Options) ([]Result, error) {
	if maxResults < 1 {
		return nil, fmt.Errorf("%w: max_results must be at least 1", ErrBadRequest)
	}
	if !q.IsImage() && q.Text == "" {
		return nil, fmt.Errorf("%w: empty query", ErrBadRequest)
	}

	cat, err := s.store.Load(ctx)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			return nil, ErrNoIndex
		}
		return nil, err
	}
	if cat.CollectionID == "" {
		return nil, ErrNoIndex
	}

	remoteOpts := buildOptions(q, maxResults, opts)

	hits, err := s.client.Search(ctx, cat.CollectionID, q, remoteOpts)
	if err != nil {
		return nil, err
	}

	results := make([]Result, 0, min(len(hits), maxResults))
	for i := range hits {
		if len(results) >= maxResults {
			break
		}
		res, ok := s.normalize(&hits[i], cat)
		if !ok {
			s.logger.Warn("skipping malformed search hit", "position", i)
			continue
		}
		results = append(results, res)
	}

	if s.ledger != nil {
		if err := s.ledger.RecordSearch(1); err != nil {
			s.logger.Warn("failed to record usage", "error", err)
		}
	}

	s.logger.Info("search completed", "hits", len(hits), "returned", len(results))
	return results, nil
}

// buildOptions applies the service defaults the remote contract expects.
// Image queries default to visual-only matching.
func buildOptions(q remote.Query, maxResults int, opts Options) remote.SearchOptions {
	out := remote.SearchOptions{
		Modalities:          opts.Modalities,
		ConfidenceThreshold: opts.Threshold,
		MatchOperator:       opts.Operator,
		ResultLimit:         maxResults,
		ConfidenceBias:      opts.ConfidenceBias,
		GroupByVideo:        opts.GroupByVideo,
	}
	if len(out.Modalities) == 0 {
		if q.IsImage() {
			out.Modalities = []string{"visual"}
		} else {
			out.Modalities = []string{"visual", "audio"}
		}
	}
	if out.ConfidenceThreshold == "" {
		out.ConfidenceThreshold = "medium"
	}
	if out.MatchOperator == "" {
		out.MatchOperator = "or"
	}
	if out.ConfidenceBias == 0 {
		out.ConfidenceBias = 0.5
	}
	return out
}

// normalize converts one raw hit into the stable result schema. The catalog
// is authoritative for filename and filepath; a catalog miss degrades those
// fields instead of failing the hit.
func (s *Service) normalize(hit *remote.SearchHit, cat *catalog.Catalog) (Result, bool) {
	if hit.VideoID == "" {
		return Result{}, false
	}

	res := Result{
		VideoID:       hit.VideoID,
		Filename:      "unknown",
		Confidence:    Classify(hit.Confidence),
		Score:         hit.Score,
		Start:         hit.Start,
		End:           hit.End,
		ThumbnailURL:  hit.ThumbnailURL,
		VideoFilepath: "unknown",
	}

	if hit.ClipText != nil {
		res.ClipText = *hit.ClipText
	}
	if hit.Filename != nil && *hit.Filename != "" {
		res.Filename = *hit.Filename
	}

	if rec := cat.FindByVideoID(hit.VideoID); rec != nil {
		res.Filename = rec.Filename
		res.VideoFilepath = rec.Filepath
	}

	return res, true
}

// Classify assigns a confidence band. A recognized label passes through
// (lower-cased); a numeric confidence classifies by threshold on its own
// value; anything else is unknown.
func Classify(c remote.Confidence) ConfidenceLabel {
	switch c.Kind {
	case remote.ConfidenceLabel:
		switch normalizeLabel(c.Label) {
		case ConfidenceHigh:
			return ConfidenceHigh
		case ConfidenceMedium:
			return ConfidenceMedium
		case ConfidenceLow:
			return ConfidenceLow
		}
		return ConfidenceUnknown
	case remote.ConfidenceScore:
		return classifyScore(c.Value)
	}
	return ConfidenceUnknown
}

func classifyScore(v float64) ConfidenceLabel {
	switch {
	case v > 0.7:
		return ConfidenceHigh
	case v > 0.4:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}

func normalizeLabel(s string) ConfidenceLabel {
	b := []byte(s)
	for i := 0; i < len(b); i++ {
		if b[i] >= 'A' && b[i] <= 'Z' {
			b[i] += 32
		}
	}
	return ConfidenceLabel(b)
}
