package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

var (
	// ErrNotFound is returned by Load when no catalog has been persisted
	// yet. Callers treat it as "no index yet", not a failure.
	ErrNotFound = errors.New("catalog not found")

	// ErrCorrupt is returned when the persisted catalog fails structural
	// validation and needs regeneration.
	ErrCorrupt = errors.New("catalog corrupt")
)

// Store is the persistence contract for the catalog. Implementations must
// write atomically: a concurrent reader never observes a partial catalog.
type Store interface {
	Load(ctx context.Context) (*Catalog, error)
	Save(ctx context.Context, c *Catalog) error
	FindByVideoID(ctx context.Context, id string) (*VideoRecord, error)
}

// JSONStore persists the catalog as a single JSON file, replaced atomically
// on every save via a temp file and rename.
type JSONStore struct {
	path string
}

func NewJSONStore(path string) *JSONStore {
	return &JSONStore{path: path}
}

func (s *JSONStore) Load(ctx context.Context) (*Catalog, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read catalog: %w", err)
	}

	var c Catalog
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if err := validate(&c); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *JSONStore) Save(ctx context.Context, c *Catalog) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal catalog: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("create catalog directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".catalog-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp catalog: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp catalog: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp catalog: %w", err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace catalog: %w", err)
	}
	return nil
}

func (s *JSONStore) FindByVideoID(ctx context.Context, id string) (*VideoRecord, error) {
	c, err := s.Load(ctx)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return c.FindByVideoID(id), nil
}

// validate checks the structural invariants of a loaded catalog: every
// status must be known, and a remote video id is present exactly on ready
// records.
func validate(c *Catalog) error {
	for i := range c.Videos {
		rec := &c.Videos[i]
		if !rec.Status.Valid() {
			return fmt.Errorf("%w: video %q has unknown status %q", ErrCorrupt, rec.Filepath, rec.Status)
		}
		if (rec.VideoID != "") != (rec.Status == StatusReady) {
			return fmt.Errorf("%w: video %q status %q inconsistent with video_id %q",
				ErrCorrupt, rec.Filepath, rec.Status, rec.VideoID)
		}
	}
	return nil
}
