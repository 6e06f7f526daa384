// Package vector is a local cosine-similarity index over video embeddings.
// It is not on the primary query path; the remote engine does the real
// similarity search today. It exists as a pluggable local alternative and
// is exercised with placeholder vectors until real embeddings are exported.
package vector

import (
	"container/heap"
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
)

var (
	// ErrDimensionMismatch means a vector's length differs from the
	// dimension fixed by the first indexed vector.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")

	// ErrNotFound means one or both persisted artifacts are missing; the
	// index is never partially loaded.
	ErrNotFound = errors.New("vector index not found")

	// ErrEmpty means the index holds no vectors yet.
	ErrEmpty = errors.New("vector index is empty")
)

// Metadata joins an indexed vector back to its catalog identity.
type Metadata struct {
	VideoID  string `json:"video_id"`
	Filename string `json:"filename"`
	Filepath string `json:"filepath"`
}

// Result is one ranked neighbor.
type Result struct {
	Metadata Metadata
	Score    float32
}

// Index is an exact-scan cosine index. Vectors are normalized on insert so
// search reduces to a dot product.
type Index struct {
	mu        sync.RWMutex
	dimension int
	vectors   [][]float32
	metadata  []Metadata
}

func NewIndex() *Index {
	return &Index{}
}

// CreateIndex replaces the index contents. The dimension is fixed by the
// first vector; every subsequent vector must match it.
func (idx *Index) CreateIndex(embeddings [][]float32, metadata []Metadata) error {
	if len(embeddings) == 0 {
		return fmt.Errorf("create index: no vectors")
	}
	if len(embeddings) != len(metadata) {
		return fmt.Errorf("create index: %d vectors but %d metadata entries", len(embeddings), len(metadata))
	}

	dim := len(embeddings[0])
	if dim == 0 {
		return fmt.Errorf("create index: zero-dimension vector")
	}

	vectors := make([][]float32, len(embeddings))
	for i, e := range embeddings {
		if len(e) != dim {
			return fmt.Errorf("%w: vector %d has dimension %d, index dimension is %d",
				ErrDimensionMismatch, i, len(e), dim)
		}
		vectors[i] = normalize(e)
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.dimension = dim
	idx.vectors = vectors
	idx.metadata = append([]Metadata(nil), metadata...)
	return nil
}

// Search returns up to k neighbors ranked by descending cosine similarity.
// If k exceeds the indexed count, all entries are returned.
func (idx *Index) Search(query []float32, k int) ([]Result, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if len(idx.vectors) == 0 {
		return nil, ErrEmpty
	}
	if len(query) != idx.dimension {
		return nil, fmt.Errorf("%w: query has dimension %d, index dimension is %d",
			ErrDimensionMismatch, len(query), idx.dimension)
	}
	if k < 1 {
		return nil, fmt.Errorf("search: k must be at least 1")
	}

	q := normalize(query)

	// Min-heap of the best k so far; the weakest candidate is evicted
	// when a better one appears.
	h := &resultHeap{}
	heap.Init(h)

	for i, v := range idx.vectors {
		score := dot(q, v)
		if h.Len() < k {
			heap.Push(h, Result{Metadata: idx.metadata[i], Score: score})
		} else if score > (*h)[0].Score {
			heap.Pop(h)
			heap.Push(h, Result{Metadata: idx.metadata[i], Score: score})
		}
	}

	results := make([]Result, h.Len())
	for i := len(results) - 1; i >= 0; i-- {
		results[i] = heap.Pop(h).(Result)
	}
	return results, nil
}

// Count returns the number of indexed vectors.
func (idx *Index) Count() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.vectors)
}

// Dimension returns the fixed vector dimension, or 0 before the first
// CreateIndex call.
func (idx *Index) Dimension() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.dimension
}

type indexBlob struct {
	Dimension int
	Vectors   [][]float32
}

// Persist writes the vector blob and the metadata blob next to each other.
// Both are written through temp files so a crash cannot leave a mismatched
// pair behind a partial write.
func (idx *Index) Persist(basePath string) error {
	idx.mu.RLock()
	blob := indexBlob{Dimension: idx.dimension, Vectors: idx.vectors}
	meta := append([]Metadata(nil), idx.metadata...)
	idx.mu.RUnlock()

	if err := os.MkdirAll(filepath.Dir(basePath), 0755); err != nil {
		return fmt.Errorf("create index directory: %w", err)
	}

	if err := writeAtomic(basePath+".index", func(f *os.File) error {
		return gob.NewEncoder(f).Encode(blob)
	}); err != nil {
		return fmt.Errorf("persist vectors: %w", err)
	}

	if err := writeAtomic(basePath+".metadata", func(f *os.File) error {
		return json.NewEncoder(f).Encode(meta)
	}); err != nil {
		return fmt.Errorf("persist metadata: %w", err)
	}
	return nil
}

// Load reads both artifacts. If either is missing the index is left
// untouched and ErrNotFound is returned.
func (idx *Index) Load(basePath string) error {
	indexPath := basePath + ".index"
	metaPath := basePath + ".metadata"

	indexFile, err := os.Open(indexPath)
	if err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return fmt.Errorf("open vectors: %w", err)
	}
	defer indexFile.Close()

	metaFile, err := os.Open(metaPath)
	if err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return fmt.Errorf("open metadata: %w", err)
	}
	defer metaFile.Close()

	var blob indexBlob
	if err := gob.NewDecoder(indexFile).Decode(&blob); err != nil {
		return fmt.Errorf("decode vectors: %w", err)
	}

	var meta []Metadata
	if err := json.NewDecoder(metaFile).Decode(&meta); err != nil {
		return fmt.Errorf("decode metadata: %w", err)
	}

	if len(blob.Vectors) != len(meta) {
		return fmt.Errorf("vector blob holds %d entries but metadata holds %d", len(blob.Vectors), len(meta))
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.dimension = blob.Dimension
	idx.vectors = blob.Vectors
	idx.metadata = meta
	return nil
}

func writeAtomic(path string, write func(*os.File) error) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".vector-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if err := write(tmp); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

func dot(a, b []float32) float32 {
	var sum float32
	for i := 0; i < len(a); i++ {
		sum += a[i] * b[i]
	}
	return sum
}

func normalize(v []float32) []float32 {
	var norm float32
	for _, val := range v {
		norm += val * val
	}
	if norm == 0 {
		out := make([]float32, len(v))
		copy(out, v)
		return out
	}
	norm = float32(math.Sqrt(float64(norm)))
	out := make([]float32, len(v))
	for i, val := range v {
		out[i] = val / norm
	}
	return out
}

type resultHeap []Result

func (h resultHeap) Len() int           { return len(h) }
func (h resultHeap) Less(i, j int) bool { return h[i].Score < h[j].Score }
func (h resultHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *resultHeap) Push(x any) {
	*h = append(*h, x.(Result))
}

func (h *resultHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[0 : n-1]
	return x
}
