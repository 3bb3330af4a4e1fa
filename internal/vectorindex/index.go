// Package vectorindex implements a flat inner-product similarity index
// with per-record metadata and atomic on-disk persistence.
//
// Records get dense sequential ids equal to their insertion rank; the
// element count always equals the metadata map's cardinality. Vectors are
// expected L2-normalized by the embedding service, so inner product is
// cosine similarity.
package vectorindex

import (
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Meta is the metadata stored alongside each vector.
type Meta struct {
	Source      string `json:"source"`
	ID          string `json:"id"`
	Text        string `json:"text"`
	URL         string `json:"url,omitempty"`
	Title       string `json:"title,omitempty"`
	PublishDate string `json:"publish_date,omitempty"`
}

// SearchResult is one scored hit.
type SearchResult struct {
	ID    int     `json:"id"`
	Score float32 `json:"score"`
	Meta  Meta    `json:"meta"`
}

// Index is a flat similarity index. All mutation is serialized behind one
// writer lock and every mutating call is followed by a synchronous
// persist, trading write throughput for crash safety. Two processes
// sharing the same artifacts are not coordinated.
type Index struct {
	mu      sync.RWMutex
	path    string
	dim     int
	vectors []float32 // row-major, len == ntotal*dim
	metas   map[int]Meta
	logger  *zap.Logger
}

// New builds an Index persisting to path (metadata goes to a sidecar).
func New(path string, logger *zap.Logger) *Index {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Index{
		path:   path,
		metas:  map[int]Meta{},
		logger: logger,
	}
}

// NTotal returns the number of stored records.
func (ix *Index) NTotal() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.ntotalLocked()
}

func (ix *Index) ntotalLocked() int {
	if ix.dim == 0 {
		return 0
	}
	return len(ix.vectors) / ix.dim
}

// Dim returns the vector dimension, or zero before the first insert.
func (ix *Index) Dim() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.dim
}

// Add appends records and persists the index. The first insertion fixes
// the dimension; any vector of a different dimension is an error and
// nothing is appended.
func (ix *Index) Add(vectors [][]float32, metas []Meta) error {
	if len(vectors) == 0 {
		return nil
	}
	if len(vectors) != len(metas) {
		return fmt.Errorf("vectors/metas length mismatch: %d vs %d", len(vectors), len(metas))
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	dim := ix.dim
	if dim == 0 {
		dim = len(vectors[0])
		if dim == 0 {
			return fmt.Errorf("empty vector")
		}
	}
	for i, v := range vectors {
		if len(v) != dim {
			return fmt.Errorf("vector %d has dimension %d, index requires %d", i, len(v), dim)
		}
	}

	ix.dim = dim
	base := ix.ntotalLocked()
	for i, v := range vectors {
		ix.vectors = append(ix.vectors, v...)
		ix.metas[base+i] = metas[i]
	}

	if err := ix.persistLocked(); err != nil {
		return fmt.Errorf("persist after add: %w", err)
	}
	return nil
}

// Search returns up to topK records ranked by descending inner product.
// An empty or uninitialized index yields no results.
func (ix *Index) Search(query []float32, topK int) ([]SearchResult, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	n := ix.ntotalLocked()
	if n == 0 || topK <= 0 {
		return nil, nil
	}
	if len(query) != ix.dim {
		return nil, fmt.Errorf("query has dimension %d, index requires %d", len(query), ix.dim)
	}

	scores := make([]float32, n)
	for i := 0; i < n; i++ {
		row := ix.vectors[i*ix.dim : (i+1)*ix.dim]
		var dot float32
		for j, q := range query {
			dot += row[j] * q
		}
		scores[i] = dot
	}

	ids := make([]int, n)
	for i := range ids {
		ids[i] = i
	}
	sort.SliceStable(ids, func(a, b int) bool { return scores[ids[a]] > scores[ids[b]] })

	if topK > n {
		topK = n
	}
	results := make([]SearchResult, 0, topK)
	for _, id := range ids[:topK] {
		meta, ok := ix.metas[id]
		if !ok {
			continue
		}
		results = append(results, SearchResult{ID: id, Score: scores[id], Meta: meta})
	}
	return results, nil
}

// ListSources returns the distinct source labels across all metadata.
func (ix *Index) ListSources() []string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	seen := map[string]bool{}
	for _, m := range ix.metas {
		seen[m.Source] = true
	}
	sources := make([]string, 0, len(seen))
	for s := range seen {
		sources = append(sources, s)
	}
	sort.Strings(sources)
	return sources
}

// reconstructLocked returns a copy of the stored vector for id.
func (ix *Index) reconstructLocked(id int) ([]float32, error) {
	if id < 0 || id >= ix.ntotalLocked() {
		return nil, fmt.Errorf("reconstruct id %d out of range [0, %d)", id, ix.ntotalLocked())
	}
	row := make([]float32, ix.dim)
	copy(row, ix.vectors[id*ix.dim:(id+1)*ix.dim])
	return row, nil
}
