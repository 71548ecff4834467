// Package vector holds the in-process listing vector index and the
// background similarity precomputation and cache warming jobs.
package vector

import (
	"fmt"
	"math"
	"sync"

	"github.com/coder/hnsw"
)

// Neighbor is a single nearest-neighbor hit.
type Neighbor struct {
	ID    string  `json:"id"`
	Score float64 `json:"score"`
}

// SimilarityList is the precomputed top-N neighbor set for one listing.
type SimilarityList struct {
	SourceID  string     `json:"sourceId"`
	Neighbors []Neighbor `json:"neighbors"`
}

// Index is an HNSW nearest-neighbor index over listing embeddings,
// keyed by listing ID. Vectors are normalized for cosine similarity.
type Index struct {
	mu    sync.RWMutex
	graph *hnsw.Graph[uint64]
	dims  int

	// ID mapping (string <-> uint64)
	idMap   map[string]uint64
	keyMap  map[uint64]string
	nextKey uint64

	// Normalized vectors by listing ID, for neighbor precompute.
	vectors map[string][]float32
}

// NewIndex creates an index for vectors of the given dimensionality.
func NewIndex(dims int) *Index {
	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.CosineDistance
	graph.M = 16
	graph.EfSearch = 20
	graph.Ml = 0.25

	return &Index{
		graph:   graph,
		dims:    dims,
		idMap:   make(map[string]uint64),
		keyMap:  make(map[uint64]string),
		vectors: make(map[string][]float32),
	}
}

// Add inserts or replaces the vector for id. Replacement is lazy: the
// old node stays in the graph but is orphaned from the ID maps, which
// avoids delete edge cases in the underlying graph.
func (ix *Index) Add(id string, vec []float32) error {
	if len(vec) != ix.dims {
		return fmt.Errorf("dimension mismatch: expected %d, got %d", ix.dims, len(vec))
	}

	normalized := make([]float32, len(vec))
	copy(normalized, vec)
	normalizeInPlace(normalized)

	ix.mu.Lock()
	defer ix.mu.Unlock()

	if existingKey, exists := ix.idMap[id]; exists {
		delete(ix.keyMap, existingKey)
		delete(ix.idMap, id)
	}

	key := ix.nextKey
	ix.nextKey++

	ix.graph.Add(hnsw.MakeNode(key, normalized))
	ix.idMap[id] = key
	ix.keyMap[key] = id
	ix.vectors[id] = normalized

	return nil
}

// Search returns up to k nearest neighbors of query, best first.
func (ix *Index) Search(query []float32, k int) ([]Neighbor, error) {
	if len(query) != ix.dims {
		return nil, fmt.Errorf("dimension mismatch: expected %d, got %d", ix.dims, len(query))
	}

	normalized := make([]float32, len(query))
	copy(normalized, query)
	normalizeInPlace(normalized)

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	if ix.graph.Len() == 0 {
		return []Neighbor{}, nil
	}

	nodes := ix.graph.Search(normalized, k)

	neighbors := make([]Neighbor, 0, len(nodes))
	for _, node := range nodes {
		id, exists := ix.keyMap[node.Key]
		if !exists {
			// Orphaned by a replacement; skip.
			continue
		}

		distance := ix.graph.Distance(normalized, node.Value)
		neighbors = append(neighbors, Neighbor{
			ID: id,
			// Cosine distance ranges 0-2; map to a 0-1 similarity.
			Score: 1.0 - float64(distance)/2.0,
		})
	}

	return neighbors, nil
}

// Vector returns the stored normalized vector for id, or false when absent.
func (ix *Index) Vector(id string) ([]float32, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	vec, ok := ix.vectors[id]
	return vec, ok
}

// Has reports whether id is indexed.
func (ix *Index) Has(id string) bool {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	_, ok := ix.idMap[id]
	return ok
}

// Len reports the number of live IDs in the index.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.idMap)
}

func normalizeInPlace(v []float32) {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	if sumSquares == 0 {
		return
	}
	invMagnitude := float32(1.0 / math.Sqrt(sumSquares))
	for i := range v {
		v[i] *= invMagnitude
	}
}
