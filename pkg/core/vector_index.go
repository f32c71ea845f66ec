// Package core defines the contract shared by the vector backends of the
// similarity index, plus FlatIndex, the exact brute-force backend.
package core

import (
	"slices"
	"sync"

	"github.com/sanonone/kektorgraph/pkg/core/distance"
	"github.com/sanonone/kektorgraph/pkg/core/hnsw"
	"github.com/sanonone/kektorgraph/pkg/core/types"
)

// VectorIndex is implemented by every backend. Distances in results are
// metric-specific (smaller is closer); converting them to similarity scores
// is the caller's business.
type VectorIndex interface {
	// Add inserts or replaces the vector stored under id.
	Add(id types.NodeID, vector []float32) error
	// Delete removes id, returning false if it was absent.
	Delete(id types.NodeID) bool
	Contains(id types.NodeID) bool
	// Search returns up to k nearest live vectors. efSearch is a hint that
	// exact backends ignore.
	Search(query []float32, k, efSearch int) ([]types.SearchResult, error)
	// SearchExact returns the true k nearest, ties broken by ascending id.
	SearchExact(query []float32, k int) ([]types.SearchResult, error)
	Len() int
	IDs() []types.NodeID
	Dimension() int
	Metric() distance.DistanceMetric
	Precision() distance.PrecisionType
}

var (
	_ VectorIndex = (*FlatIndex)(nil)
	_ VectorIndex = (*hnsw.Index)(nil)
)

// FlatIndex stores every vector and scans all of them on search. It is the
// reference backend for small graphs and for tests.
type FlatIndex struct {
	mu      sync.RWMutex
	dim     int
	metric  distance.DistanceMetric
	dist    distance.DistanceFuncF32
	vectors map[types.NodeID][]float32
}

// NewFlatIndex creates an empty exact index. Precision is always float32.
func NewFlatIndex(dim int, metric distance.DistanceMetric) (*FlatIndex, error) {
	if dim <= 0 {
		return nil, types.ErrInvalidDimension
	}
	fn, err := distance.GetFloat32Func(metric)
	if err != nil {
		return nil, err
	}
	return &FlatIndex{
		dim:     dim,
		metric:  metric,
		dist:    fn,
		vectors: make(map[types.NodeID][]float32),
	}, nil
}

func (f *FlatIndex) prepare(v []float32) []float32 {
	cp := slices.Clone(v)
	if f.metric == distance.Cosine {
		distance.Normalize(cp)
	}
	return cp
}

func (f *FlatIndex) Add(id types.NodeID, vector []float32) error {
	if len(vector) != f.dim {
		return types.DimensionMismatch(f.dim, len(vector))
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.vectors[id] = f.prepare(vector)
	return nil
}

func (f *FlatIndex) Delete(id types.NodeID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.vectors[id]; !ok {
		return false
	}
	delete(f.vectors, id)
	return true
}

func (f *FlatIndex) Contains(id types.NodeID) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	_, ok := f.vectors[id]
	return ok
}

func (f *FlatIndex) Search(query []float32, k, _ int) ([]types.SearchResult, error) {
	return f.SearchExact(query, k)
}

func (f *FlatIndex) SearchExact(query []float32, k int) ([]types.SearchResult, error) {
	if len(query) != f.dim {
		return nil, types.DimensionMismatch(f.dim, len(query))
	}
	if k <= 0 {
		return nil, types.ErrInvalidTopK
	}
	f.mu.RLock()
	defer f.mu.RUnlock()

	q := f.prepare(query)
	results := make([]types.SearchResult, 0, len(f.vectors))
	for id, v := range f.vectors {
		d, err := f.dist(q, v)
		if err != nil {
			return nil, err
		}
		results = append(results, types.SearchResult{ID: id, Distance: d})
	}
	slices.SortFunc(results, func(a, b types.SearchResult) int {
		switch {
		case a.Distance < b.Distance:
			return -1
		case a.Distance > b.Distance:
			return 1
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

func (f *FlatIndex) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.vectors)
}

func (f *FlatIndex) IDs() []types.NodeID {
	f.mu.RLock()
	defer f.mu.RUnlock()
	ids := make([]types.NodeID, 0, len(f.vectors))
	for id := range f.vectors {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func (f *FlatIndex) Dimension() int                    { return f.dim }
func (f *FlatIndex) Metric() distance.DistanceMetric   { return f.metric }
func (f *FlatIndex) Precision() distance.PrecisionType { return distance.Float32 }

// FlatSnapshot is the gob image of a FlatIndex. Vectors are stored as prepared
// (normalized for cosine) so a restore does not re-normalize.
type FlatSnapshot struct {
	Dim     int
	Metric  distance.DistanceMetric
	IDs     []types.NodeID
	Vectors [][]float32
}

// Snapshot copies the index contents in ascending id order.
func (f *FlatIndex) Snapshot() *FlatSnapshot {
	f.mu.RLock()
	defer f.mu.RUnlock()
	s := &FlatSnapshot{Dim: f.dim, Metric: f.metric}
	ids := make([]types.NodeID, 0, len(f.vectors))
	for id := range f.vectors {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		s.IDs = append(s.IDs, id)
		s.Vectors = append(s.Vectors, slices.Clone(f.vectors[id]))
	}
	return s
}

// RestoreFlat rebuilds a FlatIndex, reporting malformed input as ErrCorruptState.
func RestoreFlat(s *FlatSnapshot) (*FlatIndex, error) {
	if s == nil || len(s.IDs) != len(s.Vectors) {
		return nil, types.CorruptState("flat: malformed snapshot")
	}
	f, err := NewFlatIndex(s.Dim, s.Metric)
	if err != nil {
		return nil, types.CorruptState("flat: %v", err)
	}
	for i, id := range s.IDs {
		if len(s.Vectors[i]) != s.Dim {
			return nil, types.CorruptState("flat: node %d has dimension %d", id, len(s.Vectors[i]))
		}
		if _, dup := f.vectors[id]; dup {
			return nil, types.CorruptState("flat: duplicate node %d", id)
		}
		f.vectors[id] = s.Vectors[i]
	}
	return f, nil
}
