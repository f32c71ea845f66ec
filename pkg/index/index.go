// Package index implements the similarity index: it maps node IDs to
// embeddings and answers top-k nearest-neighbour queries with a similarity
// floor. Results are ordered by descending score, ties by ascending node ID.
//
// Scores are metric-specific. For cosine the score is the cosine similarity
// in [-1, 1]. For euclidean it is 1/(1+d) where d is the squared euclidean
// distance, so it lies in (0, 1] and 1 means identical.
package index

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"sync"

	"github.com/sanonone/kektorgraph/pkg/core"
	"github.com/sanonone/kektorgraph/pkg/core/distance"
	"github.com/sanonone/kektorgraph/pkg/core/hnsw"
	"github.com/sanonone/kektorgraph/pkg/core/types"
	"github.com/sanonone/kektorgraph/pkg/persistence"
)

// Hit is one search result.
type Hit struct {
	ID    types.NodeID `json:"id"`
	Score float64      `json:"score"`
}

// EmbeddingIndex wraps a core.VectorIndex backend with validation, score
// conversion and serialization.
type EmbeddingIndex struct {
	mu      sync.RWMutex
	opts    Options
	backend core.VectorIndex
}

// New creates an empty index.
func New(opts Options) (*EmbeddingIndex, error) {
	opts, err := opts.Normalize()
	if err != nil {
		return nil, err
	}
	var backend core.VectorIndex
	switch opts.Backend {
	case BackendFlat:
		backend, err = core.NewFlatIndex(opts.Dimension, opts.Metric)
	default:
		backend, err = hnsw.New(opts.Dimension, opts.M, opts.EfConstruction, opts.Metric, opts.Precision, opts.Seed)
	}
	if err != nil {
		return nil, err
	}
	return &EmbeddingIndex{opts: opts, backend: backend}, nil
}

func (x *EmbeddingIndex) Options() Options { return x.opts }
func (x *EmbeddingIndex) Dimension() int   { return x.opts.Dimension }

// Insert associates vector with id, replacing any previous vector.
// Inserting the same (id, vector) twice leaves the index unchanged.
func (x *EmbeddingIndex) Insert(id types.NodeID, vector []float32) error {
	if len(vector) != x.opts.Dimension {
		return types.DimensionMismatch(x.opts.Dimension, len(vector))
	}
	for _, f := range vector {
		if math.IsNaN(float64(f)) || math.IsInf(float64(f), 0) {
			return fmt.Errorf("index: vector for node %d contains non-finite values", id)
		}
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.backend.Add(id, vector)
}

// Remove drops id from the index. Removing an absent id reports ErrUnknownNode.
func (x *EmbeddingIndex) Remove(id types.NodeID) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if !x.backend.Delete(id) {
		return types.UnknownNode(id)
	}
	return nil
}

func (x *EmbeddingIndex) Contains(id types.NodeID) bool {
	return x.backend.Contains(id)
}

// Len returns the number of indexed nodes.
func (x *EmbeddingIndex) Len() int {
	return x.backend.Len()
}

// IDs returns the indexed node IDs in ascending order.
func (x *EmbeddingIndex) IDs() []types.NodeID {
	return x.backend.IDs()
}

// ValidateThreshold rejects NaN, infinities and values outside [-1, 1].
func ValidateThreshold(minSimilarity float64) error {
	if math.IsNaN(minSimilarity) || minSimilarity < -1 || minSimilarity > 1 {
		return fmt.Errorf("%w: %v", types.ErrInvalidThreshold, minSimilarity)
	}
	return nil
}

// Search returns at most topK hits whose score is >= minSimilarity.
func (x *EmbeddingIndex) Search(query []float32, topK int, minSimilarity float64) ([]Hit, error) {
	if topK <= 0 {
		return nil, fmt.Errorf("%w: %d", types.ErrInvalidTopK, topK)
	}
	if len(query) != x.opts.Dimension {
		return nil, types.DimensionMismatch(x.opts.Dimension, len(query))
	}
	if err := ValidateThreshold(minSimilarity); err != nil {
		return nil, err
	}

	x.mu.RLock()
	defer x.mu.RUnlock()

	var (
		raw []types.SearchResult
		err error
	)
	if x.backend.Len() <= x.opts.ExactBelow {
		raw, err = x.backend.SearchExact(query, topK)
	} else {
		raw, err = x.backend.Search(query, topK, x.opts.EfSearch)
	}
	if err != nil {
		return nil, err
	}

	hits := make([]Hit, 0, len(raw))
	for _, r := range raw {
		score := distance.Similarity(x.opts.Metric, r.Distance)
		if score >= minSimilarity {
			hits = append(hits, Hit{ID: r.ID, Score: score})
		}
	}
	SortHits(hits)
	return hits, nil
}

// SortHits orders hits by descending score, then ascending ID.
func SortHits(hits []Hit) {
	slices.SortFunc(hits, func(a, b Hit) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
}

// Stats describes the index for status endpoints.
type Stats struct {
	Backend    string  `json:"backend"`
	Metric     string  `json:"metric"`
	Precision  string  `json:"precision"`
	Dimension  int     `json:"dimension"`
	Live       int     `json:"live"`
	Tombstones int     `json:"tombstones"`
	Kernels    string  `json:"kernels"`
	Deleted    float64 `json:"deleted_ratio"`
}

func (x *EmbeddingIndex) Stats() Stats {
	s := Stats{
		Backend:   x.opts.Backend,
		Metric:    string(x.opts.Metric),
		Precision: string(x.opts.Precision),
		Dimension: x.opts.Dimension,
		Live:      x.backend.Len(),
		Kernels:   distance.Engine(),
	}
	if h, ok := x.backend.(*hnsw.Index); ok {
		s.Tombstones = h.Tombstones()
		s.Deleted = h.DeletedRatio()
	}
	return s
}

// Maintain vacuums the HNSW graph when its tombstone ratio exceeds
// Options.VacuumRatio. Returns the number of tombstones dropped.
func (x *EmbeddingIndex) Maintain() int {
	h, ok := x.backend.(*hnsw.Index)
	if !ok {
		return 0
	}
	if ratio := h.DeletedRatio(); ratio <= x.opts.VacuumRatio {
		return 0
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	removed := h.Vacuum()
	slog.Debug("index maintenance", "removed_tombstones", removed, "live", h.Len())
	return removed
}

const (
	dumpFormat  = "kektorgraph-index"
	dumpVersion = 1
)

// dump is the gob image written inside an OpCodeIndex frame.
type dump struct {
	Format  string
	Version int
	Options Options
	HNSW    *hnsw.Snapshot
	Flat    *core.FlatSnapshot
}

// Dump serializes the index as a single checksummed frame. Load(Dump())
// answers every query exactly like the original.
func (x *EmbeddingIndex) Dump() ([]byte, error) {
	x.mu.RLock()
	d := dump{Format: dumpFormat, Version: dumpVersion, Options: x.opts}
	switch b := x.backend.(type) {
	case *hnsw.Index:
		d.HNSW = b.Snapshot()
	case *core.FlatIndex:
		d.Flat = b.Snapshot()
	}
	x.mu.RUnlock()

	var payload bytes.Buffer
	if err := gob.NewEncoder(&payload).Encode(&d); err != nil {
		return nil, fmt.Errorf("index: encode dump: %w", err)
	}
	return persistence.AppendFrame(nil, persistence.OpCodeIndex, payload.Bytes()), nil
}

// Load reconstructs an index from Dump output. Anything unreadable or
// inconsistent is reported as types.ErrCorruptState.
func Load(blob []byte) (*EmbeddingIndex, error) {
	payload, err := persistence.ReadFrameOp(bytes.NewReader(blob), persistence.OpCodeIndex)
	if err != nil {
		return nil, types.CorruptState("index: %v", err)
	}
	var d dump
	if err := gob.NewDecoder(bytes.NewReader(payload)).Decode(&d); err != nil {
		return nil, types.CorruptState("index: decode dump: %v", err)
	}
	if d.Format != dumpFormat || d.Version != dumpVersion {
		return nil, types.CorruptState("index: unsupported format %q version %d", d.Format, d.Version)
	}
	opts, err := d.Options.Normalize()
	if err != nil {
		return nil, types.CorruptState("%v", err)
	}

	x := &EmbeddingIndex{opts: opts}
	switch opts.Backend {
	case BackendFlat:
		if d.Flat == nil {
			return nil, types.CorruptState("index: flat backend without data")
		}
		x.backend, err = core.RestoreFlat(d.Flat)
	default:
		if d.HNSW == nil {
			return nil, types.CorruptState("index: hnsw backend without data")
		}
		x.backend, err = hnsw.Restore(d.HNSW)
	}
	if err != nil {
		return nil, err
	}
	if x.backend.Dimension() != opts.Dimension || x.backend.Metric() != opts.Metric {
		return nil, types.CorruptState("index: backend parameters disagree with options")
	}
	return x, nil
}
