package index

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sanonone/kektorgraph/pkg/core/distance"
	"github.com/sanonone/kektorgraph/pkg/core/types"
)

func newTestIndex(t *testing.T, dim int, mutate func(*Options)) *EmbeddingIndex {
	t.Helper()
	opts := DefaultOptions(dim)
	if mutate != nil {
		mutate(&opts)
	}
	x, err := New(opts)
	require.NoError(t, err)
	return x
}

func fill(t *testing.T, x *EmbeddingIndex, n int, seed int64) [][]float32 {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	vecs := make([][]float32, n)
	for i := range vecs {
		v := make([]float32, x.Dimension())
		for j := range v {
			v[j] = rng.Float32()*2 - 1
		}
		vecs[i] = v
		require.NoError(t, x.Insert(types.NodeID(i+1), v))
	}
	return vecs
}

func TestCosineScores(t *testing.T) {
	x := newTestIndex(t, 2, nil)
	x.Insert(1, []float32{1, 0})
	x.Insert(2, []float32{0, 1})
	x.Insert(3, []float32{-1, 0})

	hits, err := x.Search([]float32{2, 0}, 3, -1)
	require.NoError(t, err)
	require.Len(t, hits, 3)
	want := []Hit{{1, 1}, {2, 0}, {3, -1}}
	for i, h := range hits {
		assert.Equal(t, want[i].ID, h.ID)
		assert.InDelta(t, want[i].Score, h.Score, 1e-6)
	}
}

func TestExactMatchClearsThresholdOne(t *testing.T) {
	for _, backend := range []string{BackendHNSW, BackendFlat} {
		t.Run(backend, func(t *testing.T) {
			x := newTestIndex(t, 3, func(o *Options) { o.Backend = backend })
			x.Insert(1, []float32{1, 0, 0})
			x.Insert(4, []float32{1, 1, 1})
			x.Insert(7, []float32{0.2, 0.3, 0.5})

			for id, v := range map[types.NodeID][]float32{4: {1, 1, 1}, 7: {0.2, 0.3, 0.5}} {
				hits, err := x.Search(v, 1, 1.0)
				require.NoError(t, err)
				require.Len(t, hits, 1, "a stored vector must match itself at min_similarity 1")
				assert.Equal(t, id, hits[0].ID)
				assert.Equal(t, 1.0, hits[0].Score)
			}

			hits, err := x.Search([]float32{1, 1, 1}, 3, -1)
			require.NoError(t, err)
			for _, h := range hits {
				assert.LessOrEqual(t, h.Score, 1.0)
				assert.GreaterOrEqual(t, h.Score, -1.0)
			}
		})
	}
}

func TestEuclideanScores(t *testing.T) {
	x := newTestIndex(t, 2, func(o *Options) { o.Metric = distance.Euclidean })
	x.Insert(1, []float32{0, 0})
	x.Insert(2, []float32{1, 1})

	hits, err := x.Search([]float32{0, 0}, 2, 0)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, Hit{ID: 1, Score: 1}, hits[0], "identical vector should score 1")
	assert.InDelta(t, 1.0/3.0, hits[1].Score, 1e-6, "squared distance 2 should score 1/3")
}

func TestTiesOrderedByID(t *testing.T) {
	x := newTestIndex(t, 2, nil)
	for _, id := range []types.NodeID{9, 4, 6} {
		x.Insert(id, []float32{0, 1})
	}
	hits, err := x.Search([]float32{0, 1}, 3, 0.5)
	require.NoError(t, err)
	require.Len(t, hits, 3)
	assert.Equal(t, []types.NodeID{4, 6, 9}, []types.NodeID{hits[0].ID, hits[1].ID, hits[2].ID})
}

func TestInsertIsIdempotent(t *testing.T) {
	x := newTestIndex(t, 3, nil)
	v := []float32{0.2, 0.3, 0.5}
	x.Insert(1, v)
	x.Insert(2, []float32{1, 0, 0})
	before, _ := x.Search(v, 5, -1)
	x.Insert(1, v)
	after, _ := x.Search(v, 5, -1)
	assert.Equal(t, 2, x.Len())
	assert.Equal(t, before, after)
}

func TestThresholdMonotonicity(t *testing.T) {
	x := newTestIndex(t, 8, nil)
	vecs := fill(t, x, 200, 3)
	q := vecs[17]

	prev := math.MaxInt
	for _, s := range []float64{-1, -0.5, 0, 0.2, 0.4, 0.6, 0.8, 0.95, 1} {
		hits, err := x.Search(q, 50, s)
		require.NoError(t, err)
		require.LessOrEqual(t, len(hits), prev, "raising threshold to %v grew results", s)
		for _, h := range hits {
			require.GreaterOrEqual(t, h.Score, s, "hit %+v below threshold", h)
		}
		prev = len(hits)
	}
	assert.Equal(t, 1, prev, "the query vector itself clears threshold 1")
}

func TestSearchValidation(t *testing.T) {
	x := newTestIndex(t, 2, nil)
	x.Insert(1, []float32{1, 0})

	_, err := x.Search([]float32{1, 0}, 0, 0)
	assert.ErrorIs(t, err, types.ErrInvalidTopK)
	_, err = x.Search([]float32{1}, 1, 0)
	assert.ErrorIs(t, err, types.ErrDimensionMismatch)
	_, err = x.Search([]float32{1, 0}, 1, math.NaN())
	assert.ErrorIs(t, err, types.ErrInvalidThreshold)
	_, err = x.Search([]float32{1, 0}, 1, 1.5)
	assert.ErrorIs(t, err, types.ErrInvalidThreshold)
	assert.ErrorIs(t, x.Insert(2, []float32{1, 2, 3}), types.ErrDimensionMismatch)
	assert.ErrorIs(t, x.Remove(42), types.ErrUnknownNode)
}

func TestRemovedNeverReturned(t *testing.T) {
	for _, backend := range []string{BackendHNSW, BackendFlat} {
		t.Run(backend, func(t *testing.T) {
			// A negative ExactBelow forces the approximate path on the HNSW backend.
			x := newTestIndex(t, 8, func(o *Options) { o.Backend = backend; o.ExactBelow = -1 })
			vecs := fill(t, x, 300, 5)
			for i := 1; i <= 300; i += 3 {
				require.NoError(t, x.Remove(types.NodeID(i)))
			}
			for _, q := range vecs[:40] {
				hits, _ := x.Search(q, 20, -1)
				for _, h := range hits {
					require.NotZero(t, (h.ID-1)%3, "removed id %d returned", h.ID)
				}
			}
		})
	}
}

func TestDumpLoadEquivalence(t *testing.T) {
	for _, backend := range []string{BackendHNSW, BackendFlat} {
		t.Run(backend, func(t *testing.T) {
			x := newTestIndex(t, 16, func(o *Options) { o.Backend = backend; o.ExactBelow = -1 })
			vecs := fill(t, x, 500, 9)
			x.Remove(3)

			blob, err := x.Dump()
			require.NoError(t, err)
			y, err := Load(blob)
			require.NoError(t, err)
			require.Equal(t, x.Len(), y.Len())
			require.Equal(t, x.Options(), y.Options())
			for _, q := range vecs[100:130] {
				a, _ := x.Search(q, 10, 0)
				b, _ := y.Search(q, 10, 0)
				require.Equal(t, a, b)
			}
		})
	}
}

func TestLoadCorrupt(t *testing.T) {
	x := newTestIndex(t, 4, nil)
	fill(t, x, 10, 1)
	blob, err := x.Dump()
	require.NoError(t, err)

	blob[len(blob)/2] ^= 0x55
	_, err = Load(blob)
	assert.ErrorIs(t, err, types.ErrCorruptState)
	_, err = Load([]byte("nope"))
	assert.ErrorIs(t, err, types.ErrCorruptState, "garbage input")
}

func TestMaintainVacuums(t *testing.T) {
	x := newTestIndex(t, 4, func(o *Options) { o.VacuumRatio = 0.1 })
	fill(t, x, 50, 2)
	require.Zero(t, x.Maintain(), "no tombstones yet")
	for i := 1; i <= 10; i++ {
		x.Remove(types.NodeID(i))
	}
	require.Equal(t, 10, x.Maintain())
	st := x.Stats()
	assert.Zero(t, st.Tombstones)
	assert.Equal(t, 40, st.Live)
}

func TestOptionsValidation(t *testing.T) {
	bad := []Options{
		{Dimension: 0},
		{Dimension: 4, Backend: "annoy"},
		{Dimension: 4, Metric: "manhattan"},
		{Dimension: 4, Backend: BackendFlat, Precision: distance.Float16},
		{Dimension: 4, VacuumRatio: 2},
	}
	for _, o := range bad {
		_, err := New(o)
		assert.Error(t, err, "options %+v", o)
	}

	o, err := Options{Dimension: 4}.Normalize()
	require.NoError(t, err)
	assert.Equal(t, DefaultOptions(4), o, "zero fields take the defaults")

	o, err = Options{Dimension: 4, ExactBelow: -1}.Normalize()
	require.NoError(t, err)
	assert.Equal(t, -1, o.ExactBelow)
}
