package hnsw

import (
	"bytes"
	"encoding/gob"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sanonone/kektorgraph/pkg/core/distance"
	"github.com/sanonone/kektorgraph/pkg/core/types"
)

func randomVectors(seed int64, n, dim int) [][]float32 {
	rng := rand.New(rand.NewSource(seed))
	out := make([][]float32, n)
	for i := range out {
		v := make([]float32, dim)
		for j := range v {
			v[j] = rng.Float32()*2 - 1
		}
		out[i] = v
	}
	return out
}

func buildIndex(t testing.TB, metric distance.DistanceMetric, precision distance.PrecisionType, vecs [][]float32) *Index {
	t.Helper()
	idx, err := New(len(vecs[0]), 16, 200, metric, precision, 42)
	require.NoError(t, err)
	for i, v := range vecs {
		require.NoError(t, idx.Add(types.NodeID(i+1), v), "Add %d", i+1)
	}
	return idx
}

func TestRecallAgainstExact(t *testing.T) {
	for _, metric := range []distance.DistanceMetric{distance.Cosine, distance.Euclidean} {
		t.Run(string(metric), func(t *testing.T) {
			vecs := randomVectors(1, 2000, 32)
			idx := buildIndex(t, metric, distance.Float32, vecs)
			queries := randomVectors(2, 50, 32)

			hits, total := 0, 0
			for _, q := range queries {
				exact, err := idx.SearchExact(q, 10)
				require.NoError(t, err)
				approx, err := idx.Search(q, 10, 100)
				require.NoError(t, err)
				want := make(map[types.NodeID]bool, len(exact))
				for _, r := range exact {
					want[r.ID] = true
				}
				for _, r := range approx {
					if want[r.ID] {
						hits++
					}
				}
				total += len(exact)
			}
			recall := float64(hits) / float64(total)
			assert.GreaterOrEqual(t, recall, 0.9)
		})
	}
}

func TestSelfIsNearest(t *testing.T) {
	vecs := randomVectors(3, 300, 16)
	idx := buildIndex(t, distance.Cosine, distance.Float32, vecs)
	for i, v := range vecs {
		res, err := idx.Search(v, 1, 64)
		require.NoError(t, err)
		require.Len(t, res, 1)
		require.Equal(t, types.NodeID(i+1), res[0].ID, "query %d", i+1)
	}
}

func TestDeleteNeverReturned(t *testing.T) {
	vecs := randomVectors(4, 500, 16)
	idx := buildIndex(t, distance.Euclidean, distance.Float32, vecs)
	for i := 1; i <= 500; i += 2 {
		require.True(t, idx.Delete(types.NodeID(i)), "Delete(%d)", i)
	}
	assert.False(t, idx.Delete(1), "second Delete of same id")
	require.Equal(t, 250, idx.Len())
	require.Equal(t, 250, idx.Tombstones())

	for _, q := range randomVectors(5, 30, 16) {
		res, _ := idx.Search(q, 20, 100)
		for _, r := range res {
			require.Zero(t, r.ID%2, "deleted node %d returned", r.ID)
		}
	}
}

func TestAddIsUpsert(t *testing.T) {
	idx, err := New(2, 8, 50, distance.Cosine, distance.Float32, 1)
	require.NoError(t, err)
	idx.Add(1, []float32{1, 0})
	idx.Add(2, []float32{0, 1})
	idx.Add(1, []float32{0, 1})

	require.Equal(t, 2, idx.Len())
	res, _ := idx.SearchExact([]float32{1, 0}, 2)
	for _, r := range res {
		assert.GreaterOrEqual(t, r.Distance, 0.5, "stale vector still reachable: %+v", r)
	}
}

func TestDimensionChecks(t *testing.T) {
	idx, err := New(3, 8, 50, distance.Cosine, distance.Float32, 1)
	require.NoError(t, err)
	assert.ErrorIs(t, idx.Add(1, []float32{1, 2}), types.ErrDimensionMismatch)
	_, err = idx.Search([]float32{1}, 1, 10)
	assert.ErrorIs(t, err, types.ErrDimensionMismatch)
	_, err = idx.Search([]float32{1, 2, 3}, 0, 10)
	assert.ErrorIs(t, err, types.ErrInvalidTopK)
	_, err = New(0, 8, 50, distance.Cosine, distance.Float32, 1)
	assert.ErrorIs(t, err, types.ErrInvalidDimension)
}

func TestEmptySearch(t *testing.T) {
	idx, err := New(2, 8, 50, distance.Cosine, distance.Float32, 1)
	require.NoError(t, err)
	res, err := idx.Search([]float32{1, 0}, 5, 10)
	require.NoError(t, err)
	assert.Empty(t, res)
}

func TestFloat16(t *testing.T) {
	vecs := randomVectors(6, 200, 8)
	idx := buildIndex(t, distance.Cosine, distance.Float16, vecs)
	res, err := idx.Search(vecs[10], 1, 50)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, types.NodeID(11), res[0].ID)
}

func TestSnapshotRoundTrip(t *testing.T) {
	vecs := randomVectors(7, 400, 16)
	idx := buildIndex(t, distance.Cosine, distance.Float32, vecs)
	idx.Delete(5)
	idx.Delete(77)

	var buf bytes.Buffer
	require.NoError(t, gob.NewEncoder(&buf).Encode(idx.Snapshot()))
	var snap Snapshot
	require.NoError(t, gob.NewDecoder(&buf).Decode(&snap))
	restored, err := Restore(&snap)
	require.NoError(t, err)
	require.Equal(t, idx.Len(), restored.Len())
	require.Equal(t, idx.Tombstones(), restored.Tombstones())

	for _, q := range randomVectors(8, 20, 16) {
		a, _ := idx.Search(q, 10, 64)
		b, _ := restored.Search(q, 10, 64)
		require.Equal(t, a, b)
	}
}

func TestRestoredIndexGrowsIdentically(t *testing.T) {
	vecs := randomVectors(13, 600, 8)
	idx := buildIndex(t, distance.Euclidean, distance.Float32, vecs[:300])
	idx.Delete(10)

	restored, err := Restore(idx.Snapshot())
	require.NoError(t, err)

	for i, v := range vecs[300:] {
		id := types.NodeID(301 + i)
		require.NoError(t, idx.Add(id, v))
		require.NoError(t, restored.Add(id, v))
	}
	assert.Equal(t, idx.Snapshot(), restored.Snapshot(), "same later inserts must build the same graph")

	require.Equal(t, idx.Vacuum(), restored.Vacuum())
	require.NoError(t, idx.Add(1000, vecs[0]))
	require.NoError(t, restored.Add(1000, vecs[0]))
	assert.Equal(t, idx.Snapshot(), restored.Snapshot(), "vacuum keeps the generators in step")
}

func TestRestoreRejectsBrokenGraph(t *testing.T) {
	idx := buildIndex(t, distance.Euclidean, distance.Float32, randomVectors(9, 10, 4))
	snap := idx.Snapshot()
	snap.Nodes[3].Connections[0] = append(snap.Nodes[3].Connections[0], 999)
	_, err := Restore(snap)
	assert.ErrorIs(t, err, types.ErrCorruptState)

	snap = idx.Snapshot()
	snap.Nodes[2].Id = snap.Nodes[1].Id
	_, err = Restore(snap)
	assert.ErrorIs(t, err, types.ErrCorruptState, "duplicate id")
}

func TestVacuum(t *testing.T) {
	vecs := randomVectors(10, 300, 8)
	idx := buildIndex(t, distance.Euclidean, distance.Float32, vecs)
	for i := 1; i <= 150; i++ {
		idx.Delete(types.NodeID(i))
	}
	require.Equal(t, 0.5, idx.DeletedRatio())
	require.Equal(t, 150, idx.Vacuum())
	require.Zero(t, idx.Tombstones())
	require.Equal(t, 150, idx.Len())

	res, _ := idx.Search(vecs[200], 1, 50)
	require.Len(t, res, 1)
	assert.Equal(t, types.NodeID(201), res[0].ID)
	assert.Zero(t, idx.Vacuum(), "second vacuum is a no-op")
}

func BenchmarkSearch(b *testing.B) {
	vecs := randomVectors(11, 5000, 64)
	idx := buildIndex(b, distance.Cosine, distance.Float32, vecs)
	q := randomVectors(12, 1, 64)[0]
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		idx.Search(q, 10, 64)
	}
}
