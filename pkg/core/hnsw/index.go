// Package hnsw implements the Hierarchical Navigable Small World graph used
// for approximate nearest neighbour search over node embeddings.
//
// Deletes are soft: a removed node becomes a tombstone that search can still
// traverse but never returns. Vacuum rebuilds the graph without tombstones.
package hnsw

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"slices"
	"sync"

	"github.com/sanonone/kektorgraph/pkg/core/distance"
	"github.com/sanonone/kektorgraph/pkg/core/types"
)

var errNoEntrypoint = errors.New("hnsw: graph has no entrypoint")

// Index is an in-memory HNSW graph keyed by types.NodeID.
type Index struct {
	mu sync.RWMutex

	// m is the max number of neighbours per node on layers > 0; mMax0 applies to layer 0.
	m     int
	mMax0 int
	// efConstruction is the candidate list size used while linking new nodes.
	efConstruction int
	// ml is the level normalisation factor, 1/ln(m).
	ml   float64
	seed int64
	rng  *rand.Rand
	// draws counts values taken from rng so a restored index resumes the same sequence.
	draws uint64

	dim          int
	entrypointID uint32
	maxLevel     int

	// nodes is indexed by InternalID. Tombstones stay until Vacuum.
	nodes              []*Node
	externalToInternal map[types.NodeID]uint32
	deleted            int

	metric    distance.DistanceMetric
	precision distance.PrecisionType
	distF32   distance.DistanceFuncF32
	distF16   distance.DistanceFuncF16

	visitedPool sync.Pool
}

// New creates an empty index. dim is fixed for the lifetime of the index.
func New(dim, m, efConstruction int, metric distance.DistanceMetric, precision distance.PrecisionType, seed int64) (*Index, error) {
	if dim <= 0 {
		return nil, types.ErrInvalidDimension
	}
	if m < 2 {
		m = 16
	}
	if efConstruction <= 0 {
		efConstruction = 200
	}
	if precision == "" {
		precision = distance.Float32
	}
	if err := distance.Validate(metric, precision); err != nil {
		return nil, err
	}

	h := &Index{
		m:                  m,
		mMax0:              m * 2,
		efConstruction:     efConstruction,
		ml:                 1 / math.Log(float64(m)),
		seed:               seed,
		rng:                rand.New(rand.NewSource(seed)),
		dim:                dim,
		maxLevel:           -1,
		externalToInternal: make(map[types.NodeID]uint32),
		metric:             metric,
		precision:          precision,
	}

	var err error
	if precision == distance.Float16 {
		h.distF16, err = distance.GetFloat16Func(metric)
	} else {
		h.distF32, err = distance.GetFloat32Func(metric)
	}
	if err != nil {
		return nil, err
	}
	h.visitedPool = sync.Pool{New: func() any { return newVisitedSet(1024) }}
	return h, nil
}

// prepare copies v into the storage representation: normalized for cosine,
// converted to half precision for float16. The caller's slice is not touched.
func (h *Index) prepare(v []float32) (f32 []float32, f16 []uint16) {
	cp := slices.Clone(v)
	if h.metric == distance.Cosine {
		distance.Normalize(cp)
	}
	if h.precision == distance.Float16 {
		return nil, distance.ToFloat16(cp)
	}
	return cp, nil
}

// query is a prepared search vector, in the same representation as the nodes.
type query struct {
	f32 []float32
	f16 []uint16
}

func (h *Index) prepareQuery(v []float32) query {
	f32, f16 := h.prepare(v)
	return query{f32: f32, f16: f16}
}

func (h *Index) distanceTo(q query, n *Node) float64 {
	var (
		d   float64
		err error
	)
	if h.precision == distance.Float16 {
		d, err = h.distF16(q.f16, n.VectorF16)
	} else {
		d, err = h.distF32(q.f32, n.VectorF32)
	}
	if err != nil {
		// Lengths are validated at insert and search, so this only trips on a corrupt graph.
		return math.Inf(1)
	}
	return d
}

func (h *Index) distanceBetween(a, b *Node) float64 {
	return h.distanceTo(query{f32: a.VectorF32, f16: a.VectorF16}, b)
}

// randomLevel draws a level from the exponentially decaying HNSW distribution.
func (h *Index) randomLevel() int {
	h.draws++
	level := int(math.Floor(-math.Log(1-h.rng.Float64()) * h.ml))
	if limit := h.maxLevel + 1; level > limit {
		level = limit
	}
	return level
}

// Add inserts vector under id. If id is already present the previous vector
// is tombstoned first, so Add is an upsert.
func (h *Index) Add(id types.NodeID, vector []float32) error {
	if len(vector) != h.dim {
		return types.DimensionMismatch(h.dim, len(vector))
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.addLocked(id, vector)
	return nil
}

func (h *Index) addLocked(id types.NodeID, vector []float32) {
	if old, ok := h.externalToInternal[id]; ok {
		h.nodes[old].Deleted = true
		h.deleted++
		delete(h.externalToInternal, id)
	}

	f32, f16 := h.prepare(vector)
	internalID := uint32(len(h.nodes))
	level := h.randomLevel()
	node := &Node{
		Id:          id,
		InternalID:  internalID,
		VectorF32:   f32,
		VectorF16:   f16,
		Connections: make([][]uint32, level+1),
	}
	h.nodes = append(h.nodes, node)
	h.externalToInternal[id] = internalID

	if h.maxLevel == -1 {
		h.entrypointID = internalID
		h.maxLevel = level
		return
	}

	q := query{f32: f32, f16: f16}
	ep := h.entrypointID
	for l := h.maxLevel; l > level; l-- {
		if nearest := h.searchLayer(q, ep, 1, l, true); len(nearest) > 0 {
			ep = nearest[0].Id
		}
	}

	for l := min(level, h.maxLevel); l >= 0; l-- {
		// Tombstones take part in linking so the graph stays navigable after deletes.
		candidates := h.searchLayer(q, ep, h.efConstruction, l, true)
		maxConns := h.m
		if l == 0 {
			maxConns = h.mMax0
		}
		neighbours := h.selectNeighbors(candidates, maxConns)
		node.Connections[l] = make([]uint32, 0, len(neighbours))
		for _, nb := range neighbours {
			node.Connections[l] = append(node.Connections[l], nb.Id)
			h.link(nb.Id, internalID, l, maxConns)
		}
		if len(candidates) > 0 {
			ep = candidates[0].Id
		}
	}

	if level > h.maxLevel {
		h.maxLevel = level
		h.entrypointID = internalID
	}
}

// link adds a back edge from -> to at layer l, pruning with the neighbour
// heuristic when from exceeds its connection budget.
func (h *Index) link(from, to uint32, l, maxConns int) {
	n := h.nodes[from]
	if l >= len(n.Connections) {
		return
	}
	n.Connections[l] = append(n.Connections[l], to)
	if len(n.Connections[l]) <= maxConns {
		return
	}

	cands := make([]types.Candidate, 0, len(n.Connections[l]))
	for _, c := range n.Connections[l] {
		cands = append(cands, types.Candidate{Id: c, Distance: h.distanceBetween(n, h.nodes[c])})
	}
	sortCandidates(cands)
	kept := h.selectNeighbors(cands, maxConns)
	conns := make([]uint32, 0, len(kept))
	for _, c := range kept {
		conns = append(conns, c.Id)
	}
	n.Connections[l] = conns
}

// selectNeighbors implements the diversity heuristic from the HNSW paper.
// candidates must be sorted by ascending distance.
func (h *Index) selectNeighbors(candidates []types.Candidate, m int) []types.Candidate {
	if len(candidates) <= m {
		return candidates
	}

	results := make([]types.Candidate, 0, m)
	discarded := make([]types.Candidate, 0, m)
	for _, e := range candidates {
		if len(results) >= m {
			break
		}
		good := true
		for _, r := range results {
			if h.distanceBetween(h.nodes[e.Id], h.nodes[r.Id]) < e.Distance {
				good = false
				break
			}
		}
		if good {
			results = append(results, e)
		} else {
			discarded = append(discarded, e)
		}
	}

	// Top up with the closest discarded candidates so no node ends up weakly connected.
	for _, c := range discarded {
		if len(results) >= m {
			break
		}
		results = append(results, c)
	}
	return results
}

// searchLayer runs a best-first search on one layer starting at entry and
// returns up to ef candidates sorted by ascending distance. When
// includeDeleted is false tombstones are traversed but left out of the result.
func (h *Index) searchLayer(q query, entry uint32, ef, level int, includeDeleted bool) []types.Candidate {
	visited := h.visitedPool.Get().(*visitedSet)
	visited.reset(len(h.nodes))
	defer h.visitedPool.Put(visited)

	candidates := &minHeap{}
	results := &maxHeap{}

	ep := h.nodes[entry]
	start := types.Candidate{Id: entry, Distance: h.distanceTo(q, ep)}
	visited.add(entry)
	candidates.push(start)
	if includeDeleted || !ep.Deleted {
		results.push(start)
	}

	for candidates.Len() > 0 {
		c := candidates.pop()
		if results.Len() >= ef && c.Distance > results.peek().Distance {
			break
		}
		node := h.nodes[c.Id]
		if level >= len(node.Connections) {
			continue
		}
		for _, nbID := range node.Connections[level] {
			if visited.has(nbID) {
				continue
			}
			visited.add(nbID)
			nb := h.nodes[nbID]
			d := h.distanceTo(q, nb)
			if results.Len() < ef || d < results.peek().Distance {
				cand := types.Candidate{Id: nbID, Distance: d}
				candidates.push(cand)
				if includeDeleted || !nb.Deleted {
					results.push(cand)
					if results.Len() > ef {
						results.pop()
					}
				}
			}
		}
	}

	out := make([]types.Candidate, results.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = results.pop()
	}
	return out
}

// Search returns up to k live nodes closest to vector, ascending by distance.
// efSearch bounds the candidate list at layer 0 (values below k are raised to k).
func (h *Index) Search(vector []float32, k, efSearch int) ([]types.SearchResult, error) {
	if len(vector) != h.dim {
		return nil, types.DimensionMismatch(h.dim, len(vector))
	}
	if k <= 0 {
		return nil, types.ErrInvalidTopK
	}
	h.mu.RLock()
	defer h.mu.RUnlock()

	if len(h.externalToInternal) == 0 {
		return nil, nil
	}
	q := h.prepareQuery(vector)
	ep := h.entrypointID
	for l := h.maxLevel; l > 0; l-- {
		if nearest := h.searchLayer(q, ep, 1, l, true); len(nearest) > 0 {
			ep = nearest[0].Id
		}
	}
	found := h.searchLayer(q, ep, max(efSearch, k), 0, false)
	if len(found) > k {
		found = found[:k]
	}
	return h.toResults(found), nil
}

// SearchExact scans every live node. Used for small graphs and as the recall
// baseline in tests.
func (h *Index) SearchExact(vector []float32, k int) ([]types.SearchResult, error) {
	if len(vector) != h.dim {
		return nil, types.DimensionMismatch(h.dim, len(vector))
	}
	if k <= 0 {
		return nil, types.ErrInvalidTopK
	}
	h.mu.RLock()
	defer h.mu.RUnlock()

	q := h.prepareQuery(vector)
	all := make([]types.Candidate, 0, len(h.externalToInternal))
	for _, internalID := range h.externalToInternal {
		all = append(all, types.Candidate{Id: internalID, Distance: h.distanceTo(q, h.nodes[internalID])})
	}
	slices.SortFunc(all, func(a, b types.Candidate) int {
		if a.Distance != b.Distance {
			if a.Distance < b.Distance {
				return -1
			}
			return 1
		}
		return compareIDs(h.nodes[a.Id].Id, h.nodes[b.Id].Id)
	})
	if len(all) > k {
		all = all[:k]
	}
	return h.toResults(all), nil
}

func (h *Index) toResults(cands []types.Candidate) []types.SearchResult {
	out := make([]types.SearchResult, len(cands))
	for i, c := range cands {
		out[i] = types.SearchResult{ID: h.nodes[c.Id].Id, Distance: c.Distance}
	}
	return out
}

// Delete tombstones id. Returns false if id was not present.
func (h *Index) Delete(id types.NodeID) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	internalID, ok := h.externalToInternal[id]
	if !ok {
		return false
	}
	h.nodes[internalID].Deleted = true
	h.deleted++
	delete(h.externalToInternal, id)
	return true
}

// Contains reports whether id is live in the index.
func (h *Index) Contains(id types.NodeID) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.externalToInternal[id]
	return ok
}

// Len returns the number of live nodes.
func (h *Index) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.externalToInternal)
}

// Tombstones returns the number of soft-deleted nodes still in the graph.
func (h *Index) Tombstones() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.deleted
}

// IDs returns the live ids in ascending order.
func (h *Index) IDs() []types.NodeID {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ids := make([]types.NodeID, 0, len(h.externalToInternal))
	for id := range h.externalToInternal {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Vector returns the stored vector of id as float32 (normalized for cosine).
func (h *Index) Vector(id types.NodeID) ([]float32, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	internalID, ok := h.externalToInternal[id]
	if !ok {
		return nil, false
	}
	return h.vectorOf(h.nodes[internalID]), true
}

func (h *Index) vectorOf(n *Node) []float32 {
	if h.precision == distance.Float16 {
		return distance.FromFloat16(n.VectorF16)
	}
	return slices.Clone(n.VectorF32)
}

// Iterate calls fn for each live node in internal insertion order.
func (h *Index) Iterate(fn func(id types.NodeID, vector []float32)) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, n := range h.nodes {
		if !n.Deleted {
			fn(n.Id, h.vectorOf(n))
		}
	}
}

func (h *Index) Metric() distance.DistanceMetric   { return h.metric }
func (h *Index) Precision() distance.PrecisionType { return h.precision }
func (h *Index) Dimension() int                    { return h.dim }

func sortCandidates(c []types.Candidate) {
	slices.SortFunc(c, func(a, b types.Candidate) int {
		switch {
		case a.Distance < b.Distance:
			return -1
		case a.Distance > b.Distance:
			return 1
		}
		return int(a.Id) - int(b.Id)
	})
}

func compareIDs(a, b types.NodeID) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func (h *Index) String() string {
	return fmt.Sprintf("hnsw(dim=%d, m=%d, ef=%d, metric=%s, precision=%s, live=%d, tombstones=%d)",
		h.dim, h.m, h.efConstruction, h.metric, h.precision, len(h.externalToInternal), h.deleted)
}
