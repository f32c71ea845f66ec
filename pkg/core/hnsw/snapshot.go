package hnsw

import (
	"github.com/sanonone/kektorgraph/pkg/core/distance"
	"github.com/sanonone/kektorgraph/pkg/core/types"
)

// Snapshot is the gob-encodable image of an Index. Restoring it yields an
// index that answers every query exactly like the original.
type Snapshot struct {
	Dim            int
	M              int
	EfConstruction int
	Seed           int64
	LevelDraws     uint64
	Metric         distance.DistanceMetric
	Precision      distance.PrecisionType
	EntrypointID   uint32
	MaxLevel       int
	Nodes          []*Node
}

// Snapshot deep-copies the graph under the read lock.
func (h *Index) Snapshot() *Snapshot {
	h.mu.RLock()
	defer h.mu.RUnlock()

	nodes := make([]*Node, len(h.nodes))
	for i, n := range h.nodes {
		cp := &Node{
			Id:          n.Id,
			InternalID:  n.InternalID,
			VectorF32:   append([]float32(nil), n.VectorF32...),
			VectorF16:   append([]uint16(nil), n.VectorF16...),
			Connections: make([][]uint32, len(n.Connections)),
			Deleted:     n.Deleted,
		}
		for l, conns := range n.Connections {
			cp.Connections[l] = append([]uint32(nil), conns...)
		}
		nodes[i] = cp
	}
	return &Snapshot{
		Dim:            h.dim,
		M:              h.m,
		EfConstruction: h.efConstruction,
		Seed:           h.seed,
		LevelDraws:     h.draws,
		Metric:         h.metric,
		Precision:      h.precision,
		EntrypointID:   h.entrypointID,
		MaxLevel:       h.maxLevel,
		Nodes:          nodes,
	}
}

// Restore rebuilds an Index from a snapshot, validating graph structure.
// Every structural problem is reported as types.ErrCorruptState.
func Restore(s *Snapshot) (*Index, error) {
	if s == nil {
		return nil, types.CorruptState("hnsw: nil snapshot")
	}
	h, err := New(s.Dim, s.M, s.EfConstruction, s.Metric, s.Precision, s.Seed)
	if err != nil {
		return nil, types.CorruptState("hnsw: %v", err)
	}

	for i, n := range s.Nodes {
		if n == nil || n.InternalID != uint32(i) {
			return nil, types.CorruptState("hnsw: node slot %d out of order", i)
		}
		if s.Precision == distance.Float16 {
			if len(n.VectorF16) != s.Dim {
				return nil, types.CorruptState("hnsw: node %d has dimension %d", n.Id, len(n.VectorF16))
			}
		} else if len(n.VectorF32) != s.Dim {
			return nil, types.CorruptState("hnsw: node %d has dimension %d", n.Id, len(n.VectorF32))
		}
		for l, conns := range n.Connections {
			for _, c := range conns {
				if int(c) >= len(s.Nodes) {
					return nil, types.CorruptState("hnsw: node %d links to missing slot %d at layer %d", n.Id, c, l)
				}
			}
		}
		if n.Deleted {
			h.deleted++
			continue
		}
		if _, dup := h.externalToInternal[n.Id]; dup {
			return nil, types.CorruptState("hnsw: duplicate live node %d", n.Id)
		}
		h.externalToInternal[n.Id] = n.InternalID
	}

	if len(s.Nodes) == 0 {
		if s.MaxLevel != -1 {
			return nil, types.CorruptState("%v", errNoEntrypoint)
		}
	} else if int(s.EntrypointID) >= len(s.Nodes) || s.MaxLevel < 0 || len(s.Nodes[s.EntrypointID].Connections) != s.MaxLevel+1 {
		return nil, types.CorruptState("hnsw: invalid entrypoint %d at level %d", s.EntrypointID, s.MaxLevel)
	}

	h.nodes = s.Nodes
	h.entrypointID = s.EntrypointID
	h.maxLevel = s.MaxLevel
	// Fast-forward the level generator to where the original stopped.
	for range s.LevelDraws {
		h.rng.Float64()
	}
	h.draws = s.LevelDraws
	return h, nil
}
