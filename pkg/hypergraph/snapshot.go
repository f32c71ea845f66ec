package hypergraph

import (
	"slices"

	"github.com/sanonone/kektorgraph/pkg/core/types"
)

// Snapshot is the gob-friendly image of a Store. Entries are listed in
// (node, edge) order.
type Snapshot struct {
	Dimension  int
	NextNodeID types.NodeID
	NextEdgeID types.EdgeID
	Nodes      []NodeRecord
	Edges      []EdgeRecord
	Entries    []EntryRecord
}

type NodeRecord struct {
	ID        types.NodeID
	Label     string
	Embedding []float32
}

type EdgeRecord struct {
	ID       types.EdgeID
	Relation string
}

type EntryRecord struct {
	Node types.NodeID
	Edge types.EdgeID
	Role types.Role
}

// Snapshot copies the store.
func (s *Store) Snapshot() *Snapshot {
	snap := &Snapshot{
		Dimension:  s.dim,
		NextNodeID: s.nextNode,
		NextEdgeID: s.nextEdge,
		Nodes:      make([]NodeRecord, 0, len(s.nodes)),
		Edges:      make([]EdgeRecord, 0, len(s.edges)),
		Entries:    make([]EntryRecord, 0, s.rows.Len()),
	}
	for _, id := range s.NodeIDs() {
		rec := s.nodes[id]
		snap.Nodes = append(snap.Nodes, NodeRecord{ID: id, Label: rec.label, Embedding: slices.Clone(rec.embedding)})
	}
	for _, id := range s.EdgeIDs() {
		snap.Edges = append(snap.Edges, EdgeRecord{ID: id, Relation: s.edges[id].relation})
	}
	s.rows.Scan(func(e entry) bool {
		snap.Entries = append(snap.Entries, EntryRecord{Node: e.node, Edge: e.edge, Role: e.role})
		return true
	})
	return snap
}

// FromSnapshot rebuilds a Store and verifies every structural invariant.
// Any violation is reported as types.ErrCorruptState.
func FromSnapshot(snap *Snapshot) (*Store, error) {
	if snap == nil {
		return nil, types.CorruptState("hypergraph: nil snapshot")
	}
	s, err := New(snap.Dimension)
	if err != nil {
		return nil, types.CorruptState("hypergraph: %v", err)
	}
	s.nextNode, s.nextEdge = snap.NextNodeID, snap.NextEdgeID

	for _, n := range snap.Nodes {
		if n.ID == 0 || n.ID >= snap.NextNodeID {
			return nil, types.CorruptState("hypergraph: node id %d outside allocated range", n.ID)
		}
		if _, dup := s.nodes[n.ID]; dup {
			return nil, types.CorruptState("hypergraph: duplicate node %d", n.ID)
		}
		if len(n.Embedding) != snap.Dimension {
			return nil, types.CorruptState("hypergraph: node %d has dimension %d", n.ID, len(n.Embedding))
		}
		s.insertNode(n.ID, n.Embedding, n.Label)
	}
	for _, e := range snap.Edges {
		if e.ID == 0 || e.ID >= snap.NextEdgeID {
			return nil, types.CorruptState("hypergraph: edge id %d outside allocated range", e.ID)
		}
		if _, dup := s.edges[e.ID]; dup {
			return nil, types.CorruptState("hypergraph: duplicate edge %d", e.ID)
		}
		s.edges[e.ID] = &edgeRecord{relation: e.Relation}
	}
	for _, c := range snap.Entries {
		rec, ok := s.edges[c.Edge]
		if !ok {
			return nil, types.CorruptState("hypergraph: entry references edge %d", c.Edge)
		}
		if _, ok := s.nodes[c.Node]; !ok {
			return nil, types.CorruptState("hypergraph: entry references node %d", c.Node)
		}
		if !c.Role.Valid() {
			return nil, types.CorruptState("hypergraph: entry (%d,%d) has role %d", c.Node, c.Edge, c.Role)
		}
		if _, dup := s.rows.Get(entry{node: c.Node, edge: c.Edge}); dup {
			return nil, types.CorruptState("hypergraph: duplicate entry (%d,%d)", c.Node, c.Edge)
		}
		s.setEntry(entry{node: c.Node, edge: c.Edge, role: c.Role})
		if c.Role == types.RoleSource {
			rec.sources++
		} else {
			rec.targets++
		}
	}
	if err := s.CheckInvariants(); err != nil {
		return nil, err
	}
	return s, nil
}

// CheckInvariants verifies that both orderings of H agree, that counters
// match the stored cells and that every edge has both a source and a target.
func (s *Store) CheckInvariants() error {
	if s.rows.Len() != s.cols.Len() {
		return types.CorruptState("hypergraph: row index has %d cells, column index %d", s.rows.Len(), s.cols.Len())
	}
	counts := make(map[types.EdgeID][2]int, len(s.edges))
	var bad error
	s.rows.Scan(func(e entry) bool {
		if got, ok := s.cols.Get(e); !ok || got.role != e.role {
			bad = types.CorruptState("hypergraph: cell (%d,%d) missing from column index", e.node, e.edge)
			return false
		}
		if _, ok := s.nodes[e.node]; !ok {
			bad = types.CorruptState("hypergraph: cell references dead node %d", e.node)
			return false
		}
		c := counts[e.edge]
		if e.role == types.RoleSource {
			c[0]++
		} else {
			c[1]++
		}
		counts[e.edge] = c
		return true
	})
	if bad != nil {
		return bad
	}
	for id, rec := range s.edges {
		c := counts[id]
		if c[0] == 0 || c[1] == 0 {
			return types.CorruptState("hypergraph: edge %d has %d sources and %d targets", id, c[0], c[1])
		}
		if c[0] != rec.sources || c[1] != rec.targets {
			return types.CorruptState("hypergraph: edge %d counters out of sync", id)
		}
		delete(counts, id)
	}
	if len(counts) != 0 {
		return types.CorruptState("hypergraph: %d cells reference dead edges", len(counts))
	}
	return nil
}
