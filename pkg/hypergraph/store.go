// Package hypergraph stores the structural half of the engine: nodes,
// directed hyperedges and the signed incidence matrix H that relates them.
//
// H has one row per live node and one column per live edge. H[n,e] is +1
// when n is a source of e, -1 when it is a target and 0 otherwise. Only
// non-zero entries are stored, twice: once ordered by (node, edge) for row
// scans and once by (edge, node) for column scans, both in tidwall/btree
// ordered maps. Every live edge keeps at least one source and one target.
//
// Store is not safe for concurrent use; engine.Graph serializes access.
package hypergraph

import (
	"fmt"
	"slices"

	"github.com/tidwall/btree"
	"gonum.org/v1/gonum/mat"

	"github.com/sanonone/kektorgraph/pkg/core/types"
)

// Node is the public view of a live node.
type Node struct {
	ID        types.NodeID `json:"id"`
	Label     string       `json:"label,omitempty"`
	Embedding []float32    `json:"embedding"`
}

// Edge is the public view of a live hyperedge. Sources and Targets are sorted.
type Edge struct {
	ID       types.EdgeID   `json:"id"`
	Relation string         `json:"relation,omitempty"`
	Sources  []types.NodeID `json:"sources"`
	Targets  []types.NodeID `json:"targets"`
}

type nodeRecord struct {
	label     string
	embedding []float32
}

type edgeRecord struct {
	relation string
	sources  int
	targets  int
}

// entry is one non-zero cell of H.
type entry struct {
	node types.NodeID
	edge types.EdgeID
	role types.Role
}

func byNodeLess(a, b entry) bool {
	if a.node != b.node {
		return a.node < b.node
	}
	return a.edge < b.edge
}

func byEdgeLess(a, b entry) bool {
	if a.edge != b.edge {
		return a.edge < b.edge
	}
	return a.node < b.node
}

// Store is the incidence store.
type Store struct {
	dim      int
	nextNode types.NodeID
	nextEdge types.EdgeID

	nodes map[types.NodeID]*nodeRecord
	edges map[types.EdgeID]*edgeRecord
	// labels is a secondary index used by the knowledge layer to resolve concepts.
	labels map[string]map[types.NodeID]struct{}

	rows *btree.BTreeG[entry]
	cols *btree.BTreeG[entry]
}

// New creates an empty store for embeddings of length dim.
func New(dim int) (*Store, error) {
	if dim <= 0 {
		return nil, types.ErrInvalidDimension
	}
	return &Store{
		dim:      dim,
		nextNode: 1,
		nextEdge: 1,
		nodes:    make(map[types.NodeID]*nodeRecord),
		edges:    make(map[types.EdgeID]*edgeRecord),
		labels:   make(map[string]map[types.NodeID]struct{}),
		rows:     btree.NewBTreeGOptions(byNodeLess, btree.Options{NoLocks: true}),
		cols:     btree.NewBTreeGOptions(byEdgeLess, btree.Options{NoLocks: true}),
	}, nil
}

func (s *Store) Dimension() int { return s.dim }
func (s *Store) NodeCount() int { return len(s.nodes) }
func (s *Store) EdgeCount() int { return len(s.edges) }

// NextIDs returns the IDs the next AddNode and AddEdge calls will allocate.
func (s *Store) NextIDs() (types.NodeID, types.EdgeID) {
	return s.nextNode, s.nextEdge
}

// HasNode reports whether id is live.
func (s *Store) HasNode(id types.NodeID) bool {
	_, ok := s.nodes[id]
	return ok
}

func (s *Store) HasEdge(id types.EdgeID) bool {
	_, ok := s.edges[id]
	return ok
}

// AddNode allocates a fresh NodeID with no incidences.
func (s *Store) AddNode(embedding []float32, label string) (types.NodeID, error) {
	if len(embedding) != s.dim {
		return 0, types.DimensionMismatch(s.dim, len(embedding))
	}
	id := s.nextNode
	s.nextNode++
	s.insertNode(id, embedding, label)
	return id, nil
}

// RestoreNode inserts a node under a caller supplied id, as recorded in a
// journal. id must not have been allocated yet; the counter moves past it.
func (s *Store) RestoreNode(id types.NodeID, embedding []float32, label string) error {
	if len(embedding) != s.dim {
		return types.DimensionMismatch(s.dim, len(embedding))
	}
	if id == 0 || id < s.nextNode {
		return types.CorruptState("node id %d already allocated (next is %d)", id, s.nextNode)
	}
	s.nextNode = id + 1
	s.insertNode(id, embedding, label)
	return nil
}

func (s *Store) insertNode(id types.NodeID, embedding []float32, label string) {
	s.nodes[id] = &nodeRecord{label: label, embedding: slices.Clone(embedding)}
	if label != "" {
		set, ok := s.labels[label]
		if !ok {
			set = make(map[types.NodeID]struct{})
			s.labels[label] = set
		}
		set[id] = struct{}{}
	}
}

// Node returns a copy of a live node.
func (s *Store) Node(id types.NodeID) (Node, error) {
	rec, ok := s.nodes[id]
	if !ok {
		return Node{}, types.UnknownNode(id)
	}
	return Node{ID: id, Label: rec.label, Embedding: slices.Clone(rec.embedding)}, nil
}

// Label returns the label of a live node without copying its embedding.
func (s *Store) Label(id types.NodeID) (string, bool) {
	rec, ok := s.nodes[id]
	if !ok {
		return "", false
	}
	return rec.label, true
}

// SetEmbedding replaces the embedding of a live node and returns the old one.
func (s *Store) SetEmbedding(id types.NodeID, embedding []float32) ([]float32, error) {
	rec, ok := s.nodes[id]
	if !ok {
		return nil, types.UnknownNode(id)
	}
	if len(embedding) != s.dim {
		return nil, types.DimensionMismatch(s.dim, len(embedding))
	}
	old := rec.embedding
	rec.embedding = slices.Clone(embedding)
	return old, nil
}

// NodesByLabel returns live nodes carrying label, ascending.
func (s *Store) NodesByLabel(label string) []types.NodeID {
	set := s.labels[label]
	ids := make([]types.NodeID, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// NodeIDs returns every live node, ascending.
func (s *Store) NodeIDs() []types.NodeID {
	ids := make([]types.NodeID, 0, len(s.nodes))
	for id := range s.nodes {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// EdgeIDs returns every live edge, ascending.
func (s *Store) EdgeIDs() []types.EdgeID {
	ids := make([]types.EdgeID, 0, len(s.edges))
	for id := range s.edges {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// dedupe sorts ids and drops repeats; the caller's slice is not modified.
func dedupe(ids []types.NodeID) []types.NodeID {
	out := slices.Clone(ids)
	slices.Sort(out)
	return slices.Compact(out)
}

// validateEndpoints applies the edge admission rules in order: empty sides,
// unknown nodes, then overlap between sources and targets.
func (s *Store) validateEndpoints(sources, targets []types.NodeID) ([]types.NodeID, []types.NodeID, error) {
	src, tgt := dedupe(sources), dedupe(targets)
	if len(src) == 0 || len(tgt) == 0 {
		return nil, nil, types.ErrEmptyEndpointSet
	}
	for _, side := range [][]types.NodeID{src, tgt} {
		for _, n := range side {
			if _, ok := s.nodes[n]; !ok {
				return nil, nil, types.UnknownNode(n)
			}
		}
	}
	for _, n := range src {
		if _, found := slices.BinarySearch(tgt, n); found {
			return nil, nil, &OverlapError{Node: n}
		}
	}
	return src, tgt, nil
}

// AddEdge creates a hyperedge from sources to targets. Duplicate IDs within
// one side collapse. On error nothing changes and no EdgeID is consumed.
func (s *Store) AddEdge(sources, targets []types.NodeID, relation string) (types.EdgeID, error) {
	src, tgt, err := s.validateEndpoints(sources, targets)
	if err != nil {
		return 0, err
	}
	id := s.nextEdge
	s.nextEdge++
	s.insertEdge(id, src, tgt, relation)
	return id, nil
}

// RestoreEdge is the journal counterpart of AddEdge, see RestoreNode.
func (s *Store) RestoreEdge(id types.EdgeID, sources, targets []types.NodeID, relation string) error {
	if id == 0 || id < s.nextEdge {
		return types.CorruptState("edge id %d already allocated (next is %d)", id, s.nextEdge)
	}
	src, tgt, err := s.validateEndpoints(sources, targets)
	if err != nil {
		return err
	}
	s.nextEdge = id + 1
	s.insertEdge(id, src, tgt, relation)
	return nil
}

func (s *Store) insertEdge(id types.EdgeID, src, tgt []types.NodeID, relation string) {
	s.edges[id] = &edgeRecord{relation: relation, sources: len(src), targets: len(tgt)}
	for _, n := range src {
		s.setEntry(entry{node: n, edge: id, role: types.RoleSource})
	}
	for _, n := range tgt {
		s.setEntry(entry{node: n, edge: id, role: types.RoleTarget})
	}
}

func (s *Store) setEntry(e entry) {
	s.rows.Set(e)
	s.cols.Set(e)
}

func (s *Store) deleteEntry(e entry) {
	s.rows.Delete(e)
	s.cols.Delete(e)
}

// column returns the non-zero cells of edge id in ascending node order.
func (s *Store) column(id types.EdgeID) []entry {
	var out []entry
	s.cols.Ascend(entry{edge: id}, func(e entry) bool {
		if e.edge != id {
			return false
		}
		out = append(out, e)
		return true
	})
	return out
}

// row returns the non-zero cells of node id in ascending edge order.
func (s *Store) row(id types.NodeID) []entry {
	var out []entry
	s.rows.Ascend(entry{node: id}, func(e entry) bool {
		if e.node != id {
			return false
		}
		out = append(out, e)
		return true
	})
	return out
}

// Edge returns the public view of a live edge.
func (s *Store) Edge(id types.EdgeID) (Edge, error) {
	rec, ok := s.edges[id]
	if !ok {
		return Edge{}, types.UnknownEdge(id)
	}
	e := Edge{
		ID:       id,
		Relation: rec.relation,
		Sources:  make([]types.NodeID, 0, rec.sources),
		Targets:  make([]types.NodeID, 0, rec.targets),
	}
	for _, c := range s.column(id) {
		if c.role == types.RoleSource {
			e.Sources = append(e.Sources, c.node)
		} else {
			e.Targets = append(e.Targets, c.node)
		}
	}
	return e, nil
}

// SourcesOf returns the sources of a live edge, ascending.
func (s *Store) SourcesOf(id types.EdgeID) ([]types.NodeID, error) {
	e, err := s.Edge(id)
	if err != nil {
		return nil, err
	}
	return e.Sources, nil
}

// TargetsOf returns the targets of a live edge, ascending.
func (s *Store) TargetsOf(id types.EdgeID) ([]types.NodeID, error) {
	e, err := s.Edge(id)
	if err != nil {
		return nil, err
	}
	return e.Targets, nil
}

// EdgesTouching returns every live edge in which id has a non-zero entry,
// ascending.
func (s *Store) EdgesTouching(id types.NodeID) ([]types.EdgeID, error) {
	if _, ok := s.nodes[id]; !ok {
		return nil, types.UnknownNode(id)
	}
	cells := s.row(id)
	out := make([]types.EdgeID, len(cells))
	for i, c := range cells {
		out[i] = c.edge
	}
	return out, nil
}

// Incidence returns H[node, edge] for a live node and edge.
func (s *Store) Incidence(node types.NodeID, edge types.EdgeID) (types.Role, error) {
	if _, ok := s.nodes[node]; !ok {
		return types.RoleNone, types.UnknownNode(node)
	}
	if _, ok := s.edges[edge]; !ok {
		return types.RoleNone, types.UnknownEdge(edge)
	}
	if e, ok := s.rows.Get(entry{node: node, edge: edge}); ok {
		return e.role, nil
	}
	return types.RoleNone, nil
}

// Degree returns how many sources and targets id participates in.
func (s *Store) Degree(id types.NodeID) (out, in int, err error) {
	if _, ok := s.nodes[id]; !ok {
		return 0, 0, types.UnknownNode(id)
	}
	for _, c := range s.row(id) {
		if c.role == types.RoleSource {
			out++
		} else {
			in++
		}
	}
	return out, in, nil
}

// SetRole makes node a source or target of edge. A node already on the
// other side of edge is refused with ErrSourceTargetOverlap.
func (s *Store) SetRole(edge types.EdgeID, node types.NodeID, role types.Role) error {
	if !role.Valid() {
		return fmt.Errorf("hypergraph: invalid role %d", role)
	}
	rec, ok := s.edges[edge]
	if !ok {
		return types.UnknownEdge(edge)
	}
	if _, ok := s.nodes[node]; !ok {
		return types.UnknownNode(node)
	}
	if cur, exists := s.rows.Get(entry{node: node, edge: edge}); exists {
		if cur.role == role {
			return nil
		}
		return &OverlapError{Node: node, Edge: edge}
	}
	s.setEntry(entry{node: node, edge: edge, role: role})
	if role == types.RoleSource {
		rec.sources++
	} else {
		rec.targets++
	}
	return nil
}

// ClearRole removes node from edge. The last source or last target cannot be
// removed; delete the edge instead.
func (s *Store) ClearRole(edge types.EdgeID, node types.NodeID) error {
	rec, ok := s.edges[edge]
	if !ok {
		return types.UnknownEdge(edge)
	}
	if _, ok := s.nodes[node]; !ok {
		return types.UnknownNode(node)
	}
	cur, exists := s.rows.Get(entry{node: node, edge: edge})
	if !exists {
		return types.ErrNotIncident
	}
	if (cur.role == types.RoleSource && rec.sources == 1) || (cur.role == types.RoleTarget && rec.targets == 1) {
		return types.ErrEmptyEndpointSet
	}
	s.deleteEntry(cur)
	if cur.role == types.RoleSource {
		rec.sources--
	} else {
		rec.targets--
	}
	return nil
}

// RemoveEdge deletes an edge and its whole column.
func (s *Store) RemoveEdge(id types.EdgeID) error {
	if _, ok := s.edges[id]; !ok {
		return types.UnknownEdge(id)
	}
	s.dropEdge(id)
	return nil
}

func (s *Store) dropEdge(id types.EdgeID) {
	for _, c := range s.column(id) {
		s.deleteEntry(c)
	}
	delete(s.edges, id)
}

// RemoveNode deletes a node and its row. Every edge whose source or target
// side becomes empty is deleted too. Returns the cascaded edge IDs, ascending.
func (s *Store) RemoveNode(id types.NodeID) ([]types.EdgeID, error) {
	rec, ok := s.nodes[id]
	if !ok {
		return nil, types.UnknownNode(id)
	}

	cascaded := []types.EdgeID{}
	for _, c := range s.row(id) {
		s.deleteEntry(c)
		er := s.edges[c.edge]
		if c.role == types.RoleSource {
			er.sources--
		} else {
			er.targets--
		}
		if er.sources == 0 || er.targets == 0 {
			s.dropEdge(c.edge)
			cascaded = append(cascaded, c.edge)
		}
	}

	if rec.label != "" {
		if set := s.labels[rec.label]; set != nil {
			delete(set, id)
			if len(set) == 0 {
				delete(s.labels, rec.label)
			}
		}
	}
	delete(s.nodes, id)
	return cascaded, nil
}

// DenseView materializes H restricted to the given node and edge orders as a
// gonum matrix: row i is nodes[i], column j is edges[j]. An empty order
// yields an empty matrix.
func (s *Store) DenseView(nodes []types.NodeID, edges []types.EdgeID) (*mat.Dense, error) {
	for _, n := range nodes {
		if _, ok := s.nodes[n]; !ok {
			return nil, types.UnknownNode(n)
		}
	}
	col := make(map[types.EdgeID]int, len(edges))
	for j, e := range edges {
		if _, ok := s.edges[e]; !ok {
			return nil, types.UnknownEdge(e)
		}
		col[e] = j
	}
	if len(nodes) == 0 || len(edges) == 0 {
		return &mat.Dense{}, nil
	}

	m := mat.NewDense(len(nodes), len(edges), nil)
	for i, n := range nodes {
		for _, c := range s.row(n) {
			if j, ok := col[c.edge]; ok {
				m.Set(i, j, float64(c.role))
			}
		}
	}
	return m, nil
}
