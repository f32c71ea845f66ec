// Package engine keeps the incidence store and the similarity index in step.
//
// Graph is the in-memory coordinator: every mutation that touches both
// halves is applied under one write lock and either commits on both sides or
// leaves both unchanged. The single exception is RemoveNode, whose structural
// cascade cannot be undone cheaply: if the index side fails the caller gets a
// *types.PartialFailureError and the node is parked until RepairIndex runs.
//
// Engine wraps a Graph with an append-only journal and periodic snapshots.
//
// Basic usage:
//
//	eng, err := engine.Open(engine.DefaultOptions("./data", 384))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer eng.Close()
package engine

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/mat"

	"github.com/sanonone/kektorgraph/pkg/core/types"
	"github.com/sanonone/kektorgraph/pkg/hypergraph"
	"github.com/sanonone/kektorgraph/pkg/index"
	"github.com/sanonone/kektorgraph/pkg/metrics"
)

// VectorIndex is the similarity index half of a Graph. *index.EmbeddingIndex
// is the production implementation.
type VectorIndex interface {
	Insert(id types.NodeID, vector []float32) error
	Remove(id types.NodeID) error
	Search(query []float32, topK int, minSimilarity float64) ([]index.Hit, error)
	Contains(id types.NodeID) bool
	IDs() []types.NodeID
	Dimension() int
	Dump() ([]byte, error)
}

var _ VectorIndex = (*index.EmbeddingIndex)(nil)

// GraphOptions configures an in-memory Graph. Index.Dimension is the
// embedding dimension of the whole instance.
type GraphOptions struct {
	Name  string        `yaml:"name"`
	Index index.Options `yaml:"index"`
}

// Related is one result of QueryRelated.
type Related struct {
	NodeID types.NodeID   `json:"node_id"`
	Label  string         `json:"label,omitempty"`
	Score  float64        `json:"score"`
	Edges  []types.EdgeID `json:"edges"`
}

// Graph is the consistency coordinator.
type Graph struct {
	mu    sync.RWMutex
	id    uuid.UUID
	name  string
	store *hypergraph.Store
	index VectorIndex
	// pending holds nodes removed from the store whose index entry could not be dropped.
	pending map[types.NodeID]struct{}
	// seq is the last journal sequence applied, maintained by Engine.
	seq atomic.Uint64
}

// NewGraph creates an empty graph backed by an EmbeddingIndex.
func NewGraph(opts GraphOptions) (*Graph, error) {
	idx, err := index.New(opts.Index)
	if err != nil {
		return nil, err
	}
	return NewGraphWithIndex(opts.Name, idx)
}

// NewGraphWithIndex creates an empty graph around a caller supplied index,
// which must be empty.
func NewGraphWithIndex(name string, idx VectorIndex) (*Graph, error) {
	if len(idx.IDs()) != 0 {
		return nil, fmt.Errorf("engine: index must be empty, holds %d vectors", len(idx.IDs()))
	}
	store, err := hypergraph.New(idx.Dimension())
	if err != nil {
		return nil, err
	}
	return newGraph(uuid.New(), name, store, idx), nil
}

func newGraph(id uuid.UUID, name string, store *hypergraph.Store, idx VectorIndex) *Graph {
	if name == "" {
		name = "default"
	}
	g := &Graph{
		id:      id,
		name:    name,
		store:   store,
		index:   idx,
		pending: make(map[types.NodeID]struct{}),
	}
	g.refreshGauges()
	return g
}

func (g *Graph) ID() uuid.UUID  { return g.id }
func (g *Graph) Name() string   { return g.name }
func (g *Graph) Dimension() int { return g.store.Dimension() }

// Sequence is the last journal sequence number reflected in the graph.
func (g *Graph) Sequence() uint64 { return g.seq.Load() }

func (g *Graph) observe(op, outcome string) {
	metrics.Mutations.WithLabelValues(g.name, op, outcome).Inc()
}

// refreshGauges must be called with g.mu held (either mode) or before g is shared.
func (g *Graph) refreshGauges() {
	metrics.Nodes.WithLabelValues(g.name).Set(float64(g.store.NodeCount()))
	metrics.Edges.WithLabelValues(g.name).Set(float64(g.store.EdgeCount()))
	metrics.PendingRepairs.WithLabelValues(g.name).Set(float64(len(g.pending)))
}

func outcomeOf(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// AddNode creates a node and indexes its embedding. If the index refuses
// the embedding the node is removed again and no trace is left in either
// half; the returned error wraps the index failure.
func (g *Graph) AddNode(embedding []float32, label string) (types.NodeID, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	id, err := g.store.AddNode(embedding, label)
	if err != nil {
		g.observe("add_node", "error")
		return 0, err
	}
	if err := g.index.Insert(id, embedding); err != nil {
		if _, rbErr := g.store.RemoveNode(id); rbErr != nil {
			slog.Error("add_node rollback failed", "graph", g.name, "node", id, "error", rbErr)
		}
		g.observe("add_node", "rolled_back")
		return 0, fmt.Errorf("index insert for node %d: %w", id, err)
	}
	g.observe("add_node", "ok")
	g.refreshGauges()
	return id, nil
}

// AddEdge creates a directed hyperedge. It touches the store only.
func (g *Graph) AddEdge(sources, targets []types.NodeID, relation string) (types.EdgeID, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	id, err := g.store.AddEdge(sources, targets, relation)
	g.observe("add_edge", outcomeOf(err))
	if err == nil {
		g.refreshGauges()
	}
	return id, err
}

// RemoveEdge deletes one hyperedge. Its endpoints survive.
func (g *Graph) RemoveEdge(id types.EdgeID) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	err := g.store.RemoveEdge(id)
	g.observe("remove_edge", outcomeOf(err))
	if err == nil {
		g.refreshGauges()
	}
	return err
}

// RemoveNode deletes a node, cascades edges left without sources or
// targets, and drops the node from the index. The cascaded edge IDs are
// returned in ascending order, also when the index side fails, in which
// case the error is a *types.PartialFailureError.
func (g *Graph) RemoveNode(id types.NodeID) ([]types.EdgeID, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	removed, err := g.store.RemoveNode(id)
	if err != nil {
		g.observe("remove_node", "error")
		return nil, err
	}
	if err := g.index.Remove(id); err != nil {
		g.pending[id] = struct{}{}
		g.observe("remove_node", "partial")
		g.refreshGauges()
		slog.Warn("node removed from structure but not from index", "graph", g.name, "node", id, "error", err)
		return removed, &types.PartialFailureError{NodeID: id, Side: types.SideIndex, RemovedEdges: removed, Err: err}
	}
	g.observe("remove_node", "ok")
	g.refreshGauges()
	return removed, nil
}

// ReembedNode replaces the embedding of a live node on both halves. A
// failing index insert restores the previous embedding in the store.
func (g *Graph) ReembedNode(id types.NodeID, embedding []float32) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	old, err := g.store.SetEmbedding(id, embedding)
	if err != nil {
		g.observe("reembed_node", "error")
		return err
	}
	if err := g.index.Insert(id, embedding); err != nil {
		if _, rbErr := g.store.SetEmbedding(id, old); rbErr != nil {
			slog.Error("reembed rollback failed", "graph", g.name, "node", id, "error", rbErr)
		}
		g.observe("reembed_node", "rolled_back")
		return fmt.Errorf("index insert for node %d: %w", id, err)
	}
	g.observe("reembed_node", "ok")
	return nil
}

// SetRole adds node to edge as a source or target.
func (g *Graph) SetRole(edge types.EdgeID, node types.NodeID, role types.Role) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	err := g.store.SetRole(edge, node, role)
	g.observe("set_role", outcomeOf(err))
	return err
}

// ClearRole removes node from edge.
func (g *Graph) ClearRole(edge types.EdgeID, node types.NodeID) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	err := g.store.ClearRole(edge, node)
	g.observe("clear_role", outcomeOf(err))
	return err
}

// QueryRelated finds the nodes most similar to query and, for each, the
// edges touching it. Results follow the index order: descending score,
// ascending node ID on ties. Edge lists are ascending.
func (g *Graph) QueryRelated(query []float32, topK int, minSimilarity float64) ([]Related, error) {
	start := time.Now()
	g.mu.RLock()
	defer g.mu.RUnlock()
	defer func() {
		metrics.QueryDuration.WithLabelValues(g.name).Observe(time.Since(start).Seconds())
	}()

	hits, err := g.index.Search(query, topK, minSimilarity)
	if err != nil {
		return nil, err
	}
	out := make([]Related, 0, len(hits))
	for _, h := range hits {
		edges, err := g.store.EdgesTouching(h.ID)
		if err != nil {
			// Only nodes parked for repair can be in the index but not in the store.
			continue
		}
		label, _ := g.store.Label(h.ID)
		out = append(out, Related{NodeID: h.ID, Label: label, Score: h.Score, Edges: edges})
	}
	return out, nil
}

// --- read accessors ---

func (g *Graph) Node(id types.NodeID) (hypergraph.Node, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.store.Node(id)
}

func (g *Graph) Edge(id types.EdgeID) (hypergraph.Edge, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.store.Edge(id)
}

func (g *Graph) EdgesTouching(id types.NodeID) ([]types.EdgeID, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.store.EdgesTouching(id)
}

func (g *Graph) SourcesOf(id types.EdgeID) ([]types.NodeID, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.store.SourcesOf(id)
}

func (g *Graph) TargetsOf(id types.EdgeID) ([]types.NodeID, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.store.TargetsOf(id)
}

func (g *Graph) Incidence(node types.NodeID, edge types.EdgeID) (types.Role, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.store.Incidence(node, edge)
}

func (g *Graph) NodesByLabel(label string) []types.NodeID {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.store.NodesByLabel(label)
}

func (g *Graph) NodeIDs() []types.NodeID {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.store.NodeIDs()
}

func (g *Graph) EdgeIDs() []types.EdgeID {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.store.EdgeIDs()
}

// DenseView returns H over every live node and edge in ascending ID order,
// together with the row and column orders used.
func (g *Graph) DenseView() (*mat.Dense, []types.NodeID, []types.EdgeID, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	nodes, edges := g.store.NodeIDs(), g.store.EdgeIDs()
	m, err := g.store.DenseView(nodes, edges)
	return m, nodes, edges, err
}

// Stats is a point-in-time summary of the graph.
type Stats struct {
	ID             string       `json:"id"`
	Name           string       `json:"name"`
	Dimension      int          `json:"dimension"`
	Nodes          int          `json:"nodes"`
	Edges          int          `json:"edges"`
	Indexed        int          `json:"indexed"`
	PendingRepairs int          `json:"pending_repairs"`
	Index          *index.Stats `json:"index,omitempty"`
}

func (g *Graph) Stats() Stats {
	g.mu.RLock()
	defer g.mu.RUnlock()
	s := Stats{
		ID:             g.id.String(),
		Name:           g.name,
		Dimension:      g.store.Dimension(),
		Nodes:          g.store.NodeCount(),
		Edges:          g.store.EdgeCount(),
		Indexed:        len(g.index.IDs()),
		PendingRepairs: len(g.pending),
	}
	if st, ok := g.index.(interface{ Stats() index.Stats }); ok {
		is := st.Stats()
		s.Index = &is
	}
	return s
}

// PendingRepairs lists nodes whose index removal still has to be retried.
func (g *Graph) PendingRepairs() []types.NodeID {
	g.mu.RLock()
	defer g.mu.RUnlock()
	ids := make([]types.NodeID, 0, len(g.pending))
	for id := range g.pending {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// RepairIndex retries index removal for every parked node. It returns how
// many were repaired; the first failure stops the pass and is returned.
func (g *Graph) RepairIndex() (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	defer g.refreshGauges()

	repaired := 0
	for _, id := range sortedKeys(g.pending) {
		if g.index.Contains(id) {
			if err := g.index.Remove(id); err != nil {
				g.observe("repair_index", "error")
				return repaired, fmt.Errorf("repair node %d: %w", id, err)
			}
		}
		delete(g.pending, id)
		repaired++
	}
	if repaired > 0 {
		g.observe("repair_index", "ok")
		slog.Info("index repaired", "graph", g.name, "nodes", repaired)
	}
	return repaired, nil
}

func sortedKeys(m map[types.NodeID]struct{}) []types.NodeID {
	ids := make([]types.NodeID, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// CheckConsistency verifies the store invariants and that the index holds
// exactly the live node IDs. Parked nodes are reported as inconsistencies.
func (g *Graph) CheckConsistency() error {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.checkConsistencyLocked()
}

func (g *Graph) checkConsistencyLocked() error {
	if err := g.store.CheckInvariants(); err != nil {
		return err
	}
	if g.index.Dimension() != g.store.Dimension() {
		return types.CorruptState("index dimension %d, store dimension %d", g.index.Dimension(), g.store.Dimension())
	}
	if !slices.Equal(g.store.NodeIDs(), g.index.IDs()) {
		return types.CorruptState("index and store hold different node sets (%d vs %d nodes)", len(g.index.IDs()), g.store.NodeCount())
	}
	return nil
}

// Maintain runs index housekeeping when the backend supports it.
func (g *Graph) Maintain() int {
	m, ok := g.index.(interface{ Maintain() int })
	if !ok {
		return 0
	}
	return m.Maintain()
}

// restoreNode and restoreEdge replay journaled mutations with their
// recorded IDs. Same atomicity rules as AddNode and AddEdge.
func (g *Graph) restoreNode(id types.NodeID, embedding []float32, label string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.store.RestoreNode(id, embedding, label); err != nil {
		return err
	}
	if err := g.index.Insert(id, embedding); err != nil {
		g.store.RemoveNode(id)
		return err
	}
	return nil
}

func (g *Graph) restoreEdge(id types.EdgeID, sources, targets []types.NodeID, relation string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.store.RestoreEdge(id, sources, targets, relation)
}
