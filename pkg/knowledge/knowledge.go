// Package knowledge stores concept relations in a hypergraph and renders
// what it knows about a query as Markdown.
//
// Concepts are strings. Each one becomes a node labelled with the concept
// and embedded through an embeddings.Embedder; a relation between N source
// concepts and M related concepts becomes one directed hyperedge.
package knowledge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/sanonone/kektorgraph/pkg/core/types"
	"github.com/sanonone/kektorgraph/pkg/embeddings"
	"github.com/sanonone/kektorgraph/pkg/engine"
	"github.com/sanonone/kektorgraph/pkg/hypergraph"
)

// ErrEmptyInput is returned for empty concept lists or blank strings.
var ErrEmptyInput = errors.New("knowledge: empty input")

// Graph is the part of the coordinator the knowledge layer needs. Both
// *engine.Graph and the journaled *engine.Engine satisfy it.
type Graph interface {
	AddNode(embedding []float32, label string) (types.NodeID, error)
	AddEdge(sources, targets []types.NodeID, relation string) (types.EdgeID, error)
	RemoveNode(id types.NodeID) ([]types.EdgeID, error)
	QueryRelated(query []float32, topK int, minSimilarity float64) ([]engine.Related, error)
	NodesByLabel(label string) []types.NodeID
	Node(id types.NodeID) (hypergraph.Node, error)
	Edge(id types.EdgeID) (hypergraph.Edge, error)
}

var (
	_ Graph = (*engine.Graph)(nil)
	_ Graph = (*engine.Engine)(nil)
)

// Options tunes concept resolution and retrieval defaults.
type Options struct {
	// DedupSimilarity: a new concept whose nearest node scores at least this
	// much reuses that node. Zero or less disables near-duplicate matching.
	DedupSimilarity float64 `yaml:"dedup_similarity"`
	TopK            int     `yaml:"top_k"`
	MinSimilarity   float64 `yaml:"min_similarity"`
}

func DefaultOptions() Options {
	return Options{DedupSimilarity: 0.999, TopK: 4, MinSimilarity: 0}
}

// Base is a concept store on top of a Graph.
type Base struct {
	graph    Graph
	embedder embeddings.Embedder
	opts     Options

	// mu makes resolve-then-create atomic so concurrent writers do not
	// create the same concept twice.
	mu sync.Mutex
}

func New(g Graph, e embeddings.Embedder, opts Options) *Base {
	if opts.TopK <= 0 {
		opts.TopK = DefaultOptions().TopK
	}
	return &Base{graph: g, embedder: e, opts: opts}
}

func (b *Base) Options() Options { return b.opts }

// AddResult reports what AddKnowledge resolved and created.
type AddResult struct {
	Edge    types.EdgeID   `json:"edge"`
	Sources []types.NodeID `json:"sources"`
	Targets []types.NodeID `json:"targets"`
	Created []types.NodeID `json:"created,omitempty"`
}

// AddKnowledge records "concepts -relation-> related" as one hyperedge,
// creating nodes for concepts not seen before.
func (b *Base) AddKnowledge(ctx context.Context, concepts, related []string, relation string) (*AddResult, error) {
	concepts, related = clean(concepts), clean(related)
	if len(concepts) == 0 || len(related) == 0 {
		return nil, ErrEmptyInput
	}
	for _, c := range concepts {
		for _, r := range related {
			if c == r {
				return nil, fmt.Errorf("%w: concept %q on both sides", types.ErrSourceTargetOverlap, c)
			}
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	res := &AddResult{}
	resolveAll := func(names []string) ([]types.NodeID, error) {
		ids := make([]types.NodeID, 0, len(names))
		for _, name := range names {
			id, created, err := b.resolve(ctx, name)
			if err != nil {
				return nil, fmt.Errorf("concept %q: %w", name, err)
			}
			if created {
				res.Created = append(res.Created, id)
			}
			ids = append(ids, id)
		}
		return ids, nil
	}

	var err error
	if res.Sources, err = resolveAll(concepts); err == nil {
		if res.Targets, err = resolveAll(related); err == nil {
			res.Edge, err = b.graph.AddEdge(res.Sources, res.Targets, relation)
		}
	}
	if err != nil {
		return nil, b.discard(res.Created, err)
	}
	slog.Debug("knowledge added", "edge", res.Edge, "relation", relation, "created", len(res.Created))
	return res, nil
}

// discard removes nodes created by a rejected AddKnowledge call, newest
// first, and returns cause joined with any removal failure.
func (b *Base) discard(created []types.NodeID, cause error) error {
	errs := []error{cause}
	for i := len(created) - 1; i >= 0; i-- {
		if _, err := b.graph.RemoveNode(created[i]); err != nil {
			slog.Error("knowledge rollback failed", "node", created[i], "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// resolve maps a concept to a node: exact label first, then the nearest
// node above DedupSimilarity, otherwise a new node.
func (b *Base) resolve(ctx context.Context, concept string) (types.NodeID, bool, error) {
	if ids := b.graph.NodesByLabel(concept); len(ids) > 0 {
		return ids[0], false, nil
	}
	vec, err := b.embedder.Embed(ctx, concept)
	if err != nil {
		return 0, false, err
	}
	if b.opts.DedupSimilarity > 0 {
		hits, err := b.graph.QueryRelated(vec, 1, min(b.opts.DedupSimilarity, 1))
		if err != nil {
			return 0, false, err
		}
		if len(hits) > 0 {
			slog.Debug("concept matched existing node", "concept", concept, "node", hits[0].NodeID, "label", hits[0].Label, "score", hits[0].Score)
			return hits[0].NodeID, false, nil
		}
	}
	id, err := b.graph.AddNode(vec, concept)
	return id, err == nil, err
}

// Forget removes every node labelled concept. Edges left without sources or
// targets go with them; their IDs are returned.
func (b *Base) Forget(ctx context.Context, concept string) ([]types.EdgeID, error) {
	concept = strings.TrimSpace(concept)
	if concept == "" {
		return nil, ErrEmptyInput
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	ids := b.graph.NodesByLabel(concept)
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: concept %q", types.ErrUnknownNode, concept)
	}
	removed := []types.EdgeID{}
	var errs []error
	for _, id := range ids {
		edges, err := b.graph.RemoveNode(id)
		removed = append(removed, edges...)
		if err != nil {
			errs = append(errs, err)
		}
	}
	return removed, errors.Join(errs...)
}

func clean(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
