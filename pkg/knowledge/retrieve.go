package knowledge

import (
	"context"
	"fmt"
	"strings"

	"github.com/sanonone/kektorgraph/pkg/core/types"
)

// Fact is one hyperedge rendered with concept names.
type Fact struct {
	Edge     types.EdgeID `json:"edge"`
	Sources  []string     `json:"sources"`
	Relation string       `json:"relation"`
	Targets  []string     `json:"targets"`
}

func (f Fact) String() string {
	return fmt.Sprintf("%s - %s - %s", strings.Join(f.Sources, ", "), f.Relation, strings.Join(f.Targets, ", "))
}

// Concept is a matched node that takes part in none of the returned facts.
type Concept struct {
	Node  types.NodeID `json:"node"`
	Name  string       `json:"name"`
	Score float64      `json:"score"`
}

// Knowledge is the answer to a retrieval query.
type Knowledge struct {
	Facts    []Fact    `json:"facts"`
	Isolated []Concept `json:"isolated"`
}

// Markdown renders one bullet per fact followed by one per isolated concept.
func (k *Knowledge) Markdown() string {
	var sb strings.Builder
	for _, f := range k.Facts {
		sb.WriteString("* ")
		sb.WriteString(f.String())
		sb.WriteByte('\n')
	}
	for _, c := range k.Isolated {
		sb.WriteString("* ")
		sb.WriteString(c.Name)
		sb.WriteByte('\n')
	}
	return sb.String()
}

// Retrieve finds the concepts closest to query and every fact touching
// them, in similarity order. topK <= 0 uses the configured default.
func (b *Base) Retrieve(ctx context.Context, query string, topK int, minSimilarity float64) (*Knowledge, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyInput
	}
	if topK <= 0 {
		topK = b.opts.TopK
	}
	vec, err := b.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	related, err := b.graph.QueryRelated(vec, topK, minSimilarity)
	if err != nil {
		return nil, err
	}

	k := &Knowledge{Facts: []Fact{}, Isolated: []Concept{}}
	seenEdges := make(map[types.EdgeID]struct{})
	seenNodes := make(map[types.NodeID]struct{})
	for _, r := range related {
		for _, eid := range r.Edges {
			if _, ok := seenEdges[eid]; ok {
				continue
			}
			seenEdges[eid] = struct{}{}
			e, err := b.graph.Edge(eid)
			if err != nil {
				continue
			}
			k.Facts = append(k.Facts, Fact{
				Edge:     eid,
				Sources:  b.names(e.Sources, seenNodes),
				Relation: e.Relation,
				Targets:  b.names(e.Targets, seenNodes),
			})
		}
	}
	for _, r := range related {
		if _, ok := seenNodes[r.NodeID]; ok {
			continue
		}
		seenNodes[r.NodeID] = struct{}{}
		k.Isolated = append(k.Isolated, Concept{Node: r.NodeID, Name: displayName(r.NodeID, r.Label), Score: r.Score})
	}
	return k, nil
}

func (b *Base) names(ids []types.NodeID, seen map[types.NodeID]struct{}) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		seen[id] = struct{}{}
		label := ""
		if n, err := b.graph.Node(id); err == nil {
			label = n.Label
		}
		out = append(out, displayName(id, label))
	}
	return out
}

// displayName falls back to the node ID for nodes created without a label.
func displayName(id types.NodeID, label string) string {
	if label == "" {
		return fmt.Sprintf("#%d", id)
	}
	return label
}
