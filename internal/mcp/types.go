package mcp

import (
	"github.com/sanonone/kektorgraph/pkg/core/types"
	"github.com/sanonone/kektorgraph/pkg/engine"
	"github.com/sanonone/kektorgraph/pkg/knowledge"
)

// --- Tool Arguments ---

type AddKnowledgeArgs struct {
	Concepts []string `json:"concepts" jsonschema:"Source concepts of the relation, e.g. ['cat', 'dog']"`
	Related  []string `json:"related" jsonschema:"Target concepts the sources relate to, e.g. ['animal']"`
	Relation string   `json:"relation" jsonschema:"The relation itself, e.g. 'is a'"`
}

type RetrieveArgs struct {
	Query         string  `json:"query" jsonschema:"Concept or question to look up"`
	TopK          int     `json:"top_k,omitempty" jsonschema:"How many matching concepts to expand (default 4)"`
	MinSimilarity float64 `json:"min_similarity,omitempty" jsonschema:"Similarity floor between -1 and 1"`
}

type RetrieveResult struct {
	Markdown string           `json:"markdown"`
	Facts    []knowledge.Fact `json:"facts"`
}

type QueryRelatedArgs struct {
	Text          string  `json:"text" jsonschema:"Text embedded and used as the query vector"`
	TopK          int     `json:"top_k,omitempty" jsonschema:"Max number of nodes (default 5)"`
	MinSimilarity float64 `json:"min_similarity,omitempty" jsonschema:"Similarity floor between -1 and 1"`
}

type QueryRelatedResult struct {
	Results []engine.Related `json:"results"`
}

type RemoveConceptArgs struct {
	Concept string `json:"concept" jsonschema:"Exact concept name to forget"`
}

type RemoveConceptResult struct {
	RemovedEdges []types.EdgeID `json:"removed_edges"`
}

type StatsArgs struct{}
