package server

import (
	"github.com/sanonone/kektorgraph/pkg/core/types"
	"github.com/sanonone/kektorgraph/pkg/engine"
	"github.com/sanonone/kektorgraph/pkg/knowledge"
)

// NodeAddRequest defines the body for node creation.
type NodeAddRequest struct {
	Embedding []float32 `json:"embedding"`
	Label     string    `json:"label,omitempty"`
}

type NodeAddResponse struct {
	ID types.NodeID `json:"id"`
}

type NodeResponse struct {
	ID        types.NodeID   `json:"id"`
	Label     string         `json:"label,omitempty"`
	Embedding []float32      `json:"embedding"`
	Edges     []types.EdgeID `json:"edges"`
}

type ReembedRequest struct {
	Embedding []float32 `json:"embedding"`
}

// NodeRemoveResponse lists the edges cascaded by a node removal. On a
// partial failure it is returned together with the error.
type NodeRemoveResponse struct {
	RemovedEdges []types.EdgeID `json:"removed_edges"`
	Error        string         `json:"error,omitempty"`
}

// EdgeAddRequest defines the body for hyperedge creation.
type EdgeAddRequest struct {
	Sources  []types.NodeID `json:"sources"`
	Targets  []types.NodeID `json:"targets"`
	Relation string         `json:"relation,omitempty"`
}

type EdgeAddResponse struct {
	ID types.EdgeID `json:"id"`
}

type EdgeResponse struct {
	ID       types.EdgeID   `json:"id"`
	Relation string         `json:"relation,omitempty"`
	Sources  []types.NodeID `json:"sources"`
	Targets  []types.NodeID `json:"targets"`
}

type RoleRequest struct {
	Role string `json:"role"` // "source" or "target"
}

// QueryRequest defines the body for query_related.
type QueryRequest struct {
	Embedding     []float32 `json:"embedding"`
	TopK          int       `json:"top_k"`
	MinSimilarity float64   `json:"min_similarity"`
}

type QueryResponse struct {
	Results []engine.Related `json:"results"`
}

type KnowledgeAddRequest struct {
	Concepts []string `json:"concepts"`
	Related  []string `json:"related"`
	Relation string   `json:"relation"`
}

type RetrieveRequest struct {
	Query         string  `json:"query"`
	TopK          int     `json:"top_k,omitempty"`
	MinSimilarity float64 `json:"min_similarity,omitempty"`
}

type RetrieveResponse struct {
	*knowledge.Knowledge
	Markdown string `json:"markdown"`
}

type ForgetRequest struct {
	Concept string `json:"concept"`
}

type StatsResponse struct {
	engine.Stats
	Sequence uint64 `json:"sequence"`
	Dirty    int64  `json:"dirty"`
}
