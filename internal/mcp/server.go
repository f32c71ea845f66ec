// Package mcp exposes the knowledge base as Model Context Protocol tools.
package mcp

import (
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/sanonone/kektorgraph/pkg/embeddings"
	"github.com/sanonone/kektorgraph/pkg/engine"
	"github.com/sanonone/kektorgraph/pkg/knowledge"
)

// Version is reported to MCP clients.
var Version = "0.1.0"

func NewMCPServer(eng *engine.Engine, kb *knowledge.Base, embedder embeddings.Embedder) *mcp.Server {
	service := NewService(eng, kb, embedder)

	s := mcp.NewServer(&mcp.Implementation{
		Name:    "KektorGraph Knowledge",
		Version: Version,
	}, nil)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "add_knowledge",
		Description: "Record that a group of concepts relates to another group, e.g. concepts=['cat','dog'] relation='is a' related=['animal'].",
	}, service.AddKnowledge)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "retrieve_knowledge",
		Description: "Find the concepts closest to a query and every known relation touching them, rendered as Markdown.",
	}, service.Retrieve)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "query_related",
		Description: "Semantic search over concept nodes; returns similarity scores and the hyperedges of each match.",
	}, service.QueryRelated)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "remove_concept",
		Description: "Forget a concept. Relations left without sources or targets are removed with it.",
	}, service.RemoveConcept)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "graph_stats",
		Description: "Report node, edge and index statistics of the knowledge graph.",
	}, service.Stats)

	return s
}
