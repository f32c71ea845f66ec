package mcp

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/sanonone/kektorgraph/pkg/embeddings"
	"github.com/sanonone/kektorgraph/pkg/engine"
	"github.com/sanonone/kektorgraph/pkg/knowledge"
)

type Service struct {
	engine   *engine.Engine
	kb       *knowledge.Base
	embedder embeddings.Embedder
}

func NewService(eng *engine.Engine, kb *knowledge.Base, emb embeddings.Embedder) *Service {
	return &Service{
		engine:   eng,
		kb:       kb,
		embedder: emb,
	}
}

// --- Tool Handlers ---

func (s *Service) AddKnowledge(ctx context.Context, req *mcp.CallToolRequest, args AddKnowledgeArgs) (*mcp.CallToolResult, knowledge.AddResult, error) {
	res, err := s.kb.AddKnowledge(ctx, args.Concepts, args.Related, args.Relation)
	if err != nil {
		return nil, knowledge.AddResult{}, err
	}
	return nil, *res, nil
}

func (s *Service) Retrieve(ctx context.Context, req *mcp.CallToolRequest, args RetrieveArgs) (*mcp.CallToolResult, RetrieveResult, error) {
	k, err := s.kb.Retrieve(ctx, args.Query, args.TopK, args.MinSimilarity)
	if err != nil {
		return nil, RetrieveResult{}, err
	}
	md := k.Markdown()
	if md == "" {
		md = "Nothing known about this yet."
	}
	return nil, RetrieveResult{Markdown: md, Facts: k.Facts}, nil
}

func (s *Service) QueryRelated(ctx context.Context, req *mcp.CallToolRequest, args QueryRelatedArgs) (*mcp.CallToolResult, QueryRelatedResult, error) {
	limit := args.TopK
	if limit <= 0 {
		limit = 5
	}
	vec, err := s.embedder.Embed(ctx, args.Text)
	if err != nil {
		return nil, QueryRelatedResult{}, fmt.Errorf("embedding error: %w", err)
	}
	results, err := s.engine.QueryRelated(vec, limit, args.MinSimilarity)
	if err != nil {
		return nil, QueryRelatedResult{}, err
	}
	return nil, QueryRelatedResult{Results: results}, nil
}

func (s *Service) RemoveConcept(ctx context.Context, req *mcp.CallToolRequest, args RemoveConceptArgs) (*mcp.CallToolResult, RemoveConceptResult, error) {
	removed, err := s.kb.Forget(ctx, args.Concept)
	if err != nil {
		return nil, RemoveConceptResult{RemovedEdges: removed}, err
	}
	return nil, RemoveConceptResult{RemovedEdges: removed}, nil
}

func (s *Service) Stats(ctx context.Context, req *mcp.CallToolRequest, args StatsArgs) (*mcp.CallToolResult, engine.Stats, error) {
	return nil, s.engine.Stats(), nil
}
