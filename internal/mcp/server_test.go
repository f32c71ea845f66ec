package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sanonone/kektorgraph/pkg/engine"
	"github.com/sanonone/kektorgraph/pkg/knowledge"
)

type mapEmbedder map[string][]float32

func (m mapEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if v, ok := m[text]; ok {
		return v, nil
	}
	return nil, fmt.Errorf("unknown text %q", text)
}

func connect(t *testing.T) (*mcp.ClientSession, *engine.Engine) {
	t.Helper()
	ctx := context.Background()

	opts := engine.DefaultOptions(t.TempDir(), 2)
	opts.AutoSaveThreshold = 0
	eng, err := engine.Open(opts)
	require.NoError(t, err)
	t.Cleanup(func() { eng.Close() })

	emb := mapEmbedder{"paris": {1, 0}, "france": {0, 1}, "capital": {0.99, 0.1}}
	srv := NewMCPServer(eng, knowledge.New(eng, emb, knowledge.DefaultOptions()), emb)

	serverT, clientT := mcp.NewInMemoryTransports()
	ss, err := srv.Connect(ctx, serverT, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ss.Close() })

	client := mcp.NewClient(&mcp.Implementation{Name: "test", Version: "v0"}, nil)
	cs, err := client.Connect(ctx, clientT, nil)
	require.NoError(t, err)
	t.Cleanup(func() { cs.Close() })
	return cs, eng
}

func callTool(t *testing.T, cs *mcp.ClientSession, name string, args any, out any) *mcp.CallToolResult {
	t.Helper()
	res, err := cs.CallTool(context.Background(), &mcp.CallToolParams{Name: name, Arguments: args})
	require.NoError(t, err)
	if out != nil && !res.IsError {
		raw, err := json.Marshal(res.StructuredContent)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(raw, out))
	}
	return res
}

func TestToolsAreListed(t *testing.T) {
	cs, _ := connect(t)
	var names []string
	for tool, err := range cs.Tools(context.Background(), nil) {
		require.NoError(t, err)
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{"add_knowledge", "retrieve_knowledge", "query_related", "remove_concept", "graph_stats"}, names)
}

func TestKnowledgeTools(t *testing.T) {
	cs, eng := connect(t)

	var added knowledge.AddResult
	res := callTool(t, cs, "add_knowledge", AddKnowledgeArgs{
		Concepts: []string{"paris"}, Related: []string{"france"}, Relation: "capital of",
	}, &added)
	require.False(t, res.IsError)
	assert.Len(t, added.Created, 2)
	assert.Equal(t, 2, eng.Stats().Nodes)

	var got RetrieveResult
	callTool(t, cs, "retrieve_knowledge", RetrieveArgs{Query: "capital", TopK: 1}, &got)
	assert.Equal(t, "* paris - capital of - france\n", got.Markdown)

	var related QueryRelatedResult
	callTool(t, cs, "query_related", QueryRelatedArgs{Text: "paris", TopK: 1, MinSimilarity: 0.9}, &related)
	require.Len(t, related.Results, 1)
	assert.Equal(t, "paris", related.Results[0].Label)

	var stats engine.Stats
	callTool(t, cs, "graph_stats", StatsArgs{}, &stats)
	assert.Equal(t, 1, stats.Edges)

	var removed RemoveConceptResult
	callTool(t, cs, "remove_concept", RemoveConceptArgs{Concept: "france"}, &removed)
	assert.Len(t, removed.RemovedEdges, 1)

	res = callTool(t, cs, "remove_concept", RemoveConceptArgs{Concept: "france"}, nil)
	assert.True(t, res.IsError)
	res = callTool(t, cs, "add_knowledge", AddKnowledgeArgs{Concepts: []string{"paris"}, Related: []string{"paris"}, Relation: "is"}, nil)
	assert.True(t, res.IsError)
}
