package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sanonone/kektorgraph/pkg/config"
	"github.com/sanonone/kektorgraph/pkg/core/types"
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

const testToken = "test-secret-token"

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	opts := engine.DefaultOptions(t.TempDir(), 2)
	opts.AutoSaveThreshold = 0
	eng, err := engine.Open(opts)
	require.NoError(t, err)
	t.Cleanup(func() { eng.Close() })

	kb := knowledge.New(eng, mapEmbedder{
		"sun": {1, 0}, "star": {0.9, 0.1}, "moon": {0, 1}, "bright": {0.95, 0.05},
	}, knowledge.DefaultOptions())

	s, err := NewServer(eng, kb, config.ServerConfig{AuthToken: testToken})
	require.NoError(t, err)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, ts
}

func call(t *testing.T, ts *httptest.Server, method, path string, body any, out any) int {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, ts.URL+path, rd)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+testToken)
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestHealthzAndAuth(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/system/stats")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	assert.Equal(t, http.StatusOK, call(t, ts, "GET", "/system/stats", nil, nil))

	resp, err = http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestNodeEdgeQueryFlow(t *testing.T) {
	_, ts := newTestServer(t)

	var n1, n2 NodeAddResponse
	require.Equal(t, http.StatusCreated, call(t, ts, "POST", "/nodes", NodeAddRequest{Embedding: []float32{1, 0}}, &n1))
	require.Equal(t, http.StatusCreated, call(t, ts, "POST", "/nodes", NodeAddRequest{Embedding: []float32{0, 1}}, &n2))

	var e1 EdgeAddResponse
	require.Equal(t, http.StatusCreated, call(t, ts, "POST", "/edges",
		EdgeAddRequest{Sources: []types.NodeID{n1.ID}, Targets: []types.NodeID{n2.ID}}, &e1))

	var errBody map[string]string
	assert.Equal(t, http.StatusBadRequest, call(t, ts, "POST", "/edges",
		EdgeAddRequest{Sources: []types.NodeID{n1.ID}, Targets: []types.NodeID{n1.ID}}, &errBody))
	assert.Contains(t, errBody["error"], "both source and target")

	var q QueryResponse
	require.Equal(t, http.StatusOK, call(t, ts, "POST", "/query",
		QueryRequest{Embedding: []float32{1, 0}, TopK: 1, MinSimilarity: 0.99}, &q))
	require.Len(t, q.Results, 1)
	assert.Equal(t, n1.ID, q.Results[0].NodeID)
	assert.InDelta(t, 1.0, q.Results[0].Score, 1e-6)
	assert.Equal(t, []types.EdgeID{e1.ID}, q.Results[0].Edges)

	assert.Equal(t, http.StatusBadRequest, call(t, ts, "POST", "/query", QueryRequest{Embedding: []float32{1, 0}, TopK: 0}, nil))
	assert.Equal(t, http.StatusBadRequest, call(t, ts, "POST", "/query", QueryRequest{Embedding: []float32{1}, TopK: 1}, nil))

	var node NodeResponse
	require.Equal(t, http.StatusOK, call(t, ts, "GET", fmt.Sprintf("/nodes/%d", n1.ID), nil, &node))
	assert.Equal(t, []types.EdgeID{e1.ID}, node.Edges)

	var removed NodeRemoveResponse
	require.Equal(t, http.StatusOK, call(t, ts, "DELETE", fmt.Sprintf("/nodes/%d", n1.ID), nil, &removed))
	assert.Equal(t, []types.EdgeID{e1.ID}, removed.RemovedEdges)

	assert.Equal(t, http.StatusNotFound, call(t, ts, "GET", fmt.Sprintf("/edges/%d", e1.ID), nil, nil))
	assert.Equal(t, http.StatusNotFound, call(t, ts, "DELETE", fmt.Sprintf("/nodes/%d", n1.ID), nil, nil))
	assert.Equal(t, http.StatusBadRequest, call(t, ts, "GET", "/nodes/abc", nil, nil))
}

func TestRoles(t *testing.T) {
	_, ts := newTestServer(t)
	var a, b, c NodeAddResponse
	call(t, ts, "POST", "/nodes", NodeAddRequest{Embedding: []float32{1, 0}}, &a)
	call(t, ts, "POST", "/nodes", NodeAddRequest{Embedding: []float32{0, 1}}, &b)
	call(t, ts, "POST", "/nodes", NodeAddRequest{Embedding: []float32{1, 1}}, &c)
	var e EdgeAddResponse
	call(t, ts, "POST", "/edges", EdgeAddRequest{Sources: []types.NodeID{a.ID}, Targets: []types.NodeID{b.ID}, Relation: "r"}, &e)

	path := fmt.Sprintf("/edges/%d/roles/%d", e.ID, c.ID)
	assert.Equal(t, http.StatusNoContent, call(t, ts, "PUT", path, RoleRequest{Role: "target"}, nil))
	assert.Equal(t, http.StatusBadRequest, call(t, ts, "PUT", path, RoleRequest{Role: "source"}, nil))
	assert.Equal(t, http.StatusBadRequest, call(t, ts, "PUT", path, RoleRequest{Role: "sideways"}, nil))

	var edge EdgeResponse
	require.Equal(t, http.StatusOK, call(t, ts, "GET", fmt.Sprintf("/edges/%d", e.ID), nil, &edge))
	assert.Equal(t, []types.NodeID{b.ID, c.ID}, edge.Targets)
	assert.Equal(t, "r", edge.Relation)

	assert.Equal(t, http.StatusNoContent, call(t, ts, "DELETE", path, nil, nil))
	assert.Equal(t, http.StatusBadRequest, call(t, ts, "DELETE", fmt.Sprintf("/edges/%d/roles/%d", e.ID, a.ID), nil, nil),
		"the last source cannot be cleared")
}

func TestKnowledgeEndpoints(t *testing.T) {
	_, ts := newTestServer(t)

	var added knowledge.AddResult
	require.Equal(t, http.StatusCreated, call(t, ts, "POST", "/knowledge",
		KnowledgeAddRequest{Concepts: []string{"sun"}, Related: []string{"star"}, Relation: "is a"}, &added))
	assert.Len(t, added.Created, 2)

	var got RetrieveResponse
	require.Equal(t, http.StatusOK, call(t, ts, "POST", "/knowledge/retrieve", RetrieveRequest{Query: "bright", TopK: 2}, &got))
	assert.Equal(t, "* sun - is a - star\n", got.Markdown)

	assert.Equal(t, http.StatusBadRequest, call(t, ts, "POST", "/knowledge", KnowledgeAddRequest{Related: []string{"moon"}}, nil))

	var forgot NodeRemoveResponse
	require.Equal(t, http.StatusOK, call(t, ts, "POST", "/knowledge/forget", ForgetRequest{Concept: "star"}, &forgot))
	assert.Len(t, forgot.RemovedEdges, 1)
	assert.Equal(t, http.StatusNotFound, call(t, ts, "POST", "/knowledge/forget", ForgetRequest{Concept: "star"}, nil))
}

func TestSystemEndpoints(t *testing.T) {
	s, ts := newTestServer(t)
	call(t, ts, "POST", "/nodes", NodeAddRequest{Embedding: []float32{1, 0}, Label: "x"}, nil)

	var stats StatsResponse
	require.Equal(t, http.StatusOK, call(t, ts, "GET", "/system/stats", nil, &stats))
	assert.Equal(t, 1, stats.Nodes)
	assert.EqualValues(t, 1, stats.Sequence)

	var task TaskView
	require.Equal(t, http.StatusAccepted, call(t, ts, "POST", "/system/save?async=true", nil, &task))
	assert.Eventually(t, func() bool {
		var v TaskView
		call(t, ts, "GET", "/system/tasks/"+task.ID, nil, &v)
		return v.Status == TaskStatusCompleted
	}, 5*time.Second, 20*time.Millisecond)
	assert.Zero(t, s.Engine.Dirty())

	assert.Equal(t, http.StatusOK, call(t, ts, "POST", "/system/save", nil, nil))
	assert.Equal(t, http.StatusOK, call(t, ts, "POST", "/system/repair", nil, nil))
	assert.Equal(t, http.StatusNotFound, call(t, ts, "GET", "/system/tasks/nope", nil, nil))

	req, _ := http.NewRequest("GET", ts.URL+"/system/dump", nil)
	req.Header.Set("Authorization", "Bearer "+testToken)
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	g, err := engine.LoadGraph(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, s.Engine.NodeIDs(), g.NodeIDs())
}
