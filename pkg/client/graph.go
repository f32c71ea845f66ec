package client

import (
	"context"
	"fmt"
	"net/http"

	"github.com/sanonone/kektorgraph/pkg/core/types"
	"github.com/sanonone/kektorgraph/pkg/engine"
	"github.com/sanonone/kektorgraph/pkg/knowledge"
)

// --- Node Methods ---

// AddNode creates a node and returns its ID.
func (c *Client) AddNode(ctx context.Context, embedding []float32, label string) (types.NodeID, error) {
	var resp struct {
		ID types.NodeID `json:"id"`
	}
	payload := map[string]any{"embedding": embedding, "label": label}
	if err := c.jsonRequest(ctx, http.MethodPost, "/nodes", payload, &resp); err != nil {
		return 0, err
	}
	return resp.ID, nil
}

func (c *Client) GetNode(ctx context.Context, id types.NodeID) (*Node, error) {
	var n Node
	if err := c.jsonRequest(ctx, http.MethodGet, fmt.Sprintf("/nodes/%d", id), nil, &n); err != nil {
		return nil, err
	}
	return &n, nil
}

// RemoveNode deletes a node and returns the cascaded edges. On a partial
// failure the *APIError carries the edges that were removed anyway.
func (c *Client) RemoveNode(ctx context.Context, id types.NodeID) ([]types.EdgeID, error) {
	var resp removeResponse
	if err := c.jsonRequest(ctx, http.MethodDelete, fmt.Sprintf("/nodes/%d", id), nil, &resp); err != nil {
		return nil, err
	}
	return resp.RemovedEdges, nil
}

func (c *Client) ReembedNode(ctx context.Context, id types.NodeID, embedding []float32) error {
	return c.jsonRequest(ctx, http.MethodPut, fmt.Sprintf("/nodes/%d/embedding", id), map[string]any{"embedding": embedding}, nil)
}

// --- Edge Methods ---

func (c *Client) AddEdge(ctx context.Context, sources, targets []types.NodeID, relation string) (types.EdgeID, error) {
	var resp struct {
		ID types.EdgeID `json:"id"`
	}
	payload := map[string]any{"sources": sources, "targets": targets, "relation": relation}
	if err := c.jsonRequest(ctx, http.MethodPost, "/edges", payload, &resp); err != nil {
		return 0, err
	}
	return resp.ID, nil
}

func (c *Client) GetEdge(ctx context.Context, id types.EdgeID) (*Edge, error) {
	var e Edge
	if err := c.jsonRequest(ctx, http.MethodGet, fmt.Sprintf("/edges/%d", id), nil, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

func (c *Client) RemoveEdge(ctx context.Context, id types.EdgeID) error {
	return c.jsonRequest(ctx, http.MethodDelete, fmt.Sprintf("/edges/%d", id), nil, nil)
}

func (c *Client) SetRole(ctx context.Context, edge types.EdgeID, node types.NodeID, role types.Role) error {
	return c.jsonRequest(ctx, http.MethodPut, fmt.Sprintf("/edges/%d/roles/%d", edge, node), map[string]string{"role": role.String()}, nil)
}

func (c *Client) ClearRole(ctx context.Context, edge types.EdgeID, node types.NodeID) error {
	return c.jsonRequest(ctx, http.MethodDelete, fmt.Sprintf("/edges/%d/roles/%d", edge, node), nil, nil)
}

// --- Query Methods ---

func (c *Client) QueryRelated(ctx context.Context, query []float32, topK int, minSimilarity float64) ([]engine.Related, error) {
	var resp struct {
		Results []engine.Related `json:"results"`
	}
	payload := map[string]any{"embedding": query, "top_k": topK, "min_similarity": minSimilarity}
	if err := c.jsonRequest(ctx, http.MethodPost, "/query", payload, &resp); err != nil {
		return nil, err
	}
	return resp.Results, nil
}

// --- Knowledge Methods ---

func (c *Client) AddKnowledge(ctx context.Context, concepts, related []string, relation string) (*knowledge.AddResult, error) {
	var res knowledge.AddResult
	payload := map[string]any{"concepts": concepts, "related": related, "relation": relation}
	if err := c.jsonRequest(ctx, http.MethodPost, "/knowledge", payload, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) Retrieve(ctx context.Context, query string, topK int, minSimilarity float64) (*Retrieval, error) {
	var res Retrieval
	payload := map[string]any{"query": query, "top_k": topK, "min_similarity": minSimilarity}
	if err := c.jsonRequest(ctx, http.MethodPost, "/knowledge/retrieve", payload, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) Forget(ctx context.Context, concept string) ([]types.EdgeID, error) {
	var resp removeResponse
	if err := c.jsonRequest(ctx, http.MethodPost, "/knowledge/forget", map[string]string{"concept": concept}, &resp); err != nil {
		return nil, err
	}
	return resp.RemovedEdges, nil
}

// --- System Methods ---

func (c *Client) Stats(ctx context.Context) (*Stats, error) {
	var s Stats
	if err := c.jsonRequest(ctx, http.MethodGet, "/system/stats", nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Save takes a snapshot synchronously.
func (c *Client) Save(ctx context.Context) error {
	return c.jsonRequest(ctx, http.MethodPost, "/system/save", nil, nil)
}

// SaveAsync starts a snapshot and returns the task tracking it.
func (c *Client) SaveAsync(ctx context.Context) (*Task, error) {
	return c.startTask(ctx, "/system/save?async=true")
}

// RepairAsync starts an index repair and returns the task tracking it.
func (c *Client) RepairAsync(ctx context.Context) (*Task, error) {
	return c.startTask(ctx, "/system/repair?async=true")
}

func (c *Client) startTask(ctx context.Context, endpoint string) (*Task, error) {
	var t Task
	if err := c.jsonRequest(ctx, http.MethodPost, endpoint, nil, &t); err != nil {
		return nil, err
	}
	t.client = c
	return &t, nil
}
