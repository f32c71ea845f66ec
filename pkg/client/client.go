// Package client provides a Go client for the KektorGraph HTTP API.
//
// It covers node and hyperedge mutation, role changes, query_related,
// the knowledge endpoints and system administration (snapshots, index
// repair, task status). Errors returned by the server surface as *APIError.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sanonone/kektorgraph/pkg/core/types"
	"github.com/sanonone/kektorgraph/pkg/engine"
	"github.com/sanonone/kektorgraph/pkg/knowledge"
)

// --- Custom Errors ---

// APIError represents an error returned by the API (status >= 400).
type APIError struct {
	StatusCode int
	Message    string
	// RemovedEdges is set when a node removal partially failed (409).
	RemovedEdges []types.EdgeID
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (status %d): %s", e.StatusCode, e.Message)
}

// --- JSON Response Structs ---

// Node is a node as returned by GET /nodes/{id}.
type Node struct {
	ID        types.NodeID   `json:"id"`
	Label     string         `json:"label,omitempty"`
	Embedding []float32      `json:"embedding"`
	Edges     []types.EdgeID `json:"edges"`
}

// Edge is a hyperedge as returned by GET /edges/{id}.
type Edge struct {
	ID       types.EdgeID   `json:"id"`
	Relation string         `json:"relation,omitempty"`
	Sources  []types.NodeID `json:"sources"`
	Targets  []types.NodeID `json:"targets"`
}

// Retrieval is the answer of the knowledge retrieve endpoint.
type Retrieval struct {
	knowledge.Knowledge
	Markdown string `json:"markdown"`
}

// Stats mirrors GET /system/stats.
type Stats struct {
	engine.Stats
	Sequence uint64 `json:"sequence"`
	Dirty    int64  `json:"dirty"`
}

type removeResponse struct {
	RemovedEdges []types.EdgeID `json:"removed_edges"`
	Error        string         `json:"error,omitempty"`
}

// Task represents an asynchronous operation on the server.
type Task struct {
	ID     string          `json:"id"`
	Kind   string          `json:"kind"`
	Status string          `json:"status"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`

	client *Client // Reference to the client for polling.
}

// --- Client ---

type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// New creates a client for baseURL (e.g. "http://localhost:9091").
// An empty apiKey sends no Authorization header.
func New(baseURL, apiKey string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.httpClient = hc
	return c
}

// jsonRequest executes a request and decodes the JSON answer into out
// (which may be nil). Status codes >= 400 become *APIError.
func (c *Client) jsonRequest(ctx context.Context, method, endpoint string, payload, out any) error {
	var reqBody io.Reader
	if payload != nil {
		jsonData, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal JSON payload: %w", err)
		}
		reqBody = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("connection error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		var errResp removeResponse
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error != "" {
			return &APIError{StatusCode: resp.StatusCode, Message: errResp.Error, RemovedEdges: errResp.RemovedEdges}
		}
		return &APIError{StatusCode: resp.StatusCode, Message: string(respBody)}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// --- Task Methods ---

// Refresh updates the task's status by querying the server.
func (t *Task) Refresh(ctx context.Context) error {
	if t.client == nil {
		return fmt.Errorf("client is not associated with the task")
	}
	updated, err := t.client.GetTaskStatus(ctx, t.ID)
	if err != nil {
		return err
	}
	t.Status = updated.Status
	t.Result = updated.Result
	t.Error = updated.Error
	return nil
}

// Wait blocks until the task is completed, checking its status at regular intervals.
func (t *Task) Wait(ctx context.Context, interval, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return fmt.Errorf("timeout exceeded while waiting for task %s", t.ID)
		case <-ticker.C:
			if err := t.Refresh(ctx); err != nil {
				return err
			}
			switch t.Status {
			case "completed":
				return nil
			case "failed":
				return fmt.Errorf("task %s failed with error: %s", t.ID, t.Error)
			case "running", "started":
				// Continue waiting.
			default:
				return fmt.Errorf("unknown task status: %s", t.Status)
			}
		}
	}
}

// GetTaskStatus fetches a task by ID.
func (c *Client) GetTaskStatus(ctx context.Context, taskID string) (*Task, error) {
	var t Task
	if err := c.jsonRequest(ctx, http.MethodGet, "/system/tasks/"+taskID, nil, &t); err != nil {
		return nil, err
	}
	t.client = c
	return &t, nil
}
