// Package client is the HTTP client for the AdFlow backend. It implements
// the command interfaces the editor core consumes, and an SSE-backed event
// bus the execution watcher can subscribe through.
package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/adflow-labs/adflow/command"
	"github.com/adflow-labs/adflow/core"
)

// Config configures a Client.
type Config struct {
	// BaseURL is the server address, e.g. "http://localhost:8787".
	BaseURL string

	// HTTPClient defaults to a client with a 30 second timeout.
	HTTPClient *http.Client
}

// Client talks to the AdFlow HTTP API.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a Client.
func New(cfg Config) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    httpClient,
	}
}

// APIError is a structured error response from the server.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("client: %s (%s, http %d)", e.Message, e.Code, e.StatusCode)
}

// do issues a request and decodes the response into out (when non-nil).
// Non-2xx responses become *APIError.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("client: marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("client: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("client: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeAPIError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("client: decode response: %w", err)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode, Code: "UNKNOWN"}
	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err == nil && envelope.Error.Code != "" {
		apiErr.Code = envelope.Error.Code
		apiErr.Message = envelope.Error.Message
	} else {
		apiErr.Message = resp.Status
	}
	return apiErr
}

// --- Workflows ---

// CreateWorkflow creates a workflow and returns the server's record.
func (c *Client) CreateWorkflow(ctx context.Context, name, description string) (core.Workflow, error) {
	req := map[string]string{"name": name, "description": description}
	var wf core.Workflow
	if err := c.do(ctx, http.MethodPost, "/api/workflows", req, &wf); err != nil {
		return core.Workflow{}, err
	}
	return wf, nil
}

// Workflows lists all workflows.
func (c *Client) Workflows(ctx context.Context) ([]core.Workflow, error) {
	var out []core.Workflow
	if err := c.do(ctx, http.MethodGet, "/api/workflows", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Workflow fetches one workflow.
func (c *Client) Workflow(ctx context.Context, id string) (core.Workflow, error) {
	var wf core.Workflow
	if err := c.do(ctx, http.MethodGet, "/api/workflows/"+id, nil, &wf); err != nil {
		return core.Workflow{}, err
	}
	return wf, nil
}

// DeleteWorkflow removes a workflow.
func (c *Client) DeleteWorkflow(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/workflows/"+id, nil, nil)
}

// --- command.GraphWriter / command.GraphReader ---

// DeleteEdges removes all edge rows for a workflow.
func (c *Client) DeleteEdges(ctx context.Context, workflowID string) error {
	return c.do(ctx, http.MethodDelete, "/api/workflows/"+workflowID+"/edges", nil, nil)
}

// DeleteNodes removes all node rows for a workflow.
func (c *Client) DeleteNodes(ctx context.Context, workflowID string) error {
	return c.do(ctx, http.MethodDelete, "/api/workflows/"+workflowID+"/nodes", nil, nil)
}

// InsertNodes bulk-inserts node rows.
func (c *Client) InsertNodes(ctx context.Context, rows []command.NodeRow) error {
	if len(rows) == 0 {
		return nil
	}
	return c.do(ctx, http.MethodPost, "/api/workflows/"+rows[0].WorkflowID+"/nodes", rows, nil)
}

// InsertEdges bulk-inserts edge rows.
func (c *Client) InsertEdges(ctx context.Context, rows []command.EdgeRow) error {
	if len(rows) == 0 {
		return nil
	}
	return c.do(ctx, http.MethodPost, "/api/workflows/"+rows[0].WorkflowID+"/edges", rows, nil)
}

// TouchWorkflow bumps the workflow's updated_at timestamp.
func (c *Client) TouchWorkflow(ctx context.Context, workflowID string) error {
	return c.do(ctx, http.MethodPost, "/api/workflows/"+workflowID+"/touch", nil, nil)
}

// WorkflowGraph loads the persisted graph rows.
func (c *Client) WorkflowGraph(ctx context.Context, workflowID string) ([]command.NodeRow, []command.EdgeRow, error) {
	var out struct {
		Nodes []command.NodeRow `json:"nodes"`
		Edges []command.EdgeRow `json:"edges"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/workflows/"+workflowID+"/graph", nil, &out); err != nil {
		return nil, nil, err
	}
	return out.Nodes, out.Edges, nil
}

// --- command.Runner ---

// Start begins a run of the workflow.
func (c *Client) Start(ctx context.Context, workflowID string) (command.StartResult, error) {
	var res command.StartResult
	if err := c.do(ctx, http.MethodPost, "/api/workflows/"+workflowID+"/execute", nil, &res); err != nil {
		return command.StartResult{}, err
	}
	return res, nil
}

// Step advances a paused execution by one node.
func (c *Client) Step(ctx context.Context, executionID string) (command.StepResult, error) {
	var res command.StepResult
	if err := c.do(ctx, http.MethodPost, "/api/executions/"+executionID+"/step", nil, &res); err != nil {
		return command.StepResult{}, err
	}
	return res, nil
}

// Cancel requests the run stop.
func (c *Client) Cancel(ctx context.Context, executionID string) error {
	return c.do(ctx, http.MethodPost, "/api/executions/"+executionID+"/cancel", nil, nil)
}

// NodeExecutions fetches the per-node records for a run.
func (c *Client) NodeExecutions(ctx context.Context, executionID string) ([]core.NodeExecution, error) {
	var out []core.NodeExecution
	if err := c.do(ctx, http.MethodGet, "/api/executions/"+executionID+"/node-executions", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Execution fetches one execution record.
func (c *Client) Execution(ctx context.Context, executionID string) (core.Execution, error) {
	var exec core.Execution
	if err := c.do(ctx, http.MethodGet, "/api/executions/"+executionID, nil, &exec); err != nil {
		return core.Execution{}, err
	}
	return exec, nil
}

// Executions lists the runs of a workflow.
func (c *Client) Executions(ctx context.Context, workflowID string) ([]core.Execution, error) {
	var out []core.Execution
	if err := c.do(ctx, http.MethodGet, "/api/workflows/"+workflowID+"/executions", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Compile-time interface checks.
var (
	_ command.GraphWriter = (*Client)(nil)
	_ command.GraphReader = (*Client)(nil)
	_ command.Runner      = (*Client)(nil)
)
