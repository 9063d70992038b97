// Package command defines the boundary to the backend: the network
// operations that replace a workflow's graph rows and that start, step, and
// cancel a run. The editor core consumes these interfaces; the store and
// client packages provide local and HTTP implementations.
package command

import (
	"context"

	"github.com/adflow-labs/adflow/core"
)

// NodeRow is the persisted shape of a node.
type NodeRow struct {
	ID            string         `json:"id"`
	WorkflowID    string         `json:"workflow_id"`
	Type          string         `json:"type"`
	Name          string         `json:"name"`
	Config        map[string]any `json:"config"`
	PositionX     int            `json:"position_x"`
	PositionY     int            `json:"position_y"`
	HasBreakpoint bool           `json:"has_breakpoint"`
}

// EdgeRow is the persisted shape of an edge.
type EdgeRow struct {
	ID           string `json:"id"`
	WorkflowID   string `json:"workflow_id"`
	SourceNodeID string `json:"source_node_id"`
	TargetNodeID string `json:"target_node_id"`
	SourceHandle string `json:"source_handle,omitempty"`
	TargetHandle string `json:"target_handle,omitempty"`
}

// GraphWriter is the bulk graph-replace surface of the backend store.
// The persistence reconciler issues these in a fixed order; implementations
// must apply each call independently (no cross-call transaction is assumed).
type GraphWriter interface {
	DeleteEdges(ctx context.Context, workflowID string) error
	DeleteNodes(ctx context.Context, workflowID string) error
	InsertNodes(ctx context.Context, rows []NodeRow) error
	InsertEdges(ctx context.Context, rows []EdgeRow) error
	TouchWorkflow(ctx context.Context, workflowID string) error
}

// GraphReader loads the persisted graph for a workflow.
type GraphReader interface {
	WorkflowGraph(ctx context.Context, workflowID string) ([]NodeRow, []EdgeRow, error)
}

// StartResult is the response to a start command.
type StartResult struct {
	ExecutionID string               `json:"execution_id"`
	Status      core.ExecutionStatus `json:"status"`
}

// StepResult is the response to a step command.
type StepResult struct {
	Status        core.ExecutionStatus `json:"status"`
	CurrentNodeID string               `json:"current_node_id,omitempty"`
	ErrorMessage  string               `json:"error_message,omitempty"`
}

// Runner is the run-control surface of the backend.
type Runner interface {
	// Start begins a new run of the workflow and returns its execution id
	// together with the initial status.
	Start(ctx context.Context, workflowID string) (StartResult, error)

	// Step advances a PAUSED execution by one node.
	Step(ctx context.Context, executionID string) (StepResult, error)

	// Cancel requests the run stop. Best effort: the backend may already
	// have finished the run by the time the request lands.
	Cancel(ctx context.Context, executionID string) error

	// NodeExecutions fetches all current per-node records for a run. Used by
	// the change-notification consumer as its reconciliation fetch.
	NodeExecutions(ctx context.Context, executionID string) ([]core.NodeExecution, error)
}
