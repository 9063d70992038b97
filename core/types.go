// Package core provides the foundational types shared across AdFlow.
//
// This package contains:
//   - Node and execution status enumerations
//   - Data structures: Workflow, Execution, NodeExecution
//   - Derived status predicates used by the execution state machine
package core

import (
	"time"
)

// NodeType identifies the type of a pipeline node.
// The set is intentionally closed; per-type configuration is carried as an
// opaque key/value map the core never inspects.
type NodeType string

const (
	NodeTextInput   NodeType = "TEXT_INPUT"
	NodeImageInput  NodeType = "IMAGE_INPUT"
	NodeSocialMedia NodeType = "SOCIAL_MEDIA"
	NodePrompt      NodeType = "PROMPT"
	NodeImageModel  NodeType = "IMAGE_MODEL"
	NodeOutput      NodeType = "OUTPUT"
)

// String returns the string representation of the NodeType.
func (t NodeType) String() string {
	return string(t)
}

// Valid reports whether t is one of the known node types.
func (t NodeType) Valid() bool {
	switch t {
	case NodeTextInput, NodeImageInput, NodeSocialMedia, NodePrompt, NodeImageModel, NodeOutput:
		return true
	}
	return false
}

// DefaultLabel returns the display name a freshly created node of this type
// receives before the user renames it.
func (t NodeType) DefaultLabel() string {
	switch t {
	case NodeTextInput:
		return "Text Input"
	case NodeImageInput:
		return "Image Input"
	case NodeSocialMedia:
		return "Social Media"
	case NodePrompt:
		return "Prompt"
	case NodeImageModel:
		return "Image Model"
	case NodeOutput:
		return "Output"
	default:
		return "Untitled Node"
	}
}

// ExecutionStatus is the lifecycle status of one workflow run.
type ExecutionStatus string

const (
	ExecutionPending   ExecutionStatus = "PENDING"
	ExecutionRunning   ExecutionStatus = "RUNNING"
	ExecutionPaused    ExecutionStatus = "PAUSED"
	ExecutionCompleted ExecutionStatus = "COMPLETED"
	ExecutionFailed    ExecutionStatus = "FAILED"
	ExecutionCancelled ExecutionStatus = "CANCELLED"
)

// String returns the string representation of the ExecutionStatus.
func (s ExecutionStatus) String() string {
	return string(s)
}

// IsActive reports whether the run is still live from the UI's point of view.
// PAUSED counts as active even though no work is in flight.
func (s ExecutionStatus) IsActive() bool {
	switch s {
	case ExecutionPending, ExecutionRunning, ExecutionPaused:
		return true
	}
	return false
}

// IsTerminal reports whether the run has reached a final status.
// Terminal runs accept no further transitions.
func (s ExecutionStatus) IsTerminal() bool {
	switch s {
	case ExecutionCompleted, ExecutionFailed, ExecutionCancelled:
		return true
	}
	return false
}

// CanStop reports whether a cancel request is meaningful for this status.
func (s ExecutionStatus) CanStop() bool {
	return s == ExecutionRunning || s == ExecutionPaused
}

// NodeExecutionStatus is the lifecycle status of a single node within a run.
type NodeExecutionStatus string

const (
	NodePending   NodeExecutionStatus = "PENDING"
	NodeRunning   NodeExecutionStatus = "RUNNING"
	NodePaused    NodeExecutionStatus = "PAUSED"
	NodeCompleted NodeExecutionStatus = "COMPLETED"
	NodeFailed    NodeExecutionStatus = "FAILED"
	NodeSkipped   NodeExecutionStatus = "SKIPPED"
)

// String returns the string representation of the NodeExecutionStatus.
func (s NodeExecutionStatus) String() string {
	return string(s)
}

// Position is a node's 2D location on the canvas.
type Position struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Workflow is the named container for one graph plus metadata.
// A workflow owns exactly one node/edge graph version at a time.
type Workflow struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Execution is one server-tracked run of a workflow.
// The client only ever holds a cache of it; the backend owns the truth.
type Execution struct {
	ID           string          `json:"id"`
	WorkflowID   string          `json:"workflow_id"`
	Status       ExecutionStatus `json:"status"`
	ErrorMessage string          `json:"error_message,omitempty"`
	TotalCost    float64         `json:"total_cost,omitempty"`
	StartedAt    time.Time       `json:"started_at"`
	FinishedAt   *time.Time      `json:"finished_at,omitempty"`
}

// NodeExecution is the status/result record for a single node within one
// Execution. At most one current record exists per node per execution;
// later updates replace earlier ones.
type NodeExecution struct {
	ID           string              `json:"id,omitempty"`
	ExecutionID  string              `json:"execution_id"`
	NodeID       string              `json:"node_id"`
	Status       NodeExecutionStatus `json:"status"`
	InputData    map[string]any      `json:"input_data,omitempty"`
	OutputData   map[string]any      `json:"output_data,omitempty"`
	ErrorMessage string              `json:"error_message,omitempty"`
	StartedAt    *time.Time          `json:"started_at,omitempty"`
	FinishedAt   *time.Time          `json:"finished_at,omitempty"`
}

// ParseNodeType converts a string to a NodeType.
func ParseNodeType(s string) NodeType {
	return NodeType(s)
}
