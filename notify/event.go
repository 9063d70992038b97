// Package notify provides the push-based change-notification channel for
// AdFlow executions. The backend publishes row-change events as an execution
// progresses; the editor's watcher subscribes to exactly one execution and
// feeds the events into the execution state machine.
package notify

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/adflow-labs/adflow/core"
)

// Kind identifies the type of a change-notification event.
type Kind string

const (
	// KindExecutionUpdated is a row-level change on the Execution record.
	KindExecutionUpdated Kind = "execution.updated"

	// KindNodeExecutionUpdated is a row-level change on a NodeExecution record.
	KindNodeExecutionUpdated Kind = "node_execution.updated"
)

// String returns the string representation of the Kind.
func (k Kind) String() string {
	return string(k)
}

// Event is one row-change notification. Exactly one of Execution or
// NodeExecution is set, matching Kind.
//
// Events of the same kind are delivered in emission order per execution;
// no ordering holds across kinds. Consumers must apply each event
// independently and idempotently.
type Event struct {
	Kind        Kind      `json:"kind"`
	ExecutionID string    `json:"execution_id"`
	Seq         uint64    `json:"seq"`
	Time        time.Time `json:"time"`

	Execution     *core.Execution     `json:"execution,omitempty"`
	NodeExecution *core.NodeExecution `json:"node_execution,omitempty"`

	// Trace correlation, stamped when tracing is enabled.
	TraceID string `json:"trace_id,omitempty"`
	SpanID  string `json:"span_id,omitempty"`
}

// ExecutionUpdated builds a run-level event.
func ExecutionUpdated(exec core.Execution) Event {
	return Event{
		Kind:        KindExecutionUpdated,
		ExecutionID: exec.ID,
		Time:        time.Now(),
		Execution:   &exec,
	}
}

// NodeExecutionUpdated builds a node-level event.
func NodeExecutionUpdated(rec core.NodeExecution) Event {
	return Event{
		Kind:          KindNodeExecutionUpdated,
		ExecutionID:   rec.ExecutionID,
		Time:          time.Now(),
		NodeExecution: &rec,
	}
}

// Encode serializes the event for the wire.
func (e Event) Encode() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("notify: encode event: %w", err)
	}
	return data, nil
}

// Decode parses a wire-format event.
func Decode(data []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return Event{}, fmt.Errorf("notify: decode event: %w", err)
	}
	return e, nil
}

// Handler is a function type for handling events.
type Handler func(Event)
