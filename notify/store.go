package notify

import "context"

// EventStore persists events for replay. Replay is the backstop for events
// missed between an execution starting and a subscription becoming live.
type EventStore interface {
	// Append stores an event.
	Append(ctx context.Context, event Event) error

	// List returns events for an execution, optionally filtered.
	// afterSeq: return events with Seq > afterSeq (0 means all)
	// limit: max events to return (0 means no limit)
	List(ctx context.Context, executionID string, afterSeq uint64, limit int) ([]Event, error)

	// LatestSeq returns the highest Seq for an execution (0 if no events).
	LatestSeq(ctx context.Context, executionID string) (uint64, error)

	// DeleteExecution removes all stored events for an execution.
	DeleteExecution(ctx context.Context, executionID string) error
}
