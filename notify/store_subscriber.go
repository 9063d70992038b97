package notify

import (
	"context"
	"log/slog"
)

// StoreSubscriber writes events to an EventStore. It is attached to the bus
// publish path so every published event is also durable for replay.
type StoreSubscriber struct {
	store  EventStore
	logger *slog.Logger
}

// NewStoreSubscriber creates a new StoreSubscriber.
func NewStoreSubscriber(store EventStore, logger *slog.Logger) *StoreSubscriber {
	if logger == nil {
		logger = slog.Default()
	}
	return &StoreSubscriber{store: store, logger: logger}
}

// Handle persists a single event to the store.
func (s *StoreSubscriber) Handle(event Event) {
	if err := s.store.Append(context.Background(), event); err != nil {
		s.logger.Error("failed to persist change event",
			"execution_id", event.ExecutionID,
			"kind", event.Kind,
			"seq", event.Seq,
			"error", err,
		)
	}
}
