package notify

// Bus distributes change-notification events to subscribers.
type Bus interface {
	// Publish sends an event to all matching subscribers.
	Publish(event Event)

	// Subscribe registers a subscriber scoped to one execution.
	// Returns a Subscription that must be closed when done.
	Subscribe(executionID string) Subscription

	// SubscribeAll registers a subscriber that receives events from all
	// executions. Returns a Subscription that must be closed when done.
	SubscribeAll() Subscription

	// Close shuts down the bus and all subscriptions.
	Close() error
}

// Pump forwards events from a subscription to a handler on a background
// goroutine until the subscription closes.
func Pump(sub Subscription, handler Handler) {
	go func() {
		for event := range sub.Events() {
			handler(event)
		}
	}()
}

// Subscription receives events.
type Subscription interface {
	// Events returns a channel of events for this subscription.
	Events() <-chan Event

	// Close unsubscribes and releases resources.
	Close() error
}
