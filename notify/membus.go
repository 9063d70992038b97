package notify

import "sync"

// MemBusConfig configures an in-memory bus.
type MemBusConfig struct {
	// SubscriberBufferSize is how many undelivered events a subscriber may
	// hold before further publishes to it are dropped. Defaults to 256.
	SubscriberBufferSize int
}

// MemBus is an in-memory Bus implementation. Each subscriber has its own
// buffered channel, so per-subscriber delivery preserves publish order; a
// slow subscriber drops events rather than blocking the publisher, which is
// why consumers pair a subscription with a reconciliation fetch.
type MemBus struct {
	mu         sync.RWMutex
	subs       map[string][]*memSub // executionID -> subscribers
	globalSubs []*memSub
	bufSize    int
	closed     bool
}

// NewMemBus creates an in-memory bus.
func NewMemBus(config MemBusConfig) *MemBus {
	bufSize := config.SubscriberBufferSize
	if bufSize <= 0 {
		bufSize = 256
	}
	return &MemBus{
		subs:    make(map[string][]*memSub),
		bufSize: bufSize,
	}
}

// Publish fans the event out to the subscribers of its execution id and to
// every global subscriber. Publishing on a closed bus is a no-op.
func (b *MemBus) Publish(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}
	for _, sub := range b.subs[event.ExecutionID] {
		sub.send(event)
	}
	for _, sub := range b.globalSubs {
		sub.send(event)
	}
}

// Subscribe opens a subscription that only sees one execution's events.
func (b *MemBus) Subscribe(executionID string) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := newMemSub(b.bufSize)
	b.subs[executionID] = append(b.subs[executionID], sub)
	return sub
}

// SubscribeAll opens a subscription spanning every execution. The serve
// wiring uses this to feed the telemetry handlers and the event store.
func (b *MemBus) SubscribeAll() Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := newMemSub(b.bufSize)
	b.globalSubs = append(b.globalSubs, sub)
	return sub
}

// Close closes every open subscription and rejects further publishes.
func (b *MemBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	for _, subs := range b.subs {
		for _, sub := range subs {
			sub.close()
		}
	}
	for _, sub := range b.globalSubs {
		sub.close()
	}
	return nil
}

type memSub struct {
	ch     chan Event
	mu     sync.Mutex
	closed bool
}

func newMemSub(bufSize int) *memSub {
	return &memSub{ch: make(chan Event, bufSize)}
}

// Events exposes the subscription's delivery channel. The channel is closed
// when the subscription or the bus closes.
func (s *memSub) Events() <-chan Event {
	return s.ch
}

// Close detaches the subscriber.
func (s *memSub) Close() error {
	s.close()
	return nil
}

// close is idempotent; both the subscriber and the bus may call it.
func (s *memSub) close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// send delivers without blocking: a full buffer or a closed subscription
// loses the event, and the consumer's reconciliation fetch makes up for it.
func (s *memSub) send(event Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	select {
	case s.ch <- event:
	default:
	}
}

// Compile-time interface checks.
var _ Bus = (*MemBus)(nil)
var _ Subscription = (*memSub)(nil)
