package client

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/adflow-labs/adflow/notify"
)

// StreamEvents consumes the SSE stream for one execution, invoking handler
// for each decoded event. It blocks until the server closes the stream
// (after a terminal execution event), the context is cancelled, or the
// connection fails.
func (c *Client) StreamEvents(ctx context.Context, executionID string, afterSeq uint64, handler notify.Handler) error {
	path := fmt.Sprintf("%s/api/executions/%s/events", c.baseURL, executionID)
	if afterSeq > 0 {
		path = fmt.Sprintf("%s?after=%d", path, afterSeq)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, path, nil)
	if err != nil {
		return fmt.Errorf("client: build stream request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	// The stream outlives any client-level timeout, so bypass it; the
	// context carries cancellation.
	httpClient := &http.Client{Transport: c.http.Transport}
	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("client: open event stream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decodeAPIError(resp)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Text()
		data, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			// id:, event:, heartbeats, and blank separators carry no payload
			// beyond what the data line already encodes.
			continue
		}
		event, err := notify.Decode([]byte(data))
		if err != nil {
			return fmt.Errorf("client: decode stream event: %w", err)
		}
		handler(event)
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("client: read event stream: %w", err)
	}
	return nil
}

// EventBus adapts the SSE stream to the notify.Bus interface so the
// execution watcher can subscribe over HTTP. It is receive-only: Publish is
// a no-op and SubscribeAll returns an already-closed subscription, since the
// server only streams per-execution.
type EventBus struct {
	client *Client
	logger *slog.Logger

	mu     sync.Mutex
	subs   []*sseSub
	closed bool
}

// NewEventBus creates an EventBus over the client.
func NewEventBus(c *Client, logger *slog.Logger) *EventBus {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventBus{client: c, logger: logger}
}

// Publish is a no-op: clients do not publish change events.
func (b *EventBus) Publish(notify.Event) {}

// Subscribe opens the SSE stream for an execution and delivers its events.
func (b *EventBus) Subscribe(executionID string) notify.Subscription {
	ctx, cancel := context.WithCancel(context.Background())
	sub := &sseSub{
		ch:     make(chan notify.Event, 256),
		cancel: cancel,
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		cancel()
		close(sub.ch)
		sub.closed = true
		return sub
	}
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	go func() {
		defer sub.closeChannel()
		err := b.client.StreamEvents(ctx, executionID, 0, func(event notify.Event) {
			select {
			case sub.ch <- event:
			default:
				// Drop if the consumer is behind; the reconciliation fetch
				// covers the gap.
			}
		})
		if err != nil && ctx.Err() == nil {
			b.logger.Warn("event stream ended", "execution_id", executionID, "error", err)
		}
	}()
	return sub
}

// SubscribeAll is not supported over SSE; the returned subscription is
// already closed.
func (b *EventBus) SubscribeAll() notify.Subscription {
	sub := &sseSub{ch: make(chan notify.Event)}
	sub.closeChannel()
	return sub
}

// Close cancels all open streams.
func (b *EventBus) Close() error {
	b.mu.Lock()
	subs := b.subs
	b.subs = nil
	b.closed = true
	b.mu.Unlock()

	for _, sub := range subs {
		_ = sub.Close()
	}
	return nil
}

type sseSub struct {
	ch     chan notify.Event
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
}

// Events returns the subscription's event channel.
func (s *sseSub) Events() <-chan notify.Event {
	return s.ch
}

// Close cancels the stream. The channel closes once the reader goroutine
// drains out.
func (s *sseSub) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	return nil
}

// closeChannel closes the delivery channel, guarded against double-close.
func (s *sseSub) closeChannel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// Compile-time interface checks.
var (
	_ notify.Bus          = (*EventBus)(nil)
	_ notify.Subscription = (*sseSub)(nil)
)
