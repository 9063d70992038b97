package server

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/adflow-labs/adflow/notify"
)

// HeartbeatInterval is the interval between SSE heartbeat comments.
const HeartbeatInterval = 15 * time.Second

// handleExecutionEvents streams an execution's change-notification events as
// Server-Sent Events. Stored events are replayed first (after the optional
// ?after= cursor), then live events from the bus; the subscription is taken
// before the replay so nothing falls in the gap, and duplicates are skipped
// by sequence number.
//
// SSE format:
//
//	id: {seq}
//	event: {kind}
//	data: {json}
//
// A heartbeat comment ": ping\n\n" is sent every 15 seconds. The stream
// closes after a terminal execution event or when the client disconnects.
func (s *Server) handleExecutionEvents(w http.ResponseWriter, r *http.Request) {
	executionID := r.PathValue("id")

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "STREAMING_UNSUPPORTED", "streaming not supported")
		return
	}

	var afterSeq uint64
	if afterStr := r.URL.Query().Get("after"); afterStr != "" {
		parsed, err := strconv.ParseUint(afterStr, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "PARSE_ERROR", "invalid after parameter")
			return
		}
		afterSeq = parsed
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()

	// Subscribe before replaying so events arriving during the replay are
	// not missed; the seq dedup in streamLive drops any overlap.
	sub := s.bus.Subscribe(executionID)
	defer sub.Close()

	lastSeq := afterSeq
	finished, err := s.replayStored(ctx, w, flusher, executionID, afterSeq, &lastSeq)
	if err != nil || finished {
		return
	}

	s.streamLive(ctx, w, flusher, sub, &lastSeq)
}

// replayStored writes stored events to the stream. Returns true when a
// terminal execution event was sent and the stream should close.
func (s *Server) replayStored(
	ctx context.Context,
	w http.ResponseWriter,
	flusher http.Flusher,
	executionID string,
	afterSeq uint64,
	lastSeq *uint64,
) (finished bool, err error) {
	if s.events == nil {
		return false, nil
	}

	events, err := s.events.List(ctx, executionID, afterSeq, 0)
	if err != nil {
		s.logger.Error("sse replay failed", "execution_id", executionID, "error", err)
		return false, err
	}

	for _, event := range events {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		if err := writeSSEEvent(w, event); err != nil {
			return false, err
		}
		flusher.Flush()

		if event.Seq > *lastSeq {
			*lastSeq = event.Seq
		}
		if isTerminalEvent(event) {
			return true, nil
		}
	}
	return false, nil
}

// streamLive forwards live events, deduplicating against the replay by
// sequence number.
func (s *Server) streamLive(
	ctx context.Context,
	w http.ResponseWriter,
	flusher http.Flusher,
	sub notify.Subscription,
	lastSeq *uint64,
) {
	heartbeat := time.NewTicker(HeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-sub.Events():
			if !ok {
				return
			}
			if event.Seq <= *lastSeq {
				continue
			}
			if err := writeSSEEvent(w, event); err != nil {
				return
			}
			flusher.Flush()

			*lastSeq = event.Seq
			if isTerminalEvent(event) {
				return
			}

		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func isTerminalEvent(event notify.Event) bool {
	return event.Kind == notify.KindExecutionUpdated &&
		event.Execution != nil &&
		event.Execution.Status.IsTerminal()
}

func writeSSEEvent(w http.ResponseWriter, event notify.Event) error {
	data, err := event.Encode()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", event.Seq, event.Kind, data)
	return err
}
