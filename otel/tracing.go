// Package otel translates AdFlow change-notification events into
// OpenTelemetry traces and metrics. Handlers subscribe to the notify bus and
// derive spans and instruments from execution and node-execution updates.
package otel

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/adflow-labs/adflow/core"
	"github.com/adflow-labs/adflow/notify"
)

// TracingHandler translates change-notification events into OpenTelemetry
// spans: one root span per execution, one child span per node run. Spans are
// keyed by execution id (and execution:node for node spans) so repeated
// status updates map onto the same span.
type TracingHandler struct {
	tracer trace.Tracer

	mu        sync.RWMutex
	execSpans map[string]trace.Span       // executionID -> span
	execCtxs  map[string]context.Context  // executionID -> context (for child spans)
	nodeSpans map[string]trace.Span       // executionID:nodeID -> span
}

// NewTracingHandler creates a TracingHandler that uses the given tracer to
// create spans from change-notification events.
func NewTracingHandler(tracer trace.Tracer) *TracingHandler {
	return &TracingHandler{
		tracer:    tracer,
		execSpans: make(map[string]trace.Span),
		execCtxs:  make(map[string]context.Context),
		nodeSpans: make(map[string]trace.Span),
	}
}

// Handle processes one event and creates, annotates, or ends spans
// accordingly. It implements notify.Handler semantics.
func (h *TracingHandler) Handle(e notify.Event) {
	switch e.Kind {
	case notify.KindExecutionUpdated:
		if e.Execution != nil {
			h.handleExecution(e)
		}
	case notify.KindNodeExecutionUpdated:
		if e.NodeExecution != nil {
			h.handleNodeExecution(e)
		}
	}
}

func (h *TracingHandler) handleExecution(e notify.Event) {
	exec := e.Execution
	switch {
	case exec.Status == core.ExecutionRunning:
		h.mu.RLock()
		span, exists := h.execSpans[exec.ID]
		h.mu.RUnlock()
		if exists {
			// Resumed after a pause; the root span is already open.
			span.AddEvent("execution.resumed", trace.WithTimestamp(e.Time))
			return
		}
		h.startExecutionSpan(e)
	case exec.Status == core.ExecutionPaused:
		h.mu.RLock()
		span, exists := h.execSpans[exec.ID]
		h.mu.RUnlock()
		if exists {
			span.AddEvent("execution.paused", trace.WithTimestamp(e.Time))
		}
	case exec.Status.IsTerminal():
		h.endExecutionSpan(e)
	}
}

// startExecutionSpan creates the root span for a run.
func (h *TracingHandler) startExecutionSpan(e notify.Event) {
	exec := e.Execution

	ts := e.Time
	if !exec.StartedAt.IsZero() {
		ts = exec.StartedAt
	}

	ctx, span := h.tracer.Start(context.Background(), "execution:"+exec.ID,
		trace.WithAttributes(
			attribute.String("adflow.execution_id", exec.ID),
			attribute.String("adflow.workflow_id", exec.WorkflowID),
		),
		trace.WithTimestamp(ts),
	)

	h.mu.Lock()
	h.execSpans[exec.ID] = span
	h.execCtxs[exec.ID] = ctx
	h.mu.Unlock()
}

// endExecutionSpan closes the root span with the run's terminal status.
func (h *TracingHandler) endExecutionSpan(e notify.Event) {
	exec := e.Execution

	h.mu.Lock()
	span, ok := h.execSpans[exec.ID]
	if ok {
		delete(h.execSpans, exec.ID)
		delete(h.execCtxs, exec.ID)
	}
	h.mu.Unlock()
	if !ok {
		return
	}

	span.SetAttributes(attribute.String("adflow.status", exec.Status.String()))
	if exec.TotalCost > 0 {
		span.SetAttributes(attribute.Float64("adflow.total_cost", exec.TotalCost))
	}

	if exec.Status == core.ExecutionFailed {
		errMsg := exec.ErrorMessage
		if errMsg == "" {
			errMsg = "execution failed"
		}
		span.SetStatus(codes.Error, errMsg)
		span.RecordError(spanError(errMsg), trace.WithTimestamp(e.Time))
	} else {
		span.SetStatus(codes.Ok, "")
	}

	ts := e.Time
	if exec.FinishedAt != nil {
		ts = *exec.FinishedAt
	}
	span.End(trace.WithTimestamp(ts))
}

func (h *TracingHandler) handleNodeExecution(e notify.Event) {
	rec := e.NodeExecution
	switch rec.Status {
	case core.NodeRunning:
		h.startNodeSpan(e)
	case core.NodePaused:
		// The node has not started yet; annotate the root span instead.
		h.mu.RLock()
		span, ok := h.execSpans[rec.ExecutionID]
		h.mu.RUnlock()
		if ok {
			span.AddEvent("node.paused",
				trace.WithTimestamp(e.Time),
				trace.WithAttributes(attribute.String("adflow.node_id", rec.NodeID)),
			)
		}
	case core.NodeCompleted:
		h.endNodeSpan(e, codes.Ok, "")
	case core.NodeFailed:
		errMsg := rec.ErrorMessage
		if errMsg == "" {
			errMsg = "node failed"
		}
		h.endNodeSpan(e, codes.Error, errMsg)
	}
}

// startNodeSpan creates a child span under the execution's root span.
func (h *TracingHandler) startNodeSpan(e notify.Event) {
	rec := e.NodeExecution

	h.mu.RLock()
	parentCtx, ok := h.execCtxs[rec.ExecutionID]
	h.mu.RUnlock()
	if !ok {
		// No root span active; start from background context.
		parentCtx = context.Background()
	}

	ts := e.Time
	if rec.StartedAt != nil {
		ts = *rec.StartedAt
	}

	_, span := h.tracer.Start(parentCtx, "node:"+rec.NodeID,
		trace.WithAttributes(
			attribute.String("adflow.execution_id", rec.ExecutionID),
			attribute.String("adflow.node_id", rec.NodeID),
		),
		trace.WithTimestamp(ts),
	)

	h.mu.Lock()
	h.nodeSpans[nodeSpanKey(rec.ExecutionID, rec.NodeID)] = span
	h.mu.Unlock()
}

// endNodeSpan closes the node's span with the given status.
func (h *TracingHandler) endNodeSpan(e notify.Event, code codes.Code, errMsg string) {
	rec := e.NodeExecution
	key := nodeSpanKey(rec.ExecutionID, rec.NodeID)

	h.mu.Lock()
	span, ok := h.nodeSpans[key]
	if ok {
		delete(h.nodeSpans, key)
	}
	h.mu.Unlock()
	if !ok {
		return
	}

	span.SetStatus(code, errMsg)
	if code == codes.Error {
		span.RecordError(spanError(errMsg), trace.WithTimestamp(e.Time))
	}

	ts := e.Time
	if rec.FinishedAt != nil {
		ts = *rec.FinishedAt
	}
	span.End(trace.WithTimestamp(ts))
}

// ActiveSpanContext returns the SpanContext for the active node span
// identified by executionID and nodeID. Returns an empty SpanContext if not
// found.
func (h *TracingHandler) ActiveSpanContext(executionID, nodeID string) trace.SpanContext {
	h.mu.RLock()
	span, ok := h.nodeSpans[nodeSpanKey(executionID, nodeID)]
	h.mu.RUnlock()

	if !ok {
		return trace.SpanContext{}
	}
	return span.SpanContext()
}

// ActiveExecutionSpanContext returns the SpanContext for the active root
// span of an execution. Returns an empty SpanContext if not found.
func (h *TracingHandler) ActiveExecutionSpanContext(executionID string) trace.SpanContext {
	h.mu.RLock()
	span, ok := h.execSpans[executionID]
	h.mu.RUnlock()

	if !ok {
		return trace.SpanContext{}
	}
	return span.SpanContext()
}

func nodeSpanKey(executionID, nodeID string) string {
	return executionID + ":" + nodeID
}

// spanError is a simple error type for recording span errors.
type spanError string

func (e spanError) Error() string { return string(e) }
