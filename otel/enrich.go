package otel

import (
	"github.com/adflow-labs/adflow/notify"
)

// EnrichHandler wraps a notify.Handler with OpenTelemetry trace context.
// Before forwarding, it looks up the active span from the TracingHandler and
// populates the TraceID and SpanID fields on the event.
//
// For node-level events the node span is checked first. If no node span is
// found, it falls back to the execution's root span. When no span is active,
// the event passes through unchanged.
func EnrichHandler(next notify.Handler, tracing *TracingHandler) notify.Handler {
	return func(e notify.Event) {
		if e.NodeExecution != nil {
			sc := tracing.ActiveSpanContext(e.ExecutionID, e.NodeExecution.NodeID)
			if sc.IsValid() {
				e.TraceID = sc.TraceID().String()
				e.SpanID = sc.SpanID().String()
			}
		}
		if e.TraceID == "" && e.ExecutionID != "" {
			sc := tracing.ActiveExecutionSpanContext(e.ExecutionID)
			if sc.IsValid() {
				e.TraceID = sc.TraceID().String()
				e.SpanID = sc.SpanID().String()
			}
		}
		next(e)
	}
}
