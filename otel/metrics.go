package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/adflow-labs/adflow/core"
	"github.com/adflow-labs/adflow/notify"
)

// MetricsHandler translates change-notification events into OpenTelemetry
// metrics. It records counters and histograms for node executions, failures,
// run durations, and run cost.
type MetricsHandler struct {
	nodeExecutions metric.Int64Counter
	nodeFailures   metric.Int64Counter
	nodeDuration   metric.Float64Histogram
	execDuration   metric.Float64Histogram
	execCost       metric.Float64Histogram
}

// NewMetricsHandler creates a MetricsHandler that uses the given meter to
// create its instruments.
func NewMetricsHandler(meter metric.Meter) (*MetricsHandler, error) {
	nodeExec, err := meter.Int64Counter("adflow.node.executions",
		metric.WithDescription("Number of completed node executions"),
	)
	if err != nil {
		return nil, err
	}

	nodeFail, err := meter.Int64Counter("adflow.node.failures",
		metric.WithDescription("Number of node failures"),
	)
	if err != nil {
		return nil, err
	}

	nodeDur, err := meter.Float64Histogram("adflow.node.duration",
		metric.WithDescription("Duration of node execution in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	execDur, err := meter.Float64Histogram("adflow.execution.duration",
		metric.WithDescription("Duration of workflow execution in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	execCost, err := meter.Float64Histogram("adflow.execution.cost",
		metric.WithDescription("Total generation cost of a workflow execution"),
	)
	if err != nil {
		return nil, err
	}

	return &MetricsHandler{
		nodeExecutions: nodeExec,
		nodeFailures:   nodeFail,
		nodeDuration:   nodeDur,
		execDuration:   execDur,
		execCost:       execCost,
	}, nil
}

// Handle processes one event and records the appropriate metrics.
// It implements notify.Handler semantics.
func (h *MetricsHandler) Handle(e notify.Event) {
	switch e.Kind {
	case notify.KindNodeExecutionUpdated:
		if e.NodeExecution != nil {
			h.handleNodeExecution(e.NodeExecution)
		}
	case notify.KindExecutionUpdated:
		if e.Execution != nil && e.Execution.Status.IsTerminal() {
			h.handleTerminalExecution(e.Execution)
		}
	}
}

func (h *MetricsHandler) handleNodeExecution(rec *core.NodeExecution) {
	ctx := context.Background()
	attrs := metric.WithAttributes(
		attribute.String("node_id", rec.NodeID),
	)

	switch rec.Status {
	case core.NodeCompleted:
		h.nodeExecutions.Add(ctx, 1, attrs)
		if rec.StartedAt != nil && rec.FinishedAt != nil {
			h.nodeDuration.Record(ctx, rec.FinishedAt.Sub(*rec.StartedAt).Seconds(), attrs)
		}
	case core.NodeFailed:
		h.nodeFailures.Add(ctx, 1, attrs)
	}
}

func (h *MetricsHandler) handleTerminalExecution(exec *core.Execution) {
	ctx := context.Background()
	attrs := metric.WithAttributes(
		attribute.String("workflow_id", exec.WorkflowID),
		attribute.String("status", exec.Status.String()),
	)

	if exec.FinishedAt != nil && !exec.StartedAt.IsZero() {
		h.execDuration.Record(ctx, exec.FinishedAt.Sub(exec.StartedAt).Seconds(), attrs)
	}
	h.execCost.Record(ctx, exec.TotalCost, attrs)
}
