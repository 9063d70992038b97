package otel

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/adflow-labs/adflow/command"
	"github.com/adflow-labs/adflow/engine"
)

// ObservedRunner wraps a NodeRunner and records one span plus invocation
// metrics per node run. It observes the call itself, independent of the
// change-notification channel, so model latency is measured even when no bus
// subscriber is attached.
type ObservedRunner struct {
	inner  engine.NodeRunner
	tracer trace.Tracer

	invocations metric.Int64Counter
	latency     metric.Float64Histogram
}

// NewObservedRunner creates an ObservedRunner bound to the provided
// meter/tracer.
func NewObservedRunner(inner engine.NodeRunner, meter metric.Meter, tracer trace.Tracer) (*ObservedRunner, error) {
	invocations, err := meter.Int64Counter("adflow.runner.invocations",
		metric.WithDescription("Number of node runner invocations"),
	)
	if err != nil {
		return nil, err
	}
	latency, err := meter.Float64Histogram("adflow.runner.latency",
		metric.WithDescription("Node runner latency in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &ObservedRunner{
		inner:       inner,
		tracer:      tracer,
		invocations: invocations,
		latency:     latency,
	}, nil
}

// RunNode implements engine.NodeRunner.
func (o *ObservedRunner) RunNode(ctx context.Context, node command.NodeRow, inputs map[string]any) (engine.NodeResult, error) {
	attrs := []attribute.KeyValue{
		attribute.String("adflow.node_id", node.ID),
		attribute.String("adflow.node_type", node.Type),
	}

	spanCtx := ctx
	var span trace.Span
	if o.tracer != nil {
		spanCtx, span = o.tracer.Start(ctx, "runner.run_node", trace.WithAttributes(attrs...))
	}

	start := time.Now()
	res, err := o.inner.RunNode(spanCtx, node, inputs)
	elapsed := time.Since(start)

	options := metric.WithAttributes(append(attrs, attribute.Bool("success", err == nil))...)
	o.invocations.Add(ctx, 1, options)
	o.latency.Record(ctx, elapsed.Seconds(), options)

	if span != nil {
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			span.RecordError(err)
		} else {
			span.SetStatus(codes.Ok, "")
			if res.Cost > 0 {
				span.SetAttributes(attribute.Float64("adflow.cost", res.Cost))
			}
		}
		span.End()
	}
	return res, err
}

var _ engine.NodeRunner = (*ObservedRunner)(nil)
