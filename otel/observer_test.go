package otel_test

import (
	"context"
	"errors"
	"testing"

	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	adflowotel "github.com/adflow-labs/adflow/otel"

	"github.com/adflow-labs/adflow/command"
	"github.com/adflow-labs/adflow/engine"
)

type erroringRunner struct{ err error }

func (r erroringRunner) RunNode(context.Context, command.NodeRow, map[string]any) (engine.NodeResult, error) {
	return engine.NodeResult{}, r.err
}

func TestObservedRunner_RecordsInvocationAndSpan(t *testing.T) {
	reader, mp := newTestMeter()
	exporter, tp := newTestTracer()

	runner, err := adflowotel.NewObservedRunner(engine.Passthrough{}, mp.Meter("test"), tp.Tracer("test"))
	if err != nil {
		t.Fatalf("NewObservedRunner: %v", err)
	}

	node := command.NodeRow{ID: "n-prompt", Type: "PROMPT", Config: map[string]any{"template": "ad for {product}"}}
	res, err := runner.RunNode(context.Background(), node, map[string]any{"product": "sneakers"})
	if err != nil {
		t.Fatalf("RunNode: %v", err)
	}
	if res.Output["template"] != "ad for {product}" {
		t.Errorf("output = %+v", res.Output)
	}

	rm := collectMetrics(t, reader)
	inv := findMetric(rm, "adflow.runner.invocations")
	if inv == nil {
		t.Fatal("adflow.runner.invocations metric not found")
	}
	sumData, ok := inv.Data.(metricdata.Sum[int64])
	if !ok || len(sumData.DataPoints) != 1 || sumData.DataPoints[0].Value != 1 {
		t.Fatalf("unexpected invocation data: %+v", inv.Data)
	}
	successFound := false
	for _, attr := range sumData.DataPoints[0].Attributes.ToSlice() {
		if string(attr.Key) == "success" && attr.Value.AsBool() {
			successFound = true
		}
	}
	if !successFound {
		t.Error("expected success=true attribute on invocation counter")
	}

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if spans[0].Name != "runner.run_node" {
		t.Errorf("span name = %q", spans[0].Name)
	}
	if spans[0].Status.Code != otelcodes.Ok {
		t.Errorf("expected Ok status, got %v", spans[0].Status.Code)
	}
}

func TestObservedRunner_FailureSetsErrorStatus(t *testing.T) {
	reader, mp := newTestMeter()
	exporter, tp := newTestTracer()

	runner, err := adflowotel.NewObservedRunner(erroringRunner{err: errors.New("model unavailable")}, mp.Meter("test"), tp.Tracer("test"))
	if err != nil {
		t.Fatalf("NewObservedRunner: %v", err)
	}

	_, err = runner.RunNode(context.Background(), command.NodeRow{ID: "n-model", Type: "IMAGE_MODEL"}, nil)
	if err == nil {
		t.Fatal("expected error from inner runner")
	}

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if spans[0].Status.Code != otelcodes.Error {
		t.Errorf("expected Error status, got %v", spans[0].Status.Code)
	}
	if spans[0].Status.Description != "model unavailable" {
		t.Errorf("description = %q", spans[0].Status.Description)
	}

	rm := collectMetrics(t, reader)
	lat := findMetric(rm, "adflow.runner.latency")
	if lat == nil {
		t.Fatal("adflow.runner.latency metric not found")
	}
	histData, ok := lat.Data.(metricdata.Histogram[float64])
	if !ok || len(histData.DataPoints) != 1 || histData.DataPoints[0].Count != 1 {
		t.Fatalf("unexpected latency data: %+v", lat.Data)
	}
}
