package client

import (
	"context"
	"errors"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/adflow-labs/adflow"
	"github.com/adflow-labs/adflow/command"
	"github.com/adflow-labs/adflow/core"
	"github.com/adflow-labs/adflow/engine"
	"github.com/adflow-labs/adflow/notify"
	"github.com/adflow-labs/adflow/persist"
	"github.com/adflow-labs/adflow/server"
	"github.com/adflow-labs/adflow/store"
)

// newTestBackend stands up the full backend (store, engine, bus, event
// store, HTTP server) and returns a client pointed at it.
func newTestBackend(t *testing.T) *Client {
	t.Helper()
	dir := t.TempDir()

	st, err := store.Open(store.Config{DSN: filepath.Join(dir, "adflow.db")})
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	events, err := notify.NewSQLiteEventStore(notify.SQLiteStoreConfig{DSN: filepath.Join(dir, "events.db")})
	if err != nil {
		t.Fatalf("NewSQLiteEventStore: %v", err)
	}
	t.Cleanup(func() { events.Close() })

	bus := notify.NewMemBus(notify.MemBusConfig{})
	t.Cleanup(func() { bus.Close() })
	notify.Pump(bus.SubscribeAll(), notify.NewStoreSubscriber(events, nil).Handle)

	eng, err := engine.New(engine.Config{Store: st, Bus: bus})
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}

	srv := server.New(server.Config{Store: st, Runner: eng, Bus: bus, Events: events})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return New(Config{BaseURL: ts.URL})
}

func TestClientWorkflowNotFound(t *testing.T) {
	c := newTestBackend(t)

	_, err := c.Workflow(context.Background(), "ghost")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %v", err)
	}
	if apiErr.StatusCode != 404 || apiErr.Code != "NOT_FOUND" {
		t.Errorf("apiErr = %+v", apiErr)
	}
}

// TestClientSaveRoundTrip drives the save reconciler through the HTTP
// client: local placeholder ids go in, canonical rows come back out.
func TestClientSaveRoundTrip(t *testing.T) {
	c := newTestBackend(t)
	ctx := context.Background()

	wf, err := c.CreateWorkflow(ctx, "Summer Campaign", "")
	if err != nil {
		t.Fatalf("CreateWorkflow: %v", err)
	}

	input := adflow.NewNode(core.NodeTextInput, core.Position{X: 0, Y: 0})
	input.Config = map[string]any{"text": "sneakers"}
	output := adflow.NewNode(core.NodeOutput, core.Position{X: 300, Y: 0})
	edge := adflow.Edge{ID: "edge-local-1", Source: input.ID, Target: output.ID}

	rec := persist.NewReconciler(c, nil)
	nodes, edges, err := rec.Save(ctx, wf.ID, []adflow.Node{input, output}, []adflow.Edge{edge})
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	for _, n := range nodes {
		if !persist.IsStableID(n.ID) {
			t.Errorf("node id %q not promoted", n.ID)
		}
	}
	if len(edges) != 1 || !persist.IsStableID(edges[0].ID) {
		t.Fatalf("edges = %+v", edges)
	}

	gotNodes, gotEdges, err := persist.Load(ctx, c, wf.ID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(gotNodes) != 2 || len(gotEdges) != 1 {
		t.Fatalf("loaded %d nodes, %d edges", len(gotNodes), len(gotEdges))
	}
	if gotEdges[0].Source == input.ID {
		t.Error("edge still references the local placeholder id")
	}
}

func TestClientRunLifecycle(t *testing.T) {
	c := newTestBackend(t)
	ctx := context.Background()

	wf, err := c.CreateWorkflow(ctx, "Ad Pipeline", "")
	if err != nil {
		t.Fatalf("CreateWorkflow: %v", err)
	}
	nodes := []command.NodeRow{
		{ID: "11111111-1111-4111-8111-111111111111", WorkflowID: wf.ID,
			Type: "TEXT_INPUT", Name: "Text Input", Config: map[string]any{"text": "sneakers"}},
		{ID: "22222222-2222-4222-8222-222222222222", WorkflowID: wf.ID,
			Type: "OUTPUT", Name: "Output", Config: map[string]any{}},
	}
	edges := []command.EdgeRow{
		{ID: "33333333-3333-4333-8333-333333333333", WorkflowID: wf.ID,
			SourceNodeID: nodes[0].ID, TargetNodeID: nodes[1].ID},
	}
	if err := c.InsertNodes(ctx, nodes); err != nil {
		t.Fatalf("InsertNodes: %v", err)
	}
	if err := c.InsertEdges(ctx, edges); err != nil {
		t.Fatalf("InsertEdges: %v", err)
	}

	start, err := c.Start(ctx, wf.ID)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if start.Status != core.ExecutionRunning {
		t.Errorf("start status = %s", start.Status)
	}

	deadline := time.Now().Add(2 * time.Second)
	var exec core.Execution
	for time.Now().Before(deadline) {
		exec, err = c.Execution(ctx, start.ExecutionID)
		if err == nil && exec.Status.IsTerminal() {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if exec.Status != core.ExecutionCompleted {
		t.Fatalf("final status = %s", exec.Status)
	}

	recs, err := c.NodeExecutions(ctx, start.ExecutionID)
	if err != nil {
		t.Fatalf("NodeExecutions: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("got %d node records", len(recs))
	}
}

// TestEventBusStreamsRun subscribes after the run finished: the stored
// events replay and the stream closes at the terminal event.
func TestEventBusStreamsRun(t *testing.T) {
	c := newTestBackend(t)
	ctx := context.Background()

	wf, err := c.CreateWorkflow(ctx, "Ad Pipeline", "")
	if err != nil {
		t.Fatalf("CreateWorkflow: %v", err)
	}
	if err := c.InsertNodes(ctx, []command.NodeRow{
		{ID: "n1", WorkflowID: wf.ID, Type: "OUTPUT", Name: "Output", Config: map[string]any{}},
	}); err != nil {
		t.Fatalf("InsertNodes: %v", err)
	}

	start, err := c.Start(ctx, wf.ID)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		exec, err := c.Execution(ctx, start.ExecutionID)
		if err == nil && exec.Status.IsTerminal() {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	bus := NewEventBus(c, nil)
	defer bus.Close()
	sub := bus.Subscribe(start.ExecutionID)
	defer sub.Close()

	var sawTerminal bool
	timeout := time.After(2 * time.Second)
loop:
	for {
		select {
		case event, ok := <-sub.Events():
			if !ok {
				break loop
			}
			if event.Kind == notify.KindExecutionUpdated && event.Execution != nil &&
				event.Execution.Status.IsTerminal() {
				sawTerminal = true
			}
		case <-timeout:
			t.Fatal("stream did not close after terminal event")
		}
	}
	if !sawTerminal {
		t.Error("terminal execution event not delivered")
	}
}
