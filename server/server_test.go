package server

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/adflow-labs/adflow/command"
	"github.com/adflow-labs/adflow/core"
	"github.com/adflow-labs/adflow/engine"
	"github.com/adflow-labs/adflow/notify"
	"github.com/adflow-labs/adflow/store"
)

type testEnv struct {
	server *httptest.Server
	store  *store.SQLiteStore
	bus    *notify.MemBus
	events *notify.SQLiteEventStore
}

func newTestEnv(t *testing.T) *testEnv {
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

	eng, err := engine.New(engine.Config{Store: st, Bus: bus})
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}

	srv := New(Config{Store: st, Runner: eng, Bus: bus, Events: events})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &testEnv{server: ts, store: st, bus: bus, events: events}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, e.server.URL+path, reader)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func TestWorkflowCRUD(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodPost, "/api/workflows", createWorkflowRequest{Name: "Summer Campaign"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d", resp.StatusCode)
	}
	wf := decodeBody[core.Workflow](t, resp)
	if wf.ID == "" || wf.Name != "Summer Campaign" {
		t.Fatalf("created workflow = %+v", wf)
	}

	resp = env.do(t, http.MethodGet, "/api/workflows/"+wf.ID, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = env.do(t, http.MethodGet, "/api/workflows", nil)
	list := decodeBody[[]core.Workflow](t, resp)
	if len(list) != 1 {
		t.Fatalf("list returned %d workflows", len(list))
	}

	resp = env.do(t, http.MethodDelete, "/api/workflows/"+wf.ID, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = env.do(t, http.MethodGet, "/api/workflows/"+wf.ID, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("get after delete status = %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestCreateWorkflowValidation(t *testing.T) {
	env := newTestEnv(t)
	resp := env.do(t, http.MethodPost, "/api/workflows", createWorkflowRequest{})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	resp.Body.Close()
}

// createWorkflowT creates a workflow through the API and returns its id.
func createWorkflowT(t *testing.T, env *testEnv, name string) string {
	t.Helper()
	resp := env.do(t, http.MethodPost, "/api/workflows", createWorkflowRequest{Name: name})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create workflow status = %d", resp.StatusCode)
	}
	return decodeBody[core.Workflow](t, resp).ID
}

func TestGraphReplaceSequence(t *testing.T) {
	env := newTestEnv(t)
	wfID := createWorkflowT(t, env, "Ad Pipeline")

	nodes := []command.NodeRow{
		{ID: "11111111-1111-4111-8111-111111111111", Type: "TEXT_INPUT", Name: "Text Input",
			Config: map[string]any{"text": "sneakers"}},
		{ID: "22222222-2222-4222-8222-222222222222", Type: "OUTPUT", Name: "Output",
			Config: map[string]any{}},
	}
	edges := []command.EdgeRow{
		{ID: "33333333-3333-4333-8333-333333333333",
			SourceNodeID: nodes[0].ID, TargetNodeID: nodes[1].ID},
	}

	// The reconciler's fixed order.
	for _, step := range []struct {
		method, path string
		body         any
	}{
		{http.MethodDelete, "/api/workflows/" + wfID + "/edges", nil},
		{http.MethodDelete, "/api/workflows/" + wfID + "/nodes", nil},
		{http.MethodPost, "/api/workflows/" + wfID + "/nodes", nodes},
		{http.MethodPost, "/api/workflows/" + wfID + "/edges", edges},
		{http.MethodPost, "/api/workflows/" + wfID + "/touch", nil},
	} {
		resp := env.do(t, step.method, step.path, step.body)
		if resp.StatusCode != http.StatusNoContent {
			t.Fatalf("%s %s status = %d", step.method, step.path, resp.StatusCode)
		}
		resp.Body.Close()
	}

	resp := env.do(t, http.MethodGet, "/api/workflows/"+wfID+"/graph", nil)
	graph := decodeBody[graphResponse](t, resp)
	if len(graph.Nodes) != 2 || len(graph.Edges) != 1 {
		t.Fatalf("graph = %d nodes, %d edges", len(graph.Nodes), len(graph.Edges))
	}
	if graph.Nodes[0].WorkflowID != wfID {
		t.Errorf("workflow id not filled in: %q", graph.Nodes[0].WorkflowID)
	}
}

func TestInsertNodesRejectsForeignWorkflow(t *testing.T) {
	env := newTestEnv(t)
	wfID := createWorkflowT(t, env, "Ad Pipeline")

	rows := []command.NodeRow{{ID: "n1", WorkflowID: "other", Type: "OUTPUT", Name: "Output"}}
	resp := env.do(t, http.MethodPost, "/api/workflows/"+wfID+"/nodes", rows)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestExecuteLifecycle(t *testing.T) {
	env := newTestEnv(t)
	wfID := createWorkflowT(t, env, "Ad Pipeline")

	nodes := []command.NodeRow{
		{ID: "n1", Type: "TEXT_INPUT", Name: "Text Input", Config: map[string]any{"text": "sneakers"}},
		{ID: "n2", Type: "OUTPUT", Name: "Output", Config: map[string]any{}},
	}
	edges := []command.EdgeRow{{ID: "e1", SourceNodeID: "n1", TargetNodeID: "n2"}}
	env.do(t, http.MethodPost, "/api/workflows/"+wfID+"/nodes", nodes).Body.Close()
	env.do(t, http.MethodPost, "/api/workflows/"+wfID+"/edges", edges).Body.Close()

	resp := env.do(t, http.MethodPost, "/api/workflows/"+wfID+"/execute", nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("execute status = %d", resp.StatusCode)
	}
	start := decodeBody[command.StartResult](t, resp)
	if start.ExecutionID == "" || start.Status != core.ExecutionRunning {
		t.Fatalf("start result = %+v", start)
	}

	deadline := time.Now().Add(2 * time.Second)
	var exec core.Execution
	for time.Now().Before(deadline) {
		resp = env.do(t, http.MethodGet, "/api/executions/"+start.ExecutionID, nil)
		exec = decodeBody[core.Execution](t, resp)
		if exec.Status.IsTerminal() {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if exec.Status != core.ExecutionCompleted {
		t.Fatalf("final status = %s", exec.Status)
	}

	resp = env.do(t, http.MethodGet, "/api/executions/"+start.ExecutionID+"/node-executions", nil)
	recs := decodeBody[[]core.NodeExecution](t, resp)
	if len(recs) != 2 {
		t.Fatalf("got %d node records", len(recs))
	}
}

func TestExecuteEmptyGraph(t *testing.T) {
	env := newTestEnv(t)
	wfID := createWorkflowT(t, env, "Empty")

	resp := env.do(t, http.MethodPost, "/api/workflows/"+wfID+"/execute", nil)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestCancelUnknownExecution(t *testing.T) {
	env := newTestEnv(t)
	resp := env.do(t, http.MethodPost, "/api/executions/ghost/cancel", nil)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want 409", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestSSEReplaysStoredEventsUntilTerminal(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	running := notify.ExecutionUpdated(core.Execution{ID: "e1", Status: core.ExecutionRunning})
	running.Seq = 1
	nodeDone := notify.NodeExecutionUpdated(core.NodeExecution{ExecutionID: "e1", NodeID: "n1", Status: core.NodeCompleted})
	nodeDone.Seq = 2
	completed := notify.ExecutionUpdated(core.Execution{ID: "e1", Status: core.ExecutionCompleted})
	completed.Seq = 3
	for _, event := range []notify.Event{running, nodeDone, completed} {
		if err := env.events.Append(ctx, event); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	resp := env.do(t, http.MethodGet, "/api/executions/e1/events", nil)
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}

	// The terminal event closes the stream, so the whole body is readable.
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read stream: %v", err)
	}
	text := string(body)
	for seq := 1; seq <= 3; seq++ {
		if !strings.Contains(text, fmt.Sprintf("id: %d\n", seq)) {
			t.Errorf("stream missing seq %d:\n%s", seq, text)
		}
	}
	if !strings.Contains(text, string(notify.KindNodeExecutionUpdated)) {
		t.Errorf("stream missing node event kind:\n%s", text)
	}
}

func TestSSEAfterCursorSkipsReplayed(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	running := notify.ExecutionUpdated(core.Execution{ID: "e1", Status: core.ExecutionRunning})
	running.Seq = 1
	completed := notify.ExecutionUpdated(core.Execution{ID: "e1", Status: core.ExecutionCompleted})
	completed.Seq = 2
	for _, event := range []notify.Event{running, completed} {
		if err := env.events.Append(ctx, event); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	resp := env.do(t, http.MethodGet, "/api/executions/e1/events?after=1", nil)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read stream: %v", err)
	}
	text := string(body)
	if strings.Contains(text, "id: 1\n") {
		t.Errorf("seq 1 should have been skipped:\n%s", text)
	}
	if !strings.Contains(text, "id: 2\n") {
		t.Errorf("seq 2 missing:\n%s", text)
	}
}
