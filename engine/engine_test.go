package engine

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/adflow-labs/adflow/command"
	"github.com/adflow-labs/adflow/core"
	"github.com/adflow-labs/adflow/notify"
	"github.com/adflow-labs/adflow/store"
)

func newTestEngine(t *testing.T, runner NodeRunner) (*Engine, *store.SQLiteStore, *notify.MemBus) {
	t.Helper()
	s, err := store.Open(store.Config{DSN: filepath.Join(t.TempDir(), "adflow.db")})
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	bus := notify.NewMemBus(notify.MemBusConfig{})
	t.Cleanup(func() { bus.Close() })

	e, err := New(Config{Store: s, Bus: bus, Runner: runner})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e, s, bus
}

// seedGraph persists a linear TEXT_INPUT -> PROMPT -> OUTPUT graph and
// returns the node ids in order.
func seedGraph(t *testing.T, s *store.SQLiteStore, breakpointOn string) []string {
	t.Helper()
	ctx := context.Background()
	if err := s.CreateWorkflow(ctx, core.Workflow{ID: "wf1", Name: "Ad Pipeline", IsActive: true}); err != nil {
		t.Fatalf("CreateWorkflow: %v", err)
	}

	ids := []string{"n-input", "n-prompt", "n-output"}
	nodes := []command.NodeRow{
		{ID: ids[0], WorkflowID: "wf1", Type: "TEXT_INPUT", Name: "Text Input",
			Config: map[string]any{"text": "running shoes"}},
		{ID: ids[1], WorkflowID: "wf1", Type: "PROMPT", Name: "Prompt",
			Config: map[string]any{"template": "ad copy for {{text}}"}},
		{ID: ids[2], WorkflowID: "wf1", Type: "OUTPUT", Name: "Output",
			Config: map[string]any{}},
	}
	for i := range nodes {
		if nodes[i].ID == breakpointOn {
			nodes[i].HasBreakpoint = true
		}
	}
	if err := s.InsertNodes(ctx, nodes); err != nil {
		t.Fatalf("InsertNodes: %v", err)
	}
	edges := []command.EdgeRow{
		{ID: "e1", WorkflowID: "wf1", SourceNodeID: ids[0], TargetNodeID: ids[1]},
		{ID: "e2", WorkflowID: "wf1", SourceNodeID: ids[1], TargetNodeID: ids[2]},
	}
	if err := s.InsertEdges(ctx, edges); err != nil {
		t.Fatalf("InsertEdges: %v", err)
	}
	return ids
}

func waitForStatus(t *testing.T, s *store.SQLiteStore, execID string, want core.ExecutionStatus) core.Execution {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		exec, err := s.Execution(context.Background(), execID)
		if err == nil && exec.Status == want {
			return exec
		}
		time.Sleep(10 * time.Millisecond)
	}
	exec, err := s.Execution(context.Background(), execID)
	t.Fatalf("execution %s never reached %s (last: %+v, err: %v)", execID, want, exec, err)
	return core.Execution{}
}

func TestEngineRunToCompletion(t *testing.T) {
	e, s, _ := newTestEngine(t, nil)
	ids := seedGraph(t, s, "")

	res, err := e.Start(context.Background(), "wf1")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if res.Status != core.ExecutionRunning {
		t.Errorf("start status = %s", res.Status)
	}

	exec := waitForStatus(t, s, res.ExecutionID, core.ExecutionCompleted)
	if exec.FinishedAt == nil {
		t.Error("finished_at not set")
	}

	recs, err := e.NodeExecutions(context.Background(), res.ExecutionID)
	if err != nil {
		t.Fatalf("NodeExecutions: %v", err)
	}
	if len(recs) != len(ids) {
		t.Fatalf("got %d node records, want %d", len(recs), len(ids))
	}
	for _, rec := range recs {
		if rec.Status != core.NodeCompleted {
			t.Errorf("node %s status = %s", rec.NodeID, rec.Status)
		}
	}
	// Passthrough flows the input node's config downstream.
	for _, rec := range recs {
		if rec.NodeID == ids[2] && rec.OutputData["text"] != "running shoes" {
			t.Errorf("output node data = %v", rec.OutputData)
		}
	}
}

func TestEngineEmptyGraph(t *testing.T) {
	e, s, _ := newTestEngine(t, nil)
	if err := s.CreateWorkflow(context.Background(), core.Workflow{ID: "wf1", Name: "Empty"}); err != nil {
		t.Fatalf("CreateWorkflow: %v", err)
	}

	if _, err := e.Start(context.Background(), "wf1"); !errors.Is(err, ErrEmptyGraph) {
		t.Fatalf("expected ErrEmptyGraph, got %v", err)
	}
}

func TestEngineBreakpointPausesAndSteps(t *testing.T) {
	e, s, _ := newTestEngine(t, nil)
	ids := seedGraph(t, s, "n-prompt")
	ctx := context.Background()

	res, err := e.Start(ctx, "wf1")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitForStatus(t, s, res.ExecutionID, core.ExecutionPaused)

	// The breakpointed node is reported PAUSED before it runs.
	recs, err := e.NodeExecutions(ctx, res.ExecutionID)
	if err != nil {
		t.Fatalf("NodeExecutions: %v", err)
	}
	statuses := make(map[string]core.NodeExecutionStatus)
	for _, rec := range recs {
		statuses[rec.NodeID] = rec.Status
	}
	if statuses[ids[0]] != core.NodeCompleted {
		t.Errorf("node before breakpoint = %s", statuses[ids[0]])
	}
	if statuses[ids[1]] != core.NodePaused {
		t.Errorf("breakpointed node = %s", statuses[ids[1]])
	}

	// First step runs the breakpointed node and pauses before the next.
	stepRes, err := e.Step(ctx, res.ExecutionID)
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	if stepRes.Status != core.ExecutionPaused || stepRes.CurrentNodeID != ids[2] {
		t.Errorf("step result = %+v", stepRes)
	}
	waitForStatus(t, s, res.ExecutionID, core.ExecutionPaused)

	// Second step runs the last node and completes the run.
	stepRes, err = e.Step(ctx, res.ExecutionID)
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	if stepRes.Status != core.ExecutionCompleted {
		t.Errorf("final step result = %+v", stepRes)
	}
	waitForStatus(t, s, res.ExecutionID, core.ExecutionCompleted)
}

func TestEngineStepWhileRunning(t *testing.T) {
	e, s, _ := newTestEngine(t, nil)
	seedGraph(t, s, "")

	res, err := e.Start(context.Background(), "wf1")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitForStatus(t, s, res.ExecutionID, core.ExecutionCompleted)

	if _, err := e.Step(context.Background(), res.ExecutionID); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("expected ErrNotRunning after completion, got %v", err)
	}
}

func TestEngineCancelWhilePaused(t *testing.T) {
	e, s, _ := newTestEngine(t, nil)
	seedGraph(t, s, "n-prompt")
	ctx := context.Background()

	res, err := e.Start(ctx, "wf1")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitForStatus(t, s, res.ExecutionID, core.ExecutionPaused)

	if err := e.Cancel(ctx, res.ExecutionID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	exec := waitForStatus(t, s, res.ExecutionID, core.ExecutionCancelled)
	if exec.FinishedAt == nil {
		t.Error("finished_at not set on cancel")
	}

	if err := e.Cancel(ctx, res.ExecutionID); !errors.Is(err, ErrNotRunning) {
		t.Errorf("expected ErrNotRunning for finished run, got %v", err)
	}
}

type failingRunner struct {
	failNode string
}

func (r failingRunner) RunNode(ctx context.Context, node command.NodeRow, inputs map[string]any) (NodeResult, error) {
	if node.ID == r.failNode {
		return NodeResult{}, errors.New("model rejected prompt")
	}
	return Passthrough{}.RunNode(ctx, node, inputs)
}

func TestEngineNodeFailureFailsRun(t *testing.T) {
	e, s, _ := newTestEngine(t, failingRunner{failNode: "n-prompt"})
	ids := seedGraph(t, s, "")
	ctx := context.Background()

	res, err := e.Start(ctx, "wf1")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	exec := waitForStatus(t, s, res.ExecutionID, core.ExecutionFailed)
	if exec.ErrorMessage == "" {
		t.Error("error message not recorded")
	}

	recs, err := e.NodeExecutions(ctx, res.ExecutionID)
	if err != nil {
		t.Fatalf("NodeExecutions: %v", err)
	}
	for _, rec := range recs {
		if rec.NodeID == ids[1] {
			if rec.Status != core.NodeFailed || rec.ErrorMessage == "" {
				t.Errorf("failed node record = %+v", rec)
			}
		}
		if rec.NodeID == ids[2] {
			t.Error("node after failure should not have run")
		}
	}
}

type costingRunner struct{}

func (costingRunner) RunNode(ctx context.Context, node command.NodeRow, inputs map[string]any) (NodeResult, error) {
	res, err := Passthrough{}.RunNode(ctx, node, inputs)
	res.Cost = 0.25
	return res, err
}

func TestEngineUpdatesCarryStartAndCost(t *testing.T) {
	e, s, bus := newTestEngine(t, costingRunner{})
	seedGraph(t, s, "n-output")
	ctx := context.Background()

	sub := bus.SubscribeAll()
	defer sub.Close()

	res, err := e.Start(ctx, "wf1")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Pausing must not regress what the run has already accumulated: two
	// nodes completed at 0.25 each, and the original start time.
	paused := waitForStatus(t, s, res.ExecutionID, core.ExecutionPaused)
	if paused.StartedAt.IsZero() {
		t.Error("paused row lost started_at")
	}
	if paused.TotalCost != 0.5 {
		t.Errorf("paused row total_cost = %v, want 0.5", paused.TotalCost)
	}

	if _, err := e.Step(ctx, res.ExecutionID); err != nil {
		t.Fatalf("Step: %v", err)
	}
	waitForStatus(t, s, res.ExecutionID, core.ExecutionCompleted)

	// Every published execution update carries the start time; the terminal
	// one carries the final cost.
	timeout := time.After(2 * time.Second)
	for {
		select {
		case event := <-sub.Events():
			if event.Kind != notify.KindExecutionUpdated {
				continue
			}
			if event.Execution.StartedAt.IsZero() {
				t.Errorf("%s event missing started_at", event.Execution.Status)
			}
			if event.Execution.Status == core.ExecutionCompleted {
				if event.Execution.TotalCost != 0.75 {
					t.Errorf("terminal event total_cost = %v, want 0.75", event.Execution.TotalCost)
				}
				return
			}
		case <-timeout:
			t.Fatal("terminal execution event never arrived")
		}
	}
}

func TestEnginePublishesSequencedEvents(t *testing.T) {
	e, s, bus := newTestEngine(t, nil)
	seedGraph(t, s, "")

	sub := bus.SubscribeAll()
	defer sub.Close()

	res, err := e.Start(context.Background(), "wf1")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitForStatus(t, s, res.ExecutionID, core.ExecutionCompleted)

	// RUNNING + 3 nodes x (RUNNING, COMPLETED) + COMPLETED = 8 events.
	var seqs []uint64
	timeout := time.After(2 * time.Second)
	for len(seqs) < 8 {
		select {
		case event := <-sub.Events():
			if event.ExecutionID != res.ExecutionID {
				continue
			}
			seqs = append(seqs, event.Seq)
		case <-timeout:
			t.Fatalf("received %d events, want 8", len(seqs))
		}
	}
	for i, seq := range seqs {
		if seq != uint64(i+1) {
			t.Fatalf("seqs = %v, want 1..8", seqs)
		}
	}
}
