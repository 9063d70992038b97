package engine

import (
	"errors"
	"testing"

	"github.com/adflow-labs/adflow/command"
)

func node(id string) command.NodeRow {
	return command.NodeRow{ID: id, WorkflowID: "wf1", Type: "PROMPT", Name: id}
}

func edge(id, source, target string) command.EdgeRow {
	return command.EdgeRow{ID: id, WorkflowID: "wf1", SourceNodeID: source, TargetNodeID: target}
}

func TestTopoSortLinear(t *testing.T) {
	nodes := []command.NodeRow{node("c"), node("a"), node("b")}
	edges := []command.EdgeRow{edge("e1", "a", "b"), edge("e2", "b", "c")}

	order, preds, err := topoSort(nodes, edges)
	if err != nil {
		t.Fatalf("topoSort: %v", err)
	}
	got := []string{order[0].ID, order[1].ID, order[2].ID}
	want := []string{"a", "b", "c"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
	if len(preds["b"]) != 1 || preds["b"][0] != "a" {
		t.Errorf("preds[b] = %v", preds["b"])
	}
}

func TestTopoSortDiamond(t *testing.T) {
	nodes := []command.NodeRow{node("d"), node("b"), node("c"), node("a")}
	edges := []command.EdgeRow{
		edge("e1", "a", "b"),
		edge("e2", "a", "c"),
		edge("e3", "b", "d"),
		edge("e4", "c", "d"),
	}

	order, preds, err := topoSort(nodes, edges)
	if err != nil {
		t.Fatalf("topoSort: %v", err)
	}
	pos := make(map[string]int)
	for i, n := range order {
		pos[n.ID] = i
	}
	if pos["a"] != 0 || pos["d"] != 3 {
		t.Errorf("unexpected order: %v", pos)
	}
	if len(preds["d"]) != 2 {
		t.Errorf("preds[d] = %v", preds["d"])
	}
}

func TestTopoSortCycle(t *testing.T) {
	nodes := []command.NodeRow{node("a"), node("b")}
	edges := []command.EdgeRow{edge("e1", "a", "b"), edge("e2", "b", "a")}

	if _, _, err := topoSort(nodes, edges); !errors.Is(err, ErrCycle) {
		t.Fatalf("expected ErrCycle, got %v", err)
	}
}

func TestTopoSortUnknownEndpoint(t *testing.T) {
	nodes := []command.NodeRow{node("a")}
	edges := []command.EdgeRow{edge("e1", "a", "ghost")}

	if _, _, err := topoSort(nodes, edges); err == nil {
		t.Fatal("expected error for unknown edge target")
	}
}
