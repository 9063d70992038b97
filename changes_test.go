package adflow

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/adflow-labs/adflow/core"
)

func TestApplyNodeChanges_Idempotent(t *testing.T) {
	build := func() *Canvas {
		c := NewCanvas()
		c.AddNode(testNode("a", core.NodeTextInput))
		c.AddNode(testNode("b", core.NodePrompt))
		c.AddNode(testNode("c", core.NodeOutput))
		return c
	}

	batch := []NodeChange{
		{Kind: ChangePosition, NodeID: "a", Position: core.Position{X: 100, Y: 200}},
		{Kind: ChangeSelect, NodeID: "b", Selected: true},
		{Kind: ChangeRemove, NodeID: "c"},
	}

	once := build()
	once.ApplyNodeChanges(batch)

	twice := build()
	twice.ApplyNodeChanges(batch)
	twice.ApplyNodeChanges(batch)

	if diff := cmp.Diff(once.Nodes(), twice.Nodes()); diff != "" {
		t.Errorf("re-applying the same batch changed the graph (-once +twice):\n%s", diff)
	}
	if once.SelectedNodeID() != twice.SelectedNodeID() {
		t.Errorf("selection diverged: %q vs %q", once.SelectedNodeID(), twice.SelectedNodeID())
	}
}

func TestApplyNodeChanges_OrderStability(t *testing.T) {
	c := NewCanvas()
	for _, id := range []string{"a", "b", "c", "d"} {
		c.AddNode(testNode(id, core.NodeTextInput))
	}

	c.ApplyNodeChanges([]NodeChange{{Kind: ChangeRemove, NodeID: "b"}})

	var order []string
	for _, n := range c.Nodes() {
		order = append(order, n.ID)
	}
	want := []string{"a", "c", "d"}
	if diff := cmp.Diff(want, order); diff != "" {
		t.Errorf("order after remove (-want +got):\n%s", diff)
	}
}

func TestApplyEdgeChanges_Idempotent(t *testing.T) {
	build := func() *Canvas {
		c := NewCanvas()
		c.AddNode(testNode("a", core.NodeTextInput))
		c.AddNode(testNode("b", core.NodePrompt))
		c.AddNode(testNode("c", core.NodeOutput))
		c.SetEdges([]Edge{
			{ID: "e1", Source: "a", Target: "b"},
			{ID: "e2", Source: "b", Target: "c"},
		})
		return c
	}

	batch := []EdgeChange{
		{Kind: ChangeSelect, EdgeID: "e1", Selected: true},
		{Kind: ChangeRemove, EdgeID: "e2"},
	}

	once := build()
	once.ApplyEdgeChanges(batch)

	twice := build()
	twice.ApplyEdgeChanges(batch)
	twice.ApplyEdgeChanges(batch)

	if diff := cmp.Diff(once.Edges(), twice.Edges()); diff != "" {
		t.Errorf("re-applying the same batch changed the edges (-once +twice):\n%s", diff)
	}
}

func TestApplyNodeChanges_SelectClearsOnDeselect(t *testing.T) {
	c := NewCanvas()
	c.AddNode(testNode("a", core.NodeTextInput))

	c.ApplyNodeChanges([]NodeChange{{Kind: ChangeSelect, NodeID: "a", Selected: true}})
	if c.SelectedNodeID() != "a" {
		t.Fatalf("selected = %q, want a", c.SelectedNodeID())
	}
	c.ApplyNodeChanges([]NodeChange{{Kind: ChangeSelect, NodeID: "a", Selected: false}})
	if c.SelectedNodeID() != "" {
		t.Errorf("selected = %q, want empty", c.SelectedNodeID())
	}
}
