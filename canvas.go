package adflow

import (
	"github.com/google/uuid"

	"github.com/adflow-labs/adflow/core"
)

// Canvas is the editable in-memory graph for one workflow: the nodes and
// edges shown on screen plus the current selection.
//
// Canvas is not safe for concurrent use. It is owned by the interaction
// layer and must be confined to a single goroutine; the persistence
// reconciler and the execution state machine never mutate it directly.
type Canvas struct {
	nodes          []Node
	edges          []Edge
	selectedNodeID string
}

// NewCanvas creates an empty canvas.
func NewCanvas() *Canvas {
	return &Canvas{}
}

// Nodes returns a copy of the node list in canvas order. Config maps are
// cloned too, so mutating a returned node never reaches back into the canvas.
func (c *Canvas) Nodes() []Node {
	out := make([]Node, len(c.nodes))
	for i, n := range c.nodes {
		out[i] = n.Clone()
	}
	return out
}

// Edges returns a copy of the edge list.
func (c *Canvas) Edges() []Edge {
	out := make([]Edge, len(c.edges))
	copy(out, c.edges)
	return out
}

// Node retrieves a copy of a node by id.
func (c *Canvas) Node(id string) (Node, bool) {
	for _, n := range c.nodes {
		if n.ID == id {
			return n.Clone(), true
		}
	}
	return Node{}, false
}

// SetNodes replaces the full node list. Used after loading a workflow or
// after a save round-trip promotes placeholder ids.
func (c *Canvas) SetNodes(nodes []Node) {
	c.nodes = make([]Node, len(nodes))
	copy(c.nodes, nodes)
}

// SetEdges replaces the full edge list.
func (c *Canvas) SetEdges(edges []Edge) {
	c.edges = make([]Edge, len(edges))
	copy(c.edges, edges)
}

// AddNode appends a node to the canvas.
func (c *Canvas) AddNode(n Node) {
	c.nodes = append(c.nodes, n)
}

// Connect appends a new edge for the given connection with a freshly
// generated id. The connection is silently dropped when either endpoint is
// missing from the canvas or the edge already exists.
func (c *Canvas) Connect(conn Connection) {
	if _, ok := c.Node(conn.Source); !ok {
		return
	}
	if _, ok := c.Node(conn.Target); !ok {
		return
	}
	for _, e := range c.edges {
		if e.Source == conn.Source && e.Target == conn.Target &&
			e.SourceHandle == conn.SourceHandle && e.TargetHandle == conn.TargetHandle {
			return
		}
	}
	c.edges = append(c.edges, Edge{
		ID:           uuid.NewString(),
		Source:       conn.Source,
		Target:       conn.Target,
		SourceHandle: conn.SourceHandle,
		TargetHandle: conn.TargetHandle,
	})
}

// NodeUpdate is a partial node mutation. Nil fields are left untouched;
// Config entries are shallow-merged over the node's existing config.
type NodeUpdate struct {
	Label         *string
	Config        map[string]any
	HasBreakpoint *bool
}

// UpdateNode applies a partial update to the node with the given id.
// No-ops when the id is absent.
func (c *Canvas) UpdateNode(id string, update NodeUpdate) {
	for i := range c.nodes {
		if c.nodes[i].ID != id {
			continue
		}
		if update.Label != nil {
			c.nodes[i].Label = *update.Label
		}
		if update.HasBreakpoint != nil {
			c.nodes[i].HasBreakpoint = *update.HasBreakpoint
		}
		if len(update.Config) > 0 {
			if c.nodes[i].Config == nil {
				c.nodes[i].Config = map[string]any{}
			}
			// Shallow merge: each incoming top-level key replaces the old
			// value wholesale, nested maps included.
			for k, v := range update.Config {
				c.nodes[i].Config[k] = v
			}
		}
		return
	}
}

// ToggleBreakpoint flips the breakpoint flag on a node.
// No-ops when the id is absent.
func (c *Canvas) ToggleBreakpoint(id string) {
	for i := range c.nodes {
		if c.nodes[i].ID == id {
			c.nodes[i].HasBreakpoint = !c.nodes[i].HasBreakpoint
			return
		}
	}
}

// DeleteNode removes the node and every edge where it is source or target.
func (c *Canvas) DeleteNode(id string) {
	nodes := c.nodes[:0]
	for _, n := range c.nodes {
		if n.ID != id {
			nodes = append(nodes, n)
		}
	}
	c.nodes = nodes

	edges := c.edges[:0]
	for _, e := range c.edges {
		if e.Source != id && e.Target != id {
			edges = append(edges, e)
		}
	}
	c.edges = edges

	if c.selectedNodeID == id {
		c.selectedNodeID = ""
	}
}

// SelectedNodeID returns the id of the currently selected node, or "".
func (c *Canvas) SelectedNodeID() string {
	return c.selectedNodeID
}

// SetSelectedNodeID records the current selection.
func (c *Canvas) SetSelectedNodeID(id string) {
	c.selectedNodeID = id
}

// Annotate joins the canvas nodes with per-node execution records for
// rendering. Nodes without a record carry an empty status.
func (c *Canvas) Annotate(execs map[string]core.NodeExecution) []AnnotatedNode {
	out := make([]AnnotatedNode, 0, len(c.nodes))
	for _, n := range c.nodes {
		an := AnnotatedNode{Node: n}
		if rec, ok := execs[n.ID]; ok {
			an.Status = rec.Status
			an.ExecutionErr = rec.ErrorMessage
			an.ExecutionData = rec.OutputData
		}
		out = append(out, an)
	}
	return out
}
