package adflow

import "github.com/adflow-labs/adflow/core"

// ChangeKind identifies a structural delta produced by canvas interaction.
type ChangeKind string

const (
	// ChangePosition moves a node to an absolute canvas position.
	ChangePosition ChangeKind = "position"

	// ChangeSelect updates the selection flag on a node or edge.
	ChangeSelect ChangeKind = "select"

	// ChangeRemove removes a node or edge.
	ChangeRemove ChangeKind = "remove"
)

// NodeChange is one structural delta against a node. Changes carry absolute
// values (not offsets), so re-applying the same batch is a no-op.
type NodeChange struct {
	Kind     ChangeKind
	NodeID   string
	Position core.Position // for ChangePosition
	Selected bool          // for ChangeSelect
}

// EdgeChange is one structural delta against an edge.
type EdgeChange struct {
	Kind     ChangeKind
	EdgeID   string
	Selected bool // for ChangeSelect
}

// ApplyNodeChanges applies a batch of node deltas. Unaffected nodes keep
// their array positions; removals preserve the relative order of survivors.
// Node removal does not cascade to edges here — interaction layers emit the
// matching edge removals themselves; DeleteNode is the cascading operation.
func (c *Canvas) ApplyNodeChanges(changes []NodeChange) {
	for _, ch := range changes {
		switch ch.Kind {
		case ChangePosition:
			for i := range c.nodes {
				if c.nodes[i].ID == ch.NodeID {
					c.nodes[i].Position = ch.Position
					break
				}
			}
		case ChangeSelect:
			for i := range c.nodes {
				if c.nodes[i].ID == ch.NodeID {
					c.nodes[i].Selected = ch.Selected
					break
				}
			}
			if ch.Selected {
				c.selectedNodeID = ch.NodeID
			} else if c.selectedNodeID == ch.NodeID {
				c.selectedNodeID = ""
			}
		case ChangeRemove:
			nodes := c.nodes[:0]
			for _, n := range c.nodes {
				if n.ID != ch.NodeID {
					nodes = append(nodes, n)
				}
			}
			c.nodes = nodes
			if c.selectedNodeID == ch.NodeID {
				c.selectedNodeID = ""
			}
		}
	}
}

// ApplyEdgeChanges applies a batch of edge deltas with the same idempotence
// and order-stability guarantees as ApplyNodeChanges.
func (c *Canvas) ApplyEdgeChanges(changes []EdgeChange) {
	for _, ch := range changes {
		switch ch.Kind {
		case ChangeSelect:
			for i := range c.edges {
				if c.edges[i].ID == ch.EdgeID {
					c.edges[i].Selected = ch.Selected
					break
				}
			}
		case ChangeRemove:
			edges := c.edges[:0]
			for _, e := range c.edges {
				if e.ID != ch.EdgeID {
					edges = append(edges, e)
				}
			}
			c.edges = edges
		}
	}
}
