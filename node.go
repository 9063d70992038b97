// Package adflow provides the in-memory workflow graph model for the AdFlow
// pipeline editor: typed nodes, directed edges, and the mutation operations a
// canvas performs on them. The package is pure data manipulation; persistence
// and execution live in the persist and exec packages.
package adflow

import (
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/adflow-labs/adflow/core"
)

// localIDCounter disambiguates placeholder ids minted in the same instant.
var localIDCounter atomic.Uint64

// NewLocalID returns a locally-generated placeholder id for a freshly created
// node. Placeholder ids are deliberately not UUIDs: the persistence
// reconciler recognizes them on save and promotes them to stable ids.
func NewLocalID(t core.NodeType) string {
	n := localIDCounter.Add(1)
	return strings.ToLower(string(t)) + "-" +
		strconv.FormatInt(time.Now().UnixMilli(), 10) + "-" +
		strconv.FormatUint(n, 10)
}

// Node is one unit of the pipeline on the canvas.
//
// Status, execution error, and execution output are not part of the node:
// they are overlaid at render time from the execution state machine's
// per-node records (see Annotate).
type Node struct {
	// ID is a stable identifier once persisted; before the first save it is
	// a locally-generated placeholder from NewLocalID.
	ID string

	// Type is one of the closed set of node types.
	Type core.NodeType

	// Label is the user-editable display name.
	Label string

	// Config is the type-specific configuration. Its schema varies per Type
	// and is opaque to the graph core.
	Config map[string]any

	// Position is the node's location on the canvas.
	Position core.Position

	// HasBreakpoint requests the backend pause a run when it reaches this node.
	HasBreakpoint bool

	// Selected mirrors the canvas selection state.
	Selected bool
}

// NewNode creates a node of the given type at a canvas position, with a
// placeholder id and the type's default label.
func NewNode(t core.NodeType, pos core.Position) Node {
	return Node{
		ID:       NewLocalID(t),
		Type:     t,
		Label:    t.DefaultLabel(),
		Config:   map[string]any{},
		Position: pos,
	}
}

// Clone returns a deep copy of the node (the config map is copied).
func (n Node) Clone() Node {
	out := n
	if n.Config != nil {
		out.Config = make(map[string]any, len(n.Config))
		for k, v := range n.Config {
			out.Config[k] = v
		}
	}
	return out
}

// AnnotatedNode is a node joined with its current execution record, produced
// for rendering. The execution fields are nil/empty when the node has not
// run in the current execution.
type AnnotatedNode struct {
	Node
	Status        core.NodeExecutionStatus
	ExecutionErr  string
	ExecutionData map[string]any
}
