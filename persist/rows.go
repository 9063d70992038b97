// Package persist translates the editable graph to and from its durable row
// representation and implements the full-replace save protocol, promoting
// locally-generated placeholder ids to canonical UUIDs on the way.
package persist

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/adflow-labs/adflow"
	"github.com/adflow-labs/adflow/command"
	"github.com/adflow-labs/adflow/core"
)

// IsStableID reports whether id is in the canonical form the store accepts.
// Anything else is a local placeholder that must be promoted on save.
func IsStableID(id string) bool {
	if len(id) != 36 {
		return false
	}
	_, err := uuid.Parse(id)
	return err == nil
}

func nodeToRow(n adflow.Node, workflowID string) command.NodeRow {
	name := n.Label
	if name == "" {
		name = "Untitled Node"
	}
	config := n.Config
	if config == nil {
		config = map[string]any{}
	}
	return command.NodeRow{
		ID:            n.ID,
		WorkflowID:    workflowID,
		Type:          string(n.Type),
		Name:          name,
		Config:        config,
		PositionX:     n.Position.X,
		PositionY:     n.Position.Y,
		HasBreakpoint: n.HasBreakpoint,
	}
}

func rowToNode(row command.NodeRow) adflow.Node {
	return adflow.Node{
		ID:            row.ID,
		Type:          core.ParseNodeType(row.Type),
		Label:         row.Name,
		Config:        row.Config,
		Position:      core.Position{X: row.PositionX, Y: row.PositionY},
		HasBreakpoint: row.HasBreakpoint,
	}
}

func edgeToRow(e adflow.Edge, workflowID string) command.EdgeRow {
	return command.EdgeRow{
		ID:           e.ID,
		WorkflowID:   workflowID,
		SourceNodeID: e.Source,
		TargetNodeID: e.Target,
		SourceHandle: e.SourceHandle,
		TargetHandle: e.TargetHandle,
	}
}

func rowToEdge(row command.EdgeRow) adflow.Edge {
	return adflow.Edge{
		ID:           row.ID,
		Source:       row.SourceNodeID,
		Target:       row.TargetNodeID,
		SourceHandle: row.SourceHandle,
		TargetHandle: row.TargetHandle,
	}
}

// Load fetches the persisted graph for a workflow and converts it to canvas
// form.
func Load(ctx context.Context, reader command.GraphReader, workflowID string) ([]adflow.Node, []adflow.Edge, error) {
	nodeRows, edgeRows, err := reader.WorkflowGraph(ctx, workflowID)
	if err != nil {
		return nil, nil, fmt.Errorf("persist: load workflow %s: %w", workflowID, err)
	}

	nodes := make([]adflow.Node, 0, len(nodeRows))
	for _, row := range nodeRows {
		nodes = append(nodes, rowToNode(row))
	}
	edges := make([]adflow.Edge, 0, len(edgeRows))
	for _, row := range edgeRows {
		edges = append(edges, rowToEdge(row))
	}
	return nodes, edges, nil
}
