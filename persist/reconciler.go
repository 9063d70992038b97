package persist

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/adflow-labs/adflow"
	"github.com/adflow-labs/adflow/command"
)

// ErrSaveInFlight is returned when a save is requested while another save of
// the same reconciler is still running. Interleaving two delete/insert
// sequences would corrupt the stored graph, so callers must serialize saves.
var ErrSaveInFlight = errors.New("persist: save already in flight")

// Reconciler executes the full-replace save protocol for one workflow graph:
// promote placeholder ids, rewrite edges through the promotion map, then
// delete and reinsert all rows and touch the workflow timestamp.
//
// A save either fully succeeds (the returned graph carries only stable ids)
// or fails with the caller's graph untouched; Save never mutates its inputs.
type Reconciler struct {
	writer command.GraphWriter
	logger *slog.Logger

	mu     sync.Mutex
	saving bool
}

// NewReconciler creates a Reconciler backed by the given graph writer.
func NewReconciler(writer command.GraphWriter, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{writer: writer, logger: logger}
}

// Save persists the graph for workflowID and returns the post-save nodes and
// edges. Every placeholder node id is promoted to a fresh UUID and every
// edge endpoint is rewritten through the promotion map, so a subsequent save
// in the same session never re-maps an already-promoted id. Edges whose
// endpoints are not present in the node set are dropped before persistence.
//
// The underlying writes are issued in a fixed order: delete edges, delete
// nodes, insert nodes, insert edges, touch workflow. The first failing step
// aborts the rest and the error is returned; the caller must not replace its
// local graph in that case.
func (r *Reconciler) Save(ctx context.Context, workflowID string, nodes []adflow.Node, edges []adflow.Edge) ([]adflow.Node, []adflow.Edge, error) {
	r.mu.Lock()
	if r.saving {
		r.mu.Unlock()
		return nil, nil, ErrSaveInFlight
	}
	r.saving = true
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.saving = false
		r.mu.Unlock()
	}()

	idMap := make(map[string]string)
	nodeRows := make([]command.NodeRow, 0, len(nodes))
	present := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		row := nodeToRow(n, workflowID)
		if !IsStableID(row.ID) {
			fresh := uuid.NewString()
			idMap[row.ID] = fresh
			row.ID = fresh
		}
		present[n.ID] = true
		nodeRows = append(nodeRows, row)
	}

	edgeRows := make([]command.EdgeRow, 0, len(edges))
	for _, e := range edges {
		if !present[e.Source] || !present[e.Target] {
			r.logger.Warn("dropping dangling edge",
				"edge_id", e.ID,
				"source", e.Source,
				"target", e.Target,
			)
			continue
		}
		row := edgeToRow(e, workflowID)
		if !IsStableID(row.ID) {
			row.ID = uuid.NewString()
		}
		if mapped, ok := idMap[row.SourceNodeID]; ok {
			row.SourceNodeID = mapped
		}
		if mapped, ok := idMap[row.TargetNodeID]; ok {
			row.TargetNodeID = mapped
		}
		edgeRows = append(edgeRows, row)
	}

	// Delete edges before nodes: foreign keys reference the node table.
	if err := r.writer.DeleteEdges(ctx, workflowID); err != nil {
		return nil, nil, fmt.Errorf("persist: delete edges: %w", err)
	}
	if err := r.writer.DeleteNodes(ctx, workflowID); err != nil {
		return nil, nil, fmt.Errorf("persist: delete nodes: %w", err)
	}
	if err := r.writer.InsertNodes(ctx, nodeRows); err != nil {
		return nil, nil, fmt.Errorf("persist: insert nodes: %w", err)
	}
	if err := r.writer.InsertEdges(ctx, edgeRows); err != nil {
		return nil, nil, fmt.Errorf("persist: insert edges: %w", err)
	}
	if err := r.writer.TouchWorkflow(ctx, workflowID); err != nil {
		return nil, nil, fmt.Errorf("persist: touch workflow: %w", err)
	}

	savedNodes := make([]adflow.Node, 0, len(nodeRows))
	for _, row := range nodeRows {
		savedNodes = append(savedNodes, rowToNode(row))
	}
	savedEdges := make([]adflow.Edge, 0, len(edgeRows))
	for _, row := range edgeRows {
		savedEdges = append(savedEdges, rowToEdge(row))
	}
	return savedNodes, savedEdges, nil
}
