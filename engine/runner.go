package engine

import (
	"context"

	"github.com/adflow-labs/adflow/command"
)

// NodeResult is what running one node produced.
type NodeResult struct {
	// Output becomes the node's OutputData and feeds its successors' inputs.
	Output map[string]any

	// Cost is this node's contribution to the run's total cost.
	Cost float64
}

// NodeRunner executes a single node. Implementations that call out to
// generation models plug in here; the engine itself never talks to a model.
type NodeRunner interface {
	RunNode(ctx context.Context, node command.NodeRow, inputs map[string]any) (NodeResult, error)
}

// Passthrough is the default NodeRunner: it merges the node's config over its
// inputs and reports zero cost. Enough to exercise the run lifecycle without
// any model behind it.
type Passthrough struct{}

// RunNode implements NodeRunner.
func (Passthrough) RunNode(ctx context.Context, node command.NodeRow, inputs map[string]any) (NodeResult, error) {
	if err := ctx.Err(); err != nil {
		return NodeResult{}, err
	}
	output := make(map[string]any, len(inputs)+len(node.Config))
	for k, v := range inputs {
		output[k] = v
	}
	for k, v := range node.Config {
		output[k] = v
	}
	return NodeResult{Output: output}, nil
}

var _ NodeRunner = Passthrough{}
