// Package engine runs workflow graphs on the server side. Nodes execute in
// topological order; a node flagged with a breakpoint pauses the run before
// it executes, and from the first pause onward the run advances one node per
// step command. Row changes are published on the notify bus as they happen.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/adflow-labs/adflow/command"
	"github.com/adflow-labs/adflow/core"
	"github.com/adflow-labs/adflow/notify"
)

// Engine errors.
var (
	ErrEmptyGraph = errors.New("engine: workflow graph is empty")
	ErrCycle      = errors.New("engine: workflow graph contains a cycle")
	ErrNotRunning = errors.New("engine: execution is not running")
	ErrNotPaused  = errors.New("engine: execution is not paused")
)

// stepWaitTimeout bounds how long a step command waits for the drive loop to
// reach its pause point before concluding the run is not paused.
const stepWaitTimeout = 2 * time.Second

// Store is the persistence surface the engine needs.
// *store.SQLiteStore satisfies it.
type Store interface {
	command.GraphReader
	CreateExecution(ctx context.Context, exec core.Execution) error
	UpdateExecution(ctx context.Context, exec core.Execution) error
	UpsertNodeExecution(ctx context.Context, rec core.NodeExecution) error
	NodeExecutions(ctx context.Context, executionID string) ([]core.NodeExecution, error)
}

// Config configures an Engine.
type Config struct {
	// Store persists execution and node-execution rows. Required.
	Store Store

	// Bus receives a change event for every row the engine writes. Required.
	Bus notify.Bus

	// Runner executes individual nodes. Defaults to a Passthrough runner.
	Runner NodeRunner

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Engine implements command.Runner against the local store: runs start in a
// background goroutine and report progress through the store and the bus.
type Engine struct {
	store  Store
	bus    notify.Bus
	runner NodeRunner
	seq    *notify.Sequencer
	logger *slog.Logger

	mu   sync.Mutex
	runs map[string]*run
}

// New creates an Engine.
func New(cfg Config) (*Engine, error) {
	if cfg.Store == nil {
		return nil, errors.New("engine: config requires a store")
	}
	if cfg.Bus == nil {
		return nil, errors.New("engine: config requires a bus")
	}
	runner := cfg.Runner
	if runner == nil {
		runner = Passthrough{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:  cfg.Store,
		bus:    cfg.Bus,
		runner: runner,
		seq:    notify.NewSequencer(),
		logger: logger,
	}, nil
}

type stepRequest struct {
	reply chan command.StepResult
}

// run is the in-memory state of one live execution.
type run struct {
	execID     string
	workflowID string
	startedAt  time.Time
	nodes      []command.NodeRow
	preds      map[string][]string

	ctx    context.Context
	cancel context.CancelFunc
	stepCh chan stepRequest

	mu        sync.Mutex
	totalCost float64
	outputs   map[string]map[string]any
}

// Start loads the workflow graph, creates an execution record, and begins
// running it in the background. The returned status is RUNNING; a breakpoint
// on the first node will surface as a PAUSED push event almost immediately.
func (e *Engine) Start(ctx context.Context, workflowID string) (command.StartResult, error) {
	nodes, edges, err := e.store.WorkflowGraph(ctx, workflowID)
	if err != nil {
		return command.StartResult{}, fmt.Errorf("engine: load graph: %w", err)
	}
	if len(nodes) == 0 {
		return command.StartResult{}, ErrEmptyGraph
	}

	order, preds, err := topoSort(nodes, edges)
	if err != nil {
		return command.StartResult{}, err
	}

	exec := core.Execution{
		ID:         uuid.NewString(),
		WorkflowID: workflowID,
		Status:     core.ExecutionRunning,
		StartedAt:  time.Now(),
	}
	if err := e.store.CreateExecution(ctx, exec); err != nil {
		return command.StartResult{}, fmt.Errorf("engine: create execution: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	r := &run{
		execID:     exec.ID,
		workflowID: workflowID,
		startedAt:  exec.StartedAt,
		nodes:      order,
		preds:      preds,
		ctx:        runCtx,
		cancel:     cancel,
		stepCh:     make(chan stepRequest),
		outputs:    make(map[string]map[string]any),
	}

	e.mu.Lock()
	if e.runs == nil {
		e.runs = make(map[string]*run)
	}
	e.runs[exec.ID] = r
	e.mu.Unlock()

	e.publishExecution(exec)
	e.logger.Info("execution started",
		"execution_id", exec.ID,
		"workflow_id", workflowID,
		"nodes", len(order),
	)

	go e.drive(r)

	return command.StartResult{ExecutionID: exec.ID, Status: core.ExecutionRunning}, nil
}

// Step advances a paused execution by exactly one node. It blocks until that
// node has finished and returns the resulting status: PAUSED before the next
// node, COMPLETED after the last one, or FAILED.
func (e *Engine) Step(ctx context.Context, executionID string) (command.StepResult, error) {
	r := e.lookup(executionID)
	if r == nil {
		return command.StepResult{}, fmt.Errorf("%w: %s", ErrNotRunning, executionID)
	}

	// The drive loop only receives on stepCh while parked at a pause point,
	// so the handoff itself is the paused check. The timeout covers the gap
	// between a previous step's reply and the next pause record.
	timer := time.NewTimer(stepWaitTimeout)
	defer timer.Stop()

	req := stepRequest{reply: make(chan command.StepResult, 1)}
	select {
	case r.stepCh <- req:
	case <-r.ctx.Done():
		return command.StepResult{}, fmt.Errorf("%w: %s", ErrNotRunning, executionID)
	case <-ctx.Done():
		return command.StepResult{}, ctx.Err()
	case <-timer.C:
		return command.StepResult{}, fmt.Errorf("%w: %s", ErrNotPaused, executionID)
	}

	select {
	case res := <-req.reply:
		return res, nil
	case <-ctx.Done():
		return command.StepResult{}, ctx.Err()
	}
}

// Cancel requests the run stop. The drive loop notices between nodes (or
// while waiting at a breakpoint) and records the CANCELLED status; Cancel
// itself returns as soon as the request is registered.
func (e *Engine) Cancel(ctx context.Context, executionID string) error {
	r := e.lookup(executionID)
	if r == nil {
		return fmt.Errorf("%w: %s", ErrNotRunning, executionID)
	}
	r.cancel()
	return nil
}

// NodeExecutions returns the persisted per-node records for a run.
func (e *Engine) NodeExecutions(ctx context.Context, executionID string) ([]core.NodeExecution, error) {
	return e.store.NodeExecutions(ctx, executionID)
}

func (e *Engine) lookup(executionID string) *run {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.runs[executionID]
}

func (e *Engine) remove(executionID string) {
	e.mu.Lock()
	delete(e.runs, executionID)
	e.mu.Unlock()
	e.seq.Forget(executionID)
}

// drive walks the topological order. Once the run has paused at a breakpoint
// it stays in step mode: every subsequent node waits for a step command.
func (e *Engine) drive(r *run) {
	defer func() {
		r.cancel()
		e.remove(r.execID)
	}()

	stepping := false
	for i, node := range r.nodes {
		if r.ctx.Err() != nil {
			e.finish(r, core.ExecutionCancelled, "")
			return
		}

		var req *stepRequest
		if node.HasBreakpoint || stepping {
			stepping = true
			req = e.awaitStep(r, node)
			if req == nil {
				e.finish(r, core.ExecutionCancelled, "")
				return
			}
		}

		err := e.runNode(r, node)
		if err != nil {
			status, errMsg := core.ExecutionFailed, err.Error()
			if r.ctx.Err() != nil {
				status, errMsg = core.ExecutionCancelled, ""
			}
			e.finish(r, status, errMsg)
			if req != nil {
				req.reply <- command.StepResult{
					Status:        status,
					CurrentNodeID: node.ID,
					ErrorMessage:  errMsg,
				}
			}
			return
		}

		if req != nil {
			if i+1 < len(r.nodes) {
				req.reply <- command.StepResult{
					Status:        core.ExecutionPaused,
					CurrentNodeID: r.nodes[i+1].ID,
				}
			} else {
				req.reply <- command.StepResult{Status: core.ExecutionCompleted}
			}
		}
	}
	e.finish(r, core.ExecutionCompleted, "")
}

// awaitStep records the PAUSED status for the run and the upcoming node, then
// blocks until a step command arrives. Returns nil if the run is cancelled
// while waiting.
func (e *Engine) awaitStep(r *run, node command.NodeRow) *stepRequest {
	e.recordNode(r, core.NodeExecution{
		ExecutionID: r.execID,
		NodeID:      node.ID,
		Status:      core.NodePaused,
	})
	e.updateExecution(r, core.ExecutionPaused, "")

	select {
	case req := <-r.stepCh:
		e.updateExecution(r, core.ExecutionRunning, "")
		return &req
	case <-r.ctx.Done():
		return nil
	}
}

// runNode executes one node: RUNNING record, runner call, COMPLETED or FAILED
// record with the output or error.
func (e *Engine) runNode(r *run, node command.NodeRow) error {
	started := time.Now()
	e.recordNode(r, core.NodeExecution{
		ExecutionID: r.execID,
		NodeID:      node.ID,
		Status:      core.NodeRunning,
		StartedAt:   &started,
	})

	inputs := r.gatherInputs(node.ID)
	result, err := e.runner.RunNode(r.ctx, node, inputs)
	finished := time.Now()

	if err != nil {
		e.recordNode(r, core.NodeExecution{
			ExecutionID:  r.execID,
			NodeID:       node.ID,
			Status:       core.NodeFailed,
			InputData:    inputs,
			ErrorMessage: err.Error(),
			StartedAt:    &started,
			FinishedAt:   &finished,
		})
		return fmt.Errorf("node %s: %w", node.ID, err)
	}

	r.mu.Lock()
	r.outputs[node.ID] = result.Output
	r.totalCost += result.Cost
	r.mu.Unlock()

	e.recordNode(r, core.NodeExecution{
		ExecutionID: r.execID,
		NodeID:      node.ID,
		Status:      core.NodeCompleted,
		InputData:   inputs,
		OutputData:  result.Output,
		StartedAt:   &started,
		FinishedAt:  &finished,
	})
	return nil
}

// gatherInputs merges the outputs of a node's predecessors, in predecessor
// order, later predecessors winning on key collisions.
func (r *run) gatherInputs(nodeID string) map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()

	inputs := make(map[string]any)
	for _, pred := range r.preds[nodeID] {
		for k, v := range r.outputs[pred] {
			inputs[k] = v
		}
	}
	return inputs
}

// finish writes the terminal execution record and publishes it.
func (e *Engine) finish(r *run, status core.ExecutionStatus, errMsg string) {
	now := time.Now()
	r.mu.Lock()
	totalCost := r.totalCost
	r.mu.Unlock()

	exec := core.Execution{
		ID:           r.execID,
		WorkflowID:   r.workflowID,
		Status:       status,
		ErrorMessage: errMsg,
		TotalCost:    totalCost,
		StartedAt:    r.startedAt,
		FinishedAt:   &now,
	}
	// Fresh context: the run context is already cancelled on the cancel path
	// and the terminal record must land in the store regardless.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.store.UpdateExecution(ctx, exec); err != nil {
		e.logger.Error("record execution finish", "execution_id", r.execID, "error", err)
	}
	e.publishExecution(exec)
	e.logger.Info("execution finished",
		"execution_id", r.execID,
		"status", status,
		"total_cost", totalCost,
	)
}

// updateExecution persists a non-terminal status change and publishes it.
// Every update carries the full record, including the start time and the cost
// accumulated so far, so intermediate writes never regress those columns.
func (e *Engine) updateExecution(r *run, status core.ExecutionStatus, errMsg string) {
	r.mu.Lock()
	totalCost := r.totalCost
	r.mu.Unlock()

	exec := core.Execution{
		ID:           r.execID,
		WorkflowID:   r.workflowID,
		Status:       status,
		ErrorMessage: errMsg,
		TotalCost:    totalCost,
		StartedAt:    r.startedAt,
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.store.UpdateExecution(ctx, exec); err != nil {
		e.logger.Error("record execution update", "execution_id", r.execID, "error", err)
	}
	e.publishExecution(exec)
}

func (e *Engine) recordNode(r *run, rec core.NodeExecution) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.store.UpsertNodeExecution(ctx, rec); err != nil {
		e.logger.Error("record node execution",
			"execution_id", rec.ExecutionID,
			"node_id", rec.NodeID,
			"error", err,
		)
	}
	event := notify.NodeExecutionUpdated(rec)
	event.Seq = e.seq.Next(rec.ExecutionID)
	e.bus.Publish(event)
}

func (e *Engine) publishExecution(exec core.Execution) {
	event := notify.ExecutionUpdated(exec)
	event.Seq = e.seq.Next(exec.ID)
	e.bus.Publish(event)
}

// Compile-time interface check.
var _ command.Runner = (*Engine)(nil)
