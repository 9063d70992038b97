package exec

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/adflow-labs/adflow/command"
	"github.com/adflow-labs/adflow/core"
)

// Session errors.
var (
	ErrNoExecution = errors.New("exec: no active execution")
	ErrNotPaused   = errors.New("exec: execution is not paused")
)

// SaveFunc persists the workflow graph before a run starts. A non-nil error
// aborts the run.
type SaveFunc func(ctx context.Context) error

// SessionConfig configures a Session.
type SessionConfig struct {
	// State is the run cache the session mutates. Required.
	State *State

	// Runner issues the start/step/cancel commands. Required.
	Runner command.Runner

	// Watcher, when set, is activated/deactivated as the session's
	// execution id changes.
	Watcher *Watcher

	// Save, when set, runs before every start and aborts the run on failure.
	Save SaveFunc

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Session drives one workflow run: it issues commands, applies their
// responses to the State, and keeps the Watcher pointed at the active
// execution. Command failures are never swallowed — they are returned to the
// caller after the state has been moved to a defined, safe position.
type Session struct {
	state   *State
	runner  command.Runner
	watcher *Watcher
	save    SaveFunc
	logger  *slog.Logger
}

// NewSession creates a Session.
func NewSession(cfg SessionConfig) (*Session, error) {
	if cfg.State == nil {
		return nil, errors.New("exec: session requires a state")
	}
	if cfg.Runner == nil {
		return nil, errors.New("exec: session requires a runner")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		state:   cfg.State,
		runner:  cfg.Runner,
		watcher: cfg.Watcher,
		save:    cfg.Save,
		logger:  logger,
	}, nil
}

// Start begins a new run of the workflow. The per-node cache is cleared
// first so stale results from a previous run are not shown. When a save
// function is configured it runs before the start command; the save and the
// start happen back to back with no edit window between them, so the run
// always targets the just-saved graph.
//
// On command failure the state is reset to idle rather than left in an
// ambiguous PENDING.
func (s *Session) Start(ctx context.Context, workflowID string) (command.StartResult, error) {
	if s.save != nil {
		if err := s.save(ctx); err != nil {
			return command.StartResult{}, fmt.Errorf("exec: save before run: %w", err)
		}
	}

	s.state.ClearNodeExecutions()

	res, err := s.runner.Start(ctx, workflowID)
	if err != nil {
		s.state.Clear()
		if s.watcher != nil {
			s.watcher.Deactivate()
		}
		return command.StartResult{}, fmt.Errorf("exec: start workflow %s: %w", workflowID, err)
	}

	s.state.SetExecution(core.Execution{
		ID:         res.ExecutionID,
		WorkflowID: workflowID,
		Status:     res.Status,
	})
	if s.watcher != nil {
		s.watcher.Activate(res.ExecutionID)
	}
	return res, nil
}

// Step advances a paused execution by one node. Valid only while the
// current execution is PAUSED. A step that reports FAILED is terminal: the
// error message is recorded on the execution snapshot and returned in the
// result for the caller to surface. A command failure leaves the execution
// paused so the user can retry the step.
func (s *Session) Step(ctx context.Context) (command.StepResult, error) {
	exec, ok := s.state.Execution()
	if !ok {
		return command.StepResult{}, ErrNoExecution
	}
	if exec.Status != core.ExecutionPaused {
		return command.StepResult{}, fmt.Errorf("%w: status is %s", ErrNotPaused, exec.Status)
	}

	res, err := s.runner.Step(ctx, exec.ID)
	if err != nil {
		return command.StepResult{}, fmt.Errorf("exec: step execution %s: %w", exec.ID, err)
	}

	updated := exec
	updated.Status = res.Status
	updated.ErrorMessage = res.ErrorMessage
	s.state.ApplyExecutionUpdate(updated)
	return res, nil
}

// Cancel requests the backend stop the current run. The transition to
// CANCELLED happens only on confirmation, never optimistically: the backend
// may already have completed the run when the request arrives. On success
// the state is reset to idle and the watcher is deactivated, so late push
// events for the cancelled execution are never applied.
func (s *Session) Cancel(ctx context.Context) error {
	exec, ok := s.state.Execution()
	if !ok {
		return ErrNoExecution
	}

	if err := s.runner.Cancel(ctx, exec.ID); err != nil {
		return fmt.Errorf("exec: cancel execution %s: %w", exec.ID, err)
	}

	if s.watcher != nil {
		s.watcher.Deactivate()
	}
	s.state.Clear()
	return nil
}
