// Package exec tracks the lifecycle of one workflow run on the client: the
// current Execution snapshot, the per-node execution cache, and the pause
// flag the debugger derives from them. Updates arrive from three sources —
// command responses, the push change-notification channel, and local debug
// actions — and are reconciled here under a single set of rules:
// authoritative overwrites, idempotent per-node upserts, and a cache clear
// on cancellation.
package exec

import (
	"sync"

	"github.com/adflow-labs/adflow/core"
)

// State is the client-side cache of one run. It is a cache of
// server-authoritative truth, never the source of truth itself.
//
// All methods are safe for concurrent use.
type State struct {
	mu        sync.RWMutex
	current   *core.Execution
	nodeExecs map[string]core.NodeExecution
	paused    bool
}

// NewState creates an empty State.
func NewState() *State {
	return &State{nodeExecs: make(map[string]core.NodeExecution)}
}

// SetExecution installs the execution snapshot, typically from a start
// command response. This is the only way an execution acquires its id.
func (s *State) SetExecution(exec core.Execution) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := exec
	s.current = &snapshot
	s.paused = exec.Status == core.ExecutionPaused
}

// ApplyExecutionUpdate applies a run-level update. The backend is the source
// of truth, so the update overwrites the local snapshot regardless of
// whether it agrees with the last locally-known status. A CANCELLED update
// clears the per-node cache: a cancelled run's stale node statuses must not
// linger.
//
// Updates for a different execution id than the current one are ignored;
// scoping to the active run is the watcher's job, this is the backstop.
func (s *State) ApplyExecutionUpdate(exec core.Execution) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current != nil && s.current.ID != exec.ID {
		return
	}
	snapshot := exec
	s.current = &snapshot
	s.paused = exec.Status == core.ExecutionPaused
	if exec.Status == core.ExecutionCancelled {
		s.nodeExecs = make(map[string]core.NodeExecution)
	}
}

// UpsertNodeExecution applies a node-level update, last-write-wins keyed by
// node id. Applying the same update twice leaves the cache identical to
// applying it once. A PAUSED record raises the pause flag.
//
// Once the current execution is CANCELLED the upsert is dropped: node
// events racing the cancellation must not resurrect pre-cancel statuses.
func (s *State) UpsertNodeExecution(rec core.NodeExecution) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current != nil && s.current.Status == core.ExecutionCancelled {
		return
	}
	s.nodeExecs[rec.NodeID] = rec
	if rec.Status == core.NodePaused {
		s.paused = true
	}
}

// ClearNodeExecutions drops all per-node records and lowers the pause flag.
// Invoked before starting a fresh run so stale results are not shown.
func (s *State) ClearNodeExecutions() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodeExecs = make(map[string]core.NodeExecution)
	s.paused = false
}

// Clear resets the state to idle: no execution, no node records.
func (s *State) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = nil
	s.nodeExecs = make(map[string]core.NodeExecution)
	s.paused = false
}

// Execution returns the current execution snapshot, if any.
func (s *State) Execution() (core.Execution, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return core.Execution{}, false
	}
	return *s.current, true
}

// ExecutionID returns the current execution id, or "" when idle.
func (s *State) ExecutionID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return ""
	}
	return s.current.ID
}

// IsExecuting reports whether a run is live (PENDING, RUNNING, or PAUSED).
// False when no execution exists.
func (s *State) IsExecuting() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current != nil && s.current.Status.IsActive()
}

// IsTerminal reports whether the current run has finished.
// False when no execution exists.
func (s *State) IsTerminal() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current != nil && s.current.Status.IsTerminal()
}

// CanStop reports whether a cancel action is currently meaningful.
func (s *State) CanStop() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current != nil && s.current.Status.CanStop()
}

// IsPaused reports whether the run is paused at a breakpoint.
func (s *State) IsPaused() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.paused
}

// NodeExecution returns the current record for a node, if any.
func (s *State) NodeExecution(nodeID string) (core.NodeExecution, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.nodeExecs[nodeID]
	return rec, ok
}

// NodeExecutions returns a copy of the per-node cache.
func (s *State) NodeExecutions() map[string]core.NodeExecution {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]core.NodeExecution, len(s.nodeExecs))
	for k, v := range s.nodeExecs {
		out[k] = v
	}
	return out
}
