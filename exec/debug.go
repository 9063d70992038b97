package exec

import "sync/atomic"

// Debugger layers breakpoint-driven stepping affordances over the run
// state. Debug mode itself is presentation-only: it enables the inspector
// UI but carries no execution semantics. Breakpoint flags live on the graph
// nodes; the backend is the component that actually halts at them and
// reports PAUSED.
type Debugger struct {
	state     *State
	debugMode atomic.Bool
}

// NewDebugger creates a Debugger over the given state.
func NewDebugger(state *State) *Debugger {
	return &Debugger{state: state}
}

// ToggleDebugMode flips the inspector toggle and returns the new value.
func (d *Debugger) ToggleDebugMode() bool {
	for {
		old := d.debugMode.Load()
		if d.debugMode.CompareAndSwap(old, !old) {
			return !old
		}
	}
}

// DebugMode reports whether the inspector affordances are enabled.
func (d *Debugger) DebugMode() bool {
	return d.debugMode.Load()
}

// IsPaused reports whether the current run is paused at a breakpoint.
func (d *Debugger) IsPaused() bool {
	return d.state.IsPaused()
}

// ClearNodeExecutions drops stale per-node results, typically before a
// fresh run.
func (d *Debugger) ClearNodeExecutions() {
	d.state.ClearNodeExecutions()
}
