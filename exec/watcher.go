package exec

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/adflow-labs/adflow/command"
	"github.com/adflow-labs/adflow/notify"
)

// reconcileTimeout bounds the reconciliation fetch after subscribing.
const reconcileTimeout = 10 * time.Second

// WatcherConfig configures a Watcher.
type WatcherConfig struct {
	// State receives the events. Required.
	State *State

	// Bus is the change-notification channel. Required.
	Bus notify.Bus

	// Runner performs the reconciliation fetch of node executions after a
	// subscription goes live. Optional: without it, missed-event recovery is
	// skipped and the watcher relies on live events alone.
	Runner command.Runner

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Watcher maintains the live subscription for exactly one active execution
// and feeds inbound events into the State.
//
// On activation it subscribes first and then fetches all current node
// execution records, closing the window between "execution started" and
// "subscription confirmed" in which events could have been missed. Each
// Activate bumps a generation counter; event application and the
// asynchronous fetch result are gated on the generation still matching, so
// a fetch that resolves after the execution id has changed is discarded
// instead of corrupting the newer execution's state.
type Watcher struct {
	state  *State
	bus    notify.Bus
	runner command.Runner
	logger *slog.Logger

	mu          sync.Mutex
	generation  uint64
	sub         notify.Subscription
	executionID string
}

// NewWatcher creates a Watcher.
func NewWatcher(cfg WatcherConfig) (*Watcher, error) {
	if cfg.State == nil {
		return nil, errors.New("exec: watcher requires a state")
	}
	if cfg.Bus == nil {
		return nil, errors.New("exec: watcher requires a bus")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		state:  cfg.State,
		bus:    cfg.Bus,
		runner: cfg.Runner,
		logger: logger,
	}, nil
}

// Activate points the watcher at an execution id, tearing down any previous
// subscription. An empty id is equivalent to Deactivate.
func (w *Watcher) Activate(executionID string) {
	w.mu.Lock()
	w.generation++
	gen := w.generation
	if w.sub != nil {
		_ = w.sub.Close()
		w.sub = nil
	}
	w.executionID = executionID
	if executionID == "" {
		w.mu.Unlock()
		return
	}
	sub := w.bus.Subscribe(executionID)
	w.sub = sub
	w.mu.Unlock()

	go w.consume(gen, sub)
	go w.reconcile(gen, executionID)
}

// Deactivate tears down the current subscription. Events and fetch results
// belonging to earlier generations are dropped from then on.
func (w *Watcher) Deactivate() {
	w.Activate("")
}

// ExecutionID returns the id the watcher is currently scoped to, or "".
func (w *Watcher) ExecutionID() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.executionID
}

func (w *Watcher) isCurrent(gen uint64) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return gen == w.generation
}

// consume drains the subscription until it closes or the generation moves on.
func (w *Watcher) consume(gen uint64, sub notify.Subscription) {
	for event := range sub.Events() {
		if !w.isCurrent(gen) {
			return
		}
		w.apply(event)
	}
}

// apply feeds one event into the state. Node-level and run-level events are
// applied independently: the two channels carry no cross-ordering
// guarantee, and the state machine's rules (idempotent upsert, cancel
// cache-clear) resolve any resulting inconsistency.
func (w *Watcher) apply(event notify.Event) {
	switch event.Kind {
	case notify.KindNodeExecutionUpdated:
		if event.NodeExecution != nil {
			w.state.UpsertNodeExecution(*event.NodeExecution)
		}
	case notify.KindExecutionUpdated:
		if event.Execution != nil {
			w.state.ApplyExecutionUpdate(*event.Execution)
		}
	}
}

// reconcile fetches the current node execution rows once the subscription is
// live and applies them, unless the watcher has moved on to another
// execution in the meantime. Fetch errors are logged and otherwise ignored:
// the push channel remains the primary source of truth.
func (w *Watcher) reconcile(gen uint64, executionID string) {
	if w.runner == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), reconcileTimeout)
	defer cancel()

	recs, err := w.runner.NodeExecutions(ctx, executionID)
	if err != nil {
		w.logger.Warn("reconciliation fetch failed",
			"execution_id", executionID,
			"error", err,
		)
		return
	}

	// The fetch is asynchronous: the active execution may have changed while
	// it was in flight. Applying it anyway would corrupt the newer
	// execution's state.
	if !w.isCurrent(gen) {
		return
	}
	for _, rec := range recs {
		w.state.UpsertNodeExecution(rec)
	}
}
