package notify

import "sync"

// Sequencer assigns monotonically increasing, per-execution sequence numbers
// to published events. The server stamps events before publishing so that
// replay and live delivery can be deduplicated by (execution, seq).
type Sequencer struct {
	mu       sync.Mutex
	counters map[string]uint64
}

// NewSequencer creates an empty Sequencer.
func NewSequencer() *Sequencer {
	return &Sequencer{counters: make(map[string]uint64)}
}

// Next returns the next sequence number (1-indexed) for an execution.
func (s *Sequencer) Next(executionID string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters[executionID]++
	return s.counters[executionID]
}

// Forget releases the counter for a finished execution.
func (s *Sequencer) Forget(executionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.counters, executionID)
}
