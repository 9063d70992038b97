package notify

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/adflow-labs/adflow/core"
)

func newTestEventStore(t *testing.T) *SQLiteEventStore {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "events.db")
	s, err := NewSQLiteEventStore(SQLiteStoreConfig{DSN: dsn})
	if err != nil {
		t.Fatalf("NewSQLiteEventStore: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteEventStore_AppendList(t *testing.T) {
	s := newTestEventStore(t)
	ctx := context.Background()

	for seq := uint64(1); seq <= 3; seq++ {
		e := nodeEvent("exec-1", "n1", core.NodeRunning)
		e.Seq = seq
		if err := s.Append(ctx, e); err != nil {
			t.Fatalf("Append seq %d: %v", seq, err)
		}
	}

	events, err := s.List(ctx, "exec-1", 0, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3", len(events))
	}
	for i, e := range events {
		if e.Seq != uint64(i+1) {
			t.Errorf("event %d has seq %d", i, e.Seq)
		}
		if e.NodeExecution == nil {
			t.Errorf("event %d lost its payload", i)
		}
	}
}

func TestSQLiteEventStore_AfterSeqAndLimit(t *testing.T) {
	s := newTestEventStore(t)
	ctx := context.Background()

	for seq := uint64(1); seq <= 5; seq++ {
		e := execEvent("exec-1", core.ExecutionRunning)
		e.Seq = seq
		if err := s.Append(ctx, e); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	events, err := s.List(ctx, "exec-1", 2, 2)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(events) != 2 || events[0].Seq != 3 || events[1].Seq != 4 {
		t.Errorf("got %+v", events)
	}
}

func TestSQLiteEventStore_LatestSeq(t *testing.T) {
	s := newTestEventStore(t)
	ctx := context.Background()

	if seq, err := s.LatestSeq(ctx, "missing"); err != nil || seq != 0 {
		t.Errorf("LatestSeq(missing) = %d, %v", seq, err)
	}

	e := execEvent("exec-1", core.ExecutionCompleted)
	e.Seq = 9
	if err := s.Append(ctx, e); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if seq, err := s.LatestSeq(ctx, "exec-1"); err != nil || seq != 9 {
		t.Errorf("LatestSeq = %d, %v", seq, err)
	}
}

func TestSQLiteEventStore_DeleteExecution(t *testing.T) {
	s := newTestEventStore(t)
	ctx := context.Background()

	e := execEvent("exec-1", core.ExecutionCancelled)
	e.Seq = 1
	if err := s.Append(ctx, e); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := s.DeleteExecution(ctx, "exec-1"); err != nil {
		t.Fatalf("DeleteExecution: %v", err)
	}
	events, err := s.List(ctx, "exec-1", 0, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("got %d events after delete", len(events))
	}
}
