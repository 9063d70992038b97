package notify

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	_ "modernc.org/sqlite"
)

const eventSchema = `
CREATE TABLE IF NOT EXISTS change_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	execution_id TEXT NOT NULL,
	seq INTEGER NOT NULL,
	kind TEXT NOT NULL,
	time TEXT NOT NULL,
	payload BLOB NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_change_events_execution_seq
ON change_events(execution_id, seq);`

// SQLiteStoreConfig configures the SQLite event store.
type SQLiteStoreConfig struct {
	// DSN is the database connection string.
	DSN string
}

// SQLiteEventStore persists change-notification events to a SQLite database
// with WAL mode enabled for concurrent read access.
type SQLiteEventStore struct {
	db *sql.DB
}

// NewSQLiteEventStore opens (or creates) a SQLite event store.
func NewSQLiteEventStore(cfg SQLiteStoreConfig) (*SQLiteEventStore, error) {
	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("notify: open event store: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("notify: set WAL mode: %w", err)
	}
	if _, err := db.Exec(eventSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("notify: create event schema: %w", err)
	}
	return &SQLiteEventStore{db: db}, nil
}

// Append stores an event.
func (s *SQLiteEventStore) Append(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("notify: marshal event: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO change_events (execution_id, seq, kind, time, payload)
		 VALUES (?, ?, ?, ?, ?)`,
		event.ExecutionID,
		event.Seq,
		string(event.Kind),
		event.Time.UTC().Format(time.RFC3339Nano),
		payload,
	)
	if err != nil {
		return fmt.Errorf("notify: append event: %w", err)
	}
	return nil
}

// List returns events for an execution, ordered by sequence number.
func (s *SQLiteEventStore) List(ctx context.Context, executionID string, afterSeq uint64, limit int) ([]Event, error) {
	query := `SELECT payload FROM change_events
	           WHERE execution_id = ? AND seq > ? ORDER BY seq ASC`
	args := []any{executionID, afterSeq}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("notify: list events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("notify: scan event: %w", err)
		}
		var e Event
		if err := json.Unmarshal(payload, &e); err != nil {
			return nil, fmt.Errorf("notify: unmarshal event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// LatestSeq returns the highest Seq for an execution (0 if no events).
func (s *SQLiteEventStore) LatestSeq(ctx context.Context, executionID string) (uint64, error) {
	var seq sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(seq) FROM change_events WHERE execution_id = ?`, executionID,
	).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("notify: latest seq: %w", err)
	}
	if !seq.Valid || seq.Int64 < 0 {
		return 0, nil
	}
	return uint64(seq.Int64), nil
}

// DeleteExecution removes all stored events for an execution.
func (s *SQLiteEventStore) DeleteExecution(ctx context.Context, executionID string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM change_events WHERE execution_id = ?`, executionID,
	); err != nil {
		return fmt.Errorf("notify: delete events: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteEventStore) Close() error {
	return s.db.Close()
}

// Compile-time interface check.
var _ EventStore = (*SQLiteEventStore)(nil)
