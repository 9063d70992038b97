// Package store provides the SQLite-backed persistence layer: workflow
// metadata, graph rows, and execution records. It implements the bulk
// graph-replace surface the persistence reconciler writes through, and the
// execution tables the engine records progress into.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	_ "modernc.org/sqlite"

	"github.com/adflow-labs/adflow/command"
	"github.com/adflow-labs/adflow/core"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("store: not found")

const schema = `
CREATE TABLE IF NOT EXISTS workflows (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	is_active INTEGER NOT NULL DEFAULT 1,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS nodes (
	id TEXT PRIMARY KEY,
	workflow_id TEXT NOT NULL,
	type TEXT NOT NULL,
	name TEXT NOT NULL,
	config BLOB NOT NULL,
	position_x INTEGER NOT NULL DEFAULT 0,
	position_y INTEGER NOT NULL DEFAULT 0,
	has_breakpoint INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_nodes_workflow ON nodes(workflow_id);

CREATE TABLE IF NOT EXISTS edges (
	id TEXT PRIMARY KEY,
	workflow_id TEXT NOT NULL,
	source_node_id TEXT NOT NULL,
	target_node_id TEXT NOT NULL,
	source_handle TEXT NOT NULL DEFAULT '',
	target_handle TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_edges_workflow ON edges(workflow_id);

CREATE TABLE IF NOT EXISTS executions (
	id TEXT PRIMARY KEY,
	workflow_id TEXT NOT NULL,
	status TEXT NOT NULL,
	error_message TEXT NOT NULL DEFAULT '',
	total_cost REAL NOT NULL DEFAULT 0,
	started_at TEXT NOT NULL,
	finished_at TEXT
);

CREATE INDEX IF NOT EXISTS idx_executions_workflow ON executions(workflow_id);

CREATE TABLE IF NOT EXISTS node_executions (
	id TEXT PRIMARY KEY,
	execution_id TEXT NOT NULL,
	node_id TEXT NOT NULL,
	status TEXT NOT NULL,
	input_data BLOB,
	output_data BLOB,
	error_message TEXT NOT NULL DEFAULT '',
	started_at TEXT,
	finished_at TEXT,
	UNIQUE(execution_id, node_id)
);`

// Config configures the SQLite store.
type Config struct {
	// DSN is the database connection string.
	DSN string
}

// SQLiteStore is the SQLite persistence layer, with WAL mode enabled for
// concurrent read access.
type SQLiteStore struct {
	db *sql.DB
}

// Open opens (or creates) the store at the given DSN.
func Open(cfg Config) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: enable foreign keys: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: create schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTimePtr(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// --- Workflows ---

// CreateWorkflow inserts a workflow record.
func (s *SQLiteStore) CreateWorkflow(ctx context.Context, wf core.Workflow) error {
	now := time.Now()
	if wf.CreatedAt.IsZero() {
		wf.CreatedAt = now
	}
	if wf.UpdatedAt.IsZero() {
		wf.UpdatedAt = now
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO workflows (id, name, description, is_active, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		wf.ID, wf.Name, wf.Description, wf.IsActive,
		formatTime(wf.CreatedAt), formatTime(wf.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("store: create workflow: %w", err)
	}
	return nil
}

// Workflow returns one workflow by id.
func (s *SQLiteStore) Workflow(ctx context.Context, id string) (core.Workflow, error) {
	var (
		wf                   core.Workflow
		createdAt, updatedAt string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, description, is_active, created_at, updated_at
		 FROM workflows WHERE id = ?`, id,
	).Scan(&wf.ID, &wf.Name, &wf.Description, &wf.IsActive, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Workflow{}, fmt.Errorf("%w: workflow %s", ErrNotFound, id)
	}
	if err != nil {
		return core.Workflow{}, fmt.Errorf("store: get workflow: %w", err)
	}
	if wf.CreatedAt, err = parseTime(createdAt); err != nil {
		return core.Workflow{}, fmt.Errorf("store: parse created_at: %w", err)
	}
	if wf.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return core.Workflow{}, fmt.Errorf("store: parse updated_at: %w", err)
	}
	return wf, nil
}

// Workflows lists all workflows, most recently updated first.
func (s *SQLiteStore) Workflows(ctx context.Context) ([]core.Workflow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, description, is_active, created_at, updated_at
		 FROM workflows ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("store: list workflows: %w", err)
	}
	defer rows.Close()

	var out []core.Workflow
	for rows.Next() {
		var (
			wf                   core.Workflow
			createdAt, updatedAt string
		)
		if err := rows.Scan(&wf.ID, &wf.Name, &wf.Description, &wf.IsActive, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("store: scan workflow: %w", err)
		}
		if wf.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("store: parse created_at: %w", err)
		}
		if wf.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return nil, fmt.Errorf("store: parse updated_at: %w", err)
		}
		out = append(out, wf)
	}
	return out, rows.Err()
}

// DeleteWorkflow removes a workflow and its graph rows.
func (s *SQLiteStore) DeleteWorkflow(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: delete workflow: %w", err)
	}
	defer tx.Rollback()

	for _, q := range []string{
		`DELETE FROM edges WHERE workflow_id = ?`,
		`DELETE FROM nodes WHERE workflow_id = ?`,
		`DELETE FROM workflows WHERE id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, q, id); err != nil {
			return fmt.Errorf("store: delete workflow: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: delete workflow: %w", err)
	}
	return nil
}

// --- Graph rows (command.GraphWriter / command.GraphReader) ---

// DeleteEdges removes all edge rows for a workflow.
func (s *SQLiteStore) DeleteEdges(ctx context.Context, workflowID string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM edges WHERE workflow_id = ?`, workflowID,
	); err != nil {
		return fmt.Errorf("store: delete edges: %w", err)
	}
	return nil
}

// DeleteNodes removes all node rows for a workflow.
func (s *SQLiteStore) DeleteNodes(ctx context.Context, workflowID string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM nodes WHERE workflow_id = ?`, workflowID,
	); err != nil {
		return fmt.Errorf("store: delete nodes: %w", err)
	}
	return nil
}

// InsertNodes inserts node rows. All rows go in one transaction so a partial
// bulk insert never becomes visible.
func (s *SQLiteStore) InsertNodes(ctx context.Context, rows []command.NodeRow) error {
	if len(rows) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: insert nodes: %w", err)
	}
	defer tx.Rollback()

	for _, row := range rows {
		config, err := json.Marshal(row.Config)
		if err != nil {
			return fmt.Errorf("store: marshal node config: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO nodes (id, workflow_id, type, name, config, position_x, position_y, has_breakpoint)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			row.ID, row.WorkflowID, row.Type, row.Name, config,
			row.PositionX, row.PositionY, row.HasBreakpoint,
		); err != nil {
			return fmt.Errorf("store: insert node %s: %w", row.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: insert nodes: %w", err)
	}
	return nil
}

// InsertEdges inserts edge rows in one transaction.
func (s *SQLiteStore) InsertEdges(ctx context.Context, rows []command.EdgeRow) error {
	if len(rows) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: insert edges: %w", err)
	}
	defer tx.Rollback()

	for _, row := range rows {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO edges (id, workflow_id, source_node_id, target_node_id, source_handle, target_handle)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			row.ID, row.WorkflowID, row.SourceNodeID, row.TargetNodeID,
			row.SourceHandle, row.TargetHandle,
		); err != nil {
			return fmt.Errorf("store: insert edge %s: %w", row.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: insert edges: %w", err)
	}
	return nil
}

// TouchWorkflow bumps the workflow's updated_at timestamp.
func (s *SQLiteStore) TouchWorkflow(ctx context.Context, workflowID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE workflows SET updated_at = ? WHERE id = ?`,
		formatTime(time.Now()), workflowID,
	)
	if err != nil {
		return fmt.Errorf("store: touch workflow: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: touch workflow: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: workflow %s", ErrNotFound, workflowID)
	}
	return nil
}

// WorkflowGraph loads the persisted node and edge rows for a workflow.
func (s *SQLiteStore) WorkflowGraph(ctx context.Context, workflowID string) ([]command.NodeRow, []command.EdgeRow, error) {
	nodeRows, err := s.db.QueryContext(ctx,
		`SELECT id, workflow_id, type, name, config, position_x, position_y, has_breakpoint
		 FROM nodes WHERE workflow_id = ? ORDER BY id`, workflowID)
	if err != nil {
		return nil, nil, fmt.Errorf("store: load nodes: %w", err)
	}
	defer nodeRows.Close()

	var nodes []command.NodeRow
	for nodeRows.Next() {
		var (
			row    command.NodeRow
			config []byte
		)
		if err := nodeRows.Scan(&row.ID, &row.WorkflowID, &row.Type, &row.Name,
			&config, &row.PositionX, &row.PositionY, &row.HasBreakpoint); err != nil {
			return nil, nil, fmt.Errorf("store: scan node: %w", err)
		}
		if err := json.Unmarshal(config, &row.Config); err != nil {
			return nil, nil, fmt.Errorf("store: unmarshal node config: %w", err)
		}
		nodes = append(nodes, row)
	}
	if err := nodeRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("store: load nodes: %w", err)
	}

	edgeRows, err := s.db.QueryContext(ctx,
		`SELECT id, workflow_id, source_node_id, target_node_id, source_handle, target_handle
		 FROM edges WHERE workflow_id = ? ORDER BY id`, workflowID)
	if err != nil {
		return nil, nil, fmt.Errorf("store: load edges: %w", err)
	}
	defer edgeRows.Close()

	var edges []command.EdgeRow
	for edgeRows.Next() {
		var row command.EdgeRow
		if err := edgeRows.Scan(&row.ID, &row.WorkflowID, &row.SourceNodeID,
			&row.TargetNodeID, &row.SourceHandle, &row.TargetHandle); err != nil {
			return nil, nil, fmt.Errorf("store: scan edge: %w", err)
		}
		edges = append(edges, row)
	}
	return nodes, edges, edgeRows.Err()
}

// --- Executions ---

// CreateExecution inserts an execution record.
func (s *SQLiteStore) CreateExecution(ctx context.Context, exec core.Execution) error {
	if exec.StartedAt.IsZero() {
		exec.StartedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO executions (id, workflow_id, status, error_message, total_cost, started_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		exec.ID, exec.WorkflowID, string(exec.Status), exec.ErrorMessage,
		exec.TotalCost, formatTime(exec.StartedAt), formatTimePtr(exec.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("store: create execution: %w", err)
	}
	return nil
}

// UpdateExecution overwrites the mutable fields of an execution record.
func (s *SQLiteStore) UpdateExecution(ctx context.Context, exec core.Execution) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE executions SET status = ?, error_message = ?, total_cost = ?, finished_at = ?
		 WHERE id = ?`,
		string(exec.Status), exec.ErrorMessage, exec.TotalCost,
		formatTimePtr(exec.FinishedAt), exec.ID,
	)
	if err != nil {
		return fmt.Errorf("store: update execution: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: update execution: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: execution %s", ErrNotFound, exec.ID)
	}
	return nil
}

// Execution returns one execution by id.
func (s *SQLiteStore) Execution(ctx context.Context, id string) (core.Execution, error) {
	var (
		exec       core.Execution
		status     string
		startedAt  string
		finishedAt sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, workflow_id, status, error_message, total_cost, started_at, finished_at
		 FROM executions WHERE id = ?`, id,
	).Scan(&exec.ID, &exec.WorkflowID, &status, &exec.ErrorMessage,
		&exec.TotalCost, &startedAt, &finishedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Execution{}, fmt.Errorf("%w: execution %s", ErrNotFound, id)
	}
	if err != nil {
		return core.Execution{}, fmt.Errorf("store: get execution: %w", err)
	}
	exec.Status = core.ExecutionStatus(status)
	if exec.StartedAt, err = parseTime(startedAt); err != nil {
		return core.Execution{}, fmt.Errorf("store: parse started_at: %w", err)
	}
	if exec.FinishedAt, err = parseTimePtr(finishedAt); err != nil {
		return core.Execution{}, fmt.Errorf("store: parse finished_at: %w", err)
	}
	return exec, nil
}

// Executions lists the runs of a workflow, newest first.
func (s *SQLiteStore) Executions(ctx context.Context, workflowID string) ([]core.Execution, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, workflow_id, status, error_message, total_cost, started_at, finished_at
		 FROM executions WHERE workflow_id = ? ORDER BY started_at DESC`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("store: list executions: %w", err)
	}
	defer rows.Close()

	var out []core.Execution
	for rows.Next() {
		var (
			exec       core.Execution
			status     string
			startedAt  string
			finishedAt sql.NullString
		)
		if err := rows.Scan(&exec.ID, &exec.WorkflowID, &status, &exec.ErrorMessage,
			&exec.TotalCost, &startedAt, &finishedAt); err != nil {
			return nil, fmt.Errorf("store: scan execution: %w", err)
		}
		exec.Status = core.ExecutionStatus(status)
		if exec.StartedAt, err = parseTime(startedAt); err != nil {
			return nil, fmt.Errorf("store: parse started_at: %w", err)
		}
		if exec.FinishedAt, err = parseTimePtr(finishedAt); err != nil {
			return nil, fmt.Errorf("store: parse finished_at: %w", err)
		}
		out = append(out, exec)
	}
	return out, rows.Err()
}

// DeleteExecution removes an execution and its node records.
func (s *SQLiteStore) DeleteExecution(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: delete execution: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM node_executions WHERE execution_id = ?`, id); err != nil {
		return fmt.Errorf("store: delete node executions: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM executions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("store: delete execution: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: delete execution: %w", err)
	}
	return nil
}

// TerminalExecutionsBefore returns the ids of finished runs whose finished_at
// is older than the cutoff. Runs still live (or missing finished_at) are
// never returned.
func (s *SQLiteStore) TerminalExecutionsBefore(ctx context.Context, cutoff time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM executions
		 WHERE status IN ('COMPLETED', 'FAILED', 'CANCELLED')
		   AND finished_at IS NOT NULL AND finished_at < ?
		 ORDER BY finished_at`, formatTime(cutoff))
	if err != nil {
		return nil, fmt.Errorf("store: list stale executions: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("store: scan execution id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// --- Node executions ---

// UpsertNodeExecution inserts or replaces the current record for a node
// within a run, keyed by (execution_id, node_id).
func (s *SQLiteStore) UpsertNodeExecution(ctx context.Context, rec core.NodeExecution) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	input, err := json.Marshal(rec.InputData)
	if err != nil {
		return fmt.Errorf("store: marshal input data: %w", err)
	}
	output, err := json.Marshal(rec.OutputData)
	if err != nil {
		return fmt.Errorf("store: marshal output data: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO node_executions (id, execution_id, node_id, status, input_data, output_data, error_message, started_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(execution_id, node_id) DO UPDATE SET
		   status = excluded.status,
		   input_data = excluded.input_data,
		   output_data = excluded.output_data,
		   error_message = excluded.error_message,
		   started_at = excluded.started_at,
		   finished_at = excluded.finished_at`,
		rec.ID, rec.ExecutionID, rec.NodeID, string(rec.Status),
		input, output, rec.ErrorMessage,
		formatTimePtr(rec.StartedAt), formatTimePtr(rec.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("store: upsert node execution: %w", err)
	}
	return nil
}

// NodeExecutions returns all current per-node records for a run.
func (s *SQLiteStore) NodeExecutions(ctx context.Context, executionID string) ([]core.NodeExecution, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, execution_id, node_id, status, input_data, output_data, error_message, started_at, finished_at
		 FROM node_executions WHERE execution_id = ? ORDER BY node_id`, executionID)
	if err != nil {
		return nil, fmt.Errorf("store: list node executions: %w", err)
	}
	defer rows.Close()

	var out []core.NodeExecution
	for rows.Next() {
		var (
			rec                   core.NodeExecution
			status                string
			input, output         []byte
			startedAt, finishedAt sql.NullString
		)
		if err := rows.Scan(&rec.ID, &rec.ExecutionID, &rec.NodeID, &status,
			&input, &output, &rec.ErrorMessage, &startedAt, &finishedAt); err != nil {
			return nil, fmt.Errorf("store: scan node execution: %w", err)
		}
		rec.Status = core.NodeExecutionStatus(status)
		if len(input) > 0 {
			if err := json.Unmarshal(input, &rec.InputData); err != nil {
				return nil, fmt.Errorf("store: unmarshal input data: %w", err)
			}
		}
		if len(output) > 0 {
			if err := json.Unmarshal(output, &rec.OutputData); err != nil {
				return nil, fmt.Errorf("store: unmarshal output data: %w", err)
			}
		}
		if rec.StartedAt, err = parseTimePtr(startedAt); err != nil {
			return nil, fmt.Errorf("store: parse started_at: %w", err)
		}
		if rec.FinishedAt, err = parseTimePtr(finishedAt); err != nil {
			return nil, fmt.Errorf("store: parse finished_at: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Compile-time interface checks.
var (
	_ command.GraphWriter = (*SQLiteStore)(nil)
	_ command.GraphReader = (*SQLiteStore)(nil)
)
