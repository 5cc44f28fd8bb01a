package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/taskwright/taskwright/internal/types"
)

// SQLiteStore implements the storage.Store interface using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// New creates a new SQLite store at path, initializing the schema.
func New(path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	// WAL mode lets a CLI process and a server process share the database
	// without readers blocking the writer.
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if path == ":memory:" {
		// Each in-memory connection is its own empty database, so the
		// pool must never open a second one.
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// execer covers both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// nextID atomically increments and returns the named counter. Callers must
// run it inside the transaction performing the insert so concurrent writers
// serialize on the row.
func nextID(ctx context.Context, q execer, name string) (int, error) {
	var id int
	err := q.QueryRowContext(ctx, `
		INSERT INTO counters (name, last_id) VALUES (?, 1)
		ON CONFLICT(name) DO UPDATE SET last_id = last_id + 1
		RETURNING last_id
	`, name).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to advance counter %s: %w", name, err)
	}
	return id, nil
}

// recordEvent appends an audit event within the caller's transaction.
func recordEvent(ctx context.Context, q execer, ev *types.AuditEvent) error {
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO events (issue_id, queue_item_id, event_type, actor, detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, ev.IssueID, ev.QueueItemID, ev.Type, ev.Actor, ev.Detail, ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to record event: %w", err)
	}
	return nil
}

// RecordEvent appends an audit event outside any transaction.
func (s *SQLiteStore) RecordEvent(ctx context.Context, ev *types.AuditEvent) error {
	return recordEvent(ctx, s.db, ev)
}

// GetEvents returns audit events, newest first. An empty issueID returns
// events across all issues.
func (s *SQLiteStore) GetEvents(ctx context.Context, issueID string, limit int) ([]*types.AuditEvent, error) {
	query := `
		SELECT id, issue_id, queue_item_id, event_type, actor, detail, created_at
		FROM events
	`
	args := []interface{}{}
	if issueID != "" {
		query += " WHERE issue_id = ?"
		args = append(args, issueID)
	}
	query += " ORDER BY id DESC"
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var out []*types.AuditEvent
	for rows.Next() {
		var ev types.AuditEvent
		if err := rows.Scan(&ev.ID, &ev.IssueID, &ev.QueueItemID, &ev.Type, &ev.Actor, &ev.Detail, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		out = append(out, &ev)
	}
	return out, rows.Err()
}

// CreateIssue creates a new issue
func (s *SQLiteStore) CreateIssue(ctx context.Context, issue *types.Issue, actor string) error {
	if issue.Status == "" {
		issue.Status = types.IssueStatusRegistered
	}
	if err := issue.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	now := time.Now()
	issue.CreatedAt = now
	issue.UpdatedAt = now

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM issues WHERE id = ?`, issue.ID).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check issue existence: %w", err)
	}
	if exists > 0 {
		return fmt.Errorf("issue %s already exists", issue.ID)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO issues (id, title, status, priority, solution_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, 0, ?, ?)
	`, issue.ID, issue.Title, issue.Status, issue.Priority, issue.CreatedAt, issue.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert issue: %w", err)
	}

	ev := &types.AuditEvent{IssueID: issue.ID, Type: types.AuditIssueCreated, Actor: actor, Detail: issue.Title}
	if err := recordEvent(ctx, tx, ev); err != nil {
		return err
	}

	return tx.Commit()
}

const issueColumns = `id, title, status, priority, bound_solution_id, solution_count,
	created_at, updated_at, planned_at, queued_at, completed_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanIssue(row rowScanner) (*types.Issue, error) {
	var issue types.Issue
	var boundSolutionID sql.NullString
	var plannedAt, queuedAt, completedAt sql.NullTime

	err := row.Scan(
		&issue.ID, &issue.Title, &issue.Status, &issue.Priority,
		&boundSolutionID, &issue.SolutionCount,
		&issue.CreatedAt, &issue.UpdatedAt, &plannedAt, &queuedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}

	if boundSolutionID.Valid {
		issue.BoundSolutionID = boundSolutionID.String
	}
	if plannedAt.Valid {
		issue.PlannedAt = &plannedAt.Time
	}
	if queuedAt.Valid {
		issue.QueuedAt = &queuedAt.Time
	}
	if completedAt.Valid {
		issue.CompletedAt = &completedAt.Time
	}
	return &issue, nil
}

// GetIssue retrieves an issue by ID. Returns (nil, nil) if not found.
func (s *SQLiteStore) GetIssue(ctx context.Context, id string) (*types.Issue, error) {
	issue, err := scanIssue(s.db.QueryRowContext(ctx,
		`SELECT `+issueColumns+` FROM issues WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get issue: %w", err)
	}
	return issue, nil
}

// ListIssues returns all issues ordered by priority then age.
func (s *SQLiteStore) ListIssues(ctx context.Context) ([]*types.Issue, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+issueColumns+` FROM issues ORDER BY priority ASC, created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list issues: %w", err)
	}
	defer rows.Close()

	var issues []*types.Issue
	for rows.Next() {
		issue, err := scanIssue(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan issue: %w", err)
		}
		issues = append(issues, issue)
	}
	return issues, rows.Err()
}

// DeleteIssue removes an issue and (via cascade) its solutions.
func (s *SQLiteStore) DeleteIssue(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM issues WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete issue: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check delete result: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("issue %s not found", id)
	}
	return nil
}

// UpdateIssueStatus sets the issue status and maintains lifecycle timestamps.
func (s *SQLiteStore) UpdateIssueStatus(ctx context.Context, id string, status types.IssueStatus, actor string) error {
	if !status.IsValid() {
		return fmt.Errorf("invalid status: %s", status)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := updateIssueStatusTx(ctx, tx, id, status, actor); err != nil {
		return err
	}
	return tx.Commit()
}

// updateIssueStatusTx is the transactional core of UpdateIssueStatus, shared
// with the enqueue and rollup paths. Callers supply the transaction.
func updateIssueStatusTx(ctx context.Context, tx execer, id string, status types.IssueStatus, actor string) error {
	now := time.Now()

	var current types.IssueStatus
	err := tx.QueryRowContext(ctx, `SELECT status FROM issues WHERE id = ?`, id).Scan(&current)
	if err == sql.ErrNoRows {
		return fmt.Errorf("issue %s not found", id)
	}
	if err != nil {
		return fmt.Errorf("failed to read issue status: %w", err)
	}
	if current == status {
		return nil
	}

	query := `UPDATE issues SET status = ?, updated_at = ?`
	args := []interface{}{status, now}
	switch status {
	case types.IssueStatusQueued:
		query += `, queued_at = ?`
		args = append(args, now)
	case types.IssueStatusPlanned:
		query += `, planned_at = ?`
		args = append(args, now)
	case types.IssueStatusCompleted, types.IssueStatusFailed:
		query += `, completed_at = ?`
		args = append(args, now)
	}
	query += ` WHERE id = ?`
	args = append(args, id)

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to update issue status: %w", err)
	}

	return recordEvent(ctx, tx, &types.AuditEvent{
		IssueID: id,
		Type:    types.AuditStatusChanged,
		Actor:   actor,
		Detail:  fmt.Sprintf("%s -> %s", current, status),
	})
}
