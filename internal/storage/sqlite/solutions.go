package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/taskwright/taskwright/internal/types"
)

// AddSolution registers a new solution for an issue. The solution ID is
// generated if empty. The issue advances to planned on its first solution.
func (s *SQLiteStore) AddSolution(ctx context.Context, sol *types.Solution, actor string) (*types.Solution, error) {
	if err := sol.Validate(); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	issue, err := getIssueTx(ctx, tx, sol.IssueID)
	if err != nil {
		return nil, err
	}
	if issue == nil {
		return nil, fmt.Errorf("issue %s not found", sol.IssueID)
	}

	if sol.ID == "" {
		n, err := nextID(ctx, tx, "solution")
		if err != nil {
			return nil, err
		}
		sol.ID = fmt.Sprintf("sol-%d", n)
	}
	sol.CreatedAt = time.Now()

	tasksJSON, err := json.Marshal(sol.Tasks)
	if err != nil {
		return nil, fmt.Errorf("failed to encode tasks: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO solutions (id, issue_id, description, tasks, is_bound, created_at)
		VALUES (?, ?, ?, ?, 0, ?)
	`, sol.ID, sol.IssueID, sol.Description, string(tasksJSON), sol.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert solution: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE issues SET solution_count = solution_count + 1, updated_at = ? WHERE id = ?
	`, time.Now(), sol.IssueID)
	if err != nil {
		return nil, fmt.Errorf("failed to bump solution count: %w", err)
	}

	if issue.Status == types.IssueStatusRegistered || issue.Status == types.IssueStatusPlanning {
		if err := updateIssueStatusTx(ctx, tx, sol.IssueID, types.IssueStatusPlanned, actor); err != nil {
			return nil, err
		}
	}

	ev := &types.AuditEvent{
		IssueID: sol.IssueID,
		Type:    types.AuditSolutionAdded,
		Actor:   actor,
		Detail:  fmt.Sprintf("%s (%d tasks)", sol.ID, len(sol.Tasks)),
	}
	if err := recordEvent(ctx, tx, ev); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return sol, nil
}

func getIssueTx(ctx context.Context, tx execer, id string) (*types.Issue, error) {
	issue, err := scanIssue(tx.QueryRowContext(ctx,
		`SELECT `+issueColumns+` FROM issues WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get issue: %w", err)
	}
	return issue, nil
}

const solutionColumns = `id, issue_id, description, tasks, is_bound, created_at, bound_at`

func scanSolution(row rowScanner) (*types.Solution, error) {
	var sol types.Solution
	var tasksJSON string
	var boundAt sql.NullTime

	err := row.Scan(&sol.ID, &sol.IssueID, &sol.Description, &tasksJSON, &sol.IsBound, &sol.CreatedAt, &boundAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(tasksJSON), &sol.Tasks); err != nil {
		return nil, fmt.Errorf("failed to decode tasks: %w", err)
	}
	if boundAt.Valid {
		sol.BoundAt = &boundAt.Time
	}
	return &sol, nil
}

// GetSolution retrieves one solution of an issue. Returns (nil, nil) if not found.
func (s *SQLiteStore) GetSolution(ctx context.Context, issueID, solutionID string) (*types.Solution, error) {
	sol, err := scanSolution(s.db.QueryRowContext(ctx,
		`SELECT `+solutionColumns+` FROM solutions WHERE issue_id = ? AND id = ?`, issueID, solutionID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get solution: %w", err)
	}
	return sol, nil
}

// GetBoundSolution retrieves the bound solution of an issue, or (nil, nil)
// when none is bound.
func (s *SQLiteStore) GetBoundSolution(ctx context.Context, issueID string) (*types.Solution, error) {
	sol, err := scanSolution(s.db.QueryRowContext(ctx,
		`SELECT `+solutionColumns+` FROM solutions WHERE issue_id = ? AND is_bound = 1`, issueID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get bound solution: %w", err)
	}
	return sol, nil
}

// ListSolutions returns all solutions for an issue, oldest first.
func (s *SQLiteStore) ListSolutions(ctx context.Context, issueID string) ([]*types.Solution, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+solutionColumns+` FROM solutions WHERE issue_id = ? ORDER BY created_at ASC, id ASC`, issueID)
	if err != nil {
		return nil, fmt.Errorf("failed to list solutions: %w", err)
	}
	defer rows.Close()

	var sols []*types.Solution
	for rows.Next() {
		sol, err := scanSolution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan solution: %w", err)
		}
		sols = append(sols, sol)
	}
	return sols, rows.Err()
}

// BindSolution marks one solution bound, unbinding any sibling in the same
// transaction so the one-bound-per-issue invariant holds.
func (s *SQLiteStore) BindSolution(ctx context.Context, issueID, solutionID string, actor string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM solutions WHERE issue_id = ? AND id = ?`,
		issueID, solutionID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check solution: %w", err)
	}
	if exists == 0 {
		return fmt.Errorf("solution %s not found for issue %s", solutionID, issueID)
	}

	now := time.Now()
	_, err = tx.ExecContext(ctx, `
		UPDATE solutions SET is_bound = 0, bound_at = NULL WHERE issue_id = ? AND id != ?
	`, issueID, solutionID)
	if err != nil {
		return fmt.Errorf("failed to unbind sibling solutions: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE solutions SET is_bound = 1, bound_at = ? WHERE issue_id = ? AND id = ?
	`, now, issueID, solutionID)
	if err != nil {
		return fmt.Errorf("failed to bind solution: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE issues SET bound_solution_id = ?, updated_at = ? WHERE id = ?
	`, solutionID, now, issueID)
	if err != nil {
		return fmt.Errorf("failed to set bound solution on issue: %w", err)
	}

	if err := updateIssueStatusTx(ctx, tx, issueID, types.IssueStatusPlanned, actor); err != nil {
		return err
	}

	ev := &types.AuditEvent{IssueID: issueID, Type: types.AuditSolutionBound, Actor: actor, Detail: solutionID}
	if err := recordEvent(ctx, tx, ev); err != nil {
		return err
	}

	return tx.Commit()
}

// UpsertTask adds or updates a manual task in the issue's bound solution.
// If the issue has no bound solution yet, a manual one is created and bound.
func (s *SQLiteStore) UpsertTask(ctx context.Context, issueID string, task types.SolutionTask, actor string) error {
	if err := task.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	sol, err := s.GetBoundSolution(ctx, issueID)
	if err != nil {
		return err
	}

	if sol == nil {
		sol = &types.Solution{
			IssueID:     issueID,
			Description: "Manually authored tasks",
			Tasks:       []types.SolutionTask{task},
		}
		created, err := s.AddSolution(ctx, sol, actor)
		if err != nil {
			return err
		}
		return s.BindSolution(ctx, issueID, created.ID, actor)
	}

	replaced := false
	for i := range sol.Tasks {
		if sol.Tasks[i].ID == task.ID {
			sol.Tasks[i] = task
			replaced = true
			break
		}
	}
	if !replaced {
		sol.Tasks = append(sol.Tasks, task)
	}
	if err := sol.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	tasksJSON, err := json.Marshal(sol.Tasks)
	if err != nil {
		return fmt.Errorf("failed to encode tasks: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `UPDATE solutions SET tasks = ? WHERE id = ?`, string(tasksJSON), sol.ID)
	if err != nil {
		return fmt.Errorf("failed to update solution tasks: %w", err)
	}
	return nil
}
