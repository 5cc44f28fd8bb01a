package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/taskwright/taskwright/internal/types"
)

const itemColumns = `id, queue_id, issue_id, solution_id, task_id, title, status,
	execution_order, execution_group, depends_on, assigned_executor, semantic_priority,
	resume_key, queued_at, started_at, completed_at, result, failure_reason`

func scanItem(row rowScanner) (*types.QueueItem, error) {
	var item types.QueueItem
	var dependsOn string
	var startedAt, completedAt sql.NullTime

	err := row.Scan(
		&item.ID, &item.QueueID, &item.IssueID, &item.SolutionID, &item.TaskID,
		&item.Title, &item.Status, &item.ExecutionOrder, &item.ExecutionGroup,
		&dependsOn, &item.AssignedExecutor, &item.SemanticPriority, &item.ResumeKey,
		&item.QueuedAt, &startedAt, &completedAt, &item.Result, &item.FailureReason,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(dependsOn), &item.DependsOn); err != nil {
		return nil, fmt.Errorf("failed to decode depends_on: %w", err)
	}
	if startedAt.Valid {
		item.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		item.CompletedAt = &completedAt.Time
	}
	return &item, nil
}

// loadQueue reads a queue row and its items ordered for dispatch.
func loadQueue(ctx context.Context, q execer, id string) (*types.Queue, error) {
	var queue types.Queue
	var issueIDs string
	err := q.QueryRowContext(ctx, `
		SELECT id, status, issue_ids, created_at, updated_at FROM queues WHERE id = ?
	`, id).Scan(&queue.ID, &queue.Status, &issueIDs, &queue.CreatedAt, &queue.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get queue: %w", err)
	}
	if err := json.Unmarshal([]byte(issueIDs), &queue.IssueIDs); err != nil {
		return nil, fmt.Errorf("failed to decode issue_ids: %w", err)
	}

	rows, err := q.QueryContext(ctx, `
		SELECT `+itemColumns+` FROM queue_items WHERE queue_id = ? ORDER BY execution_order ASC
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query queue items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan queue item: %w", err)
		}
		queue.Items = append(queue.Items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	queue.ComputeMetadata()
	return &queue, nil
}

func activeQueueID(ctx context.Context, q execer) (string, error) {
	var id sql.NullString
	err := q.QueryRowContext(ctx, `SELECT active_queue_id FROM queue_index WHERE k = 1`).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("failed to read queue index: %w", err)
	}
	if !id.Valid {
		return "", nil
	}
	return id.String, nil
}

func insertQueue(ctx context.Context, q execer, actor string) (string, error) {
	id := "q-" + uuid.NewString()[:8]
	now := time.Now()
	_, err := q.ExecContext(ctx, `
		INSERT INTO queues (id, status, issue_ids, created_at, updated_at)
		VALUES (?, ?, '[]', ?, ?)
	`, id, types.QueueStatusActive, now, now)
	if err != nil {
		return "", fmt.Errorf("failed to insert queue: %w", err)
	}
	_, err = q.ExecContext(ctx, `UPDATE queue_index SET active_queue_id = ? WHERE k = 1`, id)
	if err != nil {
		return "", fmt.Errorf("failed to update queue index: %w", err)
	}
	if err := recordEvent(ctx, q, &types.AuditEvent{Type: types.AuditQueueCreated, Actor: actor, Detail: id}); err != nil {
		return "", err
	}
	return id, nil
}

// CreateQueue creates a new empty queue and makes it active.
func (s *SQLiteStore) CreateQueue(ctx context.Context, actor string) (*types.Queue, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	id, err := insertQueue(ctx, tx, actor)
	if err != nil {
		return nil, err
	}
	queue, err := loadQueue(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return queue, nil
}

// GetQueue retrieves a queue with its items. Returns (nil, nil) if not found.
func (s *SQLiteStore) GetQueue(ctx context.Context, id string) (*types.Queue, error) {
	return loadQueue(ctx, s.db, id)
}

// GetActiveQueue returns the queue the index points at, or (nil, nil) when
// there is none.
func (s *SQLiteStore) GetActiveQueue(ctx context.Context) (*types.Queue, error) {
	id, err := activeQueueID(ctx, s.db)
	if err != nil {
		return nil, err
	}
	if id == "" {
		return nil, nil
	}
	return loadQueue(ctx, s.db, id)
}

// ListQueues returns summaries of all queues, newest first.
func (s *SQLiteStore) ListQueues(ctx context.Context) ([]*types.QueueSummary, error) {
	activeID, err := activeQueueID(ctx, s.db)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT id, status, created_at FROM queues ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list queues: %w", err)
	}
	defer rows.Close()

	var summaries []*types.QueueSummary
	for rows.Next() {
		var sum types.QueueSummary
		if err := rows.Scan(&sum.ID, &sum.Status, &sum.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan queue: %w", err)
		}
		sum.Active = sum.ID == activeID
		summaries = append(summaries, &sum)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Fill derived counts per queue.
	for _, sum := range summaries {
		err := s.db.QueryRowContext(ctx, `
			SELECT COUNT(*),
			       COALESCE(SUM(status = 'executing'), 0),
			       COALESCE(SUM(status = 'completed'), 0),
			       COALESCE(SUM(status = 'failed'), 0)
			FROM queue_items WHERE queue_id = ?
		`, sum.ID).Scan(&sum.Metadata.Total, &sum.Metadata.Executing, &sum.Metadata.Completed, &sum.Metadata.Failed)
		if err != nil {
			return nil, fmt.Errorf("failed to count queue items: %w", err)
		}
		sum.Metadata.Pending = sum.Metadata.Total - sum.Metadata.Executing - sum.Metadata.Completed - sum.Metadata.Failed
	}
	return summaries, nil
}

// SwitchActiveQueue points the index at an existing, non-archived queue.
func (s *SQLiteStore) SwitchActiveQueue(ctx context.Context, id string, actor string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var status types.QueueStatus
	err = tx.QueryRowContext(ctx, `SELECT status FROM queues WHERE id = ?`, id).Scan(&status)
	if err == sql.ErrNoRows {
		return fmt.Errorf("queue %s not found", id)
	}
	if err != nil {
		return fmt.Errorf("failed to get queue: %w", err)
	}
	if status == types.QueueStatusArchived {
		return fmt.Errorf("queue %s is archived", id)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE queue_index SET active_queue_id = ? WHERE k = 1`, id); err != nil {
		return fmt.Errorf("failed to update queue index: %w", err)
	}
	if err := recordEvent(ctx, tx, &types.AuditEvent{Type: types.AuditQueueSwitched, Actor: actor, Detail: id}); err != nil {
		return err
	}
	return tx.Commit()
}

// ArchiveQueue marks a queue archived; if it was the active queue, the
// index is cleared so the next enqueue creates a fresh queue.
func (s *SQLiteStore) ArchiveQueue(ctx context.Context, id string, actor string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `UPDATE queues SET status = ?, updated_at = ? WHERE id = ?`,
		types.QueueStatusArchived, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to archive queue: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check archive result: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("queue %s not found", id)
	}

	activeID, err := activeQueueID(ctx, tx)
	if err != nil {
		return err
	}
	if activeID == id {
		if _, err := tx.ExecContext(ctx, `UPDATE queue_index SET active_queue_id = NULL WHERE k = 1`); err != nil {
			return fmt.Errorf("failed to clear queue index: %w", err)
		}
	}

	if err := recordEvent(ctx, tx, &types.AuditEvent{Type: types.AuditQueueArchived, Actor: actor, Detail: id}); err != nil {
		return err
	}
	return tx.Commit()
}

// Enqueue appends queue items for every task of the issue's bound solution
// that is not already present in the active queue. Task-level depends_on ids
// are resolved to queue item ids within the same batch. If the current
// active queue is not in active status, a fresh queue is created and
// becomes active. The whole batch is one transaction.
func (s *SQLiteStore) Enqueue(ctx context.Context, issueID string, actor string) (*types.Queue, []*types.QueueItem, error) {
	// A dedicated connection so BEGIN IMMEDIATE serializes concurrent
	// enqueue batches (and their counter increments) across processes.
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE"); err != nil {
		return nil, nil, fmt.Errorf("failed to begin immediate transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_, _ = conn.ExecContext(context.Background(), "ROLLBACK")
		}
	}()

	issue, err := getIssueTx(ctx, conn, issueID)
	if err != nil {
		return nil, nil, err
	}
	if issue == nil {
		return nil, nil, fmt.Errorf("issue %s not found", issueID)
	}
	if issue.BoundSolutionID == "" {
		return nil, nil, fmt.Errorf("issue %s has no bound solution", issueID)
	}

	sol, err := scanSolution(conn.QueryRowContext(ctx,
		`SELECT `+solutionColumns+` FROM solutions WHERE issue_id = ? AND is_bound = 1`, issueID))
	if err == sql.ErrNoRows {
		return nil, nil, fmt.Errorf("issue %s has no bound solution", issueID)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get bound solution: %w", err)
	}

	// Resolve the target queue: reuse the active one, or create a new queue
	// when the index is empty or points at a non-active queue.
	queueID, err := activeQueueID(ctx, conn)
	if err != nil {
		return nil, nil, err
	}
	if queueID != "" {
		var status types.QueueStatus
		err := conn.QueryRowContext(ctx, `SELECT status FROM queues WHERE id = ?`, queueID).Scan(&status)
		if err == sql.ErrNoRows {
			queueID = ""
		} else if err != nil {
			return nil, nil, fmt.Errorf("failed to get queue: %w", err)
		} else if status != types.QueueStatusActive {
			queueID = ""
		}
	}
	if queueID == "" {
		queueID, err = insertQueue(ctx, conn, actor)
		if err != nil {
			return nil, nil, err
		}
	}

	// Existing items for this issue in the queue: used both for dedupe and
	// for resolving dependencies on previously enqueued tasks.
	taskToItem := make(map[string]string)
	rows, err := conn.QueryContext(ctx,
		`SELECT id, task_id FROM queue_items WHERE queue_id = ? AND issue_id = ?`, queueID, issueID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to query existing items: %w", err)
	}
	for rows.Next() {
		var itemID, taskID string
		if err := rows.Scan(&itemID, &taskID); err != nil {
			rows.Close()
			return nil, nil, fmt.Errorf("failed to scan existing item: %w", err)
		}
		taskToItem[taskID] = itemID
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	var newTasks []types.SolutionTask
	for _, task := range sol.Tasks {
		if _, exists := taskToItem[task.ID]; !exists {
			newTasks = append(newTasks, task)
		}
	}

	// Assign item ids for the batch before inserting so sibling
	// dependencies resolve regardless of task order.
	for _, task := range newTasks {
		n, err := nextID(ctx, conn, "queue_item")
		if err != nil {
			return nil, nil, err
		}
		taskToItem[task.ID] = fmt.Sprintf("qi-%d", n)
	}

	var maxOrder int
	err = conn.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(execution_order), 0) FROM queue_items WHERE queue_id = ?`, queueID).Scan(&maxOrder)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read execution order: %w", err)
	}

	now := time.Now()
	var inserted []*types.QueueItem
	for _, task := range newTasks {
		deps := make([]string, 0, len(task.DependsOn))
		for _, depTask := range task.DependsOn {
			if depItem, ok := taskToItem[depTask]; ok {
				deps = append(deps, depItem)
			}
		}
		depsJSON, err := json.Marshal(deps)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to encode depends_on: %w", err)
		}

		executor := task.Executor
		if executor == "" {
			executor = types.ExecutorAuto
		}

		maxOrder++
		item := &types.QueueItem{
			ID:               taskToItem[task.ID],
			QueueID:          queueID,
			IssueID:          issueID,
			SolutionID:       sol.ID,
			TaskID:           task.ID,
			Title:            task.Title,
			Status:           types.ItemStatusQueued,
			ExecutionOrder:   maxOrder,
			DependsOn:        deps,
			AssignedExecutor: executor,
			SemanticPriority: issue.Priority,
			ResumeKey:        issueID,
			QueuedAt:         now,
		}

		_, err = conn.ExecContext(ctx, `
			INSERT INTO queue_items (id, queue_id, issue_id, solution_id, task_id, title, status,
				execution_order, execution_group, depends_on, assigned_executor, semantic_priority,
				resume_key, queued_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, item.ID, item.QueueID, item.IssueID, item.SolutionID, item.TaskID, item.Title, item.Status,
			item.ExecutionOrder, item.ExecutionGroup, string(depsJSON), item.AssignedExecutor,
			item.SemanticPriority, item.ResumeKey, item.QueuedAt)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to insert queue item: %w", err)
		}
		inserted = append(inserted, item)
	}

	// Track the issue on the queue and advance its status.
	var issueIDsJSON string
	if err := conn.QueryRowContext(ctx, `SELECT issue_ids FROM queues WHERE id = ?`, queueID).Scan(&issueIDsJSON); err != nil {
		return nil, nil, fmt.Errorf("failed to read queue issue_ids: %w", err)
	}
	var issueIDs []string
	if err := json.Unmarshal([]byte(issueIDsJSON), &issueIDs); err != nil {
		return nil, nil, fmt.Errorf("failed to decode issue_ids: %w", err)
	}
	present := false
	for _, id := range issueIDs {
		if id == issueID {
			present = true
			break
		}
	}
	if !present {
		issueIDs = append(issueIDs, issueID)
		updated, err := json.Marshal(issueIDs)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to encode issue_ids: %w", err)
		}
		if _, err := conn.ExecContext(ctx, `UPDATE queues SET issue_ids = ?, updated_at = ? WHERE id = ?`,
			string(updated), now, queueID); err != nil {
			return nil, nil, fmt.Errorf("failed to update queue: %w", err)
		}
	}

	if len(inserted) > 0 {
		if err := updateIssueStatusTx(ctx, conn, issueID, types.IssueStatusQueued, actor); err != nil {
			return nil, nil, err
		}
		ev := &types.AuditEvent{
			IssueID: issueID,
			Type:    types.AuditItemsEnqueued,
			Actor:   actor,
			Detail:  fmt.Sprintf("%d item(s) into %s", len(inserted), queueID),
		}
		if err := recordEvent(ctx, conn, ev); err != nil {
			return nil, nil, err
		}
	}

	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		return nil, nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	committed = true

	// Reload on the held connection; the pool may have no other one.
	queue, err := loadQueue(ctx, conn, queueID)
	if err != nil {
		return nil, nil, err
	}
	return queue, inserted, nil
}

// GetQueueItem retrieves a queue item by ID. Returns (nil, nil) if not found.
func (s *SQLiteStore) GetQueueItem(ctx context.Context, id string) (*types.QueueItem, error) {
	item, err := scanItem(s.db.QueryRowContext(ctx,
		`SELECT `+itemColumns+` FROM queue_items WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get queue item: %w", err)
	}
	return item, nil
}

// MarkItemExecuting transitions an item to executing after verifying every
// dependency is completed. An item already executing is treated as a resume
// (restart recovery): the original started_at is preserved and the second
// return value is true.
func (s *SQLiteStore) MarkItemExecuting(ctx context.Context, id string, executor string, actor string) (*types.QueueItem, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	item, err := scanItem(tx.QueryRowContext(ctx,
		`SELECT `+itemColumns+` FROM queue_items WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, false, fmt.Errorf("queue item %s not found", id)
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get queue item: %w", err)
	}

	if item.Status.IsTerminal() {
		return nil, false, fmt.Errorf("invalid transition: item %s is already %s", id, item.Status)
	}
	if item.Status == types.ItemStatusBlocked {
		return nil, false, fmt.Errorf("item %s is blocked by an unresolvable dependency", id)
	}
	resume := item.Status == types.ItemStatusExecuting

	// Dependency gate: every in-queue dependency must be completed.
	for _, depID := range item.DependsOn {
		var depStatus types.QueueItemStatus
		err := tx.QueryRowContext(ctx,
			`SELECT status FROM queue_items WHERE id = ? AND queue_id = ?`, depID, item.QueueID).Scan(&depStatus)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return nil, false, fmt.Errorf("failed to check dependency %s: %w", depID, err)
		}
		if depStatus != types.ItemStatusCompleted {
			return nil, false, fmt.Errorf("item %s has unmet dependency %s (%s)", id, depID, depStatus)
		}
	}

	now := time.Now()
	startedAt := now
	if item.StartedAt != nil {
		startedAt = *item.StartedAt
	}
	if executor == "" {
		executor = item.AssignedExecutor
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE queue_items SET status = ?, started_at = ?, assigned_executor = ? WHERE id = ?
	`, types.ItemStatusExecuting, startedAt, executor, id)
	if err != nil {
		return nil, false, fmt.Errorf("failed to mark item executing: %w", err)
	}

	if err := updateIssueStatusTx(ctx, tx, item.IssueID, types.IssueStatusExecuting, actor); err != nil {
		return nil, false, err
	}

	detail := "started"
	if resume {
		detail = "resumed"
	}
	ev := &types.AuditEvent{
		IssueID:     item.IssueID,
		QueueItemID: id,
		Type:        types.AuditItemStarted,
		Actor:       actor,
		Detail:      detail,
	}
	if err := recordEvent(ctx, tx, ev); err != nil {
		return nil, false, err
	}

	if err := tx.Commit(); err != nil {
		return nil, false, err
	}

	item.Status = types.ItemStatusExecuting
	item.StartedAt = &startedAt
	item.AssignedExecutor = executor
	return item, resume, nil
}

// MarkItemsBlocked marks still-eligible items as blocked. Used by the
// engine when the resolver reports unresolvable dependency sets.
func (s *SQLiteStore) MarkItemsBlocked(ctx context.Context, ids []string, actor string) error {
	if len(ids) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]interface{}, 0, len(ids))
	for _, id := range ids {
		args = append(args, id)
	}

	_, err = tx.ExecContext(ctx, fmt.Sprintf(`
		UPDATE queue_items SET status = ?
		WHERE id IN (%s) AND status IN ('pending', 'queued', 'ready')
	`, placeholders), append([]interface{}{types.ItemStatusBlocked}, args...)...)
	if err != nil {
		return fmt.Errorf("failed to mark items blocked: %w", err)
	}

	// Blocking can settle an issue or a whole queue, so the same rollups
	// run here as on a recorded outcome.
	rows, err := tx.QueryContext(ctx, fmt.Sprintf(`
		SELECT DISTINCT queue_id, issue_id FROM queue_items WHERE id IN (%s)
	`, placeholders), args...)
	if err != nil {
		return fmt.Errorf("failed to query blocked items: %w", err)
	}
	type pair struct{ queueID, issueID string }
	var pairs []pair
	for rows.Next() {
		var p pair
		if err := rows.Scan(&p.queueID, &p.issueID); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan blocked item: %w", err)
		}
		pairs = append(pairs, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}
	queues := make(map[string]bool)
	for _, p := range pairs {
		if err := rollupIssue(ctx, tx, p.queueID, p.issueID, actor); err != nil {
			return err
		}
		queues[p.queueID] = true
	}
	for queueID := range queues {
		if err := rollupQueue(ctx, tx, queueID); err != nil {
			return err
		}
	}

	ev := &types.AuditEvent{
		Type:   types.AuditItemsBlocked,
		Actor:  actor,
		Detail: strings.Join(ids, ", "),
	}
	if err := recordEvent(ctx, tx, ev); err != nil {
		return err
	}
	return tx.Commit()
}

// RecordOutcome sets the terminal status of an item and cascades the issue
// and queue rollups in the same transaction. Recording an outcome for an
// already-terminal item is rejected as an invalid transition, which makes
// duplicate completion callbacks harmless.
func (s *SQLiteStore) RecordOutcome(ctx context.Context, id string, outcome types.ItemOutcome, actor string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	item, err := scanItem(tx.QueryRowContext(ctx,
		`SELECT `+itemColumns+` FROM queue_items WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return fmt.Errorf("queue item %s not found", id)
	}
	if err != nil {
		return fmt.Errorf("failed to get queue item: %w", err)
	}
	if item.Status.IsTerminal() {
		return fmt.Errorf("invalid transition: item %s is already %s", id, item.Status)
	}

	now := time.Now()
	status := outcome.Status()
	_, err = tx.ExecContext(ctx, `
		UPDATE queue_items SET status = ?, result = ?, failure_reason = ?, completed_at = ? WHERE id = ?
	`, status, outcome.Result, outcome.FailureReason, now, id)
	if err != nil {
		return fmt.Errorf("failed to record outcome: %w", err)
	}

	if err := rollupIssue(ctx, tx, item.QueueID, item.IssueID, actor); err != nil {
		return err
	}
	if err := rollupQueue(ctx, tx, item.QueueID); err != nil {
		return err
	}

	evType := types.AuditItemCompleted
	detail := outcome.Result
	if !outcome.Success {
		evType = types.AuditItemFailed
		detail = outcome.FailureReason
	}
	ev := &types.AuditEvent{
		IssueID:     item.IssueID,
		QueueItemID: id,
		Type:        evType,
		Actor:       actor,
		Detail:      detail,
	}
	if err := recordEvent(ctx, tx, ev); err != nil {
		return err
	}

	return tx.Commit()
}

// rollupIssue recomputes an issue's status from its queue items: all
// completed means completed, any failed means failed, otherwise the issue
// stays in executing/queued.
func rollupIssue(ctx context.Context, tx *sql.Tx, queueID, issueID, actor string) error {
	rows, err := tx.QueryContext(ctx,
		`SELECT status FROM queue_items WHERE queue_id = ? AND issue_id = ?`, queueID, issueID)
	if err != nil {
		return fmt.Errorf("failed to query issue items: %w", err)
	}
	var statuses []types.QueueItemStatus
	for rows.Next() {
		var st types.QueueItemStatus
		if err := rows.Scan(&st); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan item status: %w", err)
		}
		statuses = append(statuses, st)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	allCompleted := len(statuses) > 0
	anyFailed := false
	anyExecuting := false
	anyBlocked := false
	anyEligible := false
	for _, st := range statuses {
		if st != types.ItemStatusCompleted {
			allCompleted = false
		}
		if st == types.ItemStatusFailed {
			anyFailed = true
		}
		if st == types.ItemStatusExecuting {
			anyExecuting = true
		}
		if st == types.ItemStatusBlocked {
			anyBlocked = true
		}
		if st.Eligible() {
			anyEligible = true
		}
	}

	var next types.IssueStatus
	switch {
	case allCompleted:
		next = types.IssueStatusCompleted
	case anyFailed:
		next = types.IssueStatusFailed
	case anyExecuting:
		next = types.IssueStatusExecuting
	case anyBlocked && !anyEligible:
		// Nothing left that could run; the issue cannot finish.
		next = types.IssueStatusFailed
	default:
		next = types.IssueStatusQueued
	}
	return updateIssueStatusTx(ctx, tx, issueID, next, actor)
}

// rollupQueue recomputes a queue's status: completed when every item is
// completed; failed when every item is settled (terminal or blocked) and
// at least one did not complete; otherwise the queue stays as it is.
func rollupQueue(ctx context.Context, tx *sql.Tx, queueID string) error {
	var total, completed, failed, terminal int
	err := tx.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(status = 'completed'), 0),
		       COALESCE(SUM(status = 'failed'), 0),
		       COALESCE(SUM(status IN ('completed', 'failed', 'cancelled', 'blocked')), 0)
		FROM queue_items WHERE queue_id = ?
	`, queueID).Scan(&total, &completed, &failed, &terminal)
	if err != nil {
		return fmt.Errorf("failed to count queue items: %w", err)
	}

	var next types.QueueStatus
	switch {
	case total > 0 && completed == total:
		next = types.QueueStatusCompleted
	case total > 0 && terminal == total:
		next = types.QueueStatusFailed
	default:
		return nil
	}

	_, err = tx.ExecContext(ctx, `UPDATE queues SET status = ?, updated_at = ? WHERE id = ?`,
		next, time.Now(), queueID)
	if err != nil {
		return fmt.Errorf("failed to update queue status: %w", err)
	}
	return nil
}

// RetryFailed resets failed items in the active queue to pending, clearing
// failure bookkeeping. Scoped to one issue when issueID is non-empty. With
// force, items executing longer than stuckThreshold are also reset (the
// operator's explicit acknowledgement that the run is abandoned). Blocked
// items in scope are returned to pending so they are re-evaluated once
// their reset dependencies complete.
func (s *SQLiteStore) RetryFailed(ctx context.Context, issueID string, force bool, stuckThreshold time.Duration, actor string) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	queueID, err := activeQueueID(ctx, tx)
	if err != nil {
		return 0, err
	}
	if queueID == "" {
		return 0, fmt.Errorf("no active queue")
	}

	scope := ""
	args := []interface{}{queueID}
	if issueID != "" {
		scope = " AND issue_id = ?"
		args = append(args, issueID)
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE queue_items
		SET status = 'pending', failure_reason = '', started_at = NULL, completed_at = NULL
		WHERE queue_id = ? AND status IN ('failed', 'blocked')`+scope, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to reset failed items: %w", err)
	}
	count64, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to check retry result: %w", err)
	}
	count := int(count64)

	if force {
		cutoff := time.Now().Add(-stuckThreshold)
		forceArgs := append([]interface{}{cutoff}, args...)
		res, err := tx.ExecContext(ctx, `
			UPDATE queue_items
			SET status = 'pending', started_at = NULL
			WHERE started_at < ? AND queue_id = ? AND status = 'executing'`+scope, forceArgs...)
		if err != nil {
			return 0, fmt.Errorf("failed to reset stuck items: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("failed to check force-retry result: %w", err)
		}
		count += int(n)
	}

	if count > 0 {
		// A queue that had settled into failed is live again.
		_, err = tx.ExecContext(ctx, `
			UPDATE queues SET status = 'active', updated_at = ? WHERE id = ? AND status = 'failed'
		`, time.Now(), queueID)
		if err != nil {
			return 0, fmt.Errorf("failed to reactivate queue: %w", err)
		}

		// Affected issues return to queued.
		issueScope := map[string]bool{}
		rows, err := tx.QueryContext(ctx,
			`SELECT DISTINCT issue_id FROM queue_items WHERE queue_id = ? AND status = 'pending'`, queueID)
		if err != nil {
			return 0, fmt.Errorf("failed to query retried issues: %w", err)
		}
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return 0, fmt.Errorf("failed to scan issue id: %w", err)
			}
			if issueID == "" || id == issueID {
				issueScope[id] = true
			}
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return 0, err
		}
		for id := range issueScope {
			if err := updateIssueStatusTx(ctx, tx, id, types.IssueStatusQueued, actor); err != nil {
				return 0, err
			}
		}

		ev := &types.AuditEvent{
			IssueID: issueID,
			Type:    types.AuditItemsRetried,
			Actor:   actor,
			Detail:  fmt.Sprintf("%d item(s) reset to pending", count),
		}
		if err := recordEvent(ctx, tx, ev); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return count, nil
}
