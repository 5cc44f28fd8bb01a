package types

import (
	"fmt"
	"time"
)

// QueueItemStatus represents the state of a queue item
type QueueItemStatus string

const (
	ItemStatusPending   QueueItemStatus = "pending"
	ItemStatusQueued    QueueItemStatus = "queued"
	ItemStatusReady     QueueItemStatus = "ready"
	ItemStatusExecuting QueueItemStatus = "executing"
	ItemStatusCompleted QueueItemStatus = "completed"
	ItemStatusFailed    QueueItemStatus = "failed"
	ItemStatusBlocked   QueueItemStatus = "blocked"
	ItemStatusCancelled QueueItemStatus = "cancelled"
)

// IsValid checks if the item status value is valid
func (s QueueItemStatus) IsValid() bool {
	switch s {
	case ItemStatusPending, ItemStatusQueued, ItemStatusReady, ItemStatusExecuting,
		ItemStatusCompleted, ItemStatusFailed, ItemStatusBlocked, ItemStatusCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether the status is a terminal state
func (s QueueItemStatus) IsTerminal() bool {
	switch s {
	case ItemStatusCompleted, ItemStatusFailed, ItemStatusCancelled:
		return true
	}
	return false
}

// Eligible reports whether an item in this status may be considered for
// dispatch once its dependencies are satisfied.
func (s QueueItemStatus) Eligible() bool {
	return s == ItemStatusPending || s == ItemStatusQueued || s == ItemStatusReady
}

// QueueItem is the schedulable instance of a solution task. DependsOn holds
// queue item IDs within the same queue, resolved from task-level depends_on
// at enqueue time. An item with any non-completed dependency may never
// transition to executing.
type QueueItem struct {
	ID               string          `json:"id"`
	QueueID          string          `json:"queue_id"`
	IssueID          string          `json:"issue_id"`
	SolutionID       string          `json:"solution_id"`
	TaskID           string          `json:"task_id"`
	Title            string          `json:"title"`
	Status           QueueItemStatus `json:"status"`
	ExecutionOrder   int             `json:"execution_order"`
	ExecutionGroup   string          `json:"execution_group,omitempty"`
	DependsOn        []string        `json:"depends_on,omitempty"`
	AssignedExecutor string          `json:"assigned_executor,omitempty"`
	SemanticPriority int             `json:"semantic_priority"`
	ResumeKey        string          `json:"resume_key"`
	QueuedAt         time.Time       `json:"queued_at"`
	StartedAt        *time.Time      `json:"started_at,omitempty"`
	CompletedAt      *time.Time      `json:"completed_at,omitempty"`
	Result           string          `json:"result,omitempty"`
	FailureReason    string          `json:"failure_reason,omitempty"`
}

// Validate checks if the queue item has valid field values
func (q *QueueItem) Validate() error {
	if q.ID == "" {
		return fmt.Errorf("id is required")
	}
	if q.QueueID == "" {
		return fmt.Errorf("queue_id is required")
	}
	if q.IssueID == "" {
		return fmt.Errorf("issue_id is required")
	}
	if q.TaskID == "" {
		return fmt.Errorf("task_id is required")
	}
	if !q.Status.IsValid() {
		return fmt.Errorf("invalid status: %s", q.Status)
	}
	for _, dep := range q.DependsOn {
		if dep == q.ID {
			return fmt.Errorf("item %s depends on itself", q.ID)
		}
	}
	return nil
}

// ItemOutcome records the terminal result of a queue item execution.
type ItemOutcome struct {
	Success       bool   `json:"success"`
	Result        string `json:"result,omitempty"`
	FailureReason string `json:"failure_reason,omitempty"`
}

// Status returns the terminal item status the outcome maps to.
func (o ItemOutcome) Status() QueueItemStatus {
	if o.Success {
		return ItemStatusCompleted
	}
	return ItemStatusFailed
}

// QueueStatus represents the lifecycle state of a queue
type QueueStatus string

const (
	QueueStatusActive    QueueStatus = "active"
	QueueStatusCompleted QueueStatus = "completed"
	QueueStatusArchived  QueueStatus = "archived"
	QueueStatusFailed    QueueStatus = "failed"
)

// IsValid checks if the queue status value is valid
func (s QueueStatus) IsValid() bool {
	switch s {
	case QueueStatusActive, QueueStatusCompleted, QueueStatusArchived, QueueStatusFailed:
		return true
	}
	return false
}

// QueueMetadata holds derived per-queue counts.
type QueueMetadata struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Executing int `json:"executing"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// Queue is a named collection of queue items. Exactly one queue is active
// at a time per the queue index; the rest are historical.
type Queue struct {
	ID        string        `json:"id"`
	Status    QueueStatus   `json:"status"`
	IssueIDs  []string      `json:"issue_ids"`
	Items     []*QueueItem  `json:"items"`
	Metadata  QueueMetadata `json:"_metadata"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// ComputeMetadata recomputes the derived counts from Items.
func (q *Queue) ComputeMetadata() {
	m := QueueMetadata{Total: len(q.Items)}
	for _, item := range q.Items {
		switch item.Status {
		case ItemStatusExecuting:
			m.Executing++
		case ItemStatusCompleted:
			m.Completed++
		case ItemStatusFailed:
			m.Failed++
		default:
			m.Pending++
		}
	}
	q.Metadata = m
}

// QueueSummary is the per-queue entry stored in the queue index.
type QueueSummary struct {
	ID        string        `json:"id"`
	Status    QueueStatus   `json:"status"`
	Active    bool          `json:"active"`
	Metadata  QueueMetadata `json:"_metadata"`
	CreatedAt time.Time     `json:"created_at"`
}
