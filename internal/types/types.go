package types

import (
	"fmt"
	"strings"
	"time"
)

// Issue represents a trackable unit of work driven through the scheduler.
type Issue struct {
	ID              string     `json:"id"`
	Title           string     `json:"title"`
	Status          IssueStatus `json:"status"`
	Priority        int        `json:"priority"`
	BoundSolutionID string     `json:"bound_solution_id,omitempty"`
	SolutionCount   int        `json:"solution_count"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	PlannedAt       *time.Time `json:"planned_at,omitempty"`
	QueuedAt        *time.Time `json:"queued_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
}

// Validate checks if the issue has valid field values
func (i *Issue) Validate() error {
	if strings.TrimSpace(i.ID) == "" {
		return fmt.Errorf("id is required")
	}
	if strings.ContainsAny(i.ID, " \t\n") {
		return fmt.Errorf("id must not contain whitespace (got %q)", i.ID)
	}
	if len(i.Title) > 500 {
		return fmt.Errorf("title must be 500 characters or less (got %d)", len(i.Title))
	}
	if i.Priority < 0 || i.Priority > 4 {
		return fmt.Errorf("priority must be between 0 and 4 (got %d)", i.Priority)
	}
	if !i.Status.IsValid() {
		return fmt.Errorf("invalid status: %s", i.Status)
	}
	return nil
}

// IssueStatus represents the lifecycle state of an issue
type IssueStatus string

const (
	IssueStatusRegistered IssueStatus = "registered"
	IssueStatusPlanning   IssueStatus = "planning"
	IssueStatusPlanned    IssueStatus = "planned"
	IssueStatusQueued     IssueStatus = "queued"
	IssueStatusExecuting  IssueStatus = "executing"
	IssueStatusCompleted  IssueStatus = "completed"
	IssueStatusFailed     IssueStatus = "failed"
	IssueStatusPaused     IssueStatus = "paused"
)

// IsValid checks if the status value is valid
func (s IssueStatus) IsValid() bool {
	switch s {
	case IssueStatusRegistered, IssueStatusPlanning, IssueStatusPlanned,
		IssueStatusQueued, IssueStatusExecuting, IssueStatusCompleted,
		IssueStatusFailed, IssueStatusPaused:
		return true
	}
	return false
}

// IsTerminal reports whether the status is a terminal state
func (s IssueStatus) IsTerminal() bool {
	return s == IssueStatusCompleted || s == IssueStatusFailed
}

// Solution is a proposed ordered set of tasks for an issue. At most one
// solution per issue may be bound at a time; binding is what makes its
// tasks eligible for enqueueing.
type Solution struct {
	ID          string         `json:"id"`
	IssueID     string         `json:"issue_id"`
	Description string         `json:"description,omitempty"`
	Tasks       []SolutionTask `json:"tasks"`
	IsBound     bool           `json:"is_bound"`
	CreatedAt   time.Time      `json:"created_at"`
	BoundAt     *time.Time     `json:"bound_at,omitempty"`
}

// Validate checks if the solution has valid field values
func (s *Solution) Validate() error {
	if len(s.Tasks) == 0 {
		return fmt.Errorf("solution must contain at least one task")
	}
	seen := make(map[string]bool, len(s.Tasks))
	for i := range s.Tasks {
		t := &s.Tasks[i]
		if err := t.Validate(); err != nil {
			return fmt.Errorf("task %d: %w", i, err)
		}
		if seen[t.ID] {
			return fmt.Errorf("duplicate task id %q", t.ID)
		}
		seen[t.ID] = true
	}
	// Dependencies must reference sibling tasks
	for i := range s.Tasks {
		for _, dep := range s.Tasks[i].DependsOn {
			if !seen[dep] {
				return fmt.Errorf("task %q depends on unknown task %q", s.Tasks[i].ID, dep)
			}
			if dep == s.Tasks[i].ID {
				return fmt.Errorf("task %q depends on itself", s.Tasks[i].ID)
			}
		}
	}
	return nil
}

// ExecutorAuto lets the scheduler pick the executor tool for a task.
const ExecutorAuto = "auto"

// SolutionTask is a task template within a solution. Immutable once its
// solution's tasks are enqueued, except for status bookkeeping on the
// resulting queue items.
type SolutionTask struct {
	ID               string   `json:"id"`
	Title            string   `json:"title"`
	Scope            string   `json:"scope,omitempty"`
	Action           string   `json:"action,omitempty"`
	DependsOn        []string `json:"depends_on,omitempty"`
	Executor         string   `json:"executor,omitempty"` // tool name or "auto"
	EstimatedMinutes int      `json:"estimated_minutes,omitempty"`
}

// Validate checks if the task has valid field values
func (t *SolutionTask) Validate() error {
	if strings.TrimSpace(t.ID) == "" {
		return fmt.Errorf("task id is required")
	}
	if strings.TrimSpace(t.Title) == "" {
		return fmt.Errorf("task title is required")
	}
	if t.EstimatedMinutes < 0 {
		return fmt.Errorf("estimated_minutes cannot be negative")
	}
	return nil
}
