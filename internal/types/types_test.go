package types

import (
	"testing"
	"time"
)

func TestIssueValidate(t *testing.T) {
	now := time.Now()
	issue := Issue{
		ID:        "BUG-1",
		Title:     "Fix login flow",
		Status:    IssueStatusRegistered,
		Priority:  2,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := issue.Validate(); err != nil {
		t.Errorf("valid issue failed validation: %v", err)
	}

	bad := issue
	bad.ID = ""
	if err := bad.Validate(); err == nil {
		t.Error("expected error for empty id")
	}

	bad = issue
	bad.ID = "BUG 1"
	if err := bad.Validate(); err == nil {
		t.Error("expected error for id with whitespace")
	}

	bad = issue
	bad.Priority = 9
	if err := bad.Validate(); err == nil {
		t.Error("expected error for out-of-range priority")
	}

	bad = issue
	bad.Status = "wat"
	if err := bad.Validate(); err == nil {
		t.Error("expected error for invalid status")
	}
}

func TestIssueStatusTerminal(t *testing.T) {
	terminal := []IssueStatus{IssueStatusCompleted, IssueStatusFailed}
	for _, s := range terminal {
		if !s.IsTerminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	nonTerminal := []IssueStatus{
		IssueStatusRegistered, IssueStatusPlanning, IssueStatusPlanned,
		IssueStatusQueued, IssueStatusExecuting, IssueStatusPaused,
	}
	for _, s := range nonTerminal {
		if s.IsTerminal() {
			t.Errorf("%s should not be terminal", s)
		}
		if !s.IsValid() {
			t.Errorf("%s should be valid", s)
		}
	}
}

func TestSolutionValidate(t *testing.T) {
	sol := Solution{
		ID:      "sol-1",
		IssueID: "BUG-1",
		Tasks: []SolutionTask{
			{ID: "T1", Title: "Write failing test"},
			{ID: "T2", Title: "Fix the bug", DependsOn: []string{"T1"}},
		},
	}
	if err := sol.Validate(); err != nil {
		t.Errorf("valid solution failed validation: %v", err)
	}

	empty := Solution{ID: "sol-2", IssueID: "BUG-1"}
	if err := empty.Validate(); err == nil {
		t.Error("expected error for solution without tasks")
	}

	dup := sol
	dup.Tasks = []SolutionTask{
		{ID: "T1", Title: "a"},
		{ID: "T1", Title: "b"},
	}
	if err := dup.Validate(); err == nil {
		t.Error("expected error for duplicate task ids")
	}

	dangling := sol
	dangling.Tasks = []SolutionTask{
		{ID: "T1", Title: "a", DependsOn: []string{"T9"}},
	}
	if err := dangling.Validate(); err == nil {
		t.Error("expected error for dependency on unknown task")
	}

	selfDep := sol
	selfDep.Tasks = []SolutionTask{
		{ID: "T1", Title: "a", DependsOn: []string{"T1"}},
	}
	if err := selfDep.Validate(); err == nil {
		t.Error("expected error for self-dependency")
	}
}

func TestQueueItemStatus(t *testing.T) {
	for _, s := range []QueueItemStatus{ItemStatusCompleted, ItemStatusFailed, ItemStatusCancelled} {
		if !s.IsTerminal() {
			t.Errorf("%s should be terminal", s)
		}
		if s.Eligible() {
			t.Errorf("%s should not be eligible", s)
		}
	}
	for _, s := range []QueueItemStatus{ItemStatusPending, ItemStatusQueued, ItemStatusReady} {
		if !s.Eligible() {
			t.Errorf("%s should be eligible", s)
		}
	}
	if ItemStatusExecuting.IsTerminal() || ItemStatusExecuting.Eligible() {
		t.Error("executing must be neither terminal nor eligible")
	}
}

func TestQueueComputeMetadata(t *testing.T) {
	q := Queue{
		ID:     "q-1",
		Status: QueueStatusActive,
		Items: []*QueueItem{
			{ID: "qi-1", Status: ItemStatusPending},
			{ID: "qi-2", Status: ItemStatusExecuting},
			{ID: "qi-3", Status: ItemStatusCompleted},
			{ID: "qi-4", Status: ItemStatusFailed},
			{ID: "qi-5", Status: ItemStatusBlocked},
		},
	}
	q.ComputeMetadata()
	if q.Metadata.Total != 5 {
		t.Errorf("total = %d, want 5", q.Metadata.Total)
	}
	if q.Metadata.Executing != 1 || q.Metadata.Completed != 1 || q.Metadata.Failed != 1 {
		t.Errorf("unexpected counts: %+v", q.Metadata)
	}
	// blocked counts as pending for summary purposes
	if q.Metadata.Pending != 2 {
		t.Errorf("pending = %d, want 2", q.Metadata.Pending)
	}
}

func TestSchedulerStatusTransitions(t *testing.T) {
	tests := []struct {
		from  SchedulerStatus
		to    SchedulerStatus
		valid bool
	}{
		{SchedulerIdle, SchedulerRunning, true},
		{SchedulerIdle, SchedulerPaused, false},
		{SchedulerRunning, SchedulerPaused, true},
		{SchedulerRunning, SchedulerStopping, true},
		{SchedulerRunning, SchedulerCompleted, true},
		{SchedulerRunning, SchedulerFailed, true},
		{SchedulerPaused, SchedulerRunning, true},
		{SchedulerPaused, SchedulerCompleted, false},
		{SchedulerStopping, SchedulerCompleted, true},
		{SchedulerCompleted, SchedulerRunning, true},
		// reset escape hatch: idle reachable from anywhere
		{SchedulerRunning, SchedulerIdle, true},
		{SchedulerFailed, SchedulerIdle, true},
	}
	for _, tt := range tests {
		if got := tt.from.CanTransitionTo(tt.to); got != tt.valid {
			t.Errorf("%s -> %s: got %v, want %v", tt.from, tt.to, got, tt.valid)
		}
	}
}

func TestSchedulerConfigValidate(t *testing.T) {
	cfg := DefaultSchedulerConfig()
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config failed validation: %v", err)
	}
	if cfg.StuckThreshold() != DefaultStuckThreshold {
		t.Errorf("stuck threshold = %v, want %v", cfg.StuckThreshold(), DefaultStuckThreshold)
	}

	// The duration helpers are callable on a bare config value, as returned
	// by accessors like Engine.Config().
	if DefaultSchedulerConfig().PollInterval() != 2*time.Second {
		t.Errorf("poll interval = %v, want 2s", DefaultSchedulerConfig().PollInterval())
	}
	if DefaultSchedulerConfig().SessionIdleTimeout() != 10*time.Minute {
		t.Errorf("idle timeout = %v, want 10m", DefaultSchedulerConfig().SessionIdleTimeout())
	}
	if DefaultSchedulerConfig().ResumeKeyBindingTimeout() != 2*time.Hour {
		t.Errorf("binding timeout = %v, want 2h", DefaultSchedulerConfig().ResumeKeyBindingTimeout())
	}

	bad := cfg
	bad.MaxConcurrentSessions = 0
	if err := bad.Validate(); err == nil {
		t.Error("expected error for zero concurrency")
	}

	bad = cfg
	bad.SessionIdleTimeoutMs = -1
	if err := bad.Validate(); err == nil {
		t.Error("expected error for negative idle timeout")
	}
}

func TestItemOutcomeStatus(t *testing.T) {
	if (ItemOutcome{Success: true}).Status() != ItemStatusCompleted {
		t.Error("success outcome should map to completed")
	}
	if (ItemOutcome{Success: false, FailureReason: "tests failed"}).Status() != ItemStatusFailed {
		t.Error("failure outcome should map to failed")
	}
}
