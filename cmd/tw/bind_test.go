package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/taskwright/taskwright/internal/types"
)

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write temp file: %v", err)
	}
	return path
}

func TestLoadSolutionFileYAML(t *testing.T) {
	path := writeTemp(t, "plan.yaml", `
description: Fix login timeout
tasks:
  - id: t1
    title: Write failing test
    scope: tests/
  - id: t2
    title: Fix the handler
    action: edit handler.go
    depends_on: [t1]
    executor: claude
    estimated_minutes: 30
`)

	sol, err := loadSolutionFile(path, "myapp-42")
	if err != nil {
		t.Fatalf("loadSolutionFile failed: %v", err)
	}
	if sol.IssueID != "myapp-42" {
		t.Errorf("Expected issue myapp-42, got %s", sol.IssueID)
	}
	if len(sol.Tasks) != 2 {
		t.Fatalf("Expected 2 tasks, got %d", len(sol.Tasks))
	}
	if sol.Tasks[0].Executor != types.ExecutorAuto {
		t.Errorf("Expected default executor auto, got %s", sol.Tasks[0].Executor)
	}
	if sol.Tasks[1].Executor != "claude" {
		t.Errorf("Expected executor claude, got %s", sol.Tasks[1].Executor)
	}
	if len(sol.Tasks[1].DependsOn) != 1 || sol.Tasks[1].DependsOn[0] != "t1" {
		t.Errorf("Expected t2 to depend on t1, got %v", sol.Tasks[1].DependsOn)
	}
}

func TestLoadSolutionFileJSON(t *testing.T) {
	path := writeTemp(t, "plan.json", `{
		"description": "Fix login timeout",
		"tasks": [{"id": "t1", "title": "Only task"}]
	}`)

	sol, err := loadSolutionFile(path, "myapp-42")
	if err != nil {
		t.Fatalf("loadSolutionFile failed: %v", err)
	}
	if len(sol.Tasks) != 1 || sol.Tasks[0].ID != "t1" {
		t.Errorf("Unexpected tasks: %+v", sol.Tasks)
	}
}

func TestLoadSolutionFileInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"no tasks", "description: empty\ntasks: []\n"},
		{"unknown dependency", "tasks:\n  - id: t1\n    title: x\n    depends_on: [ghost]\n"},
		{"duplicate ids", "tasks:\n  - id: t1\n    title: a\n  - id: t1\n    title: b\n"},
		{"malformed", "{not yaml"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeTemp(t, "bad.yaml", tt.content)
			if _, err := loadSolutionFile(path, "x-1"); err == nil {
				t.Error("Expected error, got nil")
			}
		})
	}
}
