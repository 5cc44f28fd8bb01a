// Package storage defines the durable store behind the scheduler: issues,
// solutions, queues and the audit trail. The reference system persisted
// these as JSONL/JSON files with read-modify-write I/O and no locking
// protocol; this implementation uses an embedded transactional database so
// a CLI process and a server process can share the store safely. Multi-step
// mutations (enqueue, outcome plus rollup) each run in one transaction.
package storage

import (
	"context"
	"time"

	"github.com/taskwright/taskwright/internal/storage/sqlite"
	"github.com/taskwright/taskwright/internal/types"
)

// Store is the interface scheduler and CLI code program against. All Get
// methods return (nil, nil) when the record does not exist; mutations on
// missing records return a descriptive error.
type Store interface {
	// Issues
	CreateIssue(ctx context.Context, issue *types.Issue, actor string) error
	GetIssue(ctx context.Context, id string) (*types.Issue, error)
	ListIssues(ctx context.Context) ([]*types.Issue, error)
	DeleteIssue(ctx context.Context, id string) error
	UpdateIssueStatus(ctx context.Context, id string, status types.IssueStatus, actor string) error

	// Solutions
	AddSolution(ctx context.Context, sol *types.Solution, actor string) (*types.Solution, error)
	GetSolution(ctx context.Context, issueID, solutionID string) (*types.Solution, error)
	GetBoundSolution(ctx context.Context, issueID string) (*types.Solution, error)
	ListSolutions(ctx context.Context, issueID string) ([]*types.Solution, error)
	BindSolution(ctx context.Context, issueID, solutionID string, actor string) error
	UpsertTask(ctx context.Context, issueID string, task types.SolutionTask, actor string) error

	// Queues
	CreateQueue(ctx context.Context, actor string) (*types.Queue, error)
	GetQueue(ctx context.Context, id string) (*types.Queue, error)
	GetActiveQueue(ctx context.Context) (*types.Queue, error)
	ListQueues(ctx context.Context) ([]*types.QueueSummary, error)
	SwitchActiveQueue(ctx context.Context, id string, actor string) error
	ArchiveQueue(ctx context.Context, id string, actor string) error

	// Queue items
	Enqueue(ctx context.Context, issueID string, actor string) (*types.Queue, []*types.QueueItem, error)
	GetQueueItem(ctx context.Context, id string) (*types.QueueItem, error)
	MarkItemExecuting(ctx context.Context, id string, executor string, actor string) (*types.QueueItem, bool, error)
	MarkItemsBlocked(ctx context.Context, ids []string, actor string) error
	RecordOutcome(ctx context.Context, id string, outcome types.ItemOutcome, actor string) error
	RetryFailed(ctx context.Context, issueID string, force bool, stuckThreshold time.Duration, actor string) (int, error)

	// Audit trail
	RecordEvent(ctx context.Context, event *types.AuditEvent) error
	GetEvents(ctx context.Context, issueID string, limit int) ([]*types.AuditEvent, error)

	// Lifecycle
	Close() error
}

// Config holds database configuration
type Config struct {
	// Path is the SQLite database file path.
	// Special value ":memory:" creates an in-memory database (useful for tests).
	Path string
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Path: ".taskwright/tw.db",
	}
}

// NewStore creates a new SQLite-backed store.
func NewStore(ctx context.Context, cfg *Config) (Store, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Path == "" {
		cfg.Path = ".taskwright/tw.db"
	}
	return sqlite.New(cfg.Path)
}
