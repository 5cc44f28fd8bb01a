package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskwright/taskwright/internal/session"
	"github.com/taskwright/taskwright/internal/storage"
	"github.com/taskwright/taskwright/internal/types"
)

// fakeTool is a session.Manager that records executions. When gate is
// non-nil, Execute blocks until the gate is closed, which lets tests
// observe concurrency while items are mid-flight.
type fakeTool struct {
	mu         sync.Mutex
	sessions   int
	running    int
	maxRunning int
	executed   []string
	gate       chan struct{}
	failMatch  string
}

func (f *fakeTool) CreateSession(ctx context.Context, tool string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions++
	return fmt.Sprintf("sess-%04d", f.sessions), nil
}

func (f *fakeTool) Execute(ctx context.Context, sessionKey, prompt string) (*session.ExecResult, error) {
	f.mu.Lock()
	f.running++
	if f.running > f.maxRunning {
		f.maxRunning = f.running
	}
	f.executed = append(f.executed, prompt)
	gate := f.gate
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
		}
	}

	f.mu.Lock()
	f.running--
	fail := f.failMatch != "" && strings.Contains(prompt, f.failMatch)
	f.mu.Unlock()

	if fail {
		return &session.ExecResult{Output: "boom", ExitCode: 1}, nil
	}
	return &session.ExecResult{Output: "done", ExitCode: 0}, nil
}

func (f *fakeTool) CloseSession(ctx context.Context, sessionKey string) error { return nil }

func (f *fakeTool) executedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.executed)
}

func testConfig() types.SchedulerConfig {
	cfg := types.DefaultSchedulerConfig()
	cfg.PollIntervalMs = 10
	return cfg
}

func newTestEngine(t *testing.T, mgr *fakeTool, cfg types.SchedulerConfig) (*Engine, storage.Store) {
	t.Helper()
	store, err := storage.NewStore(context.Background(), &storage.Config{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	engine, err := New(Options{Store: store, Manager: mgr, Config: cfg})
	require.NoError(t, err)
	return engine, store
}

// seedIssue creates an issue with a bound solution holding the given tasks.
func seedIssue(t *testing.T, store storage.Store, issueID string, tasks []types.SolutionTask) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.CreateIssue(ctx, &types.Issue{ID: issueID, Title: "Issue " + issueID, Priority: 2}, "test"))
	sol, err := store.AddSolution(ctx, &types.Solution{IssueID: issueID, Description: "plan", Tasks: tasks}, "test")
	require.NoError(t, err)
	require.NoError(t, store.BindSolution(ctx, issueID, sol.ID, "test"))
}

func waitStatus(t *testing.T, e *Engine, want types.SchedulerStatus) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if e.Status() == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for status %s, still %s", want, e.Status())
}

func TestEngineRunsDependencyChain(t *testing.T) {
	mgr := &fakeTool{}
	engine, store := newTestEngine(t, mgr, testConfig())
	ctx := context.Background()

	seedIssue(t, store, "chain-1", []types.SolutionTask{
		{ID: "t1", Title: "first", Action: "a"},
		{ID: "t2", Title: "second", Action: "b", DependsOn: []string{"t1"}},
	})

	items, err := engine.Submit(ctx, "chain-1")
	require.NoError(t, err)
	require.Len(t, items, 2)

	require.NoError(t, engine.Start(ctx))
	waitStatus(t, engine, types.SchedulerCompleted)

	// Dependency order held: t1's prompt executed before t2's.
	require.Equal(t, 2, mgr.executedCount())
	assert.Contains(t, mgr.executed[0], "task t1")
	assert.Contains(t, mgr.executed[1], "task t2")

	issue, err := store.GetIssue(ctx, "chain-1")
	require.NoError(t, err)
	assert.Equal(t, types.IssueStatusCompleted, issue.Status)
}

func TestEngineConcurrencyCap(t *testing.T) {
	mgr := &fakeTool{gate: make(chan struct{})}
	cfg := testConfig()
	cfg.MaxConcurrentSessions = 2
	engine, store := newTestEngine(t, mgr, cfg)
	ctx := context.Background()

	for i := 1; i <= 4; i++ {
		id := fmt.Sprintf("par-%d", i)
		seedIssue(t, store, id, []types.SolutionTask{{ID: "t1", Title: "only", Action: "a"}})
		_, err := engine.Submit(ctx, id)
		require.NoError(t, err)
	}

	require.NoError(t, engine.Start(ctx))

	// Let dispatch saturate the cap, then release everything.
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if mgr.executedCount() >= 2 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	close(mgr.gate)
	waitStatus(t, engine, types.SchedulerCompleted)

	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	assert.LessOrEqual(t, mgr.maxRunning, 2, "concurrency cap exceeded")
	assert.Len(t, mgr.executed, 4)
}

func TestEnginePauseHaltsDispatch(t *testing.T) {
	mgr := &fakeTool{}
	engine, store := newTestEngine(t, mgr, testConfig())
	ctx := context.Background()

	require.NoError(t, engine.Start(ctx))
	require.NoError(t, engine.Pause())

	seedIssue(t, store, "pause-1", []types.SolutionTask{{ID: "t1", Title: "held", Action: "a"}})
	_, err := engine.Submit(ctx, "pause-1")
	require.NoError(t, err)

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 0, mgr.executedCount(), "paused engine must not dispatch")

	require.NoError(t, engine.Resume())
	waitStatus(t, engine, types.SchedulerCompleted)
	assert.Equal(t, 1, mgr.executedCount())
}

func TestEngineFailureBlocksDependents(t *testing.T) {
	mgr := &fakeTool{failMatch: "task t1"}
	engine, store := newTestEngine(t, mgr, testConfig())
	ctx := context.Background()

	seedIssue(t, store, "fail-1", []types.SolutionTask{
		{ID: "t1", Title: "breaks", Action: "a"},
		{ID: "t2", Title: "never runs", Action: "b", DependsOn: []string{"t1"}},
	})
	items, err := engine.Submit(ctx, "fail-1")
	require.NoError(t, err)

	require.NoError(t, engine.Start(ctx))
	waitStatus(t, engine, types.SchedulerFailed)

	assert.Equal(t, 1, mgr.executedCount(), "dependent of a failed item must not run")

	var blocked *types.QueueItem
	for _, item := range items {
		if item.TaskID == "t2" {
			got, err := store.GetQueueItem(ctx, item.ID)
			require.NoError(t, err)
			blocked = got
		}
	}
	require.NotNil(t, blocked)
	assert.Equal(t, types.ItemStatusBlocked, blocked.Status)
}

func TestEngineStopDrainsInFlight(t *testing.T) {
	mgr := &fakeTool{gate: make(chan struct{})}
	engine, store := newTestEngine(t, mgr, testConfig())
	ctx := context.Background()

	seedIssue(t, store, "drain-1", []types.SolutionTask{{ID: "t1", Title: "long", Action: "a"}})
	_, err := engine.Submit(ctx, "drain-1")
	require.NoError(t, err)
	require.NoError(t, engine.Start(ctx))

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) && mgr.executedCount() == 0 {
		time.Sleep(10 * time.Millisecond)
	}
	require.Equal(t, 1, mgr.executedCount())

	stopDone := make(chan error, 1)
	go func() { stopDone <- engine.Stop(ctx) }()

	// Stop must wait for the in-flight item.
	select {
	case <-stopDone:
		t.Fatal("Stop returned before in-flight item drained")
	case <-time.After(100 * time.Millisecond):
	}

	close(mgr.gate)
	select {
	case err := <-stopDone:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return after drain")
	}
	assert.Equal(t, types.SchedulerCompleted, engine.Status())
}

func TestEngineInvalidTransitions(t *testing.T) {
	mgr := &fakeTool{}
	engine, _ := newTestEngine(t, mgr, testConfig())

	// Pause and Stop require a live engine.
	require.Error(t, engine.Pause())
	require.Error(t, engine.Stop(context.Background()))

	// Reset is allowed from anywhere, including idle.
	require.NoError(t, engine.Reset())
}

func TestEngineResetFromFailed(t *testing.T) {
	mgr := &fakeTool{failMatch: "task t1"}
	engine, store := newTestEngine(t, mgr, testConfig())
	ctx := context.Background()

	seedIssue(t, store, "reset-1", []types.SolutionTask{{ID: "t1", Title: "breaks", Action: "a"}})
	_, err := engine.Submit(ctx, "reset-1")
	require.NoError(t, err)
	require.NoError(t, engine.Start(ctx))
	waitStatus(t, engine, types.SchedulerFailed)

	require.NoError(t, engine.Reset())
	assert.Equal(t, types.SchedulerIdle, engine.Status())

	state, err := engine.State(ctx)
	require.NoError(t, err)
	assert.Empty(t, state.Error)
}

func TestEngineAutoStart(t *testing.T) {
	mgr := &fakeTool{}
	cfg := testConfig()
	cfg.AutoStart = true
	engine, store := newTestEngine(t, mgr, cfg)
	ctx := context.Background()

	seedIssue(t, store, "auto-1", []types.SolutionTask{{ID: "t1", Title: "go", Action: "a"}})
	_, err := engine.Submit(ctx, "auto-1")
	require.NoError(t, err)

	waitStatus(t, engine, types.SchedulerCompleted)
	assert.Equal(t, 1, mgr.executedCount())
}

func TestEngineStartOutlivesCaller(t *testing.T) {
	mgr := &fakeTool{}
	engine, store := newTestEngine(t, mgr, testConfig())

	// Start as an HTTP handler would: with a context that is cancelled as
	// soon as the call returns.
	reqCtx, cancel := context.WithCancel(context.Background())
	require.NoError(t, engine.Start(reqCtx))
	cancel()

	seedIssue(t, store, "req-1", []types.SolutionTask{{ID: "t1", Title: "go", Action: "a"}})
	_, err := engine.Submit(context.Background(), "req-1")
	require.NoError(t, err)

	waitStatus(t, engine, types.SchedulerCompleted)
	assert.Equal(t, 1, mgr.executedCount())
}

func TestEngineRestartAfterCompletion(t *testing.T) {
	mgr := &fakeTool{}
	engine, store := newTestEngine(t, mgr, testConfig())
	ctx := context.Background()

	seedIssue(t, store, "run-1", []types.SolutionTask{{ID: "t1", Title: "first", Action: "a"}})
	_, err := engine.Submit(ctx, "run-1")
	require.NoError(t, err)
	require.NoError(t, engine.Start(ctx))
	waitStatus(t, engine, types.SchedulerCompleted)

	// Submitting new work restarts the dispatch loop.
	seedIssue(t, store, "run-2", []types.SolutionTask{{ID: "t1", Title: "second", Action: "a"}})
	_, err = engine.Submit(ctx, "run-2")
	require.NoError(t, err)
	waitStatus(t, engine, types.SchedulerCompleted)
	assert.Equal(t, 2, mgr.executedCount())
}

func TestEngineUpdateConfig(t *testing.T) {
	mgr := &fakeTool{}
	engine, _ := newTestEngine(t, mgr, testConfig())

	sub, cancel := engine.Publisher().Subscribe()
	defer cancel()

	cfg := engine.Config()
	cfg.MaxConcurrentSessions = 5
	require.NoError(t, engine.UpdateConfig(context.Background(), cfg))
	assert.Equal(t, 5, engine.Config().MaxConcurrentSessions)

	select {
	case msg := <-sub:
		require.NotNil(t, msg.Config)
		assert.Equal(t, 5, msg.Config.MaxConcurrentSessions)
	case <-time.After(time.Second):
		t.Fatal("expected config-updated event")
	}

	// Invalid configs are rejected and the old one stays in place.
	bad := cfg
	bad.MaxConcurrentSessions = 0
	require.Error(t, engine.UpdateConfig(context.Background(), bad))
	assert.Equal(t, 5, engine.Config().MaxConcurrentSessions)
}

func TestEngineSessionAffinity(t *testing.T) {
	mgr := &fakeTool{}
	engine, store := newTestEngine(t, mgr, testConfig())
	ctx := context.Background()

	// Two sequential tasks of one issue share a resume key, so the pool
	// creates exactly one session.
	seedIssue(t, store, "aff-1", []types.SolutionTask{
		{ID: "t1", Title: "first", Action: "a"},
		{ID: "t2", Title: "second", Action: "b", DependsOn: []string{"t1"}},
	})
	_, err := engine.Submit(ctx, "aff-1")
	require.NoError(t, err)
	require.NoError(t, engine.Start(ctx))
	waitStatus(t, engine, types.SchedulerCompleted)

	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	assert.Equal(t, 1, mgr.sessions, "same issue should reuse one session")
}
