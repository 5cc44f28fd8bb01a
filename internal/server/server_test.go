package server

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskwright/taskwright/internal/scheduler"
	"github.com/taskwright/taskwright/internal/session"
	"github.com/taskwright/taskwright/internal/storage"
	"github.com/taskwright/taskwright/internal/types"
)

type nullManager struct{}

func (nullManager) CreateSession(ctx context.Context, tool string) (string, error) {
	return session.GenerateSessionKey()
}

func (nullManager) Execute(ctx context.Context, sessionKey, prompt string) (*session.ExecResult, error) {
	return &session.ExecResult{Output: "ok"}, nil
}

func (nullManager) CloseSession(ctx context.Context, sessionKey string) error { return nil }

func newTestServer(t *testing.T) (*httptest.Server, *Client, storage.Store, *scheduler.Engine) {
	t.Helper()
	store, err := storage.NewStore(context.Background(), &storage.Config{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	cfg := types.DefaultSchedulerConfig()
	cfg.PollIntervalMs = 10
	engine, err := scheduler.New(scheduler.Options{Store: store, Manager: nullManager{}, Config: cfg})
	require.NoError(t, err)

	srv := httptest.NewServer(New(engine, store).Router())
	t.Cleanup(srv.Close)
	return srv, NewClient(srv.URL), store, engine
}

func seedBoundIssue(t *testing.T, store storage.Store, issueID string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.CreateIssue(ctx, &types.Issue{ID: issueID, Title: "Issue", Priority: 2}, "test"))
	sol, err := store.AddSolution(ctx, &types.Solution{
		IssueID: issueID,
		Tasks:   []types.SolutionTask{{ID: "t1", Title: "only", Action: "a"}},
	}, "test")
	require.NoError(t, err)
	require.NoError(t, store.BindSolution(ctx, issueID, sol.ID, "test"))
}

func TestStateEndpoint(t *testing.T) {
	_, client, _, _ := newTestServer(t)

	state, err := client.State(context.Background())
	require.NoError(t, err)
	assert.Equal(t, types.SchedulerIdle, state.Status)
	assert.Empty(t, state.Items)
}

func TestSubmitAndLifecycle(t *testing.T) {
	_, client, store, engine := newTestServer(t)
	ctx := context.Background()

	seedBoundIssue(t, store, "api-1")

	items, err := client.Submit(ctx, "api-1")
	require.NoError(t, err)
	require.Len(t, items, 1)

	require.NoError(t, client.Start(ctx))

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) && engine.Status() != types.SchedulerCompleted {
		time.Sleep(10 * time.Millisecond)
	}
	require.Equal(t, types.SchedulerCompleted, engine.Status())

	state, err := client.State(ctx)
	require.NoError(t, err)
	require.Len(t, state.Items, 1)
	assert.Equal(t, types.ItemStatusCompleted, state.Items[0].Status)
}

func TestSubmitUnknownIssue(t *testing.T) {
	_, client, _, _ := newTestServer(t)

	_, err := client.Submit(context.Background(), "ghost")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestSubmitMissingBody(t *testing.T) {
	srv, _, _, _ := newTestServer(t)

	resp, err := http.Post(srv.URL+"/api/submit", "application/json", strings.NewReader("{}"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestInvalidTransitionIsConflict(t *testing.T) {
	srv, _, _, _ := newTestServer(t)

	// Pausing an idle engine is an invalid transition.
	resp, err := http.Post(srv.URL+"/api/pause", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestConfigRoundTrip(t *testing.T) {
	_, client, _, _ := newTestServer(t)
	ctx := context.Background()

	cfg, err := client.Config(ctx)
	require.NoError(t, err)

	cfg.MaxConcurrentSessions = 6
	require.NoError(t, client.UpdateConfig(ctx, *cfg))

	got, err := client.Config(ctx)
	require.NoError(t, err)
	assert.Equal(t, 6, got.MaxConcurrentSessions)

	bad := *cfg
	bad.MaxConcurrentSessions = 0
	require.Error(t, client.UpdateConfig(ctx, bad))
}

func TestRetryEndpoint(t *testing.T) {
	_, client, store, _ := newTestServer(t)
	ctx := context.Background()

	seedBoundIssue(t, store, "retry-1")
	_, items, err := store.Enqueue(ctx, "retry-1", "test")
	require.NoError(t, err)
	_, _, err = store.MarkItemExecuting(ctx, items[0].ID, "", "test")
	require.NoError(t, err)
	require.NoError(t, store.RecordOutcome(ctx, items[0].ID,
		types.ItemOutcome{Success: false, FailureReason: "x"}, "test"))

	n, err := client.Retry(ctx, "", false)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestEventStream(t *testing.T) {
	srv, _, _, engine := newTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")

	reader := bufio.NewReader(resp.Body)

	// The stream opens with a snapshot.
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "event: snapshot", strings.TrimSpace(line))

	// Drain the snapshot data block.
	for {
		line, err = reader.ReadString('\n')
		require.NoError(t, err)
		if strings.TrimSpace(line) == "" {
			break
		}
	}

	// A config change shows up as a config-updated event.
	cfg := engine.Config()
	cfg.MaxConcurrentSessions = 3
	require.NoError(t, engine.UpdateConfig(ctx, cfg))

	line, err = reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "event: config-updated", strings.TrimSpace(line))
}
