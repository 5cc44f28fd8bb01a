package session

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeManager records session lifecycle calls without spawning anything.
type fakeManager struct {
	mu      sync.Mutex
	created int
	closed  []string
}

func (f *fakeManager) CreateSession(ctx context.Context, tool string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created++
	return fmt.Sprintf("sess-%s-%d", tool, f.created), nil
}

func (f *fakeManager) Execute(ctx context.Context, sessionKey, prompt string) (*ExecResult, error) {
	return &ExecResult{Output: "ok"}, nil
}

func (f *fakeManager) CloseSession(ctx context.Context, sessionKey string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = append(f.closed, sessionKey)
	return nil
}

func TestPoolReusesBinding(t *testing.T) {
	fm := &fakeManager{}
	pool := NewPool(fm)
	ctx := context.Background()

	key1, err := pool.Acquire(ctx, "issue-1", "claude")
	require.NoError(t, err)
	pool.Release("issue-1")

	key2, err := pool.Acquire(ctx, "issue-1", "claude")
	require.NoError(t, err)
	assert.Equal(t, key1, key2, "same resume key should reuse the session")
	assert.Equal(t, 1, fm.created)
}

func TestPoolDistinctResumeKeys(t *testing.T) {
	fm := &fakeManager{}
	pool := NewPool(fm)
	ctx := context.Background()

	key1, err := pool.Acquire(ctx, "issue-1", "claude")
	require.NoError(t, err)
	key2, err := pool.Acquire(ctx, "issue-2", "claude")
	require.NoError(t, err)

	assert.NotEqual(t, key1, key2)
	assert.Equal(t, 2, pool.Size())
}

func TestPoolInUseGuard(t *testing.T) {
	fm := &fakeManager{}
	pool := NewPool(fm)
	ctx := context.Background()

	_, err := pool.Acquire(ctx, "issue-1", "claude")
	require.NoError(t, err)

	// Second acquire while held is refused rather than double-booking.
	_, err = pool.Acquire(ctx, "issue-1", "claude")
	require.Error(t, err)

	pool.Release("issue-1")
	_, err = pool.Acquire(ctx, "issue-1", "claude")
	require.NoError(t, err)
}

func TestPoolToolChangeReplacesSession(t *testing.T) {
	fm := &fakeManager{}
	pool := NewPool(fm)
	ctx := context.Background()

	key1, err := pool.Acquire(ctx, "issue-1", "claude")
	require.NoError(t, err)
	pool.Release("issue-1")

	key2, err := pool.Acquire(ctx, "issue-1", "codex")
	require.NoError(t, err)

	assert.NotEqual(t, key1, key2)
	assert.Contains(t, fm.closed, key1, "old session should be closed on tool change")
}

func TestPoolEvictExpired(t *testing.T) {
	fm := &fakeManager{}
	pool := NewPool(fm)
	ctx := context.Background()

	_, err := pool.Acquire(ctx, "idle-1", "claude")
	require.NoError(t, err)
	pool.Release("idle-1")

	heldKey, err := pool.Acquire(ctx, "busy-1", "claude")
	require.NoError(t, err)

	// Zero timeouts expire everything idle; the in-use binding survives.
	evicted := pool.EvictExpired(ctx, 0, 0)
	assert.Equal(t, 1, evicted)
	assert.Equal(t, 1, pool.Size())

	snap := pool.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, "busy-1", snap[0].ResumeKey)
	assert.Equal(t, heldKey, snap[0].SessionKey)
	assert.True(t, snap[0].InUse)
}

func TestPoolEvictRespectsTimeouts(t *testing.T) {
	fm := &fakeManager{}
	pool := NewPool(fm)
	ctx := context.Background()

	_, err := pool.Acquire(ctx, "fresh-1", "claude")
	require.NoError(t, err)
	pool.Release("fresh-1")

	evicted := pool.EvictExpired(ctx, time.Hour, time.Hour)
	assert.Equal(t, 0, evicted, "fresh binding should survive generous timeouts")
}

func TestPoolEvictBindingTimeoutFromCreation(t *testing.T) {
	fm := &fakeManager{}
	pool := NewPool(fm)
	ctx := context.Background()

	key, err := pool.Acquire(ctx, "old-1", "claude")
	require.NoError(t, err)
	pool.Release("old-1")

	// Recently used, but the binding itself is past the affinity expiry.
	pool.bindings["old-1"].CreatedAt = time.Now().Add(-3 * time.Hour)
	pool.bindings["old-1"].LastUsed = time.Now()

	evicted := pool.EvictExpired(ctx, time.Hour, 2*time.Hour)
	assert.Equal(t, 1, evicted)
	assert.Equal(t, 0, pool.Size())
	assert.Contains(t, fm.closed, key)
}

func TestPoolDrop(t *testing.T) {
	fm := &fakeManager{}
	pool := NewPool(fm)
	ctx := context.Background()

	key, err := pool.Acquire(ctx, "issue-1", "claude")
	require.NoError(t, err)

	require.NoError(t, pool.Drop(ctx, "issue-1"))
	assert.Equal(t, 0, pool.Size())
	assert.Contains(t, fm.closed, key)

	// Dropping an unknown key is a no-op.
	require.NoError(t, pool.Drop(ctx, "ghost"))
}

func TestGenerateSessionKeyFormat(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 32; i++ {
		key, err := GenerateSessionKey()
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(key, "sess-"))
		assert.Len(t, key, len("sess-")+8)
		assert.False(t, seen[key], "keys should be unique")
		seen[key] = true
	}
}
