package resolver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/taskwright/taskwright/internal/types"
)

func item(id string, status types.QueueItemStatus, order int, deps ...string) *types.QueueItem {
	return &types.QueueItem{
		ID:             id,
		QueueID:        "q-1",
		IssueID:        "BUG-1",
		TaskID:         "t-" + id,
		Status:         status,
		ExecutionOrder: order,
		DependsOn:      deps,
	}
}

func readyIDs(set []ReadyItem) []string {
	ids := make([]string, 0, len(set))
	for _, r := range set {
		ids = append(ids, r.Item.ID)
	}
	return ids
}

func TestReadyHonorsDependencies(t *testing.T) {
	items := []*types.QueueItem{
		item("qi-1", types.ItemStatusPending, 1),
		item("qi-2", types.ItemStatusPending, 2, "qi-1"),
	}

	ready := Ready(items)
	assert.Equal(t, []string{"qi-1"}, readyIDs(ready))

	items[0].Status = types.ItemStatusCompleted
	ready = Ready(items)
	assert.Equal(t, []string{"qi-2"}, readyIDs(ready))
}

func TestReadyOrdering(t *testing.T) {
	items := []*types.QueueItem{
		item("qi-3", types.ItemStatusPending, 3),
		item("qi-1", types.ItemStatusQueued, 1),
		item("qi-2", types.ItemStatusPending, 2),
	}
	assert.Equal(t, []string{"qi-1", "qi-2", "qi-3"}, readyIDs(Ready(items)))
}

func TestReadyTieBreakByInsertionOrder(t *testing.T) {
	items := []*types.QueueItem{
		item("qi-b", types.ItemStatusPending, 1),
		item("qi-a", types.ItemStatusPending, 1),
	}
	// Same execution_order: insertion order wins, not id order.
	assert.Equal(t, []string{"qi-b", "qi-a"}, readyIDs(Ready(items)))
}

func TestReadyResumeCandidatesFirst(t *testing.T) {
	items := []*types.QueueItem{
		item("qi-1", types.ItemStatusPending, 1),
		item("qi-2", types.ItemStatusExecuting, 5),
	}

	ready := Ready(items)
	require.Len(t, ready, 2)
	assert.Equal(t, "qi-2", ready[0].Item.ID)
	assert.True(t, ready[0].Resume)
	assert.Equal(t, "qi-1", ready[1].Item.ID)
	assert.False(t, ready[1].Resume)
}

func TestReadyMissingDependencyIsSatisfied(t *testing.T) {
	// A depends_on id not present in the queue does not gate the item.
	items := []*types.QueueItem{
		item("qi-1", types.ItemStatusPending, 1, "qi-gone"),
	}
	assert.Equal(t, []string{"qi-1"}, readyIDs(Ready(items)))
}

func TestReadySkipsTerminalAndBlocked(t *testing.T) {
	items := []*types.QueueItem{
		item("qi-1", types.ItemStatusCompleted, 1),
		item("qi-2", types.ItemStatusFailed, 2),
		item("qi-3", types.ItemStatusBlocked, 3),
		item("qi-4", types.ItemStatusCancelled, 4),
	}
	assert.Empty(t, Ready(items))
}

func TestUnresolvableDetectsCycle(t *testing.T) {
	items := []*types.QueueItem{
		item("qi-1", types.ItemStatusPending, 1, "qi-2"),
		item("qi-2", types.ItemStatusPending, 2, "qi-1"),
		item("qi-3", types.ItemStatusPending, 3),
	}

	stuck := Unresolvable(items)
	assert.Equal(t, []string{"qi-1", "qi-2"}, stuck)

	// The cycle must not starve independent work.
	assert.Equal(t, []string{"qi-3"}, readyIDs(Ready(items)))
}

func TestUnresolvableDependencyOnFailedItem(t *testing.T) {
	items := []*types.QueueItem{
		item("qi-1", types.ItemStatusFailed, 1),
		item("qi-2", types.ItemStatusPending, 2, "qi-1"),
		item("qi-3", types.ItemStatusPending, 3, "qi-2"),
	}
	assert.Equal(t, []string{"qi-2", "qi-3"}, Unresolvable(items))
}

func TestUnresolvableExecutingDependencyIsFine(t *testing.T) {
	items := []*types.QueueItem{
		item("qi-1", types.ItemStatusExecuting, 1),
		item("qi-2", types.ItemStatusPending, 2, "qi-1"),
	}
	assert.Empty(t, Unresolvable(items))
}

func TestAllTerminal(t *testing.T) {
	items := []*types.QueueItem{
		item("qi-1", types.ItemStatusCompleted, 1),
		item("qi-2", types.ItemStatusPending, 2),
	}
	done, failed := AllTerminal(items)
	assert.False(t, done)
	assert.False(t, failed)

	items[1].Status = types.ItemStatusFailed
	done, failed = AllTerminal(items)
	assert.True(t, done)
	assert.True(t, failed)

	items[1].Status = types.ItemStatusBlocked
	done, failed = AllTerminal(items)
	assert.True(t, done)
	assert.False(t, failed)
}
