// Package resolver computes the ready set for a queue: the ordered list of
// items whose dependencies are satisfied and which are eligible for dispatch.
package resolver

import (
	"sort"

	"github.com/taskwright/taskwright/internal/types"
)

// ReadyItem is a dispatch candidate. Resume is set when the item was already
// executing (process restart recovery); resume candidates are surfaced ahead
// of newly-eligible items so an interrupted run is continued, not abandoned.
type ReadyItem struct {
	Item   *types.QueueItem
	Resume bool
}

// Ready returns the items eligible for dispatch now, ordered for the engine:
// resume candidates first, then eligible items, each by ascending
// execution_order with ties broken by position in the input slice.
//
// An item is eligible if its status is pending/queued/ready and every id in
// depends_on either does not exist in the queue or refers to a completed
// item. Items in terminal or blocked states are never returned.
func Ready(items []*types.QueueItem) []ReadyItem {
	byID := make(map[string]*types.QueueItem, len(items))
	for _, item := range items {
		byID[item.ID] = item
	}

	pos := make(map[string]int, len(items))
	for i, item := range items {
		pos[item.ID] = i
	}

	var resume, eligible []ReadyItem
	for _, item := range items {
		switch {
		case item.Status == types.ItemStatusExecuting:
			resume = append(resume, ReadyItem{Item: item, Resume: true})
		case item.Status.Eligible() && depsSatisfied(item, byID):
			eligible = append(eligible, ReadyItem{Item: item})
		}
	}

	order := func(set []ReadyItem) {
		sort.SliceStable(set, func(i, j int) bool {
			a, b := set[i].Item, set[j].Item
			if a.ExecutionOrder != b.ExecutionOrder {
				return a.ExecutionOrder < b.ExecutionOrder
			}
			return pos[a.ID] < pos[b.ID]
		})
	}
	order(resume)
	order(eligible)

	return append(resume, eligible...)
}

// depsSatisfied reports whether every dependency of item is either absent
// from the queue or completed.
func depsSatisfied(item *types.QueueItem, byID map[string]*types.QueueItem) bool {
	for _, depID := range item.DependsOn {
		dep, ok := byID[depID]
		if !ok {
			continue
		}
		if dep.Status != types.ItemStatusCompleted {
			return false
		}
	}
	return true
}

// Unresolvable returns the ids of items that can never become eligible no
// matter how execution proceeds: members of dependency cycles, and items
// whose dependency chain bottoms out in a failed, cancelled or blocked item.
// The engine marks these blocked instead of polling them forever.
func Unresolvable(items []*types.QueueItem) []string {
	byID := make(map[string]*types.QueueItem, len(items))
	for _, item := range items {
		byID[item.ID] = item
	}

	// Fixed point: an item is resolvable if it is completed, or if it could
	// still run once all of its in-queue dependencies resolve. Executing
	// items count as resolvable (they will reach a terminal state; a failure
	// there is an execution failure, not a configuration error).
	resolvable := make(map[string]bool, len(items))
	for _, item := range items {
		if item.Status == types.ItemStatusCompleted || item.Status == types.ItemStatusExecuting {
			resolvable[item.ID] = true
		}
	}

	for changed := true; changed; {
		changed = false
		for _, item := range items {
			if resolvable[item.ID] || !item.Status.Eligible() {
				continue
			}
			ok := true
			for _, depID := range item.DependsOn {
				dep, exists := byID[depID]
				if !exists {
					continue
				}
				if !resolvable[dep.ID] {
					ok = false
					break
				}
			}
			if ok {
				resolvable[item.ID] = true
				changed = true
			}
		}
	}

	var stuck []string
	for _, item := range items {
		if item.Status.Eligible() && !resolvable[item.ID] {
			stuck = append(stuck, item.ID)
		}
	}
	sort.Strings(stuck)
	return stuck
}

// AllTerminal reports whether every item has reached a terminal state and
// whether any of them failed. Blocked items count as terminal here: they can
// never run, so they do not keep a queue open.
func AllTerminal(items []*types.QueueItem) (allDone bool, anyFailed bool) {
	allDone = true
	for _, item := range items {
		switch item.Status {
		case types.ItemStatusFailed:
			anyFailed = true
		case types.ItemStatusCompleted, types.ItemStatusCancelled, types.ItemStatusBlocked:
		default:
			allDone = false
		}
	}
	return allDone, anyFailed
}
