// Package events carries scheduler state changes to observers: the HTTP
// event stream, the CLI and tests. Messages form a discriminated union
// keyed on Type; every subscriber sees messages in publish order.
package events

import (
	"time"

	"github.com/taskwright/taskwright/internal/types"
)

// MessageType discriminates the event union.
type MessageType string

const (
	// TypeSnapshot carries the full scheduler state. Sent on subscribe
	// and periodically while the engine runs.
	TypeSnapshot MessageType = "snapshot"

	TypeItemAdded     MessageType = "item-added"
	TypeItemUpdated   MessageType = "item-updated"
	TypeItemRemoved   MessageType = "item-removed"
	TypeConfigUpdated MessageType = "config-updated"
	TypeStatusChanged MessageType = "status-changed"
)

// Message is one event on the stream. Exactly the fields implied by Type
// are set: State for snapshots, Item for item-added/item-updated, ItemID
// for item-removed, Config for config-updated, Status for status-changed.
type Message struct {
	Type      MessageType            `json:"type"`
	State     *types.SchedulerState  `json:"state,omitempty"`
	Item      *types.QueueItem       `json:"item,omitempty"`
	ItemID    string                 `json:"item_id,omitempty"`
	Config    *types.SchedulerConfig `json:"config,omitempty"`
	Status    types.SchedulerStatus  `json:"status,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}
