package types

import "time"

// AuditEventType categorizes audit trail events
type AuditEventType string

const (
	AuditIssueCreated   AuditEventType = "issue_created"
	AuditSolutionAdded  AuditEventType = "solution_added"
	AuditSolutionBound  AuditEventType = "solution_bound"
	AuditItemsEnqueued  AuditEventType = "items_enqueued"
	AuditItemStarted    AuditEventType = "item_started"
	AuditItemCompleted  AuditEventType = "item_completed"
	AuditItemFailed     AuditEventType = "item_failed"
	AuditItemsBlocked   AuditEventType = "items_blocked"
	AuditItemsRetried   AuditEventType = "items_retried"
	AuditQueueCreated   AuditEventType = "queue_created"
	AuditQueueArchived  AuditEventType = "queue_archived"
	AuditQueueSwitched  AuditEventType = "queue_switched"
	AuditStatusChanged  AuditEventType = "status_changed"
	AuditConfigUpdated  AuditEventType = "config_updated"
)

// AuditEvent is an append-only audit trail entry. The scheduler emits these
// into the store; it does not own their retention policy.
type AuditEvent struct {
	ID          int64          `json:"id"`
	IssueID     string         `json:"issue_id,omitempty"`
	QueueItemID string         `json:"queue_item_id,omitempty"`
	Type        AuditEventType `json:"event_type"`
	Actor       string         `json:"actor"`
	Detail      string         `json:"detail,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}
