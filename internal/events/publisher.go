package events

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/taskwright/taskwright/internal/types"
)

// DefaultSnapshotInterval bounds how often periodic snapshots go out.
// Forced snapshots (subscribe, status changes) bypass the limiter.
const DefaultSnapshotInterval = time.Second

// subscriberBuffer is the per-subscriber channel depth. A subscriber that
// falls further behind than this loses messages rather than stalling the
// engine.
const subscriberBuffer = 64

type subscriber struct {
	ch chan Message
}

// Publisher fans messages out to subscribers in publish order. Snapshot
// publishing is rate limited so a busy engine does not flood the stream
// with near-identical full states.
type Publisher struct {
	mu      sync.Mutex
	subs    map[int]*subscriber
	nextID  int
	closed  bool
	limiter *rate.Limiter

	// latest snapshot, replayed to new subscribers on Subscribe.
	lastSnapshot *Message
}

// NewPublisher creates a publisher with the default snapshot rate limit.
func NewPublisher() *Publisher {
	return &Publisher{
		subs:    make(map[int]*subscriber),
		limiter: rate.NewLimiter(rate.Every(DefaultSnapshotInterval), 1),
	}
}

// Subscribe registers a new observer. The returned channel first receives
// the most recent snapshot (if any), then every subsequent message. The
// cancel function unsubscribes and closes the channel.
func (p *Publisher) Subscribe() (<-chan Message, func()) {
	p.mu.Lock()
	defer p.mu.Unlock()

	id := p.nextID
	p.nextID++
	sub := &subscriber{ch: make(chan Message, subscriberBuffer)}
	if p.closed {
		close(sub.ch)
		return sub.ch, func() {}
	}
	p.subs[id] = sub

	if p.lastSnapshot != nil {
		sub.ch <- *p.lastSnapshot
	}

	cancel := func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if s, ok := p.subs[id]; ok {
			delete(p.subs, id)
			close(s.ch)
		}
	}
	return sub.ch, cancel
}

// Publish sends a message to every subscriber. Slow subscribers with full
// buffers miss the message; order is preserved for those that keep up.
func (p *Publisher) Publish(msg Message) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	if msg.Type == TypeSnapshot {
		snap := msg
		p.lastSnapshot = &snap
	}
	for _, sub := range p.subs {
		select {
		case sub.ch <- msg:
		default:
		}
	}
}

// PublishSnapshot publishes a full-state snapshot, subject to the rate
// limit unless force is set. Returns whether the snapshot went out.
func (p *Publisher) PublishSnapshot(state *types.SchedulerState, force bool) bool {
	if !force && !p.limiter.Allow() {
		return false
	}
	p.Publish(Message{Type: TypeSnapshot, State: state})
	return true
}

// ItemAdded publishes an item-added event.
func (p *Publisher) ItemAdded(item *types.QueueItem) {
	p.Publish(Message{Type: TypeItemAdded, Item: item})
}

// ItemUpdated publishes an item-updated event.
func (p *Publisher) ItemUpdated(item *types.QueueItem) {
	p.Publish(Message{Type: TypeItemUpdated, Item: item})
}

// ItemRemoved publishes an item-removed event.
func (p *Publisher) ItemRemoved(itemID string) {
	p.Publish(Message{Type: TypeItemRemoved, ItemID: itemID})
}

// ConfigUpdated publishes a config-updated event.
func (p *Publisher) ConfigUpdated(cfg types.SchedulerConfig) {
	p.Publish(Message{Type: TypeConfigUpdated, Config: &cfg})
}

// StatusChanged publishes a status-changed event.
func (p *Publisher) StatusChanged(status types.SchedulerStatus) {
	p.Publish(Message{Type: TypeStatusChanged, Status: status})
}

// Close unsubscribes everyone and rejects further publishes.
func (p *Publisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	for id, sub := range p.subs {
		delete(p.subs, id)
		close(sub.ch)
	}
}
