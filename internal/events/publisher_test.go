package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskwright/taskwright/internal/types"
)

func TestPublishOrderPreserved(t *testing.T) {
	p := NewPublisher()
	defer p.Close()

	ch, cancel := p.Subscribe()
	defer cancel()

	p.ItemAdded(&types.QueueItem{ID: "qi-1"})
	p.ItemUpdated(&types.QueueItem{ID: "qi-1"})
	p.ItemRemoved("qi-1")

	var got []MessageType
	for i := 0; i < 3; i++ {
		select {
		case msg := <-ch:
			got = append(got, msg.Type)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for message")
		}
	}
	assert.Equal(t, []MessageType{TypeItemAdded, TypeItemUpdated, TypeItemRemoved}, got)
}

func TestSubscribeReplaysLastSnapshot(t *testing.T) {
	p := NewPublisher()
	defer p.Close()

	state := &types.SchedulerState{Status: types.SchedulerRunning}
	require.True(t, p.PublishSnapshot(state, true))

	ch, cancel := p.Subscribe()
	defer cancel()

	select {
	case msg := <-ch:
		require.Equal(t, TypeSnapshot, msg.Type)
		require.NotNil(t, msg.State)
		assert.Equal(t, types.SchedulerRunning, msg.State.Status)
	case <-time.After(time.Second):
		t.Fatal("expected replayed snapshot on subscribe")
	}
}

func TestSnapshotRateLimit(t *testing.T) {
	p := NewPublisher()
	defer p.Close()

	state := &types.SchedulerState{Status: types.SchedulerRunning}

	// First one passes the limiter; an immediate second does not.
	assert.True(t, p.PublishSnapshot(state, false))
	assert.False(t, p.PublishSnapshot(state, false))

	// Force bypasses the limiter.
	assert.True(t, p.PublishSnapshot(state, true))
}

func TestSlowSubscriberDoesNotBlock(t *testing.T) {
	p := NewPublisher()
	defer p.Close()

	_, cancel := p.Subscribe()
	defer cancel()

	// Overflow the buffer; Publish must not block even though nobody reads.
	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBuffer*2; i++ {
			p.ItemRemoved("qi-x")
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
}

func TestCancelStopsDelivery(t *testing.T) {
	p := NewPublisher()
	defer p.Close()

	ch, cancel := p.Subscribe()
	cancel()

	// Channel is closed after cancel.
	_, open := <-ch
	assert.False(t, open)

	// Publishing after cancel is harmless.
	p.ItemRemoved("qi-1")
}

func TestCloseTerminatesSubscribers(t *testing.T) {
	p := NewPublisher()
	ch, cancel := p.Subscribe()
	defer cancel()

	p.Close()
	_, open := <-ch
	assert.False(t, open)

	// Subscribe after close returns a closed channel.
	ch2, _ := p.Subscribe()
	_, open = <-ch2
	assert.False(t, open)
}
