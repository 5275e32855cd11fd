package diag

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStream(t *testing.T, retention int) *Stream {
	t.Helper()
	s, err := NewStream(StreamDeps{Retention: retention})
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func TestStreamPublishAndRecent(t *testing.T) {
	s := newTestStream(t, 16)

	s.ActionStarted("n1", "connect", 0)
	s.ActionCompleted("n1", "connect", 0)
	s.ActionFailed("n1", "send", 1, assert.AnError)

	events := s.Recent(0)
	require.Len(t, events, 3)

	assert.Equal(t, EventActionStarted, events[0].Kind)
	assert.Equal(t, EventActionCompleted, events[1].Kind)
	assert.Equal(t, EventActionFailed, events[2].Kind)
	assert.Equal(t, "send", events[2].Action)
	assert.Equal(t, 1, events[2].Index)
	assert.NotEmpty(t, events[2].Error)

	for _, evt := range events {
		assert.NotEmpty(t, evt.ID)
		assert.False(t, evt.At.IsZero())
		assert.Equal(t, "n1", evt.Node)
	}

	// Recent with a limit returns the newest entries.
	tail := s.Recent(2)
	require.Len(t, tail, 2)
	assert.Equal(t, EventActionCompleted, tail[0].Kind)
}

func TestStreamRetentionDropsOldest(t *testing.T) {
	s := newTestStream(t, 3)

	for i := 0; i < 5; i++ {
		s.ActionStarted("n1", "sleep", i)
	}

	events := s.Recent(0)
	require.Len(t, events, 3)
	assert.Equal(t, 2, events[0].Index)
	assert.Equal(t, 4, events[2].Index)
}

func TestStreamSubscribe(t *testing.T) {
	s := newTestStream(t, 16)

	ch, cancel := s.Subscribe(8)
	defer cancel()

	s.TaskTick("n1", "heartbeat", nil)

	select {
	case evt := <-ch:
		assert.Equal(t, EventTaskTick, evt.Kind)
		assert.Equal(t, "heartbeat", evt.Task)
		assert.Empty(t, evt.Error)
	case <-time.After(time.Second):
		t.Fatal("subscriber did not receive the event")
	}

	cancel()
	cancel() // idempotent

	// Cancelled subscribers no longer receive; the channel is closed.
	s.TaskTick("n1", "heartbeat", nil)
	_, open := <-ch
	assert.False(t, open)
}

func TestStreamSlowSubscriberLosesEvents(t *testing.T) {
	s := newTestStream(t, 16)

	ch, cancel := s.Subscribe(1)
	defer cancel()

	s.InboxOverflow("n1", "dropped 1")
	s.InboxOverflow("n1", "dropped 2") // channel full, not delivered

	assert.Len(t, ch, 1)
	// The ring still has both.
	assert.Len(t, s.Recent(0), 2)
}

func TestStreamCloseStopsDelivery(t *testing.T) {
	s, err := NewStream(StreamDeps{Retention: 8})
	require.NoError(t, err)

	ch, _ := s.Subscribe(4)
	s.Close()
	s.Close() // idempotent

	_, open := <-ch
	assert.False(t, open)

	// Publishing after close is a no-op, not a panic.
	s.MessageSent("n1", "late")
}
