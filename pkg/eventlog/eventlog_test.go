package eventlog

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/cuemby/contour/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *BoltStore {
	t.Helper()
	dir := t.TempDir()
	store, err := NewBoltStore(filepath.Join(dir, "events.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestPublishBroadcastsToSubscriber(t *testing.T) {
	l := New(newTestStore(t))
	l.Start()
	defer l.Stop()

	sub, backlog := l.Subscribe("task-1")
	assert.Empty(t, backlog)

	l.Publish(&types.Event{TaskID: "task-1", Kind: types.EventKindMessage, Message: "hello"})

	select {
	case event := <-sub:
		assert.Equal(t, "hello", event.Message)
		assert.NotZero(t, event.ID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestSubscribeReplaysRingBuffer(t *testing.T) {
	l := New(newTestStore(t))
	l.Start()
	defer l.Stop()

	l.Publish(&types.Event{TaskID: "task-1", Kind: types.EventKindProgress, Progress: 0.5})
	l.Publish(&types.Event{TaskID: "task-1", Kind: types.EventKindProgress, Progress: 1.0})

	_, backlog := l.Subscribe("task-1")
	require.Len(t, backlog, 2)
	assert.Equal(t, 0.5, backlog[0].Progress)
	assert.Equal(t, 1.0, backlog[1].Progress)
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	l := New(newTestStore(t))
	l.Start()
	defer l.Stop()

	sub, _ := l.Subscribe("task-1")
	l.Unsubscribe("task-1", sub)

	_, ok := <-sub
	assert.False(t, ok, "channel should be closed after unsubscribe")
}

func TestReplayReadsDurableHistory(t *testing.T) {
	store := newTestStore(t)
	l := New(store)
	l.Start()

	l.Publish(&types.Event{TaskID: "task-2", Kind: types.EventKindEvent, Severity: types.SeverityWarning, Message: "careful"})
	l.Publish(&types.Event{TaskID: "task-2", Kind: types.EventKindEvent, Severity: types.SeverityError, Message: "oops"})

	require.Eventually(t, func() bool {
		events, err := l.Replay("task-2")
		return err == nil && len(events) == 2
	}, 2*time.Second, 10*time.Millisecond)

	l.Stop()

	events, err := l.Replay("task-2")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, types.SeverityWarning, events[0].Severity)
	assert.Equal(t, types.SeverityError, events[1].Severity)
}

func TestBoltStoreListByTaskIsolatesTasks(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Append(&types.Event{TaskID: "a", ID: 1, Message: "a1"}))
	require.NoError(t, store.Append(&types.Event{TaskID: "b", ID: 1, Message: "b1"}))
	require.NoError(t, store.Append(&types.Event{TaskID: "a", ID: 2, Message: "a2"}))

	events, err := store.ListByTask("a")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "a1", events[0].Message)
	assert.Equal(t, "a2", events[1].Message)
}
