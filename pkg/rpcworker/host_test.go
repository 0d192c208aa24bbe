package rpcworker

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/contour/pkg/broker"
	"github.com/cuemby/contour/pkg/types"
)

type fakeHostPublisher struct {
	mu      sync.Mutex
	replies []replyPayload
	handles map[string]func(broker.Delivery)
}

func newFakeHostPublisher() *fakeHostPublisher {
	return &fakeHostPublisher{handles: make(map[string]func(broker.Delivery))}
}

func (f *fakeHostPublisher) Consume(ctx context.Context, queue string, handle func(broker.Delivery)) error {
	f.mu.Lock()
	f.handles[queue] = handle
	f.mu.Unlock()
	<-ctx.Done()
	return ctx.Err()
}

func (f *fakeHostPublisher) PublishReply(_ context.Context, _, _ string, body []byte) error {
	var reply replyPayload
	if err := json.Unmarshal(body, &reply); err != nil {
		return err
	}
	f.mu.Lock()
	f.replies = append(f.replies, reply)
	f.mu.Unlock()
	return nil
}

func (f *fakeHostPublisher) deliver(t *testing.T, queue string, d broker.Delivery) {
	t.Helper()
	require.Eventually(t, func() bool {
		f.mu.Lock()
		defer f.mu.Unlock()
		_, ok := f.handles[queue]
		return ok
	}, time.Second, time.Millisecond)
	f.mu.Lock()
	handle := f.handles[queue]
	f.mu.Unlock()
	handle(d)
}

func (f *fakeHostPublisher) lastReply() replyPayload {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.replies[len(f.replies)-1]
}

type completingHandler struct{}

func (completingHandler) Run(_ context.Context, rc *RunContext, _ types.TaskInput) error {
	_ = rc.PublishProgress(0.5, "halfway")
	return nil
}

func TestHostPublishesCompletedOnSuccess(t *testing.T) {
	registry := NewRegistry()
	require.NoError(t, registry.Register(Descriptor{RoutingKey: "osm-import", New: func() Handler { return completingHandler{} }}))

	pub := newFakeHostPublisher()
	host, err := NewHost(registry, "osm-import", 0, pub, zerolog.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go host.Serve(ctx, "req-q", "cmd-q")

	body, _ := json.Marshal(requestPayload{TaskID: "task-1", Input: wireInput{Kind: types.InputKindCells, Cells: []types.CellID{{X: 1}}}})
	pub.deliver(t, "req-q", broker.Delivery{CorrelationID: "corr-1", ReplyTo: "replies-q", Body: body})

	require.Eventually(t, func() bool {
		pub.mu.Lock()
		defer pub.mu.Unlock()
		return len(pub.replies) == 2
	}, time.Second, time.Millisecond)

	assert.Equal(t, types.RPCInProgress, pub.replies[0].Status)
	assert.Equal(t, types.RPCCompleted, pub.lastReply().Status)
}

type closeAwareHandler struct{}

func (closeAwareHandler) Run(_ context.Context, rc *RunContext, _ types.TaskInput) error {
	for i := 0; i < 50; i++ {
		if err := rc.PublishProgress(0.1, "polling"); err != nil {
			return err
		}
		time.Sleep(10 * time.Millisecond)
	}
	return nil
}

func TestHostRaisesCloseRequestedWhenCommandMatches(t *testing.T) {
	registry := NewRegistry()
	require.NoError(t, registry.Register(Descriptor{
		RoutingKey:   "osm-import",
		RaiseOnClose: true,
		New:          func() Handler { return closeAwareHandler{} },
	}))

	pub := newFakeHostPublisher()
	host, err := NewHost(registry, "osm-import", 0, pub, zerolog.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go host.Serve(ctx, "req-q", "cmd-q")

	body, _ := json.Marshal(requestPayload{TaskID: "task-1", Input: wireInput{Kind: types.InputKindCells, Cells: []types.CellID{{X: 1}}}})
	go pub.deliver(t, "req-q", broker.Delivery{CorrelationID: "corr-1", ReplyTo: "replies-q", Body: body})

	// Give the handler a moment to register itself as "current" before the
	// close command arrives.
	time.Sleep(20 * time.Millisecond)

	cmdBody, _ := json.Marshal(cmdPayload{Kind: "close", RequestID: "corr-1", Terminate: false})
	pub.deliver(t, "cmd-q", broker.Delivery{CorrelationID: "corr-1", Body: cmdBody})

	require.Eventually(t, func() bool {
		pub.mu.Lock()
		defer pub.mu.Unlock()
		return len(pub.replies) > 0 && pub.replies[len(pub.replies)-1].Status == types.RPCFailed
	}, time.Second, time.Millisecond)

	assert.Equal(t, "closed on request", pub.lastReply().Message)
}

func TestHostIgnoresNotifyClosedCommand(t *testing.T) {
	registry := NewRegistry()
	require.NoError(t, registry.Register(Descriptor{
		RoutingKey:   "osm-import",
		RaiseOnClose: true,
		New:          func() Handler { return closeAwareHandler{} },
	}))

	pub := newFakeHostPublisher()
	host, err := NewHost(registry, "osm-import", 0, pub, zerolog.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go host.Serve(ctx, "req-q", "cmd-q")

	body, _ := json.Marshal(requestPayload{TaskID: "task-1", Input: wireInput{Kind: types.InputKindCells, Cells: []types.CellID{{X: 1}}}})
	go pub.deliver(t, "req-q", broker.Delivery{CorrelationID: "corr-1", ReplyTo: "replies-q", Body: body})

	time.Sleep(20 * time.Millisecond)

	cmdBody, _ := json.Marshal(cmdPayload{Kind: "notify_closed", RequestID: "corr-1", Username: "alice"})
	pub.deliver(t, "cmd-q", broker.Delivery{CorrelationID: "corr-1", Body: cmdBody})

	time.Sleep(20 * time.Millisecond)
	pub.mu.Lock()
	replies := len(pub.replies)
	pub.mu.Unlock()
	assert.Zero(t, replies, "a notify_closed broadcast must not be treated as a close request")
}

func TestHostIgnoresCommandForDifferentCorrelationID(t *testing.T) {
	registry := NewRegistry()
	require.NoError(t, registry.Register(Descriptor{RoutingKey: "osm-import", New: func() Handler { return completingHandler{} }}))

	pub := newFakeHostPublisher()
	host, err := NewHost(registry, "osm-import", 0, pub, zerolog.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go host.Serve(ctx, "req-q", "cmd-q")

	cmdBody, _ := json.Marshal(cmdPayload{Kind: "close", RequestID: "someone-elses-request"})
	assert.NotPanics(t, func() {
		pub.deliver(t, "cmd-q", broker.Delivery{CorrelationID: "someone-elses-request", Body: cmdBody})
	})
}

func TestNewHostFailsForUnknownRoutingKey(t *testing.T) {
	registry := NewRegistry()
	_, err := NewHost(registry, "missing", 0, newFakeHostPublisher(), zerolog.Nop())
	assert.Error(t, err)
}
