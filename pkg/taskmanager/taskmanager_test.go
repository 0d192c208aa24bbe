package taskmanager

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/contour/pkg/eventlog"
	"github.com/cuemby/contour/pkg/scenario"
	"github.com/cuemby/contour/pkg/types"
)

type fakeLookup struct {
	tree *scenario.Scenario
	err  error
}

func (f *fakeLookup) GetScenario(string) (*scenario.Scenario, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.tree.Clone(), nil
}

type closeCall struct {
	rpcID     string
	terminate bool
}

type notifyCall struct {
	rpcID    string
	username string
}

type fakeClient struct {
	mu          sync.Mutex
	replies     map[string]chan RPCReply
	closeCalls  []closeCall
	notifyCalls []notifyCall
	gotInputs   []types.TaskInput
	requestErr  error
	next        int
}

func newFakeClient() *fakeClient {
	return &fakeClient{replies: make(map[string]chan RPCReply)}
}

func (f *fakeClient) Request(_ context.Context, _ string, _ string, input types.TaskInput) (string, <-chan RPCReply, error) {
	if f.requestErr != nil {
		return "", nil, f.requestErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	id := fmt.Sprintf("rpc-%d", f.next)
	ch := make(chan RPCReply, 4)
	f.replies[id] = ch
	f.gotInputs = append(f.gotInputs, input)
	return id, ch, nil
}

func (f *fakeClient) Close(_ context.Context, rpcID string, terminate bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeCalls = append(f.closeCalls, closeCall{rpcID: rpcID, terminate: terminate})
	return nil
}

func (f *fakeClient) NotifyClosed(_ context.Context, rpcID, username string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notifyCalls = append(f.notifyCalls, notifyCall{rpcID: rpcID, username: username})
	return nil
}

func (f *fakeClient) channelFor(t *testing.T, rpcID string) chan RPCReply {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.replies[rpcID]
}

func (f *fakeClient) onlyRPCID() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.replies) != 1 {
		return ""
	}
	for id := range f.replies {
		return id
	}
	return ""
}

func newTestEventLog(t *testing.T) *eventlog.Log {
	t.Helper()
	store, err := eventlog.NewBoltStore(filepath.Join(t.TempDir(), "events.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	log := eventlog.New(store)
	log.Start()
	t.Cleanup(log.Stop)
	return log
}

func singleRunScenario(routingKey string) *scenario.Scenario {
	return &scenario.Scenario{
		Name:      "test-scenario",
		InputType: types.InputKindCells,
		Child: &scenario.Consequent{
			Locker:   scenario.NoopLocker{},
			Children: []scenario.Node{&scenario.Run{RoutingKey: routingKey}},
		},
	}
}

type fakeLockManager struct {
	result types.LockedData
}

func (m *fakeLockManager) Lock(context.Context, []types.TypeSubtype) (types.LockedData, error) {
	return m.result, nil
}

func (m *fakeLockManager) Unlock(context.Context, types.LockedData, bool) error {
	return nil
}

func lockedRunScenario(routingKey string, manager scenario.LockManager) *scenario.Scenario {
	return &scenario.Scenario{
		Name:      "test-scenario",
		InputType: types.InputKindCells,
		Child: &scenario.Consequent{
			Locker:   &scenario.CellLocker{Manager: manager, Pairs: []types.TypeSubtype{{Type: "road"}}},
			Children: []scenario.Node{&scenario.Run{RoutingKey: routingKey}},
		},
	}
}

func testTimeouts() Timeouts {
	return Timeouts{
		Start:     200 * time.Millisecond,
		Close:     30 * time.Millisecond,
		Terminate: 30 * time.Millisecond,
		Heartbeat: 200 * time.Millisecond,
	}
}

func TestStartTaskRejectsInvalidInput(t *testing.T) {
	lookup := &fakeLookup{tree: singleRunScenario("x")}
	manager := New(lookup, newFakeClient(), nil, testTimeouts(), zerolog.Nop())

	_, err := manager.StartTask(context.Background(), "test-scenario", types.TaskInput{Kind: types.InputKindRect})

	assert.Error(t, err)
}

func TestRunRequestCompletesTaskOnSuccessReply(t *testing.T) {
	lookup := &fakeLookup{tree: singleRunScenario("x")}
	client := newFakeClient()
	events := newTestEventLog(t)
	manager := New(lookup, client, events, testTimeouts(), zerolog.Nop())

	taskID, err := manager.StartTask(context.Background(), "test-scenario", types.TaskInput{Kind: types.InputKindCells, Cells: []types.CellID{{X: 1, Y: 1, Zoom: 1}}})
	require.NoError(t, err)

	var rpcID string
	require.Eventually(t, func() bool {
		client.mu.Lock()
		defer client.mu.Unlock()
		if len(client.replies) != 1 {
			return false
		}
		for id := range client.replies {
			rpcID = id
		}
		return true
	}, time.Second, 5*time.Millisecond)

	ch := client.channelFor(t, rpcID)
	ch <- RPCReply{Status: types.RPCCompleted, Progress: 1}

	require.Eventually(t, func() bool {
		_, ok := manager.stateFor(taskID)
		return !ok
	}, time.Second, 5*time.Millisecond)
}

func TestRunRequestFailsTaskOnFailedReply(t *testing.T) {
	lookup := &fakeLookup{tree: singleRunScenario("x")}
	client := newFakeClient()
	manager := New(lookup, client, nil, testTimeouts(), zerolog.Nop())

	taskID, err := manager.StartTask(context.Background(), "test-scenario", types.TaskInput{Kind: types.InputKindCells, Cells: []types.CellID{{X: 1, Y: 1, Zoom: 1}}})
	require.NoError(t, err)

	rpcID := ""
	require.Eventually(t, func() bool {
		rpcID = client.onlyRPCID()
		return rpcID != ""
	}, time.Second, 5*time.Millisecond)

	state, ok := manager.stateFor(taskID)
	require.True(t, ok)

	client.channelFor(t, rpcID) <- RPCReply{Status: types.RPCFailed, Message: "boom"}

	require.Eventually(t, func() bool {
		_, ok := manager.stateFor(taskID)
		return !ok
	}, time.Second, 5*time.Millisecond)

	state.mu.Lock()
	assert.Equal(t, types.TaskFailed, state.task.Status)
	state.mu.Unlock()
}

func TestHeartbeatTimeoutEscalatesThroughCloseAndTerminate(t *testing.T) {
	lookup := &fakeLookup{tree: singleRunScenario("x")}
	client := newFakeClient()
	timeouts := Timeouts{
		Start:     20 * time.Millisecond,
		Close:     20 * time.Millisecond,
		Terminate: 20 * time.Millisecond,
		Heartbeat: 20 * time.Millisecond,
	}
	manager := New(lookup, client, nil, timeouts, zerolog.Nop())

	_, err := manager.StartTask(context.Background(), "test-scenario", types.TaskInput{Kind: types.InputKindCells, Cells: []types.CellID{{X: 1, Y: 1, Zoom: 1}}})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		client.mu.Lock()
		defer client.mu.Unlock()
		for _, c := range client.closeCalls {
			if c.terminate {
				return true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond, "expected a terminate close call after repeated timeouts")
}

func TestHeartbeatTimeoutTeardownNotifiesClosedWithUsername(t *testing.T) {
	lookup := &fakeLookup{tree: singleRunScenario("x")}
	client := newFakeClient()
	timeouts := Timeouts{
		Start:     20 * time.Millisecond,
		Close:     20 * time.Millisecond,
		Terminate: 20 * time.Millisecond,
		Heartbeat: 20 * time.Millisecond,
	}
	manager := New(lookup, client, nil, timeouts, zerolog.Nop())

	_, err := manager.StartTask(context.Background(), "test-scenario", types.TaskInput{
		Username: "alice",
		Kind:     types.InputKindCells,
		Cells:    []types.CellID{{X: 1, Y: 1, Zoom: 1}},
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		client.mu.Lock()
		defer client.mu.Unlock()
		for _, n := range client.notifyCalls {
			if n.username == "alice" {
				return true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond, "expected notify-closed after terminate-timeout tear-down")
}

func TestCloseDriverNotifiesClosedOnGracefulCompletion(t *testing.T) {
	lookup := &fakeLookup{tree: singleRunScenario("x")}
	client := newFakeClient()
	manager := New(lookup, client, nil, testTimeouts(), zerolog.Nop())

	taskID, err := manager.StartTask(context.Background(), "test-scenario", types.TaskInput{
		Username: "bob",
		Kind:     types.InputKindCells,
		Cells:    []types.CellID{{X: 1, Y: 1, Zoom: 1}},
	})
	require.NoError(t, err)

	var rpcID string
	require.Eventually(t, func() bool {
		rpcID = client.onlyRPCID()
		return rpcID != ""
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, manager.RequestStopTask(context.Background(), taskID))
	client.channelFor(t, rpcID) <- RPCReply{Status: types.RPCCompleted, Progress: 1}

	require.Eventually(t, func() bool {
		client.mu.Lock()
		defer client.mu.Unlock()
		for _, n := range client.notifyCalls {
			if n.rpcID == rpcID && n.username == "bob" {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)
}

func TestRunRequestMergesLockedDataIntoInput(t *testing.T) {
	lockManager := &fakeLockManager{result: types.LockedData{
		LockID: 1,
		Cells:  map[types.TypeSubtype][]int64{{Type: "road"}: {10, 20}},
		Rows:   []types.HistoryRow{{ID: 10}, {ID: 20}},
	}}
	lookup := &fakeLookup{tree: lockedRunScenario("x", lockManager)}
	client := newFakeClient()
	manager := New(lookup, client, nil, testTimeouts(), zerolog.Nop())

	taskID, err := manager.StartTask(context.Background(), "test-scenario", types.TaskInput{Kind: types.InputKindCells, Cells: []types.CellID{{X: 1, Y: 1, Zoom: 1}}})
	require.NoError(t, err)

	var rpcID string
	require.Eventually(t, func() bool {
		rpcID = client.onlyRPCID()
		return rpcID != ""
	}, time.Second, 5*time.Millisecond)

	client.mu.Lock()
	require.Len(t, client.gotInputs, 1)
	got := client.gotInputs[0]
	client.mu.Unlock()

	require.Len(t, got.Locked, 1)
	assert.Equal(t, "road", got.Locked[0].Type)
	assert.ElementsMatch(t, []int64{10, 20}, got.Locked[0].IDs)

	client.channelFor(t, rpcID) <- RPCReply{Status: types.RPCCompleted, Progress: 1}

	require.Eventually(t, func() bool {
		_, ok := manager.stateFor(taskID)
		return !ok
	}, time.Second, 5*time.Millisecond)
}

func TestStartTaskPropagatesScenarioLookupError(t *testing.T) {
	lookup := &fakeLookup{err: errors.New("not found")}
	manager := New(lookup, newFakeClient(), nil, testTimeouts(), zerolog.Nop())

	_, err := manager.StartTask(context.Background(), "missing", types.TaskInput{Kind: types.InputKindCells, Cells: []types.CellID{{X: 1}}})

	assert.Error(t, err)
}
