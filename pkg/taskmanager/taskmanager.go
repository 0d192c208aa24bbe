// Package taskmanager implements the Task Manager: owns every running
// Task, drives its scenario tree one RPC step at a time, and orchestrates
// graceful-then-forceful cancellation.
package taskmanager

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cuemby/contour/pkg/eventlog"
	"github.com/cuemby/contour/pkg/metrics"
	"github.com/cuemby/contour/pkg/scenario"
	"github.com/cuemby/contour/pkg/types"
)

// RPCReply is one update delivered for an in-flight RPC record: a
// progress tick, a terminal completed/failed status, or a synthetic
// tear-down failure injected by a close driver.
type RPCReply struct {
	Status   types.RPCStatus
	Progress float64
	Message  string
}

// RPCClient is what the Task Manager needs from the RPC layer: start a
// step and get a channel of replies, or ask to close/terminate one that's
// already running. Implemented by pkg/rpcclient.
type RPCClient interface {
	Request(ctx context.Context, taskID, routingKey string, input types.TaskInput) (rpcID string, replies <-chan RPCReply, err error)
	Close(ctx context.Context, rpcID string, terminate bool) error
	NotifyClosed(ctx context.Context, rpcID, username string) error
}

// ScenarioLookup resolves a scenario-id to a fresh, per-task clone of its
// executable tree plus its declared input kind. Implemented by
// pkg/scenarioprovider.
type ScenarioLookup interface {
	GetScenario(scenarioID string) (*scenario.Scenario, error)
}

// Timeouts configures every deadline the step loop and close drivers use.
type Timeouts struct {
	Start     time.Duration
	Close     time.Duration
	Terminate time.Duration
	Heartbeat time.Duration
}

// Manager is the Task Manager.
type Manager struct {
	provider ScenarioLookup
	client   RPCClient
	events   *eventlog.Log
	timeouts Timeouts
	log      zerolog.Logger

	mu    sync.Mutex
	tasks map[string]*taskState
}

type taskState struct {
	mu             sync.Mutex
	task           *types.Task
	tree           *scenario.Scenario
	records        map[string]*recordState
	closeRequested bool
	locks          []types.LockedData
}

type recordState struct {
	record      *types.RPCRecord
	abortCh     chan struct{}
	closeCh     chan RPCReply
	closeActive bool
}

// New constructs a Manager. timeouts.Start is the generous bound a step
// waits before any worker has picked it up; timeouts.Heartbeat is the
// bound applied once the first reply for a step arrives.
func New(provider ScenarioLookup, client RPCClient, events *eventlog.Log, timeouts Timeouts, log zerolog.Logger) *Manager {
	return &Manager{
		provider: provider,
		client:   client,
		events:   events,
		timeouts: timeouts,
		log:      log.With().Str("component", "taskmanager").Logger(),
		tasks:    make(map[string]*taskState),
	}
}

// StartTask resolves scenarioID, validates input against it, registers a
// fresh task and spawns its driver goroutine.
func (m *Manager) StartTask(ctx context.Context, scenarioID string, input types.TaskInput) (string, error) {
	tree, err := m.provider.GetScenario(scenarioID)
	if err != nil {
		return "", fmt.Errorf("resolve scenario %q: %w", scenarioID, err)
	}
	if ok, reason := tree.CheckInput(input); !ok {
		return "", fmt.Errorf("invalid input for scenario %q: %s", scenarioID, reason)
	}

	taskID := uuid.NewString()
	task := &types.Task{ID: taskID, ScenarioID: scenarioID, Input: input, StartedAt: time.Now()}
	task.SetWaiting()

	state := &taskState{task: task, tree: tree, records: make(map[string]*recordState)}
	m.mu.Lock()
	m.tasks[taskID] = state
	m.mu.Unlock()

	metrics.TasksActive.WithLabelValues(string(task.Status)).Inc()
	metrics.TasksStartedTotal.WithLabelValues(scenarioID).Inc()
	m.publish(taskID, types.EventKindStatus, types.SeverityInfo, fmt.Sprintf("task started: %s", tree.Name))

	go m.drive(context.Background(), taskID, state)

	return taskID, nil
}

func (m *Manager) drive(ctx context.Context, taskID string, state *taskState) {
	err := state.tree.Execute(ctx, taskID, m)

	state.mu.Lock()
	task := state.task
	if err != nil {
		task.SetFailed(err.Error())
	} else if !state.closeRequested {
		task.SetCompleted()
	}
	status := task.Status
	state.mu.Unlock()

	metrics.TasksActive.WithLabelValues(string(status)).Dec()
	metrics.TasksFinishedTotal.WithLabelValues(string(status)).Inc()
	metrics.TaskDuration.Observe(time.Since(task.StartedAt).Seconds())

	severity := types.SeverityInfo
	if status == types.TaskFailed {
		severity = types.SeverityError
	}
	m.publish(taskID, types.EventKindStatus, severity, fmt.Sprintf("task %s", status.String()))
}

// RunRequest implements scenario.Runner: it is the per-step loop spec'd
// for the Task Manager.
func (m *Manager) RunRequest(ctx context.Context, taskID, routingKey string) (bool, error) {
	state, ok := m.stateFor(taskID)
	if !ok {
		return false, fmt.Errorf("run request: unknown task %s", taskID)
	}

	state.mu.Lock()
	if state.closeRequested {
		state.mu.Unlock()
		return false, nil
	}
	state.task.SetInProgress()
	input := state.task.Input
	input.Locked = mergeLockedData(state.locks)
	state.mu.Unlock()

	rpcID, replies, err := m.client.Request(ctx, taskID, routingKey, input)
	if err != nil {
		return false, fmt.Errorf("dispatch %s: %w", routingKey, err)
	}

	rec := &types.RPCRecord{CorrelationID: rpcID, TaskID: taskID, RoutingKey: routingKey, Status: types.RPCWaiting, LastHeartbeat: time.Now()}
	recState := &recordState{record: rec, abortCh: make(chan struct{})}
	state.mu.Lock()
	state.records[rpcID] = recState
	state.mu.Unlock()

	metrics.RPCRequestsTotal.WithLabelValues(routingKey).Inc()
	timer := time.NewTimer(m.timeouts.Start)
	defer timer.Stop()
	start := time.Now()

	for {
		select {
		case reply, open := <-replies:
			if !open {
				m.forgetRecord(state, rpcID)
				return false, fmt.Errorf("rpc channel closed unexpectedly for %s", routingKey)
			}
			rec.LastHeartbeat = time.Now()
			rec.Progress = reply.Progress
			rec.Message = reply.Message
			resetTimer(timer, m.timeouts.Heartbeat)

			m.feedCloseDriver(recState, reply)

			switch reply.Status {
			case types.RPCInProgress:
				rec.Status = types.RPCInProgress
				m.publish(taskID, types.EventKindProgress, types.SeverityInfo, reply.Message)
			case types.RPCFailed:
				rec.Status = types.RPCFailed
				state.mu.Lock()
				state.task.SetFailed(reply.Message)
				state.mu.Unlock()
				m.forgetRecord(state, rpcID)
				_ = m.RequestStopTask(context.Background(), taskID)
				metrics.RPCRequestDuration.WithLabelValues(routingKey).Observe(time.Since(start).Seconds())
				return false, nil
			case types.RPCCompleted:
				rec.Status = types.RPCCompleted
				m.forgetRecord(state, rpcID)
				metrics.RPCRequestDuration.WithLabelValues(routingKey).Observe(time.Since(start).Seconds())
				return true, nil
			}
		case <-timer.C:
			rec.Status = types.RPCFailed
			rec.Message = "heartbeat timeout"
			metrics.RPCHeartbeatTimeoutsTotal.WithLabelValues(routingKey).Inc()
			_ = m.RequestStopTask(context.Background(), taskID)
			// keep looping: the record stays registered so its close driver
			// can escalate, and tear-down delivers on abortCh below
			timer.Reset(m.timeouts.Heartbeat)
		case <-recState.abortCh:
			// close driver exhausted close -> terminate and tore the step down
			m.forgetRecord(state, rpcID)
			metrics.RPCRequestDuration.WithLabelValues(routingKey).Observe(time.Since(start).Seconds())
			return false, nil
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}

// NotifyTaskClosed implements scenario.Runner: drops the task's bookkeeping
// once its scenario tree has fully finished.
func (m *Manager) NotifyTaskClosed(taskID string) {
	m.mu.Lock()
	delete(m.tasks, taskID)
	m.mu.Unlock()
	m.publish(taskID, types.EventKindStatus, types.SeverityInfo, "task closed")
}

// AttachLockedData implements scenario.Runner: a Locker calls this once it
// has acquired rows, so every subsequent step dispatched under its subtree
// sees them in its TaskInput.
func (m *Manager) AttachLockedData(taskID string, data types.LockedData) {
	state, ok := m.stateFor(taskID)
	if !ok {
		return
	}
	state.mu.Lock()
	state.locks = append(state.locks, data)
	state.mu.Unlock()
}

// DetachLockedData implements scenario.Runner: a Locker calls this as it
// releases rows, so they stop being presented to steps outside its subtree.
func (m *Manager) DetachLockedData(taskID string, data types.LockedData) {
	state, ok := m.stateFor(taskID)
	if !ok {
		return
	}
	state.mu.Lock()
	for i, locked := range state.locks {
		if locked.LockID == data.LockID {
			state.locks = append(state.locks[:i], state.locks[i+1:]...)
			break
		}
	}
	state.mu.Unlock()
}

// mergeLockedData flattens every currently-held lock's rows into the
// (type, subtype, ids) views a TaskInput presents to its scenario step.
func mergeLockedData(locks []types.LockedData) []types.LockedView {
	if len(locks) == 0 {
		return nil
	}
	var views []types.LockedView
	for _, locked := range locks {
		for ts, ids := range locked.Cells {
			views = append(views, types.LockedView{Type: ts.Type, Subtype: ts.Subtype, IDs: ids})
		}
	}
	return views
}

func (m *Manager) stateFor(taskID string) (*taskState, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.tasks[taskID]
	return state, ok
}

func (m *Manager) forgetRecord(state *taskState, rpcID string) {
	state.mu.Lock()
	delete(state.records, rpcID)
	state.mu.Unlock()
}

func (m *Manager) publish(taskID string, kind types.EventKind, severity types.EventSeverity, message string) {
	if m.events == nil {
		return
	}
	m.events.Publish(&types.Event{TaskID: taskID, Kind: kind, Severity: severity, Message: message, CreatedAt: time.Now()})
}
