package taskmanager

import (
	"context"
	"time"

	"github.com/cuemby/contour/pkg/types"
)

// RequestStopTask marks taskID's close-requested flag and spawns a close
// driver for every currently non-terminal RPC record that doesn't already
// have one running.
func (m *Manager) RequestStopTask(ctx context.Context, taskID string) error {
	state, ok := m.stateFor(taskID)
	if !ok {
		return nil
	}

	state.mu.Lock()
	state.closeRequested = true
	username := state.task.Input.Username
	var toStart []string
	for rpcID, recState := range state.records {
		if !recState.closeActive {
			recState.closeActive = true
			recState.closeCh = make(chan RPCReply, 4)
			toStart = append(toStart, rpcID)
		}
	}
	state.mu.Unlock()

	for _, rpcID := range toStart {
		recState := state.records[rpcID]
		go m.runCloseDriver(ctx, taskID, rpcID, recState, username)
	}
	m.publish(taskID, types.EventKindStatus, types.SeverityWarning, "task stop requested")
	return nil
}

// feedCloseDriver forwards a reply observed by the step loop into the
// matching close driver, if one is active for this record.
func (m *Manager) feedCloseDriver(recState *recordState, reply RPCReply) {
	if !recState.closeActive {
		return
	}
	select {
	case recState.closeCh <- reply:
	default:
	}
}

// runCloseDriver implements the close -> terminate -> tear-down escalation
// spec'd for a single in-flight RPC record.
func (m *Manager) runCloseDriver(ctx context.Context, taskID, rpcID string, recState *recordState, username string) {
	initial := m.timeouts.Close
	if recState.record.Status == types.RPCWaiting {
		initial = m.timeouts.Start
	}

	if err := m.client.Close(ctx, rpcID, false); err != nil {
		m.publish(taskID, types.EventKindMessage, types.SeverityWarning, "close request failed: "+err.Error())
	}

	timer := time.NewTimer(initial)
	defer timer.Stop()
	escalated := false

	for {
		select {
		case reply := <-recState.closeCh:
			switch reply.Status {
			case types.RPCInProgress:
				resetTimer(timer, m.timeouts.Close)
			case types.RPCCompleted:
				if err := m.client.NotifyClosed(ctx, rpcID, username); err != nil {
					m.publish(taskID, types.EventKindMessage, types.SeverityWarning, "notify closed failed: "+err.Error())
				}
				m.publish(taskID, types.EventKindMessage, types.SeverityInfo, "rpc closed gracefully")
				return
			case types.RPCFailed:
				m.publish(taskID, types.EventKindMessage, types.SeverityWarning, "rpc failed while closing")
				return
			}
		case <-timer.C:
			if !escalated {
				escalated = true
				if err := m.client.Close(ctx, rpcID, true); err != nil {
					m.publish(taskID, types.EventKindMessage, types.SeverityWarning, "terminate request failed: "+err.Error())
				}
				resetTimer(timer, m.timeouts.Terminate)
				continue
			}
			recState.record.Status = types.RPCFailed
			recState.record.Message = "terminate timeout, tearing down"
			if err := m.client.NotifyClosed(ctx, rpcID, username); err != nil {
				m.publish(taskID, types.EventKindMessage, types.SeverityWarning, "notify closed failed: "+err.Error())
			}
			m.publish(taskID, types.EventKindMessage, types.SeverityError, "rpc tear-down after terminate timeout")
			close(recState.abortCh)
			return
		case <-ctx.Done():
			return
		}
	}
}
