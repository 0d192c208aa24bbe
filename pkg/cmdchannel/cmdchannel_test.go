package cmdchannel

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPair(t *testing.T) (*Channel, *Channel) {
	t.Helper()
	a, b := net.Pipe()
	ca := New(a)
	cb := New(b)
	t.Cleanup(func() {
		ca.Close()
		cb.Close()
	})
	return ca, cb
}

func TestSendAndPoll(t *testing.T) {
	supervisor, worker := newPair(t)

	go func() {
		require.NoError(t, supervisor.Send(Message{Type: MsgCloseTask, TaskID: "task-1"}))
	}()

	var msg Message
	require.Eventually(t, func() bool {
		m, ok := worker.Poll()
		if ok {
			msg = m
			return true
		}
		return false
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, MsgCloseTask, msg.Type)
	assert.Equal(t, "task-1", msg.TaskID)
}

func TestPollWithoutMessageReturnsFalse(t *testing.T) {
	_, worker := newPair(t)

	_, ok := worker.Poll()
	assert.False(t, ok)
}

func TestWaitBlocksUntilMessage(t *testing.T) {
	supervisor, worker := newPair(t)

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = supervisor.Send(Message{Type: MsgOK})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	msg, err := worker.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, MsgOK, msg.Type)
}

func TestWaitRespectsContextCancellation(t *testing.T) {
	_, worker := newPair(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := worker.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNotifyTaskClosedRoundTrip(t *testing.T) {
	supervisor, worker := newPair(t)

	go func() {
		require.NoError(t, worker.Send(Message{Type: MsgNotifyTaskClosed, TaskID: "task-7"}))
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	msg, err := supervisor.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, MsgNotifyTaskClosed, msg.Type)
	assert.Equal(t, "task-7", msg.TaskID)
}
