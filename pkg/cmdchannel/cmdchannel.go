// Package cmdchannel implements the Command Channel: a small bidirectional
// control protocol between the Worker Pool Supervisor and a worker process,
// carried over a newline-delimited JSON stream on a net.Conn. Either side
// can poll its inbound side without blocking.
package cmdchannel

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
)

// MsgType enumerates the four Command Channel messages.
type MsgType string

const (
	// MsgOK acknowledges a prior command.
	MsgOK MsgType = "ok"
	// MsgCloseTask asks a worker to begin closing the given task.
	MsgCloseTask MsgType = "close_task"
	// MsgTerminateTask asks a worker to forcibly terminate the given task.
	MsgTerminateTask MsgType = "terminate_task"
	// MsgNotifyTaskClosed informs the supervisor a task finished closing.
	MsgNotifyTaskClosed MsgType = "notify_task_closed"
)

// Message is one Command Channel frame.
type Message struct {
	Type   MsgType `json:"type"`
	TaskID string  `json:"task_id,omitempty"`
}

// Channel wraps a net.Conn with a background reader goroutine feeding a
// buffered inbox, so Poll never blocks the caller.
type Channel struct {
	conn    net.Conn
	enc     *json.Encoder
	inbox   chan Message
	errOnce sync.Once
	errCh   chan error
}

// New wraps conn as a Command Channel and starts its reader goroutine.
func New(conn net.Conn) *Channel {
	c := &Channel{
		conn:  conn,
		enc:   json.NewEncoder(conn),
		inbox: make(chan Message, 16),
		errCh: make(chan error, 1),
	}
	go c.readLoop()
	return c
}

func (c *Channel) readLoop() {
	scanner := bufio.NewScanner(c.conn)
	for scanner.Scan() {
		var msg Message
		if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
			continue // malformed frame, drop it; it is not re-requested
		}
		c.inbox <- msg
	}
	c.errOnce.Do(func() {
		if err := scanner.Err(); err != nil {
			c.errCh <- err
		} else {
			c.errCh <- fmt.Errorf("command channel closed")
		}
	})
}

// Send writes one message to the peer.
func (c *Channel) Send(msg Message) error {
	return c.enc.Encode(msg)
}

// Poll returns the next inbound message if one is already buffered,
// without blocking.
func (c *Channel) Poll() (Message, bool) {
	select {
	case msg := <-c.inbox:
		return msg, true
	default:
		return Message{}, false
	}
}

// Wait blocks until a message arrives, ctx is cancelled, or the
// connection's reader loop exits.
func (c *Channel) Wait(ctx context.Context) (Message, error) {
	select {
	case msg := <-c.inbox:
		return msg, nil
	case err := <-c.errCh:
		return Message{}, err
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
}

// Close closes the underlying connection.
func (c *Channel) Close() error {
	return c.conn.Close()
}
