// Package rpcclient is the scheduler-side half of the RPC layer: it
// implements taskmanager.RPCClient by publishing requests through the
// Broker Adapter, tracking each in-flight request in the Correlation
// Registry, and fanning reply-queue deliveries back out to the caller that
// is waiting on them.
package rpcclient

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cuemby/contour/pkg/broker"
	"github.com/cuemby/contour/pkg/correlation"
	"github.com/cuemby/contour/pkg/taskmanager"
	"github.com/cuemby/contour/pkg/types"
)

// Publisher is what the Client needs from the Broker Adapter.
type Publisher interface {
	Publish(ctx context.Context, routingKey, correlationID, replyTo string, body []byte) error
	PublishCmd(ctx context.Context, body []byte) error
	Consume(ctx context.Context, queue string, handle func(broker.Delivery)) error
}

// requestPayload is the wire shape of a request published to a worker's
// routing-key queue.
type requestPayload struct {
	TaskID string    `json:"task_id"`
	Input  wireInput `json:"input"`
}

type wireInput struct {
	Kind   types.TaskInputKind `json:"kind"`
	Cells  []types.CellID      `json:"cells,omitempty"`
	Rect   types.Rect          `json:"rect,omitempty"`
	Locked []types.LockedView  `json:"locked,omitempty"`
}

// replyPayload is the wire shape of a delivery on the client's reply queue.
type replyPayload struct {
	Status   types.RPCStatus `json:"status"`
	Progress float64         `json:"progress"`
	Message  string          `json:"message"`
}

// cmdPayload mirrors rpcworker's Command Channel frame, broadcast on the
// fanout command exchange per RPCBase.CMD_ROUTING_KEY. Kind discriminates
// a close/terminate request (acted on by the worker holding RequestID) from
// a notify_closed record (a fire-and-forget broadcast every worker ignores).
type cmdPayload struct {
	Kind      string `json:"kind"`
	RequestID string `json:"request_id"`
	Terminate bool   `json:"terminate"`
	Username  string `json:"username,omitempty"`
}

const (
	cmdKindClose        = "close"
	cmdKindNotifyClosed = "notify_closed"
)

// Client is the RPC Client collaborator taskmanager.Manager dispatches
// through.
type Client struct {
	pub       Publisher
	registry  *correlation.Registry
	replyTo   string
	log       zerolog.Logger
	routingTo func(routingKey string) string
}

// New constructs a Client. replyQueue is the exclusive queue this process
// consumes replies on; routingKeyQueue maps a routing key to the queue
// name a worker for it consumes requests from (normally the identity
// function — see broker.Adapter.QueueForRoutingKey).
func New(pub Publisher, replyQueue string, routingKeyQueue func(string) string, log zerolog.Logger) *Client {
	if routingKeyQueue == nil {
		routingKeyQueue = func(k string) string { return k }
	}
	return &Client{
		pub:       pub,
		registry:  correlation.New(),
		replyTo:   replyQueue,
		log:       log.With().Str("component", "rpcclient").Logger(),
		routingTo: routingKeyQueue,
	}
}

// Run consumes the reply queue until ctx is cancelled. Call it in its own
// goroutine alongside the Client.
func (c *Client) Run(ctx context.Context) error {
	return c.pub.Consume(ctx, c.replyTo, c.onDelivery)
}

func (c *Client) onDelivery(d broker.Delivery) {
	defer d.Ack()

	var payload replyPayload
	if err := json.Unmarshal(d.Body, &payload); err != nil {
		c.log.Error().Err(err).Str("correlation_id", d.CorrelationID).Msg("malformed rpc reply, forcing terminate")
		c.forceTerminate(d.CorrelationID)
		return
	}

	if !c.registry.Resolve(d.CorrelationID, correlation.Reply{
		Status:   payload.Status,
		Progress: payload.Progress,
		Message:  payload.Message,
	}) {
		c.log.Warn().Str("correlation_id", d.CorrelationID).Msg("reply for unknown correlation id, forcing terminate")
		c.forceTerminate(d.CorrelationID)
	}
}

// forceTerminate issues a forced terminate for a correlation id the Client
// cannot otherwise make sense of — a reply that fails to decode, or one
// that names a correlation id the registry has never heard of — so the
// task step this correlation id belongs to still ends instead of hanging
// on a reply that will never resolve it.
func (c *Client) forceTerminate(correlationID string) {
	if correlationID == "" {
		return
	}
	if err := c.Close(context.Background(), correlationID, true); err != nil {
		c.log.Error().Err(err).Str("correlation_id", correlationID).Msg("failed to issue forced terminate")
	}
}

// Request implements taskmanager.RPCClient: publish a request to
// routingKey and return a channel of replies keyed by a fresh correlation
// id.
func (c *Client) Request(ctx context.Context, taskID, routingKey string, input types.TaskInput) (string, <-chan taskmanager.RPCReply, error) {
	correlationID := uuid.NewString()

	body, err := json.Marshal(requestPayload{
		TaskID: taskID,
		Input: wireInput{
			Kind:   input.Kind,
			Cells:  input.Cells,
			Rect:   input.Rect,
			Locked: input.Locked,
		},
	})
	if err != nil {
		return "", nil, fmt.Errorf("marshal rpc request: %w", err)
	}

	corrReplies := c.registry.Register(correlationID, taskID)

	if err := c.pub.Publish(ctx, routingKey, correlationID, c.replyTo, body); err != nil {
		c.registry.Forget(correlationID)
		return "", nil, fmt.Errorf("publish rpc request to %s: %w", routingKey, err)
	}

	out := make(chan taskmanager.RPCReply, 4)
	go c.pump(correlationID, corrReplies, out)

	return correlationID, out, nil
}

// pump translates correlation.Reply values into taskmanager.RPCReply and
// forwards them until the registry closes the source channel (Forget) or
// the sink is abandoned. It forgets the registry entry itself once a
// terminal status passes through, so taskmanager never has to reach back
// into the RPC layer to release it.
func (c *Client) pump(correlationID string, in <-chan correlation.Reply, out chan<- taskmanager.RPCReply) {
	defer close(out)
	for reply := range in {
		select {
		case out <- taskmanager.RPCReply{Status: reply.Status, Progress: reply.Progress, Message: reply.Message}:
		case <-time.After(5 * time.Second):
			c.registry.Forget(correlationID)
			return
		}
		if reply.Status == types.RPCCompleted || reply.Status == types.RPCFailed {
			c.registry.Forget(correlationID)
			return
		}
	}
}

// Close implements taskmanager.RPCClient: broadcast a close (or terminate)
// command for correlationID on the fanout command exchange. Every worker
// process receives it and checks it against its own in-flight requests,
// per the Command Channel's broadcast-then-filter design.
func (c *Client) Close(ctx context.Context, correlationID string, terminate bool) error {
	body, err := json.Marshal(cmdPayload{Kind: cmdKindClose, RequestID: correlationID, Terminate: terminate})
	if err != nil {
		return fmt.Errorf("marshal close cmd: %w", err)
	}
	if err := c.pub.PublishCmd(ctx, body); err != nil {
		return fmt.Errorf("publish close cmd: %w", err)
	}
	return nil
}

// NotifyClosed implements taskmanager.RPCClient: broadcast a notify_closed
// command for correlationID that records which user closed it. Worker
// hosts ignore this kind of command. Unlike Close, this carries no
// expectation of a reply.
func (c *Client) NotifyClosed(ctx context.Context, correlationID, username string) error {
	body, err := json.Marshal(cmdPayload{Kind: cmdKindNotifyClosed, RequestID: correlationID, Username: username})
	if err != nil {
		return fmt.Errorf("marshal notify-closed cmd: %w", err)
	}
	if err := c.pub.PublishCmd(ctx, body); err != nil {
		return fmt.Errorf("publish notify-closed cmd: %w", err)
	}
	return nil
}

// Forget drops correlationID's registry entry without waiting for a
// terminal reply. taskmanager already stops reading from a record's
// channel once RunRequest returns, but the registry entry must still be
// released so Resolve doesn't leak it.
func (c *Client) Forget(correlationID string) {
	c.registry.Forget(correlationID)
}
