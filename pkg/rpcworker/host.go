// Package rpcworker is the RPC Worker Host: the worker-side process that
// consumes delivered requests for one routing key, runs the registered
// handler, and reports progress/completion back over the broker while
// watching the fan-out command exchange for a close or terminate aimed
// at the task it currently holds.
package rpcworker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rs/zerolog"

	"github.com/cuemby/contour/pkg/broker"
	"github.com/cuemby/contour/pkg/types"
)

// Publisher is what a Host needs from the Broker Adapter.
type Publisher interface {
	Consume(ctx context.Context, queue string, handle func(broker.Delivery)) error
	PublishReply(ctx context.Context, queue, correlationID string, body []byte) error
}

type wireInput struct {
	Kind   types.TaskInputKind `json:"kind"`
	Cells  []types.CellID      `json:"cells,omitempty"`
	Rect   types.Rect          `json:"rect,omitempty"`
	Locked []types.LockedView  `json:"locked,omitempty"`
}

type requestPayload struct {
	TaskID string    `json:"task_id"`
	Input  wireInput `json:"input"`
}

type replyPayload struct {
	Status   types.RPCStatus `json:"status"`
	Progress float64         `json:"progress"`
	Message  string          `json:"message"`
}

// cmdPayload mirrors rpcclient's Command Channel frame. Kind discriminates
// a close/terminate request (acted on below) from a notify_closed record,
// which every worker must ignore rather than misread as a close request.
type cmdPayload struct {
	Kind      string `json:"kind"`
	RequestID string `json:"request_id"`
	Terminate bool   `json:"terminate"`
	Username  string `json:"username,omitempty"`
}

const cmdKindClose = "close"

// active tracks the single in-flight run this worker instance may be
// processing at a time, per §4.4's "at most one in-flight task per
// worker" invariant.
type active struct {
	correlationID string
	replyTo       string
	rc            *RunContext
}

// Host runs one Descriptor against a broker request queue and its own
// command queue bound to the fan-out command exchange. One Host corresponds to one `contour worker run`
// instance.
type Host struct {
	desc       Descriptor
	pub        Publisher
	instanceID int
	log        zerolog.Logger

	current atomic.Pointer[active]
}

// NewHost looks routingKey up in registry and builds a Host for it.
func NewHost(registry *Registry, routingKey string, instanceID int, pub Publisher, log zerolog.Logger) (*Host, error) {
	desc, ok := registry.Lookup(routingKey)
	if !ok {
		return nil, fmt.Errorf("rpcworker: no handler registered for %q", routingKey)
	}
	return &Host{
		desc:       desc,
		pub:        pub,
		instanceID: instanceID,
		log:        log.With().Str("component", "rpcworker").Str("routing_key", routingKey).Int("instance", instanceID).Logger(),
	}, nil
}

// Serve consumes requestQueue and cmdQueue until ctx is cancelled or
// either consumer returns an error.
func (h *Host) Serve(ctx context.Context, requestQueue, cmdQueue string) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return h.pub.Consume(ctx, cmdQueue, h.onCmd) })
	g.Go(func() error { return h.pub.Consume(ctx, requestQueue, h.onRequest) })
	return g.Wait()
}

func (h *Host) onCmd(d broker.Delivery) {
	defer d.Ack()
	var cmd cmdPayload
	if err := json.Unmarshal(d.Body, &cmd); err != nil {
		h.log.Warn().Err(err).Msg("malformed command, dropping")
		return
	}

	if cmd.Kind != cmdKindClose {
		return // e.g. notify_closed; nothing for a worker to act on
	}

	cur := h.current.Load()
	if cur == nil || cur.correlationID != cmd.RequestID {
		return // not ours; every worker sees every broadcast command
	}
	cur.rc.RequestClose(cmd.Terminate)
}

func (h *Host) onRequest(d broker.Delivery) {
	defer d.Ack()

	var req requestPayload
	if err := json.Unmarshal(d.Body, &req); err != nil {
		h.log.Error().Err(err).Msg("malformed request, dropping")
		return
	}
	input := types.TaskInput{Kind: req.Input.Kind, Cells: req.Input.Cells, Rect: req.Input.Rect, Locked: req.Input.Locked}

	rc := NewRunContext(h.desc.RaiseOnClose, func(progress float64, message string) {
		h.reply(d, types.RPCInProgress, progress, message)
	})

	h.current.Store(&active{correlationID: d.CorrelationID, replyTo: d.ReplyTo, rc: rc})
	defer h.current.Store(nil)

	if h.desc.Validate != nil {
		if err := h.desc.Validate(input); err != nil {
			h.reply(d, types.RPCFailed, 0, "invalid input: "+err.Error())
			return
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	handler := h.desc.New()
	start := time.Now()
	err := handler.Run(ctx, rc, input)

	switch {
	case err == nil:
		h.reply(d, types.RPCCompleted, 1, "completed")
	case errors.Is(err, ErrCloseRequested):
		h.reply(d, types.RPCFailed, rc.LastProgress(), "closed on request")
	default:
		h.reply(d, types.RPCFailed, rc.LastProgress(), err.Error())
	}
	h.log.Debug().Str("task_id", req.TaskID).Dur("duration", time.Since(start)).Msg("request finished")
}

func (h *Host) reply(d broker.Delivery, status types.RPCStatus, progress float64, message string) {
	body, err := json.Marshal(replyPayload{Status: status, Progress: progress, Message: message})
	if err != nil {
		h.log.Error().Err(err).Msg("marshal reply")
		return
	}
	if err := h.pub.PublishReply(context.Background(), d.ReplyTo, d.CorrelationID, body); err != nil {
		h.log.Error().Err(err).Msg("publish reply")
	}
}
