// Package broker adapts Contour's RPC layer to the message broker. Its core
// operations are Publish and Consume; PublishReply, PublishCmd and the
// queue-declaration helpers round out what the RPC client and worker host
// need, so nothing above this package touches AMQP directly.
package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/cuemby/contour/pkg/log"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
)

// Delivery is one inbound message handed to a Consume callback.
type Delivery struct {
	RoutingKey    string
	CorrelationID string
	ReplyTo       string
	Body          []byte

	ack func()
}

// Ack acknowledges the delivery so the broker does not redeliver it.
func (d Delivery) Ack() {
	if d.ack != nil {
		d.ack()
	}
}

// Config configures an Adapter.
type Config struct {
	URL               string
	Exchange          string
	CmdExchange       string
	CmdRoutingKey     string
	PrefetchCount     int
	ReconnectDelay    time.Duration
	BreakerMaxFails   uint32
	BreakerOpenPeriod time.Duration
}

// Adapter is the Broker Adapter: Publish/Consume over an amqp091-go
// connection, with publishes wrapped in a circuit breaker so a flapping
// broker trips open instead of piling up blocked publishers.
type Adapter struct {
	cfg     Config
	log     zerolog.Logger
	conn    *amqp.Connection
	channel *amqp.Channel
	breaker *gobreaker.CircuitBreaker
}

// Dial connects to the broker and declares the exchanges the RPC layer and
// Command Channel depend on (the request exchange and the fanout command
// exchange). Queues are declared separately by QueueForRoutingKey,
// DeclareReplyQueue and DeclareCmdQueue.
func Dial(cfg Config) (*Adapter, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("dial broker: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	if err := ch.Qos(cfg.PrefetchCount, 0, false); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("set qos: %w", err)
	}

	if err := ch.ExchangeDeclare(cfg.Exchange, amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare request exchange: %w", err)
	}
	if err := ch.ExchangeDeclare(cfg.CmdExchange, amqp.ExchangeFanout, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare cmd exchange: %w", err)
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "broker-publish",
		MaxRequests: 1,
		Interval:    0,
		Timeout:     cfg.BreakerOpenPeriod,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerMaxFails
		},
	})

	return &Adapter{
		cfg:     cfg,
		log:     log.WithComponent("broker"),
		conn:    conn,
		channel: ch,
		breaker: breaker,
	}, nil
}

// Close tears down the channel and connection.
func (a *Adapter) Close() error {
	if err := a.channel.Close(); err != nil {
		a.log.Warn().Err(err).Msg("closing broker channel")
	}
	return a.conn.Close()
}

// Publish sends body to routingKey on the request exchange, with the given
// correlation id and reply-to queue, going through the publish breaker.
func (a *Adapter) Publish(ctx context.Context, routingKey, correlationID, replyTo string, body []byte) error {
	_, err := a.breaker.Execute(func() (any, error) {
		return nil, a.channel.PublishWithContext(ctx, a.cfg.Exchange, routingKey, false, false, amqp.Publishing{
			ContentType:   "application/json",
			CorrelationId: correlationID,
			ReplyTo:       replyTo,
			Body:          body,
		})
	})
	if err != nil {
		return fmt.Errorf("publish to %s: %w", routingKey, err)
	}
	return nil
}

// PublishReply sends body straight to queue via the broker's default
// exchange, the way a worker returns an RPC reply to the client's
// reply-to queue without needing to know which exchange the client
// itself published the request on.
func (a *Adapter) PublishReply(ctx context.Context, queue, correlationID string, body []byte) error {
	_, err := a.breaker.Execute(func() (any, error) {
		return nil, a.channel.PublishWithContext(ctx, "", queue, false, false, amqp.Publishing{
			ContentType:   "application/json",
			CorrelationId: correlationID,
			Body:          body,
		})
	})
	if err != nil {
		return fmt.Errorf("publish reply to %s: %w", queue, err)
	}
	return nil
}

// PublishCmd broadcasts a Command Channel control message on the fanout
// command exchange.
func (a *Adapter) PublishCmd(ctx context.Context, body []byte) error {
	_, err := a.breaker.Execute(func() (any, error) {
		return nil, a.channel.PublishWithContext(ctx, a.cfg.CmdExchange, a.cfg.CmdRoutingKey, false, false, amqp.Publishing{
			ContentType: "application/json",
			Body:        body,
		})
	})
	if err != nil {
		return fmt.Errorf("publish cmd: %w", err)
	}
	return nil
}

// Consume consumes an already-declared queue (via QueueForRoutingKey,
// DeclareReplyQueue, or DeclareCmdQueue), delivering to handle until ctx is
// cancelled. It does not declare the queue itself, since those three
// declarations disagree on durable/exclusive/auto-delete and a blind
// re-declare here would mismatch whichever one the caller actually used.
func (a *Adapter) Consume(ctx context.Context, queue string, handle func(Delivery)) error {
	deliveries, err := a.channel.Consume(queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", queue, err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery channel for %s closed", queue)
			}
			delivery := d
			handle(Delivery{
				RoutingKey:    delivery.RoutingKey,
				CorrelationID: delivery.CorrelationId,
				ReplyTo:       delivery.ReplyTo,
				Body:          delivery.Body,
				ack:           func() { _ = delivery.Ack(false) },
			})
		}
	}
}

// QueueForRoutingKey is the well-known per-routing-key queue name, bound
// to the request exchange under that same routing key. durable=false per
// the wire topology: a routing key's queue is recreated empty on restart,
// never carrying work across a broker bounce.
func (a *Adapter) QueueForRoutingKey(ctx context.Context, routingKey string) (string, error) {
	q, err := a.channel.QueueDeclare(routingKey, false, false, false, false, nil)
	if err != nil {
		return "", fmt.Errorf("declare queue for %s: %w", routingKey, err)
	}
	if err := a.channel.QueueBind(q.Name, routingKey, a.cfg.Exchange, false, nil); err != nil {
		return "", fmt.Errorf("bind queue for %s: %w", routingKey, err)
	}
	return q.Name, nil
}

// DeclareReplyQueue declares an exclusive, auto-deleting reply queue that
// receives the replies to every request its declarer publishes, bound to
// the request exchange under its own name as routing key.
func (a *Adapter) DeclareReplyQueue(ctx context.Context) (string, error) {
	q, err := a.channel.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return "", fmt.Errorf("declare reply queue: %w", err)
	}
	if err := a.channel.QueueBind(q.Name, q.Name, a.cfg.Exchange, false, nil); err != nil {
		return "", fmt.Errorf("bind reply queue: %w", err)
	}
	return q.Name, nil
}

// DeclareCmdQueue declares an anonymous, exclusive, auto-deleting queue
// bound to the fanout command exchange. Each worker instance calls this
// for itself so every instance sees every broadcast CLOSE_TASK/
// TERMINATE_TASK/NOTIFY_TASK_CLOSED command and filters by correlation id,
// rather than competing with its siblings over one shared named queue.
func (a *Adapter) DeclareCmdQueue(ctx context.Context) (string, error) {
	q, err := a.channel.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return "", fmt.Errorf("declare cmd queue: %w", err)
	}
	if err := a.channel.QueueBind(q.Name, "", a.cfg.CmdExchange, false, nil); err != nil {
		return "", fmt.Errorf("bind cmd queue: %w", err)
	}
	return q.Name, nil
}
