/*
Package broker is the Broker Adapter of Contour's RPC layer: Publish and
Consume, plus PublishReply, PublishCmd and the queue declarations, wrapping
github.com/rabbitmq/amqp091-go.

	┌────────────── BROKER ADAPTER ──────────────┐
	│  Adapter.Publish   -> request exchange      │
	│  Adapter.PublishCmd -> cmd fanout exchange   │
	│  Adapter.Consume   <- any bound queue        │
	│           │                                  │
	│      gobreaker.CircuitBreaker                │
	│  (publishes trip open on repeated failure)   │
	└────────────────────────────────────────────────┘

Everything above this package — the RPC Client and the RPC Worker Host —
only ever calls the Adapter's methods; the wire protocol
itself (frame encoding, channel multiplexing, reconnection internals) is
the amqp091-go driver's concern, not Contour's.
*/
package broker
