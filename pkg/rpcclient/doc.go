/*
Package rpcclient is the scheduler-side RPC transport: it turns
taskmanager's abstract Request/Close calls into broker publishes and
turns reply-queue deliveries back into taskmanager.RPCReply values.

	Request   publish to the worker's routing-key queue, register the
	          correlation id, return a channel of replies
	Close     broadcast a close/terminate command on the fanout command
	          exchange; every worker checks it against its own work
	Run       consume the client's reply queue until ctx is cancelled

A request's correlation id is forgotten (and its channel closed) as soon
as a completed or failed reply passes through, or after five seconds of
the caller not reading from the channel it was handed.
*/
package rpcclient
