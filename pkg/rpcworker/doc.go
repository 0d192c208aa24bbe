/*
Package rpcworker hosts one statically-registered RPC handler per OS
process, per §4.6:

	Registry   routing-key -> Descriptor, validated at startup and by
	           the Scenario Provider before a scenario can reference it
	Handler    one task-input run to completion
	RunContext publish_progress/publish_message, close detection
	Host       consumes the routing key's request queue and its own
	           fan-out command queue, running at most one task at a time

A handler opted into raise-on-close gets ErrCloseRequested back from
RunContext's publish calls once a matching close command is observed;
otherwise it must poll RunContext.CloseRequested itself.
*/
package rpcworker
