/*
Package workerpool is the Worker Pool Supervisor (spec.md §4.3): given a
list of (routing-key, instance-count) pairs, it re-execs the contour
binary as `contour worker run` once per instance, restarting any that
exit while the pool is running, and hands each one a Command Channel
over a private Unix domain socket.

	Start       spawn every configured instance, supervise in the
	            background
	Stop        SIGTERM everything, escalate to Terminate after timeout
	Terminate   SIGKILL one instance by (routing-key, instance-id)

OnRestart, if set, lets an owner release any close-request that was
stuck waiting on a worker that just died and came back.
*/
package workerpool
