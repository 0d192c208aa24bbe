/*
Package health tracks liveness using a consecutive-failure counter. The
Worker Pool Supervisor feeds it one failed Result per worker process exit;
RPC heartbeat timeouts are handled in pkg/taskmanager and do not use it.

A Status starts healthy and flips to unhealthy once ConsecutiveFailures
reaches Config.Retries; it flips back to healthy on the very next success.
InStartPeriod reports whether a Status is still inside Config.StartPeriod
after it was created; Update itself does not consult it.
*/
package health
