/*
Package cmdchannel implements the Command Channel protocol shared by the
Worker Pool Supervisor and each worker process it manages:

	OK                   <-> acknowledges a prior command
	CLOSE_TASK           --> ask the worker to begin closing a task
	TERMINATE_TASK       --> ask the worker to forcibly stop a task
	NOTIFY_TASK_CLOSED   <-- tell the supervisor a task finished closing

Frames are newline-delimited JSON over any net.Conn (a Unix domain socket in
practice). A background goroutine reads frames into a buffered inbox so
Poll never blocks; Wait blocks with a context for callers that have nothing
else to do in the meantime.
*/
package cmdchannel
