/*
Package taskmanager is the Task Manager: it owns every running Task,
implements pkg/scenario.Runner so the scenario tree can drive it one step
at a time, and escalates cancellation through close -> terminate ->
tear-down when a step misses its deadline or a caller asks to stop.

	StartTask          resolve scenario, validate input, spawn the driver
	RunRequest         one step: dispatch, await replies with an escalating
	                   timeout (start-timeout, then heartbeat-timeout)
	RequestStopTask    spawn a close driver per in-flight record
	NotifyTaskClosed   the scenario tree finished; drop the task
	AttachLockedData   a Locker's acquired rows join the task's input
	DetachLockedData   and leave it again once that Locker releases them

A tear-down (terminate deadline also missed) closes a record's abort
channel, which is the one place RunRequest can be forced to give up on a
step that never replies again.
*/
package taskmanager
