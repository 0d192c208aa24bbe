/*
Package types defines the core data structures shared across Contour: the
Task, its RPC records and cancellation state, the scenario execution tree,
edit-lock primitives, and the event log's record shape.

# Core Types

Task Lifecycle:
  - Task: one running scenario instance, with a monotonically escalating
    TaskStatus (inactive -> waiting -> in-progress -> completed), except
    that failed absorbs any state.
  - RPCRecord: one in-flight request/reply exchange between the scheduler
    and a worker, correlated by CorrelationID.
  - CloseRequest: the state of a cancellation driver working a task
    through close -> terminate -> tear-down.

Spatial Input:
  - TaskInput: either an explicit CellID list or a bounding Rect.

Locking:
  - HistoryRow / LockedData: rows an EditLockManager transaction has
    acquired against the shared edit-history table.

Event Log:
  - Event: one record in a task's event stream (progress, message, status,
    or free-form event with a severity), fanned out to subscribers and
    persisted durably.

# State Machine

	inactive -> waiting -> in-progress -> completed
	   |           |             |
	   +-----------+-------------+--> failed (absorbing, unless already completed)

# Thread Safety

Task and RPCRecord are owned by a single task driver goroutine; callers
outside that goroutine must go through the Task Manager's API rather than
mutate these structs directly.
*/
package types
