package types

import "time"

// TaskStatus is the lifecycle state of a Task. Transitions are monotonic
// except that FAILED absorbs every other state.
type TaskStatus string

const (
	TaskInactive   TaskStatus = "inactive"
	TaskWaiting    TaskStatus = "waiting"
	TaskInProgress TaskStatus = "in-progress"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
)

// rank orders statuses for the monotonic-escalation check; FAILED has no
// rank because it can be set from any other status.
var rank = map[TaskStatus]int{
	TaskInactive:   0,
	TaskWaiting:    1,
	TaskInProgress: 2,
	TaskCompleted:  3,
}

// String renders a verbose status string for logs and the JSON status view.
func (s TaskStatus) String() string {
	switch s {
	case TaskInactive:
		return "inactive"
	case TaskWaiting:
		return "waiting for a worker"
	case TaskInProgress:
		return "in progress"
	case TaskCompleted:
		return "completed"
	case TaskFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// RPCStatus mirrors TaskStatus for an individual RPC record (one step of a
// task). Kept distinct from TaskStatus because a task can outlive any one
// of its RPC records.
type RPCStatus string

const (
	RPCInactive   RPCStatus = "inactive"
	RPCWaiting    RPCStatus = "waiting"
	RPCInProgress RPCStatus = "in-progress"
	RPCCompleted  RPCStatus = "completed"
	RPCFailed     RPCStatus = "failed"
)

func (s RPCStatus) String() string {
	switch s {
	case RPCInactive:
		return "inactive"
	case RPCWaiting:
		return "waiting for a reply"
	case RPCInProgress:
		return "in progress"
	case RPCCompleted:
		return "completed"
	case RPCFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// CloseReason records why a task's cancellation driver was started.
type CloseReason string

const (
	CloseReasonClient  CloseReason = "client-requested"
	CloseReasonTimeout CloseReason = "heartbeat-timeout"
	CloseReasonError   CloseReason = "step-error"
)

// CloseStage is where a cancellation driver currently sits in the
// close -> terminate -> tear-down state machine.
type CloseStage string

const (
	CloseStageRequested  CloseStage = "requested"
	CloseStageClosing    CloseStage = "closing"
	CloseStageTerminated CloseStage = "terminated"
	CloseStageTornDown   CloseStage = "torn-down"
)

// Task is the root record the Task Manager tracks for one running scenario.
type Task struct {
	ID           string
	ScenarioID   string
	Status       TaskStatus
	Input        TaskInput
	StartedAt    time.Time
	FinishedAt   time.Time
	Error        string
	CloseRequest *CloseRequest
}

// SetWaiting escalates the task to waiting, unless already past it.
func (t *Task) SetWaiting() {
	t.setEscalating(TaskWaiting)
}

// SetInProgress escalates the task to in-progress, unless already past it.
func (t *Task) SetInProgress() {
	t.setEscalating(TaskInProgress)
}

// SetCompleted marks the task completed unless it already failed.
func (t *Task) SetCompleted() {
	if t.Status == TaskFailed {
		return
	}
	t.Status = TaskCompleted
	t.FinishedAt = time.Now()
}

// SetFailed marks the task failed, unless it already completed.
func (t *Task) SetFailed(reason string) {
	if t.Status == TaskCompleted {
		return
	}
	t.Status = TaskFailed
	t.Error = reason
	t.FinishedAt = time.Now()
}

func (t *Task) setEscalating(next TaskStatus) {
	if t.Status == TaskFailed {
		return
	}
	if rank[next] <= rank[t.Status] {
		return
	}
	t.Status = next
}

// TaskInputKind selects which shape of spatial input a TaskInput carries.
type TaskInputKind int

const (
	InputKindCells TaskInputKind = iota
	InputKindRect
)

// TaskInput is the spatial payload a task's scenario is run against: either
// an explicit cell list or a bounding rectangle, plus whatever a task's
// currently-active lockers have attached.
type TaskInput struct {
	Username string
	Kind     TaskInputKind
	Cells    []CellID
	Rect     Rect
	Locked   []LockedView
}

// LockedView is one (type, subtype, cells-or-ids) triple merged into a
// TaskInput from every locker guarding the step currently being dispatched.
type LockedView struct {
	Type    string
	Subtype string
	IDs     []int64
}

// CellID identifies one grid cell of the underlying map tiling.
type CellID struct {
	X, Y, Zoom int
}

// Rect is an axis-aligned bounding box in cell-grid coordinates.
type Rect struct {
	MinX, MinY, MaxX, MaxY int
}

// RPCRecord tracks one in-flight request/reply exchange correlated by
// CorrelationID between the scheduler and a worker.
type RPCRecord struct {
	CorrelationID string
	TaskID        string
	RoutingKey    string
	Status        RPCStatus
	LastHeartbeat time.Time
	Progress      float64
	Message       string
}

// CloseRequest tracks one cancellation driver working a task through
// close -> terminate -> tear-down.
type CloseRequest struct {
	TaskID    string
	Reason    CloseReason
	Stage     CloseStage
	StartedAt time.Time
}

// EventSeverity classifies free-form "event" log entries.
type EventSeverity string

const (
	SeverityInfo    EventSeverity = "info"
	SeverityWarning EventSeverity = "warning"
	SeverityError   EventSeverity = "error"
)

// EventKind discriminates the Event Log's record types.
type EventKind string

const (
	EventKindProgress EventKind = "progress"
	EventKindMessage  EventKind = "message"
	EventKindStatus   EventKind = "status"
	EventKindEvent    EventKind = "event"
)

// Event is one record in a task's event stream, fanned out to subscribers
// and persisted durably.
type Event struct {
	ID        uint64
	TaskID    string
	Kind      EventKind
	Severity  EventSeverity
	Progress  float64
	Message   string
	CreatedAt time.Time
}

// HistoryRow is one row of the shared edit_history_transient table an
// EditLockManager transaction locks and updates. QuadtreeCellIndex
// identifies the cell the row belongs to; TypeID/SubtypeID classify what
// landscape object changed there; LockID is 0 when the row is free.
type HistoryRow struct {
	ID               int64
	QuadtreeCellIndex int64
	TypeID           string
	SubtypeID        string
	Changed          time.Time
	LockID           int64
}

// TypeSubtype pairs an object type with an optional subtype. An empty
// Subtype means "match any subtype of Type".
type TypeSubtype struct {
	Type    string
	Subtype string
}

// LockedData is what Edit-Lock Manager.Lock returns: a fresh lock id plus
// the rows it actually acquired, grouped by type -> subtype -> cell
// indices, so the caller can release exactly those rows on unlock.
type LockedData struct {
	LockID int64
	Cells  map[TypeSubtype][]int64
	Rows   []HistoryRow
}

// Empty reports whether the lock acquired no rows at all.
func (d LockedData) Empty() bool {
	return len(d.Rows) == 0
}
