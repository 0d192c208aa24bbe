// Package correlation implements the Correlation Registry: the in-memory
// map from an RPC request's correlation id back to the task it belongs to
// and the channel waiting on its reply.
package correlation

import (
	"sync"

	"github.com/cuemby/contour/pkg/types"
)

// Reply is what a correlated request's channel receives once a reply
// arrives on the broker.
type Reply struct {
	Status   types.RPCStatus
	Progress float64
	Message  string
}

// entry pairs the owning task id with the channel its caller is waiting on.
type entry struct {
	taskID string
	ch     chan Reply
}

// Registry is shared by every goroutine dispatching or closing an RPC
// request (one per in-flight step) plus the single reply-queue consumer
// resolving them, so all access goes through mu.
type Registry struct {
	mu      sync.Mutex
	entries map[string]entry
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{entries: make(map[string]entry)}
}

// Register creates a buffered reply channel for correlationID and
// associates it with taskID. Buffered so a reply delivered before the
// caller starts waiting on it is not lost.
func (r *Registry) Register(correlationID, taskID string) <-chan Reply {
	ch := make(chan Reply, 1)
	r.mu.Lock()
	r.entries[correlationID] = entry{taskID: taskID, ch: ch}
	r.mu.Unlock()
	return ch
}

// Resolve delivers reply to the channel registered for correlationID, if
// any, and reports whether a registration was found.
func (r *Registry) Resolve(correlationID string, reply Reply) bool {
	r.mu.Lock()
	e, ok := r.entries[correlationID]
	r.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case e.ch <- reply:
	default:
		// Buffer still holds an undrained reply; drop this one silently.
	}
	return true
}

// TaskID returns the task a correlation id belongs to, if registered.
func (r *Registry) TaskID(correlationID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[correlationID]
	return e.taskID, ok
}

// Forget removes a correlation id's registration, closing its channel.
func (r *Registry) Forget(correlationID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[correlationID]; ok {
		close(e.ch)
		delete(r.entries, correlationID)
	}
}

// Len reports the number of in-flight correlations, mostly for tests and
// metrics.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
