package rpcworker

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cuemby/contour/pkg/types"
)

// ErrAlreadyRegistered is returned by Registry.Register when routing-key
// already has a descriptor bound to it.
var ErrAlreadyRegistered = errors.New("rpcworker: routing key already registered")

// Descriptor is one static handler registration: (routing-key, handler
// factory, raise-on-close, heartbeat-timeout, input-validator).
type Descriptor struct {
	RoutingKey       string
	New              func() Handler
	RaiseOnClose     bool
	HeartbeatTimeout time.Duration
	Validate         func(types.TaskInput) error
}

// Registry is the process-wide table of known RPC consumers. The
// Scenario Provider looks every routing-key named in a scenario DB up
// here at load time; `contour worker run --consumer <key>` looks a
// single key up here to build the Host it supervises.
type Registry struct {
	mu     sync.Mutex
	byKey  map[string]Descriptor
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{byKey: make(map[string]Descriptor)}
}

// Register binds desc.RoutingKey to desc. Returns ErrAlreadyRegistered if
// the routing key already has a handler, mirroring the original's
// ConsumerAlreadyRegisteredException.
func (r *Registry) Register(desc Descriptor) error {
	if desc.RoutingKey == "" {
		return errors.New("rpcworker: descriptor requires a routing key")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byKey[desc.RoutingKey]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, desc.RoutingKey)
	}
	r.byKey[desc.RoutingKey] = desc
	return nil
}

// Lookup returns the descriptor registered for routingKey, if any.
func (r *Registry) Lookup(routingKey string) (Descriptor, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.byKey[routingKey]
	return d, ok
}

// RoutingKeys returns every registered routing key, sorted, for
// diagnostics and for the Scenario Provider's "unknown requests" check.
func (r *Registry) RoutingKeys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := make([]string, 0, len(r.byKey))
	for k := range r.byKey {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
