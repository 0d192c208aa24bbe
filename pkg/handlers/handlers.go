// Package handlers is the static table of job handlers Contour ships
// with: OSM import and the road/fence/powerline/bridge generators named
// in spec.md's motivating examples. Each is a small, deterministic
// progress loop rather than real geometry processing — this repository's
// job is to schedule and supervise the work, not to do the landscape
// editing itself.
package handlers

import (
	"context"
	"fmt"
	"time"

	"github.com/cuemby/contour/pkg/rpcworker"
	"github.com/cuemby/contour/pkg/types"
)

// Config tunes every handler's simulated step loop. StepDuration is the
// pause between progress publishes; tests set it to near-zero.
type Config struct {
	Steps        int
	StepDuration time.Duration
}

// DefaultConfig is what a real worker process runs with.
func DefaultConfig() Config {
	return Config{Steps: 5, StepDuration: 2 * time.Second}
}

// Descriptors returns the full static handler registry described in
// spec.md's Redesign Flags: one (routing-key, factory, raise-on-close,
// heartbeat-timeout, input-validator) entry per job type.
func Descriptors(cfg Config) []rpcworker.Descriptor {
	return []rpcworker.Descriptor{
		{
			RoutingKey:       "osm.import",
			New:              func() rpcworker.Handler { return &stepHandler{name: "osm import", cfg: cfg} },
			RaiseOnClose:     true,
			HeartbeatTimeout: 60 * time.Second,
			Validate:         requireKind(types.InputKindCells),
		},
		{
			RoutingKey:       "road.generate",
			New:              func() rpcworker.Handler { return &stepHandler{name: "road generation", cfg: cfg} },
			RaiseOnClose:     true,
			HeartbeatTimeout: 90 * time.Second,
			Validate:         requireKind(types.InputKindRect),
		},
		{
			RoutingKey:       "fence.generate",
			New:              func() rpcworker.Handler { return &stepHandler{name: "fence generation", cfg: cfg} },
			RaiseOnClose:     true,
			HeartbeatTimeout: 60 * time.Second,
			Validate:         requireKind(types.InputKindCells),
		},
		{
			RoutingKey:       "powerline.generate",
			New:              func() rpcworker.Handler { return &stepHandler{name: "powerline generation", cfg: cfg} },
			RaiseOnClose:     true,
			HeartbeatTimeout: 90 * time.Second,
			Validate:         requireKind(types.InputKindRect),
		},
		{
			RoutingKey: "bridge.generate",
			New:        func() rpcworker.Handler { return &stepHandler{name: "bridge generation", cfg: cfg, ignoreClose: true} },
			// Ignores close cooperatively rather than raising, so a stuck
			// bridge.generate run exercises the forced-terminate path
			// (spec.md's "handler of routing-key consumer_A is made to
			// ignore close" scenario) instead of the raise-on-close one.
			RaiseOnClose:     false,
			HeartbeatTimeout: 120 * time.Second,
			Validate:         requireKind(types.InputKindCells),
		},
	}
}

func requireKind(kind types.TaskInputKind) func(types.TaskInput) error {
	return func(input types.TaskInput) error {
		if input.Kind != kind {
			return fmt.Errorf("expected input kind %v, got %v", kind, input.Kind)
		}
		return nil
	}
}

// stepHandler simulates long-running work as a fixed number of progress
// ticks, honoring context cancellation. With ignoreClose set, a close
// observed between ticks is ignored and the loop runs to its last tick.
type stepHandler struct {
	name        string
	cfg         Config
	ignoreClose bool
}

func (h *stepHandler) Run(ctx context.Context, rc *rpcworker.RunContext, input types.TaskInput) error {
	steps := h.cfg.Steps
	if steps <= 0 {
		steps = 1
	}

	for i := 1; i <= steps; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(h.cfg.StepDuration):
		}

		progress := float64(i) / float64(steps)
		if err := rc.PublishProgress(progress, fmt.Sprintf("%s: step %d/%d", h.name, i, steps)); err != nil {
			return err
		}
		if h.ignoreClose && rc.CloseRequested() {
			continue // opted out of raise-on-close: keep running regardless
		}
	}
	return nil
}
