// Package scenario implements the Scenario Model: an executable tree of
// Consequent/Concurrent group nodes, each optionally guarded by a Locker,
// bottoming out in Run leaves that dispatch one RPC request per step.
package scenario

import (
	"context"
	"fmt"

	"github.com/cuemby/contour/pkg/types"
	"golang.org/x/sync/errgroup"
)

// Runner is what a Run leaf calls to dispatch one RPC step; implemented by
// the Task Manager. AttachLockedData/DetachLockedData let a Locker feed its
// acquired rows into (and back out of) the task's input-producer, so every
// subsequent step dispatched under that locker's subtree sees them.
type Runner interface {
	RunRequest(ctx context.Context, taskID, routingKey string) (bool, error)
	NotifyTaskClosed(taskID string)
	AttachLockedData(taskID string, data types.LockedData)
	DetachLockedData(taskID string, data types.LockedData)
}

// Locker guards the resources (cells or objects) a group execution node
// touches for the duration of its children's execution. Begin/End must be
// called in pairs; a Locker carries per-task mutable state, so it is
// deep-copied per task the way the rest of the scenario tree is.
type Locker interface {
	Begin(ctx context.Context, taskID string, runner Runner) error
	End(ctx context.Context, taskID string, result bool, runner Runner) error
	String() string
}

// NoopLocker satisfies Locker for group nodes that declare no resource.
type NoopLocker struct{}

func (NoopLocker) Begin(context.Context, string, Runner) error       { return nil }
func (NoopLocker) End(context.Context, string, bool, Runner) error   { return nil }
func (NoopLocker) String() string                                    { return "" }

// Node is one node of the executable tree.
type Node interface {
	Execute(ctx context.Context, taskID string, runner Runner) (bool, error)
	Clone() Node
}

// Scenario is the tree root: exactly one GroupExecution child, an
// InputType, and a name used for lookup.
type Scenario struct {
	Name      string
	InputType types.TaskInputKind
	Child     Node
}

// CheckInput validates a task payload against this scenario's declared
// input shape before a task is started.
func (s *Scenario) CheckInput(input types.TaskInput) (bool, string) {
	if input.Kind != s.InputType {
		return false, fmt.Sprintf("scenario %q expects input kind %v, got %v", s.Name, s.InputType, input.Kind)
	}
	switch s.InputType {
	case types.InputKindRect:
		if input.Rect.MaxX < input.Rect.MinX || input.Rect.MaxY < input.Rect.MinY {
			return false, "rect input has inverted bounds"
		}
	case types.InputKindCells:
		if len(input.Cells) == 0 {
			return false, "task input must contain cells"
		}
	}
	return true, "ok"
}

// Execute runs the scenario's single group-execution child, then notifies
// the Task Manager the task is fully closed.
func (s *Scenario) Execute(ctx context.Context, taskID string, runner Runner) error {
	if s.Child == nil {
		return fmt.Errorf("scenario %q has no group execution node", s.Name)
	}
	if _, err := s.Child.Execute(ctx, taskID, runner); err != nil {
		return err
	}
	runner.NotifyTaskClosed(taskID)
	return nil
}

// Clone deep-copies the scenario tree (including per-task locker state) so
// concurrently running tasks of the same scenario never share locker
// state.
func (s *Scenario) Clone() *Scenario {
	return &Scenario{Name: s.Name, InputType: s.InputType, Child: s.Child.Clone()}
}

// Consequent runs its children in order, stopping at the first failure.
type Consequent struct {
	Locker   Locker
	Children []Node
}

func (c *Consequent) Execute(ctx context.Context, taskID string, runner Runner) (ok bool, err error) {
	if err := c.Locker.Begin(ctx, taskID, runner); err != nil {
		return false, fmt.Errorf("consequent locker begin: %w", err)
	}
	result := true
	defer func() {
		if endErr := c.Locker.End(ctx, taskID, result, runner); endErr != nil && err == nil {
			err = fmt.Errorf("consequent locker end: %w", endErr)
		}
	}()

	for _, child := range c.Children {
		childOK, childErr := child.Execute(ctx, taskID, runner)
		if childErr != nil {
			result = false
			return false, childErr
		}
		if !childOK {
			result = false
			return false, nil
		}
	}
	return true, nil
}

func (c *Consequent) Clone() Node {
	clone := &Consequent{Locker: cloneLocker(c.Locker), Children: make([]Node, len(c.Children))}
	for i, child := range c.Children {
		clone.Children[i] = child.Clone()
	}
	return clone
}

// Concurrent launches all children as concurrent activities and succeeds
// iff every one of them does.
type Concurrent struct {
	Locker   Locker
	Children []Node
}

func (c *Concurrent) Execute(ctx context.Context, taskID string, runner Runner) (ok bool, err error) {
	if err := c.Locker.Begin(ctx, taskID, runner); err != nil {
		return false, fmt.Errorf("concurrent locker begin: %w", err)
	}
	result := false
	defer func() {
		if endErr := c.Locker.End(ctx, taskID, result, runner); endErr != nil && err == nil {
			err = fmt.Errorf("concurrent locker end: %w", endErr)
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	results := make([]bool, len(c.Children))
	for i, child := range c.Children {
		i, child := i, child
		g.Go(func() error {
			childOK, childErr := child.Execute(gctx, taskID, runner)
			results[i] = childOK
			return childErr
		})
	}
	if err := g.Wait(); err != nil {
		return false, err
	}
	result = true
	for _, r := range results {
		if !r {
			result = false
			break
		}
	}
	return result, nil
}

func (c *Concurrent) Clone() Node {
	clone := &Concurrent{Locker: cloneLocker(c.Locker), Children: make([]Node, len(c.Children))}
	for i, child := range c.Children {
		clone.Children[i] = child.Clone()
	}
	return clone
}

// cloneLocker gives a cloned group node its own CellLocker/ObjectLocker
// with fresh per-task state; stateless lockers are returned as they are.
func cloneLocker(l Locker) Locker {
	switch v := l.(type) {
	case *CellLocker:
		return &CellLocker{Manager: v.Manager, Pairs: v.Pairs}
	case *ObjectLocker:
		return &ObjectLocker{Manager: v.Manager, Pairs: v.Pairs}
	}
	return l
}

// Run is a leaf node: it dispatches one RPC request to routingKey and
// returns whether the worker reported success.
type Run struct {
	RoutingKey string
}

func (r *Run) Execute(ctx context.Context, taskID string, runner Runner) (bool, error) {
	return runner.RunRequest(ctx, taskID, r.RoutingKey)
}

func (r *Run) Clone() Node {
	return &Run{RoutingKey: r.RoutingKey}
}
