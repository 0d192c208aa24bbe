package scenario

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/contour/pkg/types"
)

type fakeRunner struct {
	results map[string]bool
	calls   int32
	closed  []string
}

func (f *fakeRunner) RunRequest(_ context.Context, taskID, routingKey string) (bool, error) {
	atomic.AddInt32(&f.calls, 1)
	ok, known := f.results[routingKey]
	if !known {
		return false, errors.New("unknown routing key: " + routingKey)
	}
	return ok, nil
}

func (f *fakeRunner) NotifyTaskClosed(taskID string) {
	f.closed = append(f.closed, taskID)
}

func (f *fakeRunner) AttachLockedData(string, types.LockedData) {}
func (f *fakeRunner) DetachLockedData(string, types.LockedData) {}

func TestConsequentStopsAtFirstFailure(t *testing.T) {
	runner := &fakeRunner{results: map[string]bool{"a": true, "b": false, "c": true}}
	tree := &Consequent{
		Locker: NoopLocker{},
		Children: []Node{
			&Run{RoutingKey: "a"},
			&Run{RoutingKey: "b"},
			&Run{RoutingKey: "c"},
		},
	}

	ok, err := tree.Execute(context.Background(), "task-1", runner)

	require.NoError(t, err)
	assert.False(t, ok)
	assert.EqualValues(t, 2, runner.calls, "c must not run after b fails")
}

func TestConsequentAllSucceed(t *testing.T) {
	runner := &fakeRunner{results: map[string]bool{"a": true, "b": true}}
	tree := &Consequent{
		Locker:   NoopLocker{},
		Children: []Node{&Run{RoutingKey: "a"}, &Run{RoutingKey: "b"}},
	}

	ok, err := tree.Execute(context.Background(), "task-1", runner)

	require.NoError(t, err)
	assert.True(t, ok)
}

func TestConcurrentRequiresAllChildrenToSucceed(t *testing.T) {
	runner := &fakeRunner{results: map[string]bool{"a": true, "b": false, "c": true}}
	tree := &Concurrent{
		Locker: NoopLocker{},
		Children: []Node{
			&Run{RoutingKey: "a"},
			&Run{RoutingKey: "b"},
			&Run{RoutingKey: "c"},
		},
	}

	ok, err := tree.Execute(context.Background(), "task-1", runner)

	require.NoError(t, err)
	assert.False(t, ok)
	assert.EqualValues(t, 3, runner.calls, "every child must still run concurrently")
}

func TestConcurrentAllSucceed(t *testing.T) {
	runner := &fakeRunner{results: map[string]bool{"a": true, "b": true}}
	tree := &Concurrent{
		Locker:   NoopLocker{},
		Children: []Node{&Run{RoutingKey: "a"}, &Run{RoutingKey: "b"}},
	}

	ok, err := tree.Execute(context.Background(), "task-1", runner)

	require.NoError(t, err)
	assert.True(t, ok)
}

type trackingLocker struct {
	begun, ended bool
	endResult    bool
}

func (l *trackingLocker) Begin(context.Context, string, Runner) error {
	l.begun = true
	return nil
}

func (l *trackingLocker) End(_ context.Context, _ string, result bool, _ Runner) error {
	l.ended = true
	l.endResult = result
	return nil
}

func (l *trackingLocker) String() string { return "tracking" }

func TestConsequentLockerBeginEndBracketsExecution(t *testing.T) {
	locker := &trackingLocker{}
	runner := &fakeRunner{results: map[string]bool{"a": false}}
	tree := &Consequent{Locker: locker, Children: []Node{&Run{RoutingKey: "a"}}}

	ok, err := tree.Execute(context.Background(), "task-1", runner)

	require.NoError(t, err)
	assert.False(t, ok)
	assert.True(t, locker.begun)
	assert.True(t, locker.ended)
	assert.False(t, locker.endResult)
}

func TestScenarioExecuteNotifiesTaskClosed(t *testing.T) {
	runner := &fakeRunner{results: map[string]bool{"a": true}}
	s := &Scenario{
		Name:      "build-road",
		InputType: 0,
		Child:     &Consequent{Locker: NoopLocker{}, Children: []Node{&Run{RoutingKey: "a"}}},
	}

	err := s.Execute(context.Background(), "task-1", runner)

	require.NoError(t, err)
	assert.Equal(t, []string{"task-1"}, runner.closed)
}

func TestScenarioExecuteRequiresChild(t *testing.T) {
	s := &Scenario{Name: "empty"}

	err := s.Execute(context.Background(), "task-1", &fakeRunner{results: map[string]bool{}})

	assert.Error(t, err)
}

func TestScenarioCloneDeepCopiesTree(t *testing.T) {
	original := &Scenario{
		Name: "build-road",
		Child: &Consequent{
			Locker:   &trackingLocker{},
			Children: []Node{&Run{RoutingKey: "a"}},
		},
	}

	clone := original.Clone()

	assert.NotSame(t, original.Child, clone.Child)
	cloneConsequent := clone.Child.(*Consequent)
	originalConsequent := original.Child.(*Consequent)
	assert.NotSame(t, originalConsequent.Children[0], cloneConsequent.Children[0])
}
