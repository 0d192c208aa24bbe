package rpcworker

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/cuemby/contour/pkg/types"
)

// ErrCloseRequested is returned by a Handler's Run (or surfaced through
// RunContext.PublishProgress/PublishMessage) when the worker was told to
// close while raise-on-close is enabled for its routing key.
var ErrCloseRequested = errors.New("rpcworker: close requested")

// Handler is a registered RPC consumer: it runs one task-input to
// completion, reporting progress through rc as it goes.
type Handler interface {
	Run(ctx context.Context, rc *RunContext, input types.TaskInput) error
}

// ProgressFunc publishes one in-progress reply back to the scheduler.
type ProgressFunc func(progress float64, message string)

// RunContext is the callback surface §4.6 grants a running handler:
// publish_progress, publish_message, and cooperative or raised close
// detection.
type RunContext struct {
	raiseOnClose bool
	publish      ProgressFunc

	lastProgress    atomic.Value // float64
	closeRequested  atomic.Bool
	terminateFlag   atomic.Bool
}

// NewRunContext builds a RunContext backed by publish. Exported so
// handler implementations outside this package can drive their own Run
// method in tests without a live Host.
func NewRunContext(raiseOnClose bool, publish ProgressFunc) *RunContext {
	rc := &RunContext{raiseOnClose: raiseOnClose, publish: publish}
	rc.lastProgress.Store(0.0)
	return rc
}

// PublishProgress reports a progress fraction in [0,1] and an optional
// message, then checks whether a close was requested.
func (rc *RunContext) PublishProgress(progress float64, message string) error {
	rc.lastProgress.Store(progress)
	rc.publish(progress, message)
	return rc.checkClose()
}

// PublishMessage reports a message without advancing progress.
func (rc *RunContext) PublishMessage(message string) error {
	rc.publish(rc.LastProgress(), message)
	return rc.checkClose()
}

// LastProgress is the most recently published progress fraction.
func (rc *RunContext) LastProgress() float64 {
	return rc.lastProgress.Load().(float64)
}

// CloseRequested reports whether a close command has been observed for
// this run, for handlers that opted out of raise-on-close and check
// cooperatively instead.
func (rc *RunContext) CloseRequested() bool {
	return rc.closeRequested.Load()
}

// TerminateRequested reports whether a terminate command has been
// observed; a handler has no way to survive this, it exists for logging.
func (rc *RunContext) TerminateRequested() bool {
	return rc.terminateFlag.Load()
}

// RequestClose marks this run as having received a close command; set
// from Host.onCmd, and from tests that want to exercise a handler's
// close handling without a live Host.
func (rc *RunContext) RequestClose(terminate bool) {
	rc.closeRequested.Store(true)
	if terminate {
		rc.terminateFlag.Store(true)
	}
}

func (rc *RunContext) checkClose() error {
	if rc.closeRequested.Load() && rc.raiseOnClose {
		return ErrCloseRequested
	}
	return nil
}
