package correlation

import (
	"testing"

	"github.com/cuemby/contour/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterAndResolve(t *testing.T) {
	r := New()
	ch := r.Register("corr-1", "task-1")

	ok := r.Resolve("corr-1", Reply{Status: types.RPCCompleted, Progress: 1})
	require.True(t, ok)

	reply := <-ch
	assert.Equal(t, types.RPCCompleted, reply.Status)
	assert.Equal(t, 1.0, reply.Progress)
}

func TestResolveUnknownCorrelationReturnsFalse(t *testing.T) {
	r := New()
	ok := r.Resolve("missing", Reply{})
	assert.False(t, ok)
}

func TestTaskIDLookup(t *testing.T) {
	r := New()
	r.Register("corr-1", "task-42")

	taskID, ok := r.TaskID("corr-1")
	require.True(t, ok)
	assert.Equal(t, "task-42", taskID)

	_, ok = r.TaskID("missing")
	assert.False(t, ok)
}

func TestForgetClosesChannel(t *testing.T) {
	r := New()
	ch := r.Register("corr-1", "task-1")
	r.Forget("corr-1")

	_, open := <-ch
	assert.False(t, open)
	assert.Equal(t, 0, r.Len())
}

func TestResolveDoesNotBlockWhenChannelFull(t *testing.T) {
	r := New()
	ch := r.Register("corr-1", "task-1")

	r.Resolve("corr-1", Reply{Status: types.RPCInProgress})
	// Second resolve before the first is drained must not block.
	ok := r.Resolve("corr-1", Reply{Status: types.RPCCompleted})
	assert.True(t, ok)

	first := <-ch
	assert.Equal(t, types.RPCInProgress, first.Status)
}
