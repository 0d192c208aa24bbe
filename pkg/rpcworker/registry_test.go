package rpcworker

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/contour/pkg/types"
)

type noopHandler struct{}

func (noopHandler) Run(context.Context, *RunContext, types.TaskInput) error { return nil }

func TestRegisterAndLookup(t *testing.T) {
	r := NewRegistry()
	err := r.Register(Descriptor{RoutingKey: "osm-import", New: func() Handler { return noopHandler{} }})
	require.NoError(t, err)

	desc, ok := r.Lookup("osm-import")
	require.True(t, ok)
	assert.Equal(t, "osm-import", desc.RoutingKey)

	_, ok = r.Lookup("missing")
	assert.False(t, ok)
}

func TestRegisterRejectsDuplicateRoutingKey(t *testing.T) {
	r := NewRegistry()
	desc := Descriptor{RoutingKey: "osm-import", New: func() Handler { return noopHandler{} }}
	require.NoError(t, r.Register(desc))

	err := r.Register(desc)
	require.ErrorIs(t, err, ErrAlreadyRegistered)
}

func TestRoutingKeysSorted(t *testing.T) {
	r := NewRegistry()
	for _, key := range []string{"road-gen", "osm-import", "bridge-gen"} {
		require.NoError(t, r.Register(Descriptor{RoutingKey: key, New: func() Handler { return noopHandler{} }}))
	}

	assert.Equal(t, []string{"bridge-gen", "osm-import", "road-gen"}, r.RoutingKeys())
}
