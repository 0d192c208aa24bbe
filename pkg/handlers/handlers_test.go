package handlers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/contour/pkg/rpcworker"
	"github.com/cuemby/contour/pkg/types"
)

func testConfig() Config { return Config{Steps: 3, StepDuration: 0} }

func TestDescriptorsRegisterFiveRoutingKeys(t *testing.T) {
	descs := Descriptors(testConfig())
	keys := make(map[string]bool)
	for _, d := range descs {
		keys[d.RoutingKey] = true
	}
	assert.Len(t, descs, 5)
	for _, key := range []string{"osm.import", "road.generate", "fence.generate", "powerline.generate", "bridge.generate"} {
		assert.True(t, keys[key], "missing routing key %s", key)
	}
}

func TestStepHandlerRunsToCompletion(t *testing.T) {
	var progresses []float64
	rc := rpcworker.NewRunContext(true, func(p float64, _ string) { progresses = append(progresses, p) })

	h := &stepHandler{name: "test", cfg: testConfig()}
	err := h.Run(context.Background(), rc, types.TaskInput{Kind: types.InputKindCells})
	require.NoError(t, err)
	assert.Equal(t, []float64{1.0 / 3, 2.0 / 3, 1.0}, progresses)
}

func TestStepHandlerRaisesOnCloseWhenConfigured(t *testing.T) {
	calls := 0
	rc := rpcworker.NewRunContext(true, func(float64, string) { calls++ })
	rc.RequestClose(false)

	h := &stepHandler{name: "test", cfg: testConfig()}
	err := h.Run(context.Background(), rc, types.TaskInput{Kind: types.InputKindCells})
	assert.ErrorIs(t, err, rpcworker.ErrCloseRequested)
	assert.Equal(t, 1, calls)
}

func TestStepHandlerIgnoringCloseRunsToCompletion(t *testing.T) {
	rc := rpcworker.NewRunContext(false, func(float64, string) {})
	rc.RequestClose(false)

	h := &stepHandler{name: "test", cfg: testConfig(), ignoreClose: true}
	err := h.Run(context.Background(), rc, types.TaskInput{Kind: types.InputKindCells})
	assert.NoError(t, err)
}

func TestRequireKindRejectsMismatch(t *testing.T) {
	validate := requireKind(types.InputKindRect)
	assert.Error(t, validate(types.TaskInput{Kind: types.InputKindCells}))
	assert.NoError(t, validate(types.TaskInput{Kind: types.InputKindRect}))
}
