package workerpool

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestSocketPathIsDeterministicPerInstance(t *testing.T) {
	s := New("/usr/bin/contour", time.Second, t.TempDir(), zerolog.Nop())
	assert.Equal(t, s.socketPath("osm-import", 0), s.socketPath("osm-import", 0))
	assert.NotEqual(t, s.socketPath("osm-import", 0), s.socketPath("osm-import", 1))
	assert.NotEqual(t, s.socketPath("osm-import", 0), s.socketPath("road-gen", 0))
}

func TestTerminateUnknownProcessReturnsError(t *testing.T) {
	s := New("/usr/bin/contour", time.Second, t.TempDir(), zerolog.Nop())
	err := s.Terminate("osm-import/0")
	assert.Error(t, err)
}

func TestChannelReportsNotConnectedBeforeStart(t *testing.T) {
	s := New("/usr/bin/contour", time.Second, t.TempDir(), zerolog.Nop())
	_, ok := s.Channel("osm-import", 0)
	assert.False(t, ok)
}

func TestHealthStatusUnknownBeforeAnyExit(t *testing.T) {
	s := New("/usr/bin/contour", time.Second, t.TempDir(), zerolog.Nop())
	_, ok := s.HealthStatus("osm-import", 0)
	assert.False(t, ok)
}

func TestRecordExitTracksConsecutiveFailures(t *testing.T) {
	s := New("/usr/bin/contour", time.Second, t.TempDir(), zerolog.Nop())
	s.healthCfg.Retries = 2

	s.recordExit("osm-import", 0, assert.AnError)
	st, ok := s.HealthStatus("osm-import", 0)
	assert.True(t, ok)
	assert.Equal(t, 1, st.ConsecutiveFailures)
	assert.True(t, st.Healthy, "should stay healthy below the retry threshold")

	s.recordExit("osm-import", 0, assert.AnError)
	st, _ = s.HealthStatus("osm-import", 0)
	assert.Equal(t, 2, st.ConsecutiveFailures)
	assert.False(t, st.Healthy, "should flip unhealthy once failures reach the threshold")
}
