package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Task manager metrics
	TasksActive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "contour_tasks_active",
			Help: "Number of tasks currently tracked by status",
		},
		[]string{"status"},
	)

	TasksStartedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "contour_tasks_started_total",
			Help: "Total number of tasks started by scenario id",
		},
		[]string{"scenario_id"},
	)

	TasksFinishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "contour_tasks_finished_total",
			Help: "Total number of tasks finished by final status",
		},
		[]string{"status"},
	)

	TaskDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "contour_task_duration_seconds",
			Help:    "Time from task start to its terminal status",
			Buckets: []float64{1, 5, 15, 30, 60, 300, 900, 1800, 3600, 7200},
		},
	)

	// RPC layer metrics
	RPCRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "contour_rpc_requests_total",
			Help: "Total number of RPC requests published by routing key",
		},
		[]string{"routing_key"},
	)

	RPCRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "contour_rpc_request_duration_seconds",
			Help:    "Time from RPC request publish to final reply",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"routing_key"},
	)

	RPCHeartbeatTimeoutsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "contour_rpc_heartbeat_timeouts_total",
			Help: "Total number of RPC records that missed their heartbeat deadline",
		},
		[]string{"routing_key"},
	)

	// Worker pool metrics
	WorkersRunning = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "contour_workers_running",
			Help: "Number of worker processes currently running by routing key",
		},
		[]string{"routing_key"},
	)

	WorkerRestartsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "contour_worker_restarts_total",
			Help: "Total number of worker process restarts after a crash",
		},
		[]string{"routing_key"},
	)

	// Edit-lock manager metrics
	LockAcquireDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "contour_lock_acquire_duration_seconds",
			Help:    "Time taken to acquire an edit lock transaction",
			Buckets: prometheus.DefBuckets,
		},
	)

	LockConflictsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "contour_lock_conflicts_total",
			Help: "Total number of lock attempts that found cells already locked",
		},
	)

	// Event log metrics
	EventsPublishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "contour_events_published_total",
			Help: "Total number of events published by kind",
		},
		[]string{"kind"},
	)

	EventSubscribersGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "contour_event_subscribers",
			Help: "Number of active event subscribers",
		},
	)
)

func init() {
	prometheus.MustRegister(
		TasksActive,
		TasksStartedTotal,
		TasksFinishedTotal,
		TaskDuration,
		RPCRequestsTotal,
		RPCRequestDuration,
		RPCHeartbeatTimeoutsTotal,
		WorkersRunning,
		WorkerRestartsTotal,
		LockAcquireDuration,
		LockConflictsTotal,
		EventsPublishedTotal,
		EventSubscribersGauge,
	)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
