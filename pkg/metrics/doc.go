/*
Package metrics provides Prometheus metrics collection and exposition for
Contour.

	┌─────────────── METRICS SYSTEM ───────────────┐
	│  Task manager: active tasks, durations        │
	│  RPC layer: request rate, latency, timeouts   │
	│  Worker pool: running workers, restarts       │
	│  Edit locks: acquire latency, conflicts       │
	│  Event log: published events, subscribers     │
	└────────────────────────────────────────────────┘

All metrics are registered at package init and exposed via Handler() for
scraping. Timer is a small helper for recording histogram observations
around a block of code.
*/
package metrics
