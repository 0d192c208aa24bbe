/*
Package eventlog implements the Event Log / Notifier: a subscriber
broadcast fanning out task events live, backed by an embedded bbolt store
for durable replay.

	┌──────────────── EVENT LOG ────────────────┐
	│  Publish(event) ─┬─> ring buffer (replay)  │
	│                  ├─> live subscribers      │
	│                  └─> persistence goroutine │
	│                         -> BoltStore        │
	└──────────────────────────────────────────────┘

Subscribe returns both the live channel and whatever is still in the
in-memory ring for that task, so a caller attaching mid-task sees recent
history immediately without waiting on the durable store. Replay reads the
full durable history directly, for callers reattaching after a restart.
*/
package eventlog
