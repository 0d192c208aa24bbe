/*
Package log provides structured logging for Contour using zerolog.

	┌──────────────── LOGGING SYSTEM ────────────────┐
	│  Global Logger (zerolog, set via log.Init)      │
	│      │                                          │
	│      ├── WithComponent("taskmanager")           │
	│      ├── WithTaskID(taskID)                     │
	│      ├── WithRequestID(correlationID)           │
	│      └── WithRoutingKey(routingKey)              │
	└──────────────────────────────────────────────────┘

JSON output is used in production; console output (human-readable, with
timestamps) is used in development. Task and correlation ids are rendered
shortened (first uuid segment) via ShortUUID to keep log lines readable.
*/
package log
