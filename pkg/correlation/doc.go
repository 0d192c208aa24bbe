// Package correlation is the Correlation Registry: request-uuid -> (task
// id, reply channel). Safe for concurrent use: one request per in-flight
// RPC step registers and later forgets its own entry, while a single
// reply-queue consumer resolves them all.
package correlation
