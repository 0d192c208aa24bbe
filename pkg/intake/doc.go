/*
Package intake is the thin HTTP binding for starting tasks (spec.md §6
names only the `start_task(scenario_id, payload) → (bool, message)`
interface; SPEC_FULL.md §6 gives it a concrete transport so the
repository runs end to end).

	POST /tasks     decode + validate payload, call taskmanager.StartTask
	GET  /health    liveness
	GET  /ready     readiness
	GET  /metrics   Prometheus scrape endpoint

Struct-shape validation (required fields, cells non-empty, rect bounds)
is done here with go-playground/validator; the scenario-specific check
("does this scenario expect cells or a rect") stays where spec.md puts
it, inside the Scenario Model's CheckInput, so this package never needs
to know which scenario is which.
*/
package intake
