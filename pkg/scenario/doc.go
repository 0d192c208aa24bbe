/*
Package scenario implements the executable tree a Task walks from start to
close:

	Scenario (root, one per task, cloned from a template)
	  -> GroupExecution (Consequent | Concurrent, each with an optional Locker)
	       -> ... nested GroupExecution nodes ...
	       -> Run (leaf: one RPC request on a routing key)

Consequent runs children in order and stops at the first failure. Concurrent
runs all children at once via errgroup and succeeds only if every child
does. A Locker brackets a group node's execution with Begin/End so the
resources it touches (cells, object types) stay reserved for the duration.
*/
package scenario
