/*
Package editlock is the Edit-Lock Manager.

	Lock(pairs)   one UPDATE ... RETURNING id, filtered on lock_id = 0,
	              followed by a SELECT of the claimed rows in the same
	              round trip, grouped into a LockedData.
	Unlock(data)  DELETE the claimed rows on success, or reset their
	              lock_id back to 0 on failure so they become free again.

The atomicity of the UPDATE ... WHERE lock_id = 0 clause is what makes two
concurrent Lock calls provably disjoint; nothing in this package holds
locks in process memory between calls.
*/
package editlock
