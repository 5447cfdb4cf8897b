/*
Package lockmgr implements §4.7's multi-mode lock manager: per-resource
locks with a Read/Write/Intent compatibility matrix, a wait-for graph for
deadlock detection, and request timeouts.

A request that cannot be granted immediately is parked and added to the
wait-for graph as an edge requester -> each current holder. Before a request
blocks the manager runs DFS from the requester over that graph, once; grants
made later on release run no further DFS. Finding a
path back to the requester is a cycle, which fails the request with
DeadlockDetected instead of adding it to the parked queue (so a parked
request's edges never themselves become the start of an undetected deeper
cycle). Release walks parked requests for the freed resource in arrival
order, granting every one compatible with the resulting holder set.

Guard.Unlock releases on every code path, including panics recovered
upstream by the caller — callers are expected to `defer guard.Unlock()`
immediately after a successful Acquire, mirroring the broker subscribe/
unsubscribe discipline used elsewhere in this codebase (subscribe, defer
unsubscribe).
*/
package lockmgr
