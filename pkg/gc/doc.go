// Package gc implements the low-water-mark tombstone reconciler described
// by §4.6: garbage collection of tombstoned records is delayed until no
// active read epoch is at or below the tombstone's deletion epoch. The
// control-loop shape (tick, list candidates, act, record metrics) is
// grounded directly in the teacher's pkg/reconciler, repurposed here from
// "reconcile container/node state" to "reconcile tombstone retention."
package gc
