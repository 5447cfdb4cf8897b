/*
Package txn implements §4.6's transaction manager: a process-wide monotonic
epoch clock, snapshot-isolated read transactions, and a single-writer commit
path.

	begin_read()  -> Tx{mode=Read,  epoch=current}      (does not advance epoch)
	begin_write() -> Tx{mode=Write}                      (serialized by writeMu)
	commit(tx)    -> epoch++, returns the new epoch       (writers only)
	is_visible(reader_epoch, created, deleted) -> created <= reader_epoch < deleted.unwrap_or(MAX)

Every open read transaction's snapshot epoch is tracked in a live set so the
low-water mark (the oldest epoch any reader might still need) can be computed
for pkg/gc's tombstone reconciliation loop: a tombstone deleted at epoch E is
only safe to reclaim once LowWaterMark() > E.
*/
package txn
