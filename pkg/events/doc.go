/*
Package events is the engine's internal notification bus.

	commit(tx) ──▶ Broker.Publish(EventTxCommitted{keys, epoch})

Only the commit path publishes. EventTxAborted, EventCheckpoint,
EventReplicaConnected and EventReplicaLost are defined but nothing in this
repository publishes them, and no package subscribes to the broker; the
transaction invalidates the cache itself on commit.

Subscribers receive a buffered channel from Subscribe and must drain it
promptly: a slow subscriber only loses events (the broadcast loop drops on a
full buffer), it never blocks the publisher or other subscribers.
*/
package events
