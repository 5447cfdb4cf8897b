// Package engine wires every collaborator described by §9's "construct
// explicitly in Engine::new and pass references" design note: the record
// store, WAL and async writer, multi-layer cache, transaction manager, lock
// manager, catalog, event broker, tombstone GC reconciler, snapshot service,
// and (optionally) replication primary, into the single storage/transaction
// substrate Nexus exposes to a query layer.
package engine
