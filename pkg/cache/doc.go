// Package cache implements §4.3's multi-layer cache: the object cache, the
// query result cache, and the index cache, each a memory-bounded, TTL-aware
// Layer with a configurable eviction Policy (LRU, LFU, FIFO, Random, or
// TTL-first) — a closed sum type per §9's design note on polymorphism,
// mirrored here as a small enum rather than a plugin interface.
//
// All three layers share the same underlying Layer implementation
// (cache.go), keyed by a caller-supplied string (ObjectKey/IndexKey.String()
// or a plan hash) and storing the caller's pre-serialized value bytes, so
// size accounting is always "bytes actually held" rather than an estimate
// that can drift from reality.
package cache
