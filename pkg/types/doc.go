// Package types defines the entities in §3 of the specification: fixed-width
// node/relationship records, the tagged PropertyValue union, the WalEntry
// sum type, and the cache/replication key and metadata shapes. Binary
// encoding lives in encoding.go; everything here is plain data.
package types
