/*
Package catalog provides name<->id interning for labels, relationship
types, and property keys, plus advisory per-label node counts, backed by a
single BoltDB file.

	┌──────────────── catalog.db ───────────────┐
	│  labels        n:<name> -> id, i:<id> -> name │
	│  rel_types     n:<name> -> id, i:<id> -> name │
	│  property_keys n:<name> -> id, i:<id> -> name │
	│  stats         label_counts -> [(id,count)*]  │
	└────────────────────────────────────────────┘

Every bucket uses BoltDB's auto-incrementing sequence for id allocation, so
ids are stable for the lifetime of the database file and never reused.
*/
package catalog
