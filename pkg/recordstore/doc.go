/*
Package recordstore implements §4.1's fixed-width paged record store.

	┌──────────────── Store ────────────────┐
	│  nodes  -> pagedFile -> nodeCache      │  fixed 32-byte slots
	│  rels   -> pagedFile -> relCache       │  fixed 52-byte slots
	│  props  -> pagedFile -> propCache      │  variable-length slab
	└────────────────────────────────────────┘

Nodes and relationships are fixed-width records addressed by slotLayout
(id -> page, offset). Properties are variable-length, so they are instead
bump-allocated into a slab: prop_ptr packs a page id and in-page byte offset,
and each entry's 16-byte header carries the property key id, the prop_ptr of
the next entry in the chain, and the encoded value's length. A node's or
relationship's PropPtr is the head of its own chain; SetProperty prepends a
new entry rather than mutating in place, so ReadProperties de-duplicates by
key id, keeping only the first (most recent) occurrence.

Corruption detection is page-granular: every flush recomputes a checksum
over the page body, and ReadNode and ReadRel validate it on a clean
(non-dirty) page, surfacing nxerrors.Checksum rather than returning corrupted
bytes. ReadProperty does not validate the checksum.
*/
package recordstore
