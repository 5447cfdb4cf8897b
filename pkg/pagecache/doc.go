/*
Package pagecache implements §4.2's fixed-capacity page cache.

	┌─────────────────────────── Cache ────────────────────────────┐
	│  map[pageID]*Page            clock ring: [id0, id1, id2, ...] │
	│                                      ^hand                    │
	│  GetPage(id) miss → loader(id) → insert, evict if full        │
	│  PinPage/UnpinPage → atomic pin count on Page                 │
	│  MarkDirty → dirty flag; Flush/FlushPage → flusher + checksum │
	└────────────────────────────────────────────────────────────────┘

Eviction never touches a pinned page. A resident page carries a reference
bit set on every GetPage hit; the clock hand sweeps the ring clearing
reference bits and evicts the first bit-cleared, unpinned page it finds — at
most two full sweeps, since a page can only be given one second chance
before its bit is cleared for good. If every page is pinned, GetPage returns
AllPinned and the caller is expected to release pins and retry.
*/
package pagecache
