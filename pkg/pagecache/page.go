// Package pagecache implements the fixed-capacity, checksummed page cache
// described in §4.2: a map from page id to Page, Clock (second-chance)
// eviction, and pin/unpin semantics that make eviction safe under concurrent
// transaction access.
package pagecache

import (
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
)

// PageSize is the fixed page size (§3): 8 KiB.
const PageSize = 8192

// HeaderSize is the fixed page header size: a 4-byte checksum followed by
// 12 reserved bytes.
const HeaderSize = 16

// Page is an 8 KiB buffer with a checksummed header and Clock/pin metadata.
// The data slice layout is [checksum:4][reserved:12][body:PageSize-16].
type Page struct {
	ID   uint64
	Data []byte // len == PageSize

	dirty        atomic.Bool
	pinCount     atomic.Int32
	referenceBit atomic.Bool
}

// NewPage allocates a zeroed page with the given id. Newly loaded pages
// start "referenced" so a single access does not make them immediately
// evictable (mirrors the original source's Page::new).
func NewPage(id uint64) *Page {
	p := &Page{ID: id, Data: make([]byte, PageSize)}
	p.referenceBit.Store(true)
	return p
}

// IsDirty reports whether the page has unflushed modifications.
func (p *Page) IsDirty() bool { return p.dirty.Load() }

// MarkDirty flags the page as modified.
func (p *Page) MarkDirty() { p.dirty.Store(true) }

// ClearDirty clears the dirty flag, called after a successful flush.
func (p *Page) ClearDirty() { p.dirty.Store(false) }

// Pin increments the reference count, forbidding eviction while held.
func (p *Page) Pin() { p.pinCount.Add(1) }

// Unpin decrements the reference count and reports whether it reached zero.
func (p *Page) Unpin() bool {
	return p.pinCount.Add(-1) == 0
}

// PinCount returns the current pin count.
func (p *Page) PinCount() int32 { return p.pinCount.Load() }

// IsPinned reports whether the page has at least one outstanding pin.
func (p *Page) IsPinned() bool { return p.pinCount.Load() > 0 }

// SetReferenceBit marks the page as recently accessed (Clock algorithm).
func (p *Page) SetReferenceBit() { p.referenceBit.Store(true) }

// ClearReferenceBit clears and returns the previous value of the reference
// bit, used by the clock hand during a sweep.
func (p *Page) ClearReferenceBit() bool {
	return p.referenceBit.Swap(false)
}

// ComputeChecksum returns the XXH64 hash (cespare/xxhash/v2) of the page
// body (bytes [4:]), truncated to its low 32 bits, for the 4-byte on-disk
// checksum field. This is XXH64, not XXH3: the values differ from xxh3 lo32.
func (p *Page) ComputeChecksum() uint32 {
	return uint32(xxhash.Sum64(p.Data[4:]))
}

// UpdateChecksum recomputes and stores the checksum in the first 4 bytes of
// the page. Must be called before a dirty page is flushed or evicted.
func (p *Page) UpdateChecksum() {
	if len(p.Data) < 4 {
		return
	}
	sum := p.ComputeChecksum()
	p.Data[0] = byte(sum)
	p.Data[1] = byte(sum >> 8)
	p.Data[2] = byte(sum >> 16)
	p.Data[3] = byte(sum >> 24)
}

// ValidateChecksum compares the stored checksum against a fresh computation
// and returns false if they disagree (page corruption, §3 invariant 1/2).
func (p *Page) ValidateChecksum() (ok bool, stored, actual uint32) {
	if len(p.Data) < 4 {
		return false, 0, 0
	}
	stored = uint32(p.Data[0]) | uint32(p.Data[1])<<8 | uint32(p.Data[2])<<16 | uint32(p.Data[3])<<24
	actual = p.ComputeChecksum()
	return stored == actual, stored, actual
}
