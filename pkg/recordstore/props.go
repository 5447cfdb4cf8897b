package recordstore

import (
	"encoding/binary"

	"github.com/hivellm/nexus/pkg/nxerrors"
	"github.com/hivellm/nexus/pkg/pagecache"
	"github.com/hivellm/nexus/pkg/types"
)

// propHeaderSize is [key_id:4][next_prop_ptr:8][value_len:4] preceding the
// encoded PropertyValue payload.
const propHeaderSize = 4 + 8 + 4

// Property values are variable-length, unlike node and relationship
// records, so the property store is a simple bump-allocated slab rather
// than a fixed-slot layout: entries are appended to the current page until
// they no longer fit, then a new page is allocated. A prop_ptr packs the
// page id into the high 32 bits and the byte offset within the page body
// into the low 32 bits, which bounds a single page to at most 2^32 bytes of
// properties (far above PageSize, so never a practical limit).
func packPropPtr(pageID uint64, offset int) uint64 {
	return pageID<<32 | uint64(uint32(offset))
}

func unpackPropPtr(ptr uint64) (pageID uint64, offset int) {
	return ptr >> 32, int(uint32(ptr))
}

// propTail tracks the current bump-allocation point for appends. It is not
// persisted or rebuilt: NewStore starts appends on a freshly allocated page,
// so a partly filled tail page from an earlier run is not appended to again.
type propTail struct {
	pageID uint64
	offset int
}

// WriteProperty appends a new property record and returns its prop_ptr. next
// is the prop_ptr this entry should chain to (types.NoPtr if it is the new
// head... callers prepend, so this is normally the entity's current
// PropPtr).
func (s *Store) WriteProperty(keyID uint32, value types.PropertyValue, next uint64) (uint64, error) {
	encoded := types.EncodePropertyValue(value)
	entrySize := propHeaderSize + len(encoded)
	if entrySize > pagecache.PageSize-pagecache.HeaderSize {
		return 0, nxerrors.Newf(nxerrors.InvalidInput, "property value too large: %d bytes", len(encoded))
	}

	pageID, offset, err := s.propTailFor(entrySize)
	if err != nil {
		return 0, err
	}

	page, err := s.propCache.GetPage(pageID)
	if err != nil {
		return 0, err
	}
	buf := page.Data[pagecache.HeaderSize+offset : pagecache.HeaderSize+offset+entrySize]
	binary.LittleEndian.PutUint32(buf[0:4], keyID)
	binary.LittleEndian.PutUint64(buf[4:12], next)
	binary.LittleEndian.PutUint32(buf[12:16], uint32(len(encoded)))
	copy(buf[propHeaderSize:], encoded)
	if err := s.propCache.MarkDirty(pageID); err != nil {
		return 0, err
	}

	s.tail.pageID = pageID
	s.tail.offset = offset + entrySize
	return packPropPtr(pageID, offset), nil
}

// propTailFor returns the page/offset to write entrySize bytes at, rolling
// over to a freshly allocated page if the current one has no room.
func (s *Store) propTailFor(entrySize int) (pageID uint64, offset int, err error) {
	body := pagecache.PageSize - pagecache.HeaderSize
	if s.tail.offset+entrySize > body {
		id, err := s.props.allocateID()
		if err != nil {
			return 0, 0, err
		}
		return id, 0, nil
	}
	return s.tail.pageID, s.tail.offset, nil
}

// ReadProperty reads a single property entry by prop_ptr, returning its key
// id, value, and the prop_ptr of the next entry in the chain (NoPtr if this
// is the last one).
func (s *Store) ReadProperty(ptr uint64) (keyID uint32, value types.PropertyValue, next uint64, err error) {
	pageID, offset := unpackPropPtr(ptr)
	page, err := s.propCache.GetPage(pageID)
	if err != nil {
		return 0, types.PropertyValue{}, 0, err
	}
	header := page.Data[pagecache.HeaderSize+offset : pagecache.HeaderSize+offset+propHeaderSize]
	keyID = binary.LittleEndian.Uint32(header[0:4])
	next = binary.LittleEndian.Uint64(header[4:12])
	valueLen := int(binary.LittleEndian.Uint32(header[12:16]))

	start := pagecache.HeaderSize + offset + propHeaderSize
	value, err = types.DecodePropertyValue(page.Data[start : start+valueLen])
	if err != nil {
		return 0, types.PropertyValue{}, 0, err
	}
	return keyID, value, next, nil
}

// ReadProperties walks a property chain starting at head and returns, for
// each key id, the value of its first entry in the chain (the most recently
// written, since callers prepend); older entries for the same key are skipped.
func (s *Store) ReadProperties(head uint64) (map[uint32]types.PropertyValue, error) {
	out := make(map[uint32]types.PropertyValue)
	ptr := head
	for ptr != types.NoPtr {
		keyID, value, next, err := s.ReadProperty(ptr)
		if err != nil {
			return nil, err
		}
		if _, seen := out[keyID]; !seen {
			out[keyID] = value
		}
		ptr = next
	}
	return out, nil
}
