package recordstore

import "github.com/hivellm/nexus/pkg/pagecache"

// slotLayout locates a fixed-size record within the paged file given its
// record size: each page holds as many whole records as fit in the body
// (PageSize - HeaderSize).
type slotLayout struct {
	recordSize int
	perPage    int
}

func newSlotLayout(recordSize int) slotLayout {
	perPage := (pagecache.PageSize - pagecache.HeaderSize) / recordSize
	return slotLayout{recordSize: recordSize, perPage: perPage}
}

// locate returns the page id and the byte offset within that page's body
// (i.e. relative to HeaderSize) for the given record id.
func (s slotLayout) locate(id uint64) (pageID uint64, bodyOffset int) {
	pageID = id / uint64(s.perPage)
	slot := int(id % uint64(s.perPage))
	bodyOffset = slot * s.recordSize
	return
}

func (s slotLayout) slice(p *pagecache.Page, bodyOffset int) []byte {
	start := pagecache.HeaderSize + bodyOffset
	return p.Data[start : start+s.recordSize]
}
