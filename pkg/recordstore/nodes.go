package recordstore

import (
	"encoding/binary"

	"github.com/hivellm/nexus/pkg/nxerrors"
	"github.com/hivellm/nexus/pkg/types"
)

const nodeRecordSize = 8 + 8 + 8 + 8 // id, label_bits, first_rel_ptr, prop_ptr

var nodeLayout = newSlotLayout(nodeRecordSize)

func encodeNodeRecord(n types.NodeRecord) []byte {
	buf := make([]byte, nodeRecordSize)
	binary.LittleEndian.PutUint64(buf[0:8], n.ID)
	binary.LittleEndian.PutUint64(buf[8:16], n.LabelBits)
	binary.LittleEndian.PutUint64(buf[16:24], n.FirstRelPtr)
	binary.LittleEndian.PutUint64(buf[24:32], n.PropPtr)
	return buf
}

func decodeNodeRecord(buf []byte) types.NodeRecord {
	return types.NodeRecord{
		ID:          binary.LittleEndian.Uint64(buf[0:8]),
		LabelBits:   binary.LittleEndian.Uint64(buf[8:16]),
		FirstRelPtr: binary.LittleEndian.Uint64(buf[16:24]),
		PropPtr:     binary.LittleEndian.Uint64(buf[24:32]),
	}
}

// AllocateNodeID returns a new monotonically increasing node id.
func (s *Store) AllocateNodeID() (uint64, error) {
	return s.nodes.allocateID()
}

// WriteNode writes (or overwrites, slot-in-place) a node record. The caller
// must have already allocated id via AllocateNodeID (or be replaying a WAL
// entry for a previously allocated id during recovery).
func (s *Store) WriteNode(n types.NodeRecord) error {
	pageID, off := nodeLayout.locate(n.ID)
	page, err := s.nodeCache.GetPage(pageID)
	if err != nil {
		return err
	}
	copy(nodeLayout.slice(page, off), encodeNodeRecord(n))
	return s.nodeCache.MarkDirty(pageID)
}

// ReadNode reads a node record by id, validating the owning page's checksum.
func (s *Store) ReadNode(id uint64) (types.NodeRecord, error) {
	if id >= s.nodes.nextID.Load() {
		return types.NodeRecord{}, nxerrors.Newf(nxerrors.NotFound, "node %d not allocated", id)
	}
	pageID, off := nodeLayout.locate(id)
	page, err := s.nodeCache.GetPage(pageID)
	if err != nil {
		return types.NodeRecord{}, err
	}
	// A dirty page's checksum is stale until the next flush; only a clean
	// (flushed-or-never-modified) page's checksum is meaningful to check.
	if !page.IsDirty() {
		if ok, stored, actual := page.ValidateChecksum(); !ok && stored != 0 {
			return types.NodeRecord{}, nxerrors.Newf(nxerrors.Checksum,
				"node page %d checksum mismatch: stored=%x actual=%x", pageID, stored, actual)
		}
	}
	return decodeNodeRecord(nodeLayout.slice(page, off)), nil
}

// DeleteNode tombstones a node by zeroing its slot. MVCC visibility of the
// deletion is governed externally by the transaction manager's epoch
// bookkeeping (§4.6); the record store itself holds no version history.
func (s *Store) DeleteNode(id uint64) error {
	return s.WriteNode(types.NodeRecord{ID: id, FirstRelPtr: types.NoPtr, PropPtr: types.NoPtr})
}
