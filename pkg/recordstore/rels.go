package recordstore

import (
	"encoding/binary"

	"github.com/hivellm/nexus/pkg/nxerrors"
	"github.com/hivellm/nexus/pkg/types"
)

// id, src_id, dst_id, type_id, next_src_ptr, next_dst_ptr, prop_ptr
const relRecordSize = 8 + 8 + 8 + 4 + 8 + 8 + 8

var relLayout = newSlotLayout(relRecordSize)

func encodeRelRecord(r types.RelationshipRecord) []byte {
	buf := make([]byte, relRecordSize)
	binary.LittleEndian.PutUint64(buf[0:8], r.ID)
	binary.LittleEndian.PutUint64(buf[8:16], r.SrcID)
	binary.LittleEndian.PutUint64(buf[16:24], r.DstID)
	binary.LittleEndian.PutUint32(buf[24:28], r.TypeID)
	binary.LittleEndian.PutUint64(buf[28:36], r.NextSrcPtr)
	binary.LittleEndian.PutUint64(buf[36:44], r.NextDstPtr)
	binary.LittleEndian.PutUint64(buf[44:52], r.PropPtr)
	return buf
}

func decodeRelRecord(buf []byte) types.RelationshipRecord {
	return types.RelationshipRecord{
		ID:         binary.LittleEndian.Uint64(buf[0:8]),
		SrcID:      binary.LittleEndian.Uint64(buf[8:16]),
		DstID:      binary.LittleEndian.Uint64(buf[16:24]),
		TypeID:     binary.LittleEndian.Uint32(buf[24:28]),
		NextSrcPtr: binary.LittleEndian.Uint64(buf[28:36]),
		NextDstPtr: binary.LittleEndian.Uint64(buf[36:44]),
		PropPtr:    binary.LittleEndian.Uint64(buf[44:52]),
	}
}

// AllocateRelID returns a new monotonically increasing relationship id.
func (s *Store) AllocateRelID() (uint64, error) {
	return s.rels.allocateID()
}

// WriteRel writes (or overwrites, slot-in-place) a relationship record.
func (s *Store) WriteRel(r types.RelationshipRecord) error {
	pageID, off := relLayout.locate(r.ID)
	page, err := s.relCache.GetPage(pageID)
	if err != nil {
		return err
	}
	copy(relLayout.slice(page, off), encodeRelRecord(r))
	return s.relCache.MarkDirty(pageID)
}

// ReadRel reads a relationship record by id.
func (s *Store) ReadRel(id uint64) (types.RelationshipRecord, error) {
	if id >= s.rels.nextID.Load() {
		return types.RelationshipRecord{}, nxerrors.Newf(nxerrors.NotFound, "relationship %d not allocated", id)
	}
	pageID, off := relLayout.locate(id)
	page, err := s.relCache.GetPage(pageID)
	if err != nil {
		return types.RelationshipRecord{}, err
	}
	if !page.IsDirty() {
		if ok, stored, actual := page.ValidateChecksum(); !ok && stored != 0 {
			return types.RelationshipRecord{}, nxerrors.Newf(nxerrors.Checksum,
				"relationship page %d checksum mismatch: stored=%x actual=%x", pageID, stored, actual)
		}
	}
	return decodeRelRecord(relLayout.slice(page, off)), nil
}

// DeleteRel tombstones a relationship by zeroing its slot.
func (s *Store) DeleteRel(id uint64) error {
	return s.WriteRel(types.RelationshipRecord{ID: id, NextSrcPtr: types.NoPtr, NextDstPtr: types.NoPtr, PropPtr: types.NoPtr})
}
