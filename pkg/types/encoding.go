package types

import (
	"encoding/binary"
	"fmt"
	"math"
)

// SchemaVersion is prefixed to every serialized PropertyValue and WalEntry so
// future variant additions can be detected by older readers (§9 design note
// on stable binary encodings).
const SchemaVersion uint8 = 1

// EncodePropertyValue serializes a PropertyValue into a deterministic,
// length-prefixed binary form: [schema_version:1][kind:1][payload...].
func EncodePropertyValue(v PropertyValue) []byte {
	buf := []byte{SchemaVersion, byte(v.Kind)}
	switch v.Kind {
	case PropNull:
		// no payload
	case PropBool:
		if v.Bool {
			buf = append(buf, 1)
		} else {
			buf = append(buf, 0)
		}
	case PropInt64:
		var tmp [8]byte
		binary.LittleEndian.PutUint64(tmp[:], uint64(v.Int64))
		buf = append(buf, tmp[:]...)
	case PropFloat64:
		var tmp [8]byte
		binary.LittleEndian.PutUint64(tmp[:], math.Float64bits(v.Float64))
		buf = append(buf, tmp[:]...)
	case PropString:
		buf = append(buf, lenPrefixed([]byte(v.String))...)
	case PropBytes:
		buf = append(buf, lenPrefixed(v.Bytes)...)
	}
	return buf
}

// DecodePropertyValue is the inverse of EncodePropertyValue.
func DecodePropertyValue(data []byte) (PropertyValue, error) {
	if len(data) < 2 {
		return PropertyValue{}, fmt.Errorf("property value: truncated header")
	}
	if data[0] != SchemaVersion {
		return PropertyValue{}, fmt.Errorf("property value: unsupported schema version %d", data[0])
	}
	kind := PropertyKind(data[1])
	rest := data[2:]

	switch kind {
	case PropNull:
		return PropertyValue{Kind: PropNull}, nil
	case PropBool:
		if len(rest) < 1 {
			return PropertyValue{}, fmt.Errorf("property value: truncated bool")
		}
		return PropertyValue{Kind: PropBool, Bool: rest[0] != 0}, nil
	case PropInt64:
		if len(rest) < 8 {
			return PropertyValue{}, fmt.Errorf("property value: truncated int64")
		}
		return PropertyValue{Kind: PropInt64, Int64: int64(binary.LittleEndian.Uint64(rest[:8]))}, nil
	case PropFloat64:
		if len(rest) < 8 {
			return PropertyValue{}, fmt.Errorf("property value: truncated float64")
		}
		return PropertyValue{Kind: PropFloat64, Float64: math.Float64frombits(binary.LittleEndian.Uint64(rest[:8]))}, nil
	case PropString:
		s, _, err := readLenPrefixed(rest)
		if err != nil {
			return PropertyValue{}, err
		}
		return PropertyValue{Kind: PropString, String: string(s)}, nil
	case PropBytes:
		b, _, err := readLenPrefixed(rest)
		if err != nil {
			return PropertyValue{}, err
		}
		return PropertyValue{Kind: PropBytes, Bytes: b}, nil
	default:
		return PropertyValue{}, fmt.Errorf("property value: unknown kind %d", kind)
	}
}

func lenPrefixed(b []byte) []byte {
	out := make([]byte, 4+len(b))
	binary.LittleEndian.PutUint32(out[:4], uint32(len(b)))
	copy(out[4:], b)
	return out
}

func readLenPrefixed(data []byte) ([]byte, int, error) {
	if len(data) < 4 {
		return nil, 0, fmt.Errorf("length-prefixed value: truncated length")
	}
	n := binary.LittleEndian.Uint32(data[:4])
	if uint32(len(data)-4) < n {
		return nil, 0, fmt.Errorf("length-prefixed value: truncated payload")
	}
	return data[4 : 4+n], 4 + int(n), nil
}

// EncodeWalEntry serializes a WalEntry into the deterministic binary payload
// carried inside a WAL/replication frame:
// [schema_version:1][kind:1][fields...] where the field set depends on Kind.
func EncodeWalEntry(e WalEntry) []byte {
	buf := []byte{SchemaVersion, byte(e.Kind)}
	u64 := func(v uint64) { var t [8]byte; binary.LittleEndian.PutUint64(t[:], v); buf = append(buf, t[:]...) }
	u32 := func(v uint32) { var t [4]byte; binary.LittleEndian.PutUint32(t[:], v); buf = append(buf, t[:]...) }

	switch e.Kind {
	case KindBeginTx, KindCommitTx, KindAbortTx:
		u64(e.TxID)
		u64(e.Epoch)
	case KindCreateNode:
		u64(e.NodeID)
		u64(e.LabelBits)
	case KindDeleteNode:
		u64(e.NodeID)
	case KindCreateRel:
		u64(e.RelID)
		u64(e.SrcID)
		u64(e.DstID)
		u32(e.TypeID)
	case KindDeleteRel:
		u64(e.RelID)
	case KindSetProperty:
		buf = append(buf, byte(e.EntityKind))
		u64(e.EntityID)
		u32(e.KeyID)
		buf = append(buf, lenPrefixed(e.Value)...)
	case KindDeleteProperty:
		buf = append(buf, byte(e.EntityKind))
		u64(e.EntityID)
		u32(e.KeyID)
	case KindCheckpoint:
		u64(e.Epoch)
	}
	return buf
}

// DecodeWalEntry is the inverse of EncodeWalEntry.
func DecodeWalEntry(data []byte) (WalEntry, error) {
	if len(data) < 2 {
		return WalEntry{}, fmt.Errorf("wal entry: truncated header")
	}
	if data[0] != SchemaVersion {
		return WalEntry{}, fmt.Errorf("wal entry: unsupported schema version %d", data[0])
	}
	kind := WalEntryKind(data[1])
	rest := data[2:]

	need := func(n int) error {
		if len(rest) < n {
			return fmt.Errorf("wal entry: truncated body for kind 0x%02x", kind)
		}
		return nil
	}
	readU64 := func() (uint64, error) {
		if err := need(8); err != nil {
			return 0, err
		}
		v := binary.LittleEndian.Uint64(rest[:8])
		rest = rest[8:]
		return v, nil
	}
	readU32 := func() (uint32, error) {
		if err := need(4); err != nil {
			return 0, err
		}
		v := binary.LittleEndian.Uint32(rest[:4])
		rest = rest[4:]
		return v, nil
	}
	readByte := func() (byte, error) {
		if err := need(1); err != nil {
			return 0, err
		}
		v := rest[0]
		rest = rest[1:]
		return v, nil
	}

	e := WalEntry{Kind: kind}
	var err error
	switch kind {
	case KindBeginTx, KindCommitTx, KindAbortTx:
		if e.TxID, err = readU64(); err != nil {
			return WalEntry{}, err
		}
		if e.Epoch, err = readU64(); err != nil {
			return WalEntry{}, err
		}
	case KindCreateNode:
		if e.NodeID, err = readU64(); err != nil {
			return WalEntry{}, err
		}
		if e.LabelBits, err = readU64(); err != nil {
			return WalEntry{}, err
		}
	case KindDeleteNode:
		if e.NodeID, err = readU64(); err != nil {
			return WalEntry{}, err
		}
	case KindCreateRel:
		if e.RelID, err = readU64(); err != nil {
			return WalEntry{}, err
		}
		if e.SrcID, err = readU64(); err != nil {
			return WalEntry{}, err
		}
		if e.DstID, err = readU64(); err != nil {
			return WalEntry{}, err
		}
		if e.TypeID, err = readU32(); err != nil {
			return WalEntry{}, err
		}
	case KindDeleteRel:
		if e.RelID, err = readU64(); err != nil {
			return WalEntry{}, err
		}
	case KindSetProperty:
		kb, berr := readByte()
		if berr != nil {
			return WalEntry{}, berr
		}
		e.EntityKind = ObjectKeyKind(kb)
		if e.EntityID, err = readU64(); err != nil {
			return WalEntry{}, err
		}
		if e.KeyID, err = readU32(); err != nil {
			return WalEntry{}, err
		}
		v, _, verr := readLenPrefixed(rest)
		if verr != nil {
			return WalEntry{}, verr
		}
		e.Value = v
	case KindDeleteProperty:
		kb, berr := readByte()
		if berr != nil {
			return WalEntry{}, berr
		}
		e.EntityKind = ObjectKeyKind(kb)
		if e.EntityID, err = readU64(); err != nil {
			return WalEntry{}, err
		}
		if e.KeyID, err = readU32(); err != nil {
			return WalEntry{}, err
		}
	case KindCheckpoint:
		if e.Epoch, err = readU64(); err != nil {
			return WalEntry{}, err
		}
	default:
		return WalEntry{}, fmt.Errorf("wal entry: unknown kind 0x%02x", kind)
	}
	return e, nil
}
