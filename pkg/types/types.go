// Package types defines the wire and record data model shared across the
// storage, cache, transaction, and replication layers (§3).
package types

import (
	"fmt"
	"time"
)

// NoPtr is the sentinel "none" value for pointer-style fields on fixed-width
// records (first_rel_ptr, next_src_ptr, next_dst_ptr, prop_ptr).
const NoPtr = ^uint64(0) // u64::MAX

// NodeRecord is the fixed-width on-disk representation of a graph node.
type NodeRecord struct {
	ID          uint64
	LabelBits   uint64 // bitmap, bit i set means label i applies
	FirstRelPtr uint64 // NoPtr if the node has no relationships
	PropPtr     uint64 // NoPtr if the node has no properties
}

// HasLabel reports whether labelID's bit is set in LabelBits.
func (n *NodeRecord) HasLabel(labelID uint32) bool {
	if labelID >= 64 {
		return false
	}
	return n.LabelBits&(1<<uint(labelID)) != 0
}

// SetLabel sets labelID's bit in LabelBits.
func (n *NodeRecord) SetLabel(labelID uint32) {
	if labelID < 64 {
		n.LabelBits |= 1 << uint(labelID)
	}
}

// RelationshipRecord is the fixed-width on-disk representation of a typed
// relationship between two nodes, doubly-linked per endpoint.
type RelationshipRecord struct {
	ID         uint64
	SrcID      uint64
	DstID      uint64
	TypeID     uint32
	NextSrcPtr uint64 // next relationship in src's ring, NoPtr if last
	NextDstPtr uint64 // next relationship in dst's ring, NoPtr if last
	PropPtr    uint64
}

// PropertyKind tags the variant carried by a PropertyValue.
type PropertyKind uint8

const (
	PropNull PropertyKind = iota
	PropBool
	PropInt64
	PropFloat64
	PropString
	PropBytes
)

// PropertyValue is a tagged union over the property scalar types.
type PropertyValue struct {
	Kind    PropertyKind
	Bool    bool
	Int64   int64
	Float64 float64
	String  string
	Bytes   []byte
}

// TxMode distinguishes read from write transactions.
type TxMode uint8

const (
	ModeRead TxMode = iota
	ModeWrite
)

// Transaction is the in-memory handle returned by the transaction manager.
type Transaction struct {
	ID        uint64
	Epoch     uint64
	Mode      TxMode
	StartedAt time.Time
}

// WalEntryKind identifies a WalEntry variant; values match the on-disk frame
// type byte (§4.4) and the original source's entry_type tag.
type WalEntryKind uint8

const (
	KindBeginTx WalEntryKind = 0x01
	KindCommitTx WalEntryKind = 0x02
	KindAbortTx WalEntryKind = 0x03
	KindCreateNode WalEntryKind = 0x10
	KindDeleteNode WalEntryKind = 0x11
	KindCreateRel WalEntryKind = 0x20
	KindDeleteRel WalEntryKind = 0x21
	KindSetProperty WalEntryKind = 0x30
	KindDeleteProperty WalEntryKind = 0x31
	KindCheckpoint WalEntryKind = 0xFF
)

// WalEntry is the tagged variant persisted in the write-ahead log. Only the
// fields relevant to Kind are populated; the rest are zero.
type WalEntry struct {
	Kind WalEntryKind

	// BeginTx / CommitTx / AbortTx
	TxID  uint64
	Epoch uint64

	// CreateNode
	NodeID    uint64
	LabelBits uint64

	// DeleteNode reuses NodeID.

	// CreateRel / DeleteRel
	RelID  uint64
	SrcID  uint64
	DstID  uint64
	TypeID uint32

	// SetProperty / DeleteProperty
	EntityKind ObjectKeyKind // ObjectNode or ObjectRelationship
	EntityID   uint64
	KeyID      uint32
	Value      []byte // serialized PropertyValue, only for SetProperty

	// Checkpoint reuses Epoch.
}

// IndexKey identifies a cached index page (§3, §4.3).
type IndexKeyKind uint8

const (
	IndexLabel IndexKeyKind = iota
	IndexProperty
	IndexKnn
	IndexFullText
)

type IndexKey struct {
	Kind  IndexKeyKind
	A, B  uint64 // meaning depends on Kind: Label(A), Property(A,B), Knn(A), FullText(A)
}

// String renders a stable cache-key form, used as the map key in pkg/cache's
// index layer and as the substring-match target for InvalidatePattern.
func (k IndexKey) String() string {
	switch k.Kind {
	case IndexLabel:
		return fmt.Sprintf("label:%d", k.A)
	case IndexProperty:
		return fmt.Sprintf("property:%d:%d", k.A, k.B)
	case IndexKnn:
		return fmt.Sprintf("knn:%d", k.A)
	case IndexFullText:
		return fmt.Sprintf("fulltext:%d", k.A)
	default:
		return fmt.Sprintf("index:%d:%d:%d", k.Kind, k.A, k.B)
	}
}

// ObjectKeyKind identifies the entity cached under an ObjectKey.
type ObjectKeyKind uint8

const (
	ObjectNode ObjectKeyKind = iota
	ObjectRelationship
	ObjectProperty
)

type ObjectKey struct {
	Kind ObjectKeyKind
	ID   uint64
	Sub  uint32 // property key id, when Kind == ObjectProperty
}

// String renders a stable cache-key form, used as the map key in pkg/cache's
// object layer and as the substring-match target for InvalidatePattern.
func (k ObjectKey) String() string {
	switch k.Kind {
	case ObjectNode:
		return fmt.Sprintf("node:%d", k.ID)
	case ObjectRelationship:
		return fmt.Sprintf("rel:%d", k.ID)
	case ObjectProperty:
		return fmt.Sprintf("property:%d:%d", k.ID, k.Sub)
	default:
		return fmt.Sprintf("object:%d:%d:%d", k.Kind, k.ID, k.Sub)
	}
}

// ReplicaInfo describes a replica as tracked by the primary (§3, §4.9).
type ReplicaInfo struct {
	ID              string
	Addr            string
	LastAckOffset   uint64
	Lag             uint64
	LastHeartbeat   time.Time
	ConnectedAt     time.Time
	Healthy         bool
}

// ReplicationLogEntry is one slot in the primary's bounded in-memory
// replication log (§3, §4.9).
type ReplicationLogEntry struct {
	Offset    uint64
	Epoch     uint64
	Entry     WalEntry
	Timestamp time.Time
}

// SnapshotMeta describes a full-state snapshot (§3, §4.11).
type SnapshotMeta struct {
	SnapshotID string
	TotalSize  uint64
	ChunkCount uint32
	Checksum   uint32
	WalOffset  uint64
	Epoch      uint64
	Files      []string
}

// Stats reports aggregate record store counts (§4.1).
type Stats struct {
	NodeCount uint64
	RelCount  uint64
}
