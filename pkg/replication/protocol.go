package replication

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/hivellm/nexus/pkg/nxerrors"
	"github.com/hivellm/nexus/pkg/types"
)

// ProtocolVersion is advertised in every Hello and validated by the primary
// on accept (§4.9: "read Hello, validate protocol version -> else Error").
const ProtocolVersion uint32 = 1

// magic opens every frame on the wire, guarding against a stray client
// speaking a different protocol entirely on the same listen port.
var magic = [4]byte{'N', 'E', 'X', 'R'}

// MsgKind tags a Message's variant, one per row of §4.8's message table.
type MsgKind uint8

const (
	MsgHello MsgKind = iota + 1
	MsgWelcome
	MsgWalEntry
	MsgWalAck
	MsgSnapshotMeta
	MsgSnapshotChunk
	MsgSnapshotComplete
	MsgPing
	MsgPong
	MsgError
)

func (k MsgKind) String() string {
	switch k {
	case MsgHello:
		return "Hello"
	case MsgWelcome:
		return "Welcome"
	case MsgWalEntry:
		return "WalEntry"
	case MsgWalAck:
		return "WalAck"
	case MsgSnapshotMeta:
		return "SnapshotMeta"
	case MsgSnapshotChunk:
		return "SnapshotChunk"
	case MsgSnapshotComplete:
		return "SnapshotComplete"
	case MsgPing:
		return "Ping"
	case MsgPong:
		return "Pong"
	case MsgError:
		return "Error"
	default:
		return fmt.Sprintf("MsgKind(%d)", k)
	}
}

// Message is a tagged union over every §4.8 variant; only the fields that
// apply to Kind are populated, mirroring pkg/types.WalEntry's style of one
// flat struct per sum type instead of an interface-per-variant hierarchy.
type Message struct {
	Kind MsgKind

	// Hello
	ReplicaID        string
	LastWalOffset    uint64
	ProtocolVersion  uint32

	// Welcome
	MasterID         string
	CurrentWalOffset uint64
	RequiresFullSync bool

	// WalEntry
	Offset uint64
	Epoch  uint64
	Entry  types.WalEntry

	// WalAck
	Success bool

	// SnapshotMeta / SnapshotChunk / SnapshotComplete share SnapshotID
	SnapshotID    string
	TotalSize     uint64
	ChunkCount    uint32
	Checksum      uint32
	ChunkIndex    uint32
	Data          []byte
	ChunkChecksum uint32

	// Error
	ErrCode uint32
	ErrText string
}

// Encode serializes m into the deterministic payload carried inside a wire
// frame: [schema_version:1][kind:1][fields...], following the same
// length-prefix discipline as pkg/types.EncodeWalEntry.
func Encode(m Message) []byte {
	buf := []byte{types.SchemaVersion, byte(m.Kind)}
	u64 := func(v uint64) { var t [8]byte; binary.LittleEndian.PutUint64(t[:], v); buf = append(buf, t[:]...) }
	u32 := func(v uint32) { var t [4]byte; binary.LittleEndian.PutUint32(t[:], v); buf = append(buf, t[:]...) }
	boolb := func(v bool) {
		if v {
			buf = append(buf, 1)
		} else {
			buf = append(buf, 0)
		}
	}
	str := func(s string) { buf = append(buf, lenPrefixedStr(s)...) }

	switch m.Kind {
	case MsgHello:
		str(m.ReplicaID)
		u64(m.LastWalOffset)
		u32(m.ProtocolVersion)
	case MsgWelcome:
		str(m.MasterID)
		u64(m.CurrentWalOffset)
		boolb(m.RequiresFullSync)
	case MsgWalEntry:
		u64(m.Offset)
		u64(m.Epoch)
		entryPayload := types.EncodeWalEntry(m.Entry)
		u32(uint32(len(entryPayload)))
		buf = append(buf, entryPayload...)
	case MsgWalAck:
		u64(m.Offset)
		boolb(m.Success)
	case MsgSnapshotMeta:
		str(m.SnapshotID)
		u64(m.TotalSize)
		u32(m.ChunkCount)
		u32(m.Checksum)
		u64(m.Offset)
	case MsgSnapshotChunk:
		str(m.SnapshotID)
		u32(m.ChunkIndex)
		u32(uint32(len(m.Data)))
		buf = append(buf, m.Data...)
		u32(m.ChunkChecksum)
	case MsgSnapshotComplete:
		str(m.SnapshotID)
		boolb(m.Success)
	case MsgPing, MsgPong:
		// no payload
	case MsgError:
		u32(m.ErrCode)
		str(m.ErrText)
	}
	return buf
}

// Decode is the inverse of Encode.
func Decode(data []byte) (Message, error) {
	if len(data) < 2 {
		return Message{}, nxerrors.New(nxerrors.ProtocolError, "replication message: truncated header")
	}
	if data[0] != types.SchemaVersion {
		return Message{}, nxerrors.Newf(nxerrors.ProtocolError, "replication message: unsupported schema version %d", data[0])
	}
	kind := MsgKind(data[1])
	rest := data[2:]

	need := func(n int) error {
		if len(rest) < n {
			return nxerrors.Newf(nxerrors.ProtocolError, "replication message: truncated body for %s", kind)
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
	readBool := func() (bool, error) {
		if err := need(1); err != nil {
			return false, err
		}
		v := rest[0] != 0
		rest = rest[1:]
		return v, nil
	}
	readStr := func() (string, error) {
		s, n, err := readLenPrefixedStr(rest)
		if err != nil {
			return "", nxerrors.Wrap(nxerrors.ProtocolError, "replication message: read string", err)
		}
		rest = rest[n:]
		return s, nil
	}

	m := Message{Kind: kind}
	var err error
	switch kind {
	case MsgHello:
		if m.ReplicaID, err = readStr(); err != nil {
			return Message{}, err
		}
		if m.LastWalOffset, err = readU64(); err != nil {
			return Message{}, err
		}
		if m.ProtocolVersion, err = readU32(); err != nil {
			return Message{}, err
		}
	case MsgWelcome:
		if m.MasterID, err = readStr(); err != nil {
			return Message{}, err
		}
		if m.CurrentWalOffset, err = readU64(); err != nil {
			return Message{}, err
		}
		if m.RequiresFullSync, err = readBool(); err != nil {
			return Message{}, err
		}
	case MsgWalEntry:
		if m.Offset, err = readU64(); err != nil {
			return Message{}, err
		}
		if m.Epoch, err = readU64(); err != nil {
			return Message{}, err
		}
		entryLen, err2 := readU32()
		if err2 != nil {
			return Message{}, err2
		}
		if err := need(int(entryLen)); err != nil {
			return Message{}, err
		}
		entry, derr := types.DecodeWalEntry(rest[:entryLen])
		if derr != nil {
			return Message{}, nxerrors.Wrap(nxerrors.ProtocolError, "decode wal entry payload", derr)
		}
		m.Entry = entry
		rest = rest[entryLen:]
	case MsgWalAck:
		if m.Offset, err = readU64(); err != nil {
			return Message{}, err
		}
		if m.Success, err = readBool(); err != nil {
			return Message{}, err
		}
	case MsgSnapshotMeta:
		if m.SnapshotID, err = readStr(); err != nil {
			return Message{}, err
		}
		if m.TotalSize, err = readU64(); err != nil {
			return Message{}, err
		}
		if m.ChunkCount, err = readU32(); err != nil {
			return Message{}, err
		}
		if m.Checksum, err = readU32(); err != nil {
			return Message{}, err
		}
		if m.Offset, err = readU64(); err != nil {
			return Message{}, err
		}
	case MsgSnapshotChunk:
		if m.SnapshotID, err = readStr(); err != nil {
			return Message{}, err
		}
		if m.ChunkIndex, err = readU32(); err != nil {
			return Message{}, err
		}
		dataLen, err2 := readU32()
		if err2 != nil {
			return Message{}, err2
		}
		if err := need(int(dataLen)); err != nil {
			return Message{}, err
		}
		m.Data = append([]byte(nil), rest[:dataLen]...)
		rest = rest[dataLen:]
		if m.ChunkChecksum, err = readU32(); err != nil {
			return Message{}, err
		}
	case MsgSnapshotComplete:
		if m.SnapshotID, err = readStr(); err != nil {
			return Message{}, err
		}
		if m.Success, err = readBool(); err != nil {
			return Message{}, err
		}
	case MsgPing, MsgPong:
		// no payload
	case MsgError:
		if m.ErrCode, err = readU32(); err != nil {
			return Message{}, err
		}
		if m.ErrText, err = readStr(); err != nil {
			return Message{}, err
		}
	default:
		return Message{}, nxerrors.Newf(nxerrors.ProtocolError, "replication message: unknown kind %d", kind)
	}
	return m, nil
}

func lenPrefixedStr(s string) []byte {
	out := make([]byte, 4+len(s))
	binary.LittleEndian.PutUint32(out[:4], uint32(len(s)))
	copy(out[4:], s)
	return out
}

func readLenPrefixedStr(data []byte) (string, int, error) {
	if len(data) < 4 {
		return "", 0, fmt.Errorf("length-prefixed string: truncated length")
	}
	n := binary.LittleEndian.Uint32(data[:4])
	if uint32(len(data)-4) < n {
		return "", 0, fmt.Errorf("length-prefixed string: truncated payload")
	}
	return string(data[4 : 4+n]), 4 + int(n), nil
}

// WriteFrame writes m to w as [magic:4][kind:1][payload_len:4][payload][crc32:4],
// the wire framing described in §4.8 over pkg/wal's in-file frame shape,
// extended with the "NEXR" magic so a stray non-replication client is
// rejected immediately instead of desyncing the stream.
func WriteFrame(w io.Writer, m Message) error {
	payload := Encode(m)
	frame := make([]byte, 4+1+4+len(payload)+4)
	copy(frame[0:4], magic[:])
	frame[4] = byte(m.Kind)
	binary.LittleEndian.PutUint32(frame[5:9], uint32(len(payload)))
	copy(frame[9:], payload)

	sum := crc32.ChecksumIEEE(frame[:9+len(payload)])
	binary.LittleEndian.PutUint32(frame[len(frame)-4:], sum)

	if _, err := w.Write(frame); err != nil {
		return nxerrors.Wrap(nxerrors.IOError, "write replication frame", err)
	}
	return nil
}

// ReadFrame reads and validates one frame from r, returning the decoded
// Message. A magic or checksum mismatch is a ProtocolError, per §4.9's
// "validate protocol version -> else Error{code=1} and close" handling at
// the Hello step and §7's general framing guarantee.
func ReadFrame(r io.Reader) (Message, error) {
	var header [9]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if err == io.EOF {
			return Message{}, err
		}
		return Message{}, nxerrors.Wrap(nxerrors.IOError, "read replication frame header", err)
	}
	if string(header[0:4]) != string(magic[:]) {
		return Message{}, nxerrors.New(nxerrors.ProtocolError, "replication frame: bad magic")
	}
	kind := MsgKind(header[4])
	payloadLen := binary.LittleEndian.Uint32(header[5:9])

	payload := make([]byte, payloadLen)
	if _, err := io.ReadFull(r, payload); err != nil {
		return Message{}, nxerrors.Wrap(nxerrors.IOError, "read replication frame payload", err)
	}
	var crcBuf [4]byte
	if _, err := io.ReadFull(r, crcBuf[:]); err != nil {
		return Message{}, nxerrors.Wrap(nxerrors.IOError, "read replication frame checksum", err)
	}

	want := binary.LittleEndian.Uint32(crcBuf[:])
	got := crc32.ChecksumIEEE(append(append([]byte{}, header[:]...), payload...))
	if want != got {
		return Message{}, nxerrors.New(nxerrors.ProtocolError, "replication frame: checksum mismatch")
	}

	m, err := Decode(payload)
	if err != nil {
		return Message{}, err
	}
	if m.Kind != kind {
		return Message{}, nxerrors.New(nxerrors.ProtocolError, "replication frame: kind mismatch between header and payload")
	}
	return m, nil
}
