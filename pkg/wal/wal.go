// Package wal implements §4.4's write-ahead log: an append-only file of
// CRC-framed entries that is the source of truth for crash recovery.
package wal

import (
	"bufio"
	"encoding/binary"
	"hash/crc32"
	"io"
	"os"
	"sync"

	"github.com/hivellm/nexus/pkg/nxerrors"
	"github.com/hivellm/nexus/pkg/types"
)

// frameHeaderSize is [type:1][payload_len:4].
const frameHeaderSize = 1 + 4

// frameTrailerSize is [crc32:4].
const frameTrailerSize = 4

// Wal is a single-writer append-only log of framed WalEntry records. Every
// exported method that touches the file takes mu, so a Wal is safe to share
// across goroutines, but callers needing high throughput should route
// writes through a single owner (the async writer in this package) rather
// than contend on mu directly.
type Wal struct {
	mu   sync.Mutex
	path string
	file *os.File

	offset          int64 // next write position, i.e. current file size
	entriesSinceCkpt int
}

// Open opens (creating if necessary) the WAL file at path, positioned for
// appending at its current end.
func Open(path string) (*Wal, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, nxerrors.Wrap(nxerrors.IOError, "open wal", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nxerrors.Wrap(nxerrors.IOError, "stat wal", err)
	}
	return &Wal{path: path, file: f, offset: info.Size()}, nil
}

// Append encodes and writes one frame for entry, returning its starting
// file offset. The frame is not fsynced; callers requiring durability must
// call Flush (directly, or via the async writer's Flush command).
func (w *Wal) Append(entry types.WalEntry) (int64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.appendLocked(entry)
}

func (w *Wal) appendLocked(entry types.WalEntry) (int64, error) {
	payload := types.EncodeWalEntry(entry)
	frame := make([]byte, frameHeaderSize+len(payload)+frameTrailerSize)
	frame[0] = byte(entry.Kind)
	binary.LittleEndian.PutUint32(frame[1:5], uint32(len(payload)))
	copy(frame[frameHeaderSize:], payload)

	sum := crc32.ChecksumIEEE(frame[:frameHeaderSize+len(payload)])
	binary.LittleEndian.PutUint32(frame[len(frame)-4:], sum)

	startOffset := w.offset
	n, err := w.file.WriteAt(frame, startOffset)
	if err != nil {
		return 0, nxerrors.Wrap(nxerrors.IOError, "append wal frame", err).WithOffset(startOffset)
	}
	w.offset += int64(n)
	w.entriesSinceCkpt++
	return startOffset, nil
}

// Flush fsyncs the WAL file, making every prior Append durable.
func (w *Wal) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.file.Sync(); err != nil {
		return nxerrors.Wrap(nxerrors.IOError, "sync wal", err)
	}
	return nil
}

// Checkpoint appends a Checkpoint{epoch} frame, flushes, and resets the
// entries-since-checkpoint counter.
func (w *Wal) Checkpoint(epoch uint64) (int64, error) {
	w.mu.Lock()
	off, err := w.appendLocked(types.WalEntry{Kind: types.KindCheckpoint, Epoch: epoch})
	w.mu.Unlock()
	if err != nil {
		return 0, err
	}
	if err := w.Flush(); err != nil {
		return 0, err
	}
	w.mu.Lock()
	w.entriesSinceCkpt = 0
	w.mu.Unlock()
	return off, nil
}

// Truncate discards the WAL file's contents. Callers must only call this
// after the state a checkpoint covers has been durably persisted elsewhere
// (the record store's flushed pages), per §4.4.
func (w *Wal) Truncate() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.file.Truncate(0); err != nil {
		return nxerrors.Wrap(nxerrors.IOError, "truncate wal", err)
	}
	if _, err := w.file.Seek(0, io.SeekStart); err != nil {
		return nxerrors.Wrap(nxerrors.IOError, "seek wal", err)
	}
	w.offset = 0
	w.entriesSinceCkpt = 0
	return nil
}

// Close syncs and closes the underlying file.
func (w *Wal) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.file.Sync(); err != nil {
		w.file.Close()
		return nxerrors.Wrap(nxerrors.IOError, "sync wal on close", err)
	}
	if err := w.file.Close(); err != nil {
		return nxerrors.Wrap(nxerrors.IOError, "close wal", err)
	}
	return nil
}

// RecoveredEntry pairs a recovered WalEntry with the file offset its frame
// started at, for diagnostics (e.g. the wal inspect CLI command).
type RecoveredEntry struct {
	Offset int64
	Entry  types.WalEntry
}

// Recover scans the WAL file from offset 0 and returns every well-formed
// frame in order. An unexpected EOF mid-frame (a torn final frame from a
// crash between write and fsync) is tolerated and simply ends the scan at
// the last complete frame; a CRC mismatch on an otherwise complete frame is
// NOT tolerated and aborts recovery with WalCorrupt naming the offset.
func Recover(path string) ([]RecoveredEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, nxerrors.Wrap(nxerrors.IOError, "open wal for recovery", err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	var out []RecoveredEntry
	var offset int64

	for {
		header := make([]byte, frameHeaderSize)
		if _, err := io.ReadFull(r, header); err != nil {
			// Clean EOF (no more frames) or a torn header from a crash
			// mid-write: either way, the scan stops at the last complete frame.
			break
		}

		kind := header[0]
		payloadLen := binary.LittleEndian.Uint32(header[1:5])

		body := make([]byte, int(payloadLen)+frameTrailerSize)
		if _, err := io.ReadFull(r, body); err != nil {
			// Torn tail: incomplete payload/crc, discard and stop.
			break
		}

		payload := body[:payloadLen]
		wantCRC := binary.LittleEndian.Uint32(body[payloadLen:])
		full := append(append([]byte{}, header...), payload...)
		gotCRC := crc32.ChecksumIEEE(full)
		if gotCRC != wantCRC {
			return out, nxerrors.Newf(nxerrors.WalCorrupt, "crc mismatch at offset %d", offset).WithOffset(offset)
		}

		entry, err := types.DecodeWalEntry(payload)
		if err != nil {
			return out, nxerrors.Wrap(nxerrors.WalCorrupt, "decode wal entry", err).WithOffset(offset)
		}
		if entry.Kind != types.WalEntryKind(kind) {
			return out, nxerrors.Newf(nxerrors.WalCorrupt, "frame/type kind mismatch at offset %d", offset).WithOffset(offset)
		}

		out = append(out, RecoveredEntry{Offset: offset, Entry: entry})
		offset += int64(frameHeaderSize + int(payloadLen) + frameTrailerSize)
	}

	return out, nil
}
