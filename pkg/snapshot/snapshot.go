package snapshot

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	natomic "github.com/natefinch/atomic"
	"github.com/google/uuid"
	"github.com/hivellm/nexus/pkg/nxerrors"
	"github.com/hivellm/nexus/pkg/types"
	"github.com/klauspost/compress/zstd"
)

// Level is a coarse, corpus-matching compression level selector, mapped
// onto zstd's predefined encoder speed/ratio presets.
type Level int

const (
	LevelFastest Level = iota
	LevelDefault
	LevelBetterCompression
	LevelBestCompression
)

func (l Level) encoderLevel() zstd.EncoderLevel {
	switch l {
	case LevelFastest:
		return zstd.SpeedFastest
	case LevelBetterCompression:
		return zstd.SpeedBetterCompression
	case LevelBestCompression:
		return zstd.SpeedBestCompression
	default:
		return zstd.SpeedDefault
	}
}

// Service captures and restores the full contents of a data directory,
// treating every file under it (including pkg/catalog's catalog.db, per
// §6's "catalog/* treated as opaque files by the snapshot service") as an
// opaque blob in the manifest.
type Service struct {
	dataDir string
	maxSize int64
	level   Level

	mu          sync.Mutex
	inProgress  bool
}

// NewService constructs a Service rooted at dataDir. maxSize of 0 disables
// the size bound.
func NewService(dataDir string, maxSize int64, level Level) *Service {
	return &Service{dataDir: dataDir, maxSize: maxSize, level: level}
}

// Create walks dataDir, builds an ordered manifest, concatenates file
// contents, compresses the result as a whole, and returns the compressed
// blob alongside its metadata. Only one Create may run at a time per
// service instance (invariant 7: "At most one full-state snapshot is in
// progress per node").
func (s *Service) Create(walOffset, epoch uint64) ([]byte, types.SnapshotMeta, error) {
	s.mu.Lock()
	if s.inProgress {
		s.mu.Unlock()
		return nil, types.SnapshotMeta{}, nxerrors.New(nxerrors.SnapshotInProgress, "a snapshot is already in progress")
	}
	s.inProgress = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.inProgress = false
		s.mu.Unlock()
	}()

	files, err := s.manifest()
	if err != nil {
		return nil, types.SnapshotMeta{}, err
	}

	raw, err := s.concatenate(files)
	if err != nil {
		return nil, types.SnapshotMeta{}, err
	}

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(s.level.encoderLevel()))
	if err != nil {
		return nil, types.SnapshotMeta{}, nxerrors.Wrap(nxerrors.IOError, "create zstd encoder", err)
	}
	compressed := enc.EncodeAll(raw, nil)
	_ = enc.Close()

	if s.maxSize > 0 && int64(len(compressed)) > s.maxSize {
		return nil, types.SnapshotMeta{}, nxerrors.Newf(nxerrors.InvalidInput,
			"snapshot size %d exceeds max_size %d", len(compressed), s.maxSize)
	}

	meta := types.SnapshotMeta{
		SnapshotID: uuid.NewString(),
		TotalSize:  uint64(len(compressed)),
		ChunkCount: uint32(ChunkCount(len(compressed), ChunkSize)),
		Checksum:   crc32.ChecksumIEEE(compressed),
		WalOffset:  walOffset,
		Epoch:      epoch,
		Files:      files,
	}
	return compressed, meta, nil
}

// Restore decompresses data, validates it against meta.Checksum, and
// replaces every file meta.Files names under dataDir, writing to a
// temporary path and renaming into place so a crash mid-restore never
// leaves a half-written file visible.
func (s *Service) Restore(data []byte, meta types.SnapshotMeta) error {
	if crc32.ChecksumIEEE(data) != meta.Checksum {
		return nxerrors.New(nxerrors.Checksum, "snapshot checksum mismatch")
	}

	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nxerrors.Wrap(nxerrors.IOError, "create zstd decoder", err)
	}
	defer dec.Close()
	raw, err := dec.DecodeAll(data, nil)
	if err != nil {
		return nxerrors.Wrap(nxerrors.IOError, "decompress snapshot", err)
	}

	return s.scatter(raw, meta.Files)
}

// manifest returns every regular file under dataDir, relative to dataDir,
// in a stable (lexicographic) order, so Create's output is deterministic
// for a quiescent store (invariant "restore(create()) ... byte-identical").
func (s *Service) manifest() ([]string, error) {
	var files []string
	err := filepath.WalkDir(s.dataDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, rerr := filepath.Rel(s.dataDir, path)
		if rerr != nil {
			return rerr
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, nxerrors.Wrap(nxerrors.IOError, "walk data dir", err)
	}
	sort.Strings(files)
	return files, nil
}

// concatenate reads each manifest file and frames it as
// [path_len:4][path][file_len:8][bytes], in manifest order.
func (s *Service) concatenate(files []string) ([]byte, error) {
	var buf bytes.Buffer
	for _, rel := range files {
		data, err := os.ReadFile(filepath.Join(s.dataDir, rel))
		if err != nil {
			return nil, nxerrors.Wrap(nxerrors.IOError, "read "+rel, err)
		}
		writeFramed(&buf, rel, data)
	}
	return buf.Bytes(), nil
}

func writeFramed(buf *bytes.Buffer, rel string, data []byte) {
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(rel)))
	buf.Write(lenBuf[:])
	buf.WriteString(rel)
	var sizeBuf [8]byte
	binary.LittleEndian.PutUint64(sizeBuf[:], uint64(len(data)))
	buf.Write(sizeBuf[:])
	buf.Write(data)
}

// scatter is the inverse of concatenate: it parses the framed manifest
// blob and atomically writes each file under dataDir. expectedFiles is
// used only to sanity-check the manifest matches what the primary
// described; scatter trusts the blob's own framing for boundaries.
func (s *Service) scatter(raw []byte, expectedFiles []string) error {
	r := bytes.NewReader(raw)
	seen := make(map[string]bool, len(expectedFiles))

	for r.Len() > 0 {
		var lenBuf [4]byte
		if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
			return nxerrors.Wrap(nxerrors.IOError, "read manifest path length", err)
		}
		pathLen := binary.LittleEndian.Uint32(lenBuf[:])
		pathBuf := make([]byte, pathLen)
		if _, err := io.ReadFull(r, pathBuf); err != nil {
			return nxerrors.Wrap(nxerrors.IOError, "read manifest path", err)
		}
		rel := string(pathBuf)

		var sizeBuf [8]byte
		if _, err := io.ReadFull(r, sizeBuf[:]); err != nil {
			return nxerrors.Wrap(nxerrors.IOError, "read manifest file size", err)
		}
		size := binary.LittleEndian.Uint64(sizeBuf[:])
		data := make([]byte, size)
		if _, err := io.ReadFull(r, data); err != nil {
			return nxerrors.Wrap(nxerrors.IOError, "read manifest file data", err)
		}

		dest := filepath.Join(s.dataDir, rel)
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return nxerrors.Wrap(nxerrors.IOError, "create restore dir", err)
		}
		if err := natomic.WriteFile(dest, bytes.NewReader(data)); err != nil {
			return nxerrors.Wrap(nxerrors.IOError, "atomic write "+rel, err)
		}
		seen[rel] = true
	}

	for _, rel := range expectedFiles {
		if !seen[rel] {
			return nxerrors.Newf(nxerrors.InvalidInput, "snapshot manifest missing file %s", rel)
		}
	}
	return nil
}

// ChunkSize bounds a single wire-level SnapshotChunk message.
const ChunkSize = 1 << 20 // 1 MiB

// ChunkCount returns how many ChunkSize-sized pieces total bytes splits
// into (at least 1, even for an empty snapshot, so SnapshotComplete always
// follows at least one chunk).
func ChunkCount(total, chunkSize int) int {
	if total == 0 {
		return 1
	}
	n := total / chunkSize
	if total%chunkSize != 0 {
		n++
	}
	return n
}

// Chunks splits data into ChunkSize-sized pieces for streaming as ordered
// SnapshotChunk messages.
func Chunks(data []byte) [][]byte {
	n := ChunkCount(len(data), ChunkSize)
	out := make([][]byte, 0, n)
	for i := 0; i < n; i++ {
		start := i * ChunkSize
		end := start + ChunkSize
		if end > len(data) {
			end = len(data)
		}
		out = append(out, data[start:end])
	}
	return out
}
