// Package snapshot implements §4.11's full-state snapshot service: a
// manifest-ordered walk of the data directory, concatenated and compressed
// as a single blob, checksummed, and restorable by atomic file replacement.
// Compression uses github.com/klauspost/compress/zstd (the corpus's choice
// for level-configurable whole-blob compression, grounded on erigon's use
// of it for snapshot segments); atomic replace-on-restore uses
// github.com/natefinch/atomic, the write-to-temp-then-rename helper already
// a direct dependency via calvinalkan-agent-task.
package snapshot
