/*
Package wal implements §4.4's write-ahead log and §4.5's async batching
writer.

Frame format:

	[type:1][payload_len:4 LE][payload][crc32:4 LE]

crc32 covers type+payload_len+payload (IEEE polynomial, hash/crc32). payload
is EncodeWalEntry's own schema-versioned encoding (pkg/types), so the entry
body carries its own forward-compatibility tag independent of the frame.

	Append/Flush/Shutdown ──▶ chan command ──▶ single writer goroutine
	                                              │
	                          Append: Wal.Append at once, retried with
	                          backoff; success replies the offset, exhausted
	                          retries spill that one entry to a
	                          wal-spill-*.log file and reply the error
	                                              │
	                          Wal.Flush (fsync) batched by size, age or
	                          FlushInterval; its result goes to waiting
	                          Flush/Shutdown callers (nothing is spilled)

Recovery (Recover) tolerates a torn final frame (a crash between write and
fsync truncates the last frame) but treats any CRC mismatch on an otherwise
complete frame as fatal corruption.
*/
package wal
