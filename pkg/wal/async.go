package wal

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hivellm/nexus/pkg/nxerrors"
	"github.com/hivellm/nexus/pkg/nxlog"
	"github.com/hivellm/nexus/pkg/nxmetrics"
	"github.com/hivellm/nexus/pkg/types"
)

// commandKind distinguishes the three messages the async writer accepts.
type commandKind int

const (
	cmdAppend commandKind = iota
	cmdFlush
	cmdShutdown
)

type command struct {
	kind  commandKind
	entry types.WalEntry
	// offset receives the append's WAL offset as soon as it is written
	// (not yet fsynced), for cmdAppend only.
	offset chan int64
	// done is signaled once the write (or, for Flush/Shutdown, the fsync)
	// this command asked for has been attempted.
	done chan error
}

// AsyncConfig tunes the batching policy of the async writer.
type AsyncConfig struct {
	MaxBatchSize  int           // fsync once this many entries have been written since the last sync
	MaxBatchAge   time.Duration // fsync once the oldest unsynced entry is this old
	FlushInterval time.Duration // fsync at least this often even if idle
	QueueCapacity int           // bounded command channel capacity
	SpillDir      string        // directory for emergency spill files on final failure
}

// DefaultAsyncConfig returns conservative defaults.
func DefaultAsyncConfig() AsyncConfig {
	return AsyncConfig{
		MaxBatchSize:  128,
		MaxBatchAge:   50 * time.Millisecond,
		FlushInterval: 1 * time.Second,
		QueueCapacity: 4096,
	}
}

// AsyncStats mirrors §4.5's required statistics.
type AsyncStats struct {
	EntriesSubmitted  uint64
	EntriesWritten    uint64
	BatchesFlushed    uint64
	ForceFlushes      uint64
	TimeoutBatches    uint64
	SizeBatches       uint64
	CurrentQueueDepth int
	MaxQueueDepth     int
	WalErrors         uint64
}

// AsyncWal wraps a Wal behind a bounded command channel serviced by a
// single background goroutine, per §4.5. Every entry is written to the WAL
// file (unsynced) as soon as the writer goroutine dequeues it, so Append
// returns its offset quickly; fsync itself is what gets batched by size,
// age, or an idle flush interval. append() returning does not imply
// durability — only flush() (or a subsequent batched fsync) does.
type AsyncWal struct {
	wal  *Wal
	cfg  AsyncConfig
	cmds chan command
	wg   sync.WaitGroup

	mu    sync.Mutex
	stats AsyncStats
}

// NewAsyncWal starts the background worker for w.
func NewAsyncWal(w *Wal, cfg AsyncConfig) *AsyncWal {
	def := DefaultAsyncConfig()
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = def.MaxBatchSize
	}
	if cfg.MaxBatchAge <= 0 {
		cfg.MaxBatchAge = def.MaxBatchAge
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = def.FlushInterval
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = def.QueueCapacity
	}

	a := &AsyncWal{
		wal:  w,
		cfg:  cfg,
		cmds: make(chan command, cfg.QueueCapacity),
	}
	a.wg.Add(1)
	go a.run()
	return a
}

// Append enqueues entry for the background writer and returns its WAL
// offset as soon as the entry has been written to the file, without
// waiting for fsync — the entry is not yet durable.
func (a *AsyncWal) Append(entry types.WalEntry) (int64, error) {
	c := command{kind: cmdAppend, entry: entry, offset: make(chan int64, 1), done: make(chan error, 1)}
	a.send(c)
	if err := <-c.done; err != nil {
		return 0, err
	}
	return <-c.offset, nil
}

// Flush blocks until every entry written so far has been fsynced.
func (a *AsyncWal) Flush() error {
	c := command{kind: cmdFlush, done: make(chan error, 1)}
	a.send(c)
	return <-c.done
}

// Shutdown flushes pending entries and stops the background worker.
func (a *AsyncWal) Shutdown() error {
	c := command{kind: cmdShutdown, done: make(chan error, 1)}
	a.send(c)
	err := <-c.done
	a.wg.Wait()
	return err
}

func (a *AsyncWal) send(c command) {
	if c.kind == cmdAppend {
		a.mu.Lock()
		a.stats.EntriesSubmitted++
		a.mu.Unlock()
		nxmetrics.WalEntriesSubmitted.Inc()
	}
	a.cmds <- c
	a.mu.Lock()
	a.stats.CurrentQueueDepth = len(a.cmds)
	if a.stats.CurrentQueueDepth > a.stats.MaxQueueDepth {
		a.stats.MaxQueueDepth = a.stats.CurrentQueueDepth
	}
	a.mu.Unlock()
	nxmetrics.WalQueueDepth.Set(float64(len(a.cmds)))
}

// Stats returns a snapshot of the writer's statistics.
func (a *AsyncWal) Stats() AsyncStats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stats
}

func (a *AsyncWal) run() {
	defer a.wg.Done()

	unsynced := 0    // entries written but not yet fsynced
	oldestUnsynced := time.Time{}
	var waiters []chan error // Flush/Shutdown callers waiting on the next fsync

	ticker := time.NewTicker(a.cfg.FlushInterval)
	defer ticker.Stop()

	ageTimer := time.NewTimer(a.cfg.MaxBatchAge)
	if !ageTimer.Stop() {
		<-ageTimer.C
	}
	ageTimerArmed := false

	doSync := func(reason string) {
		if unsynced == 0 && len(waiters) == 0 {
			return
		}
		timer := nxmetrics.NewTimer()
		err := a.syncWithRetry()
		timer.ObserveDuration(nxmetrics.WalFlushDuration)

		for _, w := range waiters {
			w <- err
		}
		waiters = nil

		if err == nil && unsynced > 0 {
			a.mu.Lock()
			a.stats.BatchesFlushed++
			a.stats.EntriesWritten += uint64(unsynced)
			switch reason {
			case "size":
				a.stats.SizeBatches++
			case "age":
				a.stats.TimeoutBatches++
			case "force":
				a.stats.ForceFlushes++
			}
			a.mu.Unlock()
			nxmetrics.WalBatchesFlushed.Inc()
			nxmetrics.WalEntriesWritten.Add(float64(unsynced))
		}
		unsynced = 0
		if ageTimerArmed {
			if !ageTimer.Stop() {
				select {
				case <-ageTimer.C:
				default:
				}
			}
			ageTimerArmed = false
		}
	}

	for {
		select {
		case c := <-a.cmds:
			switch c.kind {
			case cmdAppend:
				off, err := a.writeWithRetry(c.entry)
				c.done <- err
				if err != nil {
					continue
				}
				c.offset <- off
				unsynced++
				if !ageTimerArmed {
					oldestUnsynced = time.Now()
					ageTimer.Reset(a.cfg.MaxBatchAge)
					ageTimerArmed = true
				}
				if unsynced >= a.cfg.MaxBatchSize {
					doSync("size")
				}
			case cmdFlush:
				waiters = append(waiters, c.done)
				doSync("force")
			case cmdShutdown:
				waiters = append(waiters, c.done)
				doSync("force")
				return
			}
		case <-ageTimer.C:
			ageTimerArmed = false
			_ = oldestUnsynced
			doSync("age")
		case <-ticker.C:
			doSync("force")
		}
		a.mu.Lock()
		a.stats.CurrentQueueDepth = len(a.cmds)
		a.mu.Unlock()
	}
}

// writeWithRetry writes one entry's frame, retrying on I/O error with
// exponential backoff up to 3 attempts. It does not fsync.
func (a *AsyncWal) writeWithRetry(entry types.WalEntry) (int64, error) {
	var offset int64
	operation := func() error {
		off, err := a.wal.Append(entry)
		if err != nil {
			if os.IsPermission(err) {
				if reopenErr := a.reopen(); reopenErr != nil {
					return reopenErr
				}
			}
			return err
		}
		offset = off
		return nil
	}

	bo := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 2) // 1 try + 2 retries
	err := backoff.Retry(operation, bo)
	if err != nil {
		a.mu.Lock()
		a.stats.WalErrors++
		a.mu.Unlock()
		nxmetrics.WalErrors.Inc()
		if spillErr := a.spill(entry); spillErr != nil {
			nxlog.Errorf("wal: emergency spill failed after writer error", spillErr)
			return 0, nxerrors.Wrap(nxerrors.IOError, "wal write failed and spill failed", err)
		}
		nxlog.Errorf("wal: entry write failed after retries, spilled to emergency file", err)
		return 0, nxerrors.Wrap(nxerrors.IOError, "wal write failed, spilled to emergency file", err)
	}
	return offset, nil
}

// syncWithRetry fsyncs the WAL file, retrying on I/O error up to 3 times.
func (a *AsyncWal) syncWithRetry() error {
	bo := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3)
	err := backoff.Retry(a.wal.Flush, bo)
	if err != nil {
		a.mu.Lock()
		a.stats.WalErrors++
		a.mu.Unlock()
		nxmetrics.WalErrors.Inc()
		nxlog.Errorf("wal: fsync failed after retries", err)
		return nxerrors.Wrap(nxerrors.IOError, "wal fsync failed", err)
	}
	return nil
}

// reopen closes and reopens the underlying WAL file, recovering from a
// transient permission error (e.g. a revoked ACL reapplied by an operator).
func (a *AsyncWal) reopen() error {
	path := a.wal.path
	_ = a.wal.Close()
	w, err := Open(path)
	if err != nil {
		return err
	}
	a.wal = w
	return nil
}

// spill durably persists an entry that could not be written to the primary
// WAL file after retries, so no committed data is lost even on a fatal WAL
// failure (§7).
func (a *AsyncWal) spill(entry types.WalEntry) error {
	dir := a.cfg.SpillDir
	if dir == "" {
		dir = "."
	}
	name := fmt.Sprintf("wal-spill-%d.log", time.Now().UnixNano())
	path := dir + string(os.PathSeparator) + name

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nxerrors.Wrap(nxerrors.IOError, "create wal spill file", err)
	}
	defer f.Close()

	spillWal := &Wal{path: path, file: f}
	if _, err := spillWal.Append(entry); err != nil {
		return err
	}
	return spillWal.Flush()
}
