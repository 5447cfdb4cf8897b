package recordstore

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/hivellm/nexus/pkg/nxerrors"
	"github.com/hivellm/nexus/pkg/pagecache"
)

// pagedFile is a paged on-disk file backing a page cache: every PageSize
// bytes is one page, page 0 starting at file offset 0. A small sidecar file
// holds the monotonically increasing id allocation counter, persisted
// alongside the store per §4.1.
type pagedFile struct {
	path    string
	file    *os.File
	mu      sync.Mutex
	nextID  atomic.Uint64
	counter *os.File
}

func openPagedFile(dir, name string) (*pagedFile, error) {
	path := filepath.Join(dir, name)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, nxerrors.Wrap(nxerrors.IOError, "open "+name, err)
	}

	counterPath := path + ".counter"
	cf, err := os.OpenFile(counterPath, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		f.Close()
		return nil, nxerrors.Wrap(nxerrors.IOError, "open "+name+".counter", err)
	}

	pf := &pagedFile{path: path, file: f, counter: cf}

	var buf [8]byte
	if n, _ := cf.ReadAt(buf[:], 0); n == 8 {
		pf.nextID.Store(binary.LittleEndian.Uint64(buf[:]))
	}
	return pf, nil
}

// allocateID returns the next id and durably persists the new counter value.
func (pf *pagedFile) allocateID() (uint64, error) {
	pf.mu.Lock()
	defer pf.mu.Unlock()

	id := pf.nextID.Load()
	pf.nextID.Add(1)

	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], pf.nextID.Load())
	if _, err := pf.counter.WriteAt(buf[:], 0); err != nil {
		return 0, nxerrors.Wrap(nxerrors.IOError, "persist id counter", err)
	}
	if err := pf.counter.Sync(); err != nil {
		return 0, nxerrors.Wrap(nxerrors.IOError, "sync id counter", err)
	}
	return id, nil
}

func (pf *pagedFile) loadPage(id uint64) (*pagecache.Page, error) {
	p := pagecache.NewPage(id)
	off := int64(id) * pagecache.PageSize
	n, err := pf.file.ReadAt(p.Data, off)
	if err != nil && n == 0 {
		// Unallocated page: return a zeroed page; callers detect
		// "not found" at the record layer by checking the slot index
		// against the allocation counter, not by I/O error here.
		return p, nil
	}
	return p, nil
}

func (pf *pagedFile) flushPage(p *pagecache.Page) error {
	off := int64(p.ID) * pagecache.PageSize
	if _, err := pf.file.WriteAt(p.Data, off); err != nil {
		return nxerrors.Wrap(nxerrors.IOError, "write page", err)
	}
	return pf.file.Sync()
}

func (pf *pagedFile) close() error {
	err1 := pf.file.Close()
	err2 := pf.counter.Close()
	if err1 != nil {
		return err1
	}
	return err2
}
