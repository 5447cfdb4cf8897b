package pagecache

import (
	"sync"

	"github.com/hivellm/nexus/pkg/nxerrors"
	"github.com/hivellm/nexus/pkg/nxmetrics"
)

// Loader fetches a page's bytes from the backing store on a cache miss.
type Loader func(pageID uint64) (*Page, error)

// Flusher persists a dirty page's bytes to the backing store. The page's
// checksum has already been updated by the time Flusher is called.
type Flusher func(page *Page) error

// Stats reports page cache effectiveness.
type Stats struct {
	Hits      uint64
	Misses    uint64
	Evictions uint64
	Resident  int
}

// Cache is a fixed-capacity page cache with Clock (second-chance) eviction.
// The whole cache (map + clock state) sits behind a single writer-priority
// mutex per §5: correctness requires eviction to observe pin counts
// atomically with the rest of the bookkeeping, and a single mutex is the
// simplest structure that guarantees that.
type Cache struct {
	mu       sync.Mutex
	capacity int
	pages    map[uint64]*Page
	order    []uint64 // clock ring, insertion order of resident page ids
	hand     int
	loader   Loader
	flusher  Flusher
	stats    Stats
}

// NewCache creates a page cache with the given capacity (number of 8 KiB
// pages), backed by loader for misses and flusher for dirty writes.
func NewCache(capacity int, loader Loader, flusher Flusher) *Cache {
	return &Cache{
		capacity: capacity,
		pages:    make(map[uint64]*Page, capacity),
		loader:   loader,
		flusher:  flusher,
	}
}

// GetPage returns the page for id, loading it from the backing store on a
// miss. The returned page is not pinned; callers that need eviction safety
// across further work must call PinPage explicitly.
func (c *Cache) GetPage(id uint64) (*Page, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if p, ok := c.pages[id]; ok {
		p.SetReferenceBit()
		c.stats.Hits++
		nxmetrics.PageCacheHits.Inc()
		return p, nil
	}

	c.stats.Misses++
	nxmetrics.PageCacheMisses.Inc()

	if len(c.pages) >= c.capacity {
		if err := c.evictLocked(); err != nil {
			return nil, err
		}
	}

	p, err := c.loader(id)
	if err != nil {
		return nil, err
	}
	c.pages[id] = p
	c.order = append(c.order, id)
	return p, nil
}

// PinPage increments the pin count of a resident page.
func (c *Cache) PinPage(id uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.pages[id]
	if !ok {
		return nxerrors.Newf(nxerrors.NotFound, "page %d not resident", id)
	}
	p.Pin()
	return nil
}

// UnpinPage decrements the pin count of a resident page.
func (c *Cache) UnpinPage(id uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.pages[id]
	if !ok {
		return nxerrors.Newf(nxerrors.NotFound, "page %d not resident", id)
	}
	p.Unpin()
	return nil
}

// MarkDirty flags a resident page as modified.
func (c *Cache) MarkDirty(id uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.pages[id]
	if !ok {
		return nxerrors.Newf(nxerrors.NotFound, "page %d not resident", id)
	}
	p.MarkDirty()
	return nil
}

// ContainsPage reports whether id is currently resident.
func (c *Cache) ContainsPage(id uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.pages[id]
	return ok
}

// Flush walks every resident dirty page, flushes it, and clears its dirty
// flag.
func (c *Cache) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, id := range c.order {
		p := c.pages[id]
		if p == nil || !p.IsDirty() {
			continue
		}
		if err := c.flushLocked(p); err != nil {
			return err
		}
	}
	return nil
}

// FlushPage flushes a single resident page if dirty.
func (c *Cache) FlushPage(id uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.pages[id]
	if !ok {
		return nxerrors.Newf(nxerrors.NotFound, "page %d not resident", id)
	}
	if !p.IsDirty() {
		return nil
	}
	return c.flushLocked(p)
}

func (c *Cache) flushLocked(p *Page) error {
	p.UpdateChecksum()
	if err := c.flusher(p); err != nil {
		return nxerrors.Wrap(nxerrors.IOError, "flush page", err)
	}
	p.ClearDirty()
	return nil
}

// Clear evicts every unpinned page (pinned pages are left resident).
func (c *Cache) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	kept := c.order[:0]
	for _, id := range c.order {
		p := c.pages[id]
		if p.IsPinned() {
			kept = append(kept, id)
			continue
		}
		if p.IsDirty() {
			if err := c.flushLocked(p); err != nil {
				return err
			}
		}
		delete(c.pages, id)
		c.stats.Evictions++
	}
	c.order = kept
	c.hand = 0
	return nil
}

// Stats returns a snapshot of cache statistics.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Resident = len(c.pages)
	return s
}

// evictLocked runs the Clock sweep to make room for one new page. Caller
// must hold c.mu.
func (c *Cache) evictLocked() error {
	if len(c.order) == 0 {
		return nxerrors.New(nxerrors.AllPinned, "page cache is empty but over capacity")
	}

	// At most two full sweeps: the first clears reference bits and gives
	// every page a second chance, the second evicts the first unreferenced,
	// unpinned page it finds. If nothing qualifies after two sweeps, every
	// page is pinned.
	maxSteps := 2 * len(c.order)
	for step := 0; step < maxSteps; step++ {
		idx := c.hand % len(c.order)
		id := c.order[idx]
		c.hand = (idx + 1) % len(c.order)

		p := c.pages[id]
		if p == nil {
			continue
		}
		if p.IsPinned() {
			continue
		}
		if p.ClearReferenceBit() {
			// Had the reference bit set: give it a second chance.
			continue
		}

		// Victim found.
		if p.IsDirty() {
			if err := c.flushLocked(p); err != nil {
				return err
			}
		}
		delete(c.pages, id)
		c.order = append(c.order[:idx], c.order[idx+1:]...)
		if c.hand > idx {
			c.hand--
		}
		c.stats.Evictions++
		nxmetrics.PageCacheEvictions.Inc()
		return nil
	}

	return nxerrors.New(nxerrors.AllPinned, "no evictable page: all pages pinned")
}
