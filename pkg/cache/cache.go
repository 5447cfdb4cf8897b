package cache

import (
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/hivellm/nexus/pkg/nxerrors"
)

// Policy is the closed set of eviction strategies a Layer can run.
type Policy uint8

const (
	PolicyLRU Policy = iota
	PolicyLFU
	PolicyFIFO
	PolicyRandom
	PolicyTTLFirst
)

// ParsePolicy maps a config string onto a Policy, defaulting to LRU for an
// unrecognized value rather than failing startup over a cache tuning typo.
func ParsePolicy(s string) Policy {
	switch strings.ToLower(s) {
	case "lfu":
		return PolicyLFU
	case "fifo":
		return PolicyFIFO
	case "random":
		return PolicyRandom
	case "ttl", "ttl_first", "ttl-first":
		return PolicyTTLFirst
	default:
		return PolicyLRU
	}
}

// Stats reports a layer's effectiveness, per §4.3 "Records hits/misses/
// evictions/inserts."
type Stats struct {
	Hits      uint64
	Misses    uint64
	Evictions uint64
	Inserts   uint64
	Rejected  uint64 // entries rejected for exceeding MaxItemSize
	Items     int
	Bytes     int64
}

type entry struct {
	key        string
	value      []byte
	size       int64
	insertedAt time.Time
	lastAccess time.Time
	expiresAt  time.Time // zero means no TTL
	freq       uint64
}

func (e *entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// Layer is a single memory-bounded, TTL-aware cache layer. Object, query,
// and index caches are each a Layer configured with the policy, TTL, and
// size bounds appropriate to what they hold.
type Layer struct {
	name        string
	maxBytes    int64
	maxItemSize int64 // 0 means unbounded
	ttl         time.Duration
	policy      Policy

	mu    sync.Mutex
	items map[string]*entry
	bytes int64
	stats Stats
}

// NewLayer constructs an empty Layer. maxItemSize of 0 disables the
// per-entry size cap.
func NewLayer(name string, policy Policy, maxBytes, maxItemSize int64, ttl time.Duration) *Layer {
	return &Layer{
		name:        name,
		maxBytes:    maxBytes,
		maxItemSize: maxItemSize,
		ttl:         ttl,
		policy:      policy,
		items:       make(map[string]*entry),
	}
}

// Get returns the cached bytes for key, or ok=false on a miss (including an
// expired entry, which is evicted in the process).
func (l *Layer) Get(key string) ([]byte, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.items[key]
	if !ok {
		l.stats.Misses++
		return nil, false
	}
	now := time.Now()
	if e.expired(now) {
		l.removeLocked(key)
		l.stats.Misses++
		return nil, false
	}
	e.lastAccess = now
	e.freq++
	l.stats.Hits++
	return e.value, true
}

// Put inserts or replaces key's value. An item larger than MaxItemSize is
// rejected rather than silently truncated, per §4.3 "rejects entries above
// max_object_size."
func (l *Layer) Put(key string, value []byte) error {
	return l.put(key, value, l.ttl)
}

// PutWithTTL inserts key with an override TTL (0 disables expiry for this
// entry), used by the query cache whose per-plan retention can differ from
// the layer default.
func (l *Layer) PutWithTTL(key string, value []byte, ttl time.Duration) error {
	return l.put(key, value, ttl)
}

func (l *Layer) put(key string, value []byte, ttl time.Duration) error {
	size := int64(len(value))
	if l.maxItemSize > 0 && size > l.maxItemSize {
		l.mu.Lock()
		l.stats.Rejected++
		l.mu.Unlock()
		return nxerrors.Newf(nxerrors.InvalidInput, "%s: entry %d bytes exceeds max item size %d", l.name, size, l.maxItemSize)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if old, ok := l.items[key]; ok {
		l.bytes -= old.size
		delete(l.items, key)
	}

	for l.maxBytes > 0 && l.bytes+size > l.maxBytes && len(l.items) > 0 {
		if !l.evictOneLocked() {
			break
		}
	}

	e := &entry{key: key, value: value, size: size, insertedAt: now, lastAccess: now}
	if ttl > 0 {
		e.expiresAt = now.Add(ttl)
	}
	l.items[key] = e
	l.bytes += size
	l.stats.Inserts++
	return nil
}

// Remove drops key if present.
func (l *Layer) Remove(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.removeLocked(key)
}

func (l *Layer) removeLocked(key string) {
	if e, ok := l.items[key]; ok {
		l.bytes -= e.size
		delete(l.items, key)
	}
}

// Clear empties the layer.
func (l *Layer) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.items = make(map[string]*entry)
	l.bytes = 0
}

// Size returns the number of resident entries.
func (l *Layer) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.items)
}

// MemoryUsage returns the total bytes currently held.
func (l *Layer) MemoryUsage() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.bytes
}

// Stats returns a snapshot of the layer's counters.
func (l *Layer) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	s := l.stats
	s.Items = len(l.items)
	s.Bytes = l.bytes
	return s
}

// InvalidatePattern drops every entry whose key contains substring, for
// targeted invalidation after a bulk write (§4.3). Returns the number of
// entries removed.
func (l *Layer) InvalidatePattern(substring string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for k := range l.items {
		if strings.Contains(k, substring) {
			l.removeLocked(k)
			n++
		}
	}
	return n
}

// evictOneLocked removes a single entry per the layer's configured policy.
// Caller must hold l.mu. Returns false if the layer is empty.
func (l *Layer) evictOneLocked() bool {
	if len(l.items) == 0 {
		return false
	}

	var victim string
	switch l.policy {
	case PolicyLFU:
		var lowest uint64
		first := true
		for k, e := range l.items {
			if first || e.freq < lowest {
				victim, lowest, first = k, e.freq, false
			}
		}
	case PolicyFIFO:
		var oldest time.Time
		first := true
		for k, e := range l.items {
			if first || e.insertedAt.Before(oldest) {
				victim, oldest, first = k, e.insertedAt, false
			}
		}
	case PolicyRandom:
		idx := rand.Intn(len(l.items))
		i := 0
		for k := range l.items {
			if i == idx {
				victim = k
				break
			}
			i++
		}
	case PolicyTTLFirst:
		var soonest time.Time
		found := false
		for k, e := range l.items {
			if e.expiresAt.IsZero() {
				continue
			}
			if !found || e.expiresAt.Before(soonest) {
				victim, soonest, found = k, e.expiresAt, true
			}
		}
		if !found {
			// Nothing carries a TTL: fall back to LRU.
			return l.evictLRULocked()
		}
	default: // PolicyLRU
		return l.evictLRULocked()
	}

	l.removeLocked(victim)
	l.stats.Evictions++
	return true
}

func (l *Layer) evictLRULocked() bool {
	var victim string
	var oldest time.Time
	first := true
	for k, e := range l.items {
		if first || e.lastAccess.Before(oldest) {
			victim, oldest, first = k, e.lastAccess, false
		}
	}
	if first {
		return false
	}
	l.removeLocked(victim)
	l.stats.Evictions++
	return true
}
