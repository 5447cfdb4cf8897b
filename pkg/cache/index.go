package cache

import (
	"time"

	"github.com/hivellm/nexus/pkg/nxmetrics"
	"github.com/hivellm/nexus/pkg/types"
)

// IndexCache caches serialized index pages keyed by types.IndexKey, per
// §4.3: "LRU; TTL; max page size."
type IndexCache struct {
	layer *Layer
}

// NewIndexCache constructs an index page cache.
func NewIndexCache(maxBytes, maxPageSize int64, ttl time.Duration) *IndexCache {
	return &IndexCache{layer: NewLayer("index", PolicyLRU, maxBytes, maxPageSize, ttl)}
}

func (x *IndexCache) Get(key types.IndexKey) ([]byte, bool) {
	v, ok := x.layer.Get(key.String())
	observe("index", ok)
	return v, ok
}

func (x *IndexCache) Put(key types.IndexKey, value []byte) error {
	err := x.layer.Put(key.String(), value)
	if err == nil {
		nxmetrics.CacheMemoryUsage.WithLabelValues("index").Set(float64(x.layer.MemoryUsage()))
	}
	return err
}

func (x *IndexCache) Remove(key types.IndexKey) { x.layer.Remove(key.String()) }
func (x *IndexCache) Clear()                    { x.layer.Clear() }
func (x *IndexCache) Size() int                 { return x.layer.Size() }
func (x *IndexCache) MemoryUsage() int64        { return x.layer.MemoryUsage() }
func (x *IndexCache) Stats() Stats              { return x.layer.Stats() }
func (x *IndexCache) InvalidatePattern(substr string) int {
	n := x.layer.InvalidatePattern(substr)
	nxmetrics.CacheEvictions.WithLabelValues("index").Add(float64(n))
	return n
}
