package cache

import (
	"time"

	"github.com/hivellm/nexus/pkg/nxmetrics"
	"github.com/hivellm/nexus/pkg/types"
)

// ObjectCache holds materialized nodes, relationships, and property maps
// keyed by types.ObjectKey, per §4.3.
type ObjectCache struct {
	layer *Layer
}

// NewObjectCache constructs an object cache. policy selects the eviction
// strategy used once maxBytes is exceeded.
func NewObjectCache(policy Policy, maxBytes, maxItemSize int64, ttl time.Duration) *ObjectCache {
	return &ObjectCache{layer: NewLayer("object", policy, maxBytes, maxItemSize, ttl)}
}

func (o *ObjectCache) Get(key types.ObjectKey) ([]byte, bool) {
	v, ok := o.layer.Get(key.String())
	observe("object", ok)
	return v, ok
}

func (o *ObjectCache) Put(key types.ObjectKey, value []byte) error {
	err := o.layer.Put(key.String(), value)
	if err == nil {
		nxmetrics.CacheMemoryUsage.WithLabelValues("object").Set(float64(o.layer.MemoryUsage()))
	}
	return err
}

func (o *ObjectCache) Remove(key types.ObjectKey) { o.layer.Remove(key.String()) }
func (o *ObjectCache) Clear()                     { o.layer.Clear() }
func (o *ObjectCache) Size() int                  { return o.layer.Size() }
func (o *ObjectCache) MemoryUsage() int64         { return o.layer.MemoryUsage() }
func (o *ObjectCache) Stats() Stats               { return o.layer.Stats() }
func (o *ObjectCache) InvalidatePattern(substr string) int {
	n := o.layer.InvalidatePattern(substr)
	nxmetrics.CacheEvictions.WithLabelValues("object").Add(float64(n))
	return n
}

func observe(layer string, hit bool) {
	if hit {
		nxmetrics.CacheHits.WithLabelValues(layer).Inc()
	} else {
		nxmetrics.CacheMisses.WithLabelValues(layer).Inc()
	}
}
