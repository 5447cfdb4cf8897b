package cache

import (
	"time"

	"github.com/hivellm/nexus/pkg/nxmetrics"
)

// QueryCache caches serialized result sets by plan hash, per §4.3. It only
// admits a plan whose last observed execution time exceeded MinExecTime —
// "avoids polluting on trivial queries" — so Put is gated on the caller
// supplying that measurement rather than happening unconditionally.
type QueryCache struct {
	layer       *Layer
	minExecTime time.Duration
}

// NewQueryCache constructs a query result cache.
func NewQueryCache(maxBytes int64, ttl, minExecTime time.Duration) *QueryCache {
	return &QueryCache{
		layer:       NewLayer("query", PolicyTTLFirst, maxBytes, 0, ttl),
		minExecTime: minExecTime,
	}
}

// Get looks up a cached result by plan hash.
func (q *QueryCache) Get(planHash string) ([]byte, bool) {
	v, ok := q.layer.Get(planHash)
	observe("query", ok)
	return v, ok
}

// PutIfSlow caches result under planHash only if execTime exceeds the
// configured MinExecTime threshold; a fast plan's result is never cached.
func (q *QueryCache) PutIfSlow(planHash string, result []byte, execTime time.Duration) (bool, error) {
	if execTime <= q.minExecTime {
		return false, nil
	}
	if err := q.layer.Put(planHash, result); err != nil {
		return false, err
	}
	nxmetrics.CacheMemoryUsage.WithLabelValues("query").Set(float64(q.layer.MemoryUsage()))
	return true, nil
}

func (q *QueryCache) Remove(planHash string) { q.layer.Remove(planHash) }
func (q *QueryCache) Clear()                 { q.layer.Clear() }
func (q *QueryCache) Size() int              { return q.layer.Size() }
func (q *QueryCache) MemoryUsage() int64     { return q.layer.MemoryUsage() }
func (q *QueryCache) Stats() Stats           { return q.layer.Stats() }

// InvalidatePattern drops cached plans whose dependency substring (a label
// or type name baked into the key by the caller) matches substr — "Query
// result cache is invalidated by label/type intersection with the plan's
// declared dependencies."
func (q *QueryCache) InvalidatePattern(substr string) int {
	n := q.layer.InvalidatePattern(substr)
	nxmetrics.CacheEvictions.WithLabelValues("query").Add(float64(n))
	return n
}
