package cache

import (
	"context"

	"github.com/hivellm/nexus/pkg/config"
	"github.com/hivellm/nexus/pkg/nxlog"
	"github.com/hivellm/nexus/pkg/types"
)

// MultiLayer bundles the object, query, and index caches into the single
// collaborator the transaction manager and executor interact with, per
// §4.3's "All three layers expose get, put, remove, clear, size,
// memory_usage, stats, and invalidate_pattern."
type MultiLayer struct {
	Objects *ObjectCache
	Queries *QueryCache
	Index   *IndexCache
}

// New constructs a MultiLayer from engine configuration.
func New(cfg config.CacheConfig) *MultiLayer {
	return &MultiLayer{
		Objects: NewObjectCache(ParsePolicy(cfg.ObjectPolicy), cfg.ObjectMaxBytes, cfg.ObjectMaxItemSize, cfg.ObjectTTL),
		Queries: NewQueryCache(cfg.QueryMaxBytes, cfg.QueryTTL, cfg.QueryMinExecTime),
		Index:   NewIndexCache(cfg.IndexMaxBytes, cfg.IndexMaxPageSize, cfg.IndexTTL),
	}
}

// InvalidateKeys drops exactly the given object keys (and any index/query
// entries whose key string matches one as a substring) from every layer, per
// §4.3's "On commit of a write transaction, the transaction's mutation set
// yields a set of invalidation keys ... the multi-layer cache drops exactly
// those."
func (m *MultiLayer) InvalidateKeys(keys []types.ObjectKey) {
	for _, k := range keys {
		m.Objects.Remove(k)
		m.Queries.InvalidatePattern(k.String())
		m.Index.InvalidatePattern(k.String())
	}
}

// InvalidateLabels drops query-cache entries whose declared label/type
// dependency intersects labelTags (e.g. "label:3"), and index-cache entries
// for the same labels.
func (m *MultiLayer) InvalidateLabels(labelTags []string) {
	for _, tag := range labelTags {
		m.Queries.InvalidatePattern(tag)
		m.Index.InvalidatePattern(tag)
	}
}

// ClearAll empties every layer.
func (m *MultiLayer) ClearAll() {
	m.Objects.Clear()
	m.Queries.Clear()
	m.Index.Clear()
}

// Loader fetches the serialized bytes for an object key from the backing
// store, used by Warm to populate the object cache at startup.
type Loader func(types.ObjectKey) ([]byte, error)

// Warm preloads a bounded batch of keys into the object cache at engine
// startup (§4.3 "Cache warming preloads a bounded batch at startup").
// Preloading is advisory: a loader failure is logged and skipped, never
// fatal, per "Preloading is advisory and failures never crash the engine."
func (m *MultiLayer) Warm(_ context.Context, keys []types.ObjectKey, load Loader) {
	logger := nxlog.WithComponent("cache.warm")
	warmed := 0
	for _, key := range keys {
		data, err := load(key)
		if err != nil {
			logger.Warn().Err(err).Str("key", key.String()).Msg("cache warm: loader failed, skipping")
			continue
		}
		if err := m.Objects.Put(key, data); err != nil {
			logger.Warn().Err(err).Str("key", key.String()).Msg("cache warm: put failed, skipping")
			continue
		}
		warmed++
	}
	logger.Info().Int("requested", len(keys)).Int("warmed", warmed).Msg("cache warm complete")
}
