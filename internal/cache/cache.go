// Package cache provides caching for loaded transport maps and computed
// lineage results.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/allegro/bigcache/v3"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/celltrace/server/internal/lineage"
)

// Config contains cache configuration.
type Config struct {
	MapCacheSize      int // number of loaded transport maps kept in memory
	ResultCacheSizeMB int
	ResultTTL         time.Duration
}

// ChainCache caches loaded transport maps keyed by chain index, wrapping a
// loader. It implements lineage.MapSource. The cache belongs to the caller,
// not the engine, and entries are never invalidated within a run; callers
// needing fresh data create a new ChainCache.
type ChainCache struct {
	cache *lru.Cache[int, *lineage.TransportMap]
	load  func(index int) (*lineage.TransportMap, error)
}

// NewChainCache creates a transport map cache over the given loader.
func NewChainCache(size int, load func(index int) (*lineage.TransportMap, error)) (*ChainCache, error) {
	if size <= 0 {
		size = 16
	}
	c, err := lru.New[int, *lineage.TransportMap](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create map cache: %w", err)
	}
	return &ChainCache{cache: c, load: load}, nil
}

// Map returns the transport map for a chain index, loading it on first use.
func (c *ChainCache) Map(index int) (*lineage.TransportMap, error) {
	if tm, ok := c.cache.Get(index); ok {
		return tm, nil
	}
	tm, err := c.load(index)
	if err != nil {
		return nil, err
	}
	c.cache.Add(index, tm)
	return tm, nil
}

// Len returns the number of cached transport maps.
func (c *ChainCache) Len() int {
	return c.cache.Len()
}

// ResultCache caches serialized lineage responses (JSON and rendered PNG)
// keyed by request parameters.
type ResultCache struct {
	cache *bigcache.BigCache
}

// NewResultCache creates a result cache.
func NewResultCache(cfg Config) (*ResultCache, error) {
	ttl := cfg.ResultTTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	bcConfig := bigcache.Config{
		Shards:             256,
		LifeWindow:         ttl,
		CleanWindow:        ttl / 2,
		MaxEntriesInWindow: 1000,
		MaxEntrySize:       10 * 1024 * 1024,
		HardMaxCacheSize:   cfg.ResultCacheSizeMB,
		Verbose:            false,
	}
	bc, err := bigcache.New(context.Background(), bcConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create result cache: %w", err)
	}
	return &ResultCache{cache: bc}, nil
}

// Get retrieves a cached response.
func (r *ResultCache) Get(key string) ([]byte, bool) {
	data, err := r.cache.Get(key)
	if err != nil {
		return nil, false
	}
	return data, true
}

// Set stores a response.
func (r *ResultCache) Set(key string, data []byte) error {
	return r.cache.Set(key, data)
}

// Stats returns cache statistics.
func (r *ResultCache) Stats() map[string]interface{} {
	return map[string]interface{}{
		"result_cache_len": r.cache.Len(),
		"result_cache_cap": r.cache.Capacity(),
	}
}

// Close closes the result cache.
func (r *ResultCache) Close() error {
	return r.cache.Close()
}

// ResultKey generates a cache key for a lineage response.
func ResultKey(anchor float64, replay bool, kind string) string {
	return fmt.Sprintf("lineage:%g:replay=%v:%s", anchor, replay, kind)
}
