// Package cache keeps recently used tile payloads in memory.
package cache

import (
	"container/list"
	"sync"

	"github.com/pspoerri/tilemesh/internal/coord"
	"github.com/pspoerri/tilemesh/internal/metrics"
)

// Options bounds the cache. A zero field means that bound is not enforced.
type Options struct {
	MaxTiles int
	MaxBytes int64
}

// TileCache is an LRU cache of tile payloads keyed by normalized tile
// coordinate. It is safe for concurrent use.
type TileCache struct {
	mu      sync.Mutex
	opts    Options
	entries map[coord.TileCoordinate]*list.Element
	order   *list.List // front = most recently used
	size    int64
}

type cacheEntry struct {
	key     coord.TileCoordinate
	payload []byte
}

// New creates an empty cache.
func New(opts Options) *TileCache {
	return &TileCache{
		opts:    opts,
		entries: make(map[coord.TileCoordinate]*list.Element),
		order:   list.New(),
	}
}

// Get returns the payload for key and marks it as most recently used.
func (c *TileCache) Get(key coord.TileCoordinate) ([]byte, bool) {
	key = key.Normalize()
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		metrics.CacheMisses.Inc()
		return nil, false
	}
	metrics.CacheHits.Inc()
	c.order.MoveToFront(el)
	return el.Value.(*cacheEntry).payload, true
}

// Put stores payload under key, replacing any previous value, and evicts
// least recently used entries until both bounds hold. A payload larger
// than MaxBytes is not stored.
func (c *TileCache) Put(key coord.TileCoordinate, payload []byte) {
	key = key.Normalize()
	n := int64(len(payload))
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		c.remove(el)
	}
	if c.opts.MaxBytes > 0 && n > c.opts.MaxBytes {
		return
	}

	for c.order.Len() > 0 && c.overLimit(1, n) {
		c.remove(c.order.Back())
		metrics.CacheEvictions.Inc()
	}

	c.entries[key] = c.order.PushFront(&cacheEntry{key: key, payload: payload})
	c.size += n
}

// overLimit reports whether adding extra entries of extraBytes would break
// a bound.
func (c *TileCache) overLimit(extra int, extraBytes int64) bool {
	if c.opts.MaxTiles > 0 && c.order.Len()+extra > c.opts.MaxTiles {
		return true
	}
	return c.opts.MaxBytes > 0 && c.size+extraBytes > c.opts.MaxBytes
}

func (c *TileCache) remove(el *list.Element) {
	e := c.order.Remove(el).(*cacheEntry)
	delete(c.entries, e.key)
	c.size -= int64(len(e.payload))
}

// Clear drops every entry.
func (c *TileCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[coord.TileCoordinate]*list.Element)
	c.order.Init()
	c.size = 0
}

// Len returns the number of cached tiles.
func (c *TileCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Size returns the total payload bytes held.
func (c *TileCache) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}
