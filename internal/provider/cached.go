package provider

import (
	"context"
	"time"

	"github.com/karlseguin/ccache/v3"
	"golang.org/x/sync/singleflight"

	"github.com/pspoerri/tilemesh/internal/coord"
	"github.com/pspoerri/tilemesh/internal/logger"
	"github.com/pspoerri/tilemesh/internal/metrics"
	"github.com/pspoerri/tilemesh/internal/store"
)

// CachedSource puts an in-memory LRU and an optional persistent store in
// front of a Source. Concurrent misses for the same tile share one
// upstream call. Not-found results are not cached.
type CachedSource struct {
	src      Source
	memory   *ccache.Cache[[]byte]
	store    store.TileStore
	ttl      time.Duration
	inflight singleflight.Group
	log      logger.Logger
}

var _ Source = (*CachedSource)(nil)

// CacheOptions configures NewCachedSource.
type CacheOptions struct {
	// MemoryTiles bounds the in-memory cache; 0 disables it.
	MemoryTiles int
	TTL         time.Duration
	// Store is an optional second level; CachedSource closes it.
	Store store.TileStore
}

// NewCachedSource wraps src.
func NewCachedSource(src Source, opts CacheOptions, l logger.Logger) *CachedSource {
	if l == nil {
		l = logger.NewNop()
	}
	if opts.TTL <= 0 {
		opts.TTL = time.Hour
	}
	c := &CachedSource{src: src, store: opts.Store, ttl: opts.TTL, log: l}
	if opts.MemoryTiles > 0 {
		c.memory = ccache.New(ccache.Configure[[]byte]().
			MaxSize(int64(opts.MemoryTiles)).
			ItemsToPrune(uint32(max(1, opts.MemoryTiles/20))))
	}
	return c
}

func (c *CachedSource) Tile(ctx context.Context, t coord.TileCoordinate) ([]byte, error) {
	key := t.String()
	if c.memory != nil {
		if item := c.memory.Get(key); item != nil && !item.Expired() {
			metrics.ProviderCacheLookups.WithLabelValues("memory", "hit").Inc()
			return item.Value(), nil
		}
		metrics.ProviderCacheLookups.WithLabelValues("memory", "miss").Inc()
	}

	v, err, _ := c.inflight.Do(key, func() (any, error) {
		// The first caller's cancellation must not fail the others.
		ctx := context.WithoutCancel(ctx)

		if c.store != nil {
			data, ok, err := c.store.Get(ctx, t)
			switch {
			case err != nil:
				c.log.Warn("tile store get failed", "tile", key, "error", err)
			case ok:
				metrics.ProviderCacheLookups.WithLabelValues("store", "hit").Inc()
				c.remember(key, data)
				return data, nil
			default:
				metrics.ProviderCacheLookups.WithLabelValues("store", "miss").Inc()
			}
		}

		data, err := c.src.Tile(ctx, t)
		if err != nil {
			return nil, err
		}
		if c.store != nil {
			if err := c.store.Set(ctx, t, data); err != nil {
				c.log.Warn("tile store set failed", "tile", key, "error", err)
			}
		}
		c.remember(key, data)
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

func (c *CachedSource) remember(key string, data []byte) {
	if c.memory != nil {
		c.memory.Set(key, data, c.ttl)
	}
}

func (c *CachedSource) Info() Info { return c.src.Info() }

// Purge drops the in-memory cache. The persistent store is untouched.
func (c *CachedSource) Purge() {
	if c.memory != nil {
		c.memory.Clear()
	}
}

// Close stops the memory cache and closes the store and the wrapped source.
func (c *CachedSource) Close() error {
	if c.memory != nil {
		c.memory.Stop()
	}
	var err error
	if c.store != nil {
		err = c.store.Close()
	}
	if cerr := c.src.Close(); cerr != nil {
		err = cerr
	}
	return err
}
