// Package store persists encoded tiles for the provider's second-level
// cache.
package store

import (
	"context"
	"time"

	"github.com/pspoerri/tilemesh/internal/coord"
	"github.com/pspoerri/tilemesh/internal/metrics"
)

// TileStore is a keyed blob store for encoded tiles. Get reports a miss
// with ok == false and a nil error.
type TileStore interface {
	Get(ctx context.Context, t coord.TileCoordinate) (data []byte, ok bool, err error)
	Set(ctx context.Context, t coord.TileCoordinate, data []byte) error
	Close() error
}

func observe(store, op string, start time.Time) {
	metrics.ProviderStoreDuration.WithLabelValues(store, op).Observe(time.Since(start).Seconds())
}
