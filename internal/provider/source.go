// Package provider serves tiles to fetch clients. A Source produces encoded
// tiles; the package wraps sources with caching and exposes them over the
// fetch protocol and plain HTTP.
package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/paulmach/orb"

	"github.com/pspoerri/tilemesh/internal/coord"
)

// ErrTileNotFound is returned for tiles a source does not have.
var ErrTileNotFound = errors.New("provider: tile not found")

// Info describes a tileset.
type Info struct {
	Name        string     `json:"name"`
	Format      string     `json:"format"`
	TileSize    int        `json:"tileSize"`
	MinZoom     int        `json:"minZoom"`
	MaxZoom     int        `json:"maxZoom"`
	Bounds      [4]float64 `json:"bounds"` // west, south, east, north
	Attribution string     `json:"attribution,omitempty"`
}

// Bound returns Bounds as an orb.Bound.
func (i Info) Bound() orb.Bound {
	return orb.Bound{Min: orb.Point{i.Bounds[0], i.Bounds[1]}, Max: orb.Point{i.Bounds[2], i.Bounds[3]}}
}

func boundsOf(b orb.Bound) [4]float64 {
	return [4]float64{b.Min.X(), b.Min.Y(), b.Max.X(), b.Max.Y()}
}

var worldBounds = [4]float64{-180, -85.0511287798066, 180, 85.0511287798066}

// Source produces encoded tiles. Implementations are safe for concurrent
// use.
type Source interface {
	Tile(ctx context.Context, t coord.TileCoordinate) ([]byte, error)
	Info() Info
	Close() error
}

// checkTile rejects coordinates outside the grid or the source's zoom range.
func checkTile(info Info, t coord.TileCoordinate) error {
	if !t.IsNormalized() {
		return fmt.Errorf("%w: %s outside the grid", ErrTileNotFound, t)
	}
	if t.Z < info.MinZoom || t.Z > info.MaxZoom {
		return fmt.Errorf("%w: zoom %d outside %d..%d", ErrTileNotFound, t.Z, info.MinZoom, info.MaxZoom)
	}
	return nil
}
