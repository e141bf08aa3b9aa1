package coord

import (
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
)

// TileCoordinate addresses a tile in the XYZ pyramid. During a search X (and
// in principle Y) may leave [0, 2^Z) to represent world copies across the
// antimeridian; Normalize must be applied before the value is used as a key.
type TileCoordinate struct {
	X, Y, Z int
}

// Normalize wraps X into [0, 2^Z).
func (t TileCoordinate) Normalize() TileCoordinate {
	n := 1 << uint(t.Z)
	x := t.X % n
	if x < 0 {
		x += n
	}
	return TileCoordinate{X: x, Y: t.Y, Z: t.Z}
}

// IsNormalized reports whether X and Y lie inside the zoom level's grid.
func (t TileCoordinate) IsNormalized() bool {
	n := 1 << uint(t.Z)
	return t.Z >= 0 && t.X >= 0 && t.X < n && t.Y >= 0 && t.Y < n
}

// Bounds returns the WGS84 bounds of the (possibly un-normalized) tile.
func (t TileCoordinate) Bounds() orb.Bound {
	minLon, minLat, maxLon, maxLat := TileBounds(t.Z, t.X, t.Y)
	return orb.Bound{Min: orb.Point{minLon, minLat}, Max: orb.Point{maxLon, maxLat}}
}

// Children returns the four tiles of the next zoom level.
func (t TileCoordinate) Children() [4]TileCoordinate {
	x, y, z := 2*t.X, 2*t.Y, t.Z+1
	return [4]TileCoordinate{
		{X: x, Y: y, Z: z},
		{X: x + 1, Y: y, Z: z},
		{X: x, Y: y + 1, Z: z},
		{X: x + 1, Y: y + 1, Z: z},
	}
}

// FlipY converts between XYZ and TMS row numbering.
func (t TileCoordinate) FlipY() TileCoordinate {
	return TileCoordinate{X: t.X, Y: (1 << uint(t.Z)) - 1 - t.Y, Z: t.Z}
}

// Maptile converts a normalized coordinate to an orb maptile.
func (t TileCoordinate) Maptile() maptile.Tile {
	n := t.Normalize()
	return maptile.New(uint32(n.X), uint32(n.Y), maptile.Zoom(n.Z))
}

func (t TileCoordinate) String() string {
	return fmt.Sprintf("%d/%d/%d", t.Z, t.X, t.Y)
}
