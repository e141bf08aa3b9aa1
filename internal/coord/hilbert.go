package coord

import "sort"

// xyToHilbert converts (x, y) to a Hilbert curve index for an n x n grid.
// n must be a power of two.
func xyToHilbert(x, y, n uint64) uint64 {
	var d uint64
	for s := n / 2; s > 0; s /= 2 {
		var rx, ry uint64
		if (x & s) > 0 {
			rx = 1
		}
		if (y & s) > 0 {
			ry = 1
		}
		d += s * s * ((3 * rx) ^ ry)
		if ry == 0 {
			if rx == 1 {
				x = s*2 - 1 - x
				y = s*2 - 1 - y
			}
			x, y = y, x
		}
	}
	return d
}

// HilbertIndex returns the position of a normalized tile on the Hilbert curve
// of its zoom level.
func HilbertIndex(t TileCoordinate) uint64 {
	n := t.Normalize()
	return xyToHilbert(uint64(n.X), uint64(n.Y), uint64(1)<<uint(n.Z))
}

// SortTilesByHilbert orders tiles by zoom, then by Hilbert index, so that
// consecutive requests hit neighbouring tiles.
func SortTilesByHilbert(tiles []TileCoordinate) {
	if len(tiles) <= 1 {
		return
	}
	indices := make([]uint64, len(tiles))
	for i, t := range tiles {
		indices[i] = HilbertIndex(t)
	}
	sort.Sort(hilbertSorter{tiles: tiles, indices: indices})
}

type hilbertSorter struct {
	tiles   []TileCoordinate
	indices []uint64
}

func (s hilbertSorter) Len() int { return len(s.tiles) }
func (s hilbertSorter) Less(i, j int) bool {
	if s.tiles[i].Z != s.tiles[j].Z {
		return s.tiles[i].Z < s.tiles[j].Z
	}
	return s.indices[i] < s.indices[j]
}
func (s hilbertSorter) Swap(i, j int) {
	s.tiles[i], s.tiles[j] = s.tiles[j], s.tiles[i]
	s.indices[i], s.indices[j] = s.indices[j], s.indices[i]
}
