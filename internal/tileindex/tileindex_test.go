package tileindex

import (
	"errors"
	"math"
	"testing"

	"github.com/paulmach/orb"

	"github.com/pspoerri/tilemesh/internal/coord"
	"github.com/pspoerri/tilemesh/internal/viewport"
)

// worldViewport returns a north-up viewport whose screen exactly covers one
// Web Mercator world at the given zoom.
func worldViewport(zoom float64) viewport.Viewport {
	size := viewport.ReferenceTileSize * math.Pow(2, zoom)
	return viewport.Viewport{Zoom: zoom, Width: size, Height: size}
}

func TestComputeTiles_WorldAtZoom4(t *testing.T) {
	tiles, err := ComputeTiles(worldViewport(4.3), Options{MinZoom: 0, MaxZoom: 20, TileSize: 512})
	if err != nil {
		t.Fatalf("ComputeTiles: %v", err)
	}

	if len(tiles) != 16*16 {
		t.Fatalf("got %d tiles, want %d", len(tiles), 16*16)
	}
	seen := make(map[coord.TileCoordinate]bool)
	for _, tile := range tiles {
		if tile.Z != 4 {
			t.Errorf("tile %v at zoom %d, want 4", tile, tile.Z)
		}
		if tile.X < 0 || tile.X >= 16 || tile.Y < 0 || tile.Y >= 16 {
			t.Errorf("tile %v outside [0,16)x[0,16)", tile)
		}
		seen[tile] = true
	}
	for x := 0; x < 16; x++ {
		for y := 0; y < 16; y++ {
			if !seen[coord.TileCoordinate{X: x, Y: y, Z: 4}] {
				t.Errorf("missing tile 4/%d/%d", x, y)
			}
		}
	}
}

func TestTargetZoom(t *testing.T) {
	extent := &Extent{MinX: 5, MinY: 45, MaxX: 11, MaxY: 48}
	tests := []struct {
		name     string
		zoom     float64
		opts     Options
		wantZoom int
		wantOK   bool
	}{
		{"round down", 4.3, Options{MaxZoom: 20, TileSize: 512}, 4, true},
		{"round half up", 4.5, Options{MaxZoom: 20, TileSize: 512}, 5, true},
		{"256px tiles go one level deeper", 4.3, Options{MaxZoom: 20, TileSize: 256}, 5, true},
		{"1024px tiles go one level up", 4.3, Options{MaxZoom: 20, TileSize: 1024}, 3, true},
		{"zoom offset", 4.3, Options{MaxZoom: 20, TileSize: 512, ZoomOffset: -1}, 3, true},
		{"overzoom clamps", 18, Options{MaxZoom: 14, TileSize: 512}, 14, true},
		{"below min without extent", 2, Options{MinZoom: 5, MaxZoom: 14, TileSize: 512}, 0, false},
		{"below min with extent", 2, Options{MinZoom: 5, MaxZoom: 14, TileSize: 512, Extent: extent}, 5, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			z, ok := TargetZoom(viewport.Viewport{Zoom: tt.zoom}, tt.opts)
			if ok != tt.wantOK || (ok && z != tt.wantZoom) {
				t.Errorf("TargetZoom(%v) = (%d, %v), want (%d, %v)", tt.zoom, z, ok, tt.wantZoom, tt.wantOK)
			}
		})
	}
}

func TestComputeTiles_InvalidOptions(t *testing.T) {
	vp := worldViewport(2)
	tests := []struct {
		name string
		opts Options
	}{
		{"zero tile size", Options{MaxZoom: 10, TileSize: 0}},
		{"negative tile size", Options{MaxZoom: 10, TileSize: -256}},
		{"negative min zoom", Options{MinZoom: -1, MaxZoom: 10, TileSize: 256}},
		{"min above max", Options{MinZoom: 8, MaxZoom: 4, TileSize: 256}},
		{"max zoom too deep", Options{MaxZoom: 31, TileSize: 256}},
		{"inverted extent", Options{MaxZoom: 10, TileSize: 256, Extent: &Extent{MinX: 10, MaxX: 0, MinY: 0, MaxY: 1}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ComputeTiles(vp, tt.opts)
			if !errors.Is(err, ErrInvalidOptions) {
				t.Errorf("ComputeTiles error = %v, want ErrInvalidOptions", err)
			}
		})
	}
}

func TestComputeTiles_BelowMinZoom(t *testing.T) {
	vp := viewport.Viewport{CenterLon: 8.5, CenterLat: 47, Zoom: 3, Width: 800, Height: 600}

	tiles, err := ComputeTiles(vp, Options{MinZoom: 6, MaxZoom: 14, TileSize: 512})
	if err != nil {
		t.Fatalf("ComputeTiles: %v", err)
	}
	if len(tiles) != 0 {
		t.Errorf("got %d tiles below min zoom without extent, want 0", len(tiles))
	}

	extent := &Extent{MinX: 8, MinY: 46.5, MaxX: 9, MaxY: 47.5}
	tiles, err = ComputeTiles(vp, Options{MinZoom: 6, MaxZoom: 14, TileSize: 512, Extent: extent})
	if err != nil {
		t.Fatalf("ComputeTiles: %v", err)
	}
	if len(tiles) == 0 {
		t.Fatal("got no tiles below min zoom with extent")
	}
	for _, tile := range tiles {
		if tile.Z != 6 {
			t.Errorf("tile %v, want zoom 6", tile)
		}
		if !tile.Bounds().Intersects(extent.Bound()) {
			t.Errorf("tile %v does not intersect extent", tile)
		}
	}
}

// overlapsWrapped tests b against footprint for every world copy.
func overlapsWrapped(b, footprint orb.Bound) bool {
	for k := -2.0; k <= 2; k++ {
		shifted := orb.Bound{
			Min: orb.Point{b.Min.X() + 360*k, b.Min.Y()},
			Max: orb.Point{b.Max.X() + 360*k, b.Max.Y()},
		}
		if shifted.Intersects(footprint) {
			return true
		}
	}
	return false
}

func TestComputeTiles_Properties(t *testing.T) {
	viewports := []viewport.Viewport{
		{CenterLon: 8.5417, CenterLat: 47.3769, Zoom: 11.7, Width: 1280, Height: 720},
		{CenterLon: -74, CenterLat: 40.7, Zoom: 9.2, Pitch: 50, Bearing: 20, Width: 800, Height: 600},
		{CenterLon: 139.7, CenterLat: 35.7, Zoom: 6, Bearing: 135, Width: 640, Height: 640},
		{CenterLon: 0, CenterLat: 0, Zoom: 1, Width: 2048, Height: 1024},
	}
	optsList := []Options{
		{MinZoom: 0, MaxZoom: 20, TileSize: 512},
		{MinZoom: 0, MaxZoom: 8, TileSize: 256},
		{MinZoom: 2, MaxZoom: 16, TileSize: 256, ZoomOffset: 1},
	}

	for _, vp := range viewports {
		footprint, ok := vp.Footprint()
		if !ok {
			t.Fatalf("viewport %+v has no footprint", vp)
		}
		for _, opts := range optsList {
			tiles, err := ComputeTiles(vp, opts)
			if err != nil {
				t.Fatalf("ComputeTiles: %v", err)
			}
			wantZ, _ := TargetZoom(vp, opts)
			if len(tiles) == 0 {
				t.Errorf("viewport %+v opts %+v: no tiles", vp, opts)
			}
			seen := make(map[coord.TileCoordinate]bool)
			for _, tile := range tiles {
				if tile.Z != wantZ {
					t.Errorf("tile %v, want zoom %d", tile, wantZ)
				}
				if !tile.IsNormalized() {
					t.Errorf("tile %v not normalized", tile)
				}
				if seen[tile] {
					t.Errorf("duplicate tile %v", tile)
				}
				seen[tile] = true
				if !overlapsWrapped(tile.Bounds(), footprint) {
					t.Errorf("tile %v (%v) outside footprint %v", tile, tile.Bounds(), footprint)
				}
			}
		}
	}
}

func TestComputeTiles_ExtentPrunes(t *testing.T) {
	vp := viewport.Viewport{CenterLon: 8, CenterLat: 47, Zoom: 7, Width: 1600, Height: 1200}
	opts := Options{MaxZoom: 20, TileSize: 512}

	all, err := ComputeTiles(vp, opts)
	if err != nil {
		t.Fatalf("ComputeTiles: %v", err)
	}

	extent := Extent{MinX: 7.9, MinY: 46.9, MaxX: 8.1, MaxY: 47.1}
	opts.Extent = &extent
	limited, err := ComputeTiles(vp, opts)
	if err != nil {
		t.Fatalf("ComputeTiles: %v", err)
	}

	if len(limited) == 0 || len(limited) >= len(all) {
		t.Fatalf("extent kept %d of %d tiles", len(limited), len(all))
	}
	for _, tile := range limited {
		if !tile.Bounds().Intersects(extent.Bound()) {
			t.Errorf("tile %v does not intersect extent", tile)
		}
	}
}

func TestComputeTiles_Antimeridian(t *testing.T) {
	vp := viewport.Viewport{CenterLon: 180, CenterLat: 10, Zoom: 4, Width: 1200, Height: 800}
	footprint, _ := vp.Footprint()
	if footprint.Min.X() >= -180 && footprint.Max.X() <= 180 {
		t.Fatalf("footprint %v does not cross the antimeridian", footprint)
	}

	tiles, err := ComputeTiles(vp, Options{MaxZoom: 20, TileSize: 512})
	if err != nil {
		t.Fatalf("ComputeTiles: %v", err)
	}
	if len(tiles) == 0 {
		t.Fatal("no tiles for a viewport spanning the antimeridian")
	}

	n := 1 << 4
	var west, east bool
	for _, tile := range tiles {
		if tile.X < 0 || tile.X >= n {
			t.Errorf("tile %v not normalized into [0, %d)", tile, n)
		}
		if tile.X == 0 {
			west = true
		}
		if tile.X == n-1 {
			east = true
		}
	}
	if !west || !east {
		t.Errorf("expected tiles on both sides of the antimeridian, got west=%v east=%v", west, east)
	}
}

func TestComputeTiles_DegenerateViewportShowsWorld(t *testing.T) {
	vp := viewport.Viewport{CenterLon: 0, CenterLat: 0, Zoom: 2, Width: 0, Height: 600}
	if _, ok := vp.Footprint(); ok {
		t.Fatal("expected a degenerate footprint")
	}

	tiles, err := ComputeTiles(vp, Options{MaxZoom: 20, TileSize: 512})
	if err != nil {
		t.Fatalf("ComputeTiles: %v", err)
	}
	if len(tiles) != 4*4 {
		t.Errorf("got %d tiles, want the whole z2 world (16)", len(tiles))
	}
}

func TestComputeTiles_HorizonStaysBounded(t *testing.T) {
	opts := Options{MaxZoom: 22, TileSize: 512}
	count := func(pitch float64) int {
		t.Helper()
		vp := viewport.Viewport{CenterLon: 8.5, CenterLat: 47.4, Zoom: 11, Pitch: pitch, Width: 1920, Height: 1080}
		tiles, err := ComputeTiles(vp, opts)
		if err != nil {
			t.Fatalf("ComputeTiles(pitch %v): %v", pitch, err)
		}
		return len(tiles)
	}

	at70 := count(70)
	if at70 == 0 {
		t.Fatal("no tiles at pitch 70")
	}
	for _, pitch := range []float64{75, 80, 85} {
		n := count(pitch)
		if n == 0 || n > 2*at70 {
			t.Errorf("pitch %v: %d tiles, want the same order as %d at pitch 70", pitch, n, at70)
		}
	}
}

func TestComputeTiles_ZRangeInflates(t *testing.T) {
	// A viewport whose edge sits just past a tile border.
	vp := viewport.Viewport{CenterLon: 0.5, CenterLat: 0, Zoom: 10, Pitch: 40, Width: 256, Height: 256}
	opts := Options{MaxZoom: 20, TileSize: 512}

	flat, err := ComputeTiles(vp, opts)
	if err != nil {
		t.Fatalf("ComputeTiles: %v", err)
	}
	opts.ZRange = &ZRange{MinZ: 0, MaxZ: 8000}
	tall, err := ComputeTiles(vp, opts)
	if err != nil {
		t.Fatalf("ComputeTiles: %v", err)
	}

	if len(tall) <= len(flat) {
		t.Errorf("zRange kept %d tiles, want more than %d", len(tall), len(flat))
	}
	inTall := make(map[coord.TileCoordinate]bool)
	for _, tile := range tall {
		inTall[tile] = true
	}
	for _, tile := range flat {
		if !inTall[tile] {
			t.Errorf("tile %v dropped by zRange inflation", tile)
		}
	}
}

func TestComputeTiles_HilbertOrder(t *testing.T) {
	tiles, err := ComputeTiles(worldViewport(2), Options{MaxZoom: 20, TileSize: 512})
	if err != nil {
		t.Fatalf("ComputeTiles: %v", err)
	}
	for i := 1; i < len(tiles); i++ {
		if coord.HilbertIndex(tiles[i-1]) >= coord.HilbertIndex(tiles[i]) {
			t.Fatalf("tiles not in Hilbert order at %d: %v then %v", i, tiles[i-1], tiles[i])
		}
	}
}
