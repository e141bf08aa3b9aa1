package pmtiles

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/paulmach/orb"

	"github.com/pspoerri/tilemesh/internal/coord"
)

func testOptions(dir string) WriterOptions {
	return WriterOptions{
		MinZoom:  0,
		MaxZoom:  3,
		Bounds:   orb.Bound{Min: orb.Point{-180, -85}, Max: orb.Point{180, 85}},
		TileType: TileTypePNG,
		Name:     "test",
		TempDir:  dir,
	}
}

func payload(tc coord.TileCoordinate) []byte {
	return []byte(fmt.Sprintf("tile %s", tc))
}

func TestWriter_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.pmtiles")
	w, err := NewWriter(path, testOptions(dir))
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}

	var written []coord.TileCoordinate
	for z := 0; z <= 3; z++ {
		n := 1 << uint(z)
		for y := 0; y < n; y++ {
			for x := 0; x < n; x++ {
				tc := coord.TileCoordinate{X: x, Y: y, Z: z}
				if err := w.WriteTile(tc, payload(tc)); err != nil {
					t.Fatalf("WriteTile(%s): %v", tc, err)
				}
				written = append(written, tc)
			}
		}
	}
	if err := w.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	r, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	h := r.Header()
	if h.NumAddressedTiles != uint64(len(written)) || h.NumTileContents != uint64(len(written)) {
		t.Errorf("header counts = %d addressed, %d contents, want %d", h.NumAddressedTiles, h.NumTileContents, len(written))
	}
	for _, tc := range written {
		data, ok, err := r.Tile(tc)
		if err != nil || !ok {
			t.Fatalf("Tile(%s) = ok %v, err %v", tc, ok, err)
		}
		if !bytes.Equal(data, payload(tc)) {
			t.Errorf("Tile(%s) = %q", tc, data)
		}
	}

	if _, ok, err := r.Tile(coord.TileCoordinate{X: 0, Y: 0, Z: 4}); ok || err != nil {
		t.Errorf("missing tile: ok %v err %v", ok, err)
	}
	if _, ok, _ := r.Tile(coord.TileCoordinate{X: -1, Y: 0, Z: 1}); ok {
		t.Error("un-normalized tile reported present")
	}

	meta, err := r.Metadata()
	if err != nil {
		t.Fatalf("Metadata: %v", err)
	}
	if meta["name"] != "test" || meta["format"] != "png" || meta["maxzoom"] != "3" {
		t.Errorf("metadata = %v", meta)
	}
}

func TestWriter_SharedPayloadsBecomeRuns(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ocean.pmtiles")
	w, err := NewWriter(path, testOptions(dir))
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}

	ocean := []byte("blue")
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			if err := w.WriteTile(coord.TileCoordinate{X: x, Y: y, Z: 2}, ocean); err != nil {
				t.Fatal(err)
			}
		}
	}
	land := coord.TileCoordinate{X: 0, Y: 0, Z: 0}
	if err := w.WriteTile(land, []byte("green")); err != nil {
		t.Fatal(err)
	}
	if tiles, reused := w.Stats(); tiles != 17 || reused != 15 {
		t.Errorf("Stats() = %d, %d, want 17, 15", tiles, reused)
	}
	if err := w.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	r, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()
	h := r.Header()
	// z0 plus one run covering all of z2.
	if h.NumTileEntries != 2 || h.NumTileContents != 2 || h.TileDataLength != uint64(len("blue")+len("green")) {
		t.Errorf("header = %+v", h)
	}
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			data, ok, err := r.Tile(coord.TileCoordinate{X: x, Y: y, Z: 2})
			if err != nil || !ok || string(data) != "blue" {
				t.Errorf("tile 2/%d/%d = %q ok %v err %v", x, y, data, ok, err)
			}
		}
	}
	if _, ok, _ := r.Tile(coord.TileCoordinate{X: 0, Y: 0, Z: 1}); ok {
		t.Error("z1 tile should be absent")
	}
}

func TestWriter_LeafDirectories(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "big.pmtiles")
	opts := testOptions(dir)
	opts.MaxZoom = 8
	w, err := NewWriter(path, opts)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	// 256x256 distinct tiles exceed the root directory limit.
	for y := 0; y < 256; y++ {
		for x := 0; x < 256; x++ {
			tc := coord.TileCoordinate{X: x, Y: y, Z: 8}
			if err := w.WriteTile(tc, payload(tc)); err != nil {
				t.Fatal(err)
			}
		}
	}
	if err := w.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	r, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()
	if r.Header().LeafDirLength == 0 {
		t.Fatal("expected leaf directories")
	}
	for _, tc := range []coord.TileCoordinate{{X: 0, Y: 0, Z: 8}, {X: 255, Y: 255, Z: 8}, {X: 17, Y: 200, Z: 8}} {
		data, ok, err := r.Tile(tc)
		if err != nil || !ok || !bytes.Equal(data, payload(tc)) {
			t.Errorf("Tile(%s) = %q ok %v err %v", tc, data, ok, err)
		}
	}
}

func TestWriter_EmptyPayloadSkipped(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(filepath.Join(dir, "e.pmtiles"), testOptions(dir))
	if err != nil {
		t.Fatal(err)
	}
	defer w.Abort()
	if err := w.WriteTile(coord.TileCoordinate{}, nil); err != nil {
		t.Fatal(err)
	}
	if tiles, _ := w.Stats(); tiles != 0 {
		t.Errorf("Stats() tiles = %d, want 0", tiles)
	}
}

func TestWriter_RejectsOutOfRangeTile(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(filepath.Join(dir, "e.pmtiles"), testOptions(dir))
	if err != nil {
		t.Fatal(err)
	}
	defer w.Abort()
	if err := w.WriteTile(coord.TileCoordinate{X: 2, Y: 0, Z: 1}, []byte("x")); err == nil {
		t.Error("expected an error for x outside the zoom level")
	}
}

func TestWriter_DoubleFinalize(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(filepath.Join(dir, "d.pmtiles"), testOptions(dir))
	if err != nil {
		t.Fatal(err)
	}
	if err := w.WriteTile(coord.TileCoordinate{}, []byte("x")); err != nil {
		t.Fatal(err)
	}
	if err := w.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if err := w.Finalize(); !errors.Is(err, ErrFinalized) {
		t.Errorf("second Finalize = %v, want ErrFinalized", err)
	}
	if err := w.WriteTile(coord.TileCoordinate{}, []byte("y")); !errors.Is(err, ErrFinalized) {
		t.Errorf("WriteTile after Finalize = %v, want ErrFinalized", err)
	}
}

func TestWriter_AbortRemovesSpill(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "a.pmtiles")
	w, err := NewWriter(out, testOptions(dir))
	if err != nil {
		t.Fatal(err)
	}
	if err := w.WriteTile(coord.TileCoordinate{}, []byte("x")); err != nil {
		t.Fatal(err)
	}
	w.Abort()

	left, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(left) != 0 {
		t.Errorf("files left after Abort: %v", left)
	}
}

func TestWriter_ConcurrentWrites(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "c.pmtiles")
	opts := testOptions(dir)
	opts.MaxZoom = 5
	w, err := NewWriter(path, opts)
	if err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for y := 0; y < 32; y++ {
		wg.Add(1)
		go func(y int) {
			defer wg.Done()
			for x := 0; x < 32; x++ {
				tc := coord.TileCoordinate{X: x, Y: y, Z: 5}
				if err := w.WriteTile(tc, payload(tc)); err != nil {
					t.Error(err)
				}
			}
		}(y)
	}
	wg.Wait()
	if err := w.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	r, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	if got := r.Header().NumAddressedTiles; got != 1024 {
		t.Errorf("NumAddressedTiles = %d, want 1024", got)
	}
	tc := coord.TileCoordinate{X: 31, Y: 7, Z: 5}
	if data, ok, _ := r.Tile(tc); !ok || !bytes.Equal(data, payload(tc)) {
		t.Errorf("Tile(%s) = %q", tc, data)
	}
}
