package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pspoerri/tilemesh/internal/coord"
)

func TestParseTilePath(t *testing.T) {
	tests := []struct {
		path   string
		want   coord.TileCoordinate
		ext    string
		wantOK bool
	}{
		{"3/2/1.png", coord.TileCoordinate{X: 2, Y: 1, Z: 3}, "png", true},
		{"0/0/0.JPG", coord.TileCoordinate{}, "jpeg", true},
		{"10/512/300.webp", coord.TileCoordinate{X: 512, Y: 300, Z: 10}, "webp", true},
		{"3/2/1", coord.TileCoordinate{}, "", false},
		{"a/2/1.png", coord.TileCoordinate{}, "", false},
		{"metadata.json", coord.TileCoordinate{}, "", false},
		{"1/2/3/4.png", coord.TileCoordinate{}, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got, ext, ok := parseTilePath(tt.path)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && (got != tt.want || ext != tt.ext) {
				t.Errorf("got %v %q, want %v %q", got, ext, tt.want, tt.ext)
			}
		})
	}
}

func writeFile(t *testing.T, path string, data string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestScanTiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "1", "1", "0.png"), "d")
	writeFile(t, filepath.Join(dir, "0", "0", "0.png"), "a")
	writeFile(t, filepath.Join(dir, "1", "0", "0.png"), "b")
	writeFile(t, filepath.Join(dir, "README.md"), "ignored")

	set, err := scanTiles(dir)
	if err != nil {
		t.Fatalf("scanTiles: %v", err)
	}
	if len(set.files) != 3 || set.format != "png" || set.minZoom != 0 || set.maxZoom != 1 {
		t.Fatalf("set = %+v", set)
	}
	// Tile ID order: 0/0/0, then z1 along the Hilbert curve.
	want := []coord.TileCoordinate{{X: 0, Y: 0, Z: 0}, {X: 0, Y: 0, Z: 1}, {X: 1, Y: 0, Z: 1}}
	for i, f := range set.files {
		if f.tile != want[i] {
			t.Errorf("file %d = %v, want %v", i, f.tile, want[i])
		}
	}
	if set.bounds.Min.X() != -180 || set.bounds.Max.X() != 180 {
		t.Errorf("bounds = %v", set.bounds)
	}
}

func TestScanTiles_Rejects(t *testing.T) {
	t.Run("mixed formats", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, filepath.Join(dir, "0", "0", "0.png"), "a")
		writeFile(t, filepath.Join(dir, "1", "0", "0.webp"), "b")
		if _, err := scanTiles(dir); err == nil {
			t.Error("expected error")
		}
	})
	t.Run("out of range", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, filepath.Join(dir, "1", "2", "0.png"), "a")
		if _, err := scanTiles(dir); err == nil {
			t.Error("expected error")
		}
	})
}
