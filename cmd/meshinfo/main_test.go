package main

import (
	"errors"
	"math"
	"testing"

	"github.com/pspoerri/tilemesh/internal/affine"
	"github.com/pspoerri/tilemesh/internal/geotiff"
)

func TestSuggestZoom(t *testing.T) {
	arcsec := 1.0 / 3600
	tests := []struct {
		name      string
		raster    geotiff.Raster
		tileSize  int
		pixelSize float64
		wantZoom  int
	}{
		{
			name:      "lv95 10m",
			raster:    geotiff.Raster{Width: 100, Height: 100, EPSG: 2056, Transform: affine.FromOriginAndScale(2600000, 1200000, 10, 10)},
			tileSize:  256,
			pixelSize: 10,
			wantZoom:  13,
		},
		{
			name:      "lv95 10m 512px tiles",
			raster:    geotiff.Raster{Width: 100, Height: 100, EPSG: 2056, Transform: affine.FromOriginAndScale(2600000, 1200000, 10, 10)},
			tileSize:  512,
			pixelSize: 10,
			wantZoom:  12,
		},
		{
			name:      "wgs84 arc second at the equator",
			raster:    geotiff.Raster{Width: 3600, Height: 3600, EPSG: 4326, Transform: affine.FromOriginAndScale(0, 0.5, arcsec, arcsec)},
			tileSize:  256,
			pixelSize: 30.9,
			wantZoom:  12,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := tt.raster
			h, err := suggestZoom(&r, r.Projection(), tt.tileSize)
			if err != nil {
				t.Fatalf("suggestZoom: %v", err)
			}
			if math.Abs(h.PixelSize-tt.pixelSize)/tt.pixelSize > 0.02 {
				t.Errorf("pixel size = %v, want ~%v", h.PixelSize, tt.pixelSize)
			}
			if h.MaxZoom != tt.wantZoom {
				t.Errorf("max zoom = %d, want %d", h.MaxZoom, tt.wantZoom)
			}

			// The center tile sits at the suggested zoom and covers the raster center.
			pipe, err := affine.NewPipeline(r.Transform, r.Projection())
			if err != nil {
				t.Fatalf("NewPipeline: %v", err)
			}
			lon, lat := pipe.Forward(float64(r.Width)/2, float64(r.Height)/2)
			b := h.Center.Bounds()
			if h.Center.Z != h.MaxZoom || lon < b.Min.X() || lon > b.Max.X() || lat < b.Min.Y() || lat > b.Max.Y() {
				t.Errorf("center tile %s does not cover (%.5f, %.5f)", h.Center, lon, lat)
			}
		})
	}
}

func TestSuggestZoom_SingularTransform(t *testing.T) {
	r := geotiff.Raster{Width: 10, Height: 10, EPSG: 4326}
	if _, err := suggestZoom(&r, r.Projection(), 256); !errors.Is(err, affine.ErrSingularTransform) {
		t.Errorf("suggestZoom error = %v, want ErrSingularTransform", err)
	}
}
