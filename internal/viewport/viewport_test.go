package viewport

import (
	"math"
	"testing"

	"github.com/pspoerri/tilemesh/internal/coord"
)

func TestUnproject_Center(t *testing.T) {
	v := Viewport{CenterLon: 8.5417, CenterLat: 47.3769, Zoom: 10, Pitch: 45, Bearing: 30, Width: 800, Height: 600}
	lon, lat, ok := v.Unproject(400, 300)
	if !ok {
		t.Fatal("Unproject(center) not ok")
	}
	if math.Abs(lon-v.CenterLon) > 1e-9 || math.Abs(lat-v.CenterLat) > 1e-9 {
		t.Errorf("Unproject(center) = (%v, %v), want (%v, %v)", lon, lat, v.CenterLon, v.CenterLat)
	}
}

func TestFootprint_WholeWorldAtZoomZero(t *testing.T) {
	v := Viewport{Zoom: 0, Width: 512, Height: 512}
	b, ok := v.Footprint()
	if !ok {
		t.Fatal("Footprint not ok")
	}
	w := World()
	if math.Abs(b.Min.X()-w.Min.X()) > 1e-9 || math.Abs(b.Max.X()-w.Max.X()) > 1e-9 ||
		math.Abs(b.Min.Y()-w.Min.Y()) > 1e-9 || math.Abs(b.Max.Y()-w.Max.Y()) > 1e-9 {
		t.Errorf("Footprint = %v, want %v", b, w)
	}
}

func TestFootprint_Bearing(t *testing.T) {
	flat := Viewport{CenterLon: 0, CenterLat: 0, Zoom: 5, Width: 1000, Height: 200}
	rotated := flat
	rotated.Bearing = 90

	bf, _ := flat.Footprint()
	br, _ := rotated.Footprint()

	// A wide screen turned by 90 degrees becomes a tall footprint.
	if bf.Max.X()-bf.Min.X() <= bf.Max.Y()-bf.Min.Y() {
		t.Errorf("flat footprint %v should be wider than tall", bf)
	}
	if br.Max.X()-br.Min.X() >= br.Max.Y()-br.Min.Y() {
		t.Errorf("rotated footprint %v should be taller than wide", br)
	}
}

func TestFootprint_PitchLooksFurtherNorth(t *testing.T) {
	flat := Viewport{CenterLon: 10, CenterLat: 45, Zoom: 8, Width: 800, Height: 600}
	pitched := flat
	pitched.Pitch = 60

	bf, ok := flat.Footprint()
	if !ok {
		t.Fatal("flat footprint not ok")
	}
	bp, ok := pitched.Footprint()
	if !ok {
		t.Fatal("pitched footprint not ok")
	}
	if bp.Max.Y() <= bf.Max.Y() {
		t.Errorf("pitched north edge %v, want beyond flat %v", bp.Max.Y(), bf.Max.Y())
	}
}

func TestFootprint_Degenerate(t *testing.T) {
	tests := []struct {
		name string
		v    Viewport
	}{
		{"zero size", Viewport{Zoom: 3}},
		{"nan zoom", Viewport{Zoom: math.NaN(), Width: 100, Height: 100}},
		{"nan pitch", Viewport{Zoom: 3, Pitch: math.NaN(), Width: 100, Height: 100}},
		{"camera below ground", Viewport{Zoom: 3, Pitch: 120, Width: 800, Height: 600}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, ok := tt.v.Footprint(); ok {
				t.Errorf("Footprint() ok for degenerate viewport %+v", tt.v)
			}
		})
	}
}

func TestFootprint_HorizonClippedToFarDistance(t *testing.T) {
	v := Viewport{CenterLon: 8.5, CenterLat: 47.4, Zoom: 11, Pitch: 85, Width: 1920, Height: 1080}
	if _, _, ok := v.Unproject(v.Width/2, 0); ok {
		t.Fatal("top row should look above the horizon")
	}
	b, ok := v.Footprint()
	if !ok {
		t.Fatal("Footprint not ok for a pitched view of the horizon")
	}

	// Nothing is farther from the center than FarDistance camera distances.
	ws := v.WorldSize()
	cx, cy := coord.LonLatToWorld(v.CenterLon, v.CenterLat, ws)
	limit := FarDistance * v.FocalLength() * 1.0001
	for _, p := range [][2]float64{{b.Min.X(), b.Min.Y()}, {b.Max.X(), b.Max.Y()}} {
		x, y := coord.LonLatToWorld(p[0], p[1], ws)
		if d := math.Hypot(x-cx, y-cy); d > 2*limit {
			t.Errorf("footprint corner %v is %.0f px from the center, cap %.0f", p, d, limit)
		}
	}

	// Rows that already lie within the cap are left alone.
	flat := v
	flat.Pitch = 30
	top, bottom, ok := flat.visibleRows()
	if !ok || top != 0 || bottom != flat.Height {
		t.Errorf("visibleRows at pitch 30 = %v, %v, %v; want 0, %v, true", top, bottom, ok, flat.Height)
	}
}

func TestFootprint_Antimeridian(t *testing.T) {
	v := Viewport{CenterLon: 179, CenterLat: 0, Zoom: 3, Width: 1024, Height: 512}
	b, ok := v.Footprint()
	if !ok {
		t.Fatal("Footprint not ok")
	}
	if b.Max.X() <= 180 {
		t.Errorf("footprint max lon = %v, want > 180 (unwrapped)", b.Max.X())
	}

	// The corners stay consistent with the world-pixel math.
	ws := v.WorldSize()
	cx, _ := coord.LonLatToWorld(v.CenterLon, 0, ws)
	wantMax, _ := coord.WorldToLonLat(cx+512, 0, ws)
	if math.Abs(b.Max.X()-wantMax) > 1e-9 {
		t.Errorf("footprint max lon = %v, want %v", b.Max.X(), wantMax)
	}
}
