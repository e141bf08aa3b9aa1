// Package viewport describes the camera of an interactive Web Mercator map
// and unprojects its screen corners onto the ground.
package viewport

import (
	"math"

	"github.com/paulmach/orb"

	"github.com/pspoerri/tilemesh/internal/coord"
)

const (
	// ReferenceTileSize is the tile size at which Zoom maps 1:1 onto the
	// tile pyramid level.
	ReferenceTileSize = 512

	// Altitude is the camera distance from the map center in screen heights.
	Altitude = 1.5

	// FarDistance caps the visible ground, in multiples of the camera
	// distance to the map center. Screen rows beyond it, including those at
	// or above the horizon, are clipped to it.
	FarDistance = 12
)

// Viewport is an immutable camera snapshot. Pitch and Bearing are degrees;
// Width and Height are screen pixels.
type Viewport struct {
	CenterLon float64
	CenterLat float64
	Zoom      float64
	Pitch     float64
	Bearing   float64
	Width     float64
	Height    float64
}

// WorldSize returns the side length of the Web Mercator world in screen
// pixels at the viewport's zoom.
func (v Viewport) WorldSize() float64 {
	return ReferenceTileSize * math.Pow(2, v.Zoom)
}

// Unproject maps a screen pixel (origin top-left) to lon/lat on the ground.
// ok is false when the pixel looks at or above the horizon or the viewport
// is degenerate.
func (v Viewport) Unproject(sx, sy float64) (lon, lat float64, ok bool) {
	if !(v.Width > 0 && v.Height > 0) || !finite(v.Zoom) {
		return math.NaN(), math.NaN(), false
	}

	dx := sx - v.Width/2
	dy := sy - v.Height/2

	// Pinhole camera: focal length equals the camera distance, both in
	// screen pixels, looking at the center with the given pitch.
	f := Altitude * v.Height
	pitch := v.Pitch * math.Pi / 180
	sinP, cosP := math.Sin(pitch), math.Cos(pitch)

	denom := f*cosP + dy*sinP
	if denom <= 1e-9*f {
		return math.NaN(), math.NaN(), false
	}
	tRay := f * cosP / denom
	gx := tRay * dx
	gy := -f*sinP + tRay*(f*sinP-dy*cosP)

	// Rotate the screen-aligned ground offset into east/north.
	bearing := v.Bearing * math.Pi / 180
	sinB, cosB := math.Sin(bearing), math.Cos(bearing)
	east := gx*cosB + gy*sinB
	north := -gx*sinB + gy*cosB

	worldSize := v.WorldSize()
	cx, cy := coord.LonLatToWorld(v.CenterLon, v.CenterLat, worldSize)
	lon, lat = coord.WorldToLonLat(cx+east, cy-north, worldSize)
	if !finite(lon) || !finite(lat) {
		return lon, lat, false
	}
	return lon, lat, true
}

// Corners returns the unprojected screen corners in the order top-left,
// top-right, bottom-right, bottom-left. Rows past FarDistance are clipped
// to it, so a pitched view of the horizon still has a bounded footprint.
func (v Viewport) Corners() ([4]orb.Point, bool) {
	top, bottom, ok := v.visibleRows()
	if !ok {
		return [4]orb.Point{}, false
	}
	screen := [4][2]float64{
		{0, top},
		{v.Width, top},
		{v.Width, bottom},
		{0, bottom},
	}
	var pts [4]orb.Point
	for i, s := range screen {
		lon, lat, ok := v.Unproject(s[0], s[1])
		if !ok {
			return pts, false
		}
		pts[i] = orb.Point{lon, lat}
	}
	return pts, true
}

// visibleRows returns the screen rows bounding the ground within
// FarDistance.
func (v Viewport) visibleRows() (top, bottom float64, ok bool) {
	if !(v.Width > 0 && v.Height > 0) || !finite(v.Zoom) || !finite(v.Pitch) {
		return 0, 0, false
	}
	pitch := v.Pitch * math.Pi / 180
	sinP, cosP := math.Sin(pitch), math.Cos(pitch)
	if cosP <= 0 {
		return 0, 0, false
	}
	top, bottom = 0, v.Height
	if math.Abs(sinP) < 1e-12 {
		return top, bottom, true
	}

	// Unproject scales the center ray by f·cosP / (f·cosP + dy·sinP); the
	// cap row is where that scale reaches FarDistance.
	f := v.FocalLength()
	capRow := v.Height/2 + f*cosP*(1/FarDistance-1)/sinP
	if sinP > 0 {
		top = math.Min(math.Max(top, capRow), bottom)
	} else {
		bottom = math.Max(math.Min(bottom, capRow), top)
	}
	return top, bottom, true
}

// Footprint returns the lon/lat bounding box of the visible ground.
// Longitudes are left unwrapped, so the box can extend past ±180 when the
// view crosses the antimeridian. ok is false only for degenerate viewports
// (empty screen, non-finite zoom or pitch, camera at or below the ground
// plane).
func (v Viewport) Footprint() (orb.Bound, bool) {
	pts, ok := v.Corners()
	if !ok {
		return orb.Bound{}, false
	}
	b := orb.Bound{Min: pts[0], Max: pts[0]}
	for _, p := range pts[1:] {
		b = b.Extend(p)
	}
	return b, true
}

// World returns the bounds of a single Web Mercator world copy.
func World() orb.Bound {
	return orb.Bound{
		Min: orb.Point{-180, -coord.MaxMercatorLat},
		Max: orb.Point{180, coord.MaxMercatorLat},
	}
}

// FocalLength returns the pinhole focal length in screen pixels.
func (v Viewport) FocalLength() float64 {
	return Altitude * v.Height
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
