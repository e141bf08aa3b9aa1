package affine

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"github.com/pspoerri/tilemesh/internal/coord"
)

// Pipeline chains a GeoTransform with a projection so that pixels map
// straight to WGS84 and back.
type Pipeline struct {
	gt   GeoTransform
	proj coord.Projection
}

// NewPipeline validates gt and returns a pipeline for proj.
func NewPipeline(gt GeoTransform, proj coord.Projection) (*Pipeline, error) {
	if _, err := gt.Invert(); err != nil {
		return nil, err
	}
	return &Pipeline{gt: gt, proj: proj}, nil
}

// Forward maps a pixel position to WGS84 lon/lat.
func (p *Pipeline) Forward(px, py float64) (lon, lat float64) {
	x, y := p.gt.Apply(px, py)
	return p.proj.ToWGS84(x, y)
}

// PixelSizeMeters returns the ground size of the pixel at (px, py), the
// smaller of its width and height along the geodesic.
func (p *Pipeline) PixelSizeMeters(px, py float64) float64 {
	lon, lat := p.Forward(px, py)
	rLon, rLat := p.Forward(px+1, py)
	dLon, dLat := p.Forward(px, py+1)
	o := orb.Point{lon, lat}
	w := geo.Distance(o, orb.Point{rLon, rLat})
	h := geo.Distance(o, orb.Point{dLon, dLat})
	return math.Min(w, h)
}

// GeoTransform returns the forward affine part.
func (p *Pipeline) GeoTransform() GeoTransform { return p.gt }

// Projection returns the CRS conversion.
func (p *Pipeline) Projection() coord.Projection { return p.proj }
