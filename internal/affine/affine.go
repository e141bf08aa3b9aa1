// Package affine implements the pixel <-> CRS affine mapping used by raster
// sources and its composition with a coord.Projection.
package affine

import (
	"errors"
	"fmt"
	"math"
)

// ErrSingularTransform is returned when a GeoTransform cannot be inverted.
var ErrSingularTransform = errors.New("affine: singular geotransform")

// singularEpsilon is relative to the squared magnitude of the linear part.
const singularEpsilon = 1e-12

// GeoTransform maps pixel coordinates to source CRS coordinates:
//
//	x = A*px + B*py + C
//	y = D*px + E*py + F
type GeoTransform struct {
	A, B, C float64
	D, E, F float64
}

// Identity returns the transform that maps every pixel onto itself.
func Identity() GeoTransform {
	return GeoTransform{A: 1, E: 1}
}

// Translate returns the transform that offsets pixels by (dx, dy).
func Translate(dx, dy float64) GeoTransform {
	return GeoTransform{A: 1, C: dx, E: 1, F: dy}
}

// FromGDAL converts a GDAL-ordered geotransform
// (originX, pixelW, rotX, originY, rotY, pixelH).
func FromGDAL(gt [6]float64) GeoTransform {
	return GeoTransform{
		A: gt[1], B: gt[2], C: gt[0],
		D: gt[4], E: gt[5], F: gt[3],
	}
}

// FromOriginAndScale builds a north-up transform from the upper-left corner
// and positive pixel sizes.
func FromOriginAndScale(originX, originY, pixelSizeX, pixelSizeY float64) GeoTransform {
	return GeoTransform{
		A: pixelSizeX, C: originX,
		E: -pixelSizeY, F: originY,
	}
}

// Apply maps pixel (px, py) to CRS coordinates.
func (g GeoTransform) Apply(px, py float64) (x, y float64) {
	x = g.A*px + g.B*py + g.C
	y = g.D*px + g.E*py + g.F
	return
}

// Determinant returns the determinant of the linear part.
func (g GeoTransform) Determinant() float64 {
	return g.A*g.E - g.B*g.D
}

// IsSingular reports whether the transform has no usable inverse.
func (g GeoTransform) IsSingular() bool {
	det := g.Determinant()
	if det == 0 || math.IsNaN(det) || math.IsInf(det, 0) {
		return true
	}
	scale := math.Max(math.Max(math.Abs(g.A), math.Abs(g.B)), math.Max(math.Abs(g.D), math.Abs(g.E)))
	return math.Abs(det) <= singularEpsilon*scale*scale
}

// Invert returns the CRS -> pixel transform.
func (g GeoTransform) Invert() (GeoTransform, error) {
	if g.IsSingular() {
		return GeoTransform{}, fmt.Errorf("%w: determinant %g", ErrSingularTransform, g.Determinant())
	}
	det := g.Determinant()
	inv := GeoTransform{
		A: g.E / det,
		B: -g.B / det,
		D: -g.D / det,
		E: g.A / det,
	}
	inv.C = -(inv.A*g.C + inv.B*g.F)
	inv.F = -(inv.D*g.C + inv.E*g.F)
	return inv, nil
}

// Compose returns the transform that applies g first, then next.
func (g GeoTransform) Compose(next GeoTransform) GeoTransform {
	return GeoTransform{
		A: next.A*g.A + next.B*g.D,
		B: next.A*g.B + next.B*g.E,
		C: next.A*g.C + next.B*g.F + next.C,
		D: next.D*g.A + next.E*g.D,
		E: next.D*g.B + next.E*g.E,
		F: next.D*g.C + next.E*g.F + next.F,
	}
}

func (g GeoTransform) String() string {
	return fmt.Sprintf("[%g %g %g; %g %g %g]", g.A, g.B, g.C, g.D, g.E, g.F)
}
