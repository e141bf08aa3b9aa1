// Package mesh builds adaptive triangle meshes that reproject a gridded
// raster from its source CRS into WGS84.
package mesh

import (
	"errors"
	"fmt"

	"github.com/paulmach/orb"

	"github.com/pspoerri/tilemesh/internal/affine"
	"github.com/pspoerri/tilemesh/internal/coord"
)

// DefaultMaxDepth bounds subdivision when Options.MaxDepth is zero.
const DefaultMaxDepth = 16

// ErrInvalidOptions marks a configuration error passed to Build.
var ErrInvalidOptions = errors.New("mesh: invalid options")

// Mesh is an indexed triangle mesh. Positions are lon, lat, 0 in degrees;
// UVs are the normalized pixel position of each vertex.
type Mesh struct {
	Positions [][3]float64
	UVs       [][2]float32
	Triangles [][3]uint32
}

// Bounds returns the lon/lat bounding box of all vertices.
func (m *Mesh) Bounds() orb.Bound {
	if len(m.Positions) == 0 {
		return orb.Bound{}
	}
	first := orb.Point{m.Positions[0][0], m.Positions[0][1]}
	b := orb.Bound{Min: first, Max: first}
	for _, p := range m.Positions[1:] {
		b = b.Extend(orb.Point{p[0], p[1]})
	}
	return b
}

// Options controls refinement.
type Options struct {
	// MaxError is the largest tolerated distance, in degrees, between the
	// exact reprojection and the linear interpolation inside a triangle.
	MaxError float64
	// MaxDepth bounds the number of bisections of a seed triangle.
	MaxDepth int
}

// Build reprojects the pixel rectangle [0,width]×[0,height] through gt and
// proj with the default depth limit.
func Build(width, height int, gt affine.GeoTransform, proj coord.Projection, maxError float64) (*Mesh, error) {
	return BuildWithOptions(width, height, gt, proj, Options{MaxError: maxError})
}

// BuildWithOptions is Build with explicit refinement options.
func BuildWithOptions(width, height int, gt affine.GeoTransform, proj coord.Projection, opts Options) (*Mesh, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: raster size %dx%d", ErrInvalidOptions, width, height)
	}
	if !(opts.MaxError > 0) {
		return nil, fmt.Errorf("%w: max error %g must be positive", ErrInvalidOptions, opts.MaxError)
	}
	if opts.MaxDepth < 0 {
		return nil, fmt.Errorf("%w: max depth %d is negative", ErrInvalidOptions, opts.MaxDepth)
	}
	if opts.MaxDepth == 0 {
		opts.MaxDepth = DefaultMaxDepth
	}
	if proj == nil {
		return nil, fmt.Errorf("%w: nil projection", ErrInvalidOptions)
	}

	pipe, err := affine.NewPipeline(gt, proj)
	if err != nil {
		return nil, fmt.Errorf("mesh: %w", err)
	}

	b := newBuilder(float64(width), float64(height), pipe, opts)
	b.refine()
	return b.output(), nil
}
