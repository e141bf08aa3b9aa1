// Package tileindex selects the pyramid tiles needed to cover a viewport.
package tileindex

import (
	"errors"
	"fmt"
	"math"

	"github.com/paulmach/orb"

	"github.com/pspoerri/tilemesh/internal/coord"
	"github.com/pspoerri/tilemesh/internal/viewport"
)

// ErrInvalidOptions marks a configuration error in Options.
var ErrInvalidOptions = errors.New("tileindex: invalid options")

// Extent is an optional geographic bounding box a layer is restricted to.
type Extent struct {
	MinX, MinY, MaxX, MaxY float64
}

// Validate checks MinX <= MaxX and MinY <= MaxY.
func (e Extent) Validate() error {
	if !(e.MinX <= e.MaxX) || !(e.MinY <= e.MaxY) {
		return fmt.Errorf("%w: extent [%g %g %g %g] is inverted", ErrInvalidOptions, e.MinX, e.MinY, e.MaxX, e.MaxY)
	}
	return nil
}

// Bound converts the extent to an orb.Bound.
func (e Extent) Bound() orb.Bound {
	return orb.Bound{Min: orb.Point{e.MinX, e.MinY}, Max: orb.Point{e.MaxX, e.MaxY}}
}

// ZRange bounds the height of the content in meters.
type ZRange struct {
	MinZ, MaxZ float64
}

// MaxZoomLimit is the deepest pyramid level; tile indices at 2^30 still fit
// in an int32.
const MaxZoomLimit = 30

// Options configures ComputeTiles. Extent and ZRange are optional.
type Options struct {
	MinZoom    int
	MaxZoom    int
	TileSize   int
	ZoomOffset int
	Extent     *Extent
	ZRange     *ZRange
}

// Validate reports configuration errors.
func (o Options) Validate() error {
	if o.TileSize <= 0 {
		return fmt.Errorf("%w: tile size %d must be positive", ErrInvalidOptions, o.TileSize)
	}
	if o.MinZoom < 0 {
		return fmt.Errorf("%w: min zoom %d is negative", ErrInvalidOptions, o.MinZoom)
	}
	if o.MaxZoom > MaxZoomLimit {
		return fmt.Errorf("%w: max zoom %d exceeds %d", ErrInvalidOptions, o.MaxZoom, MaxZoomLimit)
	}
	if o.MinZoom > o.MaxZoom {
		return fmt.Errorf("%w: min zoom %d exceeds max zoom %d", ErrInvalidOptions, o.MinZoom, o.MaxZoom)
	}
	if o.Extent != nil {
		if err := o.Extent.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// TargetZoom returns the pyramid level for the viewport and whether any
// tiles should be shown at all.
func TargetZoom(vp viewport.Viewport, opts Options) (int, bool) {
	if math.IsNaN(vp.Zoom) || math.IsInf(vp.Zoom, 0) {
		return opts.MinZoom, opts.Extent != nil
	}
	// Round half up.
	z := int(math.Floor(vp.Zoom+math.Log2(float64(viewport.ReferenceTileSize)/float64(opts.TileSize))+0.5)) + opts.ZoomOffset
	if z < opts.MinZoom {
		if opts.Extent == nil {
			return 0, false
		}
		z = opts.MinZoom
	}
	if z > opts.MaxZoom {
		z = opts.MaxZoom
	}
	return z, true
}

// ComputeTiles returns the normalized, de-duplicated set of tiles at the
// target zoom that intersect the viewport footprint (and the extent, if any),
// ordered along a Hilbert curve.
func ComputeTiles(vp viewport.Viewport, opts Options) ([]coord.TileCoordinate, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	z, ok := TargetZoom(vp, opts)
	if !ok {
		return nil, nil
	}

	footprint, ok := vp.Footprint()
	if !ok {
		footprint = viewport.World()
	}
	if footprint.Max.X()-footprint.Min.X() >= 360 {
		footprint.Min[0], footprint.Max[0] = -180, 180
	}

	s := search{
		z:         z,
		footprint: footprint,
		margin:    zMargin(vp, opts.ZRange),
	}
	if opts.Extent != nil {
		b := opts.Extent.Bound()
		s.extent = &b
	}
	return s.run(), nil
}

type search struct {
	z         int
	footprint orb.Bound
	extent    *orb.Bound
	margin    float64 // meters
}

func (s *search) run() []coord.TileCoordinate {
	seen := make(map[coord.TileCoordinate]struct{})
	var out []coord.TileCoordinate

	// One root per world copy touched by the footprint.
	first := int(math.Floor((s.footprint.Min.X() + 180) / 360))
	last := int(math.Floor((s.footprint.Max.X() + 180) / 360))
	if s.footprint.Max.X() > s.footprint.Min.X() && (s.footprint.Max.X()+180) == float64(last)*360 {
		last-- // footprint ends exactly on a world edge
	}

	stack := make([]coord.TileCoordinate, 0, 64)
	for k := last; k >= first; k-- {
		stack = append(stack, coord.TileCoordinate{X: k, Y: 0, Z: 0})
	}

	for len(stack) > 0 {
		t := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if !s.visible(t) {
			continue
		}
		if t.Z == s.z {
			n := t.Normalize()
			if _, dup := seen[n]; !dup {
				seen[n] = struct{}{}
				out = append(out, n)
			}
			continue
		}
		children := t.Children()
		for i := len(children) - 1; i >= 0; i-- {
			stack = append(stack, children[i])
		}
	}

	coord.SortTilesByHilbert(out)
	return out
}

// visible tests the un-normalized tile against the footprint and the
// normalized tile against the extent.
func (s *search) visible(t coord.TileCoordinate) bool {
	b := t.Bounds()
	if s.margin > 0 {
		b = inflate(b, s.margin)
	}
	if !intersects(b, s.footprint) {
		return false
	}
	if s.extent != nil {
		nb := t.Normalize().Bounds()
		if s.margin > 0 {
			nb = inflate(nb, s.margin)
		}
		if !intersects(nb, *s.extent) {
			return false
		}
	}
	return true
}

// intersects treats touching edges as disjoint so that a footprint ending
// exactly on a tile border does not pull in the neighbour.
func intersects(a, b orb.Bound) bool {
	return a.Min.X() < b.Max.X() && b.Min.X() < a.Max.X() &&
		a.Min.Y() < b.Max.Y() && b.Min.Y() < a.Max.Y() ||
		isPoint(a) && a.Intersects(b) || isPoint(b) && b.Intersects(a)
}

func isPoint(b orb.Bound) bool {
	return b.Min.X() == b.Max.X() || b.Min.Y() == b.Max.Y()
}

// zMargin is how far, in ground meters, content of the given height can
// appear displaced from its footprint on screen.
func zMargin(vp viewport.Viewport, zr *ZRange) float64 {
	if zr == nil {
		return 0
	}
	h := math.Max(math.Abs(zr.MinZ), math.Abs(zr.MaxZ))
	if h == 0 || math.IsNaN(h) {
		return 0
	}
	slope := math.Tan(math.Min(math.Abs(vp.Pitch), 89) * math.Pi / 180)
	if f := vp.FocalLength(); f > 0 {
		slope += math.Hypot(vp.Width, vp.Height) / 2 / f
	}
	return h * slope
}

func inflate(b orb.Bound, meters float64) orb.Bound {
	lat := math.Max(math.Abs(b.Min.Y()), math.Abs(b.Max.Y()))
	dLon, dLat := coord.MetersToDegrees(meters, lat)
	return orb.Bound{
		Min: orb.Point{b.Min.X() - dLon, b.Min.Y() - dLat},
		Max: orb.Point{b.Max.X() + dLon, b.Max.Y() + dLat},
	}
}
