package provider

import (
	"context"
	"image"
	"image/color"

	"github.com/pspoerri/tilemesh/internal/coord"
	"github.com/pspoerri/tilemesh/internal/encode"
)

// DebugSource renders synthetic tiles: a checkerboard whose hue follows the
// zoom level, with a dark border marking tile edges.
type DebugSource struct {
	enc  encode.Encoder
	info Info
}

var _ Source = (*DebugSource)(nil)

// NewDebugSource creates a debug source encoding tiles as format.
func NewDebugSource(format string, tileSize, minZoom, maxZoom int) (*DebugSource, error) {
	enc, err := encode.NewEncoder(format, 0)
	if err != nil {
		return nil, err
	}
	return &DebugSource{
		enc: enc,
		info: Info{
			Name:     "debug",
			Format:   enc.Format(),
			TileSize: tileSize,
			MinZoom:  minZoom,
			MaxZoom:  maxZoom,
			Bounds:   worldBounds,
		},
	}, nil
}

var zoomPalette = []color.RGBA{
	{0xe6, 0x4b, 0x3c, 0xff},
	{0xf3, 0x9c, 0x12, 0xff},
	{0x27, 0xae, 0x60, 0xff},
	{0x29, 0x80, 0xb9, 0xff},
	{0x8e, 0x44, 0xad, 0xff},
}

func (s *DebugSource) Tile(ctx context.Context, t coord.TileCoordinate) ([]byte, error) {
	if err := checkTile(s.info, t); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.enc.Encode(debugImage(t, s.info.TileSize))
}

func debugImage(t coord.TileCoordinate, size int) *image.RGBA {
	base := zoomPalette[t.Z%len(zoomPalette)]
	if (t.X+t.Y)%2 == 1 {
		base.R /= 2
		base.G /= 2
		base.B /= 2
	}
	border := color.RGBA{0x20, 0x20, 0x20, 0xff}
	w := max(1, size/128)

	img := image.NewRGBA(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			c := base
			if x < w || y < w || x >= size-w || y >= size-w {
				c = border
			}
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func (s *DebugSource) Info() Info { return s.info }

func (s *DebugSource) Close() error { return nil }
