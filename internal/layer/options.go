package layer

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/pspoerri/tilemesh/internal/cache"
	"github.com/pspoerri/tilemesh/internal/fetch"
	"github.com/pspoerri/tilemesh/internal/tileindex"
)

// ErrInvalidOptions marks a layer configuration error.
var ErrInvalidOptions = errors.New("layer: invalid options")

// Options configures a TileLayer. A zero MaxRequests, RequestTimeout or
// MeshMaxError takes the DefaultOptions value; zero cache bounds are
// unbounded.
type Options struct {
	TileSize   int `validate:"gt=0"`
	ZoomOffset int
	MinZoom    int `validate:"gte=0"`
	MaxZoom    int `validate:"gtefield=MinZoom,lte=30"`
	Extent     *tileindex.Extent
	ZRange     *tileindex.ZRange

	MaxRequests    int           `validate:"gt=0"`
	MaxCacheTiles  int           `validate:"gte=0"`
	MaxCacheBytes  int64         `validate:"gte=0"`
	RequestTimeout time.Duration `validate:"gte=0"`

	// MeshMaxError is the reprojection tolerance in degrees for raster
	// meshes; 0 takes the DefaultOptions value.
	MeshMaxError float64 `validate:"gte=0"`

	// Decode turns payloads into images before they reach OnTile.
	Decode bool
	// Format is the payload format when the provider does not name one; ""
	// sniffs.
	Format string `validate:"omitempty,oneof=png jpeg jpg webp"`
}

// DefaultOptions mirrors common web map defaults.
func DefaultOptions() Options {
	return Options{
		TileSize:       512,
		MaxZoom:        22,
		MaxRequests:    6,
		MaxCacheTiles:  500,
		MaxCacheBytes:  256 << 20,
		RequestTimeout: fetch.DefaultTimeout,
		MeshMaxError:   1e-5,
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func (o Options) validate() error {
	if err := validate.Struct(o); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidOptions, err)
	}
	if err := o.index().Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidOptions, err)
	}
	return nil
}

func (o Options) index() tileindex.Options {
	return tileindex.Options{
		MinZoom:    o.MinZoom,
		MaxZoom:    o.MaxZoom,
		TileSize:   o.TileSize,
		ZoomOffset: o.ZoomOffset,
		Extent:     o.Extent,
		ZRange:     o.ZRange,
	}
}

func (o Options) cache() cache.Options {
	return cache.Options{MaxTiles: o.MaxCacheTiles, MaxBytes: o.MaxCacheBytes}
}
