// Package geotiff reads the georeferencing of a GeoTIFF: its size, CRS and
// pixel-to-CRS affine transform. Pixel data is not decoded.
package geotiff

import (
	"errors"
	"fmt"
	"math"
	"os"

	"github.com/pspoerri/tilemesh/internal/affine"
	"github.com/pspoerri/tilemesh/internal/coord"
)

var (
	// ErrNotTIFF is returned for files without a TIFF header.
	ErrNotTIFF = errors.New("geotiff: not a TIFF file")
	// ErrNoGeoreference is returned when neither tags nor a world file
	// locate the raster.
	ErrNoGeoreference = errors.New("geotiff: no georeferencing")
)

// Raster describes a georeferenced image.
type Raster struct {
	Width, Height int
	// EPSG is 0 when the file does not name a CRS and none was inferred.
	EPSG      int
	Transform affine.GeoTransform
	Bands     int
	Bits      []uint16
	Tiled     bool
	NoData    string
	// WorldFile is set when the transform came from a sidecar file.
	WorldFile string
}

// Projection returns the CRS implementation, or nil when unsupported.
func (r *Raster) Projection() coord.Projection {
	return coord.ForEPSG(r.EPSG)
}

// Open reads the georeferencing of the TIFF at path. A world file next to
// it is used when the TIFF carries no transform tags. A missing CRS is
// guessed from the coordinate ranges.
func Open(path string) (*Raster, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	d, err := readFirstIFD(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if d.width == 0 || d.height == 0 {
		return nil, fmt.Errorf("%s: empty image %dx%d", path, d.width, d.height)
	}

	keys := parseGeoKeys(d.geoKeys)
	r := &Raster{
		Width:  int(d.width),
		Height: int(d.height),
		EPSG:   keys.epsg(),
		Bands:  int(d.samplesPerPixel),
		Bits:   d.bitsPerSample,
		Tiled:  d.tileWidth > 0 && d.tileHeight > 0,
		NoData: d.noData,
	}

	gt, ok := transformFromTags(d)
	if ok && keys.pixelIsPoint() {
		gt = centerToCorner(gt)
	}
	if !ok {
		wf := findWorldFile(path)
		if wf == "" {
			return nil, fmt.Errorf("%s: %w", path, ErrNoGeoreference)
		}
		if gt, err = ParseWorldFile(wf); err != nil {
			return nil, err
		}
		r.WorldFile = wf
	}
	r.Transform = gt

	if r.EPSG == 0 {
		r.EPSG = inferEPSG(gt, r.Width, r.Height)
	}
	return r, nil
}

// transformFromTags prefers ModelTransformation over a tiepoint and scale.
func transformFromTags(d *ifd) (affine.GeoTransform, bool) {
	if m := d.modelTransformation; len(m) >= 8 {
		return affine.FromGDAL([6]float64{m[3], m[0], m[1], m[7], m[4], m[5]}), true
	}
	if len(d.modelTiepoint) >= 6 && len(d.modelPixelScale) >= 2 {
		tp, sc := d.modelTiepoint, d.modelPixelScale
		// Tiepoint maps raster (I, J) to model (X, Y).
		originX := tp[3] - tp[0]*sc[0]
		originY := tp[4] + tp[1]*sc[1]
		return affine.FromOriginAndScale(originX, originY, sc[0], sc[1]), true
	}
	return affine.GeoTransform{}, false
}

// centerToCorner converts a transform addressing pixel centers into one
// addressing pixel corners.
func centerToCorner(gt affine.GeoTransform) affine.GeoTransform {
	return affine.Translate(-0.5, -0.5).Compose(gt)
}

// inferEPSG guesses a CRS from the raster's upper-left corner and extent.
func inferEPSG(gt affine.GeoTransform, w, h int) int {
	minX, maxY := gt.Apply(0, 0)
	maxX, minY := gt.Apply(float64(w), float64(h))
	if minX > maxX {
		minX, maxX = maxX, minX
	}
	if minY > maxY {
		minY, maxY = maxY, minY
	}

	switch {
	case minX >= -180 && maxX <= 360 && minY >= -90 && maxY <= 90:
		return 4326
	case minX >= 2_400_000 && maxX <= 2_900_000 && minY >= 1_000_000 && maxY <= 1_400_000:
		return 2056
	case math.Abs(minX) <= 20037508.34 && math.Abs(maxX) <= 20037508.34 && math.Abs(minY) <= 20048966.1 && math.Abs(maxY) <= 20048966.1:
		return 3857
	}
	return 0
}
