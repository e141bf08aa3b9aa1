package geotiff

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pspoerri/tilemesh/internal/affine"
)

// ParseWorldFile reads a TIFF world file. Its six lines are A, D, B, E and
// the center of the upper-left pixel; the returned transform addresses pixel
// corners. Rotation terms are kept.
func ParseWorldFile(path string) (affine.GeoTransform, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return affine.GeoTransform{}, fmt.Errorf("reading world file: %w", err)
	}

	fields := strings.Fields(string(data))
	if len(fields) < 6 {
		return affine.GeoTransform{}, fmt.Errorf("world file %s: expected 6 values, got %d", path, len(fields))
	}
	var v [6]float64
	for i := range v {
		if v[i], err = strconv.ParseFloat(fields[i], 64); err != nil {
			return affine.GeoTransform{}, fmt.Errorf("world file %s line %d: %w", path, i+1, err)
		}
	}

	gt := affine.FromGDAL([6]float64{v[4], v[0], v[2], v[5], v[1], v[3]})
	return centerToCorner(gt), nil
}

// findWorldFile returns the sidecar world file of a TIFF, or "".
func findWorldFile(tiffPath string) string {
	base := strings.TrimSuffix(tiffPath, filepath.Ext(tiffPath))
	for _, ext := range []string{".tfw", ".TFW", ".tifw", ".TIFW", ".wld"} {
		if _, err := os.Stat(base + ext); err == nil {
			return base + ext
		}
	}
	return ""
}
