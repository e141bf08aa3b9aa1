package geotiff

// GeoKey IDs.
const (
	gkModelType        = 1024
	gkRasterType       = 1025
	gkGeographicType   = 2048
	gkProjectedCSType  = 3072
	rasterPixelIsPoint = 2
	userDefined        = 32767
)

// geoKeys is the decoded short-valued part of a GeoKeyDirectory.
type geoKeys map[uint16]uint16

func parseGeoKeys(dir []uint16) geoKeys {
	keys := make(geoKeys)
	if len(dir) < 4 {
		return keys
	}
	// Header: version, revision, minor revision, key count.
	n := int(dir[3])
	for i := 0; i < n; i++ {
		base := 4 + i*4
		if base+3 >= len(dir) {
			break
		}
		// Location 0 means the value is stored inline.
		if dir[base+1] == 0 {
			keys[dir[base]] = dir[base+3]
		}
	}
	return keys
}

// epsg returns the projected or geographic CRS code, 0 when absent or
// user-defined.
func (k geoKeys) epsg() int {
	for _, id := range []uint16{gkProjectedCSType, gkGeographicType} {
		if v, ok := k[id]; ok && v > 0 && v != userDefined {
			return int(v)
		}
	}
	return 0
}

func (k geoKeys) pixelIsPoint() bool {
	return k[gkRasterType] == rasterPixelIsPoint
}
