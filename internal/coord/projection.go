package coord

import (
	"fmt"
	"strconv"
	"strings"
)

// Projection converts between a source CRS and WGS84.
//
// ToWGS84 is the forward direction used when reprojecting raster pixels,
// FromWGS84 the inverse. Points outside the projection's valid domain come
// back as NaN or ±Inf; callers treat those as out of domain.
type Projection interface {
	// ToWGS84 converts source CRS coordinates to WGS84 longitude/latitude (degrees).
	ToWGS84(x, y float64) (lon, lat float64)

	// FromWGS84 converts WGS84 longitude/latitude (degrees) to source CRS coordinates.
	FromWGS84(lon, lat float64) (x, y float64)

	// EPSG returns the EPSG code for this projection.
	EPSG() int
}

// ForEPSG returns a Projection for the given EPSG code.
// Returns nil if the EPSG code is not supported.
func ForEPSG(epsg int) Projection {
	switch {
	case epsg == 2056:
		return &SwissLV95{}
	case epsg == 4326:
		return &WGS84Identity{}
	case epsg == 3857 || epsg == 900913:
		return &WebMercatorProj{}
	case epsg > 32600 && epsg <= 32660:
		return NewUTM(epsg-32600, false)
	case epsg > 32700 && epsg <= 32760:
		return NewUTM(epsg-32700, true)
	default:
		return nil
	}
}

// ParseEPSG accepts "3857", "EPSG:3857" or "epsg:3857".
func ParseEPSG(s string) (int, error) {
	code := strings.TrimSpace(s)
	if i := strings.IndexByte(code, ':'); i >= 0 {
		if !strings.EqualFold(code[:i], "EPSG") {
			return 0, fmt.Errorf("unsupported CRS authority in %q", s)
		}
		code = code[i+1:]
	}
	epsg, err := strconv.Atoi(code)
	if err != nil {
		return 0, fmt.Errorf("parsing EPSG code %q: %w", s, err)
	}
	if ForEPSG(epsg) == nil {
		return 0, fmt.Errorf("unsupported EPSG code: %d", epsg)
	}
	return epsg, nil
}

// WGS84Identity is a no-op projection for data already in EPSG:4326.
type WGS84Identity struct{}

func (w *WGS84Identity) ToWGS84(x, y float64) (lon, lat float64)   { return x, y }
func (w *WGS84Identity) FromWGS84(lon, lat float64) (x, y float64) { return lon, lat }
func (w *WGS84Identity) EPSG() int                                 { return 4326 }
