package coord

import "math"

const (
	// EarthCircumference is the equatorial circumference in meters at zoom 0.
	EarthCircumference = 40075016.685578488
	// OriginShift is half the earth's circumference.
	OriginShift = EarthCircumference / 2.0
	// MaxMercatorLat is the latitude where the square Web Mercator world ends.
	MaxMercatorLat = 85.05112877980659
	// DefaultTileSize is the standard web map tile dimension.
	DefaultTileSize = 256
	// metersPerDegree is the length of one degree of latitude (and of
	// longitude at the equator).
	metersPerDegree = EarthCircumference / 360.0
)

// WebMercatorProj implements the Projection interface for EPSG:3857.
type WebMercatorProj struct{}

func (w *WebMercatorProj) EPSG() int { return 3857 }

func (w *WebMercatorProj) ToWGS84(x, y float64) (lon, lat float64) {
	lon = (x / OriginShift) * 180.0
	lat = (y / OriginShift) * 180.0
	lat = 180.0 / math.Pi * (2.0*math.Atan(math.Exp(lat*math.Pi/180.0)) - math.Pi/2.0)
	return
}

// FromWGS84 maps latitudes beyond MaxMercatorLat outside the square world;
// the poles themselves are not representable.
func (w *WebMercatorProj) FromWGS84(lon, lat float64) (x, y float64) {
	x = lon * OriginShift / 180.0
	y = math.Log(math.Tan((90.0+lat)*math.Pi/360.0)) / (math.Pi / 180.0)
	y = y * OriginShift / 180.0
	return
}

// LonLatToTile converts WGS84 lon/lat to tile coordinates at the given zoom level.
func LonLatToTile(lon, lat float64, zoom int) (x, y int) {
	n := math.Pow(2, float64(zoom))
	wx, wy := LonLatToWorld(lon, lat, n)
	x = clampInt(int(math.Floor(wx)), 0, int(n)-1)
	y = clampInt(int(math.Floor(wy)), 0, int(n)-1)
	return
}

// LonLatToWorld projects lon/lat onto a square Web Mercator world of the
// given size with y growing southwards. Longitude is not wrapped.
func LonLatToWorld(lon, lat, worldSize float64) (wx, wy float64) {
	lat = math.Max(-MaxMercatorLat, math.Min(MaxMercatorLat, lat))
	latRad := lat * math.Pi / 180.0
	wx = (lon + 180.0) / 360.0 * worldSize
	wy = (1.0 - math.Log(math.Tan(latRad)+1.0/math.Cos(latRad))/math.Pi) / 2.0 * worldSize
	return
}

// WorldToLonLat is the inverse of LonLatToWorld. wx outside [0, worldSize)
// yields longitudes beyond ±180.
func WorldToLonLat(wx, wy, worldSize float64) (lon, lat float64) {
	lon = wx/worldSize*360.0 - 180.0
	lat = math.Atan(math.Sinh(math.Pi*(1.0-2.0*wy/worldSize))) * 180.0 / math.Pi
	return
}

// TileBounds returns the WGS84 bounding box of a tile at the given zoom level.
// x may lie outside [0, 2^z); the bounds then extend past ±180.
func TileBounds(z, x, y int) (minLon, minLat, maxLon, maxLat float64) {
	n := math.Pow(2, float64(z))
	minLon = float64(x)/n*360.0 - 180.0
	maxLon = float64(x+1)/n*360.0 - 180.0
	minLat = math.Atan(math.Sinh(math.Pi*(1.0-2.0*float64(y+1)/n))) * 180.0 / math.Pi
	maxLat = math.Atan(math.Sinh(math.Pi*(1.0-2.0*float64(y)/n))) * 180.0 / math.Pi
	return
}

// ResolutionAtLat returns the ground resolution in meters/pixel at the given
// latitude and zoom level.
func ResolutionAtLat(lat float64, zoom, tileSize int) float64 {
	if tileSize <= 0 {
		tileSize = DefaultTileSize
	}
	return EarthCircumference * math.Cos(lat*math.Pi/180.0) / math.Pow(2, float64(zoom)) / float64(tileSize)
}

// MaxZoomForResolution returns the deepest zoom level whose ground resolution
// is still at least pixelSize meters.
func MaxZoomForResolution(pixelSize, centerLat float64, tileSize int) int {
	if pixelSize <= 0 {
		return 0
	}
	for z := 30; z >= 0; z-- {
		if ResolutionAtLat(centerLat, z, tileSize) >= pixelSize {
			return z
		}
	}
	return 0
}

// MetersToDegrees converts a ground distance at latitude lat into degrees of
// longitude and latitude.
func MetersToDegrees(meters, lat float64) (dLon, dLat float64) {
	dLat = meters / metersPerDegree
	c := math.Cos(lat * math.Pi / 180.0)
	if c < 1e-6 {
		c = 1e-6
	}
	dLon = meters / (metersPerDegree * c)
	return
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
