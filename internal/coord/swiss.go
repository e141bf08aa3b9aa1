package coord

import "math"

// SwissLV95 implements the Projection interface for EPSG:2056 (CH1903+ / LV95)
// with swisstopo's published polynomial approximation (~1 m accuracy).
//
// The polynomials diverge quickly away from Switzerland, so inputs outside
// a generous envelope around the country are reported as NaN.
//
// Reference: https://www.swisstopo.admin.ch/en/knowledge-facts/surveying-geodesy/reference-frames/local/lv95.html
type SwissLV95 struct{}

// Validity envelope, in LV95 meters and WGS84 degrees.
const (
	lv95MinE, lv95MaxE     = 2_000_000, 3_200_000
	lv95MinN, lv95MaxN     = 800_000, 1_600_000
	lv95MinLon, lv95MaxLon = 0.0, 16.0
	lv95MinLat, lv95MaxLat = 42.0, 51.0
)

func (s *SwissLV95) EPSG() int { return 2056 }

// ToWGS84 converts Swiss LV95 easting/northing to WGS84 longitude/latitude (degrees).
func (s *SwissLV95) ToWGS84(easting, northing float64) (lon, lat float64) {
	if !(easting >= lv95MinE && easting <= lv95MaxE && northing >= lv95MinN && northing <= lv95MaxN) {
		return math.NaN(), math.NaN()
	}

	// Differences from the Bern reference in 1000 km units.
	y := (easting - 2_600_000) / 1_000_000
	x := (northing - 1_200_000) / 1_000_000

	// 10000" units.
	lonSec := 2.6779094 +
		4.728982*y +
		0.791484*y*x +
		0.1306*y*x*x -
		0.0436*y*y*y
	latSec := 16.9023892 +
		3.238272*x -
		0.270978*y*y -
		0.002528*x*x -
		0.0447*y*y*x -
		0.0140*x*x*x

	lon = lonSec * 100.0 / 36.0
	lat = latSec * 100.0 / 36.0
	return
}

// FromWGS84 converts WGS84 longitude/latitude (degrees) to Swiss LV95 easting/northing.
func (s *SwissLV95) FromWGS84(lon, lat float64) (easting, northing float64) {
	if !(lon >= lv95MinLon && lon <= lv95MaxLon && lat >= lv95MinLat && lat <= lv95MaxLat) {
		return math.NaN(), math.NaN()
	}

	phiAux := (lat*3600 - 169028.66) / 10000
	lambdaAux := (lon*3600 - 26782.5) / 10000

	easting = 2_600_072.37 +
		211_455.93*lambdaAux -
		10_938.51*lambdaAux*phiAux -
		0.36*lambdaAux*phiAux*phiAux -
		44.54*lambdaAux*lambdaAux*lambdaAux
	northing = 1_200_147.07 +
		308_807.95*phiAux +
		3_745.25*lambdaAux*lambdaAux +
		76.63*phiAux*phiAux -
		194.56*lambdaAux*lambdaAux*phiAux +
		119.79*phiAux*phiAux*phiAux
	return
}
