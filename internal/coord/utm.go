package coord

import "math"

// WGS84 ellipsoid.
const (
	wgs84A = 6378137.0
	wgs84F = 1 / 298.257223563

	utmK0            = 0.9996
	utmFalseEasting  = 500000.0
	utmFalseNorthing = 10000000.0
)

// UTM implements the Projection interface for the WGS84 / UTM zones
// (EPSG:326xx north, EPSG:327xx south) using the third-order Krüger series.
type UTM struct {
	zone  int
	south bool
	lon0  float64 // central meridian, radians

	a           float64 // rectifying radius
	e           float64
	alpha, beta [3]float64
	delta       [3]float64
}

// NewUTM returns the projection for a zone in 1..60.
func NewUTM(zone int, south bool) *UTM {
	n := wgs84F / (2 - wgs84F)
	n2, n3 := n*n, n*n*n
	return &UTM{
		zone:  zone,
		south: south,
		lon0:  (float64(zone)*6 - 183) * math.Pi / 180,
		a:     wgs84A / (1 + n) * (1 + n2/4 + n2*n2/64),
		e:     2 * math.Sqrt(n) / (1 + n),
		alpha: [3]float64{
			n/2 - 2*n2/3 + 5*n3/16,
			13*n2/48 - 3*n3/5,
			61 * n3 / 240,
		},
		beta: [3]float64{
			n/2 - 2*n2/3 + 37*n3/96,
			n2/48 + n3/15,
			17 * n3 / 480,
		},
		delta: [3]float64{
			2*n - 2*n2/3 - 2*n3,
			7*n2/3 - 8*n3/5,
			56 * n3 / 15,
		},
	}
}

func (u *UTM) EPSG() int {
	if u.south {
		return 32700 + u.zone
	}
	return 32600 + u.zone
}

// FromWGS84 converts lon/lat to easting/northing. Points far from the central
// meridian come back non-finite.
func (u *UTM) FromWGS84(lon, lat float64) (easting, northing float64) {
	phi := lat * math.Pi / 180
	dLambda := lon*math.Pi/180 - u.lon0

	sinPhi := math.Sin(phi)
	t := math.Sinh(math.Atanh(sinPhi) - u.e*math.Atanh(u.e*sinPhi))
	xiP := math.Atan2(t, math.Cos(dLambda))
	etaP := math.Atanh(math.Sin(dLambda) / math.Sqrt(1+t*t))

	xi, eta := xiP, etaP
	for j := 0; j < 3; j++ {
		k := float64(2 * (j + 1))
		xi += u.alpha[j] * math.Sin(k*xiP) * math.Cosh(k*etaP)
		eta += u.alpha[j] * math.Cos(k*xiP) * math.Sinh(k*etaP)
	}

	easting = utmFalseEasting + utmK0*u.a*eta
	northing = utmK0 * u.a * xi
	if u.south {
		northing += utmFalseNorthing
	}
	return
}

// ToWGS84 converts easting/northing to lon/lat.
func (u *UTM) ToWGS84(easting, northing float64) (lon, lat float64) {
	if u.south {
		northing -= utmFalseNorthing
	}
	xi := northing / (utmK0 * u.a)
	eta := (easting - utmFalseEasting) / (utmK0 * u.a)

	xiP, etaP := xi, eta
	for j := 0; j < 3; j++ {
		k := float64(2 * (j + 1))
		xiP -= u.beta[j] * math.Sin(k*xi) * math.Cosh(k*eta)
		etaP -= u.beta[j] * math.Cos(k*xi) * math.Sinh(k*eta)
	}

	chi := math.Asin(math.Sin(xiP) / math.Cosh(etaP))
	phi := chi
	for j := 0; j < 3; j++ {
		phi += u.delta[j] * math.Sin(float64(2*(j+1))*chi)
	}

	lon = (u.lon0 + math.Atan2(math.Sinh(etaP), math.Cos(xiP))) * 180 / math.Pi
	lat = phi * 180 / math.Pi
	return
}
