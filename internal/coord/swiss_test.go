package coord

import (
	"math"
	"testing"
)

func TestSwissLV95_KnownPoints(t *testing.T) {
	// Published LV95 coordinates; the polynomial is looser away from Bern.
	points := []struct {
		name     string
		e, n     float64
		lon, lat float64
		tolDeg   float64
		tolM     float64
	}{
		{"Bern", 2_600_000, 1_200_000, 7.438632, 46.951083, 0.001, 100},
		{"Zurich", 2_683_474, 1_247_862, 8.5417, 47.3769, 0.005, 600},
		{"Geneva", 2_500_560, 1_118_017, 6.1432, 46.2075, 0.01, 600},
	}
	p := &SwissLV95{}
	for _, pt := range points {
		t.Run(pt.name, func(t *testing.T) {
			lon, lat := p.ToWGS84(pt.e, pt.n)
			if math.Abs(lon-pt.lon) > pt.tolDeg || math.Abs(lat-pt.lat) > pt.tolDeg {
				t.Errorf("ToWGS84 = (%.6f, %.6f), want (%.6f, %.6f) ± %g", lon, lat, pt.lon, pt.lat, pt.tolDeg)
			}
			e, n := p.FromWGS84(pt.lon, pt.lat)
			if math.Abs(e-pt.e) > pt.tolM || math.Abs(n-pt.n) > pt.tolM {
				t.Errorf("FromWGS84 = (%.1f, %.1f), want (%.1f, %.1f) ± %g m", e, n, pt.e, pt.n, pt.tolM)
			}
		})
	}
}

func TestSwissLV95_RoundTripGrid(t *testing.T) {
	p := &SwissLV95{}
	// 10 km grid over the national extent.
	for e := 2_480_000.0; e <= 2_840_000; e += 10_000 {
		for n := 1_070_000.0; n <= 1_300_000; n += 10_000 {
			lon, lat := p.ToWGS84(e, n)
			ge, gn := p.FromWGS84(lon, lat)
			if math.Abs(ge-e) > 2 || math.Abs(gn-n) > 2 {
				t.Fatalf("(%.0f, %.0f) round-trips to (%.2f, %.2f)", e, n, ge, gn)
			}
		}
	}
}

func TestSwissLV95_Envelope(t *testing.T) {
	p := &SwissLV95{}
	if p.EPSG() != 2056 {
		t.Errorf("EPSG() = %d", p.EPSG())
	}

	tests := []struct {
		name    string
		x, y    float64
		forward bool
	}{
		{"easting far west", 0, 1_200_000, true},
		{"northing far south", 2_600_000, -5_000_000, true},
		{"nan easting", math.NaN(), 1_200_000, true},
		{"lon outside envelope", -120, 46, false},
		{"lat outside envelope", 8, -30, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, b := p.FromWGS84(tt.x, tt.y)
			if tt.forward {
				a, b = p.ToWGS84(tt.x, tt.y)
			}
			if !math.IsNaN(a) || !math.IsNaN(b) {
				t.Errorf("got (%v, %v), want NaN", a, b)
			}
		})
	}
}
