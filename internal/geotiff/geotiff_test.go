package geotiff

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/pspoerri/tilemesh/internal/affine"
)

type testTag struct {
	tag      uint16
	dataType uint16
	shorts   []uint16
	doubles  []float64
}

// writeTIFF writes a little-endian classic TIFF with one IFD and no pixel
// data.
func writeTIFF(t *testing.T, path string, tags []testTag) {
	t.Helper()
	le := binary.LittleEndian

	var ext bytes.Buffer // out-of-line values after the IFD
	ifdOffset := 8
	ifdSize := 2 + 12*len(tags) + 4
	extBase := ifdOffset + ifdSize

	var ifd bytes.Buffer
	binary.Write(&ifd, le, uint16(len(tags)))
	for _, tg := range tags {
		var val []byte
		var count int
		if tg.dataType == dtDouble {
			count = len(tg.doubles)
			for _, d := range tg.doubles {
				val = le.AppendUint64(val, math.Float64bits(d))
			}
		} else {
			count = len(tg.shorts)
			for _, s := range tg.shorts {
				val = le.AppendUint16(val, s)
			}
		}
		binary.Write(&ifd, le, tg.tag)
		binary.Write(&ifd, le, tg.dataType)
		binary.Write(&ifd, le, uint32(count))
		if len(val) <= 4 {
			field := make([]byte, 4)
			copy(field, val)
			ifd.Write(field)
		} else {
			binary.Write(&ifd, le, uint32(extBase+ext.Len()))
			ext.Write(val)
		}
	}
	binary.Write(&ifd, le, uint32(0))

	var out bytes.Buffer
	out.WriteString("II")
	binary.Write(&out, le, uint16(42))
	binary.Write(&out, le, uint32(ifdOffset))
	out.Write(ifd.Bytes())
	out.Write(ext.Bytes())
	if err := os.WriteFile(path, out.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
}

func sizeTags(w, h uint16) []testTag {
	return []testTag{
		{tag: tagImageWidth, dataType: dtShort, shorts: []uint16{w}},
		{tag: tagImageLength, dataType: dtShort, shorts: []uint16{h}},
		{tag: tagSamplesPerPixel, dataType: dtShort, shorts: []uint16{3}},
	}
}

func geoKeyTag(epsg uint16, pixelIsPoint bool) testTag {
	raster := uint16(1)
	if pixelIsPoint {
		raster = rasterPixelIsPoint
	}
	return testTag{tag: tagGeoKeyDirectory, dataType: dtShort, shorts: []uint16{
		1, 1, 0, 3,
		gkModelType, 0, 1, 1,
		gkRasterType, 0, 1, raster,
		gkProjectedCSType, 0, 1, epsg,
	}}
}

func near(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestOpen_TiepointAndScale(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lv95.tif")
	writeTIFF(t, path, append(sizeTags(1000, 500),
		testTag{tag: tagModelPixelScale, dataType: dtDouble, doubles: []float64{10, 10, 0}},
		testTag{tag: tagModelTiepoint, dataType: dtDouble, doubles: []float64{0, 0, 0, 2_600_000, 1_200_000, 0}},
		geoKeyTag(2056, false),
	))

	r, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if r.Width != 1000 || r.Height != 500 || r.EPSG != 2056 || r.Bands != 3 {
		t.Errorf("raster = %+v", r)
	}
	want := affine.FromOriginAndScale(2_600_000, 1_200_000, 10, 10)
	if r.Transform != want {
		t.Errorf("transform = %v, want %v", r.Transform, want)
	}
	if r.Projection() == nil || r.Projection().EPSG() != 2056 {
		t.Errorf("projection = %v", r.Projection())
	}
}

func TestOpen_PixelIsPointShiftsHalfPixel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "point.tif")
	writeTIFF(t, path, append(sizeTags(10, 10),
		testTag{tag: tagModelPixelScale, dataType: dtDouble, doubles: []float64{2, 2, 0}},
		testTag{tag: tagModelTiepoint, dataType: dtDouble, doubles: []float64{0, 0, 0, 100, 200, 0}},
		geoKeyTag(32632, true),
	))

	r, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	x, y := r.Transform.Apply(0, 0)
	if !near(x, 99) || !near(y, 201) {
		t.Errorf("corner = (%v, %v), want (99, 201)", x, y)
	}
}

func TestOpen_ModelTransformation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rotated.tif")
	m := []float64{
		0.5, 0.1, 0, 10,
		0.2, -0.5, 0, 50,
		0, 0, 0, 0,
		0, 0, 0, 1,
	}
	writeTIFF(t, path, append(sizeTags(20, 20),
		testTag{tag: tagModelTransformation, dataType: dtDouble, doubles: m},
		geoKeyTag(4326, false),
	))

	r, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	want := affine.GeoTransform{A: 0.5, B: 0.1, C: 10, D: 0.2, E: -0.5, F: 50}
	if r.Transform != want {
		t.Errorf("transform = %v, want %v", r.Transform, want)
	}
}

func TestOpen_WorldFileAndInferredCRS(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "plain.tif")
	writeTIFF(t, path, sizeTags(100, 100))
	tfw := "0.01\n0\n0\n-0.01\n8.005\n46.995\n"
	if err := os.WriteFile(filepath.Join(dir, "plain.tfw"), []byte(tfw), 0o644); err != nil {
		t.Fatal(err)
	}

	r, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if r.WorldFile == "" || r.EPSG != 4326 {
		t.Errorf("raster = %+v", r)
	}
	x, y := r.Transform.Apply(0, 0)
	if !near(x, 8) || !near(y, 47) {
		t.Errorf("corner = (%v, %v), want (8, 47)", x, y)
	}
}

func TestOpen_Errors(t *testing.T) {
	dir := t.TempDir()

	notTIFF := filepath.Join(dir, "text.tif")
	if err := os.WriteFile(notTIFF, []byte("hello world"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(notTIFF); !errors.Is(err, ErrNotTIFF) {
		t.Errorf("Open(text) = %v, want ErrNotTIFF", err)
	}

	bare := filepath.Join(dir, "bare.tif")
	writeTIFF(t, bare, sizeTags(4, 4))
	if _, err := Open(bare); !errors.Is(err, ErrNoGeoreference) {
		t.Errorf("Open(bare) = %v, want ErrNoGeoreference", err)
	}

	if _, err := Open(filepath.Join(dir, "missing.tif")); err == nil {
		t.Error("Open(missing) succeeded")
	}
}

func TestParseWorldFile_Rotation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "r.tfw")
	if err := os.WriteFile(path, []byte("2 1 1 -2 11.5 18.5"), 0o644); err != nil {
		t.Fatal(err)
	}
	gt, err := ParseWorldFile(path)
	if err != nil {
		t.Fatalf("ParseWorldFile: %v", err)
	}
	// Center of pixel (0,0) is (11.5, 18.5).
	x, y := gt.Apply(0.5, 0.5)
	if !near(x, 11.5) || !near(y, 18.5) {
		t.Errorf("pixel center = (%v, %v)", x, y)
	}
	if gt.B != 1 || gt.D != 1 {
		t.Errorf("rotation lost: %v", gt)
	}
}

func TestInferEPSG(t *testing.T) {
	tests := []struct {
		name string
		gt   affine.GeoTransform
		want int
	}{
		{"geographic", affine.FromOriginAndScale(5, 48, 0.001, 0.001), 4326},
		{"swiss", affine.FromOriginAndScale(2_600_000, 1_200_000, 1, 1), 2056},
		{"mercator", affine.FromOriginAndScale(900_000, 6_000_000, 10, 10), 3857},
		{"unknown", affine.FromOriginAndScale(1e9, 1e9, 1, 1), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := inferEPSG(tt.gt, 100, 100); got != tt.want {
				t.Errorf("inferEPSG = %d, want %d", got, tt.want)
			}
		})
	}
}
