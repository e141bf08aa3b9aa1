package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"runtime"
	"time"

	"github.com/pspoerri/tilemesh/internal/affine"
	"github.com/pspoerri/tilemesh/internal/coord"
	"github.com/pspoerri/tilemesh/internal/geotiff"
	"github.com/pspoerri/tilemesh/internal/mesh"
)

// Set via -ldflags at build time.
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	var (
		maxError    float64
		maxDepth    int
		epsg        string
		concurrency int
		tileSize    int
		jsonOut     bool
		showVersion bool
	)

	flag.Float64Var(&maxError, "max-error", 1e-5, "Maximum reprojection error in degrees")
	flag.IntVar(&maxDepth, "max-depth", mesh.DefaultMaxDepth, "Maximum bisection depth")
	flag.StringVar(&epsg, "epsg", "", "Override the source CRS (e.g. EPSG:2056)")
	flag.IntVar(&concurrency, "concurrency", runtime.NumCPU(), "Number of parallel mesh builds")
	flag.IntVar(&tileSize, "tile-size", coord.DefaultTileSize, "Tile size in pixels for the suggested zoom")
	flag.BoolVar(&jsonOut, "json", false, "Write the meshes as JSON to stdout")
	flag.BoolVar(&showVersion, "version", false, "Print version and exit")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: meshinfo [flags] <file.tif>...\n\n")
		fmt.Fprintf(os.Stderr, "Build WGS84 reprojection meshes for GeoTIFF rasters.\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if showVersion {
		fmt.Printf("meshinfo %s (commit %s, built %s)\n", version, commit, buildDate)
		os.Exit(0)
	}
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(1)
	}

	override := 0
	if epsg != "" {
		code, err := coord.ParseEPSG(epsg)
		if err != nil {
			log.Fatalf("EPSG: %v", err)
		}
		override = code
	}

	rasters := make([]*geotiff.Raster, 0, flag.NArg())
	zooms := make([]zoomHint, 0, flag.NArg())
	jobs := make([]mesh.Job, 0, flag.NArg())
	for _, path := range flag.Args() {
		r, err := geotiff.Open(path)
		if err != nil {
			log.Fatalf("%v", err)
		}
		if override != 0 {
			r.EPSG = override
		}
		proj := r.Projection()
		if proj == nil {
			log.Fatalf("%s: unsupported or unknown CRS (EPSG:%d); use -epsg", path, r.EPSG)
		}
		hint, err := suggestZoom(r, proj, tileSize)
		if err != nil {
			log.Fatalf("%s: %v", path, err)
		}
		rasters = append(rasters, r)
		zooms = append(zooms, hint)
		jobs = append(jobs, mesh.Job{
			Width:        r.Width,
			Height:       r.Height,
			GeoTransform: r.Transform,
			Projection:   proj,
			Options:      mesh.Options{MaxError: maxError, MaxDepth: maxDepth},
		})
	}

	start := time.Now()
	meshes, err := mesh.BuildAll(context.Background(), jobs, concurrency)
	if err != nil {
		log.Fatalf("Building meshes: %v", err)
	}
	elapsed := time.Since(start)

	if jsonOut {
		out := make([]meshJSON, len(meshes))
		for i, m := range meshes {
			out[i] = meshJSON{
				File:      flag.Arg(i),
				EPSG:      rasters[i].EPSG,
				MaxZoom:   zooms[i].MaxZoom,
				Positions: m.Positions,
				UVs:       m.UVs,
				Triangles: m.Triangles,
			}
		}
		enc := json.NewEncoder(os.Stdout)
		if err := enc.Encode(out); err != nil {
			log.Fatalf("Encoding JSON: %v", err)
		}
		return
	}

	for i, m := range meshes {
		r := rasters[i]
		fmt.Printf("File:       %s\n", flag.Arg(i))
		fmt.Printf("Size:       %d x %d\n", r.Width, r.Height)
		fmt.Printf("CRS:        EPSG:%d\n", r.EPSG)
		fmt.Printf("Transform:  %s\n", r.Transform)
		if r.WorldFile != "" {
			fmt.Printf("World file: %s\n", r.WorldFile)
		}
		fmt.Printf("Pixel size: %.3f m\n", zooms[i].PixelSize)
		fmt.Printf("Max zoom:   %d (center tile %s)\n", zooms[i].MaxZoom, zooms[i].Center)
		fmt.Printf("Vertices:   %d\n", len(m.Positions))
		fmt.Printf("Triangles:  %d\n", len(m.Triangles))
		if len(m.Positions) > 0 {
			b := m.Bounds()
			fmt.Printf("Bounds:     lon [%.6f, %.6f], lat [%.6f, %.6f]\n", b.Min.X(), b.Max.X(), b.Min.Y(), b.Max.Y())
		}
		fmt.Println()
	}
	log.Printf("Built %d mesh(es) in %v", len(meshes), elapsed.Round(time.Millisecond))
}

// zoomHint is the deepest pyramid level that does not oversample a raster.
type zoomHint struct {
	PixelSize float64
	MaxZoom   int
	Center    coord.TileCoordinate
}

func suggestZoom(r *geotiff.Raster, proj coord.Projection, tileSize int) (zoomHint, error) {
	pipe, err := affine.NewPipeline(r.Transform, proj)
	if err != nil {
		return zoomHint{}, err
	}
	cx, cy := float64(r.Width)/2, float64(r.Height)/2
	lon, lat := pipe.Forward(cx, cy)
	h := zoomHint{PixelSize: pipe.PixelSizeMeters(cx, cy)}
	h.MaxZoom = coord.MaxZoomForResolution(h.PixelSize, lat, tileSize)
	x, y := coord.LonLatToTile(lon, lat, h.MaxZoom)
	h.Center = coord.TileCoordinate{X: x, Y: y, Z: h.MaxZoom}
	return h, nil
}

type meshJSON struct {
	File      string       `json:"file"`
	EPSG      int          `json:"epsg"`
	MaxZoom   int          `json:"max_zoom"`
	Positions [][3]float64 `json:"positions"`
	UVs       [][2]float32 `json:"uvs"`
	Triangles [][3]uint32  `json:"triangles"`
}
