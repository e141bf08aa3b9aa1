package main

import (
	"flag"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/paulmach/orb"

	"github.com/pspoerri/tilemesh/internal/coord"
	"github.com/pspoerri/tilemesh/internal/pmtiles"
)

// Set via -ldflags at build time.
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	var (
		name        string
		description string
		attribution string
		tempDir     string
		verbose     bool
		showVersion bool
	)

	flag.StringVar(&name, "name", "", "Tileset name (default: input directory name)")
	flag.StringVar(&description, "description", "", "Tileset description")
	flag.StringVar(&attribution, "attribution", "", "Tileset attribution")
	flag.StringVar(&tempDir, "temp-dir", "", "Directory for the tile spill file (default: output directory)")
	flag.BoolVar(&verbose, "verbose", false, "Verbose progress output")
	flag.BoolVar(&showVersion, "version", false, "Print version and exit")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: tilepack [flags] <tile-dir> <output.pmtiles>\n\n")
		fmt.Fprintf(os.Stderr, "Pack a z/x/y.<ext> tile directory into a PMTiles v3 archive.\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if showVersion {
		fmt.Printf("tilepack %s (commit %s, built %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	args := flag.Args()
	if len(args) != 2 {
		flag.Usage()
		os.Exit(1)
	}
	inputDir, outputPath := args[0], args[1]
	if !strings.HasSuffix(outputPath, ".pmtiles") {
		log.Fatal("Output file must have .pmtiles extension")
	}
	if name == "" {
		name = filepath.Base(filepath.Clean(inputDir))
	}

	start := time.Now()
	set, err := scanTiles(inputDir)
	if err != nil {
		log.Fatalf("Scanning %s: %v", inputDir, err)
	}
	if len(set.files) == 0 {
		log.Fatalf("No tiles found in %s", inputDir)
	}
	log.Printf("Found %d %s tile(s), zoom %d-%d", len(set.files), set.format, set.minZoom, set.maxZoom)

	w, err := pmtiles.NewWriter(outputPath, pmtiles.WriterOptions{
		MinZoom:     set.minZoom,
		MaxZoom:     set.maxZoom,
		Bounds:      set.bounds,
		TileType:    pmtiles.TileTypeForFormat(set.format),
		Name:        name,
		Description: description,
		Attribution: attribution,
		TempDir:     tempDir,
	})
	if err != nil {
		log.Fatalf("Creating writer: %v", err)
	}

	for i, f := range set.files {
		data, err := os.ReadFile(f.path)
		if err != nil {
			w.Abort()
			log.Fatalf("Reading %s: %v", f.path, err)
		}
		if err := w.WriteTile(f.tile, data); err != nil {
			w.Abort()
			log.Fatalf("Writing tile %s: %v", f.tile, err)
		}
		if verbose && (i+1)%10000 == 0 {
			log.Printf("  %d/%d tiles", i+1, len(set.files))
		}
	}
	if err := w.Finalize(); err != nil {
		log.Fatalf("Finalizing: %v", err)
	}

	tiles, reused := w.Stats()
	log.Printf("Wrote %s: %d tile(s), %d deduplicated, in %v", outputPath, tiles, reused, time.Since(start).Round(time.Millisecond))
}

type tileFile struct {
	tile coord.TileCoordinate
	path string
}

type tileSet struct {
	files            []tileFile
	format           string
	minZoom, maxZoom int
	bounds           orb.Bound
}

// scanTiles collects dir/z/x/y.ext files. All tiles must share one
// extension; other files are ignored.
func scanTiles(dir string) (*tileSet, error) {
	set := &tileSet{minZoom: -1}
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		t, ext, ok := parseTilePath(rel)
		if !ok {
			return nil
		}
		if set.format == "" {
			set.format = ext
		} else if ext != set.format {
			return fmt.Errorf("mixed tile formats %s and %s (%s)", set.format, ext, rel)
		}
		if !t.IsNormalized() {
			return fmt.Errorf("tile %s outside its zoom level (%s)", t, rel)
		}

		if len(set.files) == 0 {
			set.minZoom, set.maxZoom, set.bounds = t.Z, t.Z, t.Bounds()
		} else {
			set.minZoom = min(set.minZoom, t.Z)
			set.maxZoom = max(set.maxZoom, t.Z)
			set.bounds = set.bounds.Union(t.Bounds())
		}
		set.files = append(set.files, tileFile{tile: t, path: path})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(set.files, func(i, j int) bool {
		return pmtiles.TileID(set.files[i].tile) < pmtiles.TileID(set.files[j].tile)
	})
	return set, nil
}

// parseTilePath parses z/x/y.ext. jpg is reported as jpeg.
func parseTilePath(rel string) (coord.TileCoordinate, string, bool) {
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) != 3 {
		return coord.TileCoordinate{}, "", false
	}
	base, ext, ok := strings.Cut(parts[2], ".")
	if !ok || ext == "" {
		return coord.TileCoordinate{}, "", false
	}
	z, errZ := strconv.Atoi(parts[0])
	x, errX := strconv.Atoi(parts[1])
	y, errY := strconv.Atoi(base)
	if errZ != nil || errX != nil || errY != nil {
		return coord.TileCoordinate{}, "", false
	}
	ext = strings.ToLower(ext)
	if ext == "jpg" {
		ext = "jpeg"
	}
	return coord.TileCoordinate{X: x, Y: y, Z: z}, ext, true
}
