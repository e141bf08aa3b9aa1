package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/cheggaaa/pb/v3"

	"github.com/pspoerri/tilemesh/internal/coord"
	"github.com/pspoerri/tilemesh/internal/fetch"
	"github.com/pspoerri/tilemesh/internal/layer"
	"github.com/pspoerri/tilemesh/internal/logger"
	"github.com/pspoerri/tilemesh/internal/tileindex"
	"github.com/pspoerri/tilemesh/internal/transport"
	"github.com/pspoerri/tilemesh/internal/viewport"
)

// Set via -ldflags at build time.
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	var (
		url         string
		outDir      string
		vp          viewport.Viewport
		tileSize    int
		minZoom     int
		maxZoom     int
		zoomOffset  int
		extent      string
		concurrency int
		timeout     time.Duration
		dryRun      bool
		verbose     bool
		showVersion bool
	)

	flag.StringVar(&url, "url", "ws://localhost:8080/ws", "Tile provider WebSocket URL")
	flag.StringVar(&outDir, "out", "tiles", "Output directory for z/x/y tiles")
	flag.Float64Var(&vp.CenterLon, "lon", 0, "Viewport center longitude")
	flag.Float64Var(&vp.CenterLat, "lat", 0, "Viewport center latitude")
	flag.Float64Var(&vp.Zoom, "zoom", 2, "Viewport zoom")
	flag.Float64Var(&vp.Pitch, "pitch", 0, "Viewport pitch in degrees")
	flag.Float64Var(&vp.Bearing, "bearing", 0, "Viewport bearing in degrees")
	flag.Float64Var(&vp.Width, "width", 1920, "Viewport width in pixels")
	flag.Float64Var(&vp.Height, "height", 1080, "Viewport height in pixels")
	flag.IntVar(&tileSize, "tile-size", 512, "Layer tile size in pixels")
	flag.IntVar(&minZoom, "min-zoom", 0, "Minimum pyramid level")
	flag.IntVar(&maxZoom, "max-zoom", 22, "Maximum pyramid level")
	flag.IntVar(&zoomOffset, "zoom-offset", 0, "Added to the computed pyramid level")
	flag.StringVar(&extent, "extent", "", "Restrict to minLon,minLat,maxLon,maxLat")
	flag.IntVar(&concurrency, "concurrency", 6, "Maximum concurrent tile requests")
	flag.DurationVar(&timeout, "timeout", fetch.DefaultTimeout, "Per-tile request timeout")
	flag.BoolVar(&dryRun, "dry-run", false, "List the visible tiles without fetching")
	flag.BoolVar(&verbose, "verbose", false, "Verbose output")
	flag.BoolVar(&showVersion, "version", false, "Print version and exit")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: tilefetch [flags]\n\n")
		fmt.Fprintf(os.Stderr, "Fetch the tiles visible in a viewport from a tile provider.\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if showVersion {
		fmt.Printf("tilefetch %s (commit %s, built %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	opts := layer.DefaultOptions()
	opts.TileSize = tileSize
	opts.MinZoom = minZoom
	opts.MaxZoom = maxZoom
	opts.ZoomOffset = zoomOffset
	opts.MaxRequests = concurrency
	opts.RequestTimeout = timeout
	if extent != "" {
		e, err := parseExtent(extent)
		if err != nil {
			log.Fatalf("Extent: %v", err)
		}
		opts.Extent = &e
	}

	if dryRun {
		tiles, err := tileindex.ComputeTiles(vp, tileindex.Options{
			MinZoom:    opts.MinZoom,
			MaxZoom:    opts.MaxZoom,
			TileSize:   opts.TileSize,
			ZoomOffset: opts.ZoomOffset,
			Extent:     opts.Extent,
		})
		if err != nil {
			log.Fatalf("Computing tiles: %v", err)
		}
		for _, t := range tiles {
			fmt.Println(t)
		}
		log.Printf("%d tile(s) visible", len(tiles))
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	conn, err := transport.Dial(ctx, url, nil)
	if err != nil {
		log.Fatalf("Connecting: %v", err)
	}
	var clientOpts []fetch.ClientOption
	var l logger.Logger = logger.NewNop()
	if verbose {
		zl, err := logger.NewZapLogger("debug")
		if err != nil {
			log.Fatalf("Logger: %v", err)
		}
		defer zl.Sync()
		l = zl
		clientOpts = append(clientOpts, fetch.WithLogger(l))
	}
	client := fetch.NewClient(conn, clientOpts...)
	defer client.Close()

	var (
		bar     *pb.ProgressBar
		mu      sync.Mutex
		written int
		failed  int
	)
	tl, err := layer.New(client, opts,
		layer.WithLogger(l),
		layer.OnTile(func(t layer.Tile) {
			defer bar.Increment()
			if err := writeTile(outDir, t); err != nil {
				log.Printf("Writing %s: %v", t.Coord, err)
				mu.Lock()
				failed++
				mu.Unlock()
				return
			}
			mu.Lock()
			written++
			mu.Unlock()
		}),
		layer.OnError(func(t coord.TileCoordinate, err error) {
			defer bar.Increment()
			if verbose {
				log.Printf("Tile %s: %v", t, err)
			}
			mu.Lock()
			failed++
			mu.Unlock()
		}),
	)
	if err != nil {
		log.Fatalf("Layer: %v", err)
	}

	start := time.Now()
	// The bar exists before the first callback can run.
	bar = pb.New(0)
	tiles, err := tl.Update(ctx, vp)
	if err != nil {
		log.Fatalf("Update: %v", err)
	}
	bar.SetTotal(int64(len(tiles)))
	bar.Start()

	done := make(chan struct{})
	go func() {
		tl.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		log.Printf("Interrupted, canceling outstanding requests")
	}
	tl.Close()
	bar.Finish()

	log.Printf("Fetched %d of %d tile(s) in %v (%d failed)", written, len(tiles), time.Since(start).Round(time.Millisecond), failed)
	if failed > 0 {
		os.Exit(1)
	}
}

func writeTile(dir string, t layer.Tile) error {
	ext := t.Format
	if ext == "" {
		ext = "bin"
	}
	path := filepath.Join(dir, strconv.Itoa(t.Coord.Z), strconv.Itoa(t.Coord.X), strconv.Itoa(t.Coord.Y)+"."+ext)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, t.Data, 0o644)
}

func parseExtent(s string) (tileindex.Extent, error) {
	var e tileindex.Extent
	if _, err := fmt.Sscanf(s, "%g,%g,%g,%g", &e.MinX, &e.MinY, &e.MaxX, &e.MaxY); err != nil {
		return e, fmt.Errorf("parsing %q: %w", s, err)
	}
	return e, e.Validate()
}
