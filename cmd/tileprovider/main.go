package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/pspoerri/tilemesh/internal/app"
	"github.com/pspoerri/tilemesh/internal/config"
)

// Set via -ldflags at build time.
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: tileprovider [flags]\n\n")
		fmt.Fprintf(os.Stderr, "Serve map tiles over WebSocket and HTTP. Configuration is read from the\n")
		fmt.Fprintf(os.Stderr, "environment (SOURCE_*, CACHE_*, HTTP_*, LOGGER_*, TRACING_*) and .env.\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if *showVersion {
		fmt.Printf("tileprovider %s (commit %s, built %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	cfg, err := config.New()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	app.Run(cfg, version)
}
