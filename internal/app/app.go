// Package app wires the tile provider service from its configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/pspoerri/tilemesh/internal/config"
	"github.com/pspoerri/tilemesh/internal/logger"
	"github.com/pspoerri/tilemesh/internal/provider"
	"github.com/pspoerri/tilemesh/internal/store"
	"github.com/pspoerri/tilemesh/internal/telemetry"
)

// Run starts the provider and blocks until SIGINT or SIGTERM.
func Run(cfg *config.Config, version string) {
	l, err := logger.NewZapLogger(cfg.Logger.Level)
	if err != nil {
		log.Fatalf("failed to create logger: %v", err)
	}
	defer l.Sync()

	l.Info("starting tile provider", "version", version, "source", cfg.Source.Kind, "cache_store", cfg.Cache.Store)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.InitTracer(ctx, cfg.Tracing.ServiceName, version, cfg.Tracing.Endpoint)
	if err != nil {
		l.Fatal("failed to initialize tracing", "error", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			l.Error("failed to shutdown tracing", "error", err)
		}
	}()
	var tp trace.TracerProvider
	if cfg.Tracing.Endpoint != "" {
		tp = otel.GetTracerProvider()
		l.Info("tracing initialized", "endpoint", cfg.Tracing.Endpoint)
	}

	src, err := OpenSource(ctx, cfg.Source, l)
	if err != nil {
		l.Fatal("failed to open tile source", "error", err)
	}
	cached, err := WithCache(ctx, src, cfg.Cache, l)
	if err != nil {
		src.Close()
		l.Fatal("failed to set up tile cache", "error", err)
	}
	defer cached.Close()

	info := cached.Info()
	l.Info("tile source ready", "name", info.Name, "format", info.Format,
		"min_zoom", info.MinZoom, "max_zoom", info.MaxZoom)

	server := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      provider.NewRouter(provider.NewServer(ctx, cached, l), tp),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	go func() {
		l.Info("starting http server", "addr", cfg.HTTP.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.Fatal("failed to start server", "error", err)
		}
	}()

	<-ctx.Done()
	l.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		l.Error("server forced to shutdown", "error", err)
	}
	l.Info("server stopped")
}

// OpenSource opens the configured tile source.
func OpenSource(ctx context.Context, cfg config.Source, l logger.Logger) (provider.Source, error) {
	var (
		src provider.Source
		err error
	)
	switch cfg.Kind {
	case "pmtiles":
		src, err = asSource(provider.OpenPMTiles(cfg.Path, cfg.TileSize))
	case "mbtiles":
		src, err = asSource(provider.OpenMBTiles(ctx, cfg.Path, cfg.TileSize))
	case "xyz":
		src, err = asSource(provider.NewXYZSource(provider.XYZOptions{
			Template: cfg.URL,
			Format:   cfg.Format,
			TileSize: cfg.TileSize,
			MinZoom:  cfg.MinZoom,
			MaxZoom:  cfg.MaxZoom,
		}, l))
	case "debug":
		src, err = asSource(provider.NewDebugSource(cfg.Format, cfg.TileSize, cfg.MinZoom, cfg.MaxZoom))
	default:
		err = fmt.Errorf("unknown source kind %q", cfg.Kind)
	}
	if err != nil {
		return nil, fmt.Errorf("opening %s source: %w", cfg.Kind, err)
	}
	return src, nil
}

// asSource keeps a failed constructor's typed nil out of the interface.
func asSource[S provider.Source](s S, err error) (provider.Source, error) {
	if err != nil {
		return nil, err
	}
	return s, nil
}

// WithCache wraps src in the memory cache and the configured second-level
// store.
func WithCache(ctx context.Context, src provider.Source, cfg config.Cache, l logger.Logger) (*provider.CachedSource, error) {
	var ts store.TileStore
	switch cfg.Store {
	case "redis":
		rs, err := store.NewRedisStore(ctx, store.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			TTL:      cfg.TTL,
			Prefix:   "tile:" + src.Info().Name,
		})
		if err != nil {
			return nil, err
		}
		ts = rs
	case "sqlite":
		ss, err := store.NewSQLiteStore(cfg.SQLitePath, cfg.TTL, l)
		if err != nil {
			return nil, err
		}
		ts = ss
	case "none", "":
	default:
		return nil, fmt.Errorf("unknown cache store %q", cfg.Store)
	}
	return provider.NewCachedSource(src, provider.CacheOptions{
		MemoryTiles: cfg.MemoryTiles,
		TTL:         cfg.TTL,
		Store:       ts,
	}, l), nil
}
