// Package config loads the provider service configuration from the
// environment.
package config

import (
	"fmt"
	"log"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

type (
	Config struct {
		HTTP    HTTP    `envPrefix:"HTTP_"`
		Logger  Logger  `envPrefix:"LOGGER_"`
		Source  Source  `envPrefix:"SOURCE_"`
		Cache   Cache   `envPrefix:"CACHE_"`
		Tracing Tracing `envPrefix:"TRACING_"`
	}

	HTTP struct {
		Addr         string        `env:"ADDR" envDefault:":8080"`
		ReadTimeout  time.Duration `env:"READ_TIMEOUT" envDefault:"15s"`
		WriteTimeout time.Duration `env:"WRITE_TIMEOUT" envDefault:"15s"`
		IdleTimeout  time.Duration `env:"IDLE_TIMEOUT" envDefault:"60s"`
	}

	Logger struct {
		Level string `env:"LEVEL" envDefault:"info"`
	}

	// Source selects where tiles come from.
	Source struct {
		Kind     string `env:"KIND" envDefault:"debug" validate:"oneof=pmtiles mbtiles debug xyz"`
		Path     string `env:"PATH" validate:"required_if=Kind pmtiles,required_if=Kind mbtiles"`
		URL      string `env:"URL" validate:"required_if=Kind xyz"`
		Format   string `env:"FORMAT" envDefault:"png" validate:"oneof=png jpeg webp"`
		TileSize int    `env:"TILE_SIZE" envDefault:"256" validate:"gt=0"`
		MinZoom  int    `env:"MIN_ZOOM" envDefault:"0" validate:"gte=0"`
		MaxZoom  int    `env:"MAX_ZOOM" envDefault:"22" validate:"gtefield=MinZoom,lte=30"`
	}

	// Cache configures the provider-side tile caches.
	Cache struct {
		MemoryTiles   int           `env:"MEMORY_TILES" envDefault:"10000" validate:"gte=0"`
		TTL           time.Duration `env:"TTL" envDefault:"1h"`
		Store         string        `env:"STORE" envDefault:"none" validate:"oneof=none redis sqlite"`
		RedisAddr     string        `env:"REDIS_ADDR" envDefault:"localhost:6379"`
		RedisPassword string        `env:"REDIS_PASSWORD"`
		RedisDB       int           `env:"REDIS_DB" envDefault:"0"`
		SQLitePath    string        `env:"SQLITE_PATH" envDefault:"tiles.db"`
	}

	Tracing struct {
		Endpoint    string `env:"ENDPOINT"`
		ServiceName string `env:"SERVICE_NAME" envDefault:"tileprovider"`
	}
)

// New loads an optional .env file and parses the process environment.
func New() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Printf("NOTICE: .env file not found or cannot be loaded: %v", err)
	}
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, err
	}
	return &cfg, cfg.Validate()
}

// Parse reads the configuration from the given variables only.
func Parse(environ map[string]string) (*Config, error) {
	cfg, err := env.ParseAsWithOptions[Config](env.Options{Environment: environ})
	if err != nil {
		return nil, err
	}
	return &cfg, cfg.Validate()
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks value constraints that env tags cannot express.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}
