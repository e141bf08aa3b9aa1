package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pspoerri/tilemesh/internal/coord"
)

// RedisStore keeps tiles in Redis with a TTL.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// RedisConfig configures NewRedisStore.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
	// Prefix namespaces keys, e.g. per tileset.
	Prefix string
}

var _ TileStore = (*RedisStore)(nil)

// NewRedisStore connects and pings the server.
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis at %s: %w", cfg.Addr, err)
	}

	ttl := cfg.TTL
	if ttl == 0 {
		ttl = 24 * time.Hour
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "tile"
	}
	return &RedisStore{client: client, ttl: ttl, prefix: prefix}, nil
}

func (s *RedisStore) key(t coord.TileCoordinate) string {
	return fmt.Sprintf("%s:%d:%d:%d", s.prefix, t.Z, t.X, t.Y)
}

func (s *RedisStore) Get(ctx context.Context, t coord.TileCoordinate) ([]byte, bool, error) {
	defer observe("redis", "get", time.Now())
	data, err := s.client.Get(ctx, s.key(t)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("redis get %s: %w", t, err)
	}
	return data, true, nil
}

func (s *RedisStore) Set(ctx context.Context, t coord.TileCoordinate, data []byte) error {
	defer observe("redis", "set", time.Now())
	if err := s.client.Set(ctx, s.key(t), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", t, err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
