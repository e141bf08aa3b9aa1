package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"

	"github.com/pspoerri/tilemesh/internal/coord"
	"github.com/pspoerri/tilemesh/internal/logger"
)

//go:embed migrations/*.sql
var migrations embed.FS

// SQLiteStore keeps tiles in a local SQLite database.
type SQLiteStore struct {
	db  *sql.DB
	ttl time.Duration
	log logger.Logger
}

var _ TileStore = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) the database at path and applies
// migrations. Entries older than ttl are treated as misses; ttl 0 keeps
// them forever.
func NewSQLiteStore(path string, ttl time.Duration, l logger.Logger) (*SQLiteStore, error) {
	if l == nil {
		l = logger.NewNop()
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	s := &SQLiteStore{db: db, ttl: ttl, log: l}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating %s: %w", path, err)
	}
	l.Info("sqlite tile store initialized", "path", path)
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return err
	}
	return goose.Up(s.db, "migrations")
}

func (s *SQLiteStore) Get(ctx context.Context, t coord.TileCoordinate) ([]byte, bool, error) {
	defer observe("sqlite", "get", time.Now())

	var (
		data      []byte
		createdAt int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT tile_data, created_at FROM tile_cache WHERE z = ? AND x = ? AND y = ?`,
		t.Z, t.X, t.Y).Scan(&data, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		s.log.Error("sqlite get failed", "tile", t.String(), "error", err)
		return nil, false, err
	}
	if s.ttl > 0 && time.Since(time.Unix(createdAt, 0)) > s.ttl {
		return nil, false, nil
	}
	return data, true, nil
}

func (s *SQLiteStore) Set(ctx context.Context, t coord.TileCoordinate, data []byte) error {
	defer observe("sqlite", "set", time.Now())

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tile_cache (z, x, y, tile_data, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(z, x, y) DO UPDATE SET tile_data = excluded.tile_data, created_at = excluded.created_at`,
		t.Z, t.X, t.Y, data, time.Now().Unix())
	if err != nil {
		s.log.Error("sqlite set failed", "tile", t.String(), "error", err)
		return err
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
