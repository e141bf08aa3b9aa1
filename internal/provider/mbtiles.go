package provider

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/pspoerri/tilemesh/internal/coord"
)

// MBTilesSource serves tiles from an MBTiles SQLite file. Rows are stored
// in TMS order.
type MBTilesSource struct {
	db   *sql.DB
	info Info
}

var _ Source = (*MBTilesSource)(nil)

// OpenMBTiles opens path read-only and loads its metadata table.
func OpenMBTiles(ctx context.Context, path string, tileSize int) (*MBTilesSource, error) {
	db, err := sql.Open("sqlite3", "file:"+path+"?mode=ro&_query_only=true")
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}

	info, err := readMBTilesMetadata(ctx, db)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if info.Name == "" {
		info.Name = path
	}
	info.TileSize = tileSize
	return &MBTilesSource{db: db, info: info}, nil
}

func readMBTilesMetadata(ctx context.Context, db *sql.DB) (Info, error) {
	info := Info{Format: "png", MinZoom: 0, MaxZoom: 22, Bounds: worldBounds}

	rows, err := db.QueryContext(ctx, "SELECT name, value FROM metadata")
	if err != nil {
		return info, fmt.Errorf("reading metadata: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			return info, err
		}
		switch name {
		case "name":
			info.Name = value
		case "format":
			info.Format = value
		case "attribution":
			info.Attribution = value
		case "minzoom":
			if v, err := strconv.Atoi(value); err == nil {
				info.MinZoom = v
			}
		case "maxzoom":
			if v, err := strconv.Atoi(value); err == nil {
				info.MaxZoom = v
			}
		case "bounds":
			if b, ok := parseBounds(value); ok {
				info.Bounds = b
			}
		}
	}
	return info, rows.Err()
}

func parseBounds(s string) ([4]float64, bool) {
	var b [4]float64
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return b, false
	}
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return b, false
		}
		b[i] = v
	}
	return b, true
}

func (s *MBTilesSource) Tile(ctx context.Context, t coord.TileCoordinate) ([]byte, error) {
	if err := checkTile(s.info, t); err != nil {
		return nil, err
	}
	tms := t.FlipY()
	var data []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT tile_data FROM tiles WHERE zoom_level = ? AND tile_column = ? AND tile_row = ?",
		tms.Z, tms.X, tms.Y,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrTileNotFound, t)
	}
	if err != nil {
		return nil, fmt.Errorf("querying tile %s: %w", t, err)
	}
	return data, nil
}

func (s *MBTilesSource) Info() Info { return s.info }

func (s *MBTilesSource) Close() error { return s.db.Close() }
