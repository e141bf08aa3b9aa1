package provider

import (
	"context"
	"fmt"

	"github.com/pspoerri/tilemesh/internal/coord"
	"github.com/pspoerri/tilemesh/internal/pmtiles"
)

// PMTilesSource serves tiles from a PMTiles archive.
type PMTilesSource struct {
	r    *pmtiles.Reader
	info Info
}

var _ Source = (*PMTilesSource)(nil)

// OpenPMTiles opens the archive at path.
func OpenPMTiles(path string, tileSize int) (*PMTilesSource, error) {
	r, err := pmtiles.Open(path)
	if err != nil {
		return nil, err
	}
	h := r.Header()
	info := Info{
		Name:     path,
		Format:   h.Format(),
		TileSize: tileSize,
		MinZoom:  int(h.MinZoom),
		MaxZoom:  int(h.MaxZoom),
		Bounds:   boundsOf(h.Bounds()),
	}
	meta, err := r.Metadata()
	if err != nil {
		r.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if s, ok := meta["name"].(string); ok && s != "" {
		info.Name = s
	}
	if s, ok := meta["attribution"].(string); ok {
		info.Attribution = s
	}
	return &PMTilesSource{r: r, info: info}, nil
}

func (s *PMTilesSource) Tile(_ context.Context, t coord.TileCoordinate) ([]byte, error) {
	if err := checkTile(s.info, t); err != nil {
		return nil, err
	}
	data, ok, err := s.r.Tile(t)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTileNotFound, t)
	}
	return data, nil
}

func (s *PMTilesSource) Info() Info { return s.info }

func (s *PMTilesSource) Close() error { return s.r.Close() }
