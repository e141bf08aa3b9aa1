package provider

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/pspoerri/tilemesh/internal/coord"
	"github.com/pspoerri/tilemesh/internal/logger"
	"github.com/pspoerri/tilemesh/internal/metrics"
)

// maxUpstreamTile caps the size of a tile read from upstream.
const maxUpstreamTile = 16 << 20

// XYZSource proxies an upstream XYZ tile server. The URL template may use
// {z}, {x}, {y} and {-y} (TMS row).
type XYZSource struct {
	template  string
	client    *http.Client
	userAgent string
	info      Info
	log       logger.Logger
}

var _ Source = (*XYZSource)(nil)

// XYZOptions configures NewXYZSource.
type XYZOptions struct {
	Template  string
	Format    string
	TileSize  int
	MinZoom   int
	MaxZoom   int
	Timeout   time.Duration
	UserAgent string
}

// NewXYZSource validates the template and creates the source.
func NewXYZSource(opts XYZOptions, l logger.Logger) (*XYZSource, error) {
	for _, p := range []string{"{z}", "{x}"} {
		if !strings.Contains(opts.Template, p) {
			return nil, fmt.Errorf("upstream url %q lacks %s", opts.Template, p)
		}
	}
	if !strings.Contains(opts.Template, "{y}") && !strings.Contains(opts.Template, "{-y}") {
		return nil, fmt.Errorf("upstream url %q lacks {y} or {-y}", opts.Template)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "tilemesh/1.0"
	}
	if l == nil {
		l = logger.NewNop()
	}
	return &XYZSource{
		template:  opts.Template,
		client:    &http.Client{Timeout: opts.Timeout},
		userAgent: opts.UserAgent,
		log:       l,
		info: Info{
			Name:     "xyz",
			Format:   opts.Format,
			TileSize: opts.TileSize,
			MinZoom:  opts.MinZoom,
			MaxZoom:  opts.MaxZoom,
			Bounds:   worldBounds,
		},
	}, nil
}

func (s *XYZSource) url(t coord.TileCoordinate) string {
	return strings.NewReplacer(
		"{z}", strconv.Itoa(t.Z),
		"{x}", strconv.Itoa(t.X),
		"{y}", strconv.Itoa(t.Y),
		"{-y}", strconv.Itoa(t.FlipY().Y),
	).Replace(s.template)
}

func (s *XYZSource) Tile(ctx context.Context, t coord.TileCoordinate) ([]byte, error) {
	if err := checkTile(s.info, t); err != nil {
		return nil, err
	}
	u := s.url(t)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", s.userAgent)

	start := time.Now()
	resp, err := s.client.Do(req)
	metrics.ProviderUpstreamLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("failed to fetch tile from upstream: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusNoContent:
		return nil, fmt.Errorf("%w: upstream %d for %s", ErrTileNotFound, resp.StatusCode, t)
	case resp.StatusCode != http.StatusOK:
		s.log.Warn("upstream returned non-200", "url", u, "status", resp.StatusCode)
		return nil, fmt.Errorf("upstream returned status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxUpstreamTile+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read tile data: %w", err)
	}
	if len(data) > maxUpstreamTile {
		return nil, fmt.Errorf("upstream tile %s exceeds %d bytes", t, maxUpstreamTile)
	}
	return data, nil
}

func (s *XYZSource) Info() Info { return s.info }

func (s *XYZSource) Close() error {
	s.client.CloseIdleConnections()
	return nil
}
