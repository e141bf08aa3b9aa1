// Package layer drives a tiled layer from viewport changes: it selects the
// visible tiles, serves them from a local cache and fetches the rest from a
// provider with bounded concurrency.
package layer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/pspoerri/tilemesh/internal/affine"
	"github.com/pspoerri/tilemesh/internal/cache"
	"github.com/pspoerri/tilemesh/internal/coord"
	"github.com/pspoerri/tilemesh/internal/encode"
	"github.com/pspoerri/tilemesh/internal/fetch"
	"github.com/pspoerri/tilemesh/internal/logger"
	"github.com/pspoerri/tilemesh/internal/mesh"
	"github.com/pspoerri/tilemesh/internal/metrics"
	"github.com/pspoerri/tilemesh/internal/tileindex"
	"github.com/pspoerri/tilemesh/internal/viewport"
)

// ErrClosed is returned by Update after Close.
var ErrClosed = errors.New("layer: closed")

// Fetcher issues provider requests. *fetch.Client implements it.
type Fetcher interface {
	Request(ctx context.Context, method string, payload any, opts ...fetch.RequestOption) (*fetch.Response, error)
}

// Tile is a loaded tile handed to the renderer.
type Tile struct {
	Coord  coord.TileCoordinate
	Data   []byte
	Format string
	// Image is set when the layer decodes payloads.
	Image image.Image
}

type tileRequest struct {
	X int `json:"x"`
	Y int `json:"y"`
	Z int `json:"z"`
}

// TileLayer is safe for concurrent use.
type TileLayer struct {
	opts    Options
	fetcher Fetcher
	cache   *cache.TileCache
	sem     *semaphore.Weighted
	log     logger.Logger
	onTile  func(Tile)
	onError func(coord.TileCoordinate, error)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	visible  map[coord.TileCoordinate]bool
	inflight map[coord.TileCoordinate]*pendingTile
	closed   bool
	// format is the last format the provider named; cached tiles reuse it.
	format string
}

type pendingTile struct {
	cancel context.CancelFunc
}

// Option configures optional TileLayer collaborators.
type Option func(*TileLayer)

// WithLogger sets the layer logger.
func WithLogger(l logger.Logger) Option {
	return func(tl *TileLayer) { tl.log = l }
}

// OnTile registers the callback receiving loaded tiles. It runs on fetch
// goroutines and on the goroutine calling Update for cache hits.
func OnTile(fn func(Tile)) Option {
	return func(tl *TileLayer) { tl.onTile = fn }
}

// OnError registers the callback for failed tiles. Canceled fetches are not
// reported.
func OnError(fn func(coord.TileCoordinate, error)) Option {
	return func(tl *TileLayer) { tl.onError = fn }
}

// New validates opts and creates the layer.
func New(f Fetcher, opts Options, options ...Option) (*TileLayer, error) {
	def := DefaultOptions()
	if opts.MaxRequests == 0 {
		opts.MaxRequests = def.MaxRequests
	}
	if opts.RequestTimeout == 0 {
		opts.RequestTimeout = def.RequestTimeout
	}
	if opts.MeshMaxError == 0 {
		opts.MeshMaxError = def.MeshMaxError
	}
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if f == nil {
		return nil, fmt.Errorf("%w: nil fetcher", ErrInvalidOptions)
	}

	ctx, cancel := context.WithCancel(context.Background())
	tl := &TileLayer{
		opts:     opts,
		fetcher:  f,
		cache:    cache.New(opts.cache()),
		sem:      semaphore.NewWeighted(int64(opts.MaxRequests)),
		log:      logger.NewNop(),
		onTile:   func(Tile) {},
		onError:  func(coord.TileCoordinate, error) {},
		ctx:      ctx,
		cancel:   cancel,
		visible:  make(map[coord.TileCoordinate]bool),
		inflight: make(map[coord.TileCoordinate]*pendingTile),
	}
	for _, o := range options {
		o(tl)
	}
	return tl, nil
}

// Update selects the tiles visible in vp, delivers cached ones, cancels
// fetches for tiles no longer visible and starts fetches for the rest. It
// returns the visible tiles without waiting for fetches.
func (l *TileLayer) Update(ctx context.Context, vp viewport.Viewport) ([]coord.TileCoordinate, error) {
	tiles, err := tileindex.ComputeTiles(vp, l.opts.index())
	if err != nil {
		return nil, err
	}
	metrics.LayerVisibleTiles.Set(float64(len(tiles)))

	var hits []Tile
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil, ErrClosed
	}
	visible := make(map[coord.TileCoordinate]bool, len(tiles))
	for _, t := range tiles {
		visible[t] = true
	}
	for t, p := range l.inflight {
		if !visible[t] {
			p.cancel()
			delete(l.inflight, t)
		}
	}
	l.visible = visible

	for _, t := range tiles {
		if err := ctx.Err(); err != nil {
			l.mu.Unlock()
			return nil, err
		}
		if data, ok := l.cache.Get(t); ok {
			hits = append(hits, Tile{Coord: t, Data: data})
			continue
		}
		if _, ok := l.inflight[t]; ok {
			continue
		}
		tctx, cancel := context.WithCancel(l.ctx)
		p := &pendingTile{cancel: cancel}
		l.inflight[t] = p
		l.wg.Add(1)
		go l.fetch(tctx, p, t)
	}
	l.mu.Unlock()

	for _, h := range hits {
		l.deliver(h)
	}
	return tiles, nil
}

func (l *TileLayer) fetch(ctx context.Context, p *pendingTile, t coord.TileCoordinate) {
	defer l.wg.Done()
	defer l.finish(t, p)

	if err := l.sem.Acquire(ctx, 1); err != nil {
		return
	}
	resp, err := l.fetcher.Request(ctx, "tile", tileRequest{X: t.X, Y: t.Y, Z: t.Z}, fetch.WithTimeout(l.opts.RequestTimeout))
	l.sem.Release(1)

	if err == nil && ctx.Err() != nil {
		// Left the view while the response was in flight.
		return
	}
	if err == nil && len(resp.Buffers) == 0 {
		err = errors.New("response carries no tile data")
	}
	if err != nil {
		if errors.Is(err, fetch.ErrCanceled) || ctx.Err() != nil {
			l.log.Debug("tile fetch canceled", "tile", t.String())
			return
		}
		l.log.Warn("tile fetch failed", "tile", t.String(), "error", err)
		l.onError(t, err)
		return
	}

	var body struct {
		Format string `json:"format"`
	}
	if len(resp.Body) > 0 {
		if err := json.Unmarshal(resp.Body, &body); err != nil {
			l.log.Debug("tile response body not understood", "tile", t.String(), "error", err)
		}
	}

	data := resp.Buffers[0]
	l.cache.Put(t, data)

	l.mu.Lock()
	if body.Format != "" {
		l.format = body.Format
	}
	visible := l.visible[t]
	l.mu.Unlock()
	if visible {
		l.deliver(Tile{Coord: t, Data: data, Format: body.Format})
	}
}

// finish removes the in-flight record unless a later Update replaced it.
func (l *TileLayer) finish(t coord.TileCoordinate, p *pendingTile) {
	p.cancel()
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.inflight[t] == p {
		delete(l.inflight, t)
	}
}

func (l *TileLayer) deliver(tile Tile) {
	if tile.Format == "" {
		tile.Format = l.opts.Format
	}
	if tile.Format == "" {
		l.mu.Lock()
		tile.Format = l.format
		l.mu.Unlock()
	}
	if tile.Format == "" {
		tile.Format = encode.Sniff(tile.Data)
	}
	if l.opts.Decode {
		img, err := encode.DecodeImage(tile.Data, tile.Format)
		if err != nil {
			l.log.Warn("tile decode failed", "tile", tile.Coord.String(), "format", tile.Format, "error", err)
			l.onError(tile.Coord, fmt.Errorf("decoding tile: %w", err))
			return
		}
		tile.Image = img
	}
	l.onTile(tile)
}

// InFlight returns the number of tiles being fetched.
func (l *TileLayer) InFlight() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.inflight)
}

// Wait blocks until every started fetch has finished.
func (l *TileLayer) Wait() {
	l.wg.Wait()
}

// ClearCache drops cached payloads, e.g. after the data source changed.
func (l *TileLayer) ClearCache() {
	l.cache.Clear()
	l.mu.Lock()
	l.format = ""
	l.mu.Unlock()
}

// RasterMesh reprojects a width×height raster through gt and proj with the
// layer's mesh error threshold.
func (l *TileLayer) RasterMesh(width, height int, gt affine.GeoTransform, proj coord.Projection) (*mesh.Mesh, error) {
	return mesh.Build(width, height, gt, proj, l.opts.MeshMaxError)
}

// CacheLen returns the number of cached tiles.
func (l *TileLayer) CacheLen() int {
	return l.cache.Len()
}

// Close cancels all fetches and waits for them.
func (l *TileLayer) Close() {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	l.cancel()
	l.wg.Wait()
}
