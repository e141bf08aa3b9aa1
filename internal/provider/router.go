package provider

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"

	"github.com/pspoerri/tilemesh/internal/coord"
	"github.com/pspoerri/tilemesh/internal/encode"
	"github.com/pspoerri/tilemesh/internal/fetch"
	"github.com/pspoerri/tilemesh/internal/logger"
	"github.com/pspoerri/tilemesh/internal/metrics"
	"github.com/pspoerri/tilemesh/internal/telemetry"
	"github.com/pspoerri/tilemesh/internal/transport"
)

// Server exposes a Source over WebSocket and HTTP.
type Server struct {
	src     Source
	handler *Handler
	log     logger.Logger
	// ctx bounds WebSocket sessions; canceling it ends them.
	ctx context.Context
}

// NewServer creates the server. Sessions end when ctx is done.
func NewServer(ctx context.Context, src Source, l logger.Logger) *Server {
	if l == nil {
		l = logger.NewNop()
	}
	return &Server{src: src, handler: NewHandler(src, l), log: l, ctx: ctx}
}

// NewRouter builds the gin engine. A nil tp disables tracing.
func NewRouter(s *Server, tp trace.TracerProvider) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	if tp != nil {
		r.Use(telemetry.GinMiddleware(tp))
	}
	r.Use(ginLogger(s.log))

	v1 := r.Group("/api/v1")
	v1.GET("/healthz", s.Healthz)
	v1.GET("/info", s.Info)
	v1.GET("/tiles/:z/:x/:y", s.Tile)

	r.GET("/ws", s.WebSocket)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return r
}

func ginLogger(l logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		l.Debug("request",
			"status", c.Writer.Status(),
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"ip", c.ClientIP(),
			"latency", time.Since(start),
			"size", c.Writer.Size(),
		)
	}
}

func (s *Server) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) Info(c *gin.Context) {
	c.JSON(http.StatusOK, s.src.Info())
}

// Tile serves GET /api/v1/tiles/:z/:x/:y. The y parameter may carry a file
// extension.
func (s *Server) Tile(c *gin.Context) {
	z, errZ := strconv.Atoi(c.Param("z"))
	x, errX := strconv.Atoi(c.Param("x"))
	yParam := c.Param("y")
	for i, r := range yParam {
		if r == '.' {
			yParam = yParam[:i]
			break
		}
	}
	y, errY := strconv.Atoi(yParam)
	if err := errors.Join(errZ, errX, errY); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "z, x and y should be integers"})
		return
	}

	t := coord.TileCoordinate{X: x, Y: y, Z: z}
	data, err := s.tile(c.Request.Context(), t)
	metrics.ProviderTiles.WithLabelValues("http", status(err)).Inc()
	switch {
	case errors.Is(err, ErrTileNotFound):
		c.Status(http.StatusNoContent)
		return
	case err != nil:
		s.log.Error("failed to get tile", "tile", t.String(), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get tile"})
		return
	}
	c.Header("Cache-Control", "public, max-age=3600")
	c.Data(http.StatusOK, encode.ContentType(s.src.Info().Format), data)
}

func (s *Server) tile(ctx context.Context, t coord.TileCoordinate) ([]byte, error) {
	if err := checkTile(s.src.Info(), t); err != nil {
		return nil, err
	}
	return s.src.Tile(ctx, t)
}

// WebSocket upgrades the connection and serves fetch requests on it until
// the peer leaves or the server shuts down.
func (s *Server) WebSocket(c *gin.Context) {
	conn, err := transport.Upgrade(c.Writer, c.Request)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	s.log.Info("websocket session started", "ip", c.ClientIP())
	if err := fetch.Serve(s.ctx, conn, s.handler, s.log); err != nil {
		s.log.Debug("websocket session ended", "ip", c.ClientIP(), "error", err)
	}
}
