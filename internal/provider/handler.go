package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pspoerri/tilemesh/internal/coord"
	"github.com/pspoerri/tilemesh/internal/fetch"
	"github.com/pspoerri/tilemesh/internal/logger"
	"github.com/pspoerri/tilemesh/internal/metrics"
)

// Fetch protocol methods.
const (
	MethodTile = "tile"
	MethodInfo = "info"
)

// TileRequest is the payload of a tile request.
type TileRequest struct {
	X int `json:"x"`
	Y int `json:"y"`
	Z int `json:"z"`
}

// Coordinate returns the requested tile.
func (r TileRequest) Coordinate() coord.TileCoordinate {
	return coord.TileCoordinate{X: r.X, Y: r.Y, Z: r.Z}
}

// TileResponse is the JSON body of a tile response; the payload travels as
// the single attachment.
type TileResponse struct {
	TileRequest
	Format string `json:"format"`
}

// Handler answers fetch requests from a Source.
type Handler struct {
	src Source
	log logger.Logger
}

var _ fetch.Handler = (*Handler)(nil)

// NewHandler creates a fetch handler for src.
func NewHandler(src Source, l logger.Logger) *Handler {
	if l == nil {
		l = logger.NewNop()
	}
	return &Handler{src: src, log: l}
}

func (h *Handler) Handle(ctx context.Context, method string, payload json.RawMessage) (any, [][]byte, error) {
	switch method {
	case MethodInfo:
		return h.src.Info(), nil, nil
	case MethodTile:
		var req TileRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, nil, fmt.Errorf("invalid tile request: %w", err)
		}
		// Clients may send world-copy coordinates.
		t := req.Coordinate().Normalize()
		err := checkTile(h.src.Info(), t)
		var data []byte
		if err == nil {
			data, err = h.src.Tile(ctx, t)
		}
		if err != nil {
			metrics.ProviderTiles.WithLabelValues("ws", status(err)).Inc()
			h.log.Debug("tile request failed", "tile", t.String(), "error", err)
			return nil, nil, err
		}
		metrics.ProviderTiles.WithLabelValues("ws", "ok").Inc()
		resp := TileResponse{
			TileRequest: TileRequest{X: t.X, Y: t.Y, Z: t.Z},
			Format:      h.src.Info().Format,
		}
		return resp, [][]byte{data}, nil
	default:
		return nil, nil, fmt.Errorf("unknown method %q", method)
	}
}

func status(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrTileNotFound):
		return "not_found"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	}
	return "error"
}
