package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/pspoerri/tilemesh/internal/logger"
)

// Handler answers one request. The returned body is JSON encoded; buffers
// are sent as attachments.
type Handler interface {
	Handle(ctx context.Context, method string, payload json.RawMessage) (body any, buffers [][]byte, err error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, method string, payload json.RawMessage) (any, [][]byte, error)

func (f HandlerFunc) Handle(ctx context.Context, method string, payload json.RawMessage) (any, [][]byte, error) {
	return f(ctx, method, payload)
}

// Serve reads requests from ch and answers each on its own goroutine until
// ctx is done or the channel fails. Handler errors are sent back as
// KindError envelopes. Serve waits for in-flight handlers before
// returning.
func Serve(ctx context.Context, ch Channel, h Handler, log logger.Logger) error {
	if log == nil {
		log = logger.NewNop()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		env, err := ch.Recv(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("fetch: serve: %w", err)
		}
		if env.Kind != KindRequest {
			log.Debug("ignoring non-request message", "id", env.ID, "kind", env.Kind)
			continue
		}

		wg.Add(1)
		go func(req Envelope) {
			defer wg.Done()
			reply := answer(ctx, h, req)
			if err := ch.Send(ctx, reply); err != nil && !errors.Is(err, context.Canceled) {
				log.Warn("sending reply failed", "id", req.ID, "method", req.Method, "error", err)
			}
		}(env)
	}
}

func answer(ctx context.Context, h Handler, req Envelope) Envelope {
	body, buffers, err := h.Handle(ctx, req.Method, req.Payload)
	if err == nil {
		var raw []byte
		raw, err = json.Marshal(body)
		if err == nil {
			return Envelope{ID: req.ID, Kind: KindResponse, Method: req.Method, Response: raw, Buffers: buffers}
		}
	}
	msg, _ := json.Marshal(struct {
		Message string `json:"message"`
	}{err.Error()})
	return Envelope{ID: req.ID, Kind: KindError, Method: req.Method, Response: msg}
}
