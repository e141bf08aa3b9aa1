// Package transport carries fetch envelopes over a WebSocket: one JSON text
// frame per envelope followed by its binary attachments.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pspoerri/tilemesh/internal/fetch"
)

const (
	writeTimeout = 10 * time.Second
	maxBuffers   = 64
)

// ErrProtocol reports a malformed frame sequence.
var ErrProtocol = errors.New("transport: protocol error")

// header is the JSON text frame preceding an envelope's binary frames.
type header struct {
	ID       string          `json:"id"`
	Kind     string          `json:"kind"`
	Method   string          `json:"method,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	Response json.RawMessage `json:"response,omitempty"`
	Buffers  int             `json:"buffers"`
}

// Conn is a fetch.Channel over a WebSocket connection. Send is safe for
// concurrent use; Recv must be called from one goroutine. Canceling the
// context of a blocked Recv breaks the connection.
type Conn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
	once    sync.Once
}

var _ fetch.Channel = (*Conn)(nil)

// NewConn wraps an established WebSocket connection.
func NewConn(ws *websocket.Conn) *Conn {
	return &Conn{ws: ws}
}

// Dial connects to a provider at a ws:// or wss:// URL.
func Dial(ctx context.Context, url string, h http.Header) (*Conn, error) {
	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, url, h)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("transport: dialing %s: %w (status %s)", url, err, resp.Status)
		}
		return nil, fmt.Errorf("transport: dialing %s: %w", url, err)
	}
	return NewConn(ws), nil
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Upgrade turns an HTTP request into a provider-side connection.
func Upgrade(w http.ResponseWriter, r *http.Request) (*Conn, error) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("transport: upgrade: %w", err)
	}
	return NewConn(ws), nil
}

// Send writes the header frame and one binary frame per buffer.
func (c *Conn) Send(ctx context.Context, env fetch.Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	deadline := time.Now().Add(writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.ws.SetWriteDeadline(deadline); err != nil {
		return err
	}

	h := header{
		ID:       env.ID,
		Kind:     env.Kind,
		Method:   env.Method,
		Payload:  env.Payload,
		Response: env.Response,
		Buffers:  len(env.Buffers),
	}
	if err := c.ws.WriteJSON(h); err != nil {
		return fmt.Errorf("transport: writing header: %w", err)
	}
	for i, buf := range env.Buffers {
		if err := c.ws.WriteMessage(websocket.BinaryMessage, buf); err != nil {
			return fmt.Errorf("transport: writing buffer %d: %w", i, err)
		}
	}
	return nil
}

// Recv reads the next envelope with its attachments.
func (c *Conn) Recv(ctx context.Context) (fetch.Envelope, error) {
	stop := context.AfterFunc(ctx, func() {
		c.ws.SetReadDeadline(time.Now())
	})
	defer stop()

	env, err := c.read()
	if err != nil && ctx.Err() != nil {
		return fetch.Envelope{}, ctx.Err()
	}
	return env, err
}

func (c *Conn) read() (fetch.Envelope, error) {
	typ, data, err := c.ws.ReadMessage()
	if err != nil {
		return fetch.Envelope{}, err
	}
	if typ != websocket.TextMessage {
		return fetch.Envelope{}, fmt.Errorf("%w: expected text header, got frame type %d", ErrProtocol, typ)
	}

	var h header
	if err := json.Unmarshal(data, &h); err != nil {
		return fetch.Envelope{}, fmt.Errorf("%w: decoding header: %v", ErrProtocol, err)
	}
	if h.Buffers < 0 || h.Buffers > maxBuffers {
		return fetch.Envelope{}, fmt.Errorf("%w: %d buffers", ErrProtocol, h.Buffers)
	}

	env := fetch.Envelope{
		ID:       h.ID,
		Kind:     h.Kind,
		Method:   h.Method,
		Payload:  h.Payload,
		Response: h.Response,
	}
	for i := 0; i < h.Buffers; i++ {
		typ, buf, err := c.ws.ReadMessage()
		if err != nil {
			return fetch.Envelope{}, err
		}
		if typ != websocket.BinaryMessage {
			return fetch.Envelope{}, fmt.Errorf("%w: expected binary frame %d of %d", ErrProtocol, i+1, h.Buffers)
		}
		env.Buffers = append(env.Buffers, buf)
	}
	return env, nil
}

// Close sends a close frame and closes the connection.
func (c *Conn) Close() error {
	var err error
	c.once.Do(func() {
		c.writeMu.Lock()
		c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		err = c.ws.Close()
	})
	return err
}
