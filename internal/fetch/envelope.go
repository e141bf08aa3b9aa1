// Package fetch implements the correlation-id based request/response
// protocol between tile layers and an out-of-process tile provider.
package fetch

import (
	"context"
	"encoding/json"
)

// Envelope kinds.
const (
	KindRequest  = "request"
	KindResponse = "response"
	KindError    = "error"
)

// Envelope is one message on a Channel. Buffers travel next to the JSON
// header as raw binary attachments.
type Envelope struct {
	ID       string          `json:"id"`
	Kind     string          `json:"kind"`
	Method   string          `json:"method,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	Response json.RawMessage `json:"response,omitempty"`
	Buffers  [][]byte        `json:"-"`
}

// Channel is a bidirectional message transport. Send may be called
// concurrently; Recv is called from a single goroutine.
type Channel interface {
	Send(ctx context.Context, env Envelope) error
	Recv(ctx context.Context) (Envelope, error)
	Close() error
}
