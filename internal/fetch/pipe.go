package fetch

import (
	"context"
	"io"
	"sync"
)

// pipeEnd is one side of an in-memory Channel pair.
type pipeEnd struct {
	in   <-chan Envelope
	out  chan<- Envelope
	done chan struct{}
	once *sync.Once
}

// NewPipe returns two connected in-memory channels. Closing either end
// closes both.
func NewPipe() (Channel, Channel) {
	ab := make(chan Envelope, 64)
	ba := make(chan Envelope, 64)
	done := make(chan struct{})
	once := &sync.Once{}
	return &pipeEnd{in: ba, out: ab, done: done, once: once},
		&pipeEnd{in: ab, out: ba, done: done, once: once}
}

func (p *pipeEnd) Send(ctx context.Context, env Envelope) error {
	select {
	case <-p.done:
		return io.ErrClosedPipe
	default:
	}
	select {
	case p.out <- env:
		return nil
	case <-p.done:
		return io.ErrClosedPipe
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *pipeEnd) Recv(ctx context.Context) (Envelope, error) {
	select {
	case env := <-p.in:
		return env, nil
	case <-p.done:
		return Envelope{}, io.EOF
	case <-ctx.Done():
		return Envelope{}, ctx.Err()
	}
}

func (p *pipeEnd) Close() error {
	p.once.Do(func() { close(p.done) })
	return nil
}
