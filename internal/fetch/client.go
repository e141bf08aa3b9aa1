package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/pspoerri/tilemesh/internal/logger"
	"github.com/pspoerri/tilemesh/internal/metrics"
)

// DefaultTimeout applies to requests without WithTimeout.
const DefaultTimeout = 10 * time.Second

// Response is a settled request: the provider's JSON body and its binary
// attachments.
type Response struct {
	Body    json.RawMessage
	Buffers [][]byte
}

type pendingRequest struct {
	id        string
	method    string
	createdAt time.Time
	deadline  time.Time
	done      chan result // buffered, receives exactly one result
}

type result struct {
	resp *Response
	err  error
}

// Client issues requests over a Channel and matches responses by id. It is
// safe for concurrent use.
type Client struct {
	ch      Channel
	log     logger.Logger
	tracer  trace.Tracer
	timeout time.Duration

	mu      sync.Mutex
	pending map[string]*pendingRequest
	closed  bool
	cause   error

	cancel   context.CancelFunc
	finished chan struct{}
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithLogger sets the client logger.
func WithLogger(l logger.Logger) ClientOption {
	return func(c *Client) { c.log = l }
}

// WithDefaultTimeout overrides DefaultTimeout for this client.
func WithDefaultTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithTracerProvider sets the provider used for request spans.
func WithTracerProvider(tp trace.TracerProvider) ClientOption {
	return func(c *Client) { c.tracer = tp.Tracer("github.com/pspoerri/tilemesh/internal/fetch") }
}

// NewClient starts dispatching inbound messages from ch. Close releases the
// channel.
func NewClient(ch Channel, opts ...ClientOption) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		ch:       ch,
		log:      logger.NewNop(),
		tracer:   otel.Tracer("github.com/pspoerri/tilemesh/internal/fetch"),
		timeout:  DefaultTimeout,
		pending:  make(map[string]*pendingRequest),
		cancel:   cancel,
		finished: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	go c.dispatch(ctx)
	return c
}

// RequestOption configures a single request.
type RequestOption func(*requestConfig)

type requestConfig struct {
	timeout time.Duration
}

// WithTimeout sets the request deadline relative to now.
func WithTimeout(d time.Duration) RequestOption {
	return func(rc *requestConfig) { rc.timeout = d }
}

// Request sends method with payload and waits for the matching response.
// Exactly one of a response, ErrTimeout, ErrCanceled, ErrChannel or a
// *RemoteError is returned, and the request never outlives the call.
func (c *Client) Request(ctx context.Context, method string, payload any, opts ...RequestOption) (*Response, error) {
	rc := requestConfig{timeout: c.timeout}
	for _, opt := range opts {
		opt(&rc)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("fetch: encoding %s payload: %w", method, err)
	}

	now := time.Now()
	p := &pendingRequest{
		id:        uuid.NewString(),
		method:    method,
		createdAt: now,
		deadline:  now.Add(rc.timeout),
		done:      make(chan result, 1),
	}

	ctx, span := c.tracer.Start(ctx, "fetch."+method, trace.WithAttributes(
		attribute.String("fetch.id", p.id),
		attribute.String("fetch.method", method),
	))
	defer span.End()

	resp, err := c.roundTrip(ctx, p, body)

	metrics.FetchRequests.WithLabelValues(outcome(err)).Inc()
	metrics.FetchLatency.Observe(time.Since(p.createdAt).Seconds())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.log.Debug("fetch failed", "id", p.id, "method", method, "error", err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("fetch.buffers", len(resp.Buffers)))
	return resp, nil
}

func (c *Client) roundTrip(ctx context.Context, p *pendingRequest, body json.RawMessage) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, contextError(err)
	}

	c.mu.Lock()
	if c.closed {
		cause := c.cause
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: %v", ErrChannel, cause)
	}
	c.pending[p.id] = p
	metrics.FetchPending.Inc()
	c.mu.Unlock()

	timer := time.NewTimer(time.Until(p.deadline))
	defer timer.Stop()

	env := Envelope{ID: p.id, Kind: KindRequest, Method: p.method, Payload: body}
	if err := c.ch.Send(ctx, env); err != nil {
		if c.take(p.id) {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, contextError(ctxErr)
			}
			return nil, fmt.Errorf("%w: send: %v", ErrChannel, err)
		}
		r := <-p.done
		return r.resp, r.err
	}

	select {
	case r := <-p.done:
		return r.resp, r.err
	case <-timer.C:
		if c.take(p.id) {
			return nil, fmt.Errorf("%w after %s", ErrTimeout, time.Since(p.createdAt).Round(time.Millisecond))
		}
	case <-ctx.Done():
		if c.take(p.id) {
			return nil, contextError(ctx.Err())
		}
	}
	// Lost the race: the dispatcher already removed the record and its
	// result is waiting in the buffer.
	r := <-p.done
	return r.resp, r.err
}

// take removes the pending record for id. It returns false when another
// party already settled it.
func (c *Client) take(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.pending[id]; !ok {
		return false
	}
	delete(c.pending, id)
	metrics.FetchPending.Dec()
	return true
}

// dispatch reads the channel until it fails or the client is closed.
func (c *Client) dispatch(ctx context.Context) {
	defer close(c.finished)
	for {
		env, err := c.ch.Recv(ctx)
		if err != nil {
			if ctx.Err() != nil {
				err = errors.New("client closed")
			} else {
				c.log.Warn("fetch channel failed", "error", err)
			}
			c.failAll(err)
			return
		}
		c.settle(env)
	}
}

func (c *Client) settle(env Envelope) {
	if env.Kind != KindResponse && env.Kind != KindError {
		c.log.Debug("ignoring inbound message", "id", env.ID, "kind", env.Kind)
		return
	}

	c.mu.Lock()
	p, ok := c.pending[env.ID]
	if ok {
		delete(c.pending, env.ID)
		metrics.FetchPending.Dec()
	}
	c.mu.Unlock()

	if !ok {
		metrics.FetchUnmatched.Inc()
		c.log.Debug("no pending request for response", "id", env.ID)
		return
	}

	if env.Kind == KindError {
		p.done <- result{err: &RemoteError{ID: env.ID, Method: p.method, Message: remoteMessage(env.Response)}}
		return
	}
	p.done <- result{resp: &Response{Body: env.Response, Buffers: env.Buffers}}
}

// failAll settles every pending request with ErrChannel and refuses new
// ones.
func (c *Client) failAll(cause error) {
	c.mu.Lock()
	c.closed = true
	c.cause = cause
	pending := c.pending
	c.pending = make(map[string]*pendingRequest)
	metrics.FetchPending.Sub(float64(len(pending)))
	c.mu.Unlock()

	for _, p := range pending {
		p.done <- result{err: fmt.Errorf("%w: %v", ErrChannel, cause)}
	}
}

// remoteMessage extracts {"message": ...} or a bare JSON string.
func remoteMessage(raw json.RawMessage) string {
	var obj struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.Message != "" {
		return obj.Message
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

// Pending returns the number of requests waiting for a response.
func (c *Client) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Close stops dispatching, fails outstanding requests and closes the
// channel.
func (c *Client) Close() error {
	c.cancel()
	err := c.ch.Close()
	<-c.finished
	return err
}
