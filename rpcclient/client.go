/*
Package rpcclient turns the broker's fire-and-forget publish/subscribe into a blocking call.

Every call publishes a request carrying a fresh correlation id and the client's private
reply destination, then waits for the reply whose correlation id matches. Pending calls
live in a correlation id to channel map, so replies that arrive late for a call that
already timed out are dropped instead of being paired with a later call sharing the
same reply destination.
*/
package rpcclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	berr "github.com/next-trace/scg-bank-rpc/contract/errors"
	"github.com/next-trace/scg-bank-rpc/contract/rpc"
)

// DefaultTimeout bounds a call when the caller passes no timeout.
const DefaultTimeout = 5 * time.Second

// Client issues RPC calls over a ClientTransport. It is safe for concurrent use; each call
// owns its own pending entry.
type Client struct {
	tr         rpc.ClientTransport
	timeout    time.Duration
	logger     *slog.Logger
	propagator rpc.HeaderPropagator
	newID      func() string

	mu      sync.Mutex
	pending map[string]chan rpc.Response
	closed  chan struct{}
	once    sync.Once
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout sets the default call timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithLogger sets the logger used for dropped replies.
func WithLogger(l *slog.Logger) Option { return func(c *Client) { c.logger = l } }

// WithPropagator injects tracing context into request headers.
func WithPropagator(p rpc.HeaderPropagator) Option {
	return func(c *Client) {
		if p != nil {
			c.propagator = p
		}
	}
}

// WithIDGenerator replaces the correlation id source.
func WithIDGenerator(fn func() string) Option { return func(c *Client) { c.newID = fn } }

// New wires a Client to tr and installs its reply receiver.
func New(tr rpc.ClientTransport, opts ...Option) *Client {
	c := &Client{
		tr:         tr,
		timeout:    DefaultTimeout,
		propagator: rpc.NopHeaderPropagator{},
		newID:      func() string { return uuid.NewString() },
		pending:    make(map[string]chan rpc.Response),
		closed:     make(chan struct{}),
	}

	for _, o := range opts {
		o(c)
	}

	if c.logger == nil {
		c.logger = slog.New(slog.DiscardHandler)
	}

	tr.OnReply(c.deliver)

	return c
}

// Call publishes payload under routingKey and waits for the matching reply.
//
// Business outcomes, OK or ERROR, come back as the Response with a nil error. When the
// deadline passes first, Call returns an ERROR Response labelled as a timeout together
// with an error wrapping ErrTimeout, so callers can tell the two apart. A timeout of zero
// uses the client default. Cancelling ctx returns ctx.Err(); neither cancels processing
// on the server.
func (c *Client) Call(ctx context.Context, routingKey string, payload any, timeout time.Duration) (rpc.Response, error) {
	if timeout <= 0 {
		timeout = c.timeout
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return rpc.Response{}, fmt.Errorf("rpc call %s serialize: %w", routingKey, errors.Join(berr.ErrSerializationFailed, err))
	}

	id := c.newID()

	wait, err := c.register(id)
	if err != nil {
		return rpc.Response{}, err
	}
	defer c.unregister(id)

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := c.send(callCtx, routingKey, id, body)
	if err == nil {
		resp, err = c.await(callCtx, wait)
	}

	if err != nil && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return rpc.Fail(fmt.Sprintf("rpc timeout after %s", timeout)),
			fmt.Errorf("rpc call %s: %w", routingKey, berr.ErrTimeout)
	}

	return resp, err
}

func (c *Client) send(ctx context.Context, routingKey, id string, body []byte) (rpc.Response, error) {
	replyTo, err := c.tr.ReplyTo(ctx)
	if err != nil {
		return rpc.Response{}, err
	}

	headers := map[string]string{}
	c.propagator.Inject(ctx, headers)

	msg := rpc.Message{
		RoutingKey:    routingKey,
		CorrelationID: id,
		ReplyTo:       replyTo,
		Headers:       headers,
		Body:          body,
	}

	if err := c.tr.Publish(ctx, msg); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return rpc.Response{}, err
		}

		return rpc.Response{}, fmt.Errorf("rpc call %s publish: %w", routingKey, errors.Join(berr.ErrPublishFailed, err))
	}

	return rpc.Response{}, nil
}

func (c *Client) await(ctx context.Context, wait <-chan rpc.Response) (rpc.Response, error) {
	select {
	case resp := <-wait:
		return resp, nil
	case <-ctx.Done():
		return rpc.Response{}, ctx.Err()
	case <-c.closed:
		return rpc.Response{}, fmt.Errorf("rpc call: %w", berr.ErrClosed)
	}
}

func (c *Client) register(id string) (<-chan rpc.Response, error) {
	select {
	case <-c.closed:
		return nil, fmt.Errorf("rpc call: %w", berr.ErrClosed)
	default:
	}

	ch := make(chan rpc.Response, 1)

	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()

	return ch, nil
}

func (c *Client) unregister(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// Pending returns the number of calls currently waiting for a reply.
func (c *Client) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.pending)
}

// deliver routes one reply to the call that owns its correlation id.
func (c *Client) deliver(m rpc.Message) {
	c.mu.Lock()
	ch, ok := c.pending[m.CorrelationID]
	if ok {
		delete(c.pending, m.CorrelationID)
	}
	c.mu.Unlock()

	if !ok {
		c.logger.Debug("dropping reply without pending call", "correlation_id", m.CorrelationID)
		return
	}

	resp, err := rpc.DecodeResponse(m.Body)
	if err != nil {
		c.logger.Warn("malformed reply", "correlation_id", m.CorrelationID, "err", err)
		resp = rpc.Fail("malformed reply")
	}

	ch <- resp
}

// Close fails every waiting call with ErrClosed and closes the transport.
func (c *Client) Close() error {
	var err error

	c.once.Do(func() {
		close(c.closed)
		err = c.tr.Close()
	})

	return err
}
