package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	berr "github.com/next-trace/scg-bank-rpc/contract/errors"
	"github.com/next-trace/scg-bank-rpc/contract/rpc"
)

// Client is the AMQP rpc.ClientTransport.
type Client struct {
	cfg     Config
	session *replySession

	mu sync.RWMutex
	fn func(rpc.Message)
}

var _ rpc.ClientTransport = (*Client)(nil)

// NewClient starts a reconnecting session in the background and returns at once.
// Publish and ReplyTo block until the first connection is up or their context ends.
func NewClient(cfg Config) (*Client, error) {
	cfg, err := cfg.withDefaults()
	if err != nil {
		return nil, err
	}

	c := &Client{cfg: cfg}
	c.session = newReplySession(cfg, c.deliver)

	return c, nil
}

func (c *Client) deliver(d amqp.Delivery) {
	c.mu.RLock()
	fn := c.fn
	c.mu.RUnlock()

	if fn != nil {
		fn(messageFrom(d))
	}
}

// Publish sends a persistent JSON request to the request exchange.
func (c *Client) Publish(ctx context.Context, m rpc.Message) error {
	ch, _, err := c.session.current(ctx)
	if err != nil {
		return err
	}

	err = ch.PublishWithContext(ctx, c.cfg.Exchange, m.RoutingKey, false, false, amqp.Publishing{
		DeliveryMode:  amqp.Persistent,
		ContentType:   contentTypeJSON,
		CorrelationId: m.CorrelationID,
		ReplyTo:       m.ReplyTo,
		Headers:       toTable(m.Headers),
		Body:          m.Body,
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		return fmt.Errorf("rabbitmq publish %s: %w", m.RoutingKey, errors.Join(berr.ErrPublishFailed, err))
	}

	return nil
}

// ReplyTo returns the reply queue of the current connection. The name changes after a
// reconnect, so callers read it per request.
func (c *Client) ReplyTo(ctx context.Context) (string, error) {
	_, queue, err := c.session.current(ctx)

	return queue, err
}

func (c *Client) OnReply(fn func(rpc.Message)) {
	c.mu.Lock()
	c.fn = fn
	c.mu.Unlock()
}

// Close stops reconnecting and closes the connection; the reply queue is deleted by the broker.
func (c *Client) Close() error {
	c.session.close()

	return nil
}
