package inmemory

import (
	"context"
	"fmt"
	"sync"

	cbus "github.com/next-trace/scg-bank-rpc/contract/bus"
	berr "github.com/next-trace/scg-bank-rpc/contract/errors"
	"github.com/next-trace/scg-bank-rpc/contract/rpc"
)

// Broker is a process-local stand-in for a direct exchange. Messages published under a
// routing key nobody has bound are dropped, like an unroutable AMQP publish.
// It is safe for concurrent use.
type Broker struct {
	mu       sync.Mutex
	bindings map[string]chan rpc.Message
	replies  map[string]func(rpc.Message)
	seq      int
	acked    int
	dropped  int
}

// NewBroker creates an empty broker.
func NewBroker() *Broker {
	return &Broker{
		bindings: make(map[string]chan rpc.Message),
		replies:  make(map[string]func(rpc.Message)),
	}
}

// Acked returns how many deliveries servers have acknowledged.
func (b *Broker) Acked() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.acked
}

// Dropped returns how many messages had no binding or reply destination.
func (b *Broker) Dropped() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.dropped
}

// Bound reports whether a server currently consumes key.
func (b *Broker) Bound(key string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	_, ok := b.bindings[key]

	return ok
}

func (b *Broker) route(m rpc.Message) {
	b.mu.Lock()
	defer b.mu.Unlock()

	q, ok := b.bindings[m.RoutingKey]
	if !ok {
		b.dropped++
		return
	}

	select {
	case q <- copyMessage(m):
	default:
		// queue full
		b.dropped++
	}
}

func (b *Broker) reply(to string, m rpc.Message) {
	b.mu.Lock()
	fn, ok := b.replies[to]
	if !ok {
		b.dropped++
	}
	b.mu.Unlock()

	if ok && fn != nil {
		fn(copyMessage(m))
	}
}

func copyMessage(m rpc.Message) rpc.Message {
	out := m
	out.Headers = rpc.CloneHeaders(m.Headers)
	out.Body = append([]byte(nil), m.Body...)

	return out
}

// Client is the in-memory rpc.ClientTransport. Its reply destination is named like a
// server-named AMQP queue and disappears on Close.
type Client struct {
	b    *Broker
	name string
	mu   sync.RWMutex
	fn   func(rpc.Message)
}

var _ rpc.ClientTransport = (*Client)(nil)

// Client declares a new private reply destination and returns a transport bound to it.
func (b *Broker) Client() *Client {
	b.mu.Lock()
	b.seq++
	c := &Client{b: b, name: fmt.Sprintf("amq.gen-%d", b.seq)}
	b.replies[c.name] = c.deliver
	b.mu.Unlock()

	return c
}

func (c *Client) deliver(m rpc.Message) {
	c.mu.RLock()
	fn := c.fn
	c.mu.RUnlock()

	if fn != nil {
		fn(m)
	}
}

func (c *Client) Publish(ctx context.Context, m rpc.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.b.mu.Lock()
	_, open := c.b.replies[c.name]
	c.b.mu.Unlock()

	if !open {
		return fmt.Errorf("inmemory publish: %w", berr.ErrClosed)
	}

	c.b.route(m)

	return nil
}

func (c *Client) ReplyTo(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	return c.name, nil
}

func (c *Client) OnReply(fn func(rpc.Message)) {
	c.mu.Lock()
	c.fn = fn
	c.mu.Unlock()
}

func (c *Client) Close() error {
	c.b.mu.Lock()
	delete(c.b.replies, c.name)
	c.b.mu.Unlock()

	return nil
}

// Server is the in-memory rpc.ServerTransport.
type Server struct {
	b      *Broker
	buffer int
}

var _ rpc.ServerTransport = (*Server)(nil)

// Server returns a consuming transport whose queue holds up to buffer pending messages.
func (b *Broker) Server(buffer int) *Server {
	if buffer <= 0 {
		buffer = 64
	}

	return &Server{b: b, buffer: buffer}
}

func (s *Server) Consume(ctx context.Context, keys []string, fn rpc.DeliveryFunc) error {
	q := make(chan rpc.Message, s.buffer)

	s.b.mu.Lock()
	for _, k := range keys {
		s.b.bindings[k] = q
	}
	s.b.mu.Unlock()

	defer func() {
		s.b.mu.Lock()
		for _, k := range keys {
			if s.b.bindings[k] == q {
				delete(s.b.bindings, k)
			}
		}
		s.b.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case m := <-q:
			fn(ctx, rpc.Delivery{Message: m, Ack: s.ack})
		}
	}
}

func (s *Server) ack() error {
	s.b.mu.Lock()
	s.b.acked++
	s.b.mu.Unlock()

	return nil
}

func (s *Server) Reply(ctx context.Context, to string, m rpc.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.b.reply(to, m)

	return nil
}

// Publisher is a thread-safe in-memory implementation of cbus.EventPublisher.
// It records integration events for tests and local runs.
type Publisher struct {
	mu     sync.Mutex
	Events []cbus.IntegrationEvent
}

var _ cbus.EventPublisher = (*Publisher)(nil)

func (p *Publisher) PublishIntegration(
	ctx context.Context,
	e cbus.IntegrationEvent,
	opts cbus.PublishOptions,
) error {
	p.mu.Lock()
	p.Events = append(p.Events, e)
	p.mu.Unlock()

	return nil
}

// Recorded returns a snapshot of the published events.
func (p *Publisher) Recorded() []cbus.IntegrationEvent {
	p.mu.Lock()
	defer p.mu.Unlock()

	return append([]cbus.IntegrationEvent(nil), p.Events...)
}
