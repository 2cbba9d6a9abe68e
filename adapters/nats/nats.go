/*
Package nats carries RPC requests and replies over core NATS.

Requests go to subject <prefix><routing key> and are load balanced across servers in one
queue group. Each client listens on its own inbox. The correlation id travels in the
Correlation-Id header since NATS messages have no property for it. Core NATS delivers at
most once, so Ack is a no-op.
*/
package nats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/nats-io/nats.go"

	berr "github.com/next-trace/scg-bank-rpc/contract/errors"
	"github.com/next-trace/scg-bank-rpc/contract/rpc"
)

// DefaultPrefix namespaces request subjects.
const DefaultPrefix = "bank.rpc."

// Options configures the transports built on a Conn.
type Options struct {
	Prefix string
	Queue  string
	Logger *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.Prefix == "" {
		o.Prefix = DefaultPrefix
	}

	if o.Queue == "" {
		o.Queue = rpc.DefaultQueue
	}

	if o.Logger == nil {
		o.Logger = slog.New(slog.DiscardHandler)
	}

	return o
}

// Client is the NATS rpc.ClientTransport.
type Client struct {
	conn  Conn
	opts  Options
	inbox string
	unsub func() error

	mu sync.RWMutex
	fn func(rpc.Message)
}

var _ rpc.ClientTransport = (*Client)(nil)

// NewClient subscribes a fresh inbox on conn for replies.
func NewClient(conn Conn, opts Options) (*Client, error) {
	if conn == nil {
		return nil, fmt.Errorf("nats client: %w", berr.ErrNotConnected)
	}

	c := &Client{conn: conn, opts: opts.withDefaults(), inbox: conn.NewInbox()}

	unsub, err := conn.Subscribe(c.inbox, "", c.deliver)
	if err != nil {
		return nil, fmt.Errorf("nats subscribe inbox: %w", err)
	}

	c.unsub = unsub

	return c, nil
}

func (c *Client) deliver(m *nats.Msg) {
	c.mu.RLock()
	fn := c.fn
	c.mu.RUnlock()

	if fn != nil {
		fn(messageFrom(m, ""))
	}
}

func (c *Client) Publish(ctx context.Context, m rpc.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := &nats.Msg{
		Subject: c.opts.Prefix + m.RoutingKey,
		Reply:   m.ReplyTo,
		Header:  header(m),
		Data:    m.Body,
	}

	if err := c.conn.Publish(msg); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		return fmt.Errorf("nats publish %s: %w", msg.Subject, errors.Join(berr.ErrPublishFailed, err))
	}

	return nil
}

func (c *Client) ReplyTo(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	return c.inbox, nil
}

func (c *Client) OnReply(fn func(rpc.Message)) {
	c.mu.Lock()
	c.fn = fn
	c.mu.Unlock()
}

// Close unsubscribes the inbox. The connection belongs to the caller.
func (c *Client) Close() error {
	if c.unsub == nil {
		return nil
	}

	return c.unsub()
}

// Server is the NATS rpc.ServerTransport.
type Server struct {
	conn Conn
	opts Options
}

var _ rpc.ServerTransport = (*Server)(nil)

// NewServer builds a server transport on conn.
func NewServer(conn Conn, opts Options) *Server {
	return &Server{conn: conn, opts: opts.withDefaults()}
}

// MsgUnavailable answers requests that reached a server while it was leaving Consume.
const MsgUnavailable = "service unavailable"

// Consume joins the queue group on every key's subject and handles messages one at a
// time across all subjects. Requests are handed over unbuffered; one that is still
// waiting when Consume returns is answered with MsgUnavailable instead of being lost.
func (s *Server) Consume(ctx context.Context, keys []string, fn rpc.DeliveryFunc) error {
	if s.conn == nil {
		return fmt.Errorf("nats consume: %w", berr.ErrNotConnected)
	}

	inbound := make(chan *nats.Msg)
	stopped := make(chan struct{})

	push := func(m *nats.Msg) {
		select {
		case inbound <- m:
		case <-stopped:
			s.unavailable(m)
		}
	}

	var unsubs []func() error

	defer func() {
		close(stopped)

		for _, u := range unsubs {
			_ = u()
		}
	}()

	for _, k := range keys {
		u, err := s.conn.Subscribe(s.opts.Prefix+k, s.opts.Queue, push)
		if err != nil {
			return fmt.Errorf("nats subscribe %s: %w", s.opts.Prefix+k, err)
		}

		unsubs = append(unsubs, u)
	}

	s.opts.Logger.Info("nats consuming", "queue", s.opts.Queue, "prefix", s.opts.Prefix, "routing_keys", keys)

	for {
		if ctx.Err() != nil {
			return nil
		}

		select {
		case <-ctx.Done():
			return nil
		case <-s.conn.Done():
			return fmt.Errorf("nats consume: %w", berr.ErrConnectionLost)
		case m := <-inbound:
			fn(ctx, rpc.Delivery{Message: messageFrom(m, s.opts.Prefix), Ack: func() error { return nil }})
		}
	}
}

func (s *Server) unavailable(m *nats.Msg) {
	if m.Reply == "" {
		return
	}

	in := messageFrom(m, s.opts.Prefix)

	body, err := rpc.Fail(MsgUnavailable).Encode()
	if err == nil {
		err = s.conn.Publish(&nats.Msg{Subject: m.Reply, Header: header(rpc.Message{CorrelationID: in.CorrelationID}), Data: body})
	}

	if err != nil {
		s.opts.Logger.Warn("nats request dropped", "routing_key", in.RoutingKey, "correlation_id", in.CorrelationID, "err", err)
	}
}

func (s *Server) Reply(ctx context.Context, to string, m rpc.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if s.conn == nil {
		return fmt.Errorf("nats reply: %w", berr.ErrNotConnected)
	}

	if err := s.conn.Publish(&nats.Msg{Subject: to, Header: header(m), Data: m.Body}); err != nil {
		return fmt.Errorf("nats reply to %s: %w", to, errors.Join(berr.ErrPublishFailed, err))
	}

	return nil
}

func header(m rpc.Message) nats.Header {
	h := nats.Header{}
	for k, v := range m.Headers {
		h.Set(k, v)
	}

	if m.CorrelationID != "" {
		h.Set(rpc.HeaderCorrelationID, m.CorrelationID)
	}

	return h
}

func messageFrom(m *nats.Msg, prefix string) rpc.Message {
	var headers map[string]string
	if len(m.Header) > 0 {
		headers = make(map[string]string, len(m.Header))
		for k := range m.Header {
			headers[k] = m.Header.Get(k)
		}
	}

	return rpc.Message{
		RoutingKey:    strings.TrimPrefix(m.Subject, prefix),
		CorrelationID: m.Header.Get(rpc.HeaderCorrelationID),
		ReplyTo:       m.Reply,
		Headers:       headers,
		Body:          m.Data,
	}
}
