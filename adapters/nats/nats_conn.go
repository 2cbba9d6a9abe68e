package nats

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	berr "github.com/next-trace/scg-bank-rpc/contract/errors"
	"github.com/next-trace/scg-bank-rpc/retry"
)

// Conn is the subset of a NATS connection the transports use. It keeps the transports
// testable without a server.
type Conn interface {
	// Publish sends m; a non-empty m.Reply asks the receiver to answer there.
	Publish(m *nats.Msg) error
	// Subscribe registers fn for subject. A non-empty queue joins a queue group.
	// The returned func unsubscribes.
	Subscribe(subject, queue string, fn func(*nats.Msg)) (func() error, error)
	// NewInbox returns a unique reply subject.
	NewInbox() string
	// Done is closed once the connection is closed for good.
	Done() <-chan struct{}
}

// Config describes the NATS endpoint.
type Config struct {
	URL           string
	Name          string
	ConnTimeout   time.Duration
	MaxReconnects int
	Retry         retry.Policy
	Logger        *slog.Logger
}

type natsConn struct {
	nc   *nats.Conn
	done chan struct{}
}

func (c *natsConn) Publish(m *nats.Msg) error {
	if err := c.nc.PublishMsg(m); err != nil {
		return err
	}

	return c.nc.Flush()
}

func (c *natsConn) Subscribe(subject, queue string, fn func(*nats.Msg)) (func() error, error) {
	var (
		sub *nats.Subscription
		err error
	)

	if queue != "" {
		sub, err = c.nc.QueueSubscribe(subject, queue, fn)
	} else {
		sub, err = c.nc.Subscribe(subject, fn)
	}

	if err != nil {
		return nil, err
	}

	return sub.Unsubscribe, nil
}

func (c *natsConn) NewInbox() string { return c.nc.NewRespInbox() }

func (c *natsConn) Done() <-chan struct{} { return c.done }

// Connect dials NATS, retrying until the server answers or ctx ends. Once connected the
// client library handles reconnects itself. The returned cleanup drains and closes.
func Connect(ctx context.Context, cfg Config) (Conn, func(), error) {
	if cfg.URL == "" {
		return nil, nil, fmt.Errorf("nats url required: %w", berr.ErrConfigInvalid)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	c := &natsConn{done: make(chan struct{})}

	var once sync.Once

	opts := []nats.Option{
		nats.ClosedHandler(func(*nats.Conn) { once.Do(func() { close(c.done) }) }),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats disconnected", "err", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	}

	if cfg.Name != "" {
		opts = append(opts, nats.Name(cfg.Name))
	}

	if cfg.ConnTimeout > 0 {
		opts = append(opts, nats.Timeout(cfg.ConnTimeout))
	}

	if cfg.MaxReconnects != 0 {
		opts = append(opts, nats.MaxReconnects(cfg.MaxReconnects))
	}

	err := retry.Forever(ctx, cfg.Retry, "nats connect", func(context.Context) error {
		nc, err := nats.Connect(cfg.URL, opts...)
		if err != nil {
			return err
		}

		c.nc = nc

		return nil
	}, retry.LogObserver(logger))
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	cleanup := func() {
		if !c.nc.IsClosed() {
			_ = c.nc.Drain() //nolint:errcheck // best-effort shutdown; cannot return error here
			c.nc.Close()
		}
	}

	return c, cleanup, nil
}
