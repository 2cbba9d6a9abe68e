package rabbitmq

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	berr "github.com/next-trace/scg-bank-rpc/contract/errors"
	"github.com/next-trace/scg-bank-rpc/contract/rpc"
	"github.com/next-trace/scg-bank-rpc/retry"
)

const (
	exchangeKind    = "direct"
	contentTypeJSON = "application/json"
)

// Channel is the subset of *amqp.Channel the transports use.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	Qos(prefetchCount, prefetchSize int, global bool) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	NotifyClose(c chan *amqp.Error) chan *amqp.Error
}

// DialFunc opens a channel on a fresh connection. The returned func closes both.
type DialFunc func(ctx context.Context) (Channel, func(), error)

// Config describes the broker endpoint and request topology.
type Config struct {
	URL         string
	Exchange    string
	Queue       string
	Prefetch    int
	ConnTimeout time.Duration
	Retry       retry.Policy
	Logger      *slog.Logger

	// Dial replaces the amqp091 dialer, mainly for tests.
	Dial DialFunc
}

func (c Config) withDefaults() (Config, error) {
	if c.URL == "" && c.Dial == nil {
		return c, fmt.Errorf("rabbitmq url required: %w", berr.ErrConfigInvalid)
	}

	if c.Exchange == "" {
		c.Exchange = rpc.DefaultExchange
	}

	if c.Queue == "" {
		c.Queue = rpc.DefaultQueue
	}

	if c.Prefetch <= 0 {
		c.Prefetch = 1
	}

	if c.ConnTimeout <= 0 {
		c.ConnTimeout = 30 * time.Second
	}

	if c.Logger == nil {
		c.Logger = slog.New(slog.DiscardHandler)
	}

	if c.Dial == nil {
		c.Dial = dialAMQP(c.URL, c.ConnTimeout)
	}

	return c, nil
}

func dialAMQP(url string, timeout time.Duration) DialFunc {
	return func(ctx context.Context) (Channel, func(), error) {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}

		conn, err := amqp.DialConfig(url, amqp.Config{
			Locale:     "en_US",
			Properties: amqp.Table{"product": "scg-bank-rpc"},
			Dial:       amqp.DefaultDial(timeout),
		})
		if err != nil {
			return nil, nil, err
		}

		ch, err := conn.Channel()
		if err != nil {
			_ = conn.Close()
			return nil, nil, err
		}

		return ch, func() {
			_ = ch.Close()
			_ = conn.Close()
		}, nil
	}
}

func declareExchange(ch Channel, name string) error {
	return ch.ExchangeDeclare(name, exchangeKind, true, false, false, false, nil)
}

func toTable(h map[string]string) amqp.Table {
	if len(h) == 0 {
		return nil
	}

	t := make(amqp.Table, len(h))
	for k, v := range h {
		t[k] = v
	}

	return t
}

func fromTable(t amqp.Table) map[string]string {
	if len(t) == 0 {
		return nil
	}

	h := make(map[string]string, len(t))
	for k, v := range t {
		if s, ok := v.(string); ok {
			h[k] = s
			continue
		}

		h[k] = fmt.Sprint(v)
	}

	return h
}

func messageFrom(d amqp.Delivery) rpc.Message {
	return rpc.Message{
		RoutingKey:    d.RoutingKey,
		CorrelationID: d.CorrelationId,
		ReplyTo:       d.ReplyTo,
		Headers:       fromTable(d.Headers),
		Body:          d.Body,
	}
}
