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

// Server is the AMQP rpc.ServerTransport. Consume holds one connection at a time;
// reconnecting is left to the caller, normally rpcserver.Dispatcher.Serve.
type Server struct {
	cfg Config

	mu sync.RWMutex
	ch Channel
}

var _ rpc.ServerTransport = (*Server)(nil)

// NewServer validates cfg. No connection is made until Consume.
func NewServer(cfg Config) (*Server, error) {
	cfg, err := cfg.withDefaults()
	if err != nil {
		return nil, err
	}

	return &Server{cfg: cfg}, nil
}

// Consume declares the durable exchange and queue, binds every key, and hands deliveries
// to fn one at a time. It returns nil when ctx ends and ErrConnectionLost when the
// broker closes the delivery stream.
func (s *Server) Consume(ctx context.Context, keys []string, fn rpc.DeliveryFunc) error {
	ch, closer, err := s.cfg.Dial(ctx)
	if err != nil {
		return fmt.Errorf("rabbitmq dial: %w", err)
	}
	defer closer()

	deliveries, err := s.declare(ch, keys)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.ch = ch
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.ch = nil
		s.mu.Unlock()
	}()

	s.cfg.Logger.Info("rabbitmq consuming", "queue", s.cfg.Queue, "routing_keys", keys, "prefetch", s.cfg.Prefetch)

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("rabbitmq consume %s: %w", s.cfg.Queue, berr.ErrConnectionLost)
			}

			fn(ctx, rpc.Delivery{Message: messageFrom(d), Ack: ackFunc(d)})
		}
	}
}

func (s *Server) declare(ch Channel, keys []string) (<-chan amqp.Delivery, error) {
	if err := declareExchange(ch, s.cfg.Exchange); err != nil {
		return nil, fmt.Errorf("declare exchange %s: %w", s.cfg.Exchange, err)
	}

	if _, err := ch.QueueDeclare(s.cfg.Queue, true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("declare queue %s: %w", s.cfg.Queue, err)
	}

	for _, k := range keys {
		if err := ch.QueueBind(s.cfg.Queue, k, s.cfg.Exchange, false, nil); err != nil {
			return nil, fmt.Errorf("bind %s to %s: %w", k, s.cfg.Queue, err)
		}
	}

	if err := ch.Qos(s.cfg.Prefetch, 0, false); err != nil {
		return nil, fmt.Errorf("qos %d: %w", s.cfg.Prefetch, err)
	}

	deliveries, err := ch.Consume(s.cfg.Queue, "", false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("consume %s: %w", s.cfg.Queue, err)
	}

	return deliveries, nil
}

func ackFunc(d amqp.Delivery) func() error {
	return func() error { return d.Ack(false) }
}

// Reply publishes m to the default exchange with the reply queue name as routing key.
func (s *Server) Reply(ctx context.Context, to string, m rpc.Message) error {
	s.mu.RLock()
	ch := s.ch
	s.mu.RUnlock()

	if ch == nil {
		return fmt.Errorf("rabbitmq reply: %w", berr.ErrNotConnected)
	}

	err := ch.PublishWithContext(ctx, "", to, false, false, amqp.Publishing{
		ContentType:   contentTypeJSON,
		CorrelationId: m.CorrelationID,
		Headers:       toTable(m.Headers),
		Body:          m.Body,
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		return fmt.Errorf("rabbitmq reply to %s: %w", to, errors.Join(berr.ErrPublishFailed, err))
	}

	return nil
}
