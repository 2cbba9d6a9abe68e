package rabbitmq

import (
	"context"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	berr "github.com/next-trace/scg-bank-rpc/contract/errors"
	"github.com/next-trace/scg-bank-rpc/retry"
)

// replySession keeps one channel and one private reply queue alive, redialing and
// redeclaring after every connection loss.
type replySession struct {
	cfg     Config
	deliver func(amqp.Delivery)

	mu      sync.RWMutex
	ch      Channel
	queue   string
	ready   chan struct{} // closed while a channel is usable
	stop    context.CancelFunc
	stopped chan struct{}
}

func newReplySession(cfg Config, deliver func(amqp.Delivery)) *replySession {
	ctx, cancel := context.WithCancel(context.Background())

	s := &replySession{
		cfg:     cfg,
		deliver: deliver,
		ready:   make(chan struct{}),
		stop:    cancel,
		stopped: make(chan struct{}),
	}

	go s.run(ctx)

	return s
}

func (s *replySession) run(ctx context.Context) {
	defer close(s.stopped)

	for ctx.Err() == nil {
		var (
			notify  chan *amqp.Error
			release func()
		)

		err := retry.Forever(ctx, s.cfg.Retry, "rabbitmq connect", func(ctx context.Context) error {
			n, closer, err := s.connect(ctx)
			if err != nil {
				return err
			}

			notify, release = n, closer

			return nil
		}, retry.LogObserver(s.cfg.Logger))
		if err != nil {
			return
		}

		select {
		case <-ctx.Done():
		case amqpErr := <-notify:
			s.cfg.Logger.Warn("rabbitmq connection lost", "err", amqpErr)
		}

		s.reset()
		release()
	}
}

// connect dials, declares the request exchange and a fresh reply queue, and starts
// draining replies.
func (s *replySession) connect(ctx context.Context) (chan *amqp.Error, func(), error) {
	ch, closer, err := s.cfg.Dial(ctx)
	if err != nil {
		return nil, nil, err
	}

	notify := ch.NotifyClose(make(chan *amqp.Error, 1))

	if err := declareExchange(ch, s.cfg.Exchange); err != nil {
		closer()
		return nil, nil, fmt.Errorf("declare exchange %s: %w", s.cfg.Exchange, err)
	}

	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		closer()
		return nil, nil, fmt.Errorf("declare reply queue: %w", err)
	}

	replies, err := ch.Consume(q.Name, "", true, true, false, false, nil)
	if err != nil {
		closer()
		return nil, nil, fmt.Errorf("consume reply queue %s: %w", q.Name, err)
	}

	go func() {
		for d := range replies {
			s.deliver(d)
		}
	}()

	s.mu.Lock()
	s.ch = ch
	s.queue = q.Name
	close(s.ready)
	s.mu.Unlock()

	s.cfg.Logger.Info("rabbitmq reply queue ready", "queue", q.Name)

	return notify, closer, nil
}

func (s *replySession) reset() {
	s.mu.Lock()
	s.ch = nil
	s.queue = ""
	s.ready = make(chan struct{})
	s.mu.Unlock()
}

// current waits until a channel is usable and returns it with its reply queue.
func (s *replySession) current(ctx context.Context) (Channel, string, error) {
	for {
		s.mu.RLock()
		ch, queue, ready := s.ch, s.queue, s.ready
		s.mu.RUnlock()

		if ch != nil {
			return ch, queue, nil
		}

		select {
		case <-ready:
		case <-ctx.Done():
			return nil, "", ctx.Err()
		case <-s.stopped:
			return nil, "", fmt.Errorf("rabbitmq session: %w", berr.ErrClosed)
		}
	}
}

func (s *replySession) close() {
	s.stop()
	<-s.stopped
}
