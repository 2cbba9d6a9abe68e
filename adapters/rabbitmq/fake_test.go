package rabbitmq_test

import (
	"context"
	"errors"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/next-trace/scg-bank-rpc/adapters/rabbitmq"
)

type published struct {
	exchange string
	key      string
	msg      amqp.Publishing
}

type channelState struct {
	exchanges []string
	queues    []string
	bindings  []string
	prefetch  int
	autoAck   []bool
	published []published
	acks      []uint64
	closed    bool
}

// fakeChannel records the topology and traffic of one AMQP channel.
type fakeChannel struct {
	name       string
	deliveries chan amqp.Delivery

	mu     sync.Mutex
	st     channelState
	notify chan *amqp.Error
}

func newFakeChannel(name string) *fakeChannel {
	return &fakeChannel{name: name, deliveries: make(chan amqp.Delivery, 8)}
}

func (f *fakeChannel) ExchangeDeclare(name, kind string, durable, _, _, _ bool, _ amqp.Table) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.st.exchanges = append(f.st.exchanges, fmt.Sprintf("%s/%s/durable=%v", name, kind, durable))

	return nil
}

func (f *fakeChannel) QueueDeclare(name string, durable, autoDelete, exclusive, _ bool, _ amqp.Table) (amqp.Queue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if name == "" {
		name = f.name
	}

	f.st.queues = append(f.st.queues, fmt.Sprintf("%s/durable=%v/auto=%v/excl=%v", name, durable, autoDelete, exclusive))

	return amqp.Queue{Name: name}, nil
}

func (f *fakeChannel) QueueBind(name, key, exchange string, _ bool, _ amqp.Table) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.st.bindings = append(f.st.bindings, exchange+":"+key+"->"+name)

	return nil
}

func (f *fakeChannel) Qos(prefetchCount, _ int, _ bool) error {
	f.mu.Lock()
	f.st.prefetch = prefetchCount
	f.mu.Unlock()

	return nil
}

func (f *fakeChannel) Consume(_, _ string, autoAck, _, _, _ bool, _ amqp.Table) (<-chan amqp.Delivery, error) {
	f.mu.Lock()
	f.st.autoAck = append(f.st.autoAck, autoAck)
	f.mu.Unlock()

	return f.deliveries, nil
}

func (f *fakeChannel) PublishWithContext(ctx context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.st.closed {
		return amqp.ErrClosed
	}

	f.st.published = append(f.st.published, published{exchange: exchange, key: key, msg: msg})

	return nil
}

func (f *fakeChannel) NotifyClose(c chan *amqp.Error) chan *amqp.Error {
	f.mu.Lock()
	f.notify = c
	f.mu.Unlock()

	return c
}

func (f *fakeChannel) close() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.st.closed {
		f.st.closed = true
		close(f.deliveries)
	}
}

// drop simulates the broker closing the connection.
func (f *fakeChannel) drop() {
	f.mu.Lock()
	n := f.notify
	f.mu.Unlock()

	n <- &amqp.Error{Code: amqp.ConnectionForced, Reason: "CONNECTION_FORCED"}
}

func (f *fakeChannel) Ack(tag uint64, _ bool) error {
	f.mu.Lock()
	f.st.acks = append(f.st.acks, tag)
	f.mu.Unlock()

	return nil
}

func (f *fakeChannel) Nack(uint64, bool, bool) error { return nil }
func (f *fakeChannel) Reject(uint64, bool) error     { return nil }

func (f *fakeChannel) snapshot() channelState {
	f.mu.Lock()
	defer f.mu.Unlock()

	st := f.st
	st.published = append([]published(nil), f.st.published...)
	st.acks = append([]uint64(nil), f.st.acks...)

	return st
}

// fakeDialer hands out prepared channels in order, failing the first fails dials.
type fakeDialer struct {
	mu       sync.Mutex
	fails    int
	attempts int
	channels []*fakeChannel
}

func (d *fakeDialer) dial(ctx context.Context) (rabbitmq.Channel, func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.attempts++
	if d.attempts <= d.fails || len(d.channels) == 0 {
		return nil, nil, errors.New("dial tcp 127.0.0.1:5672: connect: connection refused")
	}

	ch := d.channels[0]
	d.channels = d.channels[1:]

	return ch, ch.close, nil
}

func (d *fakeDialer) Attempts() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.attempts
}
