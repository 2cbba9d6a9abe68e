package rpcserver_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/next-trace/scg-bank-rpc/adapters/inmemory"
	berr "github.com/next-trace/scg-bank-rpc/contract/errors"
	"github.com/next-trace/scg-bank-rpc/contract/rpc"
	"github.com/next-trace/scg-bank-rpc/retry"
	"github.com/next-trace/scg-bank-rpc/rpcclient"
	"github.com/next-trace/scg-bank-rpc/rpcserver"
)

type ping struct {
	Word string `json:"word"`
}

func pong(_ context.Context, req rpc.Request) (rpc.Response, error) {
	var p ping
	if err := req.Decode(&p); err != nil {
		return rpc.Fail("bad payload"), nil
	}

	if p.Word == "" {
		return rpc.Fail("word is required"), nil
	}

	return rpc.OK(p)
}

// serve runs d over b until the test ends and waits until every key is bound.
func serve(t *testing.T, b *inmemory.Broker, d *rpcserver.Dispatcher) {
	t.Helper()

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)

	go func() { done <- d.Serve(ctx) }()

	t.Cleanup(func() {
		cancel()

		if err := <-done; err != nil {
			t.Errorf("serve: %v", err)
		}
	})

	deadline := time.Now().Add(time.Second)

	for _, k := range d.Keys() {
		for !b.Bound(k) {
			if time.Now().After(deadline) {
				t.Fatalf("%s never bound", k)
			}

			time.Sleep(time.Millisecond)
		}
	}
}

func TestDispatcher_HandleRejectsDuplicates(t *testing.T) {
	d := rpcserver.New(inmemory.NewBroker().Server(0))

	if err := d.Handle("ping", pong); err != nil {
		t.Fatalf("first handle: %v", err)
	}

	if err := d.Handle("ping", pong); !errors.Is(err, berr.ErrHandlerExists) {
		t.Fatalf("want ErrHandlerExists, got %v", err)
	}

	if keys := d.Keys(); len(keys) != 1 || keys[0] != "ping" {
		t.Fatalf("keys=%v", keys)
	}
}

func TestDispatcher_ServesOverBroker(t *testing.T) {
	b := inmemory.NewBroker()
	d := rpcserver.New(b.Server(0))

	_ = d.Handle("ping", pong)
	_ = d.Handle("boom", func(context.Context, rpc.Request) (rpc.Response, error) {
		return rpc.Response{}, errors.New("database is on fire")
	})
	_ = d.Handle("panic", func(context.Context, rpc.Request) (rpc.Response, error) {
		panic("nil map")
	})

	serve(t, b, d)

	c := rpcclient.New(b.Client())
	defer c.Close()

	resp, err := c.Call(t.Context(), "ping", ping{Word: "hello"}, time.Second)
	if err != nil {
		t.Fatalf("ping: %v", err)
	}

	var got ping
	if err := resp.Decode(&got); err != nil || got.Word != "hello" {
		t.Fatalf("ping reply %+v err=%v", got, err)
	}

	resp, _ = c.Call(t.Context(), "ping", ping{}, time.Second)
	if resp.Status != rpc.StatusError || resp.Message != "word is required" {
		t.Fatalf("business error: %+v", resp)
	}

	for _, key := range []string{"boom", "panic"} {
		resp, err = c.Call(t.Context(), key, ping{}, time.Second)
		if err != nil || resp.Message != rpcserver.MsgInternalError {
			t.Fatalf("%s: resp=%+v err=%v", key, resp, err)
		}
	}

	// the dispatcher survived both faults
	if resp, err = c.Call(t.Context(), "ping", ping{Word: "again"}, time.Second); err != nil || !resp.IsOK() {
		t.Fatalf("after faults: resp=%+v err=%v", resp, err)
	}

	// ack follows the reply, so the last one may still be in flight
	deadline := time.Now().Add(time.Second)
	for b.Acked() != 5 {
		if time.Now().After(deadline) {
			t.Fatalf("acked=%d", b.Acked())
		}

		time.Sleep(time.Millisecond)
	}
}

func TestDispatcher_UnknownRoutingKey(t *testing.T) {
	b := inmemory.NewBroker()
	srv := b.Server(0)
	d := rpcserver.New(srv)

	_ = d.Handle("ping", pong)

	replies := make(chan rpc.Message, 1)
	cl := b.Client()
	cl.OnReply(func(m rpc.Message) { replies <- m })

	replyTo, _ := cl.ReplyTo(t.Context())

	var acked atomic.Int32

	// a queue may carry keys no handler knows about, e.g. after a rolling deploy
	d.Process(t.Context(), rpc.Delivery{
		Message: rpc.Message{RoutingKey: "audit.export", CorrelationID: "c-9", ReplyTo: replyTo},
		Ack:     func() error { acked.Add(1); return nil },
	})

	select {
	case m := <-replies:
		resp, err := rpc.DecodeResponse(m.Body)
		if err != nil || resp.Message != rpcserver.MsgUnknownKey || m.CorrelationID != "c-9" {
			t.Fatalf("reply=%+v resp=%+v err=%v", m, resp, err)
		}
	case <-time.After(time.Second):
		t.Fatalf("no reply for unknown key")
	}

	if acked.Load() != 1 {
		t.Fatalf("unknown key must still be acked")
	}
}

func TestDispatcher_MissingReplyToStillAcks(t *testing.T) {
	b := inmemory.NewBroker()
	d := rpcserver.New(b.Server(0))

	var called, acked bool

	_ = d.Handle("ping", func(ctx context.Context, req rpc.Request) (rpc.Response, error) {
		called = true
		return pong(ctx, req)
	})

	d.Process(t.Context(), rpc.Delivery{
		Message: rpc.Message{RoutingKey: "ping", Body: []byte(`{"word":"x"}`)},
		Ack:     func() error { acked = true; return nil },
	})

	if !called || !acked || b.Dropped() != 0 {
		t.Fatalf("called=%v acked=%v dropped=%d", called, acked, b.Dropped())
	}
}

// flakyTransport fails the first n Consume calls, then blocks until ctx ends.
type flakyTransport struct {
	mu    sync.Mutex
	fails int
	calls int
}

func (f *flakyTransport) Consume(ctx context.Context, _ []string, _ rpc.DeliveryFunc) error {
	f.mu.Lock()
	f.calls++
	n := f.calls
	f.mu.Unlock()

	if n <= f.fails {
		return errors.New("dial tcp: connection refused")
	}

	<-ctx.Done()

	return nil
}

func (*flakyTransport) Reply(context.Context, string, rpc.Message) error { return nil }

func (f *flakyTransport) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.calls
}

func TestDispatcher_ServeRestartsConsumeUntilBrokerAppears(t *testing.T) {
	tr := &flakyTransport{fails: 3}
	d := rpcserver.New(tr, rpcserver.WithRetryPolicy(retry.Fixed(time.Millisecond)))

	_ = d.Handle("ping", pong)

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)

	go func() { done <- d.Serve(ctx) }()

	deadline := time.Now().Add(time.Second)
	for tr.Calls() < 4 {
		if time.Now().After(deadline) {
			t.Fatalf("consume attempts=%d", tr.Calls())
		}

		time.Sleep(time.Millisecond)
	}

	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("serve did not stop")
	}

	if tr.Calls() != 4 {
		t.Fatalf("consume restarted after success: %d", tr.Calls())
	}
}
