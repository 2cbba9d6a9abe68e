// Package memory wires the whole banking stack in process: in-memory broker, memstore,
// dispatcher with the bank and identity handlers, event bus and typed clients. The examples, the
// memory broker mode of bankd and end-to-end tests use it.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/next-trace/scg-bank-rpc/adapters/inmemory"
	"github.com/next-trace/scg-bank-rpc/bank"
	"github.com/next-trace/scg-bank-rpc/identity"
	"github.com/next-trace/scg-bank-rpc/rpcclient"
	"github.com/next-trace/scg-bank-rpc/rpcserver"
	"github.com/next-trace/scg-bank-rpc/servicebus"
	"github.com/next-trace/scg-bank-rpc/storage/memstore"
)

type Stack struct {
	Broker     *inmemory.Broker
	Store      *memstore.Store
	Events     *inmemory.Publisher
	Bus        *servicebus.Bus
	Service    *bank.Service
	Dispatcher *rpcserver.Dispatcher
	RPC        *rpcclient.Client
	Client     *bank.Client
	Identity   *identity.Registry
	People     *identity.Client
}

// New builds a Stack and starts serving. The returned cleanup stops the dispatcher and
// closes the client.
func New(ctx context.Context, logger *slog.Logger) (*Stack, func(), error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	s := &Stack{
		Broker:   inmemory.NewBroker(),
		Store:    memstore.New(),
		Events:   &inmemory.Publisher{},
		Identity: identity.NewRegistry(),
	}

	s.Bus = servicebus.New(s.Events, logger)
	if err := bank.ForwardEvents(s.Bus); err != nil {
		return nil, nil, err
	}

	s.Service = bank.NewService(s.Store, bank.WithEvents(s.Bus), bank.WithLogger(logger))

	s.Dispatcher = rpcserver.New(s.Broker.Server(64), rpcserver.WithLogger(logger))
	s.Dispatcher.Use(rpcserver.Logging(logger))

	if err := bank.Register(s.Dispatcher, s.Service); err != nil {
		return nil, nil, err
	}

	if err := identity.Register(s.Dispatcher, s.Identity); err != nil {
		return nil, nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)

		if err := s.Dispatcher.Serve(ctx); err != nil {
			logger.Error("memory dispatcher stopped", "err", err)
		}
	}()

	s.RPC = rpcclient.New(s.Broker.Client(), rpcclient.WithLogger(logger))
	s.Client = bank.NewClient(s.RPC, 0)
	s.People = identity.NewClient(s.RPC, 0)

	cleanup := func() {
		_ = s.RPC.Close()
		cancel()
		<-done
	}

	if err := s.waitBound(ctx); err != nil {
		cleanup()
		return nil, nil, err
	}

	return s, cleanup, nil
}

func (s *Stack) waitBound(ctx context.Context) error {
	t := time.NewTicker(time.Millisecond)
	defer t.Stop()

	for _, k := range s.Dispatcher.Keys() {
		for !s.Broker.Bound(k) {
			select {
			case <-ctx.Done():
				return fmt.Errorf("memory stack: %s not bound: %w", k, ctx.Err())
			case <-t.C:
			}
		}
	}

	return nil
}
