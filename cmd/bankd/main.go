// Command bankd serves the banking and identity routing keys over RabbitMQ or NATS
// against PostgreSQL. BROKER=memory runs the whole stack in process with a few seeded
// accounts and people.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/shopspring/decimal"

	"github.com/next-trace/scg-bank-rpc/adapters/kafka"
	"github.com/next-trace/scg-bank-rpc/adapters/nats"
	"github.com/next-trace/scg-bank-rpc/adapters/otelprop"
	"github.com/next-trace/scg-bank-rpc/adapters/rabbitmq"
	"github.com/next-trace/scg-bank-rpc/bank"
	"github.com/next-trace/scg-bank-rpc/config"
	"github.com/next-trace/scg-bank-rpc/contract/rpc"
	"github.com/next-trace/scg-bank-rpc/identity"
	"github.com/next-trace/scg-bank-rpc/memory"
	"github.com/next-trace/scg-bank-rpc/rpcserver"
	"github.com/next-trace/scg-bank-rpc/servicebus"
	"github.com/next-trace/scg-bank-rpc/storage/postgres"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "bankd:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := config.NewLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Broker == config.BrokerMemory {
		return runMemory(ctx, logger)
	}

	prop := otelprop.Default()

	bus, closeEvents, err := eventBus(cfg, prop, logger)
	if err != nil {
		return err
	}
	defer closeEvents()

	store, err := postgres.Open(ctx, postgres.Config{
		DSN:          cfg.DSN(),
		MaxOpenConns: cfg.DB.MaxConns,
		Retry:        cfg.RetryPolicy(),
		Logger:       logger,
	})
	if err != nil {
		return ignoreCanceled(err)
	}
	defer store.Close()

	if err := store.Migrate(ctx); err != nil {
		return err
	}

	tr, closeTransport, err := serverTransport(ctx, cfg, logger)
	if err != nil {
		return ignoreCanceled(err)
	}
	defer closeTransport()

	d := rpcserver.New(tr,
		rpcserver.WithLogger(logger),
		rpcserver.WithPropagator(prop),
		rpcserver.WithRetryPolicy(cfg.RetryPolicy()),
	)
	d.Use(
		rpcserver.Logging(logger),
		rpcserver.RateLimit(cfg.RateLimit, cfg.RateBurst),
		rpcserver.Timeout(cfg.HandlerTimeout),
	)

	svc := bank.NewService(store, bank.WithEvents(bus), bank.WithLogger(logger))
	if err := bank.Register(d, svc); err != nil {
		return err
	}

	if err := identity.Register(d, store.People()); err != nil {
		return err
	}

	logger.Info("bankd serving", "broker", cfg.Broker, "routing_keys", d.Keys())

	return d.Serve(ctx)
}

// eventBus forwards bank events to Kafka when brokers are configured. Without Kafka
// the bus still runs but has no integration publisher and forwards nothing.
func eventBus(cfg config.Config, prop rpc.HeaderPropagator, logger *slog.Logger) (*servicebus.Bus, func(), error) {
	if len(cfg.KafkaBrokers) == 0 {
		return servicebus.New(nil, logger), func() {}, nil
	}

	pub, closePub, err := kafka.NewWithKgo(kafka.Config{Brokers: cfg.KafkaBrokers, ClientID: cfg.KafkaClientID})
	if err != nil {
		return nil, nil, err
	}

	pub.Propagator = prop

	bus := servicebus.New(pub, logger)
	if err := bank.ForwardEvents(bus); err != nil {
		closePub()
		return nil, nil, err
	}

	logger.Info("forwarding bank events to kafka", "brokers", cfg.KafkaBrokers)

	return bus, closePub, nil
}

func serverTransport(ctx context.Context, cfg config.Config, logger *slog.Logger) (rpc.ServerTransport, func(), error) {
	switch cfg.Broker {
	case config.BrokerNATS:
		conn, closeConn, err := nats.Connect(ctx, nats.Config{
			URL:    cfg.NATSURL,
			Name:   "bankd",
			Retry:  cfg.RetryPolicy(),
			Logger: logger,
		})
		if err != nil {
			return nil, nil, err
		}

		return nats.NewServer(conn, nats.Options{Queue: cfg.Queue, Logger: logger}), closeConn, nil
	default:
		srv, err := rabbitmq.NewServer(rabbitmq.Config{
			URL:      cfg.RabbitMQURL,
			Exchange: cfg.Exchange,
			Queue:    cfg.Queue,
			Prefetch: cfg.Prefetch,
			Retry:    cfg.RetryPolicy(),
			Logger:   logger,
		})
		if err != nil {
			return nil, nil, err
		}

		return srv, func() {}, nil
	}
}

var demoAccounts = map[string]int64{"CL001": 1000, "CL002": 500, "CL003": 0}

var demoPeople = []identity.Person{
	{DNI: "12345678", Names: "Ana Lucia", PaternalSurname: "Quispe", MaternalSurname: "Mamani"},
	{DNI: "87654321", Names: "Jorge", PaternalSurname: "Rojas", MaternalSurname: "Vargas"},
}

func runMemory(ctx context.Context, logger *slog.Logger) error {
	s, cleanup, err := memory.New(ctx, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	for id, bal := range demoAccounts {
		if _, err := s.Store.CreateAccount(id, decimal.NewFromInt(bal)); err != nil {
			return err
		}
	}

	for _, p := range demoPeople {
		if err := s.Identity.Add(p); err != nil {
			return err
		}
	}

	logger.Info("bankd serving in process", "routing_keys", s.Dispatcher.Keys())
	<-ctx.Done()

	return nil
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}

	return err
}
