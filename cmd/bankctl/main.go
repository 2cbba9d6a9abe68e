// Command bankctl calls a running bankd over the configured broker and prints the reply
// data as JSON.
//
//	bankctl identity 12345678
//	bankctl balance CL001
//	bankctl history CL001
//	bankctl loan CL001 250.00
//	bankctl transfer CL001 CL002 40
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/shopspring/decimal"

	"github.com/next-trace/scg-bank-rpc/adapters/nats"
	"github.com/next-trace/scg-bank-rpc/adapters/otelprop"
	"github.com/next-trace/scg-bank-rpc/adapters/rabbitmq"
	"github.com/next-trace/scg-bank-rpc/bank"
	"github.com/next-trace/scg-bank-rpc/config"
	"github.com/next-trace/scg-bank-rpc/contract/rpc"
	"github.com/next-trace/scg-bank-rpc/identity"
	"github.com/next-trace/scg-bank-rpc/retry"
	"github.com/next-trace/scg-bank-rpc/rpcclient"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "bankctl:", err)
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	fs := flag.NewFlagSet("bankctl", flag.ContinueOnError)
	broker := fs.String("broker", cfg.Broker, "rabbitmq or nats")
	url := fs.String("url", "", "broker url (defaults to RABBITMQ_URL or NATS_URL)")
	timeout := fs.Duration("timeout", cfg.RPCTimeout, "per call timeout")
	connect := fs.Duration("connect", 10*time.Second, "give up connecting after this long")

	if err := fs.Parse(args); err != nil {
		return err
	}

	if fs.NArg() == 0 {
		return errors.New("usage: bankctl [flags] identity|balance|history|loan|transfer args...")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *connect+*timeout)
	defer cancel()

	tr, closeTr, err := clientTransport(ctx, cfg, *broker, *url, *connect)
	if err != nil {
		return err
	}
	defer closeTr()

	rc := rpcclient.New(tr, rpcclient.WithTimeout(*timeout), rpcclient.WithPropagator(otelprop.Default()))
	defer rc.Close()

	res, err := call(ctx, bank.NewClient(rc, *timeout), identity.NewClient(rc, *timeout), fs.Args())
	if err != nil {
		return err
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")

	return enc.Encode(res)
}

func call(ctx context.Context, c *bank.Client, people *identity.Client, args []string) (any, error) {
	cmd, rest := args[0], args[1:]

	need := map[string]int{"identity": 1, "balance": 1, "history": 1, "loan": 2, "transfer": 3}
	n, ok := need[cmd]

	if !ok {
		return nil, fmt.Errorf("unknown command %q", cmd)
	}

	if len(rest) != n {
		return nil, fmt.Errorf("%s takes %d arguments, got %d", cmd, n, len(rest))
	}

	switch cmd {
	case "identity":
		return people.Lookup(ctx, rest[0])
	case "balance":
		return c.Balance(ctx, rest[0])
	case "history":
		return c.History(ctx, rest[0])
	case "loan":
		amount, err := decimal.NewFromString(rest[1])
		if err != nil {
			return nil, fmt.Errorf("amount %q: %w", rest[1], err)
		}

		return c.RequestLoan(ctx, rest[0], amount)
	default:
		amount, err := decimal.NewFromString(rest[2])
		if err != nil {
			return nil, fmt.Errorf("amount %q: %w", rest[2], err)
		}

		return c.Transfer(ctx, rest[0], rest[1], amount)
	}
}

func clientTransport(ctx context.Context, cfg config.Config, broker, url string, connect time.Duration) (rpc.ClientTransport, func(), error) {
	ctx, cancel := context.WithTimeout(ctx, connect)
	defer cancel()

	switch broker {
	case config.BrokerNATS:
		if url == "" {
			url = cfg.NATSURL
		}

		conn, closeConn, err := nats.Connect(ctx, nats.Config{URL: url, Name: "bankctl", Retry: retry.Fixed(time.Second)})
		if err != nil {
			return nil, nil, err
		}

		cl, err := nats.NewClient(conn, nats.Options{})
		if err != nil {
			closeConn()
			return nil, nil, err
		}

		return cl, closeConn, nil
	case config.BrokerRabbitMQ:
		if url == "" {
			url = cfg.RabbitMQURL
		}

		cl, err := rabbitmq.NewClient(rabbitmq.Config{URL: url, Exchange: cfg.Exchange, Retry: retry.Fixed(time.Second)})
		if err != nil {
			return nil, nil, err
		}

		return cl, func() {}, nil
	default:
		return nil, nil, fmt.Errorf("broker %q cannot be reached from another process", broker)
	}
}
