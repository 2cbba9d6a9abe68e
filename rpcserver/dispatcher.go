/*
Package rpcserver routes inbound requests to business handlers by routing key and replies
to the caller's reply destination with the correlation id copied verbatim.

Every delivery is acknowledged once processing ends, whatever the outcome: unknown keys,
handler errors and panics all turn into ERROR replies, and the consume loop keeps going.
*/
package rpcserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	berr "github.com/next-trace/scg-bank-rpc/contract/errors"
	"github.com/next-trace/scg-bank-rpc/contract/rpc"
	"github.com/next-trace/scg-bank-rpc/retry"
)

// Reply messages for faults the dispatcher handles itself.
const (
	MsgUnknownKey    = "routing key not recognized"
	MsgInternalError = "internal error"
)

// HandlerFunc serves one request. The returned Response is the business outcome, OK or
// ERROR. A non-nil error is an unexpected fault and is answered with "internal error".
type HandlerFunc func(ctx context.Context, req rpc.Request) (rpc.Response, error)

// Middleware wraps a HandlerFunc.
type Middleware func(next HandlerFunc) HandlerFunc

// Dispatcher consumes requests from a ServerTransport, one at a time.
type Dispatcher struct {
	tr         rpc.ServerTransport
	logger     *slog.Logger
	propagator rpc.HeaderPropagator
	policy     retry.Policy

	mu       sync.RWMutex
	handlers map[string]HandlerFunc
	mw       []Middleware
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the dispatcher logger.
func WithLogger(l *slog.Logger) Option { return func(d *Dispatcher) { d.logger = l } }

// WithPropagator extracts tracing context from request headers into the handler context.
func WithPropagator(p rpc.HeaderPropagator) Option {
	return func(d *Dispatcher) {
		if p != nil {
			d.propagator = p
		}
	}
}

// WithRetryPolicy sets the wait between consume loop restarts.
func WithRetryPolicy(p retry.Policy) Option { return func(d *Dispatcher) { d.policy = p } }

// New constructs a Dispatcher over tr.
func New(tr rpc.ServerTransport, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		tr:         tr,
		propagator: rpc.NopHeaderPropagator{},
		policy:     retry.Fixed(retry.DefaultDelay),
		handlers:   make(map[string]HandlerFunc),
	}

	for _, o := range opts {
		o(d)
	}

	if d.logger == nil {
		d.logger = slog.New(slog.DiscardHandler)
	}

	return d
}

// Handle registers h for key. Duplicate registrations are rejected.
func (d *Dispatcher) Handle(key string, h HandlerFunc) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.handlers[key]; exists {
		return fmt.Errorf("handle %s: %w", key, berr.ErrHandlerExists)
	}

	d.handlers[key] = h

	return nil
}

// Use appends middleware. The first registered middleware runs outermost.
func (d *Dispatcher) Use(mw ...Middleware) {
	d.mu.Lock()
	d.mw = append(d.mw, mw...)
	d.mu.Unlock()
}

// Keys returns the registered routing keys in sorted order.
func (d *Dispatcher) Keys() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	keys := make([]string, 0, len(d.handlers))
	for k := range d.handlers {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}

// Serve consumes the registered keys until ctx ends. A lost connection restarts the
// consume loop after the retry policy delay instead of returning.
func (d *Dispatcher) Serve(ctx context.Context) error {
	keys := d.Keys()

	err := retry.Forever(ctx, d.policy, "rpc consume", func(ctx context.Context) error {
		d.logger.Info("consuming", "routing_keys", keys)

		if err := d.tr.Consume(ctx, keys, d.Process); err != nil {
			return err
		}

		if ctx.Err() == nil {
			return fmt.Errorf("consume returned early: %w", berr.ErrConnectionLost)
		}

		return nil
	}, retry.LogObserver(d.logger))

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}

	return err
}

// Process handles one delivery: dispatch, reply, ack. It is the DeliveryFunc handed to
// the transport and is exported for transports driven by hand.
func (d *Dispatcher) Process(ctx context.Context, del rpc.Delivery) {
	defer func() {
		if del.Ack == nil {
			return
		}

		if err := del.Ack(); err != nil {
			d.logger.Error("ack failed", "routing_key", del.RoutingKey, "correlation_id", del.CorrelationID, "err", err)
		}
	}()

	resp := d.Dispatch(d.propagator.Extract(ctx, del.Headers), rpc.RequestFrom(del.Message))

	if del.ReplyTo == "" {
		d.logger.Warn("request without reply destination", "routing_key", del.RoutingKey, "correlation_id", del.CorrelationID)
		return
	}

	body, err := resp.Encode()
	if err != nil {
		d.logger.Error("encode reply", "routing_key", del.RoutingKey, "correlation_id", del.CorrelationID, "err", err)
		body, _ = rpc.Fail(MsgInternalError).Encode()
	}

	reply := rpc.Message{
		CorrelationID: del.CorrelationID,
		Headers:       map[string]string{rpc.HeaderCorrelationID: del.CorrelationID},
		Body:          body,
	}

	if err := d.tr.Reply(ctx, del.ReplyTo, reply); err != nil {
		d.logger.Error("reply failed", "routing_key", del.RoutingKey, "correlation_id", del.CorrelationID, "err", err)
	}
}

// Dispatch runs the handler chain for req and converts faults into ERROR responses.
func (d *Dispatcher) Dispatch(ctx context.Context, req rpc.Request) (resp rpc.Response) {
	d.mu.RLock()
	h, ok := d.handlers[req.RoutingKey]
	chain := append([]Middleware(nil), d.mw...)
	d.mu.RUnlock()

	if !ok {
		d.logger.Warn("unknown routing key", "routing_key", req.RoutingKey, "correlation_id", req.CorrelationID,
			"err", berr.ErrRoutingKeyUnknown)

		return rpc.Fail(MsgUnknownKey)
	}

	final := h
	for i := len(chain) - 1; i >= 0; i-- {
		final = chain[i](final)
	}

	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("handler panic", "routing_key", req.RoutingKey, "correlation_id", req.CorrelationID, "panic", r)
			resp = rpc.Fail(MsgInternalError)
		}
	}()

	resp, err := final(ctx, req)
	if err != nil {
		d.logger.Error("handler failed", "routing_key", req.RoutingKey, "correlation_id", req.CorrelationID, "err", err)
		return rpc.Fail(MsgInternalError)
	}

	if resp.Status == "" {
		d.logger.Error("handler returned empty response", "routing_key", req.RoutingKey, "correlation_id", req.CorrelationID)
		return rpc.Fail(MsgInternalError)
	}

	return resp
}
