// Package otelprop carries OpenTelemetry trace context in RPC message headers.
package otelprop

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/next-trace/scg-bank-rpc/contract/rpc"
)

// Propagator implements rpc.HeaderPropagator over an OpenTelemetry TextMapPropagator.
type Propagator struct {
	tm propagation.TextMapPropagator
}

var _ rpc.HeaderPropagator = Propagator{}

// New wraps tm. A nil tm uses the globally registered propagator.
func New(tm propagation.TextMapPropagator) Propagator {
	if tm == nil {
		tm = otel.GetTextMapPropagator()
	}

	return Propagator{tm: tm}
}

// Default propagates W3C trace context and baggage.
func Default() Propagator {
	return New(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
}

func (p Propagator) Inject(ctx context.Context, headers map[string]string) {
	if headers == nil {
		return
	}

	p.tm.Inject(ctx, propagation.MapCarrier(headers))
}

func (p Propagator) Extract(ctx context.Context, headers map[string]string) context.Context {
	if len(headers) == 0 {
		return ctx
	}

	return p.tm.Extract(ctx, propagation.MapCarrier(headers))
}
