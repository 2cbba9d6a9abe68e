package servicebus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"sync"

	cbus "github.com/next-trace/scg-bank-rpc/contract/bus"
	berr "github.com/next-trace/scg-bank-rpc/contract/errors"
)

// Bus is a thin in-process mediator for domain events.
// Bus is concurrency-safe and contains no global state.
type Bus struct {
	mu  sync.RWMutex
	dom map[reflect.Type][]domainHandler

	pub    cbus.EventPublisher
	logger *slog.Logger
}

type domainHandler func(ctx context.Context, e any) error

var _ cbus.Bus = (*Bus)(nil)

// New constructs a Bus. pub may be nil when no integration events leave the process.
func New(pub cbus.EventPublisher, logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Bus{
		dom:    make(map[reflect.Type][]domainHandler),
		pub:    pub,
		logger: logger,
	}
}

// BindDomainEventOf registers a domain event handler for the type of sample.
func (b *Bus) BindDomainEventOf(sample any, handler func(ctx context.Context, e any) error) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	t := reflect.TypeOf(sample)
	b.dom[t] = append(b.dom[t], handler)

	return nil
}

// BindDomainEvent registers a domain event handler. Multiple handlers are allowed.
func BindDomainEvent[E cbus.DomainEvent](b *Bus, h cbus.DomainEventHandler[E]) error {
	var zero E

	return b.BindDomainEventOf(zero, func(ctx context.Context, v any) error {
		e, ok := v.(E)
		if !ok {
			return fmt.Errorf("publish domain %s: %w", reflect.TypeOf(v).String(), berr.ErrHandlerTypeMismatch)
		}

		return h.Handle(ctx, e)
	})
}

// On registers fn as a handler for E.
func On[E cbus.DomainEvent](b *Bus, fn func(ctx context.Context, e E) error) error {
	return BindDomainEvent[E](b, cbus.DomainEventHandlerFunc[E](fn))
}

// Forward publishes every E as the integration event built by conv.
func Forward[E cbus.DomainEvent](b *Bus, conv func(E) (cbus.IntegrationEvent, cbus.PublishOptions)) error {
	return On(b, func(ctx context.Context, e E) error {
		ie, opts := conv(e)

		return b.PublishIntegration(ctx, ie, opts)
	})
}

// PublishDomain invokes every handler bound to the event's type, in binding order.
// All errors are aggregated with errors.Join and returned.
func (b *Bus) PublishDomain(ctx context.Context, e cbus.DomainEvent) error {
	b.mu.RLock()
	handlers := append([]domainHandler(nil), b.dom[reflect.TypeOf(e)]...)
	b.mu.RUnlock()

	if len(handlers) == 0 {
		b.logger.Debug("domain event without handlers", "event", fmt.Sprintf("%T", e))
		return nil
	}

	var errs []error

	for _, h := range handlers {
		if err := h(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// PublishIntegration publishes an integration event via the configured EventPublisher.
func (b *Bus) PublishIntegration(ctx context.Context, e cbus.IntegrationEvent, opts cbus.PublishOptions) error {
	if b.pub == nil {
		return fmt.Errorf("publish integration %T: %w", e, berr.ErrPublisherNotConfigured)
	}

	return b.pub.PublishIntegration(ctx, e, opts)
}
