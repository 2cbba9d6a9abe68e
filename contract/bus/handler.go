package bus

import "context"

// DomainEventHandler handles domain events of type E.
// Implementations must be safe for concurrent use by multiple goroutines.
type DomainEventHandler[E DomainEvent] interface {
	Handle(ctx context.Context, e E) error
}

// DomainEventHandlerFunc adapts a function to DomainEventHandler.
type DomainEventHandlerFunc[E DomainEvent] func(ctx context.Context, e E) error

func (f DomainEventHandlerFunc[E]) Handle(ctx context.Context, e E) error { return f(ctx, e) }
