package bus

import "context"

// Bus is the non-generic view of the event bus, for consumers that depend only on contracts.
// Typed bindings are available through helper functions in the servicebus package.
type Bus interface {
	BindDomainEventOf(sample any, handler func(ctx context.Context, v any) error) error

	PublishDomain(ctx context.Context, event DomainEvent) error
	PublishIntegration(ctx context.Context, event IntegrationEvent, opts PublishOptions) error
}
