package bus

import "context"

// EventPublisher publishes integration events to a broker.
type EventPublisher interface {
	PublishIntegration(ctx context.Context, evt IntegrationEvent, opts PublishOptions) error
}
