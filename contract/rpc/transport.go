package rpc

import "context"

// ClientTransport is the caller side of the broker channel.
// Implementations must be safe for concurrent use by multiple goroutines.
type ClientTransport interface {
	// Publish sends m to the request exchange under m.RoutingKey.
	Publish(ctx context.Context, m Message) error
	// ReplyTo blocks until the private reply destination exists and returns its name.
	// The name may change across reconnects; callers read it for every request.
	ReplyTo(ctx context.Context) (string, error)
	// OnReply installs fn as the receiver of every message arriving on the reply destination.
	OnReply(fn func(Message))
	Close() error
}

// ServerTransport is the consuming side of the broker channel.
type ServerTransport interface {
	// Consume declares the request topology, binds keys and hands every delivery to fn,
	// one at a time. It returns nil when ctx ends and an error when the underlying
	// connection is lost, so callers can supervise and restart it.
	Consume(ctx context.Context, keys []string, fn DeliveryFunc) error
	// Reply publishes m directly to the destination named by to.
	Reply(ctx context.Context, to string, m Message) error
}
