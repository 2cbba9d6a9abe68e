package rpc

import (
	"context"
	"encoding/json"
)

// Message is the transport-level unit exchanged with the broker.
// CorrelationID and ReplyTo travel as message metadata (AMQP properties, NATS headers),
// never inside Body.
type Message struct {
	RoutingKey    string
	CorrelationID string
	ReplyTo       string
	Headers       map[string]string
	Body          []byte
}

// Delivery is an inbound request handed to a server by its transport.
// Ack must be called exactly once after processing; transports without
// acknowledgement semantics provide a no-op.
type Delivery struct {
	Message
	Ack func() error
}

// DeliveryFunc processes one delivery. Transports invoke it sequentially.
type DeliveryFunc func(ctx context.Context, d Delivery)

// Request is the decoded view of an inbound Message handed to business handlers.
type Request struct {
	RoutingKey    string
	CorrelationID string
	ReplyTo       string
	Headers       map[string]string
	Payload       json.RawMessage
}

// Decode unmarshals the request payload into v.
func (r Request) Decode(v any) error {
	if len(r.Payload) == 0 {
		return json.Unmarshal([]byte("{}"), v)
	}

	return json.Unmarshal(r.Payload, v)
}

// RequestFrom builds a Request from a transport Message.
func RequestFrom(m Message) Request {
	return Request{
		RoutingKey:    m.RoutingKey,
		CorrelationID: m.CorrelationID,
		ReplyTo:       m.ReplyTo,
		Headers:       m.Headers,
		Payload:       json.RawMessage(m.Body),
	}
}

// CloneHeaders copies h so callers can mutate the result freely.
func CloneHeaders(h map[string]string) map[string]string {
	out := make(map[string]string, len(h)+2)
	for k, v := range h {
		out[k] = v
	}

	return out
}
