package pubsub

import (
	"context"

	"pasargamex-realtime/internal/domain/entity"
)

// Broker fans changes out to live subscribers of a scope. Delivery is a hint:
// a change published while nobody listens, or dropped on a full buffer, is
// recovered by polling the event log.
type Broker interface {
	Publish(ctx context.Context, scope entity.Scope, change entity.Change) error
	Subscribe(ctx context.Context, scope entity.Scope) (Subscription, error)
	Close() error
}

// Subscription is one live feed. Changes is closed when the feed is lost or
// Close is called; the consumer treats an unexpected close as a transport
// failure.
type Subscription interface {
	Changes() <-chan entity.Change
	Close() error
}

const defaultBufferSize = 256
