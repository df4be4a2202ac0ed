package realtime

import (
	"context"

	"pasargamex-realtime/internal/domain/entity"
	"pasargamex-realtime/internal/infrastructure/pubsub"
	"pasargamex-realtime/pkg/errors"
)

// pushChannel streams a scope from the broker, backfilling from the event log
// first so nothing written while the subscription was being set up is lost.
type pushChannel struct {
	scope  entity.Scope
	events EventSource
	broker pubsub.Broker
	limit  int
}

func newPushChannel(scope entity.Scope, events EventSource, broker pubsub.Broker, limit int) *pushChannel {
	return &pushChannel{scope: scope, events: events, broker: broker, limit: limit}
}

// Run blocks until the context is done or the channel fails. A lost broker
// subscription is a TRANSPORT_ERROR, a failed backfill a PERSISTENCE_ERROR.
func (p *pushChannel) Run(ctx context.Context, after int64, emit emitFunc, setState func(entity.ConnectionState)) error {
	setState(entity.ConnectionConnecting)

	// Subscribe before the backfill: a change published in between shows up
	// twice at worst.
	sub, err := p.broker.Subscribe(ctx, p.scope)
	if err != nil {
		return errors.Transport("Push subscribe failed", err)
	}
	defer sub.Close()

	cursor, err := p.catchUp(ctx, after, emit)
	if err != nil {
		return err
	}
	setState(entity.ConnectionOpen)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case change, ok := <-sub.Changes():
			if !ok {
				return errors.Transport("Push subscription lost", nil)
			}
			if change.Type == entity.ChangeUpdated {
				if !emit(change) {
					return ctx.Err()
				}
				continue
			}

			seq := change.Event.Sequence
			switch {
			case seq <= cursor:
				continue
			case seq == cursor+1:
				if !emit(change) {
					return ctx.Err()
				}
				cursor = seq
			default:
				if cursor, err = p.catchUp(ctx, cursor, emit); err != nil {
					return err
				}
				if seq > cursor {
					if !emit(change) {
						return ctx.Err()
					}
					cursor = seq
				}
			}
		}
	}
}

func (p *pushChannel) catchUp(ctx context.Context, after int64, emit emitFunc) (int64, error) {
	cursor, err := queryAfter(ctx, p.events, p.scope, after, p.limit, emit)
	if err != nil {
		if ctx.Err() != nil {
			return cursor, ctx.Err()
		}
		return cursor, errors.Persistence("Push backfill failed", err)
	}
	return cursor, nil
}
