package realtime

import (
	"context"

	"pasargamex-realtime/internal/domain/entity"
)

// EventSource is the read side of the event log the channels need.
type EventSource interface {
	Query(ctx context.Context, scope entity.Scope, afterSequence int64, limit int) ([]entity.Event, error)
}

// emitFunc hands a change to the delivery stage. It returns false once the
// channel's context is done.
type emitFunc func(entity.Change) bool

type source string

const (
	sourcePush source = "push"
	sourcePoll source = "poll"
)

type envelope struct {
	change entity.Change
	from   source
}

// queryAfter pages through the log from after and emits every row as an
// insert. It returns the highest sequence emitted.
func queryAfter(ctx context.Context, events EventSource, scope entity.Scope, after int64, limit int, emit emitFunc) (int64, error) {
	cursor := after
	for {
		page, err := events.Query(ctx, scope, cursor, limit)
		if err != nil {
			return cursor, err
		}
		for _, e := range page {
			if !emit(entity.Inserted(e)) {
				return cursor, ctx.Err()
			}
			if e.Sequence > cursor {
				cursor = e.Sequence
			}
		}
		if len(page) < limit {
			return cursor, nil
		}
	}
}
