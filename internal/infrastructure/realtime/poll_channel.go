package realtime

import (
	"context"

	"pasargamex-realtime/internal/domain/entity"
	"pasargamex-realtime/pkg/errors"
)

// pollChannel is the polling fallback. Each Poll drains every row after the
// cursor. The supervisor decides when to call it.
type pollChannel struct {
	scope    entity.Scope
	events   EventSource
	limit    int
	lastSeen int64
}

func newPollChannel(scope entity.Scope, events EventSource, limit int) *pollChannel {
	return &pollChannel{scope: scope, events: events, limit: limit}
}

func (p *pollChannel) Reset(after int64) {
	p.lastSeen = after
}

func (p *pollChannel) Poll(ctx context.Context, emit emitFunc) error {
	cursor, err := queryAfter(ctx, p.events, p.scope, p.lastSeen, p.limit, emit)
	p.lastSeen = cursor
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return errors.Persistence("Poll query failed", err)
	}
	return nil
}
