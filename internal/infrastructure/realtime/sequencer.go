package realtime

import (
	"time"

	"pasargamex-realtime/internal/domain/entity"
)

const maxSkipped = 1024

// sequencer releases inserted changes in ascending sequence without gaps.
// It is owned by the delivery goroutine of one subscription and is not safe
// for concurrent use. A strict sequencer never skips a gap.
type sequencer struct {
	strict   bool
	last     int64
	pending  map[int64]entity.Change
	held     map[int64][]entity.Change
	skipped  map[int64]struct{}
	gapSince time.Time
}

func newSequencer(after int64, strict bool) *sequencer {
	return &sequencer{
		strict:  strict,
		last:    after,
		pending: make(map[int64]entity.Change),
		held:    make(map[int64][]entity.Change),
		skipped: make(map[int64]struct{}),
	}
}

// offer takes one admitted change and returns the changes now ready for
// delivery, in order. stale is true when an insert at or below the delivered
// cursor was discarded.
func (q *sequencer) offer(c entity.Change, now time.Time) (ready []entity.Change, stale bool) {
	seq := c.Event.Sequence
	if c.Type == entity.ChangeUpdated {
		if seq <= q.last {
			if _, waiting := q.skipped[seq]; !waiting {
				return []entity.Change{c}, false
			}
		}
		q.held[seq] = append(q.held[seq], c)
		return nil, false
	}

	switch {
	case seq <= q.last:
		if _, ok := q.skipped[seq]; ok {
			// late arrival after a gap skip: deliver out of order rather than lose it
			delete(q.skipped, seq)
			return q.release(c), false
		}
		return nil, true
	case seq == q.last+1:
		q.last = seq
		ready = q.release(c)
		ready = append(ready, q.drain()...)
		q.gapSince = time.Time{}
	default:
		if _, dup := q.pending[seq]; !dup {
			q.pending[seq] = c
		}
	}
	q.touchGap(now)
	return ready, false
}

// expire skips the oldest gap once it has been open for timeout.
func (q *sequencer) expire(now time.Time, timeout time.Duration) []entity.Change {
	if q.strict || len(q.pending) == 0 || timeout <= 0 || now.Sub(q.gapSince) < timeout {
		return nil
	}
	lowest := q.lowestPending()
	for s := q.last + 1; s < lowest; s++ {
		q.markSkipped(s)
	}
	q.last = lowest - 1
	ready := q.drain()
	q.gapSince = time.Time{}
	q.touchGap(now)
	return ready
}

// gapDeadline returns when the current gap expires, or false if there is none.
func (q *sequencer) gapDeadline(timeout time.Duration) (time.Time, bool) {
	if q.strict || len(q.pending) == 0 || timeout <= 0 {
		return time.Time{}, false
	}
	return q.gapSince.Add(timeout), true
}

func (q *sequencer) drain() []entity.Change {
	var ready []entity.Change
	for {
		next, ok := q.pending[q.last+1]
		if !ok {
			return ready
		}
		delete(q.pending, q.last+1)
		q.last++
		ready = append(ready, q.release(next)...)
	}
}

// release returns the insert followed by the updates held for it.
func (q *sequencer) release(c entity.Change) []entity.Change {
	out := []entity.Change{c}
	if held, ok := q.held[c.Event.Sequence]; ok {
		out = append(out, held...)
		delete(q.held, c.Event.Sequence)
	}
	return out
}

func (q *sequencer) touchGap(now time.Time) {
	if len(q.pending) == 0 {
		q.gapSince = time.Time{}
		return
	}
	if q.gapSince.IsZero() {
		q.gapSince = now
	}
}

func (q *sequencer) lowestPending() int64 {
	lowest := int64(-1)
	for s := range q.pending {
		if lowest < 0 || s < lowest {
			lowest = s
		}
	}
	return lowest
}

func (q *sequencer) markSkipped(seq int64) {
	if len(q.skipped) >= maxSkipped {
		oldest := int64(-1)
		for s := range q.skipped {
			if oldest < 0 || s < oldest {
				oldest = s
			}
		}
		delete(q.skipped, oldest)
	}
	q.skipped[seq] = struct{}{}
}
