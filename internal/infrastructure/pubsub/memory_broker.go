package pubsub

import (
	"context"
	"sync"

	"pasargamex-realtime/internal/domain/entity"
	"pasargamex-realtime/pkg/errors"
	"pasargamex-realtime/pkg/logger"
)

// MemoryBroker is an in-process broker for single-node deployments and tests.
type MemoryBroker struct {
	mu        sync.RWMutex
	subs      map[string]map[*memorySubscription]struct{}
	buffer    int
	available bool
	closed    bool
}

func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{
		subs:      make(map[string]map[*memorySubscription]struct{}),
		buffer:    defaultBufferSize,
		available: true,
	}
}

func (b *MemoryBroker) Publish(ctx context.Context, scope entity.Scope, change entity.Change) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return errors.Transport("Broker is closed", nil)
	}
	for sub := range b.subs[scope.Key()] {
		sub.deliver(change)
	}
	return nil
}

func (b *MemoryBroker) Subscribe(ctx context.Context, scope entity.Scope) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Transport("Subscribe cancelled", err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, errors.Transport("Broker is closed", nil)
	}
	if !b.available {
		return nil, errors.Transport("Broker unavailable", nil)
	}
	sub := &memorySubscription{
		broker: b,
		key:    scope.Key(),
		ch:     make(chan entity.Change, b.buffer),
	}
	if b.subs[sub.key] == nil {
		b.subs[sub.key] = make(map[*memorySubscription]struct{})
	}
	b.subs[sub.key][sub] = struct{}{}
	return sub, nil
}

func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for key, set := range b.subs {
		for sub := range set {
			sub.closeChannel()
		}
		delete(b.subs, key)
	}
	return nil
}

// SetAvailable makes subsequent Subscribe calls fail (false) or succeed
// (true). Existing subscriptions are untouched.
func (b *MemoryBroker) SetAvailable(available bool) {
	b.mu.Lock()
	b.available = available
	b.mu.Unlock()
}

// Sever drops every live subscription of the scope as if the connection to
// the broker had been lost.
func (b *MemoryBroker) Sever(scope entity.Scope) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.subs[scope.Key()] {
		sub.closeChannel()
	}
	delete(b.subs, scope.Key())
}

// Subscribers reports the number of live subscriptions of the scope.
func (b *MemoryBroker) Subscribers(scope entity.Scope) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[scope.Key()])
}

func (b *MemoryBroker) remove(sub *memorySubscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if set, ok := b.subs[sub.key]; ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(b.subs, sub.key)
		}
	}
	sub.closeChannel()
}

type memorySubscription struct {
	broker *MemoryBroker
	key    string

	mu     sync.Mutex
	ch     chan entity.Change
	closed bool
}

func (s *memorySubscription) Changes() <-chan entity.Change {
	return s.ch
}

func (s *memorySubscription) Close() error {
	s.broker.remove(s)
	return nil
}

func (s *memorySubscription) deliver(change entity.Change) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- change:
	default:
		logger.Warn("pubsub: dropping change %s for slow subscriber on %s", change.DedupKey(), s.key)
	}
}

func (s *memorySubscription) closeChannel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}
