package realtime

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"pasargamex-realtime/internal/domain/entity"
	"pasargamex-realtime/internal/infrastructure/metrics"
	"pasargamex-realtime/internal/infrastructure/pubsub"
	"pasargamex-realtime/pkg/errors"
	"pasargamex-realtime/pkg/logger"
)

const inboxSize = 256

// WatchRequest describes a scope to watch.
type WatchRequest struct {
	Scope entity.Scope
	Owner string
	// AfterSequence is the last sequence the subscriber already has; zero
	// replays the whole scope.
	AfterSequence int64
	// OnStart runs synchronously before any change can be delivered.
	OnStart func(*Subscription)
}

// Supervisor creates and tracks subscriptions. Each subscription runs its
// own push and poll channels; the supervisor only keeps the registry.
type Supervisor struct {
	events EventSource
	broker pubsub.Broker
	opts   Options

	mu     sync.RWMutex
	subs   map[string]*Subscription
	closed bool
}

func NewSupervisor(events EventSource, broker pubsub.Broker, opts Options) *Supervisor {
	return &Supervisor{
		events: events,
		broker: broker,
		opts:   opts.withDefaults(),
		subs:   make(map[string]*Subscription),
	}
}

// Watch starts a subscription. It stays alive until Unsubscribe, Close or
// the cancellation of ctx.
func (s *Supervisor) Watch(ctx context.Context, req WatchRequest, handler Handler) (*Subscription, error) {
	if !req.Scope.Valid() {
		return nil, errors.Validation("Invalid subscription scope", nil)
	}
	if req.AfterSequence < 0 {
		return nil, errors.Validation("after_sequence must not be negative", nil)
	}
	if handler == nil {
		return nil, errors.Validation("Event handler is required", nil)
	}
	if err := ctx.Err(); err != nil {
		return nil, errors.Transport("Watch cancelled", err)
	}

	id := uuid.New().String()
	subCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	sub := &Subscription{
		id:         id,
		scope:      req.Scope,
		owner:      req.Owner,
		handler:    handler,
		opts:       s.opts,
		events:     s.events,
		broker:     s.broker,
		log:        logger.With("subscription", id, "scope", req.Scope.Key(), "owner", req.Owner),
		ctx:        subCtx,
		cancel:     cancel,
		in:         make(chan envelope, inboxSize),
		pushSignal: make(chan struct{}, 1),
		force:      make(chan struct{}, 1),
		opened:     make(chan struct{}),
		dedup:      NewDeduplicator(s.opts.DedupWindow),
		seq:        newSequencer(req.AfterSequence, req.Scope.Kind == entity.ScopeConversation),
		state:      entity.StateInit,
		push:       entity.ConnectionClosed,
		poll:       entity.PollInactive,
	}
	sub.lastDelivered.Store(req.AfterSequence)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		cancel()
		return nil, errors.Transport("Supervisor is closed", nil)
	}
	s.subs[id] = sub
	s.mu.Unlock()

	sub.release = context.AfterFunc(ctx, func() {
		_ = s.Unsubscribe(id)
	})

	if req.OnStart != nil {
		req.OnStart(sub)
	}
	sub.start()
	metrics.ActiveSubscriptions.Inc()
	sub.log.Infow("watching", "after_sequence", req.AfterSequence)
	return sub, nil
}

// Unsubscribe stops both channels and waits for them before returning.
func (s *Supervisor) Unsubscribe(id string) error {
	s.mu.Lock()
	sub, ok := s.subs[id]
	delete(s.subs, id)
	s.mu.Unlock()
	if !ok {
		return errors.NotFound("Subscription", nil)
	}
	sub.stop()
	metrics.ActiveSubscriptions.Dec()
	sub.log.Infow("unsubscribed")
	return nil
}

func (s *Supervisor) Get(id string) (*Subscription, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sub, ok := s.subs[id]
	return sub, ok
}

func (s *Supervisor) Status(id string) (Status, error) {
	sub, ok := s.Get(id)
	if !ok {
		return Status{}, errors.NotFound("Subscription", nil)
	}
	return sub.Status(), nil
}

// ForceReconnect re-creates the push channel of a subscription. Polling keeps
// running meanwhile.
func (s *Supervisor) ForceReconnect(id string) error {
	sub, ok := s.Get(id)
	if !ok {
		return errors.NotFound("Subscription", nil)
	}
	sub.forceReconnect()
	return nil
}

// Len reports the number of live subscriptions.
func (s *Supervisor) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}

// Close unsubscribes everything. Later Watch calls fail.
func (s *Supervisor) Close() {
	s.mu.Lock()
	s.closed = true
	ids := make([]string, 0, len(s.subs))
	for id := range s.subs {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	for _, id := range ids {
		_ = s.Unsubscribe(id)
	}
}
