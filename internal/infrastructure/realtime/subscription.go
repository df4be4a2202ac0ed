package realtime

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"pasargamex-realtime/internal/domain/entity"
	"pasargamex-realtime/internal/infrastructure/metrics"
	"pasargamex-realtime/internal/infrastructure/pubsub"
	"pasargamex-realtime/pkg/errors"
)

// Handler receives every delivered change of a subscription. It runs on the
// subscription's delivery goroutine and must not call Unsubscribe.
type Handler func(subscriptionID string, change entity.Change)

// Status is the observable state of one subscription.
type Status struct {
	ID                string                 `json:"id"`
	Scope             entity.Scope           `json:"scope"`
	Owner             string                 `json:"owner"`
	State             entity.SupervisorState `json:"state"`
	Push              entity.ConnectionState `json:"push"`
	Poll              entity.PollState       `json:"poll"`
	LastSequence      int64                  `json:"last_sequence"`
	ReconnectAttempts int                    `json:"reconnect_attempts"`
	Delivered         uint64                 `json:"delivered"`
	DuplicatesDropped uint64                 `json:"duplicates_dropped"`
}

// Subscription owns the push channel, the poll channel and the delivery stage
// of one watched scope. Nothing in it is shared with other subscriptions.
type Subscription struct {
	id      string
	scope   entity.Scope
	owner   string
	handler Handler
	opts    Options
	events  EventSource
	broker  pubsub.Broker
	log     *zap.SugaredLogger

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
	release  func() bool

	in         chan envelope
	pushSignal chan struct{}
	force      chan struct{}
	opened     chan struct{}
	openOnce   sync.Once

	dedup         *Deduplicator
	seq           *sequencer
	lastDelivered atomic.Int64

	mu         sync.Mutex
	state      entity.SupervisorState
	push       entity.ConnectionState
	poll       entity.PollState
	pushCancel context.CancelFunc
	reconnects int
	delivered  uint64
	dropped    uint64
}

func (s *Subscription) ID() string { return s.id }

func (s *Subscription) Scope() entity.Scope { return s.scope }

func (s *Subscription) Owner() string { return s.owner }

func (s *Subscription) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		ID:                s.id,
		Scope:             s.scope,
		Owner:             s.owner,
		State:             s.state,
		Push:              s.push,
		Poll:              s.poll,
		LastSequence:      s.lastDelivered.Load(),
		ReconnectAttempts: s.reconnects,
		Delivered:         s.delivered,
		DuplicatesDropped: s.dropped,
	}
}

func (s *Subscription) start() {
	s.setState(entity.StateConnecting)
	s.wg.Add(3)
	go s.runDelivery()
	go s.runPush()
	go s.runPoll()
}

// stop cancels both channels, waits for every goroutine and releases the
// dedup window.
func (s *Subscription) stop() {
	s.stopOnce.Do(func() {
		s.cancel()
		s.wg.Wait()
		if s.release != nil {
			s.release()
		}
		s.dedup.Purge()
		s.mu.Lock()
		s.push = entity.ConnectionClosed
		s.poll = entity.PollInactive
		s.mu.Unlock()
		s.setState(entity.StateClosed)
	})
}

// forceReconnect tears down the current push attempt. Polling is untouched.
func (s *Subscription) forceReconnect() {
	select {
	case s.force <- struct{}{}:
	default:
	}
	s.mu.Lock()
	cancel := s.pushCancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (s *Subscription) runPush() {
	defer s.wg.Done()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.opts.BackoffInitial
	b.MaxInterval = s.opts.BackoffMax
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()

	for {
		attempt, cancel := context.WithCancel(s.ctx)
		s.mu.Lock()
		s.pushCancel = cancel
		s.mu.Unlock()

		ch := newPushChannel(s.scope, s.events, s.broker, s.opts.QueryLimit)
		err := ch.Run(attempt, s.lastDelivered.Load(), s.emitter(attempt, sourcePush), func(state entity.ConnectionState) {
			if state == entity.ConnectionOpen {
				b.Reset()
			}
			s.setPush(state)
		})
		cancel()
		if s.ctx.Err() != nil {
			return
		}

		if s.takeForce() {
			s.log.Infow("push reconnect requested")
			s.setPush(entity.ConnectionClosed)
			b.Reset()
			s.countReconnect()
			continue
		}

		if errors.Is(err, errors.CodePersistence) {
			s.setPush(entity.ConnectionDegraded)
		} else {
			s.setPush(entity.ConnectionClosed)
		}
		wait := b.NextBackOff()
		s.log.Warnw("push channel down", "error", err, "retry_in", wait)

		timer := time.NewTimer(wait)
		select {
		case <-s.ctx.Done():
			timer.Stop()
			return
		case <-s.force:
			timer.Stop()
			b.Reset()
		case <-timer.C:
		}
		s.countReconnect()
	}
}

func (s *Subscription) runPoll() {
	defer s.wg.Done()

	poll := newPollChannel(s.scope, s.events, s.opts.QueryLimit)

	wait := time.NewTimer(s.opts.PushOpenTimeout)
	select {
	case <-s.ctx.Done():
		wait.Stop()
		return
	case <-s.opened:
		wait.Stop()
	case <-wait.C:
		s.log.Infow("push not open in time, polling")
	}

	now := !s.pushOpen()
	for {
		if now {
			s.pollOnce(poll)
		}

		var tick <-chan time.Time
		var timer *time.Timer
		if interval := s.pollInterval(); interval > 0 {
			s.setPoll(entity.PollActive)
			timer = time.NewTimer(interval)
			tick = timer.C
		} else {
			s.setPoll(entity.PollInactive)
		}

		select {
		case <-s.ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return
		case <-tick:
			now = true
		case <-s.pushSignal:
			if timer != nil {
				timer.Stop()
			}
			// poll right away when push just went down
			now = !s.pushOpen()
		}
	}
}

func (s *Subscription) pollOnce(poll *pollChannel) {
	poll.Reset(s.lastDelivered.Load())
	if err := poll.Poll(s.ctx, s.emitter(s.ctx, sourcePoll)); err != nil {
		if s.ctx.Err() != nil {
			return
		}
		metrics.PollQueries.WithLabelValues("error").Inc()
		s.log.Warnw("poll failed", "error", err)
		return
	}
	metrics.PollQueries.WithLabelValues("ok").Inc()
}

// runDelivery is the single consumer of both channels. Dedup, ordering and
// the handler call all happen here, one change at a time.
func (s *Subscription) runDelivery() {
	defer s.wg.Done()

	var gapTimer *time.Timer
	var gapC <-chan time.Time
	for {
		select {
		case <-s.ctx.Done():
			if gapTimer != nil {
				gapTimer.Stop()
			}
			return
		case env := <-s.in:
			s.admit(env)
		case <-gapC:
			if ready := s.seq.expire(time.Now(), s.opts.GapTimeout); len(ready) > 0 {
				metrics.GapSkips.Inc()
				s.log.Warnw("sequence gap timed out", "resume_at", ready[0].Event.Sequence)
				s.deliver(ready)
			}
		}

		if gapTimer != nil {
			gapTimer.Stop()
			gapTimer, gapC = nil, nil
		}
		if deadline, ok := s.seq.gapDeadline(s.opts.GapTimeout); ok {
			gapTimer = time.NewTimer(time.Until(deadline))
			gapC = gapTimer.C
		}
	}
}

func (s *Subscription) admit(env envelope) {
	if !s.dedup.Admit(env.change) {
		s.countDropped()
		metrics.DuplicatesDropped.WithLabelValues(string(env.from)).Inc()
		return
	}
	ready, stale := s.seq.offer(env.change, time.Now())
	if stale {
		s.countDropped()
	}
	s.deliver(ready)
}

func (s *Subscription) deliver(changes []entity.Change) {
	for _, c := range changes {
		if s.ctx.Err() != nil {
			return
		}
		s.handler(s.id, c)
		s.mu.Lock()
		s.delivered++
		s.mu.Unlock()
		metrics.EventsDelivered.WithLabelValues(string(s.scope.Kind), string(c.Type)).Inc()
	}
	s.lastDelivered.Store(s.seq.last)
}

func (s *Subscription) emitter(ctx context.Context, from source) emitFunc {
	return func(c entity.Change) bool {
		select {
		case s.in <- envelope{change: c, from: from}:
			return true
		case <-ctx.Done():
			return false
		}
	}
}

func (s *Subscription) setPush(state entity.ConnectionState) {
	s.mu.Lock()
	if s.state == entity.StateClosed {
		s.mu.Unlock()
		return
	}
	s.push = state
	next := s.state
	switch state {
	case entity.ConnectionOpen:
		next = entity.StateSubscribed
	case entity.ConnectionConnecting:
		if s.state == entity.StateInit {
			next = entity.StateConnecting
		}
	case entity.ConnectionDegraded, entity.ConnectionClosed:
		next = entity.StatePollingOnly
	}
	s.mu.Unlock()

	s.setState(next)
	if state == entity.ConnectionOpen {
		s.openOnce.Do(func() { close(s.opened) })
	}
	select {
	case s.pushSignal <- struct{}{}:
	default:
	}
}

func (s *Subscription) setState(state entity.SupervisorState) {
	s.mu.Lock()
	prev := s.state
	if prev == state || prev == entity.StateClosed {
		s.mu.Unlock()
		return
	}
	s.state = state
	s.mu.Unlock()

	metrics.StateTransitions.WithLabelValues(string(state)).Inc()
	s.log.Debugw("state changed", "from", prev, "to", state)
}

func (s *Subscription) setPoll(state entity.PollState) {
	s.mu.Lock()
	s.poll = state
	s.mu.Unlock()
}

func (s *Subscription) pushOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.push == entity.ConnectionOpen
}

func (s *Subscription) pollInterval() time.Duration {
	if s.pushOpen() {
		return s.opts.PollSafetyInterval
	}
	return s.opts.PollInterval
}

func (s *Subscription) takeForce() bool {
	select {
	case <-s.force:
		return true
	default:
		return false
	}
}

func (s *Subscription) countReconnect() {
	s.mu.Lock()
	s.reconnects++
	s.mu.Unlock()
	metrics.Reconnects.Inc()
}

func (s *Subscription) countDropped() {
	s.mu.Lock()
	s.dropped++
	s.mu.Unlock()
}
