package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"

	"pasargamex-realtime/internal/domain/entity"
	"pasargamex-realtime/pkg/errors"
	"pasargamex-realtime/pkg/logger"
)

// RedisBroker publishes changes on Redis pub/sub so every API node sees the
// writes of every other node. One channel per scope: <prefix>:<scope key>.
type RedisBroker struct {
	client *redis.Client
	prefix string
	buffer int
}

// NewRedisBroker connects using a redis:// URL and pings the server.
func NewRedisBroker(ctx context.Context, url, prefix string) (*RedisBroker, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis: parse url: %w", err)
	}
	client := redis.NewClient(opt)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return NewRedisBrokerWithClient(client, prefix), nil
}

func NewRedisBrokerWithClient(client *redis.Client, prefix string) *RedisBroker {
	if prefix == "" {
		prefix = "pgx:delivery"
	}
	return &RedisBroker{client: client, prefix: prefix, buffer: defaultBufferSize}
}

var _ Broker = (*RedisBroker)(nil)

func (b *RedisBroker) TestConnection(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

func (b *RedisBroker) channel(scope entity.Scope) string {
	return b.prefix + ":" + scope.Key()
}

func (b *RedisBroker) Publish(ctx context.Context, scope entity.Scope, change entity.Change) error {
	payload, err := encodeChange(change)
	if err != nil {
		return errors.Internal("Failed to encode change", err)
	}
	if err := b.client.Publish(ctx, b.channel(scope), payload).Err(); err != nil {
		return errors.Transport("Failed to publish change", err)
	}
	return nil
}

func (b *RedisBroker) Subscribe(ctx context.Context, scope entity.Scope) (Subscription, error) {
	ps := b.client.Subscribe(ctx, b.channel(scope))
	// Wait for the subscription confirmation so nothing published after
	// Subscribe returns can be missed.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, errors.Transport("Failed to subscribe", err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	sub := &redisSubscription{
		ps:     ps,
		ch:     make(chan entity.Change, b.buffer),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go sub.loop(loopCtx, scope)
	return sub, nil
}

func (b *RedisBroker) Close() error {
	return b.client.Close()
}

type redisSubscription struct {
	ps     *redis.PubSub
	ch     chan entity.Change
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func (s *redisSubscription) Changes() <-chan entity.Change {
	return s.ch
}

func (s *redisSubscription) Close() error {
	var err error
	s.once.Do(func() {
		s.cancel()
		err = s.ps.Close()
		<-s.done
	})
	return err
}

// loop decodes messages until the connection fails or the subscription is
// closed, then closes the change channel.
func (s *redisSubscription) loop(ctx context.Context, scope entity.Scope) {
	defer close(s.done)
	defer close(s.ch)
	for {
		msg, err := s.ps.ReceiveMessage(ctx)
		if err != nil {
			if ctx.Err() == nil {
				logger.Warn("pubsub: redis receive on %s failed: %v", scope, err)
			}
			return
		}
		change, err := decodeChange(msg.Payload)
		if err != nil {
			logger.Warn("pubsub: discarding undecodable payload on %s: %v", scope, err)
			continue
		}
		select {
		case s.ch <- change:
		case <-ctx.Done():
			return
		default:
			logger.Warn("pubsub: dropping change %s for slow subscriber on %s", change.DedupKey(), scope)
		}
	}
}

func encodeChange(change entity.Change) ([]byte, error) {
	return json.Marshal(change)
}

func decodeChange(payload string) (entity.Change, error) {
	var change entity.Change
	err := json.Unmarshal([]byte(payload), &change)
	return change, err
}
