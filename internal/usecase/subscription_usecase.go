package usecase

import (
	"context"
	"strings"

	"pasargamex-realtime/internal/domain/entity"
	"pasargamex-realtime/internal/infrastructure/ratelimit"
	"pasargamex-realtime/internal/infrastructure/realtime"
	"pasargamex-realtime/pkg/errors"
)

type WatchOptions struct {
	AfterSequence int64
	OnStart       func(*realtime.Subscription)
}

// SubscriptionUseCase is the subscribe API. It applies access rules and
// hands the work to the supervisor.
type SubscriptionUseCase struct {
	supervisor  *realtime.Supervisor
	resolver    *ConversationResolver
	rateLimiter *ratelimit.RateLimiter
}

func NewSubscriptionUseCase(supervisor *realtime.Supervisor, resolver *ConversationResolver, rateLimiter *ratelimit.RateLimiter) *SubscriptionUseCase {
	if rateLimiter == nil {
		rateLimiter = ratelimit.NewRateLimiter()
	}
	return &SubscriptionUseCase{
		supervisor:  supervisor,
		resolver:    resolver,
		rateLimiter: rateLimiter,
	}
}

// WatchConversation subscribes a participant to a conversation. The
// subscription ends with ctx, or earlier through Unsubscribe.
func (uc *SubscriptionUseCase) WatchConversation(ctx context.Context, userID, conversationID string, opts WatchOptions, handler realtime.Handler) (*realtime.Subscription, error) {
	if _, err := uc.resolver.GetForParticipant(ctx, conversationID, userID); err != nil {
		return nil, err
	}
	return uc.watch(ctx, userID, entity.ConversationScope(conversationID), opts, handler)
}

// WatchNotifications subscribes a user to their own notification feed.
func (uc *SubscriptionUseCase) WatchNotifications(ctx context.Context, userID string, opts WatchOptions, handler realtime.Handler) (*realtime.Subscription, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, errors.Unauthorized("Authentication required", nil)
	}
	return uc.watch(ctx, userID, entity.NotificationScope(userID), opts, handler)
}

func (uc *SubscriptionUseCase) watch(ctx context.Context, userID string, scope entity.Scope, opts WatchOptions, handler realtime.Handler) (*realtime.Subscription, error) {
	if allowed, wait := uc.rateLimiter.Allow(userID, ratelimit.ActionWatch); !allowed {
		return nil, errors.TooManyRequests("Too many subscriptions", wait)
	}
	return uc.supervisor.Watch(ctx, realtime.WatchRequest{
		Scope:         scope,
		Owner:         userID,
		AfterSequence: opts.AfterSequence,
		OnStart:       opts.OnStart,
	}, handler)
}

func (uc *SubscriptionUseCase) Unsubscribe(userID, subscriptionID string) error {
	if _, err := uc.owned(userID, subscriptionID); err != nil {
		return err
	}
	return uc.supervisor.Unsubscribe(subscriptionID)
}

func (uc *SubscriptionUseCase) GetConnectionStatus(userID, subscriptionID string) (realtime.Status, error) {
	sub, err := uc.owned(userID, subscriptionID)
	if err != nil {
		return realtime.Status{}, err
	}
	return sub.Status(), nil
}

func (uc *SubscriptionUseCase) ForceReconnect(userID, subscriptionID string) error {
	if _, err := uc.owned(userID, subscriptionID); err != nil {
		return err
	}
	return uc.supervisor.ForceReconnect(subscriptionID)
}

func (uc *SubscriptionUseCase) owned(userID, subscriptionID string) (*realtime.Subscription, error) {
	sub, ok := uc.supervisor.Get(subscriptionID)
	if !ok {
		return nil, errors.NotFound("Subscription", nil)
	}
	if sub.Owner() != userID {
		return nil, errors.Forbidden("Subscription belongs to another user", nil)
	}
	return sub, nil
}
