package usecase

import (
	"context"
	"strings"

	"pasargamex-realtime/internal/domain/entity"
	"pasargamex-realtime/internal/domain/repository"
	"pasargamex-realtime/pkg/errors"
	"pasargamex-realtime/pkg/logger"
)

const defaultResolveAttempts = 3

type ConversationResolver struct {
	repo        repository.ConversationRepository
	maxAttempts int
}

func NewConversationResolver(repo repository.ConversationRepository, maxAttempts int) *ConversationResolver {
	if maxAttempts <= 0 {
		maxAttempts = defaultResolveAttempts
	}
	return &ConversationResolver{
		repo:        repo,
		maxAttempts: maxAttempts,
	}
}

// Resolve returns the conversation of an unordered pair, creating it on first
// contact. Concurrent callers for the same pair all get the same row: the
// store rejects the second insert and the loser re-reads.
func (r *ConversationResolver) Resolve(ctx context.Context, userA, userB string) (*entity.Conversation, error) {
	userA, userB = strings.TrimSpace(userA), strings.TrimSpace(userB)
	if userA == "" || userB == "" {
		return nil, errors.Validation("Both participants are required", nil)
	}
	if userA == userB {
		return nil, errors.Validation("Cannot start a conversation with yourself", nil)
	}
	a, b := entity.OrderedPair(userA, userB)

	var lastErr error
	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		conversation, err := r.repo.GetByParticipants(ctx, a, b)
		if err == nil {
			return conversation, nil
		}
		if !errors.Is(err, errors.CodeNotFound) {
			return nil, err
		}

		conversation = &entity.Conversation{
			ID:           entity.ConversationIDFor(a, b),
			ParticipantA: a,
			ParticipantB: b,
		}
		err = r.repo.Create(ctx, conversation)
		if err == nil {
			logger.Info("Conversation %s created for %s/%s", conversation.ID, a, b)
			return conversation, nil
		}
		if !errors.Is(err, errors.CodeConflict) {
			return nil, err
		}
		lastErr = err
		logger.Warn("ConversationResolver: lost create race for %s/%s (attempt %d)", a, b, attempt)
	}
	return nil, errors.ConflictRetryExhausted("Could not resolve conversation, try again", lastErr)
}

func (r *ConversationResolver) Get(ctx context.Context, conversationID string) (*entity.Conversation, error) {
	if strings.TrimSpace(conversationID) == "" {
		return nil, errors.Validation("Conversation id is required", nil)
	}
	return r.repo.GetByID(ctx, conversationID)
}

// GetForParticipant loads a conversation and checks userID belongs to it.
func (r *ConversationResolver) GetForParticipant(ctx context.Context, conversationID, userID string) (*entity.Conversation, error) {
	conversation, err := r.Get(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conversation.HasParticipant(userID) {
		return nil, errors.Forbidden("You are not a participant in this conversation", nil)
	}
	return conversation, nil
}
