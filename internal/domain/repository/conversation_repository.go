package repository

import (
	"context"

	"pasargamex-realtime/internal/domain/entity"
)

// ConversationRepository stores conversations. Create must enforce uniqueness
// on the ordered participant pair and report a duplicate with a CONFLICT error.
type ConversationRepository interface {
	Create(ctx context.Context, conversation *entity.Conversation) error
	GetByID(ctx context.Context, id string) (*entity.Conversation, error)
	GetByParticipants(ctx context.Context, participantA, participantB string) (*entity.Conversation, error)
}
