package repository

import (
	"context"

	"pasargamex-realtime/internal/domain/entity"
)

const (
	DefaultQueryLimit = 100
	MaxQueryLimit     = 500
)

// EventLog is the append-only store of messages and notifications. Rows are
// immutable except for the single read transition.
type EventLog interface {
	AppendMessage(ctx context.Context, message *entity.Message) (*entity.Message, error)
	AppendNotification(ctx context.Context, notification *entity.Notification) (*entity.Notification, error)

	// Query returns events of the scope with sequence > afterSequence in
	// ascending order, at most limit of them.
	Query(ctx context.Context, scope entity.Scope, afterSequence int64, limit int) ([]entity.Event, error)
	// ListMessagesBefore returns up to limit messages just below
	// beforeSequence (0 means the latest), ascending.
	ListMessagesBefore(ctx context.Context, conversationID string, beforeSequence int64, limit int) ([]*entity.Message, error)

	GetMessage(ctx context.Context, id string) (*entity.Message, error)
	GetNotification(ctx context.Context, id string) (*entity.Notification, error)

	// MarkMessageRead and MarkNotificationRead are idempotent; changed is
	// false when the row was already read.
	MarkMessageRead(ctx context.Context, messageID, readerID string) (*entity.Message, bool, error)
	MarkNotificationRead(ctx context.Context, notificationID, readerID string) (*entity.Notification, bool, error)
}

// Store bundles the repositories a backend provides.
type Store interface {
	Conversations() ConversationRepository
	Events() EventLog
	Close() error
}

func NormalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultQueryLimit
	}
	if limit > MaxQueryLimit {
		return MaxQueryLimit
	}
	return limit
}
