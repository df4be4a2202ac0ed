package repository

import (
	"context"
	stderrors "errors"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"pasargamex-realtime/internal/domain/entity"
	"pasargamex-realtime/internal/domain/repository"
	"pasargamex-realtime/pkg/errors"
	"pasargamex-realtime/pkg/logger"
)

const (
	conversationsCollection     = "conversations"
	messagesCollection          = "messages"
	notificationsCollection     = "notifications"
	notificationFeedsCollection = "notification_feeds"
)

// firestoreStore keeps messages and notifications in top-level collections.
// Query needs the composite indexes (conversationId, sequence) and
// (recipientId, sequence).
type firestoreStore struct {
	client *firestore.Client
}

type notificationFeed struct {
	RecipientID  string    `firestore:"recipientId"`
	LastSequence int64     `firestore:"lastSequence"`
	UpdatedAt    time.Time `firestore:"updatedAt"`
}

func NewFirestoreStore(client *firestore.Client) repository.Store {
	return &firestoreStore{client: client}
}

func (r *firestoreStore) Conversations() repository.ConversationRepository { return r }

func (r *firestoreStore) Events() repository.EventLog { return r }

func (r *firestoreStore) TestConnection(ctx context.Context) error {
	_, err := r.client.Collection(conversationsCollection).Limit(1).Documents(ctx).Next()
	if err != nil && !stderrors.Is(err, iterator.Done) {
		return err
	}
	return nil
}

func (r *firestoreStore) Close() error {
	return r.client.Close()
}

func (r *firestoreStore) Create(ctx context.Context, conversation *entity.Conversation) error {
	a, b := entity.OrderedPair(conversation.ParticipantA, conversation.ParticipantB)
	conversation.ParticipantA, conversation.ParticipantB = a, b
	// The document id is derived from the pair, so Create doubles as the
	// uniqueness constraint.
	conversation.ID = entity.ConversationIDFor(a, b)
	conversation.CreatedAt = time.Now().UTC()
	conversation.LastSequence = 0

	_, err := r.client.Collection(conversationsCollection).Doc(conversation.ID).Create(ctx, conversation)
	if err != nil {
		if status.Code(err) == codes.AlreadyExists {
			return errors.Conflict("Conversation already exists for this pair")
		}
		return firestoreError("Failed to create conversation", err)
	}
	return nil
}

func (r *firestoreStore) GetByID(ctx context.Context, id string) (*entity.Conversation, error) {
	doc, err := r.client.Collection(conversationsCollection).Doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, errors.NotFound("Conversation", err)
		}
		return nil, firestoreError("Failed to get conversation", err)
	}
	var conversation entity.Conversation
	if err := doc.DataTo(&conversation); err != nil {
		return nil, errors.Internal("Failed to parse conversation data", err)
	}
	return &conversation, nil
}

func (r *firestoreStore) GetByParticipants(ctx context.Context, participantA, participantB string) (*entity.Conversation, error) {
	return r.GetByID(ctx, entity.ConversationIDFor(participantA, participantB))
}

func (r *firestoreStore) AppendMessage(ctx context.Context, message *entity.Message) (*entity.Message, error) {
	if err := validateMessageRow(message); err != nil {
		return nil, err
	}

	stored := *message
	if stored.ID == "" {
		stored.ID = uuid.New().String()
	}
	stored.ReadAt = nil

	convRef := r.client.Collection(conversationsCollection).Doc(stored.ConversationID)
	msgRef := r.client.Collection(messagesCollection).Doc(stored.ID)
	var existing *entity.Message

	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		existing = nil
		doc, err := tx.Get(convRef)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return errors.WriteRejected("Conversation does not exist", err)
			}
			return err
		}
		var conv entity.Conversation
		if err := doc.DataTo(&conv); err != nil {
			return err
		}
		if err := checkConversationParticipants(&conv, &stored); err != nil {
			return err
		}

		if stored.IdempotencyKey != "" {
			q := r.client.Collection(messagesCollection).
				Where("conversationId", "==", stored.ConversationID).
				Where("senderId", "==", stored.SenderID).
				Where("idempotencyKey", "==", stored.IdempotencyKey).
				Limit(1)
			docs, err := tx.Documents(q).GetAll()
			if err != nil {
				return err
			}
			if len(docs) > 0 {
				var prior entity.Message
				if err := docs[0].DataTo(&prior); err != nil {
					return err
				}
				existing = &prior
				return nil
			}
		}

		stored.Sequence = conv.LastSequence + 1
		stored.CreatedAt = time.Now().UTC()
		if err := tx.Update(convRef, []firestore.Update{{Path: "lastSequence", Value: stored.Sequence}}); err != nil {
			return err
		}
		return tx.Create(msgRef, &stored)
	})
	if err != nil {
		var appErr *errors.AppError
		if stderrors.As(err, &appErr) {
			return nil, appErr
		}
		logger.Error("AppendMessage: conversation %s: %v", stored.ConversationID, err)
		return nil, firestoreError("Failed to append message", err)
	}
	if existing != nil {
		return existing, nil
	}
	return &stored, nil
}

func (r *firestoreStore) AppendNotification(ctx context.Context, notification *entity.Notification) (*entity.Notification, error) {
	if err := validateNotificationRow(notification); err != nil {
		return nil, err
	}

	stored := *notification
	if stored.ID == "" {
		stored.ID = uuid.New().String()
	}
	stored.IsRead = false
	stored.ReadAt = nil

	feedRef := r.client.Collection(notificationFeedsCollection).Doc(stored.RecipientID)
	notifRef := r.client.Collection(notificationsCollection).Doc(stored.ID)

	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		var feed notificationFeed
		doc, err := tx.Get(feedRef)
		switch {
		case err == nil:
			if err := doc.DataTo(&feed); err != nil {
				return err
			}
		case status.Code(err) == codes.NotFound:
			feed = notificationFeed{RecipientID: stored.RecipientID}
		default:
			return err
		}

		now := time.Now().UTC()
		feed.LastSequence++
		feed.UpdatedAt = now
		stored.Sequence = feed.LastSequence
		stored.CreatedAt = now

		if err := tx.Set(feedRef, feed); err != nil {
			return err
		}
		return tx.Create(notifRef, &stored)
	})
	if err != nil {
		logger.Error("AppendNotification: recipient %s: %v", stored.RecipientID, err)
		return nil, firestoreError("Failed to append notification", err)
	}
	return &stored, nil
}

func (r *firestoreStore) Query(ctx context.Context, scope entity.Scope, afterSequence int64, limit int) ([]entity.Event, error) {
	limit = repository.NormalizeLimit(limit)

	var q firestore.Query
	switch scope.Kind {
	case entity.ScopeConversation:
		q = r.client.Collection(messagesCollection).Where("conversationId", "==", scope.ID)
	case entity.ScopeNotifications:
		q = r.client.Collection(notificationsCollection).Where("recipientId", "==", scope.ID)
	default:
		return nil, errors.BadRequest("Unknown scope", nil)
	}
	q = q.Where("sequence", ">", afterSequence).OrderBy("sequence", firestore.Asc).Limit(limit)

	iter := q.Documents(ctx)
	defer iter.Stop()

	var events []entity.Event
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, firestoreError("Failed to query events", err)
		}
		if scope.Kind == entity.ScopeConversation {
			var m entity.Message
			if err := doc.DataTo(&m); err != nil {
				return nil, errors.Internal("Failed to parse message data", err)
			}
			events = append(events, m.Event())
		} else {
			var n entity.Notification
			if err := doc.DataTo(&n); err != nil {
				return nil, errors.Internal("Failed to parse notification data", err)
			}
			events = append(events, n.Event())
		}
	}
	return events, nil
}

func (r *firestoreStore) ListMessagesBefore(ctx context.Context, conversationID string, beforeSequence int64, limit int) ([]*entity.Message, error) {
	limit = repository.NormalizeLimit(limit)

	q := r.client.Collection(messagesCollection).Where("conversationId", "==", conversationID)
	if beforeSequence > 0 {
		q = q.Where("sequence", "<", beforeSequence)
	}
	docs, err := q.OrderBy("sequence", firestore.Desc).Limit(limit).Documents(ctx).GetAll()
	if err != nil {
		return nil, firestoreError("Failed to list messages", err)
	}

	messages := make([]*entity.Message, len(docs))
	for i, doc := range docs {
		var m entity.Message
		if err := doc.DataTo(&m); err != nil {
			return nil, errors.Internal("Failed to parse message data", err)
		}
		messages[len(docs)-1-i] = &m
	}
	return messages, nil
}

func (r *firestoreStore) GetMessage(ctx context.Context, id string) (*entity.Message, error) {
	doc, err := r.client.Collection(messagesCollection).Doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, errors.NotFound("Message", err)
		}
		return nil, firestoreError("Failed to get message", err)
	}
	var m entity.Message
	if err := doc.DataTo(&m); err != nil {
		return nil, errors.Internal("Failed to parse message data", err)
	}
	return &m, nil
}

func (r *firestoreStore) GetNotification(ctx context.Context, id string) (*entity.Notification, error) {
	doc, err := r.client.Collection(notificationsCollection).Doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, errors.NotFound("Notification", err)
		}
		return nil, firestoreError("Failed to get notification", err)
	}
	var n entity.Notification
	if err := doc.DataTo(&n); err != nil {
		return nil, errors.Internal("Failed to parse notification data", err)
	}
	return &n, nil
}

func (r *firestoreStore) MarkMessageRead(ctx context.Context, messageID, readerID string) (*entity.Message, bool, error) {
	ref := r.client.Collection(messagesCollection).Doc(messageID)
	var (
		result  entity.Message
		changed bool
	)
	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		changed = false
		doc, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return errors.NotFound("Message", err)
			}
			return err
		}
		if err := doc.DataTo(&result); err != nil {
			return err
		}
		if result.ReceiverID != readerID {
			return errors.Forbidden("Only the receiver can mark a message as read", nil)
		}
		if result.ReadAt != nil {
			return nil
		}
		now := time.Now().UTC()
		result.ReadAt = &now
		changed = true
		return tx.Update(ref, []firestore.Update{{Path: "readAt", Value: now}})
	})
	if err != nil {
		return nil, false, translateTxError("Failed to mark message as read", err)
	}
	return &result, changed, nil
}

func (r *firestoreStore) MarkNotificationRead(ctx context.Context, notificationID, readerID string) (*entity.Notification, bool, error) {
	ref := r.client.Collection(notificationsCollection).Doc(notificationID)
	var (
		result  entity.Notification
		changed bool
	)
	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		changed = false
		doc, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return errors.NotFound("Notification", err)
			}
			return err
		}
		if err := doc.DataTo(&result); err != nil {
			return err
		}
		if result.RecipientID != readerID {
			return errors.Forbidden("Only the recipient can mark a notification as read", nil)
		}
		if result.IsRead {
			return nil
		}
		now := time.Now().UTC()
		result.IsRead = true
		result.ReadAt = &now
		changed = true
		return tx.Update(ref, []firestore.Update{
			{Path: "isRead", Value: true},
			{Path: "readAt", Value: now},
		})
	})
	if err != nil {
		return nil, false, translateTxError("Failed to mark notification as read", err)
	}
	return &result, changed, nil
}

func translateTxError(message string, err error) error {
	var appErr *errors.AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}
	return firestoreError(message, err)
}

func firestoreError(message string, err error) error {
	return errors.Persistence(message, err)
}
