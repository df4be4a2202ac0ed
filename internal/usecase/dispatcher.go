package usecase

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"

	"pasargamex-realtime/internal/domain/entity"
	"pasargamex-realtime/internal/domain/repository"
	"pasargamex-realtime/internal/infrastructure/metrics"
	"pasargamex-realtime/internal/infrastructure/ratelimit"
	"pasargamex-realtime/pkg/errors"
	"pasargamex-realtime/pkg/logger"
)

const (
	publishTimeout = 2 * time.Second
	previewLength  = 100
)

type DispatcherConfig struct {
	WriteTimeout    time.Duration
	NotifyOnMessage bool
}

// Dispatcher is the write path: it validates, appends to the event log and
// then hints the push transport. The hint is best effort; polling covers a
// lost one.
type Dispatcher struct {
	resolver    *ConversationResolver
	events      repository.EventLog
	publisher   Publisher
	rateLimiter *ratelimit.RateLimiter
	validate    *validator.Validate
	cfg         DispatcherConfig
}

func NewDispatcher(
	resolver *ConversationResolver,
	events repository.EventLog,
	publisher Publisher,
	rateLimiter *ratelimit.RateLimiter,
	cfg DispatcherConfig,
) *Dispatcher {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if rateLimiter == nil {
		rateLimiter = ratelimit.NewRateLimiter()
	}
	return &Dispatcher{
		resolver:    resolver,
		events:      events,
		publisher:   publisher,
		rateLimiter: rateLimiter,
		validate:    validator.New(),
		cfg:         cfg,
	}
}

type SendMessageInput struct {
	ReceiverID     string `json:"receiver_id" validate:"required,max=128"`
	Content        string `json:"content" validate:"required"`
	IdempotencyKey string `json:"idempotency_key" validate:"omitempty,max=128"`
}

type CreateNotificationInput struct {
	RecipientID string                 `json:"recipient_id" validate:"required,max=128"`
	SenderID    string                 `json:"sender_id" validate:"omitempty,max=128"`
	Type        string                 `json:"type" validate:"required"`
	Title       string                 `json:"title" validate:"required,max=200"`
	Message     string                 `json:"message" validate:"max=2000"`
	ActionData  map[string]interface{} `json:"action_data"`
}

func (d *Dispatcher) SendMessage(ctx context.Context, senderID string, input SendMessageInput) (*entity.Message, error) {
	senderID = strings.TrimSpace(senderID)
	input.ReceiverID = strings.TrimSpace(input.ReceiverID)
	input.Content = strings.TrimSpace(input.Content)
	if senderID == "" {
		return nil, errors.Validation("Sender is required", nil)
	}
	if err := d.validate.Struct(input); err != nil {
		return nil, errors.Validation("Invalid message", err)
	}
	if senderID == input.ReceiverID {
		return nil, errors.Validation("Cannot send a message to yourself", nil)
	}
	if utf8.RuneCountInString(input.Content) > entity.MaxMessageLength {
		return nil, errors.Validation("Message content is too long", nil)
	}
	if allowed, wait := d.rateLimiter.Allow(senderID, ratelimit.ActionSendMessage); !allowed {
		return nil, errors.TooManyRequests("Sending messages too fast", wait)
	}

	conversation, err := d.resolver.Resolve(ctx, senderID, input.ReceiverID)
	if err != nil {
		return nil, err
	}

	writeCtx, cancel := context.WithTimeout(ctx, d.cfg.WriteTimeout)
	defer cancel()
	message, err := d.events.AppendMessage(writeCtx, &entity.Message{
		ConversationID: conversation.ID,
		SenderID:       senderID,
		ReceiverID:     input.ReceiverID,
		Content:        input.Content,
		IdempotencyKey: input.IdempotencyKey,
	})
	if err != nil {
		return nil, d.writeError(writeCtx, "message", err)
	}
	metrics.EventsAppended.WithLabelValues(string(entity.EventKindMessage)).Inc()

	d.publish(ctx, message.Scope(), entity.Inserted(message.Event()))
	if d.cfg.NotifyOnMessage {
		d.notifyNewMessage(ctx, message)
	}
	return message, nil
}

func (d *Dispatcher) CreateNotification(ctx context.Context, input CreateNotificationInput) (*entity.Notification, error) {
	input.RecipientID = strings.TrimSpace(input.RecipientID)
	input.Title = strings.TrimSpace(input.Title)
	if err := d.validate.Struct(input); err != nil {
		return nil, errors.Validation("Invalid notification", err)
	}
	notificationType, ok := entity.ParseNotificationType(input.Type)
	if !ok {
		return nil, errors.Validation("Unknown notification type: "+input.Type, nil)
	}
	return d.appendNotification(ctx, &entity.Notification{
		RecipientID: input.RecipientID,
		SenderID:    strings.TrimSpace(input.SenderID),
		Type:        notificationType,
		Title:       input.Title,
		Message:     input.Message,
		ActionData:  input.ActionData,
	})
}

func (d *Dispatcher) appendNotification(ctx context.Context, n *entity.Notification) (*entity.Notification, error) {
	data, err := entity.NormalizeActionData(n.ActionData)
	if err != nil {
		return nil, errors.Validation("Invalid action_data", err)
	}
	n.ActionData = data

	writeCtx, cancel := context.WithTimeout(ctx, d.cfg.WriteTimeout)
	defer cancel()
	notification, err := d.events.AppendNotification(writeCtx, n)
	if err != nil {
		return nil, d.writeError(writeCtx, "notification", err)
	}
	metrics.EventsAppended.WithLabelValues(string(entity.EventKindNotification)).Inc()

	d.publish(ctx, notification.Scope(), entity.Inserted(notification.Event()))
	return notification, nil
}

func (d *Dispatcher) notifyNewMessage(ctx context.Context, message *entity.Message) {
	preview := message.Content
	if utf8.RuneCountInString(preview) > previewLength {
		preview = string([]rune(preview)[:previewLength]) + "..."
	}
	_, err := d.appendNotification(ctx, &entity.Notification{
		RecipientID: message.ReceiverID,
		SenderID:    message.SenderID,
		Type:        entity.NotificationNewMessage,
		Title:       "New message",
		Message:     preview,
		ActionData: map[string]interface{}{
			"conversation_id": message.ConversationID,
			"message_id":      message.ID,
			"sequence":        message.Sequence,
		},
	})
	if err != nil {
		logger.Warn("Dispatcher: new_message notification for %s failed: %v", message.ID, err)
	}
}

func (d *Dispatcher) MarkMessageRead(ctx context.Context, readerID, messageID string) (*entity.Message, error) {
	if strings.TrimSpace(messageID) == "" {
		return nil, errors.Validation("Message id is required", nil)
	}
	message, changed, err := d.events.MarkMessageRead(ctx, messageID, readerID)
	if err != nil {
		return nil, err
	}
	if changed {
		d.publish(ctx, message.Scope(), entity.Updated(message.Event()))
	}
	return message, nil
}

func (d *Dispatcher) MarkNotificationRead(ctx context.Context, readerID, notificationID string) (*entity.Notification, error) {
	if strings.TrimSpace(notificationID) == "" {
		return nil, errors.Validation("Notification id is required", nil)
	}
	notification, changed, err := d.events.MarkNotificationRead(ctx, notificationID, readerID)
	if err != nil {
		return nil, err
	}
	if changed {
		d.publish(ctx, notification.Scope(), entity.Updated(notification.Event()))
	}
	return notification, nil
}

func (d *Dispatcher) ResolveConversation(ctx context.Context, userID, otherUserID string) (*entity.Conversation, error) {
	return d.resolver.Resolve(ctx, userID, otherUserID)
}

// ListConversationMessages returns history below beforeSequence (0 means
// latest), ascending. Participants only.
func (d *Dispatcher) ListConversationMessages(ctx context.Context, userID, conversationID string, beforeSequence int64, limit int) ([]*entity.Message, error) {
	if beforeSequence < 0 {
		return nil, errors.Validation("before_sequence must not be negative", nil)
	}
	if _, err := d.resolver.GetForParticipant(ctx, conversationID, userID); err != nil {
		return nil, err
	}
	return d.events.ListMessagesBefore(ctx, conversationID, beforeSequence, limit)
}

// ListNotifications returns the caller's notifications after afterSequence.
func (d *Dispatcher) ListNotifications(ctx context.Context, userID string, afterSequence int64, limit int) ([]*entity.Notification, error) {
	if afterSequence < 0 {
		return nil, errors.Validation("after_sequence must not be negative", nil)
	}
	events, err := d.events.Query(ctx, entity.NotificationScope(userID), afterSequence, limit)
	if err != nil {
		return nil, err
	}
	notifications := make([]*entity.Notification, 0, len(events))
	for _, e := range events {
		if e.Notification != nil {
			notifications = append(notifications, e.Notification)
		}
	}
	return notifications, nil
}

func (d *Dispatcher) publish(ctx context.Context, scope entity.Scope, change entity.Change) {
	if d.publisher == nil {
		return
	}
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := d.publisher.Publish(pubCtx, scope, change); err != nil {
		metrics.PublishFailures.Inc()
		logger.Warn("Dispatcher: push hint for %s on %s failed: %v", change.DedupKey(), scope, err)
	}
}

// writeError classifies append failures: bad rows are the caller's fault,
// everything else is a persistence failure the caller may retry.
func (d *Dispatcher) writeError(writeCtx context.Context, kind string, err error) error {
	switch {
	case errors.Is(err, errors.CodeWriteRejected):
		return errors.Validation("Invalid "+kind, err)
	case writeCtx.Err() != nil && !errors.Is(err, errors.CodePersistence):
		return errors.Persistence("Timed out writing "+kind, err)
	case errors.Is(err, errors.CodePersistence):
		return err
	default:
		logger.Error("Dispatcher: append %s failed: %v", kind, err)
		return errors.Persistence("Failed to write "+kind, err)
	}
}
