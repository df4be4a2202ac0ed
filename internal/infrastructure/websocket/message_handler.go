package websocket

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"time"

	"pasargamex-realtime/internal/domain/entity"
	"pasargamex-realtime/internal/infrastructure/realtime"
	"pasargamex-realtime/internal/usecase"
	"pasargamex-realtime/pkg/errors"
	"pasargamex-realtime/pkg/logger"
)

// WebSocket Message Types
const (
	MessageTypePing                 = "ping"
	MessageTypePong                 = "pong"
	MessageTypeWatchConversation    = "watch_conversation"
	MessageTypeWatchNotifications   = "watch_notifications"
	MessageTypeUnwatch              = "unwatch"
	MessageTypeForceReconnect       = "force_reconnect"
	MessageTypeStatus               = "status"
	MessageTypeMarkMessageRead      = "mark_message_read"
	MessageTypeMarkNotificationRead = "mark_notification_read"

	MessageTypeSubscribed   = "subscribed"
	MessageTypeUnsubscribed = "unsubscribed"
	MessageTypeEvent        = "event"
	MessageTypeAck          = "ack"
	MessageTypeError        = "error"
)

const requestTimeout = 10 * time.Second

// WebSocket Message Structure
type WSMessage struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp string          `json:"timestamp,omitempty"`
}

type outbound struct {
	Type      string      `json:"type"`
	RequestID string      `json:"request_id,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp string      `json:"timestamp"`
}

type WatchConversationData struct {
	ConversationID string `json:"conversation_id"`
	AfterSequence  int64  `json:"after_sequence"`
}

type WatchNotificationsData struct {
	AfterSequence int64 `json:"after_sequence"`
}

type SubscriptionRef struct {
	SubscriptionID string `json:"subscription_id"`
}

type SubscribedData struct {
	SubscriptionID string       `json:"subscription_id"`
	Scope          entity.Scope `json:"scope"`
	AfterSequence  int64        `json:"after_sequence"`
}

type EventData struct {
	SubscriptionID string        `json:"subscription_id"`
	Change         entity.Change `json:"change"`
}

type MarkMessageReadData struct {
	MessageID string `json:"message_id"`
}

type MarkNotificationReadData struct {
	NotificationID string `json:"notification_id"`
}

type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// HandleClientMessage processes one inbound frame.
func (m *Manager) HandleClientMessage(client *Client, messageBytes []byte) {
	var msg WSMessage
	if err := json.Unmarshal(messageBytes, &msg); err != nil {
		logger.Debug("WebSocket: invalid frame from client %s: %v", client.ID, err)
		m.sendErrorToClient(client, "", errors.BadRequest("Invalid message format", err))
		return
	}

	switch msg.Type {
	case MessageTypePing:
		m.sendToClient(client, MessageTypePong, msg.RequestID, map[string]string{"status": "alive"})

	case MessageTypeWatchConversation:
		m.handleWatchConversation(client, msg)

	case MessageTypeWatchNotifications:
		m.handleWatchNotifications(client, msg)

	case MessageTypeUnwatch:
		m.handleUnwatch(client, msg)

	case MessageTypeForceReconnect:
		m.handleForceReconnect(client, msg)

	case MessageTypeStatus:
		m.handleStatus(client, msg)

	case MessageTypeMarkMessageRead:
		m.handleMarkMessageRead(client, msg)

	case MessageTypeMarkNotificationRead:
		m.handleMarkNotificationRead(client, msg)

	default:
		m.sendErrorToClient(client, msg.RequestID, errors.BadRequest("Unknown message type", nil))
	}
}

func (m *Manager) handleWatchConversation(client *Client, msg WSMessage) {
	var data WatchConversationData
	if !m.decode(client, msg, &data) {
		return
	}
	if data.ConversationID == "" {
		m.sendErrorToClient(client, msg.RequestID, errors.Validation("conversation_id is required", nil))
		return
	}
	// Subscriptions live on the client context.
	_, err := m.subscriptions.WatchConversation(client.ctx, client.UserID, data.ConversationID, usecase.WatchOptions{
		AfterSequence: data.AfterSequence,
		OnStart:       m.onStart(client, msg.RequestID, data.AfterSequence),
	}, m.eventHandler(client))
	if err != nil {
		m.sendErrorToClient(client, msg.RequestID, err)
	}
}

func (m *Manager) handleWatchNotifications(client *Client, msg WSMessage) {
	var data WatchNotificationsData
	if len(msg.Data) > 0 && !m.decode(client, msg, &data) {
		return
	}
	_, err := m.subscriptions.WatchNotifications(client.ctx, client.UserID, usecase.WatchOptions{
		AfterSequence: data.AfterSequence,
		OnStart:       m.onStart(client, msg.RequestID, data.AfterSequence),
	}, m.eventHandler(client))
	if err != nil {
		m.sendErrorToClient(client, msg.RequestID, err)
	}
}

// onStart registers the subscription with the client and acknowledges it
// before the first event can be delivered.
func (m *Manager) onStart(client *Client, requestID string, after int64) func(*realtime.Subscription) {
	return func(sub *realtime.Subscription) {
		client.track(sub.ID())
		m.sendToClient(client, MessageTypeSubscribed, requestID, SubscribedData{
			SubscriptionID: sub.ID(),
			Scope:          sub.Scope(),
			AfterSequence:  after,
		})
	}
}

func (m *Manager) eventHandler(client *Client) realtime.Handler {
	return func(subscriptionID string, change entity.Change) {
		m.sendToClient(client, MessageTypeEvent, "", EventData{
			SubscriptionID: subscriptionID,
			Change:         change,
		})
	}
}

func (m *Manager) handleUnwatch(client *Client, msg WSMessage) {
	var data SubscriptionRef
	if !m.decodeRef(client, msg, &data) {
		return
	}
	// only subscriptions opened on this connection
	if !client.owns(data.SubscriptionID) {
		m.sendErrorToClient(client, msg.RequestID, errors.NotFound("Subscription", nil))
		return
	}
	if err := m.subscriptions.Unsubscribe(client.UserID, data.SubscriptionID); err != nil {
		m.sendErrorToClient(client, msg.RequestID, err)
		return
	}
	client.untrack(data.SubscriptionID)
	m.sendToClient(client, MessageTypeUnsubscribed, msg.RequestID, data)
}

func (m *Manager) handleForceReconnect(client *Client, msg WSMessage) {
	var data SubscriptionRef
	if !m.decodeRef(client, msg, &data) {
		return
	}
	if err := m.subscriptions.ForceReconnect(client.UserID, data.SubscriptionID); err != nil {
		m.sendErrorToClient(client, msg.RequestID, err)
		return
	}
	m.sendToClient(client, MessageTypeAck, msg.RequestID, data)
}

func (m *Manager) handleStatus(client *Client, msg WSMessage) {
	var data SubscriptionRef
	if !m.decodeRef(client, msg, &data) {
		return
	}
	status, err := m.subscriptions.GetConnectionStatus(client.UserID, data.SubscriptionID)
	if err != nil {
		m.sendErrorToClient(client, msg.RequestID, err)
		return
	}
	m.sendToClient(client, MessageTypeStatus, msg.RequestID, status)
}

func (m *Manager) handleMarkMessageRead(client *Client, msg WSMessage) {
	var data MarkMessageReadData
	if !m.decode(client, msg, &data) {
		return
	}
	if data.MessageID == "" {
		m.sendErrorToClient(client, msg.RequestID, errors.Validation("message_id is required", nil))
		return
	}
	ctx, cancel := context.WithTimeout(client.ctx, requestTimeout)
	defer cancel()

	message, err := m.dispatcher.MarkMessageRead(ctx, client.UserID, data.MessageID)
	if err != nil {
		m.sendErrorToClient(client, msg.RequestID, err)
		return
	}
	m.sendToClient(client, MessageTypeAck, msg.RequestID, message)
}

func (m *Manager) handleMarkNotificationRead(client *Client, msg WSMessage) {
	var data MarkNotificationReadData
	if !m.decode(client, msg, &data) {
		return
	}
	if data.NotificationID == "" {
		m.sendErrorToClient(client, msg.RequestID, errors.Validation("notification_id is required", nil))
		return
	}
	ctx, cancel := context.WithTimeout(client.ctx, requestTimeout)
	defer cancel()

	notification, err := m.dispatcher.MarkNotificationRead(ctx, client.UserID, data.NotificationID)
	if err != nil {
		m.sendErrorToClient(client, msg.RequestID, err)
		return
	}
	m.sendToClient(client, MessageTypeAck, msg.RequestID, notification)
}

func (m *Manager) decode(client *Client, msg WSMessage, dst interface{}) bool {
	if len(msg.Data) == 0 {
		m.sendErrorToClient(client, msg.RequestID, errors.Validation("Missing data", nil))
		return false
	}
	if err := json.Unmarshal(msg.Data, dst); err != nil {
		m.sendErrorToClient(client, msg.RequestID, errors.Validation("Invalid data format", err))
		return false
	}
	return true
}

func (m *Manager) decodeRef(client *Client, msg WSMessage, ref *SubscriptionRef) bool {
	if !m.decode(client, msg, ref) {
		return false
	}
	if ref.SubscriptionID == "" {
		m.sendErrorToClient(client, msg.RequestID, errors.Validation("subscription_id is required", nil))
		return false
	}
	return true
}

// sendToClient never blocks. A client that cannot keep up is disconnected,
// and its subscriptions end with it.
func (m *Manager) sendToClient(client *Client, messageType, requestID string, data interface{}) {
	messageBytes, err := json.Marshal(outbound{
		Type:      messageType,
		RequestID: requestID,
		Data:      data,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		logger.Error("WebSocket: failed to marshal %s frame for client %s: %v", messageType, client.ID, err)
		return
	}

	select {
	case <-client.ctx.Done():
	case client.Send <- messageBytes:
	default:
		logger.Warn("WebSocket: client %s send buffer full, closing connection", client.ID)
		client.Close()
	}
}

func (m *Manager) sendErrorToClient(client *Client, requestID string, err error) {
	data := ErrorData{Code: errors.CodeInternal, Message: "Internal server error"}
	var appErr *errors.AppError
	if stdErrors.As(err, &appErr) {
		data = ErrorData{Code: appErr.Code, Message: appErr.Message}
	} else {
		logger.Error("WebSocket: request from client %s failed: %v", client.ID, err)
	}
	m.sendToClient(client, MessageTypeError, requestID, data)
}
