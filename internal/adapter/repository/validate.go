package repository

import (
	"strings"
	"unicode/utf8"

	"pasargamex-realtime/internal/domain/entity"
	"pasargamex-realtime/pkg/errors"
)

func validateMessageRow(m *entity.Message) error {
	if m == nil {
		return errors.WriteRejected("Message is required", nil)
	}
	if strings.TrimSpace(m.ConversationID) == "" {
		return errors.WriteRejected("Conversation is required", nil)
	}
	if strings.TrimSpace(m.SenderID) == "" || strings.TrimSpace(m.ReceiverID) == "" {
		return errors.WriteRejected("Sender and receiver are required", nil)
	}
	if strings.TrimSpace(m.Content) == "" {
		return errors.WriteRejected("Message content must not be empty", nil)
	}
	if utf8.RuneCountInString(m.Content) > entity.MaxMessageLength {
		return errors.WriteRejected("Message content is too long", nil)
	}
	return nil
}

func validateNotificationRow(n *entity.Notification) error {
	if n == nil {
		return errors.WriteRejected("Notification is required", nil)
	}
	if strings.TrimSpace(n.RecipientID) == "" {
		return errors.WriteRejected("Recipient is required", nil)
	}
	if !n.Type.Valid() {
		return errors.WriteRejected("Unknown notification type", nil)
	}
	if strings.TrimSpace(n.Title) == "" {
		return errors.WriteRejected("Notification title must not be empty", nil)
	}
	return nil
}

// checkConversationParticipants rejects messages whose sender and receiver are
// not the conversation's two participants.
func checkConversationParticipants(c *entity.Conversation, m *entity.Message) error {
	if !c.HasParticipant(m.SenderID) || c.Other(m.SenderID) != m.ReceiverID || m.SenderID == m.ReceiverID {
		return errors.WriteRejected("Sender and receiver must be the conversation participants", nil)
	}
	return nil
}
