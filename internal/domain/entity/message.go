package entity

import "time"

// MaxMessageLength caps message content, counted in runes.
const MaxMessageLength = 4000

type Message struct {
	ID             string     `json:"id" firestore:"id"`
	ConversationID string     `json:"conversation_id" firestore:"conversationId"`
	SenderID       string     `json:"sender_id" firestore:"senderId"`
	ReceiverID     string     `json:"receiver_id" firestore:"receiverId"`
	Content        string     `json:"content" firestore:"content"`
	Sequence       int64      `json:"sequence" firestore:"sequence"`
	CreatedAt      time.Time  `json:"created_at" firestore:"createdAt"`
	ReadAt         *time.Time `json:"read_at" firestore:"readAt"`
	IdempotencyKey string     `json:"-" firestore:"idempotencyKey,omitempty"`
}

func (m *Message) IsRead() bool {
	return m.ReadAt != nil
}

func (m *Message) Scope() Scope {
	return ConversationScope(m.ConversationID)
}

func (m *Message) Event() Event {
	return Event{
		Kind:      EventKindMessage,
		Scope:     m.Scope(),
		ID:        m.ID,
		Sequence:  m.Sequence,
		CreatedAt: m.CreatedAt,
		Message:   m,
	}
}
