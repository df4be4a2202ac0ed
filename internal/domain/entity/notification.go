package entity

import (
	"encoding/json"
	"time"
)

type NotificationType string

const (
	NotificationOrderCreated    NotificationType = "order_created"
	NotificationOrderCompleted  NotificationType = "order_completed"
	NotificationProductApproved NotificationType = "product_approved"
	NotificationProductRejected NotificationType = "product_rejected"
	NotificationSystemMessage   NotificationType = "system_message"
	NotificationNewMessage      NotificationType = "new_message"
)

var notificationTypes = map[NotificationType]struct{}{
	NotificationOrderCreated:    {},
	NotificationOrderCompleted:  {},
	NotificationProductApproved: {},
	NotificationProductRejected: {},
	NotificationSystemMessage:   {},
	NotificationNewMessage:      {},
}

// ParseNotificationType accepts both "order_created" and "order-created".
func ParseNotificationType(raw string) (NotificationType, bool) {
	normalized := make([]byte, 0, len(raw))
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		if c == '-' {
			c = '_'
		}
		normalized = append(normalized, c)
	}
	t := NotificationType(normalized)
	_, ok := notificationTypes[t]
	return t, ok
}

func (t NotificationType) Valid() bool {
	_, ok := notificationTypes[t]
	return ok
}

type Notification struct {
	ID          string                 `json:"id" firestore:"id"`
	RecipientID string                 `json:"recipient_id" firestore:"recipientId"`
	SenderID    string                 `json:"sender_id,omitempty" firestore:"senderId,omitempty"`
	Type        NotificationType       `json:"type" firestore:"type"`
	Title       string                 `json:"title" firestore:"title"`
	Message     string                 `json:"message" firestore:"message"`
	ActionData  map[string]interface{} `json:"action_data,omitempty" firestore:"actionData,omitempty"`
	IsRead      bool                   `json:"is_read" firestore:"isRead"`
	Sequence    int64                  `json:"sequence" firestore:"sequence"`
	CreatedAt   time.Time              `json:"created_at" firestore:"createdAt"`
	ReadAt      *time.Time             `json:"read_at,omitempty" firestore:"readAt,omitempty"`
}

func (n *Notification) Scope() Scope {
	return NotificationScope(n.RecipientID)
}

func (n *Notification) Event() Event {
	return Event{
		Kind:         EventKindNotification,
		Scope:        n.Scope(),
		ID:           n.ID,
		Sequence:     n.Sequence,
		CreatedAt:    n.CreatedAt,
		Notification: n,
	}
}

// NormalizeActionData returns data as it reads back after a JSON round trip:
// numbers become float64 and nested values become maps and slices. Every
// store and broker then hands out the same values.
func NormalizeActionData(data map[string]interface{}) (map[string]interface{}, error) {
	if data == nil {
		return nil, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	var out map[string]interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}
