package entity

import (
	"fmt"
	"strings"
	"time"
)

type ScopeKind string

const (
	ScopeConversation  ScopeKind = "conversation"
	ScopeNotifications ScopeKind = "notifications"
)

// Scope is the unit of subscription: a conversation or a recipient's
// notification feed.
type Scope struct {
	Kind ScopeKind `json:"kind"`
	ID   string    `json:"id"`
}

func ConversationScope(conversationID string) Scope {
	return Scope{Kind: ScopeConversation, ID: conversationID}
}

func NotificationScope(recipientID string) Scope {
	return Scope{Kind: ScopeNotifications, ID: recipientID}
}

func (s Scope) Key() string {
	return string(s.Kind) + ":" + s.ID
}

func (s Scope) String() string {
	return s.Key()
}

func (s Scope) Valid() bool {
	return (s.Kind == ScopeConversation || s.Kind == ScopeNotifications) && strings.TrimSpace(s.ID) != ""
}

func ParseScope(key string) (Scope, error) {
	kind, id, ok := strings.Cut(key, ":")
	s := Scope{Kind: ScopeKind(kind), ID: id}
	if !ok || !s.Valid() {
		return Scope{}, fmt.Errorf("invalid scope %q", key)
	}
	return s, nil
}

type EventKind string

const (
	EventKindMessage      EventKind = "message"
	EventKindNotification EventKind = "notification"
)

// Event is a row of the event log as seen by subscribers.
type Event struct {
	Kind         EventKind     `json:"kind"`
	Scope        Scope         `json:"scope"`
	ID           string        `json:"id"`
	Sequence     int64         `json:"sequence"`
	CreatedAt    time.Time     `json:"created_at"`
	Message      *Message      `json:"message,omitempty"`
	Notification *Notification `json:"notification,omitempty"`
}

type ChangeType string

const (
	ChangeInserted ChangeType = "inserted"
	ChangeUpdated  ChangeType = "updated"
)

type Change struct {
	Type  ChangeType `json:"type"`
	Event Event      `json:"event"`
}

func Inserted(e Event) Change {
	return Change{Type: ChangeInserted, Event: e}
}

func Updated(e Event) Change {
	return Change{Type: ChangeUpdated, Event: e}
}

// DedupKey identifies a change for duplicate suppression. Read transitions
// happen at most once per event so they get their own key.
func (c Change) DedupKey() string {
	if c.Type == ChangeUpdated {
		return c.Event.ID + "#read"
	}
	return c.Event.ID
}
