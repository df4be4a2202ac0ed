package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"pasargamex-realtime/internal/domain/entity"
	"pasargamex-realtime/internal/domain/repository"
	"pasargamex-realtime/pkg/errors"
)

type pairKey struct {
	a, b string
}

// MemoryStore keeps conversations, messages and notifications in process
// memory. One mutex serializes every append, which trivially serializes
// sequence assignment per scope.
type MemoryStore struct {
	mu sync.RWMutex

	conversations map[string]*entity.Conversation
	pairs         map[pairKey]string

	messages       map[string]*entity.Message
	byConversation map[string][]*entity.Message
	idempotency    map[string]string

	notifications map[string]*entity.Notification
	byRecipient   map[string][]*entity.Notification

	now func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		conversations:  make(map[string]*entity.Conversation),
		pairs:          make(map[pairKey]string),
		messages:       make(map[string]*entity.Message),
		byConversation: make(map[string][]*entity.Message),
		idempotency:    make(map[string]string),
		notifications:  make(map[string]*entity.Notification),
		byRecipient:    make(map[string][]*entity.Notification),
		now:            time.Now,
	}
}

var (
	_ repository.Store                  = (*MemoryStore)(nil)
	_ repository.ConversationRepository = (*MemoryStore)(nil)
	_ repository.EventLog               = (*MemoryStore)(nil)
)

func (s *MemoryStore) Conversations() repository.ConversationRepository { return s }

func (s *MemoryStore) Events() repository.EventLog { return s }

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) Create(ctx context.Context, conversation *entity.Conversation) error {
	if err := ctx.Err(); err != nil {
		return errors.Persistence("Failed to create conversation", err)
	}
	a, b := entity.OrderedPair(conversation.ParticipantA, conversation.ParticipantB)
	key := pairKey{a, b}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.pairs[key]; exists {
		return errors.Conflict("Conversation already exists for this pair")
	}
	if conversation.ID == "" {
		conversation.ID = entity.ConversationIDFor(a, b)
	}
	if _, exists := s.conversations[conversation.ID]; exists {
		return errors.Conflict("Conversation id already in use")
	}
	conversation.ParticipantA, conversation.ParticipantB = a, b
	conversation.CreatedAt = s.now().UTC()
	stored := *conversation
	s.conversations[stored.ID] = &stored
	s.pairs[key] = stored.ID
	return nil
}

func (s *MemoryStore) GetByID(ctx context.Context, id string) (*entity.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conversations[id]
	if !ok {
		return nil, errors.NotFound("Conversation", nil)
	}
	out := *c
	return &out, nil
}

func (s *MemoryStore) GetByParticipants(ctx context.Context, participantA, participantB string) (*entity.Conversation, error) {
	a, b := entity.OrderedPair(participantA, participantB)
	s.mu.RLock()
	id, ok := s.pairs[pairKey{a, b}]
	s.mu.RUnlock()
	if !ok {
		return nil, errors.NotFound("Conversation", nil)
	}
	return s.GetByID(ctx, id)
}

func (s *MemoryStore) AppendMessage(ctx context.Context, message *entity.Message) (*entity.Message, error) {
	if err := validateMessageRow(message); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, errors.Persistence("Failed to append message", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[message.ConversationID]
	if !ok {
		return nil, errors.WriteRejected("Conversation does not exist", nil)
	}
	if err := checkConversationParticipants(conv, message); err != nil {
		return nil, err
	}

	idemKey := ""
	if message.IdempotencyKey != "" {
		idemKey = message.ConversationID + "|" + message.SenderID + "|" + message.IdempotencyKey
		if id, seen := s.idempotency[idemKey]; seen {
			return cloneMessage(s.messages[id]), nil
		}
	}

	conv.LastSequence++
	stored := *message
	if stored.ID == "" {
		stored.ID = uuid.New().String()
	}
	stored.Sequence = conv.LastSequence
	stored.CreatedAt = s.now().UTC()
	stored.ReadAt = nil

	s.messages[stored.ID] = &stored
	s.byConversation[stored.ConversationID] = append(s.byConversation[stored.ConversationID], &stored)
	if idemKey != "" {
		s.idempotency[idemKey] = stored.ID
	}
	return cloneMessage(&stored), nil
}

func (s *MemoryStore) AppendNotification(ctx context.Context, notification *entity.Notification) (*entity.Notification, error) {
	if err := validateNotificationRow(notification); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, errors.Persistence("Failed to append notification", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	feed := s.byRecipient[notification.RecipientID]
	stored := *notification
	if stored.ID == "" {
		stored.ID = uuid.New().String()
	}
	stored.Sequence = int64(len(feed)) + 1
	stored.CreatedAt = s.now().UTC()
	stored.IsRead = false
	stored.ReadAt = nil

	s.notifications[stored.ID] = &stored
	s.byRecipient[stored.RecipientID] = append(feed, &stored)
	return cloneNotification(&stored), nil
}

func (s *MemoryStore) Query(ctx context.Context, scope entity.Scope, afterSequence int64, limit int) ([]entity.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Persistence("Failed to query events", err)
	}
	limit = repository.NormalizeLimit(limit)

	s.mu.RLock()
	defer s.mu.RUnlock()

	var events []entity.Event
	switch scope.Kind {
	case entity.ScopeConversation:
		rows := s.byConversation[scope.ID]
		start := sort.Search(len(rows), func(i int) bool { return rows[i].Sequence > afterSequence })
		for _, m := range rows[start:] {
			if len(events) == limit {
				break
			}
			events = append(events, cloneMessage(m).Event())
		}
	case entity.ScopeNotifications:
		rows := s.byRecipient[scope.ID]
		start := sort.Search(len(rows), func(i int) bool { return rows[i].Sequence > afterSequence })
		for _, n := range rows[start:] {
			if len(events) == limit {
				break
			}
			events = append(events, cloneNotification(n).Event())
		}
	default:
		return nil, errors.BadRequest("Unknown scope", nil)
	}
	return events, nil
}

func (s *MemoryStore) ListMessagesBefore(ctx context.Context, conversationID string, beforeSequence int64, limit int) ([]*entity.Message, error) {
	limit = repository.NormalizeLimit(limit)

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := s.byConversation[conversationID]
	end := len(rows)
	if beforeSequence > 0 {
		end = sort.Search(len(rows), func(i int) bool { return rows[i].Sequence >= beforeSequence })
	}
	start := end - limit
	if start < 0 {
		start = 0
	}
	out := make([]*entity.Message, 0, end-start)
	for _, m := range rows[start:end] {
		out = append(out, cloneMessage(m))
	}
	return out, nil
}

func (s *MemoryStore) GetMessage(ctx context.Context, id string) (*entity.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.messages[id]
	if !ok {
		return nil, errors.NotFound("Message", nil)
	}
	return cloneMessage(m), nil
}

func (s *MemoryStore) GetNotification(ctx context.Context, id string) (*entity.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.notifications[id]
	if !ok {
		return nil, errors.NotFound("Notification", nil)
	}
	return cloneNotification(n), nil
}

func (s *MemoryStore) MarkMessageRead(ctx context.Context, messageID, readerID string) (*entity.Message, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[messageID]
	if !ok {
		return nil, false, errors.NotFound("Message", nil)
	}
	if m.ReceiverID != readerID {
		return nil, false, errors.Forbidden("Only the receiver can mark a message as read", nil)
	}
	if m.ReadAt != nil {
		return cloneMessage(m), false, nil
	}
	now := s.now().UTC()
	m.ReadAt = &now
	return cloneMessage(m), true, nil
}

func (s *MemoryStore) MarkNotificationRead(ctx context.Context, notificationID, readerID string) (*entity.Notification, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.notifications[notificationID]
	if !ok {
		return nil, false, errors.NotFound("Notification", nil)
	}
	if n.RecipientID != readerID {
		return nil, false, errors.Forbidden("Only the recipient can mark a notification as read", nil)
	}
	if n.IsRead {
		return cloneNotification(n), false, nil
	}
	now := s.now().UTC()
	n.IsRead = true
	n.ReadAt = &now
	return cloneNotification(n), true, nil
}

func cloneMessage(m *entity.Message) *entity.Message {
	out := *m
	if m.ReadAt != nil {
		t := *m.ReadAt
		out.ReadAt = &t
	}
	return &out
}

func cloneNotification(n *entity.Notification) *entity.Notification {
	out := *n
	if n.ReadAt != nil {
		t := *n.ReadAt
		out.ReadAt = &t
	}
	if n.ActionData != nil {
		out.ActionData = make(map[string]interface{}, len(n.ActionData))
		for k, v := range n.ActionData {
			out.ActionData[k] = v
		}
	}
	return &out
}
