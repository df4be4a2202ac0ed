package usecase

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	adapter "pasargamex-realtime/internal/adapter/repository"
	"pasargamex-realtime/internal/domain/entity"
	"pasargamex-realtime/internal/domain/repository"
	"pasargamex-realtime/internal/infrastructure/ratelimit"
	"pasargamex-realtime/pkg/errors"
)

type recordingPublisher struct {
	mu      sync.Mutex
	changes []entity.Change
	err     error
}

func (p *recordingPublisher) Publish(ctx context.Context, scope entity.Scope, change entity.Change) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.changes = append(p.changes, change)
	return nil
}

func (p *recordingPublisher) published() []entity.Change {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]entity.Change(nil), p.changes...)
}

func newTestDispatcher(t *testing.T, notify bool) (*Dispatcher, *adapter.MemoryStore, *recordingPublisher) {
	t.Helper()
	store := adapter.NewMemoryStore()
	pub := &recordingPublisher{}
	d := NewDispatcher(NewConversationResolver(store, 3), store, pub, ratelimit.NewRateLimiter(), DispatcherConfig{
		WriteTimeout:    time.Second,
		NotifyOnMessage: notify,
	})
	return d, store, pub
}

func TestSendHelloThenMarkRead(t *testing.T) {
	ctx := context.Background()
	d, _, pub := newTestDispatcher(t, false)

	sent, err := d.SendMessage(ctx, "userX", SendMessageInput{ReceiverID: "userY", Content: "  Hello "})
	require.NoError(t, err)
	assert.Equal(t, entity.ConversationIDFor("userX", "userY"), sent.ConversationID)
	assert.Equal(t, "Hello", sent.Content)

	history, err := d.ListConversationMessages(ctx, "userX", sent.ConversationID, 0, 50)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, int64(1), history[0].Sequence)
	assert.Nil(t, history[0].ReadAt)

	read, err := d.MarkMessageRead(ctx, "userY", sent.ID)
	require.NoError(t, err)
	require.NotNil(t, read.ReadAt)

	history, err = d.ListConversationMessages(ctx, "userY", sent.ConversationID, 0, 50)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.NotNil(t, history[0].ReadAt)
	assert.Equal(t, int64(1), history[0].Sequence)

	again, err := d.MarkMessageRead(ctx, "userY", sent.ID)
	require.NoError(t, err)
	assert.True(t, read.ReadAt.Equal(*again.ReadAt))

	changes := pub.published()
	require.Len(t, changes, 2, "the no-op mark-read publishes nothing")
	assert.Equal(t, entity.ChangeInserted, changes[0].Type)
	assert.Equal(t, entity.ChangeUpdated, changes[1].Type)
	assert.Equal(t, sent.ID, changes[1].Event.ID)
}

func TestSendMessageValidation(t *testing.T) {
	ctx := context.Background()
	d, _, pub := newTestDispatcher(t, false)

	cases := map[string]SendMessageInput{
		"empty content": {ReceiverID: "b", Content: "   "},
		"no receiver":   {Content: "hi"},
		"self":          {ReceiverID: "a", Content: "hi"},
		"too long":      {ReceiverID: "b", Content: strings.Repeat("x", entity.MaxMessageLength+1)},
	}
	for name, input := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := d.SendMessage(ctx, "a", input)
			assert.True(t, errors.Is(err, errors.CodeValidation), "got %v", err)
			assert.False(t, errors.Retryable(err))
		})
	}
	assert.Empty(t, pub.published())
}

func TestMarkReadRequiresReceiver(t *testing.T) {
	ctx := context.Background()
	d, _, _ := newTestDispatcher(t, false)
	sent, err := d.SendMessage(ctx, "a", SendMessageInput{ReceiverID: "b", Content: "hi"})
	require.NoError(t, err)

	_, err = d.MarkMessageRead(ctx, "a", sent.ID)
	assert.True(t, errors.Is(err, errors.CodeForbidden))

	_, err = d.ListConversationMessages(ctx, "mallory", sent.ConversationID, 0, 10)
	assert.True(t, errors.Is(err, errors.CodeForbidden))
}

func TestSendMessageIdempotencyKey(t *testing.T) {
	ctx := context.Background()
	d, _, _ := newTestDispatcher(t, false)
	input := SendMessageInput{ReceiverID: "b", Content: "retry me", IdempotencyKey: "req-1"}

	first, err := d.SendMessage(ctx, "a", input)
	require.NoError(t, err)
	second, err := d.SendMessage(ctx, "a", input)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	history, err := d.ListConversationMessages(ctx, "a", first.ConversationID, 0, 10)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestSendMessageNotifiesReceiver(t *testing.T) {
	ctx := context.Background()
	d, _, _ := newTestDispatcher(t, true)

	sent, err := d.SendMessage(ctx, "a", SendMessageInput{ReceiverID: "b", Content: strings.Repeat("é", 150)})
	require.NoError(t, err)

	notifications, err := d.ListNotifications(ctx, "b", 0, 10)
	require.NoError(t, err)
	require.Len(t, notifications, 1)
	n := notifications[0]
	assert.Equal(t, entity.NotificationNewMessage, n.Type)
	assert.Equal(t, "a", n.SenderID)
	assert.Equal(t, sent.ConversationID, n.ActionData["conversation_id"])
	assert.Equal(t, float64(sent.Sequence), n.ActionData["sequence"])
	assert.Equal(t, previewLength+3, len([]rune(n.Message)))

	none, err := d.ListNotifications(ctx, "a", 0, 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestSendMessageRateLimited(t *testing.T) {
	ctx := context.Background()
	store := adapter.NewMemoryStore()
	limiter := ratelimit.NewRateLimiter()
	limiter.SetPolicy(ratelimit.ActionSendMessage, ratelimit.Policy{PerMinute: 1, Burst: 1})
	d := NewDispatcher(NewConversationResolver(store, 3), store, nil, limiter, DispatcherConfig{})

	_, err := d.SendMessage(ctx, "a", SendMessageInput{ReceiverID: "b", Content: "one"})
	require.NoError(t, err)
	_, err = d.SendMessage(ctx, "a", SendMessageInput{ReceiverID: "b", Content: "two"})
	assert.True(t, errors.Is(err, errors.CodeTooManyRequests), "got %v", err)
}

func TestPublishFailureDoesNotFailSend(t *testing.T) {
	ctx := context.Background()
	d, _, pub := newTestDispatcher(t, false)
	pub.err = fmt.Errorf("broker down")

	sent, err := d.SendMessage(ctx, "a", SendMessageInput{ReceiverID: "b", Content: "still stored"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), sent.Sequence)
}

func TestOrderCreatedNotificationReadOnce(t *testing.T) {
	ctx := context.Background()
	d, _, pub := newTestDispatcher(t, false)

	n, err := d.CreateNotification(ctx, CreateNotificationInput{
		RecipientID: "R",
		Type:        "order-created",
		Title:       "Order placed",
		Message:     "Order #42 was created",
		ActionData:  map[string]interface{}{"order_id": "42"},
	})
	require.NoError(t, err)
	assert.Equal(t, entity.NotificationOrderCreated, n.Type)
	assert.False(t, n.IsRead)
	assert.Equal(t, int64(1), n.Sequence)

	read, err := d.MarkNotificationRead(ctx, "R", n.ID)
	require.NoError(t, err)
	assert.True(t, read.IsRead)

	again, err := d.MarkNotificationRead(ctx, "R", n.ID)
	require.NoError(t, err)
	assert.True(t, again.IsRead)
	assert.Len(t, pub.published(), 2)

	_, err = d.MarkNotificationRead(ctx, "someone-else", n.ID)
	assert.True(t, errors.Is(err, errors.CodeForbidden))
}

func TestCreateNotificationValidation(t *testing.T) {
	ctx := context.Background()
	d, _, _ := newTestDispatcher(t, false)

	_, err := d.CreateNotification(ctx, CreateNotificationInput{RecipientID: "R", Type: "party", Title: "x"})
	assert.True(t, errors.Is(err, errors.CodeValidation))

	_, err = d.CreateNotification(ctx, CreateNotificationInput{RecipientID: "R", Type: "system_message"})
	assert.True(t, errors.Is(err, errors.CodeValidation))

	_, err = d.CreateNotification(ctx, CreateNotificationInput{Type: "system_message", Title: "x"})
	assert.True(t, errors.Is(err, errors.CodeValidation))
}

// failingLog rejects or fails every append.
type failingLog struct {
	repository.EventLog
	err error
}

func (f failingLog) AppendMessage(ctx context.Context, m *entity.Message) (*entity.Message, error) {
	return nil, f.err
}

func TestSendMessageClassifiesStoreErrors(t *testing.T) {
	ctx := context.Background()
	store := adapter.NewMemoryStore()
	resolver := NewConversationResolver(store, 3)

	d := NewDispatcher(resolver, failingLog{EventLog: store, err: fmt.Errorf("disk on fire")}, nil, nil, DispatcherConfig{})
	_, err := d.SendMessage(ctx, "a", SendMessageInput{ReceiverID: "b", Content: "hi"})
	assert.True(t, errors.Is(err, errors.CodePersistence), "got %v", err)
	assert.True(t, errors.Retryable(err))

	d = NewDispatcher(resolver, failingLog{EventLog: store, err: errors.WriteRejected("nope", nil)}, nil, nil, DispatcherConfig{})
	_, err = d.SendMessage(ctx, "a", SendMessageInput{ReceiverID: "b", Content: "hi"})
	assert.True(t, errors.Is(err, errors.CodeValidation), "got %v", err)
}
