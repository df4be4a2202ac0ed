package repository

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pasargamex-realtime/internal/domain/entity"
	"pasargamex-realtime/internal/domain/repository"
	"pasargamex-realtime/pkg/errors"
)

// runStoreSuite exercises the behaviour every backend must share. User ids
// are random so the suite can run against a shared database.
func runStoreSuite(t *testing.T, store repository.Store) {
	ctx := context.Background()
	newUser := func(name string) string { return name + "-" + uuid.NewString()[:8] }

	createConversation := func(t *testing.T) (*entity.Conversation, string, string) {
		x, y := newUser("x"), newUser("y")
		conv := &entity.Conversation{ID: entity.ConversationIDFor(x, y), ParticipantA: x, ParticipantB: y}
		require.NoError(t, store.Conversations().Create(ctx, conv))
		return conv, x, y
	}

	t.Run("conversation pair is unique", func(t *testing.T) {
		conv, x, y := createConversation(t)
		a, b := entity.OrderedPair(x, y)
		assert.Equal(t, a, conv.ParticipantA)
		assert.Equal(t, b, conv.ParticipantB)

		dup := &entity.Conversation{ID: entity.ConversationIDFor(y, x), ParticipantA: y, ParticipantB: x}
		err := store.Conversations().Create(ctx, dup)
		assert.True(t, errors.Is(err, errors.CodeConflict), "got %v", err)

		found, err := store.Conversations().GetByParticipants(ctx, y, x)
		require.NoError(t, err)
		assert.Equal(t, conv.ID, found.ID)
	})

	t.Run("append assigns gap-free sequences", func(t *testing.T) {
		conv, x, y := createConversation(t)
		for i := 1; i <= 5; i++ {
			m, err := store.Events().AppendMessage(ctx, &entity.Message{
				ConversationID: conv.ID, SenderID: x, ReceiverID: y, Content: fmt.Sprintf("hello %d", i),
			})
			require.NoError(t, err)
			assert.Equal(t, int64(i), m.Sequence)
			assert.NotEmpty(t, m.ID)
			assert.False(t, m.CreatedAt.IsZero())
			assert.Nil(t, m.ReadAt)
		}

		events, err := store.Events().Query(ctx, entity.ConversationScope(conv.ID), 2, 2)
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, int64(3), events[0].Sequence)
		assert.Equal(t, int64(4), events[1].Sequence)
		assert.Equal(t, entity.EventKindMessage, events[0].Kind)

		again, err := store.Events().Query(ctx, entity.ConversationScope(conv.ID), 2, 2)
		require.NoError(t, err)
		assert.Equal(t, events, again)

		history, err := store.Events().ListMessagesBefore(ctx, conv.ID, 5, 3)
		require.NoError(t, err)
		require.Len(t, history, 3)
		assert.Equal(t, int64(2), history[0].Sequence)
		assert.Equal(t, int64(4), history[2].Sequence)

		latest, err := store.Events().ListMessagesBefore(ctx, conv.ID, 0, 2)
		require.NoError(t, err)
		require.Len(t, latest, 2)
		assert.Equal(t, int64(5), latest[1].Sequence)
	})

	t.Run("concurrent appends never share a sequence", func(t *testing.T) {
		conv, x, y := createConversation(t)
		const writers = 20
		var wg sync.WaitGroup
		seqs := make(chan int64, writers)
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				sender, receiver := x, y
				if i%2 == 1 {
					sender, receiver = y, x
				}
				m, err := store.Events().AppendMessage(ctx, &entity.Message{
					ConversationID: conv.ID, SenderID: sender, ReceiverID: receiver, Content: "race",
				})
				if assert.NoError(t, err) {
					seqs <- m.Sequence
				}
			}(i)
		}
		wg.Wait()
		close(seqs)
		seen := make(map[int64]bool)
		for s := range seqs {
			assert.False(t, seen[s], "sequence %d assigned twice", s)
			seen[s] = true
		}
		for s := int64(1); s <= writers; s++ {
			assert.True(t, seen[s], "sequence %d missing", s)
		}
	})

	t.Run("append rejects bad rows", func(t *testing.T) {
		conv, x, y := createConversation(t)
		_, err := store.Events().AppendMessage(ctx, &entity.Message{ConversationID: conv.ID, SenderID: x, ReceiverID: y, Content: "   "})
		assert.True(t, errors.Is(err, errors.CodeWriteRejected), "got %v", err)

		_, err = store.Events().AppendMessage(ctx, &entity.Message{ConversationID: "dm_missing", SenderID: x, ReceiverID: y, Content: "hi"})
		assert.True(t, errors.Is(err, errors.CodeWriteRejected), "got %v", err)

		_, err = store.Events().AppendMessage(ctx, &entity.Message{ConversationID: conv.ID, SenderID: x, ReceiverID: newUser("z"), Content: "hi"})
		assert.True(t, errors.Is(err, errors.CodeWriteRejected), "got %v", err)

		_, err = store.Events().AppendNotification(ctx, &entity.Notification{RecipientID: x, Type: "bogus", Title: "t"})
		assert.True(t, errors.Is(err, errors.CodeWriteRejected), "got %v", err)
	})

	t.Run("idempotency key returns the stored message", func(t *testing.T) {
		conv, x, y := createConversation(t)
		in := &entity.Message{ConversationID: conv.ID, SenderID: x, ReceiverID: y, Content: "once", IdempotencyKey: "k-1"}
		first, err := store.Events().AppendMessage(ctx, in)
		require.NoError(t, err)
		second, err := store.Events().AppendMessage(ctx, in)
		require.NoError(t, err)
		assert.Equal(t, first.ID, second.ID)
		assert.Equal(t, first.Sequence, second.Sequence)

		events, err := store.Events().Query(ctx, entity.ConversationScope(conv.ID), 0, 10)
		require.NoError(t, err)
		assert.Len(t, events, 1)
	})

	t.Run("mark message read is idempotent", func(t *testing.T) {
		conv, x, y := createConversation(t)
		m, err := store.Events().AppendMessage(ctx, &entity.Message{ConversationID: conv.ID, SenderID: x, ReceiverID: y, Content: "Hello"})
		require.NoError(t, err)

		_, _, err = store.Events().MarkMessageRead(ctx, m.ID, x)
		assert.True(t, errors.Is(err, errors.CodeForbidden), "got %v", err)

		read, changed, err := store.Events().MarkMessageRead(ctx, m.ID, y)
		require.NoError(t, err)
		assert.True(t, changed)
		require.NotNil(t, read.ReadAt)
		assert.Equal(t, m.Sequence, read.Sequence)

		again, changed, err := store.Events().MarkMessageRead(ctx, m.ID, y)
		require.NoError(t, err)
		assert.False(t, changed)
		assert.True(t, read.ReadAt.Equal(*again.ReadAt))

		_, _, err = store.Events().MarkMessageRead(ctx, "missing", y)
		assert.True(t, errors.Is(err, errors.CodeNotFound), "got %v", err)
	})

	t.Run("notifications have per-recipient sequences", func(t *testing.T) {
		r := newUser("r")
		other := newUser("o")
		for i := 1; i <= 3; i++ {
			n, err := store.Events().AppendNotification(ctx, &entity.Notification{
				RecipientID: r, Type: entity.NotificationOrderCreated, Title: "Order", Message: fmt.Sprintf("#%d", i),
				ActionData: map[string]interface{}{"order_id": fmt.Sprintf("o-%d", i)},
			})
			require.NoError(t, err)
			assert.Equal(t, int64(i), n.Sequence)
			assert.False(t, n.IsRead)
		}
		n, err := store.Events().AppendNotification(ctx, &entity.Notification{RecipientID: other, Type: entity.NotificationSystemMessage, Title: "Hi"})
		require.NoError(t, err)
		assert.Equal(t, int64(1), n.Sequence)

		events, err := store.Events().Query(ctx, entity.NotificationScope(r), 1, 10)
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, entity.EventKindNotification, events[0].Kind)
		assert.Equal(t, "o-2", events[0].Notification.ActionData["order_id"])

		read, changed, err := store.Events().MarkNotificationRead(ctx, events[0].ID, r)
		require.NoError(t, err)
		assert.True(t, changed)
		assert.True(t, read.IsRead)

		_, changed, err = store.Events().MarkNotificationRead(ctx, events[0].ID, r)
		require.NoError(t, err)
		assert.False(t, changed)

		_, _, err = store.Events().MarkNotificationRead(ctx, events[0].ID, other)
		assert.True(t, errors.Is(err, errors.CodeForbidden), "got %v", err)
	})
}
