package pubsub

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pasargamex-realtime/internal/domain/entity"
)

func TestChangeCodecRoundTrip(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	data, err := entity.NormalizeActionData(map[string]interface{}{
		"conversation_id": "conv-1",
		"sequence":        int64(7),
	})
	require.NoError(t, err)

	notification := &entity.Notification{
		ID:          "n-1",
		RecipientID: "bob",
		SenderID:    "alice",
		Type:        entity.NotificationNewMessage,
		Title:       "New message",
		Message:     "hi",
		ActionData:  data,
		Sequence:    3,
		CreatedAt:   at,
	}
	readAt := at.Add(time.Minute)
	message := &entity.Message{
		ID:             "m-1",
		ConversationID: "conv-1",
		SenderID:       "alice",
		ReceiverID:     "bob",
		Content:        "hi",
		Sequence:       7,
		CreatedAt:      at,
		ReadAt:         &readAt,
	}

	changes := []entity.Change{
		entity.Inserted(notification.Event()),
		entity.Updated(message.Event()),
	}
	for _, want := range changes {
		payload, err := encodeChange(want)
		require.NoError(t, err)
		got, err := decodeChange(string(payload))
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestChangeCodecKeepsNormalizedNumbers(t *testing.T) {
	data, err := entity.NormalizeActionData(map[string]interface{}{"sequence": int64(12)})
	require.NoError(t, err)
	n := &entity.Notification{ID: "n-2", RecipientID: "bob", ActionData: data, Sequence: 1}

	payload, err := encodeChange(entity.Inserted(n.Event()))
	require.NoError(t, err)
	got, err := decodeChange(string(payload))
	require.NoError(t, err)
	assert.Equal(t, n.ActionData["sequence"], got.Event.Notification.ActionData["sequence"])
	assert.IsType(t, float64(0), got.Event.Notification.ActionData["sequence"])
}

func TestDecodeChangeRejectsGarbage(t *testing.T) {
	_, err := decodeChange("{not json")
	assert.Error(t, err)
}
