package entity

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Conversation is a direct-message thread between exactly two users.
// ParticipantA always sorts before ParticipantB.
type Conversation struct {
	ID           string    `json:"id" firestore:"id"`
	ParticipantA string    `json:"participant_a" firestore:"participantA"`
	ParticipantB string    `json:"participant_b" firestore:"participantB"`
	LastSequence int64     `json:"last_sequence" firestore:"lastSequence"`
	CreatedAt    time.Time `json:"created_at" firestore:"createdAt"`
}

// OrderedPair returns the two user ids in canonical order.
func OrderedPair(userA, userB string) (string, string) {
	if userB < userA {
		return userB, userA
	}
	return userA, userB
}

// ConversationIDFor derives the conversation id for an unordered pair. It is a
// pure function so that every store converges on one id per pair.
func ConversationIDFor(userA, userB string) string {
	a, b := OrderedPair(userA, userB)
	sum := sha256.Sum256([]byte(a + "\x00" + b))
	return "dm_" + hex.EncodeToString(sum[:])[:32]
}

func (c *Conversation) HasParticipant(userID string) bool {
	return userID != "" && (c.ParticipantA == userID || c.ParticipantB == userID)
}

// Other returns the participant that is not userID.
func (c *Conversation) Other(userID string) string {
	if c.ParticipantA == userID {
		return c.ParticipantB
	}
	return c.ParticipantA
}
