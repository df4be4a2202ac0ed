package usecase

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	adapter "pasargamex-realtime/internal/adapter/repository"
	"pasargamex-realtime/internal/domain/entity"
	"pasargamex-realtime/pkg/errors"
)

func TestResolveIsSymmetricAndIdempotent(t *testing.T) {
	ctx := context.Background()
	resolver := NewConversationResolver(adapter.NewMemoryStore(), 3)

	ab, err := resolver.Resolve(ctx, "alice", "bob")
	require.NoError(t, err)
	ba, err := resolver.Resolve(ctx, "bob", "alice")
	require.NoError(t, err)
	again, err := resolver.Resolve(ctx, "alice", "bob")
	require.NoError(t, err)

	assert.Equal(t, ab.ID, ba.ID)
	assert.Equal(t, ab.ID, again.ID)
	assert.Equal(t, entity.ConversationIDFor("alice", "bob"), ab.ID)
	assert.Equal(t, "alice", ab.ParticipantA)
	assert.Equal(t, "bob", ab.ParticipantB)
}

func TestResolveConcurrentCallersShareOneConversation(t *testing.T) {
	ctx := context.Background()
	store := adapter.NewMemoryStore()
	resolver := NewConversationResolver(store, 3)

	const callers = 32
	ids := make([]string, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a, b := "x", "y"
			if i%2 == 1 {
				a, b = b, a
			}
			conv, err := resolver.Resolve(ctx, a, b)
			if assert.NoError(t, err) {
				ids[i] = conv.ID
			}
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
}

func TestResolveValidation(t *testing.T) {
	resolver := NewConversationResolver(adapter.NewMemoryStore(), 3)

	_, err := resolver.Resolve(context.Background(), "", "bob")
	assert.True(t, errors.Is(err, errors.CodeValidation))

	_, err = resolver.Resolve(context.Background(), "bob", " bob ")
	assert.True(t, errors.Is(err, errors.CodeValidation))
}

// racingRepo loses every insert to a writer it can never see.
type racingRepo struct {
	mu          sync.Mutex
	gets        int
	creates     int
	visibleFrom int
	winner      *entity.Conversation
}

func (r *racingRepo) Create(ctx context.Context, c *entity.Conversation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.creates++
	return errors.Conflict("Conversation already exists for this pair")
}

func (r *racingRepo) GetByID(ctx context.Context, id string) (*entity.Conversation, error) {
	return nil, errors.NotFound("Conversation", nil)
}

func (r *racingRepo) GetByParticipants(ctx context.Context, a, b string) (*entity.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gets++
	if r.visibleFrom > 0 && r.gets >= r.visibleFrom {
		return r.winner, nil
	}
	return nil, errors.NotFound("Conversation", nil)
}

func TestResolveLoserRereadsWinner(t *testing.T) {
	winner := &entity.Conversation{ID: "dm_winner", ParticipantA: "a", ParticipantB: "b"}
	repo := &racingRepo{visibleFrom: 2, winner: winner}

	conv, err := NewConversationResolver(repo, 3).Resolve(context.Background(), "b", "a")
	require.NoError(t, err)
	assert.Equal(t, "dm_winner", conv.ID)
	assert.Equal(t, 1, repo.creates)
}

func TestResolveRetryExhausted(t *testing.T) {
	repo := &racingRepo{}

	_, err := NewConversationResolver(repo, 3).Resolve(context.Background(), "a", "b")
	assert.True(t, errors.Is(err, errors.CodeConflictRetryExhausted), "got %v", err)
	assert.True(t, errors.Retryable(err))
	assert.Equal(t, 3, repo.creates)
}

func TestGetForParticipant(t *testing.T) {
	ctx := context.Background()
	resolver := NewConversationResolver(adapter.NewMemoryStore(), 3)
	conv, err := resolver.Resolve(ctx, "alice", "bob")
	require.NoError(t, err)

	_, err = resolver.GetForParticipant(ctx, conv.ID, "alice")
	assert.NoError(t, err)
	_, err = resolver.GetForParticipant(ctx, conv.ID, "mallory")
	assert.True(t, errors.Is(err, errors.CodeForbidden))
	_, err = resolver.GetForParticipant(ctx, "dm_missing", "alice")
	assert.True(t, errors.Is(err, errors.CodeNotFound))
}
