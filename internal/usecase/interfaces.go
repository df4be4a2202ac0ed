package usecase

import (
	"context"

	"pasargamex-realtime/internal/domain/entity"
)

// TokenVerifier resolves a bearer token to a user id.
type TokenVerifier interface {
	VerifyToken(ctx context.Context, token string) (string, error)
}

// Publisher carries push hints to live subscribers.
type Publisher interface {
	Publish(ctx context.Context, scope entity.Scope, change entity.Change) error
}
