package repository

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"

	"pasargamex-realtime/internal/domain/repository"
	"pasargamex-realtime/internal/infrastructure/database"
)

type StoreOptions struct {
	Backend     string
	DatabaseURL string
	// Firestore is required for the firestore backend and owned by the
	// returned store afterwards.
	Firestore *firestore.Client
}

func BuildStore(ctx context.Context, opts StoreOptions) (repository.Store, error) {
	switch opts.Backend {
	case "", "memory":
		return NewMemoryStore(), nil
	case "firestore":
		if opts.Firestore == nil {
			return nil, fmt.Errorf("store: firestore backend needs a client")
		}
		return NewFirestoreStore(opts.Firestore), nil
	case "postgres":
		pool, err := database.Connect(ctx, opts.DatabaseURL)
		if err != nil {
			return nil, err
		}
		store := NewPostgresStore(pool)
		if err := store.Migrate(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("store: unknown backend %q", opts.Backend)
	}
}
