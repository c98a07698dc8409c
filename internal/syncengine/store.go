package syncengine

import "context"

// TokenStore persists the two small pieces of state a sync engine needs to
// survive a restart: the last since-token and the cached sync filter id.
// Implemented by internal/store (in-memory) and internal/store/pg
// (pgx-backed) for production use.
type TokenStore interface {
	GetSyncToken(ctx context.Context) (token string, ok bool, err error)
	SetSyncToken(ctx context.Context, token string) error
	GetFilterID(ctx context.Context, name string) (id string, ok bool, err error)
	SetFilterID(ctx context.Context, name, id string) error
}
