// Package rediskv backs internal/syncengine's TokenStore with Redis, for
// deployments that already run Redis for other caches and would rather not
// stand up Postgres just to persist one since-token.
package rediskv

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
)

const syncTokenKey = "matrixclaw:sync_token"

// TokenStore persists the sync since-token and cached filter ids as plain
// string keys, namespaced under "matrixclaw:".
type TokenStore struct {
	rdb *redis.Client
}

// NewTokenStore wraps an already-configured *redis.Client.
func NewTokenStore(rdb *redis.Client) *TokenStore {
	return &TokenStore{rdb: rdb}
}

func (s *TokenStore) GetSyncToken(ctx context.Context) (string, bool, error) {
	return s.get(ctx, syncTokenKey)
}

func (s *TokenStore) SetSyncToken(ctx context.Context, token string) error {
	return s.set(ctx, syncTokenKey, token)
}

func (s *TokenStore) GetFilterID(ctx context.Context, name string) (string, bool, error) {
	return s.get(ctx, filterKey(name))
}

func (s *TokenStore) SetFilterID(ctx context.Context, name, id string) error {
	return s.set(ctx, filterKey(name), id)
}

func filterKey(name string) string { return "matrixclaw:filter:" + name }

func (s *TokenStore) get(ctx context.Context, key string) (string, bool, error) {
	val, err := s.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

func (s *TokenStore) set(ctx context.Context, key, value string) error {
	return s.rdb.Set(ctx, key, value, 0).Err()
}
