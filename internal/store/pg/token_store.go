// Package pg backs internal/syncengine's TokenStore with Postgres, the way
// the teacher's store/pg package backs its job stores: plain
// database/sql, driven over the pgx/v5 stdlib driver.
package pg

import (
	"context"
	"database/sql"
	"errors"
)

// TokenStore persists the sync since-token and cached filter ids in a
// single-row-per-key table. Schema:
//
//	CREATE TABLE sync_tokens (
//	    key   TEXT PRIMARY KEY,
//	    value TEXT NOT NULL
//	);
type TokenStore struct {
	db *sql.DB
}

const syncTokenKey = "sync_token"

// NewTokenStore wraps an already-opened *sql.DB (opened with the pgx/v5
// stdlib driver, e.g. sql.Open("pgx", dsn)).
func NewTokenStore(db *sql.DB) *TokenStore {
	return &TokenStore{db: db}
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

func filterKey(name string) string { return "filter:" + name }

func (s *TokenStore) get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM sync_tokens WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

func (s *TokenStore) set(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_tokens (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value
	`, key, value)
	return err
}
