package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/mrs-federation/server/internal/registry"
)

type tokenStore struct{ q querier }

func (s tokenStore) Put(ctx context.Context, t registry.Token) error {
	_, err := s.q.Exec(ctx, `
INSERT INTO tokens (token, user_id, created, expires)
VALUES ($1,$2,$3,$4)
ON CONFLICT (token) DO UPDATE SET user_id = EXCLUDED.user_id, expires = EXCLUDED.expires`,
		t.Token, t.UserID, t.Created, t.Expires)
	if err != nil {
		return fmt.Errorf("put token: %w", err)
	}
	return nil
}

func (s tokenStore) Get(ctx context.Context, token string) (*registry.Token, error) {
	row := s.q.QueryRow(ctx, `SELECT token, user_id, created, expires FROM tokens WHERE token = $1`, token)
	var t registry.Token
	if err := row.Scan(&t.Token, &t.UserID, &t.Created, &t.Expires); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get token: %w", err)
	}
	return &t, nil
}

func (s tokenStore) Delete(ctx context.Context, token string) error {
	_, err := s.q.Exec(ctx, `DELETE FROM tokens WHERE token = $1`, token)
	if err != nil {
		return fmt.Errorf("delete token: %w", err)
	}
	return nil
}
