package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/mrs-federation/server/internal/registry"
)

type userStore struct{ q querier }

func (s userStore) Put(ctx context.Context, u registry.User) error {
	_, err := s.q.Exec(ctx, `
INSERT INTO users (id, password_hash, is_local, created)
VALUES ($1,$2,$3,$4)
ON CONFLICT (id) DO UPDATE SET password_hash = EXCLUDED.password_hash, is_local = EXCLUDED.is_local`,
		u.ID, u.PasswordHash, u.IsLocal, u.Created)
	if err != nil {
		return fmt.Errorf("put user: %w", err)
	}
	return nil
}

func (s userStore) Get(ctx context.Context, id string) (*registry.User, error) {
	row := s.q.QueryRow(ctx, `SELECT id, password_hash, is_local, created FROM users WHERE id = $1`, id)
	var u registry.User
	if err := row.Scan(&u.ID, &u.PasswordHash, &u.IsLocal, &u.Created); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}
