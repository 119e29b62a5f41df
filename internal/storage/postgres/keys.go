package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/mrs-federation/server/internal/registry"
)

type keyStore struct{ q querier }

func (s keyStore) Put(ctx context.Context, k registry.Key) error {
	_, err := s.q.Exec(ctx, `
INSERT INTO keys (id, owner, key_id, algorithm, public_key, private_key, created, expires, deprecated)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
ON CONFLICT (owner, key_id) DO UPDATE SET
	algorithm = EXCLUDED.algorithm, public_key = EXCLUDED.public_key, private_key = EXCLUDED.private_key,
	expires = EXCLUDED.expires, deprecated = EXCLUDED.deprecated`,
		k.ID, k.Owner, k.KeyID, string(k.Algorithm), k.PublicKey, k.PrivateKey, k.Created, k.Expires, k.Deprecated)
	if err != nil {
		return fmt.Errorf("put key: %w", err)
	}
	return nil
}

func (s keyStore) Get(ctx context.Context, owner, keyID string) (*registry.Key, error) {
	row := s.q.QueryRow(ctx, `
SELECT id, owner, key_id, algorithm, public_key, private_key, created, expires, deprecated
FROM keys WHERE owner = $1 AND key_id = $2`, owner, keyID)
	return scanKey(row)
}

func (s keyStore) ListByOwner(ctx context.Context, owner string) ([]registry.Key, error) {
	rows, err := s.q.Query(ctx, `
SELECT id, owner, key_id, algorithm, public_key, private_key, created, expires, deprecated
FROM keys WHERE owner = $1`, owner)
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	defer rows.Close()

	var out []registry.Key
	for rows.Next() {
		k, err := scanKey(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *k)
	}
	return out, rows.Err()
}

func (s keyStore) Deprecate(ctx context.Context, owner, keyID string) error {
	_, err := s.q.Exec(ctx, `UPDATE keys SET deprecated = TRUE WHERE owner = $1 AND key_id = $2`, owner, keyID)
	if err != nil {
		return fmt.Errorf("deprecate key: %w", err)
	}
	return nil
}

func scanKey(row rowScanner) (*registry.Key, error) {
	var (
		k   registry.Key
		alg string
	)
	err := row.Scan(&k.ID, &k.Owner, &k.KeyID, &alg, &k.PublicKey, &k.PrivateKey, &k.Created, &k.Expires, &k.Deprecated)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("scan key: %w", err)
	}
	k.Algorithm = registry.KeyAlgorithm(alg)
	return &k, nil
}
