// Package postgres implements the registry.Store contract (§4.S) on top of
// PostgreSQL via pgx, including the bbox range index, antimeridian-aware
// two-rectangle query, and the monotonic change log backing sync.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mrs-federation/server/internal/apperr"
	"github.com/mrs-federation/server/internal/registry"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx, letting every
// method below run identically inside or outside a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements registry.Store against a pgxpool.Pool.
type Store struct {
	pool *pgxpool.Pool
	q    querier
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, q: pool}
}

func (s *Store) Put(ctx context.Context, reg registry.Registration) error {
	const stmt = `
INSERT INTO registrations
	(id, space, service_point, foad, owner, origin_server, origin_id, version,
	 created, updated, replicated_from, last_synced_at,
	 min_lat, max_lat, min_lon, max_lon, bbox_wraps)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
ON CONFLICT (id) DO UPDATE SET
	space = EXCLUDED.space, service_point = EXCLUDED.service_point, foad = EXCLUDED.foad,
	version = EXCLUDED.version, updated = EXCLUDED.updated,
	replicated_from = EXCLUDED.replicated_from, last_synced_at = EXCLUDED.last_synced_at,
	min_lat = EXCLUDED.min_lat, max_lat = EXCLUDED.max_lat,
	min_lon = EXCLUDED.min_lon, max_lon = EXCLUDED.max_lon, bbox_wraps = EXCLUDED.bbox_wraps`

	spaceJSON, err := encodeGeometry(reg.Space)
	if err != nil {
		return err
	}

	kind := "created"
	existing, err := s.Get(ctx, reg.ID)
	if err != nil {
		return err
	}
	if existing != nil {
		kind = "updated"
	}

	_, err = s.q.Exec(ctx, stmt,
		reg.ID, spaceJSON, reg.ServicePoint, reg.FOAD, reg.Owner, reg.OriginServer, reg.OriginID, reg.Version,
		reg.Created, reg.Updated, reg.ReplicatedFrom, reg.LastSyncedAt,
		reg.Bbox.MinLat, reg.Bbox.MaxLat, reg.Bbox.MinLon, reg.Bbox.MaxLon, reg.Bbox.Wraps,
	)
	if err != nil {
		return fmt.Errorf("put registration: %w", err)
	}

	return s.appendChangeLog(ctx, kind, reg.OriginServer, reg.OriginID, &reg, nil)
}

func (s *Store) Get(ctx context.Context, id string) (*registry.Registration, error) {
	row := s.q.QueryRow(ctx, registrationSelectSQL+` WHERE id = $1`, id)
	return scanRegistration(row)
}

func (s *Store) Delete(ctx context.Context, id string) error {
	_, err := s.q.Exec(ctx, `DELETE FROM registrations WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete registration: %w", err)
	}
	return nil
}

func (s *Store) GetByCanonical(ctx context.Context, key registry.CanonicalKey) (*registry.Registration, error) {
	row := s.q.QueryRow(ctx, registrationSelectSQL+` WHERE origin_server = $1 AND origin_id = $2`, key.OriginServer, key.OriginID)
	return scanRegistration(row)
}

// QueryBbox supports antimeridian-wrapping queries by issuing a second
// rectangle when box.Wraps is set, per §4.S.
func (s *Store) QueryBbox(ctx context.Context, box registry.BboxQuery) ([]registry.Registration, error) {
	if !box.Wraps {
		return s.queryRect(ctx, box.MinLat, box.MaxLat, box.MinLon, box.MaxLon)
	}
	east, err := s.queryRect(ctx, box.MinLat, box.MaxLat, box.MinLon, 180)
	if err != nil {
		return nil, err
	}
	west, err := s.queryRect(ctx, box.MinLat, box.MaxLat, -180, box.MaxLon)
	if err != nil {
		return nil, err
	}
	return append(east, west...), nil
}

func (s *Store) queryRect(ctx context.Context, minLat, maxLat, minLon, maxLon float64) ([]registry.Registration, error) {
	rows, err := s.q.Query(ctx, registrationSelectSQL+`
WHERE max_lat >= $1 AND min_lat <= $2 AND max_lon >= $3 AND min_lon <= $4`,
		minLat, maxLat, minLon, maxLon)
	if err != nil {
		return nil, fmt.Errorf("query bbox: %w", err)
	}
	defer rows.Close()

	var out []registry.Registration
	for rows.Next() {
		reg, err := scanRegistrationRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *reg)
	}
	return out, rows.Err()
}

// ListSnapshot implements registry.Store.ListSnapshot, ordering by
// (origin_server, origin_id) for stable keyset pagination.
func (s *Store) ListSnapshot(ctx context.Context, afterOriginServer, afterOriginID string, limit int) ([]registry.Registration, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.q.Query(ctx, registrationSelectSQL+`
WHERE (origin_server, origin_id) > ($1, $2)
ORDER BY origin_server, origin_id
LIMIT $3`, afterOriginServer, afterOriginID, limit)
	if err != nil {
		return nil, fmt.Errorf("list snapshot: %w", err)
	}
	defer rows.Close()

	var out []registry.Registration
	for rows.Next() {
		reg, err := scanRegistrationRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *reg)
	}
	return out, rows.Err()
}

func (s *Store) AddTombstone(ctx context.Context, t registry.Tombstone) error {
	_, err := s.q.Exec(ctx, `
INSERT INTO tombstones (origin_server, origin_id, version, deleted_at)
VALUES ($1,$2,$3,$4)
ON CONFLICT (origin_server, origin_id) DO UPDATE SET version = EXCLUDED.version, deleted_at = EXCLUDED.deleted_at
WHERE tombstones.version < EXCLUDED.version`,
		t.OriginServer, t.OriginID, t.Version, t.DeletedAt)
	if err != nil {
		return fmt.Errorf("add tombstone: %w", err)
	}
	return s.appendChangeLog(ctx, "deleted", t.OriginServer, t.OriginID, nil, &t)
}

func (s *Store) GetTombstone(ctx context.Context, key registry.CanonicalKey) (*registry.Tombstone, error) {
	row := s.q.QueryRow(ctx, `SELECT origin_server, origin_id, version, deleted_at FROM tombstones WHERE origin_server = $1 AND origin_id = $2`,
		key.OriginServer, key.OriginID)
	var t registry.Tombstone
	if err := row.Scan(&t.OriginServer, &t.OriginID, &t.Version, &t.DeletedAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get tombstone: %w", err)
	}
	return &t, nil
}

func (s *Store) ListTombstones(ctx context.Context, sinceCursor string) ([]registry.Tombstone, error) {
	seq, err := decodeCursor(sinceCursor)
	if err != nil {
		return nil, err
	}
	rows, err := s.q.Query(ctx, `
SELECT t.origin_server, t.origin_id, t.version, t.deleted_at
FROM tombstones t
JOIN change_log c ON c.origin_server = t.origin_server AND c.origin_id = t.origin_id AND c.kind = 'deleted'
WHERE c.seq > $1
ORDER BY c.seq`, seq)
	if err != nil {
		return nil, fmt.Errorf("list tombstones: %w", err)
	}
	defer rows.Close()

	var out []registry.Tombstone
	for rows.Next() {
		var t registry.Tombstone
		if err := rows.Scan(&t.OriginServer, &t.OriginID, &t.Version, &t.DeletedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// GCTombstones deletes tombstones past the retention window, plus change_log
// rows of any kind past the same cutoff. The two are pruned together: a
// peer whose last sync cursor points into the pruned range can no longer be
// served a contiguous delta stream, so ChangeLog reports CursorExpired for
// it and the caller must fall back to a full snapshot (§4.F).
func (s *Store) GCTombstones(ctx context.Context, olderThan int64) (int64, error) {
	tag, err := s.q.Exec(ctx, `DELETE FROM tombstones WHERE extract(epoch from deleted_at) < $1`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("gc tombstones: %w", err)
	}
	if _, err := s.q.Exec(ctx, `DELETE FROM change_log WHERE extract(epoch from created_at) < $1`, olderThan); err != nil {
		return 0, fmt.Errorf("gc change log: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *Store) Users() registry.UserStore   { return userStore{s.q} }
func (s *Store) Keys() registry.KeyStore     { return keyStore{s.q} }
func (s *Store) Peers() registry.PeerStore   { return peerStore{s.q} }
func (s *Store) Tokens() registry.TokenStore { return tokenStore{s.q} }

func (s *Store) ChangeLog(ctx context.Context, sinceCursor string, limit int) ([]registry.ChangeEvent, error) {
	seq, err := decodeCursor(sinceCursor)
	if err != nil {
		return nil, err
	}
	if sinceCursor != "" {
		var minSeq int64
		if err := s.q.QueryRow(ctx, `SELECT COALESCE(MIN(seq), 0) FROM change_log`).Scan(&minSeq); err != nil {
			return nil, fmt.Errorf("change log floor: %w", err)
		}
		if minSeq > seq+1 {
			return nil, apperr.New(apperr.CursorExpired, "cursor predates change log retention")
		}
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.q.Query(ctx, `
SELECT seq, kind, registration, tombstone FROM change_log
WHERE seq > $1 ORDER BY seq ASC LIMIT $2`, seq, limit)
	if err != nil {
		return nil, fmt.Errorf("change log query: %w", err)
	}
	defer rows.Close()

	var out []registry.ChangeEvent
	for rows.Next() {
		var (
			rowSeq    int64
			kind      string
			regJSON   []byte
			tombJSON  []byte
		)
		if err := rows.Scan(&rowSeq, &kind, &regJSON, &tombJSON); err != nil {
			return nil, err
		}
		ev := registry.ChangeEvent{Kind: registry.ChangeKind(kind), Cursor: encodeCursor(rowSeq)}
		if len(regJSON) > 0 {
			reg, err := decodeRegistrationJSON(regJSON)
			if err != nil {
				return nil, err
			}
			ev.Registration = reg
		}
		if len(tombJSON) > 0 {
			tomb, err := decodeTombstoneJSON(tombJSON)
			if err != nil {
				return nil, err
			}
			ev.Tombstone = tomb
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx registry.Store) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	txStore := &Store{pool: s.pool, q: tx}
	if err := fn(ctx, txStore); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *Store) appendChangeLog(ctx context.Context, kind, originServer, originID string, reg *registry.Registration, tomb *registry.Tombstone) error {
	var regJSON, tombJSON []byte
	var err error
	if reg != nil {
		regJSON, err = encodeRegistrationJSON(reg)
		if err != nil {
			return err
		}
	}
	if tomb != nil {
		tombJSON, err = encodeTombstoneJSON(tomb)
		if err != nil {
			return err
		}
	}
	_, err = s.q.Exec(ctx, `
INSERT INTO change_log (kind, origin_server, origin_id, registration, tombstone)
VALUES ($1,$2,$3,$4,$5)`, kind, originServer, originID, regJSON, tombJSON)
	if err != nil {
		return fmt.Errorf("append change log: %w", err)
	}
	return nil
}

func decodeCursor(cursor string) (int64, error) {
	if cursor == "" {
		return 0, nil
	}
	seq, err := parseCursorSeq(cursor)
	if err != nil {
		return 0, apperr.Wrap(apperr.CursorExpired, "malformed cursor", err)
	}
	return seq, nil
}
