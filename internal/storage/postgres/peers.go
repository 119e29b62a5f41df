package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/mrs-federation/server/internal/geometry"
	"github.com/mrs-federation/server/internal/registry"
)

type peerStore struct{ q querier }

func (s peerStore) Put(ctx context.Context, p registry.Peer) error {
	regionsJSON, err := encodeRegions(p.AuthoritativeRegions)
	if err != nil {
		return err
	}
	_, err = s.q.Exec(ctx, `
INSERT INTO peers (server_url, hint, last_seen, is_configured, authoritative_regions, sync_cursor)
VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (server_url) DO UPDATE SET
	hint = EXCLUDED.hint, last_seen = EXCLUDED.last_seen, is_configured = EXCLUDED.is_configured,
	authoritative_regions = EXCLUDED.authoritative_regions, sync_cursor = EXCLUDED.sync_cursor`,
		p.ServerURL, p.Hint, p.LastSeen, p.IsConfigured, regionsJSON, p.SyncCursor)
	if err != nil {
		return fmt.Errorf("put peer: %w", err)
	}
	return nil
}

func (s peerStore) Get(ctx context.Context, serverURL string) (*registry.Peer, error) {
	row := s.q.QueryRow(ctx, `
SELECT server_url, hint, last_seen, is_configured, authoritative_regions, sync_cursor
FROM peers WHERE server_url = $1`, serverURL)
	return scanPeer(row)
}

func (s peerStore) List(ctx context.Context) ([]registry.Peer, error) {
	rows, err := s.q.Query(ctx, `SELECT server_url, hint, last_seen, is_configured, authoritative_regions, sync_cursor FROM peers`)
	if err != nil {
		return nil, fmt.Errorf("list peers: %w", err)
	}
	defer rows.Close()

	var out []registry.Peer
	for rows.Next() {
		p, err := scanPeer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func (s peerStore) Delete(ctx context.Context, serverURL string) error {
	_, err := s.q.Exec(ctx, `DELETE FROM peers WHERE server_url = $1`, serverURL)
	if err != nil {
		return fmt.Errorf("delete peer: %w", err)
	}
	return nil
}

func scanPeer(row rowScanner) (*registry.Peer, error) {
	var (
		p           registry.Peer
		regionsJSON []byte
	)
	err := row.Scan(&p.ServerURL, &p.Hint, &p.LastSeen, &p.IsConfigured, &regionsJSON, &p.SyncCursor)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("scan peer: %w", err)
	}
	regions, err := decodeRegions(regionsJSON)
	if err != nil {
		return nil, err
	}
	p.AuthoritativeRegions = regions
	return &p, nil
}

func encodeRegions(regions []geometry.Geometry) ([]byte, error) {
	wires := make([]wireGeometry, len(regions))
	for i, g := range regions {
		wires[i] = wireGeometry{Type: string(g.Kind), Sphere: g.Sphere, Polygon: g.Polygon}
	}
	b, err := json.Marshal(wires)
	if err != nil {
		return nil, fmt.Errorf("encode authoritative regions: %w", err)
	}
	return b, nil
}

func decodeRegions(raw []byte) ([]geometry.Geometry, error) {
	var wires []wireGeometry
	if len(raw) == 0 {
		return nil, nil
	}
	if err := json.Unmarshal(raw, &wires); err != nil {
		return nil, fmt.Errorf("decode authoritative regions: %w", err)
	}
	out := make([]geometry.Geometry, len(wires))
	for i, w := range wires {
		out[i] = geometry.Geometry{Kind: geometry.Kind(w.Type), Sphere: w.Sphere, Polygon: w.Polygon}
	}
	return out, nil
}
