package postgres

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/mrs-federation/server/internal/geometry"
	"github.com/mrs-federation/server/internal/registry"
)

const registrationSelectSQL = `
SELECT id, space, service_point, foad, owner, origin_server, origin_id, version,
       created, updated, replicated_from, last_synced_at,
       min_lat, max_lat, min_lon, max_lon, bbox_wraps
FROM registrations`

// rowScanner abstracts over pgx.Row and pgx.Rows, both of which expose Scan.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRegistration(row pgx.Row) (*registry.Registration, error) {
	reg, err := scanRegistrationRow(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return reg, err
}

func scanRegistrationRows(rows pgx.Rows) (*registry.Registration, error) {
	return scanRegistrationRow(rows)
}

func scanRegistrationRow(row rowScanner) (*registry.Registration, error) {
	var (
		reg            registry.Registration
		spaceJSON      []byte
		replicatedFrom *string
	)
	err := row.Scan(
		&reg.ID, &spaceJSON, &reg.ServicePoint, &reg.FOAD, &reg.Owner, &reg.OriginServer, &reg.OriginID, &reg.Version,
		&reg.Created, &reg.Updated, &replicatedFrom, &reg.LastSyncedAt,
		&reg.Bbox.MinLat, &reg.Bbox.MaxLat, &reg.Bbox.MinLon, &reg.Bbox.MaxLon, &reg.Bbox.Wraps,
	)
	if err != nil {
		return nil, fmt.Errorf("scan registration: %w", err)
	}
	reg.ReplicatedFrom = derefString(replicatedFrom)
	space, err := decodeGeometry(spaceJSON)
	if err != nil {
		return nil, err
	}
	reg.Space = space
	return &reg, nil
}

// wireGeometry is the JSON-on-the-wire shape for a geometry.Geometry, since
// Sphere/Polygon are unexported-pointer fields not directly json-friendly
// across the nil/non-nil boundary in storage.
type wireGeometry struct {
	Type    string              `json:"type"`
	Sphere  *geometry.Sphere    `json:"sphere,omitempty"`
	Polygon *geometry.Polygon   `json:"polygon,omitempty"`
}

func encodeGeometry(g geometry.Geometry) ([]byte, error) {
	w := wireGeometry{Type: string(g.Kind), Sphere: g.Sphere, Polygon: g.Polygon}
	b, err := json.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("encode geometry: %w", err)
	}
	return b, nil
}

func decodeGeometry(raw []byte) (geometry.Geometry, error) {
	var w wireGeometry
	if err := json.Unmarshal(raw, &w); err != nil {
		return geometry.Geometry{}, fmt.Errorf("decode geometry: %w", err)
	}
	return geometry.Geometry{Kind: geometry.Kind(w.Type), Sphere: w.Sphere, Polygon: w.Polygon}, nil
}

func encodeRegistrationJSON(reg *registry.Registration) ([]byte, error) {
	spaceJSON, err := encodeGeometry(reg.Space)
	if err != nil {
		return nil, err
	}
	type wire struct {
		ID             string          `json:"id"`
		Space          json.RawMessage `json:"space"`
		ServicePoint   string          `json:"service_point"`
		FOAD           bool            `json:"foad"`
		Owner          string          `json:"owner"`
		OriginServer   string          `json:"origin_server"`
		OriginID       string          `json:"origin_id"`
		Version        int64           `json:"version"`
		ReplicatedFrom string          `json:"replicated_from"`
	}
	return json.Marshal(wire{
		ID: reg.ID, Space: spaceJSON, ServicePoint: reg.ServicePoint, FOAD: reg.FOAD,
		Owner: reg.Owner, OriginServer: reg.OriginServer, OriginID: reg.OriginID,
		Version: reg.Version, ReplicatedFrom: reg.ReplicatedFrom,
	})
}

func decodeRegistrationJSON(raw []byte) (*registry.Registration, error) {
	type wire struct {
		ID             string          `json:"id"`
		Space          json.RawMessage `json:"space"`
		ServicePoint   string          `json:"service_point"`
		FOAD           bool            `json:"foad"`
		Owner          string          `json:"owner"`
		OriginServer   string          `json:"origin_server"`
		OriginID       string          `json:"origin_id"`
		Version        int64           `json:"version"`
		ReplicatedFrom string          `json:"replicated_from"`
	}
	var w wire
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("decode registration change-log entry: %w", err)
	}
	space, err := decodeGeometry(w.Space)
	if err != nil {
		return nil, err
	}
	return &registry.Registration{
		ID: w.ID, Space: space, ServicePoint: w.ServicePoint, FOAD: w.FOAD,
		Owner: w.Owner, OriginServer: w.OriginServer, OriginID: w.OriginID,
		Version: w.Version, ReplicatedFrom: w.ReplicatedFrom,
	}, nil
}

func encodeTombstoneJSON(t *registry.Tombstone) ([]byte, error) {
	return json.Marshal(t)
}

func decodeTombstoneJSON(raw []byte) (*registry.Tombstone, error) {
	var t registry.Tombstone
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, fmt.Errorf("decode tombstone change-log entry: %w", err)
	}
	return &t, nil
}
