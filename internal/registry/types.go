// Package registry implements the spatial registry data model and the
// Register/Release/Search orchestration of the MRS Registry service (§4.R).
package registry

import (
	"time"

	"github.com/mrs-federation/server/internal/geometry"
)

// Registration binds a space to a service point, per §3.
type Registration struct {
	ID             string               `json:"id"`
	Space          geometry.Geometry    `json:"space"`
	ServicePoint   string               `json:"service_point,omitempty"` // absent (empty) iff FOAD
	FOAD           bool                 `json:"foad"`
	Owner          string               `json:"owner"` // identity string, user@domain
	OriginServer   string               `json:"origin_server"`
	OriginID       string               `json:"origin_id"`
	Version        int64                `json:"version"`
	Created        time.Time            `json:"created"`
	Updated        time.Time            `json:"updated"`
	ReplicatedFrom string               `json:"replicated_from,omitempty"` // empty if locally originated
	LastSyncedAt   *time.Time           `json:"last_synced_at,omitempty"`
	Bbox           geometry.BoundingBox `json:"-"`
}

// IsOrigin reports whether this record is locally-originated on serverURL.
func (r Registration) IsOrigin(serverURL string) bool {
	return r.OriginServer == serverURL
}

// CanonicalKey is the (origin_server, origin_id) pair identifying a record
// across replicas, per the canonical identity rule.
type CanonicalKey struct {
	OriginServer string
	OriginID     string
}

func (r Registration) Canonical() CanonicalKey {
	return CanonicalKey{OriginServer: r.OriginServer, OriginID: r.OriginID}
}

// Tombstone is a delete marker retained for the retention window, applied to
// replicas and emitted by delta sync.
type Tombstone struct {
	OriginServer string    `json:"origin_server"`
	OriginID     string    `json:"origin_id"`
	Version      int64     `json:"version"`
	DeletedAt    time.Time `json:"deleted_at"`
}

// User is a local or shell (non-local) identity.
type User struct {
	ID           string    `json:"id"` // user@domain
	PasswordHash string    `json:"-"`  // never serialized to the wire
	IsLocal      bool      `json:"is_local"`
	Created      time.Time `json:"created"`
}

// KeyAlgorithm enumerates supported signing algorithms.
type KeyAlgorithm string

const (
	AlgEd25519  KeyAlgorithm = "ed25519"
	AlgRSAPSS   KeyAlgorithm = "rsa-pss"
	AlgECDSAP256 KeyAlgorithm = "ecdsa-p256"
	AlgECDSAP384 KeyAlgorithm = "ecdsa-p384"
)

// ServerIdentity is the reserved owner value for a server's own signing key.
const ServerIdentity = "_server"

// Key is a signing keypair, owned either by a user identity or "_server".
type Key struct {
	ID         string       `json:"id"`
	Owner      string       `json:"owner"`
	KeyID      string       `json:"key_id"`
	Algorithm  KeyAlgorithm `json:"algorithm"`
	PublicKey  []byte       `json:"public_key"`
	PrivateKey []byte       `json:"-"` // absent for remote/cached keys, never serialized
	Created    time.Time    `json:"created"`
	Expires    *time.Time   `json:"expires,omitempty"`
	Deprecated bool         `json:"deprecated"`
}

// Token is an opaque bearer token bound to a user.
type Token struct {
	Token   string     `json:"-"` // bearer secret, never serialized
	UserID  string     `json:"user_id"`
	Created time.Time  `json:"created"`
	Expires *time.Time `json:"expires,omitempty"`
}

// Peer is a federation peer server, per §3.
type Peer struct {
	ServerURL            string              `json:"server_url"`
	Hint                 string              `json:"hint,omitempty"`
	LastSeen             *time.Time          `json:"last_seen,omitempty"`
	IsConfigured         bool                `json:"is_configured"`
	AuthoritativeRegions []geometry.Geometry `json:"authoritative_regions,omitempty"`
	SyncCursor           string              `json:"-"` // internal ingest cursor, never serialized
}

// ChangeKind discriminates change-log / sync-delta events.
type ChangeKind string

const (
	ChangeCreated ChangeKind = "created"
	ChangeUpdated ChangeKind = "updated"
	ChangeDeleted ChangeKind = "deleted"
)

// ChangeEvent is one entry in the monotonic change log, or one event in the
// /sync/changes delta stream.
type ChangeEvent struct {
	Kind         ChangeKind    `json:"kind"`
	Registration *Registration `json:"registration,omitempty"` // populated for created/updated
	Tombstone    *Tombstone    `json:"tombstone,omitempty"`     // populated for deleted
	Cursor       string        `json:"cursor"`
}
