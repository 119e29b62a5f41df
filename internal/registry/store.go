package registry

import "context"

// Store is the transactional registry store of §4.S: CRUD over
// registrations, users, keys, peers, tombstones, plus the bbox index and the
// monotonic change log. Implementations must guarantee at-least-serializable
// per-record transactions, and atomicity of a record write with its
// change-log append.
type Store interface {
	Put(ctx context.Context, reg Registration) error
	Get(ctx context.Context, id string) (*Registration, error)
	Delete(ctx context.Context, id string) error
	GetByCanonical(ctx context.Context, key CanonicalKey) (*Registration, error)

	// QueryBbox returns candidate registrations overlapping the given box.
	// Implementations supporting Wraps split the query into two rectangles.
	QueryBbox(ctx context.Context, box BboxQuery) ([]Registration, error)

	// ListSnapshot returns up to limit registrations ordered by
	// (origin_server, origin_id), strictly after (afterOriginServer,
	// afterOriginID). Backs the full-snapshot sync endpoint of §4.F; an
	// empty afterOriginServer starts from the beginning.
	ListSnapshot(ctx context.Context, afterOriginServer, afterOriginID string, limit int) ([]Registration, error)

	AddTombstone(ctx context.Context, t Tombstone) error
	GetTombstone(ctx context.Context, key CanonicalKey) (*Tombstone, error)
	ListTombstones(ctx context.Context, sinceCursor string) ([]Tombstone, error)
	GCTombstones(ctx context.Context, olderThan int64) (int64, error)

	Users() UserStore
	Keys() KeyStore
	Peers() PeerStore
	Tokens() TokenStore

	// ChangeLog returns events strictly after sinceCursor, in cursor order.
	// An empty sinceCursor returns the full log from the oldest retained
	// entry. Returns apperr.CursorExpired if sinceCursor predates retention.
	ChangeLog(ctx context.Context, sinceCursor string, limit int) ([]ChangeEvent, error)

	// WithTx runs fn against a store bound to a single transaction; all
	// store calls made through the passed Store are part of that
	// transaction, atomically committed or rolled back with fn's error.
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error
}

// BboxQuery mirrors geometry.BoundingBox for the store query surface,
// kept independent so storage engines do not import the geometry package's
// richer Geometry type for a simple range scan.
type BboxQuery struct {
	MinLat, MaxLat, MinLon, MaxLon float64
	Wraps                          bool
}

// UserStore is CRUD for users, with uniqueness on ID (user@domain).
type UserStore interface {
	Put(ctx context.Context, u User) error
	Get(ctx context.Context, id string) (*User, error)
}

// KeyStore is CRUD for keys, transactionally unique on (Owner, KeyID).
type KeyStore interface {
	Put(ctx context.Context, k Key) error
	Get(ctx context.Context, owner, keyID string) (*Key, error)
	ListByOwner(ctx context.Context, owner string) ([]Key, error)
	Deprecate(ctx context.Context, owner, keyID string) error
}

// PeerStore is CRUD for peers.
type PeerStore interface {
	Put(ctx context.Context, p Peer) error
	Get(ctx context.Context, serverURL string) (*Peer, error)
	List(ctx context.Context) ([]Peer, error)
	Delete(ctx context.Context, serverURL string) error
}

// TokenStore is CRUD for bearer tokens; write on login, delete on logout,
// otherwise read-only in the hot path.
type TokenStore interface {
	Put(ctx context.Context, t Token) error
	Get(ctx context.Context, token string) (*Token, error)
	Delete(ctx context.Context, token string) error
}
