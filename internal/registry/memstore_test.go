package registry

import (
	"context"
	"sort"
	"strconv"
	"sync"
)

// memStore is a minimal in-memory Store used to exercise Service in tests.
// It is not the production store (see internal/storage/postgres) but
// implements the same transactional contract for single-process tests.
type memStore struct {
	mu         sync.Mutex
	regs       map[string]Registration
	tombstones map[CanonicalKey]Tombstone
	users      map[string]User
	keys       map[string]Key
	peers      map[string]Peer
	tokens     map[string]Token
	changeLog  []ChangeEvent
	seq        int
}

func newMemStore() *memStore {
	return &memStore{
		regs:       map[string]Registration{},
		tombstones: map[CanonicalKey]Tombstone{},
		users:      map[string]User{},
		keys:       map[string]Key{},
		peers:      map[string]Peer{},
		tokens:     map[string]Token{},
	}
}

func (m *memStore) Put(ctx context.Context, reg Registration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kind := ChangeCreated
	if _, exists := m.regs[reg.ID]; exists {
		kind = ChangeUpdated
	}
	m.regs[reg.ID] = reg
	m.seq++
	r := reg
	m.changeLog = append(m.changeLog, ChangeEvent{Kind: kind, Registration: &r, Cursor: cursorFor(m.seq)})
	return nil
}

func (m *memStore) Get(ctx context.Context, id string) (*Registration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.regs[id]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (m *memStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.regs, id)
	return nil
}

func (m *memStore) GetByCanonical(ctx context.Context, key CanonicalKey) (*Registration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.regs {
		if r.Canonical() == key {
			return &r, nil
		}
	}
	return nil, nil
}

func (m *memStore) QueryBbox(ctx context.Context, box BboxQuery) ([]Registration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Registration
	for _, r := range m.regs {
		if overlaps(r.Bbox.MinLat, r.Bbox.MaxLat, box.MinLat, box.MaxLat) {
			out = append(out, r)
		}
	}
	return out, nil
}

func overlaps(aMin, aMax, bMin, bMax float64) bool {
	return aMin <= bMax && bMin <= aMax
}

func (m *memStore) ListSnapshot(ctx context.Context, afterOriginServer, afterOriginID string, limit int) ([]Registration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Registration
	for _, r := range m.regs {
		if r.OriginServer < afterOriginServer || (r.OriginServer == afterOriginServer && r.OriginID <= afterOriginID) {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].OriginServer != out[j].OriginServer {
			return out[i].OriginServer < out[j].OriginServer
		}
		return out[i].OriginID < out[j].OriginID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) AddTombstone(ctx context.Context, t Tombstone) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := CanonicalKey{OriginServer: t.OriginServer, OriginID: t.OriginID}
	m.tombstones[key] = t
	m.seq++
	m.changeLog = append(m.changeLog, ChangeEvent{Kind: ChangeDeleted, Tombstone: &t, Cursor: cursorFor(m.seq)})
	return nil
}

func (m *memStore) GetTombstone(ctx context.Context, key CanonicalKey) (*Tombstone, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.tombstones[key]; ok {
		return &t, nil
	}
	return nil, nil
}

func (m *memStore) ListTombstones(ctx context.Context, sinceCursor string) ([]Tombstone, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Tombstone
	for _, t := range m.tombstones {
		out = append(out, t)
	}
	return out, nil
}

func (m *memStore) GCTombstones(ctx context.Context, olderThan int64) (int64, error) {
	return 0, nil
}

func (m *memStore) Users() UserStore { return memUserStore{m} }
func (m *memStore) Keys() KeyStore   { return memKeyStore{m} }
func (m *memStore) Peers() PeerStore { return memPeerStore{m} }
func (m *memStore) Tokens() TokenStore { return memTokenStore{m} }

func (m *memStore) ChangeLog(ctx context.Context, sinceCursor string, limit int) ([]ChangeEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ChangeEvent
	started := sinceCursor == ""
	for _, e := range m.changeLog {
		if started {
			out = append(out, e)
		} else if e.Cursor == sinceCursor {
			started = true
		}
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (m *memStore) WithTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error {
	return fn(ctx, m)
}

func cursorFor(seq int) string {
	return "seq_" + strconv.Itoa(seq)
}

type memUserStore struct{ m *memStore }

func (s memUserStore) Put(ctx context.Context, u User) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	s.m.users[u.ID] = u
	return nil
}
func (s memUserStore) Get(ctx context.Context, id string) (*User, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if u, ok := s.m.users[id]; ok {
		return &u, nil
	}
	return nil, nil
}

type memKeyStore struct{ m *memStore }

func keyKey(owner, keyID string) string { return owner + "\x00" + keyID }

func (s memKeyStore) Put(ctx context.Context, k Key) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	s.m.keys[keyKey(k.Owner, k.KeyID)] = k
	return nil
}
func (s memKeyStore) Get(ctx context.Context, owner, keyID string) (*Key, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if k, ok := s.m.keys[keyKey(owner, keyID)]; ok {
		return &k, nil
	}
	return nil, nil
}
func (s memKeyStore) ListByOwner(ctx context.Context, owner string) ([]Key, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	var out []Key
	for _, k := range s.m.keys {
		if k.Owner == owner {
			out = append(out, k)
		}
	}
	return out, nil
}
func (s memKeyStore) Deprecate(ctx context.Context, owner, keyID string) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	k := s.m.keys[keyKey(owner, keyID)]
	k.Deprecated = true
	s.m.keys[keyKey(owner, keyID)] = k
	return nil
}

type memPeerStore struct{ m *memStore }

func (s memPeerStore) Put(ctx context.Context, p Peer) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	s.m.peers[p.ServerURL] = p
	return nil
}
func (s memPeerStore) Get(ctx context.Context, serverURL string) (*Peer, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if p, ok := s.m.peers[serverURL]; ok {
		return &p, nil
	}
	return nil, nil
}
func (s memPeerStore) List(ctx context.Context) ([]Peer, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	var out []Peer
	for _, p := range s.m.peers {
		out = append(out, p)
	}
	return out, nil
}
func (s memPeerStore) Delete(ctx context.Context, serverURL string) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	delete(s.m.peers, serverURL)
	return nil
}

type memTokenStore struct{ m *memStore }

func (s memTokenStore) Put(ctx context.Context, t Token) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	s.m.tokens[t.Token] = t
	return nil
}
func (s memTokenStore) Get(ctx context.Context, token string) (*Token, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if t, ok := s.m.tokens[token]; ok {
		return &t, nil
	}
	return nil, nil
}
func (s memTokenStore) Delete(ctx context.Context, token string) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	delete(s.m.tokens, token)
	return nil
}
