package handlers

import (
	"context"
	"sort"
	"sync"

	"github.com/mrs-federation/server/internal/registry"
)

// fakeStore is a minimal in-memory registry.Store for handler tests. It is
// not meant to exercise the full transactional contract (see
// internal/registry's own in-memory fixture for that); it exists only to
// let handler tests drive real registry.Service/federation.Service/auth
// collaborators without a Postgres dependency.
type fakeStore struct {
	mu     sync.Mutex
	regs   map[string]registry.Registration
	tombs  map[registry.CanonicalKey]registry.Tombstone
	users  map[string]registry.User
	keys   map[string]registry.Key // keyed by owner+"/"+keyID
	peers  map[string]registry.Peer
	tokens map[string]registry.Token
	log    []registry.ChangeEvent
	seq    int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		regs:   map[string]registry.Registration{},
		tombs:  map[registry.CanonicalKey]registry.Tombstone{},
		users:  map[string]registry.User{},
		keys:   map[string]registry.Key{},
		peers:  map[string]registry.Peer{},
		tokens: map[string]registry.Token{},
	}
}

func (f *fakeStore) Put(ctx context.Context, reg registry.Registration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.regs[reg.ID] = reg
	f.seq++
	f.log = append(f.log, registry.ChangeEvent{Kind: registry.ChangeCreated, Registration: &reg, Cursor: cursorFor(f.seq)})
	return nil
}

func (f *fakeStore) Get(ctx context.Context, id string) (*registry.Registration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	reg, ok := f.regs[id]
	if !ok {
		return nil, nil
	}
	return &reg, nil
}

func (f *fakeStore) Delete(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.regs, id)
	return nil
}

func (f *fakeStore) GetByCanonical(ctx context.Context, key registry.CanonicalKey) (*registry.Registration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, reg := range f.regs {
		if reg.Canonical() == key {
			return &reg, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) QueryBbox(ctx context.Context, box registry.BboxQuery) ([]registry.Registration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []registry.Registration
	for _, reg := range f.regs {
		b := reg.Bbox
		if b.MinLat <= box.MaxLat && b.MaxLat >= box.MinLat && b.MinLon <= box.MaxLon && b.MaxLon >= box.MinLon {
			out = append(out, reg)
		}
	}
	return out, nil
}

func (f *fakeStore) ListSnapshot(ctx context.Context, afterOriginServer, afterOriginID string, limit int) ([]registry.Registration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var all []registry.Registration
	for _, reg := range f.regs {
		all = append(all, reg)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].OriginServer != all[j].OriginServer {
			return all[i].OriginServer < all[j].OriginServer
		}
		return all[i].OriginID < all[j].OriginID
	})
	var out []registry.Registration
	for _, reg := range all {
		if reg.OriginServer < afterOriginServer || (reg.OriginServer == afterOriginServer && reg.OriginID <= afterOriginID) {
			continue
		}
		out = append(out, reg)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (f *fakeStore) AddTombstone(ctx context.Context, t registry.Tombstone) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := registry.CanonicalKey{OriginServer: t.OriginServer, OriginID: t.OriginID}
	f.tombs[key] = t
	f.seq++
	f.log = append(f.log, registry.ChangeEvent{Kind: registry.ChangeDeleted, Tombstone: &t, Cursor: cursorFor(f.seq)})
	return nil
}

func (f *fakeStore) GetTombstone(ctx context.Context, key registry.CanonicalKey) (*registry.Tombstone, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tombs[key]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (f *fakeStore) ListTombstones(ctx context.Context, sinceCursor string) ([]registry.Tombstone, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []registry.Tombstone
	for _, t := range f.tombs {
		out = append(out, t)
	}
	return out, nil
}

func (f *fakeStore) GCTombstones(ctx context.Context, olderThan int64) (int64, error) {
	return 0, nil
}

func (f *fakeStore) Users() registry.UserStore   { return fakeUserStore{f} }
func (f *fakeStore) Keys() registry.KeyStore     { return fakeKeyStore{f} }
func (f *fakeStore) Peers() registry.PeerStore   { return fakePeerStore{f} }
func (f *fakeStore) Tokens() registry.TokenStore { return fakeTokenStore{f} }

func (f *fakeStore) ChangeLog(ctx context.Context, sinceCursor string, limit int) ([]registry.ChangeEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []registry.ChangeEvent
	for _, ev := range f.log {
		if ev.Cursor <= sinceCursor {
			continue
		}
		out = append(out, ev)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (f *fakeStore) WithTx(ctx context.Context, fn func(ctx context.Context, tx registry.Store) error) error {
	return fn(ctx, f)
}

func cursorFor(seq int) string {
	const digits = "0123456789"
	s := ""
	n := seq
	if n == 0 {
		return "0"
	}
	for n > 0 {
		s = string(digits[n%10]) + s
		n /= 10
	}
	return s
}

type fakeUserStore struct{ f *fakeStore }

func (s fakeUserStore) Put(ctx context.Context, u registry.User) error {
	s.f.mu.Lock()
	defer s.f.mu.Unlock()
	s.f.users[u.ID] = u
	return nil
}

func (s fakeUserStore) Get(ctx context.Context, id string) (*registry.User, error) {
	s.f.mu.Lock()
	defer s.f.mu.Unlock()
	u, ok := s.f.users[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

type fakeKeyStore struct{ f *fakeStore }

func (s fakeKeyStore) Put(ctx context.Context, k registry.Key) error {
	s.f.mu.Lock()
	defer s.f.mu.Unlock()
	s.f.keys[k.Owner+"/"+k.KeyID] = k
	return nil
}

func (s fakeKeyStore) Get(ctx context.Context, owner, keyID string) (*registry.Key, error) {
	s.f.mu.Lock()
	defer s.f.mu.Unlock()
	k, ok := s.f.keys[owner+"/"+keyID]
	if !ok {
		return nil, nil
	}
	return &k, nil
}

func (s fakeKeyStore) ListByOwner(ctx context.Context, owner string) ([]registry.Key, error) {
	s.f.mu.Lock()
	defer s.f.mu.Unlock()
	var out []registry.Key
	for _, k := range s.f.keys {
		if k.Owner == owner {
			out = append(out, k)
		}
	}
	return out, nil
}

func (s fakeKeyStore) Deprecate(ctx context.Context, owner, keyID string) error {
	s.f.mu.Lock()
	defer s.f.mu.Unlock()
	k, ok := s.f.keys[owner+"/"+keyID]
	if !ok {
		return nil
	}
	k.Deprecated = true
	s.f.keys[owner+"/"+keyID] = k
	return nil
}

type fakePeerStore struct{ f *fakeStore }

func (s fakePeerStore) Put(ctx context.Context, p registry.Peer) error {
	s.f.mu.Lock()
	defer s.f.mu.Unlock()
	s.f.peers[p.ServerURL] = p
	return nil
}

func (s fakePeerStore) Get(ctx context.Context, serverURL string) (*registry.Peer, error) {
	s.f.mu.Lock()
	defer s.f.mu.Unlock()
	p, ok := s.f.peers[serverURL]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (s fakePeerStore) List(ctx context.Context) ([]registry.Peer, error) {
	s.f.mu.Lock()
	defer s.f.mu.Unlock()
	var out []registry.Peer
	for _, p := range s.f.peers {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ServerURL < out[j].ServerURL })
	return out, nil
}

func (s fakePeerStore) Delete(ctx context.Context, serverURL string) error {
	s.f.mu.Lock()
	defer s.f.mu.Unlock()
	delete(s.f.peers, serverURL)
	return nil
}

type fakeTokenStore struct{ f *fakeStore }

func (s fakeTokenStore) Put(ctx context.Context, t registry.Token) error {
	s.f.mu.Lock()
	defer s.f.mu.Unlock()
	s.f.tokens[t.Token] = t
	return nil
}

func (s fakeTokenStore) Get(ctx context.Context, token string) (*registry.Token, error) {
	s.f.mu.Lock()
	defer s.f.mu.Unlock()
	t, ok := s.f.tokens[token]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (s fakeTokenStore) Delete(ctx context.Context, token string) error {
	s.f.mu.Lock()
	defer s.f.mu.Unlock()
	delete(s.f.tokens, token)
	return nil
}
