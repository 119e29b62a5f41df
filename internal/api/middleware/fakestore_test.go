package middleware

import (
	"context"
	"sync"

	"github.com/mrs-federation/server/internal/registry"
)

// fakeStore is a minimal in-memory registry.Store, just enough to drive
// auth.Authenticator's bearer-token path in this package's tests.
type fakeStore struct {
	mu     sync.Mutex
	tokens map[string]registry.Token
	peers  map[string]registry.Peer
}

func newFakeStore() *fakeStore {
	return &fakeStore{tokens: map[string]registry.Token{}, peers: map[string]registry.Peer{}}
}

func (f *fakeStore) Put(ctx context.Context, reg registry.Registration) error { return nil }
func (f *fakeStore) Get(ctx context.Context, id string) (*registry.Registration, error) {
	return nil, nil
}
func (f *fakeStore) Delete(ctx context.Context, id string) error { return nil }
func (f *fakeStore) GetByCanonical(ctx context.Context, key registry.CanonicalKey) (*registry.Registration, error) {
	return nil, nil
}
func (f *fakeStore) QueryBbox(ctx context.Context, box registry.BboxQuery) ([]registry.Registration, error) {
	return nil, nil
}
func (f *fakeStore) ListSnapshot(ctx context.Context, afterOriginServer, afterOriginID string, limit int) ([]registry.Registration, error) {
	return nil, nil
}
func (f *fakeStore) AddTombstone(ctx context.Context, t registry.Tombstone) error { return nil }
func (f *fakeStore) GetTombstone(ctx context.Context, key registry.CanonicalKey) (*registry.Tombstone, error) {
	return nil, nil
}
func (f *fakeStore) ListTombstones(ctx context.Context, sinceCursor string) ([]registry.Tombstone, error) {
	return nil, nil
}
func (f *fakeStore) GCTombstones(ctx context.Context, olderThan int64) (int64, error) { return 0, nil }
func (f *fakeStore) Users() registry.UserStore                                        { return fakeUserStore{} }
func (f *fakeStore) Keys() registry.KeyStore                                          { return fakeKeyStore{} }
func (f *fakeStore) Peers() registry.PeerStore                                        { return fakePeerStore{f} }
func (f *fakeStore) Tokens() registry.TokenStore                                      { return fakeTokenStore{f} }
func (f *fakeStore) ChangeLog(ctx context.Context, sinceCursor string, limit int) ([]registry.ChangeEvent, error) {
	return nil, nil
}
func (f *fakeStore) WithTx(ctx context.Context, fn func(ctx context.Context, tx registry.Store) error) error {
	return fn(ctx, f)
}

type fakeUserStore struct{}

func (fakeUserStore) Put(ctx context.Context, u registry.User) error { return nil }
func (fakeUserStore) Get(ctx context.Context, id string) (*registry.User, error) {
	return nil, nil
}

type fakeKeyStore struct{}

func (fakeKeyStore) Put(ctx context.Context, k registry.Key) error { return nil }
func (fakeKeyStore) Get(ctx context.Context, owner, keyID string) (*registry.Key, error) {
	return nil, nil
}
func (fakeKeyStore) ListByOwner(ctx context.Context, owner string) ([]registry.Key, error) {
	return nil, nil
}
func (fakeKeyStore) Deprecate(ctx context.Context, owner, keyID string) error { return nil }

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

// fakePeerLister implements PeerLister directly from a slice, for
// RequirePeerDomain tests that don't need a full store.
type fakePeerLister []registry.Peer

func (l fakePeerLister) ListPeers(ctx context.Context) ([]registry.Peer, error) {
	return l, nil
}
