package federation

import (
	"context"
	"net/http"
	"sort"
	"strconv"
	"sync"

	"github.com/mrs-federation/server/internal/apperr"
	"github.com/mrs-federation/server/internal/registry"
)

// fakeStore is a minimal in-memory registry.Store for this package's tests.
type fakeStore struct {
	mu    sync.Mutex
	regs  map[string]registry.Registration
	tombs map[registry.CanonicalKey]registry.Tombstone
	peers map[string]registry.Peer
	log   []registry.ChangeEvent
	seq   int

	// pruneFloor simulates change-log retention GC: when set, ChangeLog
	// reports CursorExpired for any sinceCursor older than the floor, the
	// same way the Postgres store does once GCTombstones has run.
	pruneFloor int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		regs:  map[string]registry.Registration{},
		tombs: map[registry.CanonicalKey]registry.Tombstone{},
		peers: map[string]registry.Peer{},
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
	return nil, nil
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
	return nil, nil
}

func (f *fakeStore) GCTombstones(ctx context.Context, olderThan int64) (int64, error) { return 0, nil }

func (f *fakeStore) Users() registry.UserStore { return nil }
func (f *fakeStore) Keys() registry.KeyStore   { return nil }
func (f *fakeStore) Peers() registry.PeerStore { return fakePeerStore{f} }
func (f *fakeStore) Tokens() registry.TokenStore {
	return nil
}

func (f *fakeStore) ChangeLog(ctx context.Context, sinceCursor string, limit int) ([]registry.ChangeEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pruneFloor > 0 && sinceCursor != "" {
		if seq, err := strconv.Atoi(sinceCursor); err == nil && seq < f.pruneFloor-1 {
			return nil, apperr.New(apperr.CursorExpired, "cursor predates change log retention")
		}
	}
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
	if seq == 0 {
		return "0"
	}
	s := ""
	n := seq
	for n > 0 {
		s = string(digits[n%10]) + s
		n /= 10
	}
	return s
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

// fakeDoer implements HTTPDoer by dispatching to a function, for ingest and
// metadata-refresh tests.
type fakeDoer func(req *http.Request) (*http.Response, error)

func (f fakeDoer) Do(req *http.Request) (*http.Response, error) { return f(req) }
