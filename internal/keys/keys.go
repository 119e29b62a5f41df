// Package keys implements local keypair management and the remote identity
// key cache of §4.K: fetch-and-cache of peer public keys with TTL, rotation
// and single-flight coalescing of concurrent misses.
package keys

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/mrs-federation/server/internal/apperr"
	"github.com/mrs-federation/server/internal/metrics"
	"github.com/mrs-federation/server/internal/registry"
)

// DefaultCacheTTL is the default remote key cache entry lifetime.
const DefaultCacheTTL = 3600 * time.Second

// DefaultFetchTimeout bounds an outbound key fetch per §5.
const DefaultFetchTimeout = 5 * time.Second

// cacheEntry is a cached remote key.
type cacheEntry struct {
	key       registry.Key
	expiresAt time.Time
}

// PublishedKey is the wire shape served at
// /.well-known/mrs/keys/{identity} and fetched from a remote keyid URL.
type PublishedKey struct {
	KeyID      string `json:"key_id"`
	Algorithm  string `json:"algorithm"`
	PublicKey  string `json:"public_key"` // base64
	Expires    string `json:"expires,omitempty"`
	Deprecated bool   `json:"deprecated"`
}

// PublishedKeySet is the response body for a key-publication endpoint: one
// or more keys for a single identity.
type PublishedKeySet struct {
	Identity string         `json:"identity"`
	Keys     []PublishedKey `json:"keys"`
}

// HTTPDoer is the minimal HTTP client surface needed to fetch remote keys.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Cache is the remote identity key cache: a TTL map from key URL to key
// material, with single-flight coalescing of concurrent misses.
type Cache struct {
	ttl    time.Duration
	client HTTPDoer
	group  singleflight.Group

	mu      sync.RWMutex
	entries map[string]cacheEntry
}

func NewCache(client HTTPDoer, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Cache{ttl: ttl, client: client, entries: map[string]cacheEntry{}}
}

// Get returns the key selected by keyURL, using the cache when fresh and a
// coalesced remote fetch otherwise. fragment, if present in keyURL, selects
// a specific key_id within a multi-key response.
func (c *Cache) Get(ctx context.Context, keyURL string) (*registry.Key, error) {
	base, fragment := splitFragment(keyURL)

	c.mu.RLock()
	entry, ok := c.entries[keyURL]
	c.mu.RUnlock()
	if ok && time.Now().Before(entry.expiresAt) {
		metrics.KeyCacheHitsTotal.Inc()
		k := entry.key
		return &k, nil
	}

	metrics.KeyCacheMissesTotal.Inc()
	v, err, shared := c.group.Do(keyURL, func() (any, error) {
		return c.fetch(ctx, base, fragment)
	})
	if shared {
		metrics.KeyCacheCoalescedTotal.Inc()
	}
	if err != nil {
		return nil, err
	}
	k := v.(registry.Key)

	c.mu.Lock()
	c.entries[keyURL] = cacheEntry{key: k, expiresAt: time.Now().Add(c.ttl)}
	c.mu.Unlock()

	return &k, nil
}

// Invalidate drops a cache entry, forcing the next Get to refetch. Called
// on verification failure per §4.K.
func (c *Cache) Invalidate(keyURL string) {
	c.mu.Lock()
	delete(c.entries, keyURL)
	c.mu.Unlock()
}

func (c *Cache) fetch(ctx context.Context, base, fragment string) (any, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultFetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base, nil)
	if err != nil {
		return nil, apperr.Wrap(apperr.Unauthorized, "invalid key url", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, apperr.Wrap(apperr.PeerUnreachable, "key fetch failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apperr.Newf(apperr.Unauthorized, "key fetch returned status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "failed reading key response", err)
	}

	var set PublishedKeySet
	if err := json.Unmarshal(body, &set); err != nil {
		return nil, apperr.Wrap(apperr.Unauthorized, "malformed key publication response", err)
	}

	selected := selectKey(set.Keys, fragment)
	if selected == nil {
		return nil, apperr.New(apperr.Unauthorized, "no usable key found at key url")
	}
	return *selected, nil
}

// selectKey picks the first non-deprecated, non-expired key, or the one
// whose KeyID matches fragment if non-empty.
func selectKey(published []PublishedKey, fragment string) *registry.Key {
	now := time.Now().UTC()
	for _, pk := range published {
		if fragment != "" && pk.KeyID != fragment {
			continue
		}
		if pk.Deprecated {
			continue
		}
		if pk.Expires != "" {
			if exp, err := time.Parse(time.RFC3339, pk.Expires); err == nil && now.After(exp) {
				continue
			}
		}
		raw, err := decodeBase64(pk.PublicKey)
		if err != nil {
			continue
		}
		k := &registry.Key{
			KeyID:     pk.KeyID,
			Algorithm: registry.KeyAlgorithm(pk.Algorithm),
			PublicKey: raw,
		}
		return k
	}
	return nil
}

func splitFragment(keyURL string) (base, fragment string) {
	u, err := url.Parse(keyURL)
	if err != nil {
		return keyURL, ""
	}
	fragment = u.Fragment
	u.Fragment = ""
	return u.String(), fragment
}

// Host returns the host component of a key URL, used to enforce the
// key-URL/identity binding invariant.
func Host(keyURL string) (string, error) {
	u, err := url.Parse(keyURL)
	if err != nil {
		return "", err
	}
	return u.Host, nil
}

// LocalKeyManager generates, persists and publishes local identity keys
// (server identity "_server" and local user identities).
type LocalKeyManager struct {
	store registry.KeyStore
}

func NewLocalKeyManager(store registry.KeyStore) *LocalKeyManager {
	return &LocalKeyManager{store: store}
}

// EnsureServerKey returns the server's current signing keypair, generating
// and persisting an Ed25519 keypair on first call.
func (m *LocalKeyManager) EnsureServerKey(ctx context.Context) (*registry.Key, error) {
	return m.ensureKey(ctx, registry.ServerIdentity, "default")
}

// EnsureUserKey returns identity's current signing keypair, generating one
// if absent.
func (m *LocalKeyManager) EnsureUserKey(ctx context.Context, identity string) (*registry.Key, error) {
	return m.ensureKey(ctx, identity, "default")
}

func (m *LocalKeyManager) ensureKey(ctx context.Context, owner, keyID string) (*registry.Key, error) {
	existing, err := m.store.Get(ctx, owner, keyID)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "key lookup failed", err)
	}
	if existing != nil && !existing.Deprecated {
		return existing, nil
	}

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "key generation failed", err)
	}
	k := registry.Key{
		ID:         fmt.Sprintf("%s/%s", owner, keyID),
		Owner:      owner,
		KeyID:      keyID,
		Algorithm:  registry.AlgEd25519,
		PublicKey:  pub,
		PrivateKey: priv,
		Created:    time.Now().UTC(),
	}
	if err := m.store.Put(ctx, k); err != nil {
		return nil, apperr.Wrap(apperr.Internal, "failed to persist generated key", err)
	}
	return &k, nil
}

// PublishSet builds the wire PublishedKeySet for identity's non-deprecated
// keys, for serving at /.well-known/mrs/keys/{identity}.
func PublishSet(identity string, ks []registry.Key) PublishedKeySet {
	out := PublishedKeySet{Identity: identity}
	for _, k := range ks {
		pk := PublishedKey{
			KeyID:      k.KeyID,
			Algorithm:  string(k.Algorithm),
			PublicKey:  encodeBase64(k.PublicKey),
			Deprecated: k.Deprecated,
		}
		if k.Expires != nil {
			pk.Expires = k.Expires.UTC().Format(time.RFC3339)
		}
		out.Keys = append(out.Keys, pk)
	}
	return out
}

func encodeBase64(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

func decodeBase64(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(strings.TrimSpace(s))
}
