// Package auth implements the federated-identity authenticator of §4.A:
// bearer-token lookup and RFC 9421 HTTP Message Signature verification,
// both resolving to an authenticated `user@domain` identity.
package auth

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/mrs-federation/server/internal/apperr"
	"github.com/mrs-federation/server/internal/keys"
	"github.com/mrs-federation/server/internal/registry"
)

// MaxClockSkew bounds how far a signature's `created` parameter may diverge
// from now, per §4.A step 1.
const MaxClockSkew = 300 * time.Second

// Identity is the result of a successful authentication: a user@domain
// string split into its parts, plus whether the user is a local account.
type Identity struct {
	Raw     string
	User    string
	Domain  string
	IsLocal bool
}

var identityUserPattern = regexp.MustCompile(`^[A-Za-z0-9_.-]{1,64}$`)

// ParseIdentity splits a user@domain identity string and validates the user
// component against §6's pattern. The reserved user "_server" is rejected
// here since it may only appear in key URLs, not as a caller identity.
func ParseIdentity(raw string) (user, domain string, err error) {
	parts := strings.SplitN(raw, "@", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", apperr.Newf(apperr.Unauthorized, "malformed identity %q", raw)
	}
	user, domain = parts[0], parts[1]
	if user == registry.ServerIdentity {
		return "", "", apperr.New(apperr.Unauthorized, "_server is reserved and cannot authenticate as a caller")
	}
	if !identityUserPattern.MatchString(user) {
		return "", "", apperr.Newf(apperr.Unauthorized, "invalid identity user component %q", user)
	}
	return user, domain, nil
}

// Authenticator verifies bearer tokens and HTTP message signatures.
type Authenticator struct {
	store    registry.Store
	keyCache *keys.Cache
	log      zerolog.Logger
}

func NewAuthenticator(store registry.Store, keyCache *keys.Cache, log zerolog.Logger) *Authenticator {
	return &Authenticator{store: store, keyCache: keyCache, log: log.With().Str("component", "authenticator").Logger()}
}

// Authenticate dispatches to the bearer or signature path based on which
// headers are present, per §4.A.
func (a *Authenticator) Authenticate(ctx context.Context, r *http.Request, body []byte) (*Identity, error) {
	if authz := r.Header.Get("Authorization"); authz != "" {
		return a.authenticateBearer(ctx, authz)
	}
	if r.Header.Get("Signature") != "" || r.Header.Get("Signature-Input") != "" {
		return a.authenticateSignature(ctx, r, body)
	}
	return nil, apperr.New(apperr.Unauthorized, "no credentials presented")
}

func (a *Authenticator) authenticateBearer(ctx context.Context, authz string) (*Identity, error) {
	const prefix = "Bearer "
	if !strings.HasPrefix(authz, prefix) {
		return nil, apperr.New(apperr.Unauthorized, "malformed Authorization header")
	}
	token := strings.TrimSpace(authz[len(prefix):])
	if token == "" {
		return nil, apperr.New(apperr.Unauthorized, "empty bearer token")
	}

	rec, err := a.store.Tokens().Get(ctx, hashToken(token))
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "token lookup failed", err)
	}
	if rec == nil {
		return nil, apperr.New(apperr.Unauthorized, "unknown bearer token")
	}
	if rec.Expires != nil && time.Now().After(*rec.Expires) {
		return nil, apperr.New(apperr.Unauthorized, "bearer token expired")
	}

	user, domain, err := ParseIdentity(rec.UserID)
	if err != nil {
		return nil, err
	}
	return &Identity{Raw: rec.UserID, User: user, Domain: domain, IsLocal: true}, nil
}

// hashToken derives the lookup key stored for a bearer token: tokens are
// high-entropy opaque strings, so a plain SHA-256 digest is sufficient to
// avoid storing the bearer value itself at rest.
func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// HashToken exposes hashToken so callers that mint tokens (the login
// handler) store the same lookup key authenticateBearer later looks up by.
func HashToken(token string) string {
	return hashToken(token)
}

// NewToken generates a new high-entropy opaque bearer token.
func NewToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// authenticateSignature implements the RFC 9421 verification steps of
// §4.A's HTTP-signature path.
func (a *Authenticator) authenticateSignature(ctx context.Context, r *http.Request, body []byte) (*Identity, error) {
	sigInput := r.Header.Get("Signature-Input")
	sigHeader := r.Header.Get("Signature")
	mrsIdentity := r.Header.Get("MRS-Identity")
	if sigInput == "" || sigHeader == "" || mrsIdentity == "" {
		return nil, apperr.New(apperr.Unauthorized, "missing required signature headers")
	}
	if len(body) > 0 && r.Header.Get("Content-Digest") == "" {
		return nil, apperr.New(apperr.Unauthorized, "missing Content-Digest for request with body")
	}

	params, err := parseSignatureInput(sigInput)
	if err != nil {
		return nil, apperr.Wrap(apperr.Unauthorized, "malformed Signature-Input", err)
	}

	now := time.Now().UTC()
	if params.created == 0 {
		return nil, apperr.New(apperr.Unauthorized, "signature missing created parameter")
	}
	createdAt := time.Unix(params.created, 0).UTC()
	if createdAt.After(now.Add(MaxClockSkew)) {
		return nil, apperr.New(apperr.Unauthorized, "signature created timestamp is in the future")
	}
	if now.Sub(createdAt) > MaxClockSkew {
		return nil, apperr.New(apperr.Unauthorized, "signature created timestamp has expired")
	}

	required := map[string]bool{"@method": true, "@path": true, "mrs-identity": true}
	if len(body) > 0 {
		required["content-digest"] = true
	}
	for name := range required {
		if !containsComponent(params.components, name) {
			return nil, apperr.Newf(apperr.Unauthorized, "signature does not cover required component %q", name)
		}
	}

	user, domain, err := ParseIdentity(mrsIdentity)
	if err != nil {
		return nil, err
	}

	keyHost, err := keys.Host(params.keyID)
	if err != nil {
		return nil, apperr.Wrap(apperr.Unauthorized, "invalid keyid", err)
	}
	if !strings.EqualFold(keyHost, domain) {
		return nil, apperr.New(apperr.Unauthorized, "keyid host does not match MRS-Identity domain")
	}

	if len(body) > 0 {
		want := r.Header.Get("Content-Digest")
		if err := verifyContentDigest(want, body); err != nil {
			return nil, err
		}
	}

	key, err := a.fetchKeyWithRetry(ctx, params.keyID)
	if err != nil {
		return nil, err
	}

	base := buildSignatureBase(r, params, mrsIdentity)
	sig, err := extractSignature(sigHeader)
	if err != nil {
		return nil, apperr.Wrap(apperr.Unauthorized, "malformed Signature header", err)
	}
	if err := verifySignature(key.Algorithm, key.PublicKey, base, sig); err != nil {
		a.keyCache.Invalidate(params.keyID)
		if key2, rerr := a.fetchKeyWithRetry(ctx, params.keyID); rerr == nil {
			if verifySignature(key2.Algorithm, key2.PublicKey, base, sig) == nil {
				return a.shellIdentity(ctx, user, domain)
			}
		}
		return nil, apperr.New(apperr.Unauthorized, "signature verification failed")
	}

	return a.shellIdentity(ctx, user, domain)
}

func (a *Authenticator) fetchKeyWithRetry(ctx context.Context, keyURL string) (*registry.Key, error) {
	k, err := a.keyCache.Get(ctx, keyURL)
	if err != nil {
		return nil, apperr.Wrap(apperr.Unauthorized, "unable to fetch signing key", err)
	}
	return k, nil
}

// shellIdentity creates a shell non-local user on first sight, per §4.A
// step 7.
func (a *Authenticator) shellIdentity(ctx context.Context, user, domain string) (*Identity, error) {
	raw := user + "@" + domain
	existing, err := a.store.Users().Get(ctx, raw)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "user lookup failed", err)
	}
	if existing == nil {
		if err := a.store.Users().Put(ctx, registry.User{ID: raw, IsLocal: false, Created: time.Now().UTC()}); err != nil {
			return nil, apperr.Wrap(apperr.Internal, "failed to persist shell user", err)
		}
	}
	return &Identity{Raw: raw, User: user, Domain: domain, IsLocal: existing != nil && existing.IsLocal}, nil
}

// signatureParams is the parsed content of a Signature-Input header value.
type signatureParams struct {
	label      string
	components []string
	keyID      string
	created    int64
	alg        string
}

func containsComponent(components []string, name string) bool {
	for _, c := range components {
		if c == name {
			return true
		}
	}
	return false
}

// parseSignatureInput parses `sig1=("@method" "@path" ...);keyid="...";created=...;alg="..."`.
func parseSignatureInput(header string) (*signatureParams, error) {
	eq := strings.Index(header, "=")
	if eq < 0 {
		return nil, fmt.Errorf("missing label=value separator")
	}
	label := strings.TrimSpace(header[:eq])
	rest := strings.TrimSpace(header[eq+1:])

	open := strings.Index(rest, "(")
	close := strings.Index(rest, ")")
	if open < 0 || close < 0 || close < open {
		return nil, fmt.Errorf("missing covered-components list")
	}
	componentList := rest[open+1 : close]
	var components []string
	for _, field := range strings.Fields(componentList) {
		components = append(components, strings.Trim(field, `"`))
	}

	params := &signatureParams{label: label, components: components}
	paramStr := rest[close+1:]
	for _, kv := range strings.Split(paramStr, ";") {
		kv = strings.TrimSpace(kv)
		if kv == "" {
			continue
		}
		pieces := strings.SplitN(kv, "=", 2)
		if len(pieces) != 2 {
			continue
		}
		key := strings.TrimSpace(pieces[0])
		val := strings.Trim(strings.TrimSpace(pieces[1]), `"`)
		switch key {
		case "keyid":
			params.keyID = val
		case "created":
			ts, err := strconv.ParseInt(val, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid created parameter: %w", err)
			}
			params.created = ts
		case "alg":
			params.alg = val
		}
	}
	if params.keyID == "" {
		return nil, fmt.Errorf("missing keyid parameter")
	}
	return params, nil
}

// buildSignatureBase reconstructs the RFC 9421 signature base string for
// the covered components this implementation supports.
func buildSignatureBase(r *http.Request, params *signatureParams, mrsIdentity string) []byte {
	var b strings.Builder
	for _, c := range params.components {
		switch c {
		case "@method":
			fmt.Fprintf(&b, "\"@method\": %s\n", strings.ToUpper(r.Method))
		case "@path":
			fmt.Fprintf(&b, "\"@path\": %s\n", r.URL.Path)
		case "content-digest":
			fmt.Fprintf(&b, "\"content-digest\": %s\n", r.Header.Get("Content-Digest"))
		case "mrs-identity":
			fmt.Fprintf(&b, "\"mrs-identity\": %s\n", mrsIdentity)
		default:
			fmt.Fprintf(&b, "\"%s\": %s\n", c, r.Header.Get(c))
		}
	}
	fmt.Fprintf(&b, "\"@signature-params\": (%s)", quoteJoin(params.components))
	return []byte(b.String())
}

func quoteJoin(components []string) string {
	quoted := make([]string, len(components))
	for i, c := range components {
		quoted[i] = `"` + c + `"`
	}
	return strings.Join(quoted, " ")
}

// extractSignature pulls the base64 signature bytes out of
// `sig1=:base64value:`.
func extractSignature(header string) ([]byte, error) {
	eq := strings.Index(header, "=")
	if eq < 0 {
		return nil, fmt.Errorf("missing label=value separator")
	}
	val := strings.TrimSpace(header[eq+1:])
	val = strings.Trim(val, ":")
	return base64.StdEncoding.DecodeString(val)
}

// verifyContentDigest recomputes sha-256 over body and compares against the
// `sha-256=:base64:` Content-Digest header value.
func verifyContentDigest(header string, body []byte) error {
	const prefix = "sha-256=:"
	if !strings.HasPrefix(header, prefix) || !strings.HasSuffix(header, ":") {
		return apperr.New(apperr.Unauthorized, "unsupported Content-Digest format")
	}
	encoded := header[len(prefix) : len(header)-1]
	want, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return apperr.Wrap(apperr.Unauthorized, "malformed Content-Digest", err)
	}
	got := sha256.Sum256(body)
	if !bytesEqual(got[:], want) {
		return apperr.New(apperr.Unauthorized, "content-digest mismatch")
	}
	return nil
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// verifySignature dispatches to the algorithm-specific verifier.
func verifySignature(alg registry.KeyAlgorithm, publicKey, base, sig []byte) error {
	switch alg {
	case registry.AlgEd25519, "":
		if len(publicKey) != ed25519.PublicKeySize {
			return apperr.New(apperr.Unauthorized, "malformed ed25519 public key")
		}
		if !ed25519.Verify(ed25519.PublicKey(publicKey), base, sig) {
			return apperr.New(apperr.Unauthorized, "signature mismatch")
		}
		return nil
	default:
		return verifySignatureOther(alg, publicKey, base, sig)
	}
}
