package middleware

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/mrs-federation/server/internal/api/problem"
	"github.com/mrs-federation/server/internal/apperr"
	"github.com/mrs-federation/server/internal/auth"
	"github.com/mrs-federation/server/internal/registry"
)

type authCtxKey string

const identityContextKey authCtxKey = "identity"

// Authenticate verifies the caller via internal/auth (bearer token or HTTP
// message signature) and attaches the resulting Identity to the request
// context. The request body is buffered so both signature verification and
// the downstream handler can read it.
func Authenticate(authn *auth.Authenticator, env string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var body []byte
			if r.Body != nil {
				var err error
				body, err = io.ReadAll(r.Body)
				if err != nil {
					problem.WriteError(w, r, apperr.Wrap(apperr.Internal, "failed to read request body", err), env)
					return
				}
				r.Body = io.NopCloser(bytes.NewReader(body))
			}

			identity, err := authn.Authenticate(r.Context(), r, body)
			if err != nil {
				problem.WriteError(w, r, err, env)
				return
			}

			ctx := context.WithValue(r.Context(), identityContextKey, identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// IdentityFromContext returns the authenticated identity attached by
// Authenticate, or nil if the request was never authenticated.
func IdentityFromContext(ctx context.Context) *auth.Identity {
	identity, _ := ctx.Value(identityContextKey).(*auth.Identity)
	return identity
}

// WithIdentity attaches an already-authenticated identity to ctx, mirroring
// what Authenticate does on the request path. Exported for callers that
// construct an Identity outside of a real Authenticate pass.
func WithIdentity(ctx context.Context, identity *auth.Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, identity)
}

// RequirePeerDomain restricts access to callers authenticated with an
// identity whose domain matches one of the currently configured peers. Per
// DESIGN.md's open-question decision, this doubles §4.A's identity
// resolution as the peer-authorization check for /sync/*.
func RequirePeerDomain(peers PeerLister, env string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity := IdentityFromContext(r.Context())
			if identity == nil {
				problem.WriteError(w, r, apperr.New(apperr.Unauthorized, "no authenticated identity"), env)
				return
			}

			configured, err := peers.ListPeers(r.Context())
			if err != nil {
				problem.WriteError(w, r, apperr.Wrap(apperr.Internal, "peer lookup failed", err), env)
				return
			}
			for _, p := range configured {
				if !p.IsConfigured {
					continue
				}
				if host, err := hostOf(p.ServerURL); err == nil && strings.EqualFold(host, identity.Domain) {
					next.ServeHTTP(w, r)
					return
				}
			}
			problem.WriteError(w, r, apperr.Newf(apperr.Forbidden, "%q is not a configured peer domain", identity.Domain), env)
		})
	}
}

// PeerLister is the subset of the federation service RequirePeerDomain needs.
type PeerLister interface {
	ListPeers(ctx context.Context) ([]registry.Peer, error)
}

func hostOf(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	return u.Hostname(), nil
}

// RequireAdminIdentity restricts access to the single operator identity
// configured via MRS_ADMIN_EMAIL. MRS has no broader role model: the admin
// surface (§ "admin" rate-limit tier, peer CRUD) is operated by whoever can
// authenticate as that configured identity.
func RequireAdminIdentity(adminIdentity, env string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity := IdentityFromContext(r.Context())
			if identity == nil {
				problem.WriteError(w, r, apperr.New(apperr.Unauthorized, "no authenticated identity"), env)
				return
			}
			if adminIdentity == "" || !strings.EqualFold(identity.Raw, adminIdentity) {
				problem.WriteError(w, r, apperr.New(apperr.Forbidden, "not the configured admin identity"), env)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
