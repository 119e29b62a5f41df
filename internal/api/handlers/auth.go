package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/mrs-federation/server/internal/api/middleware"
	"github.com/mrs-federation/server/internal/api/problem"
	"github.com/mrs-federation/server/internal/apperr"
	"github.com/mrs-federation/server/internal/auth"
	"github.com/mrs-federation/server/internal/registry"
)

// AuthHandler issues and validates local bearer-token identities
// (POST /auth/register, POST /auth/login, GET /auth/me).
type AuthHandler struct {
	store       registry.Store
	domain      string
	tokenExpiry time.Duration
	env         string
}

func NewAuthHandler(store registry.Store, domain string, tokenExpiry time.Duration, env string) *AuthHandler {
	return &AuthHandler{store: store, domain: domain, tokenExpiry: tokenExpiry, env: env}
}

type registerUserRequest struct {
	User     string `json:"user"`
	Password string `json:"password"`
}

// Register handles POST /auth/register: creates a local identity
// user@<this server's domain> with a bcrypt-hashed password.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		problem.WriteError(w, r, apperr.Wrap(apperr.TypeMismatch, "malformed request body", err), h.env)
		return
	}
	if req.Password == "" {
		problem.WriteError(w, r, apperr.New(apperr.MissingField, "password is required"), h.env)
		return
	}
	if _, _, err := auth.ParseIdentity(req.User + "@" + h.domain); err != nil {
		problem.WriteError(w, r, apperr.Wrap(apperr.MissingField, "invalid user component", err), h.env)
		return
	}

	identity := req.User + "@" + h.domain
	existing, err := h.store.Users().Get(r.Context(), identity)
	if err != nil {
		problem.WriteError(w, r, apperr.Wrap(apperr.Internal, "user lookup failed", err), h.env)
		return
	}
	if existing != nil {
		problem.WriteError(w, r, apperr.Newf(apperr.Conflict, "identity %q already exists", identity), h.env)
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		problem.WriteError(w, r, apperr.Wrap(apperr.Internal, "password hashing failed", err), h.env)
		return
	}

	u := registry.User{ID: identity, PasswordHash: string(hash), IsLocal: true, Created: time.Now().UTC()}
	if err := h.store.Users().Put(r.Context(), u); err != nil {
		problem.WriteError(w, r, apperr.Wrap(apperr.Internal, "failed to persist user", err), h.env)
		return
	}

	writeJSON(w, http.StatusCreated, u)
}

type loginRequest struct {
	User     string `json:"user"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token   string     `json:"token"`
	UserID  string     `json:"user_id"`
	Expires *time.Time `json:"expires,omitempty"`
}

// Login handles POST /auth/login: verifies a local password and mints a
// bearer token.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		problem.WriteError(w, r, apperr.Wrap(apperr.TypeMismatch, "malformed request body", err), h.env)
		return
	}

	identity := req.User + "@" + h.domain
	u, err := h.store.Users().Get(r.Context(), identity)
	if err != nil {
		problem.WriteError(w, r, apperr.Wrap(apperr.Internal, "user lookup failed", err), h.env)
		return
	}
	if u == nil || !u.IsLocal || u.PasswordHash == "" {
		problem.WriteError(w, r, apperr.New(apperr.Unauthorized, "invalid credentials"), h.env)
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(req.Password)); err != nil {
		problem.WriteError(w, r, apperr.New(apperr.Unauthorized, "invalid credentials"), h.env)
		return
	}

	raw, err := auth.NewToken()
	if err != nil {
		problem.WriteError(w, r, apperr.Wrap(apperr.Internal, "failed to generate token", err), h.env)
		return
	}
	expires := time.Now().UTC().Add(h.tokenExpiry)
	tok := registry.Token{Token: auth.HashToken(raw), UserID: u.ID, Created: time.Now().UTC(), Expires: &expires}
	if err := h.store.Tokens().Put(r.Context(), tok); err != nil {
		problem.WriteError(w, r, apperr.Wrap(apperr.Internal, "failed to persist token", err), h.env)
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{Token: raw, UserID: u.ID, Expires: &expires})
}

// Me handles GET /auth/me: returns the caller's own identity.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	identity := middleware.IdentityFromContext(r.Context())
	if identity == nil {
		problem.WriteError(w, r, apperr.New(apperr.Unauthorized, "no authenticated identity"), h.env)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":       identity.Raw,
		"is_local": identity.IsLocal,
	})
}
