package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/mrs-federation/server/internal/api/middleware"
	"github.com/mrs-federation/server/internal/api/problem"
	"github.com/mrs-federation/server/internal/apperr"
	"github.com/mrs-federation/server/internal/audit"
	"github.com/mrs-federation/server/internal/domain/federation"
)

// PeersHandler serves the admin-only peer management surface: §6 mandates
// POST /admin/peers; GET (list) and DELETE (remove) are a supplemented
// enrichment grounded on the source repo's node CRUD surface (see DESIGN.md).
// Every Create/Delete call is audit-logged: the admin identity model is a
// single configured operator, so a record of who touched the peer table and
// when is the only accountability trail that applies.
type PeersHandler struct {
	service *federation.Service
	audit   *audit.Logger
	env     string
}

func NewPeersHandler(service *federation.Service, env string) *PeersHandler {
	return &PeersHandler{service: service, audit: audit.NewLogger(), env: env}
}

func (h *PeersHandler) callerIdentity(r *http.Request) string {
	if identity := middleware.IdentityFromContext(r.Context()); identity != nil {
		return identity.Raw
	}
	return "unknown"
}

type addPeerRequest struct {
	ServerURL string `json:"server_url"`
	Hint      string `json:"hint,omitempty"`
}

// Create handles POST /admin/peers.
func (h *PeersHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req addPeerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		problem.WriteError(w, r, apperr.Wrap(apperr.TypeMismatch, "malformed request body", err), h.env)
		return
	}

	peer, err := h.service.AddPeer(r.Context(), req.ServerURL, req.Hint, true)
	if err != nil {
		h.audit.LogFailure("admin.peer.create", h.callerIdentity(r), audit.ExtractClientIP(r), map[string]string{"server_url": req.ServerURL, "error": err.Error()})
		problem.WriteError(w, r, peerErr(err), h.env)
		return
	}
	h.audit.LogSuccess("admin.peer.create", h.callerIdentity(r), "peer", peer.ServerURL, audit.ExtractClientIP(r), nil)
	writeJSON(w, http.StatusOK, peer)
}

// List handles GET /admin/peers.
func (h *PeersHandler) List(w http.ResponseWriter, r *http.Request) {
	peers, err := h.service.ListPeers(r.Context())
	if err != nil {
		problem.WriteError(w, r, apperr.Wrap(apperr.Internal, "peer lookup failed", err), h.env)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"peers": peers})
}

// Delete handles DELETE /admin/peers?server_url={server_url}. The target is a
// query parameter, not a path segment: server_url is itself a full URL, and a
// path segment containing "//" would be collapsed by the router's path
// cleaning before the request ever reached here.
func (h *PeersHandler) Delete(w http.ResponseWriter, r *http.Request) {
	serverURL := strings.TrimSpace(r.URL.Query().Get("server_url"))
	if serverURL == "" {
		problem.WriteError(w, r, apperr.New(apperr.MissingField, "server_url is required"), h.env)
		return
	}

	if err := h.service.RemovePeer(r.Context(), serverURL); err != nil {
		h.audit.LogFailure("admin.peer.delete", h.callerIdentity(r), audit.ExtractClientIP(r), map[string]string{"server_url": serverURL, "error": err.Error()})
		problem.WriteError(w, r, peerErr(err), h.env)
		return
	}
	h.audit.LogSuccess("admin.peer.delete", h.callerIdentity(r), "peer", serverURL, audit.ExtractClientIP(r), nil)
	writeJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}

func peerErr(err error) error {
	switch {
	case errors.Is(err, federation.ErrPeerNotFound):
		return apperr.Wrap(apperr.NotFound, "no such peer", err)
	case errors.Is(err, federation.ErrDuplicatePeer):
		return apperr.Wrap(apperr.Conflict, "peer already configured", err)
	case errors.Is(err, federation.ErrInvalidPeerURL):
		return apperr.Wrap(apperr.InvalidURI, "invalid peer server_url", err)
	default:
		return apperr.Wrap(apperr.Internal, "peer operation failed", err)
	}
}
