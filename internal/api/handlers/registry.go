package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/mrs-federation/server/internal/api/middleware"
	"github.com/mrs-federation/server/internal/api/problem"
	"github.com/mrs-federation/server/internal/apperr"
	"github.com/mrs-federation/server/internal/geometry"
	"github.com/mrs-federation/server/internal/registry"
)

// RegistryHandler serves the core MRS protocol surface of §4.R:
// POST /register, POST /release, POST /search.
type RegistryHandler struct {
	service *registry.Service
	env     string
}

func NewRegistryHandler(service *registry.Service, env string) *RegistryHandler {
	return &RegistryHandler{service: service, env: env}
}

type registerRequest struct {
	ID           string            `json:"id,omitempty"`
	Space        geometry.Geometry `json:"space"`
	ServicePoint string            `json:"service_point,omitempty"`
	FOAD         bool              `json:"foad"`
	OriginServer string            `json:"origin_server,omitempty"`
	OriginID     string            `json:"origin_id,omitempty"`
}

// Register handles POST /register.
func (h *RegistryHandler) Register(w http.ResponseWriter, r *http.Request) {
	identity := middleware.IdentityFromContext(r.Context())
	if identity == nil {
		problem.WriteError(w, r, apperr.New(apperr.Unauthorized, "no authenticated identity"), h.env)
		return
	}

	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		problem.WriteError(w, r, apperr.Wrap(apperr.TypeMismatch, "malformed request body", err), h.env)
		return
	}

	in := registry.RegisterInput{
		ID:             req.ID,
		Space:          req.Space,
		ServicePoint:   req.ServicePoint,
		FOAD:           req.FOAD,
		CallerIdentity: identity.Raw,
	}
	if req.OriginServer != "" || req.OriginID != "" {
		in.CanonicalHint = &registry.CanonicalKey{OriginServer: req.OriginServer, OriginID: req.OriginID}
	}

	reg, err := h.service.Register(r.Context(), in)
	if err != nil {
		problem.WriteError(w, r, err, h.env)
		return
	}

	writeJSON(w, http.StatusCreated, reg)
}

type releaseRequest struct {
	ID string `json:"id"`
}

// Release handles POST /release.
func (h *RegistryHandler) Release(w http.ResponseWriter, r *http.Request) {
	identity := middleware.IdentityFromContext(r.Context())
	if identity == nil {
		problem.WriteError(w, r, apperr.New(apperr.Unauthorized, "no authenticated identity"), h.env)
		return
	}

	var req releaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		problem.WriteError(w, r, apperr.Wrap(apperr.TypeMismatch, "malformed request body", err), h.env)
		return
	}
	if req.ID == "" {
		problem.WriteError(w, r, apperr.New(apperr.MissingField, "id is required"), h.env)
		return
	}

	if err := h.service.Release(r.Context(), req.ID, identity.Raw); err != nil {
		problem.WriteError(w, r, err, h.env)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "released"})
}

type searchRequest struct {
	Location geometry.Coordinate `json:"location"`
	Range    float64             `json:"range"`
}

type searchResultWire struct {
	registry.Registration
	Distance float64 `json:"distance"`
}

type searchResponse struct {
	Results   []searchResultWire `json:"results"`
	Referrals []string           `json:"referrals,omitempty"`
}

// Search handles POST /search. No authentication is required per §6.
func (h *RegistryHandler) Search(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		problem.WriteError(w, r, apperr.Wrap(apperr.TypeMismatch, "malformed request body", err), h.env)
		return
	}

	out, err := h.service.Search(r.Context(), registry.SearchInput{Location: req.Location, Range: req.Range})
	if err != nil {
		problem.WriteError(w, r, err, h.env)
		return
	}

	resp := searchResponse{Referrals: out.Referrals}
	for _, res := range out.Results {
		resp.Results = append(resp.Results, searchResultWire{Registration: res.Registration, Distance: res.Distance})
	}

	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
