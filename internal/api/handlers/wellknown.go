package handlers

import (
	"net/http"
	"strings"

	"github.com/mrs-federation/server/internal/api/problem"
	"github.com/mrs-federation/server/internal/apperr"
	"github.com/mrs-federation/server/internal/domain/federation"
	"github.com/mrs-federation/server/internal/geometry"
	"github.com/mrs-federation/server/internal/keys"
	"github.com/mrs-federation/server/internal/registry"
)

// WellKnownHandler serves the §4.W metadata and key-publication surface.
type WellKnownHandler struct {
	store           registry.Store
	peers           *federation.Service
	serverURL       string
	mrsVersion      string
	maxRadius       float64
	operatorContact string
	env             string
}

func NewWellKnownHandler(store registry.Store, peers *federation.Service, serverURL string, maxRadius float64, operatorContact string, env string) *WellKnownHandler {
	return &WellKnownHandler{store: store, peers: peers, serverURL: serverURL, mrsVersion: "1.0", maxRadius: maxRadius, operatorContact: operatorContact, env: env}
}

type wellKnownResponse struct {
	Server               string              `json:"server"`
	MRSVersion           string              `json:"mrs_version"`
	OperatorContact      string              `json:"operator_contact,omitempty"`
	AuthoritativeRegions []geometry.Geometry `json:"authoritative_regions"`
	KnownPeers           []string            `json:"known_peers"`
	Capabilities         capabilities        `json:"capabilities"`
}

type capabilities struct {
	GeometryTypes []string `json:"geometry_types"`
	MaxRadius     float64  `json:"max_radius"`
}

// Metadata handles GET /.well-known/mrs.
func (h *WellKnownHandler) Metadata(w http.ResponseWriter, r *http.Request) {
	all, err := h.peers.ListPeers(r.Context())
	if err != nil {
		problem.WriteError(w, r, apperr.Wrap(apperr.Internal, "peer lookup failed", err), h.env)
		return
	}

	known := make([]string, 0, len(all))
	for _, p := range all {
		known = append(known, p.ServerURL)
	}

	resp := wellKnownResponse{
		Server:               h.serverURL,
		MRSVersion:           h.mrsVersion,
		OperatorContact:      h.operatorContact,
		AuthoritativeRegions: nil, // this node advertises no exclusive authoritative region
		KnownPeers:           known,
		Capabilities: capabilities{
			GeometryTypes: []string{string(geometry.KindSphere), string(geometry.KindPolygon)},
			MaxRadius:     h.maxRadius,
		},
	}
	writeJSON(w, http.StatusOK, resp)
}

// Keys handles GET /.well-known/mrs/keys/{identity}.
func (h *WellKnownHandler) Keys(w http.ResponseWriter, r *http.Request) {
	identity := strings.TrimPrefix(r.URL.Path, "/.well-known/mrs/keys/")
	identity = strings.Trim(identity, "/")
	if identity == "" {
		problem.WriteError(w, r, apperr.New(apperr.MissingField, "identity is required"), h.env)
		return
	}

	ks, err := h.store.Keys().ListByOwner(r.Context(), identity)
	if err != nil {
		problem.WriteError(w, r, apperr.Wrap(apperr.Internal, "key lookup failed", err), h.env)
		return
	}
	if len(ks) == 0 {
		problem.WriteError(w, r, apperr.Newf(apperr.NotFound, "no published keys for %q", identity), h.env)
		return
	}

	writeJSON(w, http.StatusOK, keys.PublishSet(identity, ks))
}
