package handlers

import (
	"net/http"
	"strconv"

	"github.com/mrs-federation/server/internal/api/problem"
	"github.com/mrs-federation/server/internal/apperr"
	"github.com/mrs-federation/server/internal/domain/federation"
)

// SyncHandler serves the §4.F peer-sync surface: GET /sync/snapshot and
// GET /sync/changes.
type SyncHandler struct {
	snapshot *federation.SnapshotService
	changes  *federation.ChangesService
	env      string
}

func NewSyncHandler(snapshot *federation.SnapshotService, changes *federation.ChangesService, env string) *SyncHandler {
	return &SyncHandler{snapshot: snapshot, changes: changes, env: env}
}

// Snapshot handles GET /sync/snapshot?cursor=&limit=.
func (h *SyncHandler) Snapshot(w http.ResponseWriter, r *http.Request) {
	cursor := r.URL.Query().Get("cursor")
	limit := queryInt(r, "limit", federation.DefaultChangeFeedLimit)

	page, err := h.snapshot.GetPage(r.Context(), cursor, limit)
	if err != nil {
		problem.WriteError(w, r, syncErr(err), h.env)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// Changes handles GET /sync/changes?since=&limit=.
func (h *SyncHandler) Changes(w http.ResponseWriter, r *http.Request) {
	since := r.URL.Query().Get("since")
	limit := queryInt(r, "limit", federation.DefaultChangeFeedLimit)

	page, err := h.changes.GetPage(r.Context(), since, limit)
	if err != nil {
		problem.WriteError(w, r, syncErr(err), h.env)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// syncErr maps the federation package's plain errors onto the §7 taxonomy:
// an expired/invalid cursor tells the peer to fall back to a full snapshot.
func syncErr(err error) error {
	switch err {
	case federation.ErrInvalidCursor:
		return apperr.Wrap(apperr.CursorExpired, "cursor is invalid or has expired", err)
	case federation.ErrInvalidLimit:
		return apperr.Wrap(apperr.MissingField, "limit out of bounds", err)
	default:
		return apperr.Wrap(apperr.Internal, "sync page failed", err)
	}
}

func queryInt(r *http.Request, key string, fallback int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}
