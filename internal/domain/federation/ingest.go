package federation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/mrs-federation/server/internal/apperr"
	"github.com/mrs-federation/server/internal/metrics"
	"github.com/mrs-federation/server/internal/registry"
)

// genesisCursor marks a peer that has completed its initial snapshot pull but
// has not yet observed any change-log entry; the next poll reads the peer's
// change log from its start rather than re-pulling the snapshot.
const genesisCursor = "\x00genesis"

// HTTPDoer is satisfied by *http.Client; accepted as an interface so tests
// can substitute a fake transport.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// IngestService pulls a peer's snapshot and change feed and applies them to
// the local store as replicas, per §4.F Sync ingest.
type IngestService struct {
	store     registry.Store
	serverURL string
	doer      HTTPDoer
	log       zerolog.Logger
}

func NewIngestService(store registry.Store, serverURL string, doer HTTPDoer, log zerolog.Logger) *IngestService {
	return &IngestService{store: store, serverURL: serverURL, doer: doer, log: log}
}

// SyncPeer performs one round of sync against peer: a full snapshot pull on
// first contact, or a single /sync/changes page thereafter.
func (s *IngestService) SyncPeer(ctx context.Context, peer registry.Peer) error {
	if peer.SyncCursor == "" {
		return s.pullSnapshot(ctx, peer)
	}
	return s.pollChanges(ctx, peer)
}

func (s *IngestService) pullSnapshot(ctx context.Context, peer registry.Peer) error {
	cursor := ""
	for {
		page, err := s.fetchSnapshotPage(ctx, peer, cursor)
		if err != nil {
			metrics.PeerFetchFailuresTotal.WithLabelValues("sync_snapshot").Inc()
			return fmt.Errorf("fetch snapshot page from %s: %w", peer.ServerURL, err)
		}
		for _, reg := range page.Registrations {
			s.applySnapshotRecord(ctx, peer, reg)
		}
		if !page.HasMore {
			break
		}
		cursor = page.NextCursor
	}

	peer.SyncCursor = genesisCursor
	if err := s.store.Peers().Put(ctx, peer); err != nil {
		return fmt.Errorf("persist peer cursor: %w", err)
	}
	return nil
}

func (s *IngestService) applySnapshotRecord(ctx context.Context, peer registry.Peer, reg registry.Registration) {
	if reg.OriginServer == s.serverURL {
		metrics.SovereigntyViolationsTotal.Inc()
		s.log.Warn().Str("peer", peer.ServerURL).Str("origin_id", reg.OriginID).
			Msg("federation ingest: peer snapshot claims origin over a locally-originated record")
		return
	}
	now := time.Now().UTC()
	reg.ReplicatedFrom = peer.ServerURL
	reg.LastSyncedAt = &now
	if err := s.store.Put(ctx, reg); err != nil {
		s.log.Warn().Err(err).Str("peer", peer.ServerURL).Msg("federation ingest: failed to store snapshot record")
	}
}

func (s *IngestService) pollChanges(ctx context.Context, peer registry.Peer) error {
	since := peer.SyncCursor
	if since == genesisCursor {
		since = ""
	}

	page, err := s.fetchChangesPage(ctx, peer, since)
	if err != nil {
		var perr *peerError
		if errors.As(err, &perr) && perr.code == string(apperr.CursorExpired) {
			s.log.Warn().Str("peer", peer.ServerURL).Msg("federation ingest: peer cursor expired, falling back to full snapshot")
			peer.SyncCursor = ""
			if err := s.store.Peers().Put(ctx, peer); err != nil {
				return fmt.Errorf("reset peer cursor: %w", err)
			}
			return s.pullSnapshot(ctx, peer)
		}
		metrics.PeerFetchFailuresTotal.WithLabelValues("sync_changes").Inc()
		return fmt.Errorf("fetch changes page from %s: %w", peer.ServerURL, err)
	}

	for _, ev := range page.Events {
		s.applyChangeEvent(ctx, peer, ev)
	}

	if len(page.Events) > 0 {
		peer.SyncCursor = page.Events[len(page.Events)-1].Cursor
		if err := s.store.Peers().Put(ctx, peer); err != nil {
			return fmt.Errorf("persist peer cursor: %w", err)
		}
	}
	return nil
}

func (s *IngestService) applyChangeEvent(ctx context.Context, peer registry.Peer, ev registry.ChangeEvent) {
	switch ev.Kind {
	case registry.ChangeCreated, registry.ChangeUpdated:
		s.applyUpsert(ctx, peer, ev.Registration)
	case registry.ChangeDeleted:
		s.applyDelete(ctx, ev.Tombstone)
	}
}

func (s *IngestService) applyUpsert(ctx context.Context, peer registry.Peer, reg *registry.Registration) {
	if reg == nil {
		return
	}
	if reg.OriginServer == s.serverURL {
		metrics.SovereigntyViolationsTotal.Inc()
		s.log.Warn().Str("peer", peer.ServerURL).Str("origin_id", reg.OriginID).
			Msg("federation ingest: peer claims origin over a locally-originated record")
		return
	}

	local, err := s.store.GetByCanonical(ctx, reg.Canonical())
	if err != nil {
		s.log.Warn().Err(err).Str("peer", peer.ServerURL).Msg("federation ingest: canonical lookup failed")
		return
	}

	switch {
	case local == nil:
		// new replica
	case reg.Version < local.Version:
		return // stale event, ignore
	case reg.Version == local.Version:
		if registrationsEqual(*local, *reg) {
			return
		}
		if peer.ServerURL != reg.OriginServer {
			metrics.ConflictsDetectedTotal.Inc()
			s.log.Warn().Str("peer", peer.ServerURL).Str("origin_id", reg.OriginID).
				Msg("federation ingest: conflicting payload at same version from non-authoritative peer, dropped")
			return
		}
		// peer is itself the origin: trust and overwrite
	}

	now := time.Now().UTC()
	updated := *reg
	updated.ReplicatedFrom = peer.ServerURL
	updated.LastSyncedAt = &now
	if local != nil {
		updated.ID = local.ID
	}
	if err := s.store.Put(ctx, updated); err != nil {
		s.log.Warn().Err(err).Str("peer", peer.ServerURL).Msg("federation ingest: failed to store replica")
	}
}

func (s *IngestService) applyDelete(ctx context.Context, tomb *registry.Tombstone) {
	if tomb == nil {
		return
	}
	if err := s.store.AddTombstone(ctx, *tomb); err != nil {
		s.log.Warn().Err(err).Str("origin_id", tomb.OriginID).Msg("federation ingest: failed to record tombstone")
		return
	}
	local, err := s.store.GetByCanonical(ctx, registry.CanonicalKey{OriginServer: tomb.OriginServer, OriginID: tomb.OriginID})
	if err != nil || local == nil {
		return
	}
	if local.Version <= tomb.Version {
		_ = s.store.Delete(ctx, local.ID)
	}
}

func registrationsEqual(a, b registry.Registration) bool {
	return a.ServicePoint == b.ServicePoint && a.FOAD == b.FOAD && a.Owner == b.Owner
}

func (s *IngestService) fetchSnapshotPage(ctx context.Context, peer registry.Peer, cursor string) (*SnapshotPage, error) {
	url := peer.ServerURL + "/sync/snapshot"
	if cursor != "" {
		url += "?cursor=" + cursor
	}
	var wire struct {
		Registrations []registry.Registration `json:"registrations"`
		NextCursor    string                   `json:"next_cursor"`
		HasMore       bool                     `json:"has_more"`
	}
	if err := s.getJSON(ctx, url, &wire); err != nil {
		return nil, err
	}
	return &SnapshotPage{Registrations: wire.Registrations, NextCursor: wire.NextCursor, HasMore: wire.HasMore}, nil
}

func (s *IngestService) fetchChangesPage(ctx context.Context, peer registry.Peer, since string) (*ChangesPage, error) {
	url := peer.ServerURL + "/sync/changes"
	if since != "" {
		url += "?since=" + since
	}
	var wire struct {
		Events     []registry.ChangeEvent `json:"events"`
		NextCursor string                  `json:"next_cursor"`
		HasMore    bool                    `json:"has_more"`
	}
	if err := s.getJSON(ctx, url, &wire); err != nil {
		return nil, err
	}
	return &ChangesPage{Events: wire.Events, NextCursor: wire.NextCursor, HasMore: wire.HasMore}, nil
}

// peerError carries the MRS error envelope's code out of a non-200 peer
// response, so callers can react to a specific code (cursor_expired) instead
// of treating every failed fetch the same way.
type peerError struct {
	statusCode int
	code       string
}

func (e *peerError) Error() string {
	return fmt.Sprintf("peer returned %d (%s)", e.statusCode, e.code)
}

func (s *IngestService) getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := s.doer.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		var body struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&body)
		return &peerError{statusCode: resp.StatusCode, code: body.Error}
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
