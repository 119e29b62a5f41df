package federation

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/mrs-federation/server/internal/geometry"
	"github.com/mrs-federation/server/internal/metrics"
	"github.com/mrs-federation/server/internal/registry"
)

// wellKnownResponse mirrors the GET /.well-known/mrs payload of §4.W.
type wellKnownResponse struct {
	Server               string              `json:"server"`
	AuthoritativeRegions []geometry.Geometry `json:"authoritative_regions"`
}

// MetadataService refreshes peer metadata by polling a peer's well-known
// document, per §4.F Peer metadata refresh.
type MetadataService struct {
	store registry.Store
	doer  HTTPDoer
	log   zerolog.Logger
}

func NewMetadataService(store registry.Store, doer HTTPDoer, log zerolog.Logger) *MetadataService {
	return &MetadataService{store: store, doer: doer, log: log}
}

// Refresh fetches GET {peer}/.well-known/mrs and updates hint,
// authoritative_regions, and last_seen. Failures are logged and do not
// remove the peer.
func (s *MetadataService) Refresh(ctx context.Context, peer registry.Peer) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, peer.ServerURL+"/.well-known/mrs", nil)
	if err != nil {
		s.log.Warn().Err(err).Str("peer", peer.ServerURL).Msg("federation metadata: build request failed")
		return
	}

	resp, err := s.doer.Do(req)
	if err != nil {
		metrics.PeerFetchFailuresTotal.WithLabelValues("metadata_refresh").Inc()
		s.log.Warn().Err(err).Str("peer", peer.ServerURL).Msg("federation metadata: fetch failed")
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		metrics.PeerFetchFailuresTotal.WithLabelValues("metadata_refresh").Inc()
		s.log.Warn().Int("status", resp.StatusCode).Str("peer", peer.ServerURL).Msg("federation metadata: unexpected status")
		return
	}

	var body wellKnownResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		metrics.PeerFetchFailuresTotal.WithLabelValues("metadata_refresh").Inc()
		s.log.Warn().Err(err).Str("peer", peer.ServerURL).Msg("federation metadata: decode failed")
		return
	}
	if body.Server != "" && body.Server != peer.ServerURL {
		s.log.Warn().Str("peer", peer.ServerURL).Str("advertised_server", body.Server).
			Msg("federation metadata: server field mismatch, ignoring response")
		return
	}

	now := time.Now().UTC()
	peer.AuthoritativeRegions = body.AuthoritativeRegions
	peer.LastSeen = &now
	if err := s.store.Peers().Put(ctx, peer); err != nil {
		s.log.Warn().Err(err).Str("peer", peer.ServerURL).Msg("federation metadata: failed to persist refreshed peer")
	}
}
