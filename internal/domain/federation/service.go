// Package federation implements the peer table, referral generation, and
// snapshot/delta sync of §4.F.
package federation

import (
	"context"
	"errors"
	"sort"

	"github.com/rs/zerolog"

	"github.com/mrs-federation/server/internal/geometry"
	"github.com/mrs-federation/server/internal/registry"
)

var (
	ErrPeerNotFound   = errors.New("peer not found")
	ErrDuplicatePeer  = errors.New("peer already registered")
	ErrInvalidPeerURL = errors.New("invalid peer server url")
)

// Service manages the peer table and generates search referrals, per §4.F.
type Service struct {
	store     registry.Store
	serverURL string
	log       zerolog.Logger
}

func NewService(store registry.Store, serverURL string, log zerolog.Logger) *Service {
	return &Service{store: store, serverURL: serverURL, log: log}
}

// AddPeer registers a configured or learned peer. Configured peers are
// permanent; learned peers are upserted opportunistically from referrals and
// may be evicted by GC policy outside this package.
func (s *Service) AddPeer(ctx context.Context, serverURL, hint string, configured bool) (*registry.Peer, error) {
	if err := ValidatePeerURL(serverURL); err != nil {
		return nil, err
	}
	if serverURL == s.serverURL {
		return nil, ErrInvalidPeerURL
	}

	existing, err := s.store.Peers().Get(ctx, serverURL)
	if err != nil {
		return nil, err
	}
	if existing != nil && configured && existing.IsConfigured {
		return nil, ErrDuplicatePeer
	}

	p := registry.Peer{ServerURL: serverURL, Hint: hint, IsConfigured: configured}
	if existing != nil {
		p.LastSeen = existing.LastSeen
		p.AuthoritativeRegions = existing.AuthoritativeRegions
		p.SyncCursor = existing.SyncCursor
	}
	if err := s.store.Peers().Put(ctx, p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Service) GetPeer(ctx context.Context, serverURL string) (*registry.Peer, error) {
	p, err := s.store.Peers().Get(ctx, serverURL)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, ErrPeerNotFound
	}
	return p, nil
}

func (s *Service) ListPeers(ctx context.Context) ([]registry.Peer, error) {
	return s.store.Peers().List(ctx)
}

func (s *Service) RemovePeer(ctx context.Context, serverURL string) error {
	existing, err := s.store.Peers().Get(ctx, serverURL)
	if err != nil {
		return err
	}
	if existing == nil {
		return ErrPeerNotFound
	}
	return s.store.Peers().Delete(ctx, serverURL)
}

// ReferralsFor implements registry.Referrer: every configured peer, plus any
// learned peer whose authoritative_regions intersects the query, excluding
// self, ordered configured-first then last_seen-descending then server_url,
// capped at MaxReferrals.
func (s *Service) ReferralsFor(ctx context.Context, center geometry.Coordinate, rangeM float64) []string {
	peers, err := s.store.Peers().List(ctx)
	if err != nil {
		s.log.Warn().Err(err).Msg("federation: failed to list peers for referral generation")
		return nil
	}

	candidates := make([]registry.Peer, 0, len(peers))
	for _, p := range peers {
		if p.ServerURL == s.serverURL {
			continue
		}
		if p.IsConfigured {
			candidates = append(candidates, p)
			continue
		}
		if peerCoversQuery(p, center, rangeM) {
			candidates = append(candidates, p)
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.IsConfigured != b.IsConfigured {
			return a.IsConfigured
		}
		switch {
		case a.LastSeen == nil && b.LastSeen == nil:
		case a.LastSeen == nil:
			return false
		case b.LastSeen == nil:
			return true
		case !a.LastSeen.Equal(*b.LastSeen):
			return a.LastSeen.After(*b.LastSeen)
		}
		return a.ServerURL < b.ServerURL
	})

	if len(candidates) > MaxReferrals {
		candidates = candidates[:MaxReferrals]
	}

	out := make([]string, len(candidates))
	for i, p := range candidates {
		out[i] = p.ServerURL
	}
	return out
}

func peerCoversQuery(p registry.Peer, center geometry.Coordinate, rangeM float64) bool {
	for _, region := range p.AuthoritativeRegions {
		if geometry.Intersects(region, center, rangeM) {
			return true
		}
	}
	return false
}
