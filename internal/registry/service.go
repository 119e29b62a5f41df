package registry

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"net/url"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/rs/zerolog"

	"github.com/mrs-federation/server/internal/apperr"
	"github.com/mrs-federation/server/internal/geometry"
)

// Referrer supplies the peer referrals attached to a search response.
// Implemented by the federation engine; kept as an interface here so the
// registry package has no import-time dependency on federation.
type Referrer interface {
	ReferralsFor(ctx context.Context, center geometry.Coordinate, rangeM float64) []string
}

// Config bounds the service's behavior per §6 configuration.
type Config struct {
	ServerURL  string
	MaxRadius  float64
	MaxResults int
}

// Service implements Register/Release/Search orchestration (§4.R).
type Service struct {
	store    Store
	referrer Referrer
	cfg      Config
	log      zerolog.Logger
}

func NewService(store Store, referrer Referrer, cfg Config, log zerolog.Logger) *Service {
	return &Service{store: store, referrer: referrer, cfg: cfg, log: log.With().Str("component", "registry").Logger()}
}

// RegisterInput is the validated request shape for Register.
type RegisterInput struct {
	ID           string // set when updating an existing local record; empty for create
	Space        geometry.Geometry
	ServicePoint string
	FOAD         bool
	CanonicalHint *CanonicalKey // non-nil if the caller asserted an origin
	CallerIdentity string
}

// Register creates or updates a locally-originated registration, per §4.R
// steps 1-4.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*Registration, error) {
	if err := validateFOAD(in.FOAD, in.ServicePoint); err != nil {
		return nil, err
	}
	if !in.FOAD {
		if err := ValidateServicePoint(in.ServicePoint); err != nil {
			return nil, err
		}
	}
	if err := in.Space.Validate(); err != nil {
		return nil, err
	}

	if in.CanonicalHint != nil && in.CanonicalHint.OriginServer != s.cfg.ServerURL {
		return nil, apperr.New(apperr.NotAuthoritative, "cannot register on behalf of a different origin server").
			WithDetail(map[string]any{"origin_server": in.CanonicalHint.OriginServer})
	}

	now := time.Now().UTC()
	bbox := geometry.Bbox(in.Space)

	if in.ID == "" {
		id, err := newRegistrationID()
		if err != nil {
			return nil, apperr.Wrap(apperr.Internal, "failed to generate registration id", err)
		}
		reg := Registration{
			ID:           id,
			Space:        in.Space,
			ServicePoint: in.ServicePoint,
			FOAD:         in.FOAD,
			Owner:        in.CallerIdentity,
			OriginServer: s.cfg.ServerURL,
			OriginID:     id,
			Version:      1,
			Created:      now,
			Updated:      now,
			Bbox:         bbox,
		}
		if err := s.store.Put(ctx, reg); err != nil {
			return nil, apperr.Wrap(apperr.Internal, "failed to persist registration", err)
		}
		return &reg, nil
	}

	existing, err := s.store.Get(ctx, in.ID)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "failed to load registration", err)
	}
	if existing == nil {
		return nil, apperr.Newf(apperr.NotFound, "no such registration %q", in.ID)
	}
	if !existing.IsOrigin(s.cfg.ServerURL) {
		return nil, apperr.New(apperr.NotAuthoritative, "record is not locally originated").
			WithDetail(map[string]any{"origin_server": existing.OriginServer})
	}
	if existing.Owner != in.CallerIdentity {
		return nil, apperr.New(apperr.Forbidden, "caller does not own this registration")
	}

	updated := *existing
	updated.Space = in.Space
	updated.ServicePoint = in.ServicePoint
	updated.FOAD = in.FOAD
	updated.Version = existing.Version + 1
	updated.Updated = now
	updated.Bbox = bbox

	if err := s.store.Put(ctx, updated); err != nil {
		return nil, apperr.Wrap(apperr.Internal, "failed to persist registration update", err)
	}
	return &updated, nil
}

// Release deletes a locally-originated registration and emits a tombstone,
// per §4.R Release.
func (s *Service) Release(ctx context.Context, id, callerIdentity string) error {
	reg, err := s.store.Get(ctx, id)
	if err != nil {
		return apperr.Wrap(apperr.Internal, "failed to load registration", err)
	}
	if reg == nil {
		return apperr.Newf(apperr.NotFound, "no such registration %q", id)
	}
	if !reg.IsOrigin(s.cfg.ServerURL) {
		return apperr.New(apperr.NotAuthoritative, "record is not locally originated").
			WithDetail(map[string]any{"origin_server": reg.OriginServer})
	}
	if reg.Owner != callerIdentity {
		return apperr.New(apperr.Forbidden, "caller does not own this registration")
	}

	return s.store.WithTx(ctx, func(ctx context.Context, tx Store) error {
		if err := tx.AddTombstone(ctx, Tombstone{
			OriginServer: reg.OriginServer,
			OriginID:     reg.OriginID,
			Version:      reg.Version,
			DeletedAt:    time.Now().UTC(),
		}); err != nil {
			return err
		}
		return tx.Delete(ctx, reg.ID)
	})
}

// SearchInput is the validated request shape for Search.
type SearchInput struct {
	Location geometry.Coordinate
	Range    float64
}

// SearchResult is a single matched registration, with computed distance and
// attached referrals.
type SearchResult struct {
	Registration Registration
	Distance     float64
}

// SearchOutput is the full response to a search: matches plus peer referrals.
type SearchOutput struct {
	Results   []SearchResult
	Referrals []string
}

// Search executes the candidate-fetch, precise-filter, dedupe, tombstone-
// shadow, order, truncate pipeline of §4.R Search.
func (s *Service) Search(ctx context.Context, in SearchInput) (*SearchOutput, error) {
	if in.Range < 0 || in.Range > s.cfg.MaxRadius {
		return nil, apperr.Newf(apperr.InvalidGeometry, "range %.3f out of bounds [0, %.3f]", in.Range, s.cfg.MaxRadius)
	}
	if err := geometry.ValidateCoordinate(in.Location); err != nil {
		return nil, err
	}

	qb := geometry.QueryBbox(in.Location, in.Range)
	candidates, err := s.store.QueryBbox(ctx, BboxQuery{
		MinLat: qb.MinLat, MaxLat: qb.MaxLat, MinLon: qb.MinLon, MaxLon: qb.MaxLon, Wraps: qb.Wraps,
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "bbox query failed", err)
	}

	var filtered []Registration
	for _, c := range candidates {
		if geometry.Intersects(c.Space, in.Location, in.Range) {
			filtered = append(filtered, c)
		}
	}

	deduped, err := s.dedupe(ctx, filtered)
	if err != nil {
		return nil, err
	}

	results := make([]SearchResult, 0, len(deduped))
	for _, r := range deduped {
		results = append(results, SearchResult{
			Registration: r,
			Distance:     distanceTo(r.Space, in.Location),
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		vi, vj := geometry.Volume(results[i].Registration.Space), geometry.Volume(results[j].Registration.Space)
		if vi != vj {
			return vi < vj
		}
		if results[i].Distance != results[j].Distance {
			return results[i].Distance < results[j].Distance
		}
		return results[i].Registration.ID < results[j].Registration.ID
	})

	if len(results) > s.cfg.MaxResults {
		results = results[:s.cfg.MaxResults]
	}

	var referrals []string
	if s.referrer != nil {
		referrals = s.referrer.ReferralsFor(ctx, in.Location, in.Range)
	}

	return &SearchOutput{Results: results, Referrals: referrals}, nil
}

// dedupe groups candidates by canonical identity (or, for legacy records
// lacking one, by normalized service_point + near-identical geometry),
// picks a winner per group (§4.R step 6), and drops tombstoned candidates
// (step 7).
func (s *Service) dedupe(ctx context.Context, candidates []Registration) ([]Registration, error) {
	groups := map[CanonicalKey][]Registration{}
	var legacy []Registration
	for _, c := range candidates {
		if c.OriginServer != "" && c.OriginID != "" {
			key := c.Canonical()
			groups[key] = append(groups[key], c)
		} else {
			legacy = append(legacy, c)
		}
	}

	var winners []Registration
	for key, group := range groups {
		tomb, err := s.store.GetTombstone(ctx, key)
		if err != nil {
			return nil, apperr.Wrap(apperr.Internal, "tombstone lookup failed", err)
		}
		var survivors []Registration
		for _, r := range group {
			if tomb != nil && tomb.Version >= r.Version {
				continue
			}
			survivors = append(survivors, r)
		}
		if w := pickWinner(survivors); w != nil {
			winners = append(winners, *w)
		}
	}

	winners = append(winners, dedupeLegacy(legacy)...)
	return winners, nil
}

// pickWinner implements the dedupe tie-break of §4.R step 6: highest
// version, then latest updated, then prefer the copy whose origin_server
// matches the declared origin (i.e. is an origin copy, not a replica).
func pickWinner(group []Registration) *Registration {
	if len(group) == 0 {
		return nil
	}
	best := group[0]
	for _, r := range group[1:] {
		switch {
		case r.Version != best.Version:
			if r.Version > best.Version {
				best = r
			}
		case !r.Updated.Equal(best.Updated):
			if r.Updated.After(best.Updated) {
				best = r
			}
		case r.ReplicatedFrom == "" && best.ReplicatedFrom != "":
			best = r
		}
	}
	return &best
}

// dedupeLegacy groups records lacking canonical metadata by normalized
// service_point and geometry proximity (within 1 m center distance), and
// picks a winner per group with the same tie-break as pickWinner.
func dedupeLegacy(legacy []Registration) []Registration {
	if len(legacy) == 0 {
		return nil
	}
	var groups [][]Registration
	for _, r := range legacy {
		placed := false
		for i, g := range groups {
			if normalizeServicePoint(g[0].ServicePoint) == normalizeServicePoint(r.ServicePoint) &&
				centersWithin1m(g[0].Space, r.Space) {
				groups[i] = append(groups[i], r)
				placed = true
				break
			}
		}
		if !placed {
			groups = append(groups, []Registration{r})
		}
	}
	var winners []Registration
	for _, g := range groups {
		if w := pickWinner(g); w != nil {
			winners = append(winners, *w)
		}
	}
	return winners
}

func centersWithin1m(a, b geometry.Geometry) bool {
	ca, okA := centerOf(a)
	cb, okB := centerOf(b)
	if !okA || !okB {
		return false
	}
	return geometry.Distance(ca, cb) <= 1.0
}

func centerOf(g geometry.Geometry) (geometry.Coordinate, bool) {
	if g.Kind == geometry.KindSphere && g.Sphere != nil {
		return g.Sphere.Center, true
	}
	return geometry.Coordinate{}, false
}

func normalizeServicePoint(u string) string {
	return strings.TrimRight(strings.ToLower(strings.TrimSpace(u)), "/")
}

func distanceTo(g geometry.Geometry, point geometry.Coordinate) float64 {
	if g.Kind == geometry.KindSphere && g.Sphere != nil {
		return geometry.Distance(g.Sphere.Center, point)
	}
	return geometry.DistanceToNearestSurface(g, point)
}

func validateFOAD(foad bool, servicePoint string) error {
	if foad && servicePoint != "" {
		return apperr.New(apperr.InvalidGeometry, "foad registrations must not carry a service_point")
	}
	if !foad && servicePoint == "" {
		return apperr.New(apperr.MissingField, "service_point is required unless foad is true")
	}
	return nil
}

// ValidateServicePoint enforces the §6 service_point URI rules, byte-wise.
func ValidateServicePoint(raw string) error {
	if len(raw) == 0 {
		return apperr.New(apperr.MissingField, "service_point is required")
	}
	if len(raw) > 2048 {
		return apperr.New(apperr.InvalidURI, "service_point exceeds maximum length of 2048")
	}
	for _, r := range raw {
		if r <= 0x1F || r == 0x7F {
			return apperr.New(apperr.InvalidURI, "service_point contains a control character")
		}
		if unicode.IsSpace(r) {
			return apperr.New(apperr.InvalidURI, "service_point contains whitespace")
		}
	}
	if strings.ContainsRune(raw, '#') {
		return apperr.New(apperr.InvalidURI, "service_point must not contain a fragment")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return apperr.Wrap(apperr.InvalidURI, "service_point is not a valid URI", err)
	}
	if u.Scheme != "https" {
		return apperr.New(apperr.InvalidURI, "service_point scheme must be https")
	}
	if u.Host == "" {
		return apperr.New(apperr.InvalidURI, "service_point host is required")
	}
	if u.User != nil {
		return apperr.New(apperr.InvalidURI, "service_point must not contain userinfo")
	}
	if u.Fragment != "" {
		return apperr.New(apperr.InvalidURI, "service_point must not contain a fragment")
	}
	if u.String() == "" {
		return apperr.New(apperr.InvalidURI, "service_point did not round-trip through a URI parser")
	}
	return nil
}

const idEntropyBytes = 10 // >= 12 URL-safe chars once base64-encoded

// newRegistrationID generates an id of the form "reg_" + >=12 URL-safe
// random characters.
func newRegistrationID() (string, error) {
	buf := make([]byte, idEntropyBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return "reg_" + base64.RawURLEncoding.EncodeToString(buf), nil
}
