package api

import (
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/riverqueue/river"
	"github.com/rs/zerolog"

	"github.com/mrs-federation/server/internal/api/handlers"
	"github.com/mrs-federation/server/internal/api/middleware"
	"github.com/mrs-federation/server/internal/auth"
	"github.com/mrs-federation/server/internal/config"
	"github.com/mrs-federation/server/internal/domain/federation"
	"github.com/mrs-federation/server/internal/keys"
	"github.com/mrs-federation/server/internal/metrics"
	"github.com/mrs-federation/server/internal/registry"
	"github.com/mrs-federation/server/internal/storage/postgres"
)

// peerHTTPClient bounds outbound peer calls (key fetch) that don't otherwise
// carry a caller-supplied timeout.
var peerHTTPClient = &http.Client{Timeout: 5 * time.Second}

// NewRouter wires the MRS node's full HTTP surface: the core protocol
// (register/release/search), the well-known surface, local-identity auth,
// peer sync, admin peer management, and the operational surface
// (health/metrics/version). The caller owns pool and riverClient and is
// responsible for closing them.
func NewRouter(cfg config.Config, logger zerolog.Logger, pool *pgxpool.Pool, riverClient *river.Client[pgx.Tx], version, gitCommit, buildDate string) http.Handler {
	store := postgres.NewStore(pool)

	keyCache := keys.NewCache(peerHTTPClient, time.Duration(cfg.Registry.KeyCacheTTLSeconds)*time.Second)
	authenticator := auth.NewAuthenticator(store, keyCache, logger)

	federationService := federation.NewService(store, cfg.Server.URL, logger)
	registryService := registry.NewService(store, federationService, registry.Config{
		ServerURL:  cfg.Server.URL,
		MaxRadius:  cfg.Registry.MaxRadius,
		MaxResults: cfg.Registry.MaxResults,
	}, logger)
	snapshotService := federation.NewSnapshotService(store, logger)
	changesService := federation.NewChangesService(store, logger)

	registryHandler := handlers.NewRegistryHandler(registryService, cfg.Environment)
	wellKnownHandler := handlers.NewWellKnownHandler(store, federationService, cfg.Server.URL, cfg.Registry.MaxRadius, cfg.Server.Admin, cfg.Environment)
	authHandler := handlers.NewAuthHandler(store, cfg.Server.Domain, time.Duration(cfg.Registry.TokenExpiryHours)*time.Hour, cfg.Environment)
	syncHandler := handlers.NewSyncHandler(snapshotService, changesService, cfg.Environment)
	peersHandler := handlers.NewPeersHandler(federationService, cfg.Environment)
	healthChecker := handlers.NewHealthChecker(pool, riverClient, version, gitCommit)

	authenticate := middleware.Authenticate(authenticator, cfg.Environment)
	requirePeer := middleware.RequirePeerDomain(federationService, cfg.Environment)
	requireAdmin := middleware.RequireAdminIdentity(cfg.Server.Admin, cfg.Environment)

	rateLimitPublic := middleware.WithRateLimitTierHandler(middleware.TierPublic)
	rateLimitAgent := middleware.WithRateLimitTierHandler(middleware.TierAgent)
	rateLimitPeer := middleware.WithRateLimitTierHandler(middleware.TierPeer)
	rateLimitAdmin := middleware.WithRateLimitTierHandler(middleware.TierAdmin)
	rateLimitLogin := middleware.WithRateLimitTierHandler(middleware.TierLogin)

	mux := http.NewServeMux()
	mux.Handle("/healthz", rateLimitPublic(healthChecker.Health()))
	mux.Handle("/readyz", rateLimitPublic(healthChecker.Health()))
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
	mux.Handle("/version", rateLimitPublic(VersionHandler(version, gitCommit, buildDate)))

	// Core protocol surface (§4.R / §6).
	mux.Handle("/register", rateLimitAgent(authenticate(http.HandlerFunc(registryHandler.Register))))
	mux.Handle("/release", rateLimitAgent(authenticate(http.HandlerFunc(registryHandler.Release))))
	mux.Handle("/search", rateLimitPublic(http.HandlerFunc(registryHandler.Search)))

	// Well-known metadata and key publication (§4.W).
	mux.Handle("/.well-known/mrs", rateLimitPublic(http.HandlerFunc(wellKnownHandler.Metadata)))
	mux.Handle("/.well-known/mrs/keys/", rateLimitPublic(http.HandlerFunc(wellKnownHandler.Keys)))

	// Local identity management.
	mux.Handle("/auth/register", rateLimitPublic(http.HandlerFunc(authHandler.Register)))
	mux.Handle("/auth/login", rateLimitLogin(http.HandlerFunc(authHandler.Login)))
	mux.Handle("/auth/me", rateLimitAgent(authenticate(http.HandlerFunc(authHandler.Me))))

	// Peer sync surface (§4.F) - restricted to authenticated, configured peers.
	mux.Handle("/sync/snapshot", rateLimitPeer(authenticate(requirePeer(http.HandlerFunc(syncHandler.Snapshot)))))
	mux.Handle("/sync/changes", rateLimitPeer(authenticate(requirePeer(http.HandlerFunc(syncHandler.Changes)))))

	// Admin peer management - restricted to the configured operator identity.
	// Delete takes its target as a ?server_url= query parameter rather than a
	// path segment: a peer's server_url is itself a full URL, and ServeMux's
	// path cleaning would 301-redirect (dropping the DELETE method and body)
	// a request whose path segment contains "//" before it ever reached this
	// handler.
	adminPeers := methodMux(map[string]http.Handler{
		http.MethodGet:    http.HandlerFunc(peersHandler.List),
		http.MethodPost:   http.HandlerFunc(peersHandler.Create),
		http.MethodDelete: http.HandlerFunc(peersHandler.Delete),
	})
	mux.Handle("/admin/peers", rateLimitAdmin(authenticate(requireAdmin(adminPeers))))

	// Wrap entire router with middleware stack.
	// Order: CorrelationID -> RequestLogging -> RateLimit
	handler := middleware.CorrelationID(logger, cfg.Server.URL)(mux)
	handler = middleware.RequestLogging(logger)(handler)
	handler = middleware.RateLimit(cfg.RateLimit)(handler)

	return handler
}

func methodMux(handlers map[string]http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if handler, ok := handlers[r.Method]; ok {
			handler.ServeHTTP(w, r)
			return
		}
		w.Header().Set("Allow", allowedMethods(handlers))
		w.WriteHeader(http.StatusMethodNotAllowed)
	})
}

func allowedMethods(handlers map[string]http.Handler) string {
	methods := make([]string, 0, len(handlers))
	for method := range handlers {
		methods = append(methods, method)
	}
	sort.Strings(methods)
	return strings.Join(methods, ", ")
}
