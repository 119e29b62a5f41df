package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/mrs-federation/server/internal/api"
	"github.com/mrs-federation/server/internal/config"
	"github.com/mrs-federation/server/internal/domain/federation"
	"github.com/mrs-federation/server/internal/jobs"
	"github.com/mrs-federation/server/internal/metrics"
	"github.com/mrs-federation/server/internal/storage/postgres"
	"github.com/mrs-federation/server/internal/telemetry"
)

var (
	// Server flags (override config/env)
	serverHost string
	serverPort int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the MRS node",
	Long: `Start the MRS node and begin accepting registry requests.

The server will:
- Load configuration from environment variables (or --config file if provided)
- Seed configured bootstrap peers
- Start the River background workers (tombstone GC, peer metadata refresh, peer sync poll)
- Start HTTP server with the registry, well-known, auth, sync, and admin surfaces
- Handle graceful shutdown on SIGINT/SIGTERM

Examples:
  # Start with default configuration (from env vars)
  server serve

  # Start on a specific host and port
  server serve --host 127.0.0.1 --port 9090

  # Start with debug logging
  server serve --log-level debug`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

func init() {
	serveCmd.Flags().StringVar(&serverHost, "host", "", "server host address (default: 0.0.0.0)")
	serveCmd.Flags().IntVar(&serverPort, "port", 0, "server port (default: 8443)")
}

func runServer() error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}

	if serverHost != "" {
		cfg.Server.Host = serverHost
	}
	if serverPort != 0 {
		cfg.Server.Port = serverPort
	}

	logger := config.NewLogger(cfg.Logging, cfg.Server.URL)
	logger.Info().Msg("starting mrs node")

	activeSlot := os.Getenv("ACTIVE_SLOT")
	if activeSlot == "" {
		activeSlot = "unknown"
	}
	metrics.Init(Version, GitCommit, BuildDate, activeSlot)
	logger.Info().Str("version", Version).Str("active_slot", activeSlot).Msg("metrics initialized")

	tracingCtx, tracingCancel := context.WithTimeout(context.Background(), 10*time.Second)
	shutdownTracing, err := telemetry.InitTracing(tracingCtx, cfg.Tracing, Version)
	tracingCancel()
	if err != nil {
		return fmt.Errorf("tracing init failed: %w", err)
	}
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer stopCancel()
		if err := shutdownTracing(stopCtx); err != nil {
			logger.Error().Err(err).Msg("tracing shutdown error")
		}
	}()

	poolCtx, poolCancel := context.WithTimeout(context.Background(), 10*time.Second)
	pool, err := pgxpool.New(poolCtx, cfg.Database.Path)
	poolCancel()
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer pool.Close()

	dbCollector := metrics.NewDBCollector(pool)
	collectorCtx, collectorCancel := context.WithCancel(context.Background())
	go dbCollector.Start(collectorCtx, 15*time.Second)
	defer collectorCancel()
	defer dbCollector.Stop()
	logger.Info().Msg("database metrics collector started")

	store := postgres.NewStore(pool)
	federationService := federation.NewService(store, cfg.Server.URL, logger)

	seedCtx, seedCancel := context.WithTimeout(context.Background(), 10*time.Second)
	seedBootstrapPeers(seedCtx, federationService, cfg.Federation.BootstrapPeers, logger)
	seedCancel()

	httpDoer := &http.Client{Timeout: 10 * time.Second}
	metadataService := federation.NewMetadataService(store, httpDoer, logger)
	ingestService := federation.NewIngestService(store, cfg.Server.URL, httpDoer, logger)

	retention := time.Duration(cfg.Registry.TombstoneRetentionDays) * 24 * time.Hour
	workers := jobs.NewWorkers(store, federationService, metadataService, ingestService, retention, nil)
	periodicJobs := jobs.NewPeriodicJobs(cfg.Federation.MetadataRefreshPeriod, cfg.Federation.SyncPollPeriod)

	riverClient, err := jobs.NewClient(pool, workers, nil, nil, periodicJobs)
	if err != nil {
		return fmt.Errorf("river client init failed: %w", err)
	}

	riverCtx, riverCancel := context.WithCancel(context.Background())
	defer riverCancel()

	if err := riverClient.Start(riverCtx); err != nil {
		return fmt.Errorf("river workers failed to start: %w", err)
	}
	logger.Info().Msg("river background job workers started")
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer stopCancel()
		if err := riverClient.Stop(stopCtx); err != nil {
			logger.Error().Err(err).Msg("river workers shutdown error")
		} else {
			logger.Info().Msg("river workers stopped")
		}
	}()

	handler := api.NewRouter(cfg, logger, pool, riverClient, Version, GitCommit, BuildDate)

	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           handler,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	go func() {
		logger.Info().Str("addr", server.Addr).Msg("listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("http server error")
		}
	}()

	return gracefulShutdown(server, logger)
}

func loadConfig() (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, err
	}

	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if logFormat != "" {
		cfg.Logging.Format = logFormat
	}

	return cfg, nil
}

// seedBootstrapPeers registers the node's statically configured peers
// (MRS_BOOTSTRAP_PEERS) on startup; already-known peers are left untouched.
// A single unreachable or invalid peer never stops startup - it is logged
// and skipped.
func seedBootstrapPeers(ctx context.Context, federationService *federation.Service, peers []string, logger zerolog.Logger) {
	for _, peerURL := range peers {
		if _, err := federationService.AddPeer(ctx, peerURL, "", true); err != nil {
			logger.Warn().Err(err).Str("peer", peerURL).Msg("failed to seed bootstrap peer")
			continue
		}
		logger.Info().Str("peer", peerURL).Msg("seeded bootstrap peer")
	}
}

func gracefulShutdown(server *http.Server, logger zerolog.Logger) error {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	<-stop
	logger.Info().Msg("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("shutdown error")
		return err
	}

	logger.Info().Msg("server stopped")
	return nil
}
