package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/riverqueue/river"

	"github.com/mrs-federation/server/internal/domain/federation"
	"github.com/mrs-federation/server/internal/registry"
)

// TombstoneGCArgs defines the job for garbage-collecting expired
// tombstones, per §4.S's tombstone retention window.
type TombstoneGCArgs struct{}

func (TombstoneGCArgs) Kind() string { return JobKindTombstoneGC }

// TombstoneGCWorker deletes tombstones older than the configured retention
// window so ListTombstones/ChangeLog don't grow unbounded.
type TombstoneGCWorker struct {
	river.WorkerDefaults[TombstoneGCArgs]
	Store           registry.Store
	RetentionPeriod time.Duration
	Logger          *slog.Logger
}

func (TombstoneGCWorker) Kind() string { return JobKindTombstoneGC }

func (w TombstoneGCWorker) Work(ctx context.Context, job *river.Job[TombstoneGCArgs]) error {
	if w.Store == nil {
		return fmt.Errorf("registry store not configured")
	}

	logger := w.Logger
	if logger == nil {
		logger = slog.Default()
	}

	retention := w.RetentionPeriod
	if retention <= 0 {
		retention = 30 * 24 * time.Hour
	}
	cutoff := time.Now().Add(-retention).Unix()

	removed, err := w.Store.GCTombstones(ctx, cutoff)
	if err != nil {
		logger.Error("tombstone gc failed", "error", err)
		return fmt.Errorf("gc tombstones: %w", err)
	}

	logger.Info("tombstone gc completed", "removed", removed, "cutoff", cutoff)
	return nil
}

// PeerMetadataRefreshArgs defines the job for refreshing every configured
// peer's /.well-known/mrs metadata, per §4.F.
type PeerMetadataRefreshArgs struct{}

func (PeerMetadataRefreshArgs) Kind() string { return JobKindPeerMetadataRefresh }

// PeerMetadataRefreshWorker refreshes each configured peer's metadata.
type PeerMetadataRefreshWorker struct {
	river.WorkerDefaults[PeerMetadataRefreshArgs]
	Federation *federation.Service
	Metadata   *federation.MetadataService
	Logger     *slog.Logger
}

func (PeerMetadataRefreshWorker) Kind() string { return JobKindPeerMetadataRefresh }

func (w PeerMetadataRefreshWorker) Work(ctx context.Context, job *river.Job[PeerMetadataRefreshArgs]) error {
	if w.Federation == nil || w.Metadata == nil {
		return fmt.Errorf("federation services not configured")
	}

	logger := w.Logger
	if logger == nil {
		logger = slog.Default()
	}

	peers, err := w.Federation.ListPeers(ctx)
	if err != nil {
		logger.Error("peer metadata refresh: list peers failed", "error", err)
		return fmt.Errorf("list peers: %w", err)
	}

	for _, peer := range peers {
		w.Metadata.Refresh(ctx, peer)
	}

	logger.Info("peer metadata refresh completed", "peer_count", len(peers))
	return nil
}

// PeerSyncPollArgs defines the job for pulling snapshot/change-feed updates
// from every configured peer, per §4.F.
type PeerSyncPollArgs struct{}

func (PeerSyncPollArgs) Kind() string { return JobKindPeerSyncPoll }

// PeerSyncPollWorker pulls each configured peer's change feed and merges
// updates into the local store.
type PeerSyncPollWorker struct {
	river.WorkerDefaults[PeerSyncPollArgs]
	Federation *federation.Service
	Ingest     *federation.IngestService
	Logger     *slog.Logger
}

func (PeerSyncPollWorker) Kind() string { return JobKindPeerSyncPoll }

func (w PeerSyncPollWorker) Work(ctx context.Context, job *river.Job[PeerSyncPollArgs]) error {
	if w.Federation == nil || w.Ingest == nil {
		return fmt.Errorf("federation services not configured")
	}

	logger := w.Logger
	if logger == nil {
		logger = slog.Default()
	}

	peers, err := w.Federation.ListPeers(ctx)
	if err != nil {
		logger.Error("peer sync poll: list peers failed", "error", err)
		return fmt.Errorf("list peers: %w", err)
	}

	var failures int
	for _, peer := range peers {
		if err := w.Ingest.SyncPeer(ctx, peer); err != nil {
			// A single unreachable peer never fails the job: each peer is
			// retried independently on the next poll.
			logger.Warn("peer sync failed", "peer", peer.ServerURL, "error", err)
			failures++
		}
	}

	logger.Info("peer sync poll completed", "peer_count", len(peers), "failures", failures)
	return nil
}

// NewWorkers registers the node's background workers: tombstone GC, peer
// metadata refresh, and peer sync polling.
func NewWorkers(store registry.Store, federationService *federation.Service, metadataService *federation.MetadataService, ingestService *federation.IngestService, retentionPeriod time.Duration, logger *slog.Logger) *river.Workers {
	workers := river.NewWorkers()

	river.AddWorker[TombstoneGCArgs](workers, TombstoneGCWorker{
		Store:           store,
		RetentionPeriod: retentionPeriod,
		Logger:          logger,
	})
	river.AddWorker[PeerMetadataRefreshArgs](workers, PeerMetadataRefreshWorker{
		Federation: federationService,
		Metadata:   metadataService,
		Logger:     logger,
	})
	river.AddWorker[PeerSyncPollArgs](workers, PeerSyncPollWorker{
		Federation: federationService,
		Ingest:     ingestService,
		Logger:     logger,
	})

	return workers
}
