package federation

// Default values for federation sync and referral generation.
const (
	// DefaultChangeFeedLimit is the default page size for /sync/changes.
	DefaultChangeFeedLimit = 50

	// MaxChangeFeedLimit is the maximum page size for /sync/changes and /sync/snapshot.
	MaxChangeFeedLimit = 200

	// MinChangeFeedLimit is the minimum page size for /sync/changes and /sync/snapshot.
	MinChangeFeedLimit = 1

	// MaxReferrals bounds the fan-out of peer referrals attached to a search response.
	MaxReferrals = 16

	// DefaultMetadataRefreshInterval governs how often PeerMetadataRefreshWorker
	// re-fetches GET {peer}/.well-known/mrs for a known peer.
	DefaultMetadataRefreshInterval = "1h"

	// DefaultSyncPollInterval governs how often PeerSyncPollWorker pulls
	// /sync/changes from a configured peer.
	DefaultSyncPollInterval = "30s"
)
