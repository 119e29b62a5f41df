package federation

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/mrs-federation/server/internal/registry"
)

var (
	ErrInvalidCursor = errors.New("invalid cursor")
	ErrInvalidLimit  = fmt.Errorf("limit must be between %d and %d", MinChangeFeedLimit, MaxChangeFeedLimit)
)

// SnapshotService serves GET /sync/snapshot: a full, paginated dump of every
// registration, ordered by (origin_server, origin_id) for stable keyset
// pagination, per §4.F.
type SnapshotService struct {
	store registry.Store
	log   zerolog.Logger
}

func NewSnapshotService(store registry.Store, log zerolog.Logger) *SnapshotService {
	return &SnapshotService{store: store, log: log}
}

// SnapshotPage is one page of the full-snapshot sync stream.
type SnapshotPage struct {
	Registrations []registry.Registration
	NextCursor    string
	HasMore       bool
}

func (s *SnapshotService) GetPage(ctx context.Context, cursor string, limit int) (*SnapshotPage, error) {
	if limit <= 0 {
		limit = DefaultChangeFeedLimit
	}
	if limit > MaxChangeFeedLimit {
		return nil, ErrInvalidLimit
	}

	afterServer, afterID, err := decodeSnapshotCursor(cursor)
	if err != nil {
		s.log.Warn().Err(err).Str("cursor", cursor).Msg("federation snapshot: invalid cursor")
		return nil, ErrInvalidCursor
	}

	regs, err := s.store.ListSnapshot(ctx, afterServer, afterID, limit+1)
	if err != nil {
		return nil, fmt.Errorf("list snapshot: %w", err)
	}

	hasMore := len(regs) > limit
	if hasMore {
		regs = regs[:limit]
	}

	page := &SnapshotPage{Registrations: regs, HasMore: hasMore}
	if hasMore && len(regs) > 0 {
		last := regs[len(regs)-1]
		page.NextCursor = encodeSnapshotCursor(last.OriginServer, last.OriginID)
	}
	return page, nil
}

// encodeSnapshotCursor/decodeSnapshotCursor encode a (origin_server,
// origin_id) keyset position as base64url(origin_server\x00origin_id).
func encodeSnapshotCursor(originServer, originID string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(originServer + "\x00" + originID))
}

func decodeSnapshotCursor(cursor string) (originServer, originID string, err error) {
	if cursor == "" {
		return "", "", nil
	}
	decoded, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	parts := strings.SplitN(string(decoded), "\x00", 2)
	if len(parts) != 2 {
		return "", "", ErrInvalidCursor
	}
	return parts[0], parts[1], nil
}
