package federation

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/mrs-federation/server/internal/apperr"
	"github.com/mrs-federation/server/internal/registry"
)

// ChangesService serves GET /sync/changes: an ordered delta stream of
// created/updated/deleted events, cursor-paginated over the store's
// monotonic change log, per §4.F.
type ChangesService struct {
	store registry.Store
	log   zerolog.Logger
}

func NewChangesService(store registry.Store, log zerolog.Logger) *ChangesService {
	return &ChangesService{store: store, log: log}
}

// ChangesPage is one page of the delta sync stream.
type ChangesPage struct {
	Events     []registry.ChangeEvent
	NextCursor string
	HasMore    bool
}

func (s *ChangesService) GetPage(ctx context.Context, sinceCursor string, limit int) (*ChangesPage, error) {
	if limit <= 0 {
		limit = DefaultChangeFeedLimit
	}
	if limit > MaxChangeFeedLimit {
		return nil, ErrInvalidLimit
	}

	events, err := s.store.ChangeLog(ctx, sinceCursor, limit+1)
	if err != nil {
		if apperr.CodeOf(err) == apperr.CursorExpired {
			s.log.Warn().Err(err).Str("cursor", sinceCursor).Msg("federation changes: cursor predates retention")
			return nil, ErrInvalidCursor
		}
		return nil, fmt.Errorf("change log: %w", err)
	}

	hasMore := len(events) > limit
	if hasMore {
		events = events[:limit]
	}

	page := &ChangesPage{Events: events, HasMore: hasMore}
	if len(events) > 0 {
		page.NextCursor = events[len(events)-1].Cursor
	}
	return page, nil
}
